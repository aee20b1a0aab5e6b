// Package formatting converts values between their configuration or model
// output text form and Go values: byte sizes and JSON embedded in prose.
package formatting

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Binary units, indexed by power of 1024. ParseBytes also accepts the
// single-letter (K, M) and IEC (KiB, MiB) spellings.
var units = []string{"B", "KB", "MB", "GB", "TB", "PB"}

// FormatBytes renders n with the largest unit that keeps the value at or
// above one. Negative precision is treated as zero.
func FormatBytes(n int64, precision int) string {
	precision = max(precision, 0)

	v := float64(n)
	i := 0
	for math.Abs(v) >= 1024 && i < len(units)-1 {
		v /= 1024
		i++
	}
	if i == 0 {
		return strconv.FormatInt(n, 10) + " B"
	}
	return strconv.FormatFloat(v, 'f', precision, 64) + " " + units[i]
}

// ParseBytes parses sizes such as "8MB", "512 kb", "1.5K" or "2GiB". A bare
// number is a byte count. Units are case-insensitive.
func ParseBytes(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty byte size")
	}

	split := strings.IndexFunc(s, func(r rune) bool {
		return (r < '0' || r > '9') && r != '.'
	})
	num, unit := s, ""
	if split >= 0 {
		num, unit = s[:split], strings.TrimSpace(s[split:])
	}
	if num == "" {
		return 0, fmt.Errorf("invalid byte size %q", s)
	}

	value, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid byte size %q: %w", s, err)
	}

	power, ok := unitPower(unit)
	if !ok {
		return 0, fmt.Errorf("unknown byte size unit %q", unit)
	}

	n := value * math.Pow(1024, float64(power))
	if n > math.MaxInt64 {
		return 0, fmt.Errorf("byte size %q overflows", s)
	}
	return int64(n), nil
}

func unitPower(unit string) (int, bool) {
	u := strings.ToUpper(unit)
	if u == "" || u == "B" {
		return 0, true
	}
	u = strings.TrimSuffix(strings.Replace(u, "IB", "B", 1), "B")
	for i, name := range units[1:] {
		if u == name[:1] {
			return i + 1, true
		}
	}
	return 0, false
}
