package formatting

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrParseFailed is returned when no JSON value of the requested shape can
// be recovered from the content.
var ErrParseFailed = errors.New("failed to parse response")

// errExcerpt bounds how much of the rejected content an error carries.
const errExcerpt = 200

var fence = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)\\s*```")

// Parse decodes a model response into T. It tries, in order, the whole
// content, each markdown code fence, and the outermost {...} span, so JSON
// wrapped in explanatory prose is still accepted.
func Parse[T any](content string) (T, error) {
	var result T
	content = strings.TrimSpace(content)

	for _, candidate := range candidates(content) {
		var v T
		if err := json.Unmarshal([]byte(candidate), &v); err == nil {
			return v, nil
		}
	}

	return result, fmt.Errorf("%w: %s", ErrParseFailed, excerpt(content))
}

func candidates(content string) []string {
	out := []string{content}
	for _, m := range fence.FindAllStringSubmatch(content, -1) {
		out = append(out, m[1])
	}
	if start, end := strings.Index(content, "{"), strings.LastIndex(content, "}"); start >= 0 && end > start {
		out = append(out, content[start:end+1])
	}
	return out
}

func excerpt(s string) string {
	if len(s) <= errExcerpt {
		return s
	}
	return s[:errExcerpt] + "..."
}
