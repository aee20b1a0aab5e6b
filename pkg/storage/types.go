package storage

import (
	"fmt"
	"io"
	"strconv"
	"time"
)

// MaxListCap is the largest page size the storage service accepts.
const MaxListCap int32 = 5000

// BlobMeta describes a stored blob.
type BlobMeta struct {
	Key           string    `json:"key"`
	ContentType   string    `json:"content_type"`
	ContentLength int64     `json:"content_length"`
	LastModified  time.Time `json:"last_modified"`
}

// Blob is a downloaded blob. Body must be closed by the caller.
type Blob struct {
	BlobMeta
	Body io.ReadCloser
}

// BlobList is one page of a listing. NextMarker is empty on the last page.
type BlobList struct {
	Items      []BlobMeta `json:"items"`
	NextMarker string     `json:"next_marker,omitempty"`
}

// ParseMaxResults parses a max_results query value, falling back to
// fallback when empty and capping at MaxListCap.
func ParseMaxResults(s string, fallback int32) (int32, error) {
	if s == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid max_results %q", s)
	}
	return min(int32(n), MaxListCap), nil
}
