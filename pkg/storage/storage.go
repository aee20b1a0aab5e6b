// Package storage archives workflow results as blobs in Azure Blob Storage
// or, for tests and single-node runs, in memory.
package storage

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/JaimeStill/compass/pkg/lifecycle"
)

// MaxKeyLength is the longest blob name Azure accepts.
const MaxKeyLength = 1024

// System manages blob storage operations and lifecycle coordination.
type System interface {
	// Start registers a startup hook that initializes the storage container.
	Start(lc *lifecycle.Coordinator) error
	Upload(ctx context.Context, key string, reader io.Reader, contentType string) error
	// Download returns the blob at key. The caller must close Body.
	Download(ctx context.Context, key string) (*Blob, error)
	// Find returns blob metadata without the content.
	Find(ctx context.Context, key string) (*BlobMeta, error)
	// List returns one page of blobs whose keys start with prefix. Markers
	// are opaque and only valid for the same prefix.
	List(ctx context.Context, prefix, marker string, maxResults int32) (*BlobList, error)
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
}

// New creates the configured backend. Keys are namespaced under
// cfg.KeyPrefix when set. No connection is made until Start is called.
func New(cfg *Config, logger *slog.Logger) (System, error) {
	var sys System
	switch cfg.Backend {
	case BackendMemory:
		sys = NewMemory()
	default:
		az, err := newAzure(cfg, logger)
		if err != nil {
			return nil, fmt.Errorf("create storage client: %w", err)
		}
		sys = az
	}
	return WithPrefix(sys, cfg.KeyPrefix), nil
}

// WithPrefix returns a System that stores every key under prefix and
// reports keys without it. An empty prefix returns sys unchanged.
func WithPrefix(sys System, prefix string) System {
	if prefix == "" {
		return sys
	}
	return &prefixed{System: sys, prefix: strings.TrimSuffix(prefix, "/") + "/"}
}

type prefixed struct {
	System
	prefix string
}

func (p *prefixed) Upload(ctx context.Context, key string, reader io.Reader, contentType string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	return p.System.Upload(ctx, p.prefix+key, reader, contentType)
}

func (p *prefixed) Download(ctx context.Context, key string) (*Blob, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}
	b, err := p.System.Download(ctx, p.prefix+key)
	if err != nil {
		return nil, err
	}
	b.Key = key
	return b, nil
}

func (p *prefixed) Find(ctx context.Context, key string) (*BlobMeta, error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}
	meta, err := p.System.Find(ctx, p.prefix+key)
	if err != nil {
		return nil, err
	}
	meta.Key = key
	return meta, nil
}

func (p *prefixed) List(ctx context.Context, prefix, marker string, maxResults int32) (*BlobList, error) {
	list, err := p.System.List(ctx, p.prefix+prefix, marker, maxResults)
	if err != nil {
		return nil, err
	}
	for i := range list.Items {
		list.Items[i].Key = strings.TrimPrefix(list.Items[i].Key, p.prefix)
	}
	return list, nil
}

func (p *prefixed) Delete(ctx context.Context, key string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	return p.System.Delete(ctx, p.prefix+key)
}

func (p *prefixed) Exists(ctx context.Context, key string) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}
	return p.System.Exists(ctx, p.prefix+key)
}

func validateKey(key string) error {
	switch {
	case key == "":
		return ErrEmptyKey
	case len(key) > MaxKeyLength:
		return fmt.Errorf("%w: longer than %d bytes", ErrInvalidKey, MaxKeyLength)
	case strings.HasPrefix(key, "/") || strings.ContainsRune(key, '\\'):
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	for seg := range strings.SplitSeq(key, "/") {
		if seg == "." || seg == ".." {
			return fmt.Errorf("%w: %q", ErrInvalidKey, key)
		}
	}
	return nil
}
