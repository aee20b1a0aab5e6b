package storage

import (
	"bytes"
	"context"
	"io"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/JaimeStill/compass/pkg/lifecycle"
)

type memoryBlob struct {
	meta BlobMeta
	data []byte
}

// Memory is a process-local System used in tests and single-node runs.
type Memory struct {
	mu    sync.RWMutex
	blobs map[string]memoryBlob
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{blobs: make(map[string]memoryBlob)}
}

func (m *Memory) Start(*lifecycle.Coordinator) error { return nil }

func (m *Memory) Upload(_ context.Context, key string, reader io.Reader, contentType string) error {
	if err := validateKey(key); err != nil {
		return err
	}

	data, err := io.ReadAll(reader)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.blobs[key] = memoryBlob{
		meta: BlobMeta{
			Key:           key,
			ContentType:   contentType,
			ContentLength: int64(len(data)),
			LastModified:  time.Now().UTC(),
		},
		data: data,
	}
	return nil
}

func (m *Memory) Download(_ context.Context, key string) (*Blob, error) {
	b, err := m.get(key)
	if err != nil {
		return nil, err
	}
	return &Blob{
		BlobMeta: b.meta,
		Body:     io.NopCloser(bytes.NewReader(b.data)),
	}, nil
}

func (m *Memory) Find(_ context.Context, key string) (*BlobMeta, error) {
	b, err := m.get(key)
	if err != nil {
		return nil, err
	}
	meta := b.meta
	return &meta, nil
}

// List pages through keys in lexical order. The marker is the last key of
// the previous page.
func (m *Memory) List(_ context.Context, prefix, marker string, maxResults int32) (*BlobList, error) {
	m.mu.RLock()
	keys := make([]string, 0, len(m.blobs))
	for k := range m.blobs {
		if strings.HasPrefix(k, prefix) && k > marker {
			keys = append(keys, k)
		}
	}
	m.mu.RUnlock()
	slices.Sort(keys)

	result := &BlobList{Items: []BlobMeta{}}
	for _, k := range keys {
		if maxResults > 0 && int32(len(result.Items)) == maxResults {
			result.NextMarker = result.Items[len(result.Items)-1].Key
			break
		}
		meta, err := m.Find(context.Background(), k)
		if err != nil {
			continue
		}
		result.Items = append(result.Items, *meta)
	}
	return result, nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	if err := validateKey(key); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.blobs[key]; !ok {
		return ErrNotFound
	}
	delete(m.blobs, key)
	return nil
}

func (m *Memory) Exists(_ context.Context, key string) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	_, ok := m.blobs[key]
	return ok, nil
}

func (m *Memory) get(key string) (memoryBlob, error) {
	if err := validateKey(key); err != nil {
		return memoryBlob{}, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	b, ok := m.blobs[key]
	if !ok {
		return memoryBlob{}, ErrNotFound
	}
	return b, nil
}
