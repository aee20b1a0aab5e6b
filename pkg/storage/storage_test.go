package storage_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JaimeStill/compass/pkg/storage"
)

// Well-known Azurite development credentials.
const azuriteConnString = "DefaultEndpointsProtocol=http;AccountName=devstoreaccount1;AccountKey=Eby8vdM02xNOcqFlqUwJPLlmEtlCDXJ1OUzFT50uSRZ6IFsuFq2UVErCz4I6tq/K1SZFPTOtr/KBHBeksoGMGw==;BlobEndpoint=http://127.0.0.1:10000/devstoreaccount1;"

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestConfigFinalize(t *testing.T) {
	tests := []struct {
		name    string
		cfg     storage.Config
		wantErr string
	}{
		{"azure connection string", storage.Config{ConnectionString: azuriteConnString}, ""},
		{"azure account url", storage.Config{AccountURL: "https://acct.blob.core.windows.net"}, ""},
		{"azure without credentials", storage.Config{}, "connection_string or account_url required"},
		{"memory needs nothing", storage.Config{Backend: storage.BackendMemory}, ""},
		{"unknown backend", storage.Config{Backend: "s3"}, "unknown backend"},
		{"uppercase container", storage.Config{ContainerName: "Results", ConnectionString: azuriteConnString}, "container_name"},
		{"double hyphen container", storage.Config{ContainerName: "re--sults", ConnectionString: azuriteConnString}, "container_name"},
		{"traversing prefix", storage.Config{Backend: storage.BackendMemory, KeyPrefix: "../x"}, "key_prefix"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Finalize(nil)
			if tt.wantErr == "" {
				require.NoError(t, err)
				assert.Equal(t, "compass", tt.cfg.ContainerName)
				assert.Equal(t, int32(50), tt.cfg.MaxListSize)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestConfigEnv(t *testing.T) {
	t.Setenv("COMPASS_STORAGE_BACKEND", "memory")
	t.Setenv("COMPASS_STORAGE_MAX_LIST_SIZE", "99999")

	cfg := storage.Config{}
	require.NoError(t, cfg.Finalize(&storage.Env{
		Backend:     "COMPASS_STORAGE_BACKEND",
		MaxListSize: "COMPASS_STORAGE_MAX_LIST_SIZE",
	}))
	assert.Equal(t, storage.BackendMemory, cfg.Backend)
	assert.Equal(t, storage.MaxListCap, cfg.MaxListSize)

	cfg.Merge(&storage.Config{ContainerName: "archive"})
	assert.Equal(t, "archive", cfg.ContainerName)
	assert.Equal(t, storage.BackendMemory, cfg.Backend)
}

func TestNew(t *testing.T) {
	sys, err := storage.New(&storage.Config{Backend: storage.BackendAzure, ContainerName: "compass", ConnectionString: azuriteConnString}, discard())
	require.NoError(t, err)
	assert.NotNil(t, sys)

	_, err = storage.New(&storage.Config{Backend: storage.BackendAzure, ConnectionString: "not-a-connection-string"}, discard())
	assert.Error(t, err)

	mem, err := storage.New(&storage.Config{Backend: storage.BackendMemory}, discard())
	require.NoError(t, err)
	assert.IsType(t, &storage.Memory{}, mem)
}

func TestMemory(t *testing.T) {
	ctx := context.Background()
	m := storage.NewMemory()

	require.NoError(t, m.Upload(ctx, "workflows/a.json", strings.NewReader(`{"id":"a"}`), "application/json"))

	ok, err := m.Exists(ctx, "workflows/a.json")
	require.NoError(t, err)
	assert.True(t, ok)

	meta, err := m.Find(ctx, "workflows/a.json")
	require.NoError(t, err)
	assert.Equal(t, "application/json", meta.ContentType)
	assert.Equal(t, int64(10), meta.ContentLength)

	blob, err := m.Download(ctx, "workflows/a.json")
	require.NoError(t, err)
	body, err := io.ReadAll(blob.Body)
	require.NoError(t, blob.Body.Close())
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"a"}`, string(body))

	require.NoError(t, m.Delete(ctx, "workflows/a.json"))
	assert.ErrorIs(t, m.Delete(ctx, "workflows/a.json"), storage.ErrNotFound)
	_, err = m.Download(ctx, "workflows/a.json")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestMemoryKeyValidation(t *testing.T) {
	ctx := context.Background()
	m := storage.NewMemory()

	assert.ErrorIs(t, m.Upload(ctx, "", strings.NewReader("x"), "text/plain"), storage.ErrEmptyKey)
	for _, key := range []string{"workflows/../secrets", "/abs", `a\b`, "./x", strings.Repeat("k", storage.MaxKeyLength+1)} {
		assert.ErrorIs(t, m.Upload(ctx, key, strings.NewReader("x"), "text/plain"), storage.ErrInvalidKey, key)
	}
	require.NoError(t, m.Upload(ctx, "workflows/v1..2.json", strings.NewReader("x"), "text/plain"))
	_, err := m.Exists(ctx, "")
	assert.ErrorIs(t, err, storage.ErrEmptyKey)
}

func TestMemoryListPages(t *testing.T) {
	ctx := context.Background()
	m := storage.NewMemory()

	for i := range 5 {
		require.NoError(t, m.Upload(ctx, fmt.Sprintf("workflows/%d.json", i), strings.NewReader("{}"), "application/json"))
	}
	require.NoError(t, m.Upload(ctx, "other/x.json", strings.NewReader("{}"), "application/json"))

	var keys []string
	marker := ""
	pages := 0
	for {
		page, err := m.List(ctx, "workflows/", marker, 2)
		require.NoError(t, err)
		pages++
		for _, item := range page.Items {
			keys = append(keys, item.Key)
		}
		if page.NextMarker == "" {
			break
		}
		marker = page.NextMarker
	}

	assert.Equal(t, 3, pages)
	assert.Equal(t, []string{
		"workflows/0.json", "workflows/1.json", "workflows/2.json",
		"workflows/3.json", "workflows/4.json",
	}, keys)
}

func TestParseMaxResults(t *testing.T) {
	tests := []struct {
		input   string
		want    int32
		wantErr bool
	}{
		{"", 50, false},
		{"10", 10, false},
		{"100000", storage.MaxListCap, false},
		{"0", 0, true},
		{"ten", 0, true},
	}

	for _, tt := range tests {
		got, err := storage.ParseMaxResults(tt.input, 50)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseMaxResults(%q) error = %v", tt.input, err)
		}
		if got != tt.want {
			t.Errorf("ParseMaxResults(%q) = %d, want %d", tt.input, got, tt.want)
		}
	}
}

func TestMapHTTPStatus(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, storage.MapHTTPStatus(fmt.Errorf("download: %w", storage.ErrNotFound)))
	assert.Equal(t, http.StatusBadRequest, storage.MapHTTPStatus(storage.ErrInvalidKey))
	assert.Equal(t, http.StatusBadRequest, storage.MapHTTPStatus(storage.ErrEmptyKey))
	assert.Equal(t, http.StatusBadGateway, storage.MapHTTPStatus(fmt.Errorf("upload: %w", storage.ErrContainerMissing)))
	assert.Equal(t, http.StatusInternalServerError, storage.MapHTTPStatus(errors.New("boom")))
}

func TestWithPrefix(t *testing.T) {
	ctx := context.Background()
	inner := storage.NewMemory()
	sys := storage.WithPrefix(inner, "tenant-a/")

	require.NoError(t, sys.Upload(ctx, "workflows/a.json", strings.NewReader("{}"), "application/json"))
	require.NoError(t, inner.Upload(ctx, "workflows/b.json", strings.NewReader("{}"), "application/json"))

	ok, err := inner.Exists(ctx, "tenant-a/workflows/a.json")
	require.NoError(t, err)
	assert.True(t, ok, "key not namespaced in backing store")

	meta, err := sys.Find(ctx, "workflows/a.json")
	require.NoError(t, err)
	assert.Equal(t, "workflows/a.json", meta.Key)

	list, err := sys.List(ctx, "workflows/", "", 10)
	require.NoError(t, err)
	require.Len(t, list.Items, 1)
	assert.Equal(t, "workflows/a.json", list.Items[0].Key)

	_, err = sys.Find(ctx, "workflows/b.json")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.ErrorIs(t, sys.Upload(ctx, "../escape", strings.NewReader("{}"), "text/plain"), storage.ErrInvalidKey)

	assert.Same(t, inner, storage.WithPrefix(inner, ""))
}

func TestNewAppliesKeyPrefix(t *testing.T) {
	sys, err := storage.New(&storage.Config{Backend: storage.BackendMemory, KeyPrefix: "staging"}, discard())
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, sys.Upload(ctx, "workflows/a.json", strings.NewReader("{}"), "application/json"))
	list, err := sys.List(ctx, "", "", 10)
	require.NoError(t, err)
	require.Len(t, list.Items, 1)
	assert.Equal(t, "workflows/a.json", list.Items[0].Key)
}
