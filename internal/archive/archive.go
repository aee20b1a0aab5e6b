// Package archive keeps the terminal record of every workflow in blob
// storage under results/<workflow_id>.json.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/JaimeStill/compass/internal/workflows"
	"github.com/JaimeStill/compass/pkg/storage"
)

// Prefix is the storage key prefix for archived results.
const Prefix = "results/"

// Record is the archived document for a terminal workflow.
type Record struct {
	workflows.Instance
	Steps      map[string]json.RawMessage `json:"steps,omitempty"`
	Responses  map[string]string          `json:"responses,omitempty"`
	ArchivedAt time.Time                  `json:"archived_at"`
}

// Archive writes and reads archived results.
type Archive struct {
	store  storage.System
	logger *slog.Logger
}

// New creates an Archive over store.
func New(store storage.System, logger *slog.Logger) *Archive {
	return &Archive{
		store:  store,
		logger: logger.With("system", "archive"),
	}
}

// Key returns the storage key for a workflow's result.
func Key(id uuid.UUID) string {
	return Prefix + id.String() + ".json"
}

// ParseKey extracts the workflow id from a result key.
func ParseKey(key string) (uuid.UUID, error) {
	name, ok := strings.CutPrefix(key, Prefix)
	if !ok {
		return uuid.Nil, fmt.Errorf("%w: %s", storage.ErrInvalidKey, key)
	}
	return uuid.Parse(strings.TrimSuffix(name, ".json"))
}

// Put stores the terminal record of inst.
func (a *Archive) Put(ctx context.Context, inst *workflows.Instance) error {
	rec := Record{
		Instance:   inst.Clone(),
		Steps:      inst.Checkpoint.Steps,
		Responses:  inst.Checkpoint.Responses,
		ArchivedAt: time.Now().UTC(),
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal archive record: %w", err)
	}

	key := Key(inst.ID)
	if err := a.store.Upload(ctx, key, bytes.NewReader(data), "application/json"); err != nil {
		return err
	}

	a.logger.InfoContext(ctx, "result archived", "workflow_id", inst.ID, "key", key)
	return nil
}

// Get loads the archived record for id.
func (a *Archive) Get(ctx context.Context, id uuid.UUID) (*Record, error) {
	blob, err := a.store.Download(ctx, Key(id))
	if err != nil {
		return nil, err
	}
	defer blob.Body.Close()

	var rec Record
	if err := json.NewDecoder(blob.Body).Decode(&rec); err != nil {
		return nil, fmt.Errorf("decode archive record %s: %w", id, err)
	}
	return &rec, nil
}

// Delete removes the archived record for id.
func (a *Archive) Delete(ctx context.Context, id uuid.UUID) error {
	if err := a.store.Delete(ctx, Key(id)); err != nil {
		return err
	}
	a.logger.InfoContext(ctx, "result deleted", "workflow_id", id)
	return nil
}

// Exists reports whether id has an archived record.
func (a *Archive) Exists(ctx context.Context, id uuid.UUID) (bool, error) {
	return a.store.Exists(ctx, Key(id))
}

// List returns a page of archived result keys.
func (a *Archive) List(ctx context.Context, marker string, maxResults int32) (*storage.BlobList, error) {
	return a.store.List(ctx, Prefix, marker, maxResults)
}
