package hitl_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JaimeStill/compass/internal/hitl"
)

func newPrompt(workflowID uuid.UUID, expiresIn time.Duration) hitl.Prompt {
	now := time.Now().UTC()
	p := hitl.Prompt{
		ID:         uuid.New(),
		WorkflowID: workflowID,
		Step:       "confirm",
		Question:   "Delete past iteration?",
		Options:    []string{"DELETE", "KEEP"},
		Context:    map[string]any{"previous_workflow_id": "abc"},
		Status:     hitl.StatusPending,
		CreatedAt:  now,
	}
	if expiresIn != 0 {
		at := now.Add(expiresIn)
		p.ExpiresAt = &at
	}
	return p
}

// storeContract runs the behavior every Store implementation must share.
func storeContract(t *testing.T, store hitl.Store) {
	ctx := context.Background()

	t.Run("single pending prompt per workflow", func(t *testing.T) {
		wf := uuid.New()
		first := newPrompt(wf, time.Hour)
		require.NoError(t, store.Create(ctx, first))
		assert.ErrorIs(t, store.Create(ctx, newPrompt(wf, time.Hour)), hitl.ErrPromptAlreadyPending)

		pending, err := store.Pending(ctx, wf)
		require.NoError(t, err)
		assert.Equal(t, first.ID, pending.ID)
		assert.Equal(t, first.Options, pending.Options)
		assert.Equal(t, "abc", pending.Context["previous_workflow_id"])

		require.NoError(t, store.Answer(ctx, first.ID, "KEEP", time.Now().UTC()))
		require.NoError(t, store.Create(ctx, newPrompt(wf, time.Hour)))
	})

	t.Run("answer closes once", func(t *testing.T) {
		p := newPrompt(uuid.New(), 0)
		require.NoError(t, store.Create(ctx, p))

		require.NoError(t, store.Answer(ctx, p.ID, "DELETE", time.Now().UTC()))
		assert.ErrorIs(t, store.Answer(ctx, p.ID, "KEEP", time.Now().UTC()), hitl.ErrPromptClosed)
		assert.ErrorIs(t, store.Expire(ctx, p.ID), hitl.ErrPromptClosed)

		found, err := store.Find(ctx, p.ID)
		require.NoError(t, err)
		assert.Equal(t, hitl.StatusAnswered, found.Status)
		require.NotNil(t, found.Response)
		assert.Equal(t, "DELETE", *found.Response)
		assert.NotNil(t, found.AnsweredAt)

		_, err = store.Pending(ctx, p.WorkflowID)
		assert.ErrorIs(t, err, hitl.ErrUnknownPrompt)
	})

	t.Run("unknown prompt", func(t *testing.T) {
		_, err := store.Find(ctx, uuid.New())
		assert.ErrorIs(t, err, hitl.ErrUnknownPrompt)
		assert.ErrorIs(t, store.Answer(ctx, uuid.New(), "KEEP", time.Now()), hitl.ErrUnknownPrompt)
		assert.ErrorIs(t, store.Expire(ctx, uuid.New()), hitl.ErrUnknownPrompt)
	})

	t.Run("expire due", func(t *testing.T) {
		overdue := newPrompt(uuid.New(), -time.Minute)
		later := newPrompt(uuid.New(), time.Hour)
		open := newPrompt(uuid.New(), 0)
		for _, p := range []hitl.Prompt{overdue, later, open} {
			require.NoError(t, store.Create(ctx, p))
		}

		expired, err := store.ExpireDue(ctx, time.Now().UTC())
		require.NoError(t, err)

		var ids []uuid.UUID
		for _, p := range expired {
			ids = append(ids, p.ID)
			assert.Equal(t, hitl.StatusExpired, p.Status)
		}
		assert.Contains(t, ids, overdue.ID)
		assert.NotContains(t, ids, later.ID)
		assert.NotContains(t, ids, open.ID)

		again, err := store.ExpireDue(ctx, time.Now().UTC())
		require.NoError(t, err)
		for _, p := range again {
			assert.NotEqual(t, overdue.ID, p.ID)
		}
	})
}

func TestMemoryStore(t *testing.T) {
	storeContract(t, hitl.NewMemory())
}
