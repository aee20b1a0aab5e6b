package mcp_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JaimeStill/compass/internal/dispatch"
	"github.com/JaimeStill/compass/internal/engine"
	"github.com/JaimeStill/compass/internal/hitl"
	compassmcp "github.com/JaimeStill/compass/internal/mcp"
	"github.com/JaimeStill/compass/internal/progress"
	"github.com/JaimeStill/compass/internal/workflows"
)

func confirmDef() *engine.Definition {
	return &engine.Definition{
		Type: "confirm",
		Steps: []engine.Step{
			{Name: "ask", Run: func(_ context.Context, sc *engine.StepContext) (engine.Outcome, error) {
				if answer, ok := sc.Response(); ok {
					return engine.Next(map[string]string{"answer": answer}), nil
				}
				return engine.Suspend(hitl.Request{
					Question: "Delete past iteration?",
					Options:  []string{"DELETE", "KEEP"},
				}), nil
			}},
		},
	}
}

func newTools(t *testing.T) *compassmcp.Tools {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	registry, err := engine.NewRegistry(confirmDef())
	require.NoError(t, err)

	pub := progress.New(logger)
	gate := hitl.New(hitl.NewMemory(), pub, logger)
	disp := dispatch.New(dispatch.CallerFunc(func(context.Context, string, json.RawMessage) (json.RawMessage, error) {
		return json.RawMessage(`{}`), nil
	}), logger)

	eng := engine.New(registry, workflows.NewMemory(), gate, disp, pub, logger)
	return compassmcp.New(eng, logger)
}

func call(args map[string]any) mcp.CallToolRequest {
	return mcp.CallToolRequest{Params: mcp.CallToolParams{Arguments: args}}
}

func text(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, res.Content)
	tc, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok)
	return tc.Text
}

func TestToolsRoundTrip(t *testing.T) {
	tools := newTools(t)
	ctx := context.Background()

	res, err := tools.StartWorkflow(ctx, call(map[string]any{"type": "confirm", "input": `{}`}))
	require.NoError(t, err)
	require.False(t, res.IsError, text(t, res))

	var started workflows.StartResult
	require.NoError(t, json.Unmarshal([]byte(text(t, res)), &started))

	res, err = tools.WorkflowStatus(ctx, call(map[string]any{"workflow_id": started.WorkflowID.String()}))
	require.NoError(t, err)
	require.False(t, res.IsError)

	var status struct {
		Status workflows.Status `json:"status"`
		Prompt *hitl.Prompt     `json:"prompt"`
	}
	require.NoError(t, json.Unmarshal([]byte(text(t, res)), &status))
	assert.Equal(t, workflows.StatusAwaitingHITL, status.Status)
	require.NotNil(t, status.Prompt)
	assert.Equal(t, "Delete past iteration?", status.Prompt.Question)

	res, err = tools.RespondPrompt(ctx, call(map[string]any{
		"workflow_id": started.WorkflowID.String(),
		"prompt_id":   status.Prompt.ID.String(),
		"response":    "KEEP",
	}))
	require.NoError(t, err)
	require.False(t, res.IsError, text(t, res))

	var inst workflows.Instance
	require.NoError(t, json.Unmarshal([]byte(text(t, res)), &inst))
	assert.Equal(t, workflows.StatusCompleted, inst.Status)
	assert.JSONEq(t, `{"answer":"KEEP"}`, string(inst.Result))

	res, err = tools.RespondPrompt(ctx, call(map[string]any{
		"workflow_id": started.WorkflowID.String(),
		"prompt_id":   status.Prompt.ID.String(),
		"response":    "KEEP",
	}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestToolErrors(t *testing.T) {
	tools := newTools(t)
	ctx := context.Background()

	tests := []struct {
		name string
		run  func() (*mcp.CallToolResult, error)
	}{
		{"missing type", func() (*mcp.CallToolResult, error) {
			return tools.StartWorkflow(ctx, call(map[string]any{}))
		}},
		{"unknown type", func() (*mcp.CallToolResult, error) {
			return tools.StartWorkflow(ctx, call(map[string]any{"type": "nope"}))
		}},
		{"malformed input", func() (*mcp.CallToolResult, error) {
			return tools.StartWorkflow(ctx, call(map[string]any{"type": "confirm", "input": "{"}))
		}},
		{"invalid id", func() (*mcp.CallToolResult, error) {
			return tools.WorkflowStatus(ctx, call(map[string]any{"workflow_id": "abc"}))
		}},
		{"unknown workflow", func() (*mcp.CallToolResult, error) {
			return tools.WorkflowStatus(ctx, call(map[string]any{"workflow_id": uuid.NewString()}))
		}},
		{"cancel unknown", func() (*mcp.CallToolResult, error) {
			return tools.CancelWorkflow(ctx, call(map[string]any{"workflow_id": uuid.NewString()}))
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := tt.run()
			require.NoError(t, err)
			assert.True(t, res.IsError)
		})
	}
}

func TestCancelWorkflow(t *testing.T) {
	tools := newTools(t)
	ctx := context.Background()

	res, err := tools.StartWorkflow(ctx, call(map[string]any{"type": "confirm"}))
	require.NoError(t, err)
	var started workflows.StartResult
	require.NoError(t, json.Unmarshal([]byte(text(t, res)), &started))

	res, err = tools.CancelWorkflow(ctx, call(map[string]any{"workflow_id": started.WorkflowID.String()}))
	require.NoError(t, err)
	require.False(t, res.IsError, text(t, res))

	var inst workflows.Instance
	require.NoError(t, json.Unmarshal([]byte(text(t, res)), &inst))
	assert.Equal(t, workflows.StatusFailed, inst.Status)
	assert.Equal(t, workflows.KindCancelled, inst.ErrorKind)
}
