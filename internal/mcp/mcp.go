// Package mcp exposes workflow operations as Model Context Protocol tools.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/JaimeStill/compass/internal/hitl"
	"github.com/JaimeStill/compass/internal/workflows"
	"github.com/JaimeStill/compass/pkg/module"
)

const (
	serverName    = "compass"
	serverVersion = "0.1.0"
)

// Tools serves the workflow tool set.
type Tools struct {
	sys    workflows.System
	logger *slog.Logger
	server *server.MCPServer
}

func New(sys workflows.System, logger *slog.Logger) *Tools {
	t := &Tools{
		sys:    sys,
		logger: logger.With("system", "mcp"),
		server: server.NewMCPServer(serverName, serverVersion, server.WithToolCapabilities(true)),
	}
	t.register()
	return t
}

// Server returns the underlying MCP server.
func (t *Tools) Server() *server.MCPServer {
	return t.server
}

// Handler serves the tools over streamable HTTP.
func (t *Tools) Handler() http.Handler {
	return server.NewStreamableHTTPServer(t.server)
}

// NewModule mounts the streamable HTTP endpoint at prefix.
func (t *Tools) NewModule(prefix string) *module.Module {
	return module.New(prefix, t.Handler())
}

func (t *Tools) register() {
	t.server.AddTool(
		mcp.NewTool("start_workflow",
			mcp.WithDescription("Start a compliance workflow and return its id"),
			mcp.WithString("type", mcp.Required(), mcp.Description("Workflow type, e.g. feature_analysis or iteration_cleanup")),
			mcp.WithString("input", mcp.Description("Workflow input as a JSON object")),
		),
		t.StartWorkflow,
	)

	t.server.AddTool(
		mcp.NewTool("workflow_status",
			mcp.WithDescription("Report a workflow's status, result, and any pending prompt"),
			mcp.WithString("workflow_id", mcp.Required(), mcp.Description("Workflow id")),
		),
		t.WorkflowStatus,
	)

	t.server.AddTool(
		mcp.NewTool("respond_prompt",
			mcp.WithDescription("Answer the pending human-in-the-loop prompt of a workflow"),
			mcp.WithString("workflow_id", mcp.Required(), mcp.Description("Workflow id")),
			mcp.WithString("prompt_id", mcp.Required(), mcp.Description("Prompt id from workflow_status")),
			mcp.WithString("response", mcp.Required(), mcp.Description("One of the prompt's options")),
		),
		t.RespondPrompt,
	)

	t.server.AddTool(
		mcp.NewTool("cancel_workflow",
			mcp.WithDescription("Cancel a workflow that has not finished"),
			mcp.WithString("workflow_id", mcp.Required(), mcp.Description("Workflow id")),
		),
		t.CancelWorkflow,
	)
}

func (t *Tools) StartWorkflow(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	typ, err := req.RequireString("type")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	cmd := workflows.StartCommand{Type: typ}
	if input := req.GetString("input", ""); input != "" {
		cmd.Input = json.RawMessage(input)
	}

	id, err := t.sys.Start(ctx, cmd)
	if err != nil {
		return t.failure("start_workflow", err), nil
	}
	return t.result(workflows.StartResult{WorkflowID: id})
}

type statusReport struct {
	*workflows.Instance
	Prompt *hitl.Prompt `json:"prompt,omitempty"`
}

func (t *Tools) WorkflowStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, errResult := workflowID(req)
	if errResult != nil {
		return errResult, nil
	}

	inst, err := t.sys.Find(ctx, id)
	if err != nil {
		return t.failure("workflow_status", err), nil
	}

	report := statusReport{Instance: inst}
	if inst.Status == workflows.StatusAwaitingHITL {
		p, err := t.sys.Prompt(ctx, id)
		switch {
		case err == nil:
			report.Prompt = p
		case !errors.Is(err, hitl.ErrUnknownPrompt):
			return t.failure("workflow_status", err), nil
		}
	}
	return t.result(report)
}

func (t *Tools) RespondPrompt(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, errResult := workflowID(req)
	if errResult != nil {
		return errResult, nil
	}

	rawPrompt, err := req.RequireString("prompt_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	promptID, err := uuid.Parse(rawPrompt)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid prompt_id: %v", err)), nil
	}
	response, err := req.RequireString("response")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	if err := t.sys.Respond(ctx, id, hitl.Response{PromptID: promptID, Response: response}); err != nil {
		return t.failure("respond_prompt", err), nil
	}

	inst, err := t.sys.Find(ctx, id)
	if err != nil {
		return t.failure("respond_prompt", err), nil
	}
	return t.result(inst)
}

func (t *Tools) CancelWorkflow(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, errResult := workflowID(req)
	if errResult != nil {
		return errResult, nil
	}

	inst, err := t.sys.Cancel(ctx, id)
	if err != nil {
		return t.failure("cancel_workflow", err), nil
	}
	return t.result(inst)
}

func workflowID(req mcp.CallToolRequest) (uuid.UUID, *mcp.CallToolResult) {
	raw, err := req.RequireString("workflow_id")
	if err != nil {
		return uuid.Nil, mcp.NewToolResultError(err.Error())
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, mcp.NewToolResultError(fmt.Sprintf("invalid workflow_id: %v", err))
	}
	return id, nil
}

// failure reports err to the caller as a tool error. Server faults are
// logged; caller mistakes are not.
func (t *Tools) failure(tool string, err error) *mcp.CallToolResult {
	if workflows.MapHTTPStatus(err) >= http.StatusInternalServerError {
		t.logger.Error("tool failed", "tool", tool, "error", err)
	}
	return mcp.NewToolResultError(err.Error())
}

func (t *Tools) result(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}
	return mcp.NewToolResultText(string(data)), nil
}
