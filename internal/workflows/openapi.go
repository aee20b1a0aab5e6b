package workflows

import "github.com/JaimeStill/compass/pkg/openapi"

var workflowID = openapi.PathParam("id", "Workflow instance ID")

var (
	statuses   = []Status{StatusCreated, StatusRunning, StatusAwaitingHITL, StatusCompleted, StatusFailed}
	errorKinds = []ErrorKind{
		KindValidation, KindInsufficientResults, KindProviderError, KindHITLTimeout, KindCancelled, KindFatal,
	}
)

var schemas = map[string]*openapi.Schema{
	"StartCommand": {
		Type:     "object",
		Required: []string{"type"},
		Properties: map[string]*openapi.Schema{
			"type":  {Type: "string", Example: "feature_analysis"},
			"input": {Type: "object", Description: "Type-specific input document"},
		},
	},
	"StartResult": {
		Type: "object",
		Properties: map[string]*openapi.Schema{
			"workflow_id": {Type: "string", Format: "uuid"},
		},
	},
	"Workflow": {
		Type: "object",
		Properties: map[string]*openapi.Schema{
			"id":           {Type: "string", Format: "uuid"},
			"type":         {Type: "string"},
			"status":       {Type: "string", Enum: openapi.Enum(statuses...)},
			"current_step": {Type: "integer"},
			"total_steps":  {Type: "integer"},
			"input":        {Type: "object"},
			"result":       {Type: "object"},
			"error_kind":   {Type: "string", Enum: openapi.Enum(errorKinds...)},
			"error":      {Type: "string"},
			"attempts":   {Type: "integer"},
			"created_at": {Type: "string", Format: "date-time"},
			"updated_at": {Type: "string", Format: "date-time"},
		},
	},
	"WorkflowPage": openapi.PageOf("Workflow"),
	"ReviewPrompt": {
		Type: "object",
		Properties: map[string]*openapi.Schema{
			"prompt_id":   {Type: "string", Format: "uuid"},
			"workflow_id": {Type: "string", Format: "uuid"},
			"step":        {Type: "string"},
			"question":    {Type: "string"},
			"options":     {Type: "array", Items: &openapi.Schema{Type: "string"}},
			"context":     {Type: "object"},
			"status":      {Type: "string", Enum: []any{"pending", "answered", "expired"}},
			"created_at":  {Type: "string", Format: "date-time"},
			"expires_at":  {Type: "string", Format: "date-time"},
		},
	},
	"PromptResponse": {
		Type:     "object",
		Required: []string{"prompt_id", "response"},
		Properties: map[string]*openapi.Schema{
			"prompt_id": {Type: "string", Format: "uuid"},
			"response":  {Type: "string", Description: "One of the prompt's options"},
		},
	},
}

var ops = struct {
	List     *openapi.Operation
	Start    *openapi.Operation
	Status   *openapi.Operation
	Progress *openapi.Operation
	Prompt   *openapi.Operation
	Respond  *openapi.Operation
	Cancel   *openapi.Operation
}{
	List: &openapi.Operation{
		Summary: "List workflows",
		Parameters: append(openapi.PageParams(),
			openapi.QueryEnum("status", "Exact status", statuses...),
			openapi.QueryParam("type", "string", "Exact workflow type", false),
			openapi.QueryEnum("error_kind", "Exact failure kind", errorKinds...),
			openapi.QueryTime("created_after", "Lower bound on creation time, inclusive"),
			openapi.QueryTime("created_before", "Upper bound on creation time, exclusive"),
		),
		Responses: openapi.Responses(200, openapi.ResponseJSON("Workflow page", "WorkflowPage"), 400),
	},
	Start: &openapi.Operation{
		Summary:     "Start a workflow",
		RequestBody: openapi.RequestBodyJSON("StartCommand", true),
		Responses:   openapi.Responses(200, openapi.ResponseJSON("Workflow created", "StartResult"), 400),
	},
	Status: &openapi.Operation{
		Summary:    "Get workflow status",
		Parameters: []*openapi.Parameter{workflowID},
		Responses:  openapi.Responses(200, openapi.ResponseJSON("Workflow instance", "Workflow"), 404),
	},
	Progress: &openapi.Operation{
		Summary:     "Stream workflow progress",
		Description: "Server-sent events. The stream closes after workflow_complete or error.",
		Parameters:  []*openapi.Parameter{workflowID},
		Responses: openapi.Responses(200,
			openapi.EventStream("Event stream", "progress", "hitl_prompt", "workflow_complete", "error"), 404),
	},
	Prompt: &openapi.Operation{
		Summary:    "Get the pending review prompt",
		Parameters: []*openapi.Parameter{workflowID},
		Responses:  openapi.Responses(200, openapi.ResponseJSON("Pending prompt", "ReviewPrompt"), 404),
	},
	Respond: &openapi.Operation{
		Summary:     "Answer the pending review prompt",
		Parameters:  []*openapi.Parameter{workflowID},
		RequestBody: openapi.RequestBodyJSON("PromptResponse", true),
		Responses:   openapi.Responses(200, openapi.ResponseJSON("Workflow instance", "Workflow"), 400, 404, 409),
	},
	Cancel: &openapi.Operation{
		Summary:    "Cancel a workflow",
		Parameters: []*openapi.Parameter{workflowID},
		Responses:  openapi.Responses(200, openapi.ResponseJSON("Cancelled workflow", "Workflow"), 404, 409),
	},
}
