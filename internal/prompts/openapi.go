package prompts

import "github.com/JaimeStill/compass/pkg/openapi"

var (
	promptID   = openapi.PathParam("id", "Prompt override ID")
	stageParam = openapi.EnumParam("stage", "Synthesis stage", Stages()...)
)

var stageEnum = []any{string(StageSynthesize), string(StageSummarize)}

var schemas = map[string]*openapi.Schema{
	"PromptOverride": {
		Type: "object",
		Properties: map[string]*openapi.Schema{
			"id":           {Type: "string", Format: "uuid"},
			"name":         {Type: "string"},
			"stage":        {Type: "string", Enum: stageEnum},
			"instructions": {Type: "string"},
			"description":  {Type: "string"},
			"active":       {Type: "boolean"},
			"created_at":   {Type: "string", Format: "date-time"},
			"updated_at":   {Type: "string", Format: "date-time"},
		},
	},
	"PromptOverridePage": openapi.PageOf("PromptOverride"),
	"PromptCommand": {
		Type:     "object",
		Required: []string{"name", "stage", "instructions"},
		Properties: map[string]*openapi.Schema{
			"name":         {Type: "string"},
			"stage":        {Type: "string", Enum: stageEnum},
			"instructions": {Type: "string"},
			"description":  {Type: "string"},
		},
	},
	"PromptSearch": {
		Type: "object",
		Properties: map[string]*openapi.Schema{
			"page":      {Type: "integer"},
			"page_size": {Type: "integer"},
			"search":    {Type: "string"},
			"sort":      {Type: "string"},
			"stage":     {Type: "string", Enum: stageEnum},
			"name":      {Type: "string"},
			"active":    {Type: "boolean"},
		},
	},
	"StageContent": {
		Type: "object",
		Properties: map[string]*openapi.Schema{
			"stage":   {Type: "string", Enum: stageEnum},
			"content": {Type: "string"},
		},
	},
	"Stages": {Type: "array", Items: &openapi.Schema{Type: "string", Enum: stageEnum}},
}

var ops = struct {
	List         *openapi.Operation
	Stages       *openapi.Operation
	Find         *openapi.Operation
	Instructions *openapi.Operation
	Spec         *openapi.Operation
	Create       *openapi.Operation
	Update       *openapi.Operation
	Delete       *openapi.Operation
	Search       *openapi.Operation
	Activate     *openapi.Operation
	Deactivate   *openapi.Operation
}{
	List: &openapi.Operation{
		Summary: "List prompt overrides",
		Parameters: append(openapi.PageParams(),
			openapi.QueryEnum("stage", "Exact stage", Stages()...),
			openapi.QueryParam("name", "string", "Name contains", false),
			openapi.QueryParam("active", "boolean", "Active flag", false),
		),
		Responses: openapi.Responses(200, openapi.ResponseJSON("Prompt page", "PromptOverridePage"), 400),
	},
	Stages: &openapi.Operation{
		Summary:   "List stages",
		Responses: openapi.Responses(200, openapi.ResponseJSON("Stages", "Stages")),
	},
	Find: &openapi.Operation{
		Summary:    "Get a prompt override",
		Parameters: []*openapi.Parameter{promptID},
		Responses:  openapi.Responses(200, openapi.ResponseJSON("Prompt override", "PromptOverride"), 400, 404),
	},
	Instructions: &openapi.Operation{
		Summary:     "Get effective instructions",
		Description: "Returns the active override for the stage, or the built-in instructions.",
		Parameters:  []*openapi.Parameter{stageParam},
		Responses:   openapi.Responses(200, openapi.ResponseJSON("Instructions", "StageContent"), 400),
	},
	Spec: &openapi.Operation{
		Summary:    "Get the output specification",
		Parameters: []*openapi.Parameter{stageParam},
		Responses:  openapi.Responses(200, openapi.ResponseJSON("Specification", "StageContent"), 400),
	},
	Create: &openapi.Operation{
		Summary:     "Create a prompt override",
		RequestBody: openapi.RequestBodyJSON("PromptCommand", true),
		Responses:   openapi.Responses(201, openapi.ResponseJSON("Created", "PromptOverride"), 400, 409),
	},
	Update: &openapi.Operation{
		Summary:     "Update a prompt override",
		Parameters:  []*openapi.Parameter{promptID},
		RequestBody: openapi.RequestBodyJSON("PromptCommand", true),
		Responses:   openapi.Responses(200, openapi.ResponseJSON("Updated", "PromptOverride"), 400, 404, 409),
	},
	Delete: &openapi.Operation{
		Summary:    "Delete a prompt override",
		Parameters: []*openapi.Parameter{promptID},
		Responses:  openapi.Responses(204, &openapi.Response{Description: "Deleted"}, 400, 404),
	},
	Search: &openapi.Operation{
		Summary:     "Search prompt overrides",
		RequestBody: openapi.RequestBodyJSON("PromptSearch", true),
		Responses:   openapi.Responses(200, openapi.ResponseJSON("Prompt page", "PromptOverridePage"), 400),
	},
	Activate: &openapi.Operation{
		Summary:     "Activate a prompt override",
		Description: "Deactivates any other override for the same stage.",
		Parameters:  []*openapi.Parameter{promptID},
		Responses:   openapi.Responses(200, openapi.ResponseJSON("Activated", "PromptOverride"), 400, 404),
	},
	Deactivate: &openapi.Operation{
		Summary:    "Deactivate a prompt override",
		Parameters: []*openapi.Parameter{promptID},
		Responses:  openapi.Responses(200, openapi.ResponseJSON("Deactivated", "PromptOverride"), 400, 404),
	},
}
