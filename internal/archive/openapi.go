package archive

import "github.com/JaimeStill/compass/pkg/openapi"

var resultID = openapi.PathParam("id", "Workflow instance ID")

var schemas = map[string]*openapi.Schema{
	"ResultList": {
		Type: "object",
		Properties: map[string]*openapi.Schema{
			"items": {Type: "array", Items: &openapi.Schema{
				Type: "object",
				Properties: map[string]*openapi.Schema{
					"key":            {Type: "string", Example: "results/0b6f1f1e-8f6c-4a39-9d4b-7f8b0c1d2e3f.json"},
					"content_type":   {Type: "string"},
					"content_length": {Type: "integer"},
					"last_modified":  {Type: "string", Format: "date-time"},
				},
			}},
			"next_marker": {Type: "string"},
		},
	},
	"Result": {
		Type:        "object",
		Description: "Terminal workflow record with step outputs and human responses.",
		Properties: map[string]*openapi.Schema{
			"id":          {Type: "string", Format: "uuid"},
			"type":        {Type: "string"},
			"status":      {Type: "string"},
			"result":      {Type: "object"},
			"error_kind":  {Type: "string"},
			"error":       {Type: "string"},
			"steps":       {Type: "object"},
			"responses":   {Type: "object"},
			"archived_at": {Type: "string", Format: "date-time"},
		},
	},
}

var ops = struct {
	List     *openapi.Operation
	Find     *openapi.Operation
	Download *openapi.Operation
}{
	List: &openapi.Operation{
		Summary: "List archived results",
		Parameters: []*openapi.Parameter{
			openapi.QueryParam("marker", "string", "Continuation marker from a previous page", false),
			openapi.QueryParam("max_results", "integer", "Page size", false),
		},
		Responses: openapi.Responses(200, openapi.ResponseJSON("Result page", "ResultList"), 400),
	},
	Find: &openapi.Operation{
		Summary:    "Get an archived result",
		Parameters: []*openapi.Parameter{resultID},
		Responses:  openapi.Responses(200, openapi.ResponseJSON("Archived result", "Result"), 404),
	},
	Download: &openapi.Operation{
		Summary:    "Download an archived result",
		Parameters: []*openapi.Parameter{resultID},
		Responses: openapi.Responses(200, &openapi.Response{
			Description: "Result document as an attachment",
			Content: map[string]*openapi.MediaType{
				"application/json": {Schema: openapi.SchemaRef("Result")},
			},
		}, 404),
	},
}
