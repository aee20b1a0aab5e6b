package providers

import "github.com/JaimeStill/compass/pkg/openapi"

var schemas = map[string]*openapi.Schema{
	"Provider": {
		Type: "object",
		Properties: map[string]*openapi.Schema{
			"id":           {Type: "string"},
			"url":          {Type: "string", Format: "uri"},
			"jurisdiction": {Type: "string"},
			"rate_limit":   {Type: "number", Description: "Requests per second, 0 for unlimited"},
			"burst":        {Type: "integer"},
		},
	},
	"Providers": {Type: "array", Items: openapi.SchemaRef("Provider")},
	"HealthReport": {
		Type: "object",
		Properties: map[string]*openapi.Schema{
			"healthy": {Type: "integer"},
			"total":   {Type: "integer"},
			"providers": {Type: "array", Items: &openapi.Schema{
				Type: "object",
				Properties: map[string]*openapi.Schema{
					"id":           {Type: "string"},
					"jurisdiction": {Type: "string"},
					"healthy":      {Type: "boolean"},
					"latency_ns":   {Type: "integer"},
					"error":        {Type: "string"},
				},
			}},
		},
	},
}

var listOp = &openapi.Operation{
	Summary:   "List search providers",
	Responses: openapi.Responses(200, openapi.ResponseJSON("Configured providers", "Providers")),
}

var healthOp = &openapi.Operation{
	Summary:     "Check provider health",
	Description: "Responds 503 only when no provider is healthy.",
	Responses: map[int]*openapi.Response{
		200: openapi.ResponseJSON("Health report", "HealthReport"),
		503: openapi.ResponseJSON("No healthy provider", "HealthReport"),
	},
}
