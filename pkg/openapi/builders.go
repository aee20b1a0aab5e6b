package openapi

import (
	"maps"
	"slices"
	"strings"
)

const (
	mediaJSON   = "application/json"
	mediaStream = "text/event-stream"
)

// SchemaRef points at a component schema.
func SchemaRef(name string) *Schema {
	return &Schema{Ref: "#/components/schemas/" + name}
}

// ResponseRef points at a component response.
func ResponseRef(name string) *Response {
	return &Response{Ref: "#/components/responses/" + name}
}

// Enum converts string values to the []any form Schema.Enum carries.
func Enum[S ~string](values ...S) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = string(v)
	}
	return out
}

// ArrayOf returns an array schema whose items reference the named schema.
func ArrayOf(name string) *Schema {
	return &Schema{Type: "array", Items: SchemaRef(name)}
}

func RequestBodyJSON(schemaName string, required bool) *RequestBody {
	return &RequestBody{
		Required: required,
		Content:  map[string]*MediaType{mediaJSON: {Schema: SchemaRef(schemaName)}},
	}
}

func ResponseJSON(description, schemaName string) *Response {
	return &Response{
		Description: description,
		Content:     map[string]*MediaType{mediaJSON: {Schema: SchemaRef(schemaName)}},
	}
}

// EventStream describes a server-sent events response. The event names
// are listed in the description since OpenAPI has no SSE vocabulary.
func EventStream(description string, events ...string) *Response {
	if len(events) > 0 {
		description += ". Events: " + strings.Join(events, ", ")
	}
	return &Response{
		Description: description,
		Content:     map[string]*MediaType{mediaStream: {Schema: &Schema{Type: "string"}}},
	}
}

// PathParam creates a required UUID path parameter.
func PathParam(name, description string) *Parameter {
	return &Parameter{
		Name:        name,
		In:          "path",
		Required:    true,
		Description: description,
		Schema:      &Schema{Type: "string", Format: "uuid"},
	}
}

// EnumParam creates a required string path parameter limited to values.
func EnumParam[S ~string](name, description string, values ...S) *Parameter {
	return &Parameter{
		Name:        name,
		In:          "path",
		Required:    true,
		Description: description,
		Schema:      &Schema{Type: "string", Enum: Enum(values...)},
	}
}

// QueryParam creates a query parameter of the given JSON type.
func QueryParam(name, typ, description string, required bool) *Parameter {
	return &Parameter{
		Name:        name,
		In:          "query",
		Required:    required,
		Description: description,
		Schema:      &Schema{Type: typ},
	}
}

// QueryEnum creates an optional string query parameter limited to values.
func QueryEnum[S ~string](name, description string, values ...S) *Parameter {
	p := QueryParam(name, "string", description, false)
	p.Schema.Enum = Enum(values...)
	return p
}

// QueryTime creates an optional RFC 3339 timestamp query parameter.
func QueryTime(name, description string) *Parameter {
	p := QueryParam(name, "string", description, false)
	p.Schema.Format = "date-time"
	return p
}

// PageParams returns the page, page_size, search and sort parameters every
// list endpoint accepts.
func PageParams() []*Parameter {
	return []*Parameter{
		QueryParam("page", "integer", "Page number (1-indexed)", false),
		QueryParam("page_size", "integer", "Results per page", false),
		QueryParam("search", "string", "Case-insensitive search", false),
		QueryParam("sort", "string", "Comma-separated sort fields, - prefix for descending", false),
	}
}

var errorResponses = map[int]string{
	400: "BadRequest",
	401: "Unauthorized",
	404: "NotFound",
	409: "Conflict",
	500: "InternalError",
	503: "ServiceUnavailable",
}

// ErrorCodes lists the status codes Responses can reference.
func ErrorCodes() []int {
	return slices.Sorted(maps.Keys(errorResponses))
}

// Responses keys ok under status and adds a reference to the shared error
// response for each of errs. Every operation also gets 500.
func Responses(status int, ok *Response, errs ...int) map[int]*Response {
	out := map[int]*Response{status: ok, 500: ResponseRef(errorResponses[500])}
	for _, code := range errs {
		if name, found := errorResponses[code]; found {
			out[code] = ResponseRef(name)
		}
	}
	return out
}
