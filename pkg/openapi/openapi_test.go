package openapi_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/JaimeStill/compass/pkg/openapi"
)

func newSpec(t *testing.T) *openapi.Spec {
	t.Helper()
	cfg := openapi.Config{}
	if err := cfg.Finalize(nil); err != nil {
		t.Fatalf("finalize failed: %v", err)
	}
	return openapi.NewSpec(&cfg, "1.2.0")
}

func TestNewSpec(t *testing.T) {
	spec := newSpec(t)

	if spec.OpenAPI != "3.1.0" {
		t.Errorf("openapi version: got %s, want 3.1.0", spec.OpenAPI)
	}
	if spec.Info.Title != "Compass API" {
		t.Errorf("title: got %s, want Compass API", spec.Info.Title)
	}
	if spec.Info.Version != "1.2.0" {
		t.Errorf("version: got %s, want 1.2.0", spec.Info.Version)
	}
	if spec.Info.Description == "" {
		t.Error("description should default")
	}
	for _, name := range []string{"BadRequest", "Unauthorized", "NotFound", "Conflict", "InternalError", "ServiceUnavailable"} {
		if _, ok := spec.Components.Responses[name]; !ok {
			t.Errorf("missing shared response %s", name)
		}
	}
}

func TestAddOperation(t *testing.T) {
	spec := newSpec(t)
	get := &openapi.Operation{Summary: "status"}
	post := &openapi.Operation{Summary: "respond"}

	spec.AddOperation("/workflow/{id}", "GET", get)
	spec.AddOperation("/workflow/{id}", "post", post)
	spec.AddOperation("/workflow/{id}", "PATCH", &openapi.Operation{})

	item, ok := spec.Paths["/workflow/{id}"]
	if !ok {
		t.Fatal("path not added")
	}
	if item.Get != get || item.Post != post {
		t.Errorf("operations not attached: %+v", item)
	}

	spec.AddOperation("/ignored", "PATCH", &openapi.Operation{})
	if _, ok := spec.Paths["/ignored"]; ok {
		t.Error("unsupported method should not add a path")
	}
}

func TestRefs(t *testing.T) {
	if got := openapi.SchemaRef("Workflow").Ref; got != "#/components/schemas/Workflow" {
		t.Errorf("schema ref: got %s", got)
	}
	if got := openapi.ResponseRef("NotFound").Ref; got != "#/components/responses/NotFound" {
		t.Errorf("response ref: got %s", got)
	}

	rb := openapi.RequestBodyJSON("StartCommand", true)
	if !rb.Required || rb.Content["application/json"].Schema.Ref != "#/components/schemas/StartCommand" {
		t.Errorf("request body: %+v", rb)
	}
}

func TestParams(t *testing.T) {
	p := openapi.PathParam("id", "Workflow ID")
	if p.In != "path" || !p.Required || p.Schema.Format != "uuid" {
		t.Errorf("path param: %+v", p)
	}

	q := openapi.QueryParam("status", "string", "Status filter", false)
	if q.In != "query" || q.Required || q.Schema.Type != "string" {
		t.Errorf("query param: %+v", q)
	}

	e := openapi.EnumParam("stage", "Stage", "synthesize", "summarize")
	if len(e.Schema.Enum) != 2 || e.Schema.Enum[1] != "summarize" {
		t.Errorf("enum param: %+v", e.Schema)
	}
}

func TestResponses(t *testing.T) {
	ok := openapi.ResponseJSON("Workflow", "Workflow")
	got := openapi.Responses(200, ok, 400, 404, 418)

	if got[200] != ok {
		t.Error("success response missing")
	}
	if got[400].Ref != "#/components/responses/BadRequest" {
		t.Errorf("400: got %s", got[400].Ref)
	}
	if got[404].Ref != "#/components/responses/NotFound" {
		t.Errorf("404: got %s", got[404].Ref)
	}
	if _, found := got[418]; found {
		t.Error("unknown status should be skipped")
	}
	if got[500].Ref != "#/components/responses/InternalError" {
		t.Errorf("500: got %+v", got[500])
	}
}

func TestErrorCodesHaveComponents(t *testing.T) {
	components := openapi.NewComponents()
	for _, code := range openapi.ErrorCodes() {
		ref := openapi.Responses(200, nil, code)[code].Ref
		name := strings.TrimPrefix(ref, "#/components/responses/")
		if _, ok := components.Responses[name]; !ok {
			t.Errorf("status %d references undefined response %s", code, name)
		}
	}
}

func TestParamBuilders(t *testing.T) {
	type status string
	if got := openapi.Enum[status]("pending", "answered"); len(got) != 2 || got[0] != "pending" {
		t.Errorf("enum: got %v", got)
	}

	q := openapi.QueryEnum("status", "Exact status", "running", "completed")
	if q.In != "query" || q.Required || len(q.Schema.Enum) != 2 {
		t.Errorf("query enum: got %+v", q)
	}

	ts := openapi.QueryTime("created_after", "Lower bound")
	if ts.Schema.Format != "date-time" {
		t.Errorf("query time format: got %s", ts.Schema.Format)
	}

	if n := len(openapi.PageParams()); n != 4 {
		t.Errorf("page params: got %d, want 4", n)
	}
}

func TestEventStream(t *testing.T) {
	r := openapi.EventStream("Progress", "step_start", "workflow_complete")
	if _, ok := r.Content["text/event-stream"]; !ok {
		t.Fatalf("content: got %v", r.Content)
	}
	if !strings.Contains(r.Description, "step_start, workflow_complete") {
		t.Errorf("description: got %s", r.Description)
	}
}

func TestPageOf(t *testing.T) {
	s := openapi.PageOf("Workflow")
	if s.Properties["data"].Items.Ref != "#/components/schemas/Workflow" {
		t.Errorf("data items: %+v", s.Properties["data"].Items)
	}
	if s.Properties["total_pages"].Type != "integer" {
		t.Error("total_pages should be an integer")
	}
}

func TestServeSpec(t *testing.T) {
	spec := newSpec(t)
	spec.AddServer("/api")
	spec.AddOperation("/workflow/start", "POST", &openapi.Operation{
		Summary:   "Start",
		Responses: openapi.Responses(200, &openapi.Response{Description: "ok"}, 400),
	})

	data, err := openapi.MarshalJSON(spec)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	rec := httptest.NewRecorder()
	openapi.ServeSpec(data).ServeHTTP(rec, httptest.NewRequest("GET", "/openapi.json", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("content-type: got %s", ct)
	}

	var parsed struct {
		Paths map[string]struct {
			Post struct {
				Responses map[string]json.RawMessage `json:"responses"`
			} `json:"post"`
		} `json:"paths"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &parsed); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	responses := parsed.Paths["/workflow/start"].Post.Responses
	if _, ok := responses["200"]; !ok {
		t.Error("200 response missing")
	}
	if _, ok := responses["400"]; !ok {
		t.Error("400 response missing")
	}
}

func TestConfigFinalizeEnv(t *testing.T) {
	t.Setenv("TEST_TITLE", "Custom API")
	t.Setenv("TEST_DESC", "Custom desc")

	cfg := openapi.Config{}
	if err := cfg.Finalize(&openapi.ConfigEnv{Title: "TEST_TITLE", Description: "TEST_DESC"}); err != nil {
		t.Fatalf("finalize failed: %v", err)
	}

	if cfg.Title != "Custom API" {
		t.Errorf("title: got %s, want Custom API", cfg.Title)
	}
	if cfg.Description != "Custom desc" {
		t.Errorf("description: got %s, want Custom desc", cfg.Description)
	}
}

func TestConfigMerge(t *testing.T) {
	base := openapi.Config{Title: "Base", Description: "Kept"}
	base.Merge(&openapi.Config{Title: "Overlay"})

	if base.Title != "Overlay" {
		t.Errorf("title: got %s, want Overlay", base.Title)
	}
	if base.Description != "Kept" {
		t.Errorf("description: got %s, want Kept", base.Description)
	}
}

func TestConfigServe(t *testing.T) {
	cfg := openapi.Config{}
	if err := cfg.Finalize(nil); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if !cfg.Enabled() {
		t.Error("document should be served by default")
	}
	if got := cfg.Server("/api"); got != "/api" {
		t.Errorf("server: got %s, want /api", got)
	}

	t.Setenv("TEST_SERVE", "false")
	t.Setenv("TEST_SERVER_URL", "https://compass.example.com/")
	env := &openapi.ConfigEnv{Serve: "TEST_SERVE", ServerURL: "TEST_SERVER_URL"}
	if err := cfg.Finalize(env); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if cfg.Enabled() {
		t.Error("serve=false not applied")
	}
	if got := cfg.Server("/api"); got != "https://compass.example.com/api" {
		t.Errorf("server: got %s", got)
	}

	bad := openapi.Config{ServerURL: "compass.example.com"}
	if err := bad.Finalize(nil); err == nil {
		t.Error("expected error for relative server_url")
	}
}

func TestRequireBearer(t *testing.T) {
	spec := newSpec(t)
	spec.RequireBearer("https://login.example.com")

	data, err := openapi.MarshalJSON(spec)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var parsed struct {
		Security   []map[string][]string `json:"security"`
		Components struct {
			SecuritySchemes map[string]struct {
				Type   string `json:"type"`
				Scheme string `json:"scheme"`
			} `json:"securitySchemes"`
		} `json:"components"`
	}
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(parsed.Security) != 1 {
		t.Fatalf("security: got %v", parsed.Security)
	}
	if _, ok := parsed.Security[0]["bearer"]; !ok {
		t.Errorf("security requirement missing bearer: %v", parsed.Security)
	}
	if s := parsed.Components.SecuritySchemes["bearer"]; s.Type != "http" || s.Scheme != "bearer" {
		t.Errorf("scheme: got %+v", s)
	}
}
