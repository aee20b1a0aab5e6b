package query_test

import (
	"reflect"
	"testing"
	"time"

	"github.com/JaimeStill/compass/pkg/query"
)

func promptProjection() *query.ProjectionMap {
	return query.NewProjectionMap("public", "hitl_prompts", "p").
		Project("id", "ID").
		Project("workflow_id", "WorkflowID").
		Project("status", "Status").
		Project("created_at", "CreatedAt")
}

func ptr(s string) *string { return &s }

func TestProjection(t *testing.T) {
	p := promptProjection()

	if got, want := p.Table(), "public.hitl_prompts p"; got != want {
		t.Errorf("Table() = %q, want %q", got, want)
	}
	if got, want := p.Columns(), "p.id, p.workflow_id, p.status, p.created_at"; got != want {
		t.Errorf("Columns() = %q, want %q", got, want)
	}
	if got, want := p.Column("WorkflowID"), "p.workflow_id"; got != want {
		t.Errorf("Column(WorkflowID) = %q, want %q", got, want)
	}
	if got, want := p.Column("unmapped"), "unmapped"; got != want {
		t.Errorf("Column(unmapped) = %q, want %q", got, want)
	}

	for _, name := range []string{"CreatedAt", "created_at"} {
		if got, ok := p.Resolve(name); !ok || got != "p.created_at" {
			t.Errorf("Resolve(%q) = %q, %v", name, got, ok)
		}
	}
	if _, ok := p.Resolve("id; DROP TABLE workflows"); ok {
		t.Error("Resolve accepted an unmapped name")
	}
}

func TestProjectionJoin(t *testing.T) {
	p := query.NewProjectionMap("public", "hitl_prompts", "p").
		Project("id", "ID").
		Join("public", "workflows", "w", "JOIN", "w.id = p.workflow_id").
		Project("type", "WorkflowType")

	if got, want := p.From(), "public.hitl_prompts p JOIN public.workflows w ON w.id = p.workflow_id"; got != want {
		t.Errorf("From() = %q, want %q", got, want)
	}
	if got, want := p.Column("WorkflowType"), "w.type"; got != want {
		t.Errorf("Column(WorkflowType) = %q, want %q", got, want)
	}
}

func TestParseSortFields(t *testing.T) {
	tests := []struct {
		input string
		want  []query.SortField
	}{
		{"", nil},
		{"Status", []query.SortField{{Field: "Status"}}},
		{"-CreatedAt", []query.SortField{{Field: "CreatedAt", Descending: true}}},
		{" Status , -CreatedAt ,", []query.SortField{
			{Field: "Status"},
			{Field: "CreatedAt", Descending: true},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := query.ParseSortFields(tt.input)
			if len(got) == 0 && len(tt.want) == 0 {
				return
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ParseSortFields(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestBuilder(t *testing.T) {
	defaultSort := query.SortField{Field: "CreatedAt", Descending: true}
	var noStatus *string
	from := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 1, 0)

	tests := []struct {
		name     string
		build    func() (string, []any)
		wantSQL  string
		wantArgs []any
	}{
		{
			name: "default sort",
			build: func() (string, []any) {
				return query.NewBuilder(promptProjection(), defaultSort).Build()
			},
			wantSQL: "SELECT p.id, p.workflow_id, p.status, p.created_at FROM public.hitl_prompts p ORDER BY p.created_at DESC",
		},
		{
			name: "nil filter skipped",
			build: func() (string, []any) {
				return query.NewBuilder(promptProjection()).
					WhereEquals("Status", noStatus).
					Build()
			},
			wantSQL: "SELECT p.id, p.workflow_id, p.status, p.created_at FROM public.hitl_prompts p",
		},
		{
			name: "equals and search renumber params",
			build: func() (string, []any) {
				return query.NewBuilder(promptProjection(), defaultSort).
					WhereEquals("Status", ptr("pending")).
					WhereSearch(ptr("iter"), "Status", "WorkflowID").
					BuildCount()
			},
			wantSQL:  "SELECT COUNT(*) FROM public.hitl_prompts p WHERE p.status = $1 AND (p.status ILIKE $2 OR p.workflow_id ILIKE $3)",
			wantArgs: []any{ptr("pending"), "%iter%", "%iter%"},
		},
		{
			name: "page with explicit sort",
			build: func() (string, []any) {
				return query.NewBuilder(promptProjection(), defaultSort).
					WhereIn("Status", []any{"answered", "expired"}).
					OrderByFields([]query.SortField{{Field: "Status"}}).
					BuildPage(3, 10)
			},
			wantSQL:  "SELECT p.id, p.workflow_id, p.status, p.created_at FROM public.hitl_prompts p WHERE p.status IN ($1, $2) ORDER BY p.status ASC LIMIT 10 OFFSET 20",
			wantArgs: []any{"answered", "expired"},
		},
		{
			name: "nullable",
			build: func() (string, []any) {
				return query.NewBuilder(promptProjection()).
					WhereNullable("WorkflowID", nil).
					WhereContains("Status", ptr("pend")).
					BuildSingleOrNull()
			},
			wantSQL:  "SELECT p.id, p.workflow_id, p.status, p.created_at FROM public.hitl_prompts p WHERE p.workflow_id IS NULL AND p.status ILIKE $1 LIMIT 1",
			wantArgs: []any{"%pend%"},
		},
		{
			name: "unmapped sort dropped",
			build: func() (string, []any) {
				return query.NewBuilder(promptProjection(), defaultSort).
					OrderByFields(query.ParseSortFields("status;DELETE,-created_at,Status")).
					Build()
			},
			wantSQL: "SELECT p.id, p.workflow_id, p.status, p.created_at FROM public.hitl_prompts p ORDER BY p.created_at DESC, p.status ASC",
		},
		{
			name: "all unmapped falls back to default",
			build: func() (string, []any) {
				return query.NewBuilder(promptProjection(), defaultSort).
					OrderByFields([]query.SortField{{Field: "1"}}).
					Build()
			},
			wantSQL: "SELECT p.id, p.workflow_id, p.status, p.created_at FROM public.hitl_prompts p ORDER BY p.created_at DESC",
		},
		{
			name: "range",
			build: func() (string, []any) {
				var none *time.Time
				return query.NewBuilder(promptProjection()).
					WhereRange("CreatedAt", &from, none).
					WhereRange("CreatedAt", none, &to).
					BuildCount()
			},
			wantSQL:  "SELECT COUNT(*) FROM public.hitl_prompts p WHERE p.created_at >= $1 AND p.created_at < $2",
			wantArgs: []any{&from, &to},
		},
		{
			name: "single",
			build: func() (string, []any) {
				return query.NewBuilder(promptProjection()).BuildSingle("ID", 7)
			},
			wantSQL:  "SELECT p.id, p.workflow_id, p.status, p.created_at FROM public.hitl_prompts p WHERE p.id = $1",
			wantArgs: []any{7},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sql, args := tt.build()
			if sql != tt.wantSQL {
				t.Errorf("sql:\n got  %s\n want %s", sql, tt.wantSQL)
			}
			if len(args) != len(tt.wantArgs) {
				t.Fatalf("args: got %v, want %v", args, tt.wantArgs)
			}
			for i := range args {
				if !reflect.DeepEqual(args[i], tt.wantArgs[i]) {
					t.Errorf("args[%d]: got %v, want %v", i, args[i], tt.wantArgs[i])
				}
			}
		})
	}
}
