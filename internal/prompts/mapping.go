package prompts

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/JaimeStill/compass/pkg/query"
	"github.com/JaimeStill/compass/pkg/repository"
)

var projection = query.
	NewProjectionMap("public", "prompts", "p").
	Project("id", "ID").
	Project("name", "Name").
	Project("stage", "Stage").
	Project("instructions", "Instructions").
	Project("description", "Description").
	Project("active", "Active").
	Project("created_at", "CreatedAt").
	Project("updated_at", "UpdatedAt")

const returning = "RETURNING id, name, stage, instructions, description, active, created_at, updated_at"

var defaultSort = query.SortField{Field: "Name"}

// Filters narrow a prompt listing. Stage and Active match exactly and Name
// is a case-insensitive substring.
type Filters struct {
	Stage  *Stage  `json:"stage,omitempty"`
	Name   *string `json:"name,omitempty"`
	Active *bool   `json:"active,omitempty"`
}

// Apply adds the filters to b.
func (f Filters) Apply(b *query.Builder) *query.Builder {
	return b.
		WhereEquals("Stage", f.Stage).
		WhereContains("Name", f.Name).
		WhereEquals("Active", f.Active)
}

// Matches reports whether p passes the filters.
func (f Filters) Matches(p *Prompt) bool {
	if f.Stage != nil && p.Stage != *f.Stage {
		return false
	}
	if f.Name != nil && !containsFold(p.Name, *f.Name) {
		return false
	}
	if f.Active != nil && p.Active != *f.Active {
		return false
	}
	return true
}

// FiltersFromQuery reads stage, name and active from values. An unknown
// stage yields ErrInvalidStage; an unparseable active flag is ignored.
func FiltersFromQuery(values url.Values) (Filters, error) {
	var f Filters

	if s := values.Get("stage"); s != "" {
		stage, err := ParseStage(s)
		if err != nil {
			return f, err
		}
		f.Stage = &stage
	}
	if n := values.Get("name"); n != "" {
		f.Name = &n
	}
	if a := values.Get("active"); a != "" {
		if v, err := strconv.ParseBool(a); err == nil {
			f.Active = &v
		}
	}
	return f, nil
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}

func scanPrompt(s repository.Scanner) (Prompt, error) {
	var p Prompt
	err := s.Scan(
		&p.ID,
		&p.Name,
		&p.Stage,
		&p.Instructions,
		&p.Description,
		&p.Active,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	return p, err
}
