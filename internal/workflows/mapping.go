package workflows

import (
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/JaimeStill/compass/pkg/query"
	"github.com/JaimeStill/compass/pkg/repository"
)

var projection = query.
	NewProjectionMap("public", "workflows", "w").
	Project("id", "ID").
	Project("type", "Type").
	Project("status", "Status").
	Project("current_step", "CurrentStep").
	Project("total_steps", "TotalSteps").
	Project("input", "Input").
	Project("checkpoint", "Checkpoint").
	Project("result", "Result").
	Project("error_kind", "ErrorKind").
	Project("error", "Error").
	Project("attempts", "Attempts").
	Project("created_at", "CreatedAt").
	Project("updated_at", "UpdatedAt")

var defaultSort = query.SortField{
	Field:      "CreatedAt",
	Descending: true,
}

// Filters contains optional filtering criteria for workflow queries.
type Filters struct {
	Status    *string `json:"status,omitempty"`
	Type      *string `json:"type,omitempty"`
	ErrorKind *string `json:"error_kind,omitempty"`

	// Creation window, inclusive of CreatedAfter and exclusive of CreatedBefore.
	CreatedAfter  *time.Time `json:"created_after,omitempty"`
	CreatedBefore *time.Time `json:"created_before,omitempty"`
}

// Apply adds filter conditions to a query builder.
func (f Filters) Apply(b *query.Builder) *query.Builder {
	return b.
		WhereEquals("Status", f.Status).
		WhereEquals("Type", f.Type).
		WhereEquals("ErrorKind", f.ErrorKind).
		WhereRange("CreatedAt", f.CreatedAfter, f.CreatedBefore)
}

// Matches reports whether inst satisfies the filters.
func (f Filters) Matches(inst *Instance) bool {
	if f.Status != nil && string(inst.Status) != *f.Status {
		return false
	}
	if f.Type != nil && inst.Type != *f.Type {
		return false
	}
	if f.ErrorKind != nil && string(inst.ErrorKind) != *f.ErrorKind {
		return false
	}
	if f.CreatedAfter != nil && inst.CreatedAt.Before(*f.CreatedAfter) {
		return false
	}
	if f.CreatedBefore != nil && !inst.CreatedAt.Before(*f.CreatedBefore) {
		return false
	}
	return true
}

// FiltersFromQuery extracts filter values from URL query parameters.
// Timestamps are RFC 3339; a malformed one wraps ErrInvalidInput.
func FiltersFromQuery(values url.Values) (Filters, error) {
	var f Filters

	if s := values.Get("status"); s != "" {
		f.Status = &s
	}
	if t := values.Get("type"); t != "" {
		f.Type = &t
	}
	if k := values.Get("error_kind"); k != "" {
		f.ErrorKind = &k
	}

	var err error
	if f.CreatedAfter, err = parseTime(values, "created_after"); err != nil {
		return f, err
	}
	if f.CreatedBefore, err = parseTime(values, "created_before"); err != nil {
		return f, err
	}

	return f, nil
}

func parseTime(values url.Values, key string) (*time.Time, error) {
	s := values.Get(key)
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil, fmt.Errorf("%w: %s must be RFC 3339", ErrInvalidInput, key)
	}
	return &t, nil
}

func scanInstance(s repository.Scanner) (Instance, error) {
	var (
		inst       Instance
		checkpoint []byte
		input      []byte
		result     []byte
		errorKind  *string
		errorText  *string
	)
	err := s.Scan(
		&inst.ID,
		&inst.Type,
		&inst.Status,
		&inst.CurrentStep,
		&inst.TotalSteps,
		&input,
		&checkpoint,
		&result,
		&errorKind,
		&errorText,
		&inst.Attempts,
		&inst.CreatedAt,
		&inst.UpdatedAt,
	)
	if err != nil {
		return inst, err
	}

	if len(input) > 0 {
		inst.Input = json.RawMessage(input)
	}
	if len(result) > 0 {
		inst.Result = json.RawMessage(result)
	}
	if len(checkpoint) > 0 {
		if err := json.Unmarshal(checkpoint, &inst.Checkpoint); err != nil {
			return inst, fmt.Errorf("decode checkpoint: %w", err)
		}
	}
	if errorKind != nil {
		inst.ErrorKind = ErrorKind(*errorKind)
	}
	if errorText != nil {
		inst.Error = *errorText
	}

	return inst, nil
}

// nullable returns nil for empty JSON so jsonb columns store NULL.
func nullable(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}

func nullString[T ~string](s T) any {
	if s == "" {
		return nil
	}
	return string(s)
}
