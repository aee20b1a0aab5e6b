package query

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

// SortField is one ORDER BY term. Field is a view property name or a bare
// column name known to the projection.
type SortField struct {
	Field      string
	Descending bool
}

// ParseSortFields parses a comma-separated sort string such as
// "status,-created_at". A leading "-" sorts descending. Blank terms are
// skipped and empty input yields nil.
func ParseSortFields(s string) []SortField {
	var fields []SortField
	for part := range strings.SplitSeq(s, ",") {
		part = strings.TrimSpace(part)
		name, desc := strings.CutPrefix(part, "-")
		if name == "" {
			continue
		}
		fields = append(fields, SortField{Field: name, Descending: desc})
	}
	return fields
}

// term renders one condition. Placeholders are numbered as they are
// written, so conditions compose without renumbering.
type term func(w *writer)

type writer struct {
	sb   strings.Builder
	args []any
}

func (w *writer) text(s string) {
	w.sb.WriteString(s)
}

func (w *writer) arg(v any) {
	w.args = append(w.args, v)
	w.sb.WriteByte('$')
	w.sb.WriteString(strconv.Itoa(len(w.args)))
}

// Builder constructs SELECT statements over a ProjectionMap with
// positional parameters.
type Builder struct {
	projection  *ProjectionMap
	terms       []term
	sort        []SortField
	defaultSort []SortField
}

// NewBuilder creates a Builder for projection. defaultSort applies when no
// explicit order is set.
func NewBuilder(projection *ProjectionMap, defaultSort ...SortField) *Builder {
	return &Builder{
		projection:  projection,
		defaultSort: defaultSort,
	}
}

// OrderByFields sets the sort order, replacing the default. Fields the
// projection does not map are dropped; if none remain the default applies.
func (b *Builder) OrderByFields(fields []SortField) *Builder {
	b.sort = fields
	return b
}

// WhereEquals adds column = value. Nil values, including typed nil
// pointers, add nothing.
func (b *Builder) WhereEquals(field string, value any) *Builder {
	if isNil(value) {
		return b
	}
	return b.compare(field, " = ", value)
}

// WhereContains adds a case-insensitive substring match. Nil or empty
// values add nothing.
func (b *Builder) WhereContains(field string, value *string) *Builder {
	if value == nil || *value == "" {
		return b
	}
	return b.compare(field, " ILIKE ", "%"+*value+"%")
}

// WhereIn adds column IN (...). An empty list adds nothing.
func (b *Builder) WhereIn(field string, values []any) *Builder {
	if len(values) == 0 {
		return b
	}
	col := b.projection.Column(field)
	b.terms = append(b.terms, func(w *writer) {
		w.text(col + " IN (")
		for i, v := range values {
			if i > 0 {
				w.text(", ")
			}
			w.arg(v)
		}
		w.text(")")
	})
	return b
}

// WhereNullable adds column = value, or column IS NULL when value is nil.
func (b *Builder) WhereNullable(field string, value any) *Builder {
	if isNil(value) {
		col := b.projection.Column(field)
		b.terms = append(b.terms, func(w *writer) { w.text(col + " IS NULL") })
		return b
	}
	return b.compare(field, " = ", value)
}

// WhereRange bounds column to [from, to). Either bound may be nil.
func (b *Builder) WhereRange(field string, from, to any) *Builder {
	if !isNil(from) {
		b.compare(field, " >= ", from)
	}
	if !isNil(to) {
		b.compare(field, " < ", to)
	}
	return b
}

// WhereSearch adds a case-insensitive match of search against any of
// fields. Nil or empty search adds nothing.
func (b *Builder) WhereSearch(search *string, fields ...string) *Builder {
	if search == nil || *search == "" || len(fields) == 0 {
		return b
	}
	pattern := "%" + *search + "%"
	cols := make([]string, len(fields))
	for i, f := range fields {
		cols[i] = b.projection.Column(f)
	}
	b.terms = append(b.terms, func(w *writer) {
		w.text("(")
		for i, col := range cols {
			if i > 0 {
				w.text(" OR ")
			}
			w.text(col + " ILIKE ")
			w.arg(pattern)
		}
		w.text(")")
	})
	return b
}

func (b *Builder) compare(field, op string, value any) *Builder {
	col := b.projection.Column(field)
	b.terms = append(b.terms, func(w *writer) {
		w.text(col + op)
		w.arg(value)
	})
	return b
}

// Build returns the filtered, ordered SELECT.
func (b *Builder) Build() (string, []any) {
	w := b.selectFrom("SELECT " + b.projection.Columns())
	b.writeOrder(w)
	return w.sb.String(), w.args
}

// BuildCount returns SELECT COUNT(*) with the current conditions.
func (b *Builder) BuildCount() (string, []any) {
	w := b.selectFrom("SELECT COUNT(*)")
	return w.sb.String(), w.args
}

// BuildPage returns the ordered SELECT for a 1-indexed page.
func (b *Builder) BuildPage(page, pageSize int) (string, []any) {
	w := b.selectFrom("SELECT " + b.projection.Columns())
	b.writeOrder(w)
	fmt.Fprintf(&w.sb, " LIMIT %d OFFSET %d", pageSize, (page-1)*pageSize)
	return w.sb.String(), w.args
}

// BuildSingle returns a SELECT for the row whose idField equals id.
// Conditions already added are ignored.
func (b *Builder) BuildSingle(idField string, id any) (string, []any) {
	single := &Builder{projection: b.projection}
	return single.compare(idField, " = ", id).selectFrom("SELECT " + b.projection.Columns()).result()
}

// BuildSingleOrNull returns the filtered SELECT limited to one row.
func (b *Builder) BuildSingleOrNull() (string, []any) {
	w := b.selectFrom("SELECT " + b.projection.Columns())
	w.text(" LIMIT 1")
	return w.result()
}

func (w *writer) result() (string, []any) {
	return w.sb.String(), w.args
}

func (b *Builder) selectFrom(head string) *writer {
	w := &writer{}
	w.text(head)
	w.text(" FROM ")
	w.text(b.projection.From())
	for i, t := range b.terms {
		if i == 0 {
			w.text(" WHERE ")
		} else {
			w.text(" AND ")
		}
		t(w)
	}
	return w
}

func (b *Builder) writeOrder(w *writer) {
	terms := b.orderTerms(b.sort)
	if len(terms) == 0 {
		terms = b.orderTerms(b.defaultSort)
	}
	if len(terms) > 0 {
		w.text(" ORDER BY " + strings.Join(terms, ", "))
	}
}

func (b *Builder) orderTerms(fields []SortField) []string {
	var terms []string
	for _, f := range fields {
		col, ok := b.projection.Resolve(f.Field)
		if !ok {
			continue
		}
		if f.Descending {
			terms = append(terms, col+" DESC")
		} else {
			terms = append(terms, col+" ASC")
		}
	}
	return terms
}

func isNil(value any) bool {
	if value == nil {
		return true
	}
	switch v := reflect.ValueOf(value); v.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Chan, reflect.Func, reflect.Interface:
		return v.IsNil()
	}
	return false
}
