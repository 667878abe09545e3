package sqldb

import (
	"fmt"
	"strings"

	"github.com/qvarn/qvarn/internal/model"
)

// Comparison operators understood by Compare.
const (
	OpEq   = "="
	OpNe   = "<>"
	OpGt   = ">"
	OpGe   = ">="
	OpLt   = "<"
	OpLe   = "<="
	OpLike = "LIKE"
)

// Condition is a WHERE clause tree: Compare leaves joined by And and Or.
// A nil Condition matches every row.
type Condition interface {
	build(b *Builder) string
}

// Compare tests one column against a value. Text comparisons are case
// insensitive; a zero Kind compares exactly, which is how keys are matched.
type Compare struct {
	Op     string
	Table  string
	Column string
	Kind   model.Kind
	Value  any
}

// Equal is the common Compare with OpEq.
func Equal(table, column string, kind model.Kind, value any) Compare {
	return Compare{Op: OpEq, Table: table, Column: column, Kind: kind, Value: value}
}

// IDEqual matches rows of table whose id column equals id.
func IDEqual(table, id string) Compare {
	return Compare{Op: OpEq, Table: table, Column: "id", Value: id}
}

// KeyEqual matches a key column exactly.
func KeyEqual(table, column string, value any) Compare {
	return Compare{Op: OpEq, Table: table, Column: column, Value: value}
}

// And matches rows satisfying every condition.
type And []Condition

// Or matches rows satisfying at least one condition.
type Or []Condition

// IDIn matches rows of Table whose id is the id of some row of Sub
// satisfying Where.
type IDIn struct {
	Table string
	Sub   string
	Where Condition
}

func (c Compare) build(b *Builder) string {
	col := b.Column(c.Table, c.Column)
	param := ":" + b.param(c.Table, c.Column, c.Value)
	switch {
	case c.Op == OpLike:
		return fmt.Sprintf("LOWER(%s) LIKE LOWER(%s) ESCAPE '%c'", col, param, LikeEscape)
	case c.Kind == model.Text:
		return fmt.Sprintf("LOWER(%s) %s LOWER(%s)", col, c.Op, param)
	}
	return fmt.Sprintf("%s %s %s", col, c.Op, param)
}

// An empty And holds for every row and an empty Or for none.
func (c And) build(b *Builder) string { return join(b, c, " AND ", "1=1") }
func (c Or) build(b *Builder) string  { return join(b, c, " OR ", "1=0") }

func join(b *Builder, conds []Condition, sep, empty string) string {
	if len(conds) == 0 {
		return empty
	}
	parts := make([]string, 0, len(conds))
	for _, c := range conds {
		parts = append(parts, b.Where(c))
	}
	if len(parts) == 1 {
		return parts[0]
	}
	return "(" + strings.Join(parts, sep) + ")"
}

func (c IDIn) build(b *Builder) string {
	return fmt.Sprintf("%s IN (SELECT %s FROM %s WHERE %s)",
		b.Column(c.Table, "id"), b.Quote("id"), b.Quote(c.Sub), b.Where(c.Where))
}

// LikeEscape escapes wildcards in LIKE patterns built by LikePrefix and
// LikeContains.
const LikeEscape = '!'

var likeEscaper = strings.NewReplacer("!", "!!", "%", "!%", "_", "!_")

// LikePrefix returns a LIKE pattern matching strings starting with s.
func LikePrefix(s string) string {
	return likeEscaper.Replace(s) + "%"
}

// LikeContains returns a LIKE pattern matching strings containing s.
func LikeContains(s string) string {
	return "%" + likeEscaper.Replace(s) + "%"
}

// Builder renders conditions and accumulates their named parameters.
// Parameter names are derived from the (table, column) pair and a counter,
// so a statement may compare same-named columns of several tables.
type Builder struct {
	params map[string]any
	n      int
	err    error
}

// NewBuilder returns an empty builder.
func NewBuilder() *Builder {
	return &Builder{params: map[string]any{}}
}

// Where renders cond; a nil cond renders as a tautology.
func (b *Builder) Where(cond Condition) string {
	if cond == nil {
		return "1=1"
	}
	return cond.build(b)
}

// Params returns the parameters collected so far.
func (b *Builder) Params() map[string]any {
	return b.params
}

// Err returns the first quoting error met while rendering.
func (b *Builder) Err() error {
	return b.err
}

// Quote quotes an identifier, recording any error on b.
func (b *Builder) Quote(name string) string {
	q, err := Quote(name)
	if err != nil && b.err == nil {
		b.err = err
	}
	return q
}

// Column renders a table-qualified column reference.
func (b *Builder) Column(table, column string) string {
	if table == "" {
		return b.Quote(column)
	}
	return b.Quote(table) + "." + b.Quote(column)
}

// param binds value under a fresh name and returns the name.
func (b *Builder) param(table, column string, value any) string {
	name := fmt.Sprintf("%s_%s_%d", strings.ReplaceAll(table, "-", "_"), strings.ReplaceAll(column, "-", "_"), b.n)
	b.n++
	b.params[name] = value
	return name
}

// Bind binds value under a fresh name and returns its placeholder.
func (b *Builder) Bind(table, column string, value any) string {
	return ":" + b.param(table, column, value)
}
