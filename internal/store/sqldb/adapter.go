// Package sqldb is the dialect-agnostic SQL layer: statement formatting
// with named parameters, connection pooling and scoped transactions.
package sqldb

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"

	"github.com/qvarn/qvarn/internal/model"
)

// Dialect covers what differs between the embedded and the pooled server
// database.
type Dialect interface {
	// Name is the database/sql driver name, also used to pick sqlx bind vars.
	Name() string

	// ColumnType is the SQL type storing values of a scalar kind.
	ColumnType(k model.Kind) string

	// AlterColumnType returns the statement changing a column's type, or
	// false when the database cannot change column types.
	AlterColumnType(table, column string, k model.Kind) (string, bool)

	// OffsetOnly is the clause used for an offset without a limit.
	OffsetOnly(offset string) string

	// Reflect lists the live tables and their columns with declared types.
	Reflect(ctx context.Context, q Querier) (Catalog, error)

	// Migrate applies the static bootstrap migrations.
	Migrate(db *sql.DB) error

	// BatchVersions reports whether all schema versions may share one
	// transaction.
	BatchVersions() bool
}

// Querier runs a positional query. *sql.DB, *sql.Tx and their sqlx
// wrappers satisfy it.
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Catalog maps table name to column name to declared SQL type.
type Catalog map[string]map[string]string

// HasTable reports whether the catalog contains table.
func (c Catalog) HasTable(table string) bool {
	_, ok := c[table]
	return ok
}

// ColumnType returns the declared type of a column.
func (c Catalog) ColumnType(table, column string) (string, bool) {
	t, ok := c[table][column]
	return t, ok
}

// AddColumn records a column, creating the table entry if needed.
func (c Catalog) AddColumn(table, column, typ string) {
	if c[table] == nil {
		c[table] = map[string]string{}
	}
	c[table][column] = typ
}

// ColumnDef is one column of a CREATE TABLE.
type ColumnDef struct {
	Name string
	Kind model.Kind
}

// Quote returns name as a quoted identifier. Only letters, digits, '-' and
// '_' are accepted; '-' is stored as '_'.
func Quote(name string) (string, error) {
	if name == "" {
		return `""`, fmt.Errorf("quote: empty identifier")
	}
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
		default:
			return `""`, fmt.Errorf("quote: invalid identifier %q", name)
		}
	}
	return `"` + strings.ReplaceAll(name, "-", "_") + `"`, nil
}

// Adapter formats statements for one dialect. Every Format method returns
// the statement with :name placeholders and the parameter map to bind.
type Adapter struct {
	Dialect Dialect
}

// FormatCreateTable returns an idempotent CREATE TABLE.
func (a Adapter) FormatCreateTable(table string, columns []ColumnDef) (string, error) {
	b := NewBuilder()
	defs := make([]string, len(columns))
	for i, c := range columns {
		defs[i] = b.Quote(c.Name) + " " + a.Dialect.ColumnType(c.Kind)
	}
	stmt := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", b.Quote(table), strings.Join(defs, ", "))
	return stmt, b.Err()
}

// FormatAddColumn returns an ALTER TABLE ... ADD COLUMN.
func (a Adapter) FormatAddColumn(table, column string, k model.Kind) (string, error) {
	b := NewBuilder()
	stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", b.Quote(table), b.Quote(column), a.Dialect.ColumnType(k))
	return stmt, b.Err()
}

// FormatRenameTable returns an ALTER TABLE ... RENAME TO.
func (a Adapter) FormatRenameTable(from, to string) (string, error) {
	b := NewBuilder()
	stmt := fmt.Sprintf("ALTER TABLE %s RENAME TO %s", b.Quote(from), b.Quote(to))
	return stmt, b.Err()
}

// FormatDropTable returns an idempotent DROP TABLE.
func (a Adapter) FormatDropTable(table string) (string, error) {
	b := NewBuilder()
	stmt := "DROP TABLE IF EXISTS " + b.Quote(table)
	return stmt, b.Err()
}

// FormatSelect returns a SELECT of columns from table filtered by cond and
// ordered by orderBy.
func (a Adapter) FormatSelect(table string, columns []string, cond Condition, orderBy ...string) (string, map[string]any, error) {
	b := NewBuilder()
	cols := make([]string, len(columns))
	for i, c := range columns {
		cols[i] = b.Quote(c)
	}
	stmt := fmt.Sprintf("SELECT %s FROM %s WHERE %s", strings.Join(cols, ", "), b.Quote(table), b.Where(cond))
	if len(orderBy) > 0 {
		keys := make([]string, len(orderBy))
		for i, c := range orderBy {
			keys[i] = b.Quote(c)
		}
		stmt += " ORDER BY " + strings.Join(keys, ", ")
	}
	return stmt, b.Params(), b.Err()
}

// FormatInsert returns an INSERT of values. Columns are emitted in sorted
// order.
func (a Adapter) FormatInsert(table string, values map[string]any) (string, map[string]any, error) {
	b := NewBuilder()
	names := sortedKeys(values)
	cols := make([]string, len(names))
	params := make([]string, len(names))
	for i, n := range names {
		cols[i] = b.Quote(n)
		params[i] = b.Bind(table, n, values[n])
	}
	stmt := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", b.Quote(table), strings.Join(cols, ", "), strings.Join(params, ", "))
	return stmt, b.Params(), b.Err()
}

// FormatUpdate returns an UPDATE setting values on rows matching cond.
func (a Adapter) FormatUpdate(table string, cond Condition, values map[string]any) (string, map[string]any, error) {
	b := NewBuilder()
	names := sortedKeys(values)
	sets := make([]string, len(names))
	for i, n := range names {
		sets[i] = b.Quote(n) + " = " + b.Bind(table, n, values[n])
	}
	stmt := fmt.Sprintf("UPDATE %s SET %s WHERE %s", b.Quote(table), strings.Join(sets, ", "), b.Where(cond))
	return stmt, b.Params(), b.Err()
}

// FormatDelete returns a DELETE of rows matching cond.
func (a Adapter) FormatDelete(table string, cond Condition) (string, map[string]any, error) {
	b := NewBuilder()
	stmt := fmt.Sprintf("DELETE FROM %s WHERE %s", b.Quote(table), b.Where(cond))
	return stmt, b.Params(), b.Err()
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
