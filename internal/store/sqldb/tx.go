package sqldb

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/qvarn/qvarn/internal/model"
)

// Tx is a unit of work on one pooled connection. Every step is timed and a
// single sql-transaction record is logged when the transaction ends.
type Tx struct {
	Adapter
	tx    *sqlx.Tx
	start time.Time
	steps []step
	done  bool
}

type step struct {
	name string
	dur  time.Duration
}

func (tx *Tx) measure(name string, started time.Time) {
	tx.steps = append(tx.steps, step{name: name, dur: time.Since(started)})
}

// Commit commits the transaction and logs it.
func (tx *Tx) Commit() error {
	if tx.done {
		return nil
	}
	tx.done = true
	err := tx.tx.Commit()
	outcome := "commit"
	if err != nil {
		outcome = "commit-failed"
	}
	tx.log(outcome, err)
	if err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Rollback aborts the transaction and logs it. It is a no-op after Commit.
func (tx *Tx) Rollback() error {
	if tx.done {
		return nil
	}
	tx.done = true
	err := tx.tx.Rollback()
	tx.log("rollback", err)
	return err
}

func (tx *Tx) log(outcome string, err error) {
	stepMS := make([]int64, len(tx.steps))
	names := make([]string, len(tx.steps))
	for i, s := range tx.steps {
		stepMS[i] = s.dur.Milliseconds()
		names[i] = s.name
	}
	attrs := []any{
		"outcome", outcome,
		"steps", names,
		"step_ms", stepMS,
		"duration_ms", time.Since(tx.start).Milliseconds(),
	}
	if err != nil {
		attrs = append(attrs, "err", err)
	}
	slog.Info("sql-transaction", attrs...)
}

// Exec runs a statement. A non-nil params map is bound to the statement's
// :name placeholders; DDL is passed through untouched.
func (tx *Tx) Exec(ctx context.Context, name, stmt string, params map[string]any) (sql.Result, error) {
	defer tx.measure(name, time.Now())

	query, args := stmt, []any(nil)
	if params != nil {
		var err error
		query, args, err = tx.tx.BindNamed(stmt, params)
		if err != nil {
			return nil, fmt.Errorf("%s: bind: %w", name, err)
		}
	}
	res, err := tx.tx.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return res, nil
}

// Query runs a statement and returns every row as a column-to-value map.
func (tx *Tx) Query(ctx context.Context, name, stmt string, params map[string]any) ([]map[string]any, error) {
	defer tx.measure(name, time.Now())

	query, args, err := tx.tx.BindNamed(stmt, nonNil(params))
	if err != nil {
		return nil, fmt.Errorf("%s: bind: %w", name, err)
	}
	rows, err := tx.tx.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	defer rows.Close()

	var out []map[string]any
	for rows.Next() {
		row := make(map[string]any)
		if err := rows.MapScan(row); err != nil {
			return nil, fmt.Errorf("%s: scan: %w", name, err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return out, nil
}

// Select reads columns of the rows of table matching cond.
func (tx *Tx) Select(ctx context.Context, table string, columns []string, cond Condition, orderBy ...string) ([]map[string]any, error) {
	stmt, params, err := tx.FormatSelect(table, columns, cond, orderBy...)
	if err != nil {
		return nil, err
	}
	return tx.Query(ctx, "select "+table, stmt, params)
}

// Insert adds one row.
func (tx *Tx) Insert(ctx context.Context, table string, values map[string]any) error {
	stmt, params, err := tx.FormatInsert(table, values)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, "insert "+table, stmt, params)
	return err
}

// Update sets values on rows matching cond and returns the number of rows
// affected.
func (tx *Tx) Update(ctx context.Context, table string, cond Condition, values map[string]any) (int64, error) {
	stmt, params, err := tx.FormatUpdate(table, cond, values)
	if err != nil {
		return 0, err
	}
	res, err := tx.Exec(ctx, "update "+table, stmt, params)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Delete removes rows matching cond and returns how many were removed.
func (tx *Tx) Delete(ctx context.Context, table string, cond Condition) (int64, error) {
	stmt, params, err := tx.FormatDelete(table, cond)
	if err != nil {
		return 0, err
	}
	res, err := tx.Exec(ctx, "delete "+table, stmt, params)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// CreateTable creates table unless it exists.
func (tx *Tx) CreateTable(ctx context.Context, table string, columns []ColumnDef) error {
	stmt, err := tx.FormatCreateTable(table, columns)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, "create "+table, stmt, nil)
	return err
}

// AddColumn adds a column to table.
func (tx *Tx) AddColumn(ctx context.Context, table, column string, k model.Kind) error {
	stmt, err := tx.FormatAddColumn(table, column, k)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, "add-column "+table, stmt, nil)
	return err
}

// AlterColumnType changes a column's type. It reports false without error
// when the dialect cannot alter column types.
func (tx *Tx) AlterColumnType(ctx context.Context, table, column string, k model.Kind) (bool, error) {
	stmt, ok := tx.Dialect.AlterColumnType(table, column, k)
	if !ok {
		return false, nil
	}
	if _, err := tx.Exec(ctx, "alter-column "+table, stmt, nil); err != nil {
		return false, err
	}
	return true, nil
}

// RenameTable renames a table.
func (tx *Tx) RenameTable(ctx context.Context, from, to string) error {
	stmt, err := tx.FormatRenameTable(from, to)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, "rename "+from, stmt, nil)
	return err
}

// DropTable drops a table if it exists.
func (tx *Tx) DropTable(ctx context.Context, table string) error {
	stmt, err := tx.FormatDropTable(table)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, "drop "+table, stmt, nil)
	return err
}

// Reflect reads the live catalog through this transaction.
func (tx *Tx) Reflect(ctx context.Context) (Catalog, error) {
	defer tx.measure("reflect", time.Now())
	return tx.Dialect.Reflect(ctx, tx.tx)
}

func nonNil(params map[string]any) map[string]any {
	if params == nil {
		return map[string]any{}
	}
	return params
}
