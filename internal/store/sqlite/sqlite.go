// Package sqlite is the embedded single-file dialect, backed by
// mattn/go-sqlite3.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"net/url"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/mattn/go-sqlite3"

	"github.com/qvarn/qvarn/internal/model"
	"github.com/qvarn/qvarn/internal/store/sqldb"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Dialect implements sqldb.Dialect for SQLite.
type Dialect struct{}

var _ sqldb.Dialect = Dialect{}

func (Dialect) Name() string { return "sqlite3" }

func (Dialect) ColumnType(k model.Kind) string {
	switch k {
	case model.Integer:
		return "INTEGER"
	case model.Boolean:
		return "BOOLEAN"
	case model.Bytes:
		return "BLOB"
	}
	return "TEXT"
}

// AlterColumnType is unsupported: SQLite has no ALTER COLUMN. Values keep
// their stored type and are converted on read.
func (Dialect) AlterColumnType(string, string, model.Kind) (string, bool) {
	return "", false
}

// OffsetOnly uses LIMIT -1, SQLite's spelling of "no limit".
func (Dialect) OffsetOnly(offset string) string { return "LIMIT -1 OFFSET " + offset }

// BatchVersions is false: each schema version gets its own transaction.
func (Dialect) BatchVersions() bool { return false }

// Reflect lists tables from sqlite_master and their columns from
// pragma_table_info.
func (Dialect) Reflect(ctx context.Context, q sqldb.Querier) (sqldb.Catalog, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%'`)
	if err != nil {
		return nil, fmt.Errorf("reflect tables: %w", err)
	}
	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return nil, fmt.Errorf("reflect tables: scan: %w", err)
		}
		tables = append(tables, name)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reflect tables: %w", err)
	}

	cat := sqldb.Catalog{}
	for _, table := range tables {
		if err := reflectColumns(ctx, q, cat, table); err != nil {
			return nil, err
		}
	}
	return cat, nil
}

func reflectColumns(ctx context.Context, q sqldb.Querier, cat sqldb.Catalog, table string) error {
	rows, err := q.QueryContext(ctx, `SELECT name, type FROM pragma_table_info(?)`, table)
	if err != nil {
		return fmt.Errorf("reflect columns of %s: %w", table, err)
	}
	defer rows.Close()
	cat[table] = map[string]string{}
	for rows.Next() {
		var name, typ string
		if err := rows.Scan(&name, &typ); err != nil {
			return fmt.Errorf("reflect columns of %s: scan: %w", table, err)
		}
		cat.AddColumn(table, name, strings.ToUpper(typ))
	}
	return rows.Err()
}

// Migrate applies the embedded bootstrap migrations.
func (Dialect) Migrate(db *sql.DB) error {
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	dbDriver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("create migration db driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", dbDriver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// DSN renders a go-sqlite3 connection string for path. Write transactions
// take the database lock on BEGIN so concurrent writers wait on the busy
// timeout instead of failing on lock upgrade.
func DSN(path string, readOnly bool) string {
	q := url.Values{}
	q.Set("_busy_timeout", "5000")
	if readOnly {
		q.Set("mode", "ro")
	} else {
		q.Set("_txlock", "immediate")
	}
	return "file:" + path + "?" + q.Encode()
}

// Open opens the database file and, unless read only, runs the bootstrap
// migrations.
func Open(ctx context.Context, path string, readOnly bool, pool sqldb.PoolOptions) (*sqldb.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite: no database file configured")
	}
	db, err := sqldb.Open(ctx, Dialect{}, DSN(path, readOnly), pool)
	if err != nil {
		return nil, err
	}
	if !readOnly {
		if err := db.Migrate(); err != nil {
			db.Close()
			return nil, err
		}
	}
	return db, nil
}
