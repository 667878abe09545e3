// Package postgres is the pooled server dialect, backed by lib/pq.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/lib/pq"

	"github.com/qvarn/qvarn/internal/model"
	"github.com/qvarn/qvarn/internal/store/sqldb"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Dialect implements sqldb.Dialect for PostgreSQL.
type Dialect struct{}

// Compile-time check that Dialect implements sqldb.Dialect.
var _ sqldb.Dialect = Dialect{}

func (Dialect) Name() string { return "postgres" }

func (Dialect) ColumnType(k model.Kind) string {
	switch k {
	case model.Integer:
		return "BIGINT"
	case model.Boolean:
		return "BOOLEAN"
	case model.Bytes:
		return "BYTEA"
	}
	return "TEXT"
}

// AlterColumnType casts existing values to the new type.
func (d Dialect) AlterColumnType(table, column string, k model.Kind) (string, bool) {
	typ := d.ColumnType(k)
	col := pq.QuoteIdentifier(column)
	return fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s TYPE %s USING %s::%s",
		pq.QuoteIdentifier(table), col, typ, col, typ), true
}

func (Dialect) OffsetOnly(offset string) string { return "OFFSET " + offset }

// BatchVersions is true: PostgreSQL has transactional DDL.
func (Dialect) BatchVersions() bool { return true }

const reflectQuery = `SELECT table_name, column_name, data_type
FROM information_schema.columns
WHERE table_schema = current_schema()`

// Reflect reads the current schema's columns from information_schema.
// Types are upper-cased to match ColumnType.
func (Dialect) Reflect(ctx context.Context, q sqldb.Querier) (sqldb.Catalog, error) {
	rows, err := q.QueryContext(ctx, reflectQuery)
	if err != nil {
		return nil, fmt.Errorf("reflect schema: %w", err)
	}
	defer rows.Close()

	cat := sqldb.Catalog{}
	for rows.Next() {
		var table, column, typ string
		if err := rows.Scan(&table, &column, &typ); err != nil {
			return nil, fmt.Errorf("reflect schema: scan: %w", err)
		}
		cat.AddColumn(table, column, strings.ToUpper(typ))
	}
	return cat, rows.Err()
}

// Migrate applies the embedded bootstrap migrations.
func (Dialect) Migrate(db *sql.DB) error {
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	dbDriver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create migration db driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "postgres", dbDriver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("apply migrations: %w", err)
	}

	return nil
}

// Options locate the server and database.
type Options struct {
	Host     string
	Port     int
	Name     string
	User     string
	Password string
	ReadOnly bool
}

// DSN renders o as a lib/pq connection URL. Read-only connections default
// every transaction to read only.
func DSN(o Options) string {
	u := url.URL{Scheme: "postgres", Path: "/" + o.Name}
	host := o.Host
	if host == "" {
		host = "localhost"
	}
	if o.Port != 0 {
		host += ":" + strconv.Itoa(o.Port)
	}
	u.Host = host
	switch {
	case o.User != "" && o.Password != "":
		u.User = url.UserPassword(o.User, o.Password)
	case o.User != "":
		u.User = url.User(o.User)
	}
	q := url.Values{}
	q.Set("sslmode", "disable")
	if o.ReadOnly {
		q.Set("default_transaction_read_only", "on")
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// Open connects, sizes the pool and, unless read only, runs the bootstrap
// migrations.
func Open(ctx context.Context, o Options, pool sqldb.PoolOptions) (*sqldb.DB, error) {
	db, err := sqldb.Open(ctx, Dialect{}, DSN(o), pool)
	if err != nil {
		return nil, err
	}
	if !o.ReadOnly {
		if err := db.Migrate(); err != nil {
			db.Close()
			return nil, err
		}
	}
	return db, nil
}
