package sqldb

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jmoiron/sqlx"
)

const pingRetries = 5

// PoolOptions size the connection pool.
type PoolOptions struct {
	MinConn int
	MaxConn int
}

// DB is a pooled database handle bound to a dialect.
type DB struct {
	Adapter
	x *sqlx.DB
}

// Open connects to dsn with the dialect's driver, sizes the pool and waits
// for the database to answer a ping, retrying with exponential backoff.
func Open(ctx context.Context, d Dialect, dsn string, opts PoolOptions) (*DB, error) {
	x, err := sqlx.Open(d.Name(), dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if opts.MaxConn > 0 {
		x.SetMaxOpenConns(opts.MaxConn)
	}
	if opts.MinConn > 0 {
		x.SetMaxIdleConns(opts.MinConn)
	}
	x.SetConnMaxLifetime(5 * time.Minute)

	ping := func() error {
		err := x.PingContext(ctx)
		if err != nil {
			slog.Warn("database not ready", "driver", d.Name(), "err", err)
		}
		return err
	}
	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), pingRetries), ctx)
	if err := backoff.Retry(ping, bo); err != nil {
		x.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &DB{Adapter: Adapter{Dialect: d}, x: x}, nil
}

// New wraps an open *sql.DB. Tests use it with sqlmock.
func New(db *sql.DB, d Dialect) *DB {
	return &DB{Adapter: Adapter{Dialect: d}, x: sqlx.NewDb(db, d.Name())}
}

// SQL returns the underlying *sql.DB.
func (db *DB) SQL() *sql.DB {
	return db.x.DB
}

// Close closes the pool.
func (db *DB) Close() error {
	return db.x.Close()
}

// Migrate applies the dialect's bootstrap migrations.
func (db *DB) Migrate() error {
	if err := db.Dialect.Migrate(db.x.DB); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

// Begin starts a transaction on a pooled connection. The connection returns
// to the pool on Commit or Rollback.
func (db *DB) Begin(ctx context.Context) (*Tx, error) {
	tx, err := db.x.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	return &Tx{Adapter: db.Adapter, tx: tx, start: time.Now()}, nil
}

// RunInTransaction begins a transaction, calls fn, and commits on success
// or rolls back on error or panic.
func (db *DB) RunInTransaction(ctx context.Context, fn func(tx *Tx) error) (err error) {
	tx, err := db.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}
