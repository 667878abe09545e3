package sqlite

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/qvarn/qvarn/internal/model"
	"github.com/qvarn/qvarn/internal/store/sqldb"
)

func openTestDB(t *testing.T) *sqldb.DB {
	t.Helper()
	db, err := Open(context.Background(), filepath.Join(t.TempDir(), "qvarn.db"), false, sqldb.PoolOptions{MaxConn: 2})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestOpen_MigratesRegistry(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	err := db.RunInTransaction(ctx, func(tx *sqldb.Tx) error {
		cat, err := tx.Reflect(ctx)
		if err != nil {
			return err
		}
		if !cat.HasTable("qvarn_resource_types") {
			t.Errorf("registry table missing from %v", cat)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("RunInTransaction: %v", err)
	}
}

func TestReflect_ColumnsAndTypes(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	err := db.RunInTransaction(ctx, func(tx *sqldb.Tx) error {
		if err := tx.CreateTable(ctx, "person", []sqldb.ColumnDef{
			{Name: "id", Kind: model.Text},
			{Name: "age", Kind: model.Integer},
		}); err != nil {
			return err
		}
		if err := tx.AddColumn(ctx, "person", "alive", model.Boolean); err != nil {
			return err
		}
		altered, err := tx.AlterColumnType(ctx, "person", "age", model.Text)
		if err != nil || altered {
			t.Errorf("AlterColumnType = %v, %v; want false, nil", altered, err)
		}

		cat, err := tx.Reflect(ctx)
		if err != nil {
			return err
		}
		for col, want := range map[string]string{"id": "TEXT", "age": "INTEGER", "alive": "BOOLEAN"} {
			if got, _ := cat.ColumnType("person", col); got != want {
				t.Errorf("person.%s type = %q, want %q", col, got, want)
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("RunInTransaction: %v", err)
	}
}

func TestRoundTripValues(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	err := db.RunInTransaction(ctx, func(tx *sqldb.Tx) error {
		if err := tx.CreateTable(ctx, "t", []sqldb.ColumnDef{
			{Name: "id", Kind: model.Text},
			{Name: "n", Kind: model.Integer},
			{Name: "b", Kind: model.Boolean},
			{Name: "raw", Kind: model.Bytes},
		}); err != nil {
			return err
		}
		if err := tx.Insert(ctx, "t", map[string]any{"id": "x", "n": int64(7), "b": true, "raw": []byte{0, 1}}); err != nil {
			return err
		}
		rows, err := tx.Select(ctx, "t", []string{"id", "n", "b", "raw"}, sqldb.IDEqual("t", "x"))
		if err != nil {
			return err
		}
		if len(rows) != 1 {
			t.Fatalf("rows = %v", rows)
		}
		r := rows[0]
		if sqldb.FromDB(model.Text, r["id"]) != "x" || sqldb.FromDB(model.Integer, r["n"]) != int64(7) ||
			sqldb.FromDB(model.Boolean, r["b"]) != true || string(sqldb.FromDB(model.Bytes, r["raw"]).([]byte)) != "\x00\x01" {
			t.Errorf("row = %#v", r)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("RunInTransaction: %v", err)
	}
}

func TestDSN(t *testing.T) {
	if got := DSN("/tmp/q.db", true); !strings.Contains(got, "mode=ro") || strings.Contains(got, "_txlock") {
		t.Errorf("read-only DSN = %q", got)
	}
	if got := DSN("/tmp/q.db", false); !strings.HasPrefix(got, "file:/tmp/q.db?") || !strings.Contains(got, "_txlock=immediate") {
		t.Errorf("DSN = %q", got)
	}
}

func TestOpen_NoFile(t *testing.T) {
	if _, err := Open(context.Background(), "", false, sqldb.PoolOptions{}); err == nil {
		t.Error("Open with empty path should fail")
	}
}
