package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/qvarn/qvarn/internal/model"
	"github.com/qvarn/qvarn/internal/schema"
	"github.com/qvarn/qvarn/internal/store/sqldb"
)

// Migration moves data between the shapes of two versions. It runs inside
// the transaction that applied its version's schema delta, after the
// delta, so both the old and the new columns are present.
type Migration func(ctx context.Context, tx *sqldb.Tx) error

var (
	migrationsMu sync.RWMutex
	migrations   = map[string]map[string]Migration{}
)

// RegisterMigration registers fn to run when version of typ is applied.
func RegisterMigration(typ, version string, fn Migration) {
	migrationsMu.Lock()
	defer migrationsMu.Unlock()
	if migrations[typ] == nil {
		migrations[typ] = map[string]Migration{}
	}
	migrations[typ][version] = fn
}

func migrationFor(typ, version string) Migration {
	migrationsMu.RLock()
	defer migrationsMu.RUnlock()
	return migrations[typ][version]
}

const columnVersion = "version"

// VersionsTable names the table recording the applied versions of typ.
func VersionsTable(typ string) string {
	return schema.MustTableName(schema.Coords{Type: typ, Aux: model.AuxVersions})
}

// AuxTables returns the listener and notification tables of typ.
func AuxTables(typ string) (schema.Schema, error) {
	var out schema.Schema
	for _, aux := range []struct {
		name  string
		proto *model.Prototype
	}{
		{model.AuxListener, model.ListenerPrototype},
		{model.AuxNotification, model.NotificationPrototype},
	} {
		tables, err := schema.Derive(aux.proto, schema.Coords{Type: typ, Aux: aux.name})
		if err != nil {
			return nil, err
		}
		out = append(out, tables...)
	}
	return out, nil
}

// PrepareStorage brings the database up to every version of rt that has not
// been applied yet and records rt in the type registry. It is idempotent:
// tables and columns already present are left alone.
func PrepareStorage(ctx context.Context, db *sqldb.DB, rt *model.ResourceType) error {
	var applied []string
	apply := func(tx *sqldb.Tx, v *model.Version) error {
		ok, err := applyVersion(ctx, tx, rt.Type, v)
		if ok {
			applied = append(applied, v.Name)
		}
		return err
	}

	if db.Dialect.BatchVersions() {
		err := db.RunInTransaction(ctx, func(tx *sqldb.Tx) error {
			for i := range rt.Versions {
				if err := apply(tx, &rt.Versions[i]); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("prepare %s: %w", rt.Type, err)
		}
	} else {
		for i := range rt.Versions {
			err := db.RunInTransaction(ctx, func(tx *sqldb.Tx) error {
				return apply(tx, &rt.Versions[i])
			})
			if err != nil {
				return fmt.Errorf("prepare %s version %s: %w", rt.Type, rt.Versions[i].Name, err)
			}
		}
	}

	if err := db.RunInTransaction(ctx, func(tx *sqldb.Tx) error {
		return register(ctx, tx, rt)
	}); err != nil {
		return fmt.Errorf("register %s: %w", rt.Type, err)
	}

	slog.Info("storage-prepared", "type", rt.Type, "applied", applied, "latest", rt.Current().Name)
	return nil
}

// applyVersion reconciles the schema with v unless v is already recorded.
// It reports whether v was applied.
func applyVersion(ctx context.Context, tx *sqldb.Tx, typ string, v *model.Version) (bool, error) {
	cat, err := tx.Reflect(ctx)
	if err != nil {
		return false, err
	}
	versions := VersionsTable(typ)
	if !cat.HasTable(versions) {
		if err := tx.CreateTable(ctx, versions, []sqldb.ColumnDef{{Name: columnVersion, Kind: model.Text}}); err != nil {
			return false, err
		}
	} else {
		rows, err := tx.Select(ctx, versions, []string{columnVersion},
			sqldb.KeyEqual(versions, columnVersion, v.Name))
		if err != nil {
			return false, err
		}
		if len(rows) > 0 {
			return false, nil
		}
	}

	tables, err := schema.DeriveVersion(typ, v)
	if err != nil {
		return false, err
	}
	aux, err := AuxTables(typ)
	if err != nil {
		return false, err
	}
	if err := reconcile(ctx, tx, cat, append(tables, aux...)); err != nil {
		return false, err
	}

	if fn := migrationFor(typ, v.Name); fn != nil {
		if err := fn(ctx, tx); err != nil {
			return false, fmt.Errorf("migrate to %s: %w", v.Name, err)
		}
	}
	if err := tx.Insert(ctx, versions, map[string]any{columnVersion: v.Name}); err != nil {
		return false, err
	}
	return true, nil
}

// reconcile creates missing tables, adds missing columns and changes the
// type of columns whose kind changed.
func reconcile(ctx context.Context, tx *sqldb.Tx, cat sqldb.Catalog, tables schema.Schema) error {
	for _, t := range tables {
		if !cat.HasTable(t.Name) {
			defs := make([]sqldb.ColumnDef, len(t.Columns))
			for i, c := range t.Columns {
				defs[i] = sqldb.ColumnDef{Name: c.Name, Kind: c.Kind}
				cat.AddColumn(t.Name, c.Name, tx.Dialect.ColumnType(c.Kind))
			}
			if err := tx.CreateTable(ctx, t.Name, defs); err != nil {
				return err
			}
			continue
		}
		for _, c := range t.Columns {
			want := tx.Dialect.ColumnType(c.Kind)
			have, ok := cat.ColumnType(t.Name, c.Name)
			switch {
			case !ok:
				if err := tx.AddColumn(ctx, t.Name, c.Name, c.Kind); err != nil {
					return err
				}
				cat.AddColumn(t.Name, c.Name, want)
			case !strings.EqualFold(have, want):
				altered, err := tx.AlterColumnType(ctx, t.Name, c.Name, c.Kind)
				if err != nil {
					return err
				}
				if !altered {
					slog.Warn("column type unchanged", "table", t.Name, "column", c.Name, "have", have, "want", want)
					continue
				}
				cat.AddColumn(t.Name, c.Name, want)
			}
		}
	}
	return nil
}

const registryTable = "qvarn_resource_types"

func register(ctx context.Context, tx *sqldb.Tx, rt *model.ResourceType) error {
	spec, err := json.Marshal(rt.Describe())
	if err != nil {
		return err
	}
	b := sqldb.NewBuilder()
	stmt := fmt.Sprintf(
		"INSERT INTO %s (type, path, latest_version, spec, updated_at) VALUES (%s, %s, %s, %s, %s) "+
			"ON CONFLICT (type) DO UPDATE SET path = excluded.path, latest_version = excluded.latest_version, "+
			"spec = excluded.spec, updated_at = excluded.updated_at",
		b.Quote(registryTable),
		b.Bind(registryTable, "type", rt.Type),
		b.Bind(registryTable, "path", rt.Path),
		b.Bind(registryTable, "latest_version", rt.Current().Name),
		b.Bind(registryTable, "spec", string(spec)),
		b.Bind(registryTable, "updated_at", time.Now().Unix()),
	)
	if err := b.Err(); err != nil {
		return err
	}
	_, err = tx.Exec(ctx, "register "+rt.Type, stmt, b.Params())
	return err
}

// Registered reads back every resource type recorded in the registry,
// ordered by type.
func Registered(ctx context.Context, tx *sqldb.Tx) ([]*model.ResourceType, error) {
	rows, err := tx.Select(ctx, registryTable, []string{"type", "spec"}, nil, "type")
	if err != nil {
		return nil, fmt.Errorf("read registry: %w", err)
	}
	out := make([]*model.ResourceType, 0, len(rows))
	for _, r := range rows {
		raw, _ := sqldb.FromDB(model.Text, r["spec"]).(string)
		var m map[string]any
		if err := json.Unmarshal([]byte(raw), &m); err != nil {
			return nil, fmt.Errorf("decode registry entry %v: %w", r["type"], err)
		}
		rt, err := model.ParseDescribedType(m)
		if err != nil {
			return nil, err
		}
		out = append(out, rt)
	}
	return out, nil
}
