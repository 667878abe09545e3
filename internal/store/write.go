package store

import (
	"context"
	"fmt"

	"github.com/qvarn/qvarn/internal/model"
	"github.com/qvarn/qvarn/internal/schema"
	"github.com/qvarn/qvarn/internal/store/sqldb"
)

// Add stores a new document under a freshly minted id and revision and
// creates empty documents for every sub-path. item must not carry an id
// or a revision.
func (s *Storage) Add(ctx context.Context, tx *sqldb.Tx, item model.Resource) (model.Resource, error) {
	if id := model.ID(item); id != "" {
		return nil, model.ErrCannotAddWithID(id)
	}
	if rev := model.Revision(item); rev != "" {
		return nil, model.ErrCannotAddWithRevision(rev)
	}

	id, err := s.ids.NewID()
	if err != nil {
		return nil, err
	}
	rev, err := s.ids.NewRevision()
	if err != nil {
		return nil, err
	}

	doc := model.Copy(item)
	doc[model.FieldID] = id
	doc[model.FieldRevision] = rev
	if err := insert(ctx, tx, s.base, s.proto, id, doc, true); err != nil {
		return nil, fmt.Errorf("add %s: %w", s.typ, err)
	}

	for _, sp := range s.sortedSubpaths() {
		empty := model.Resource{}
		model.Fill(sp.proto, s.typ, empty)
		if sp.proto.Has(model.FieldRevision) {
			empty[model.FieldRevision] = rev
		}
		if err := insert(ctx, tx, sp.base, sp.proto, id, empty, true); err != nil {
			return nil, fmt.Errorf("add %s sub-path %s: %w", s.typ, sp.name, err)
		}
	}
	return doc, nil
}

// Update replaces a stored document. item's revision must be the stored
// one; the returned document carries the new revision.
func (s *Storage) Update(ctx context.Context, tx *sqldb.Tx, item model.Resource) (model.Resource, error) {
	id := model.ID(item)
	old := model.Revision(item)
	if old == "" {
		return nil, model.ErrNoItemRevision(id)
	}
	rev, err := s.ids.NewRevision()
	if err != nil {
		return nil, err
	}

	doc := model.Copy(item)
	doc[model.FieldRevision] = rev
	values := map[string]any{}
	for _, f := range s.proto.Scalars() {
		if f.Name != schema.ColID {
			values[f.Name] = doc[f.Name]
		}
	}
	if err := s.guard(ctx, tx, id, old, values); err != nil {
		return nil, err
	}

	for _, t := range s.tables {
		if t.Kind == schema.Principal {
			continue
		}
		if _, err := tx.Delete(ctx, t.Name, sqldb.IDEqual(t.Name, id)); err != nil {
			return nil, fmt.Errorf("update %s: %w", s.typ, err)
		}
	}
	if err := insert(ctx, tx, s.base, s.proto, id, doc, false); err != nil {
		return nil, fmt.Errorf("update %s: %w", s.typ, err)
	}
	return doc, nil
}

// UpdateSubitem replaces the document of a sub-path and bumps the parent's
// revision, which must equal old. It returns the new revision.
func (s *Storage) UpdateSubitem(ctx context.Context, tx *sqldb.Tx, id, old, name string, sub model.Resource) (string, error) {
	sp, err := s.subpath(name)
	if err != nil {
		return "", err
	}
	if old == "" {
		return "", model.ErrNoItemRevision(id)
	}
	rev, err := s.ids.NewRevision()
	if err != nil {
		return "", err
	}
	if err := s.guard(ctx, tx, id, old, map[string]any{model.FieldRevision: rev}); err != nil {
		return "", err
	}

	for _, t := range sp.tables {
		if _, err := tx.Delete(ctx, t.Name, sqldb.IDEqual(t.Name, id)); err != nil {
			return "", fmt.Errorf("update %s sub-path %s: %w", s.typ, name, err)
		}
	}
	doc := model.Copy(sub)
	if sp.proto.Has(model.FieldType) {
		doc[model.FieldType] = s.typ
	}
	if sp.proto.Has(model.FieldRevision) {
		doc[model.FieldRevision] = rev
	}
	if err := insert(ctx, tx, sp.base, sp.proto, id, doc, true); err != nil {
		return "", fmt.Errorf("update %s sub-path %s: %w", s.typ, name, err)
	}
	return rev, nil
}

// Delete removes a document from every table derived for the type,
// sub-paths included.
func (s *Storage) Delete(ctx context.Context, tx *sqldb.Tx, id string) error {
	principal := s.principal()
	n, err := tx.Delete(ctx, principal, sqldb.IDEqual(principal, id))
	if err != nil {
		return fmt.Errorf("delete %s: %w", s.typ, err)
	}
	if n == 0 {
		return model.ErrItemDoesNotExist(id)
	}

	tables := append(schema.Schema(nil), s.tables...)
	for _, sp := range s.sortedSubpaths() {
		tables = append(tables, sp.tables...)
	}
	for _, t := range tables {
		if t.Name == principal {
			continue
		}
		if _, err := tx.Delete(ctx, t.Name, sqldb.IDEqual(t.Name, id)); err != nil {
			return fmt.Errorf("delete %s: %w", s.typ, err)
		}
	}
	return nil
}

// guard sets values on the principal row of id only if its revision is
// still old. The conditional UPDATE is the concurrency control: of two
// writers starting from the same revision exactly one matches the row.
func (s *Storage) guard(ctx context.Context, tx *sqldb.Tx, id, old string, values map[string]any) error {
	principal := s.principal()
	n, err := tx.Update(ctx, principal,
		sqldb.And{sqldb.IDEqual(principal, id), sqldb.KeyEqual(principal, model.FieldRevision, old)},
		values)
	if err != nil {
		return fmt.Errorf("update %s: %w", s.typ, err)
	}
	if n > 0 {
		return nil
	}
	current, err := s.Revision(ctx, tx, id)
	if err != nil {
		return err
	}
	return model.ErrWrongRevision(id, current, old)
}

// insert writes doc under id into the tables at base. withMain controls
// whether the principal row is written too.
func insert(ctx context.Context, tx *sqldb.Tx, base schema.Coords, proto *model.Prototype, id string, doc map[string]any, withMain bool) error {
	return schema.Walk(proto, doc, schema.Visitor{
		MainDict: func(item map[string]any, fields []model.Field) error {
			if !withMain {
				return nil
			}
			return tx.Insert(ctx, tableAt(base), row(item, fields, map[string]any{schema.ColID: id}))
		},
		MainStrList: func(item map[string]any, f model.Field) error {
			for i, v := range schema.Scalars(item[f.Name]) {
				if err := tx.Insert(ctx, tableAt(base, f.Name), map[string]any{
					schema.ColID: id, schema.ColListPos: i, schema.ColValue: v,
				}); err != nil {
					return err
				}
			}
			return nil
		},
		DictInList: func(rec map[string]any, f model.Field, i int, fields []model.Field) error {
			return tx.Insert(ctx, tableAt(base, f.Name), row(rec, fields, map[string]any{
				schema.ColID: id, schema.ColListPos: i,
			}))
		},
		DictInListStrList: func(rec map[string]any, f model.Field, i int, g model.Field) error {
			for j, v := range schema.Scalars(rec[g.Name]) {
				if err := tx.Insert(ctx, tableAt(base, f.Name, g.Name), map[string]any{
					schema.ColID: id, schema.ColDictListPos: i, schema.ColListPos: j, schema.ColValue: v,
				}); err != nil {
					return err
				}
			}
			return nil
		},
		DictInInnerList: func(rec map[string]any, f model.Field, i int, h model.Field, j int, fields []model.Field) error {
			return tx.Insert(ctx, tableAt(base, f.Name, h.Name), row(rec, fields, map[string]any{
				schema.ColID: id, schema.ColDictListPos: i, schema.ColListPos: j,
			}))
		},
		DictInInnerListStrList: func(rec map[string]any, f model.Field, i int, h model.Field, j int, k model.Field) error {
			for n, v := range schema.Scalars(rec[k.Name]) {
				if err := tx.Insert(ctx, tableAt(base, f.Name, h.Name, k.Name), map[string]any{
					schema.ColID: id, schema.ColDictListPos: i, schema.ColInnerDictListPos: j,
					schema.ColListPos: n, schema.ColValue: v,
				}); err != nil {
					return err
				}
			}
			return nil
		},
	})
}

// row merges the scalar fields of rec into keys. A scalar named id never
// overrides the key column.
func row(rec map[string]any, fields []model.Field, keys map[string]any) map[string]any {
	for _, f := range fields {
		if _, isKey := keys[f.Name]; !isKey {
			keys[f.Name] = rec[f.Name]
		}
	}
	return keys
}
