package store

import (
	"context"
	"fmt"

	"github.com/qvarn/qvarn/internal/model"
	"github.com/qvarn/qvarn/internal/schema"
	"github.com/qvarn/qvarn/internal/store/sqldb"
)

// ListIDs returns the ids of all stored documents in id order.
func (s *Storage) ListIDs(ctx context.Context, tx *sqldb.Tx) ([]string, error) {
	principal := s.principal()
	rows, err := tx.Select(ctx, principal, []string{schema.ColID}, nil, schema.ColID)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", s.typ, err)
	}
	ids := make([]string, 0, len(rows))
	for _, r := range rows {
		if id, ok := sqldb.FromDB(model.Text, r[schema.ColID]).(string); ok {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// Revision returns the current revision of a document.
func (s *Storage) Revision(ctx context.Context, tx *sqldb.Tx, id string) (string, error) {
	principal := s.principal()
	rows, err := tx.Select(ctx, principal, []string{model.FieldRevision}, sqldb.IDEqual(principal, id))
	if err != nil {
		return "", fmt.Errorf("read %s: %w", s.typ, err)
	}
	if len(rows) == 0 {
		return "", model.ErrItemDoesNotExist(id)
	}
	rev, _ := sqldb.FromDB(model.Text, rows[0][model.FieldRevision]).(string)
	return rev, nil
}

// Get reassembles a stored document. When fields are given only those
// top-level fields and the id are read.
func (s *Storage) Get(ctx context.Context, tx *sqldb.Tx, id string, fields ...string) (model.Resource, error) {
	var show map[string]bool
	if len(fields) > 0 {
		show = map[string]bool{model.FieldID: true}
		for _, f := range fields {
			if !s.proto.Has(f) {
				return nil, model.ErrFieldNotInResource(f)
			}
			show[f] = true
		}
	}
	doc, found, err := read(ctx, tx, s.base, s.proto, id, show)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", s.typ, err)
	}
	if !found {
		return nil, model.ErrItemDoesNotExist(id)
	}
	return doc, nil
}

// GetSubitem reads the document of a sub-path. It carries the parent's
// id, type and current revision.
func (s *Storage) GetSubitem(ctx context.Context, tx *sqldb.Tx, id, name string) (model.Resource, error) {
	sp, err := s.subpath(name)
	if err != nil {
		return nil, err
	}
	rev, err := s.Revision(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	doc, found, err := read(ctx, tx, sp.base, sp.proto, id, nil)
	if err != nil {
		return nil, fmt.Errorf("read %s sub-path %s: %w", s.typ, name, err)
	}
	if !found {
		// The sub-path was introduced after the parent was written.
		doc = model.Resource{}
		model.Fill(sp.proto, "", doc)
	}
	for field, v := range map[string]string{model.FieldType: s.typ, model.FieldID: id, model.FieldRevision: rev} {
		if sp.proto.Has(field) {
			doc[field] = v
		}
	}
	return doc, nil
}

// read issues one SELECT per derived table, driven by the walk over the
// prototype's template, and reassembles the document in list order.
func read(ctx context.Context, tx *sqldb.Tx, base schema.Coords, proto *model.Prototype, id string, show map[string]bool) (model.Resource, bool, error) {
	want := func(name string) bool { return show == nil || show[name] }
	doc := model.Resource{}
	found := false

	err := schema.Walk(proto, proto.Template(), schema.Visitor{
		MainDict: func(_ map[string]any, fields []model.Field) error {
			table := tableAt(base)
			cols := []string{schema.ColID}
			for _, f := range fields {
				if f.Name != schema.ColID && want(f.Name) {
					cols = append(cols, f.Name)
				}
			}
			rows, err := tx.Select(ctx, table, cols, sqldb.IDEqual(table, id))
			if err != nil || len(rows) == 0 {
				return err
			}
			found = true
			for _, f := range fields {
				if f.Name != schema.ColID && want(f.Name) {
					doc[f.Name] = sqldb.FromDB(f.Kind, rows[0][f.Name])
				}
			}
			if proto.Has(model.FieldID) && want(model.FieldID) {
				doc[model.FieldID] = id
			}
			return nil
		},
		MainStrList: func(_ map[string]any, f model.Field) error {
			if !found || !want(f.Name) {
				return nil
			}
			table := tableAt(base, f.Name)
			rows, err := tx.Select(ctx, table, []string{schema.ColListPos, schema.ColValue},
				sqldb.IDEqual(table, id), schema.ColListPos)
			if err != nil {
				return err
			}
			values := make([]any, 0, len(rows))
			for _, r := range rows {
				values = append(values, sqldb.FromDB(f.Elem, r[schema.ColValue]))
			}
			doc[f.Name] = values
			return nil
		},
		MainDictList: func(_ map[string]any, f model.Field, fields []model.Field) error {
			if !found || !want(f.Name) {
				return nil
			}
			table := tableAt(base, f.Name)
			rows, err := tx.Select(ctx, table, append([]string{schema.ColListPos}, names(fields)...),
				sqldb.IDEqual(table, id), schema.ColListPos)
			if err != nil {
				return err
			}
			recs := make([]any, 0, len(rows))
			for _, r := range rows {
				recs = append(recs, record(f.Record, fields, r))
			}
			doc[f.Name] = recs
			return nil
		},
		DictInListStrList: func(_ map[string]any, f model.Field, _ int, g model.Field) error {
			if !found || !want(f.Name) {
				return nil
			}
			table := tableAt(base, f.Name, g.Name)
			rows, err := tx.Select(ctx, table, []string{schema.ColDictListPos, schema.ColListPos, schema.ColValue},
				sqldb.IDEqual(table, id), schema.ColDictListPos, schema.ColListPos)
			if err != nil {
				return err
			}
			for _, r := range rows {
				if rec := recordAt(doc[f.Name], r[schema.ColDictListPos]); rec != nil {
					rec[g.Name] = append(rec[g.Name].([]any), sqldb.FromDB(g.Elem, r[schema.ColValue]))
				}
			}
			return nil
		},
		InnerDictList: func(_ map[string]any, f, h model.Field, fields []model.Field) error {
			if !found || !want(f.Name) {
				return nil
			}
			table := tableAt(base, f.Name, h.Name)
			rows, err := tx.Select(ctx, table, append([]string{schema.ColDictListPos, schema.ColListPos}, names(fields)...),
				sqldb.IDEqual(table, id), schema.ColDictListPos, schema.ColListPos)
			if err != nil {
				return err
			}
			for _, r := range rows {
				if rec := recordAt(doc[f.Name], r[schema.ColDictListPos]); rec != nil {
					rec[h.Name] = append(rec[h.Name].([]any), record(h.Record, fields, r))
				}
			}
			return nil
		},
		DictInInnerListStrList: func(_ map[string]any, f model.Field, _ int, h model.Field, _ int, k model.Field) error {
			if !found || !want(f.Name) {
				return nil
			}
			table := tableAt(base, f.Name, h.Name, k.Name)
			rows, err := tx.Select(ctx, table,
				[]string{schema.ColDictListPos, schema.ColInnerDictListPos, schema.ColListPos, schema.ColValue},
				sqldb.IDEqual(table, id), schema.ColDictListPos, schema.ColInnerDictListPos, schema.ColListPos)
			if err != nil {
				return err
			}
			for _, r := range rows {
				outer := recordAt(doc[f.Name], r[schema.ColDictListPos])
				if outer == nil {
					continue
				}
				if inner := recordAt(outer[h.Name], r[schema.ColInnerDictListPos]); inner != nil {
					inner[k.Name] = append(inner[k.Name].([]any), sqldb.FromDB(k.Elem, r[schema.ColValue]))
				}
			}
			return nil
		},
	})
	if err != nil {
		return nil, false, err
	}
	return doc, found, nil
}

// record builds a record from a row: scalar fields converted from the row,
// list fields initialised empty for the nested handlers to fill.
func record(proto *model.Prototype, fields []model.Field, r map[string]any) map[string]any {
	rec := make(map[string]any, len(proto.Fields()))
	for _, f := range fields {
		rec[f.Name] = sqldb.FromDB(f.Kind, r[f.Name])
	}
	for _, f := range proto.Fields() {
		if !f.Kind.IsScalar() {
			rec[f.Name] = []any{}
		}
	}
	return rec
}

func recordAt(list any, pos any) map[string]any {
	recs, _ := list.([]any)
	i := sqldb.ToInt(pos)
	if i < 0 || i >= len(recs) {
		return nil
	}
	rec, _ := recs[i].(map[string]any)
	return rec
}

func names(fields []model.Field) []string {
	out := make([]string, len(fields))
	for i, f := range fields {
		out[i] = f.Name
	}
	return out
}
