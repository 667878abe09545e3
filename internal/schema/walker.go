// Package schema maps prototypes onto normalised relational tables: a
// single structural walker, the table-name encoder and the schema deriver.
package schema

import (
	"github.com/qvarn/qvarn/internal/model"
)

// Visitor holds one handler per structural position of a document. Nil
// handlers are skipped. Every consumer of the normalised form (schema
// derivation, writes, reads, deletes) is a Visitor driven by Walk.
type Visitor struct {
	// MainDict receives the top-level document and its scalar fields.
	MainDict func(item map[string]any, columns []model.Field) error

	// MainStrList receives each top-level list of scalars.
	MainStrList func(item map[string]any, field model.Field) error

	// MainDictList receives each top-level list of records.
	MainDictList func(item map[string]any, field model.Field, columns []model.Field) error

	// DictInList receives each record of a top-level list of records.
	DictInList func(rec map[string]any, field model.Field, index int, columns []model.Field) error

	// DictInListStrList receives each list of scalars inside such a record.
	DictInListStrList func(rec map[string]any, field model.Field, index int, inner model.Field) error

	// InnerDictList receives each list of records nested inside a
	// top-level list of records, once per (outer, inner) field pair.
	InnerDictList func(item map[string]any, outer, inner model.Field, columns []model.Field) error

	// DictInInnerList receives each record of an inner list of records.
	DictInInnerList func(rec map[string]any, outer model.Field, outerIndex int, inner model.Field, innerIndex int, columns []model.Field) error

	// DictInInnerListStrList receives each list of scalars inside an inner record.
	DictInInnerListStrList func(rec map[string]any, outer model.Field, outerIndex int, inner model.Field, innerIndex int, strField model.Field) error
}

// CheckDepth fails with TooDeeplyNestedPrototype when a list of records
// appears inside an inner list of records.
func CheckDepth(proto *model.Prototype) error {
	for _, outer := range proto.RecordLists() {
		for _, inner := range outer.Record.RecordLists() {
			if lists := inner.Record.RecordLists(); len(lists) > 0 {
				return model.ErrTooDeeplyNestedPrototype(lists[0].Name)
			}
		}
	}
	return nil
}

// Walk visits item according to proto. Scalars are reported in sorted
// field order, list elements in index order. Fields missing from item are
// treated as null scalars and empty lists.
func Walk(proto *model.Prototype, item map[string]any, v Visitor) error {
	if err := CheckDepth(proto); err != nil {
		return err
	}
	if v.MainDict != nil {
		if err := v.MainDict(item, proto.Scalars()); err != nil {
			return err
		}
	}
	for _, f := range proto.ScalarLists() {
		if v.MainStrList != nil {
			if err := v.MainStrList(item, f); err != nil {
				return err
			}
		}
	}
	for _, f := range proto.RecordLists() {
		if err := walkDictList(item, f, v); err != nil {
			return err
		}
	}
	return nil
}

func walkDictList(item map[string]any, f model.Field, v Visitor) error {
	if v.MainDictList != nil {
		if err := v.MainDictList(item, f, f.Record.Scalars()); err != nil {
			return err
		}
	}
	for _, h := range f.Record.RecordLists() {
		if v.InnerDictList != nil {
			if err := v.InnerDictList(item, f, h, h.Record.Scalars()); err != nil {
				return err
			}
		}
	}
	for i, rec := range Records(item[f.Name]) {
		if v.DictInList != nil {
			if err := v.DictInList(rec, f, i, f.Record.Scalars()); err != nil {
				return err
			}
		}
		for _, g := range f.Record.ScalarLists() {
			if v.DictInListStrList != nil {
				if err := v.DictInListStrList(rec, f, i, g); err != nil {
					return err
				}
			}
		}
		for _, h := range f.Record.RecordLists() {
			for j, inner := range Records(rec[h.Name]) {
				if v.DictInInnerList != nil {
					if err := v.DictInInnerList(inner, f, i, h, j, h.Record.Scalars()); err != nil {
						return err
					}
				}
				for _, k := range h.Record.ScalarLists() {
					if v.DictInInnerListStrList != nil {
						if err := v.DictInInnerListStrList(inner, f, i, h, j, k); err != nil {
							return err
						}
					}
				}
			}
		}
	}
	return nil
}

// Records returns the records of a list-of-records value, skipping
// anything that is not a record.
func Records(v any) []map[string]any {
	list, _ := model.ListOf(v)
	out := make([]map[string]any, 0, len(list))
	for _, e := range list {
		if rec, ok := e.(map[string]any); ok {
			out = append(out, rec)
		}
	}
	return out
}

// Scalars returns the elements of a list-of-scalars value.
func Scalars(v any) []any {
	list, _ := model.ListOf(v)
	return list
}
