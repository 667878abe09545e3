package schema

import (
	"sort"

	"github.com/qvarn/qvarn/internal/model"
)

// Key and positional column names shared by every derived table.
const (
	ColID               = "id"
	ColListPos          = "list_pos"
	ColDictListPos      = "dict_list_pos"
	ColInnerDictListPos = "inner_dict_list_pos"
	ColValue            = "value"
)

// TableKind is the structural position a table stores.
type TableKind int

const (
	Principal TableKind = iota
	StrList
	DictList
	DictListStrList
	InnerDictList
	InnerDictListStrList
)

// Column is one derived column. Field names the document field whose
// values the column stores; it is empty for key and positional columns.
type Column struct {
	Name  string
	Kind  model.Kind
	Field string
}

// Table is one derived table.
type Table struct {
	Name    string
	Coords  Coords
	Kind    TableKind
	Columns []Column
}

// Column looks up a column by name.
func (t Table) Column(name string) (Column, bool) {
	for _, c := range t.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// ColumnNames returns the names of all columns in order.
func (t Table) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

// Positional returns the table's position columns, outermost first.
func (t Table) Positional() []string {
	switch t.Kind {
	case StrList, DictList:
		return []string{ColListPos}
	case DictListStrList, InnerDictList:
		return []string{ColDictListPos, ColListPos}
	case InnerDictListStrList:
		return []string{ColDictListPos, ColInnerDictListPos, ColListPos}
	}
	return nil
}

// Schema is an ordered set of derived tables.
type Schema []Table

// Table looks up a table by name.
func (s Schema) Table(name string) (Table, bool) {
	for _, t := range s {
		if t.Name == name {
			return t, true
		}
	}
	return Table{}, false
}

// Principal returns the table holding one row per document.
func (s Schema) Principal() Table {
	for _, t := range s {
		if t.Kind == Principal {
			return t
		}
	}
	return Table{}
}

// FieldColumn is a (table, column) pair storing a document field.
type FieldColumn struct {
	Table  Table
	Column Column
}

// Resolve returns every column storing values of the named field, in
// schema order.
func (s Schema) Resolve(field string) []FieldColumn {
	var out []FieldColumn
	for _, t := range s {
		for _, c := range t.Columns {
			if c.Field == field {
				out = append(out, FieldColumn{Table: t, Column: c})
			}
		}
	}
	return out
}

// Derive computes the tables storing documents of proto. base carries the
// type and the optional sub-path or auxiliary qualifier; list coordinates
// are filled in per table. The walk runs over proto's template so each
// structural position is visited exactly once.
func Derive(proto *model.Prototype, base Coords) (Schema, error) {
	var out Schema
	add := func(c Coords, kind TableKind, cols []Column) error {
		name, err := TableName(c)
		if err != nil {
			return err
		}
		out = append(out, Table{Name: name, Coords: c, Kind: kind, Columns: cols})
		return nil
	}
	coords := func(f ...string) Coords {
		c := base
		c.ListField, c.SubdictListField, c.InnerDictListField = "", "", ""
		if len(f) > 0 {
			c.ListField = f[0]
		}
		if len(f) > 1 {
			c.SubdictListField = f[1]
		}
		if len(f) > 2 {
			c.InnerDictListField = f[2]
		}
		return c
	}

	err := Walk(proto, proto.Template(), Visitor{
		MainDict: func(_ map[string]any, fields []model.Field) error {
			cols := []Column{{Name: ColID, Kind: model.Text, Field: model.FieldID}}
			for _, f := range fields {
				if f.Name != ColID {
					cols = append(cols, scalarColumn(f))
				}
			}
			return add(coords(), Principal, cols)
		},
		MainStrList: func(_ map[string]any, f model.Field) error {
			return add(coords(f.Name), StrList, valueColumns(f, ColListPos))
		},
		MainDictList: func(_ map[string]any, f model.Field, fields []model.Field) error {
			return add(coords(f.Name), DictList, recordColumns(fields, ColListPos))
		},
		DictInListStrList: func(_ map[string]any, f model.Field, _ int, g model.Field) error {
			return add(coords(f.Name, g.Name), DictListStrList, valueColumns(g, ColDictListPos, ColListPos))
		},
		InnerDictList: func(_ map[string]any, f, h model.Field, fields []model.Field) error {
			return add(coords(f.Name, h.Name), InnerDictList, recordColumns(fields, ColDictListPos, ColListPos))
		},
		DictInInnerListStrList: func(_ map[string]any, f model.Field, _ int, h model.Field, _ int, k model.Field) error {
			return add(coords(f.Name, h.Name, k.Name), InnerDictListStrList,
				valueColumns(k, ColDictListPos, ColInnerDictListPos, ColListPos))
		},
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// DeriveVersion computes the tables of a resource type version: the
// top-level schema followed by one schema per sub-path in name order.
func DeriveVersion(typ string, v *model.Version) (Schema, error) {
	out, err := Derive(v.Prototype, Coords{Type: typ})
	if err != nil {
		return nil, err
	}
	subpaths := v.AllSubpaths()
	for _, name := range v.SubpathNames() {
		sub, err := Derive(subpaths[name], Coords{Type: typ, Subpath: name})
		if err != nil {
			return nil, err
		}
		out = append(out, sub...)
	}
	return out, nil
}

// DeriveSubpath computes the tables of one sub-path.
func DeriveSubpath(typ, subpath string, proto *model.Prototype) (Schema, error) {
	return Derive(proto, Coords{Type: typ, Subpath: subpath})
}

func scalarColumn(f model.Field) Column {
	return Column{Name: f.Name, Kind: f.Kind, Field: f.Name}
}

func positionColumns(positions []string) []Column {
	cols := []Column{{Name: ColID, Kind: model.Text}}
	for _, p := range positions {
		cols = append(cols, Column{Name: p, Kind: model.Integer})
	}
	return cols
}

func valueColumns(f model.Field, positions ...string) []Column {
	return append(positionColumns(positions), Column{Name: ColValue, Kind: f.Elem, Field: f.Name})
}

func recordColumns(fields []model.Field, positions ...string) []Column {
	cols := positionColumns(positions)
	sorted := append([]model.Field(nil), fields...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })
	for _, f := range sorted {
		cols = append(cols, scalarColumn(f))
	}
	return cols
}
