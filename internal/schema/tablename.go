package schema

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/qvarn/qvarn/internal/model"
)

// Longest identifier PostgreSQL keeps without truncation.
const maxTableName = 63

// Coords locate a table in the structure of a resource type.
//
//	ListField only                       top-level list of scalars or records
//	ListField, SubdictListField          scalar list or record list inside a record of ListField
//	ListField, SubdictListField, InnerDictListField
//	                                     scalar list inside a record of an inner record list
type Coords struct {
	Type               string
	Subpath            string
	Aux                string
	ListField          string
	SubdictListField   string
	InnerDictListField string
}

// TableName encodes c as a table name:
//
//	type[__path_<subpath>][_<f1>[_<f2>[_<f3>]]]
//	type__aux_<aux>[_<f1>[_<f2>[_<f3>]]]
//
// Underscores inside names are written as "_5f", so a single "_" always
// separates structural levels and distinct coordinates never share a name.
func TableName(c Coords) (string, error) {
	if err := c.check(); err != nil {
		return "", err
	}
	var b strings.Builder
	b.WriteString(escape(c.Type))
	switch {
	case c.Aux != "":
		b.WriteString("__aux_")
		b.WriteString(escape(c.Aux))
	case c.Subpath != "":
		b.WriteString("__path_")
		b.WriteString(escape(c.Subpath))
	}
	for _, f := range []string{c.ListField, c.SubdictListField, c.InnerDictListField} {
		if f == "" {
			break
		}
		b.WriteByte('_')
		b.WriteString(escape(f))
	}
	return shorten(b.String()), nil
}

// MustTableName is TableName for coordinates known to be valid.
func MustTableName(c Coords) string {
	name, err := TableName(c)
	if err != nil {
		panic(err)
	}
	return name
}

func (c Coords) check() error {
	switch {
	case c.Type == "":
		return model.ErrInvalidTableCoordinates("table coordinates need a resource type")
	case c.Aux != "" && c.Subpath != "":
		return model.ErrInvalidTableCoordinates("auxiliary table %q cannot belong to sub-path %q", c.Aux, c.Subpath)
	case c.SubdictListField != "" && c.ListField == "":
		return model.ErrInvalidTableCoordinates("nested list %q without an outer list", c.SubdictListField)
	case c.InnerDictListField != "" && c.SubdictListField == "":
		return model.ErrInvalidTableCoordinates("inner list %q without a record list", c.InnerDictListField)
	}
	for _, name := range []string{c.Type, c.Subpath, c.Aux, c.ListField, c.SubdictListField, c.InnerDictListField} {
		if name != "" && !model.ValidName(name) {
			return model.ErrInvalidTableCoordinates("invalid name %q in table coordinates", name)
		}
	}
	return nil
}

func escape(name string) string {
	return strings.ReplaceAll(name, "_", "_5f")
}

func shorten(name string) string {
	if len(name) <= maxTableName {
		return name
	}
	sum := sha256.Sum256([]byte(name))
	return name[:46] + "__h" + hex.EncodeToString(sum[:])[:14]
}
