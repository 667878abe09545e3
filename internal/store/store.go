// Package store reads, writes, searches and migrates documents stored in
// the normalised tables derived from their prototypes.
package store

import (
	"fmt"
	"sort"

	"github.com/qvarn/qvarn/internal/idgen"
	"github.com/qvarn/qvarn/internal/model"
	"github.com/qvarn/qvarn/internal/schema"
)

// Storage stores the documents of one resource type, or of one of its
// auxiliary categories, at the type's current version. All methods take
// the transaction to run in so callers can compose several steps.
type Storage struct {
	typ      string
	base     schema.Coords
	proto    *model.Prototype
	tables   schema.Schema
	subpaths map[string]*subpath
	ids      idgen.Source
}

type subpath struct {
	name   string
	base   schema.Coords
	proto  *model.Prototype
	tables schema.Schema
}

// New returns the storage of rt's current version.
func New(rt *model.ResourceType, ids idgen.Source) (*Storage, error) {
	v := rt.Current()
	s, err := newStorage(rt.Type, schema.Coords{Type: rt.Type}, v.Prototype, ids)
	if err != nil {
		return nil, err
	}
	for name, proto := range v.AllSubpaths() {
		base := schema.Coords{Type: rt.Type, Subpath: name}
		tables, err := schema.Derive(proto, base)
		if err != nil {
			return nil, fmt.Errorf("derive sub-path %s of %s: %w", name, rt.Type, err)
		}
		s.subpaths[name] = &subpath{name: name, base: base, proto: proto, tables: tables}
	}
	return s, nil
}

// NewAux returns the storage of an auxiliary category of typ, such as its
// listeners.
func NewAux(typ, aux string, proto *model.Prototype, ids idgen.Source) (*Storage, error) {
	return newStorage(typ, schema.Coords{Type: typ, Aux: aux}, proto, ids)
}

func newStorage(typ string, base schema.Coords, proto *model.Prototype, ids idgen.Source) (*Storage, error) {
	tables, err := schema.Derive(proto, base)
	if err != nil {
		return nil, fmt.Errorf("derive %s: %w", typ, err)
	}
	return &Storage{
		typ:      typ,
		base:     base,
		proto:    proto,
		tables:   tables,
		subpaths: map[string]*subpath{},
		ids:      ids,
	}, nil
}

// Type returns the resource type name.
func (s *Storage) Type() string { return s.typ }

// Prototype returns the stored prototype.
func (s *Storage) Prototype() *model.Prototype { return s.proto }

// Schema returns the top-level tables.
func (s *Storage) Schema() schema.Schema { return s.tables }

// SubpathPrototype returns the prototype of a sub-path.
func (s *Storage) SubpathPrototype(name string) (*model.Prototype, bool) {
	sp, ok := s.subpaths[name]
	if !ok {
		return nil, false
	}
	return sp.proto, true
}

func (s *Storage) principal() string {
	return s.tables.Principal().Name
}

func (s *Storage) subpath(name string) (*subpath, error) {
	sp, ok := s.subpaths[name]
	if !ok {
		return nil, model.ErrNoSuchSubpath(name)
	}
	return sp, nil
}

func (s *Storage) sortedSubpaths() []*subpath {
	out := make([]*subpath, 0, len(s.subpaths))
	for _, sp := range s.subpaths {
		out = append(out, sp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out
}

// tableAt names the table at base qualified by list fields. Coordinates
// come from a prototype whose names were validated when it was derived.
func tableAt(base schema.Coords, fields ...string) string {
	c := base
	if len(fields) > 0 {
		c.ListField = fields[0]
	}
	if len(fields) > 1 {
		c.SubdictListField = fields[1]
	}
	if len(fields) > 2 {
		c.InnerDictListField = fields[2]
	}
	return schema.MustTableName(c)
}
