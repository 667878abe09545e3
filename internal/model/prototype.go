package model

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"sort"
)

// Kind identifies the shape of a prototype field.
type Kind uint8

const (
	Text Kind = iota + 1
	Integer
	Boolean
	Bytes
	ScalarList
	RecordList
)

func (k Kind) String() string {
	switch k {
	case Text:
		return "text"
	case Integer:
		return "integer"
	case Boolean:
		return "boolean"
	case Bytes:
		return "bytes"
	case ScalarList:
		return "scalar-list"
	case RecordList:
		return "record-list"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Describe returns a human readable phrase used in validation messages.
func (k Kind) Describe() string {
	switch k {
	case Text:
		return "a string or null"
	case Integer:
		return "an integer or null"
	case Boolean:
		return "a boolean or null"
	case Bytes:
		return "binary data or null"
	case ScalarList:
		return "a list of scalars"
	case RecordList:
		return "a list of objects"
	}
	return k.String()
}

// IsScalar reports whether k is one of the four scalar kinds.
func (k Kind) IsScalar() bool {
	return k >= Text && k <= Bytes
}

// Field is one named position of a prototype.
type Field struct {
	Name   string
	Kind   Kind
	Elem   Kind       // element kind when Kind is ScalarList
	Record *Prototype // element prototype when Kind is RecordList
}

// TextField, IntegerField, BooleanField and BytesField build scalar fields.
func TextField(name string) Field    { return Field{Name: name, Kind: Text} }
func IntegerField(name string) Field { return Field{Name: name, Kind: Integer} }
func BooleanField(name string) Field { return Field{Name: name, Kind: Boolean} }
func BytesField(name string) Field   { return Field{Name: name, Kind: Bytes} }

// ListField builds a list-of-scalars field.
func ListField(name string, elem Kind) Field {
	return Field{Name: name, Kind: ScalarList, Elem: elem}
}

// RecordListField builds a list-of-records field.
func RecordListField(name string, record *Prototype) Field {
	return Field{Name: name, Kind: RecordList, Record: record}
}

// Prototype is the declarative shape of a document: an ordered set of
// uniquely named fields. Fields are kept sorted by name.
type Prototype struct {
	fields []Field
	index  map[string]int
}

// Fields that every top-level and sub-path document carries.
const (
	FieldType     = "type"
	FieldID       = "id"
	FieldRevision = "revision"
)

// Names used as key or positional columns inside record tables.
var reservedRecordFields = map[string]bool{
	"id":                  true,
	"list_pos":            true,
	"dict_list_pos":       true,
	"inner_dict_list_pos": true,
}

var nameRE = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)

// ValidName reports whether s can be used as a field, type, sub-path or
// file name.
func ValidName(s string) bool {
	return nameRE.MatchString(s)
}

// NewPrototype builds a top-level prototype from fields.
func NewPrototype(fields ...Field) (*Prototype, error) {
	return newPrototype(fields, false)
}

// NewRecordPrototype builds the element prototype of a list of records.
func NewRecordPrototype(fields ...Field) (*Prototype, error) {
	return newPrototype(fields, true)
}

// MustPrototype is NewPrototype that panics on error. It is meant for
// package-level prototypes.
func MustPrototype(fields ...Field) *Prototype {
	p, err := NewPrototype(fields...)
	if err != nil {
		panic(err)
	}
	return p
}

func newPrototype(fields []Field, record bool) (*Prototype, error) {
	p := &Prototype{fields: make([]Field, 0, len(fields)), index: make(map[string]int, len(fields))}
	for _, f := range fields {
		if !ValidName(f.Name) {
			return nil, ErrInvalidFieldName(f.Name)
		}
		if record && reservedRecordFields[f.Name] {
			return nil, ErrReservedFieldName(f.Name)
		}
		if _, dup := p.index[f.Name]; dup {
			return nil, ErrInvalidFieldName(f.Name)
		}
		switch {
		case f.Kind.IsScalar():
		case f.Kind == ScalarList && f.Elem.IsScalar():
		case f.Kind == RecordList && f.Record != nil:
		default:
			return nil, ErrUnknownFieldType(f.Name, f.Kind.String())
		}
		p.index[f.Name] = 0
		p.fields = append(p.fields, f)
	}
	sort.Slice(p.fields, func(i, j int) bool { return p.fields[i].Name < p.fields[j].Name })
	for i, f := range p.fields {
		p.index[f.Name] = i
	}
	return p, nil
}

// Parse builds a prototype from a decoded JSON-like value: "" is text, any
// integer is integer, any bool is boolean, []byte is bytes, a one-element
// list is a list of that element's shape.
func Parse(m map[string]any) (*Prototype, error) {
	return parse(m, false)
}

// MustParse is Parse that panics on error.
func MustParse(m map[string]any) *Prototype {
	p, err := Parse(m)
	if err != nil {
		panic(err)
	}
	return p
}

func parse(m map[string]any, record bool) (*Prototype, error) {
	fields := make([]Field, 0, len(m))
	for name, v := range m {
		f, err := parseField(name, v)
		if err != nil {
			return nil, err
		}
		fields = append(fields, f)
	}
	return newPrototype(fields, record)
}

func parseField(name string, v any) (Field, error) {
	if k, ok := scalarKindOf(v); ok {
		return Field{Name: name, Kind: k}, nil
	}
	list, ok := v.([]any)
	if !ok || len(list) != 1 {
		return Field{}, ErrUnknownFieldType(name, v)
	}
	if k, ok := scalarKindOf(list[0]); ok {
		return ListField(name, k), nil
	}
	if sub, ok := list[0].(map[string]any); ok {
		rec, err := parse(sub, true)
		if err != nil {
			return Field{}, err
		}
		return RecordListField(name, rec), nil
	}
	return Field{}, ErrUnknownFieldType(name, v)
}

func scalarKindOf(v any) (Kind, bool) {
	switch x := v.(type) {
	case string:
		return Text, true
	case bool:
		return Boolean, true
	case []byte:
		return Bytes, true
	case int, int32, int64:
		return Integer, true
	case json.Number:
		if _, err := x.Int64(); err == nil {
			return Integer, true
		}
	case float64:
		if x == math.Trunc(x) {
			return Integer, true
		}
	}
	return 0, false
}

// Fields returns the fields sorted by name.
func (p *Prototype) Fields() []Field {
	return p.fields
}

// Field looks up a field by name.
func (p *Prototype) Field(name string) (Field, bool) {
	i, ok := p.index[name]
	if !ok {
		return Field{}, false
	}
	return p.fields[i], true
}

// Has reports whether the prototype declares name.
func (p *Prototype) Has(name string) bool {
	_, ok := p.index[name]
	return ok
}

// Keys returns the field names in sorted order.
func (p *Prototype) Keys() []string {
	keys := make([]string, len(p.fields))
	for i, f := range p.fields {
		keys[i] = f.Name
	}
	return keys
}

// Scalars returns the scalar fields in sorted order.
func (p *Prototype) Scalars() []Field {
	return p.filter(func(f Field) bool { return f.Kind.IsScalar() })
}

// ScalarLists returns the list-of-scalars fields in sorted order.
func (p *Prototype) ScalarLists() []Field {
	return p.filter(func(f Field) bool { return f.Kind == ScalarList })
}

// RecordLists returns the list-of-records fields in sorted order.
func (p *Prototype) RecordLists() []Field {
	return p.filter(func(f Field) bool { return f.Kind == RecordList })
}

func (p *Prototype) filter(keep func(Field) bool) []Field {
	var out []Field
	for _, f := range p.fields {
		if keep(f) {
			out = append(out, f)
		}
	}
	return out
}

// WithFields returns a prototype that additionally declares each of extra
// that p does not already declare.
func (p *Prototype) WithFields(extra ...Field) *Prototype {
	fields := append([]Field(nil), p.fields...)
	for _, f := range extra {
		if !p.Has(f.Name) {
			fields = append(fields, f)
		}
	}
	out, err := NewPrototype(fields...)
	if err != nil {
		// extra fields are fixed, valid names.
		panic(err)
	}
	return out
}

// WithResourceFields adds the type, id and revision text fields.
func (p *Prototype) WithResourceFields() *Prototype {
	return p.WithFields(TextField(FieldType), TextField(FieldID), TextField(FieldRevision))
}

// Template returns a document shaped exactly like the prototype: scalars
// hold their zero sentinel and every list holds exactly one element.
func (p *Prototype) Template() Resource {
	doc := make(Resource, len(p.fields))
	for _, f := range p.fields {
		switch f.Kind {
		case ScalarList:
			doc[f.Name] = []any{zeroValue(f.Elem)}
		case RecordList:
			doc[f.Name] = []any{map[string]any(f.Record.Template())}
		default:
			doc[f.Name] = zeroValue(f.Kind)
		}
	}
	return doc
}

// Value renders the prototype in its sentinel form, the inverse of Parse.
func (p *Prototype) Value() map[string]any {
	return map[string]any(p.Template())
}

// Equal reports whether two prototypes declare the same fields.
func (p *Prototype) Equal(o *Prototype) bool {
	if len(p.fields) != len(o.fields) {
		return false
	}
	for i, f := range p.fields {
		g := o.fields[i]
		if f.Name != g.Name || f.Kind != g.Kind || f.Elem != g.Elem {
			return false
		}
		if f.Kind == RecordList && !f.Record.Equal(g.Record) {
			return false
		}
	}
	return true
}

func zeroValue(k Kind) any {
	switch k {
	case Text:
		return ""
	case Integer:
		return int64(0)
	case Boolean:
		return false
	case Bytes:
		return []byte{}
	}
	return nil
}
