package model

import (
	"encoding/base64"
	"fmt"
	"sort"
)

// Fill adds every field of proto that item lacks: scalars become null and
// lists become empty. When proto declares a type field that item leaves
// absent or null, it is set to typ; a type given by the caller is kept so
// Validate can reject a mismatch. Records inside lists of records are
// filled recursively. item is modified in place.
func Fill(proto *Prototype, typ string, item Resource) {
	fill(proto, item)
	if typ != "" && proto.Has(FieldType) && item[FieldType] == nil {
		item[FieldType] = typ
	}
}

func fill(proto *Prototype, item map[string]any) {
	for _, f := range proto.Fields() {
		v, ok := item[f.Name]
		switch {
		case !ok && f.Kind.IsScalar():
			item[f.Name] = nil
		case !ok:
			item[f.Name] = []any{}
		case f.Kind == RecordList:
			list, _ := ListOf(v)
			for _, e := range list {
				if rec, ok := e.(map[string]any); ok {
					fill(f.Record, rec)
				}
			}
		}
	}
}

// Validate checks that item conforms to proto. When proto declares a type
// field, the item's type must equal typ.
func Validate(typ string, proto *Prototype, item any) error {
	doc, ok := item.(map[string]any)
	if !ok {
		return ErrNotAMapping("")
	}
	if proto.Has(FieldType) && typ != "" {
		got, present := doc[FieldType]
		if !present || got == nil {
			return ErrTypeFieldMissing(typ)
		}
		if s, _ := got.(string); s != typ {
			return ErrTypeFieldMismatch(typ, fmt.Sprint(got))
		}
	}
	return validateRecord(proto, doc, "")
}

func validateRecord(proto *Prototype, doc map[string]any, path string) error {
	var missing, unknown []string
	for _, name := range proto.Keys() {
		if _, ok := doc[name]; !ok {
			missing = append(missing, name)
		}
	}
	for name := range doc {
		if !proto.Has(name) {
			unknown = append(unknown, name)
		}
	}
	if len(missing) > 0 {
		return ErrMissingKeys(path, missing)
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return ErrUnknownKeys(path, unknown)
	}

	for _, f := range proto.Fields() {
		name := join(path, f.Name)
		v := doc[f.Name]
		switch f.Kind {
		case ScalarList:
			list, ok := ListOf(v)
			if !ok {
				return ErrWrongValueType(name, f.Kind)
			}
			for _, e := range list {
				if e == nil || !scalarConforms(f.Elem, e) {
					return ErrListElementWrongType(name, f.Elem)
				}
			}
		case RecordList:
			list, ok := ListOf(v)
			if !ok {
				return ErrWrongValueType(name, f.Kind)
			}
			for i, e := range list {
				rec, ok := e.(map[string]any)
				if !ok {
					return ErrListElementWrongType(name, f.Kind)
				}
				if err := validateRecord(f.Record, rec, fmt.Sprintf("%s[%d]", name, i)); err != nil {
					return err
				}
			}
		default:
			if v != nil && !scalarConforms(f.Kind, v) {
				return ErrWrongValueType(name, f.Kind)
			}
		}
	}
	return nil
}

func scalarConforms(k Kind, v any) bool {
	switch k {
	case Text:
		_, ok := v.(string)
		return ok
	case Integer:
		if _, isBytes := v.([]byte); isBytes {
			return false
		}
		_, ok := AsInt64(v)
		return ok
	case Boolean:
		_, ok := v.(bool)
		return ok
	case Bytes:
		switch x := v.(type) {
		case []byte:
			return true
		case string:
			_, err := base64.StdEncoding.DecodeString(x)
			return err == nil
		}
	}
	return false
}

// Normalize returns a copy of a validated item with values in canonical
// form: integers as int64, bytes as []byte, lists as []any.
func Normalize(proto *Prototype, item Resource) Resource {
	return normalizeRecord(proto, item)
}

func normalizeRecord(proto *Prototype, doc map[string]any) map[string]any {
	out := make(map[string]any, len(doc))
	for _, f := range proto.Fields() {
		v, ok := doc[f.Name]
		if !ok {
			continue
		}
		switch f.Kind {
		case ScalarList:
			list, _ := ListOf(v)
			elems := make([]any, len(list))
			for i, e := range list {
				elems[i] = normalizeScalar(f.Elem, e)
			}
			out[f.Name] = elems
		case RecordList:
			list, _ := ListOf(v)
			recs := make([]any, len(list))
			for i, e := range list {
				rec, _ := e.(map[string]any)
				recs[i] = normalizeRecord(f.Record, rec)
			}
			out[f.Name] = recs
		default:
			out[f.Name] = normalizeScalar(f.Kind, v)
		}
	}
	return out
}

func normalizeScalar(k Kind, v any) any {
	if v == nil {
		return nil
	}
	switch k {
	case Integer:
		n, _ := AsInt64(v)
		return n
	case Bytes:
		if s, ok := v.(string); ok {
			b, _ := base64.StdEncoding.DecodeString(s)
			return b
		}
	}
	return v
}

func join(path, name string) string {
	if path == "" {
		return name
	}
	return path + "." + name
}
