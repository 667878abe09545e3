package model

import "fmt"

// Describe renders p with kind names in place of sentinel values, so it
// survives a JSON round trip that would turn bytes sentinels into strings:
// {"name": "text", "aliases": ["text"], "cars": [{"plate": "text"}]}.
func (p *Prototype) Describe() map[string]any {
	out := make(map[string]any, len(p.fields))
	for _, f := range p.fields {
		switch f.Kind {
		case ScalarList:
			out[f.Name] = []any{f.Elem.String()}
		case RecordList:
			out[f.Name] = []any{f.Record.Describe()}
		default:
			out[f.Name] = f.Kind.String()
		}
	}
	return out
}

// ParseDescribed is the inverse of Describe.
func ParseDescribed(m map[string]any) (*Prototype, error) {
	return parseDescribed(m, false)
}

func parseDescribed(m map[string]any, record bool) (*Prototype, error) {
	fields := make([]Field, 0, len(m))
	for name, v := range m {
		switch x := v.(type) {
		case string:
			k, err := kindNamed(name, x)
			if err != nil {
				return nil, err
			}
			fields = append(fields, Field{Name: name, Kind: k})
		case []any:
			if len(x) != 1 {
				return nil, ErrUnknownFieldType(name, v)
			}
			switch elem := x[0].(type) {
			case string:
				k, err := kindNamed(name, elem)
				if err != nil {
					return nil, err
				}
				fields = append(fields, ListField(name, k))
			case map[string]any:
				rec, err := parseDescribed(elem, true)
				if err != nil {
					return nil, err
				}
				fields = append(fields, RecordListField(name, rec))
			default:
				return nil, ErrUnknownFieldType(name, v)
			}
		default:
			return nil, ErrUnknownFieldType(name, v)
		}
	}
	return newPrototype(fields, record)
}

func kindNamed(field, name string) (Kind, error) {
	for _, k := range []Kind{Text, Integer, Boolean, Bytes} {
		if k.String() == name {
			return k, nil
		}
	}
	return 0, ErrUnknownFieldType(field, name)
}

// Describe renders the resource type in the form stored in the type
// registry.
func (rt *ResourceType) Describe() map[string]any {
	versions := make([]any, 0, len(rt.Versions))
	for _, v := range rt.Versions {
		subpaths := make(map[string]any, len(v.Subpaths))
		for name, p := range v.Subpaths {
			subpaths[name] = p.Describe()
		}
		files := make([]any, len(v.Files))
		for i, f := range v.Files {
			files[i] = f
		}
		versions = append(versions, map[string]any{
			"version":   v.Name,
			"prototype": v.Prototype.Describe(),
			"subpaths":  subpaths,
			"files":     files,
		})
	}
	return map[string]any{"type": rt.Type, "path": rt.Path, "versions": versions}
}

// ParseDescribedType rebuilds a resource type from its registry form.
// Validation hooks are not part of the form and come back unset.
func ParseDescribedType(m map[string]any) (*ResourceType, error) {
	rt := &ResourceType{}
	rt.Type, _ = m["type"].(string)
	rt.Path, _ = m["path"].(string)
	versions, _ := m["versions"].([]any)
	for i, raw := range versions {
		vm, ok := raw.(map[string]any)
		if !ok {
			return nil, ErrInvalidResourceType("type %s: version %d is not an object", rt.Type, i)
		}
		v := Version{Subpaths: map[string]*Prototype{}}
		v.Name, _ = vm["version"].(string)
		proto, ok := vm["prototype"].(map[string]any)
		if !ok {
			return nil, ErrInvalidResourceType("type %s version %s: missing prototype", rt.Type, v.Name)
		}
		p, err := ParseDescribed(proto)
		if err != nil {
			return nil, fmt.Errorf("type %s version %s: %w", rt.Type, v.Name, err)
		}
		v.Prototype = p
		subs, _ := vm["subpaths"].(map[string]any)
		for name, sraw := range subs {
			sm, _ := sraw.(map[string]any)
			sp, err := ParseDescribed(sm)
			if err != nil {
				return nil, fmt.Errorf("type %s sub-path %s: %w", rt.Type, name, err)
			}
			v.Subpaths[name] = sp
		}
		files, _ := vm["files"].([]any)
		for _, f := range files {
			if name, ok := f.(string); ok {
				v.Files = append(v.Files, name)
			}
		}
		rt.Versions = append(rt.Versions, v)
	}
	if err := rt.Normalize(); err != nil {
		return nil, err
	}
	return rt, nil
}
