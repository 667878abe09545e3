// Package typespec loads resource type definitions from YAML files.
//
// A file describes one type:
//
//	type: person
//	path: /persons
//	versions:
//	  - version: v1
//	    prototype:
//	      name: ""
//	      age: 0
//	      aliases: [""]
//	      portrait: !!binary ""
//	    subpaths:
//	      private:
//	        prototype:
//	          secret: ""
//	    files: [photo]
//
// Scalar kinds are taken from the YAML tags of the sentinel values.
package typespec

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/qvarn/qvarn/internal/model"
	"github.com/qvarn/qvarn/internal/schema"
)

type file struct {
	Type     string    `yaml:"type"`
	Path     string    `yaml:"path"`
	Versions []version `yaml:"versions"`
}

type version struct {
	Version   string             `yaml:"version"`
	Prototype yaml.Node          `yaml:"prototype"`
	Subpaths  map[string]subpath `yaml:"subpaths"`
	Files     []string           `yaml:"files"`
}

type subpath struct {
	Prototype yaml.Node `yaml:"prototype"`
}

// Load decodes one resource type.
func Load(r io.Reader) (*model.ResourceType, error) {
	var f file
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("decoding resource type: %w", err)
	}

	rt := &model.ResourceType{Type: f.Type, Path: f.Path}
	for _, v := range f.Versions {
		proto, err := prototype(&v.Prototype)
		if err != nil {
			return nil, fmt.Errorf("%s version %s: %w", f.Type, v.Version, err)
		}
		mv := model.Version{Name: v.Version, Prototype: proto, Files: v.Files}
		if len(v.Subpaths) > 0 {
			mv.Subpaths = make(map[string]*model.Prototype, len(v.Subpaths))
		}
		for name, sp := range v.Subpaths {
			p, err := prototype(&sp.Prototype)
			if err != nil {
				return nil, fmt.Errorf("%s version %s sub-path %s: %w", f.Type, v.Version, name, err)
			}
			mv.Subpaths[name] = p
		}
		rt.Versions = append(rt.Versions, mv)
	}
	if err := rt.Normalize(); err != nil {
		return nil, err
	}
	return rt, nil
}

// LoadFile decodes the resource type in path.
func LoadFile(path string) (*model.ResourceType, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	rt, err := Load(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return rt, nil
}

// LoadDir decodes every .yaml and .yml file in dir, ordered by type name.
// Type names and paths must be unique across the directory.
func LoadDir(dir string) ([]*model.ResourceType, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading spec directory: %w", err)
	}
	var types []*model.ResourceType
	byType := map[string]string{}
	byPath := map[string]string{}
	for _, e := range entries {
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if e.IsDir() || (ext != ".yaml" && ext != ".yml") {
			continue
		}
		path := filepath.Join(dir, e.Name())
		rt, err := LoadFile(path)
		if err != nil {
			return nil, err
		}
		if prev, dup := byType[rt.Type]; dup {
			return nil, fmt.Errorf("type %s defined in both %s and %s", rt.Type, prev, path)
		}
		if prev, dup := byPath[rt.Path]; dup {
			return nil, fmt.Errorf("path %s defined in both %s and %s", rt.Path, prev, path)
		}
		byType[rt.Type], byPath[rt.Path] = path, path
		types = append(types, rt)
	}
	sort.Slice(types, func(i, j int) bool { return types[i].Type < types[j].Type })
	return types, nil
}

func prototype(n *yaml.Node) (*model.Prototype, error) {
	if n.Kind == 0 {
		return nil, fmt.Errorf("missing prototype")
	}
	v, err := value(n)
	if err != nil {
		return nil, err
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("line %d: prototype must be a mapping", n.Line)
	}
	p, err := model.Parse(m)
	if err != nil {
		return nil, err
	}
	if err := schema.CheckDepth(p); err != nil {
		return nil, err
	}
	return p, nil
}

// value converts a node to the sentinel values model.Parse understands.
func value(n *yaml.Node) (any, error) {
	switch n.Kind {
	case yaml.DocumentNode:
		if len(n.Content) == 0 {
			return nil, fmt.Errorf("empty document")
		}
		return value(n.Content[0])
	case yaml.AliasNode:
		return value(n.Alias)
	case yaml.MappingNode:
		m := make(map[string]any, len(n.Content)/2)
		for i := 0; i+1 < len(n.Content); i += 2 {
			v, err := value(n.Content[i+1])
			if err != nil {
				return nil, err
			}
			m[n.Content[i].Value] = v
		}
		return m, nil
	case yaml.SequenceNode:
		list := make([]any, 0, len(n.Content))
		for _, c := range n.Content {
			v, err := value(c)
			if err != nil {
				return nil, err
			}
			list = append(list, v)
		}
		return list, nil
	case yaml.ScalarNode:
		switch n.ShortTag() {
		case "!!str":
			return "", nil
		case "!!int":
			return int64(0), nil
		case "!!bool":
			return false, nil
		case "!!binary":
			return []byte{}, nil
		}
		return nil, fmt.Errorf("line %d: unsupported value %q (%s)", n.Line, n.Value, n.ShortTag())
	}
	return nil, fmt.Errorf("line %d: unsupported node", n.Line)
}
