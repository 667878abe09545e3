package model

import (
	"sort"
	"strings"
)

// ResourceType is a named bundle of a URL path and an ordered schema
// history. Versions are ordered oldest first; the last one is current.
type ResourceType struct {
	Type     string
	Path     string
	Versions []Version
}

// Version is one entry of a resource type's schema history.
type Version struct {
	Name      string
	Prototype *Prototype
	Subpaths  map[string]*Prototype
	Files     []string

	// Validate, when set, runs after prototype validation on every POST
	// and PUT body handled under this version.
	Validate func(Resource) error
}

// FilePrototype is the stored shape of a file sub-resource.
var FilePrototype = MustPrototype(
	BytesField("body"),
	TextField("content_type"),
)

// Normalize checks names and version uniqueness and adds the type, id and
// revision fields to every top-level and sub-path prototype that lacks them.
func (rt *ResourceType) Normalize() error {
	if !ValidName(rt.Type) {
		return ErrInvalidResourceType("invalid type name %q", rt.Type)
	}
	if !strings.HasPrefix(rt.Path, "/") || !ValidName(strings.TrimPrefix(rt.Path, "/")) {
		return ErrInvalidResourceType("type %s: invalid path %q", rt.Type, rt.Path)
	}
	if len(rt.Versions) == 0 {
		return ErrInvalidResourceType("type %s has no versions", rt.Type)
	}
	seen := make(map[string]bool, len(rt.Versions))
	for i := range rt.Versions {
		v := &rt.Versions[i]
		if v.Name == "" || seen[v.Name] {
			return ErrInvalidResourceType("type %s: missing or duplicate version name %q", rt.Type, v.Name)
		}
		seen[v.Name] = true
		if v.Prototype == nil {
			return ErrInvalidResourceType("type %s version %s has no prototype", rt.Type, v.Name)
		}
		v.Prototype = v.Prototype.WithResourceFields()
		for name, p := range v.Subpaths {
			if !ValidName(name) || isReservedSubpath(name) {
				return ErrInvalidResourceType("type %s: invalid sub-path %q", rt.Type, name)
			}
			v.Subpaths[name] = p.WithResourceFields()
		}
		for _, name := range v.Files {
			if !ValidName(name) || isReservedSubpath(name) {
				return ErrInvalidResourceType("type %s: invalid file %q", rt.Type, name)
			}
			if _, dup := v.Subpaths[name]; dup {
				return ErrInvalidResourceType("type %s: %q is both a sub-path and a file", rt.Type, name)
			}
		}
	}
	return nil
}

// Sub-path names that would collide with fixed routes.
func isReservedSubpath(name string) bool {
	return name == "search" || name == "listeners"
}

// Current returns the newest version.
func (rt *ResourceType) Current() *Version {
	return &rt.Versions[len(rt.Versions)-1]
}

// Prototype returns the current top-level prototype.
func (rt *ResourceType) Prototype() *Prototype {
	return rt.Current().Prototype
}

// PathName returns the path without its leading slash.
func (rt *ResourceType) PathName() string {
	return strings.TrimPrefix(rt.Path, "/")
}

// AllSubpaths returns every sub-path of v with its stored prototype,
// files included.
func (v *Version) AllSubpaths() map[string]*Prototype {
	out := make(map[string]*Prototype, len(v.Subpaths)+len(v.Files))
	for name, p := range v.Subpaths {
		out[name] = p
	}
	for _, name := range v.Files {
		out[name] = FilePrototype
	}
	return out
}

// SubpathNames returns the names of every sub-path and file of v, sorted.
func (v *Version) SubpathNames() []string {
	names := make([]string, 0, len(v.Subpaths)+len(v.Files))
	for name := range v.AllSubpaths() {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IsFile reports whether name is a file sub-resource of v.
func (v *Version) IsFile(name string) bool {
	for _, f := range v.Files {
		if f == name {
			return true
		}
	}
	return false
}
