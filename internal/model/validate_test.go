package model

import (
	"encoding/json"
	"reflect"
	"strings"
	"testing"
)

func validPerson() Resource {
	return Resource{
		"type":     "person",
		"id":       nil,
		"revision": nil,
		"name":     "Bond",
		"age":      json.Number("42"),
		"alive":    true,
		"aliases":  []any{"007"},
		"cars": []any{map[string]any{
			"make":   "Aston Martin",
			"plates": []any{"BMT 216A"},
			"owners": []any{map[string]any{"name": "Q", "phones": []any{}}},
		}},
	}
}

func TestValidate_Valid(t *testing.T) {
	p := personPrototype(t)
	if err := Validate("person", p, validPerson()); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestValidate_Errors(t *testing.T) {
	p := personPrototype(t)

	tests := []struct {
		name   string
		mutate func(Resource) any
		code   string
		field  string
	}{
		{"not a mapping", func(Resource) any { return []any{} }, CodeNotAMapping, ""},
		{"missing key", func(r Resource) any { delete(r, "name"); return r }, CodeMissingKeys, ""},
		{"unknown key", func(r Resource) any { r["shoe"] = ""; return r }, CodeUnknownKeys, ""},
		{"type missing", func(r Resource) any { r["type"] = nil; return r }, CodeTypeFieldMissing, "type"},
		{"type mismatch", func(r Resource) any { r["type"] = "car"; return r }, CodeTypeFieldMismatch, "type"},
		{"text wrong type", func(r Resource) any { r["name"] = 1; return r }, CodeWrongValueType, "name"},
		{"integer wrong type", func(r Resource) any { r["age"] = "old"; return r }, CodeWrongValueType, "age"},
		{"fractional integer", func(r Resource) any { r["age"] = json.Number("1.5"); return r }, CodeWrongValueType, "age"},
		{"boolean wrong type", func(r Resource) any { r["alive"] = "yes"; return r }, CodeWrongValueType, "alive"},
		{"list not a list", func(r Resource) any { r["aliases"] = "007"; return r }, CodeWrongValueType, "aliases"},
		{"list null", func(r Resource) any { r["aliases"] = nil; return r }, CodeWrongValueType, "aliases"},
		{"list element", func(r Resource) any { r["aliases"] = []any{"007", 8}; return r }, CodeListElementWrongType, "aliases"},
		{"record not a map", func(r Resource) any { r["cars"] = []any{"car"}; return r }, CodeListElementWrongType, "cars"},
		{"nested missing key", func(r Resource) any {
			delete(r["cars"].([]any)[0].(map[string]any), "make")
			return r
		}, CodeMissingKeys, "cars[0]"},
		{"inner record scalar", func(r Resource) any {
			car := r["cars"].([]any)[0].(map[string]any)
			car["owners"].([]any)[0].(map[string]any)["name"] = false
			return r
		}, CodeWrongValueType, "cars[0].owners[0].name"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate("person", p, tt.mutate(validPerson()))
			e, ok := AsError(err)
			if !ok {
				t.Fatalf("Validate error = %v, want *Error", err)
			}
			if e.Code != tt.code {
				t.Errorf("code = %s, want %s (%v)", e.Code, tt.code, err)
			}
			if e.Status != 400 {
				t.Errorf("status = %d, want 400", e.Status)
			}
			if tt.field != "" && e.Context["field"] != tt.field {
				t.Errorf("field = %v, want %s", e.Context["field"], tt.field)
			}
		})
	}
}

func TestValidate_NullScalars(t *testing.T) {
	p := personPrototype(t)
	r := validPerson()
	r["name"], r["age"], r["alive"] = nil, nil, nil
	if err := Validate("person", p, r); err != nil {
		t.Errorf("null scalars should be valid: %v", err)
	}
}

func TestFill(t *testing.T) {
	p := personPrototype(t)
	r := Resource{
		"name": "Bond",
		"cars": []any{map[string]any{"make": "Aston Martin"}},
	}
	Fill(p, "person", r)

	if r["type"] != "person" {
		t.Errorf("type = %v, want person", r["type"])
	}
	if v, ok := r["age"]; !ok || v != nil {
		t.Errorf("age = %v, want null", v)
	}
	if l, ok := r["aliases"].([]any); !ok || len(l) != 0 {
		t.Errorf("aliases = %v, want empty list", r["aliases"])
	}
	car := r["cars"].([]any)[0].(map[string]any)
	if l, ok := car["owners"].([]any); !ok || len(l) != 0 {
		t.Errorf("cars[0].owners = %v, want empty list", car["owners"])
	}
	if err := Validate("person", p, r); err != nil {
		t.Errorf("filled item should validate: %v", err)
	}
}

func TestFill_TypeField(t *testing.T) {
	p := personPrototype(t)
	tests := []struct {
		name string
		typ  any
		want any
		code string
	}{
		{"absent", nil, "person", ""},
		{"matching", "person", "person", ""},
		{"other type kept", "car", "car", CodeTypeFieldMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := Resource{"name": "Bond"}
			if tt.typ != nil {
				r["type"] = tt.typ
			}
			Fill(p, "person", r)
			if r["type"] != tt.want {
				t.Fatalf("type = %v, want %v", r["type"], tt.want)
			}
			err := Validate("person", p, r)
			switch {
			case tt.code == "" && err != nil:
				t.Errorf("Validate() = %v, want nil", err)
			case tt.code != "" && !HasCode(err, tt.code):
				t.Errorf("Validate() = %v, want %s", err, tt.code)
			}
		})
	}
}

func TestNormalize(t *testing.T) {
	p := MustPrototype(IntegerField("n"), BytesField("b"), ListField("l", Integer), TextField("t"))
	got := Normalize(p, Resource{
		"n": json.Number("7"),
		"b": "aGVsbG8=",
		"l": []any{float64(1), json.Number("2")},
		"t": nil,
	})
	want := Resource{
		"n": int64(7),
		"b": []byte("hello"),
		"l": []any{int64(1), int64(2)},
		"t": nil,
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Normalize() = %#v, want %#v", got, want)
	}
}

func TestErrorBody(t *testing.T) {
	err := ErrWrongRevision("x", "r1", "r2")
	body := err.Body()
	if body["error_code"] != CodeWrongRevision {
		t.Errorf("error_code = %v", body["error_code"])
	}
	if body["current"] != "r1" || body["update"] != "r2" {
		t.Errorf("body = %v, want current and update revisions", body)
	}
	if !strings.Contains(err.Error(), "WrongRevision") {
		t.Errorf("Error() = %q", err.Error())
	}
	if err.Status != 409 {
		t.Errorf("status = %d, want 409", err.Status)
	}
}
