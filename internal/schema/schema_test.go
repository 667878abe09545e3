package schema

import (
	"fmt"
	"reflect"
	"strings"
	"testing"

	"github.com/qvarn/qvarn/internal/model"
)

func carsPrototype() *model.Prototype {
	owner := model.MustParse(map[string]any{"phones": []any{""}})
	return model.MustParse(map[string]any{
		"type":     "",
		"id":       "",
		"revision": "",
		"name":     "",
		"aliases":  []any{""},
		"cars": []any{map[string]any{
			"make":   "",
			"plates": []any{""},
			"owners": []any{map[string]any{
				"name":   "",
				"phones": []any{""},
			}},
		}},
	}).WithFields(model.ListField("unused", model.Integer)).WithFields(model.RecordListField("extra", owner))
}

func TestWalk_Order(t *testing.T) {
	proto := model.MustParse(map[string]any{
		"b": "",
		"a": 0,
		"l": []any{""},
		"r": []any{map[string]any{
			"x":  "",
			"xs": []any{""},
			"in": []any{map[string]any{"y": "", "ys": []any{""}}},
		}},
	})
	doc := map[string]any{
		"a": 1, "b": "b", "l": []any{"l0"},
		"r": []any{
			map[string]any{"x": "r0", "xs": []any{}, "in": []any{map[string]any{"y": "i00", "ys": []any{}}}},
			map[string]any{"x": "r1", "xs": []any{"s"}, "in": []any{}},
		},
	}

	var calls []string
	err := Walk(proto, doc, Visitor{
		MainDict: func(_ map[string]any, cols []model.Field) error {
			var names []string
			for _, c := range cols {
				names = append(names, c.Name)
			}
			calls = append(calls, "main:"+strings.Join(names, ","))
			return nil
		},
		MainStrList: func(_ map[string]any, f model.Field) error {
			calls = append(calls, "strlist:"+f.Name)
			return nil
		},
		MainDictList: func(_ map[string]any, f model.Field, _ []model.Field) error {
			calls = append(calls, "dictlist:"+f.Name)
			return nil
		},
		DictInList: func(rec map[string]any, f model.Field, i int, _ []model.Field) error {
			calls = append(calls, fmt.Sprintf("dict:%s[%d]=%v", f.Name, i, rec["x"]))
			return nil
		},
		DictInListStrList: func(_ map[string]any, f model.Field, i int, g model.Field) error {
			calls = append(calls, fmt.Sprintf("dictstr:%s[%d].%s", f.Name, i, g.Name))
			return nil
		},
		InnerDictList: func(_ map[string]any, f, h model.Field, _ []model.Field) error {
			calls = append(calls, "inner:"+f.Name+"."+h.Name)
			return nil
		},
		DictInInnerList: func(rec map[string]any, f model.Field, i int, h model.Field, j int, _ []model.Field) error {
			calls = append(calls, fmt.Sprintf("innerdict:%s[%d].%s[%d]=%v", f.Name, i, h.Name, j, rec["y"]))
			return nil
		},
		DictInInnerListStrList: func(_ map[string]any, f model.Field, i int, h model.Field, j int, k model.Field) error {
			calls = append(calls, fmt.Sprintf("innerstr:%s[%d].%s[%d].%s", f.Name, i, h.Name, j, k.Name))
			return nil
		},
	})
	if err != nil {
		t.Fatalf("Walk: %v", err)
	}

	want := []string{
		"main:a,b",
		"strlist:l",
		"dictlist:r",
		"inner:r.in",
		"dict:r[0]=r0",
		"dictstr:r[0].xs",
		"innerdict:r[0].in[0]=i00",
		"innerstr:r[0].in[0].ys",
		"dict:r[1]=r1",
		"dictstr:r[1].xs",
	}
	if !reflect.DeepEqual(calls, want) {
		t.Errorf("calls:\n got %v\nwant %v", calls, want)
	}
}

func TestWalk_TooDeep(t *testing.T) {
	proto := model.MustParse(map[string]any{
		"a": []any{map[string]any{
			"b": []any{map[string]any{
				"c": []any{map[string]any{"d": ""}},
			}},
		}},
	})
	err := Walk(proto, map[string]any{}, Visitor{})
	if !model.HasCode(err, model.CodeTooDeeplyNestedPrototype) {
		t.Errorf("Walk error = %v, want TooDeeplyNestedPrototype", err)
	}
	if _, err := Derive(proto, Coords{Type: "x"}); !model.HasCode(err, model.CodeTooDeeplyNestedPrototype) {
		t.Errorf("Derive error = %v, want TooDeeplyNestedPrototype", err)
	}
}

func TestWalk_StopsOnError(t *testing.T) {
	proto := model.MustParse(map[string]any{"l": []any{""}, "m": []any{""}})
	boom := fmt.Errorf("boom")
	n := 0
	err := Walk(proto, map[string]any{}, Visitor{
		MainStrList: func(map[string]any, model.Field) error {
			n++
			return boom
		},
	})
	if err != boom || n != 1 {
		t.Errorf("err = %v after %d calls, want boom after 1", err, n)
	}
}

func TestTableName(t *testing.T) {
	tests := []struct {
		coords Coords
		want   string
	}{
		{Coords{Type: "person"}, "person"},
		{Coords{Type: "person", ListField: "aliases"}, "person_aliases"},
		{Coords{Type: "person", ListField: "cars", SubdictListField: "plates"}, "person_cars_plates"},
		{Coords{Type: "person", ListField: "cars", SubdictListField: "owners", InnerDictListField: "phones"}, "person_cars_owners_phones"},
		{Coords{Type: "person", Subpath: "private"}, "person__path_private"},
		{Coords{Type: "person", Subpath: "private", ListField: "keys"}, "person__path_private_keys"},
		{Coords{Type: "person", Aux: "listener"}, "person__aux_listener"},
		{Coords{Type: "person", Aux: "listener", ListField: "listen_on"}, "person__aux_listener_listen_5fon"},
		{Coords{Type: "org_unit", ListField: "sub_units"}, "org_5funit_sub_5funits"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			got, err := TableName(tt.coords)
			if err != nil {
				t.Fatalf("TableName: %v", err)
			}
			if got != tt.want {
				t.Errorf("TableName() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestTableName_Injective(t *testing.T) {
	coords := []Coords{
		{Type: "a_b"},
		{Type: "a", ListField: "b"},
		{Type: "a", ListField: "b_c"},
		{Type: "a", ListField: "b", SubdictListField: "c"},
		{Type: "a_b", ListField: "c"},
		{Type: "a", Subpath: "b"},
		{Type: "a", Aux: "b"},
		{Type: "a", ListField: "path_b"},
		{Type: "a", ListField: "aux_b"},
		{Type: "a", Subpath: "b", ListField: "c"},
		{Type: "a", Subpath: "b_c"},
		{Type: "a", ListField: "b", SubdictListField: "c", InnerDictListField: "d"},
		{Type: "a", ListField: "b", SubdictListField: "c_d"},
	}
	seen := map[string]Coords{}
	for _, c := range coords {
		name := MustTableName(c)
		if prev, dup := seen[name]; dup {
			t.Errorf("%+v and %+v both map to %q", prev, c, name)
		}
		seen[name] = c
	}
}

func TestTableName_Long(t *testing.T) {
	c1 := Coords{Type: strings.Repeat("t", 40), ListField: strings.Repeat("f", 30)}
	c2 := Coords{Type: strings.Repeat("t", 40), ListField: strings.Repeat("f", 31)}
	n1, n2 := MustTableName(c1), MustTableName(c2)
	if len(n1) != 63 || len(n2) != 63 {
		t.Errorf("lengths = %d, %d, want 63", len(n1), len(n2))
	}
	if n1 == n2 {
		t.Errorf("long names collide: %q", n1)
	}
	if MustTableName(c1) != n1 {
		t.Error("TableName is not deterministic")
	}
}

func TestTableName_Invalid(t *testing.T) {
	tests := []Coords{
		{},
		{Type: "a", Aux: "x", Subpath: "y"},
		{Type: "a", SubdictListField: "x"},
		{Type: "a", ListField: "x", InnerDictListField: "y"},
		{Type: "a", ListField: "bad-name"},
	}
	for _, c := range tests {
		if _, err := TableName(c); !model.HasCode(err, model.CodeInvalidTableCoordinates) {
			t.Errorf("TableName(%+v) error = %v, want InvalidTableCoordinates", c, err)
		}
	}
}

func TestDerive(t *testing.T) {
	s, err := Derive(carsPrototype(), Coords{Type: "person"})
	if err != nil {
		t.Fatalf("Derive: %v", err)
	}

	got := map[string][]string{}
	for _, tbl := range s {
		got[tbl.Name] = tbl.ColumnNames()
	}
	want := map[string][]string{
		"person":                    {"id", "name", "revision", "type"},
		"person_aliases":            {"id", "list_pos", "value"},
		"person_unused":             {"id", "list_pos", "value"},
		"person_cars":               {"id", "list_pos", "make"},
		"person_cars_plates":        {"id", "dict_list_pos", "list_pos", "value"},
		"person_cars_owners":        {"id", "dict_list_pos", "list_pos", "name"},
		"person_cars_owners_phones": {"id", "dict_list_pos", "inner_dict_list_pos", "list_pos", "value"},
		"person_extra":              {"id", "list_pos"},
		"person_extra_phones":       {"id", "dict_list_pos", "list_pos", "value"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Derive:\n got %v\nwant %v", got, want)
	}
	if p := s.Principal(); p.Name != "person" {
		t.Errorf("Principal() = %q", p.Name)
	}
	if tbl, _ := s.Table("person_unused"); tbl.Columns[2].Kind != model.Integer {
		t.Errorf("person_unused.value kind = %s, want integer", tbl.Columns[2].Kind)
	}
}

func TestSchema_Resolve(t *testing.T) {
	s, err := Derive(carsPrototype(), Coords{Type: "person"})
	if err != nil {
		t.Fatalf("Derive: %v", err)
	}
	var got []string
	for _, fc := range s.Resolve("name") {
		got = append(got, fc.Table.Name+"."+fc.Column.Name)
	}
	want := []string{"person.name", "person_cars_owners.name"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Resolve(name) = %v, want %v", got, want)
	}

	got = nil
	for _, fc := range s.Resolve("phones") {
		got = append(got, fc.Table.Name+"."+fc.Column.Name)
	}
	want = []string{"person_cars_owners_phones.value", "person_extra_phones.value"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Resolve(phones) = %v, want %v", got, want)
	}
	if len(s.Resolve("nope")) != 0 {
		t.Error("Resolve(nope) should be empty")
	}
}

func TestDeriveVersion_Subpaths(t *testing.T) {
	v := &model.Version{
		Name:      "v1",
		Prototype: model.MustPrototype(model.TextField("name")).WithResourceFields(),
		Subpaths:  map[string]*model.Prototype{"private": model.MustPrototype(model.ListField("secrets", model.Text))},
		Files:     []string{"photo"},
	}
	s, err := DeriveVersion("person", v)
	if err != nil {
		t.Fatalf("DeriveVersion: %v", err)
	}
	var names []string
	for _, tbl := range s {
		names = append(names, tbl.Name)
	}
	want := []string{"person", "person__path_photo", "person__path_private", "person__path_private_secrets"}
	if !reflect.DeepEqual(names, want) {
		t.Errorf("tables = %v, want %v", names, want)
	}
}
