package sync

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/qvarn/qvarn/internal/idgen"
	"github.com/qvarn/qvarn/internal/model"
	"github.com/qvarn/qvarn/internal/resource"
	"github.com/qvarn/qvarn/internal/store"
	"github.com/qvarn/qvarn/internal/store/sqldb"
	"github.com/qvarn/qvarn/internal/store/sqlite"
)

func TestExportJSONL_Empty(t *testing.T) {
	var buf bytes.Buffer
	if err := ExportJSONL(context.Background(), []Source{newMockSource("person")}, &buf); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	lines := nonEmptyLines(buf.String())
	if len(lines) != 1 {
		t.Fatalf("expected 1 line (header only), got %d", len(lines))
	}

	var h header
	if err := json.Unmarshal([]byte(lines[0]), &h); err != nil {
		t.Fatalf("unmarshal header: %v", err)
	}
	if h.Version != "1" || h.Type != "header" || h.ResourceCount != 0 {
		t.Fatalf("unexpected header: %+v", h)
	}
}

func TestExportJSONL_SortedByTypeThenID(t *testing.T) {
	persons := newMockSource("person")
	persons.add(model.Resource{"id": "p-zzz", "type": "person", "name": "Second"})
	persons.add(model.Resource{"id": "p-aaa", "type": "person", "name": "First"})
	persons.subs["p-aaa"] = map[string]model.Resource{"private": {"secret": "s"}}
	cars := newMockSource("car")
	cars.add(model.Resource{"id": "c-1", "type": "car", "plate": "ABC-123"})

	var buf bytes.Buffer
	if err := ExportJSONL(context.Background(), []Source{persons, cars}, &buf); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	lines := nonEmptyLines(buf.String())
	// 1 header + 1 car + 2 persons
	if len(lines) != 4 {
		t.Fatalf("expected 4 lines, got %d:\n%s", len(lines), buf.String())
	}

	var h header
	if err := json.Unmarshal([]byte(lines[0]), &h); err != nil {
		t.Fatalf("unmarshal header: %v", err)
	}
	if h.ResourceCount != 3 || h.Types["person"] != 2 || h.Types["car"] != 1 {
		t.Fatalf("header counts: %+v", h)
	}

	var order []string
	var first record
	for i, line := range lines[1:] {
		var rec record
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			t.Fatalf("unmarshal line %d: %v", i+1, err)
		}
		if rec.Type != "resource" {
			t.Fatalf("line %d type = %q", i+1, rec.Type)
		}
		order = append(order, rec.ResourceType+"/"+model.ID(rec.Data))
		if i == 1 {
			first = rec
		}
	}
	if got := strings.Join(order, ","); got != "car/c-1,person/p-aaa,person/p-zzz" {
		t.Fatalf("order = %s", got)
	}
	if first.Subpaths["private"]["secret"] != "s" {
		t.Errorf("sub-paths not exported: %+v", first.Subpaths)
	}
}

func TestExportJSONL_SourceError(t *testing.T) {
	src := newMockSource("person")
	src.err = errors.New("db down")
	var buf bytes.Buffer
	if err := ExportJSONL(context.Background(), []Source{src}, &buf); err == nil {
		t.Fatal("expected error")
	}
	if buf.Len() != 0 {
		t.Errorf("partial output written: %q", buf.String())
	}
}

func TestExportJSONL_Service(t *testing.T) {
	rt := &model.ResourceType{
		Type: "person",
		Path: "/persons",
		Versions: []model.Version{{
			Name:      "v1",
			Prototype: model.MustParse(map[string]any{"name": ""}),
			Files:     []string{"photo"},
		}},
	}
	if err := rt.Normalize(); err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	db, err := sqlite.Open(ctx, filepath.Join(t.TempDir(), "qvarn.db"), false, sqldb.PoolOptions{MaxConn: 1})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	if err := store.PrepareStorage(ctx, db, rt); err != nil {
		t.Fatal(err)
	}
	svc, err := resource.New(db, rt, idgen.Random{})
	if err != nil {
		t.Fatal(err)
	}
	doc, err := svc.Create(ctx, model.Resource{"name": "Alfred"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.PutFile(ctx, model.ID(doc), "photo", model.Revision(doc), resource.File{Body: []byte("png"), ContentType: "image/png"}); err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	if err := ExportJSONL(ctx, []Source{svc}, &buf); err != nil {
		t.Fatalf("ExportJSONL: %v", err)
	}
	lines := nonEmptyLines(buf.String())
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
	var rec struct {
		Data     map[string]any            `json:"data"`
		Subpaths map[string]map[string]any `json:"subpaths"`
	}
	if err := json.Unmarshal([]byte(lines[1]), &rec); err != nil {
		t.Fatal(err)
	}
	if rec.Data["name"] != "Alfred" || rec.Data["id"] != model.ID(doc) {
		t.Errorf("data = %v", rec.Data)
	}
	// []byte is exported as base64: "png" -> "cG5n".
	if rec.Subpaths["photo"]["body"] != "cG5n" || rec.Subpaths["photo"]["content_type"] != "image/png" {
		t.Errorf("photo = %v", rec.Subpaths["photo"])
	}
}

func nonEmptyLines(s string) []string {
	var result []string
	for _, line := range strings.Split(s, "\n") {
		if strings.TrimSpace(line) != "" {
			result = append(result, line)
		}
	}
	return result
}
