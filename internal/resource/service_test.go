package resource

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/qvarn/qvarn/internal/idgen"
	"github.com/qvarn/qvarn/internal/model"
	"github.com/qvarn/qvarn/internal/store"
	"github.com/qvarn/qvarn/internal/store/sqldb"
	"github.com/qvarn/qvarn/internal/store/sqlite"
)

type published struct {
	topic string
	event any
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []published
}

func (p *recordingPublisher) Publish(_ context.Context, topic string, event any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, published{topic, event})
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) topics() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, e := range p.events {
		out[i] = e.topic
	}
	return out
}

func personType() *model.ResourceType {
	return &model.ResourceType{
		Type: "person",
		Path: "/persons",
		Versions: []model.Version{{
			Name:      "v1",
			Prototype: model.MustParse(map[string]any{"name": "", "aliases": []any{""}}),
			Subpaths: map[string]*model.Prototype{
				"private": model.MustParse(map[string]any{"secret": ""}),
			},
			Files: []string{"photo"},
		}},
	}
}

// newTestService prepares rt in a fresh SQLite file and returns its
// service with a clock that advances one second per call.
func newTestService(t *testing.T, rt *model.ResourceType) (*Service, *recordingPublisher) {
	t.Helper()
	if err := rt.Normalize(); err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	ctx := context.Background()
	db, err := sqlite.Open(ctx, filepath.Join(t.TempDir(), "qvarn.db"), false, sqldb.PoolOptions{MaxConn: 1})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := store.PrepareStorage(ctx, db, rt); err != nil {
		t.Fatalf("PrepareStorage: %v", err)
	}

	var mu sync.Mutex
	clock := time.Unix(1700000000, 0)
	pub := &recordingPublisher{}
	svc, err := New(db, rt, idgen.Random{}, WithPublisher(pub), WithClock(func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		clock = clock.Add(time.Second)
		return clock
	}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return svc, pub
}

func TestCreateGetUpdate(t *testing.T) {
	svc, pub := newTestService(t, personType())
	ctx := context.Background()

	created, err := svc.Create(ctx, model.Resource{"type": "person", "name": "Bond", "aliases": []any{"007"}})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	id := model.ID(created)

	got, err := svc.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !reflect.DeepEqual(got, created) {
		t.Errorf("Get() = %v, want %v", got, created)
	}

	wrong := model.Resource{"id": id, "revision": "R-wrong", "type": "person", "name": "Wayne", "aliases": []any{"007"}}
	if _, err := svc.Update(ctx, id, wrong); !model.HasCode(err, model.CodeWrongRevision) {
		t.Fatalf("Update(wrong revision) error = %v, want WrongRevision", err)
	}
	if got, _ := svc.Get(ctx, id); got["name"] != "Bond" {
		t.Errorf("name after conflict = %v, want Bond", got["name"])
	}

	right := model.Copy(created)
	right["name"] = "James"
	updated, err := svc.Update(ctx, id, right)
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if updated["name"] != "James" || model.Revision(updated) == model.Revision(created) {
		t.Errorf("Update() = %v", updated)
	}

	want := []string{"qvarn.person.created", "qvarn.person.updated"}
	if got := pub.topics(); !reflect.DeepEqual(got, want) {
		t.Errorf("published %v, want %v", got, want)
	}
}

func TestCreate_Rejections(t *testing.T) {
	svc, pub := newTestService(t, personType())
	ctx := context.Background()

	tests := []struct {
		name string
		body model.Resource
		code string
	}{
		{"with id", model.Resource{"id": "x", "name": "a"}, model.CodeCannotAddWithID},
		{"with revision", model.Resource{"revision": "r", "name": "a"}, model.CodeCannotAddWithRevision},
		{"unknown key", model.Resource{"name": "a", "shoe": 9}, model.CodeUnknownKeys},
		{"wrong type", model.Resource{"name": 5}, model.CodeWrongValueType},
		{"wrong type field", model.Resource{"type": "car", "name": "a"}, model.CodeTypeFieldMismatch},
		{"wrong list element", model.Resource{"aliases": []any{1}}, model.CodeListElementWrongType},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.Create(ctx, tt.body); !model.HasCode(err, tt.code) {
				t.Errorf("Create() error = %v, want %s", err, tt.code)
			}
		})
	}
	if len(pub.topics()) != 0 {
		t.Errorf("rejected creates published %v", pub.topics())
	}
}

func TestCreate_VersionValidateHook(t *testing.T) {
	rt := personType()
	rt.Versions[0].Validate = func(r model.Resource) error {
		if r["name"] == "Blofeld" {
			return model.ErrBadRequestBody("no villains")
		}
		return nil
	}
	svc, _ := newTestService(t, rt)
	if _, err := svc.Create(context.Background(), model.Resource{"name": "Blofeld"}); !model.HasCode(err, model.CodeBadRequestBody) {
		t.Errorf("Create() error = %v, want BadRequestBody", err)
	}
}

func TestUpdate_Preconditions(t *testing.T) {
	svc, _ := newTestService(t, personType())
	ctx := context.Background()
	created, err := svc.Create(ctx, model.Resource{"name": "Bond"})
	if err != nil {
		t.Fatal(err)
	}
	id := model.ID(created)

	if _, err := svc.Update(ctx, id, model.Resource{"id": "other", "revision": "r"}); !model.HasCode(err, model.CodeIDMismatch) {
		t.Errorf("id mismatch error = %v", err)
	}
	if _, err := svc.Update(ctx, id, model.Resource{"name": "x"}); !model.HasCode(err, model.CodeNoItemRevision) {
		t.Errorf("no revision error = %v", err)
	}
	if _, err := svc.Update(ctx, "missing", model.Resource{"revision": "r"}); !model.HasCode(err, model.CodeItemDoesNotExist) {
		t.Errorf("missing error = %v", err)
	}
}

func TestSubitemsAndFiles(t *testing.T) {
	svc, _ := newTestService(t, personType())
	ctx := context.Background()
	created, err := svc.Create(ctx, model.Resource{"name": "Bond"})
	if err != nil {
		t.Fatal(err)
	}
	id := model.ID(created)

	sub, err := svc.GetSubitem(ctx, id, "private")
	if err != nil {
		t.Fatalf("GetSubitem: %v", err)
	}
	if sub["secret"] != nil || sub["revision"] != model.Revision(created) {
		t.Errorf("initial sub-item = %v", sub)
	}

	sub["secret"] = "martini"
	updated, err := svc.UpdateSubitem(ctx, id, "private", sub)
	if err != nil {
		t.Fatalf("UpdateSubitem: %v", err)
	}
	parent, _ := svc.Get(ctx, id)
	if updated["revision"] != parent["revision"] || updated["secret"] != "martini" {
		t.Errorf("UpdateSubitem() = %v, parent revision %v", updated, parent["revision"])
	}

	rev, err := svc.PutFile(ctx, id, "photo", model.Revision(parent), File{Body: []byte("jpeg"), ContentType: "image/jpeg"})
	if err != nil {
		t.Fatalf("PutFile: %v", err)
	}
	f, err := svc.GetFile(ctx, id, "photo")
	if err != nil {
		t.Fatalf("GetFile: %v", err)
	}
	if string(f.Body) != "jpeg" || f.ContentType != "image/jpeg" || f.Revision != rev {
		t.Errorf("GetFile() = %+v, want revision %s", f, rev)
	}

	if _, err := svc.PutFile(ctx, id, "photo", "", File{}); !model.HasCode(err, model.CodeNoItemRevision) {
		t.Errorf("PutFile without revision error = %v", err)
	}
	if _, err := svc.PutFile(ctx, id, "photo", model.Revision(parent), File{}); !model.HasCode(err, model.CodeWrongRevision) {
		t.Errorf("PutFile stale revision error = %v", err)
	}
	if _, err := svc.GetSubitem(ctx, id, "photo"); !model.HasCode(err, model.CodeNoSuchSubpath) {
		t.Errorf("GetSubitem(photo) error = %v", err)
	}
	if _, err := svc.GetFile(ctx, id, "private"); !model.HasCode(err, model.CodeNoSuchSubpath) {
		t.Errorf("GetFile(private) error = %v", err)
	}
}

func TestSearch(t *testing.T) {
	svc, _ := newTestService(t, personType())
	ctx := context.Background()
	for _, name := range []string{"c", "a", "b"} {
		if _, err := svc.Create(ctx, model.Resource{"name": name}); err != nil {
			t.Fatal(err)
		}
	}
	docs, err := svc.Search(ctx, []string{"show", "name", "sort", "name", "limit", "2"})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(docs) != 2 || docs[0]["name"] != "a" || docs[1]["name"] != "b" {
		t.Errorf("Search() = %v", docs)
	}
	if _, err := svc.Search(ctx, []string{"limit", "2"}); !model.HasCode(err, model.CodeLimitWithoutSort) {
		t.Errorf("Search(limit) error = %v", err)
	}
}

func TestListenerNotifications(t *testing.T) {
	svc, _ := newTestService(t, personType())
	ctx := context.Background()

	onNew, err := svc.CreateListener(ctx, model.Resource{"notify_of_new": true})
	if err != nil {
		t.Fatalf("CreateListener: %v", err)
	}
	onAll, err := svc.CreateListener(ctx, model.Resource{"listen_on_all": true})
	if err != nil {
		t.Fatal(err)
	}

	created, err := svc.Create(ctx, model.Resource{"name": "Bond"})
	if err != nil {
		t.Fatal(err)
	}
	id := model.ID(created)

	onOne, err := svc.CreateListener(ctx, model.Resource{"listen_on": []any{id}})
	if err != nil {
		t.Fatal(err)
	}
	other, err := svc.Create(ctx, model.Resource{"name": "Felix"})
	if err != nil {
		t.Fatal(err)
	}

	created["name"] = "James"
	updated, err := svc.Update(ctx, id, created)
	if err != nil {
		t.Fatal(err)
	}
	if err := svc.Delete(ctx, model.ID(other)); err != nil {
		t.Fatal(err)
	}

	changes := func(listener model.Resource) []string {
		t.Helper()
		ids, err := svc.ListNotifications(ctx, model.ID(listener))
		if err != nil {
			t.Fatalf("ListNotifications: %v", err)
		}
		var out []string
		for _, nid := range ids {
			n, err := svc.GetNotification(ctx, model.ID(listener), nid)
			if err != nil {
				t.Fatalf("GetNotification: %v", err)
			}
			out = append(out, n["resource_change"].(string)+":"+n["resource_id"].(string))
		}
		return out
	}

	if got, want := changes(onNew), []string{"created:" + id, "created:" + model.ID(other)}; !reflect.DeepEqual(got, want) {
		t.Errorf("notify_of_new listener got %v, want %v", got, want)
	}
	if got, want := changes(onAll), []string{"updated:" + id, "deleted:" + model.ID(other)}; !reflect.DeepEqual(got, want) {
		t.Errorf("listen_on_all listener got %v, want %v", got, want)
	}
	if got, want := changes(onOne), []string{"updated:" + id}; !reflect.DeepEqual(got, want) {
		t.Errorf("listen_on listener got %v, want %v", got, want)
	}

	ids, _ := svc.ListNotifications(ctx, model.ID(onOne))
	n, err := svc.GetNotification(ctx, model.ID(onOne), ids[0])
	if err != nil {
		t.Fatal(err)
	}
	if n["resource_revision"] != model.Revision(updated) || n["type"] != "notification" {
		t.Errorf("notification = %v", n)
	}
	if _, err := svc.GetNotification(ctx, model.ID(onAll), ids[0]); !model.HasCode(err, model.CodeNotificationWrongListener) {
		t.Errorf("wrong listener error = %v", err)
	}

	allIDs, _ := svc.ListNotifications(ctx, model.ID(onAll))
	deleted, err := svc.GetNotification(ctx, model.ID(onAll), allIDs[1])
	if err != nil {
		t.Fatal(err)
	}
	if deleted["resource_revision"] != nil {
		t.Errorf("deletion notification revision = %v, want null", deleted["resource_revision"])
	}
}

func TestDeleteListener_Cascades(t *testing.T) {
	svc, _ := newTestService(t, personType())
	ctx := context.Background()

	l, err := svc.CreateListener(ctx, model.Resource{"notify_of_new": true})
	if err != nil {
		t.Fatal(err)
	}
	keep, err := svc.CreateListener(ctx, model.Resource{"notify_of_new": true})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Create(ctx, model.Resource{"name": "Bond"}); err != nil {
		t.Fatal(err)
	}
	ids, _ := svc.ListNotifications(ctx, model.ID(l))
	if len(ids) != 1 {
		t.Fatalf("notifications = %v", ids)
	}

	if err := svc.DeleteListener(ctx, model.ID(l)); err != nil {
		t.Fatalf("DeleteListener: %v", err)
	}
	if _, err := svc.GetNotification(ctx, model.ID(l), ids[0]); !model.HasCode(err, model.CodeItemDoesNotExist) {
		t.Errorf("notification after cascade error = %v", err)
	}
	if _, err := svc.ListNotifications(ctx, model.ID(l)); !model.HasCode(err, model.CodeItemDoesNotExist) {
		t.Errorf("ListNotifications(deleted) error = %v", err)
	}
	if kept, _ := svc.ListNotifications(ctx, model.ID(keep)); len(kept) != 1 {
		t.Errorf("other listener lost notifications: %v", kept)
	}
}

func TestUpdateListener(t *testing.T) {
	svc, _ := newTestService(t, personType())
	ctx := context.Background()
	l, err := svc.CreateListener(ctx, model.Resource{})
	if err != nil {
		t.Fatal(err)
	}
	if l["notify_of_new"] != false || l["listen_on_all"] != false {
		t.Errorf("defaults = %v", l)
	}
	l["listen_on_all"] = true
	updated, err := svc.UpdateListener(ctx, model.ID(l), l)
	if err != nil {
		t.Fatalf("UpdateListener: %v", err)
	}
	got, err := svc.GetListener(ctx, model.ID(l))
	if err != nil {
		t.Fatal(err)
	}
	if got["listen_on_all"] != true || got["revision"] != updated["revision"] {
		t.Errorf("GetListener() = %v", got)
	}
	ids, _ := svc.ListListeners(ctx)
	if len(ids) != 1 {
		t.Errorf("ListListeners() = %v", ids)
	}
}

type failingPublisher struct{ recordingPublisher }

func (p *failingPublisher) Publish(ctx context.Context, topic string, event any) error {
	_ = p.recordingPublisher.Publish(ctx, topic, event)
	return errors.New("bus down")
}

func TestPublishFailureDoesNotFailWrite(t *testing.T) {
	svc, _ := newTestService(t, personType())
	pub := &failingPublisher{}
	svc.pub = pub
	if _, err := svc.Create(context.Background(), model.Resource{"name": "Bond"}); err != nil {
		t.Fatalf("Create with failing publisher: %v", err)
	}
	if got := pub.topics(); len(got) != 1 {
		t.Errorf("publish attempts = %v", got)
	}
}
