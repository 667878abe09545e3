// Package resource implements the operations of one resource type on top
// of its storage: body validation, the revision protocol, listeners and
// their notifications, and post-commit event publication.
package resource

import (
	"context"
	"fmt"
	"time"

	"github.com/qvarn/qvarn/internal/events"
	"github.com/qvarn/qvarn/internal/idgen"
	"github.com/qvarn/qvarn/internal/model"
	"github.com/qvarn/qvarn/internal/store"
	"github.com/qvarn/qvarn/internal/store/sqldb"
)

// Service serves one resource type. Every method runs in its own
// transaction; changes are published once it has committed.
type Service struct {
	rt            *model.ResourceType
	db            *sqldb.DB
	items         *store.Storage
	listeners     *store.Storage
	notifications *store.Storage
	pub           events.Publisher
	now           func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithPublisher sets the publisher committed changes are sent to.
func WithPublisher(pub events.Publisher) Option {
	return func(s *Service) { s.pub = pub }
}

// WithClock replaces the clock stamping notifications.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// New returns the service of rt. The storage of rt must have been prepared.
func New(db *sqldb.DB, rt *model.ResourceType, ids idgen.Source, opts ...Option) (*Service, error) {
	items, err := store.New(rt, ids)
	if err != nil {
		return nil, err
	}
	listeners, err := store.NewAux(rt.Type, model.AuxListener, model.ListenerPrototype, ids)
	if err != nil {
		return nil, err
	}
	notifications, err := store.NewAux(rt.Type, model.AuxNotification, model.NotificationPrototype, ids)
	if err != nil {
		return nil, err
	}
	s := &Service{
		rt:            rt,
		db:            db,
		items:         items,
		listeners:     listeners,
		notifications: notifications,
		pub:           &events.NoopPublisher{},
		now:           time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Type returns the served resource type.
func (s *Service) Type() *model.ResourceType { return s.rt }

// read runs fn in a transaction that makes no changes.
func (s *Service) read(ctx context.Context, fn func(tx *sqldb.Tx) error) error {
	return s.db.RunInTransaction(ctx, fn)
}

// write runs fn in a transaction and publishes the changes it collected
// once the transaction has committed.
func (s *Service) write(ctx context.Context, fn func(tx *sqldb.Tx, b *events.Batch) error) error {
	var b events.Batch
	if err := s.db.RunInTransaction(ctx, func(tx *sqldb.Tx) error { return fn(tx, &b) }); err != nil {
		return err
	}
	b.Flush(ctx, s.pub)
	return nil
}

// List returns the ids of every resource.
func (s *Service) List(ctx context.Context) ([]string, error) {
	var ids []string
	err := s.read(ctx, func(tx *sqldb.Tx) error {
		var err error
		ids, err = s.items.ListIDs(ctx, tx)
		return err
	})
	return ids, err
}

// Get returns one resource.
func (s *Service) Get(ctx context.Context, id string) (model.Resource, error) {
	var doc model.Resource
	err := s.read(ctx, func(tx *sqldb.Tx) error {
		var err error
		doc, err = s.items.Get(ctx, tx, id)
		return err
	})
	return doc, err
}

// Search runs a search given as URL segments.
func (s *Service) Search(ctx context.Context, segments []string) ([]model.Resource, error) {
	c, err := store.ParseCriteria(segments)
	if err != nil {
		return nil, err
	}
	var docs []model.Resource
	err = s.read(ctx, func(tx *sqldb.Tx) error {
		docs, err = s.items.Search(ctx, tx, c)
		return err
	})
	return docs, err
}

// Each calls fn for every resource in id order, with the documents of all
// its sub-paths and files, inside one read transaction.
func (s *Service) Each(ctx context.Context, fn func(doc model.Resource, subs map[string]model.Resource) error) error {
	names := s.rt.Current().SubpathNames()
	return s.read(ctx, func(tx *sqldb.Tx) error {
		ids, err := s.items.ListIDs(ctx, tx)
		if err != nil {
			return err
		}
		for _, id := range ids {
			doc, err := s.items.Get(ctx, tx, id)
			if err != nil {
				return err
			}
			subs := make(map[string]model.Resource, len(names))
			for _, name := range names {
				if subs[name], err = s.items.GetSubitem(ctx, tx, id, name); err != nil {
					return err
				}
			}
			if err := fn(doc, subs); err != nil {
				return err
			}
		}
		return nil
	})
}

// Create validates body and stores it as a new resource.
func (s *Service) Create(ctx context.Context, body model.Resource) (model.Resource, error) {
	if id := model.ID(body); id != "" {
		return nil, model.ErrCannotAddWithID(id)
	}
	if rev := model.Revision(body); rev != "" {
		return nil, model.ErrCannotAddWithRevision(rev)
	}
	doc, err := s.validate(body)
	if err != nil {
		return nil, err
	}
	delete(doc, model.FieldID)
	delete(doc, model.FieldRevision)

	var added model.Resource
	err = s.write(ctx, func(tx *sqldb.Tx, b *events.Batch) error {
		added, err = s.items.Add(ctx, tx, doc)
		if err != nil {
			return err
		}
		return s.notify(ctx, tx, b, model.ChangeCreated, model.ID(added), model.Revision(added))
	})
	return added, err
}

// Update replaces resource id with body, which must carry the current
// revision.
func (s *Service) Update(ctx context.Context, id string, body model.Resource) (model.Resource, error) {
	if bodyID := model.ID(body); bodyID != "" && bodyID != id {
		return nil, model.ErrIDMismatch(id, bodyID)
	}
	if model.Revision(body) == "" {
		return nil, model.ErrNoItemRevision(id)
	}
	doc, err := s.validate(body)
	if err != nil {
		return nil, err
	}
	doc[model.FieldID] = id

	var updated model.Resource
	err = s.write(ctx, func(tx *sqldb.Tx, b *events.Batch) error {
		updated, err = s.items.Update(ctx, tx, doc)
		if err != nil {
			return err
		}
		return s.notify(ctx, tx, b, model.ChangeUpdated, id, model.Revision(updated))
	})
	return updated, err
}

// Delete removes resource id with its sub-resources.
func (s *Service) Delete(ctx context.Context, id string) error {
	return s.write(ctx, func(tx *sqldb.Tx, b *events.Batch) error {
		if err := s.items.Delete(ctx, tx, id); err != nil {
			return err
		}
		return s.notify(ctx, tx, b, model.ChangeDeleted, id, "")
	})
}

// validate fills body with the current prototype and checks it.
func (s *Service) validate(body model.Resource) (model.Resource, error) {
	proto := s.rt.Prototype()
	doc := model.Copy(body)
	if doc == nil {
		doc = model.Resource{}
	}
	model.Fill(proto, s.rt.Type, doc)
	if err := model.Validate(s.rt.Type, proto, doc); err != nil {
		return nil, err
	}
	doc = model.Normalize(proto, doc)
	if check := s.rt.Current().Validate; check != nil {
		if err := check(doc); err != nil {
			return nil, err
		}
	}
	return doc, nil
}

func (s *Service) subpath(name string) (*model.Prototype, error) {
	proto, ok := s.items.SubpathPrototype(name)
	if !ok {
		return nil, model.ErrNoSuchSubpath(name)
	}
	return proto, nil
}

// GetSubitem returns the document of sub-path name of resource id.
func (s *Service) GetSubitem(ctx context.Context, id, name string) (model.Resource, error) {
	if _, err := s.subpath(name); err != nil {
		return nil, err
	}
	if s.rt.Current().IsFile(name) {
		return nil, model.ErrNoSuchSubpath(name)
	}
	var doc model.Resource
	err := s.read(ctx, func(tx *sqldb.Tx) error {
		var err error
		doc, err = s.items.GetSubitem(ctx, tx, id, name)
		return err
	})
	return doc, err
}

// UpdateSubitem replaces the document of sub-path name. body must carry the
// parent's current revision; the returned document carries the new one.
func (s *Service) UpdateSubitem(ctx context.Context, id, name string, body model.Resource) (model.Resource, error) {
	proto, err := s.subpath(name)
	if err != nil {
		return nil, err
	}
	if s.rt.Current().IsFile(name) {
		return nil, model.ErrNoSuchSubpath(name)
	}
	if bodyID := model.ID(body); bodyID != "" && bodyID != id {
		return nil, model.ErrIDMismatch(id, bodyID)
	}
	old := model.Revision(body)
	if old == "" {
		return nil, model.ErrNoItemRevision(id)
	}
	doc := model.Copy(body)
	if doc == nil {
		doc = model.Resource{}
	}
	model.Fill(proto, s.rt.Type, doc)
	if err := model.Validate(s.rt.Type, proto, doc); err != nil {
		return nil, err
	}
	doc = model.Normalize(proto, doc)
	doc[model.FieldID] = id

	err = s.write(ctx, func(tx *sqldb.Tx, b *events.Batch) error {
		rev, err := s.items.UpdateSubitem(ctx, tx, id, old, name, doc)
		if err != nil {
			return err
		}
		doc[model.FieldRevision] = rev
		return s.notify(ctx, tx, b, model.ChangeUpdated, id, rev)
	})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// File is the content of a file sub-resource.
type File struct {
	Body        []byte
	ContentType string
	Revision    string
}

// GetFile returns file name of resource id.
func (s *Service) GetFile(ctx context.Context, id, name string) (*File, error) {
	if !s.rt.Current().IsFile(name) {
		return nil, model.ErrNoSuchSubpath(name)
	}
	var doc model.Resource
	err := s.read(ctx, func(tx *sqldb.Tx) error {
		var err error
		doc, err = s.items.GetSubitem(ctx, tx, id, name)
		if err != nil {
			return err
		}
		rev, err := s.items.Revision(ctx, tx, id)
		doc[model.FieldRevision] = rev
		return err
	})
	if err != nil {
		return nil, err
	}
	f := &File{Revision: model.Revision(doc)}
	f.Body, _ = doc["body"].([]byte)
	f.ContentType, _ = doc["content_type"].(string)
	return f, nil
}

// PutFile replaces file name of resource id. revision must be the
// resource's current revision; the new one is returned.
func (s *Service) PutFile(ctx context.Context, id, name, revision string, f File) (string, error) {
	if !s.rt.Current().IsFile(name) {
		return "", model.ErrNoSuchSubpath(name)
	}
	if revision == "" {
		return "", model.ErrNoItemRevision(id)
	}
	var rev string
	err := s.write(ctx, func(tx *sqldb.Tx, b *events.Batch) error {
		var err error
		rev, err = s.items.UpdateSubitem(ctx, tx, id, revision, name,
			model.Resource{"body": f.Body, "content_type": f.ContentType})
		if err != nil {
			return err
		}
		return s.notify(ctx, tx, b, model.ChangeUpdated, id, rev)
	})
	if err != nil {
		return "", fmt.Errorf("put file %s: %w", name, err)
	}
	return rev, nil
}
