package resource

import (
	"context"
	"sort"

	"github.com/qvarn/qvarn/internal/events"
	"github.com/qvarn/qvarn/internal/model"
	"github.com/qvarn/qvarn/internal/store"
	"github.com/qvarn/qvarn/internal/store/sqldb"
)

// notify records a change of resource id: it queues the change for
// publication and stores a notification for every listener interested in
// it. rev is empty for deletions.
func (s *Service) notify(ctx context.Context, tx *sqldb.Tx, b *events.Batch, change, id, rev string) error {
	b.Add(events.ResourceChanged{Type: s.rt.Type, ID: id, Revision: rev, Change: change})

	var searches []*store.Criteria
	if change == model.ChangeCreated {
		searches = append(searches, &store.Criteria{Filters: []store.Filter{
			{Op: store.OpExact, Field: "notify_of_new", Values: []string{"true"}},
		}})
	} else {
		searches = append(searches,
			&store.Criteria{Filters: []store.Filter{{Op: store.OpExact, Field: "listen_on", Values: []string{id}}}},
			&store.Criteria{Filters: []store.Filter{{Op: store.OpExact, Field: "listen_on_all", Values: []string{"true"}}}},
		)
	}
	interested := map[string]bool{}
	for _, c := range searches {
		ids, err := s.listeners.SearchIDs(ctx, tx, c)
		if err != nil {
			return err
		}
		for _, lid := range ids {
			interested[lid] = true
		}
	}
	listenerIDs := make([]string, 0, len(interested))
	for lid := range interested {
		listenerIDs = append(listenerIDs, lid)
	}
	sort.Strings(listenerIDs)

	var revision any
	if rev != "" {
		revision = rev
	}
	stamp := s.now().UnixMicro()
	for _, lid := range listenerIDs {
		_, err := s.notifications.Add(ctx, tx, model.Resource{
			model.FieldType:     model.NotificationType,
			"listener_id":       lid,
			"resource_id":       id,
			"resource_revision": revision,
			"resource_change":   change,
			"last_modified":     stamp,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// ListListeners returns the ids of the type's listeners.
func (s *Service) ListListeners(ctx context.Context) ([]string, error) {
	var ids []string
	err := s.read(ctx, func(tx *sqldb.Tx) error {
		var err error
		ids, err = s.listeners.ListIDs(ctx, tx)
		return err
	})
	return ids, err
}

// CreateListener stores a new listener.
func (s *Service) CreateListener(ctx context.Context, body model.Resource) (model.Resource, error) {
	if id := model.ID(body); id != "" {
		return nil, model.ErrCannotAddWithID(id)
	}
	if rev := model.Revision(body); rev != "" {
		return nil, model.ErrCannotAddWithRevision(rev)
	}
	doc, err := validateListener(body)
	if err != nil {
		return nil, err
	}
	delete(doc, model.FieldID)
	delete(doc, model.FieldRevision)

	var added model.Resource
	err = s.write(ctx, func(tx *sqldb.Tx, _ *events.Batch) error {
		added, err = s.listeners.Add(ctx, tx, doc)
		return err
	})
	return added, err
}

// GetListener returns one listener.
func (s *Service) GetListener(ctx context.Context, id string) (model.Resource, error) {
	var doc model.Resource
	err := s.read(ctx, func(tx *sqldb.Tx) error {
		var err error
		doc, err = s.listeners.Get(ctx, tx, id)
		return err
	})
	return doc, err
}

// UpdateListener replaces a listener; body must carry its current revision.
func (s *Service) UpdateListener(ctx context.Context, id string, body model.Resource) (model.Resource, error) {
	if bodyID := model.ID(body); bodyID != "" && bodyID != id {
		return nil, model.ErrIDMismatch(id, bodyID)
	}
	if model.Revision(body) == "" {
		return nil, model.ErrNoItemRevision(id)
	}
	doc, err := validateListener(body)
	if err != nil {
		return nil, err
	}
	doc[model.FieldID] = id

	var updated model.Resource
	err = s.write(ctx, func(tx *sqldb.Tx, _ *events.Batch) error {
		updated, err = s.listeners.Update(ctx, tx, doc)
		return err
	})
	return updated, err
}

// DeleteListener removes a listener and its notifications.
func (s *Service) DeleteListener(ctx context.Context, id string) error {
	return s.write(ctx, func(tx *sqldb.Tx, _ *events.Batch) error {
		if err := s.listeners.Delete(ctx, tx, id); err != nil {
			return err
		}
		ids, err := s.notifications.SearchIDs(ctx, tx, byListener(id))
		if err != nil {
			return err
		}
		for _, nid := range ids {
			if err := s.notifications.Delete(ctx, tx, nid); err != nil {
				return err
			}
		}
		return nil
	})
}

// ListNotifications returns the ids of a listener's notifications, oldest
// first.
func (s *Service) ListNotifications(ctx context.Context, listenerID string) ([]string, error) {
	var ids []string
	err := s.read(ctx, func(tx *sqldb.Tx) error {
		if _, err := s.listeners.Revision(ctx, tx, listenerID); err != nil {
			return err
		}
		var err error
		ids, err = s.notifications.SearchIDs(ctx, tx, byListener(listenerID))
		return err
	})
	return ids, err
}

// GetNotification returns a notification addressed to listenerID.
func (s *Service) GetNotification(ctx context.Context, listenerID, id string) (model.Resource, error) {
	var doc model.Resource
	err := s.read(ctx, func(tx *sqldb.Tx) error {
		var err error
		doc, err = s.notifications.Get(ctx, tx, id)
		if err != nil {
			return err
		}
		if doc["listener_id"] != listenerID {
			return model.ErrNotificationWrongListener(id, listenerID)
		}
		return nil
	})
	return doc, err
}

// DeleteNotification removes a notification addressed to listenerID.
func (s *Service) DeleteNotification(ctx context.Context, listenerID, id string) error {
	return s.write(ctx, func(tx *sqldb.Tx, _ *events.Batch) error {
		doc, err := s.notifications.Get(ctx, tx, id, "listener_id")
		if err != nil {
			return err
		}
		if doc["listener_id"] != listenerID {
			return model.ErrNotificationWrongListener(id, listenerID)
		}
		return s.notifications.Delete(ctx, tx, id)
	})
}

func byListener(id string) *store.Criteria {
	return &store.Criteria{
		Filters: []store.Filter{{Op: store.OpExact, Field: "listener_id", Values: []string{id}}},
		Sort:    []store.SortKey{{Field: "last_modified"}},
	}
}

func validateListener(body model.Resource) (model.Resource, error) {
	doc := model.Copy(body)
	if doc == nil {
		doc = model.Resource{}
	}
	model.Fill(model.ListenerPrototype, model.ListenerType, doc)
	// Unset flags are stored as false.
	for _, flag := range []string{"notify_of_new", "listen_on_all"} {
		if doc[flag] == nil {
			doc[flag] = false
		}
	}
	if err := model.Validate(model.ListenerType, model.ListenerPrototype, doc); err != nil {
		return nil, err
	}
	return model.Normalize(model.ListenerPrototype, doc), nil
}

