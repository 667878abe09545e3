package sync

import (
	"context"
	"sort"

	"github.com/qvarn/qvarn/internal/model"
)

// mockSource is a minimal in-memory Source for sync tests.
type mockSource struct {
	rt   *model.ResourceType
	docs map[string]model.Resource
	subs map[string]map[string]model.Resource
	err  error
}

func newMockSource(typ string) *mockSource {
	return &mockSource{
		rt:   &model.ResourceType{Type: typ, Path: "/" + typ + "s"},
		docs: make(map[string]model.Resource),
		subs: make(map[string]map[string]model.Resource),
	}
}

func (m *mockSource) add(doc model.Resource) {
	m.docs[model.ID(doc)] = doc
}

func (m *mockSource) Type() *model.ResourceType { return m.rt }

func (m *mockSource) Each(_ context.Context, fn func(model.Resource, map[string]model.Resource) error) error {
	if m.err != nil {
		return m.err
	}
	ids := make([]string, 0, len(m.docs))
	for id := range m.docs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if err := fn(m.docs[id], m.subs[id]); err != nil {
			return err
		}
	}
	return nil
}
