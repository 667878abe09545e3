package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/qvarn/qvarn/internal/model"
)

// Source yields the resources of one type. *resource.Service implements it.
type Source interface {
	Type() *model.ResourceType
	Each(ctx context.Context, fn func(doc model.Resource, subs map[string]model.Resource) error) error
}

// header is the first JSONL record written by ExportJSONL.
type header struct {
	Version       string         `json:"version"`
	Type          string         `json:"type"`
	Timestamp     time.Time      `json:"timestamp"`
	ResourceCount int            `json:"resource_count"`
	Types         map[string]int `json:"types"`
}

// record is one exported resource.
type record struct {
	Type         string                    `json:"type"`
	ResourceType string                    `json:"resource_type"`
	Data         model.Resource            `json:"data"`
	Subpaths     map[string]model.Resource `json:"subpaths,omitempty"`
}

// ExportJSONL writes every resource of sources as JSONL to w: a header line,
// then one record per resource sorted by type and then id. Bytes values are
// base64 encoded.
func ExportJSONL(ctx context.Context, sources []Source, w io.Writer) error {
	sorted := make([]Source, len(sources))
	copy(sorted, sources)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Type().Type < sorted[j].Type().Type
	})

	var records []record
	counts := make(map[string]int, len(sorted))
	for _, src := range sorted {
		typ := src.Type().Type
		err := src.Each(ctx, func(doc model.Resource, subs map[string]model.Resource) error {
			records = append(records, record{Type: "resource", ResourceType: typ, Data: doc, Subpaths: subs})
			counts[typ]++
			return nil
		})
		if err != nil {
			return fmt.Errorf("export %s: %w", typ, err)
		}
	}

	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)

	if err := enc.Encode(header{
		Version:       "1",
		Type:          "header",
		Timestamp:     time.Now().UTC(),
		ResourceCount: len(records),
		Types:         counts,
	}); err != nil {
		return fmt.Errorf("encode header: %w", err)
	}

	for _, r := range records {
		if err := enc.Encode(r); err != nil {
			return fmt.Errorf("encode %s %s: %w", r.ResourceType, model.ID(r.Data), err)
		}
	}
	return nil
}
