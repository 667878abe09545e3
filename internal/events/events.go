// Package events fans committed resource changes out to a message bus.
// Publication happens after the transaction that made the change has
// committed and is best effort.
package events

import (
	"context"
	"log/slog"
	"strings"
)

// SubjectPrefix starts every change subject.
const SubjectPrefix = "qvarn"

// AllChanges matches every change subject.
const AllChanges = SubjectPrefix + ".>"

// Subject returns the subject changes of kind change to resources of typ
// are published on: qvarn.<type>.<change>.
func Subject(typ, change string) string {
	return strings.Join([]string{SubjectPrefix, typ, change}, ".")
}

// TypeSubjects matches every change to resources of typ.
func TypeSubjects(typ string) string {
	return SubjectPrefix + "." + typ + ".*"
}

// ResourceChanged is the payload of a change subject. Revision is empty
// for deletions.
type ResourceChanged struct {
	Type     string `json:"resource_type"`
	ID       string `json:"resource_id"`
	Revision string `json:"resource_revision,omitempty"`
	Change   string `json:"resource_change"`
}

// Publisher is the interface for emitting events.
type Publisher interface {
	Publish(ctx context.Context, topic string, event any) error
	Close() error
}

// Batch collects the changes of one transaction until it commits.
type Batch struct {
	changes []ResourceChanged
}

// Add records a change.
func (b *Batch) Add(c ResourceChanged) {
	b.changes = append(b.changes, c)
}

// Len returns the number of collected changes.
func (b *Batch) Len() int { return len(b.changes) }

// Flush publishes the collected changes in order and empties the batch.
// Failures are logged and do not stop the remaining publications.
func (b *Batch) Flush(ctx context.Context, pub Publisher) {
	changes := b.changes
	b.changes = nil
	for _, c := range changes {
		if err := pub.Publish(ctx, Subject(c.Type, c.Change), c); err != nil {
			slog.Warn("publish change failed", "type", c.Type, "id", c.ID, "change", c.Change, "err", err)
		}
	}
}

// NoopPublisher discards every event. It stands in when no bus is
// configured.
type NoopPublisher struct{}

func (*NoopPublisher) Publish(context.Context, string, any) error { return nil }

func (*NoopPublisher) Close() error { return nil }
