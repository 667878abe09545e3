package main

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/qvarn/qvarn/internal/events"
	"github.com/qvarn/qvarn/internal/ui"
)

func TestFormatChange(t *testing.T) {
	ui.ForceNoColor()
	at := time.Date(2024, 5, 1, 10, 4, 5, 0, time.UTC)

	tests := []struct {
		change events.ResourceChanged
		want   string
	}{
		{
			events.ResourceChanged{Type: "person", ID: "p1", Revision: "r1", Change: "created"},
			"10:04:05 created person/p1 r1",
		},
		{
			events.ResourceChanged{Type: "person", ID: "p1", Change: "deleted"},
			"10:04:05 deleted person/p1",
		},
	}
	for _, tt := range tests {
		if got := formatChange(at, tt.change); got != tt.want {
			t.Errorf("formatChange(%+v) = %q, want %q", tt.change, got, tt.want)
		}
	}
}

// lockedBuffer is a bytes.Buffer safe for one writer and one reader.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestWatchChanges(t *testing.T) {
	ui.ForceNoColor()
	srv, err := natsserver.NewServer(&natsserver.Options{Host: "127.0.0.1", Port: -1})
	if err != nil {
		t.Fatalf("starting embedded NATS: %v", err)
	}
	srv.Start()
	t.Cleanup(srv.Shutdown)
	if !srv.ReadyForConnections(5 * time.Second) {
		t.Fatal("embedded NATS not ready")
	}

	pub, err := events.NewNATSPublisher(srv.ClientURL())
	if err != nil {
		t.Fatal(err)
	}
	defer pub.Close()

	ctx, cancel := context.WithCancel(context.Background())
	var out lockedBuffer
	done := make(chan error, 1)
	go func() { done <- watchChanges(ctx, srv.ClientURL(), events.TypeSubjects("person"), &out) }()

	other := events.ResourceChanged{Type: "car", ID: "c1", Revision: "r1", Change: "created"}
	change := events.ResourceChanged{Type: "person", ID: "p1", Revision: "r1", Change: "created"}
	deadline := time.Now().Add(5 * time.Second)
	for !strings.Contains(out.String(), "created person/p1 r1") {
		if time.Now().After(deadline) {
			t.Fatalf("change not printed, output %q", out.String())
		}
		// The subscription may not be in place yet, so keep publishing.
		pub.Publish(ctx, events.Subject(other.Type, other.Change), other)
		pub.Publish(ctx, events.Subject(change.Type, change.Change), change)
		time.Sleep(20 * time.Millisecond)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("watchChanges: %v", err)
	}
	if strings.Contains(out.String(), "car/c1") {
		t.Errorf("change of another type printed: %q", out.String())
	}
}
