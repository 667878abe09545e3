// Package sync periodically exports every resource as JSONL to S3 and
// local files.
package sync

import (
	"bytes"
	"context"
	"log/slog"
	"sync"
	"time"
)

// Destination is the interface for an export target (S3, local file).
type Destination interface {
	// Write stores the JSONL payload.
	Write(ctx context.Context, data []byte) error
	// String names the destination in logs.
	String() string
}

// Scheduler runs periodic exports to one or more destinations.
type Scheduler struct {
	sources      []Source
	destinations []Destination
	interval     time.Duration
	logger       *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler creates a scheduler that exports sources to the given
// destinations at the specified interval.
func NewScheduler(sources []Source, destinations []Destination, interval time.Duration, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		sources:      sources,
		destinations: destinations,
		interval:     interval,
		logger:       logger,
	}
}

// Start begins periodic export. It exports once immediately, then on each
// tick.
func (s *Scheduler) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(ctx)
	}()
}

// Stop cancels the scheduler and waits for the current export (if any) to
// finish.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

// Run exports on every tick until ctx is done. It is the blocking form of
// Start for callers that manage their own goroutines.
func (s *Scheduler) Run(ctx context.Context) error {
	s.run(ctx)
	return nil
}

func (s *Scheduler) run(ctx context.Context) {
	s.ExportOnce(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.ExportOnce(ctx)
		}
	}
}

// ExportOnce exports once to every destination. Failures are logged; one
// failing destination does not stop the others.
func (s *Scheduler) ExportOnce(ctx context.Context) {
	var buf bytes.Buffer
	if err := ExportJSONL(ctx, s.sources, &buf); err != nil {
		s.logger.Error("export failed", "err", err)
		return
	}
	data := buf.Bytes()

	failed := 0
	for _, dest := range s.destinations {
		if err := dest.Write(ctx, data); err != nil {
			failed++
			s.logger.Error("export destination write failed", "destination", dest.String(), "err", err)
		}
	}

	s.logger.Info("export completed",
		"destinations", len(s.destinations),
		"failed", failed,
		"bytes", len(data),
		"sources", len(s.sources),
	)
}
