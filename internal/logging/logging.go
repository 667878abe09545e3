// Package logging installs the process-wide slog handler.
//
// With a log file configured, records are appended to it as JSON lines
// written by zerolog. Otherwise they go to stderr as text. Either way every
// record carries a msg_seq counter.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"

	"github.com/rs/zerolog"
)

const filePermission = 0o664

// ParseLevel maps debug, info, warn and error to slog levels. The empty
// string is info.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("unknown log level %q", s)
}

// Setup builds the handler for path and level and makes it the slog
// default. The returned closer releases the log file, if any.
func Setup(path, level string) (io.Closer, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}
	if path == "" {
		slog.SetDefault(slog.New(Sequenced(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))))
		return nopCloser{}, nil
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, filePermission)
	if err != nil {
		return nil, fmt.Errorf("opening log file: %w", err)
	}
	slog.SetDefault(slog.New(Sequenced(NewHandler(zerolog.SyncWriter(f), lvl))))
	return f, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// Handler is a slog.Handler that renders records with zerolog.
type Handler struct {
	zl     zerolog.Logger
	level  slog.Leveler
	attrs  []prefixed
	prefix string
}

type prefixed struct {
	prefix string
	attr   slog.Attr
}

// NewHandler returns a handler writing timestamped JSON lines to w.
func NewHandler(w io.Writer, level slog.Leveler) *Handler {
	if level == nil {
		level = slog.LevelInfo
	}
	return &Handler{zl: zerolog.New(w).With().Timestamp().Logger(), level: level}
}

func (h *Handler) Enabled(_ context.Context, l slog.Level) bool {
	return l >= h.level.Level()
}

func (h *Handler) Handle(_ context.Context, r slog.Record) error {
	ev := h.zl.WithLevel(zerologLevel(r.Level))
	for _, a := range h.attrs {
		appendAttr(ev, a.prefix, a.attr)
	}
	r.Attrs(func(a slog.Attr) bool {
		appendAttr(ev, h.prefix, a)
		return true
	})
	ev.Msg(r.Message)
	return nil
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	h2 := *h
	h2.attrs = make([]prefixed, len(h.attrs), len(h.attrs)+len(attrs))
	copy(h2.attrs, h.attrs)
	for _, a := range attrs {
		h2.attrs = append(h2.attrs, prefixed{h.prefix, a})
	}
	return &h2
}

func (h *Handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	h2 := *h
	h2.prefix = h.prefix + name + "."
	return &h2
}

func zerologLevel(l slog.Level) zerolog.Level {
	switch {
	case l >= slog.LevelError:
		return zerolog.ErrorLevel
	case l >= slog.LevelWarn:
		return zerolog.WarnLevel
	case l >= slog.LevelInfo:
		return zerolog.InfoLevel
	}
	return zerolog.DebugLevel
}

func appendAttr(ev *zerolog.Event, prefix string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}
	key := prefix + a.Key
	v := a.Value
	switch v.Kind() {
	case slog.KindString:
		ev.Str(key, v.String())
	case slog.KindInt64:
		ev.Int64(key, v.Int64())
	case slog.KindUint64:
		ev.Uint64(key, v.Uint64())
	case slog.KindFloat64:
		ev.Float64(key, v.Float64())
	case slog.KindBool:
		ev.Bool(key, v.Bool())
	case slog.KindDuration:
		ev.Dur(key, v.Duration())
	case slog.KindTime:
		ev.Time(key, v.Time())
	case slog.KindGroup:
		inner := key + "."
		if a.Key == "" {
			inner = prefix
		}
		for _, g := range v.Group() {
			appendAttr(ev, inner, g)
		}
	default:
		if err, ok := v.Any().(error); ok {
			ev.AnErr(key, err)
			return
		}
		ev.Interface(key, v.Any())
	}
}

// Sequenced wraps h so that every record gets a msg_seq attribute from a
// counter shared by all handlers derived from the result.
func Sequenced(h slog.Handler) slog.Handler {
	return &sequenced{inner: h, seq: new(atomic.Int64)}
}

type sequenced struct {
	inner slog.Handler
	seq   *atomic.Int64
}

func (s *sequenced) Enabled(ctx context.Context, l slog.Level) bool {
	return s.inner.Enabled(ctx, l)
}

func (s *sequenced) Handle(ctx context.Context, r slog.Record) error {
	r = r.Clone()
	r.AddAttrs(slog.Int64("msg_seq", s.seq.Add(1)))
	return s.inner.Handle(ctx, r)
}

func (s *sequenced) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &sequenced{inner: s.inner.WithAttrs(attrs), seq: s.seq}
}

func (s *sequenced) WithGroup(name string) slog.Handler {
	return &sequenced{inner: s.inner.WithGroup(name), seq: s.seq}
}
