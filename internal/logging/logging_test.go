package logging

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func decodeLines(t *testing.T, b []byte) []map[string]any {
	t.Helper()
	var out []map[string]any
	sc := bufio.NewScanner(bytes.NewReader(b))
	for sc.Scan() {
		var m map[string]any
		if err := json.Unmarshal(sc.Bytes(), &m); err != nil {
			t.Fatalf("line %q is not JSON: %v", sc.Text(), err)
		}
		out = append(out, m)
	}
	return out
}

func TestParseLevel(t *testing.T) {
	for _, tc := range []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"", slog.LevelInfo, false},
		{"debug", slog.LevelDebug, false},
		{"INFO", slog.LevelInfo, false},
		{"warning", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"loud", 0, true},
	} {
		got, err := ParseLevel(tc.in)
		if (err != nil) != tc.wantErr {
			t.Errorf("ParseLevel(%q) error = %v, wantErr %v", tc.in, err, tc.wantErr)
			continue
		}
		if got != tc.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestHandler(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(Sequenced(NewHandler(&buf, slog.LevelInfo)))

	log.Debug("hidden")
	log.Info("sql-transaction", "steps", 3, "outcome", "commit", "took", 1500*time.Microsecond)
	log.With("type", "person").WithGroup("req").Warn("http-request", "status", 404, "err", errors.New("boom"))

	lines := decodeLines(t, buf.Bytes())
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2: %s", len(lines), buf.String())
	}

	first := lines[0]
	if first["message"] != "sql-transaction" || first["level"] != "info" {
		t.Errorf("first = %v", first)
	}
	if first["steps"] != float64(3) || first["outcome"] != "commit" {
		t.Errorf("attrs = %v", first)
	}
	if _, ok := first["time"]; !ok {
		t.Error("missing timestamp")
	}
	if first["msg_seq"] != float64(1) {
		t.Errorf("msg_seq = %v, want 1", first["msg_seq"])
	}

	second := lines[1]
	if second["level"] != "warn" || second["type"] != "person" {
		t.Errorf("second = %v", second)
	}
	if second["req.status"] != float64(404) || second["req.err"] != "boom" {
		t.Errorf("grouped attrs = %v", second)
	}
	if second["req.msg_seq"] != float64(2) {
		t.Errorf("msg_seq = %v, want 2", second["req.msg_seq"])
	}
}

func TestSequencedConcurrent(t *testing.T) {
	var buf bytes.Buffer
	var mu sync.Mutex
	log := slog.New(Sequenced(NewHandler(lockedWriter{&mu, &buf}, slog.LevelInfo)))

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Info("tick")
		}()
	}
	wg.Wait()

	seen := map[float64]bool{}
	for _, m := range decodeLines(t, buf.Bytes()) {
		seen[m["msg_seq"].(float64)] = true
	}
	for i := 1; i <= n; i++ {
		if !seen[float64(i)] {
			t.Errorf("msg_seq %d missing", i)
		}
	}
}

type lockedWriter struct {
	mu  *sync.Mutex
	buf *bytes.Buffer
}

func (w lockedWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.Write(p)
}

func TestSetupFile(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	path := filepath.Join(t.TempDir(), "qvarn.log")
	if err := os.WriteFile(path, []byte("{\"message\":\"earlier\"}\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	closer, err := Setup(path, "debug")
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	slog.Debug("storage-prepared", "type", "person")
	if err := closer.Close(); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	lines := decodeLines(t, data)
	if len(lines) != 2 || lines[0]["message"] != "earlier" || lines[1]["message"] != "storage-prepared" {
		t.Errorf("log file = %s", data)
	}
}

func TestSetupBadLevel(t *testing.T) {
	if _, err := Setup("", "chatty"); err == nil {
		t.Fatal("expected error for unknown level")
	}
}
