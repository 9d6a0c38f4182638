// Package testutil holds logging helpers shared by package tests.
package testutil

import (
	"bytes"
	"log/slog"
	"strings"
	"sync"
	"testing"
)

// NewTestLogger returns a debug-level logger that writes through t.Log, so
// output shows only for failing tests or under -v.
func NewTestLogger(t testing.TB) *slog.Logger {
	t.Helper()
	return slog.New(slog.NewTextHandler(&logWriter{t: t}, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// CaptureLogs is NewTestLogger that also keeps every record for assertions.
func CaptureLogs(t testing.TB) (*slog.Logger, *Captured) {
	t.Helper()
	c := &Captured{}
	w := &logWriter{t: t, tee: c}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug})), c
}

// Captured holds the text-handler lines written by a CaptureLogs logger.
type Captured struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

// String returns all captured lines.
func (c *Captured) String() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.String()
}

// Contains reports whether any captured line contains s.
func (c *Captured) Contains(s string) bool {
	return strings.Contains(c.String(), s)
}

type logWriter struct {
	t   testing.TB
	tee *Captured
}

func (w *logWriter) Write(p []byte) (int, error) {
	w.t.Helper()
	if w.tee != nil {
		w.tee.mu.Lock()
		w.tee.buf.Write(p)
		w.tee.mu.Unlock()
	}
	w.t.Log(strings.TrimSuffix(string(p), "\n"))
	return len(p), nil
}
