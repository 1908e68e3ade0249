package testutils

import (
	"context"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

// ExpectedRecord is a log record expected to be emitted.
type ExpectedRecord struct {
	Level   slog.Level
	Message string
}

// Compare asserts that have matches the expected level and contains the expected message.
func (want ExpectedRecord) Compare(t *testing.T, have slog.Record) {
	t.Helper()

	assert.Equal(t, want.Level, have.Level, "Expected Level did not match real Level")

	if want.Message == "" {
		return
	}
	assert.Contains(t, have.Message, want.Message, "Real Message does not contain Expected")
}

// MockHandler records every record it handles.
type MockHandler struct {
	mu    sync.Mutex
	attrs []slog.Attr

	HandleCalls []slog.Record
}

// NewMockHandler returns a new MockHandler.
func NewMockHandler() *MockHandler {
	return &MockHandler{}
}

// Enabled implements Handler.Enabled.
func (h *MockHandler) Enabled(context.Context, slog.Level) bool {
	return true
}

// Handle implements Handler.Handle.
func (h *MockHandler) Handle(_ context.Context, record slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	r := record.Clone()
	r.AddAttrs(h.attrs...)
	h.HandleCalls = append(h.HandleCalls, r)
	return nil
}

// WithAttrs implements Handler.WithAttrs.
//
// Attributes are shared by every derived handler so that records logged through a
// child logger are still collected here.
func (h *MockHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &childHandler{parent: h, attrs: attrs}
}

// WithGroup implements Handler.WithGroup.
func (h *MockHandler) WithGroup(string) slog.Handler {
	return h
}

// Records returns a copy of the handled records.
func (h *MockHandler) Records() []slog.Record {
	h.mu.Lock()
	defer h.mu.Unlock()

	return append([]slog.Record(nil), h.HandleCalls...)
}

// Messages returns the messages of the handled records at or above level.
func (h *MockHandler) Messages(level slog.Level) []string {
	var msgs []string
	for _, r := range h.Records() {
		if r.Level >= level {
			msgs = append(msgs, r.Message)
		}
	}
	return msgs
}

type childHandler struct {
	parent *MockHandler
	attrs  []slog.Attr
}

func (c *childHandler) Enabled(ctx context.Context, l slog.Level) bool {
	return c.parent.Enabled(ctx, l)
}

func (c *childHandler) Handle(ctx context.Context, record slog.Record) error {
	r := record.Clone()
	r.AddAttrs(c.attrs...)
	return c.parent.Handle(ctx, r)
}

func (c *childHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &childHandler{parent: c.parent, attrs: append(append([]slog.Attr(nil), c.attrs...), attrs...)}
}

func (c *childHandler) WithGroup(string) slog.Handler {
	return c
}
