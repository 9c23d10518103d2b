package logger

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Closer flushes and stops a handler's background work.
type Closer interface {
	Close()
}

type nopCloser struct{}

func (nopCloser) Close() {}

// asyncItem pairs a record with the handler that accepted it, so attrs
// and groups added via WithAttrs/WithGroup survive the queue hop.
type asyncItem struct {
	rec   slog.Record
	inner slog.Handler
}

// asyncCore is the queue shared by an AsyncHandler and every handler
// derived from it via WithAttrs or WithGroup.
type asyncCore struct {
	queue   chan asyncItem
	workers sync.WaitGroup
	dropped atomic.Int64
}

// AsyncHandler decouples log emission from log writing: Handle enqueues
// onto a bounded channel and a worker pool writes to the inner handler.
// When the queue is full, records are dropped rather than blocking the
// caller.
type AsyncHandler struct {
	inner slog.Handler
	core  *asyncCore
}

// NewAsyncHandler starts an AsyncHandler with the given queue capacity
// and worker count.
func NewAsyncHandler(inner slog.Handler, queueSize, workers int) *AsyncHandler {
	h := &AsyncHandler{
		inner: inner,
		core:  &asyncCore{queue: make(chan asyncItem, queueSize)},
	}
	for range workers {
		h.core.workers.Add(1)
		go h.drain()
	}
	return h
}

func (h *AsyncHandler) drain() {
	defer h.core.workers.Done()
	for item := range h.core.queue {
		_ = item.inner.Handle(context.Background(), item.rec)
	}
}

// Enabled delegates to the inner handler.
func (h *AsyncHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

// Handle enqueues the record, dropping it when the queue is full.
func (h *AsyncHandler) Handle(_ context.Context, rec slog.Record) error { //nolint:gocritic // slog.Handler interface requires value receiver
	select {
	case h.core.queue <- asyncItem{rec: rec, inner: h.inner}:
	default:
		h.core.dropped.Add(1)
	}
	return nil
}

// WithAttrs returns a handler sharing this handler's queue.
func (h *AsyncHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &AsyncHandler{inner: h.inner.WithAttrs(attrs), core: h.core}
}

// WithGroup returns a handler sharing this handler's queue.
func (h *AsyncHandler) WithGroup(name string) slog.Handler {
	return &AsyncHandler{inner: h.inner.WithGroup(name), core: h.core}
}

// DroppedCount reports how many records were discarded on a full queue.
func (h *AsyncHandler) DroppedCount() int64 {
	return h.core.dropped.Load()
}

// Close stops the workers after draining every enqueued record.
func (h *AsyncHandler) Close() {
	close(h.core.queue)
	h.core.workers.Wait()
}
