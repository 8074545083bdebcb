package engine

import (
	"context"
	"io"
	"sync"

	"github.com/firasghr/GoHTTPEngine/conn"
	"github.com/firasghr/GoHTTPEngine/registry"
)

// Handle is the cancellation token returned by Request.  Cancelling
// before completion suppresses the completion callback, removes any
// queued waiter, and tears down a connection attached mid-use.
type Handle struct {
	cancel context.CancelFunc

	mu        sync.Mutex
	cancelled bool
	finished  bool
	teardown  func() // closes the attached conn, set while one is attached
}

// Cancel aborts the request.  It is safe to call at any time, from any
// goroutine, and is a no-op after completion.
func (h *Handle) Cancel() {
	h.mu.Lock()
	if h.finished || h.cancelled {
		h.mu.Unlock()
		return
	}
	h.cancelled = true
	td := h.teardown
	h.mu.Unlock()

	h.cancel()
	if td != nil {
		td()
	}
}

// attach registers the teardown for the currently attached connection.
// Passing nil detaches.
func (h *Handle) attach(td func()) {
	h.mu.Lock()
	h.teardown = td
	h.mu.Unlock()
}

// beginFinish claims the exactly-once completion.  It reports whether the
// caller may invoke the user callback (false when cancelled).  A second
// call never returns true.
func (h *Handle) beginFinish() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.finished {
		return false
	}
	h.finished = true
	h.teardown = nil
	return !h.cancelled
}

// Cancelled reports whether Cancel won the race against completion.
func (h *Handle) Cancelled() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cancelled
}

// BodyHandle is the live response stream handed to the caller when a
// request sets WantBodyHandle.  Once handed off, the engine no longer
// touches the connection, its timers, or its pool slot; the slot stays
// counted against the host until Close.
type BodyHandle struct {
	c    *conn.Conn
	id   registry.Identity
	reg  *registry.Registry
	once sync.Once
}

var _ io.ReadCloser = (*BodyHandle)(nil)

// Read reads raw body bytes off the wire.  Framing is the caller's
// problem by design of the hand-off.
func (b *BodyHandle) Read(p []byte) (int, error) {
	return b.c.Reader().Read(p)
}

// Close destroys the connection and returns its slot to the host
// counter.  It is idempotent.
func (b *BodyHandle) Close() error {
	b.once.Do(func() {
		b.reg.Destroy(b.c, b.id)
	})
	return nil
}
