// Package session – KeepAlive.
//
// A KeepAlive sends periodic HEAD requests through a session so its
// pooled connection stays warm across gaps in real traffic: without it,
// the engine's persistent timeout closes the idle connection and the
// next request pays a fresh TCP (and possibly TLS) handshake.
package session

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/firasghr/GoHTTPEngine/engine"
	"github.com/firasghr/GoHTTPEngine/wire"
)

// KeepAlive drives background keep-alive requests for one session.
type KeepAlive struct {
	s        *Session
	url      string
	interval time.Duration

	stopCh chan struct{}
	once   sync.Once

	// beats counts successful keep-alive round-trips.
	beats atomic.Int64
}

// NewKeepAlive creates a KeepAlive that HEADs url every interval.
func NewKeepAlive(s *Session, url string, interval time.Duration) *KeepAlive {
	return &KeepAlive{
		s:        s,
		url:      url,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start launches the background goroutine.  Call Stop to end it.
func (k *KeepAlive) Start() {
	go func() {
		ticker := time.NewTicker(k.interval)
		defer ticker.Stop()
		for {
			select {
			case <-k.stopCh:
				return
			case <-ticker.C:
				k.beat()
			}
		}
	}()
}

// beat issues one HEAD and counts it on success.  Failures are ignored;
// the next real request will revalidate or reconnect on its own.
func (k *KeepAlive) beat() {
	done := make(chan struct{})
	k.s.Head(k.url, nil, func(_ []byte, resp *wire.Response) {
		if resp.Status < engine.StatusConnectFailed {
			k.beats.Add(1)
		}
		close(done)
	})
	select {
	case <-done:
	case <-k.stopCh:
	}
}

// Beats reports successful keep-alive round-trips so far.
func (k *KeepAlive) Beats() int64 {
	return k.beats.Load()
}

// Stop ends the keep-alive loop.  Idempotent.
func (k *KeepAlive) Stop() {
	k.once.Do(func() {
		close(k.stopCh)
	})
}
