// Package registry is the process-wide connection pool: it enforces the
// per-host connection cap with FIFO queuing, keeps clean keep-alive
// connections idle for reuse, and expires them when they sit too long.
//
// Concurrency model: one mutex guards all tables.  The registry never
// invokes user code and never holds its lock across blocking I/O, so
// request goroutines may call back into it from anywhere — including from
// inside engine callbacks — without deadlocking.  Waiter hand-off uses
// buffered channels so wake-ups never block the lock holder.
package registry

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/firasghr/GoHTTPEngine/conn"
	"github.com/firasghr/GoHTTPEngine/logger"
	"github.com/firasghr/GoHTTPEngine/metrics"
	"github.com/firasghr/GoHTTPEngine/proxy"
	"github.com/firasghr/GoHTTPEngine/sched"
)

// Identity keys the idle pool.  Two connections are interchangeable iff
// their identities are equal.
type Identity struct {
	Scheme  string
	Host    string // lowercased
	Port    string
	Session string
	ProxyID string
}

// IdentityFor builds the pool key for a request.
func IdentityFor(scheme, host, port, session string, p *proxy.Proxy) Identity {
	return Identity{
		Scheme:  scheme,
		Host:    strings.ToLower(host),
		Port:    port,
		Session: session,
		ProxyID: p.Identity(),
	}
}

// hostKey is the per-host cap key.
func (id Identity) hostKey() string { return id.Host }

// String renders the identity for log lines.
func (id Identity) String() string {
	return fmt.Sprintf("%s://%s:%s sess=%q proxy=%q", id.Scheme, id.Host, id.Port, id.Session, id.ProxyID)
}

type idleEntry struct {
	c     *conn.Conn
	timer *sched.Timer
}

// waiter is one queued admission request.  ch is buffered so delivery
// under the lock never blocks: it receives an idle connection to reuse,
// or nil when a fresh dial slot was granted.
type waiter struct {
	id Identity
	ch chan *conn.Conn
}

// Registry holds the pool state.
type Registry struct {
	mu      sync.Mutex
	idle    map[Identity][]*idleEntry // MRU at the end
	perHost map[string]int            // idle + in-use, per host
	wait    map[string][]*waiter      // FIFO per host

	maxPerHost int
	idleTTL    time.Duration

	log *logger.Logger
	met *metrics.Metrics
}

// New creates a Registry.  log and met may be nil.
func New(maxPerHost int, idleTTL time.Duration, log *logger.Logger, met *metrics.Metrics) *Registry {
	if maxPerHost < 1 {
		maxPerHost = 1
	}
	if log == nil {
		log = logger.Nop()
	}
	if met == nil {
		met = metrics.New()
	}
	return &Registry{
		idle:       map[Identity][]*idleEntry{},
		perHost:    map[string]int{},
		wait:       map[string][]*waiter{},
		maxPerHost: maxPerHost,
		idleTTL:    idleTTL,
		log:        log.WithPrefix("registry"),
		met:        met,
	}
}

// Lease admits a request for id: it returns an idle connection to reuse
// (reused=true), or grants a fresh dial slot (conn=nil, reused=false),
// queuing FIFO behind other requests when the host is at its cap.  With
// allowReuse=false the idle pool is bypassed and only a slot is handed
// out.  Lease fails only when ctx is cancelled while queued.
func (r *Registry) Lease(ctx context.Context, id Identity, allowReuse bool) (*conn.Conn, bool, error) {
	host := id.hostKey()

	r.mu.Lock()
	if allowReuse {
		if c := r.popIdleLocked(id); c != nil {
			r.mu.Unlock()
			r.log.Debugf("reuse idle connection for %s", id)
			return c, true, nil
		}
	}
	if r.perHost[host] < r.maxPerHost {
		r.perHost[host]++
		r.met.ActiveConns.Add(1)
		r.mu.Unlock()
		return nil, false, nil
	}

	w := &waiter{id: id, ch: make(chan *conn.Conn, 1)}
	r.wait[host] = append(r.wait[host], w)
	r.met.Waiters.Add(1)
	r.mu.Unlock()
	r.log.Debugf("host %s at cap, queued", host)

	select {
	case c := <-w.ch:
		return c, c != nil, nil
	case <-ctx.Done():
		r.mu.Lock()
		q := r.wait[host]
		for i, qw := range q {
			if qw == w {
				r.wait[host] = append(q[:i], q[i+1:]...)
				r.met.Waiters.Add(-1)
				r.mu.Unlock()
				return nil, false, ctx.Err()
			}
		}
		r.mu.Unlock()
		// Already granted; hand the grant back before reporting cancel.
		if c := <-w.ch; c != nil {
			r.Release(c, id, true)
		} else {
			r.DialFailed(id)
		}
		return nil, false, ctx.Err()
	}
}

// popIdleLocked takes the most recently used idle connection for id, if
// any, cancelling its expiry timer.  The caller holds r.mu.
func (r *Registry) popIdleLocked(id Identity) *conn.Conn {
	list := r.idle[id]
	if len(list) == 0 {
		return nil
	}
	e := list[len(list)-1]
	if len(list) == 1 {
		delete(r.idle, id)
	} else {
		r.idle[id] = list[:len(list)-1]
	}
	e.timer.Cancel()
	r.met.IdleConns.Add(-1)
	r.met.ActiveConns.Add(1)
	return e.c
}

// wakeLocked releases the head waiter for host, preferring an idle
// connection matching its identity over a fresh slot.  The caller holds
// r.mu.
func (r *Registry) wakeLocked(host string) {
	q := r.wait[host]
	if len(q) == 0 {
		return
	}
	w := q[0]
	if len(q) == 1 {
		delete(r.wait, host)
	} else {
		r.wait[host] = q[1:]
	}
	r.met.Waiters.Add(-1)

	if c := r.popIdleLocked(w.id); c != nil {
		w.ch <- c
		return
	}
	r.perHost[host]++
	r.met.ActiveConns.Add(1)
	w.ch <- nil
}

// Release returns a connection after a completed request.  Reusable
// connections go to the head waiter with the same identity if one is
// queued, otherwise into the idle pool with an expiry of now+idleTTL;
// anything else is destroyed.
func (r *Registry) Release(c *conn.Conn, id Identity, reusable bool) {
	if !reusable {
		r.Destroy(c, id)
		return
	}
	host := id.hostKey()

	r.mu.Lock()
	// Strict FIFO: only the head waiter may be served out of order of
	// slot availability, and only when the connection fits its identity.
	if q := r.wait[host]; len(q) > 0 && q[0].id == id {
		w := q[0]
		if len(q) == 1 {
			delete(r.wait, host)
		} else {
			r.wait[host] = q[1:]
		}
		r.met.Waiters.Add(-1)
		r.mu.Unlock()
		c.SetPhase(conn.PhaseIdle)
		w.ch <- c
		r.log.Debugf("handed connection for %s to queued request", id)
		return
	}

	c.SetPhase(conn.PhaseIdle)
	e := &idleEntry{c: c}
	e.timer = sched.After(r.idleTTL, func() { r.expire(id, e) })
	r.idle[id] = append(r.idle[id], e)
	r.met.ActiveConns.Add(-1)
	r.met.IdleConns.Add(1)
	r.mu.Unlock()
	r.log.Debugf("pooled connection for %s", id)
}

// expire closes one idle connection when its deadline fires.  The entry
// may already have been leased out again; then this is a no-op.
func (r *Registry) expire(id Identity, e *idleEntry) {
	host := id.hostKey()

	r.mu.Lock()
	list := r.idle[id]
	found := false
	for i, le := range list {
		if le == e {
			r.idle[id] = append(list[:i], list[i+1:]...)
			if len(r.idle[id]) == 0 {
				delete(r.idle, id)
			}
			found = true
			break
		}
	}
	if !found {
		r.mu.Unlock()
		return
	}
	r.perHost[host]--
	if r.perHost[host] == 0 {
		delete(r.perHost, host)
	}
	r.met.IdleConns.Add(-1)
	r.wakeLocked(host)
	r.mu.Unlock()

	_ = e.c.Close()
	r.log.Debugf("expired idle connection for %s", id)
}

// Destroy closes a leased connection, frees its host slot, and wakes the
// next waiter.
func (r *Registry) Destroy(c *conn.Conn, id Identity) {
	host := id.hostKey()

	r.mu.Lock()
	r.perHost[host]--
	if r.perHost[host] == 0 {
		delete(r.perHost, host)
	}
	r.met.ActiveConns.Add(-1)
	r.wakeLocked(host)
	r.mu.Unlock()

	_ = c.Close()
}

// DialFailed frees the slot granted by Lease when the dial never produced
// a connection.
func (r *Registry) DialFailed(id Identity) {
	host := id.hostKey()
	r.mu.Lock()
	r.perHost[host]--
	if r.perHost[host] == 0 {
		delete(r.perHost, host)
	}
	r.met.ActiveConns.Add(-1)
	r.wakeLocked(host)
	r.mu.Unlock()
}

// Stats is a point-in-time view of the pool for observers.
type Stats struct {
	Idle    int
	PerHost map[string]int
	Waiters int
}

// Snapshot returns current pool occupancy.
func (r *Registry) Snapshot() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := Stats{PerHost: map[string]int{}}
	for _, list := range r.idle {
		s.Idle += len(list)
	}
	for h, n := range r.perHost {
		s.PerHost[h] = n
	}
	for _, q := range r.wait {
		s.Waiters += len(q)
	}
	return s
}

// CloseIdle tears down every pooled connection, for engine shutdown.
func (r *Registry) CloseIdle() {
	r.mu.Lock()
	var victims []*idleEntry
	for id, list := range r.idle {
		host := id.hostKey()
		for _, e := range list {
			e.timer.Cancel()
			r.perHost[host]--
			r.met.IdleConns.Add(-1)
			victims = append(victims, e)
		}
		if r.perHost[host] == 0 {
			delete(r.perHost, host)
		}
		delete(r.idle, id)
	}
	r.mu.Unlock()

	for _, e := range victims {
		_ = e.c.Close()
	}
}
