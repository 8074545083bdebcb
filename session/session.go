// Package session provides the Session type: one independent browsing
// identity over the engine.  Each session owns its own cookie jar, proxy
// assignment, default headers, and pool partition tag, so it never
// shares connections or cookies with any other session.
package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/firasghr/GoHTTPEngine/cookiejar"
	"github.com/firasghr/GoHTTPEngine/engine"
	"github.com/firasghr/GoHTTPEngine/proxy"
)

// Session represents one independent identity issuing requests through a
// shared engine.
//
// Architecture notes:
//   - The engine's idle pool is partitioned by the session tag, so two
//     sessions never reuse each other's connections even when they talk
//     to the same host — important when the sessions ride different
//     proxies or carry different cookies.
//   - A sync.RWMutex protects the mutable fields (Headers, State,
//     LastActivity) so callers may safely read/write from multiple
//     goroutines.  CreatedAt is set once and never mutated.
type Session struct {
	// ID uniquely identifies the session.
	ID int

	// Tag is the pool partition tag, derived from ID at construction.
	Tag string

	// Jar stores this session's cookies; it is attached to every request
	// the session issues.
	Jar *cookiejar.Jar

	// Proxy is this session's proxy, or nil to follow the engine
	// default.  Stored at construction; requests pin it explicitly so a
	// later engine-default change never migrates a live session.
	Proxy *proxy.Proxy

	// Headers are default headers injected into every request; a
	// request's own headers win on conflict.
	Headers map[string]string

	// State is the lifecycle state: "idle", "active", "closed".
	State string

	// CreatedAt records construction time.
	CreatedAt time.Time

	// LastActivity records the most recent request dispatch.
	LastActivity time.Time

	eng *engine.Engine
	mu  sync.RWMutex // guards Headers, State, LastActivity
}

// New constructs a Session bound to eng.  prx may be nil to use the
// engine's default proxy.
func New(id int, eng *engine.Engine, prx *proxy.Proxy) (*Session, error) {
	if eng == nil {
		return nil, fmt.Errorf("session %d: engine must not be nil", id)
	}
	now := time.Now()
	return &Session{
		ID:           id,
		Tag:          fmt.Sprintf("session-%d", id),
		Jar:          cookiejar.New(),
		Proxy:        prx,
		Headers:      make(map[string]string),
		State:        "idle",
		CreatedAt:    now,
		LastActivity: now,
		eng:          eng,
	}, nil
}

// Request dispatches a request through the engine with this session's
// jar, tag, proxy, and default headers applied.  opts may be nil; a
// non-nil opts is copied, never mutated.
func (s *Session) Request(method, rawurl string, opts *engine.Options, done engine.CompleteFunc) *engine.Handle {
	var o engine.Options
	if opts != nil {
		o = *opts
	}
	o.Jar = s.Jar
	o.Session = s.Tag
	if o.Proxy == nil {
		o.Proxy = s.Proxy
	}

	// Session defaults under a read-lock; request headers win.
	s.mu.RLock()
	if len(s.Headers) > 0 {
		merged := make(map[string]string, len(s.Headers)+len(o.Header))
		for k, v := range s.Headers {
			merged[k] = v
		}
		for k, v := range o.Header {
			merged[k] = v
		}
		o.Header = merged
	}
	s.mu.RUnlock()

	s.UpdateLastActivity()
	return s.eng.Request(method, rawurl, &o, done)
}

// Get issues a GET through the session.
func (s *Session) Get(rawurl string, opts *engine.Options, done engine.CompleteFunc) *engine.Handle {
	return s.Request("GET", rawurl, opts, done)
}

// Head issues a HEAD through the session.
func (s *Session) Head(rawurl string, opts *engine.Options, done engine.CompleteFunc) *engine.Handle {
	return s.Request("HEAD", rawurl, opts, done)
}

// Post issues a POST with body through the session.
func (s *Session) Post(rawurl string, body []byte, opts *engine.Options, done engine.CompleteFunc) *engine.Handle {
	var o engine.Options
	if opts != nil {
		o = *opts
	}
	o.Body = body
	return s.Request("POST", rawurl, &o, done)
}

// SetHeader sets a default header for all subsequent requests.
func (s *Session) SetHeader(key, value string) {
	s.mu.Lock()
	s.Headers[key] = value
	s.mu.Unlock()
}

// SetState transitions the session's lifecycle state.
func (s *Session) SetState(state string) {
	s.mu.Lock()
	s.State = state
	s.mu.Unlock()
}

// GetState returns the current lifecycle state.
func (s *Session) GetState() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.State
}

// UpdateLastActivity stamps the session as just-used.
func (s *Session) UpdateLastActivity() {
	s.mu.Lock()
	s.LastActivity = time.Now()
	s.mu.Unlock()
}

// Idle reports how long ago the session last issued a request.
func (s *Session) Idle() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return time.Since(s.LastActivity)
}
