// Package engine drives HTTP/1.x requests from admission to completion.
//
// Each request runs as its own goroutine-hosted state machine: it leases
// a connection from the shared registry (queueing FIFO when the host is
// at its connection cap), writes the request, parses the response
// incrementally, follows redirects with the standard method-mutation
// rules, and finally invokes the caller's completion callback exactly
// once.  Local failures never surface as Go errors — they are folded
// into the response as the 595–599 pseudo statuses, so a caller watches
// exactly one channel of results.
//
// The free functions Request, Get, Head and Post bind to a lazily
// created default Engine whose proxy is seeded once from the lowercase
// http_proxy environment variable.  Tests and embedders construct their
// own Engine instead.
package engine

import (
	"fmt"
	"sync"

	"github.com/firasghr/GoHTTPEngine/config"
	"github.com/firasghr/GoHTTPEngine/conn"
	"github.com/firasghr/GoHTTPEngine/logger"
	"github.com/firasghr/GoHTTPEngine/metrics"
	"github.com/firasghr/GoHTTPEngine/proxy"
	"github.com/firasghr/GoHTTPEngine/registry"
	"github.com/firasghr/GoHTTPEngine/wire"
)

// Pseudo status codes injected on local failure.
const (
	// StatusConnectFailed covers DNS, TCP connect and proxy CONNECT
	// failures, including timeouts while connecting.
	StatusConnectFailed = 595

	// StatusRequestFailed covers TLS handshake, request send, and
	// status/header parse failures.
	StatusRequestFailed = 596

	// StatusBodyFailed covers transport and decode failures while
	// reading the response body.
	StatusBodyFailed = 597

	// StatusAborted is reported when an on-header or on-body callback
	// asked to stop.
	StatusAborted = 598

	// StatusLogicError covers non-retryable local errors: bad URLs,
	// unsupported schemes, exhausted redirect budgets.
	StatusLogicError = 599
)

// CompleteFunc receives the final outcome of a request: the decoded body
// (nil on failure) and the response carrying real or pseudo status.
// It is invoked exactly once, unless the request was cancelled first.
type CompleteFunc func(body []byte, resp *wire.Response)

// Engine is a process-scoped request engine: it owns the connection
// registry, counters, and defaults.  All methods are safe for concurrent
// use.
type Engine struct {
	cfg *config.Config
	reg *registry.Registry
	log *logger.Logger
	met *metrics.Metrics

	mu           sync.Mutex
	defaultProxy *proxy.Proxy

	resolve conn.ResolveFunc
	connect conn.ConnectFunc
}

// New constructs an Engine from cfg.  A nil cfg means DefaultConfig; a
// nil log discards.  The default proxy comes from cfg.ProxyURL, or from
// the lowercase http_proxy environment variable when that is empty.
func New(cfg *config.Config, log *logger.Logger) (*Engine, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}
	if log == nil {
		log = logger.Nop()
	}
	met := metrics.New()

	e := &Engine{
		cfg:     cfg,
		log:     log.WithPrefix("engine"),
		met:     met,
		reg:     registry.New(cfg.MaxPerHost, cfg.PersistentTimeout, log, met),
		resolve: conn.DefaultResolve,
		connect: conn.DefaultConnect,
	}
	if cfg.ProxyURL != "" {
		p, err := proxy.Parse(cfg.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("engine: default proxy: %w", err)
		}
		e.defaultProxy = p
	} else {
		e.defaultProxy = proxy.FromEnv()
	}
	return e, nil
}

// SetDefaultProxy replaces the engine-wide default proxy.  nil means
// direct connections.
func (e *Engine) SetDefaultProxy(p *proxy.Proxy) {
	e.mu.Lock()
	e.defaultProxy = p
	e.mu.Unlock()
}

// DefaultProxy returns the engine-wide default proxy, or nil for direct.
func (e *Engine) DefaultProxy() *proxy.Proxy {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.defaultProxy
}

// Metrics exposes the engine's counters.
func (e *Engine) Metrics() *metrics.Metrics { return e.met }

// Active is the number of connections currently outside the idle pool.
func (e *Engine) Active() int64 { return e.met.ActiveConns.Load() }

// PoolSnapshot reports current registry occupancy for observers.
func (e *Engine) PoolSnapshot() registry.Stats { return e.reg.Snapshot() }

// Shutdown closes every idle pooled connection.  In-flight requests are
// not interrupted; cancel their handles for that.
func (e *Engine) Shutdown() {
	e.reg.CloseIdle()
}

// ── Default instance ────────────────────────────────────────────────────

var (
	defaultOnce   sync.Once
	defaultEngine *Engine
)

// Default returns the process-wide engine, creating it on first use with
// DefaultConfig and the environment-seeded proxy.
func Default() *Engine {
	defaultOnce.Do(func() {
		e, err := New(config.DefaultConfig(), logger.Nop())
		if err != nil {
			// DefaultConfig always validates; reaching this is a bug.
			panic(err)
		}
		defaultEngine = e
	})
	return defaultEngine
}

// Active reports the default engine's connections outside the idle pool.
func Active() int64 {
	return Default().Active()
}

// Request issues a request on the default engine.
func Request(method, rawurl string, opts *Options, done CompleteFunc) *Handle {
	return Default().Request(method, rawurl, opts, done)
}

// Get issues a GET on the default engine.
func Get(rawurl string, opts *Options, done CompleteFunc) *Handle {
	return Default().Get(rawurl, opts, done)
}

// Head issues a HEAD on the default engine.
func Head(rawurl string, opts *Options, done CompleteFunc) *Handle {
	return Default().Head(rawurl, opts, done)
}

// Post issues a POST with body on the default engine.
func Post(rawurl string, body []byte, opts *Options, done CompleteFunc) *Handle {
	return Default().Post(rawurl, body, opts, done)
}

// Get issues a GET request.
func (e *Engine) Get(rawurl string, opts *Options, done CompleteFunc) *Handle {
	return e.Request("GET", rawurl, opts, done)
}

// Head issues a HEAD request.
func (e *Engine) Head(rawurl string, opts *Options, done CompleteFunc) *Handle {
	return e.Request("HEAD", rawurl, opts, done)
}

// Post issues a POST request carrying body.
func (e *Engine) Post(rawurl string, body []byte, opts *Options, done CompleteFunc) *Handle {
	var o Options
	if opts != nil {
		o = *opts
	}
	o.Body = body
	return e.Request("POST", rawurl, &o, done)
}
