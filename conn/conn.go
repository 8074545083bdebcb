// Package conn owns one TCP (optionally TLS) link to an origin or proxy.
//
// A Conn wraps the raw stream with a buffered reader and an inactivity
// deadline: every read and write arms the deadline anew, so the engine's
// per-request timeout is an idle timeout rather than a total-transfer
// cap.  The dial path runs the full ladder a request may need — resolve,
// TCP connect, HTTP CONNECT through a proxy, TLS — and tags each rung's
// failures with a distinct error kind so the engine can map them onto its
// pseudo status codes.
package conn

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/firasghr/GoHTTPEngine/proxy"
	"github.com/firasghr/GoHTTPEngine/tlsutil"
	"github.com/firasghr/GoHTTPEngine/wire"
)

// Phase is where a connection currently is in its lifecycle.
type Phase int32

const (
	PhaseConnecting Phase = iota
	PhaseProxyCONNECT
	PhaseTLSHandshake
	PhaseIdle
	PhaseWriting
	PhaseReadingStatus
	PhaseReadingHeaders
	PhaseReadingBody
	PhaseClosed
)

// String returns the phase name for log lines.
func (p Phase) String() string {
	switch p {
	case PhaseConnecting:
		return "connecting"
	case PhaseProxyCONNECT:
		return "proxy-connect"
	case PhaseTLSHandshake:
		return "tls-handshake"
	case PhaseIdle:
		return "idle"
	case PhaseWriting:
		return "writing"
	case PhaseReadingStatus:
		return "reading-status"
	case PhaseReadingHeaders:
		return "reading-headers"
	case PhaseReadingBody:
		return "reading-body"
	case PhaseClosed:
		return "closed"
	}
	return "unknown"
}

// Error kinds, one per rung of the dial ladder.  The engine maps the
// first three to status 595 and ErrTLSHandshake to 596.
var (
	ErrResolve        = errors.New("conn: resolve failed")
	ErrConnect        = errors.New("conn: connect failed")
	ErrProxyHandshake = errors.New("conn: proxy CONNECT failed")
	ErrTLSHandshake   = errors.New("conn: TLS handshake failed")
)

// ResolveFunc turns a hostname into candidate addresses.
type ResolveFunc func(ctx context.Context, host string) ([]string, error)

// ConnectFunc establishes a raw TCP stream.  The default is a plain
// net.Dialer; callers may substitute their own per request.
type ConnectFunc func(ctx context.Context, network, addr string) (net.Conn, error)

// DefaultResolve resolves via the process resolver.
func DefaultResolve(ctx context.Context, host string) ([]string, error) {
	return net.DefaultResolver.LookupHost(ctx, host)
}

// DefaultConnect dials with a zero net.Dialer.
func DefaultConnect(ctx context.Context, network, addr string) (net.Conn, error) {
	var d net.Dialer
	return d.DialContext(ctx, network, addr)
}

// Conn is one live connection.
type Conn struct {
	nc net.Conn
	br *bufio.Reader

	mu      sync.Mutex
	phase   Phase
	dirty   bool
	timeout time.Duration

	closeOnce sync.Once
}

// timedReader arms the read deadline before every read and marks the
// connection dirty on any read error, EOF included — a half-closed peer
// makes the link unusable for a next request either way.
type timedReader struct {
	c *Conn
}

func (r timedReader) Read(p []byte) (int, error) {
	r.c.armReadDeadline()
	n, err := r.c.nc.Read(p)
	if err != nil {
		r.c.MarkDirty()
	}
	return n, err
}

func (c *Conn) armReadDeadline() {
	c.mu.Lock()
	d := c.timeout
	c.mu.Unlock()
	if d > 0 {
		_ = c.nc.SetReadDeadline(time.Now().Add(d))
	} else {
		_ = c.nc.SetReadDeadline(time.Time{})
	}
}

// Reader returns the buffered reader over the (possibly TLS) stream.
func (c *Conn) Reader() *bufio.Reader { return c.br }

// NetConn exposes the underlying stream for ownership hand-off.
func (c *Conn) NetConn() net.Conn { return c.nc }

// Write sends p, arming the write deadline first.  Any error marks the
// connection dirty.
func (c *Conn) Write(p []byte) (int, error) {
	c.mu.Lock()
	d := c.timeout
	c.mu.Unlock()
	if d > 0 {
		_ = c.nc.SetWriteDeadline(time.Now().Add(d))
	} else {
		_ = c.nc.SetWriteDeadline(time.Time{})
	}
	n, err := c.nc.Write(p)
	if err != nil {
		c.MarkDirty()
	}
	return n, err
}

// SetTimeout changes the inactivity timeout applied to subsequent reads
// and writes.  Zero disables deadlines entirely (used when the stream is
// handed off to the caller).
func (c *Conn) SetTimeout(d time.Duration) {
	c.mu.Lock()
	c.timeout = d
	c.mu.Unlock()
}

// SetPhase records the connection's current lifecycle phase.
func (c *Conn) SetPhase(p Phase) {
	c.mu.Lock()
	c.phase = p
	c.mu.Unlock()
}

// Phase returns the current lifecycle phase.
func (c *Conn) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// MarkDirty flags the connection as unusable for reuse.
func (c *Conn) MarkDirty() {
	c.mu.Lock()
	c.dirty = true
	c.mu.Unlock()
}

// Dirty reports whether any I/O error occurred on the connection.
func (c *Conn) Dirty() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dirty
}

// Buffered reports bytes already read off the wire but not yet consumed.
// A connection with buffered response bytes was not fully drained and
// must not be reused.
func (c *Conn) Buffered() int { return c.br.Buffered() }

// Close shuts the stream down.  It is idempotent.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.SetPhase(PhaseClosed)
		err = c.nc.Close()
	})
	return err
}

// IsTimeout reports whether err is a deadline expiry.
func IsTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// DialConfig describes one dial attempt.
type DialConfig struct {
	// Scheme and Host/Port name the origin.
	Scheme string
	Host   string
	Port   string

	// Proxy, when non-nil (and not the direct sentinel), is dialled
	// instead of the origin; https origins additionally get a CONNECT
	// tunnel through it.
	Proxy *proxy.Proxy

	// Resolve and Connect default to DefaultResolve / DefaultConnect.
	Resolve ResolveFunc
	Connect ConnectFunc

	// TLS is the profile for https origins; the zero value is Low.
	TLS tlsutil.Profile

	// Timeout bounds each rung of the dial ladder and becomes the
	// connection's inactivity timeout.
	Timeout time.Duration

	// MaxReadSize is the read buffer size hint.
	MaxReadSize int

	// OnPrepare, when set, receives the raw TCP stream right after
	// connect, before any proxy or TLS bytes — the place to set socket
	// options.
	OnPrepare func(net.Conn)
}

// Dial establishes a connection per cfg, running CONNECT and TLS as the
// scheme and proxy demand.  Errors wrap one of the package's error kinds.
func Dial(ctx context.Context, cfg DialConfig) (*Conn, error) {
	if cfg.Resolve == nil {
		cfg.Resolve = DefaultResolve
	}
	if cfg.Connect == nil {
		cfg.Connect = DefaultConnect
	}
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	viaProxy := !cfg.Proxy.IsNone()

	var nc net.Conn
	var err error
	if viaProxy {
		// The proxy address resolves through the dialer itself.
		nc, err = cfg.Connect(ctx, "tcp", cfg.Proxy.Addr())
		if err != nil {
			return nil, fmt.Errorf("%w: proxy %s: %v", ErrConnect, cfg.Proxy.Addr(), err)
		}
	} else {
		addrs, rerr := cfg.Resolve(ctx, cfg.Host)
		if rerr != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrResolve, cfg.Host, rerr)
		}
		if len(addrs) == 0 {
			return nil, fmt.Errorf("%w: %s: no addresses", ErrResolve, cfg.Host)
		}
		for _, a := range addrs {
			nc, err = cfg.Connect(ctx, "tcp", net.JoinHostPort(a, cfg.Port))
			if err == nil {
				break
			}
		}
		if nc == nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrConnect, cfg.Host, err)
		}
	}

	if cfg.OnPrepare != nil {
		cfg.OnPrepare(nc)
	}

	if viaProxy && cfg.Scheme == "https" {
		if err := connectTunnel(nc, cfg); err != nil {
			_ = nc.Close()
			return nil, err
		}
	}

	if cfg.Scheme == "https" {
		tc, terr := cfg.TLS.Wrap(ctx, nc, cfg.Host)
		if terr != nil {
			// Wrap closed nc already.
			return nil, fmt.Errorf("%w: %v", ErrTLSHandshake, terr)
		}
		nc = tc
	}

	c := &Conn{nc: nc, phase: PhaseIdle, timeout: cfg.Timeout}
	size := cfg.MaxReadSize
	if size <= 0 {
		size = 32 << 10
	}
	c.br = bufio.NewReaderSize(timedReader{c}, size)
	return c, nil
}

// connectTunnel sends an HTTP CONNECT for the origin and reads the
// proxy's reply.  Reads are byte-at-a-time so no tunnel bytes are
// consumed past the header block.
func connectTunnel(nc net.Conn, cfg DialConfig) error {
	target := net.JoinHostPort(cfg.Host, cfg.Port)
	if cfg.Timeout > 0 {
		_ = nc.SetDeadline(time.Now().Add(cfg.Timeout))
		defer func() { _ = nc.SetDeadline(time.Time{}) }()
	}
	req := "CONNECT " + target + " HTTP/1.0\r\nHost: " + target + "\r\n\r\n"
	if _, err := nc.Write([]byte(req)); err != nil {
		return fmt.Errorf("%w: send CONNECT: %v", ErrProxyHandshake, err)
	}

	var block strings.Builder
	buf := make([]byte, 1)
	for !strings.HasSuffix(block.String(), "\r\n\r\n") {
		if block.Len() > 8<<10 {
			return fmt.Errorf("%w: oversized CONNECT response", ErrProxyHandshake)
		}
		if _, err := nc.Read(buf); err != nil {
			return fmt.Errorf("%w: read CONNECT response: %v", ErrProxyHandshake, err)
		}
		block.WriteByte(buf[0])
	}

	statusLine, _, _ := strings.Cut(block.String(), "\r\n")
	_, status, reason, err := wire.ParseStatusLine(statusLine)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrProxyHandshake, err)
	}
	if status/100 != 2 {
		return fmt.Errorf("%w: proxy said %d %s", ErrProxyHandshake, status, reason)
	}
	return nil
}
