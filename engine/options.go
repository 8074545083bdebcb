package engine

import (
	"fmt"
	"net"
	"regexp"
	"strings"
	"time"

	"github.com/firasghr/GoHTTPEngine/conn"
	"github.com/firasghr/GoHTTPEngine/cookiejar"
	"github.com/firasghr/GoHTTPEngine/proxy"
	"github.com/firasghr/GoHTTPEngine/tlsutil"
	"github.com/firasghr/GoHTTPEngine/wire"
)

// HandleParams tunes a body-handle hand-off.
type HandleParams struct {
	// MaxReadSize overrides the connection's read buffer size hint.
	MaxReadSize int
}

// Options is the per-request options record.  The zero value asks for
// engine defaults everywhere.  Options is copied at dispatch; mutating
// it afterwards has no effect on the in-flight request.
type Options struct {
	// Header holds caller headers, sent after the engine's own.  Names
	// are matched case-insensitively against engine defaults: setting a
	// name overrides the default, setting it to wire.Suppress removes
	// the header from the request entirely.
	Header map[string]string

	// Body is the request body; may be nil.
	Body []byte

	// Timeout is the inactivity timeout; it resets on every successful
	// socket operation.  Zero means the engine default.
	Timeout time.Duration

	// MaxRedirects bounds redirect-chain length for this request.  Zero
	// means the engine default; use NoFollow to disable redirects.
	MaxRedirects int

	// NoFollow disables redirect following entirely.
	NoFollow bool

	// Proxy overrides the engine default: nil means "use default",
	// proxy.None forces a direct connection.
	Proxy *proxy.Proxy

	// Jar, when set, supplies Cookie headers and absorbs Set-Cookie.
	Jar *cookiejar.Jar

	// TLS is the security profile for https; the zero value is the Low
	// (no verification) profile.
	TLS tlsutil.Profile

	// Session partitions the idle pool: requests with different session
	// tags never share connections.
	Session string

	// Persistent, when set, overrides the default decision to pool the
	// connection after a clean response.  Setting it (either way) also
	// marks a non-idempotent request as eligible for the one-shot
	// reused-connection retry.
	Persistent *bool

	// KeepAlive, when set to false, stops this request from reusing
	// pooled connections and from returning its own connection to the
	// pool.
	KeepAlive *bool

	// Connect overrides the TCP connect function for this request.
	Connect conn.ConnectFunc

	// OnPrepare receives the raw socket right after TCP connect, before
	// any proxy or TLS bytes — the place to set socket options.
	OnPrepare func(c net.Conn)

	// OnHeader runs once when the response headers are in.  Returning
	// false aborts the request with status 598.
	OnHeader func(resp *wire.Response) bool

	// OnBody receives each decoded body fragment as it arrives; the
	// final body in the completion callback is then empty.  Returning
	// false aborts with status 598.
	OnBody func(fragment []byte) bool

	// WantBodyHandle asks the engine to stop after the headers and hand
	// the live stream to the caller instead of reading the body.
	WantBodyHandle bool

	// HandleParams tunes the hand-off requested by WantBodyHandle.
	HandleParams HandleParams

	// Decompress transparently decodes gzip and brotli response bodies.
	// Fragments delivered to OnBody are passed on undecoded.
	Decompress bool
}

// Bool is a convenience for the tri-state option fields.
func Bool(v bool) *bool { return &v }

var methodRe = regexp.MustCompile(`^[A-Z][A-Z0-9]*$`)

// idempotent reports whether method is safe to retry automatically.
func idempotent(method string) bool {
	switch method {
	case "GET", "HEAD", "OPTIONS", "DELETE", "PUT", "TRACE":
		return true
	}
	return false
}

// validate rejects option combinations the engine cannot honour.  The
// error text becomes the 599 reason.
func (o *Options) validate(method string) error {
	if !methodRe.MatchString(method) {
		return fmt.Errorf("invalid method %q", method)
	}
	if o.Timeout < 0 {
		return fmt.Errorf("negative timeout")
	}
	if o.MaxRedirects < 0 {
		return fmt.Errorf("negative redirect budget")
	}
	if o.OnBody != nil && o.WantBodyHandle {
		return fmt.Errorf("on-body callback and body handle are mutually exclusive")
	}
	for k, v := range o.Header {
		if k == "" || strings.ContainsAny(k, " \t\r\n:") {
			return fmt.Errorf("unsafe header name %q", k)
		}
		if strings.ContainsAny(v, "\r\n") {
			return fmt.Errorf("unsafe header value for %q", k)
		}
	}
	return nil
}

// callerHeader does a case-insensitive lookup in the caller header map.
func (o *Options) callerHeader(name string) (string, bool) {
	for k, v := range o.Header {
		if strings.EqualFold(k, name) {
			return v, true
		}
	}
	return "", false
}
