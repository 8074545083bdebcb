package engine

import (
	"bytes"
	"context"
	"errors"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/firasghr/GoHTTPEngine/conn"
	"github.com/firasghr/GoHTTPEngine/cookiejar"
	"github.com/firasghr/GoHTTPEngine/proxy"
	"github.com/firasghr/GoHTTPEngine/registry"
	"github.com/firasghr/GoHTTPEngine/urlutil"
	"github.com/firasghr/GoHTTPEngine/wire"
)

// Request dispatches a request and returns its cancellation handle.  All
// outcomes, including local failures, arrive through done; see the
// package comment for the pseudo status codes.
func (e *Engine) Request(method, rawurl string, opts *Options, done CompleteFunc) *Handle {
	var o Options
	if opts != nil {
		o = *opts
	}
	ctx, cancel := context.WithCancel(context.Background())
	h := &Handle{cancel: cancel}

	t := &task{
		e:      e,
		h:      h,
		o:      &o,
		done:   done,
		method: strings.ToUpper(strings.TrimSpace(method)),
		url:    rawurl,
		body:   o.Body,
	}
	go t.run(ctx)
	return h
}

// task is one logical request: the state threaded through its hops.
type task struct {
	e    *Engine
	h    *Handle
	o    *Options
	done CompleteFunc

	method  string
	url     string
	body    []byte
	timeout time.Duration
	recurse int
	prior   *wire.Response // previous hop of the redirect chain
}

// fail finishes the request with a pseudo status.
func (t *task) fail(status int, reason string) {
	t.finish(nil, &wire.Response{
		Status: status,
		Reason: reason,
		URL:    t.url,
		Header: wire.Header{},
	})
}

// finish invokes the completion callback exactly once, unless the handle
// was cancelled first.
func (t *task) finish(body []byte, resp *wire.Response) {
	if resp.Status >= StatusConnectFailed && resp.Status <= StatusLogicError {
		t.e.met.Failed.Add(1)
	} else {
		t.e.met.Success.Add(1)
	}
	resp.Redirect = t.prior
	if t.h.beginFinish() {
		t.done(body, resp)
	}
}

// finishCancelled ends a cancelled request without any callback.
func (t *task) finishCancelled() {
	t.h.beginFinish()
}

func (t *task) run(ctx context.Context) {
	if err := t.o.validate(t.method); err != nil {
		t.e.met.TotalRequests.Add(1)
		t.fail(StatusLogicError, err.Error())
		return
	}

	t.timeout = t.o.Timeout
	if t.timeout == 0 {
		t.timeout = t.e.cfg.RequestTimeout
	}
	t.recurse = t.o.MaxRedirects
	if t.recurse == 0 {
		t.recurse = t.e.cfg.MaxRecurse
	}
	if t.o.NoFollow {
		t.recurse = 0
	}

	for {
		t.e.met.TotalRequests.Add(1)
		again := t.hop(ctx)
		if !again {
			return
		}
	}
}

// proxyFor resolves the three-way proxy option: per-request override,
// direct sentinel, or engine default.
func (t *task) proxyFor() *proxy.Proxy {
	p := t.o.Proxy
	if p == nil {
		p = t.e.DefaultProxy()
	}
	if p.IsNone() {
		return nil
	}
	return p
}

// hop performs one request/response exchange.  It returns true when the
// task should loop for a redirect.
func (t *task) hop(ctx context.Context) (again bool) {
	parts, err := urlutil.Split(t.url)
	if err != nil {
		t.fail(StatusLogicError, "URL unsupported: "+err.Error())
		return false
	}
	prx := t.proxyFor()
	id := registry.IdentityFor(parts.Scheme, parts.Host, parts.Port, t.o.Session, prx)

	keepalive := t.o.KeepAlive == nil || *t.o.KeepAlive
	persistent := t.o.Persistent == nil || *t.o.Persistent
	retryEligible := idempotent(t.method) || t.o.Persistent != nil

	var (
		c      *conn.Conn
		reused bool
		hdr    wire.Header
		proto  string
		status int
		reason string
	)

	for attempt := 0; ; attempt++ {
		c, reused, err = t.e.reg.Lease(ctx, id, keepalive)
		if err != nil {
			t.finishCancelled()
			return false
		}

		if !reused {
			c, err = conn.Dial(ctx, conn.DialConfig{
				Scheme:      parts.Scheme,
				Host:        parts.Host,
				Port:        parts.Port,
				Proxy:       prx,
				Resolve:     t.e.resolve,
				Connect:     t.connectFunc(),
				TLS:         t.o.TLS,
				Timeout:     t.timeout,
				MaxReadSize: t.readSize(),
				OnPrepare:   t.o.OnPrepare,
			})
			if err != nil {
				t.e.reg.DialFailed(id)
				if ctx.Err() != nil {
					t.finishCancelled()
					return false
				}
				code := StatusConnectFailed
				if errors.Is(err, conn.ErrTLSHandshake) {
					code = StatusRequestFailed
				}
				t.fail(code, err.Error())
				return false
			}
		} else {
			t.e.met.Reuses.Add(1)
			c.SetTimeout(t.timeout)
		}

		// A cancel that lands before any request bytes leaves a reused
		// connection clean; give it back instead of killing it.
		if ctx.Err() != nil {
			t.e.reg.Release(c, id, reused && !c.Dirty())
			t.finishCancelled()
			return false
		}
		t.h.attach(func() { _ = c.Close() })

		c.SetPhase(conn.PhaseWriting)
		head := t.buildHead(parts, prx, persistent)
		_, werr := c.Write(head.Bytes())
		if werr == nil && len(t.body) > 0 {
			_, werr = c.Write(t.body)
		}
		if werr == nil {
			c.SetPhase(conn.PhaseReadingStatus)
			var line string
			line, werr = wire.ReadLine(c.Reader())
			if werr == nil {
				proto, status, reason, werr = wire.ParseStatusLine(line)
				if werr != nil {
					// A garbled status line is never retried.
					t.teardown(c, id)
					t.fail(StatusRequestFailed, werr.Error())
					return false
				}
			}
		}
		if werr != nil {
			t.teardown(c, id)
			if ctx.Err() != nil {
				t.finishCancelled()
				return false
			}
			// One-shot revalidation: a dead pooled connection gets a
			// single fresh-dial retry when the request is safe to
			// repeat.
			if reused && retryEligible && attempt == 0 {
				t.e.met.Retries.Add(1)
				t.e.log.Debugf("reused connection for %s failed, retrying fresh", id)
				continue
			}
			t.fail(StatusRequestFailed, "request failed: "+werr.Error())
			return false
		}

		c.SetPhase(conn.PhaseReadingHeaders)
		hdr = wire.Header{}
		if herr := wire.ReadHeaderBlock(c.Reader(), hdr); herr != nil {
			t.teardown(c, id)
			if ctx.Err() != nil {
				t.finishCancelled()
				return false
			}
			t.fail(StatusRequestFailed, herr.Error())
			return false
		}
		break
	}

	resp := &wire.Response{
		Proto:  proto,
		Status: status,
		Reason: reason,
		URL:    parts.String(),
		Header: hdr,
	}

	if t.o.Jar != nil {
		if sc := hdr.Get("set-cookie"); sc != "" {
			for _, line := range cookiejar.SplitHeader(sc) {
				t.o.Jar.SetCookie(parts.Host, pathOnly(parts.PathQuery), line)
			}
		}
	}

	if t.o.OnHeader != nil {
		resp.Redirect = t.prior
		if !t.o.OnHeader(resp) {
			t.teardown(c, id)
			t.abort(resp)
			return false
		}
	}

	if loc := hdr.Get("location"); !t.o.NoFollow && loc != "" && redirectStatus(status) {
		if t.recurse > 0 {
			return t.redirect(ctx, c, id, parts, resp, loc, persistent, keepalive)
		}
		// The chain spent its whole budget and the server wants yet
		// another hop: a redirect loop as far as the caller is concerned.
		// NoFollow callers asked for raw 3xx responses and skip this.
		t.teardown(c, id)
		t.fail(StatusLogicError, "too many redirects")
		return false
	}

	if t.o.WantBodyHandle {
		c.SetPhase(conn.PhaseReadingBody)
		c.SetTimeout(0)
		t.h.attach(nil)
		resp.Stream = &BodyHandle{c: c, id: id, reg: t.e.reg}
		t.finish(nil, resp)
		return false
	}

	body, ok := t.readBody(ctx, c, id, resp)
	if !ok {
		return false
	}

	reusable := persistent && keepalive && t.conReusable(c, resp)
	t.h.attach(nil)
	t.e.reg.Release(c, id, reusable)

	resp.Body = body
	t.finish(body, resp)
	return false
}

// teardown destroys the attached connection and detaches it from the
// cancellation handle.
func (t *task) teardown(c *conn.Conn, id registry.Identity) {
	t.h.attach(nil)
	t.e.reg.Destroy(c, id)
}

// abort finishes with status 598, preserving the already-delivered
// status line as OrigStatus/OrigReason.
func (t *task) abort(resp *wire.Response) {
	resp.OrigStatus = resp.Status
	resp.OrigReason = resp.Reason
	resp.Status = StatusAborted
	resp.Reason = "user abort"
	t.finish(nil, resp)
}

// readBody consumes the response body, streaming to OnBody or
// accumulating.  ok=false means the request already finished (abort or
// failure).
func (t *task) readBody(ctx context.Context, c *conn.Conn, id registry.Identity, resp *wire.Response) (body []byte, ok bool) {
	framing, n := wire.PickFraming(t.method, resp.Status, resp.Header)

	var buf bytes.Buffer
	sink := func(p []byte) bool {
		if t.o.OnBody != nil {
			return t.o.OnBody(p)
		}
		buf.Write(p)
		return true
	}

	c.SetPhase(conn.PhaseReadingBody)
	var rerr error
	switch framing {
	case wire.FramingNone:
	case wire.FramingChunked:
		rerr = wire.ReadChunked(c.Reader(), t.readSize(), sink, resp.Header)
	case wire.FramingLength:
		rerr = wire.ReadLength(c.Reader(), n, t.readSize(), sink)
	case wire.FramingClose:
		rerr = wire.ReadToClose(c.Reader(), t.readSize(), sink)
	}

	if errors.Is(rerr, wire.ErrAborted) {
		t.teardown(c, id)
		t.abort(resp)
		return nil, false
	}
	if rerr != nil {
		t.teardown(c, id)
		if ctx.Err() != nil {
			t.finishCancelled()
			return nil, false
		}
		resp.OrigStatus = resp.Status
		resp.OrigReason = resp.Reason
		resp.Status = StatusBodyFailed
		resp.Reason = "body read error: " + rerr.Error()
		t.finish(nil, resp)
		return nil, false
	}

	body = buf.Bytes()
	if enc := resp.Header.Get("content-encoding"); t.o.Decompress && t.o.OnBody == nil && enc != "" && enc != "identity" {
		dec, derr := wire.Decompress(enc, body)
		if derr != nil {
			t.teardown(c, id)
			resp.OrigStatus = resp.Status
			resp.OrigReason = resp.Reason
			resp.Status = StatusBodyFailed
			resp.Reason = "body decode error: " + derr.Error()
			t.finish(nil, resp)
			return nil, false
		}
		body = dec
		delete(resp.Header, "content-encoding")
		delete(resp.Header, "content-length")
	}
	return body, true
}

// conReusable applies the return policy: the response must be fully
// consumed over a clean connection that was not close-delimited and did
// not announce Connection: close.
func (t *task) conReusable(c *conn.Conn, resp *wire.Response) bool {
	if c.Dirty() || c.Buffered() != 0 {
		return false
	}
	framing, _ := wire.PickFraming(t.method, resp.Status, resp.Header)
	if framing == wire.FramingClose {
		return false
	}
	return !connClose(resp.Proto, resp.Header)
}

// connClose reports whether the server forbade reuse: an explicit close
// token, or an HTTP/1.0 response without an explicit keep-alive.
func connClose(proto string, h wire.Header) bool {
	tokens := strings.Split(strings.ToLower(h.Get("connection")), ",")
	keepAlive := false
	for _, tok := range tokens {
		switch strings.TrimSpace(tok) {
		case "close":
			return true
		case "keep-alive":
			keepAlive = true
		}
	}
	if proto == "1.0" {
		return !keepAlive
	}
	return false
}

// redirect drains and releases the current connection, then rewrites the
// task for the next hop.  Returns true to continue the hop loop.
func (t *task) redirect(ctx context.Context, c *conn.Conn, id registry.Identity, parts urlutil.Parts, resp *wire.Response, loc string, persistent, keepalive bool) bool {
	// Drain the 3xx body so the connection can go back to the pool; the
	// drained bytes ride along in the redirect chain.
	var buf bytes.Buffer
	framing, n := wire.PickFraming(t.method, resp.Status, resp.Header)
	c.SetPhase(conn.PhaseReadingBody)
	var rerr error
	switch framing {
	case wire.FramingNone:
	case wire.FramingChunked:
		rerr = wire.ReadChunked(c.Reader(), t.readSize(), func(p []byte) bool { buf.Write(p); return true }, resp.Header)
	case wire.FramingLength:
		rerr = wire.ReadLength(c.Reader(), n, t.readSize(), func(p []byte) bool { buf.Write(p); return true })
	case wire.FramingClose:
		rerr = wire.ReadToClose(c.Reader(), t.readSize(), func(p []byte) bool { buf.Write(p); return true })
	}
	if rerr != nil {
		t.teardown(c, id)
		if ctx.Err() != nil {
			t.finishCancelled()
			return false
		}
		resp.OrigStatus = resp.Status
		resp.OrigReason = resp.Reason
		resp.Status = StatusBodyFailed
		resp.Reason = "body read error: " + rerr.Error()
		t.finish(nil, resp)
		return false
	}
	resp.Body = buf.Bytes()

	reusable := persistent && keepalive && t.conReusable(c, resp)
	t.h.attach(nil)
	t.e.reg.Release(c, id, reusable)

	next, err := resolveLocation(t.url, loc)
	if err != nil {
		t.fail(StatusLogicError, err.Error())
		return false
	}

	// Method and payload mutation: 301, 302 and 303 demote anything but
	// GET/HEAD to GET; 307/308 preserve everything.
	switch resp.Status {
	case 301, 302, 303:
		if t.method != "GET" && t.method != "HEAD" {
			t.method = "GET"
			t.body = nil
			t.stripBodyHeaders()
		}
	}

	if ctx.Err() != nil {
		t.finishCancelled()
		return false
	}

	t.e.met.Redirects.Add(1)
	t.e.log.Debugf("redirect %d -> %s", resp.Status, next)
	resp.Redirect = t.prior
	t.prior = resp
	t.url = next
	t.recurse--
	return true
}

// redirectStatus reports whether status triggers redirect handling.
func redirectStatus(status int) bool {
	switch status {
	case 301, 302, 303, 307, 308:
		return true
	}
	return false
}

// resolveLocation resolves a Location header against the current URL and
// insists on an http(s) result.
func resolveLocation(current, loc string) (string, error) {
	base, err := url.Parse(current)
	if err != nil {
		return "", errors.New("missing URI parser for " + current)
	}
	ref, err := url.Parse(loc)
	if err != nil {
		return "", errors.New("invalid redirect location " + loc)
	}
	resolved := base.ResolveReference(ref)
	if s := strings.ToLower(resolved.Scheme); s != "http" && s != "https" {
		return "", errors.New("redirect to unsupported scheme " + resolved.Scheme)
	}
	return resolved.String(), nil
}

// stripBodyHeaders removes the caller's body-describing headers after a
// redirect demoted the method to GET.  The map is copied so the caller's
// Options value is untouched.
func (t *task) stripBodyHeaders() {
	if len(t.o.Header) == 0 {
		return
	}
	hdr := make(map[string]string, len(t.o.Header))
	for k, v := range t.o.Header {
		switch strings.ToLower(k) {
		case "content-length", "content-type", "transfer-encoding":
		default:
			hdr[k] = v
		}
	}
	t.o.Header = hdr
}

// connectFunc picks the per-request connect override or engine default.
func (t *task) connectFunc() conn.ConnectFunc {
	if t.o.Connect != nil {
		return t.o.Connect
	}
	return t.e.connect
}

// readSize is the read buffer hint for this request.
func (t *task) readSize() int {
	if t.o.HandleParams.MaxReadSize > 0 {
		return t.o.HandleParams.MaxReadSize
	}
	return t.e.cfg.MaxReadSize
}

// pathOnly strips the query from a path-with-query.
func pathOnly(pq string) string {
	if i := strings.IndexByte(pq, '?'); i >= 0 {
		return pq[:i]
	}
	return pq
}

// buildHead assembles the outbound request head: the engine's own
// headers first, caller headers last.  Engine defaults yield to caller
// overrides, and a caller value of wire.Suppress strikes the header
// altogether.
func (t *task) buildHead(parts urlutil.Parts, prx *proxy.Proxy, persistent bool) *wire.RequestHead {
	head := &wire.RequestHead{Method: t.method, PathQuery: parts.PathQuery}
	if prx != nil && parts.Scheme == "http" {
		// Plain http through a forward proxy uses the absolute form.
		head.PathQuery = parts.String()
	}

	if _, ok := t.o.callerHeader("Host"); !ok {
		head.Add("Host", parts.Authority())
	}
	if _, ok := t.o.callerHeader("Content-Length"); !ok {
		if len(t.body) > 0 || t.method == "POST" || t.method == "PUT" || t.method == "PATCH" {
			head.Add("Content-Length", strconv.Itoa(len(t.body)))
		}
	}
	if _, ok := t.o.callerHeader("Connection"); !ok {
		if persistent {
			head.Add("Connection", "keep-alive")
		} else {
			head.Add("Connection", "close")
		}
	}
	if t.o.Jar != nil {
		if _, ok := t.o.callerHeader("Cookie"); !ok {
			if ch := t.o.Jar.CookieHeader(parts.Scheme, strings.ToLower(parts.Host), pathOnly(parts.PathQuery)); ch != "" {
				head.Add("Cookie", ch)
			}
		}
	}
	if _, ok := t.o.callerHeader("User-Agent"); !ok {
		head.Add("User-Agent", t.e.cfg.UserAgent)
	}
	if _, ok := t.o.callerHeader("Referer"); !ok {
		head.Add("Referer", parts.String())
	}
	if _, ok := t.o.callerHeader("TE"); !ok {
		head.Add("TE", "trailers")
	}
	if t.o.Decompress {
		if _, ok := t.o.callerHeader("Accept-Encoding"); !ok {
			head.Add("Accept-Encoding", "gzip, br")
		}
	}

	// Caller headers, sorted so the wire format is deterministic.
	keys := make([]string, 0, len(t.o.Header))
	for k := range t.o.Header {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		head.Add(k, t.o.Header[k])
	}
	return head
}
