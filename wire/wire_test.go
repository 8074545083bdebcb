package wire_test

import (
	"bufio"
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"

	"github.com/firasghr/GoHTTPEngine/wire"
)

func reader(s string) *bufio.Reader {
	return bufio.NewReader(strings.NewReader(s))
}

func TestParseStatusLine(t *testing.T) {
	proto, status, reason, err := wire.ParseStatusLine("HTTP/1.1 200 OK")
	if err != nil {
		t.Fatal(err)
	}
	if proto != "1.1" || status != 200 || reason != "OK" {
		t.Errorf("got (%q, %d, %q)", proto, status, reason)
	}

	// Empty reason phrase is legal.
	_, status, reason, err = wire.ParseStatusLine("HTTP/1.0 404")
	if err != nil {
		t.Fatal(err)
	}
	if status != 404 || reason != "" {
		t.Errorf("got (%d, %q), want (404, \"\")", status, reason)
	}

	for _, bad := range []string{"", "HTTP/1.1", "HTTP/x 200 OK", "ICY 200 OK", "HTTP/1.1 20 OK", "HTTP/1.1 2000"} {
		if _, _, _, err := wire.ParseStatusLine(bad); err == nil {
			t.Errorf("ParseStatusLine(%q) should fail", bad)
		}
	}
}

func TestReadHeaderBlock(t *testing.T) {
	h := wire.Header{}
	err := wire.ReadHeaderBlock(reader("X: a\r\nX: b\r\nContent-Type: text/html\r\nFolded: one\r\n two\r\n\r\n"), h)
	if err != nil {
		t.Fatal(err)
	}
	if got := h.Get("x"); got != "a,b" {
		t.Errorf("duplicate join: got %q, want %q", got, "a,b")
	}
	if got := h.Get("Content-Type"); got != "text/html" {
		t.Errorf("case-insensitive get: got %q", got)
	}
	if got := h.Get("folded"); got != "one two" {
		t.Errorf("obs-fold: got %q, want %q", got, "one two")
	}
}

func TestReadHeaderBlock_Malformed(t *testing.T) {
	if err := wire.ReadHeaderBlock(reader("no colon here\r\n\r\n"), wire.Header{}); err == nil {
		t.Error("expected error for header line without colon")
	}
	if err := wire.ReadHeaderBlock(reader(" leading fold\r\n\r\n"), wire.Header{}); err == nil {
		t.Error("expected error for continuation before any header")
	}
}

func TestRequestHead(t *testing.T) {
	r := &wire.RequestHead{Method: "GET", PathQuery: "/a?b=1"}
	r.Add("Host", "example.com")
	r.Add("User-Agent", "test/1.0")
	r.Add("TE", wire.Suppress)
	r.Add("X-Caller", "yes")

	got := string(r.Bytes())
	want := "GET /a?b=1 HTTP/1.1\r\nHost: example.com\r\nUser-Agent: test/1.0\r\nX-Caller: yes\r\n\r\n"
	if got != want {
		t.Errorf("Bytes()\n got %q\nwant %q", got, want)
	}

	if !r.Has("host") || !r.Has("te") {
		t.Error("Has should match case-insensitively, including suppressed entries")
	}
	if r.Has("cookie") {
		t.Error("Has(cookie) should be false")
	}
}

func TestPickFraming(t *testing.T) {
	h := wire.Header{"content-length": "5"}
	if f, n := wire.PickFraming("GET", 200, h); f != wire.FramingLength || n != 5 {
		t.Errorf("length: got (%v, %d)", f, n)
	}
	if f, _ := wire.PickFraming("HEAD", 200, h); f != wire.FramingNone {
		t.Errorf("HEAD should have no body, got %v", f)
	}
	for _, status := range []int{100, 101, 204, 304} {
		if f, _ := wire.PickFraming("GET", status, h); f != wire.FramingNone {
			t.Errorf("status %d should have no body, got %v", status, f)
		}
	}
	if f, _ := wire.PickFraming("GET", 200, wire.Header{"transfer-encoding": "Chunked"}); f != wire.FramingChunked {
		t.Errorf("chunked token should match case-insensitively, got %v", f)
	}
	if f, _ := wire.PickFraming("GET", 200, wire.Header{"transfer-encoding": "gzip, chunked"}); f != wire.FramingChunked {
		t.Errorf("chunked must match the final token, got %v", f)
	}
	if f, _ := wire.PickFraming("GET", 200, wire.Header{}); f != wire.FramingClose {
		t.Errorf("no framing headers should read to close, got %v", f)
	}
	if f, _ := wire.PickFraming("GET", 200, wire.Header{"content-length": "nope"}); f != wire.FramingClose {
		t.Errorf("bad content-length should read to close, got %v", f)
	}
}

// A server sending both Content-Length and chunked: chunked wins.
func TestPickFraming_ChunkedBeatsLength(t *testing.T) {
	h := wire.Header{"content-length": "9999", "transfer-encoding": "chunked"}
	if f, _ := wire.PickFraming("GET", 200, h); f != wire.FramingChunked {
		t.Errorf("got %v, want FramingChunked", f)
	}
}

func collect(dst *bytes.Buffer) wire.BodySink {
	return func(p []byte) bool {
		dst.Write(p)
		return true
	}
}

func TestReadLength(t *testing.T) {
	var got bytes.Buffer
	if err := wire.ReadLength(reader("hello, world"), 5, 2, collect(&got)); err != nil {
		t.Fatal(err)
	}
	if got.String() != "hello" {
		t.Errorf("got %q, want %q", got.String(), "hello")
	}
}

func TestReadLength_ShortRead(t *testing.T) {
	var got bytes.Buffer
	if err := wire.ReadLength(reader("hel"), 5, 0, collect(&got)); err == nil {
		t.Error("expected error on truncated body")
	}
}

func TestReadToClose(t *testing.T) {
	var got bytes.Buffer
	if err := wire.ReadToClose(reader("abcdef"), 4, collect(&got)); err != nil {
		t.Fatal(err)
	}
	if got.String() != "abcdef" {
		t.Errorf("got %q", got.String())
	}
}

func TestReadChunked(t *testing.T) {
	var got bytes.Buffer
	h := wire.Header{}
	in := "5\r\nhello\r\n6;ext=1\r\n world\r\n0\r\nX-Trailer: t1\r\nX-Trailer: t2\r\n\r\n"
	if err := wire.ReadChunked(reader(in), 3, collect(&got), h); err != nil {
		t.Fatal(err)
	}
	if got.String() != "hello world" {
		t.Errorf("body: got %q, want %q", got.String(), "hello world")
	}
	if tr := h.Get("x-trailer"); tr != "t1,t2" {
		t.Errorf("trailers should merge with duplicate join, got %q", tr)
	}
}

func TestReadChunked_Abort(t *testing.T) {
	calls := 0
	sink := func(p []byte) bool {
		calls++
		return false
	}
	err := wire.ReadChunked(reader("5\r\nhello\r\n0\r\n\r\n"), 0, sink, wire.Header{})
	if !errors.Is(err, wire.ErrAborted) {
		t.Errorf("got %v, want ErrAborted", err)
	}
	if calls != 1 {
		t.Errorf("sink called %d times, want 1", calls)
	}
}

func TestReadChunked_BadSize(t *testing.T) {
	err := wire.ReadChunked(reader("zz\r\n\r\n"), 0, collect(&bytes.Buffer{}), wire.Header{})
	if err == nil {
		t.Error("expected error for non-hex chunk size")
	}
}

func TestDecompress_Gzip(t *testing.T) {
	var z bytes.Buffer
	zw := gzip.NewWriter(&z)
	zw.Write([]byte("payload"))
	zw.Close()

	out, err := wire.Decompress("gzip", z.Bytes())
	if err != nil {
		t.Fatal(err)
	}
	if string(out) != "payload" {
		t.Errorf("got %q", out)
	}

	if _, err := wire.Decompress("snappy", []byte("x")); err == nil {
		t.Error("unknown encoding should error")
	}
	out, err = wire.Decompress("", []byte("raw"))
	if err != nil || string(out) != "raw" {
		t.Errorf("identity passthrough failed: %q, %v", out, err)
	}
}
