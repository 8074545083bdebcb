// Package urlutil splits absolute http/https URLs into the pieces the
// engine needs to key its connection pool and build request lines.
package urlutil

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ErrUnsupported is returned for URLs whose scheme is not http or https.
var ErrUnsupported = errors.New("urlutil: URL scheme unsupported")

// Parts is the decomposition of an absolute http(s) URL.
type Parts struct {
	// Scheme is "http" or "https", lowercased.
	Scheme string

	// Userinfo is the user[:password] component, or "" when absent.
	// It is stripped from the authority and never sent on the wire.
	Userinfo string

	// Host is the hostname exactly as written in the URL.  Pool keying
	// lowercases it separately so the wire Host header keeps the
	// caller's casing.
	Host string

	// Port is the explicit port, or the scheme default (80/443).
	Port string

	// PathQuery is the path plus any ?query, never empty ("/" minimum).
	PathQuery string
}

// Split parses rawurl and returns its Parts.  Only absolute http and https
// URLs are accepted; anything else yields ErrUnsupported or a parse error.
func Split(rawurl string) (Parts, error) {
	u, err := url.Parse(rawurl)
	if err != nil {
		return Parts{}, fmt.Errorf("urlutil: parse %q: %w", rawurl, err)
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return Parts{}, fmt.Errorf("%w: %q", ErrUnsupported, u.Scheme)
	}
	host := u.Hostname()
	if host == "" {
		return Parts{}, fmt.Errorf("urlutil: %q has no host", rawurl)
	}

	port := u.Port()
	if port == "" {
		if scheme == "https" {
			port = "443"
		} else {
			port = "80"
		}
	}

	pathQuery := u.EscapedPath()
	if pathQuery == "" {
		pathQuery = "/"
	}
	if u.RawQuery != "" {
		pathQuery += "?" + u.RawQuery
	}

	return Parts{
		Scheme:    scheme,
		Userinfo:  u.User.String(),
		Host:      host,
		Port:      port,
		PathQuery: pathQuery,
	}, nil
}

// Authority returns host[:port], omitting the port when it is the scheme
// default.  This is the value the Host header carries.
func (p Parts) Authority() string {
	if (p.Scheme == "http" && p.Port == "80") || (p.Scheme == "https" && p.Port == "443") {
		return p.Host
	}
	return p.Host + ":" + p.Port
}

// String reassembles the absolute URL (without userinfo).
func (p Parts) String() string {
	return p.Scheme + "://" + p.Authority() + p.PathQuery
}
