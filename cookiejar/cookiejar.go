// Package cookiejar implements the engine's cookie store.
//
// The jar is a host → path → name mapping guarded by a version field: any
// serialised jar whose version is not 1 is emptied the first time it is
// used.  Matching is deliberately simpler than full RFC 6265 — domain
// matching is a suffix relation with leading-dot tolerance and path
// matching is a prefix on "/"-separated segments — but cookies may never
// be set for a bare public suffix (so "kicking .co.uk" style injection is
// rejected, same as the public-suffix-list jars this one descends from).
//
// A Jar is safe for concurrent use by multiple goroutines.
package cookiejar

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/publicsuffix"

	"github.com/firasghr/GoHTTPEngine/httpdate"
)

// Version is the only jar version this package reads or writes.
const Version = 1

// Entry is one stored cookie.
type Entry struct {
	// Value is the raw cookie value, stored verbatim.
	Value string

	// Expires is the absolute expiry moment; the zero value marks a
	// session cookie.
	Expires time.Time

	// Secure restricts the cookie to https requests.
	Secure bool

	// HTTPOnly is stored for completeness; the engine has no script
	// surface, so it does not affect matching.
	HTTPOnly bool

	// Attrs preserves unrecognised attributes (samesite, comment, …) so a
	// serialise/deserialise round trip is lossless.
	Attrs map[string]string
}

func (e *Entry) expired(now time.Time) bool {
	return !e.Expires.IsZero() && !e.Expires.After(now)
}

// Jar is a cookie store shared by all requests that name it.
type Jar struct {
	mu      sync.Mutex
	version int
	checked bool
	// domains maps lowercased domain → path → cookie name → entry.
	domains map[string]map[string]map[string]*Entry
}

// New returns an empty jar at the current version.
func New() *Jar {
	return &Jar{version: Version, checked: true, domains: map[string]map[string]map[string]*Entry{}}
}

// checkVersion empties the jar on first use if it was deserialised from an
// incompatible version.  Callers must hold j.mu.
func (j *Jar) checkVersion() {
	if j.checked {
		return
	}
	j.checked = true
	if j.version != Version || j.domains == nil {
		j.domains = map[string]map[string]map[string]*Entry{}
	}
	j.version = Version
}

// domainMatch reports whether host (lowercased request host) is covered by
// domain.  A leading dot on domain is tolerated.
func domainMatch(host, domain string) bool {
	domain = strings.TrimPrefix(domain, ".")
	return host == domain || strings.HasSuffix(host, "."+domain)
}

// pathMatch reports whether the request path falls under the cookie path,
// comparing whole "/"-separated segments.
func pathMatch(reqPath, cookiePath string) bool {
	if reqPath == cookiePath {
		return true
	}
	if !strings.HasPrefix(reqPath, cookiePath) {
		return false
	}
	return strings.HasSuffix(cookiePath, "/") || reqPath[len(cookiePath)] == '/'
}

// defaultPath derives the cookie path from the request path: everything up
// to, but not including, the rightmost "/".
func defaultPath(reqPath string) string {
	i := strings.LastIndex(reqPath, "/")
	if i <= 0 {
		return "/"
	}
	return reqPath[:i]
}

// SetCookie applies one Set-Cookie header line received for a request to
// host with the given request path.  It reports whether an entry was
// stored (an already-expired cookie deletes any stored entry instead).
func (j *Jar) SetCookie(host, reqPath, line string) bool {
	name, value, attrs, ok := parseSetCookie(line)
	if !ok {
		return false
	}
	host = strings.ToLower(host)

	domain := host
	if d, ok := attrs["domain"]; ok && d != "" {
		d = strings.ToLower(strings.TrimPrefix(d, "."))
		// The attribute must cover the request host and must not name a
		// bare public suffix (unless the host IS that suffix, e.g. a
		// private registry domain talking to itself).
		if !domainMatch(host, d) {
			return false
		}
		if ps, _ := publicsuffix.PublicSuffix(d); ps == d && d != host {
			return false
		}
		domain = d
	}

	path := defaultPath(reqPath)
	if p, ok := attrs["path"]; ok && p != "" {
		path = p
	}

	var expires time.Time
	if ma, ok := attrs["max-age"]; ok {
		secs, err := strconv.ParseInt(ma, 10, 64)
		if err != nil {
			return false
		}
		expires = time.Now().Add(time.Duration(secs) * time.Second)
	} else if ex, ok := attrs["expires"]; ok {
		t, parsed := httpdate.Parse(ex)
		if !parsed {
			return false
		}
		expires = t
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	j.checkVersion()

	if !expires.IsZero() && !expires.After(time.Now()) {
		// The server sent an expired value: drop any stored entry.
		j.remove(domain, path, name)
		return false
	}

	e := &Entry{Value: value, Expires: expires}
	for k, v := range attrs {
		switch k {
		case "domain", "path", "max-age", "expires":
		case "secure":
			e.Secure = true
		case "httponly":
			e.HTTPOnly = true
		default:
			if e.Attrs == nil {
				e.Attrs = map[string]string{}
			}
			e.Attrs[k] = v
		}
	}

	paths := j.domains[domain]
	if paths == nil {
		paths = map[string]map[string]*Entry{}
		j.domains[domain] = paths
	}
	names := paths[path]
	if names == nil {
		names = map[string]*Entry{}
		paths[path] = names
	}
	names[name] = e
	return true
}

// remove deletes one entry and prunes empty maps.  Callers hold j.mu.
func (j *Jar) remove(domain, path, name string) {
	paths := j.domains[domain]
	if paths == nil {
		return
	}
	names := paths[path]
	if names == nil {
		return
	}
	delete(names, name)
	if len(names) == 0 {
		delete(paths, path)
	}
	if len(paths) == 0 {
		delete(j.domains, domain)
	}
}

// parseSetCookie splits a Set-Cookie line into name, value and lowercased
// attribute map.  Attribute values keep their casing (expiry dates and
// paths are case-sensitive enough to matter).
func parseSetCookie(line string) (name, value string, attrs map[string]string, ok bool) {
	parts := strings.Split(line, ";")
	nv := strings.TrimSpace(parts[0])
	eq := strings.Index(nv, "=")
	if eq <= 0 {
		return "", "", nil, false
	}
	name = strings.TrimSpace(nv[:eq])
	value = strings.TrimSpace(nv[eq+1:])

	attrs = map[string]string{}
	for _, p := range parts[1:] {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if i := strings.Index(p, "="); i >= 0 {
			attrs[strings.ToLower(strings.TrimSpace(p[:i]))] = strings.TrimSpace(p[i+1:])
		} else {
			attrs[strings.ToLower(p)] = ""
		}
	}
	return name, value, attrs, true
}

var cookieStartRe = regexp.MustCompile(`^[!#$%&'*+\-.^_` + "`" + `|~0-9A-Za-z]+=`)

// SplitHeader splits a comma-joined Set-Cookie header back into the
// individual cookie lines.  A plain split on "," would break apart
// Expires dates ("Expires=Sun, 06-Nov-1994 …"), so a comma only starts a
// new cookie when a name= token follows it — date fragments like
// "06-Nov-1994 08:49:37 GMT" never match that shape.
func SplitHeader(joined string) []string {
	var out []string
	start := 0
	for i := 0; i < len(joined); i++ {
		if joined[i] != ',' {
			continue
		}
		rest := strings.TrimLeft(joined[i+1:], " \t")
		if cookieStartRe.MatchString(rest) {
			out = append(out, strings.TrimSpace(joined[start:i]))
			start = i + 1
		}
	}
	if s := strings.TrimSpace(joined[start:]); s != "" {
		out = append(out, s)
	}
	return out
}

// match is one cookie selected for an outbound request.
type match struct {
	path, name, value string
}

// CookieHeader selects every cookie matching (scheme, host, path) and
// renders them as a single Cookie header value.  The empty string means no
// cookie applies.
func (j *Jar) CookieHeader(scheme, host, reqPath string) string {
	host = strings.ToLower(host)
	now := time.Now()

	j.mu.Lock()
	j.checkVersion()
	var sel []match
	for domain, paths := range j.domains {
		if !domainMatch(host, domain) {
			continue
		}
		for path, names := range paths {
			if !pathMatch(reqPath, path) {
				continue
			}
			for name, e := range names {
				if e.Secure && scheme != "https" {
					continue
				}
				if e.expired(now) {
					continue
				}
				sel = append(sel, match{path: path, name: name, value: e.Value})
			}
		}
	}
	j.mu.Unlock()

	// Longest path first, then by name, so the header is deterministic
	// and more specific cookies win server-side name collisions.
	sort.Slice(sel, func(a, b int) bool {
		if len(sel[a].path) != len(sel[b].path) {
			return len(sel[a].path) > len(sel[b].path)
		}
		return sel[a].name < sel[b].name
	})

	pairs := make([]string, len(sel))
	for i, m := range sel {
		pairs[i] = m.name + "=" + m.value
	}
	return strings.Join(pairs, "; ")
}

// Expire removes entries whose expiry has passed.  With dropSession it also
// removes session cookies, leaving only entries with a future expiry.
func (j *Jar) Expire(dropSession bool) {
	now := time.Now()
	j.mu.Lock()
	defer j.mu.Unlock()
	j.checkVersion()
	for domain, paths := range j.domains {
		for path, names := range paths {
			for name, e := range names {
				if e.expired(now) || (dropSession && e.Expires.IsZero()) {
					delete(names, name)
				}
			}
			if len(names) == 0 {
				delete(paths, path)
			}
		}
		if len(paths) == 0 {
			delete(j.domains, domain)
		}
	}
}

// Len reports the number of stored cookies, expired or not.
func (j *Jar) Len() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.checkVersion()
	n := 0
	for _, paths := range j.domains {
		for _, names := range paths {
			n += len(names)
		}
	}
	return n
}
