package cookiejar

import (
	"encoding/json"
	"fmt"
	"time"
)

// The persisted form is a single JSON object holding the version marker
// next to the hostname keys:
//
//	{"version": 1,
//	 "example.com": {"/": {"sid": {"value": "x", "_expires": 1754052e3,
//	                               "secure": true}}}}
//
// "_expires" is POSIX seconds and is omitted for session cookies.  Any
// other serialiser that preserves this shape interoperates.

// MarshalJSON renders the jar in its persisted form.
func (j *Jar) MarshalJSON() ([]byte, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.checkVersion()

	out := map[string]any{"version": j.version}
	for domain, paths := range j.domains {
		pd := map[string]any{}
		for path, names := range paths {
			nd := map[string]any{}
			for name, e := range names {
				ed := map[string]any{"value": e.Value}
				if !e.Expires.IsZero() {
					ed["_expires"] = float64(e.Expires.Unix())
				}
				if e.Secure {
					ed["secure"] = true
				}
				if e.HTTPOnly {
					ed["httponly"] = true
				}
				for k, v := range e.Attrs {
					ed[k] = v
				}
				nd[name] = ed
			}
			pd[path] = nd
		}
		out[domain] = pd
	}
	return json.Marshal(out)
}

// UnmarshalJSON loads a persisted jar.  A version other than 1 is kept as
// read; the jar then empties itself the first time it is used.
func (j *Jar) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("cookiejar: decode jar: %w", err)
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	j.version = 0
	j.checked = false
	j.domains = map[string]map[string]map[string]*Entry{}

	for key, msg := range raw {
		if key == "version" {
			var v int
			if err := json.Unmarshal(msg, &v); err != nil {
				return fmt.Errorf("cookiejar: decode version: %w", err)
			}
			j.version = v
			continue
		}
		var paths map[string]map[string]map[string]any
		if err := json.Unmarshal(msg, &paths); err != nil {
			return fmt.Errorf("cookiejar: decode host %q: %w", key, err)
		}
		pd := map[string]map[string]*Entry{}
		for path, names := range paths {
			nd := map[string]*Entry{}
			for name, fields := range names {
				e := &Entry{}
				for k, v := range fields {
					switch k {
					case "value":
						if s, ok := v.(string); ok {
							e.Value = s
						}
					case "_expires":
						if f, ok := v.(float64); ok {
							e.Expires = time.Unix(int64(f), 0)
						}
					case "secure":
						e.Secure = v == true
					case "httponly":
						e.HTTPOnly = v == true
					default:
						if s, ok := v.(string); ok {
							if e.Attrs == nil {
								e.Attrs = map[string]string{}
							}
							e.Attrs[k] = s
						}
					}
				}
				nd[name] = e
			}
			pd[path] = nd
		}
		j.domains[key] = pd
	}
	return nil
}
