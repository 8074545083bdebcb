// Package config provides configuration management for GoHTTPEngine.
// It supports JSON-based configuration loading with safe defaults for the
// connection pool, redirect handling, and timeouts.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Config holds all tunable parameters for the HTTP engine.
// The struct is designed to be loaded once at startup and then shared as a
// read-only value, making it inherently thread-safe after initialization.
type Config struct {
	// MaxPerHost caps simultaneous connections to a single host, counting
	// both in-use and idle pooled connections.  Requests beyond the cap
	// queue FIFO until a slot frees.
	MaxPerHost int `json:"max_per_host"`

	// MaxRecurse bounds how many redirects a single request may follow
	// before it fails with a too-many-redirects error.
	MaxRecurse int `json:"max_recurse"`

	// RequestTimeout is the inactivity timeout for a single request: it
	// resets on every successful socket operation and at each connect
	// attempt.  Use time.Duration JSON encoding (nanoseconds).
	RequestTimeout time.Duration `json:"request_timeout"`

	// PersistentTimeout is how long a clean keep-alive connection sits in
	// the idle pool before it is closed.
	PersistentTimeout time.Duration `json:"persistent_timeout"`

	// UserAgent is sent on every request unless the caller overrides or
	// suppresses it.
	UserAgent string `json:"user_agent"`

	// ProxyURL names the default forward proxy.  Empty means the default
	// proxy is seeded once from the lowercase http_proxy environment
	// variable (and runs direct when that too is unset).
	ProxyURL string `json:"proxy_url"`

	// ProxyFile is the path to a newline-delimited file of proxy URLs for
	// rotation.  Leave empty to use only the default proxy.
	ProxyFile string `json:"proxy_file"`

	// MaxReadSize is the read buffer size hint for each connection.
	MaxReadSize int `json:"max_read_size"`
}

// LoadConfig reads a JSON file at filename and deserialises it into a
// Config.  Unknown fields are an error so typos in config files surface
// early.  Zero-value fields are filled from DefaultConfig.
func LoadConfig(filename string) (*Config, error) {
	f, err := os.Open(filename) // #nosec G304 – filename is caller-provided config path
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", filename, err)
	}
	defer f.Close()

	var cfg Config
	dec := json.NewDecoder(f)
	dec.DisallowUnknownFields() // catch typos in config files early
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("config: decode %q: %w", filename, err)
	}
	cfg.fillDefaults()
	return &cfg, nil
}

// DefaultConfig returns a *Config pre-filled with the engine defaults.
// Each call returns a fresh independent copy, so callers are free to
// mutate the result before handing it to the engine.
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.fillDefaults()
	return cfg
}

func (c *Config) fillDefaults() {
	if c.MaxPerHost == 0 {
		c.MaxPerHost = 4
	}
	if c.MaxRecurse == 0 {
		c.MaxRecurse = 10
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = 300 * time.Second
	}
	if c.PersistentTimeout == 0 {
		c.PersistentTimeout = 3 * time.Second
	}
	if c.UserAgent == "" {
		c.UserAgent = "GoHTTPEngine/1.0 (+https://github.com/firasghr/GoHTTPEngine)"
	}
	if c.MaxReadSize == 0 {
		c.MaxReadSize = 32 << 10
	}
}

// Validate reports the first nonsensical setting it finds.
func (c *Config) Validate() error {
	if c.MaxPerHost < 1 {
		return fmt.Errorf("config: max_per_host must be >= 1, got %d", c.MaxPerHost)
	}
	if c.MaxRecurse < 0 {
		return fmt.Errorf("config: max_recurse must be >= 0, got %d", c.MaxRecurse)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("config: request_timeout must be positive, got %v", c.RequestTimeout)
	}
	if c.PersistentTimeout <= 0 {
		return fmt.Errorf("config: persistent_timeout must be positive, got %v", c.PersistentTimeout)
	}
	if c.MaxReadSize < 1 {
		return fmt.Errorf("config: max_read_size must be >= 1, got %d", c.MaxReadSize)
	}
	return nil
}
