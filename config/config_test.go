package config_test

import (
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/firasghr/GoHTTPEngine/config"
)

func TestDefaultConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	if cfg == nil {
		t.Fatal("DefaultConfig returned nil")
	}
	if cfg.MaxPerHost != 4 {
		t.Errorf("MaxPerHost = %d, want 4", cfg.MaxPerHost)
	}
	if cfg.MaxRecurse != 10 {
		t.Errorf("MaxRecurse = %d, want 10", cfg.MaxRecurse)
	}
	if cfg.RequestTimeout != 300*time.Second {
		t.Errorf("RequestTimeout = %v, want 300s", cfg.RequestTimeout)
	}
	if cfg.PersistentTimeout != 3*time.Second {
		t.Errorf("PersistentTimeout = %v, want 3s", cfg.PersistentTimeout)
	}
	if cfg.UserAgent == "" {
		t.Error("UserAgent should have a default")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestLoadConfig_ValidFile(t *testing.T) {
	raw := map[string]interface{}{
		"max_per_host":       2,
		"request_timeout":    int64(30 * time.Second),
		"persistent_timeout": int64(time.Second),
		"user_agent":         "custom/1.0",
	}
	f, err := os.CreateTemp(t.TempDir(), "config*.json")
	if err != nil {
		t.Fatal(err)
	}
	if err := json.NewEncoder(f).Encode(raw); err != nil {
		t.Fatal(err)
	}
	f.Close()

	cfg, err := config.LoadConfig(f.Name())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.MaxPerHost != 2 {
		t.Errorf("MaxPerHost = %d, want 2", cfg.MaxPerHost)
	}
	if cfg.RequestTimeout != 30*time.Second {
		t.Errorf("RequestTimeout = %v, want 30s", cfg.RequestTimeout)
	}
	if cfg.UserAgent != "custom/1.0" {
		t.Errorf("UserAgent = %q", cfg.UserAgent)
	}
	// Unset fields pick up defaults.
	if cfg.MaxRecurse != 10 {
		t.Errorf("MaxRecurse should default to 10, got %d", cfg.MaxRecurse)
	}
}

func TestLoadConfig_UnknownField(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "config*.json")
	if err != nil {
		t.Fatal(err)
	}
	f.WriteString(`{"max_per_hots": 3}`)
	f.Close()

	if _, err := config.LoadConfig(f.Name()); err == nil {
		t.Error("expected error for unknown config field")
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	if _, err := config.LoadConfig("/nonexistent.json"); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestValidate(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.MaxPerHost = 0
	if err := cfg.Validate(); err == nil {
		t.Error("MaxPerHost 0 should not validate")
	}
	cfg = config.DefaultConfig()
	cfg.RequestTimeout = -time.Second
	if err := cfg.Validate(); err == nil {
		t.Error("negative RequestTimeout should not validate")
	}
}
