package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Port != 8080 {
		t.Fatalf("expected default port 8080, got %d", cfg.Port)
	}
	if cfg.EventBufferSize != 1024 {
		t.Fatalf("expected default buffer 1024, got %d", cfg.EventBufferSize)
	}
	if cfg.DispatchWorkers != 4 {
		t.Fatalf("expected default workers 4, got %d", cfg.DispatchWorkers)
	}
	if cfg.ServiceName != "hakari" {
		t.Fatalf("expected default service name hakari, got %s", cfg.ServiceName)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("HAKARI_PORT", "9090")
	t.Setenv("HAKARI_DISPATCH_WORKERS", "8")
	t.Setenv("HAKARI_READ_TIMEOUT", "5s")
	t.Setenv("DATABASE_URL", "postgres://u:p@db:5432/hakari")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Port != 9090 {
		t.Fatalf("expected port 9090, got %d", cfg.Port)
	}
	if cfg.DispatchWorkers != 8 {
		t.Fatalf("expected 8 workers, got %d", cfg.DispatchWorkers)
	}
	if cfg.ReadTimeout != 5*time.Second {
		t.Fatalf("expected 5s read timeout, got %s", cfg.ReadTimeout)
	}
	if cfg.DatabaseURL != "postgres://u:p@db:5432/hakari" {
		t.Fatalf("unexpected database URL: %s", cfg.DatabaseURL)
	}
}

func TestLoadInvalidValuesFallBack(t *testing.T) {
	t.Setenv("HAKARI_PORT", "not-a-number")
	t.Setenv("HAKARI_READ_TIMEOUT", "five-seconds")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Port != 8080 {
		t.Fatalf("expected fallback port 8080, got %d", cfg.Port)
	}
	if cfg.ReadTimeout != 30*time.Second {
		t.Fatalf("expected fallback 30s, got %s", cfg.ReadTimeout)
	}
}

func TestValidateRejectsBadConfig(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty database URL", func(c *Config) { c.DatabaseURL = "" }},
		{"zero buffer", func(c *Config) { c.EventBufferSize = 0 }},
		{"zero workers", func(c *Config) { c.DispatchWorkers = 0 }},
		{"zero body limit", func(c *Config) { c.MaxRequestBodyBytes = 0 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg, err := Load()
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			tc.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected validation error, got nil")
			}
		})
	}
}
