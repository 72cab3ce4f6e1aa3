package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("JUKEBOX_ENV", "development")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.DefaultVolume != 0.05 {
		t.Fatalf("unexpected default volume: %v", cfg.DefaultVolume)
	}
	if !cfg.AutoPause {
		t.Fatal("expected auto-pause to default on")
	}
	if len(cfg.Interludes) != 5 || cfg.Interludes[0] != "EtqP2xVE4iY" {
		t.Fatalf("unexpected interludes: %v", cfg.Interludes)
	}
	if cfg.BanListPath != "./config/banlist.json" {
		t.Fatalf("unexpected ban list path: %q", cfg.BanListPath)
	}
	if cfg.InterruptLead != 3*time.Second {
		t.Fatalf("unexpected interrupt lead: %s", cfg.InterruptLead)
	}
	if got := cfg.SourceURL("abc"); got != "https://www.youtube.com/watch?v=abc" {
		t.Fatalf("unexpected source url: %q", got)
	}
}

func TestLoadParsesInterludeList(t *testing.T) {
	t.Setenv("JUKEBOX_INTERLUDES", " a, ,b ")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if len(cfg.Interludes) != 2 || cfg.Interludes[0] != "a" || cfg.Interludes[1] != "b" {
		t.Fatalf("unexpected interludes: %v", cfg.Interludes)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := []struct {
		name string
		key  string
		val  string
	}{
		{"volume above one", "JUKEBOX_DEFAULT_VOLUME", "1.5"},
		{"unknown ban backend", "JUKEBOX_BANLIST_BACKEND", "etcd"},
		{"unknown bus", "JUKEBOX_EVENT_BUS", "kafka"},
		{"lead beyond an hour", "JUKEBOX_INTERRUPT_LEAD_SECONDS", "3600"},
		{"unknown db", "JUKEBOX_DB_BACKEND", "oracle"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv(tc.key, tc.val)
			if _, err := Load(); err == nil {
				t.Fatalf("expected %s=%s to be rejected", tc.key, tc.val)
			}
		})
	}
}

func TestLoadDBBanListRequiresDSN(t *testing.T) {
	t.Setenv("JUKEBOX_BANLIST_BACKEND", "db")
	if _, err := Load(); err == nil {
		t.Fatal("expected missing DSN to fail")
	}

	t.Setenv("JUKEBOX_DB_DSN", "file::memory:")
	if _, err := Load(); err != nil {
		t.Fatalf("expected db ban list with DSN to load: %v", err)
	}
}

func TestLoadProductionRequiresSigningKey(t *testing.T) {
	t.Setenv("JUKEBOX_ENV", "production")
	if _, err := Load(); err == nil {
		t.Fatal("expected production load without signing key to fail")
	}

	t.Setenv("JUKEBOX_JWT_SIGNING_KEY", "supersecret")
	if _, err := Load(); err != nil {
		t.Fatalf("expected production load with signing key to succeed: %v", err)
	}
}

func TestLoadReportsLegacyEnvWarnings(t *testing.T) {
	t.Setenv("GRIMNIR_ENV", "development")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if len(cfg.LegacyEnvWarnings) == 0 {
		t.Fatal("expected legacy env warnings")
	}
}
