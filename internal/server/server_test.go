package server

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/rs/zerolog"

	"github.com/friendsincode/grimnir_jukebox/internal/config"
	"github.com/friendsincode/grimnir_jukebox/internal/events"
	"github.com/friendsincode/grimnir_jukebox/internal/logbuffer"
	"github.com/friendsincode/grimnir_jukebox/internal/resolver"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	mr := miniredis.RunT(t)
	return &config.Config{
		Environment:       "test",
		CacheDir:          filepath.Join(dir, "cache"),
		BanListBackend:    config.BanListFile,
		BanListPath:       filepath.Join(dir, "banlist.json"),
		DBBackend:         config.DatabaseSQLite,
		DefaultVolume:     0.05,
		Interludes:        config.DefaultInterludes,
		EventBus:          config.EventBusMemory,
		RedisAddr:         mr.Addr(),
		SourceURLTemplate: "https://www.youtube.com/watch?v=%s",
		GStreamerBin:      "gst-launch-1.0",
	}
}

func TestNewServesHealth(t *testing.T) {
	srv, err := New(testConfig(t), logbuffer.New(10), zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer srv.Close()

	for _, path := range []string{"/healthz", "/api/v1/health", "/metrics"} {
		rr := httptest.NewRecorder()
		srv.HTTPServer().Handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
		if rr.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", path, rr.Code)
		}
	}
	if srv.Playlists() != nil {
		t.Fatal("expected no playlist source without a file or database")
	}
	if _, ok := srv.bus.(*events.Bus); !ok {
		t.Fatalf("expected in-process bus, got %T", srv.bus)
	}
}

func TestNewWithDatabase(t *testing.T) {
	cfg := testConfig(t)
	cfg.DBDSN = filepath.Join(t.TempDir(), "jukebox.db")
	cfg.BanListBackend = config.BanListDB
	cfg.MetricsBind = "127.0.0.1:0"

	srv, err := New(cfg, nil, zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer srv.Close()

	if srv.Playlists() == nil {
		t.Fatal("expected database playlist source")
	}
	if srv.recorder == nil {
		t.Fatal("expected history recorder with a database")
	}
	if srv.MetricsServer() == nil {
		t.Fatal("expected dedicated metrics server")
	}

	rr := httptest.NewRecorder()
	srv.HTTPServer().Handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("metrics should not be on the API router, got %d", rr.Code)
	}
}

func TestBanListDBRequiresDatabase(t *testing.T) {
	cfg := testConfig(t)
	cfg.BanListBackend = config.BanListDB

	if _, err := New(cfg, nil, zerolog.Nop()); err == nil {
		t.Fatal("expected error without a database")
	}
}

func TestResolverChainWithObjectStore(t *testing.T) {
	cfg := testConfig(t)
	cfg.S3Bucket = "tracks"
	cfg.S3Region = "us-east-1"
	cfg.S3AccessKeyID = "key"
	cfg.S3SecretAccessKey = "secret"
	cfg.S3Endpoint = "http://127.0.0.1:9"

	s := &Server{cfg: cfg, logger: zerolog.Nop()}
	r, seeker, err := s.newResolver()
	if err != nil {
		t.Fatalf("newResolver: %v", err)
	}
	chain, ok := r.(resolver.Chain)
	if !ok || len(chain) != 2 {
		t.Fatalf("expected two step chain, got %T", r)
	}
	if _, ok := seeker.(*resolver.CommandResolver); !ok {
		t.Fatalf("expected command seeker, got %T", seeker)
	}
}

func TestSourceURLTemplate(t *testing.T) {
	cfg := testConfig(t)
	s := &Server{cfg: cfg}
	if got := s.commandConfig().SourceURL("abc"); got != "https://www.youtube.com/watch?v=abc" {
		t.Fatalf("unexpected url %q", got)
	}
	cfg.SourceURLTemplate = "https://example.com/t/"
	if got := s.commandConfig().SourceURL("abc"); got != "https://example.com/t/abc" {
		t.Fatalf("unexpected url %q", got)
	}
}
