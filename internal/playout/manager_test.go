package playout

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/friendsincode/grimnir_jukebox/internal/banlist"
	"github.com/friendsincode/grimnir_jukebox/internal/config"
	"github.com/friendsincode/grimnir_jukebox/internal/events"
	"github.com/rs/zerolog"
)

func newTestManager(t *testing.T) (*Manager, map[string]*fakeSink, *fakeResolver) {
	t.Helper()
	dir := t.TempDir()
	cfg := &config.Config{
		CacheDir:      filepath.Join(dir, "cache"),
		DefaultVolume: 0.05,
		Interludes:    []string{"I1"},
	}
	bans, err := banlist.Open(context.Background(), banlist.NewFileStore(filepath.Join(dir, "banlist.json")), zerolog.Nop())
	if err != nil {
		t.Fatalf("open ban list: %v", err)
	}
	res := newFakeResolver()
	sinks := make(map[string]*fakeSink)
	factory := func(id string) (Sink, error) {
		s := newFakeSink()
		sinks[id] = s
		return s, nil
	}
	m := NewManager(cfg, bans, res, res, events.NewBus(), factory, zerolog.Nop())
	t.Cleanup(func() { _ = m.Shutdown() })
	return m, sinks, res
}

func waitSinkBody(t *testing.T, s *fakeSink, body string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if s.Current() == body {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %q, sink has %q", body, s.Current())
}

func TestManagerOpenGetClose(t *testing.T) {
	m, sinks, _ := newTestManager(t)
	ctx := context.Background()

	ctrl, err := m.Open(ctx, "lounge", SessionOptions{Playlist: []string{"A", "B"}, Autoplay: true})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	waitSinkBody(t, sinks["lounge"], "A")

	if _, err := m.Open(ctx, "lounge", SessionOptions{}); !errors.Is(err, ErrSessionExists) {
		t.Fatalf("expected duplicate session error, got %v", err)
	}
	if got, err := m.Get("lounge"); err != nil || got != ctrl {
		t.Fatalf("get: %v %v", got, err)
	}

	st, err := ctrl.Status()
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if st.Volume != 0.05 {
		t.Fatalf("expected default volume, got %v", st.Volume)
	}

	if err := m.Close("lounge"); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := m.Get("lounge"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected closed session to be gone, got %v", err)
	}
	if _, err := os.Stat(filepath.Join(m.cfg.CacheDir, "lounge")); !os.IsNotExist(err) {
		t.Fatalf("session cache should be removed, stat err=%v", err)
	}
}

func TestManagerSessionsAreIndependent(t *testing.T) {
	m, sinks, _ := newTestManager(t)
	ctx := context.Background()

	if _, err := m.Open(ctx, "one", SessionOptions{Playlist: []string{"A"}, Autoplay: true}); err != nil {
		t.Fatalf("open one: %v", err)
	}
	if _, err := m.Open(ctx, "two", SessionOptions{Playlist: []string{"X"}, Autoplay: true}); err != nil {
		t.Fatalf("open two: %v", err)
	}
	waitSinkBody(t, sinks["one"], "A")
	waitSinkBody(t, sinks["two"], "X")

	if got := m.List(); len(got) != 2 || got[0].ID() != "one" || got[1].ID() != "two" {
		t.Fatalf("unexpected session list: %v", got)
	}

	if err := m.Close("one"); err != nil {
		t.Fatalf("close one: %v", err)
	}
	if _, err := m.Get("two"); err != nil {
		t.Fatalf("closing one session must not affect another: %v", err)
	}
}

func TestManagerRejectsInvalidIDs(t *testing.T) {
	m, _, _ := newTestManager(t)
	if _, err := m.Open(context.Background(), "../escape", SessionOptions{}); err == nil {
		t.Fatal("expected invalid id to be rejected")
	}
	ctrl, err := m.Open(context.Background(), "", SessionOptions{})
	if err != nil {
		t.Fatalf("open with generated id: %v", err)
	}
	if ctrl.ID() == "" {
		t.Fatal("expected generated id")
	}
}
