package banlist

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/friendsincode/grimnir_jukebox/internal/models"
	"github.com/friendsincode/grimnir_jukebox/internal/resolver"
	"github.com/friendsincode/grimnir_jukebox/internal/telemetry"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func TestFileStoreSurvivesRestart(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "config", "banlist.json")

	list, err := Open(ctx, NewFileStore(path), zerolog.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if list.Len() != 0 {
		t.Fatalf("expected empty list, got %d", list.Len())
	}

	if err := list.Add(ctx, "B", "unavailable"); err != nil {
		t.Fatalf("add: %v", err)
	}
	if !list.IsBanned("B") {
		t.Fatal("expected B to be banned immediately after add")
	}
	if err := list.Add(ctx, "C", "premium_only"); err != nil {
		t.Fatalf("add: %v", err)
	}

	reopened, err := Open(ctx, NewFileStore(path), zerolog.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	for _, id := range []string{"B", "C"} {
		if !reopened.IsBanned(id) {
			t.Fatalf("expected %s to survive restart", id)
		}
	}
	if rec, _ := reopened.Get("C"); rec.Reason != "premium_only" {
		t.Fatalf("unexpected reason: %q", rec.Reason)
	}
	if reopened.IsBanned("A") {
		t.Fatal("A was never banned")
	}
}

func TestFileStoreWritesTabIndentedJSONWithoutLeftovers(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "banlist.json")

	list, err := Open(ctx, NewFileStore(path), zerolog.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := list.Add(ctx, "X", "age_restricted"); err != nil {
		t.Fatalf("add: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.Contains(string(data), "\n\t\"X\"") || !strings.Contains(string(data), "\"bannedAt\"") {
		t.Fatalf("unexpected file layout:\n%s", data)
	}

	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Fatalf("expected only the ban list file, found %d entries", len(entries))
	}
}

func TestAddOverwritesReason(t *testing.T) {
	ctx := context.Background()
	list, err := Open(ctx, NewFileStore(filepath.Join(t.TempDir(), "b.json")), zerolog.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	first := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	list.now = func() time.Time { return first }
	_ = list.Add(ctx, "A", "unavailable")

	list.now = func() time.Time { return first.Add(time.Hour) }
	_ = list.Add(ctx, "A", "manual")

	rec, ok := list.Get("A")
	if !ok || rec.Reason != "manual" || !rec.BannedAt.Equal(first.Add(time.Hour)) {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if list.Len() != 1 {
		t.Fatalf("expected one entry, got %d", list.Len())
	}
}

func TestOpenRejectsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "banlist.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Open(context.Background(), NewFileStore(path), zerolog.Nop()); err == nil {
		t.Fatal("expected corrupt file to fail")
	}
}

type failingStore struct{}

func (failingStore) Load(context.Context) (map[string]Record, error) { return nil, nil }
func (failingStore) Save(context.Context, string, Record, map[string]Record) error {
	return errors.New("disk full")
}

func TestAddKeepsBanWhenPersistFails(t *testing.T) {
	list, err := Open(context.Background(), failingStore{}, zerolog.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := list.Add(context.Background(), "A", "unavailable"); err == nil {
		t.Fatal("expected persist error")
	}
	if !list.IsBanned("A") {
		t.Fatal("expected in-memory ban despite persist failure")
	}
}

func TestEntriesOrderedByBanTime(t *testing.T) {
	ctx := context.Background()
	list, _ := Open(ctx, failingStore{}, zerolog.Nop())
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"c", "a", "b"} {
		at := base.Add(time.Duration(i) * time.Minute)
		list.now = func() time.Time { return at }
		_ = list.Add(ctx, id, "manual")
	}

	got := list.Entries()
	if len(got) != 3 || got[0].TrackID != "c" || got[2].TrackID != "b" {
		t.Fatalf("unexpected order: %+v", got)
	}
}

func TestGormStoreUpsertsAndReloads(t *testing.T) {
	ctx := context.Background()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "jukebox.db")), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&models.BannedTrack{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	list, err := Open(ctx, NewGormStore(db), zerolog.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := list.Add(ctx, "A", "unavailable"); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := list.Add(ctx, "A", "region_blocked"); err != nil {
		t.Fatalf("re-add: %v", err)
	}

	var count int64
	db.Model(&models.BannedTrack{}).Count(&count)
	if count != 1 {
		t.Fatalf("expected a single row, got %d", count)
	}

	reopened, err := Open(ctx, NewGormStore(db), zerolog.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if rec, ok := reopened.Get("A"); !ok || rec.Reason != "region_blocked" {
		t.Fatalf("unexpected record after reload: %+v", rec)
	}
}

func TestBanMetricLabelsAreBounded(t *testing.T) {
	ctx := context.Background()
	list, err := Open(ctx, NewFileStore(filepath.Join(t.TempDir(), "banlist.json")), zerolog.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	operator := testutil.ToFloat64(telemetry.TracksBannedTotal.WithLabelValues("operator"))
	unavailable := testutil.ToFloat64(telemetry.TracksBannedTotal.WithLabelValues("unavailable"))

	_ = list.Add(ctx, "A", "sounds awful at 3am")
	_ = list.Add(ctx, "B", "another one-off note")
	_ = list.Add(ctx, "C", resolver.ReasonUnavailable.Describe())

	if got := testutil.ToFloat64(telemetry.TracksBannedTotal.WithLabelValues("operator")) - operator; got != 2 {
		t.Fatalf("operator bans = %v, want 2", got)
	}
	if got := testutil.ToFloat64(telemetry.TracksBannedTotal.WithLabelValues("unavailable")) - unavailable; got != 1 {
		t.Fatalf("unavailable bans = %v, want 1", got)
	}
	if got := testutil.CollectAndCount(telemetry.TracksBannedTotal); got > len(bannableReasons)+1 {
		t.Fatalf("ban metric has %d series", got)
	}
	if rec, _ := list.Get("A"); rec.Reason != "sounds awful at 3am" {
		t.Fatalf("record lost the operator text: %q", rec.Reason)
	}
}
