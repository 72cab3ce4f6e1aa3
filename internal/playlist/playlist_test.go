package playlist

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/friendsincode/grimnir_jukebox/internal/cache"
	"github.com/friendsincode/grimnir_jukebox/internal/config"
	"github.com/friendsincode/grimnir_jukebox/internal/db"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const yamlPlaylists = `
playlists:
  - name: lounge
    title: Lounge
    url: https://example.com/lounge
    tracks:
      - EtqP2xVE4iY
      - id: WtRHih2nZxk
        title: Second
  - name: empty
    tracks: []
`

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestFileSourceParsesMixedTrackForms(t *testing.T) {
	src, err := NewFileSource(writeFile(t, "playlists.yaml", yamlPlaylists))
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	p, err := src.Get(context.Background(), "lounge")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !slices.Equal(p.IDs(), []string{"EtqP2xVE4iY", "WtRHih2nZxk"}) {
		t.Fatalf("unexpected ids: %v", p.IDs())
	}
	if p.Tracks[1].Title != "Second" || p.Title != "Lounge" {
		t.Fatalf("unexpected playlist: %+v", p)
	}

	if _, err := src.Get(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	all, _ := src.List(context.Background())
	if len(all) != 2 || all[0].Name != "empty" {
		t.Fatalf("unexpected list: %+v", all)
	}
}

func TestFileSourceReadsJSON(t *testing.T) {
	body := `{"playlists": [{"name": "j", "tracks": ["a", {"id": "b", "title": "B"}]}]}`
	src, err := NewFileSource(writeFile(t, "playlists.json", body))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	p, err := src.Get(context.Background(), "j")
	if err != nil || !slices.Equal(p.IDs(), []string{"a", "b"}) {
		t.Fatalf("unexpected playlist %+v %v", p, err)
	}
}

func TestFileSourceRejectsInvalidFiles(t *testing.T) {
	cases := map[string]string{
		"syntax":    "playlists: [",
		"no name":   "playlists:\n  - tracks: [a]\n",
		"duplicate": "playlists:\n  - name: a\n  - name: a\n",
		"blank id":  "playlists:\n  - name: a\n    tracks:\n      - title: x\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := NewFileSource(writeFile(t, "p.yaml", body)); err == nil {
				t.Fatal("expected load error")
			}
		})
	}
}

func TestDBSourceImportAndReplace(t *testing.T) {
	cfg := &config.Config{DBBackend: config.DatabaseSQLite, DBDSN: filepath.Join(t.TempDir(), "jukebox.db")}
	database, err := db.Connect(cfg)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer db.Close(database)
	if err := db.Migrate(database); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	file, err := NewFileSource(writeFile(t, "playlists.yaml", yamlPlaylists))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	store := NewDBSource(database)
	ctx := context.Background()

	n, err := store.Import(ctx, file)
	if err != nil || n != 2 {
		t.Fatalf("import: %d %v", n, err)
	}
	p, err := store.Get(ctx, "lounge")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !slices.Equal(p.IDs(), []string{"EtqP2xVE4iY", "WtRHih2nZxk"}) || p.URL != "https://example.com/lounge" {
		t.Fatalf("unexpected playlist: %+v", p)
	}

	p.Tracks = []Track{{ID: "z"}, {ID: "y"}, {ID: "x"}}
	p.Title = "Renamed"
	if err := store.Save(ctx, p); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, _ := store.Get(ctx, "lounge")
	if !slices.Equal(got.IDs(), []string{"z", "y", "x"}) || got.Title != "Renamed" {
		t.Fatalf("replace failed: %+v", got)
	}

	if _, err := store.Get(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestSeedStoresTitles(t *testing.T) {
	mr := miniredis.RunT(t)
	mc := cache.NewMetadataCacheWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}), cache.MetadataConfig{}, nil, zerolog.Nop())
	defer mc.Close()

	p := Playlist{Name: "x", Tracks: []Track{{ID: "a"}, {ID: "b", Title: "Bee"}}}
	n, err := Seed(context.Background(), mc, p)
	if err != nil || n != 1 {
		t.Fatalf("seed: %d %v", n, err)
	}
	info, ok := mc.Get(context.Background(), "b")
	if !ok || info.Title != "Bee" {
		t.Fatalf("unexpected metadata: %+v %v", info, ok)
	}
}
