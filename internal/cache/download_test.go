package cache

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/friendsincode/grimnir_jukebox/internal/resolver"
	"github.com/rs/zerolog"
)

// fakeResolver writes "audio:<id>" to dest, optionally waiting on gate first.
type fakeResolver struct {
	calls   atomic.Int32
	gate    chan struct{}
	started chan string
	fail    map[string]resolver.Reason
}

func (f *fakeResolver) Resolve(ctx context.Context, id, dest string) error {
	f.calls.Add(1)
	if f.started != nil {
		f.started <- id
	}
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return resolver.Fail(id, resolver.ReasonTransient, ctx.Err())
		}
	}
	if reason, ok := f.fail[id]; ok {
		_ = os.WriteFile(dest, []byte("partial"), 0o644)
		return resolver.Fail(id, reason, errors.New("boom"))
	}
	return os.WriteFile(dest, []byte("audio:"+id), 0o644)
}

type fakeSeeker struct {
	offsets []time.Duration
}

func (f *fakeSeeker) Seek(_ context.Context, src string, offset time.Duration, dest string) error {
	f.offsets = append(f.offsets, offset)
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dest, append(data, []byte("@"+offset.String())...), 0o644)
}

func newTestCache(t *testing.T, r resolver.Resolver, s resolver.Seeker) *DownloadCache {
	t.Helper()
	c := NewDownloadCache(filepath.Join(t.TempDir(), "session"), r, s, zerolog.Nop())
	t.Cleanup(func() { _ = c.Purge() })
	return c
}

func TestResolveTwiceInvokesResolverOnce(t *testing.T) {
	r := &fakeResolver{}
	c := newTestCache(t, r, nil)

	first, err := c.Resolve(context.Background(), "A")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	second, err := c.Resolve(context.Background(), "A")
	if err != nil {
		t.Fatalf("resolve again: %v", err)
	}
	if first != second {
		t.Fatalf("paths differ: %s vs %s", first, second)
	}
	if r.calls.Load() != 1 {
		t.Fatalf("expected one resolver call, got %d", r.calls.Load())
	}
	if data, _ := os.ReadFile(first); string(data) != "audio:A" {
		t.Fatalf("unexpected artifact %q", data)
	}
}

func TestConcurrentResolvesShareOneFlight(t *testing.T) {
	r := &fakeResolver{gate: make(chan struct{}), started: make(chan string, 8)}
	c := newTestCache(t, r, nil)

	const callers = 5
	var wg sync.WaitGroup
	paths := make([]string, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			paths[i], errs[i] = c.Resolve(context.Background(), "A")
		}(i)
	}

	<-r.started
	time.Sleep(20 * time.Millisecond) // let the other callers join the flight
	close(r.gate)
	wg.Wait()

	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d: %v", i, errs[i])
		}
		if paths[i] != paths[0] {
			t.Fatalf("caller %d got %s, want %s", i, paths[i], paths[0])
		}
	}
	if r.calls.Load() != 1 {
		t.Fatalf("expected one resolver call, got %d", r.calls.Load())
	}
}

func TestFailedResolveLeavesNoFiles(t *testing.T) {
	r := &fakeResolver{fail: map[string]resolver.Reason{"B": resolver.ReasonUnavailable}}
	c := newTestCache(t, r, nil)

	_, err := c.Resolve(context.Background(), "B")
	if resolver.ReasonOf(err) != resolver.ReasonUnavailable {
		t.Fatalf("expected classified failure, got %v", err)
	}

	entries, _ := os.ReadDir(c.Dir())
	if len(entries) != 0 {
		t.Fatalf("expected empty cache dir, found %d files", len(entries))
	}
	if c.Contains("B") {
		t.Fatal("failed id must not be indexed")
	}
}

func TestAbandonedResolveIsCancelled(t *testing.T) {
	r := &fakeResolver{gate: make(chan struct{}), started: make(chan string, 1)}
	c := newTestCache(t, r, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := c.Resolve(ctx, "A")
		done <- err
	}()

	<-r.started
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected cancellation, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("resolve did not return after cancel")
	}

	// The resolver saw the flight context cancelled, so nothing was committed.
	time.Sleep(20 * time.Millisecond)
	if c.Contains("A") || countFiles(t, c.Dir()) != 0 {
		t.Fatal("abandoned resolve must not be committed")
	}
}

func countFiles(t *testing.T, dir string) int {
	t.Helper()
	entries, _ := os.ReadDir(dir)
	return len(entries)
}

func TestEvictExceptKeepsRequestedAndPinned(t *testing.T) {
	c := newTestCache(t, &fakeResolver{}, nil)
	ctx := context.Background()

	paths := map[string]string{}
	for _, id := range []string{"A", "B", "C"} {
		p, err := c.Resolve(ctx, id)
		if err != nil {
			t.Fatalf("resolve %s: %v", id, err)
		}
		paths[id] = p
	}

	c.Pin(paths["A"])
	if n := c.EvictExcept("C"); n != 1 {
		t.Fatalf("expected one eviction, got %d", n)
	}
	if !c.Contains("A") || c.Contains("B") || !c.Contains("C") {
		t.Fatal("unexpected survivors")
	}
	if _, err := os.Stat(paths["B"]); !errors.Is(err, os.ErrNotExist) {
		t.Fatal("evicted artifact still on disk")
	}

	c.Unpin(paths["A"])
	c.EvictExcept()
	if c.Len() != 0 {
		t.Fatalf("expected empty cache, got %d", c.Len())
	}
}

func TestResolveAtCutsFromFullArtifact(t *testing.T) {
	r := &fakeResolver{}
	s := &fakeSeeker{}
	c := newTestCache(t, r, s)
	ctx := context.Background()

	path, err := c.ResolveAt(ctx, "A", 30*time.Second)
	if err != nil {
		t.Fatalf("resolve at: %v", err)
	}
	if data, _ := os.ReadFile(path); string(data) != "audio:A@30s" {
		t.Fatalf("unexpected cut: %q", data)
	}
	if len(s.offsets) != 1 || s.offsets[0] != 30*time.Second {
		t.Fatalf("unexpected seeks: %v", s.offsets)
	}

	again, _ := c.ResolveAt(ctx, "A", 30*time.Second)
	if again != path || len(s.offsets) != 1 || r.calls.Load() != 1 {
		t.Fatal("expected the cut to be cached")
	}

	// Keeping A keeps its cuts too.
	c.EvictExcept("A")
	if c.Len() != 2 {
		t.Fatalf("expected full artifact and cut to survive, got %d", c.Len())
	}

	if p, _ := c.ResolveAt(ctx, "A", 0); p == path {
		t.Fatal("zero offset must return the full artifact")
	}
}

func TestResolveAtWithoutSeeker(t *testing.T) {
	c := newTestCache(t, &fakeResolver{}, nil)
	_, err := c.ResolveAt(context.Background(), "A", time.Second)
	if !errors.Is(err, ErrSeekUnsupported) || resolver.IsPermanent(err) {
		t.Fatalf("expected transient seek error, got %v", err)
	}
}

func TestMissingArtifactIsReResolved(t *testing.T) {
	r := &fakeResolver{}
	c := newTestCache(t, r, nil)

	path, _ := c.Resolve(context.Background(), "A")
	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Resolve(context.Background(), "A"); err != nil {
		t.Fatalf("re-resolve: %v", err)
	}
	if r.calls.Load() != 2 {
		t.Fatalf("expected a second resolver call, got %d", r.calls.Load())
	}
}

func TestPurgeRemovesDirectory(t *testing.T) {
	c := NewDownloadCache(filepath.Join(t.TempDir(), "s"), &fakeResolver{}, nil, zerolog.Nop())
	if _, err := c.Resolve(context.Background(), "A"); err != nil {
		t.Fatal(err)
	}
	if err := c.Purge(); err != nil {
		t.Fatalf("purge: %v", err)
	}
	if _, err := os.Stat(c.Dir()); !errors.Is(err, os.ErrNotExist) {
		t.Fatal("expected cache dir to be removed")
	}
	if _, err := c.Resolve(context.Background(), "A"); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestArtifactPathStaysInsideDir(t *testing.T) {
	c := newTestCache(t, &fakeResolver{}, nil)
	p := c.artifactPath(artifactKey{id: "../../etc/passwd"})
	if filepath.Dir(p) != c.Dir() {
		t.Fatalf("path escaped cache dir: %s", p)
	}
	cut := c.artifactPath(newKey("../x", time.Second))
	if filepath.Dir(cut) != filepath.Join(c.Dir(), "resume", "1000") {
		t.Fatalf("cut escaped resume dir: %s", cut)
	}
}

func TestIDsWithAtSignAreDistinctArtifacts(t *testing.T) {
	r := &fakeResolver{}
	c := newTestCache(t, r, &fakeSeeker{})
	ctx := context.Background()

	if _, err := c.ResolveAt(ctx, "A", 30*time.Second); err != nil {
		t.Fatalf("resolve at: %v", err)
	}
	calls := r.calls.Load()

	path, err := c.Resolve(ctx, "A@30000")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if data, _ := os.ReadFile(path); string(data) != "audio:A@30000" {
		t.Fatalf("id served another track's cut: %q", data)
	}
	if r.calls.Load() != calls+1 {
		t.Fatalf("expected a resolver call for A@30000, got %d", r.calls.Load()-calls)
	}
}

func TestEvictExceptMatchesWholeIDs(t *testing.T) {
	c := newTestCache(t, &fakeResolver{}, nil)
	ctx := context.Background()

	for _, id := range []string{"user@host", "user"} {
		if _, err := c.Resolve(ctx, id); err != nil {
			t.Fatalf("resolve %s: %v", id, err)
		}
	}
	if n := c.EvictExcept("user@host"); n != 1 {
		t.Fatalf("expected one eviction, got %d", n)
	}
	if !c.Contains("user@host") || c.Contains("user") {
		t.Fatal("kept the wrong artifact")
	}
}
