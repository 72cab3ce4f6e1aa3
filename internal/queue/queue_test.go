package queue

import (
	"math/rand/v2"
	"slices"
	"testing"
)

var interludes = []string{"i1", "i2", "i3"}

func seeded() Option {
	return WithRand(rand.New(rand.NewPCG(1, 2)))
}

func TestNextCyclesInSourceOrder(t *testing.T) {
	q := New(interludes, seeded())
	q.Initialize([]string{"A", "B", "C"}, false)

	var got []string
	for i := 0; i < 7; i++ {
		got = append(got, q.Next())
	}
	want := []string{"A", "B", "C", "A", "B", "C", "A"}
	if !slices.Equal(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestShuffleRefillIsPermutation(t *testing.T) {
	source := []string{"A", "B", "C", "D", "E", "F", "G", "H"}
	q := New(interludes, seeded())
	q.Initialize(source, true)

	for pass := 0; pass < 5; pass++ {
		var got []string
		for range source {
			got = append(got, q.Next())
		}
		slices.Sort(got)
		if !slices.Equal(got, source) {
			t.Fatalf("pass %d: not a permutation: %v", pass, got)
		}
	}
}

func TestEmptySourceFallsBackToInterlude(t *testing.T) {
	q := New(interludes, seeded())
	q.Initialize(nil, false)

	for i := 0; i < 10; i++ {
		if id := q.Next(); !slices.Contains(interludes, id) {
			t.Fatalf("expected interlude, got %q", id)
		}
	}
	if _, ok := q.Peek(); ok {
		t.Fatal("peek on empty source should report none")
	}
}

func TestPeekDoesNotConsume(t *testing.T) {
	q := New(interludes, seeded())
	q.Initialize([]string{"A", "B"}, false)

	if id, _ := q.Peek(); id != "A" {
		t.Fatalf("peek = %q", id)
	}
	if id := q.Next(); id != "A" {
		t.Fatalf("next = %q", id)
	}
	q.Next()
	if id, ok := q.Peek(); !ok || id != "A" {
		t.Fatalf("expected peek to refill, got %q %v", id, ok)
	}
	if q.Len() != 2 {
		t.Fatalf("expected refilled queue, len=%d", q.Len())
	}
}

func TestSetShuffleAppliesOnNextRefill(t *testing.T) {
	q := New(interludes, seeded())
	q.Initialize([]string{"A", "B", "C", "D"}, false)
	q.Next()

	q.SetShuffle(true)
	if got := q.Snapshot(); !slices.Equal(got, []string{"B", "C", "D"}) {
		t.Fatalf("working list changed before refill: %v", got)
	}
	if !q.Shuffle() {
		t.Fatal("expected shuffle flag to be set")
	}
}

func TestShuffleNowRepermutesFromSource(t *testing.T) {
	source := []string{"A", "B", "C", "D", "E"}
	q := New(interludes, seeded())
	q.Initialize(source, false)
	q.Next()
	q.Next()

	q.ShuffleNow()
	got := q.Snapshot()
	slices.Sort(got)
	if !slices.Equal(got, source) {
		t.Fatalf("shuffle now should restore a full permutation, got %v", got)
	}
}

func TestNextAllowedSkipsBannedHeads(t *testing.T) {
	banned := map[string]bool{"A": true, "B": true}
	q := New(interludes, seeded())
	q.Initialize([]string{"A", "B", "C"}, false)

	var skipped []string
	id, ok := q.NextAllowed(func(id string) bool { return banned[id] }, func(id string) { skipped = append(skipped, id) })
	if !ok || id != "C" {
		t.Fatalf("got %q %v", id, ok)
	}
	if !slices.Equal(skipped, []string{"A", "B"}) {
		t.Fatalf("unexpected skips: %v", skipped)
	}
}

func TestNextAllowedTerminatesWhenEverythingBanned(t *testing.T) {
	q := New(interludes, seeded())
	q.Initialize([]string{"A", "B"}, false)

	isBanned := func(id string) bool { return id == "A" || id == "B" }
	id, ok := q.NextAllowed(isBanned, nil)
	if !ok || !slices.Contains(interludes, id) {
		t.Fatalf("expected interlude fallback, got %q %v", id, ok)
	}

	all := func(string) bool { return true }
	if _, ok := q.NextAllowed(all, nil); ok {
		t.Fatal("expected nothing playable")
	}
}

func TestPeekAllowedLooksPastBannedHeads(t *testing.T) {
	q := New(interludes, seeded())
	q.Initialize([]string{"A", "B", "C"}, false)
	q.Next()
	q.Next()

	// Only C is left in this pass and it is banned; without shuffle A comes next.
	id, ok := q.PeekAllowed(func(id string) bool { return id == "C" })
	if !ok || id != "A" {
		t.Fatalf("got %q %v", id, ok)
	}
	if q.Len() != 1 {
		t.Fatalf("peek must not consume, len=%d", q.Len())
	}
}

func TestPushFrontAndRemoveFront(t *testing.T) {
	q := New(interludes, seeded())
	q.Initialize([]string{"A", "B"}, false)
	q.Next()

	q.PushFront("A")
	if id, _ := q.Peek(); id != "A" {
		t.Fatalf("expected pushed head, got %q", id)
	}
	if q.RemoveFront("B") {
		t.Fatal("RemoveFront must only drop a matching head")
	}
	if !q.RemoveFront("A") {
		t.Fatal("expected matching head to be removed")
	}
	if id := q.Next(); id != "B" {
		t.Fatalf("expected B, got %q", id)
	}
}

func TestDropBannedHeadsStopsAtFirstAllowed(t *testing.T) {
	q := New(interludes, seeded())
	q.Initialize([]string{"A", "B", "C", "B"}, false)

	var skipped []string
	n := q.DropBannedHeads(func(id string) bool { return id != "C" }, func(id string) { skipped = append(skipped, id) })
	if n != 2 || !slices.Equal(skipped, []string{"A", "B"}) {
		t.Fatalf("dropped %d %v", n, skipped)
	}
	if got := q.Snapshot(); !slices.Equal(got, []string{"C", "B"}) {
		t.Fatalf("unexpected remainder: %v", got)
	}
}
