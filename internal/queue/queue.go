/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package queue implements the per-session music queue: a working list derived from a
// source playlist, consumed front to back and refilled when exhausted.
package queue

import (
	"math/rand/v2"
	"sync"

	"github.com/samber/lo"
)

// Queue is safe for concurrent use, although a session normally drives it from one goroutine.
type Queue struct {
	mu         sync.Mutex
	source     []string
	items      []string
	shuffle    bool
	interludes []string
	rng        *rand.Rand
}

// Option configures a Queue.
type Option func(*Queue)

// WithRand makes permutations and interlude picks reproducible.
func WithRand(r *rand.Rand) Option {
	return func(q *Queue) { q.rng = r }
}

// New returns an empty queue that falls back to interludes while it has no source.
func New(interludes []string, opts ...Option) *Queue {
	q := &Queue{interludes: append([]string(nil), interludes...)}
	for _, opt := range opts {
		opt(q)
	}
	if q.rng == nil {
		q.rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return q
}

// Initialize replaces the working queue with source, permuted when shuffle is set.
// The shuffle flag is remembered for later refills.
func (q *Queue) Initialize(source []string, shuffle bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.source = append([]string(nil), source...)
	q.shuffle = shuffle
	q.refillLocked()
}

// Next pops the queue head, refilling from the source first when empty.
// With an empty source it returns a random interlude.
func (q *Queue) Next() string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.nextLocked()
}

func (q *Queue) nextLocked() string {
	if len(q.items) == 0 {
		q.refillLocked()
	}
	if len(q.items) == 0 {
		return q.interludeLocked()
	}
	head := q.items[0]
	q.items = q.items[1:]
	return head
}

// Peek returns the head without consuming it. An exhausted queue is refilled first so the
// peeked id is the one Next will return. ok is false only when there is no source.
func (q *Queue) Peek() (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		q.refillLocked()
	}
	if len(q.items) == 0 {
		return "", false
	}
	return q.items[0], true
}

// PeekAllowed returns the first head that is not banned, without consuming anything.
func (q *Queue) PeekAllowed(isBanned func(string) bool) (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		q.refillLocked()
	}
	for _, id := range q.items {
		if !isBanned(id) {
			return id, true
		}
	}
	// The rest of this pass is banned. Without shuffle the next pass is predictable.
	if !q.shuffle {
		for _, id := range q.source {
			if !isBanned(id) {
				return id, true
			}
		}
	}
	return "", false
}

// NextAllowed pops heads until one is not banned, reporting each skipped id to onSkip.
// Skipping is bounded by one full pass over the source plus the current working list;
// past that it falls back to an unbanned interlude. ok is false when nothing is playable.
func (q *Queue) NextAllowed(isBanned func(string) bool, onSkip func(string)) (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	budget := len(q.items) + len(q.source) + 1
	for i := 0; i < budget; i++ {
		id := q.nextLocked()
		if id == "" {
			return "", false
		}
		if !isBanned(id) {
			return id, true
		}
		if onSkip != nil {
			onSkip(id)
		}
		if len(q.source) == 0 {
			break
		}
	}

	playable := lo.Filter(q.interludes, func(id string, _ int) bool { return !isBanned(id) })
	if len(playable) == 0 {
		return "", false
	}
	return playable[q.rng.IntN(len(playable))], true
}

// DropBannedHeads removes consecutive banned ids from the front of the working list,
// reporting each to onSkip. It never refills, so it stops at the end of the current pass.
func (q *Queue) DropBannedHeads(isBanned func(string) bool, onSkip func(string)) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	dropped := 0
	for len(q.items) > 0 && isBanned(q.items[0]) {
		if onSkip != nil {
			onSkip(q.items[0])
		}
		q.items = q.items[1:]
		dropped++
	}
	return dropped
}

// PushFront puts id at the head of the working queue.
func (q *Queue) PushFront(id string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append([]string{id}, q.items...)
}

// RemoveFront drops the head if it equals id.
func (q *Queue) RemoveFront(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 || q.items[0] != id {
		return false
	}
	q.items = q.items[1:]
	return true
}

// SetShuffle changes the flag used by the next refill; the current working list is untouched.
func (q *Queue) SetShuffle(shuffle bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.shuffle = shuffle
}

// Shuffle reports the configured shuffle flag.
func (q *Queue) Shuffle() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.shuffle
}

// ShuffleNow discards the working list and refills it with a fresh permutation of the source.
func (q *Queue) ShuffleNow() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = q.permute(q.source)
}

// Len returns the number of ids left before the next refill.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Snapshot copies the working list.
func (q *Queue) Snapshot() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]string(nil), q.items...)
}

// Source copies the source list.
func (q *Queue) Source() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]string(nil), q.source...)
}

// IsInterlude reports whether id belongs to the fallback set.
func (q *Queue) IsInterlude(id string) bool {
	return lo.Contains(q.interludes, id)
}

func (q *Queue) refillLocked() {
	q.items = q.permutationLocked()
}

func (q *Queue) permutationLocked() []string {
	if q.shuffle {
		return q.permute(q.source)
	}
	return append([]string(nil), q.source...)
}

// permute returns a Fisher-Yates permutation of src.
func (q *Queue) permute(src []string) []string {
	out := append([]string(nil), src...)
	q.rng.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	return out
}

func (q *Queue) interludeLocked() string {
	if len(q.interludes) == 0 {
		return ""
	}
	return q.interludes[q.rng.IntN(len(q.interludes))]
}
