/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package banlist holds the process-wide set of tracks that must never be played.
package banlist

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/friendsincode/grimnir_jukebox/internal/resolver"
	"github.com/friendsincode/grimnir_jukebox/internal/telemetry"
	"github.com/rs/zerolog"
)

// Record describes why and when a track was banned.
type Record struct {
	Reason   string    `json:"reason"`
	BannedAt time.Time `json:"bannedAt"`
}

// Entry is a Record with its track id, used for listings.
type Entry struct {
	TrackID string `json:"track_id"`
	Record
}

// Store persists ban records.
type Store interface {
	// Load returns every persisted record. A store with nothing persisted returns an empty map.
	Load(ctx context.Context) (map[string]Record, error)
	// Save durably records id. all is the full set including id, for stores that rewrite wholesale.
	Save(ctx context.Context, id string, rec Record, all map[string]Record) error
}

// List is the in-memory view of the ban list. It is loaded once and shared by all sessions.
type List struct {
	store  Store
	logger zerolog.Logger
	now    func() time.Time

	persistMu sync.Mutex // orders Save calls

	mu      sync.RWMutex
	records map[string]Record
}

// Open loads the ban list from store.
func Open(ctx context.Context, store Store, logger zerolog.Logger) (*List, error) {
	records, err := store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load ban list: %w", err)
	}
	if records == nil {
		records = make(map[string]Record)
	}

	l := &List{
		store:   store,
		logger:  logger.With().Str("component", "banlist").Logger(),
		now:     time.Now,
		records: records,
	}
	l.logger.Info().Int("entries", len(records)).Msg("ban list loaded")
	return l, nil
}

// IsBanned reports whether id must be skipped.
func (l *List) IsBanned(id string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.records[id]
	return ok
}

// Get returns the record for id.
func (l *List) Get(id string) (Record, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	rec, ok := l.records[id]
	return rec, ok
}

// Len returns the number of banned tracks.
func (l *List) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.records)
}

// Entries returns all records ordered by ban time, oldest first.
func (l *List) Entries() []Entry {
	l.mu.RLock()
	out := make([]Entry, 0, len(l.records))
	for id, rec := range l.records {
		out = append(out, Entry{TrackID: id, Record: rec})
	}
	l.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].BannedAt.Equal(out[j].BannedAt) {
			return out[i].TrackID < out[j].TrackID
		}
		return out[i].BannedAt.Before(out[j].BannedAt)
	})
	return out
}

// Add bans id, overwriting any earlier reason, and persists the change before returning.
// The ban takes effect in memory even when persistence fails; the error is still returned.
func (l *List) Add(ctx context.Context, id, reason string) error {
	if id == "" {
		return fmt.Errorf("ban: empty track id")
	}

	l.persistMu.Lock()
	defer l.persistMu.Unlock()

	rec := Record{Reason: reason, BannedAt: l.now().UTC()}

	l.mu.Lock()
	l.records[id] = rec
	all := make(map[string]Record, len(l.records))
	for k, v := range l.records {
		all[k] = v
	}
	l.mu.Unlock()

	telemetry.TracksBannedTotal.WithLabelValues(metricReason(reason)).Inc()
	l.logger.Warn().Str("track_id", id).Str("reason", reason).Msg("track banned")

	if err := l.store.Save(ctx, id, rec, all); err != nil {
		l.logger.Error().Err(err).Str("track_id", id).Msg("persist ban failed")
		return fmt.Errorf("persist ban %s: %w", id, err)
	}
	return nil
}

var bannableReasons = []resolver.Reason{
	resolver.ReasonAgeRestricted,
	resolver.ReasonPremiumOnly,
	resolver.ReasonRegionBlocked,
	resolver.ReasonUnavailable,
}

// metricReason keeps the metric label set fixed: resolver verdicts keep their reason
// and free text from operators counts as "operator".
func metricReason(reason string) string {
	for _, r := range bannableReasons {
		if reason == string(r) || reason == r.Describe() {
			return string(r)
		}
	}
	return "operator"
}
