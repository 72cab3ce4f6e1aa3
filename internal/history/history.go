/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package history records every track a session starts.
package history

import (
	"context"
	"fmt"
	"time"

	"github.com/friendsincode/grimnir_jukebox/internal/events"
	"github.com/friendsincode/grimnir_jukebox/internal/models"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

// Recorder writes now-playing events to the play_histories table.
type Recorder struct {
	db     *gorm.DB
	bus    events.Broker
	logger zerolog.Logger
	now    func() time.Time
}

// NewRecorder creates a recorder.
func NewRecorder(db *gorm.DB, bus events.Broker, logger zerolog.Logger) *Recorder {
	return &Recorder{
		db:     db,
		bus:    bus,
		logger: logger.With().Str("component", "history").Logger(),
		now:    time.Now,
	}
}

// Run consumes now-playing events until ctx is done.
func (r *Recorder) Run(ctx context.Context) {
	sub := r.bus.Subscribe(events.EventNowPlaying)
	defer r.bus.Unsubscribe(events.EventNowPlaying, sub)

	for {
		select {
		case <-ctx.Done():
			return
		case payload, ok := <-sub:
			if !ok {
				return
			}
			if err := r.record(ctx, payload); err != nil {
				r.logger.Warn().Err(err).Msg("record play history failed")
			}
		}
	}
}

func (r *Recorder) record(ctx context.Context, p events.Payload) error {
	entry := models.PlayHistory{
		ID:        uuid.NewString(),
		SessionID: stringField(p, "session_id"),
		TrackID:   stringField(p, "track_id"),
		Kind:      stringField(p, "kind"),
		OffsetMS:  intField(p, "offset_ms"),
		StartedAt: r.now().UTC(),
	}
	if entry.SessionID == "" || entry.TrackID == "" {
		return fmt.Errorf("incomplete now playing event: %v", p)
	}
	if err := r.db.WithContext(ctx).Create(&entry).Error; err != nil {
		return fmt.Errorf("insert play history: %w", err)
	}
	return nil
}

// Recent returns the latest entries of a session, newest first.
func Recent(ctx context.Context, db *gorm.DB, sessionID string, limit int) ([]models.PlayHistory, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	var rows []models.PlayHistory
	err := db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("started_at DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("query play history: %w", err)
	}
	return rows, nil
}

func stringField(p events.Payload, key string) string {
	s, _ := p[key].(string)
	return s
}

// intField reads a number that may have crossed a JSON boundary.
func intField(p events.Payload, key string) int64 {
	switch v := p[key].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	}
	return 0
}
