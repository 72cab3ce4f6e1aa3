/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package banlist

import (
	"context"
	"fmt"

	"github.com/friendsincode/grimnir_jukebox/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormStore keeps the ban list in the banned_tracks table.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore returns a store using db. The schema must already be migrated.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// Load reads every banned track.
func (s *GormStore) Load(ctx context.Context) (map[string]Record, error) {
	var rows []models.BannedTrack
	if err := s.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("query banned tracks: %w", err)
	}

	records := make(map[string]Record, len(rows))
	for _, row := range rows {
		records[row.TrackID] = Record{Reason: row.Reason, BannedAt: row.BannedAt}
	}
	return records, nil
}

// Save upserts the single changed row.
func (s *GormStore) Save(ctx context.Context, id string, rec Record, _ map[string]Record) error {
	row := models.BannedTrack{TrackID: id, Reason: rec.Reason, BannedAt: rec.BannedAt}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "track_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"reason", "banned_at", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("upsert banned track %s: %w", id, err)
	}
	return nil
}
