/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package playlist

import (
	"context"
	"errors"
	"fmt"

	"github.com/friendsincode/grimnir_jukebox/internal/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DBSource stores playlists in the database.
type DBSource struct {
	db *gorm.DB
}

// NewDBSource creates a database-backed source. The tables must be migrated.
func NewDBSource(db *gorm.DB) *DBSource {
	return &DBSource{db: db}
}

func orderedTracks(tx *gorm.DB) *gorm.DB {
	return tx.Order("position ASC")
}

// Get returns the named playlist.
func (s *DBSource) Get(ctx context.Context, name string) (Playlist, error) {
	var row models.Playlist
	err := s.db.WithContext(ctx).Preload("Tracks", orderedTracks).Where("name = ?", name).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Playlist{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err != nil {
		return Playlist{}, fmt.Errorf("query playlist: %w", err)
	}
	return fromModel(row), nil
}

// List returns every playlist ordered by name.
func (s *DBSource) List(ctx context.Context) ([]Playlist, error) {
	var rows []models.Playlist
	if err := s.db.WithContext(ctx).Preload("Tracks", orderedTracks).Order("name ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list playlists: %w", err)
	}
	out := make([]Playlist, 0, len(rows))
	for _, row := range rows {
		out = append(out, fromModel(row))
	}
	return out, nil
}

// Save creates or replaces the named playlist and its tracks.
func (s *DBSource) Save(ctx context.Context, p Playlist) error {
	if err := p.Validate(); err != nil {
		return err
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row models.Playlist
		err := tx.Where("name = ?", p.Name).First(&row).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			row = models.Playlist{ID: uuid.NewString(), Name: p.Name}
		case err != nil:
			return fmt.Errorf("query playlist: %w", err)
		}
		row.Title = p.Title
		row.URL = p.URL

		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"title", "url", "updated_at"}),
		}).Omit("Tracks").Create(&row).Error; err != nil {
			return fmt.Errorf("save playlist: %w", err)
		}
		if err := tx.Where("playlist_id = ?", row.ID).Delete(&models.PlaylistTrack{}).Error; err != nil {
			return fmt.Errorf("clear tracks: %w", err)
		}
		if len(p.Tracks) == 0 {
			return nil
		}
		tracks := make([]models.PlaylistTrack, 0, len(p.Tracks))
		for i, t := range p.Tracks {
			tracks = append(tracks, models.PlaylistTrack{
				ID:         uuid.NewString(),
				PlaylistID: row.ID,
				Position:   i,
				TrackID:    t.ID,
				Title:      t.Title,
			})
		}
		if err := tx.Create(&tracks).Error; err != nil {
			return fmt.Errorf("save tracks: %w", err)
		}
		return nil
	})
}

// Import copies every playlist of src into s and returns how many were written.
func (s *DBSource) Import(ctx context.Context, src Source) (int, error) {
	playlists, err := src.List(ctx)
	if err != nil {
		return 0, err
	}
	for i, p := range playlists {
		if err := s.Save(ctx, p); err != nil {
			return i, fmt.Errorf("import %s: %w", p.Name, err)
		}
	}
	return len(playlists), nil
}

func fromModel(row models.Playlist) Playlist {
	p := Playlist{Name: row.Name, Title: row.Title, URL: row.URL, Tracks: make([]Track, 0, len(row.Tracks))}
	for _, t := range row.Tracks {
		p.Tracks = append(p.Tracks, Track{ID: t.TrackID, Title: t.Title})
	}
	return p
}
