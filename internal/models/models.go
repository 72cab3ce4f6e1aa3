package models

import (
	"time"
)

// BannedTrack is a track that must never be loaded again.
type BannedTrack struct {
	TrackID   string    `gorm:"primaryKey;type:varchar(64)"`
	Reason    string    `gorm:"type:varchar(255)"`
	BannedAt  time.Time `gorm:"index"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// TableName pins the table name used by the ban list store.
func (BannedTrack) TableName() string { return "banned_tracks" }

// Playlist is a named, ordered list of track ids that sessions can play.
type Playlist struct {
	ID        string `gorm:"type:uuid;primaryKey"`
	Name      string `gorm:"uniqueIndex"`
	Title     string
	URL       string
	Tracks    []PlaylistTrack `gorm:"foreignKey:PlaylistID;constraint:OnDelete:CASCADE"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// PlaylistTrack is one position in a playlist.
type PlaylistTrack struct {
	ID         string `gorm:"type:uuid;primaryKey"`
	PlaylistID string `gorm:"type:uuid;index"`
	Position   int    `gorm:"index"`
	TrackID    string `gorm:"type:varchar(64)"`
	Title      string
}

// PlayHistory records a track that reached the playing state.
type PlayHistory struct {
	ID        string `gorm:"type:uuid;primaryKey"`
	SessionID string `gorm:"index"`
	TrackID   string `gorm:"type:varchar(64);index"`
	Kind      string `gorm:"type:varchar(16)"` // track, resume or interrupt
	OffsetMS  int64
	StartedAt time.Time `gorm:"index"`
}
