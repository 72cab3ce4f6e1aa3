/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package playlist loads named playlists: ordered track ids plus display metadata.
package playlist

import (
	"context"
	"errors"
	"fmt"

	"github.com/friendsincode/grimnir_jukebox/internal/resolver"
	"gopkg.in/yaml.v3"
)

// ErrNotFound is returned for unknown playlist names.
var ErrNotFound = errors.New("playlist not found")

// Track is one playlist entry. In files it may be written as a bare id.
type Track struct {
	ID    string `yaml:"id" json:"id"`
	Title string `yaml:"title,omitempty" json:"title,omitempty"`
}

// UnmarshalYAML accepts either a scalar id or a mapping.
func (t *Track) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		t.ID = node.Value
		return nil
	}
	type plain Track
	var p plain
	if err := node.Decode(&p); err != nil {
		return err
	}
	*t = Track(p)
	return nil
}

// Playlist is a named track list.
type Playlist struct {
	Name   string  `yaml:"name" json:"name"`
	Title  string  `yaml:"title,omitempty" json:"title,omitempty"`
	URL    string  `yaml:"url,omitempty" json:"url,omitempty"`
	Tracks []Track `yaml:"tracks" json:"tracks"`
}

// IDs returns the track ids in order, skipping blank entries.
func (p Playlist) IDs() []string {
	ids := make([]string, 0, len(p.Tracks))
	for _, t := range p.Tracks {
		if t.ID != "" {
			ids = append(ids, t.ID)
		}
	}
	return ids
}

// Validate checks that the playlist can be stored.
func (p Playlist) Validate() error {
	if p.Name == "" {
		return errors.New("playlist name is required")
	}
	for i, t := range p.Tracks {
		if t.ID == "" {
			return fmt.Errorf("track %d of %s has no id", i, p.Name)
		}
	}
	return nil
}

// Source returns playlists by name.
type Source interface {
	Get(ctx context.Context, name string) (Playlist, error)
	List(ctx context.Context) ([]Playlist, error)
}

// MetadataSeeder stores display metadata for tracks.
type MetadataSeeder interface {
	Set(ctx context.Context, info resolver.TrackInfo) error
}

// Seed stores the titles a playlist carries so status lookups need no probe.
// It returns the number of tracks seeded.
func Seed(ctx context.Context, seeder MetadataSeeder, p Playlist) (int, error) {
	n := 0
	for _, t := range p.Tracks {
		if t.ID == "" || t.Title == "" {
			continue
		}
		if err := seeder.Set(ctx, resolver.TrackInfo{ID: t.ID, Title: t.Title}); err != nil {
			return n, fmt.Errorf("seed %s: %w", t.ID, err)
		}
		n++
	}
	return n, nil
}
