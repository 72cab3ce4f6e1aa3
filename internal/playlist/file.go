/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package playlist

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"
)

// document is the on-disk layout. JSON files parse too since JSON is valid YAML.
type document struct {
	Playlists []Playlist `yaml:"playlists"`
}

// FileSource serves playlists from a YAML or JSON file.
type FileSource struct {
	path string

	mu        sync.RWMutex
	playlists map[string]Playlist
}

// NewFileSource reads path.
func NewFileSource(path string) (*FileSource, error) {
	s := &FileSource{path: path}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Reload re-reads the file.
func (s *FileSource) Reload() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("read playlist file: %w", err)
	}
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parse playlist file %s: %w", s.path, err)
	}

	playlists := make(map[string]Playlist, len(doc.Playlists))
	for _, p := range doc.Playlists {
		if err := p.Validate(); err != nil {
			return fmt.Errorf("playlist file %s: %w", s.path, err)
		}
		if _, dup := playlists[p.Name]; dup {
			return fmt.Errorf("playlist file %s: duplicate playlist %q", s.path, p.Name)
		}
		playlists[p.Name] = p
	}

	s.mu.Lock()
	s.playlists = playlists
	s.mu.Unlock()
	return nil
}

// Get returns the named playlist.
func (s *FileSource) Get(_ context.Context, name string) (Playlist, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.playlists[name]
	if !ok {
		return Playlist{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return p, nil
}

// List returns every playlist ordered by name.
func (s *FileSource) List(_ context.Context) ([]Playlist, error) {
	s.mu.RLock()
	out := make([]Playlist, 0, len(s.playlists))
	for _, p := range s.playlists {
		out = append(out, p)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}
