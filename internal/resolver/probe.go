/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package resolver

import (
	"context"
	"encoding/json"
	"fmt"
)

// TrackInfo is display metadata for a track.
type TrackInfo struct {
	ID              string `json:"id"`
	Title           string `json:"title"`
	Artist          string `json:"artist,omitempty"`
	URL             string `json:"url"`
	DurationSeconds int    `json:"duration_seconds"`
}

// Prober looks up display metadata without materializing the artifact.
type Prober interface {
	Probe(ctx context.Context, trackID string) (TrackInfo, error)
}

type probeDump struct {
	Title      string  `json:"title"`
	Uploader   string  `json:"uploader"`
	Channel    string  `json:"channel"`
	WebpageURL string  `json:"webpage_url"`
	Duration   float64 `json:"duration"`
}

func parseProbe(trackID, fallbackURL string, data []byte) (TrackInfo, error) {
	var dump probeDump
	if err := json.Unmarshal(data, &dump); err != nil {
		return TrackInfo{}, Fail(trackID, ReasonTransient, fmt.Errorf("decode probe output: %w", err))
	}

	info := TrackInfo{
		ID:              trackID,
		Title:           dump.Title,
		Artist:          dump.Uploader,
		URL:             dump.WebpageURL,
		DurationSeconds: int(dump.Duration),
	}
	if info.Artist == "" {
		info.Artist = dump.Channel
	}
	if info.URL == "" {
		info.URL = fallbackURL
	}
	return info, nil
}
