/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/friendsincode/grimnir_jukebox/internal/events"
	"github.com/friendsincode/grimnir_jukebox/internal/playlist"
)

type banAddRequest struct {
	TrackID string `json:"track_id"`
	Reason  string `json:"reason"`
}

func (a *API) handleBansList(w http.ResponseWriter, r *http.Request) {
	entries := a.bans.Entries()
	writeJSON(w, http.StatusOK, map[string]any{"bans": entries, "count": len(entries)})
}

// handleBansAdd bans a track id directly. Sessions skip it the next time it reaches the
// head of their queue.
func (a *API) handleBansAdd(w http.ResponseWriter, r *http.Request) {
	var req banAddRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	req.TrackID = strings.TrimSpace(req.TrackID)
	if req.TrackID == "" {
		writeError(w, http.StatusBadRequest, "track_id_required")
		return
	}
	if req.Reason == "" {
		req.Reason = "banned by operator"
	}

	if err := a.bans.Add(r.Context(), req.TrackID, req.Reason); err != nil {
		// The ban holds in memory even when persistence fails.
		a.logger.Warn().Err(err).Str("track_id", req.TrackID).Msg("ban not persisted")
	}
	if a.bus != nil {
		a.bus.Publish(events.EventTrackBanned, events.Payload{
			"track_id": req.TrackID,
			"reason":   req.Reason,
		})
	}

	rec, _ := a.bans.Get(req.TrackID)
	writeJSON(w, http.StatusCreated, map[string]any{"track_id": req.TrackID, "reason": rec.Reason, "bannedAt": rec.BannedAt})
}

func (a *API) handlePlaylistsList(w http.ResponseWriter, r *http.Request) {
	if a.playlists == nil {
		writeJSON(w, http.StatusOK, map[string]any{"playlists": []playlist.Playlist{}})
		return
	}
	lists, err := a.playlists.List(r.Context())
	if err != nil {
		a.writeControlError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"playlists": lists})
}

func (a *API) handlePlaylistsGet(w http.ResponseWriter, r *http.Request) {
	if a.playlists == nil {
		writeError(w, http.StatusNotFound, "playlist_not_found")
		return
	}
	p, err := a.playlists.Get(r.Context(), chi.URLParam(r, "name"))
	if errors.Is(err, playlist.ErrNotFound) {
		writeError(w, http.StatusNotFound, "playlist_not_found")
		return
	}
	if err != nil {
		a.writeControlError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}
