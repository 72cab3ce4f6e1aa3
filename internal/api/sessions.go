/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/friendsincode/grimnir_jukebox/internal/history"
	"github.com/friendsincode/grimnir_jukebox/internal/playlist"
	"github.com/friendsincode/grimnir_jukebox/internal/playout"
	"github.com/friendsincode/grimnir_jukebox/internal/resolver"
)

type openSessionRequest struct {
	ID        string   `json:"id"`
	Playlist  string   `json:"playlist"` // name in the playlist source
	Tracks    []string `json:"tracks"`   // explicit ids, used when Playlist is empty
	Title     string   `json:"title"`
	URL       string   `json:"url"`
	Shuffle   bool     `json:"shuffle"`
	Autoplay  bool     `json:"autoplay"`
	Volume    *float64 `json:"volume"`
	AutoPause *bool    `json:"auto_pause"`
}

type playlistRequest struct {
	Playlist string   `json:"playlist"`
	Tracks   []string `json:"tracks"`
	Title    string   `json:"title"`
	URL      string   `json:"url"`
}

type volumeRequest struct {
	Volume float64 `json:"volume"`
}

type banRequest struct {
	Reason string `json:"reason"`
}

type autoPauseRequest struct {
	Enabled bool `json:"enabled"`
}

type listenersRequest struct {
	Count int `json:"count"`
}

// statusResponse is a session status with display metadata for the current track.
type statusResponse struct {
	playout.Status
	Now *resolver.TrackInfo `json:"now,omitempty"`
}

func (a *API) handleSessionsList(w http.ResponseWriter, r *http.Request) {
	ctrls := a.sessions.List()
	out := make([]playout.Status, 0, len(ctrls))
	for _, ctrl := range ctrls {
		st, err := ctrl.Status()
		if err != nil {
			// Closed between List and Status.
			continue
		}
		out = append(out, st)
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": out})
}

func (a *API) handleSessionsOpen(w http.ResponseWriter, r *http.Request) {
	var req openSessionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}

	ids, title, url, err := a.playlistFor(r.Context(), req.Playlist, req.Tracks, req.Title, req.URL)
	if err != nil {
		a.writeControlError(w, err)
		return
	}

	ctrl, err := a.sessions.Open(r.Context(), req.ID, playout.SessionOptions{
		Playlist:      ids,
		PlaylistTitle: title,
		PlaylistURL:   url,
		Shuffle:       req.Shuffle,
		Autoplay:      req.Autoplay,
		Volume:        req.Volume,
		AutoPause:     req.AutoPause,
	})
	if err != nil && ctrl == nil {
		a.writeControlError(w, err)
		return
	}
	if err != nil {
		a.logger.Warn().Err(err).Str("session_id", ctrl.ID()).Msg("session opened without playback")
	}

	st, err := ctrl.Status()
	if err != nil {
		a.writeControlError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, st)
}

// playlistFor resolves a named playlist or falls back to explicit ids. Named playlists
// seed the metadata cache so now-playing titles show before the first probe.
func (a *API) playlistFor(ctx context.Context, name string, tracks []string, title, url string) ([]string, string, string, error) {
	if name == "" {
		return tracks, title, url, nil
	}
	if a.playlists == nil {
		return nil, "", "", playlist.ErrNotFound
	}
	p, err := a.playlists.Get(ctx, name)
	if err != nil {
		return nil, "", "", err
	}
	if a.metadata != nil {
		if _, err := playlist.Seed(ctx, a.metadata, p); err != nil {
			a.logger.Debug().Err(err).Str("playlist", name).Msg("metadata seed incomplete")
		}
	}
	if title == "" {
		title = p.Title
	}
	if url == "" {
		url = p.URL
	}
	return p.IDs(), title, url, nil
}

func (a *API) session(w http.ResponseWriter, r *http.Request) (*playout.Controller, bool) {
	ctrl, err := a.sessions.Get(chi.URLParam(r, "sessionID"))
	if err != nil {
		a.writeControlError(w, err)
		return nil, false
	}
	return ctrl, true
}

func (a *API) handleSessionStatus(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := a.session(w, r)
	if !ok {
		return
	}
	st, err := ctrl.Status()
	if err != nil {
		a.writeControlError(w, err)
		return
	}

	resp := statusResponse{Status: st}
	if st.TrackID != "" && a.metadata != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		info, err := a.metadata.Lookup(ctx, st.TrackID)
		cancel()
		if err == nil {
			resp.Now = &info
		} else {
			a.logger.Debug().Err(err).Str("track_id", st.TrackID).Msg("metadata lookup failed")
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleSessionsClose(w http.ResponseWriter, r *http.Request) {
	if err := a.sessions.Close(chi.URLParam(r, "sessionID")); err != nil {
		a.writeControlError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleSessionHistory(w http.ResponseWriter, r *http.Request) {
	if a.db == nil {
		writeError(w, http.StatusServiceUnavailable, "history_unavailable")
		return
	}
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	rows, err := history.Recent(r.Context(), a.db, chi.URLParam(r, "sessionID"), limit)
	if err != nil {
		a.writeControlError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"history": rows})
}

// control runs op against the session and answers with its fresh status.
func (a *API) control(w http.ResponseWriter, r *http.Request, op func(*playout.Controller) error) {
	ctrl, ok := a.session(w, r)
	if !ok {
		return
	}
	if err := op(ctrl); err != nil {
		a.writeControlError(w, err)
		return
	}
	st, err := ctrl.Status()
	if err != nil {
		a.writeControlError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (a *API) handlePlay(w http.ResponseWriter, r *http.Request) {
	a.control(w, r, (*playout.Controller).Play)
}

func (a *API) handlePause(w http.ResponseWriter, r *http.Request) {
	a.control(w, r, (*playout.Controller).Pause)
}

func (a *API) handleResume(w http.ResponseWriter, r *http.Request) {
	a.control(w, r, (*playout.Controller).Resume)
}

func (a *API) handleSkip(w http.ResponseWriter, r *http.Request) {
	a.control(w, r, (*playout.Controller).Skip)
}

func (a *API) handleShuffleNow(w http.ResponseWriter, r *http.Request) {
	a.control(w, r, (*playout.Controller).ShuffleNow)
}

func (a *API) handleLoop(w http.ResponseWriter, r *http.Request) {
	a.control(w, r, func(c *playout.Controller) error {
		_, err := c.ToggleLoop()
		return err
	})
}

func (a *API) handleShuffle(w http.ResponseWriter, r *http.Request) {
	a.control(w, r, func(c *playout.Controller) error {
		_, err := c.ToggleShuffle()
		return err
	})
}

func (a *API) handleVolume(w http.ResponseWriter, r *http.Request) {
	var req volumeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	a.control(w, r, func(c *playout.Controller) error {
		_, err := c.SetVolume(req.Volume)
		return err
	})
}

func (a *API) handleBan(w http.ResponseWriter, r *http.Request) {
	var req banRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_json")
			return
		}
	}
	ctrl, ok := a.session(w, r)
	if !ok {
		return
	}
	id, err := ctrl.Ban(req.Reason)
	if err != nil {
		a.writeControlError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"banned": id})
}

func (a *API) handleSetPlaylist(w http.ResponseWriter, r *http.Request) {
	var req playlistRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	ids, title, url, err := a.playlistFor(r.Context(), req.Playlist, req.Tracks, req.Title, req.URL)
	if err != nil {
		a.writeControlError(w, err)
		return
	}
	a.control(w, r, func(c *playout.Controller) error {
		return c.SetPlaylist(ids, title, url)
	})
}

func (a *API) handleAutoPause(w http.ResponseWriter, r *http.Request) {
	var req autoPauseRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	a.control(w, r, func(c *playout.Controller) error {
		return c.SetAutoPause(req.Enabled)
	})
}

// handleListeners lets the output side report its audience: with nobody listening the
// session auto-pauses, and the first listener resumes it.
func (a *API) handleListeners(w http.ResponseWriter, r *http.Request) {
	var req listenersRequest
	if err := decodeJSON(r, &req); err != nil || req.Count < 0 {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	a.control(w, r, func(c *playout.Controller) error {
		return c.SetAutoPause(req.Count == 0)
	})
}
