/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/grimnir_jukebox/internal/auth"
	"github.com/friendsincode/grimnir_jukebox/internal/banlist"
	"github.com/friendsincode/grimnir_jukebox/internal/cache"
	"github.com/friendsincode/grimnir_jukebox/internal/events"
	"github.com/friendsincode/grimnir_jukebox/internal/logbuffer"
	"github.com/friendsincode/grimnir_jukebox/internal/playlist"
	"github.com/friendsincode/grimnir_jukebox/internal/playout"
	"github.com/friendsincode/grimnir_jukebox/internal/version"
)

// Deps are the services the control API drives. DB, Metadata, Playlists and LogBuffer
// are optional; their endpoints answer 503 when unset.
type Deps struct {
	Sessions  *playout.Manager
	Bans      *banlist.List
	Bus       events.Broker
	DB        *gorm.DB
	Metadata  *cache.MetadataCache
	Playlists playlist.Source
	LogBuffer *logbuffer.Buffer
	JWTSecret []byte
}

// API exposes HTTP handlers.
type API struct {
	sessions  *playout.Manager
	bans      *banlist.List
	bus       events.Broker
	db        *gorm.DB
	metadata  *cache.MetadataCache
	playlists playlist.Source
	logBuffer *logbuffer.Buffer
	jwtSecret []byte
	logger    zerolog.Logger
}

// New creates the API router wrapper.
func New(deps Deps, logger zerolog.Logger) *API {
	return &API{
		sessions:  deps.Sessions,
		bans:      deps.Bans,
		bus:       deps.Bus,
		db:        deps.DB,
		metadata:  deps.Metadata,
		playlists: deps.Playlists,
		logBuffer: deps.LogBuffer,
		jwtSecret: deps.JWTSecret,
		logger:    logger.With().Str("component", "api").Logger(),
	}
}

// Routes mounts the API under /api/v1.
func (a *API) Routes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", a.handleHealth)

		r.Group(func(pr chi.Router) {
			pr.Use(auth.Middleware(a.jwtSecret))
			operator := auth.RequireRole(auth.RoleOperator)

			pr.Route("/sessions", func(r chi.Router) {
				r.Get("/", a.handleSessionsList)
				r.With(operator).Post("/", a.handleSessionsOpen)

				r.Route("/{sessionID}", func(r chi.Router) {
					r.Use(a.requireSessionAccess)
					r.Get("/", a.handleSessionStatus)
					r.Get("/history", a.handleSessionHistory)

					r.Group(func(r chi.Router) {
						r.Use(operator)
						r.Delete("/", a.handleSessionsClose)
						r.Post("/play", a.handlePlay)
						r.Post("/pause", a.handlePause)
						r.Post("/resume", a.handleResume)
						r.Post("/skip", a.handleSkip)
						r.Post("/loop", a.handleLoop)
						r.Post("/shuffle", a.handleShuffle)
						r.Post("/shuffle-now", a.handleShuffleNow)
						r.Post("/volume", a.handleVolume)
						r.Post("/ban", a.handleBan)
						r.Put("/playlist", a.handleSetPlaylist)
						r.Post("/auto-pause", a.handleAutoPause)
						r.Post("/listeners", a.handleListeners)
					})
				})
			})

			pr.Route("/bans", func(r chi.Router) {
				r.Get("/", a.handleBansList)
				r.With(operator).Post("/", a.handleBansAdd)
			})

			pr.Route("/playlists", func(r chi.Router) {
				r.Get("/", a.handlePlaylistsList)
				r.Get("/{name}", a.handlePlaylistsGet)
			})

			pr.Get("/events", a.handleEvents)
			pr.With(operator).Get("/logs", a.handleLogs)
		})
	})
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"version":  version.Version,
		"sessions": len(a.sessions.List()),
	})
}

// requireSessionAccess rejects tokens scoped to other sessions.
func (a *API) requireSessionAccess(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := auth.ClaimsFromContext(r.Context())
		if !ok || !claims.CanAccessSession(chi.URLParam(r, "sessionID")) {
			writeError(w, http.StatusForbidden, "session_forbidden")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// writeControlError maps playback and lookup errors onto HTTP statuses.
func (a *API) writeControlError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, playout.ErrSessionNotFound):
		writeError(w, http.StatusNotFound, "session_not_found")
	case errors.Is(err, playout.ErrSessionExists):
		writeError(w, http.StatusConflict, "session_exists")
	case errors.Is(err, playout.ErrInvalidSessionID):
		writeError(w, http.StatusBadRequest, "invalid_session_id")
	case errors.Is(err, playout.ErrSessionClosed):
		writeError(w, http.StatusGone, "session_closed")
	case errors.Is(err, playout.ErrInvalidTransition):
		writeError(w, http.StatusConflict, "invalid_transition")
	case errors.Is(err, playout.ErrNothingPlaying):
		writeError(w, http.StatusConflict, "nothing_playing")
	case errors.Is(err, playlist.ErrNotFound):
		writeError(w, http.StatusNotFound, "playlist_not_found")
	default:
		a.logger.Error().Err(err).Msg("control request failed")
		writeError(w, http.StatusInternalServerError, "internal_error")
	}
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func parseEventTypes(raw string) []events.EventType {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]events.EventType, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, events.EventType(part))
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}
