/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	ws "nhooyr.io/websocket"

	"github.com/friendsincode/grimnir_jukebox/internal/auth"
	"github.com/friendsincode/grimnir_jukebox/internal/events"
	"github.com/friendsincode/grimnir_jukebox/internal/logbuffer"
	"github.com/friendsincode/grimnir_jukebox/internal/telemetry"
)

type eventMessage struct {
	Type    events.EventType `json:"type"`
	Payload events.Payload   `json:"payload"`
}

// handleEvents streams bus events over a websocket. ?types= filters by event type and
// ?session= by session id; session scoped tokens only see their own sessions.
func (a *API) handleEvents(w http.ResponseWriter, r *http.Request) {
	if a.bus == nil {
		writeError(w, http.StatusServiceUnavailable, "events_unavailable")
		return
	}

	claims, _ := auth.ClaimsFromContext(r.Context())
	sessionFilter := r.URL.Query().Get("session")
	if sessionFilter != "" && claims != nil && !claims.CanAccessSession(sessionFilter) {
		writeError(w, http.StatusForbidden, "session_forbidden")
		return
	}

	conn, err := ws.Accept(w, r, &ws.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		a.logger.Error().Err(err).Msg("websocket accept failed")
		return
	}
	defer conn.Close(ws.StatusInternalError, "server error")

	telemetry.APIActiveConnections.Inc()
	defer telemetry.APIActiveConnections.Dec()

	eventTypes := parseEventTypes(r.URL.Query().Get("types"))
	if len(eventTypes) == 0 {
		eventTypes = events.All
	}

	// Reads are only for close frames; CloseRead cancels ctx when the peer goes away.
	ctx := conn.CloseRead(r.Context())

	merged := make(chan eventMessage, 64)
	subscribers := make([]events.Subscriber, 0, len(eventTypes))
	for _, eventType := range eventTypes {
		sub := a.bus.Subscribe(eventType)
		subscribers = append(subscribers, sub)
		go forward(ctx, eventType, sub, merged)
	}
	defer func() {
		for i, eventType := range eventTypes {
			a.bus.Unsubscribe(eventType, subscribers[i])
		}
	}()

	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			conn.Close(ws.StatusNormalClosure, "context cancelled")
			return
		case <-ticker.C:
			if err := conn.Write(ctx, ws.MessageText, []byte(`{"type":"ping"}`)); err != nil {
				a.logger.Debug().Err(err).Msg("websocket ping failed")
				return
			}
		case msg := <-merged:
			if !visible(msg.Payload, sessionFilter, claims) {
				continue
			}
			if err := a.writeEvent(ctx, conn, msg); err != nil {
				a.logger.Debug().Err(err).Msg("websocket write failed")
				return
			}
		}
	}
}

// forward copies one subscription into the merged stream until ctx ends. Unsubscribe
// closes sub, which also ends the loop.
func forward(ctx context.Context, eventType events.EventType, sub events.Subscriber, out chan<- eventMessage) {
	for {
		select {
		case <-ctx.Done():
			return
		case payload, ok := <-sub:
			if !ok {
				return
			}
			select {
			case out <- eventMessage{Type: eventType, Payload: payload}:
			case <-ctx.Done():
				return
			}
		}
	}
}

func visible(payload events.Payload, sessionFilter string, claims *auth.Claims) bool {
	sessionID, _ := payload["session_id"].(string)
	if sessionFilter != "" && sessionID != sessionFilter {
		return false
	}
	if claims != nil && sessionID != "" && !claims.CanAccessSession(sessionID) {
		return false
	}
	return true
}

func (a *API) writeEvent(ctx context.Context, conn *ws.Conn, msg eventMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return conn.Write(writeCtx, ws.MessageText, data)
}

func (a *API) handleLogs(w http.ResponseWriter, r *http.Request) {
	if a.logBuffer == nil {
		writeError(w, http.StatusServiceUnavailable, "log_buffer_unavailable")
		return
	}

	query := r.URL.Query()
	q := logbuffer.Query{
		Level:     query.Get("level"),
		Component: query.Get("component"),
		SessionID: query.Get("session"),
		Search:    query.Get("search"),
		Newest:    query.Get("order") != "asc",
		Limit:     500,
	}
	if since := query.Get("since"); since != "" {
		if t, err := time.Parse(time.RFC3339, since); err == nil {
			q.Since = t
		}
	}
	if limit := query.Get("limit"); limit != "" {
		if n, err := strconv.Atoi(limit); err == nil && n > 0 {
			q.Limit = n
		}
	}

	entries := a.logBuffer.Query(q)
	writeJSON(w, http.StatusOK, map[string]any{
		"entries": entries,
		"count":   len(entries),
	})
}
