/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package playout

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"sort"
	"sync"

	"github.com/friendsincode/grimnir_jukebox/internal/cache"
	"github.com/friendsincode/grimnir_jukebox/internal/config"
	"github.com/friendsincode/grimnir_jukebox/internal/events"
	"github.com/friendsincode/grimnir_jukebox/internal/queue"
	"github.com/friendsincode/grimnir_jukebox/internal/resolver"
	"github.com/friendsincode/grimnir_jukebox/internal/telemetry"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var (
	// ErrSessionExists is returned when opening a session id that is already running.
	ErrSessionExists = errors.New("session already exists")

	// ErrSessionNotFound is returned for unknown session ids.
	ErrSessionNotFound = errors.New("session not found")

	// ErrInvalidSessionID is returned for ids outside [A-Za-z0-9_-]{1,64}.
	ErrInvalidSessionID = errors.New("invalid session id")
)

var sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9_\-]{1,64}$`)

// SinkFactory creates the output sink for a new session.
type SinkFactory func(sessionID string) (Sink, error)

// SessionOptions configures a new session. Nil pointers take the configured defaults.
type SessionOptions struct {
	Playlist      []string
	PlaylistTitle string
	PlaylistURL   string
	Shuffle       bool
	Autoplay      bool
	Volume        *float64
	AutoPause     *bool
}

// Manager tracks running sessions. Sessions share only the ban list and the event bus.
type Manager struct {
	cfg      *config.Config
	bans     BanList
	resolver resolver.Resolver
	seeker   resolver.Seeker
	bus      events.Publisher
	newSink  SinkFactory
	base     zerolog.Logger
	logger   zerolog.Logger

	mu       sync.Mutex
	sessions map[string]*Controller
}

// NewManager creates a session manager.
func NewManager(cfg *config.Config, bans BanList, r resolver.Resolver, seeker resolver.Seeker, bus events.Publisher, newSink SinkFactory, logger zerolog.Logger) *Manager {
	return &Manager{
		cfg:      cfg,
		bans:     bans,
		resolver: r,
		seeker:   seeker,
		bus:      bus,
		newSink:  newSink,
		base:     logger,
		logger:   logger.With().Str("component", "session_manager").Logger(),
		sessions: make(map[string]*Controller),
	}
}

// Open creates and starts a session. An empty id gets a generated one.
// The session outlives ctx; it runs until Close or Shutdown.
func (m *Manager) Open(ctx context.Context, sessionID string, opts SessionOptions) (*Controller, error) {
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	if !sessionIDPattern.MatchString(sessionID) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidSessionID, sessionID)
	}

	m.mu.Lock()
	if _, ok := m.sessions[sessionID]; ok {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrSessionExists, sessionID)
	}

	sink, err := m.newSink(sessionID)
	if err != nil {
		m.mu.Unlock()
		return nil, fmt.Errorf("create sink: %w", err)
	}

	q := queue.New(m.cfg.Interludes)
	q.Initialize(opts.Playlist, opts.Shuffle)
	dc := cache.NewDownloadCache(filepath.Join(m.cfg.CacheDir, sessionID), m.resolver, m.seeker,
		m.base.With().Str("session_id", sessionID).Logger())

	ctrlOpts := Options{
		SessionID:      sessionID,
		Volume:         m.cfg.DefaultVolume,
		AutoPause:      m.cfg.AutoPause,
		InterruptLead:  m.cfg.InterruptLead,
		ResolveTimeout: m.cfg.ResolveTimeout,
		RetryDelay:     m.cfg.RetryDelay,
		PlaylistTitle:  opts.PlaylistTitle,
		PlaylistURL:    opts.PlaylistURL,
	}
	if m.cfg.InterruptEnabled {
		ctrlOpts.InterruptClip = m.cfg.InterruptClipPath
	}
	if opts.Volume != nil {
		ctrlOpts.Volume = *opts.Volume
	}
	if opts.AutoPause != nil {
		ctrlOpts.AutoPause = *opts.AutoPause
	}

	ctrl := NewController(ctrlOpts, q, dc, m.bans, sink, m.bus, m.base)
	m.sessions[sessionID] = ctrl
	m.mu.Unlock()

	telemetry.SessionsActive.Inc()
	go func() {
		if err := ctrl.Run(context.WithoutCancel(ctx)); err != nil {
			m.logger.Error().Err(err).Str("session_id", sessionID).Msg("session stopped with error")
		}
		m.remove(sessionID, ctrl)
	}()

	m.logger.Info().Str("session_id", sessionID).Int("tracks", len(opts.Playlist)).Msg("session opened")
	if m.bus != nil {
		m.bus.Publish(events.EventSessionOpened, events.Payload{"session_id": sessionID})
	}

	if opts.Autoplay {
		if err := ctrl.Play(); err != nil {
			return ctrl, fmt.Errorf("start playback: %w", err)
		}
	}
	return ctrl, nil
}

// remove drops the session entry once its controller has stopped.
func (m *Manager) remove(sessionID string, ctrl *Controller) {
	m.mu.Lock()
	current, ok := m.sessions[sessionID]
	if ok && current == ctrl {
		delete(m.sessions, sessionID)
	}
	m.mu.Unlock()

	if !ok || current != ctrl {
		return
	}
	telemetry.SessionsActive.Dec()
	m.logger.Info().Str("session_id", sessionID).Msg("session closed")
	if m.bus != nil {
		m.bus.Publish(events.EventSessionClosed, events.Payload{"session_id": sessionID})
	}
}

// Get returns a running session.
func (m *Manager) Get(sessionID string) (*Controller, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ctrl, ok := m.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	return ctrl, nil
}

// List returns running sessions ordered by id.
func (m *Manager) List() []*Controller {
	m.mu.Lock()
	out := make([]*Controller, 0, len(m.sessions))
	for _, ctrl := range m.sessions {
		out = append(out, ctrl)
	}
	m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// Close tears a session down: pending resolves and timers are cancelled, the sink is
// stopped and the session cache is deleted.
func (m *Manager) Close(sessionID string) error {
	ctrl, err := m.Get(sessionID)
	if err != nil {
		return err
	}
	if err := ctrl.Close(); err != nil {
		return err
	}
	m.remove(sessionID, ctrl)
	return nil
}

// Shutdown closes every session.
func (m *Manager) Shutdown() error {
	var errs []error
	for _, ctrl := range m.List() {
		if err := m.Close(ctrl.ID()); err != nil && !errors.Is(err, ErrSessionNotFound) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
