/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/grimnir_jukebox/internal/api"
	"github.com/friendsincode/grimnir_jukebox/internal/banlist"
	"github.com/friendsincode/grimnir_jukebox/internal/cache"
	"github.com/friendsincode/grimnir_jukebox/internal/config"
	"github.com/friendsincode/grimnir_jukebox/internal/db"
	"github.com/friendsincode/grimnir_jukebox/internal/eventbus"
	"github.com/friendsincode/grimnir_jukebox/internal/events"
	"github.com/friendsincode/grimnir_jukebox/internal/history"
	"github.com/friendsincode/grimnir_jukebox/internal/logbuffer"
	"github.com/friendsincode/grimnir_jukebox/internal/playlist"
	"github.com/friendsincode/grimnir_jukebox/internal/playout"
	"github.com/friendsincode/grimnir_jukebox/internal/resolver"
	"github.com/friendsincode/grimnir_jukebox/internal/telemetry"
)

// Server bundles HTTP and supporting services.
type Server struct {
	cfg           *config.Config
	logger        zerolog.Logger
	router        chi.Router
	httpServer    *http.Server
	metricsServer *http.Server
	closers       []func() error

	db        *gorm.DB
	logBuffer *logbuffer.Buffer
	bus       events.Broker
	bans      *banlist.List
	metadata  *cache.MetadataCache
	playlists playlist.Source
	sessions  *playout.Manager
	recorder  *history.Recorder
	api       *api.API

	bgCancel context.CancelFunc
	bgWG     sync.WaitGroup
}

// New wires every service from cfg. logBuf may be nil.
func New(cfg *config.Config, logBuf *logbuffer.Buffer, logger zerolog.Logger) (*Server, error) {
	for _, warn := range cfg.LegacyEnvWarnings {
		logger.Warn().Msg(warn)
	}

	router := chi.NewRouter()

	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)
	router.Use(securityHeadersMiddleware)
	router.Use(telemetry.TracingMiddleware("grimnir-jukebox-api"))
	router.Use(telemetry.MetricsMiddleware)
	// Skip timeout for the websocket event stream
	router.Use(func(next http.Handler) http.Handler {
		timeout := middleware.Timeout(60 * time.Second)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
				next.ServeHTTP(w, r)
				return
			}
			timeout(next).ServeHTTP(w, r)
		})
	})

	srv := &Server{
		cfg:       cfg,
		logger:    logger,
		router:    router,
		logBuffer: logBuf,
	}

	if err := srv.initDependencies(); err != nil {
		_ = srv.Close()
		return nil, err
	}

	srv.configureRoutes()
	srv.startBackgroundWorkers()

	addr := fmt.Sprintf("%s:%d", cfg.HTTPBind, cfg.HTTPPort)
	srv.httpServer = &http.Server{
		Addr:              addr,
		Handler:           srv.router,
		ReadHeaderTimeout: 15 * time.Second,
		// WriteTimeout stays 0 for the websocket stream; the middleware timeout covers the rest.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}
	if cfg.MetricsBind != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", telemetry.Handler())
		srv.metricsServer = &http.Server{
			Addr:              cfg.MetricsBind,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
	}

	return srv, nil
}

func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Referrer-Policy", "no-referrer")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")

		// Only advertise HSTS for requests served over HTTPS.
		if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
			w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) initDependencies() error {
	// The database is optional: without a DSN the ban list and playlists stay file backed
	// and play history is not recorded.
	if s.cfg.DBDSN != "" {
		database, err := db.Connect(s.cfg)
		if err != nil {
			return err
		}
		s.DeferClose(func() error { return db.Close(database) })
		if err := db.Migrate(database); err != nil {
			return err
		}
		s.db = database
	}

	s.bus = s.newBroker()
	s.DeferClose(s.bus.Close)

	bans, err := s.openBanList()
	if err != nil {
		return err
	}
	s.bans = bans

	r, seeker, err := s.newResolver()
	if err != nil {
		return err
	}

	prober := resolver.NewCommandResolver(s.commandConfig(), s.logger)
	s.metadata = cache.NewMetadataCache(cache.MetadataConfig{
		RedisAddr:     s.cfg.RedisAddr,
		RedisPassword: s.cfg.RedisPassword,
		RedisDB:       s.cfg.RedisDB,
		TTL:           cache.DefaultTrackInfoTTL,
	}, prober, s.logger)
	s.DeferClose(s.metadata.Close)

	switch {
	case s.cfg.PlaylistFile != "":
		src, err := playlist.NewFileSource(s.cfg.PlaylistFile)
		if err != nil {
			return err
		}
		s.playlists = src
	case s.db != nil:
		s.playlists = playlist.NewDBSource(s.db)
	}

	if s.db != nil {
		s.recorder = history.NewRecorder(s.db, s.bus, s.logger)
	}

	newSink := func(sessionID string) (playout.Sink, error) {
		return playout.NewGStreamerSink(s.cfg.GStreamerBin, s.cfg.AudioOutput,
			s.logger.With().Str("session_id", sessionID).Logger()), nil
	}
	if err := os.MkdirAll(s.cfg.CacheDir, 0o755); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}
	s.sessions = playout.NewManager(s.cfg, s.bans, r, seeker, s.bus, newSink, s.logger)
	s.DeferClose(s.sessions.Shutdown)

	s.api = api.New(api.Deps{
		Sessions:  s.sessions,
		Bans:      s.bans,
		Bus:       s.bus,
		DB:        s.db,
		Metadata:  s.metadata,
		Playlists: s.playlists,
		LogBuffer: s.logBuffer,
		JWTSecret: []byte(s.cfg.JWTSigningKey),
	}, s.logger)

	if len(s.cfg.JWTSigningKey) == 0 {
		s.logger.Warn().Msg("JUKEBOX_JWT_SIGNING_KEY not set: control API is unauthenticated")
	}
	return nil
}

func (s *Server) newBroker() events.Broker {
	nodeID := s.cfg.InstanceID
	if nodeID == "" {
		nodeID = eventbus.NewNodeID()
	}

	switch s.cfg.EventBus {
	case config.EventBusRedis:
		rc := eventbus.DefaultRedisConfig()
		rc.Addr = s.cfg.RedisAddr
		rc.Password = s.cfg.RedisPassword
		rc.DB = s.cfg.RedisDB
		return eventbus.NewRedisBus(rc, nodeID, s.logger)
	case config.EventBusNATS:
		nc := eventbus.DefaultNATSConfig()
		nc.URL = s.cfg.NATSURL
		nc.Name = "grimnir-jukebox-" + nodeID
		return eventbus.NewNATSBus(nc, nodeID, s.logger)
	default:
		return events.NewBus()
	}
}

func (s *Server) openBanList() (*banlist.List, error) {
	var store banlist.Store
	switch s.cfg.BanListBackend {
	case config.BanListDB:
		if s.db == nil {
			return nil, fmt.Errorf("ban list backend %q needs a database", s.cfg.BanListBackend)
		}
		store = banlist.NewGormStore(s.db)
	default:
		store = banlist.NewFileStore(s.cfg.BanListPath)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return banlist.Open(ctx, store, s.logger)
}

func (s *Server) commandConfig() resolver.CommandConfig {
	template := s.cfg.SourceURLTemplate
	return resolver.CommandConfig{
		FetcherBin:  s.cfg.FetcherBin,
		FFmpegBin:   s.cfg.FFmpegBin,
		BitrateKbps: s.cfg.AudioBitrateKbps,
		AudioFilter: s.cfg.AudioFilter,
		SourceURL: func(id string) string {
			if strings.Contains(template, "%s") {
				return fmt.Sprintf(template, id)
			}
			return template + id
		},
	}
}

// newResolver returns the resolve chain: the object store first when configured, then
// the fetcher. The command resolver always seeks.
func (s *Server) newResolver() (resolver.Resolver, resolver.Seeker, error) {
	cmd := resolver.NewCommandResolver(s.commandConfig(), s.logger)
	if s.cfg.S3Bucket == "" {
		return cmd, cmd, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	client, err := resolver.NewS3Client(ctx, resolver.S3Config{
		AccessKeyID:     s.cfg.S3AccessKeyID,
		SecretAccessKey: s.cfg.S3SecretAccessKey,
		Region:          s.cfg.S3Region,
		Bucket:          s.cfg.S3Bucket,
		Prefix:          s.cfg.S3Prefix,
		Endpoint:        s.cfg.S3Endpoint,
		UsePathStyle:    s.cfg.S3UsePathStyle,
	})
	if err != nil {
		return nil, nil, err
	}
	s.logger.Info().Str("bucket", s.cfg.S3Bucket).Msg("object storage resolver enabled")
	obj := resolver.NewObjectResolver(client, s.cfg.S3Bucket, s.cfg.S3Prefix, s.logger)
	return resolver.Chain{obj, cmd}, cmd, nil
}

// HTTPServer exposes the underlying net/http server.
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

// MetricsServer exposes the metrics listener, nil when JUKEBOX_METRICS_BIND is empty.
func (s *Server) MetricsServer() *http.Server {
	return s.metricsServer
}

// Sessions exposes the session manager.
func (s *Server) Sessions() *playout.Manager {
	return s.sessions
}

// Playlists exposes the configured playlist source, nil when none is configured.
func (s *Server) Playlists() playlist.Source {
	return s.playlists
}

// Close releases owned resources in reverse order.
func (s *Server) Close() error {
	s.stopBackgroundWorkers()
	var firstErr error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.closers = nil
	return firstErr
}

// DeferClose registers a cleanup hook.
func (s *Server) DeferClose(fn func() error) {
	s.closers = append(s.closers, fn)
}

func (s *Server) startBackgroundWorkers() {
	ctx, cancel := context.WithCancel(context.Background())
	s.bgCancel = cancel

	if s.recorder != nil {
		s.bgWG.Add(1)
		go func() {
			defer s.bgWG.Done()
			s.recorder.Run(ctx)
		}()
	}

	if s.db != nil {
		s.bgWG.Add(1)
		go func() {
			defer s.bgWG.Done()
			ticker := time.NewTicker(30 * time.Second)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					db.UpdateConnectionMetrics(s.db)
				}
			}
		}()
	}
}

func (s *Server) stopBackgroundWorkers() {
	if s.bgCancel == nil {
		return
	}
	s.bgCancel()
	s.bgWG.Wait()
	s.bgCancel = nil
}

func (s *Server) configureRoutes() {
	s.router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	if s.metricsServer == nil {
		s.router.Handle("/metrics", telemetry.Handler())
	}

	s.api.Routes(s.router)
}
