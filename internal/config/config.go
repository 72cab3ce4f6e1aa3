/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Database backend selection.
type DatabaseBackend string

const (
	DatabasePostgres DatabaseBackend = "postgres"
	DatabaseMySQL    DatabaseBackend = "mysql"
	DatabaseSQLite   DatabaseBackend = "sqlite"
)

// BanListBackend selects where the ban list is persisted.
type BanListBackend string

const (
	BanListFile BanListBackend = "file"
	BanListDB   BanListBackend = "db"
)

// EventBusBackend selects the event fan-out transport.
type EventBusBackend string

const (
	EventBusMemory EventBusBackend = "memory"
	EventBusRedis  EventBusBackend = "redis"
	EventBusNATS   EventBusBackend = "nats"
)

// DefaultInterludes are played when a session has no playlist.
var DefaultInterludes = []string{"EtqP2xVE4iY", "WtRHih2nZxk", "slt_Bav8nsQ", "DkUIxAzxF6k", "Cwj910TeKRQ"}

// Config covers process level configuration read from environment variables.
type Config struct {
	Environment string
	HTTPBind    string
	HTTPPort    int
	MetricsBind string

	// Storage
	CacheDir       string
	BanListBackend BanListBackend
	BanListPath    string
	DBBackend      DatabaseBackend
	DBDSN          string
	PlaylistFile   string // Optional YAML/JSON playlist loaded into new sessions

	// Playback defaults
	DefaultVolume float64
	AutoPause     bool
	Interludes    []string

	// Hourly time signal
	InterruptEnabled  bool
	InterruptClipPath string
	InterruptLead     time.Duration

	// Resolution pipeline
	FetcherBin        string
	FFmpegBin         string
	GStreamerBin      string
	AudioOutput       string // GStreamer sink element
	AudioBitrateKbps  int
	AudioFilter       string
	SourceURLTemplate string // %s is replaced with the track id
	ResolveTimeout    time.Duration
	RetryDelay        time.Duration

	// S3 Object Storage configuration (pre-transcoded artifacts)
	S3AccessKeyID     string
	S3SecretAccessKey string
	S3Region          string
	S3Bucket          string
	S3Prefix          string
	S3Endpoint        string // For S3-compatible services (MinIO, Spaces, etc.)
	S3UsePathStyle    bool   // Required for MinIO

	// Event fan-out and metadata cache
	EventBus      EventBusBackend
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	NATSURL       string
	InstanceID    string

	JWTSigningKey string

	// Tracing configuration
	TracingEnabled    bool
	OTLPEndpoint      string
	TracingSampleRate float64

	LegacyEnvWarnings []string
}

// Load reads environment variables, applies defaults, and validates the result.
func Load() (*Config, error) {
	cfg := &Config{
		Environment: getEnvAny([]string{"JUKEBOX_ENV", "GRIMNIR_ENV"}, "development"),
		HTTPBind:    getEnvAny([]string{"JUKEBOX_HTTP_BIND", "GRIMNIR_HTTP_BIND"}, "0.0.0.0"),
		HTTPPort:    getEnvIntAny([]string{"JUKEBOX_HTTP_PORT", "GRIMNIR_HTTP_PORT"}, 8080),
		MetricsBind: getEnvAny([]string{"JUKEBOX_METRICS_BIND", "GRIMNIR_METRICS_BIND"}, "127.0.0.1:9000"),

		CacheDir:       getEnvAny([]string{"JUKEBOX_CACHE_DIR"}, "./mp3/cache"),
		BanListBackend: BanListBackend(getEnvAny([]string{"JUKEBOX_BANLIST_BACKEND"}, string(BanListFile))),
		BanListPath:    getEnvAny([]string{"JUKEBOX_BANLIST_PATH"}, "./config/banlist.json"),
		DBBackend:      DatabaseBackend(getEnvAny([]string{"JUKEBOX_DB_BACKEND", "GRIMNIR_DB_BACKEND"}, string(DatabaseSQLite))),
		DBDSN:          getEnvAny([]string{"JUKEBOX_DB_DSN", "GRIMNIR_DB_DSN"}, ""),
		PlaylistFile:   getEnvAny([]string{"JUKEBOX_PLAYLIST_FILE"}, ""),

		DefaultVolume: getEnvFloatAny([]string{"JUKEBOX_DEFAULT_VOLUME"}, 0.05),
		AutoPause:     getEnvBoolAny([]string{"JUKEBOX_AUTO_PAUSE"}, true),
		Interludes:    getEnvListAny([]string{"JUKEBOX_INTERLUDES"}, DefaultInterludes),

		InterruptEnabled:  getEnvBoolAny([]string{"JUKEBOX_INTERRUPT_ENABLED"}, true),
		InterruptClipPath: getEnvAny([]string{"JUKEBOX_INTERRUPT_CLIP"}, "./mp3/interrupt/time_signal.mp3"),
		InterruptLead:     time.Duration(getEnvIntAny([]string{"JUKEBOX_INTERRUPT_LEAD_SECONDS"}, 3)) * time.Second,

		FetcherBin:        getEnvAny([]string{"JUKEBOX_FETCHER_BIN"}, "yt-dlp"),
		FFmpegBin:         getEnvAny([]string{"JUKEBOX_FFMPEG_BIN"}, "ffmpeg"),
		GStreamerBin:      getEnvAny([]string{"JUKEBOX_GSTREAMER_BIN", "GRIMNIR_GSTREAMER_BIN"}, "gst-launch-1.0"),
		AudioOutput:       getEnvAny([]string{"JUKEBOX_AUDIO_OUTPUT"}, "autoaudiosink"),
		AudioBitrateKbps:  getEnvIntAny([]string{"JUKEBOX_AUDIO_BITRATE_KBPS"}, 128),
		AudioFilter:       getEnvAny([]string{"JUKEBOX_AUDIO_FILTER"}, "dynaudnorm"),
		SourceURLTemplate: getEnvAny([]string{"JUKEBOX_SOURCE_URL_TEMPLATE"}, "https://www.youtube.com/watch?v=%s"),
		ResolveTimeout:    time.Duration(getEnvIntAny([]string{"JUKEBOX_RESOLVE_TIMEOUT_SECONDS"}, 300)) * time.Second,
		RetryDelay:        time.Duration(getEnvIntAny([]string{"JUKEBOX_RETRY_DELAY_MS"}, 250)) * time.Millisecond,

		S3AccessKeyID:     getEnvAny([]string{"JUKEBOX_S3_ACCESS_KEY_ID", "AWS_ACCESS_KEY_ID"}, ""),
		S3SecretAccessKey: getEnvAny([]string{"JUKEBOX_S3_SECRET_ACCESS_KEY", "AWS_SECRET_ACCESS_KEY"}, ""),
		S3Region:          getEnvAny([]string{"JUKEBOX_S3_REGION", "AWS_REGION"}, "us-east-1"),
		S3Bucket:          getEnvAny([]string{"JUKEBOX_S3_BUCKET", "S3_BUCKET"}, ""),
		S3Prefix:          getEnvAny([]string{"JUKEBOX_S3_PREFIX"}, "tracks/"),
		S3Endpoint:        getEnvAny([]string{"JUKEBOX_S3_ENDPOINT", "S3_ENDPOINT"}, ""),
		S3UsePathStyle:    getEnvBoolAny([]string{"JUKEBOX_S3_USE_PATH_STYLE", "S3_USE_PATH_STYLE"}, false),

		EventBus:      EventBusBackend(getEnvAny([]string{"JUKEBOX_EVENT_BUS"}, string(EventBusMemory))),
		RedisAddr:     getEnvAny([]string{"JUKEBOX_REDIS_ADDR", "GRIMNIR_REDIS_ADDR"}, "localhost:6379"),
		RedisPassword: getEnvAny([]string{"JUKEBOX_REDIS_PASSWORD", "GRIMNIR_REDIS_PASSWORD"}, ""),
		RedisDB:       getEnvIntAny([]string{"JUKEBOX_REDIS_DB", "GRIMNIR_REDIS_DB"}, 0),
		NATSURL:       getEnvAny([]string{"JUKEBOX_NATS_URL", "NATS_URL"}, "nats://localhost:4222"),
		InstanceID:    getEnvAny([]string{"JUKEBOX_INSTANCE_ID", "GRIMNIR_INSTANCE_ID"}, ""),

		JWTSigningKey: getEnvAny([]string{"JUKEBOX_JWT_SIGNING_KEY", "GRIMNIR_JWT_SIGNING_KEY"}, ""),

		TracingEnabled:    getEnvBoolAny([]string{"JUKEBOX_TRACING_ENABLED", "GRIMNIR_TRACING_ENABLED"}, false),
		OTLPEndpoint:      getEnvAny([]string{"JUKEBOX_OTLP_ENDPOINT", "GRIMNIR_OTLP_ENDPOINT"}, "localhost:4317"),
		TracingSampleRate: getEnvFloatAny([]string{"JUKEBOX_TRACING_SAMPLE_RATE", "GRIMNIR_TRACING_SAMPLE_RATE"}, 1.0),
	}

	if cfg.DBBackend != DatabasePostgres && cfg.DBBackend != DatabaseMySQL && cfg.DBBackend != DatabaseSQLite {
		return nil, fmt.Errorf("unsupported database backend %q", cfg.DBBackend)
	}

	switch cfg.BanListBackend {
	case BanListFile:
		if cfg.BanListPath == "" {
			return nil, fmt.Errorf("JUKEBOX_BANLIST_PATH must be provided for the file ban list")
		}
	case BanListDB:
		if cfg.DBDSN == "" {
			return nil, fmt.Errorf("JUKEBOX_DB_DSN must be provided when JUKEBOX_BANLIST_BACKEND=db")
		}
	default:
		return nil, fmt.Errorf("unsupported ban list backend %q", cfg.BanListBackend)
	}

	switch cfg.EventBus {
	case EventBusMemory, EventBusRedis, EventBusNATS:
	default:
		return nil, fmt.Errorf("unsupported event bus backend %q", cfg.EventBus)
	}

	if cfg.DefaultVolume < 0 || cfg.DefaultVolume > 1 {
		return nil, fmt.Errorf("JUKEBOX_DEFAULT_VOLUME must be within [0,1], got %v", cfg.DefaultVolume)
	}
	if cfg.InterruptLead < 0 || cfg.InterruptLead >= time.Hour {
		return nil, fmt.Errorf("JUKEBOX_INTERRUPT_LEAD_SECONDS must be within [0,3600), got %s", cfg.InterruptLead)
	}
	if len(cfg.Interludes) == 0 {
		return nil, fmt.Errorf("JUKEBOX_INTERLUDES must name at least one track")
	}

	if strings.EqualFold(cfg.Environment, "production") && cfg.JWTSigningKey == "" {
		return nil, fmt.Errorf("JUKEBOX_JWT_SIGNING_KEY must be provided in production")
	}
	cfg.LegacyEnvWarnings = detectLegacyEnvWarnings()

	return cfg, nil
}

// SourceURL renders the public source URL for a track id.
func (c *Config) SourceURL(trackID string) string {
	if strings.Contains(c.SourceURLTemplate, "%s") {
		return fmt.Sprintf(c.SourceURLTemplate, trackID)
	}
	return c.SourceURLTemplate + trackID
}

func detectLegacyEnvWarnings() []string {
	legacy := map[string]string{
		"GRIMNIR_ENV":             "use JUKEBOX_ENV",
		"GRIMNIR_DB_DSN":          "use JUKEBOX_DB_DSN",
		"GRIMNIR_JWT_SIGNING_KEY": "use JUKEBOX_JWT_SIGNING_KEY",
		"GRIMNIR_TRACING_ENABLED": "use JUKEBOX_TRACING_ENABLED",
		"GRIMNIR_REDIS_ADDR":      "use JUKEBOX_REDIS_ADDR",
	}

	warnings := make([]string, 0, len(legacy))
	for key, recommendation := range legacy {
		if os.Getenv(key) != "" {
			warnings = append(warnings, fmt.Sprintf("legacy env key %s is set; %s", key, recommendation))
		}
	}
	return warnings
}

// getEnvAny returns the first non-empty environment variable value from keys, or def if none set.
func getEnvAny(keys []string, def string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return def
}

// getEnvIntAny returns the first set integer environment variable value from keys, or def.
func getEnvIntAny(keys []string, def int) int {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			if parsed, err := strconv.Atoi(v); err == nil {
				return parsed
			}
		}
	}
	return def
}

// getEnvBoolAny returns the first set boolean environment variable value from keys, or def.
func getEnvBoolAny(keys []string, def bool) bool {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			v = strings.ToLower(strings.TrimSpace(v))
			if v == "true" || v == "1" || v == "yes" {
				return true
			}
			if v == "false" || v == "0" || v == "no" {
				return false
			}
		}
	}
	return def
}

// getEnvFloatAny returns the first set float environment variable value from keys, or def.
func getEnvFloatAny(keys []string, def float64) float64 {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			if parsed, err := strconv.ParseFloat(v, 64); err == nil {
				return parsed
			}
		}
	}
	return def
}

// getEnvListAny splits the first set comma separated value from keys, or returns a copy of def.
func getEnvListAny(keys []string, def []string) []string {
	for _, k := range keys {
		v := os.Getenv(k)
		if v == "" {
			continue
		}
		var out []string
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return append([]string(nil), def...)
}
