/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/friendsincode/grimnir_jukebox/internal/resolver"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// DefaultTrackInfoTTL bounds how long probed metadata is trusted.
const DefaultTrackInfoTTL = 24 * time.Hour

// KeyTrackInfo prefixes track metadata keys.
const KeyTrackInfo = "jukebox:cache:track:" // + track id

// MetadataConfig configures the Redis metadata cache.
type MetadataConfig struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	TTL           time.Duration

	DisableOnError bool // trip the breaker on the first Redis error
}

// MetadataCache serves track display metadata from Redis, probing on a miss.
// With Redis unreachable it degrades to probing every time.
type MetadataCache struct {
	client *redis.Client
	prober resolver.Prober
	logger zerolog.Logger
	cfg    MetadataConfig

	mu       sync.RWMutex
	disabled bool
}

// NewMetadataCache connects to Redis. A failed ping disables caching instead of failing.
func NewMetadataCache(cfg MetadataConfig, prober resolver.Prober, logger zerolog.Logger) *MetadataCache {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr,
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
		PoolSize:     10,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c := NewMetadataCacheWithClient(client, cfg, prober, logger)
	if err := client.Ping(ctx).Err(); err != nil {
		c.logger.Warn().Err(err).Msg("redis unavailable, track metadata will not be cached")
		c.disabled = true
	}
	return c
}

// NewMetadataCacheWithClient wraps an existing client.
func NewMetadataCacheWithClient(client *redis.Client, cfg MetadataConfig, prober resolver.Prober, logger zerolog.Logger) *MetadataCache {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTrackInfoTTL
	}
	return &MetadataCache{
		client: client,
		prober: prober,
		cfg:    cfg,
		logger: logger.With().Str("component", "metadata_cache").Logger(),
	}
}

// Close closes the Redis connection.
func (c *MetadataCache) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

// IsAvailable reports whether Redis is in use.
func (c *MetadataCache) IsAvailable() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return !c.disabled && c.client != nil
}

func (c *MetadataCache) handleError(err error, op string) {
	if err == nil || errors.Is(err, redis.Nil) {
		return
	}
	c.logger.Debug().Err(err).Str("operation", op).Msg("cache operation failed")
	if c.cfg.DisableOnError {
		c.mu.Lock()
		c.disabled = true
		c.mu.Unlock()
		c.logger.Warn().Msg("disabling metadata cache after redis error")
	}
}

// Get returns cached metadata without probing.
func (c *MetadataCache) Get(ctx context.Context, trackID string) (resolver.TrackInfo, bool) {
	if !c.IsAvailable() {
		return resolver.TrackInfo{}, false
	}

	data, err := c.client.Get(ctx, KeyTrackInfo+trackID).Bytes()
	if err != nil {
		c.handleError(err, "get")
		return resolver.TrackInfo{}, false
	}

	var info resolver.TrackInfo
	if err := json.Unmarshal(data, &info); err != nil {
		c.logger.Debug().Err(err).Str("track_id", trackID).Msg("discarding undecodable cache entry")
		return resolver.TrackInfo{}, false
	}
	return info, true
}

// Set stores metadata, typically seeded from a playlist.
func (c *MetadataCache) Set(ctx context.Context, info resolver.TrackInfo) error {
	if !c.IsAvailable() {
		return nil
	}
	data, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("marshal track info: %w", err)
	}
	if err := c.client.Set(ctx, KeyTrackInfo+info.ID, data, c.cfg.TTL).Err(); err != nil {
		c.handleError(err, "set")
		return err
	}
	return nil
}

// Lookup returns cached metadata, probing and caching on a miss.
func (c *MetadataCache) Lookup(ctx context.Context, trackID string) (resolver.TrackInfo, error) {
	if info, ok := c.Get(ctx, trackID); ok {
		return info, nil
	}
	if c.prober == nil {
		return resolver.TrackInfo{ID: trackID}, nil
	}

	info, err := c.prober.Probe(ctx, trackID)
	if err != nil {
		return resolver.TrackInfo{}, fmt.Errorf("probe %s: %w", trackID, err)
	}
	if err := c.Set(ctx, info); err != nil {
		c.logger.Debug().Err(err).Str("track_id", trackID).Msg("cache track info failed")
	}
	return info, nil
}

// Invalidate drops cached metadata for trackID.
func (c *MetadataCache) Invalidate(ctx context.Context, trackID string) error {
	if !c.IsAvailable() {
		return nil
	}
	if err := c.client.Del(ctx, KeyTrackInfo+trackID).Err(); err != nil {
		c.handleError(err, "delete")
		return err
	}
	return nil
}
