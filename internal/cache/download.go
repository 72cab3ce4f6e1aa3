/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package cache holds the per-session download cache of audio artifacts and the
// Redis-backed track metadata cache.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/friendsincode/grimnir_jukebox/internal/resolver"
	"github.com/friendsincode/grimnir_jukebox/internal/telemetry"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/singleflight"
)

var (
	// ErrClosed is returned after Purge.
	ErrClosed = errors.New("download cache closed")
	// ErrArtifactMissing marks an indexed artifact that vanished from disk.
	ErrArtifactMissing = errors.New("cached artifact missing")
	// ErrSeekUnsupported is returned by ResolveAt when no Seeker is configured.
	ErrSeekUnsupported = errors.New("offset playback not supported")
)

// flight tracks the callers waiting on one in-flight resolve so that the
// resolve is cancelled once nobody wants it anymore.
type flight struct {
	ctx     context.Context
	cancel  context.CancelFunc
	waiters int
}

// DownloadCache maps track ids to artifacts under one directory.
// Concurrent requests for the same artifact share a single resolver call.
type DownloadCache struct {
	dir      string
	resolver resolver.Resolver
	seeker   resolver.Seeker
	logger   zerolog.Logger

	base   context.Context
	cancel context.CancelFunc
	group  singleflight.Group

	mu      sync.Mutex
	closed  bool
	entries map[artifactKey]string // key -> artifact path
	flights map[artifactKey]*flight
	pinned  map[string]int // artifact path -> pin count
}

// NewDownloadCache creates a cache rooted at dir. seeker may be nil.
func NewDownloadCache(dir string, r resolver.Resolver, seeker resolver.Seeker, logger zerolog.Logger) *DownloadCache {
	base, cancel := context.WithCancel(context.Background())
	return &DownloadCache{
		dir:      dir,
		resolver: r,
		seeker:   seeker,
		logger:   logger.With().Str("component", "download_cache").Logger(),
		base:     base,
		cancel:   cancel,
		entries:  make(map[artifactKey]string),
		flights:  make(map[artifactKey]*flight),
		pinned:   make(map[string]int),
	}
}

// Dir returns the cache directory.
func (c *DownloadCache) Dir() string { return c.dir }

// Resolve returns the artifact for id, materializing it on a miss.
func (c *DownloadCache) Resolve(ctx context.Context, id string) (string, error) {
	return c.resolveKey(ctx, id, 0)
}

// ResolveAt returns an artifact for id that starts offset into the track.
func (c *DownloadCache) ResolveAt(ctx context.Context, id string, offset time.Duration) (string, error) {
	if offset <= 0 {
		return c.Resolve(ctx, id)
	}
	if c.seeker == nil {
		return "", resolver.Fail(id, resolver.ReasonTransient, ErrSeekUnsupported)
	}
	return c.resolveKey(ctx, id, offset)
}

// artifactKey identifies one artifact. Track ids are opaque, so a resume cut is
// told apart by its offset, never by anything inside the id.
type artifactKey struct {
	id     string
	offset time.Duration // zero for the full track
}

func newKey(id string, offset time.Duration) artifactKey {
	if offset <= 0 {
		return artifactKey{id: id}
	}
	return artifactKey{id: id, offset: offset.Truncate(time.Millisecond)}
}

// String is the singleflight key; the fixed-width offset prefix keeps it unambiguous.
func (k artifactKey) String() string {
	return fmt.Sprintf("%d|%s", k.offset.Milliseconds(), k.id)
}

var safeName = regexp.MustCompile(`^[A-Za-z0-9_\-@.]+$`)

// artifactPath maps a key to a file that cannot escape the cache directory. Full
// tracks live at the top level and cuts under resume/<ms>/.
func (c *DownloadCache) artifactPath(key artifactKey) string {
	name := key.id
	if !safeName.MatchString(name) || strings.HasPrefix(name, ".") {
		sum := sha256.Sum256([]byte(name))
		name = hex.EncodeToString(sum[:16])
	}
	if key.offset > 0 {
		return filepath.Join(c.dir, "resume", strconv.FormatInt(key.offset.Milliseconds(), 10), name+".mp3")
	}
	return filepath.Join(c.dir, name+".mp3")
}

func (c *DownloadCache) lookup(key artifactKey) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return "", false, ErrClosed
	}

	path, indexed := c.entries[key]
	if !indexed {
		path = c.artifactPath(key)
	}
	if _, err := os.Stat(path); err == nil {
		c.entries[key] = path
		return path, true, nil
	} else if indexed {
		delete(c.entries, key)
		c.logger.Warn().Err(fmt.Errorf("%w: %v", ErrArtifactMissing, err)).Str("key", key.String()).Msg("re-resolving artifact")
	}
	return "", false, nil
}

func (c *DownloadCache) resolveKey(ctx context.Context, id string, offset time.Duration) (string, error) {
	path, err := c.resolveOnce(ctx, id, offset)
	if err != nil && errors.Is(err, context.Canceled) && ctx.Err() == nil {
		// Joined a flight that its last waiter had just abandoned; start a fresh one.
		path, err = c.resolveOnce(ctx, id, offset)
	}
	return path, err
}

func (c *DownloadCache) resolveOnce(ctx context.Context, id string, offset time.Duration) (string, error) {
	key := newKey(id, offset)

	path, ok, err := c.lookup(key)
	if err != nil {
		return "", resolver.Fail(id, resolver.ReasonTransient, err)
	}
	if ok {
		telemetry.CacheHitsTotal.Inc()
		return path, nil
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return "", resolver.Fail(id, resolver.ReasonTransient, ErrClosed)
	}
	f := c.flights[key]
	if f == nil {
		fctx, cancel := context.WithCancel(c.base)
		f = &flight{ctx: fctx, cancel: cancel}
		c.flights[key] = f
	}
	f.waiters++
	c.mu.Unlock()

	ch := c.group.DoChan(key.String(), func() (any, error) {
		telemetry.CacheMissesTotal.Inc()
		return c.materialize(f.ctx, key)
	})

	select {
	case res := <-ch:
		c.release(key, f, false)
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		c.release(key, f, true)
		return "", resolver.Fail(id, resolver.ReasonTransient, ctx.Err())
	}
}

// release drops one waiter; the last waiter to abandon a flight cancels it.
func (c *DownloadCache) release(key artifactKey, f *flight, abandoned bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	f.waiters--
	if f.waiters > 0 {
		return
	}
	if abandoned {
		c.logger.Debug().Str("key", key.String()).Msg("cancelling abandoned resolve")
	}
	f.cancel()
	if c.flights[key] == f {
		delete(c.flights, key)
	}
}

func (c *DownloadCache) materialize(ctx context.Context, key artifactKey) (string, error) {
	id, offset := key.id, key.offset
	ctx, span := telemetry.StartSpan(ctx, "cache.materialize",
		attribute.String("track.id", id),
		attribute.Int64("track.offset_ms", offset.Milliseconds()))
	start := time.Now()

	path, err := c.materializeFile(ctx, key)

	outcome := "ok"
	if err != nil {
		outcome = string(resolver.ReasonOf(err))
		telemetry.ResolveFailuresTotal.WithLabelValues(outcome).Inc()
	}
	telemetry.ResolveDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
	telemetry.EndSpan(span, err)
	return path, err
}

func (c *DownloadCache) materializeFile(ctx context.Context, key artifactKey) (string, error) {
	id, offset := key.id, key.offset
	final := c.artifactPath(key)
	if err := os.MkdirAll(filepath.Dir(final), 0o755); err != nil {
		return "", resolver.Fail(id, resolver.ReasonTransient, fmt.Errorf("create cache dir: %w", err))
	}

	tmp := filepath.Join(c.dir, "."+uuid.NewString()+".part")
	defer os.Remove(tmp) // no-op once renamed

	if offset > 0 {
		src, err := c.Resolve(ctx, id)
		if err != nil {
			return "", err
		}
		// The full artifact must survive eviction while it is being cut.
		c.Pin(src)
		err = c.seeker.Seek(ctx, src, offset, tmp)
		c.Unpin(src)
		if err != nil {
			return "", resolver.Fail(id, resolver.ReasonTransient, fmt.Errorf("seek to %s: %w", offset, err))
		}
	} else {
		c.logger.Debug().Str("track_id", id).Msg("resolving artifact")
		if err := c.resolver.Resolve(ctx, id, tmp); err != nil {
			var re *resolver.Error
			if errors.As(err, &re) {
				return "", err
			}
			return "", resolver.Fail(id, resolver.ReasonTransient, err)
		}
	}

	if ctx.Err() != nil {
		return "", resolver.Fail(id, resolver.ReasonTransient, ctx.Err())
	}
	if err := os.Rename(tmp, final); err != nil {
		return "", resolver.Fail(id, resolver.ReasonTransient, fmt.Errorf("commit artifact: %w", err))
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		_ = os.Remove(final)
		return "", resolver.Fail(id, resolver.ReasonTransient, ErrClosed)
	}
	c.entries[key] = final
	return final, nil
}

// Contains reports whether a full artifact for id is materialized.
func (c *DownloadCache) Contains(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[artifactKey{id: id}]
	return ok
}

// Len returns the number of materialized artifacts, resume cuts included.
func (c *DownloadCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Pin protects the artifact at path from eviction until Unpin.
func (c *DownloadCache) Pin(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pinned[path]++
}

// Unpin releases one Pin.
func (c *DownloadCache) Unpin(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pinned[path] <= 1 {
		delete(c.pinned, path)
		return
	}
	c.pinned[path]--
}

// EvictExcept deletes every artifact whose track is not in keep.
// Pinned artifacts and keys with a resolve in flight are never touched.
func (c *DownloadCache) EvictExcept(keep ...string) int {
	keepSet := make(map[string]struct{}, len(keep))
	for _, id := range keep {
		if id != "" {
			keepSet[id] = struct{}{}
		}
	}

	c.mu.Lock()
	var victims []string
	for key, path := range c.entries {
		if _, ok := keepSet[key.id]; ok {
			continue
		}
		if c.pinned[path] > 0 {
			continue
		}
		if _, busy := c.flights[key]; busy {
			continue
		}
		delete(c.entries, key)
		victims = append(victims, path)
	}
	c.mu.Unlock()

	for _, path := range victims {
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			c.logger.Warn().Err(err).Str("path", path).Msg("evict artifact failed")
		}
	}
	if len(victims) > 0 {
		telemetry.CacheEvictionsTotal.Add(float64(len(victims)))
		c.logger.Debug().Int("evicted", len(victims)).Strs("kept", keep).Msg("evicted artifacts")
	}
	return len(victims)
}

// Purge cancels in-flight resolves and deletes the cache directory. The cache is unusable afterwards.
func (c *DownloadCache) Purge() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.entries = make(map[string]string)
	c.pinned = make(map[string]int)
	c.mu.Unlock()

	c.cancel()
	if err := os.RemoveAll(c.dir); err != nil {
		return fmt.Errorf("remove cache dir: %w", err)
	}
	return nil
}
