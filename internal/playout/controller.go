/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package playout

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/friendsincode/grimnir_jukebox/internal/events"
	"github.com/friendsincode/grimnir_jukebox/internal/queue"
	"github.com/friendsincode/grimnir_jukebox/internal/resolver"
	"github.com/friendsincode/grimnir_jukebox/internal/telemetry"
	"github.com/rs/zerolog"
)

const (
	maxRetryBackoff = 30 * time.Second
	minRetryBackoff = 500 * time.Millisecond
	upcomingLimit   = 10
)

// ArtifactCache is the part of the download cache the controller drives.
type ArtifactCache interface {
	Resolve(ctx context.Context, id string) (string, error)
	ResolveAt(ctx context.Context, id string, offset time.Duration) (string, error)
	Pin(path string)
	Unpin(path string)
	EvictExcept(keep ...string) int
	Purge() error
}

// BanList is the part of the ban list the controller drives.
type BanList interface {
	IsBanned(id string) bool
	Add(ctx context.Context, id, reason string) error
}

// Options configures a Controller.
type Options struct {
	SessionID string
	Volume    float64
	AutoPause bool

	// InterruptClip is the time signal played at the top of every hour. Empty disables it.
	InterruptClip string
	InterruptLead time.Duration

	ResolveTimeout time.Duration
	RetryDelay     time.Duration

	PlaylistTitle string
	PlaylistURL   string
}

type loadKind string

const (
	kindTrack     loadKind = "track"
	kindResume    loadKind = "resume"
	kindInterrupt loadKind = "interrupt"
)

// loadOp is one pending resolve for the current track.
type loadOp struct {
	id     string
	kind   loadKind
	offset time.Duration
	cancel context.CancelFunc
}

// binding is the resource currently handed to the sink.
type binding struct {
	id     string
	kind   loadKind
	offset time.Duration
	path   string
}

type prefetchOp struct {
	id     string
	cancel context.CancelFunc
}

type command struct {
	fn    func() error
	reply chan error
}

// Status is a point-in-time view of a session.
type Status struct {
	SessionID      string     `json:"session_id"`
	State          State      `json:"state"`
	TrackID        string     `json:"track_id,omitempty"`
	Kind           string     `json:"kind,omitempty"`
	LoadingTrackID string     `json:"loading_track_id,omitempty"`
	PositionMS     int64      `json:"position_ms"`
	Volume         float64    `json:"volume"`
	Loop           bool       `json:"loop"`
	Shuffle        bool       `json:"shuffle"`
	AutoPause      bool       `json:"auto_pause"`
	Interrupted    bool       `json:"interrupted"`
	ResumeOffsetMS int64      `json:"resume_offset_ms,omitempty"`
	NextInterrupt  *time.Time `json:"next_interrupt,omitempty"`
	PlaylistTitle  string     `json:"playlist_title,omitempty"`
	PlaylistURL    string     `json:"playlist_url,omitempty"`
	Upcoming       []string   `json:"upcoming"`
	QueueLength    int        `json:"queue_length"`
	StartedAt      time.Time  `json:"started_at"`
}

// Controller runs the playback state machine of one session. All state is owned by
// the goroutine in Run; public methods post commands to it and wait for the reply.
type Controller struct {
	id     string
	opts   Options
	queue  *queue.Queue
	cache  ArtifactCache
	bans   BanList
	sink   Sink
	bus    events.Publisher
	logger zerolog.Logger

	now            func() time.Time
	retryAfter     afterFunc
	interruptAfter afterFunc

	cmds      chan command
	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	startedAt time.Time

	// Owned by the Run goroutine.
	ctx           context.Context
	cancel        context.CancelFunc
	state         State
	started       bool
	loop          bool
	autoPause     bool
	autoPaused    bool
	volume        float64
	playlistTitle string
	playlistURL   string

	current       string // last track loaded from the queue
	bound         *binding
	loading       *loadOp
	prefetch      *prefetchOp
	skipRequested bool
	sinkClosed    bool

	elapsed      time.Duration
	playingSince time.Time

	failures   int
	retrySeq   int
	retryTimer timer

	interrupt      interruptState
	interruptSeq   int
	interruptTimer timer
	nextInterrupt  time.Time
}

// NewController wires a controller. Call Run to start it.
func NewController(opts Options, q *queue.Queue, cache ArtifactCache, bans BanList, sink Sink, bus events.Publisher, logger zerolog.Logger) *Controller {
	return &Controller{
		id:             opts.SessionID,
		opts:           opts,
		queue:          q,
		cache:          cache,
		bans:           bans,
		sink:           sink,
		bus:            bus,
		logger:         logger.With().Str("component", "controller").Str("session_id", opts.SessionID).Logger(),
		now:            time.Now,
		retryAfter:     realAfterFunc,
		interruptAfter: realAfterFunc,
		cmds:           make(chan command),
		quit:           make(chan struct{}),
		done:           make(chan struct{}),
		startedAt:      time.Now(),
		state:          StateIdle,
		autoPause:      opts.AutoPause,
		volume:         clampVolume(opts.Volume),
		playlistTitle:  opts.PlaylistTitle,
		playlistURL:    opts.PlaylistURL,
	}
}

// ID returns the session id.
func (c *Controller) ID() string { return c.id }

// Done is closed once the controller has stopped and released its resources.
func (c *Controller) Done() <-chan struct{} { return c.done }

// Run processes commands and sink events until ctx is cancelled or Close is called.
// On return the sink is stopped and the session's cache is purged.
func (c *Controller) Run(ctx context.Context) error {
	c.ctx, c.cancel = context.WithCancel(ctx)
	defer close(c.done)
	defer c.teardown()

	c.logger.Info().Msg("session started")
	for {
		// Sink events wait while a track is loading so that they are handled strictly in order.
		var sinkEvents <-chan SinkEvent
		if c.state != StateLoading && !c.sinkClosed {
			sinkEvents = c.sink.Events()
		}

		select {
		case <-c.ctx.Done():
			return nil
		case <-c.quit:
			return nil
		case cmd := <-c.cmds:
			err := cmd.fn()
			if cmd.reply != nil {
				cmd.reply <- err
			}
		case ev, ok := <-sinkEvents:
			if !ok {
				c.sinkClosed = true
				c.logger.Warn().Msg("sink event stream closed")
				continue
			}
			c.handleSinkEvent(ev)
		}
	}
}

// Close stops the controller and waits for teardown. It is safe to call more than once.
func (c *Controller) Close() error {
	c.closeOnce.Do(func() { close(c.quit) })
	<-c.done
	return nil
}

// do runs fn on the controller goroutine and returns its error.
func (c *Controller) do(fn func() error) error {
	reply := make(chan error, 1)
	select {
	case c.cmds <- command{fn: fn, reply: reply}:
	case <-c.done:
		return ErrSessionClosed
	}
	select {
	case err := <-reply:
		return err
	case <-c.done:
		select {
		case err := <-reply:
			return err
		default:
			return ErrSessionClosed
		}
	}
}

// post hands fn to the controller goroutine without waiting. It is dropped once the
// controller has stopped.
func (c *Controller) post(fn func()) {
	select {
	case c.cmds <- command{fn: func() error { fn(); return nil }}:
	case <-c.done:
	}
}

// Play starts playback from the queue, or resumes a paused track.
func (c *Controller) Play() error {
	return c.do(func() error {
		c.started = true
		switch c.state {
		case StateIdle:
			c.startNext(false)
		case StatePaused:
			return c.unpause()
		}
		return nil
	})
}

// Pause pauses the current track.
func (c *Controller) Pause() error {
	return c.do(func() error {
		if c.state != StatePlaying {
			return fmt.Errorf("%w: pause while %s", ErrInvalidTransition, c.state)
		}
		if err := c.sink.Pause(); err != nil {
			return fmt.Errorf("pause sink: %w", err)
		}
		c.autoPaused = false
		c.setState(StatePaused)
		return nil
	})
}

// Resume continues a paused track.
func (c *Controller) Resume() error {
	return c.do(func() error {
		if c.state != StatePaused {
			return fmt.Errorf("%w: resume while %s", ErrInvalidTransition, c.state)
		}
		return c.unpause()
	})
}

// Skip abandons the current track. During the time signal it resumes the preempted track.
func (c *Controller) Skip() error {
	return c.do(c.skip)
}

// ToggleLoop flips loop mode and returns the new value.
func (c *Controller) ToggleLoop() (bool, error) {
	var loop bool
	err := c.do(func() error {
		c.loop = !c.loop
		loop = c.loop
		c.logger.Info().Bool("loop", loop).Msg("loop mode changed")
		c.publishMode()
		if !c.loop && (c.state == StatePlaying || c.state == StatePaused) {
			c.prefetchNext()
		}
		return nil
	})
	return loop, err
}

// ToggleShuffle flips shuffle for the next refill and returns the new value.
func (c *Controller) ToggleShuffle() (bool, error) {
	var shuffle bool
	err := c.do(func() error {
		shuffle = !c.queue.Shuffle()
		c.queue.SetShuffle(shuffle)
		c.logger.Info().Bool("shuffle", shuffle).Msg("shuffle mode changed")
		c.publishMode()
		return nil
	})
	return shuffle, err
}

// ShuffleNow re-permutes the queue immediately.
func (c *Controller) ShuffleNow() error {
	return c.do(func() error {
		c.queue.ShuffleNow()
		c.refreshPrefetch()
		return nil
	})
}

// SetVolume sets the output volume, clamped to [0,1].
func (c *Controller) SetVolume(v float64) (float64, error) {
	v = clampVolume(v)
	err := c.do(func() error {
		c.volume = v
		if c.bound != nil {
			if err := c.sink.SetVolume(v); err != nil {
				return fmt.Errorf("set sink volume: %w", err)
			}
		}
		c.publishMode()
		return nil
	})
	return v, err
}

// Ban bans the current track and moves on.
func (c *Controller) Ban(reason string) (string, error) {
	var banned string
	err := c.do(func() error {
		id := c.banTarget()
		if id == "" {
			return ErrNothingPlaying
		}
		if reason == "" {
			reason = "banned by operator"
		}
		banned = id
		c.ban(id, reason)

		if c.state == StateInterrupted {
			// The time signal finishes normally and playback continues with the next track.
			c.queue.RemoveFront(id)
			c.interrupt = interruptState{}
			return nil
		}
		return c.skip()
	})
	return banned, err
}

// SetPlaylist replaces the queue source. The current track keeps playing.
func (c *Controller) SetPlaylist(ids []string, title, url string) error {
	return c.do(func() error {
		c.queue.Initialize(ids, c.queue.Shuffle())
		c.playlistTitle = title
		c.playlistURL = url
		c.logger.Info().Int("tracks", len(ids)).Str("title", title).Msg("playlist set")
		c.publishMode()

		if c.started && c.state == StateIdle {
			c.startNext(true)
			return nil
		}
		c.refreshPrefetch()
		return nil
	})
}

// SetAutoPause switches auto-pause mode. While on, tracks start paused and a playing
// track is paused; switching it off resumes a track that auto-pause had paused.
func (c *Controller) SetAutoPause(on bool) error {
	return c.do(func() error {
		c.autoPause = on
		switch {
		case on && c.state == StatePlaying:
			if err := c.sink.Pause(); err != nil {
				return fmt.Errorf("pause sink: %w", err)
			}
			c.autoPaused = true
			c.setState(StatePaused)
		case !on && c.state == StatePaused && c.autoPaused:
			return c.unpause()
		}
		c.publishMode()
		return nil
	})
}

// Status returns a snapshot of the session.
func (c *Controller) Status() (Status, error) {
	var st Status
	err := c.do(func() error {
		st = c.status()
		return nil
	})
	return st, err
}

func (c *Controller) status() Status {
	upcoming := c.queue.Snapshot()
	if len(upcoming) > upcomingLimit {
		upcoming = upcoming[:upcomingLimit]
	}
	st := Status{
		SessionID:     c.id,
		State:         c.state,
		Volume:        c.volume,
		Loop:          c.loop,
		Shuffle:       c.queue.Shuffle(),
		AutoPause:     c.autoPause,
		Interrupted:   c.interrupt.active,
		PlaylistTitle: c.playlistTitle,
		PlaylistURL:   c.playlistURL,
		Upcoming:      upcoming,
		QueueLength:   c.queue.Len(),
		StartedAt:     c.startedAt,
	}
	if c.bound != nil {
		st.TrackID = c.bound.id
		st.Kind = string(c.bound.kind)
		st.PositionMS = (c.bound.offset + c.elapsedNow()).Milliseconds()
	}
	if c.loading != nil {
		st.LoadingTrackID = c.loading.id
	}
	if c.interrupt.active {
		st.ResumeOffsetMS = c.interrupt.offset.Milliseconds()
	}
	if c.interruptTimer != nil {
		next := c.nextInterrupt
		st.NextInterrupt = &next
	}
	return st
}

func (c *Controller) skip() error {
	switch c.state {
	case StateLoading:
		if c.loading != nil {
			c.publishSkipped(c.loading.id, "user")
			if c.loading.kind == kindResume {
				c.interrupt = interruptState{}
			}
		}
		c.cancelLoad()
		c.cancelRetry()
		c.startNext(true)
		return nil
	case StatePlaying, StatePaused, StateInterrupted:
		if c.skipRequested {
			return nil
		}
		c.skipRequested = true
		if err := c.sink.Stop(); err != nil {
			c.skipRequested = false
			return fmt.Errorf("stop sink: %w", err)
		}
		return nil
	default:
		return ErrNothingPlaying
	}
}

func (c *Controller) unpause() error {
	if err := c.sink.Unpause(); err != nil {
		return fmt.Errorf("unpause sink: %w", err)
	}
	c.autoPaused = false
	c.setState(StatePlaying)
	return nil
}

func (c *Controller) banTarget() string {
	switch {
	case c.state == StateInterrupted && c.interrupt.active:
		return c.interrupt.trackID
	case c.bound != nil && c.bound.kind != kindInterrupt && c.state != StateLoading:
		return c.bound.id
	case c.loading != nil && c.loading.kind != kindInterrupt:
		return c.loading.id
	}
	return ""
}

func (c *Controller) handleSinkEvent(ev SinkEvent) {
	switch ev.Kind {
	case SinkPlaying:
		if c.playingSince.IsZero() {
			c.playingSince = c.now()
		}
	case SinkPaused:
		c.stopClock()
	case SinkIdle:
		c.resourceEnded()
	case SinkError:
		if c.bound == nil {
			return
		}
		c.logger.Warn().Str("track_id", c.bound.id).Str("error", ev.Message).Msg("sink error, advancing")
		c.publish(events.EventTrackFailed, events.Payload{
			"track_id": c.bound.id,
			"reason":   "sink_error",
			"message":  ev.Message,
		})
		c.resourceEnded()
	}
}

// resourceEnded handles the end of the bound resource, natural or forced.
func (c *Controller) resourceEnded() {
	b := c.bound
	if b == nil {
		return
	}
	skipped := c.skipRequested
	c.skipRequested = false
	c.stopClock()
	c.unbind()

	if b.kind == kindInterrupt {
		outcome := "completed"
		if skipped {
			outcome = "skipped"
		}
		telemetry.InterruptsTotal.WithLabelValues(outcome).Inc()
		c.resumeInterrupted()
		return
	}
	if b.kind == kindResume {
		c.interrupt = interruptState{}
	}
	if skipped {
		c.publishSkipped(b.id, "user")
	}

	c.setState(StateIdle)
	if !c.loop {
		var keep []string
		if next, ok := c.queue.PeekAllowed(c.bans.IsBanned); ok {
			keep = append(keep, next)
		}
		c.cache.EvictExcept(keep...)
	}
	c.startNext(skipped)
}

// startNext loads the next track: the current one again in loop mode, otherwise the
// next allowed queue head. advance forces the queue even in loop mode.
func (c *Controller) startNext(advance bool) {
	c.cancelRetry()

	if c.loop && !advance && c.current != "" && !c.bans.IsBanned(c.current) {
		c.load(c.current, kindTrack, 0)
		return
	}

	id, ok := c.queue.NextAllowed(c.bans.IsBanned, func(skipped string) {
		c.logger.Info().Str("track_id", skipped).Msg("skipping banned track")
		c.publishSkipped(skipped, "banned")
	})
	if !ok {
		c.logger.Warn().Msg("nothing playable, waiting for a playlist")
		c.setState(StateIdle)
		return
	}
	c.load(id, kindTrack, 0)
}

func (c *Controller) load(id string, kind loadKind, offset time.Duration) {
	c.cancelLoad()

	var ctx context.Context
	var cancel context.CancelFunc
	if c.opts.ResolveTimeout > 0 {
		ctx, cancel = context.WithTimeout(c.ctx, c.opts.ResolveTimeout)
	} else {
		ctx, cancel = context.WithCancel(c.ctx)
	}
	op := &loadOp{id: id, kind: kind, offset: offset, cancel: cancel}
	c.loading = op
	if kind == kindTrack {
		c.current = id
	}
	c.setState(StateLoading)
	c.logger.Debug().Str("track_id", id).Str("kind", string(kind)).Dur("offset", offset).Msg("loading track")

	cache := c.cache
	go func() {
		var path string
		var err error
		if kind == kindResume {
			path, err = cache.ResolveAt(ctx, id, offset)
		} else {
			path, err = cache.Resolve(ctx, id)
		}
		c.post(func() { c.loaded(op, path, err) })
	}()
}

func (c *Controller) loaded(op *loadOp, path string, err error) {
	if c.loading != op {
		return
	}
	c.loading = nil
	op.cancel()

	if err == nil {
		err = c.bind(op.id, op.kind, op.offset, path)
	}
	if err != nil {
		c.loadFailed(op, err)
	}
}

// bind hands an artifact to the sink and enters the matching state.
func (c *Controller) bind(id string, kind loadKind, offset time.Duration, path string) error {
	if err := c.sink.Load(c.ctx, path, c.volume); err != nil {
		return resolver.Fail(id, resolver.ReasonTransient, fmt.Errorf("sink load: %w", err))
	}
	if kind != kindInterrupt {
		c.cache.Pin(path)
	}
	c.unbind()
	c.bound = &binding{id: id, kind: kind, offset: offset, path: path}
	c.elapsed = 0
	c.playingSince = time.Time{}

	if err := c.sink.Play(); err != nil {
		c.logger.Warn().Err(err).Str("track_id", id).Msg("sink play failed")
	}
	telemetry.TracksStartedTotal.WithLabelValues(string(kind)).Inc()
	c.logger.Info().Str("track_id", id).Str("kind", string(kind)).Dur("offset", offset).Msg("now playing")
	c.publish(events.EventNowPlaying, events.Payload{
		"track_id":       id,
		"kind":           string(kind),
		"offset_ms":      offset.Milliseconds(),
		"playlist_title": c.playlistTitle,
		"playlist_url":   c.playlistURL,
	})

	if kind == kindInterrupt {
		c.setState(StateInterrupted)
		return nil
	}

	c.failures = 0
	if c.autoPause {
		if err := c.sink.Pause(); err != nil {
			c.logger.Warn().Err(err).Msg("auto-pause failed")
		}
		c.autoPaused = true
		c.setState(StatePaused)
	} else {
		c.setState(StatePlaying)
	}
	c.armInterrupt()
	if !c.loop {
		c.prefetchNext()
	}
	return nil
}

func (c *Controller) unbind() {
	if c.bound == nil {
		return
	}
	if c.bound.kind != kindInterrupt {
		c.cache.Unpin(c.bound.path)
	}
	c.bound = nil
}

func (c *Controller) loadFailed(op *loadOp, err error) {
	reason := resolver.ReasonOf(err)
	c.logger.Warn().Err(err).Str("track_id", op.id).Str("kind", string(op.kind)).Str("reason", string(reason)).Msg("load failed")
	c.publish(events.EventTrackFailed, events.Payload{
		"track_id": op.id,
		"kind":     string(op.kind),
		"reason":   string(reason),
	})

	switch op.kind {
	case kindInterrupt:
		c.resumeInterrupted()
		return
	case kindResume:
		// Resume failures are infrastructure problems and never ban.
		if !c.interrupt.retried {
			c.interrupt.retried = true
			id, offset := op.id, op.offset
			c.setState(StateLoading)
			c.scheduleRetry(c.opts.RetryDelay, func() { c.load(id, kindResume, offset) })
			return
		}
		telemetry.InterruptsTotal.WithLabelValues("resume_failed").Inc()
		c.interrupt = interruptState{}
	default:
		if reason.Permanent() {
			c.ban(op.id, reason.Describe())
		} else if reason == resolver.ReasonPremiere {
			c.logger.Info().Str("track_id", op.id).Msg("premiere not yet available, skipping without ban")
		}
	}

	c.failures++
	c.scheduleAdvance()
}

// scheduleAdvance retries with the next track after yielding to the loop. Once a full
// pass over the queue has failed, retries back off.
func (c *Controller) scheduleAdvance() {
	delay := c.opts.RetryDelay
	if cycle := len(c.queue.Source()) + 1; c.failures > cycle {
		delay = retryBackoff(c.failures-cycle, c.opts.RetryDelay)
		c.logger.Warn().Int("failures", c.failures).Dur("delay", delay).Msg("every track is failing, backing off")
	}
	c.setState(StateLoading)
	c.scheduleRetry(delay, func() { c.startNext(true) })
}

func retryBackoff(n int, base time.Duration) time.Duration {
	if base < minRetryBackoff {
		base = minRetryBackoff
	}
	if n > 8 {
		n = 8
	}
	d := base << n
	if d > maxRetryBackoff {
		d = maxRetryBackoff
	}
	return d
}

func (c *Controller) scheduleRetry(delay time.Duration, fn func()) {
	c.cancelRetry()
	seq := c.retrySeq
	c.retryTimer = c.retryAfter(delay, func() {
		c.post(func() {
			if seq != c.retrySeq {
				return
			}
			c.retryTimer = nil
			fn()
		})
	})
}

func (c *Controller) cancelRetry() {
	c.retrySeq++
	if c.retryTimer != nil {
		c.retryTimer.Stop()
		c.retryTimer = nil
	}
}

func (c *Controller) cancelLoad() {
	if c.loading != nil {
		c.loading.cancel()
		c.loading = nil
	}
}

func (c *Controller) ban(id, reason string) {
	if err := c.bans.Add(c.ctx, id, reason); err != nil {
		c.logger.Error().Err(err).Str("track_id", id).Msg("ban not persisted")
	}
	c.publish(events.EventTrackBanned, events.Payload{"track_id": id, "reason": reason})
}

// prefetchNext resolves the next allowed head in the background. Its result only
// lands in the cache; permanent failures ban the head and move on to the following one.
func (c *Controller) prefetchNext() {
	id, ok := c.queue.PeekAllowed(c.bans.IsBanned)
	if !ok {
		return
	}
	if c.prefetch != nil {
		if c.prefetch.id == id {
			return
		}
		c.prefetch.cancel()
	}

	var ctx context.Context
	var cancel context.CancelFunc
	if c.opts.ResolveTimeout > 0 {
		ctx, cancel = context.WithTimeout(c.ctx, c.opts.ResolveTimeout)
	} else {
		ctx, cancel = context.WithCancel(c.ctx)
	}
	op := &prefetchOp{id: id, cancel: cancel}
	c.prefetch = op
	c.logger.Debug().Str("track_id", id).Msg("prefetching next track")

	cache := c.cache
	go func() {
		_, err := cache.Resolve(ctx, id)
		c.post(func() { c.prefetched(op, err) })
	}()
}

func (c *Controller) prefetched(op *prefetchOp, err error) {
	op.cancel()
	if c.prefetch == op {
		c.prefetch = nil
	}
	if err == nil || errors.Is(err, context.Canceled) {
		return
	}

	reason := resolver.ReasonOf(err)
	if !reason.Permanent() {
		c.logger.Debug().Err(err).Str("track_id", op.id).Msg("prefetch failed")
		return
	}
	c.ban(op.id, reason.Describe())
	if c.prefetch == nil && !c.loop && (c.state == StatePlaying || c.state == StatePaused) {
		c.prefetchNext()
	}
}

// refreshPrefetch restarts the prefetch after the queue head changed.
func (c *Controller) refreshPrefetch() {
	if c.prefetch != nil {
		c.prefetch.cancel()
		c.prefetch = nil
	}
	if !c.loop && (c.state == StatePlaying || c.state == StatePaused) {
		c.prefetchNext()
	}
}

func (c *Controller) armInterrupt() {
	if c.opts.InterruptClip == "" || c.interruptTimer != nil {
		return
	}
	now := c.now()
	at := NextFiring(now, c.opts.InterruptLead)
	c.nextInterrupt = at
	c.interruptSeq++
	seq := c.interruptSeq
	c.interruptTimer = c.interruptAfter(at.Sub(now), func() {
		c.post(func() {
			if seq != c.interruptSeq {
				return
			}
			c.interruptTimer = nil
			c.fireInterrupt()
		})
	})
	c.logger.Debug().Time("at", at).Msg("time signal scheduled")
}

func (c *Controller) fireInterrupt() {
	b := c.bound
	if c.state != StatePlaying || b == nil || b.kind == kindInterrupt {
		c.logger.Debug().Str("state", string(c.state)).Msg("time signal deferred to next hour")
		telemetry.InterruptsTotal.WithLabelValues("deferred").Inc()
		c.armInterrupt()
		return
	}

	// Offsets accumulate only while the same preempted track is being resumed.
	if b.kind != kindResume || !c.interrupt.active || c.interrupt.trackID != b.id {
		c.interrupt = interruptState{active: true, trackID: b.id}
	}
	c.interrupt.offset += c.elapsedNow()
	c.interrupt.retried = false
	c.stopClock()

	c.queue.PushFront(b.id)
	if err := c.sink.Pause(); err != nil {
		c.logger.Warn().Err(err).Msg("pause for time signal failed")
	}
	telemetry.InterruptsTotal.WithLabelValues("fired").Inc()
	c.logger.Info().Str("track_id", b.id).Dur("resume_offset", c.interrupt.offset).Msg("time signal")
	c.publish(events.EventInterruptFired, events.Payload{
		"track_id":  b.id,
		"offset_ms": c.interrupt.offset.Milliseconds(),
	})

	c.setState(StateInterrupted)
	if err := c.bind(string(kindInterrupt), kindInterrupt, 0, c.opts.InterruptClip); err != nil {
		c.logger.Error().Err(err).Str("clip", c.opts.InterruptClip).Msg("time signal clip failed, resuming")
		telemetry.InterruptsTotal.WithLabelValues("clip_failed").Inc()
		c.resumeInterrupted()
	}
}

// resumeInterrupted reloads the preempted track at the accumulated offset.
func (c *Controller) resumeInterrupted() {
	if !c.interrupt.active {
		c.setState(StateIdle)
		c.startNext(false)
		return
	}
	id := c.interrupt.trackID
	c.queue.RemoveFront(id)
	c.publish(events.EventInterruptResumed, events.Payload{
		"track_id":  id,
		"offset_ms": c.interrupt.offset.Milliseconds(),
	})
	c.load(id, kindResume, c.interrupt.offset)
}

func (c *Controller) elapsedNow() time.Duration {
	e := c.elapsed
	if !c.playingSince.IsZero() {
		e += c.now().Sub(c.playingSince)
	}
	return e
}

func (c *Controller) stopClock() {
	if !c.playingSince.IsZero() {
		c.elapsed += c.now().Sub(c.playingSince)
		c.playingSince = time.Time{}
	}
}

func (c *Controller) setState(s State) {
	if s == c.state {
		return
	}
	if !isValidTransition(c.state, s) {
		c.logger.Error().Str("from", string(c.state)).Str("to", string(s)).Msg("unexpected state transition")
	}
	c.state = s
	c.publish(events.EventPlaybackState, events.Payload{"state": string(s)})
}

func (c *Controller) publishSkipped(id, cause string) {
	telemetry.TracksSkippedTotal.WithLabelValues(cause).Inc()
	c.publish(events.EventTrackSkipped, events.Payload{"track_id": id, "cause": cause})
}

func (c *Controller) publishMode() {
	c.publish(events.EventModeChanged, events.Payload{
		"loop":           c.loop,
		"shuffle":        c.queue.Shuffle(),
		"auto_pause":     c.autoPause,
		"volume":         c.volume,
		"playlist_title": c.playlistTitle,
		"playlist_url":   c.playlistURL,
	})
}

func (c *Controller) publish(eventType events.EventType, payload events.Payload) {
	if c.bus == nil {
		return
	}
	payload["session_id"] = c.id
	c.bus.Publish(eventType, payload)
}

func (c *Controller) teardown() {
	c.cancelLoad()
	c.cancelRetry()
	if c.prefetch != nil {
		c.prefetch.cancel()
		c.prefetch = nil
	}
	c.interruptSeq++
	if c.interruptTimer != nil {
		c.interruptTimer.Stop()
		c.interruptTimer = nil
	}
	c.cancel()

	c.unbind()
	if err := c.sink.Stop(); err != nil {
		c.logger.Warn().Err(err).Msg("stop sink")
	}
	if err := c.sink.Close(); err != nil {
		c.logger.Warn().Err(err).Msg("close sink")
	}
	if err := c.cache.Purge(); err != nil {
		c.logger.Warn().Err(err).Msg("purge cache")
	}
	c.state = StateIdle
	c.logger.Info().Msg("session stopped")
}

func clampVolume(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
