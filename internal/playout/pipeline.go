/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package playout

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const stopTimeout = 5 * time.Second

// GStreamerSink plays artifacts through a gst-launch process, one process per artifact.
type GStreamerSink struct {
	bin    string
	output string
	logger zerolog.Logger

	events chan SinkEvent
	quit   chan struct{}

	mu       sync.Mutex
	ctx      context.Context
	path     string
	volume   float64
	cmd      *exec.Cmd
	done     chan struct{} // closed when the process has exited
	gen      int           // bumped whenever the running process is abandoned
	stopping bool
	paused   bool
	closed   bool
}

// NewGStreamerSink creates a sink that runs bin (gst-launch-1.0). output is the
// GStreamer sink element, autoaudiosink when empty.
func NewGStreamerSink(bin, output string, logger zerolog.Logger) *GStreamerSink {
	if output == "" {
		output = "autoaudiosink"
	}
	return &GStreamerSink{
		bin:    bin,
		output: output,
		logger: logger.With().Str("component", "gstreamer_sink").Logger(),
		events: make(chan SinkEvent, 64),
		quit:   make(chan struct{}),
	}
}

// Events returns lifecycle events.
func (s *GStreamerSink) Events() <-chan SinkEvent { return s.events }

func (s *GStreamerSink) emit(ev SinkEvent) {
	select {
	case s.events <- ev:
	case <-s.quit:
	}
}

// Load replaces the current artifact. The process for the previous one is stopped
// without emitting idle.
func (s *GStreamerSink) Load(ctx context.Context, path string, volume float64) error {
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("artifact: %w", err)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errors.New("sink closed")
	}
	s.gen++
	cmd, done, paused := s.cmd, s.done, s.paused
	s.cmd, s.done = nil, nil
	s.ctx = ctx
	s.path = path
	s.volume = volume
	s.paused = false
	s.stopping = false
	s.mu.Unlock()

	terminate(cmd, done, paused)
	return nil
}

// Play starts the loaded artifact.
func (s *GStreamerSink) Play() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.path == "" {
		return errors.New("nothing loaded")
	}
	if s.cmd != nil {
		select {
		case <-s.done:
		default:
			return fmt.Errorf("pipeline already running")
		}
	}

	ctx := s.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	cmd := exec.CommandContext(ctx, s.bin, s.launchArgs()...)
	stderr := &tailWriter{limit: 2048}
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start pipeline: %w", err)
	}
	s.cmd = cmd
	s.done = make(chan struct{})
	s.paused = false

	// Emitted under the lock so that the exit event of a short artifact cannot overtake it.
	s.emit(SinkEvent{Kind: SinkPlaying})
	go s.wait(cmd, s.done, s.gen, stderr)

	s.logger.Debug().Str("path", s.path).Msg("gstreamer pipeline started")
	return nil
}

func (s *GStreamerSink) launchArgs() []string {
	return []string{
		"-q",
		"filesrc", "location=" + strconv.Quote(s.path),
		"!", "decodebin",
		"!", "audioconvert",
		"!", "audioresample",
		"!", "volume", "volume=" + strconv.FormatFloat(s.volume, 'f', 3, 64),
		"!", s.output,
	}
}

// wait reports the process exit unless the process was abandoned by Load.
func (s *GStreamerSink) wait(cmd *exec.Cmd, done chan struct{}, gen int, stderr *tailWriter) {
	err := cmd.Wait()
	close(done)

	s.mu.Lock()
	current := gen == s.gen
	stopping := s.stopping
	if current {
		s.cmd, s.done = nil, nil
		s.path = ""
		s.stopping = false
	}
	s.mu.Unlock()

	if !current {
		return
	}
	if err != nil && !stopping {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		s.logger.Warn().Err(err).Str("stderr", msg).Msg("gstreamer pipeline failed")
		s.emit(SinkEvent{Kind: SinkError, Message: msg})
		return
	}
	s.logger.Debug().Msg("gstreamer pipeline finished")
	s.emit(SinkEvent{Kind: SinkIdle})
}

// Pause suspends the process.
func (s *GStreamerSink) Pause() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cmd == nil || s.cmd.Process == nil {
		return errors.New("nothing playing")
	}
	if s.paused {
		return nil
	}
	if err := suspend(s.cmd.Process); err != nil {
		return fmt.Errorf("suspend pipeline: %w", err)
	}
	s.paused = true
	s.emit(SinkEvent{Kind: SinkPaused})
	return nil
}

// Unpause resumes a suspended process.
func (s *GStreamerSink) Unpause() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cmd == nil || s.cmd.Process == nil {
		return errors.New("nothing playing")
	}
	if !s.paused {
		return nil
	}
	if err := resume(s.cmd.Process); err != nil {
		return fmt.Errorf("resume pipeline: %w", err)
	}
	s.paused = false
	s.emit(SinkEvent{Kind: SinkPlaying})
	return nil
}

// Stop ends the current artifact. The exit is reported as idle.
func (s *GStreamerSink) Stop() error {
	s.mu.Lock()
	cmd, done, paused := s.cmd, s.done, s.paused
	if cmd == nil {
		if s.path != "" {
			s.path = ""
			s.emit(SinkEvent{Kind: SinkIdle})
		}
		s.mu.Unlock()
		return nil
	}
	s.stopping = true
	s.mu.Unlock()

	terminate(cmd, done, paused)
	return nil
}

// SetVolume records the volume. gst-launch cannot change it on a running pipeline, so
// it applies from the next Load.
func (s *GStreamerSink) SetVolume(v float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.volume = v
	s.logger.Debug().Float64("volume", v).Msg("volume applies from next track")
	return nil
}

// Close stops any running process. No events are delivered afterwards.
func (s *GStreamerSink) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.gen++
	cmd, done, paused := s.cmd, s.done, s.paused
	s.cmd, s.done = nil, nil
	s.mu.Unlock()

	close(s.quit)
	terminate(cmd, done, paused)
	return nil
}

// terminate interrupts the process and kills it if it does not exit in time.
func terminate(cmd *exec.Cmd, done chan struct{}, paused bool) {
	if cmd == nil || done == nil || cmd.Process == nil {
		return
	}
	select {
	case <-done:
		return
	default:
	}

	if paused {
		_ = resume(cmd.Process)
	}
	_ = cmd.Process.Signal(os.Interrupt)

	select {
	case <-time.After(stopTimeout):
		_ = cmd.Process.Kill()
		<-done
	case <-done:
	}
}

// tailWriter keeps the last limit bytes written to it.
type tailWriter struct {
	mu    sync.Mutex
	limit int
	buf   []byte
}

func (w *tailWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buf = append(w.buf, p...)
	if len(w.buf) > w.limit {
		w.buf = w.buf[len(w.buf)-w.limit:]
	}
	return len(p), nil
}

func (w *tailWriter) String() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return string(w.buf)
}
