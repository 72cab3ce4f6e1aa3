/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package resolver

import (
	"bytes"
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

// CommandConfig names the external tools and transcode settings.
type CommandConfig struct {
	FetcherBin  string // yt-dlp compatible: writes the best audio stream to stdout
	FFmpegBin   string
	BitrateKbps int
	AudioFilter string
	SourceURL   func(trackID string) string
}

// CommandResolver fetches a track with the fetcher and transcodes it to mp3 with ffmpeg,
// streaming one process into the other.
type CommandResolver struct {
	cfg    CommandConfig
	logger zerolog.Logger
}

// NewCommandResolver validates cfg and returns a resolver.
func NewCommandResolver(cfg CommandConfig, logger zerolog.Logger) *CommandResolver {
	if cfg.BitrateKbps <= 0 {
		cfg.BitrateKbps = 128
	}
	if cfg.SourceURL == nil {
		cfg.SourceURL = func(id string) string { return "https://www.youtube.com/watch?v=" + id }
	}
	return &CommandResolver{cfg: cfg, logger: logger.With().Str("component", "resolver").Logger()}
}

// Resolve implements Resolver.
func (r *CommandResolver) Resolve(ctx context.Context, trackID, dest string) error {
	url := r.cfg.SourceURL(trackID)
	r.logger.Debug().Str("track_id", trackID).Str("url", url).Msg("fetching track")

	fetch := exec.CommandContext(ctx, r.cfg.FetcherBin,
		"--format", "bestaudio/best", "--no-playlist", "--quiet", "--no-warnings",
		"--output", "-", url)
	transcode := exec.CommandContext(ctx, r.cfg.FFmpegBin, r.transcodeArgs(dest)...)

	var fetchErr, transcodeErr tailBuffer
	fetch.Stderr = &fetchErr
	transcode.Stderr = &transcodeErr

	pipe, err := fetch.StdoutPipe()
	if err != nil {
		return Fail(trackID, ReasonTransient, fmt.Errorf("fetcher stdout: %w", err))
	}
	transcode.Stdin = pipe

	if err := transcode.Start(); err != nil {
		return Fail(trackID, ReasonTransient, fmt.Errorf("start ffmpeg: %w", err))
	}
	if err := fetch.Start(); err != nil {
		_ = transcode.Process.Kill()
		_ = transcode.Wait()
		return Fail(trackID, ReasonTransient, fmt.Errorf("start fetcher: %w", err))
	}

	fErr := fetch.Wait()
	tErr := transcode.Wait()

	switch {
	case ctx.Err() != nil:
		_ = os.Remove(dest)
		return Fail(trackID, ReasonTransient, ctx.Err())
	case fErr != nil:
		_ = os.Remove(dest)
		msg := fetchErr.String()
		reason := exitReason(fErr, &fetchErr)
		if tErr != nil && reason == ReasonUnavailable {
			// A dying transcoder breaks the fetcher's pipe; that says nothing about the content.
			reason = ReasonTransient
		}
		return Fail(trackID, reason, fmt.Errorf("fetcher: %w: %s", fErr, msg))
	case tErr != nil:
		_ = os.Remove(dest)
		return Fail(trackID, ReasonTransient, fmt.Errorf("ffmpeg: %w: %s", tErr, transcodeErr.String()))
	}
	return nil
}

func (r *CommandResolver) transcodeArgs(dest string) []string {
	args := []string{"-hide_banner", "-loglevel", "error", "-y", "-i", "pipe:0", "-vn"}
	if r.cfg.AudioFilter != "" {
		args = append(args, "-af", r.cfg.AudioFilter)
	}
	return append(args, "-b:a", strconv.Itoa(r.cfg.BitrateKbps)+"k", "-f", "mp3", dest)
}

// Seek implements Seeker by stream-copying src from offset.
func (r *CommandResolver) Seek(ctx context.Context, src string, offset time.Duration, dest string) error {
	cmd := exec.CommandContext(ctx, r.cfg.FFmpegBin,
		"-hide_banner", "-loglevel", "error", "-y",
		"-ss", strconv.FormatFloat(offset.Seconds(), 'f', 3, 64),
		"-i", src, "-c", "copy", "-f", "mp3", dest)
	var stderr tailBuffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		_ = os.Remove(dest)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("ffmpeg seek %s: %w: %s", offset, err, stderr.String())
	}
	return nil
}

// tailBuffer keeps the last few KiB written to it.
type tailBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

const tailLimit = 4096

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	n, _ := b.buf.Write(p)
	if over := b.buf.Len() - tailLimit; over > 0 {
		b.buf.Next(over)
	}
	return n, nil
}

// Text returns the captured output, trimmed; empty when the tool said nothing.
func (b *tailBuffer) Text() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return strings.TrimSpace(b.buf.String())
}

func (b *tailBuffer) String() string {
	if s := b.Text(); s != "" {
		return s
	}
	return "no diagnostics"
}

// exitReason classifies a failed fetcher run. A process killed by a signal or one
// that exits without diagnostics tells nothing about the track.
func exitReason(err error, stderr *tailBuffer) Reason {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && !exitErr.Exited() {
		return ReasonTransient
	}
	return Classify(stderr.Text())
}

// Probe implements Prober with the fetcher's JSON metadata dump.
func (r *CommandResolver) Probe(ctx context.Context, trackID string) (TrackInfo, error) {
	url := r.cfg.SourceURL(trackID)
	cmd := exec.CommandContext(ctx, r.cfg.FetcherBin, "--dump-json", "--skip-download", "--no-playlist", "--no-warnings", url)
	var stderr tailBuffer
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if err != nil {
		msg := stderr.String()
		return TrackInfo{}, Fail(trackID, exitReason(err, &stderr), fmt.Errorf("probe: %w: %s", err, msg))
	}
	return parseProbe(trackID, url, out)
}
