/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package playout

import "context"

// SinkEventKind identifies a sink lifecycle event.
type SinkEventKind string

const (
	SinkPlaying SinkEventKind = "playing"
	SinkPaused  SinkEventKind = "paused"
	SinkIdle    SinkEventKind = "idle"
	SinkError   SinkEventKind = "error"
)

// SinkEvent is emitted by a Sink. Message is set for SinkError.
type SinkEvent struct {
	Kind    SinkEventKind
	Message string
}

// Sink plays one artifact at a time.
//
// Load replaces the current resource without emitting idle for it. An error event is
// terminal for the resource: no idle follows it. Events are delivered in order.
type Sink interface {
	Load(ctx context.Context, path string, volume float64) error
	Play() error
	Pause() error
	Unpause() error
	Stop() error
	SetVolume(v float64) error
	Events() <-chan SinkEvent
	Close() error
}
