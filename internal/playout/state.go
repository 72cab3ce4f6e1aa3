/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package playout

import "errors"

var (
	// ErrInvalidTransition indicates a control call that the current state does not allow.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrSessionClosed is returned by control calls after the controller stopped.
	ErrSessionClosed = errors.New("session closed")

	// ErrNothingPlaying is returned by calls that act on the current track when there is none.
	ErrNothingPlaying = errors.New("nothing playing")
)

// State is the playback state of one session.
type State string

const (
	StateIdle        State = "idle"
	StateLoading     State = "loading"
	StatePlaying     State = "playing"
	StatePaused      State = "paused"
	StateInterrupted State = "interrupted"
)

var validTransitions = map[State][]State{
	StateIdle: {
		StateLoading,
	},
	StateLoading: {
		StateIdle,
		StatePlaying,
		StatePaused,
	},
	StatePlaying: {
		StateIdle,
		StatePaused,
		StateInterrupted,
	},
	StatePaused: {
		StateIdle,
		StatePlaying,
	},
	StateInterrupted: {
		StateIdle,
		StateLoading,
	},
}

func isValidTransition(from, to State) bool {
	if from == to {
		return true
	}
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}
