/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package playout

import "time"

// NextFiring returns the next local top of the hour minus lead that is strictly after now.
func NextFiring(now time.Time, lead time.Duration) time.Time {
	y, m, d := now.Date()
	for h := now.Hour() + 1; ; h++ {
		if at := time.Date(y, m, d, h, 0, 0, 0, now.Location()).Add(-lead); at.After(now) {
			return at
		}
	}
}

// timer is the part of *time.Timer the controller needs.
type timer interface {
	Stop() bool
}

type afterFunc func(d time.Duration, f func()) timer

func realAfterFunc(d time.Duration, f func()) timer {
	return time.AfterFunc(d, f)
}

// interruptState tracks a preempted track across one or more time signals.
type interruptState struct {
	active  bool
	trackID string
	offset  time.Duration
	retried bool
}
