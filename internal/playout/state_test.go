package playout

import "testing"

func TestIsValidTransition(t *testing.T) {
	cases := []struct {
		from, to State
		want     bool
	}{
		{StateIdle, StateLoading, true},
		{StateIdle, StatePlaying, false},
		{StateLoading, StatePlaying, true},
		{StateLoading, StatePaused, true},
		{StateLoading, StateLoading, true},
		{StatePlaying, StatePaused, true},
		{StatePaused, StatePlaying, true},
		{StatePlaying, StateInterrupted, true},
		{StatePaused, StateInterrupted, false},
		{StateInterrupted, StateLoading, true},
		{StateInterrupted, StatePlaying, false},
		{StatePlaying, StateIdle, true},
		{StatePaused, StateIdle, true},
	}
	for _, tc := range cases {
		if got := isValidTransition(tc.from, tc.to); got != tc.want {
			t.Errorf("%s -> %s: got %v want %v", tc.from, tc.to, got, tc.want)
		}
	}
}
