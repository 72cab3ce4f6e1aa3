package playout

import (
	"testing"
	"time"
)

func TestNextFiring(t *testing.T) {
	loc := time.FixedZone("IST", 5*3600+30*60)
	cases := []struct {
		name string
		now  time.Time
		lead time.Duration
		want time.Time
	}{
		{
			name: "mid hour",
			now:  time.Date(2026, 3, 1, 10, 20, 0, 0, time.UTC),
			lead: 3 * time.Second,
			want: time.Date(2026, 3, 1, 10, 59, 57, 0, time.UTC),
		},
		{
			name: "inside lead window",
			now:  time.Date(2026, 3, 1, 10, 59, 58, 0, time.UTC),
			lead: 3 * time.Second,
			want: time.Date(2026, 3, 1, 11, 59, 57, 0, time.UTC),
		},
		{
			name: "exactly at firing",
			now:  time.Date(2026, 3, 1, 10, 59, 57, 0, time.UTC),
			lead: 3 * time.Second,
			want: time.Date(2026, 3, 1, 11, 59, 57, 0, time.UTC),
		},
		{
			name: "day rollover",
			now:  time.Date(2026, 3, 1, 23, 30, 0, 0, time.UTC),
			lead: 0,
			want: time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC),
		},
		{
			name: "half hour offset zone uses local hours",
			now:  time.Date(2026, 3, 1, 10, 10, 0, 0, loc),
			lead: 3 * time.Second,
			want: time.Date(2026, 3, 1, 10, 59, 57, 0, loc),
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := NextFiring(tc.now, tc.lead); !got.Equal(tc.want) {
				t.Fatalf("got %s want %s", got, tc.want)
			}
		})
	}
}
