/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package resolver

import (
	"context"
	"errors"
)

// Chain tries each resolver in turn, moving on only when one reports the track unavailable.
type Chain []Resolver

// Resolve implements Resolver.
func (c Chain) Resolve(ctx context.Context, trackID, dest string) error {
	err := error(Fail(trackID, ReasonUnavailable, errors.New("no resolver configured")))
	for _, r := range c {
		err = r.Resolve(ctx, trackID, dest)
		if err == nil || ReasonOf(err) != ReasonUnavailable {
			return err
		}
	}
	return err
}
