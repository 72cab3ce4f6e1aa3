/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package resolver turns track ids into local audio artifacts.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Resolver materializes the artifact for trackID at dest.
// Implementations must not leave a partial file at dest when they fail.
type Resolver interface {
	Resolve(ctx context.Context, trackID, dest string) error
}

// Seeker derives an artifact that starts offset into src.
type Seeker interface {
	Seek(ctx context.Context, src string, offset time.Duration, dest string) error
}

// Reason classifies a resolve failure.
type Reason string

const (
	ReasonAgeRestricted Reason = "age_restricted"
	ReasonPremiumOnly   Reason = "premium_only"
	ReasonRegionBlocked Reason = "region_blocked"
	ReasonUnavailable   Reason = "unavailable"
	ReasonPremiere      Reason = "premiere"
	ReasonTransient     Reason = "transient"
)

// Permanent reports whether a track failing for this reason should be banned.
func (r Reason) Permanent() bool {
	switch r {
	case ReasonAgeRestricted, ReasonPremiumOnly, ReasonRegionBlocked, ReasonUnavailable:
		return true
	}
	return false
}

// Describe returns the human readable ban reason.
func (r Reason) Describe() string {
	switch r {
	case ReasonAgeRestricted:
		return "content requires age verification"
	case ReasonPremiumOnly:
		return "content is limited to premium members"
	case ReasonRegionBlocked:
		return "content is blocked in this region"
	case ReasonUnavailable:
		return "content is unavailable"
	case ReasonPremiere:
		return "content is an upcoming premiere"
	default:
		return "temporary failure"
	}
}

// Error is a classified resolve failure.
type Error struct {
	TrackID string
	Reason  Reason
	Err     error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("resolve %s: %s", e.TrackID, e.Reason)
	}
	return fmt.Sprintf("resolve %s: %s: %v", e.TrackID, e.Reason, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Fail wraps err as a classified failure for trackID.
func Fail(trackID string, reason Reason, err error) *Error {
	return &Error{TrackID: trackID, Reason: reason, Err: err}
}

// ReasonOf extracts the classification from err. Unclassified errors and
// cancellations are transient.
func ReasonOf(err error) Reason {
	var re *Error
	if errors.As(err, &re) {
		return re.Reason
	}
	return ReasonTransient
}

// IsPermanent reports whether err should ban the track.
func IsPermanent(err error) bool {
	return err != nil && ReasonOf(err).Permanent()
}

var classifiers = []struct {
	needles []string
	reason  Reason
}{
	{[]string{"premium members", "members-only", "join this channel"}, ReasonPremiumOnly},
	{[]string{"confirm your age", "age-restricted", "inappropriate for some users"}, ReasonAgeRestricted},
	{[]string{"premieres in", "premiere will begin", "live event will begin"}, ReasonPremiere},
	{[]string{"not available in your country", "blocked it in your country", "geo restriction", "geo-restricted"}, ReasonRegionBlocked},
	{[]string{
		"timed out", "timeout", "temporary failure", "connection reset", "connection refused",
		"network is unreachable", "http error 429", "http error 5", "too many requests",
		"no such host", "tls handshake",
	}, ReasonTransient},
}

// Classify maps a fetcher diagnostic to a reason. An empty diagnostic is transient;
// any other content error is unavailable.
func Classify(message string) Reason {
	msg := strings.ToLower(strings.TrimSpace(message))
	if msg == "" {
		return ReasonTransient
	}
	for _, c := range classifiers {
		for _, needle := range c.needles {
			if strings.Contains(msg, needle) {
				return c.reason
			}
		}
	}
	return ReasonUnavailable
}
