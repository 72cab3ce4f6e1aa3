/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package version provides build information.
package version

import (
	"fmt"
	"runtime"
)

// Version is the current version of Grimnir Jukebox.
// This is set at build time via ldflags:
//
//	-X github.com/friendsincode/grimnir_jukebox/internal/version.Version=X.Y.Z
var Version = "0.1.0"

// Commit is the git revision, set at build time.
var Commit = "unknown"

// String renders version, commit and Go runtime for the CLI.
func String() string {
	return fmt.Sprintf("grimnir-jukebox %s (%s, %s %s/%s)", Version, Commit, runtime.Version(), runtime.GOOS, runtime.GOARCH)
}
