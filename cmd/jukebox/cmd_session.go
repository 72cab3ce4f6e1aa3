/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"context"
	"fmt"

	"github.com/friendsincode/grimnir_jukebox/internal/playout"
	"github.com/friendsincode/grimnir_jukebox/internal/server"
)

// openStartupSession starts the session named by --session, playing --playlist or the
// interludes when no playlist is given.
func openStartupSession(ctx context.Context, srv *server.Server) error {
	opts := playout.SessionOptions{Shuffle: serveShuffle, Autoplay: true}

	if servePlaylist != "" {
		src := srv.Playlists()
		if src == nil {
			return fmt.Errorf("--playlist needs JUKEBOX_PLAYLIST_FILE or a database")
		}
		p, err := src.Get(ctx, servePlaylist)
		if err != nil {
			return fmt.Errorf("load playlist: %w", err)
		}
		opts.Playlist = p.IDs()
		opts.PlaylistTitle = p.Title
		opts.PlaylistURL = p.URL
	}

	if _, err := srv.Sessions().Open(ctx, serveSession, opts); err != nil {
		return fmt.Errorf("open session %s: %w", serveSession, err)
	}
	logger.Info().Str("session_id", serveSession).Str("playlist", servePlaylist).Msg("startup session opened")
	return nil
}
