/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/friendsincode/grimnir_jukebox/internal/db"
	"github.com/friendsincode/grimnir_jukebox/internal/playlist"
)

var playlistCmd = &cobra.Command{
	Use:   "playlist",
	Short: "Manage stored playlists",
}

var playlistImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Import playlists from a YAML or JSON file into the database",
	Long:  "Import every playlist in the file, replacing stored playlists with the same name",
	Args:  cobra.ExactArgs(1),
	RunE:  runPlaylistImport,
}

var playlistListCmd = &cobra.Command{
	Use:   "list",
	Short: "List playlists stored in the database",
	RunE:  runPlaylistList,
}

func init() {
	rootCmd.AddCommand(playlistCmd)
	playlistCmd.AddCommand(playlistImportCmd)
	playlistCmd.AddCommand(playlistListCmd)
}

// initDatabase connects and migrates the configured database.
func initDatabase() (*gorm.DB, error) {
	if cfg.DBDSN == "" {
		return nil, fmt.Errorf("JUKEBOX_DB_DSN is not set")
	}
	database, err := db.Connect(cfg)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(database); err != nil {
		_ = db.Close(database)
		return nil, err
	}
	return database, nil
}

func runPlaylistImport(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}

	src, err := playlist.NewFileSource(args[0])
	if err != nil {
		return err
	}
	database, err := initDatabase()
	if err != nil {
		return err
	}
	defer db.Close(database)

	n, err := playlist.NewDBSource(database).Import(cmd.Context(), src)
	if err != nil {
		return fmt.Errorf("import after %d playlists: %w", n, err)
	}
	logger.Info().Int("playlists", n).Str("file", args[0]).Msg("playlists imported")
	fmt.Fprintf(cmd.OutOrStdout(), "imported %d playlists\n", n)
	return nil
}

func runPlaylistList(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}
	database, err := initDatabase()
	if err != nil {
		return err
	}
	defer db.Close(database)

	lists, err := playlist.NewDBSource(database).List(cmd.Context())
	if err != nil {
		return err
	}
	for _, p := range lists {
		fmt.Fprintf(cmd.OutOrStdout(), "%s\t%d tracks\t%s\n", p.Name, len(p.Tracks), p.Title)
	}
	return nil
}
