/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/friendsincode/grimnir_jukebox/internal/banlist"
	"github.com/friendsincode/grimnir_jukebox/internal/config"
	"github.com/friendsincode/grimnir_jukebox/internal/db"
)

var banlistCmd = &cobra.Command{
	Use:   "banlist",
	Short: "Inspect and edit the ban list",
	Long:  "List banned tracks or ban a track id using the configured ban list backend",
}

var banlistListCmd = &cobra.Command{
	Use:   "list",
	Short: "List banned tracks",
	RunE:  runBanlistList,
}

var banlistAddCmd = &cobra.Command{
	Use:   "add <track-id>",
	Short: "Ban a track id",
	Args:  cobra.ExactArgs(1),
	RunE:  runBanlistAdd,
}

var banReason string

func init() {
	rootCmd.AddCommand(banlistCmd)
	banlistCmd.AddCommand(banlistListCmd)
	banlistCmd.AddCommand(banlistAddCmd)

	banlistAddCmd.Flags().StringVar(&banReason, "reason", "banned by operator", "Reason recorded with the ban")
}

// openBanList opens the configured store. The returned database, when not nil, must be closed.
func openBanList(cmd *cobra.Command) (*banlist.List, *gorm.DB, error) {
	if err := loadConfig(); err != nil {
		return nil, nil, err
	}

	var (
		store    banlist.Store
		database *gorm.DB
	)
	switch cfg.BanListBackend {
	case config.BanListDB:
		var err error
		database, err = initDatabase()
		if err != nil {
			return nil, nil, err
		}
		store = banlist.NewGormStore(database)
	default:
		store = banlist.NewFileStore(cfg.BanListPath)
	}

	list, err := banlist.Open(cmd.Context(), store, logger)
	if err != nil {
		if database != nil {
			_ = db.Close(database)
		}
		return nil, nil, err
	}
	return list, database, nil
}

func runBanlistList(cmd *cobra.Command, args []string) error {
	list, database, err := openBanList(cmd)
	if err != nil {
		return err
	}
	if database != nil {
		defer db.Close(database)
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TRACK\tBANNED AT\tREASON")
	for _, e := range list.Entries() {
		fmt.Fprintf(w, "%s\t%s\t%s\n", e.TrackID, e.BannedAt.Format(time.RFC3339), e.Reason)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%d banned\n", list.Len())
	return nil
}

func runBanlistAdd(cmd *cobra.Command, args []string) error {
	list, database, err := openBanList(cmd)
	if err != nil {
		return err
	}
	if database != nil {
		defer db.Close(database)
	}

	if list.IsBanned(args[0]) {
		rec, _ := list.Get(args[0])
		fmt.Fprintf(cmd.OutOrStdout(), "%s already banned: %s\n", args[0], rec.Reason)
		return nil
	}
	if err := list.Add(cmd.Context(), args[0], banReason); err != nil {
		return fmt.Errorf("ban %s: %w", args[0], err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "banned %s\n", args[0])
	return nil
}
