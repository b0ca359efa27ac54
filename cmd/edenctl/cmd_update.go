package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/edenite/eden-host/internal/config"
	"github.com/edenite/eden-host/internal/ui"
	"github.com/edenite/eden-host/internal/updater"
	"github.com/edenite/eden-host/internal/version"
	"github.com/spf13/cobra"
)

var updateConfigPath string

func init() {
	updateCmd.Flags().StringVar(&updateConfigPath, "config", config.DefaultConfigPath, "path to config.yml")
	rootCmd.AddCommand(updateCmd)
}

var updateCmd = &cobra.Command{
	Use:   "update",
	Short: "Check for and apply an edenctl release update",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(updateConfigPath)
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("loading config: %w", err)
			}
			cfg = &config.Config{}
		}
		if cfg.UpdateFeedURL == "" {
			fmt.Println(ui.Dim.Render("self-update is disabled (no update_feed_url configured)"))
			return nil
		}

		fmt.Println(ui.Dim.Render("current version: ") + ui.White.Render(version.Version))
		u := updater.New(cfg.UpdateFeedURL)
		status, err := u.CheckLatestRelease(version.Version)
		if err != nil {
			return fmt.Errorf("checking for updates: %w", err)
		}
		fmt.Println(ui.Dim.Render("latest version:  ") + ui.White.Render(status.Latest))

		if !status.Available {
			fmt.Println(ui.Green.Render("already up to date"))
			return nil
		}
		if status.Release == nil || status.Release.DownloadURL == "" {
			return fmt.Errorf("no release binary found for this platform")
		}

		target, err := os.Executable()
		if err != nil {
			return fmt.Errorf("locating running binary: %w", err)
		}

		tmp, err := os.CreateTemp("", "edenctl-update-*")
		if err != nil {
			return fmt.Errorf("creating temp file: %w", err)
		}
		tmp.Close()
		defer os.Remove(tmp.Name())

		fmt.Println(ui.Cyan.Render("downloading ") + ui.White.Render(status.Release.Version) + "...")
		if err := updater.DownloadBinary(status.Release.DownloadURL, tmp.Name()); err != nil {
			return fmt.Errorf("downloading update: %w", err)
		}

		if err := updater.ApplyUpdateDirect(tmp.Name(), target); err != nil {
			return fmt.Errorf("applying update: %w", err)
		}

		fmt.Println(ui.Green.Render("✓") + " updated to " + ui.White.Render(status.Release.Version) + " (restart edenctl to run it)")
		return nil
	},
}
