package main

import (
	"fmt"
	"os"

	"github.com/edenite/eden-host/internal/archive"
	"github.com/edenite/eden-host/internal/ui"
	"github.com/spf13/cobra"
)

var extractNoVerify bool

func init() {
	extractCmd.Flags().BoolVar(&extractNoVerify, "no-verify", false, "skip checksum verification")
	rootCmd.AddCommand(extractCmd)
}

var extractCmd = &cobra.Command{
	Use:   "extract <archive.edenite> <dest-dir>",
	Short: "Extract an .edenite archive into a directory",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		path, dest := args[0], args[1]

		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("opening %s: %w", path, err)
		}
		defer f.Close()

		meta, err := archive.Extract(f, dest, !extractNoVerify)
		if err != nil {
			return fmt.Errorf("extracting %s: %w", path, err)
		}

		fmt.Println(ui.Green.Render("✓") + " Extracted " + ui.White.Render(meta.Manifest.ID) + " to " + ui.White.Render(dest))
		return nil
	},
}
