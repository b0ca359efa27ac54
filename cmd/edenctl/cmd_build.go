package main

import (
	"fmt"
	"os"

	"github.com/charmbracelet/huh"
	"github.com/edenite/eden-host/internal/archive"
	"github.com/edenite/eden-host/internal/ui"
	"github.com/spf13/cobra"
)

var buildOutput string
var buildLevel int
var buildYes bool

func init() {
	buildCmd.Flags().StringVarP(&buildOutput, "output", "o", "", "output .edenite path (defaults to <app id>.edenite)")
	buildCmd.Flags().IntVar(&buildLevel, "level", 3, "zstd compression level (1-22)")
	buildCmd.Flags().BoolVarP(&buildYes, "yes", "y", false, "overwrite an existing archive without prompting")
	rootCmd.AddCommand(buildCmd)
}

var buildCmd = &cobra.Command{
	Use:   "build <app-dir>",
	Short: "Package an app directory into an .edenite archive",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := args[0]

		tmp, err := os.CreateTemp("", "edenctl-build-*.edenite")
		if err != nil {
			return fmt.Errorf("creating temp file: %w", err)
		}
		defer os.Remove(tmp.Name())

		meta, err := archive.Build(dir, tmp, buildLevel)
		if err != nil {
			tmp.Close()
			return fmt.Errorf("building archive: %w", err)
		}
		if err := tmp.Close(); err != nil {
			return fmt.Errorf("closing archive: %w", err)
		}

		out := buildOutput
		if out == "" {
			out = meta.Manifest.ID + archive.Extension
		}

		if !buildYes {
			if _, err := os.Stat(out); err == nil {
				var overwrite bool
				confirm := huh.NewConfirm().
					Title(fmt.Sprintf("%s already exists. Overwrite?", out)).
					Value(&overwrite)
				if err := confirm.Run(); err != nil {
					return fmt.Errorf("confirming overwrite: %w", err)
				}
				if !overwrite {
					fmt.Println(ui.Dim.Render("build cancelled"))
					return nil
				}
			}
		}

		if err := os.Rename(tmp.Name(), out); err != nil {
			return fmt.Errorf("writing %s: %w", out, err)
		}

		fmt.Println(ui.Green.Render("✓") + " Built " + ui.White.Render(out))
		fmt.Println(ui.Dim.Render("  id:       ") + ui.White.Render(meta.Manifest.ID))
		fmt.Println(ui.Dim.Render("  version:  ") + ui.White.Render(meta.Manifest.Version))
		fmt.Println(ui.Dim.Render("  checksum: ") + ui.White.Render(meta.Checksum))
		return nil
	},
}
