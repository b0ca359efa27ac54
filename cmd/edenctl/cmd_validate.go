package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/edenite/eden-host/internal/manifest"
	"github.com/edenite/eden-host/internal/ui"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(validateCmd)
}

var validateCmd = &cobra.Command{
	Use:   "validate <app-dir>",
	Short: "Validate an app directory's manifest.json",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := filepath.Join(args[0], "manifest.json")
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading %s: %w", path, err)
		}

		m, err := manifest.Parse(data)
		if err != nil {
			fmt.Println(ui.Red.Render("✗") + " parse error: " + err.Error())
			return err
		}
		if err := m.Validate(); err != nil {
			fmt.Println(ui.Red.Render("✗") + " invalid: " + err.Error())
			return err
		}

		fmt.Println(ui.Green.Render("✓") + " " + ui.White.Render(m.ID) + " is valid")
		return nil
	},
}
