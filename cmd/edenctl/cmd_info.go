package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/edenite/eden-host/internal/archive"
	"github.com/edenite/eden-host/internal/manifest"
	"github.com/edenite/eden-host/internal/ui"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(infoCmd)
}

var infoCmd = &cobra.Command{
	Use:   "info <path>",
	Short: "Print an app's manifest (accepts an app directory or an .edenite archive)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := args[0]

		var m *manifest.Manifest
		if strings.EqualFold(filepath.Ext(path), archive.Extension) {
			f, err := os.Open(path)
			if err != nil {
				return fmt.Errorf("opening %s: %w", path, err)
			}
			defer f.Close()
			meta, err := archive.ReadMetadata(f)
			if err != nil {
				return fmt.Errorf("reading archive metadata: %w", err)
			}
			m = meta.Manifest
		} else {
			data, err := os.ReadFile(filepath.Join(path, "manifest.json"))
			if err != nil {
				return fmt.Errorf("reading manifest: %w", err)
			}
			m, err = manifest.Parse(data)
			if err != nil {
				return fmt.Errorf("parsing manifest: %w", err)
			}
		}

		fmt.Println(ui.Cyan.Render("ID:          ") + ui.White.Render(m.ID))
		fmt.Println(ui.Cyan.Render("Name:        ") + ui.White.Render(m.Name))
		fmt.Println(ui.Cyan.Render("Version:     ") + ui.White.Render(m.Version))
		if m.Description != "" {
			fmt.Println(ui.Cyan.Render("Description: ") + ui.White.Render(m.Description))
		}
		if m.Author != "" {
			fmt.Println(ui.Cyan.Render("Author:      ") + ui.White.Render(m.Author))
		}
		fmt.Println(ui.Cyan.Render("Frontend:    ") + ui.White.Render(m.Frontend.Entry))
		if m.Backend != nil {
			fmt.Println(ui.Cyan.Render("Backend:     ") + ui.White.Render(m.Backend.Entry))
		}
		if len(m.Permissions) > 0 {
			fmt.Println(ui.Cyan.Render("Permissions: ") + ui.White.Render(strings.Join(m.Permissions, ", ")))
		}
		fmt.Println(ui.Cyan.Render("Autostart:   ") + ui.White.Render(fmt.Sprintf("%v", m.Autostart)))
		return nil
	},
}
