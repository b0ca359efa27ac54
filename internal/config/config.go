// Package config loads and persists the host's configuration record: the
// apps/user directories, default window chrome, tiling defaults, the
// development flag, and the autostart list.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config is the full host configuration record, written to config.yml.
type Config struct {
	AppsDirectory string       `yaml:"apps_directory,omitempty"`
	UserDirectory string       `yaml:"user_directory,omitempty"`
	Window        WindowConfig `yaml:"window,omitempty"`
	Tiling        TilingConfig `yaml:"tiling,omitempty"`
	Development   bool         `yaml:"development"`
	Autostart     []string     `yaml:"autostart,omitempty"`
	// UpdateFeedURL is a GitHub releases "latest" API endpoint checked by
	// system/check-update. Empty (the default) disables self-update
	// entirely.
	UpdateFeedURL string `yaml:"update_feed_url,omitempty"`
}

// WindowConfig describes the host window's default chrome.
type WindowConfig struct {
	Width      int    `yaml:"w,omitempty"`
	Height     int    `yaml:"h,omitempty"`
	Title      string `yaml:"title,omitempty"`
	Background string `yaml:"background,omitempty"`
}

// TilingConfig is the host-wide tiling configuration fed into the Tiling
// Engine for every workspace layout pass.
type TilingConfig struct {
	Mode    string `yaml:"mode,omitempty"` // none|horizontal|vertical|grid
	Gap     int    `yaml:"gap,omitempty"`
	Padding int    `yaml:"padding,omitempty"`
	Columns int    `yaml:"columns,omitempty"`
	Rows    int    `yaml:"rows,omitempty"`
}

// Enabled reports whether tiling is active at all (mode != none/"").
func (t TilingConfig) Enabled() bool {
	return t.Mode != "" && t.Mode != ModeNone
}

// WithDefaults returns a copy of cfg with every absent field set to its
// documented default.
func (c Config) WithDefaults() Config {
	out := c
	if out.AppsDirectory == "" {
		out.AppsDirectory = DefaultAppsDirectory
	}
	if out.UserDirectory == "" {
		out.UserDirectory = DefaultUserDirectory
	}
	if out.Window.Width == 0 {
		out.Window.Width = DefaultWindowWidth
	}
	if out.Window.Height == 0 {
		out.Window.Height = DefaultWindowHeight
	}
	if out.Window.Title == "" {
		out.Window.Title = DefaultWindowTitle
	}
	if out.Window.Background == "" {
		out.Window.Background = DefaultWindowBackground
	}
	if out.Tiling.Mode == "" {
		out.Tiling.Mode = ModeNone
	}
	if out.Tiling.Gap == 0 {
		out.Tiling.Gap = DefaultTileGap
	}
	if out.Tiling.Padding == 0 {
		out.Tiling.Padding = DefaultTilePadding
	}
	if out.Tiling.Columns == 0 {
		out.Tiling.Columns = DefaultTileColumns
	}
	if out.Tiling.Rows == 0 {
		out.Tiling.Rows = DefaultTileRows
	}
	return out
}

// Load reads and parses a config file from the given path, filling in
// documented defaults for absent fields.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	cfg = cfg.WithDefaults()
	return &cfg, nil
}

// Save writes the config to the given path, creating parent directories as
// needed.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	if err := os.WriteFile(path, data, 0640); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	return nil
}
