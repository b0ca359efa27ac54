package host

import (
	"context"
	"encoding/json"

	"github.com/edenite/eden-host/internal/bus"
	"github.com/edenite/eden-host/internal/edenerr"
)

// settingsDocument is the single JSON document system/settings-export
// produces and system/settings-import consumes: the host config record plus
// the Permission Registry's grant table. Window geometry stays out of the
// document — geometry never persists across restarts.
type settingsDocument struct {
	Config      settingsConfig      `json:"config"`
	Permissions map[string][]string `json:"permissions"`
}

type settingsConfig struct {
	AppsDirectory    string         `json:"apps_directory,omitempty"`
	UserDirectory    string         `json:"user_directory,omitempty"`
	WindowTitle      string         `json:"window_title,omitempty"`
	WindowBackground string         `json:"window_background,omitempty"`
	Tiling           settingsTiling `json:"tiling"`
	Development      bool           `json:"development"`
	Autostart        []string       `json:"autostart,omitempty"`
	UpdateFeedURL    string         `json:"update_feed_url,omitempty"`
}

type settingsTiling struct {
	Mode    string `json:"mode,omitempty"`
	Gap     int    `json:"gap,omitempty"`
	Padding int    `json:"padding,omitempty"`
	Columns int    `json:"columns,omitempty"`
	Rows    int    `json:"rows,omitempty"`
}

func (h *Host) settingsHandlers() []bus.HandlerSpec {
	return []bus.HandlerSpec{
		{Namespace: "system", Action: "settings-export", Invoke: h.handleSettingsExport},
		{Namespace: "system", Action: "settings-import", Invoke: h.handleSettingsImport},
	}
}

func (h *Host) handleSettingsExport(_ context.Context, _ bus.Args) (any, error) {
	return settingsDocument{
		Config: settingsConfig{
			AppsDirectory:    h.cfg.AppsDirectory,
			UserDirectory:    h.cfg.UserDirectory,
			WindowTitle:      h.cfg.Window.Title,
			WindowBackground: h.cfg.Window.Background,
			Tiling: settingsTiling{
				Mode:    h.cfg.Tiling.Mode,
				Gap:     h.cfg.Tiling.Gap,
				Padding: h.cfg.Tiling.Padding,
				Columns: h.cfg.Tiling.Columns,
				Rows:    h.cfg.Tiling.Rows,
			},
			Development:   h.cfg.Development,
			Autostart:     h.cfg.Autostart,
			UpdateFeedURL: h.cfg.UpdateFeedURL,
		},
		Permissions: h.perms.Grants(),
	}, nil
}

// handleSettingsImport restores a previously exported document: permission
// grants take effect immediately, config fields are applied to the running
// record and persisted to the config file when one is configured. Window
// geometry in the document is ignored.
func (h *Host) handleSettingsImport(_ context.Context, args bus.Args) (any, error) {
	raw, err := json.Marshal(map[string]any{
		"config":      args["config"],
		"permissions": args["permissions"],
	})
	if err != nil {
		return nil, edenerr.Wrap(edenerr.BadFormat, err, "settings document is not serializable")
	}
	var doc settingsDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, edenerr.Wrap(edenerr.BadFormat, err, "settings document has an unexpected shape")
	}

	for appID, perms := range doc.Permissions {
		h.perms.Register(appID, perms)
	}

	if doc.Config.AppsDirectory != "" {
		h.cfg.AppsDirectory = doc.Config.AppsDirectory
	}
	if doc.Config.UserDirectory != "" {
		h.cfg.UserDirectory = doc.Config.UserDirectory
	}
	if doc.Config.WindowTitle != "" {
		h.cfg.Window.Title = doc.Config.WindowTitle
	}
	if doc.Config.WindowBackground != "" {
		h.cfg.Window.Background = doc.Config.WindowBackground
	}
	if doc.Config.Tiling.Mode != "" {
		h.cfg.Tiling.Mode = doc.Config.Tiling.Mode
		h.cfg.Tiling.Gap = doc.Config.Tiling.Gap
		h.cfg.Tiling.Padding = doc.Config.Tiling.Padding
		h.cfg.Tiling.Columns = doc.Config.Tiling.Columns
		h.cfg.Tiling.Rows = doc.Config.Tiling.Rows
	}
	h.cfg.Development = doc.Config.Development
	if doc.Config.Autostart != nil {
		h.cfg.Autostart = doc.Config.Autostart
	}
	h.cfg.UpdateFeedURL = doc.Config.UpdateFeedURL

	if h.configPath != "" {
		if err := h.cfg.Save(h.configPath); err != nil {
			return nil, edenerr.Wrap(edenerr.Io, err, "persisting imported settings")
		}
	}
	return map[string]any{"applied": true}, nil
}
