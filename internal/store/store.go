// Package store is the on-disk registry of installed app manifests. It
// distinguishes prebuilt (read-only, uninstall-forbidden) apps from
// user-installed ones, and persists an install/uninstall audit trail to
// SQLite alongside the in-memory index rebuilt from disk on Initialize.
package store

import (
	"context"
	"database/sql"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/edenite/eden-host/internal/archive"
	"github.com/edenite/eden-host/internal/bus"
	"github.com/edenite/eden-host/internal/edenerr"
	"github.com/edenite/eden-host/internal/manifest"
)

// ArchiveExtension is the only extension Install accepts.
const ArchiveExtension = archive.Extension

// InstalledApp is a Manifest plus its install location.
type InstalledApp struct {
	Manifest    *manifest.Manifest
	InstallPath string
	IsPrebuilt  bool
}

// Store is the Package Store: an in-memory registry rebuilt from disk on
// Initialize, backed by a SQLite audit trail of install/uninstall events.
type Store struct {
	mu sync.RWMutex
	// apps is rebuilt wholesale by Initialize and mutated by Install/Uninstall;
	// disk is the source of truth, this map is the fast runtime index.
	apps map[string]*InstalledApp

	prebuiltDir string
	userAppsDir string

	db     *sql.DB
	events *bus.EventBus
}

// Open opens (or creates) the audit-trail database at dbPath and returns a
// Store that will scan prebuiltDir (read-only) and userAppsDir (writable)
// on Initialize. events may be nil in tests that don't care about
// notifications.
func Open(prebuiltDir, userAppsDir, dbPath string, events *bus.EventBus) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(10000)&_pragma=journal_mode(WAL)", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening package store database: %w", err)
	}
	db.SetMaxOpenConns(4)

	s := &Store{
		apps:        make(map[string]*InstalledApp),
		prebuiltDir: prebuiltDir,
		userAppsDir: userAppsDir,
		db:          db,
		events:      events,
	}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating package store database: %w", err)
	}
	return s, nil
}

// Close closes the audit-trail database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS install_events (
			id           INTEGER PRIMARY KEY AUTOINCREMENT,
			app_id       TEXT NOT NULL,
			app_name     TEXT NOT NULL,
			app_version  TEXT NOT NULL,
			action       TEXT NOT NULL,
			install_path TEXT NOT NULL DEFAULT '',
			created_at   TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_install_events_app_id ON install_events(app_id);
	`)
	return err
}

func (s *Store) recordEvent(action string, app *InstalledApp) {
	_, err := s.db.Exec(
		`INSERT INTO install_events (app_id, app_name, app_version, action, install_path, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		app.Manifest.ID, app.Manifest.Name, app.Manifest.Version, action, app.InstallPath,
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		// the audit trail is best-effort; a write failure must not abort
		// install/uninstall, which have already succeeded on disk.
		_ = err
	}
}

// Initialize creates the user apps directory if absent, then scans both
// roots and loads every manifest.json found. Corrupt manifests are skipped,
// not fatal.
func (s *Store) Initialize() error {
	if err := os.MkdirAll(s.userAppsDir, 0750); err != nil {
		return edenerr.Wrap(edenerr.Io, err, "creating apps directory")
	}

	apps := make(map[string]*InstalledApp)
	scanRoot(s.prebuiltDir, true, apps)
	scanRoot(s.userAppsDir, false, apps)

	s.mu.Lock()
	s.apps = apps
	s.mu.Unlock()
	return nil
}

func scanRoot(root string, isPrebuilt bool, into map[string]*InstalledApp) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return // absent/unreadable root is not fatal; e.g. no prebuilt apps shipped
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		installPath := filepath.Join(root, entry.Name())
		data, err := os.ReadFile(filepath.Join(installPath, "manifest.json"))
		if err != nil {
			continue // directories without a readable manifest.json are skipped silently
		}
		m, err := manifest.Parse(data)
		if err != nil {
			continue
		}
		if err := m.Validate(); err != nil {
			continue
		}
		m.IsPrebuilt = isPrebuilt
		into[m.ID] = &InstalledApp{Manifest: m, InstallPath: installPath, IsPrebuilt: isPrebuilt}
	}
}

// Install extracts archivePath into userAppsDir/<id>/, registers the app,
// and emits package/installed.
func (s *Store) Install(archivePath string) (*InstalledApp, error) {
	if filepath.Ext(archivePath) != ArchiveExtension {
		return nil, edenerr.New(edenerr.BadFormat, "archive must have extension %q", ArchiveExtension)
	}

	f, err := os.Open(archivePath)
	if err != nil {
		return nil, edenerr.Wrap(edenerr.Io, err, "opening archive")
	}
	defer f.Close()

	meta, err := archive.ReadMetadata(f)
	if err != nil {
		return nil, err
	}
	if err := meta.Manifest.Validate(); err != nil {
		return nil, edenerr.Wrap(edenerr.BadFormat, err, "invalid manifest")
	}

	id := meta.Manifest.ID
	s.mu.RLock()
	_, exists := s.apps[id]
	s.mu.RUnlock()
	if exists {
		return nil, edenerr.New(edenerr.AlreadyExists, "app %q is already installed", id)
	}

	if _, err := f.Seek(0, 0); err != nil {
		return nil, edenerr.Wrap(edenerr.Io, err, "rewinding archive")
	}
	installPath := filepath.Join(s.userAppsDir, id)
	if _, err := archive.Extract(f, installPath, true); err != nil {
		// a failed extract must not leave a half-written install behind
		_ = os.RemoveAll(installPath)
		return nil, err
	}

	app := &InstalledApp{Manifest: meta.Manifest, InstallPath: installPath, IsPrebuilt: false}
	app.Manifest.IsPrebuilt = false

	s.mu.Lock()
	s.apps[id] = app
	s.mu.Unlock()

	s.recordEvent("install", app)
	if s.events != nil {
		s.events.Notify("package/installed", map[string]any{"app_id": id})
	}
	return app, nil
}

// Uninstall removes a user-installed app's directory and unregisters it.
// Prebuilt apps cannot be uninstalled.
func (s *Store) Uninstall(appID string) error {
	s.mu.RLock()
	app, ok := s.apps[appID]
	s.mu.RUnlock()
	if !ok {
		return edenerr.New(edenerr.NotFound, "app %q is not installed", appID)
	}
	if app.IsPrebuilt {
		return edenerr.New(edenerr.SystemApp, "app %q is a prebuilt app and cannot be uninstalled", appID)
	}

	if err := os.RemoveAll(app.InstallPath); err != nil {
		return edenerr.Wrap(edenerr.Io, err, "removing install directory")
	}

	s.mu.Lock()
	delete(s.apps, appID)
	s.mu.Unlock()

	s.recordEvent("uninstall", app)
	if s.events != nil {
		s.events.Notify("package/uninstalled", map[string]any{"app_id": appID})
	}
	return nil
}

// List returns every installed manifest. When showHidden is false, entries
// with manifest.overlay=true are omitted.
func (s *Store) List(showHidden bool) []*InstalledApp {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*InstalledApp, 0, len(s.apps))
	for _, app := range s.apps {
		if !showHidden && app.Manifest.Overlay {
			continue
		}
		out = append(out, app)
	}
	return out
}

// Get returns the installed app for appID, if any.
func (s *Store) Get(appID string) (*InstalledApp, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	app, ok := s.apps[appID]
	return app, ok
}

// Revalidate re-reads appID's manifest.json from disk and re-registers it
// in place, for dev-mode hot-reload (internal/hotreload) after an edit. The
// app's running instance, if any, is left untouched; process.Manager picks
// up the new manifest on its next Launch/Reload.
func (s *Store) Revalidate(appID string) error {
	s.mu.RLock()
	app, ok := s.apps[appID]
	s.mu.RUnlock()
	if !ok {
		return edenerr.New(edenerr.NotFound, "app %q is not installed", appID)
	}

	data, err := os.ReadFile(filepath.Join(app.InstallPath, "manifest.json"))
	if err != nil {
		return edenerr.Wrap(edenerr.Io, err, "reading manifest")
	}
	m, err := manifest.Parse(data)
	if err != nil {
		return edenerr.Wrap(edenerr.BadFormat, err, "parsing manifest")
	}
	if err := m.Validate(); err != nil {
		return edenerr.Wrap(edenerr.BadFormat, err, "invalid manifest")
	}
	m.IsPrebuilt = app.IsPrebuilt

	s.mu.Lock()
	s.apps[appID] = &InstalledApp{Manifest: m, InstallPath: app.InstallPath, IsPrebuilt: app.IsPrebuilt}
	s.mu.Unlock()

	if s.events != nil {
		s.events.Notify("package/updated", map[string]any{"app_id": appID})
	}
	return nil
}

// Icon resolves manifest.icon to a data: URL, falling back to the embedded
// default icon when the manifest omits one or the file is missing.
func (s *Store) Icon(appID string) (string, error) {
	s.mu.RLock()
	app, ok := s.apps[appID]
	s.mu.RUnlock()
	if !ok {
		return "", edenerr.New(edenerr.NotFound, "app %q is not installed", appID)
	}

	if app.Manifest.Icon != "" {
		path := filepath.Join(app.InstallPath, app.Manifest.Icon)
		if data, err := os.ReadFile(path); err == nil {
			return toDataURL(data, path), nil
		}
	}
	return toDataURL(defaultIconPNG, "default-icon.png"), nil
}

// CommandHandlers implements bus.Manager, exposing install/uninstall/list/
// icon as the "package/*" command namespace.
func (s *Store) CommandHandlers() []bus.HandlerSpec {
	return []bus.HandlerSpec{
		{Namespace: "package", Action: "list", Invoke: s.handleList},
		{Namespace: "package", Action: "install", Invoke: s.handleInstall},
		{Namespace: "package", Action: "uninstall", Invoke: s.handleUninstall},
		{Namespace: "package", Action: "icon", Invoke: s.handleIcon},
	}
}

func (s *Store) handleList(_ context.Context, args bus.Args) (any, error) {
	showHidden, _ := args["show_hidden"].(bool)
	apps := s.List(showHidden)
	out := make([]map[string]any, 0, len(apps))
	for _, app := range apps {
		out = append(out, map[string]any{
			"id":          app.Manifest.ID,
			"name":        app.Manifest.Name,
			"version":     app.Manifest.Version,
			"is_prebuilt": app.IsPrebuilt,
		})
	}
	return out, nil
}

func (s *Store) handleInstall(_ context.Context, args bus.Args) (any, error) {
	archivePath, _ := args["archive_path"].(string)
	app, err := s.Install(archivePath)
	if err != nil {
		return nil, err
	}
	return map[string]any{"app_id": app.Manifest.ID}, nil
}

func (s *Store) handleUninstall(_ context.Context, args bus.Args) (any, error) {
	appID, _ := args["app_id"].(string)
	if err := s.Uninstall(appID); err != nil {
		return nil, err
	}
	return map[string]any{"app_id": appID}, nil
}

func (s *Store) handleIcon(_ context.Context, args bus.Args) (any, error) {
	appID, _ := args["app_id"].(string)
	dataURL, err := s.Icon(appID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"icon": dataURL}, nil
}

func toDataURL(data []byte, path string) string {
	mime := "image/png"
	switch filepath.Ext(path) {
	case ".svg":
		mime = "image/svg+xml"
	case ".jpg", ".jpeg":
		mime = "image/jpeg"
	case ".gif":
		mime = "image/gif"
	}
	return fmt.Sprintf("data:%s;base64,%s", mime, base64.StdEncoding.EncodeToString(data))
}
