// Package hotreload implements the dev-mode watcher: when
// config.development is true, every installed app's install path is
// watched for changes. A frontend-entry-file change re-loads the app's
// existing view in place; a manifest.json change re-validates and
// re-registers the manifest.
package hotreload

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/edenite/eden-host/internal/bus"
	"github.com/edenite/eden-host/internal/store"
)

// debounceDelay coalesces the Create+Write pairs a single save can fire
// into one reload.
const debounceDelay = 300 * time.Millisecond

// Watcher watches every installed app's install directory for frontend and
// manifest changes while dev mode is active.
type Watcher struct {
	store  *store.Store
	events *bus.EventBus
	logger *slog.Logger

	fsw *fsnotify.Watcher

	mu       sync.Mutex
	debounce map[string]*time.Timer
	watched  map[string]bool // install paths already added to fsw
}

// New builds a Watcher over store's installed apps, ready to Run.
func New(st *store.Store, events *bus.EventBus, logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		store:    st,
		events:   events,
		logger:   logger,
		fsw:      fsw,
		debounce: make(map[string]*time.Timer),
		watched:  make(map[string]bool),
	}, nil
}

// Run adds every currently installed app's install path to the watch set
// and processes fsnotify events until ctx is cancelled. It does not pick
// up apps installed after Run starts; dev mode is a single-session
// developer workflow, not a long-running production watcher.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.fsw.Close()

	for _, app := range w.store.List(true) {
		w.addPath(app.InstallPath)
	}

	for {
		select {
		case <-ctx.Done():
			w.mu.Lock()
			for _, t := range w.debounce {
				t.Stop()
			}
			w.mu.Unlock()
			return nil

		case event, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			w.handleEvent(event)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("hot-reload watcher error", "error", err)
		}
	}
}

func (w *Watcher) addPath(installPath string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.watched[installPath] {
		return
	}
	if err := w.fsw.Add(installPath); err != nil {
		w.logger.Warn("hot-reload failed to watch app directory", "path", installPath, "error", err)
		return
	}
	w.watched[installPath] = true
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
		return
	}
	name := filepath.Base(event.Name)
	installPath := filepath.Dir(event.Name)

	app := w.appForInstallPath(installPath)
	if app == nil {
		return
	}

	switch {
	case name == "manifest.json":
		w.debounced(event.Name, func() {
			if err := w.store.Revalidate(app.Manifest.ID); err != nil {
				w.logger.Warn("hot-reload manifest revalidation failed", "app_id", app.Manifest.ID, "error", err)
			}
		})
	case !app.Manifest.Frontend.IsRemote() && name == filepath.Base(app.Manifest.Frontend.Entry):
		w.debounced(event.Name, func() {
			if w.events != nil {
				w.events.Notify("view/reload-requested", map[string]any{"app_id": app.Manifest.ID})
			}
		})
	}
}

func (w *Watcher) appForInstallPath(installPath string) *store.InstalledApp {
	for _, app := range w.store.List(true) {
		if app.InstallPath == installPath {
			return app
		}
	}
	return nil
}

// debounced coalesces repeated events for the same path into a single
// call to fn after debounceDelay.
func (w *Watcher) debounced(key string, fn func()) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.debounce[key]; ok {
		t.Stop()
	}
	w.debounce[key] = time.AfterFunc(debounceDelay, func() {
		w.mu.Lock()
		delete(w.debounce, key)
		w.mu.Unlock()
		fn()
	})
}
