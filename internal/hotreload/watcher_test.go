package hotreload

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/edenite/eden-host/internal/bus"
	"github.com/edenite/eden-host/internal/permission"
	"github.com/edenite/eden-host/internal/store"
)

func newTestApp(t *testing.T, userDir, id string) *store.Store {
	t.Helper()
	dir := filepath.Join(userDir, id)
	if err := os.MkdirAll(dir, 0750); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	manifestJSON := `{"id":"` + id + `","name":"Test","version":"1.0.0","frontend":{"entry":"index.html"}}`
	if err := os.WriteFile(filepath.Join(dir, "manifest.json"), []byte(manifestJSON), 0640); err != nil {
		t.Fatalf("writing manifest.json: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "index.html"), []byte("<html></html>"), 0640); err != nil {
		t.Fatalf("writing index.html: %v", err)
	}

	prebuiltDir := t.TempDir()
	dbPath := filepath.Join(t.TempDir(), "store.db")
	s, err := store.Open(prebuiltDir, userDir, dbPath, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	if err := s.Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	return s
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestWatcherReloadsViewOnFrontendEntryChange(t *testing.T) {
	userDir := t.TempDir()
	st := newTestApp(t, userDir, "app.dev")

	perms := permission.New()
	events := bus.NewEventBus(perms, nil)

	var gotAppID string
	done := make(chan struct{}, 1)
	events.AddListener("view/reload-requested", func(_ string, payload any) {
		fields := payload.(map[string]any)
		gotAppID, _ = fields["app_id"].(string)
		done <- struct{}{}
	})

	w, err := New(st, events, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	// Give fsnotify a moment to register its watch before triggering the edit.
	time.Sleep(50 * time.Millisecond)
	entryPath := filepath.Join(userDir, "app.dev", "index.html")
	if err := os.WriteFile(entryPath, []byte("<html>v2</html>"), 0640); err != nil {
		t.Fatalf("rewriting index.html: %v", err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("expected a view/reload-requested event")
	}
	if gotAppID != "app.dev" {
		t.Errorf("app_id = %q, want app.dev", gotAppID)
	}
}

func TestWatcherRevalidatesManifestOnChange(t *testing.T) {
	userDir := t.TempDir()
	st := newTestApp(t, userDir, "app.dev")

	perms := permission.New()
	events := bus.NewEventBus(perms, nil)

	w, err := New(st, events, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	time.Sleep(50 * time.Millisecond)
	manifestPath := filepath.Join(userDir, "app.dev", "manifest.json")
	updated := `{"id":"app.dev","name":"Test Renamed","version":"1.0.1","frontend":{"entry":"index.html"}}`
	if err := os.WriteFile(manifestPath, []byte(updated), 0640); err != nil {
		t.Fatalf("rewriting manifest.json: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool {
		app, ok := st.Get("app.dev")
		return ok && app.Manifest.Version == "1.0.1"
	})
}
