//go:build desktop

// Package wailssurface implements internal/view.Surface over wails v3's
// application.WebviewWindow, one window per view.
package wailssurface

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/wailsapp/wails/v3/pkg/application"
	"github.com/wailsapp/wails/v3/pkg/events"

	"github.com/edenite/eden-host/internal/bus"
	"github.com/edenite/eden-host/internal/view"
)

// Factory returns a view.SurfaceFactory bound to app, the running wails
// application instance. One wails window is created per view.
func Factory(app *application.App) view.SurfaceFactory {
	return func(t view.Type) view.Surface {
		return &Surface{app: app, viewType: t}
	}
}

// Surface adapts a single wails WebviewWindow to internal/view.Surface.
type Surface struct {
	app      *application.App
	viewType view.Type

	mu       sync.Mutex
	win      *application.WebviewWindow
	onLoad   func()
	loadOnce bool
}

var windowCounter struct {
	mu sync.Mutex
	n  int
}

func nextWindowName(prefix string) string {
	windowCounter.mu.Lock()
	defer windowCounter.mu.Unlock()
	windowCounter.n++
	return fmt.Sprintf("%s-%d", prefix, windowCounter.n)
}

// Load creates the backing window on first call and points it at entry; a
// path is served as a local file:// URL, a remote entry is used directly.
func (s *Surface) Load(entry string, remote bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	url := entry
	if !remote {
		url = "file://" + entry
	}

	if s.win == nil {
		name := nextWindowName("app")
		if s.viewType == view.TypeOverlay {
			name = nextWindowName("overlay")
		}
		s.win = s.app.Window.NewWithOptions(application.WebviewWindowOptions{
			Name:            name,
			URL:             url,
			Frameless:       s.viewType == view.TypeOverlay,
			BackgroundColor: application.NewRGBA(0, 0, 0, 0),
		})
		s.win.RegisterHook(events.Common.WindowRuntimeReady, func(*application.WindowEvent) {
			s.fireOnLoad()
		})
		return nil
	}

	s.win.SetURL(url)
	return nil
}

func (s *Surface) fireOnLoad() {
	s.mu.Lock()
	cb := s.onLoad
	already := s.loadOnce
	s.loadOnce = true
	s.mu.Unlock()
	if cb != nil && !already {
		cb()
	}
}

func (s *Surface) SetBounds(b view.Bounds) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.win == nil {
		return
	}
	s.win.SetSize(int(b.W), int(b.H))
	s.win.SetRelativePosition(int(b.X), int(b.Y))
}

func (s *Surface) Show() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.win != nil {
		s.win.Show()
	}
}

func (s *Surface) Hide() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.win != nil {
		s.win.Hide()
	}
}

func (s *Surface) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.win != nil {
		s.win.Close()
	}
	return nil
}

func (s *Surface) OpenDevTools() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.win != nil {
		s.win.OpenDevTools()
	}
}

func (s *Surface) CloseDevTools() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.win != nil {
		s.win.CloseDevTools()
	}
}

func (s *Surface) HasFocus() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.win != nil && s.win.IsFocused()
}

func (s *Surface) InjectCSS(css string) error {
	encoded, _ := json.Marshal(css)
	js := fmt.Sprintf(`(function(){var s=document.createElement("style");s.textContent=%s;document.head.appendChild(s);})();`, string(encoded))
	return s.InjectScript(js)
}

func (s *Surface) InjectScript(js string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.win == nil {
		return nil
	}
	s.win.ExecJS(js)
	return nil
}

// PostMessage delivers frame into the page by calling window.postMessage
// via ExecJS rather than Wails' own typed bindings, so every app frontend
// gets a single uniform bridge regardless of engine.
func (s *Surface) PostMessage(frame bus.Frame) error {
	payload, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	js := fmt.Sprintf(`window.postMessage(%s, "*");`, string(payload))
	return s.InjectScript(js)
}

func (s *Surface) OnDidFinishLoad(cb func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onLoad = cb
	s.loadOnce = false
}
