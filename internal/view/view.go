// Package view creates and destroys web-surface views, owns their
// bounds/visibility/mode/z-order, and enforces the layering invariant on
// every operation that could disturb it. The concrete browser engine is
// reached only through the Surface interface; internal/view/wailssurface
// supplies the build-tag gated implementation over wails v3.
package view

import (
	"github.com/edenite/eden-host/internal/bus"
	"github.com/edenite/eden-host/internal/manifest"
	"github.com/edenite/eden-host/internal/tiling"
)

// Bounds is an axis-aligned rectangle in workspace coordinates.
type Bounds = tiling.Rect

// Type distinguishes an ordinary app view from a privileged overlay view.
type Type string

const (
	TypeApp     Type = "App"
	TypeOverlay Type = "Overlay"
)

// Mode is a view's current placement mode.
type Mode string

const (
	ModeFloating Mode = "Floating"
	ModeTiled    Mode = "Tiled"
)

// State is a view's lifecycle state. Loading moves to Ready on
// did-finish-load; Destroyed is absorbing.
type State string

const (
	StateLoading   State = "Loading"
	StateReady     State = "Ready"
	StateDestroyed State = "Destroyed"
)

// Surface is the seam between the View Manager and a concrete embedded
// browser engine. Every method is safe to call from the manager's
// single-threaded command path.
type Surface interface {
	// Load points the surface at a local file path or a remote URL.
	Load(entry string, remote bool) error
	SetBounds(b Bounds)
	Show()
	Hide()
	Close() error
	OpenDevTools()
	CloseDevTools()
	HasFocus() bool
	InjectCSS(css string) error
	InjectScript(js string) error
	// PostMessage delivers a Command/Event Bus frame into the page's JS
	// context (e.g. via a postMessage bridge).
	PostMessage(frame bus.Frame) error
	// OnDidFinishLoad registers a callback fired once per navigation.
	OnDidFinishLoad(cb func())
}

// View is one rendered surface, owned exclusively by the View Manager.
type View struct {
	ID          uint32
	App         string
	Manifest    *manifest.Manifest
	InstallPath string
	Type        Type
	Mode        Mode
	State       State
	Visible      bool
	Bounds       Bounds
	StoredBounds Bounds // last bounds set (applied only while visible), restored on Show
	TileIndex    *int
	ZIndex       *uint32

	Surface Surface
}

// ViewID implements bus.ViewSink.
func (v *View) ViewID() uint32 { return v.ID }

// AppID implements bus.ViewSink.
func (v *View) AppID() string { return v.App }

// Send implements bus.ViewSink by posting the frame into the page.
func (v *View) Send(frame bus.Frame) error {
	return v.Surface.PostMessage(frame)
}
