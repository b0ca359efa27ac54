package view

import (
	"path/filepath"
	"sort"
	"sync"

	"github.com/edenite/eden-host/internal/bus"
	"github.com/edenite/eden-host/internal/config"
	"github.com/edenite/eden-host/internal/edenerr"
	"github.com/edenite/eden-host/internal/manifest"
)

// SurfaceFactory builds a fresh Surface for a view of the given type. The
// concrete factory lives in internal/view/wailssurface; tests supply a
// fake.
type SurfaceFactory func(t Type) Surface

// Manager owns every View and is the sole authority on bounds, visibility,
// mode, and z-order.
type Manager struct {
	mu sync.Mutex

	views  map[uint32]*View
	nextID uint32

	workspace    Bounds
	tilingConfig config.TilingConfig
	css          *cssCache
	events       *bus.EventBus
	newSurface   SurfaceFactory
	bridgeURL    string

	focusedViewID uint32
}

// NewManager constructs an empty View Manager. cssDir points at the
// design-system CSS assets (see internal/view/csscache.go); events receives
// view/* lifecycle notifications; newSurface builds the concrete Surface
// for each view.
func NewManager(workspace Bounds, tilingCfg config.TilingConfig, cssDir string, events *bus.EventBus, newSurface SurfaceFactory) *Manager {
	m := &Manager{
		views:        make(map[uint32]*View),
		workspace:    workspace,
		tilingConfig: tilingCfg,
		css:          newCSSCache(cssDir),
		events:       events,
		newSurface:   newSurface,
	}
	if events != nil {
		events.AddListener("view/reload-requested", func(_ string, payload any) {
			if fields, ok := payload.(map[string]any); ok {
				if appID, ok := fields["app_id"].(string); ok {
					_ = m.ReloadFrontend(appID)
				}
			}
		})
	}
	return m
}

// SetBridgeURL configures the message channel websocket URL the app-frame
// runtime script dials for window.eden.invoke/.on. Set once during host
// wiring, once the bridge listener's address is known.
func (m *Manager) SetBridgeURL(url string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bridgeURL = url
}

// SetWorkspaceBounds updates the workspace rectangle (e.g. on host window
// resize) and retiles every tiled app view.
func (m *Manager) SetWorkspaceBounds(b Bounds) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.workspace = b
	m.retileLocked()
	if m.events != nil {
		m.events.Notify("view/workspace-bounds-changed", map[string]any{"bounds": b})
	}
}

// CreateAppView creates a view for an ordinary app.
func (m *Manager) CreateAppView(appID string, mf *manifest.Manifest, installPath string, requestedBounds *Bounds) (*View, error) {
	m.mu.Lock()

	mode := DetermineViewMode(mf.Window, m.tilingConfig.Enabled())
	v := &View{
		ID:          m.allocateID(),
		App:         appID,
		Manifest:    mf,
		InstallPath: installPath,
		Type:        TypeApp,
		Mode:        mode,
		State:       StateLoading,
		Visible:     true,
		Surface:     m.newSurface(TypeApp),
	}

	if mode == ModeTiled {
		idx := m.nextTileIndexLocked()
		v.TileIndex = &idx
	} else {
		b := Bounds{}
		if requestedBounds != nil {
			b = clampFloatingBounds(mf.Window, *requestedBounds)
		} else {
			b = floatingBounds(mf.Window, m.workspace, m.countVisibleFloatingAppLocked())
		}
		v.Bounds, v.StoredBounds = b, b
		z := m.nextAppZIndexLocked()
		v.ZIndex = &z
	}

	m.views[v.ID] = v

	if mode == ModeTiled {
		m.retileLocked()
	} else {
		v.Surface.SetBounds(v.Bounds)
	}
	m.mu.Unlock()

	m.loadFrontend(v)
	v.Surface.Show()
	return v, nil
}

// CreateOverlayView creates a privileged overlay view (always floating, in
// the overlay z-range).
func (m *Manager) CreateOverlayView(appID string, mf *manifest.Manifest, installPath string, bounds Bounds) (*View, error) {
	m.mu.Lock()

	z := m.nextOverlayZIndexLocked()
	v := &View{
		ID:           m.allocateID(),
		App:          appID,
		Manifest:     mf,
		InstallPath:  installPath,
		Type:         TypeOverlay,
		Mode:         ModeFloating,
		State:        StateLoading,
		Visible:      true,
		Bounds:       bounds,
		StoredBounds: bounds,
		ZIndex:       &z,
		Surface:      m.newSurface(TypeOverlay),
	}

	m.views[v.ID] = v
	v.Surface.SetBounds(bounds)
	m.mu.Unlock()

	m.loadFrontend(v)
	v.Surface.Show()
	return v, nil
}

func (m *Manager) allocateID() uint32 {
	m.nextID++
	return m.nextID
}

// Destroy removes a view, returning NotFound for an unknown id. For an
// existing view it always succeeds, even when the surface is already gone.
func (m *Manager) Destroy(viewID uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	v, ok := m.views[viewID]
	if !ok {
		return edenerr.New(edenerr.NotFound, "view %d does not exist", viewID)
	}

	v.Surface.CloseDevTools()
	_ = v.Surface.Close()
	if m.events != nil {
		m.events.RemoveAllForView(viewID)
	}

	wasTiledApp := v.Mode == ModeTiled && v.Type == TypeApp
	delete(m.views, viewID)
	v.State = StateDestroyed

	if wasTiledApp {
		m.retileLocked()
	}
	return nil
}

// ReloadFrontend re-points appID's existing surface at its frontend entry
// document without destroying and recreating the view, for dev-mode
// hot-reload (internal/hotreload) rather than a full app relaunch.
func (m *Manager) ReloadFrontend(appID string) error {
	m.mu.Lock()
	var v *View
	for _, candidate := range m.views {
		if candidate.App == appID && candidate.Type == TypeApp {
			v = candidate
			break
		}
	}
	m.mu.Unlock()
	if v == nil {
		return edenerr.New(edenerr.NotFound, "app %q has no running view to reload", appID)
	}

	v.State = StateLoading
	m.loadFrontend(v)
	return nil
}

// SetBounds applies a bounds update: tiled app views ignore it, overlays
// accept it unchecked, floating app views are clamped to their manifest
// min/max, and hidden views store the bounds without applying.
func (m *Manager) SetBounds(viewID uint32, b Bounds) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	v, ok := m.views[viewID]
	if !ok {
		return edenerr.New(edenerr.NotFound, "view %d does not exist", viewID)
	}

	if v.Mode == ModeTiled && v.Type == TypeApp {
		return nil // tiled bounds are a function of the Tiling Engine
	}

	target := b
	if v.Type == TypeApp {
		target = clampFloatingBounds(v.Manifest.Window, b)
	}
	v.StoredBounds = target
	if !v.Visible {
		return nil
	}
	v.Bounds = target
	v.Surface.SetBounds(target)
	return nil
}

// BoundsOf returns viewID's stored bounds — the last bounds set on a
// floating or overlay view, including bounds set while it was hidden — for
// callers (e.g. the Process Manager's Reload) that need to carry placement
// across a destroy-then-recreate cycle. Retiling does not update the
// stored bounds of tiled app views.
func (m *Manager) BoundsOf(viewID uint32) (Bounds, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.views[viewID]
	if !ok {
		return Bounds{}, edenerr.New(edenerr.NotFound, "view %d does not exist", viewID)
	}
	return v.StoredBounds, nil
}

// Alive reports whether viewID still refers to a live, undestroyed view —
// the surface-identity liveness check the Channel Broker runs on a
// Frontend connection endpoint before handing out ports.
func (m *Manager) Alive(viewID uint32) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.views[viewID]
	return ok
}

// SendToView posts frame directly into viewID's page, independent of the
// Event Bus subscription table — used by the Channel Broker to deliver
// port-transfer and port-closed notifications straight to an endpoint.
func (m *Manager) SendToView(viewID uint32, frame bus.Frame) error {
	m.mu.Lock()
	v, ok := m.views[viewID]
	m.mu.Unlock()
	if !ok {
		return edenerr.New(edenerr.NotFound, "view %d does not exist", viewID)
	}
	return v.Send(frame)
}

// Hide zeroes a view's bounds and marks it invisible, retiling survivors
// when the hidden view was tiled.
func (m *Manager) Hide(viewID uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	v, ok := m.views[viewID]
	if !ok {
		return edenerr.New(edenerr.NotFound, "view %d does not exist", viewID)
	}

	v.Visible = false
	v.Bounds = Bounds{}
	v.Surface.Hide()
	if v.Mode == ModeTiled && v.Type == TypeApp {
		v.TileIndex = nil
		m.retileLocked()
	}
	return nil
}

// Show restores a view's stored bounds, marks it visible, recomputes tiles
// if needed, and re-asserts layering.
func (m *Manager) Show(viewID uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	v, ok := m.views[viewID]
	if !ok {
		return edenerr.New(edenerr.NotFound, "view %d does not exist", viewID)
	}

	v.Visible = true
	if v.Mode == ModeTiled && v.Type == TypeApp {
		if v.TileIndex == nil {
			idx := m.nextTileIndexLocked()
			v.TileIndex = &idx
		}
		m.retileLocked()
	} else {
		v.Bounds = v.StoredBounds
		v.Surface.SetBounds(v.Bounds)
	}
	v.Surface.Show()
	return nil
}

// BringToFront assigns a floating view the highest z-index in its category
// (app or overlay).
func (m *Manager) BringToFront(viewID uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	v, ok := m.views[viewID]
	if !ok {
		return edenerr.New(edenerr.NotFound, "view %d does not exist", viewID)
	}
	if v.Mode != ModeFloating {
		return edenerr.New(edenerr.Conflict, "view %d is not floating", viewID)
	}

	var z uint32
	if v.Type == TypeOverlay {
		z = m.nextOverlayZIndexLocked()
	} else {
		z = m.nextAppZIndexLocked()
	}
	v.ZIndex = &z
	return nil
}

// SendToBack assigns a floating view the lowest z-index in its category.
func (m *Manager) SendToBack(viewID uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	v, ok := m.views[viewID]
	if !ok {
		return edenerr.New(edenerr.NotFound, "view %d does not exist", viewID)
	}
	if v.Mode != ModeFloating {
		return edenerr.New(edenerr.Conflict, "view %d is not floating", viewID)
	}

	floor := config.AppZMin
	if v.Type == TypeOverlay {
		floor = config.OverlayZMin
	}
	lowestOther := -1
	for _, other := range m.views {
		if other.ID == v.ID || other.Type != v.Type || other.Mode != ModeFloating || other.ZIndex == nil {
			continue
		}
		if lowestOther == -1 || int(*other.ZIndex) < lowestOther {
			lowestOther = int(*other.ZIndex)
		}
	}
	target := floor
	if lowestOther != -1 && lowestOther-1 < target {
		target = lowestOther - 1
	}
	if target < floor {
		target = floor
	}
	z := uint32(target)
	v.ZIndex = &z
	return nil
}

// SetZOrder assigns an explicit z-index, validated against the view's
// category range ([1,999] for apps, [1000,9999] for overlays).
func (m *Manager) SetZOrder(viewID uint32, z uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	v, ok := m.views[viewID]
	if !ok {
		return edenerr.New(edenerr.NotFound, "view %d does not exist", viewID)
	}
	if v.Mode != ModeFloating {
		return edenerr.New(edenerr.Conflict, "view %d is not floating", viewID)
	}

	if v.Type == TypeOverlay {
		if z < config.OverlayZMin || z > config.OverlayZMax {
			return edenerr.New(edenerr.Conflict, "z-index %d out of overlay range", z)
		}
	} else if z < config.AppZMin || z > config.AppZMax {
		return edenerr.New(edenerr.Conflict, "z-index %d out of app range", z)
	}
	v.ZIndex = &z
	return nil
}

// SetViewMode toggles (target==nil) or sets a view's mode, rejecting the
// change if the manifest restricts it to the opposite mode.
func (m *Manager) SetViewMode(viewID uint32, target *Mode) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	v, ok := m.views[viewID]
	if !ok {
		return edenerr.New(edenerr.NotFound, "view %d does not exist", viewID)
	}

	next := target
	if next == nil {
		toggled := ModeFloating
		if v.Mode == ModeFloating {
			toggled = ModeTiled
		}
		next = &toggled
	}
	if v.Type == TypeOverlay && *next != ModeFloating {
		return edenerr.New(edenerr.Conflict, "overlay views are always floating")
	}
	if modeRestriction(v.Manifest.Window, *next) {
		return edenerr.New(edenerr.Conflict, "manifest restricts view %d to mode %s", viewID, v.Mode)
	}
	if *next == v.Mode {
		return nil
	}

	switch *next {
	case ModeFloating:
		// count before the transition so the cascade offset excludes v itself
		floatingCount := m.countVisibleFloatingAppLocked()
		v.TileIndex = nil
		v.Mode = ModeFloating
		m.retileLocked()
		b := floatingBounds(v.Manifest.Window, m.workspace, floatingCount)
		v.Bounds, v.StoredBounds = b, b
		z := m.nextAppZIndexLocked()
		v.ZIndex = &z
		v.Surface.SetBounds(b)
	case ModeTiled:
		v.ZIndex = nil
		v.Mode = ModeTiled
		idx := m.nextTileIndexLocked()
		v.TileIndex = &idx
		m.retileLocked()
	}

	v.Surface.PostMessage(bus.Frame{Type: "view-mode-changed", Payload: map[string]any{"mode": string(v.Mode)}})
	return nil
}

// ToggleDevTools toggles devtools on whichever of the manager's views
// currently has keyboard focus.
func (m *Manager) ToggleDevTools() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, v := range m.views {
		if v.Surface.HasFocus() {
			if m.focusedViewID == v.ID {
				v.Surface.CloseDevTools()
				m.focusedViewID = 0
			} else {
				v.Surface.OpenDevTools()
				m.focusedViewID = v.ID
			}
			return
		}
	}
}

// ClearCSSCache drops the process-wide design-system CSS cache.
func (m *Manager) ClearCSSCache() {
	m.css.clear()
}

// ChildOrder returns the canonical layering order: tiled app views by
// tile index, then floating app views by z-index, then overlay views by
// z-index.
func (m *Manager) ChildOrder() []uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.childOrderLocked()
}

func (m *Manager) childOrderLocked() []uint32 {
	var tiledApp, floatingApp, overlays []*View
	for _, v := range m.views {
		switch {
		case v.Type == TypeApp && v.Mode == ModeTiled:
			tiledApp = append(tiledApp, v)
		case v.Type == TypeApp && v.Mode == ModeFloating:
			floatingApp = append(floatingApp, v)
		case v.Type == TypeOverlay:
			overlays = append(overlays, v)
		}
	}
	sort.Slice(tiledApp, func(i, j int) bool { return tileIndexOf(tiledApp[i]) < tileIndexOf(tiledApp[j]) })
	sort.Slice(floatingApp, func(i, j int) bool { return zIndexOf(floatingApp[i]) < zIndexOf(floatingApp[j]) })
	sort.Slice(overlays, func(i, j int) bool { return zIndexOf(overlays[i]) < zIndexOf(overlays[j]) })

	out := make([]uint32, 0, len(m.views))
	for _, v := range tiledApp {
		out = append(out, v.ID)
	}
	for _, v := range floatingApp {
		out = append(out, v.ID)
	}
	for _, v := range overlays {
		out = append(out, v.ID)
	}
	return out
}

func tileIndexOf(v *View) int {
	if v.TileIndex == nil {
		return -1
	}
	return *v.TileIndex
}

func zIndexOf(v *View) int {
	if v.ZIndex == nil {
		return -1
	}
	return int(*v.ZIndex)
}

func (m *Manager) countVisibleFloatingAppLocked() int {
	n := 0
	for _, v := range m.views {
		if v.Type == TypeApp && v.Mode == ModeFloating && v.Visible {
			n++
		}
	}
	return n
}

func (m *Manager) nextTileIndexLocked() int {
	max := -1
	for _, v := range m.views {
		if v.Type == TypeApp && v.Mode == ModeTiled && v.TileIndex != nil && *v.TileIndex > max {
			max = *v.TileIndex
		}
	}
	return max + 1
}

func (m *Manager) nextAppZIndexLocked() uint32 {
	max := uint32(config.AppZMin) - 1
	for _, v := range m.views {
		if v.Type == TypeApp && v.Mode == ModeFloating && v.ZIndex != nil && *v.ZIndex > max {
			max = *v.ZIndex
		}
	}
	if max < uint32(config.AppZMin) {
		return uint32(config.AppZMin)
	}
	return max + 1
}

func (m *Manager) nextOverlayZIndexLocked() uint32 {
	max := uint32(config.OverlayZMin) - 1
	for _, v := range m.views {
		if v.Type == TypeOverlay && v.ZIndex != nil && *v.ZIndex > max {
			max = *v.ZIndex
		}
	}
	if max < uint32(config.OverlayZMin) {
		return uint32(config.OverlayZMin)
	}
	return max + 1
}

// retileLocked recomputes dense 0..k-1 tile indices for every visible tiled
// app view (preserving their relative order) and pushes fresh bounds.
func (m *Manager) retileLocked() {
	var tiled []*View
	for _, v := range m.views {
		if v.Type == TypeApp && v.Mode == ModeTiled && v.Visible {
			tiled = append(tiled, v)
		}
	}
	sort.Slice(tiled, func(i, j int) bool { return tileIndexOf(tiled[i]) < tileIndexOf(tiled[j]) })

	n := len(tiled)
	for i, v := range tiled {
		idx := i
		v.TileIndex = &idx
		rect := tilingRectangle(m.workspace, m.tilingConfig, n, i)
		v.Bounds = rect
		v.Surface.SetBounds(rect)
	}
}

// loadFrontend points the surface at its entry document. It must be called
// without m.mu held: OnDidFinishLoad's callback (onDidFinishLoad) takes the
// lock itself, and some surfaces invoke it synchronously from Load.
func (m *Manager) loadFrontend(v *View) {
	v.Surface.OnDidFinishLoad(func() {
		m.onDidFinishLoad(v)
	})
	entry := v.Manifest.Frontend.Entry
	remote := v.Manifest.Frontend.IsRemote()
	if !remote && !filepath.IsAbs(entry) {
		entry = filepath.Join(v.InstallPath, entry)
	}
	_ = v.Surface.Load(entry, remote)
}

func (m *Manager) onDidFinishLoad(v *View) {
	level := cssLevelFull
	appFrame := true
	if v.Manifest.Window != nil {
		switch v.Manifest.Window.Injections.CSS {
		case manifest.CSSTokens:
			level = cssLevelTokens
		case manifest.CSSNone:
			level = cssLevelNone
		}
		if v.Manifest.Window.Injections.AppFrame != nil {
			appFrame = *v.Manifest.Window.Injections.AppFrame
		}
	}
	if css := m.css.get(level); css != "" {
		_ = v.Surface.InjectCSS(css)
	}
	if v.Type == TypeApp && appFrame {
		m.mu.Lock()
		bridgeURL := m.bridgeURL
		m.mu.Unlock()
		if bridgeURL != "" {
			_ = v.Surface.InjectScript(appFrameRuntimeJS(v.App, v.ID, bridgeURL))
		}
	}
	_ = v.Surface.PostMessage(bus.Frame{
		Type: "app-init-api",
		Payload: map[string]any{
			"app_id":          v.App,
			"channel":         "eden",
			"request_channel": "eden-request",
		},
	})

	m.mu.Lock()
	v.State = StateReady
	m.mu.Unlock()

	if m.events != nil {
		m.events.Notify("view/loaded", map[string]any{"view_id": v.ID, "app_id": v.App})
	}
}
