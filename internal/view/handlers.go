package view

import (
	"context"

	"github.com/edenite/eden-host/internal/bus"
	"github.com/edenite/eden-host/internal/edenerr"
)

// CommandHandlers implements bus.Manager, exposing the "view/*" command
// namespace. The command bus is built before the manager and handed a
// reference afterward, so registration happens at host wiring time rather
// than in NewManager.
func (m *Manager) CommandHandlers() []bus.HandlerSpec {
	return []bus.HandlerSpec{
		{Namespace: "view", Action: "list", Invoke: m.handleList},
		{Namespace: "view", Action: "set-bounds", Invoke: m.handleSetBounds},
		{Namespace: "view", Action: "show", Invoke: m.handleShow},
		{Namespace: "view", Action: "hide", Invoke: m.handleHide},
		{Namespace: "view", Action: "set-mode", Invoke: m.handleSetMode},
		{Namespace: "view", Action: "bring-to-front", Invoke: m.handleBringToFront},
		{Namespace: "view", Action: "send-to-back", Invoke: m.handleSendToBack},
		{Namespace: "view", Action: "set-z-order", Invoke: m.handleSetZOrder},
	}
}

// viewIDArg pulls "view_id" out of a command's argument bag. JSON numbers
// arrive as float64 from the bridge; in-process callers may pass native
// integer types.
func viewIDArg(args bus.Args) (uint32, error) {
	switch v := args["view_id"].(type) {
	case float64:
		if v < 0 {
			return 0, edenerr.New(edenerr.BadFormat, "view_id must not be negative")
		}
		return uint32(v), nil
	case int:
		return uint32(v), nil
	case uint32:
		return v, nil
	default:
		return 0, edenerr.New(edenerr.BadFormat, "view_id is required")
	}
}

func numberArg(args bus.Args, key string) (float64, bool) {
	switch v := args[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	default:
		return 0, false
	}
}

func (m *Manager) handleList(_ context.Context, _ bus.Args) (any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]map[string]any, 0, len(m.views))
	for _, id := range m.childOrderLocked() {
		v := m.views[id]
		entry := map[string]any{
			"view_id": v.ID,
			"app_id":  v.App,
			"type":    string(v.Type),
			"mode":    string(v.Mode),
			"visible": v.Visible,
			"bounds":  map[string]any{"x": v.Bounds.X, "y": v.Bounds.Y, "w": v.Bounds.W, "h": v.Bounds.H},
		}
		if v.TileIndex != nil {
			entry["tile_index"] = *v.TileIndex
		}
		if v.ZIndex != nil {
			entry["z_index"] = *v.ZIndex
		}
		out = append(out, entry)
	}
	return out, nil
}

func (m *Manager) handleSetBounds(_ context.Context, args bus.Args) (any, error) {
	id, err := viewIDArg(args)
	if err != nil {
		return nil, err
	}
	var b Bounds
	var ok bool
	if b.X, ok = numberArg(args, "x"); !ok {
		return nil, edenerr.New(edenerr.BadFormat, "x is required")
	}
	if b.Y, ok = numberArg(args, "y"); !ok {
		return nil, edenerr.New(edenerr.BadFormat, "y is required")
	}
	if b.W, ok = numberArg(args, "w"); !ok {
		return nil, edenerr.New(edenerr.BadFormat, "w is required")
	}
	if b.H, ok = numberArg(args, "h"); !ok {
		return nil, edenerr.New(edenerr.BadFormat, "h is required")
	}
	if err := m.SetBounds(id, b); err != nil {
		return nil, err
	}
	return map[string]any{"view_id": id}, nil
}

func (m *Manager) handleShow(_ context.Context, args bus.Args) (any, error) {
	id, err := viewIDArg(args)
	if err != nil {
		return nil, err
	}
	if err := m.Show(id); err != nil {
		return nil, err
	}
	return map[string]any{"view_id": id}, nil
}

func (m *Manager) handleHide(_ context.Context, args bus.Args) (any, error) {
	id, err := viewIDArg(args)
	if err != nil {
		return nil, err
	}
	if err := m.Hide(id); err != nil {
		return nil, err
	}
	return map[string]any{"view_id": id}, nil
}

func (m *Manager) handleSetMode(_ context.Context, args bus.Args) (any, error) {
	id, err := viewIDArg(args)
	if err != nil {
		return nil, err
	}
	var target *Mode
	switch raw, _ := args["mode"].(string); raw {
	case "":
		// absent mode toggles
	case "floating", string(ModeFloating):
		mode := ModeFloating
		target = &mode
	case "tiled", string(ModeTiled):
		mode := ModeTiled
		target = &mode
	default:
		return nil, edenerr.New(edenerr.BadFormat, "mode must be floating or tiled")
	}
	if err := m.SetViewMode(id, target); err != nil {
		return nil, err
	}
	return map[string]any{"view_id": id}, nil
}

func (m *Manager) handleBringToFront(_ context.Context, args bus.Args) (any, error) {
	id, err := viewIDArg(args)
	if err != nil {
		return nil, err
	}
	if err := m.BringToFront(id); err != nil {
		return nil, err
	}
	return map[string]any{"view_id": id}, nil
}

func (m *Manager) handleSendToBack(_ context.Context, args bus.Args) (any, error) {
	id, err := viewIDArg(args)
	if err != nil {
		return nil, err
	}
	if err := m.SendToBack(id); err != nil {
		return nil, err
	}
	return map[string]any{"view_id": id}, nil
}

func (m *Manager) handleSetZOrder(_ context.Context, args bus.Args) (any, error) {
	id, err := viewIDArg(args)
	if err != nil {
		return nil, err
	}
	z, ok := numberArg(args, "z_index")
	if !ok || z < 0 {
		return nil, edenerr.New(edenerr.BadFormat, "z_index is required")
	}
	if err := m.SetZOrder(id, uint32(z)); err != nil {
		return nil, err
	}
	return map[string]any{"view_id": id}, nil
}
