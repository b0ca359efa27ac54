package view

import "github.com/edenite/eden-host/internal/manifest"

const floatingCascadeOffset = 30

// DetermineViewMode decides a new view's placement mode: an explicit
// floating/tiled request is literal; "both" or no window block follow
// whether tiling is enabled.
func DetermineViewMode(win *manifest.Window, tilingEnabled bool) Mode {
	if win == nil || win.Mode == "" {
		if tilingEnabled {
			return ModeTiled
		}
		return ModeFloating
	}
	switch win.Mode {
	case manifest.ModeFloating:
		return ModeFloating
	case manifest.ModeTiled:
		return ModeTiled
	case manifest.ModeBoth:
		if tilingEnabled {
			return ModeTiled
		}
		return ModeFloating
	default:
		if tilingEnabled {
			return ModeTiled
		}
		return ModeFloating
	}
}

// modeRestriction reports whether the manifest's window.mode forbids the
// given target mode — used to reject mode changes on restricted views.
func modeRestriction(win *manifest.Window, target Mode) bool {
	if win == nil {
		return false
	}
	switch win.Mode {
	case manifest.ModeFloating:
		return target == ModeTiled
	case manifest.ModeTiled:
		return target == ModeFloating
	default:
		return false
	}
}

// floatingBounds computes a floating view's initial rectangle: manifest
// defaults, clamped into [minSize,maxSize], centered in the workspace when
// no defaultPosition is given, cascaded by 30px per already-floating view.
func floatingBounds(win *manifest.Window, workspace Bounds, floatingCount int) Bounds {
	width, height := 800.0, 600.0
	if win != nil && win.DefaultSize != nil {
		width, height = win.DefaultSize.Width, win.DefaultSize.Height
	}
	width, height = clampSize(win, width, height)

	var x, y float64
	if win != nil && win.DefaultPosition != nil {
		x, y = win.DefaultPosition.X, win.DefaultPosition.Y
	} else {
		x = workspace.X + (workspace.W-width)/2
		y = workspace.Y + (workspace.H-height)/2
	}

	offset := float64(floatingCount) * floatingCascadeOffset
	x += offset
	y += offset

	return Bounds{X: x, Y: y, W: width, H: height}
}

func clampSize(win *manifest.Window, width, height float64) (float64, float64) {
	if win == nil {
		return width, height
	}
	if win.MinSize != nil {
		if width < win.MinSize.Width {
			width = win.MinSize.Width
		}
		if height < win.MinSize.Height {
			height = win.MinSize.Height
		}
	}
	if win.MaxSize != nil {
		if win.MaxSize.Width > 0 && width > win.MaxSize.Width {
			width = win.MaxSize.Width
		}
		if win.MaxSize.Height > 0 && height > win.MaxSize.Height {
			height = win.MaxSize.Height
		}
	}
	return width, height
}

// clampFloatingBounds re-applies manifest min/max constraints to an
// explicit bounds update on a floating app view.
func clampFloatingBounds(win *manifest.Window, b Bounds) Bounds {
	w, h := clampSize(win, b.W, b.H)
	return Bounds{X: b.X, Y: b.Y, W: w, H: h}
}
