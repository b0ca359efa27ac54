// Package tiling computes workspace layout: given a workspace rectangle, a
// mode, and gap/padding/grid parameters, it returns the rectangle owned by
// a single tile index. It holds no state and touches no view; the view
// manager calls it on every layout pass.
package tiling

import "github.com/edenite/eden-host/internal/config"

// Rect is an axis-aligned rectangle in workspace coordinates.
type Rect struct {
	X, Y, W, H float64
}

// Mode mirrors config.TilingConfig.Mode as a typed value for switch safety.
type Mode string

const (
	None       Mode = config.ModeNone
	Horizontal Mode = config.ModeHorizontal
	Vertical   Mode = config.ModeVertical
	Grid       Mode = config.ModeGrid
)

// Params are the inputs to a single tile-rectangle computation.
type Params struct {
	Workspace    Rect
	Mode         Mode
	Gap          float64
	Padding      float64
	Columns      int
	Rows         int
	VisibleCount int
	TileIndex    int
}

// Rectangle returns the rectangle owned by p.TileIndex under p.Mode. It is a
// pure function: identical inputs always yield identical outputs.
func Rectangle(p Params) Rect {
	a := applyPadding(p.Workspace, p.Padding)

	if p.VisibleCount == 0 || p.Mode == None || p.Mode == "" {
		return a
	}

	switch p.Mode {
	case Horizontal:
		return horizontalRect(a, p.Gap, p.VisibleCount, p.TileIndex)
	case Vertical:
		return verticalRect(a, p.Gap, p.VisibleCount, p.TileIndex)
	case Grid:
		return gridRect(a, p.Gap, p.Columns, p.Rows, p.VisibleCount, p.TileIndex)
	default:
		return a
	}
}

func applyPadding(w Rect, padding float64) Rect {
	return Rect{
		X: w.X + padding,
		Y: w.Y + padding,
		W: max0(w.W - 2*padding),
		H: max0(w.H - 2*padding),
	}
}

func horizontalRect(a Rect, gap float64, n, i int) Rect {
	width := (a.W - gap*float64(n-1)) / float64(n)
	return Rect{
		X: a.X + float64(i)*(width+gap),
		Y: a.Y,
		W: width,
		H: a.H,
	}
}

func verticalRect(a Rect, gap float64, n, i int) Rect {
	height := (a.H - gap*float64(n-1)) / float64(n)
	return Rect{
		X: a.X,
		Y: a.Y + float64(i)*(height+gap),
		W: a.W,
		H: height,
	}
}

func gridRect(a Rect, gap float64, columns, rows, n, i int) Rect {
	if columns <= 0 {
		columns = 1
	}
	if rows <= 0 {
		rows = 1
	}
	col := i % columns
	row := i / columns

	width := (a.W - gap*float64(columns-1)) / float64(columns)
	height := (a.H - gap*float64(rows-1)) / float64(rows)
	return Rect{
		X: a.X + float64(col)*(width+gap),
		Y: a.Y + float64(row)*(height+gap),
		W: width,
		H: height,
	}
}

func max0(v float64) float64 {
	if v < 0 {
		return 0
	}
	return v
}
