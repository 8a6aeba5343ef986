// Package heatmap folds raw spatial events into fixed-resolution, mergeable
// cell grids per dimension (click, move, scroll, attention).
package heatmap

import (
	"sort"
	"time"

	"formpulse-backend/internal/models"
)

// Grid resolution is fixed regardless of viewport size.
const (
	GridWidth  = 100
	GridHeight = 100
)

// DwellThreshold is the minimum gap between consecutive move samples for the
// visitor to count as resting rather than moving.
const DwellThreshold = 500 * time.Millisecond

// Breakpoint classifies a viewport width the same way everywhere a
// breakpoint decision is needed.
func Breakpoint(viewportWidth int) string {
	switch {
	case viewportWidth < 768:
		return models.DeviceMobile
	case viewportWidth < 1024:
		return models.DeviceTablet
	default:
		return models.DeviceDesktop
	}
}

type cellKey struct{ x, y int }

// Grid accumulates counts per cell. The zero value is not usable; call New.
type Grid struct {
	cells  map[cellKey]int
	width  int
	height int
}

func New() *Grid {
	return NewSized(GridWidth, GridHeight)
}

func NewSized(width, height int) *Grid {
	return &Grid{
		cells:  make(map[cellKey]int),
		width:  width,
		height: height,
	}
}

// normalize maps a raw coordinate into [0, gridDim) for the given viewport
// dimension.
func normalize(coord, viewportDim, gridDim int) int {
	if viewportDim <= 0 {
		return 0
	}
	cell := coord * gridDim / viewportDim
	if cell < 0 {
		return 0
	}
	if cell >= gridDim {
		return gridDim - 1
	}
	return cell
}

// Add credits a cell derived from raw viewport coordinates.
func (g *Grid) Add(x, y, viewportWidth, viewportHeight, weight int) {
	if weight <= 0 {
		return
	}
	key := cellKey{
		x: normalize(x, viewportWidth, g.width),
		y: normalize(y, viewportHeight, g.height),
	}
	g.cells[key] += weight
}

// AddScrollDepth represents a scroll sample with x fixed at the nominal
// midpoint and y as depth percentage.
func (g *Grid) AddScrollDepth(depthPercent int) {
	if depthPercent < 0 {
		depthPercent = 0
	}
	if depthPercent > 100 {
		depthPercent = 100
	}
	y := depthPercent * g.height / 100
	if y >= g.height {
		y = g.height - 1
	}
	g.cells[cellKey{x: g.width / 2, y: y}]++
}

// FromEvents builds a grid of the given heatmap type from raw spatial events.
func FromEvents(heatmapType string, events []models.SpatialEvent, viewportWidth, viewportHeight int) *Grid {
	g := New()
	switch heatmapType {
	case models.HeatmapClick:
		for _, ev := range events {
			if ev.Type == models.HeatmapClick {
				g.Add(ev.X, ev.Y, viewportWidth, viewportHeight, 1)
			}
		}
	case models.HeatmapMove:
		for _, ev := range events {
			if ev.Type == models.HeatmapMove {
				g.Add(ev.X, ev.Y, viewportWidth, viewportHeight, 1)
			}
		}
	case models.HeatmapScroll:
		for _, ev := range events {
			if ev.Type != models.HeatmapScroll {
				continue
			}
			if viewportHeight > 0 {
				g.AddScrollDepth(ev.Y * 100 / viewportHeight)
			}
		}
	case models.HeatmapAttention:
		g.addAttention(events, viewportWidth, viewportHeight)
	}
	return g
}

// addAttention derives dwell weight from movement events: for each
// consecutive pair whose gap is at least the dwell threshold, the earlier
// point's cell is credited with the dwell time in whole seconds. Short gaps
// contribute nothing; the visitor was moving, not resting.
func (g *Grid) addAttention(events []models.SpatialEvent, viewportWidth, viewportHeight int) {
	moves := make([]models.SpatialEvent, 0, len(events))
	for _, ev := range events {
		if ev.Type == models.HeatmapMove {
			moves = append(moves, ev)
		}
	}
	sort.SliceStable(moves, func(i, j int) bool { return moves[i].TimestampMs < moves[j].TimestampMs })

	for i := 0; i+1 < len(moves); i++ {
		gap := moves[i+1].TimestampMs - moves[i].TimestampMs
		if gap < DwellThreshold.Milliseconds() {
			continue
		}
		seconds := int(gap / 1000)
		if seconds < 1 {
			seconds = 1
		}
		g.Add(moves[i].X, moves[i].Y, viewportWidth, viewportHeight, seconds)
	}
}

// FromData rebuilds an accumulator from a persisted grid. Out-of-range
// points are dropped rather than trusted.
func FromData(data models.GridData) *Grid {
	width, height := data.Width, data.Height
	if width <= 0 || height <= 0 {
		width, height = GridWidth, GridHeight
	}
	g := NewSized(width, height)
	for _, p := range data.Points {
		if p.X < 0 || p.X >= width || p.Y < 0 || p.Y >= height || p.Count <= 0 {
			continue
		}
		g.cells[cellKey{x: p.X, y: p.Y}] += p.Count
	}
	return g
}

// Merge sums another grid of matching scope into this one cell by cell.
// Missing cells in either input count as zero.
func (g *Grid) Merge(other *Grid) {
	if other == nil {
		return
	}
	for key, count := range other.cells {
		g.cells[key] += count
	}
}

// Downsample maps every cell to floor(coord/factor) in a new smaller grid,
// summing contributions that land in the same target cell.
func (g *Grid) Downsample(factor int) *Grid {
	if factor <= 1 {
		return g
	}
	out := NewSized((g.width+factor-1)/factor, (g.height+factor-1)/factor)
	for key, count := range g.cells {
		out.cells[cellKey{x: key.x / factor, y: key.y / factor}] += count
	}
	return out
}

// Threshold drops cells below the minimum count. MaxCount is recomputed from
// the survivors by Data, never reused from before the filter.
func (g *Grid) Threshold(minCount int) *Grid {
	if minCount <= 1 {
		return g
	}
	out := NewSized(g.width, g.height)
	for key, count := range g.cells {
		if count >= minCount {
			out.cells[key] = count
		}
	}
	return out
}

// Data serializes the grid for persistence or display, with points ordered
// deterministically and maxCount recomputed from the cells.
func (g *Grid) Data() models.GridData {
	points := make([]models.GridPoint, 0, len(g.cells))
	maxCount := 0
	for key, count := range g.cells {
		points = append(points, models.GridPoint{X: key.x, Y: key.y, Count: count})
		if count > maxCount {
			maxCount = count
		}
	}
	sort.Slice(points, func(i, j int) bool {
		if points[i].Y != points[j].Y {
			return points[i].Y < points[j].Y
		}
		return points[i].X < points[j].X
	})
	return models.GridData{
		Points:   points,
		Width:    g.width,
		Height:   g.height,
		MaxCount: maxCount,
	}
}

// CellCount returns the number of non-empty cells.
func (g *Grid) CellCount() int {
	return len(g.cells)
}
