// Package geometry computes block placement and port edge attachment from raw
// pointer coordinates.
package geometry

import (
	"math"
	"math/rand"

	"github.com/reqlab/blockcanvas/lib/geo"
	"github.com/reqlab/blockcanvas/model"
)

const (
	PLACEMENT_BASE_X = 100.
	PLACEMENT_BASE_Y = 100.
	PLACEMENT_STEP   = 40.
	PLACEMENT_JITTER = 8.

	// A port being dragged only switches edges when another edge beats the
	// current one by more than HYSTERESIS_MARGIN, or the pointer has pulled
	// further than HYSTERESIS_BREAKAWAY from the current edge. Prevents
	// flapping near corners.
	HYSTERESIS_MARGIN    = 8.
	HYSTERESIS_BREAKAWAY = 64.
)

// PlaceNewBlock returns the top-left position for the n-th block added to a
// diagram: stepped diagonally from the previous one, with a little jitter so
// repeated adds never stack exactly.
func PlaceNewBlock(count int) *geo.Point {
	step := float64(count) * PLACEMENT_STEP
	return geo.NewPoint(
		PLACEMENT_BASE_X+step+jitter(),
		PLACEMENT_BASE_Y+step+jitter(),
	)
}

func jitter() float64 {
	return (rand.Float64()*2 - 1) * PLACEMENT_JITTER
}

// EdgeDistances holds the pointer's distance to each edge of a block's
// bounding box.
type EdgeDistances struct {
	Top    float64
	Right  float64
	Bottom float64
	Left   float64
}

func DistancesTo(box *geo.Box, pointer *geo.Point) EdgeDistances {
	return EdgeDistances{
		Top:    math.Abs(pointer.Y - box.TopLeft.Y),
		Right:  math.Abs(pointer.X - (box.TopLeft.X + box.Width)),
		Bottom: math.Abs(pointer.Y - (box.TopLeft.Y + box.Height)),
		Left:   math.Abs(pointer.X - box.TopLeft.X),
	}
}

func (d EdgeDistances) Of(e model.Edge) float64 {
	switch e {
	case model.EdgeTop:
		return d.Top
	case model.EdgeRight:
		return d.Right
	case model.EdgeBottom:
		return d.Bottom
	default:
		return d.Left
	}
}

// Nearest returns the edge closest to the pointer. Ties resolve in the fixed
// order top, right, bottom, left so the result is deterministic.
func (d EdgeDistances) Nearest() model.Edge {
	nearest := model.EdgeTop
	for _, e := range []model.Edge{model.EdgeRight, model.EdgeBottom, model.EdgeLeft} {
		if d.Of(e) < d.Of(nearest) {
			nearest = e
		}
	}
	return nearest
}

// Offset projects the pointer onto the given edge and returns its percentage
// position along it, clamped to the port offset bounds.
func Offset(box *geo.Box, pointer *geo.Point, edge model.Edge) float64 {
	var pct float64
	switch edge {
	case model.EdgeTop, model.EdgeBottom:
		pct = box.XPercent(pointer)
	default:
		pct = box.YPercent(pointer)
	}
	return model.ClampOffset(pct)
}

// DefaultEdge derives an edge for a port that has never been placed: inputs
// hang on the left, outputs on the right, bidirectional ports on the bottom.
func DefaultEdge(d model.Direction) model.Edge {
	switch d {
	case model.DirectionIn:
		return model.EdgeLeft
	case model.DirectionOut:
		return model.EdgeRight
	default:
		return model.EdgeBottom
	}
}

// DragState tracks one port's edge assignment across a continuous drag.
// The zero value means no edge has been assigned yet.
type DragState struct {
	Edge model.Edge
}

// Resolve assigns an edge and offset for the pointer position. The first call
// of a drag snaps to the nearest edge; subsequent calls apply hysteresis
// against the previously assigned edge.
func (s *DragState) Resolve(box *geo.Box, pointer *geo.Point) (model.Edge, float64) {
	d := DistancesTo(box, pointer)
	nearest := d.Nearest()

	if s.Edge == "" {
		s.Edge = nearest
	} else if nearest != s.Edge {
		current := d.Of(s.Edge)
		if d.Of(nearest) < current-HYSTERESIS_MARGIN || current > HYSTERESIS_BREAKAWAY {
			s.Edge = nearest
		}
	}

	return s.Edge, Offset(box, pointer, s.Edge)
}
