// Package style resolves a connector's visual style from its kind plus
// optional per-connector overrides. Resolution is total: bad overrides are
// treated as absent, never surfaced as errors.
package style

import (
	"fmt"
	"strings"

	"github.com/reqlab/blockcanvas/lib/color"
	"github.com/reqlab/blockcanvas/model"
)

type Routing string

const (
	RoutingStraight   Routing = "straight"
	RoutingCurved     Routing = "curved"
	RoutingOrthogonal Routing = "orthogonal"
)

var Routings = []Routing{RoutingStraight, RoutingCurved, RoutingOrthogonal}

type Pattern string

const (
	PatternSolid  Pattern = "solid"
	PatternDashed Pattern = "dashed"
	PatternDotted Pattern = "dotted"
)

var Patterns = []Pattern{PatternSolid, PatternDashed, PatternDotted}

type Marker string

const (
	MarkerNone           Marker = "none"
	MarkerArrow          Marker = "arrow"
	MarkerTriangle       Marker = "triangle"
	MarkerFilledTriangle Marker = "filled-triangle"
	MarkerDiamond        Marker = "diamond"
	MarkerFilledDiamond  Marker = "filled-diamond"
	MarkerCircle         Marker = "circle"
	MarkerFilledCircle   Marker = "filled-circle"
)

var Markers = []Marker{
	MarkerNone,
	MarkerArrow,
	MarkerTriangle,
	MarkerFilledTriangle,
	MarkerDiamond,
	MarkerFilledDiamond,
	MarkerCircle,
	MarkerFilledCircle,
}

func (m Marker) IsFilled() bool {
	return m == MarkerFilledTriangle || m == MarkerFilledDiamond || m == MarkerFilledCircle
}

const (
	COLOR_FLOW        = "#4E7CF6"
	COLOR_DEPENDENCY  = "#30363D"
	COLOR_COMPOSITION = "#8250DF"
	COLOR_ASSOCIATION = "#8B949E"

	DEFAULT_STROKE_WIDTH     = 2.
	COMPOSITION_STROKE_WIDTH = 3.
)

// Resolved is a fully specified connector style. All fields are set; the
// struct is comparable so reconciliation can cheaply detect changes.
type Resolved struct {
	Routing     Routing `json:"routing"`
	Animated    bool    `json:"animated"`
	Stroke      string  `json:"stroke"`
	StrokeWidth float64 `json:"strokeWidth"`
	Pattern     Pattern `json:"pattern"`
	MarkerStart Marker  `json:"markerStart"`
	MarkerEnd   Marker  `json:"markerEnd"`
}

// DashArray renders the pattern as an SVG stroke-dasharray, scaled by stroke
// width so thicker connectors keep proportionate gaps.
func (r Resolved) DashArray() string {
	switch r.Pattern {
	case PatternDashed:
		return fmt.Sprintf("%.0f,%.0f", r.StrokeWidth*4, r.StrokeWidth*2)
	case PatternDotted:
		return fmt.Sprintf("%.0f,%.0f", r.StrokeWidth, r.StrokeWidth*2)
	default:
		return ""
	}
}

func kindDefault(kind model.ConnectorKind) Resolved {
	switch kind {
	case model.KindFlow:
		return Resolved{
			Routing:     RoutingCurved,
			Animated:    true,
			Stroke:      COLOR_FLOW,
			StrokeWidth: DEFAULT_STROKE_WIDTH,
			Pattern:     PatternSolid,
			MarkerStart: MarkerNone,
			MarkerEnd:   MarkerArrow,
		}
	case model.KindDependency:
		return Resolved{
			Routing:     RoutingStraight,
			Stroke:      COLOR_DEPENDENCY,
			StrokeWidth: DEFAULT_STROKE_WIDTH,
			Pattern:     PatternDashed,
			MarkerStart: MarkerNone,
			MarkerEnd:   MarkerArrow,
		}
	case model.KindComposition:
		return Resolved{
			Routing:     RoutingStraight,
			Stroke:      COLOR_COMPOSITION,
			StrokeWidth: COMPOSITION_STROKE_WIDTH,
			Pattern:     PatternSolid,
			MarkerStart: MarkerFilledDiamond,
			MarkerEnd:   MarkerFilledTriangle,
		}
	default: // association, and anything unrecognized
		return Resolved{
			Routing:     RoutingStraight,
			Stroke:      COLOR_ASSOCIATION,
			StrokeWidth: DEFAULT_STROKE_WIDTH,
			Pattern:     PatternDotted,
			MarkerStart: MarkerNone,
			MarkerEnd:   MarkerNone,
		}
	}
}

// ResolveConnector maps a connector to its fully resolved style. Per field:
// explicit valid override wins, otherwise the kind default. Resolving a fully
// specified connector returns exactly its explicit values, so the function is
// idempotent.
func ResolveConnector(c *model.Connector) Resolved {
	r := kindDefault(c.Kind)

	if v, ok := parseRouting(c.LineStyle); ok {
		r.Routing = v
		// Animation is a property of the flow default's curved routing; an
		// explicit routing override carries no animation of its own.
		if v != RoutingCurved {
			r.Animated = false
		}
	}
	if v, ok := parsePattern(c.LinePattern); ok {
		r.Pattern = v
	}
	if v, ok := parseMarker(c.MarkerStart); ok {
		r.MarkerStart = v
	}
	if v, ok := parseMarker(c.MarkerEnd); ok {
		r.MarkerEnd = v
	}
	if c.Stroke != nil && color.Valid(*c.Stroke) {
		r.Stroke = *c.Stroke
	}
	if c.StrokeWidth != nil && *c.StrokeWidth > 0 {
		r.StrokeWidth = *c.StrokeWidth
	}
	return r
}

// SelectionStroke derives the emphasized stroke for a selected connector.
func SelectionStroke(stroke string) string {
	darkened, err := color.Darken(stroke)
	if err != nil {
		return stroke
	}
	return darkened
}

func parseRouting(s *string) (Routing, bool) {
	if s == nil {
		return "", false
	}
	for _, r := range Routings {
		if strings.EqualFold(*s, string(r)) {
			return r, true
		}
	}
	return "", false
}

func parsePattern(s *string) (Pattern, bool) {
	if s == nil {
		return "", false
	}
	for _, p := range Patterns {
		if strings.EqualFold(*s, string(p)) {
			return p, true
		}
	}
	return "", false
}

func parseMarker(s *string) (Marker, bool) {
	if s == nil {
		return "", false
	}
	for _, m := range Markers {
		if strings.EqualFold(*s, string(m)) {
			return m, true
		}
	}
	return "", false
}
