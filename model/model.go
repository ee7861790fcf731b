// Package model holds the persisted domain entities of a diagram: blocks,
// ports, and connectors, scoped to one tenant/project/diagram.
package model

import (
	"strings"

	"oss.terrastruct.com/util-go/go2"

	"github.com/reqlab/blockcanvas/lib/geo"
)

const (
	MIN_BLOCK_WIDTH  = 80.
	MIN_BLOCK_HEIGHT = 60.

	DEFAULT_BLOCK_WIDTH  = 220.
	DEFAULT_BLOCK_HEIGHT = 140.

	// Ports are kept visibly off block corners.
	PORT_OFFSET_MIN = 5.
	PORT_OFFSET_MAX = 95.

	DEFAULT_PORT_SIZE = 10.
)

type Kind string

const (
	KindSystem    Kind = "system"
	KindSubsystem Kind = "subsystem"
	KindComponent Kind = "component"
	KindActor     Kind = "actor"
	KindExternal  Kind = "external"
	KindInterface Kind = "interface"
)

var Kinds = []Kind{
	KindSystem,
	KindSubsystem,
	KindComponent,
	KindActor,
	KindExternal,
	KindInterface,
}

func IsKind(s string) bool {
	for _, k := range Kinds {
		if strings.EqualFold(s, string(k)) {
			return true
		}
	}
	return false
}

type Direction string

const (
	DirectionIn    Direction = "in"
	DirectionOut   Direction = "out"
	DirectionInOut Direction = "inout"
)

var Directions = []Direction{DirectionIn, DirectionOut, DirectionInOut}

type Edge string

const (
	EdgeTop    Edge = "top"
	EdgeRight  Edge = "right"
	EdgeBottom Edge = "bottom"
	EdgeLeft   Edge = "left"
)

var Edges = []Edge{EdgeTop, EdgeRight, EdgeBottom, EdgeLeft}

type ConnectorKind string

const (
	KindAssociation ConnectorKind = "association"
	KindFlow        ConnectorKind = "flow"
	KindDependency  ConnectorKind = "dependency"
	KindComposition ConnectorKind = "composition"
)

var ConnectorKinds = []ConnectorKind{
	KindAssociation,
	KindFlow,
	KindDependency,
	KindComposition,
}

func IsConnectorKind(s string) bool {
	for _, k := range ConnectorKinds {
		if strings.EqualFold(s, string(k)) {
			return true
		}
	}
	return false
}

// BlockStyle carries per-block visual overrides. Nil means "use the kind
// default".
type BlockStyle struct {
	Background *string  `json:"background,omitempty"`
	Border     *string  `json:"border,omitempty"`
	TextColor  *string  `json:"textColor,omitempty"`
	FontSize   *float64 `json:"fontSize,omitempty"`
}

type Block struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Kind        Kind   `json:"kind"`
	Stereotype  string `json:"stereotype,omitempty"`
	Description string `json:"description,omitempty"`

	Pos    geo.Point `json:"pos"`
	Width  float64   `json:"width"`
	Height float64   `json:"height"`

	Ports []Port `json:"ports,omitempty"`

	DocumentRefs []string `json:"documentRefs,omitempty"`

	Style BlockStyle `json:"style"`
}

func (b *Block) SetKind(k string) {
	b.Kind = Kind(strings.ToLower(k))
}

// ClampSize enforces the minimum block size floor.
func (b *Block) ClampSize() {
	b.Width = go2.Max(b.Width, MIN_BLOCK_WIDTH)
	b.Height = go2.Max(b.Height, MIN_BLOCK_HEIGHT)
}

func (b *Block) Box() *geo.Box {
	return geo.NewBox(geo.NewPoint(b.Pos.X, b.Pos.Y), b.Width, b.Height)
}

func (b *Block) Port(id string) *Port {
	for i := range b.Ports {
		if b.Ports[i].ID == id {
			return &b.Ports[i]
		}
	}
	return nil
}

func BaseBlock() *Block {
	return &Block{
		Kind:   KindComponent,
		Width:  DEFAULT_BLOCK_WIDTH,
		Height: DEFAULT_BLOCK_HEIGHT,
	}
}

// Port is a named, directional attachment point on a block's perimeter.
// Edge and Offset are nil until the user places the port explicitly; until
// then they are derived from Direction at render time.
type Port struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Direction Direction `json:"direction"`

	Edge   *Edge    `json:"edge,omitempty"`
	Offset *float64 `json:"offset,omitempty"`

	Shape *string  `json:"shape,omitempty"`
	Size  *float64 `json:"size,omitempty"`
	Color *string  `json:"color,omitempty"`
}

// ClampOffset keeps an explicit offset inside [PORT_OFFSET_MIN, PORT_OFFSET_MAX].
func ClampOffset(v float64) float64 {
	return geo.Clamp(v, PORT_OFFSET_MIN, PORT_OFFSET_MAX)
}

type Connector struct {
	ID string `json:"id"`

	Src     string `json:"src"`
	SrcPort string `json:"srcPort,omitempty"`
	Dst     string `json:"dst"`
	DstPort string `json:"dstPort,omitempty"`

	Kind  ConnectorKind `json:"kind"`
	Label string        `json:"label,omitempty"`

	// Visual overrides; nil means the kind default applies.
	LineStyle   *string  `json:"lineStyle,omitempty"`
	LinePattern *string  `json:"linePattern,omitempty"`
	MarkerStart *string  `json:"markerStart,omitempty"`
	MarkerEnd   *string  `json:"markerEnd,omitempty"`
	Stroke      *string  `json:"stroke,omitempty"`
	StrokeWidth *float64 `json:"strokeWidth,omitempty"`

	DocumentRefs []string `json:"documentRefs,omitempty"`
}

func BaseConnector() *Connector {
	return &Connector{
		Kind: KindAssociation,
	}
}

// References reports whether the connector touches the given block as source
// or target.
func (c *Connector) References(blockID string) bool {
	return c.Src == blockID || c.Dst == blockID
}

type Diagram struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	View        string `json:"view"`
}
