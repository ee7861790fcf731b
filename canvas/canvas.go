// Package canvas declares the rendering capability the engine drives: a
// declarative node/edge list going out, and pointer/selection/structural
// events coming back. Implementations own the actual drawing; the engine
// never touches rendering primitives.
package canvas

import (
	"github.com/reqlab/blockcanvas/lib/geo"
	"github.com/reqlab/blockcanvas/model"
	"github.com/reqlab/blockcanvas/style"
)

// Node is the transient visual projection of a block. It is derived from the
// domain model on every reconciliation pass and never persisted.
type Node struct {
	ID string `json:"id"`

	Pos    geo.Point `json:"pos"`
	Width  float64   `json:"width"`
	Height float64   `json:"height"`

	Name       string     `json:"name"`
	Kind       model.Kind `json:"kind"`
	Stereotype string     `json:"stereotype,omitempty"`

	Fill      string  `json:"fill"`
	Stroke    string  `json:"stroke"`
	TextColor string  `json:"textColor"`
	FontSize  float64 `json:"fontSize"`

	Ports []Port `json:"ports,omitempty"`

	Selected bool `json:"selected"`
	Dragging bool `json:"dragging"`
}

// Port is a node's resolved attachment point: edge and offset are always
// concrete here, even when the domain port leaves them implicit.
type Port struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Direction model.Direction `json:"direction"`
	Edge      model.Edge      `json:"edge"`
	Offset    float64         `json:"offset"`
	Shape     string          `json:"shape"`
	Size      float64         `json:"size"`
	Color     string          `json:"color"`
}

// Edge is the transient visual projection of a connector.
type Edge struct {
	ID     string `json:"id"`
	Source string `json:"source"`
	Target string `json:"target"`

	SourceHandle string `json:"sourceHandle,omitempty"`
	TargetHandle string `json:"targetHandle,omitempty"`

	Label string         `json:"label,omitempty"`
	Style style.Resolved `json:"style"`

	Selected bool `json:"selected"`
}

// Equal reports whether two nodes are observably identical. Reconciliation
// reuses the previous object when nothing differs so surfaces keying on
// object identity skip unaffected nodes.
func (n *Node) Equal(o *Node) bool {
	if n == nil || o == nil {
		return n == o
	}
	if n.ID != o.ID ||
		n.Pos != o.Pos ||
		n.Width != o.Width || n.Height != o.Height ||
		n.Name != o.Name || n.Kind != o.Kind || n.Stereotype != o.Stereotype ||
		n.Fill != o.Fill || n.Stroke != o.Stroke || n.TextColor != o.TextColor ||
		n.FontSize != o.FontSize ||
		n.Selected != o.Selected || n.Dragging != o.Dragging {
		return false
	}
	if len(n.Ports) != len(o.Ports) {
		return false
	}
	for i := range n.Ports {
		if n.Ports[i] != o.Ports[i] {
			return false
		}
	}
	return true
}

func (e *Edge) Equal(o *Edge) bool {
	if e == nil || o == nil {
		return e == o
	}
	return *e == *o
}

// Surface renders declarative node/edge lists. Render is called on every
// reconciliation pass; implementations may compare object identity against
// the previous call to skip untouched entities.
type Surface interface {
	Render(nodes []*Node, edges []*Edge)
}

// SurfaceFunc adapts a plain function into a Surface.
type SurfaceFunc func(nodes []*Node, edges []*Edge)

func (f SurfaceFunc) Render(nodes []*Node, edges []*Edge) { f(nodes, edges) }

// Target identifies what was under the pointer on a secondary activation.
type Target string

const (
	TargetCanvas Target = "canvas"
	TargetNode   Target = "node"
	TargetEdge   Target = "edge"
)

// Handler receives the surface's events. The engine implements this; surfaces
// invoke it from their event loops.
type Handler interface {
	// NodeDragged reports an in-flight position while settled is false, and
	// the final position once the pointer is released.
	NodeDragged(id string, pos *geo.Point, settled bool)

	NodeResized(id string, width, height float64)

	// PortDragged reports pointer positions in world coordinates while a port
	// is dragged along its block's perimeter.
	PortDragged(blockID, portID string, pointer *geo.Point, settled bool)

	// Connected fires when the user draws a connection; handles are port ids
	// and may be empty for block-to-block connections.
	Connected(srcID, dstID, srcHandle, dstHandle string)

	SelectionChanged(nodeIDs, edgeIDs []string)

	// ContextMenu fires on secondary activation. World coordinates are
	// required so new blocks land under the pointer regardless of pan/zoom.
	ContextMenu(target Target, targetID string, screen, world *geo.Point)

	// MenuDismissed fires on any left-click, scroll, or Escape.
	MenuDismissed()
}
