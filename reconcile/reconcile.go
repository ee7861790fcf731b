// Package reconcile recomputes the canvas's declarative node/edge lists from
// the authoritative domain snapshot plus local interaction state.
//
// The dominant invariant is identity stability: a visual object whose
// observable fields did not change between passes is returned by identity, so
// a surface reacting only to identity changes never re-renders unaffected
// entities while one block is dragged.
package reconcile

import (
	"github.com/reqlab/blockcanvas/canvas"
	"github.com/reqlab/blockcanvas/geometry"
	"github.com/reqlab/blockcanvas/lib/geo"
	"github.com/reqlab/blockcanvas/model"
	"github.com/reqlab/blockcanvas/style"
)

// Snapshot is the domain model of the active diagram as last read from the
// store. A nil Diagram means the diagram disappeared while open.
type Snapshot struct {
	Diagram    *model.Diagram
	Blocks     []model.Block
	Connectors []model.Connector
}

func (s Snapshot) Block(id string) *model.Block {
	for i := range s.Blocks {
		if s.Blocks[i].ID == id {
			return &s.Blocks[i]
		}
	}
	return nil
}

func (s Snapshot) Connector(id string) *model.Connector {
	for i := range s.Connectors {
		if s.Connectors[i].ID == id {
			return &s.Connectors[i]
		}
	}
	return nil
}

// Selection is the externally tracked selected entity, at most one of each.
type Selection struct {
	BlockID     string
	ConnectorID string
}

type Reconciler struct {
	nodes    []*canvas.Node
	edges    []*canvas.Edge
	nodeByID map[string]*canvas.Node
	edgeByID map[string]*canvas.Edge
}

func New() *Reconciler {
	return &Reconciler{
		nodeByID: make(map[string]*canvas.Node),
		edgeByID: make(map[string]*canvas.Edge),
	}
}

func (r *Reconciler) Nodes() []*canvas.Node { return r.nodes }
func (r *Reconciler) Edges() []*canvas.Edge { return r.edges }

// Node returns the current visual node for a block id, or nil.
func (r *Reconciler) Node(id string) *canvas.Node { return r.nodeByID[id] }

// Clear drops all visual state. Used when the active diagram goes away.
func (r *Reconciler) Clear() {
	r.nodes = nil
	r.edges = nil
	r.nodeByID = make(map[string]*canvas.Node)
	r.edgeByID = make(map[string]*canvas.Edge)
}

// Reconcile produces the new node/edge lists for a snapshot. dragging holds
// the ids of entities currently mid-drag; their visual position is preserved
// from the previous pass rather than taken from a possibly stale snapshot.
func (r *Reconciler) Reconcile(snap Snapshot, sel Selection, dragging map[string]bool) ([]*canvas.Node, []*canvas.Edge) {
	if snap.Diagram == nil {
		r.Clear()
		return r.nodes, r.edges
	}

	nodes := make([]*canvas.Node, 0, len(snap.Blocks))
	nodeByID := make(map[string]*canvas.Node, len(snap.Blocks))
	for i := range snap.Blocks {
		b := snap.Blocks[i]
		n := r.buildNode(&b, sel, dragging[b.ID])
		nodes = append(nodes, n)
		nodeByID[n.ID] = n
	}

	edges := make([]*canvas.Edge, 0, len(snap.Connectors))
	edgeByID := make(map[string]*canvas.Edge, len(snap.Connectors))
	for i := range snap.Connectors {
		c := snap.Connectors[i]
		e := r.buildEdge(&c, snap, sel)
		if e == nil {
			// dangling reference mid-race: not yet visible
			continue
		}
		edges = append(edges, e)
		edgeByID[e.ID] = e
	}

	r.nodes = nodes
	r.edges = edges
	r.nodeByID = nodeByID
	r.edgeByID = edgeByID
	return nodes, edges
}

// MoveNode updates a node's visual position from a local drag event. The
// node is replaced (fresh identity) so surfaces see exactly one changed
// object; every other node keeps its identity. Returns nil if the block has
// no visual node yet.
//
// Rendered slices are shared with surfaces that may read them from their own
// goroutines, so the update is copy-on-write: a fresh slice is swapped in and
// the already-published array is never written to.
func (r *Reconciler) MoveNode(id string, pos geo.Point, dragging bool) *canvas.Node {
	prev := r.nodeByID[id]
	if prev == nil {
		return nil
	}
	if prev.Pos == pos && prev.Dragging == dragging {
		return prev
	}
	n := *prev
	n.Pos = pos
	n.Dragging = dragging
	n.Ports = append([]canvas.Port(nil), prev.Ports...)

	nodes := make([]*canvas.Node, len(r.nodes))
	for i, o := range r.nodes {
		if o.ID == id {
			nodes[i] = &n
		} else {
			nodes[i] = o
		}
	}
	r.nodes = nodes
	r.nodeByID[id] = &n
	return &n
}

func (r *Reconciler) buildNode(b *model.Block, sel Selection, dragging bool) *canvas.Node {
	prev := r.nodeByID[b.ID]

	clamped := *b
	clamped.ClampSize()

	bs := style.ResolveBlock(b)
	n := &canvas.Node{
		ID:         b.ID,
		Pos:        b.Pos,
		Width:      clamped.Width,
		Height:     clamped.Height,
		Name:       b.Name,
		Kind:       b.Kind,
		Stereotype: b.Stereotype,
		Fill:       bs.Fill,
		Stroke:     bs.Stroke,
		TextColor:  bs.TextColor,
		FontSize:   bs.FontSize,
		Ports:      projectPorts(b),
		Selected:   sel.BlockID == b.ID,
		Dragging:   dragging,
	}

	// Mid-drag the local position is the truth; a snapshot refreshed by a
	// concurrent write must not yank the block out from under the pointer.
	if dragging && prev != nil {
		n.Pos = prev.Pos
	}

	if n.Equal(prev) {
		return prev
	}
	return n
}

// projectPorts resolves every port to a concrete edge/offset. Ports without
// an explicit placement derive their edge from direction and are spread
// evenly along it, in declaration order.
func projectPorts(b *model.Block) []canvas.Port {
	if len(b.Ports) == 0 {
		return nil
	}

	edges := make([]model.Edge, len(b.Ports))
	perEdge := make(map[model.Edge]int)
	for i := range b.Ports {
		p := &b.Ports[i]
		if p.Edge != nil {
			edges[i] = *p.Edge
		} else {
			edges[i] = geometry.DefaultEdge(p.Direction)
		}
		if p.Offset == nil {
			perEdge[edges[i]]++
		}
	}

	out := make([]canvas.Port, 0, len(b.Ports))
	seen := make(map[model.Edge]int)
	for i := range b.Ports {
		p := &b.Ports[i]
		v := canvas.Port{
			ID:        p.ID,
			Name:      p.Name,
			Direction: p.Direction,
			Edge:      edges[i],
			Shape:     "circle",
			Size:      model.DEFAULT_PORT_SIZE,
		}
		if p.Offset != nil {
			v.Offset = model.ClampOffset(*p.Offset)
		} else {
			seen[edges[i]]++
			v.Offset = model.ClampOffset(float64(seen[edges[i]]) * 100 / float64(perEdge[edges[i]]+1))
		}
		if p.Shape != nil && *p.Shape != "" {
			v.Shape = *p.Shape
		}
		if p.Size != nil && *p.Size > 0 {
			v.Size = *p.Size
		}
		if p.Color != nil {
			v.Color = *p.Color
		}
		out = append(out, v)
	}
	return out
}

func (r *Reconciler) buildEdge(c *model.Connector, snap Snapshot, sel Selection) *canvas.Edge {
	src := snap.Block(c.Src)
	dst := snap.Block(c.Dst)
	if src == nil || dst == nil {
		return nil
	}
	// A port handle referencing a port the block doesn't (yet) carry is
	// skipped the same way.
	if c.SrcPort != "" && src.Port(c.SrcPort) == nil {
		return nil
	}
	if c.DstPort != "" && dst.Port(c.DstPort) == nil {
		return nil
	}

	resolved := style.ResolveConnector(c)
	selected := sel.ConnectorID == c.ID
	if selected {
		resolved.Stroke = style.SelectionStroke(resolved.Stroke)
	}

	e := &canvas.Edge{
		ID:           c.ID,
		Source:       c.Src,
		Target:       c.Dst,
		SourceHandle: c.SrcPort,
		TargetHandle: c.DstPort,
		Label:        c.Label,
		Style:        resolved,
		Selected:     selected,
	}

	if prev := r.edgeByID[c.ID]; e.Equal(prev) {
		return prev
	}
	return e
}
