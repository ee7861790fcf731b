// Package engine orchestrates one open diagram: it consumes surface events,
// applies them optimistically to the local snapshot, debounces persistence to
// the store, and pushes reconciled node/edge lists back to the surface.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"cdr.dev/slog"
	"github.com/google/uuid"
	"oss.terrastruct.com/util-go/go2"

	"github.com/reqlab/blockcanvas/canvas"
	"github.com/reqlab/blockcanvas/debounce"
	"github.com/reqlab/blockcanvas/geometry"
	"github.com/reqlab/blockcanvas/lib/geo"
	"github.com/reqlab/blockcanvas/lib/log"
	"github.com/reqlab/blockcanvas/model"
	"github.com/reqlab/blockcanvas/reconcile"
	"github.com/reqlab/blockcanvas/selection"
	"github.com/reqlab/blockcanvas/store"
)

type Opts struct {
	// Debounce overrides the quiet period for drag/resize persistence.
	// Zero means debounce.DELAY.
	Debounce time.Duration
}

type dims struct {
	Width  float64
	Height float64
}

// Engine implements canvas.Handler. All methods are safe for concurrent use;
// surfaces may invoke them from their own event loops.
type Engine struct {
	store   store.Store
	surface canvas.Surface

	// ctx carries the logger and outlives individual interactions so an
	// already-fired persistence flush is not cancelled by unmount.
	ctx context.Context

	mu        sync.Mutex
	scope     store.Scope
	snap      reconcile.Snapshot
	recon     *reconcile.Reconciler
	machine   *selection.Machine
	dragging  map[string]bool
	portDrags map[string]*geometry.DragState

	moves   *debounce.Queue[geo.Point]
	resizes *debounce.Queue[dims]
	ports   *debounce.Queue[[]model.Port]

	delay time.Duration
}

var _ canvas.Handler = (*Engine)(nil)

func New(ctx context.Context, s store.Store, surface canvas.Surface, opts *Opts) *Engine {
	if opts == nil {
		opts = &Opts{}
	}
	delay := opts.Debounce
	if delay <= 0 {
		delay = debounce.DELAY
	}
	ctx = log.Named(ctx, "engine")
	return &Engine{
		store:     s,
		surface:   surface,
		ctx:       ctx,
		recon:     reconcile.New(),
		machine:   selection.NewMachine(),
		dragging:  make(map[string]bool),
		portDrags: make(map[string]*geometry.DragState),
		delay:     delay,
	}
}

// Open makes scope the active diagram. Any prior diagram's pending mutations
// are discarded, its selection and menu reset, and the canvas is rebuilt from
// a fresh snapshot.
func (e *Engine) Open(ctx context.Context, scope store.Scope) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.cancelQueuesLocked()
	e.scope = scope
	e.machine.Reset()
	e.recon.Clear()
	e.dragging = make(map[string]bool)
	e.portDrags = make(map[string]*geometry.DragState)

	e.moves = debounce.NewQueue(e.ctx, e.delay, func(ctx context.Context, id string, pos geo.Point) {
		if err := e.store.UpdateBlock(ctx, scope, id, store.BlockUpdate{Pos: &pos}); err != nil {
			log.Warn(ctx, "failed to persist block position", slog.F("block", id), slog.Error(err))
		}
	})
	e.resizes = debounce.NewQueue(e.ctx, e.delay, func(ctx context.Context, id string, d dims) {
		if err := e.store.UpdateBlock(ctx, scope, id, store.BlockUpdate{Width: &d.Width, Height: &d.Height}); err != nil {
			log.Warn(ctx, "failed to persist block size", slog.F("block", id), slog.Error(err))
		}
	})
	e.ports = debounce.NewQueue(e.ctx, e.delay, func(ctx context.Context, id string, ports []model.Port) {
		if err := e.store.UpdateBlock(ctx, scope, id, store.BlockUpdate{Ports: &ports}); err != nil {
			log.Warn(ctx, "failed to persist port placement", slog.F("block", id), slog.Error(err))
		}
	})

	if err := e.refreshLocked(ctx); err != nil {
		return err
	}
	if e.snap.Diagram == nil {
		return store.ErrNotFound
	}
	return nil
}

// Close discards pending mutations and clears the canvas. Safe to call before
// Open.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cancelQueuesLocked()
	e.machine.Reset()
	e.recon.Clear()
	e.snap = reconcile.Snapshot{}
	e.dragging = make(map[string]bool)
	e.portDrags = make(map[string]*geometry.DragState)
	e.surface.Render(nil, nil)
}

func (e *Engine) cancelQueuesLocked() {
	if e.moves != nil {
		e.moves.CancelAll()
	}
	if e.resizes != nil {
		e.resizes.CancelAll()
	}
	if e.ports != nil {
		e.ports.CancelAll()
	}
}

// Refresh re-reads the snapshot from the store and reconciles. A diagram
// deleted out from under the session clears the canvas rather than erroring.
func (e *Engine) Refresh(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.refreshLocked(ctx)
}

func (e *Engine) refreshLocked(ctx context.Context) error {
	d, err := e.store.GetDiagram(ctx, e.scope)
	if errors.Is(err, store.ErrNotFound) {
		e.snap = reconcile.Snapshot{}
		e.machine.Reset()
		e.renderLocked()
		return nil
	}
	if err != nil {
		return err
	}

	blocks, err := e.store.ListBlocks(ctx, e.scope)
	if err != nil {
		return err
	}
	connectors, err := e.store.ListConnectors(ctx, e.scope)
	if err != nil {
		return err
	}

	e.snap = reconcile.Snapshot{Diagram: d, Blocks: blocks, Connectors: connectors}
	e.machine.Prune(e.snap)
	e.renderLocked()
	return nil
}

func (e *Engine) renderLocked() {
	nodes, edges := e.recon.Reconcile(e.snap, e.machine.Selection(), e.dragging)
	e.surface.Render(nodes, edges)
}

// Menu returns the currently open context menu.
func (e *Engine) Menu() selection.Menu {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.machine.Menu()
}

// MenuItems returns the open menu's entries against the current snapshot.
func (e *Engine) MenuItems() []selection.Item {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.machine.Items(e.snap)
}

func (e *Engine) NodeDragged(id string, pos *geo.Point, settled bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	b := e.snap.Block(id)
	if b == nil {
		return
	}

	if settled {
		delete(e.dragging, id)
		b.Pos = *pos
		e.recon.MoveNode(id, *pos, false)
		e.moves.Schedule(id, *pos)
		e.renderLocked()
		return
	}

	e.dragging[id] = true
	e.recon.MoveNode(id, *pos, true)
	e.moves.Schedule(id, *pos)
	// Only the dragged node changed; push the lists as they are instead of a
	// full reconcile pass.
	e.surface.Render(e.recon.Nodes(), e.recon.Edges())
}

func (e *Engine) NodeResized(id string, width, height float64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	b := e.snap.Block(id)
	if b == nil {
		return
	}
	b.Width = width
	b.Height = height
	b.ClampSize()

	e.resizes.Schedule(id, dims{Width: b.Width, Height: b.Height})
	e.renderLocked()
}

func (e *Engine) PortDragged(blockID, portID string, pointer *geo.Point, settled bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	b := e.snap.Block(blockID)
	if b == nil {
		return
	}
	p := b.Port(portID)
	if p == nil {
		return
	}

	key := blockID + "/" + portID
	st := e.portDrags[key]
	if st == nil {
		st = &geometry.DragState{}
		e.portDrags[key] = st
	}

	edge, offset := st.Resolve(b.Box(), pointer)
	p.Edge = go2.Pointer(edge)
	p.Offset = go2.Pointer(offset)

	if settled {
		delete(e.portDrags, key)
		ports := append([]model.Port(nil), b.Ports...)
		e.ports.Schedule(blockID, ports)
	}
	e.renderLocked()
}

func (e *Engine) Connected(srcID, dstID, srcHandle, dstHandle string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	src := e.snap.Block(srcID)
	dst := e.snap.Block(dstID)
	if src == nil || dst == nil {
		log.Warn(e.ctx, "connection references missing block",
			slog.F("src", srcID), slog.F("dst", dstID))
		return
	}
	if srcHandle != "" && src.Port(srcHandle) == nil {
		return
	}
	if dstHandle != "" && dst.Port(dstHandle) == nil {
		return
	}

	c := model.BaseConnector()
	c.ID = uuid.NewString()
	c.Src = srcID
	c.SrcPort = srcHandle
	c.Dst = dstID
	c.DstPort = dstHandle

	e.snap.Connectors = append(e.snap.Connectors, *c)
	scope := e.scope
	go func() {
		if err := e.store.CreateConnector(e.ctx, scope, c); err != nil {
			log.Warn(e.ctx, "failed to persist connector", slog.F("connector", c.ID), slog.Error(err))
		}
	}()

	e.renderLocked()
}

func (e *Engine) SelectionChanged(nodeIDs, edgeIDs []string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch {
	case len(nodeIDs) > 0:
		e.machine.SelectBlock(nodeIDs[0])
	case len(edgeIDs) > 0:
		e.machine.SelectConnector(edgeIDs[0])
	default:
		e.machine.ClearSelection()
	}
	e.renderLocked()
}

func (e *Engine) ContextMenu(target canvas.Target, targetID string, screen, world *geo.Point) {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch target {
	case canvas.TargetNode:
		if e.snap.Block(targetID) == nil {
			return
		}
		e.machine.OpenNodeMenu(targetID, screen)
	case canvas.TargetEdge:
		if e.snap.Connector(targetID) == nil {
			return
		}
		e.machine.OpenEdgeMenu(targetID, screen)
	default:
		e.machine.OpenCanvasMenu(screen, world)
	}
}

func (e *Engine) MenuDismissed() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.machine.CloseMenu()
}

// Invoke executes one entry of the open menu, then closes it.
func (e *Engine) Invoke(ctx context.Context, item selection.Item) error {
	e.mu.Lock()
	menu := e.machine.Menu()
	e.machine.CloseMenu()
	e.mu.Unlock()

	switch item.Action {
	case selection.ActionAddBlock:
		_, err := e.AddBlock(ctx, item.Arg, menu.World)
		return err
	case selection.ActionAddPort:
		return e.AddPort(ctx, menu.TargetID, model.Direction(item.Arg))
	case selection.ActionDuplicateBlock:
		_, err := e.DuplicateBlock(ctx, menu.TargetID)
		return err
	case selection.ActionDeleteBlock:
		return e.DeleteBlock(ctx, menu.TargetID)
	case selection.ActionSetKind:
		return e.SetConnectorKind(ctx, menu.TargetID, model.ConnectorKind(item.Arg))
	case selection.ActionDeleteEdge:
		return e.DeleteConnector(ctx, menu.TargetID)
	default:
		return fmt.Errorf("unknown menu action %q", item.Action)
	}
}

// AddBlock creates a block of the given kind. at places it explicitly (menu
// world coordinates); nil lets placement step diagonally from the last add.
func (e *Engine) AddBlock(ctx context.Context, kind string, at *geo.Point) (*model.Block, error) {
	e.mu.Lock()
	b := model.BaseBlock()
	b.ID = uuid.NewString()
	if model.IsKind(kind) {
		b.SetKind(kind)
	}
	b.Name = fmt.Sprintf("%s %d", b.Kind, len(e.snap.Blocks)+1)
	if at != nil {
		b.Pos = *at
	} else {
		b.Pos = *geometry.PlaceNewBlock(len(e.snap.Blocks))
	}
	scope := e.scope
	e.mu.Unlock()

	if err := e.store.CreateBlock(ctx, scope, b); err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.snap.Blocks = append(e.snap.Blocks, *b)
	e.machine.SelectBlock(b.ID)
	e.renderLocked()
	return b, nil
}

// DuplicateBlock copies a block, its ports included, offset a step from the
// original. Connectors are not copied.
func (e *Engine) DuplicateBlock(ctx context.Context, id string) (*model.Block, error) {
	e.mu.Lock()
	src := e.snap.Block(id)
	if src == nil {
		e.mu.Unlock()
		return nil, store.ErrNotFound
	}

	b := *src
	b.ID = uuid.NewString()
	b.Name = src.Name + " copy"
	b.Pos = geo.Point{X: src.Pos.X + geometry.PLACEMENT_STEP, Y: src.Pos.Y + geometry.PLACEMENT_STEP}
	b.Ports = make([]model.Port, len(src.Ports))
	for i, p := range src.Ports {
		p.ID = uuid.NewString()
		b.Ports[i] = p
	}
	b.DocumentRefs = append([]string(nil), src.DocumentRefs...)
	scope := e.scope
	e.mu.Unlock()

	if err := e.store.CreateBlock(ctx, scope, &b); err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.snap.Blocks = append(e.snap.Blocks, b)
	e.machine.SelectBlock(b.ID)
	e.renderLocked()
	return &b, nil
}

// DeleteBlock removes the block and, cascading, every connector touching it.
func (e *Engine) DeleteBlock(ctx context.Context, id string) error {
	e.mu.Lock()
	scope := e.scope
	e.mu.Unlock()

	if err := e.store.DeleteBlock(ctx, scope, id); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.moves.Cancel(id)
	e.resizes.Cancel(id)
	e.ports.Cancel(id)
	delete(e.dragging, id)

	blocks := e.snap.Blocks[:0]
	for _, b := range e.snap.Blocks {
		if b.ID != id {
			blocks = append(blocks, b)
		}
	}
	e.snap.Blocks = blocks

	connectors := e.snap.Connectors[:0]
	for _, c := range e.snap.Connectors {
		if !c.References(id) {
			connectors = append(connectors, c)
		}
	}
	e.snap.Connectors = connectors

	e.machine.Prune(e.snap)
	e.renderLocked()
	return nil
}

// AddPort appends a new port of the given direction to the block. Its edge
// and offset stay implicit until the user places it.
func (e *Engine) AddPort(ctx context.Context, blockID string, dir model.Direction) error {
	e.mu.Lock()
	b := e.snap.Block(blockID)
	if b == nil {
		e.mu.Unlock()
		return store.ErrNotFound
	}

	n := 0
	for _, p := range b.Ports {
		if p.Direction == dir {
			n++
		}
	}
	port := model.Port{
		ID:        uuid.NewString(),
		Name:      fmt.Sprintf("%s-%d", dir, n+1),
		Direction: dir,
	}
	ports := append(append([]model.Port(nil), b.Ports...), port)
	scope := e.scope
	e.mu.Unlock()

	if err := e.store.UpdateBlock(ctx, scope, blockID, store.BlockUpdate{Ports: &ports}); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if b := e.snap.Block(blockID); b != nil {
		b.Ports = ports
	}
	e.renderLocked()
	return nil
}

// UpdateBlock applies a partial update synchronously and reconciles from the
// store's view of the block list.
func (e *Engine) UpdateBlock(ctx context.Context, id string, u store.BlockUpdate) error {
	if u.IsZero() {
		return store.ErrEmptyUpdate
	}
	e.mu.Lock()
	scope := e.scope
	e.mu.Unlock()

	if err := e.store.UpdateBlock(ctx, scope, id, u); err != nil {
		return err
	}

	blocks, err := e.store.ListBlocks(ctx, scope)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.snap.Blocks = blocks
	e.renderLocked()
	return nil
}

// SetConnectorKind changes a connector's kind; its style re-resolves on the
// next pass.
func (e *Engine) SetConnectorKind(ctx context.Context, id string, kind model.ConnectorKind) error {
	if !model.IsConnectorKind(string(kind)) {
		return fmt.Errorf("unknown connector kind %q", kind)
	}
	return e.UpdateConnector(ctx, id, store.ConnectorUpdate{Kind: &kind})
}

// UpdateConnector applies a partial update synchronously.
func (e *Engine) UpdateConnector(ctx context.Context, id string, u store.ConnectorUpdate) error {
	if u.IsZero() {
		return store.ErrEmptyUpdate
	}
	e.mu.Lock()
	scope := e.scope
	e.mu.Unlock()

	if err := e.store.UpdateConnector(ctx, scope, id, u); err != nil {
		return err
	}

	connectors, err := e.store.ListConnectors(ctx, scope)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.snap.Connectors = connectors
	e.renderLocked()
	return nil
}

func (e *Engine) DeleteConnector(ctx context.Context, id string) error {
	e.mu.Lock()
	scope := e.scope
	e.mu.Unlock()

	if err := e.store.DeleteConnector(ctx, scope, id); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	connectors := e.snap.Connectors[:0]
	for _, c := range e.snap.Connectors {
		if c.ID != id {
			connectors = append(connectors, c)
		}
	}
	e.snap.Connectors = connectors
	e.machine.Prune(e.snap)
	e.renderLocked()
	return nil
}
