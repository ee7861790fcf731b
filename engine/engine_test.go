package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reqlab/blockcanvas/canvas"
	"github.com/reqlab/blockcanvas/lib/geo"
	"github.com/reqlab/blockcanvas/lib/log"
	"github.com/reqlab/blockcanvas/model"
	"github.com/reqlab/blockcanvas/selection"
	"github.com/reqlab/blockcanvas/store"
)

var testScope = store.Scope{Tenant: "acme", Project: "apollo", Diagram: "d1"}

type fakeSurface struct {
	mu      sync.Mutex
	nodes   []*canvas.Node
	edges   []*canvas.Edge
	renders int
}

func (s *fakeSurface) Render(nodes []*canvas.Node, edges []*canvas.Edge) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nodes = nodes
	s.edges = edges
	s.renders++
}

func (s *fakeSurface) node(id string) *canvas.Node {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, n := range s.nodes {
		if n.ID == id {
			return n
		}
	}
	return nil
}

func (s *fakeSurface) counts() (nodes, edges int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.nodes), len(s.edges)
}

// countingStore records block updates so tests can assert how many
// persistence calls a burst of drag events collapsed into.
type countingStore struct {
	store.Store
	mu      sync.Mutex
	updates []store.BlockUpdate
}

func (c *countingStore) UpdateBlock(ctx context.Context, scope store.Scope, id string, u store.BlockUpdate) error {
	c.mu.Lock()
	c.updates = append(c.updates, u)
	c.mu.Unlock()
	return c.Store.UpdateBlock(ctx, scope, id, u)
}

func (c *countingStore) blockUpdates() []store.BlockUpdate {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]store.BlockUpdate(nil), c.updates...)
}

func setup(t *testing.T) (context.Context, *Engine, *countingStore, *fakeSurface) {
	ctx := log.WithTB(context.Background(), t)
	cs := &countingStore{Store: store.NewMemory()}
	surface := &fakeSurface{}

	require.NoError(t, cs.CreateDiagram(ctx, testScope, &model.Diagram{ID: "d1", Name: "context", View: "ibd"}))
	require.NoError(t, cs.CreateBlock(ctx, testScope, &model.Block{
		ID: "a", Name: "Avionics", Kind: model.KindSystem,
		Pos: geo.Point{X: 100, Y: 100}, Width: 220, Height: 140,
		Ports: []model.Port{{ID: "p1", Name: "bus", Direction: model.DirectionOut}},
	}))
	require.NoError(t, cs.CreateBlock(ctx, testScope, &model.Block{
		ID: "b", Name: "GPS", Kind: model.KindComponent,
		Pos: geo.Point{X: 420, Y: 100}, Width: 220, Height: 140,
	}))
	require.NoError(t, cs.CreateConnector(ctx, testScope, &model.Connector{
		ID: "c1", Src: "a", SrcPort: "p1", Dst: "b", Kind: model.KindFlow,
	}))

	e := New(ctx, cs, surface, &Opts{Debounce: 20 * time.Millisecond})
	require.NoError(t, e.Open(ctx, testScope))
	return ctx, e, cs, surface
}

func TestOpenRenders(t *testing.T) {
	t.Parallel()
	_, _, _, surface := setup(t)

	nodes, edges := surface.counts()
	assert.Equal(t, 2, nodes)
	assert.Equal(t, 1, edges)
}

func TestDragCoalescesPersistence(t *testing.T) {
	t.Parallel()
	_, e, cs, surface := setup(t)

	for i := 0; i < 10; i++ {
		e.NodeDragged("a", geo.NewPoint(100+float64(i)*40, 100+float64(i)*41), false)
	}
	e.NodeDragged("a", geo.NewPoint(500, 510), true)

	// the visual position tracks immediately
	n := surface.node("a")
	require.NotNil(t, n)
	assert.Equal(t, geo.Point{X: 500, Y: 510}, n.Pos)
	assert.False(t, n.Dragging)

	// eleven events, one write, carrying the final position
	assert.Eventually(t, func() bool {
		return len(cs.blockUpdates()) == 1
	}, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	updates := cs.blockUpdates()
	require.Len(t, updates, 1)
	require.NotNil(t, updates[0].Pos)
	assert.Equal(t, geo.Point{X: 500, Y: 510}, *updates[0].Pos)
}

func TestDragSurvivesRefresh(t *testing.T) {
	t.Parallel()
	ctx, e, cs, surface := setup(t)

	e.NodeDragged("a", geo.NewPoint(500, 500), false)

	// a concurrent session moves the same block
	require.NoError(t, cs.Store.UpdateBlock(ctx, testScope, "a", store.BlockUpdate{
		Pos: &geo.Point{X: 900, Y: 900},
	}))
	require.NoError(t, e.Refresh(ctx))

	n := surface.node("a")
	require.NotNil(t, n)
	assert.Equal(t, geo.Point{X: 500, Y: 500}, n.Pos, "mid-drag position must not be yanked by a stale snapshot")
	assert.True(t, n.Dragging)

	e.NodeDragged("a", geo.NewPoint(510, 505), true)
	n = surface.node("a")
	assert.Equal(t, geo.Point{X: 510, Y: 505}, n.Pos)
}

func TestDiagramDeletedWhileOpen(t *testing.T) {
	t.Parallel()
	ctx, e, cs, surface := setup(t)

	e.ContextMenu(canvas.TargetNode, "a", geo.NewPoint(10, 10), nil)
	require.NoError(t, cs.DeleteDiagram(ctx, testScope))
	require.NoError(t, e.Refresh(ctx))

	nodes, edges := surface.counts()
	assert.Zero(t, nodes)
	assert.Zero(t, edges)
	assert.Equal(t, selection.MenuClosed, e.Menu().State)
}

func TestDeleteBlockCascades(t *testing.T) {
	t.Parallel()
	ctx, e, _, surface := setup(t)

	require.NoError(t, e.DeleteBlock(ctx, "a"))

	nodes, edges := surface.counts()
	assert.Equal(t, 1, nodes)
	assert.Zero(t, edges, "connectors touching the deleted block disappear in the same pass")
}

func TestMenuAddBlock(t *testing.T) {
	t.Parallel()
	ctx, e, cs, surface := setup(t)

	e.ContextMenu(canvas.TargetCanvas, "", geo.NewPoint(10, 10), geo.NewPoint(300, 200))
	items := e.MenuItems()
	require.NotEmpty(t, items)
	require.Equal(t, selection.ActionAddBlock, items[0].Action)

	require.NoError(t, e.Invoke(ctx, items[0]))
	assert.Equal(t, selection.MenuClosed, e.Menu().State)

	nodes, _ := surface.counts()
	assert.Equal(t, 3, nodes)

	blocks, err := cs.ListBlocks(ctx, testScope)
	require.NoError(t, err)
	require.Len(t, blocks, 3)
	assert.Equal(t, geo.Point{X: 300, Y: 200}, blocks[2].Pos, "new block lands at the menu's world position")
	assert.Equal(t, model.Kind(items[0].Arg), blocks[2].Kind)
}

func TestNodeMenuAddPort(t *testing.T) {
	t.Parallel()
	ctx, e, cs, _ := setup(t)

	e.ContextMenu(canvas.TargetNode, "a", geo.NewPoint(10, 10), nil)
	items := e.MenuItems()

	var addIn *selection.Item
	for i := range items {
		if items[i].Action == selection.ActionAddPort && items[i].Arg == string(model.DirectionIn) {
			addIn = &items[i]
			break
		}
	}
	require.NotNil(t, addIn)
	require.NoError(t, e.Invoke(ctx, *addIn))

	blocks, err := cs.ListBlocks(ctx, testScope)
	require.NoError(t, err)
	require.Len(t, blocks[0].Ports, 2)
	assert.Equal(t, "in-1", blocks[0].Ports[1].Name)
	assert.Equal(t, model.DirectionIn, blocks[0].Ports[1].Direction)
	assert.Nil(t, blocks[0].Ports[1].Edge, "a fresh port stays implicitly placed")
}

func TestConnectedOptimistic(t *testing.T) {
	t.Parallel()
	ctx, e, cs, surface := setup(t)

	e.Connected("b", "a", "", "")

	_, edges := surface.counts()
	assert.Equal(t, 2, edges, "new edge is visible before the store confirms")

	assert.Eventually(t, func() bool {
		connectors, err := cs.ListConnectors(ctx, testScope)
		return err == nil && len(connectors) == 2
	}, time.Second, 5*time.Millisecond)
}

func TestPortDragPersistsOnRelease(t *testing.T) {
	t.Parallel()
	ctx, e, cs, surface := setup(t)

	e.PortDragged("a", "p1", geo.NewPoint(105, 170), true)

	n := surface.node("a")
	require.NotNil(t, n)
	require.Len(t, n.Ports, 1)
	assert.Equal(t, model.EdgeLeft, n.Ports[0].Edge)
	assert.Equal(t, 50., n.Ports[0].Offset)

	assert.Eventually(t, func() bool {
		blocks, err := cs.ListBlocks(ctx, testScope)
		if err != nil || len(blocks) == 0 {
			return false
		}
		p := blocks[0].Port("p1")
		return p != nil && p.Edge != nil && *p.Edge == model.EdgeLeft
	}, time.Second, 5*time.Millisecond)
}

func TestCloseDiscardsPending(t *testing.T) {
	t.Parallel()
	_, e, cs, surface := setup(t)

	before := len(cs.blockUpdates())
	e.NodeDragged("a", geo.NewPoint(700, 700), false)
	e.Close()

	time.Sleep(100 * time.Millisecond)
	assert.Len(t, cs.blockUpdates(), before, "pending mutation must not flush after Close")

	nodes, edges := surface.counts()
	assert.Zero(t, nodes)
	assert.Zero(t, edges)
}

func TestSelectionHighlight(t *testing.T) {
	t.Parallel()
	_, e, _, surface := setup(t)

	e.SelectionChanged([]string{"b"}, nil)
	assert.True(t, surface.node("b").Selected)
	assert.False(t, surface.node("a").Selected)

	e.SelectionChanged(nil, nil)
	assert.False(t, surface.node("b").Selected)
}

func TestResizeClampsToFloor(t *testing.T) {
	t.Parallel()
	_, e, cs, surface := setup(t)

	e.NodeResized("b", 10, 10)

	n := surface.node("b")
	require.NotNil(t, n)
	assert.Equal(t, model.MIN_BLOCK_WIDTH, n.Width)
	assert.Equal(t, model.MIN_BLOCK_HEIGHT, n.Height)

	assert.Eventually(t, func() bool {
		updates := cs.blockUpdates()
		return len(updates) == 1 && updates[0].Width != nil && *updates[0].Width == model.MIN_BLOCK_WIDTH
	}, time.Second, 5*time.Millisecond)
}

func TestEmptyUpdateRejected(t *testing.T) {
	t.Parallel()
	ctx, e, _, _ := setup(t)

	assert.ErrorIs(t, e.UpdateBlock(ctx, "a", store.BlockUpdate{}), store.ErrEmptyUpdate)
	assert.ErrorIs(t, e.UpdateConnector(ctx, "c1", store.ConnectorUpdate{}), store.ErrEmptyUpdate)
}

func TestSetConnectorKindRestyles(t *testing.T) {
	t.Parallel()
	ctx, e, _, surface := setup(t)

	require.NoError(t, e.SetConnectorKind(ctx, "c1", model.KindComposition))

	surface.mu.Lock()
	defer surface.mu.Unlock()
	require.Len(t, surface.edges, 1)
	assert.Equal(t, 3., surface.edges[0].Style.StrokeWidth)
	assert.False(t, surface.edges[0].Style.Animated)
}

func TestOpenMissingDiagram(t *testing.T) {
	t.Parallel()
	ctx, e, _, _ := setup(t)

	err := e.Open(ctx, store.Scope{Tenant: "acme", Project: "apollo", Diagram: "ghost"})
	assert.ErrorIs(t, err, store.ErrNotFound)
}
