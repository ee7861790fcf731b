package canvasws

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reqlab/blockcanvas/canvas"
	"github.com/reqlab/blockcanvas/lib/geo"
	"github.com/reqlab/blockcanvas/lib/log"
)

// recordingHandler captures dispatched events for assertions.
type recordingHandler struct {
	mu    sync.Mutex
	calls []string

	dragID  string
	dragPos geo.Point
	settled bool

	target   canvas.Target
	targetID string
}

func (h *recordingHandler) record(call string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls = append(h.calls, call)
}

func (h *recordingHandler) recorded() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.calls...)
}

func (h *recordingHandler) NodeDragged(id string, pos *geo.Point, settled bool) {
	h.mu.Lock()
	h.dragID = id
	h.dragPos = *pos
	h.settled = settled
	h.mu.Unlock()
	h.record("node-drag")
}

func (h *recordingHandler) NodeResized(id string, width, height float64) { h.record("node-resize") }

func (h *recordingHandler) PortDragged(blockID, portID string, pointer *geo.Point, settled bool) {
	h.record("port-drag")
}

func (h *recordingHandler) Connected(srcID, dstID, srcHandle, dstHandle string) {
	h.record("connect")
}

func (h *recordingHandler) SelectionChanged(nodeIDs, edgeIDs []string) { h.record("select") }

func (h *recordingHandler) ContextMenu(target canvas.Target, targetID string, screen, world *geo.Point) {
	h.mu.Lock()
	h.target = target
	h.targetID = targetID
	h.mu.Unlock()
	h.record("context-menu")
}

func (h *recordingHandler) MenuDismissed() { h.record("menu-dismiss") }

func TestDispatch(t *testing.T) {
	t.Parallel()
	ctx := log.WithTB(context.Background(), t)
	h := &recordingHandler{}
	s := New(ctx, h)
	defer s.Close()

	s.dispatch(ctx, Event{Type: EventNodeDrag, ID: "a", Pos: geo.NewPoint(5, 7), Settled: true})
	s.dispatch(ctx, Event{Type: EventNodeResize, ID: "a", Width: 300, Height: 200})
	s.dispatch(ctx, Event{Type: EventPortDrag, BlockID: "a", PortID: "p1", Pos: geo.NewPoint(1, 2)})
	s.dispatch(ctx, Event{Type: EventConnect, Src: "a", Dst: "b"})
	s.dispatch(ctx, Event{Type: EventSelect, NodeIDs: []string{"a"}})
	s.dispatch(ctx, Event{Type: EventContextMenu, Target: "node", ID: "a", Screen: geo.NewPoint(3, 4)})
	s.dispatch(ctx, Event{Type: EventMenuDismiss})

	assert.Equal(t, []string{
		"node-drag", "node-resize", "port-drag", "connect",
		"select", "context-menu", "menu-dismiss",
	}, h.recorded())
	assert.Equal(t, "a", h.dragID)
	assert.Equal(t, geo.Point{X: 5, Y: 7}, h.dragPos)
	assert.True(t, h.settled)
	assert.Equal(t, canvas.TargetNode, h.target)
}

func TestDispatchGuards(t *testing.T) {
	t.Parallel()
	ctx := log.WithTB(context.Background(), t)
	h := &recordingHandler{}
	s := New(ctx, h)
	defer s.Close()

	// missing coordinates and unknown types are dropped, not dispatched
	s.dispatch(ctx, Event{Type: EventNodeDrag, ID: "a"})
	s.dispatch(ctx, Event{Type: EventPortDrag, BlockID: "a", PortID: "p1"})
	s.dispatch(ctx, Event{Type: EventContextMenu, Target: "node", ID: "a"})
	s.dispatch(ctx, Event{Type: "telepathy"})

	assert.Empty(t, h.recorded())
}

func TestRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := log.WithTB(context.Background(), t)
	h := &recordingHandler{}
	s := New(ctx, h)
	defer s.Close()

	hs := httptest.NewServer(s)
	defer hs.Close()

	s.Render([]*canvas.Node{{ID: "a", Name: "Avionics"}}, nil)

	dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(hs.URL, "http")
	c, _, err := websocket.Dial(dialCtx, url, nil)
	require.NoError(t, err)
	defer c.Close(websocket.StatusNormalClosure, "")

	// a fresh client receives the current scene immediately
	var scene Scene
	require.NoError(t, wsjson.Read(dialCtx, c, &scene))
	require.Len(t, scene.Nodes, 1)
	assert.Equal(t, "a", scene.Nodes[0].ID)
	assert.Empty(t, scene.Edges)

	// client events reach the handler
	require.NoError(t, wsjson.Write(dialCtx, c, Event{
		Type: EventNodeDrag, ID: "a", Pos: geo.NewPoint(50, 60), Settled: false,
	}))
	assert.Eventually(t, func() bool {
		return len(h.recorded()) == 1
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, "a", h.dragID)

	// a new render pass is pushed to the connected client
	s.Render([]*canvas.Node{{ID: "a"}, {ID: "b"}}, nil)
	require.NoError(t, wsjson.Read(dialCtx, c, &scene))
	assert.Len(t, scene.Nodes, 2)
}
