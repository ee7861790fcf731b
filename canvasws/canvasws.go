// Package canvasws bridges the engine to browser canvases over websockets.
// It implements canvas.Surface by broadcasting the latest node/edge lists to
// every connected client, and feeds client events into a canvas.Handler.
package canvasws

import (
	"context"
	"net/http"
	"sync"
	"time"

	"cdr.dev/slog"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/reqlab/blockcanvas/canvas"
	"github.com/reqlab/blockcanvas/lib/geo"
	"github.com/reqlab/blockcanvas/lib/log"
)

// Scene is the wire form of one render pass. Clients replace their whole
// canvas state with it; there is no incremental protocol.
type Scene struct {
	Nodes []*canvas.Node `json:"nodes"`
	Edges []*canvas.Edge `json:"edges"`
}

// Event is a client interaction message. Type selects which of the remaining
// fields are meaningful.
type Event struct {
	Type string `json:"type"`

	ID      string     `json:"id,omitempty"`
	BlockID string     `json:"blockId,omitempty"`
	PortID  string     `json:"portId,omitempty"`
	Pos     *geo.Point `json:"pos,omitempty"`
	Width   float64    `json:"width,omitempty"`
	Height  float64    `json:"height,omitempty"`
	Settled bool       `json:"settled,omitempty"`

	Src       string `json:"src,omitempty"`
	Dst       string `json:"dst,omitempty"`
	SrcHandle string `json:"srcHandle,omitempty"`
	DstHandle string `json:"dstHandle,omitempty"`

	NodeIDs []string `json:"nodeIds,omitempty"`
	EdgeIDs []string `json:"edgeIds,omitempty"`

	Target string     `json:"target,omitempty"`
	Screen *geo.Point `json:"screen,omitempty"`
	World  *geo.Point `json:"world,omitempty"`
}

const (
	EventNodeDrag    = "node-drag"
	EventNodeResize  = "node-resize"
	EventPortDrag    = "port-drag"
	EventConnect     = "connect"
	EventSelect      = "select"
	EventContextMenu = "context-menu"
	EventMenuDismiss = "menu-dismiss"
)

// Server fans the latest scene out to connected clients and dispatches their
// events to the handler. It implements both canvas.Surface and http.Handler.
type Server struct {
	ctx    context.Context
	cancel context.CancelFunc

	handler canvas.Handler

	sceneMu sync.Mutex
	scene   *Scene

	wsclientsMu sync.Mutex
	closing     bool
	wsclientsWG sync.WaitGroup
	wsclients   map[*wsclient]struct{}
}

var (
	_ canvas.Surface = (*Server)(nil)
	_ http.Handler   = (*Server)(nil)
)

func New(ctx context.Context, handler canvas.Handler) *Server {
	ctx, cancel := context.WithCancel(log.Named(ctx, "canvasws"))
	return &Server{
		ctx:       ctx,
		cancel:    cancel,
		handler:   handler,
		wsclients: make(map[*wsclient]struct{}),
	}
}

// Render stores the scene as the latest and nudges every client's write loop.
// Slow clients skip intermediate scenes rather than queueing them.
func (s *Server) Render(nodes []*canvas.Node, edges []*canvas.Edge) {
	s.sceneMu.Lock()
	s.scene = &Scene{Nodes: nodes, Edges: edges}
	s.sceneMu.Unlock()

	s.wsclientsMu.Lock()
	defer s.wsclientsMu.Unlock()
	for cl := range s.wsclients {
		select {
		case cl.sceneCh <- struct{}{}:
		default:
		}
	}
}

func (s *Server) getScene() *Scene {
	s.sceneMu.Lock()
	defer s.sceneMu.Unlock()
	return s.scene
}

// Close stops accepting clients, disconnects existing ones, and waits for
// their goroutines.
func (s *Server) Close() {
	s.wsclientsMu.Lock()
	if s.closing {
		s.wsclientsMu.Unlock()
		return
	}
	s.closing = true
	s.wsclientsMu.Unlock()

	s.cancel()
	s.wsclientsWG.Wait()
}

func (s *Server) ServeHTTP(hw http.ResponseWriter, r *http.Request) {
	s.wsclientsMu.Lock()
	if s.closing {
		s.wsclientsMu.Unlock()
		http.Error(hw, "server shutting down", http.StatusServiceUnavailable)
		return
	}
	// Register before the upgrade so Close waits for this connection even if
	// it races the hijack.
	s.wsclientsWG.Add(1)
	s.wsclientsMu.Unlock()

	c, err := websocket.Accept(hw, r, &websocket.AcceptOptions{
		CompressionMode: websocket.CompressionDisabled,
	})
	if err != nil {
		s.wsclientsWG.Done()
		log.Warn(s.ctx, "websocket accept failed", slog.Error(err))
		return
	}

	go func() {
		defer s.wsclientsWG.Done()
		defer c.Close(websocket.StatusInternalError, "connection torn down")

		ctx, cancel := context.WithCancel(s.ctx)
		defer cancel()

		cl := &wsclient{
			s:       s,
			sceneCh: make(chan struct{}, 1),
			c:       c,
		}

		s.wsclientsMu.Lock()
		s.wsclients[cl] = struct{}{}
		s.wsclientsMu.Unlock()
		defer func() {
			s.wsclientsMu.Lock()
			delete(s.wsclients, cl)
			s.wsclientsMu.Unlock()
		}()

		go func() {
			defer cancel()
			_ = cl.readLoop(ctx)
		}()
		go wsHeartbeat(ctx, cl.c)
		_ = cl.writeLoop(ctx)
	}()
}

type wsclient struct {
	s       *Server
	sceneCh chan struct{}
	c       *websocket.Conn
}

func (cl *wsclient) writeLoop(ctx context.Context) error {
	for {
		scene := cl.s.getScene()
		if scene != nil {
			err := cl.write(ctx, scene)
			if err != nil {
				return err
			}
		}

		select {
		case <-cl.sceneCh:
		case <-ctx.Done():
			cl.c.Close(websocket.StatusGoingAway, "server shutting down")
			return ctx.Err()
		}
	}
}

func (cl *wsclient) write(ctx context.Context, scene *Scene) error {
	ctx, cancel := context.WithTimeout(ctx, time.Second*30)
	defer cancel()

	return wsjson.Write(ctx, cl.c, scene)
}

func (cl *wsclient) readLoop(ctx context.Context) error {
	for {
		var ev Event
		err := wsjson.Read(ctx, cl.c, &ev)
		if err != nil {
			return err
		}
		cl.s.dispatch(ctx, ev)
	}
}

// dispatch maps one wire event onto the handler. Unknown types are logged and
// dropped so old clients can't wedge the connection.
func (s *Server) dispatch(ctx context.Context, ev Event) {
	switch ev.Type {
	case EventNodeDrag:
		if ev.Pos == nil {
			return
		}
		s.handler.NodeDragged(ev.ID, ev.Pos, ev.Settled)
	case EventNodeResize:
		s.handler.NodeResized(ev.ID, ev.Width, ev.Height)
	case EventPortDrag:
		if ev.Pos == nil {
			return
		}
		s.handler.PortDragged(ev.BlockID, ev.PortID, ev.Pos, ev.Settled)
	case EventConnect:
		s.handler.Connected(ev.Src, ev.Dst, ev.SrcHandle, ev.DstHandle)
	case EventSelect:
		s.handler.SelectionChanged(ev.NodeIDs, ev.EdgeIDs)
	case EventContextMenu:
		if ev.Screen == nil {
			return
		}
		s.handler.ContextMenu(canvas.Target(ev.Target), ev.ID, ev.Screen, ev.World)
	case EventMenuDismiss:
		s.handler.MenuDismissed()
	default:
		log.Debug(ctx, "dropping unknown canvas event", slog.F("type", ev.Type))
	}
}

func wsHeartbeat(ctx context.Context, c *websocket.Conn) {
	t := time.NewTimer(0)
	<-t.C
	for {
		t.Reset(time.Second * 30)
		select {
		case <-t.C:
		case <-ctx.Done():
			return
		}

		err := c.Ping(ctx)
		if err != nil {
			return
		}
	}
}
