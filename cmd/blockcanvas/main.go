package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/pflag"

	"oss.terrastruct.com/util-go/xbrowser"
	"oss.terrastruct.com/util-go/xhttp"
	"oss.terrastruct.com/util-go/xmain"

	"github.com/reqlab/blockcanvas/canvas"
	"github.com/reqlab/blockcanvas/canvasws"
	"github.com/reqlab/blockcanvas/engine"
	"github.com/reqlab/blockcanvas/lib/log"
	"github.com/reqlab/blockcanvas/model"
	"github.com/reqlab/blockcanvas/store"
)

func main() {
	xmain.Main(run)
}

func run(ctx context.Context, ms *xmain.State) error {
	hostFlag := ms.Opts.String("HOST", "host", "", "localhost", "listening address")
	portFlag := ms.Opts.String("PORT", "port", "p", "0", "listening port. 0 picks a randomly available one.")
	dbFlag := ms.Opts.String("BLOCKCANVAS_DB", "db", "", "", "sqlite database path. Empty keeps everything in memory.")
	tenantFlag := ms.Opts.String("BLOCKCANVAS_TENANT", "tenant", "", "dev", "tenant owning the opened diagram")
	projectFlag := ms.Opts.String("BLOCKCANVAS_PROJECT", "project", "", "sandbox", "project owning the opened diagram")
	browserFlag, err := ms.Opts.Bool("BROWSER", "browser", "", true, "open the canvas in a browser on startup")
	if err != nil {
		return err
	}
	debugFlag, err := ms.Opts.Bool("DEBUG", "debug", "d", false, "print debug logs")
	if err != nil {
		return err
	}

	err = ms.Opts.Flags.Parse(ms.Opts.Args)
	if errors.Is(err, pflag.ErrHelp) {
		ms.Opts.Flags.PrintDefaults()
		return nil
	}
	if err != nil {
		return xmain.UsageErrorf("failed to parse flags: %v", err)
	}
	if len(ms.Opts.Flags.Args()) > 1 {
		return xmain.UsageErrorf("expected at most one seed file argument")
	}

	if *debugFlag {
		os.Setenv("DEBUG", "1")
	}
	ctx = log.Stderr(ctx)
	defer log.Sync(ctx)

	var st store.Store
	if *dbFlag != "" {
		sq, err := store.NewSQLite(*dbFlag)
		if err != nil {
			return err
		}
		defer sq.Close()
		st = sq
	} else {
		st = store.NewMemory()
	}

	scope := store.Scope{Tenant: *tenantFlag, Project: *projectFlag}

	seedPath := ""
	if len(ms.Opts.Flags.Args()) == 1 {
		seedPath = ms.Opts.Flags.Arg(0)
		sf, err := loadSeed(seedPath)
		if err != nil {
			return err
		}
		scope.Diagram = sf.Diagram.ID
		if err := applySeed(ctx, st, scope, sf); err != nil {
			return err
		}
	} else {
		scope.Diagram = "scratch"
		err := st.CreateDiagram(ctx, scope, &model.Diagram{ID: "scratch", Name: "scratch", View: "bdd"})
		if err != nil {
			return err
		}
	}

	var srv *canvasws.Server
	eng := engine.New(ctx, st, canvas.SurfaceFunc(func(nodes []*canvas.Node, edges []*canvas.Edge) {
		srv.Render(nodes, edges)
	}), nil)
	srv = canvasws.New(ctx, eng)
	defer srv.Close()
	defer eng.Close()

	openCtx, cancelOpen := log.WithTimeout(ctx, time.Second*30)
	err = eng.Open(openCtx, scope)
	cancelOpen()
	if err != nil {
		return err
	}

	l, err := net.Listen("tcp", net.JoinHostPort(*hostFlag, *portFlag))
	if err != nil {
		return err
	}
	defer l.Close()

	m := http.NewServeMux()
	m.HandleFunc("/", handleRoot)
	m.Handle("/canvas", srv)

	hs := xhttp.NewServer(ms.Log.Warn, xhttp.Log(ms.Log, m))
	errCh := make(chan error, 2)
	go func() {
		errCh <- xhttp.Serve(ctx, time.Second*30, hs, l)
	}()

	if seedPath != "" {
		go func() {
			errCh <- watchSeed(ctx, ms, seedPath, st, scope, eng)
		}()
	}

	url := fmt.Sprintf("http://%v", l.Addr())
	ms.Log.Success.Printf("serving %s on %s", scope.Diagram, url)
	if *browserFlag {
		err = xbrowser.Open(ctx, ms.Env, url)
		if err != nil {
			ms.Log.Warn.Printf("failed to open browser to %v: %v", url, err)
		}
	}

	return <-errCh
}

type seedFile struct {
	Diagram    model.Diagram     `json:"diagram"`
	Blocks     []model.Block     `json:"blocks"`
	Connectors []model.Connector `json:"connectors"`
}

func loadSeed(path string) (*seedFile, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var sf seedFile
	if err := json.Unmarshal(b, &sf); err != nil {
		return nil, fmt.Errorf("failed to parse seed file %s: %w", path, err)
	}
	if sf.Diagram.ID == "" {
		return nil, fmt.Errorf("seed file %s is missing diagram.id", path)
	}
	return &sf, nil
}

// applySeed replaces the diagram's contents wholesale.
func applySeed(ctx context.Context, st store.Store, scope store.Scope, sf *seedFile) error {
	err := st.DeleteDiagram(ctx, scope)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}
	if err := st.CreateDiagram(ctx, scope, &sf.Diagram); err != nil {
		return err
	}
	for i := range sf.Blocks {
		if err := st.CreateBlock(ctx, scope, &sf.Blocks[i]); err != nil {
			return err
		}
	}
	for i := range sf.Connectors {
		if err := st.CreateConnector(ctx, scope, &sf.Connectors[i]); err != nil {
			return err
		}
	}
	return nil
}

// watchSeed reloads the store when the seed file changes. Events are batched
// with a short timer so editors writing in several syscalls trigger one
// reload.
func watchSeed(ctx context.Context, ms *xmain.State, path string, st store.Store, scope store.Scope, eng *engine.Engine) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()
	if err := fw.Add(path); err != nil {
		return err
	}

	eatBurstTimer := time.NewTimer(0)
	<-eatBurstTimer.C

	for {
		select {
		case ev, ok := <-fw.Events:
			if !ok {
				return errors.New("fsnotify watcher closed")
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			// Editors that replace the file atomically drop the watch.
			_ = fw.Add(path)
			eatBurstTimer.Reset(time.Millisecond * 16)
		case <-eatBurstTimer.C:
			sf, err := loadSeed(path)
			if err != nil {
				ms.Log.Error.Printf("seed reload failed: %v", err)
				continue
			}
			if err := applySeed(ctx, st, scope, sf); err != nil {
				ms.Log.Error.Printf("seed reload failed: %v", err)
				continue
			}
			if err := eng.Refresh(ctx); err != nil {
				ms.Log.Error.Printf("refresh after seed reload failed: %v", err)
				continue
			}
			ms.Log.Info.Printf("reloaded %s", ms.HumanPath(path))
		case err, ok := <-fw.Errors:
			if !ok {
				return errors.New("fsnotify watcher closed")
			}
			ms.Log.Error.Printf("fsnotify error: %v", err)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func handleRoot(hw http.ResponseWriter, r *http.Request) {
	hw.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(hw, `<!DOCTYPE html>
<html lang="en">
<head>
	<meta charset="UTF-8">
	<title>blockcanvas</title>
	<style>
		body { margin: 0; font-family: sans-serif; background: #F6F8FA; }
		#canvas { position: relative; width: 100vw; height: 100vh; overflow: hidden; }
		.block { position: absolute; border-radius: 4px; box-sizing: border-box; }
		.block .name { padding: 6px 8px; }
	</style>
</head>
<body>
	<div id="canvas"></div>
	<script>
	const canvas = document.getElementById("canvas");
	const ws = new WebSocket("ws://" + location.host + "/canvas");
	ws.onmessage = (msg) => {
		const scene = JSON.parse(msg.data);
		canvas.textContent = "";
		for (const n of scene.nodes || []) {
			const el = document.createElement("div");
			el.className = "block";
			el.style.left = n.pos.x + "px";
			el.style.top = n.pos.y + "px";
			el.style.width = n.width + "px";
			el.style.height = n.height + "px";
			el.style.background = n.fill;
			el.style.border = "2px solid " + n.stroke;
			el.style.color = n.textColor;
			el.innerHTML = '<div class="name">&laquo;' + n.kind + '&raquo; ' + n.name + '</div>';
			canvas.appendChild(el);
		}
	};
	</script>
</body>
</html>`)
}
