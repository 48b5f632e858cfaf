// Command checkserverd runs the checking server: a request dispatcher,
// incremental type-check pipeline, and per-document lookup cache,
// reachable over a native length-framed protocol, raw LSP over stdio,
// or LSP over a websocket.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	log "gopkg.in/inconshreveable/log15.v2"

	"github.com/sourcegraph/checkserver/debugserver"
	"github.com/sourcegraph/checkserver/environ"
	"github.com/sourcegraph/checkserver/environ/envtest"
	"github.com/sourcegraph/checkserver/server"
	"github.com/sourcegraph/checkserver/tracer"
)

var (
	mode          = flag.String("mode", "socket", "communication mode (socket|stdio|websocket)")
	socketPath    = flag.String("socket", "", "unix socket path for -mode=socket (overrides config)")
	wsAddr        = flag.String("wsaddr", ":4390", "listen address for -mode=websocket")
	configPath    = flag.String("config", "", "path to a TOML config file")
	localRoot     = flag.String("root", ".", "local root directory of the checked project")
	trace         = flag.Bool("trace", false, "log every dispatched request and its duration")
	freeosmemory  = flag.Bool("freeosmemory", true, "aggressively free memory back to the OS")

	openConns = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "checkserver_open_connections",
		Help: "Number of open client connections to the checking server.",
	})
)

func init() {
	prometheus.MustRegister(openConns)
}

var mainLog = log.New("component", "main")

func main() {
	flag.Parse()

	cfg := server.NewDefaultConfig()
	if *configPath != "" {
		f, err := os.Open(*configPath)
		if err != nil {
			mainLog.Error("failed to open config", "err", err)
			os.Exit(1)
		}
		loaded, err := server.LoadConfigTOML(f)
		f.Close()
		if err != nil {
			mainLog.Error("failed to parse config", "err", err)
			os.Exit(1)
		}
		cfg = loaded
	}
	cfg.LocalRoot = *localRoot
	if *socketPath != "" {
		cfg.SocketPath = *socketPath
	}

	tracer.Init()
	go debugserver.Start()
	if *freeosmemory {
		go freeOSMemory()
	}

	// This module's Non-goal is defining the source language's type
	// system (§2); the real Environment, Parser, Analyzer and
	// IgnoreRegistrar are supplied by an embedder. The in-tree fakes
	// from environ/envtest stand in here so the binary is runnable
	// out of the box; swap NewState's arguments for a real language
	// implementation to check a real project.
	env := envtest.New()
	sched := environ.NewScheduler()
	parser := envtest.NewParser()
	analyzer := envtest.NewAnalyzer()
	ignores := &envtest.IgnoreRegistrar{}
	sources := server.NewOSSourceReader()

	state := server.NewState(cfg, env, sched, parser, analyzer, ignores, sources)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go handleSignals(cancel)

	var err error
	switch *mode {
	case "socket":
		err = runSocket(ctx, state, cfg)
	case "stdio":
		err = runStdio(ctx, state, cfg)
	case "websocket":
		err = runWebsocket(ctx, state, cfg)
	default:
		err = fmt.Errorf("invalid mode %q", *mode)
	}
	if err != nil {
		mainLog.Error("checkserverd exiting", "err", err)
		os.Exit(1)
	}
}

func handleSignals(cancel context.CancelFunc) {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt)
	<-sig
	cancel()
}

// runSocket listens on a Unix domain socket and serves the native
// length-framed protocol (§6). Each accepted connection is processed
// sequentially on its own goroutine; ServerState's own lock serializes
// access across connections (§5).
func runSocket(ctx context.Context, state *server.State, cfg server.Config) error {
	_ = os.Remove(cfg.SocketPath)
	ln, err := net.Listen("unix", cfg.SocketPath)
	if err != nil {
		return err
	}
	defer ln.Close()
	mainLog.Info("listening", "mode", "socket", "path", cfg.SocketPath)

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return err
			}
		}
		openConns.Inc()
		go serveSocketConn(state, cfg, conn)
	}
}

func serveSocketConn(state *server.State, cfg server.Config, conn net.Conn) {
	defer openConns.Dec()
	defer conn.Close()

	sc := server.NewSocketConn(conn)
	state.Connections.Lock()
	state.Connections.Primary = sc
	state.Connections.Unlock()

	for {
		req, err := server.ReadFrame(conn)
		if err != nil {
			if err != io.EOF {
				mainLog.Warn("read frame failed", "err", err)
			}
			return
		}
		start := time.Now()
		resp, err := server.Process(state, cfg, req)
		if *trace {
			mainLog.Info("dispatched", "elapsed", time.Since(start))
		}
		if err != nil {
			mainLog.Warn("dispatch error", "err", err)
			continue
		}
		if resp == nil {
			continue
		}
		if err := sc.WriteResponse(resp); err != nil {
			mainLog.Warn("write frame failed", "err", err)
			return
		}
	}
}

// runStdio speaks raw LSP, Content-Length-framed, over stdin/stdout.
func runStdio(ctx context.Context, state *server.State, cfg server.Config) error {
	mainLog.Info("listening", "mode", "stdio")
	in := bufio.NewReader(os.Stdin)
	out := os.Stdout

	for {
		raw, err := server.ReadLSPMessage(in)
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
		resp, err := server.Process(state, cfg, server.LanguageServerProtocolRequest{Raw: raw})
		if err != nil {
			mainLog.Warn("dispatch error", "err", err)
			continue
		}
		lspResp, ok := resp.(server.LanguageServerProtocolResponse)
		if !ok {
			continue
		}
		if err := server.WriteLSPMessage(out, lspResp.Raw); err != nil {
			return err
		}
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// runWebsocket speaks raw LSP over a websocket at /lsp, the same wire
// format as -mode=stdio (§6).
func runWebsocket(ctx context.Context, state *server.State, cfg server.Config) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/lsp", func(w http.ResponseWriter, r *http.Request) {
		socket, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			mainLog.Warn("websocket upgrade failed", "err", err)
			return
		}
		openConns.Inc()
		defer openConns.Dec()
		serveWSConn(state, cfg, server.NewWSConn(socket))
	})

	srv := &http.Server{Addr: *wsAddr, Handler: mux}
	go func() {
		<-ctx.Done()
		srv.Close()
	}()
	mainLog.Info("listening", "mode", "websocket", "addr", *wsAddr)
	err := srv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func serveWSConn(state *server.State, cfg server.Config, conn *server.WSConn) {
	defer conn.Close()

	state.Connections.Lock()
	state.Connections.Primary = conn
	state.Connections.Unlock()

	for {
		raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		resp, err := server.Process(state, cfg, server.LanguageServerProtocolRequest{Raw: raw})
		if err != nil {
			mainLog.Warn("dispatch error", "err", err)
			continue
		}
		if resp == nil {
			continue
		}
		if err := conn.WriteResponse(resp); err != nil {
			return
		}
	}
}

// freeOSMemory periodically returns freed heap memory to the OS more
// aggressively than Go's 5-minute default GC-triggered return, which
// matters for a long-running server that churns through many
// short-lived type-check allocations.
func freeOSMemory() {
	for {
		time.Sleep(1 * time.Minute)
		debug.FreeOSMemory()
	}
}
