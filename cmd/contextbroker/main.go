package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/contextbroker/contextbroker/internal/adminapi"
	"github.com/contextbroker/contextbroker/internal/allowlist"
	"github.com/contextbroker/contextbroker/internal/broadcast"
	"github.com/contextbroker/contextbroker/internal/config"
	"github.com/contextbroker/contextbroker/internal/dispatcher"
	"github.com/contextbroker/contextbroker/internal/embedder"
	"github.com/contextbroker/contextbroker/internal/jobqueue"
	"github.com/contextbroker/contextbroker/internal/permission"
	"github.com/contextbroker/contextbroker/internal/read"
	"github.com/contextbroker/contextbroker/internal/registry"
	"github.com/contextbroker/contextbroker/internal/store"
	"github.com/contextbroker/contextbroker/internal/writer"
)

func main() {
	configPath := flag.String("config", "", "YAML configuration file (optional, defaults are used if absent)")
	flag.Parse()

	cfg := config.Load(*configPath)

	db, err := store.Open(cfg.DBPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open store: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()
	log.Printf("[MAIN] store opened at %s", cfg.DBPath)

	allow := allowlist.New(cfg.AllowlistPath)
	watchStop := make(chan struct{})
	go allow.Watch(watchStop)
	defer close(watchStop)

	w := writer.New(cfg.WriterQueueSize)
	defer w.Shutdown()

	hub := broadcast.NewHub()
	go hub.Run()

	reg := registry.New(db)
	reg.OnConnect(func(connectionID, agentID string) {
		hub.Publish(broadcast.EventAgentStatus, map[string]string{"agent_id": agentID, "status": broadcast.StatusConnected})
	})
	reg.OnPending(func(connectionID string) {
		hub.Publish(broadcast.EventAgentPending, map[string]string{"connection_id": connectionID})
	})
	reg.OnDisconnect(func(connectionID, agentID string) {
		hub.Publish(broadcast.EventAgentStatus, map[string]string{"agent_id": agentID, "status": broadcast.StatusDisconnected})
	})

	resolver := permission.New(db)
	readSvc := read.New(db, resolver)

	var jobClient *jobqueue.Client
	jobPort := cfg.JobQueue.Port
	if jobPort <= 0 {
		jobPort = 4222
	}
	embeddedQueue, err := jobqueue.NewEmbeddedServer(jobqueue.EmbeddedServerConfig{
		Port:      jobPort,
		DataDir:   cfg.JobQueue.DataDir,
		JetStream: cfg.JobQueue.JetStream,
	})
	if err != nil {
		log.Printf("[MAIN] job queue configuration rejected, embedding disabled: %v", err)
	} else if err := embeddedQueue.Start(); err != nil {
		log.Printf("[MAIN] job queue failed to start, embedding disabled: %v", err)
	} else {
		defer embeddedQueue.Shutdown()
		jobClient, err = jobqueue.NewClient(embeddedQueue.URL())
		if err != nil {
			log.Printf("[MAIN] job queue client failed to connect, embedding disabled: %v", err)
			jobClient = nil
		} else {
			defer jobClient.Close()
		}
	}

	emb := embedder.New(embedder.Config{
		Client:     jobClient,
		Store:      db,
		Writer:     db,
		Vectorizer: embedder.NewHashVectorizer(cfg.EmbedDimension),
		Workers:    cfg.EmbedderWorkers,
	})
	emb.Start()

	metrics := adminapi.NewMetrics(prometheus.DefaultRegisterer)
	admin := adminapi.New(adminapi.Config{
		Store:         db,
		Registry:      reg,
		Hub:           hub,
		ShutdownToken: cfg.ShutdownToken,
		Database:      cfg.DBPath,
	})

	dispatch := dispatcher.New(dispatcher.Config{
		Registry:             reg,
		Agents:               db,
		Writer:               db,
		Read:                 readSvc,
		Embedder:             emb,
		WriteDBTotal:         metrics.WriteDBTotal,
		ReadDBTotal:          metrics.ReadDBTotal,
		VectoriseChunksTotal: metrics.VectoriseChunksTotal,
	})

	wsRouter := mux.NewRouter()
	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	wsRouter.HandleFunc("/ws/{connection_id}", func(w http.ResponseWriter, r *http.Request) {
		handleWebSocket(w, r, upgrader, reg, dispatch, allow, metrics)
	})

	wsServer := &http.Server{Addr: cfg.ListenAddr, Handler: wsRouter}
	adminServer := &http.Server{Addr: cfg.AdminAddr, Handler: admin.Router()}

	serverErr := make(chan error, 2)
	go func() { serverErr <- wsServer.ListenAndServe() }()
	go func() { serverErr <- adminServer.ListenAndServe() }()

	log.Printf("[MAIN] broker listening on %s, admin API on %s", cfg.ListenAddr, cfg.AdminAddr)

	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		if err != nil && err != http.ErrServerClosed {
			log.Printf("[MAIN] server error: %v", err)
		}
	case sig := <-signalChan:
		log.Printf("[MAIN] shutting down on signal %v", sig)
	case <-admin.ShutdownRequested():
		log.Printf("[MAIN] shutting down on admin request")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	wsServer.Shutdown(ctx)
	adminServer.Shutdown(ctx)
	log.Println("[MAIN] shutdown complete")
}

// handleWebSocket upgrades the connection, runs it through the registry's
// auto-bind rule, and loops reading frames into the dispatcher until the
// socket closes.
func handleWebSocket(
	w http.ResponseWriter,
	r *http.Request,
	upgrader websocket.Upgrader,
	reg *registry.Registry,
	dispatch *dispatcher.Dispatcher,
	allow *allowlist.Manager,
	metrics *adminapi.Metrics,
) {
	vars := mux.Vars(r)
	connectionID := vars["connection_id"]

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[MAIN] websocket upgrade failed: %v", err)
		return
	}

	ipAddress := r.RemoteAddr
	conn, err := reg.Accept(connectionID, ipAddress, ws, allow.Allow)
	if err != nil {
		if registry.IsRejected(err) {
			ws.WriteJSON(map[string]string{"type": "announce_rejected", "reason": "not_allowlisted"})
			ws.Close()
			return
		}
		log.Printf("[MAIN] failed to accept connection %s: %v", connectionID, err)
		ws.Close()
		return
	}

	metrics.ActiveConnections.Inc()
	defer metrics.ActiveConnections.Dec()

	go conn.WritePump()
	defer reg.Remove(connectionID)

	for {
		_, payload, err := ws.ReadMessage()
		if err != nil {
			return
		}

		resp := dispatch.Dispatch(connectionID, payload)
		if err := conn.SendJSON(resp); err != nil {
			log.Printf("[MAIN] failed to queue response for %s: %v", connectionID, err)
			return
		}
	}
}
