// Package jobqueue embeds a NATS server in-process and exposes a thin client
// used as the transport for fire-and-forget embedding jobs (see internal/embedder).
// Running the broker and its job queue as a single process keeps deployment as
// simple as the rest of the broker while giving the embedder an observable
// subject. Jobs are sent with core NATS publish and are not persisted: a job
// not yet delivered when the process exits is lost.
package jobqueue

import (
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats-server/v2/server"
)

// EmbeddedServerConfig holds configuration for the embedded NATS server.
type EmbeddedServerConfig struct {
	Port      int    // Port to listen on
	DataDir   string // Data directory, required when JetStream is enabled
	JetStream bool   // Enable JetStream on the server; Client creates no stream, so jobs are not stored for replay
}

// EmbeddedServer wraps the NATS server used as the embedder's job transport.
type EmbeddedServer struct {
	server  *server.Server
	config  EmbeddedServerConfig
	mu      sync.RWMutex
	running bool
}

// NewEmbeddedServer creates a new embedded NATS server instance.
func NewEmbeddedServer(config EmbeddedServerConfig) (*EmbeddedServer, error) {
	if config.Port <= 0 {
		config.Port = 4222
	}

	if config.JetStream && config.DataDir == "" {
		return nil, fmt.Errorf("DataDir is required when JetStream is enabled")
	}

	return &EmbeddedServer{config: config}, nil
}

// Start starts the embedded NATS server.
func (e *EmbeddedServer) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.running {
		return fmt.Errorf("server already running")
	}

	opts := &server.Options{
		Host:       "127.0.0.1",
		Port:       e.config.Port,
		NoLog:      true,
		NoSigs:     true,
		MaxPayload: 4 * 1024 * 1024,
	}

	if e.config.JetStream {
		opts.JetStream = true
		opts.StoreDir = e.config.DataDir
	}

	ns, err := server.NewServer(opts)
	if err != nil {
		return fmt.Errorf("failed to create job queue server: %w", err)
	}

	e.server = ns
	go ns.Start()

	if !ns.ReadyForConnections(10 * time.Second) {
		return fmt.Errorf("job queue server not ready for connections")
	}

	e.running = true
	return nil
}

// Shutdown gracefully shuts down the embedded job queue server.
func (e *EmbeddedServer) Shutdown() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.running || e.server == nil {
		return
	}

	e.server.Shutdown()
	e.server.WaitForShutdown()

	e.running = false
	e.server = nil
}

// URL returns the connection URL for the embedded job queue server.
func (e *EmbeddedServer) URL() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return fmt.Sprintf("nats://127.0.0.1:%d", e.config.Port)
}

// IsRunning returns whether the server is currently running.
func (e *EmbeddedServer) IsRunning() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.running
}
