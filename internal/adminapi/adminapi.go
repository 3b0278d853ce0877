// Package adminapi exposes the broker's operator-facing HTTP surface:
// status, catalog inspection, agent assignment, health, metrics, and a
// guarded shutdown endpoint. Modeled on the teacher's mux-based handler
// split and its respondJSON/respondError conventions, generalized from
// dashboard state to the broker's catalog.
package adminapi

import (
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/contextbroker/contextbroker/internal/broadcast"
	"github.com/contextbroker/contextbroker/internal/store"
)

// catalog is the narrow Store surface the admin API reads from.
type catalog interface {
	ListProjects() ([]store.Project, error)
	ListSessions() ([]store.Session, error)
	ListTeams() ([]store.Team, error)
	ListAgents() ([]store.Agent, error)
	ListConnections() ([]store.Connection, error)
	ListContexts(limit int) ([]store.Context, error)
	ChunkCount(contextID int64) (int, error)
	ContextSummary(contextID int64) (string, error)
	DeleteContext(contextID int64) error
}

// assigner is the registry surface the admin API drives for manual binding.
type assigner interface {
	Assign(connectionID, agentID string) error
}

// Metrics are the Prometheus collectors the admin API registers and
// updates; kept here rather than in each producing package so every
// component shares one registry.
type Metrics struct {
	WriteDBTotal         prometheus.Counter
	ReadDBTotal          prometheus.Counter
	VectoriseChunksTotal prometheus.Counter
	ActiveConnections    prometheus.Gauge
}

// NewMetrics constructs and registers the broker's Prometheus collectors.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		WriteDBTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "contextbroker_writedb_total",
			Help: "Total number of WriteDB calls handled.",
		}),
		ReadDBTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "contextbroker_readdb_total",
			Help: "Total number of ReadDB calls handled.",
		}),
		VectoriseChunksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "contextbroker_vectorise_chunks_total",
			Help: "Total number of VectoriseChunks calls handled.",
		}),
		ActiveConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "contextbroker_active_connections",
			Help: "Number of currently open agent WebSocket connections, bound or pending.",
		}),
	}
	registry.MustRegister(m.WriteDBTotal, m.ReadDBTotal, m.VectoriseChunksTotal, m.ActiveConnections)
	return m
}

// Server is the admin HTTP surface.
type Server struct {
	router        *mux.Router
	store         catalog
	registry      assigner
	hub           *broadcast.Hub
	upgrader      websocket.Upgrader
	shutdownToken string
	shutdownChan  chan struct{}
	startTime     time.Time
	database      string
}

// Config bundles the admin server's construction parameters.
type Config struct {
	Store         catalog
	Registry      assigner
	Hub           *broadcast.Hub
	ShutdownToken string // empty disables the token check; localhost guard always applies
	Database      string // path reported verbatim by GET /status
}

// New constructs an admin Server and wires its routes.
func New(cfg Config) *Server {
	s := &Server{
		store:         cfg.Store,
		registry:      cfg.Registry,
		hub:           cfg.Hub,
		shutdownToken: cfg.ShutdownToken,
		shutdownChan:  make(chan struct{}),
		startTime:     time.Now(),
		database:      cfg.Database,
	}

	s.router = mux.NewRouter()
	api := s.router.PathPrefix("/").Subrouter()
	api.HandleFunc("/status", s.handleStatus).Methods("GET")
	api.HandleFunc("/healthz", s.handleHealthz).Methods("GET")
	api.HandleFunc("/connections", s.handleListConnections).Methods("GET")
	api.HandleFunc("/agents", s.handleListAgents).Methods("GET")
	api.HandleFunc("/contexts", s.handleListContexts).Methods("GET")
	api.HandleFunc("/contexts/{id}", s.handleDeleteContext).Methods("DELETE")
	api.HandleFunc("/agents/{agent_id}/assign/{connection_id}", s.handleAssign).Methods("POST")
	api.HandleFunc("/admin/shutdown", s.handleShutdown).Methods("POST")
	if s.hub != nil {
		api.HandleFunc("/events", s.handleEvents)
	}
	api.Handle("/metrics", promhttp.Handler()).Methods("GET")

	return s
}

// Router returns the wired mux.Router, ready to be served with
// http.ListenAndServe.
func (s *Server) Router() *mux.Router { return s.router }

// ShutdownRequested returns a channel closed once handleShutdown fires.
func (s *Server) ShutdownRequested() <-chan struct{} { return s.shutdownChan }

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	conns, err := s.store.ListConnections()
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	active := 0
	for _, c := range conns {
		if c.Status == store.ConnectionAssigned {
			active++
		}
	}

	s.respondJSON(w, map[string]interface{}{
		"status":             "ok",
		"active_connections": active,
		"database":           s.database,
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) handleListConnections(w http.ResponseWriter, r *http.Request) {
	conns, err := s.store.ListConnections()
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, map[string]interface{}{"connections": conns})
}

func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	agents, err := s.store.ListAgents()
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, map[string]interface{}{"agents": agents})
}

// contextSummary is one row of the GET /contexts response: the Context
// entity plus its chunk count and a truncated preview of its first chunk.
type contextSummary struct {
	store.Context
	ChunkCount int    `json:"chunk_count"`
	Summary    string `json:"summary"`
}

func (s *Server) handleListContexts(w http.ResponseWriter, r *http.Request) {
	contexts, err := s.store.ListContexts(0)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	out := make([]contextSummary, 0, len(contexts))
	for _, c := range contexts {
		count, err := s.store.ChunkCount(c.ID)
		if err != nil {
			s.respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		summary, err := s.store.ContextSummary(c.ID)
		if err != nil {
			s.respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		out = append(out, contextSummary{Context: c, ChunkCount: count, Summary: summary})
	}

	s.respondJSON(w, out)
}

func (s *Server) handleDeleteContext(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	var id int64
	if _, err := fmt.Sscanf(vars["id"], "%d", &id); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid context id")
		return
	}

	if err := s.store.DeleteContext(id); err != nil {
		s.respondError(w, http.StatusNotFound, err.Error())
		return
	}
	s.respondJSON(w, map[string]string{"status": "deleted"})
}

func (s *Server) handleAssign(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	agentID, connectionID := vars["agent_id"], vars["connection_id"]

	if err := s.registry.Assign(connectionID, agentID); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.respondJSON(w, map[string]string{"status": "assigned", "agent_id": agentID, "connection_id": connectionID})
}

// handleShutdown gates the shutdown trigger behind two independent checks,
// modeled on the teacher's localhost-only shutdown handler, extended with
// an optional shared-secret token since the broker may bind its admin port
// more widely than 127.0.0.1 in containerized deployments.
func (s *Server) handleShutdown(w http.ResponseWriter, r *http.Request) {
	host, _, _ := net.SplitHostPort(r.RemoteAddr)
	if host != "127.0.0.1" && host != "::1" {
		s.respondError(w, http.StatusForbidden, "shutdown can only be requested from localhost")
		return
	}
	if s.shutdownToken != "" && r.Header.Get("X-Shutdown-Token") != s.shutdownToken {
		s.respondError(w, http.StatusForbidden, "invalid shutdown token")
		return
	}

	s.respondJSON(w, map[string]string{"status": "shutting_down"})

	select {
	case <-s.shutdownChan:
	default:
		close(s.shutdownChan)
	}
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[ADMIN] websocket upgrade failed: %v", err)
		return
	}
	s.hub.Join(conn)
}

func (s *Server) respondJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("[ADMIN] failed to encode response: %v", err)
	}
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	log.Printf("[ADMIN] error %d: %s", status, message)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
