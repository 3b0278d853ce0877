package adminapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/contextbroker/contextbroker/internal/store"
)

type fakeCatalog struct {
	projects    []store.Project
	sessions    []store.Session
	agents      []store.Agent
	connections []store.Connection
	contexts    []store.Context
	deleted     []int64
	deleteErr   error
}

func (f *fakeCatalog) ListProjects() ([]store.Project, error)       { return f.projects, nil }
func (f *fakeCatalog) ListSessions() ([]store.Session, error)       { return f.sessions, nil }
func (f *fakeCatalog) ListTeams() ([]store.Team, error)             { return nil, nil }
func (f *fakeCatalog) ListAgents() ([]store.Agent, error)           { return f.agents, nil }
func (f *fakeCatalog) ListConnections() ([]store.Connection, error) { return f.connections, nil }
func (f *fakeCatalog) ListContexts(limit int) ([]store.Context, error) {
	return f.contexts, nil
}
func (f *fakeCatalog) ChunkCount(contextID int64) (int, error) { return 3, nil }
func (f *fakeCatalog) ContextSummary(contextID int64) (string, error) {
	return "hello world", nil
}
func (f *fakeCatalog) DeleteContext(contextID int64) error {
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.deleted = append(f.deleted, contextID)
	return nil
}

type fakeAssigner struct {
	lastAgent, lastConn string
	err                 error
}

func (f *fakeAssigner) Assign(connectionID, agentID string) error {
	if f.err != nil {
		return f.err
	}
	f.lastConn, f.lastAgent = connectionID, agentID
	return nil
}

func newTestServer() (*Server, *fakeCatalog, *fakeAssigner) {
	cat := &fakeCatalog{
		agents:   []store.Agent{{AgentID: "a1"}},
		contexts: []store.Context{{ID: 1, AgentID: "a1"}},
	}
	assign := &fakeAssigner{}
	s := New(Config{Store: cat, Registry: assign})
	return s, cat, assign
}

func TestHandleHealthz(t *testing.T) {
	s, _, _ := newTestServer()
	req := httptest.NewRequest("GET", "/healthz", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestHandleListAgents(t *testing.T) {
	s, _, _ := newTestServer()
	req := httptest.NewRequest("GET", "/agents", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var body struct {
		Agents []store.Agent `json:"agents"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(body.Agents) != 1 || body.Agents[0].AgentID != "a1" {
		t.Fatalf("expected agents envelope with a1, got %+v", body.Agents)
	}
}

func TestHandleListConnections(t *testing.T) {
	s, _, _ := newTestServer()
	req := httptest.NewRequest("GET", "/connections", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var body struct {
		Connections []store.Connection `json:"connections"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
}

func TestHandleStatus(t *testing.T) {
	cat := &fakeCatalog{
		connections: []store.Connection{
			{ConnectionID: "c1", Status: store.ConnectionAssigned},
			{ConnectionID: "c2", Status: store.ConnectionPending},
		},
	}
	s := New(Config{Store: cat, Registry: &fakeAssigner{}, Database: "test.db"})

	req := httptest.NewRequest("GET", "/status", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var body struct {
		Status            string `json:"status"`
		ActiveConnections int    `json:"active_connections"`
		Database          string `json:"database"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body.ActiveConnections != 1 {
		t.Fatalf("expected 1 active connection, got %d", body.ActiveConnections)
	}
	if body.Database != "test.db" {
		t.Fatalf("expected database path echoed, got %q", body.Database)
	}
}

func TestHandleListContexts(t *testing.T) {
	s, _, _ := newTestServer()
	req := httptest.NewRequest("GET", "/contexts", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var body []contextSummary
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(body) != 1 || body[0].ChunkCount != 3 || body[0].Summary != "hello world" {
		t.Fatalf("expected chunk_count/summary populated, got %+v", body)
	}
}

func TestHandleDeleteContext(t *testing.T) {
	s, cat, _ := newTestServer()
	req := httptest.NewRequest("DELETE", "/contexts/42", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(cat.deleted) != 1 || cat.deleted[0] != 42 {
		t.Fatalf("expected context 42 deleted, got %v", cat.deleted)
	}
}

func TestHandleDeleteContext_InvalidID(t *testing.T) {
	s, _, _ := newTestServer()
	req := httptest.NewRequest("DELETE", "/contexts/not-a-number", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestHandleAssign(t *testing.T) {
	s, _, assign := newTestServer()
	req := httptest.NewRequest("POST", "/agents/a1/assign/conn1", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if assign.lastAgent != "a1" || assign.lastConn != "conn1" {
		t.Fatalf("expected assign called with a1/conn1, got %s/%s", assign.lastAgent, assign.lastConn)
	}
}

func TestHandleShutdown_RejectsNonLocalhost(t *testing.T) {
	s, _, _ := newTestServer()
	req := httptest.NewRequest("POST", "/admin/shutdown", nil)
	req.RemoteAddr = "203.0.113.5:12345"
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for non-localhost shutdown, got %d", rec.Code)
	}
}

func TestHandleShutdown_AllowsLocalhost(t *testing.T) {
	s, _, _ := newTestServer()
	req := httptest.NewRequest("POST", "/admin/shutdown", nil)
	req.RemoteAddr = "127.0.0.1:54321"
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for localhost shutdown, got %d", rec.Code)
	}

	select {
	case <-s.ShutdownRequested():
	default:
		t.Fatalf("expected shutdown channel to be closed")
	}
}

func TestHandleShutdown_RequiresToken(t *testing.T) {
	cat := &fakeCatalog{}
	s := New(Config{Store: cat, Registry: &fakeAssigner{}, ShutdownToken: "secret"})

	req := httptest.NewRequest("POST", "/admin/shutdown", nil)
	req.RemoteAddr = "127.0.0.1:1"
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 without token, got %d", rec.Code)
	}

	req2 := httptest.NewRequest("POST", "/admin/shutdown", nil)
	req2.RemoteAddr = "127.0.0.1:1"
	req2.Header.Set("X-Shutdown-Token", "secret")
	rec2 := httptest.NewRecorder()
	s.Router().ServeHTTP(rec2, req2)
	if rec2.Code != http.StatusOK {
		t.Fatalf("expected 200 with correct token, got %d", rec2.Code)
	}
}
