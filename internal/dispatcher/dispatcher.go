// Package dispatcher is the protocol front-end: it parses inbound frames,
// authorizes them against the bound connection, routes to the WriteDB /
// ReadDB / VectoriseChunks handlers, and produces the framed JSON responses
// the wire contract promises. Modeled on the original MCPServer.handle_message
// method switch, translated into Go with the teacher's per-concern handler
// split.
package dispatcher

import (
	"encoding/json"
	"fmt"
	"log"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/contextbroker/contextbroker/internal/chunker"
	"github.com/contextbroker/contextbroker/internal/embedder"
	"github.com/contextbroker/contextbroker/internal/permission"
	"github.com/contextbroker/contextbroker/internal/read"
	"github.com/contextbroker/contextbroker/internal/store"
)

const writeDBErrorPrompt = "Store your current context into a .md file in a location within your workspace. Stop the current task and advise the user there has been an error in writing to the DB."
const readDBErrorPrompt = "Stop the current task and advise the user there has been an error in reading the DB."
const writeDBSuccessPrompt = "Context saved successfully. Continue with the current task."

// Frame is the inbound envelope: one JSON object per socket message.
type Frame struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

// contextWriter is the Writer surface the dispatcher drives for WriteDB.
type contextWriter interface {
	InsertContextAndChunks(agentID, sessionID, projectID string, chunks []store.NewChunkInput) (int64, []int64, error)
}

// agentResolver resolves the agent behind a binding into its session and
// project, so WriteDB can stamp chunks correctly.
type agentResolver interface {
	GetAgent(agentID string) (*store.Agent, error)
	AgentProjectID(agentID string) (string, error)
}

// binding is the narrow registry surface the dispatcher needs: which agent,
// if any, is bound to a connection.
type binding interface {
	AgentIDFor(connectionID string) string
}

// Dispatcher parses and routes protocol frames for one broker instance. It
// holds no per-connection state; bindings are looked up through the
// registry on every call.
type Dispatcher struct {
	registry  binding
	agents    agentResolver
	writer    contextWriter
	readSvc   *read.Service
	embedder  *embedder.Embedder
	chunkerFn func(string) []string

	writeDBTotal         prometheus.Counter
	readDBTotal          prometheus.Counter
	vectoriseChunksTotal prometheus.Counter
}

// Config bundles the Dispatcher's construction parameters.
type Config struct {
	Registry binding
	Agents   agentResolver
	Writer   contextWriter
	Read     *read.Service
	Embedder *embedder.Embedder

	// Metrics are optional; a nil counter is simply never incremented.
	WriteDBTotal         prometheus.Counter
	ReadDBTotal          prometheus.Counter
	VectoriseChunksTotal prometheus.Counter
}

// New constructs a Dispatcher.
func New(cfg Config) *Dispatcher {
	return &Dispatcher{
		registry:             cfg.Registry,
		agents:               cfg.Agents,
		writer:               cfg.Writer,
		readSvc:              cfg.Read,
		embedder:             cfg.Embedder,
		chunkerFn:            chunker.Split,
		writeDBTotal:         cfg.WriteDBTotal,
		readDBTotal:          cfg.ReadDBTotal,
		vectoriseChunksTotal: cfg.VectoriseChunksTotal,
	}
}

func incIfSet(c prometheus.Counter) {
	if c != nil {
		c.Inc()
	}
}

// errorEnvelope is the canonical error shape: never a stack trace, always a
// short human string.
type errorEnvelope struct {
	Status  string `json:"status"`
	Details string `json:"details,omitempty"`
	Prompt  string `json:"prompt,omitempty"`
}

// unknownMethodEnvelope is returned for any method outside the recognized
// vocabulary.
type unknownMethodEnvelope struct {
	Error            string   `json:"error"`
	SupportedMethods []string `json:"supported_methods"`
}

var supportedMethods = []string{"ReadDB", "WriteDB", "VectoriseChunks"}

// Dispatch parses raw as a Frame and routes it to the appropriate handler
// for the connection bound at connectionID. The return value is always
// JSON-marshalable and ready to send as-is.
func (d *Dispatcher) Dispatch(connectionID string, raw []byte) interface{} {
	var frame Frame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return unknownMethodEnvelope{
			Error:            fmt.Sprintf("malformed frame: %v", err),
			SupportedMethods: supportedMethods,
		}
	}

	switch frame.Method {
	case "WriteDB":
		return d.handleWriteDB(connectionID, frame.Params)
	case "ReadDB":
		return d.handleReadDB(connectionID, frame.Params)
	case "VectoriseChunks":
		return d.handleVectoriseChunks(frame.Params)
	default:
		return unknownMethodEnvelope{
			Error:            fmt.Sprintf("Unknown method: %s", frame.Method),
			SupportedMethods: supportedMethods,
		}
	}
}

type writeDBParams struct {
	AgentID string `json:"agent_id"`
	Context string `json:"context"`
}

type writeDBSuccess struct {
	Status string `json:"status"`
	Agent  string `json:"agent"`
	Prompt string `json:"prompt"`
}

func (d *Dispatcher) handleWriteDB(connectionID string, raw json.RawMessage) interface{} {
	incIfSet(d.writeDBTotal)

	var params writeDBParams
	if err := json.Unmarshal(raw, &params); err != nil || params.AgentID == "" || params.Context == "" {
		return errorEnvelope{Status: "error", Details: "Both agent_id and context parameters required", Prompt: writeDBErrorPrompt}
	}

	bound := d.registry.AgentIDFor(connectionID)
	if bound == "" {
		return errorEnvelope{Status: "error", Details: "Connection not assigned to any agent", Prompt: writeDBErrorPrompt}
	}
	if bound != params.AgentID {
		return errorEnvelope{Status: "error", Details: "Agent can only write contexts for itself", Prompt: writeDBErrorPrompt}
	}

	agent, err := d.agents.GetAgent(params.AgentID)
	if err != nil || agent.SessionID == "" {
		return errorEnvelope{Status: "error", Details: "Agent has no active session", Prompt: writeDBErrorPrompt}
	}
	projectID, err := d.agents.AgentProjectID(params.AgentID)
	if err != nil {
		return errorEnvelope{Status: "error", Details: "Agent session has no project", Prompt: writeDBErrorPrompt}
	}

	pieces := d.chunkerFn(params.Context)
	chunks := make([]store.NewChunkInput, len(pieces))
	for i, p := range pieces {
		chunks[i] = store.NewChunkInput{ChunkIndex: i, Content: p}
	}

	_, chunkIDs, err := d.writer.InsertContextAndChunks(params.AgentID, agent.SessionID, projectID, chunks)
	if err != nil {
		return errorEnvelope{Status: "error", Details: err.Error(), Prompt: writeDBErrorPrompt}
	}

	if d.embedder != nil {
		d.embedder.Enqueue(chunkIDs)
	}

	return writeDBSuccess{Status: "success", Agent: params.AgentID, Prompt: writeDBSuccessPrompt}
}

type readDBParams struct {
	AgentID         string  `json:"agent_id"`
	Since           *string `json:"since,omitempty"`
	PermissionLevel *string `json:"permission_level,omitempty"`
}

type readDBSuccess struct {
	Contexts []read.Record `json:"contexts"`
}

func (d *Dispatcher) handleReadDB(connectionID string, raw json.RawMessage) interface{} {
	incIfSet(d.readDBTotal)

	var params readDBParams
	if err := json.Unmarshal(raw, &params); err != nil || params.AgentID == "" {
		return errorEnvelope{Status: "error", Prompt: readDBErrorPrompt}
	}

	bound := d.registry.AgentIDFor(connectionID)
	if bound == "" || bound != params.AgentID {
		return errorEnvelope{Status: "error", Prompt: readDBErrorPrompt}
	}

	req := permission.Request{AgentID: params.AgentID, SinceTS: params.Since}
	if params.PermissionLevel != nil {
		lvl := store.PermissionLevel(*params.PermissionLevel)
		req.Override = &lvl
	}

	records, err := d.readSvc.Read(req)
	if err != nil {
		log.Printf("[DISPATCH] ReadDB failed for %s: %v", params.AgentID, err)
		return errorEnvelope{Status: "error", Prompt: readDBErrorPrompt}
	}

	return readDBSuccess{Contexts: records}
}

type vectoriseChunksParams struct {
	ChunkIDs []int64 `json:"chunk_ids"`
}

type vectoriseChunksResult struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

func (d *Dispatcher) handleVectoriseChunks(raw json.RawMessage) interface{} {
	incIfSet(d.vectoriseChunksTotal)

	var params vectoriseChunksParams
	if err := json.Unmarshal(raw, &params); err != nil || len(params.ChunkIDs) == 0 {
		return vectoriseChunksResult{Status: "error", Message: "chunk_ids parameter required"}
	}

	if d.embedder != nil {
		d.embedder.Enqueue(params.ChunkIDs)
	}

	return vectoriseChunksResult{Status: "success", Message: fmt.Sprintf("Vectorized %d chunks", len(params.ChunkIDs))}
}
