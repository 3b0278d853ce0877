package store

import "time"

// PermissionLevel is the closed set of four tokens an agent's reads are
// filtered through, widening in the order self < team < session < project.
type PermissionLevel string

const (
	PermissionSelf    PermissionLevel = "self"
	PermissionTeam    PermissionLevel = "team"
	PermissionSession PermissionLevel = "session"
	PermissionProject PermissionLevel = "project"
)

// Valid reports whether l is one of the four defined permission tokens.
func (l PermissionLevel) Valid() bool {
	switch l {
	case PermissionSelf, PermissionTeam, PermissionSession, PermissionProject:
		return true
	}
	return false
}

// rank orders permission levels for override-clamping comparisons.
func (l PermissionLevel) rank() int {
	switch l {
	case PermissionSelf:
		return 0
	case PermissionTeam:
		return 1
	case PermissionSession:
		return 2
	case PermissionProject:
		return 3
	}
	return -1
}

// Wider reports whether l grants access wider than other.
func (l PermissionLevel) Wider(other PermissionLevel) bool {
	return l.rank() > other.rank()
}

// ConnectionStatus is the lifecycle state of a registered connection.
type ConnectionStatus string

const (
	ConnectionPending  ConnectionStatus = "pending"
	ConnectionAssigned ConnectionStatus = "assigned"
	ConnectionRejected ConnectionStatus = "rejected"
)

// Project is an administratively-owned container for sessions.
type Project struct {
	ID          string
	Name        string
	Description string
	CreatedAt   time.Time
}

// Session belongs to exactly one Project.
type Session struct {
	ID        string
	ProjectID string
	Name      string
	CreatedAt time.Time
}

// Team is independent of sessions; agents are members of zero or more teams.
type Team struct {
	TeamID      string
	Name        string
	Description string
}

// Agent is a logical AI-client identity, independent of any particular
// socket.
type Agent struct {
	AgentID         string
	DisplayName     string
	PermissionLevel PermissionLevel
	Teams           []string
	ConnectionID    string
	SessionID       string
	IsActive        bool
	CreatedAt       time.Time
	LastSeen        *time.Time
}

// Connection is a live WebSocket plus its registry row.
type Connection struct {
	ConnectionID    string
	IPAddress       string
	AssignedAgentID string
	Status          ConnectionStatus
	FirstSeen       time.Time
	LastSeen        time.Time
}

// Context is one submission by an agent; immutable after insert.
type Context struct {
	ID        int64
	AgentID   string
	SessionID string
	ProjectID string
	CreatedAt time.Time
}

// ContextChunk is a bounded-length text window produced from a Context.
type ContextChunk struct {
	ID           int64
	ContextID    int64
	ChunkIndex   int
	ChunkContent string
	AgentID      string
	SessionID    string
	ProjectID    string
	CreatedAt    time.Time
}

// ChunkRecord is one row returned by ListChunksForAgent: the chunk's id,
// parent context id and index plus its text and creation timestamp.
// ReadService projects it down to text and timestamp for the caller.
type ChunkRecord struct {
	ChunkID      int64
	ContextID    int64
	ChunkIndex   int
	ChunkContent string
	CreatedAt    time.Time
}

// NewChunkInput is one row of the atomic insertChunks batch.
type NewChunkInput struct {
	ChunkIndex int
	Content    string
}
