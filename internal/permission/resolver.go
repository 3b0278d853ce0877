// Package permission translates a requesting agent into the Store predicate
// that bounds which chunks it may read.
package permission

import (
	"fmt"

	"github.com/contextbroker/contextbroker/internal/store"
)

// AgentLookup is the Store dependency the resolver needs: the requester's
// own row and its project. Kept as a narrow interface so the resolver stays
// pure and testable without a real database.
type AgentLookup interface {
	GetAgent(agentID string) (*store.Agent, error)
	AgentProjectID(agentID string) (string, error)
}

// Resolver builds read predicates for a requesting agent. Identical inputs
// always produce an identical predicate; the only Store access is the
// requester's own row.
type Resolver struct {
	agents AgentLookup
}

// New constructs a Resolver backed by agents.
func New(agents AgentLookup) *Resolver {
	return &Resolver{agents: agents}
}

// Request is the caller-supplied portion of a ReadDB call: the agent id
// bound to the connection, an optional override level, and an optional
// since_ts lower bound.
type Request struct {
	AgentID  string
	Override *store.PermissionLevel
	SinceTS  *string
}

// Resolve looks up the requester's configured level, session and project,
// clamps any override to no wider than the configured level, and emits the
// predicate for that effective level.
func (r *Resolver) Resolve(req Request) (store.Predicate, error) {
	agent, err := r.agents.GetAgent(req.AgentID)
	if err != nil {
		return store.Predicate{}, fmt.Errorf("permission: resolve %s: %w", req.AgentID, err)
	}

	effective := agent.PermissionLevel
	if req.Override != nil && !req.Override.Wider(agent.PermissionLevel) {
		effective = *req.Override
	}

	var pred store.Predicate
	switch effective {
	case store.PermissionSelf:
		pred = store.And(store.ByAuthor(req.AgentID), store.BySession(agent.SessionID))
	case store.PermissionTeam:
		pred = store.ByTeamIntersection(agent.SessionID, req.AgentID, agent.Teams)
	case store.PermissionSession:
		pred = store.BySession(agent.SessionID)
	case store.PermissionProject:
		projectID, err := r.agents.AgentProjectID(req.AgentID)
		if err != nil {
			return store.Predicate{}, fmt.Errorf("permission: resolve project for %s: %w", req.AgentID, err)
		}
		pred = store.ByProject(projectID)
	default:
		return store.Predicate{}, fmt.Errorf("permission: agent %s has invalid permission level %q", req.AgentID, agent.PermissionLevel)
	}

	return pred.SinceAfter(req.SinceTS), nil
}
