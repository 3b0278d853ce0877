package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
)

// GetAgent looks up a single agent row, decoding its team membership.
func (s *Store) GetAgent(agentID string) (*Agent, error) {
	var a Agent
	var displayName, connectionID, sessionID, teamsJSON sql.NullString
	var lastSeen sql.NullTime

	err := s.db.QueryRow(
		`SELECT agent_id, display_name, permission_level, teams, connection_id,
		        session_id, is_active, created_at, last_seen
		 FROM agents WHERE agent_id = ? AND deleted_at IS NULL`,
		agentID,
	).Scan(
		&a.AgentID, &displayName, &a.PermissionLevel, &teamsJSON, &connectionID,
		&sessionID, &a.IsActive, &a.CreatedAt, &lastSeen,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("GetAgent: %w: %s", ErrNotFound, agentID)
	}
	if err != nil {
		return nil, classify("GetAgent", err)
	}

	a.DisplayName = displayName.String
	a.ConnectionID = connectionID.String
	a.SessionID = sessionID.String
	if lastSeen.Valid {
		a.LastSeen = &lastSeen.Time
	}
	if teamsJSON.Valid && teamsJSON.String != "" {
		if err := json.Unmarshal([]byte(teamsJSON.String), &a.Teams); err != nil {
			return nil, fmt.Errorf("GetAgent: failed to decode teams: %w", err)
		}
	}

	return &a, nil
}

// AgentProjectID resolves an agent's current project by way of its session.
func (s *Store) AgentProjectID(agentID string) (string, error) {
	var projectID sql.NullString
	err := s.db.QueryRow(
		`SELECT sessions.project_id FROM agents
		 JOIN sessions ON sessions.id = agents.session_id
		 WHERE agents.agent_id = ?`,
		agentID,
	).Scan(&projectID)
	if err == sql.ErrNoRows {
		return "", fmt.Errorf("AgentProjectID: %w: agent %s has no session", ErrNotFound, agentID)
	}
	if err != nil {
		return "", classify("AgentProjectID", err)
	}
	if !projectID.Valid {
		return "", fmt.Errorf("AgentProjectID: %w: agent %s session has no project", ErrNotFound, agentID)
	}
	return projectID.String, nil
}

// ListAgents returns all agents with teams decoded, for the AdminAPI.
func (s *Store) ListAgents() ([]Agent, error) {
	rows, err := s.db.Query(
		`SELECT agent_id, display_name, permission_level, teams, connection_id,
		        session_id, is_active, created_at, last_seen
		 FROM agents WHERE deleted_at IS NULL ORDER BY created_at DESC`,
	)
	if err != nil {
		return nil, classify("ListAgents", err)
	}
	defer rows.Close()

	var out []Agent
	for rows.Next() {
		var a Agent
		var displayName, connectionID, sessionID, teamsJSON sql.NullString
		var lastSeen sql.NullTime
		if err := rows.Scan(
			&a.AgentID, &displayName, &a.PermissionLevel, &teamsJSON, &connectionID,
			&sessionID, &a.IsActive, &a.CreatedAt, &lastSeen,
		); err != nil {
			return nil, classify("ListAgents", err)
		}
		a.DisplayName = displayName.String
		a.ConnectionID = connectionID.String
		a.SessionID = sessionID.String
		if lastSeen.Valid {
			a.LastSeen = &lastSeen.Time
		}
		if teamsJSON.Valid && teamsJSON.String != "" {
			json.Unmarshal([]byte(teamsJSON.String), &a.Teams)
		}
		out = append(out, a)
	}
	if out == nil {
		out = []Agent{}
	}
	return out, rows.Err()
}

// TouchLastSeen stamps last_seen on an agent row, used by the registry on
// auto-bind.
func (s *Store) TouchLastSeen(agentID string) error {
	_, err := s.db.Exec(`UPDATE agents SET last_seen = CURRENT_TIMESTAMP WHERE agent_id = ?`, agentID)
	if err != nil {
		return classify("TouchLastSeen", err)
	}
	return nil
}

// AgentExists reports whether an agent row exists for agentID, used by the
// registry to decide auto-bind vs pending on socket accept.
func (s *Store) AgentExists(agentID string) (bool, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM agents WHERE agent_id = ? AND deleted_at IS NULL`, agentID).Scan(&n)
	if err != nil {
		return false, classify("AgentExists", err)
	}
	return n > 0, nil
}
