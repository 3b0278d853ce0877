package store

import (
	"database/sql"
	"fmt"
)

// RegisterConnection idempotently upserts a connection row, defaulting to
// pending status on first sight and bumping last_seen on every subsequent
// call.
func (s *Store) RegisterConnection(connectionID, ipAddress string) error {
	_, err := s.db.Exec(
		`INSERT INTO connections (connection_id, ip_address, status)
		 VALUES (?, ?, 'pending')
		 ON CONFLICT(connection_id) DO UPDATE SET last_seen = CURRENT_TIMESTAMP`,
		connectionID, nullString(ipAddress),
	)
	if err != nil {
		return classify("RegisterConnection", err)
	}
	return nil
}

// BindConnection sets the 1:1 link on both sides and transitions the
// connection to assigned. Used by both auto-bind on socket accept and the
// AdminAPI's explicit assign action.
func (s *Store) BindConnection(connectionID, agentID string) error {
	return s.withTx("BindConnection", func(tx *sql.Tx) error {
		res, err := tx.Exec(
			`UPDATE connections SET assigned_agent_id = ?, status = 'assigned', last_seen = CURRENT_TIMESTAMP
			 WHERE connection_id = ?`,
			agentID, connectionID,
		)
		if err != nil {
			return classify("BindConnection", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("BindConnection: %w: connection %s", ErrNotFound, connectionID)
		}

		res, err = tx.Exec(
			`UPDATE agents SET connection_id = ?, last_seen = CURRENT_TIMESTAMP WHERE agent_id = ?`,
			connectionID, agentID,
		)
		if err != nil {
			return classify("BindConnection", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("BindConnection: %w: agent %s", ErrNotFound, agentID)
		}

		return nil
	})
}

// RejectConnection marks a connection rejected, used when an allowlist is
// configured and the proposed agent id is not on it.
func (s *Store) RejectConnection(connectionID string) error {
	_, err := s.db.Exec(
		`UPDATE connections SET status = 'rejected', last_seen = CURRENT_TIMESTAMP WHERE connection_id = ?`,
		connectionID,
	)
	if err != nil {
		return classify("RejectConnection", err)
	}
	return nil
}

// Disconnect clears the agent's connection binding and returns the
// connection to pending; rows are never deleted so catalog history survives
// socket teardown.
func (s *Store) Disconnect(connectionID string) error {
	return s.withTx("Disconnect", func(tx *sql.Tx) error {
		var agentID sql.NullString
		err := tx.QueryRow(
			`SELECT assigned_agent_id FROM connections WHERE connection_id = ?`,
			connectionID,
		).Scan(&agentID)
		if err == sql.ErrNoRows {
			return nil
		}
		if err != nil {
			return classify("Disconnect", err)
		}

		if _, err := tx.Exec(
			`UPDATE connections SET assigned_agent_id = NULL, status = 'pending', last_seen = CURRENT_TIMESTAMP
			 WHERE connection_id = ?`,
			connectionID,
		); err != nil {
			return classify("Disconnect", err)
		}

		if agentID.Valid {
			if _, err := tx.Exec(
				`UPDATE agents SET connection_id = NULL WHERE agent_id = ?`,
				agentID.String,
			); err != nil {
				return classify("Disconnect", err)
			}
		}

		return nil
	})
}

// GetConnection looks up a single connection row.
func (s *Store) GetConnection(connectionID string) (*Connection, error) {
	var c Connection
	var ip, assigned sql.NullString
	err := s.db.QueryRow(
		`SELECT connection_id, ip_address, assigned_agent_id, status, first_seen, last_seen
		 FROM connections WHERE connection_id = ?`,
		connectionID,
	).Scan(&c.ConnectionID, &ip, &assigned, &c.Status, &c.FirstSeen, &c.LastSeen)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("GetConnection: %w: %s", ErrNotFound, connectionID)
	}
	if err != nil {
		return nil, classify("GetConnection", err)
	}
	c.IPAddress = ip.String
	c.AssignedAgentID = assigned.String
	return &c, nil
}

// ListConnections returns all connections, newest-first by last_seen, for
// the AdminAPI catalog view.
func (s *Store) ListConnections() ([]Connection, error) {
	rows, err := s.db.Query(
		`SELECT connection_id, ip_address, assigned_agent_id, status, first_seen, last_seen
		 FROM connections ORDER BY last_seen DESC`,
	)
	if err != nil {
		return nil, classify("ListConnections", err)
	}
	defer rows.Close()

	var out []Connection
	for rows.Next() {
		var c Connection
		var ip, assigned sql.NullString
		if err := rows.Scan(&c.ConnectionID, &ip, &assigned, &c.Status, &c.FirstSeen, &c.LastSeen); err != nil {
			return nil, classify("ListConnections", err)
		}
		c.IPAddress = ip.String
		c.AssignedAgentID = assigned.String
		out = append(out, c)
	}
	if out == nil {
		out = []Connection{}
	}
	return out, rows.Err()
}
