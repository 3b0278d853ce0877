package store

import (
	"database/sql"
	"fmt"
	"strings"
)

// InsertContextAndChunks inserts one parent Context row plus its ordered
// chunk rows inside a single transaction; partial success is never
// observable to callers. It returns the new context id and the ids of the
// inserted chunks in the same order as chunks.
func (s *Store) InsertContextAndChunks(agentID, sessionID, projectID string, chunks []NewChunkInput) (int64, []int64, error) {
	if len(chunks) == 0 {
		return 0, nil, classify("InsertContextAndChunks", fmt.Errorf("no chunks to insert"))
	}

	var contextID int64
	chunkIDs := make([]int64, 0, len(chunks))

	err := s.withTx("InsertContextAndChunks", func(tx *sql.Tx) error {
		res, err := tx.Exec(
			`INSERT INTO contexts (agent_id, session_id, project_id) VALUES (?, ?, ?)`,
			agentID, sessionID, projectID,
		)
		if err != nil {
			return classify("insertContext", err)
		}

		contextID, err = res.LastInsertId()
		if err != nil {
			return classify("insertContext", err)
		}

		for _, c := range chunks {
			res, err := tx.Exec(
				`INSERT INTO context_chunks (context_id, chunk_index, chunk_content, agent_id, session_id, project_id)
				 VALUES (?, ?, ?, ?, ?, ?)`,
				contextID, c.ChunkIndex, c.Content, agentID, sessionID, projectID,
			)
			if err != nil {
				return classify("insertChunk", err)
			}
			chunkID, err := res.LastInsertId()
			if err != nil {
				return classify("insertChunk", err)
			}
			chunkIDs = append(chunkIDs, chunkID)
		}

		return nil
	})
	if err != nil {
		return 0, nil, err
	}

	return contextID, chunkIDs, nil
}

// Predicate is an opaque WHERE-clause fragment plus its bind arguments,
// composed by the permission resolver and consumed here without the Store
// knowing anything about permission semantics.
type Predicate struct {
	clause string
	args   []interface{}
}

// ByAuthor restricts results to chunks authored by agentID.
func ByAuthor(agentID string) Predicate {
	return Predicate{clause: "agent_id = ?", args: []interface{}{agentID}}
}

// BySession restricts results to chunks within sessionID.
func BySession(sessionID string) Predicate {
	return Predicate{clause: "session_id = ?", args: []interface{}{sessionID}}
}

// ByProject restricts results to chunks within projectID.
func ByProject(projectID string) Predicate {
	return Predicate{clause: "project_id = ?", args: []interface{}{projectID}}
}

// ByTeamIntersection restricts results to chunks authored by an agent in
// session sessionID whose teams intersect teamIDs, widened with requesterID
// so self-authored chunks are always visible under the team level.
func ByTeamIntersection(sessionID, requesterID string, teamIDs []string) Predicate {
	if len(teamIDs) == 0 {
		return Predicate{
			clause: "session_id = ? AND agent_id = ?",
			args:   []interface{}{sessionID, requesterID},
		}
	}

	args := make([]interface{}, 0, len(teamIDs)+2)
	args = append(args, sessionID, requesterID)
	teamChecks := make([]string, len(teamIDs))
	for i, t := range teamIDs {
		teamChecks[i] = "agents.teams LIKE ?"
		args = append(args, "%\""+t+"\"%")
	}

	clause := fmt.Sprintf(
		`session_id = ? AND (agent_id = ? OR context_chunks.agent_id IN (
			SELECT agents.agent_id FROM agents WHERE %s
		))`,
		strings.Join(teamChecks, " OR "),
	)

	return Predicate{clause: clause, args: args}
}

// SinceAfter combines a predicate with an additional created_at > since_ts
// constraint.
func (p Predicate) SinceAfter(sinceTS *string) Predicate {
	if sinceTS == nil {
		return p
	}
	return Predicate{
		clause: p.clause + " AND created_at > ?",
		args:   append(append([]interface{}{}, p.args...), *sinceTS),
	}
}

// And combines two predicates with AND, used by the self permission level
// which must satisfy both author and session constraints together.
func And(a, b Predicate) Predicate {
	return Predicate{
		clause: fmt.Sprintf("(%s) AND (%s)", a.clause, b.clause),
		args:   append(append([]interface{}{}, a.args...), b.args...),
	}
}

// ListChunksForAgent executes the resolver-built predicate and returns the
// most recent limit chunks, newest first, tie-broken by (context_id,
// chunk_index) ascending.
func (s *Store) ListChunksForAgent(p Predicate, limit int) ([]ChunkRecord, error) {
	if limit <= 0 {
		limit = 10
	}

	query := fmt.Sprintf(
		`SELECT id, context_id, chunk_index, chunk_content, created_at
		 FROM context_chunks
		 WHERE %s
		 ORDER BY created_at DESC, context_id ASC, chunk_index ASC
		 LIMIT ?`,
		p.clause,
	)

	args := append(append([]interface{}{}, p.args...), limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, classify("ListChunksForAgent", err)
	}
	defer rows.Close()

	var out []ChunkRecord
	for rows.Next() {
		var r ChunkRecord
		if err := rows.Scan(&r.ChunkID, &r.ContextID, &r.ChunkIndex, &r.ChunkContent, &r.CreatedAt); err != nil {
			return nil, classify("ListChunksForAgent", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("ListChunksForAgent", err)
	}

	if out == nil {
		out = []ChunkRecord{}
	}
	return out, nil
}

// ListContexts returns contexts newest-first for the AdminAPI catalog view.
func (s *Store) ListContexts(limit int) ([]Context, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.Query(
		`SELECT id, agent_id, session_id, project_id, created_at
		 FROM contexts
		 WHERE deleted_at IS NULL
		 ORDER BY created_at DESC
		 LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, classify("ListContexts", err)
	}
	defer rows.Close()

	var out []Context
	for rows.Next() {
		var c Context
		if err := rows.Scan(&c.ID, &c.AgentID, &c.SessionID, &c.ProjectID, &c.CreatedAt); err != nil {
			return nil, classify("ListContexts", err)
		}
		out = append(out, c)
	}
	if out == nil {
		out = []Context{}
	}
	return out, rows.Err()
}

// ChunkCount returns the number of chunks belonging to contextID, used by
// the AdminAPI context listing.
func (s *Store) ChunkCount(contextID int64) (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM context_chunks WHERE context_id = ?`, contextID).Scan(&n)
	if err != nil {
		return 0, classify("ChunkCount", err)
	}
	return n, nil
}

// ContextSummary returns a short preview of contextID's first chunk,
// truncated to 100 runes, for the AdminAPI context listing.
func (s *Store) ContextSummary(contextID int64) (string, error) {
	var content string
	err := s.db.QueryRow(
		`SELECT chunk_content FROM context_chunks WHERE context_id = ? ORDER BY chunk_index ASC LIMIT 1`,
		contextID,
	).Scan(&content)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", classify("ContextSummary", err)
	}

	r := []rune(content)
	if len(r) > 100 {
		return string(r[:100]), nil
	}
	return content, nil
}

// DeleteContext soft-deletes the parent row and hard-deletes its chunks and
// embeddings, cascading as spec'd.
func (s *Store) DeleteContext(contextID int64) error {
	return s.withTx("DeleteContext", func(tx *sql.Tx) error {
		if _, err := tx.Exec(
			`DELETE FROM context_chunk_embeddings WHERE chunk_id IN (SELECT id FROM context_chunks WHERE context_id = ?)`,
			contextID,
		); err != nil {
			return classify("DeleteContext", err)
		}

		if _, err := tx.Exec(`DELETE FROM context_chunks WHERE context_id = ?`, contextID); err != nil {
			return classify("DeleteContext", err)
		}

		res, err := tx.Exec(
			`UPDATE contexts SET deleted_at = CURRENT_TIMESTAMP WHERE id = ? AND deleted_at IS NULL`,
			contextID,
		)
		if err != nil {
			return classify("DeleteContext", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return classify("DeleteContext", err)
		}
		if n == 0 {
			return fmt.Errorf("DeleteContext: %w: context %d", ErrNotFound, contextID)
		}
		return nil
	})
}
