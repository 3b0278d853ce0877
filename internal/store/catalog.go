package store

import "database/sql"

// ListProjects returns all non-deleted projects for the AdminAPI.
func (s *Store) ListProjects() ([]Project, error) {
	rows, err := s.db.Query(
		`SELECT id, name, description, created_at FROM projects WHERE deleted_at IS NULL ORDER BY created_at DESC`,
	)
	if err != nil {
		return nil, classify("ListProjects", err)
	}
	defer rows.Close()

	var out []Project
	for rows.Next() {
		var p Project
		var description sql.NullString
		if err := rows.Scan(&p.ID, &p.Name, &description, &p.CreatedAt); err != nil {
			return nil, classify("ListProjects", err)
		}
		p.Description = description.String
		out = append(out, p)
	}
	if out == nil {
		out = []Project{}
	}
	return out, rows.Err()
}

// ListSessions returns all non-deleted sessions for the AdminAPI.
func (s *Store) ListSessions() ([]Session, error) {
	rows, err := s.db.Query(
		`SELECT id, project_id, name, created_at FROM sessions WHERE deleted_at IS NULL ORDER BY created_at DESC`,
	)
	if err != nil {
		return nil, classify("ListSessions", err)
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		var sess Session
		if err := rows.Scan(&sess.ID, &sess.ProjectID, &sess.Name, &sess.CreatedAt); err != nil {
			return nil, classify("ListSessions", err)
		}
		out = append(out, sess)
	}
	if out == nil {
		out = []Session{}
	}
	return out, rows.Err()
}

// ListTeams returns all teams for the AdminAPI.
func (s *Store) ListTeams() ([]Team, error) {
	rows, err := s.db.Query(`SELECT team_id, name, description FROM teams ORDER BY name ASC`)
	if err != nil {
		return nil, classify("ListTeams", err)
	}
	defer rows.Close()

	var out []Team
	for rows.Next() {
		var t Team
		var description sql.NullString
		if err := rows.Scan(&t.TeamID, &t.Name, &description); err != nil {
			return nil, classify("ListTeams", err)
		}
		t.Description = description.String
		out = append(out, t)
	}
	if out == nil {
		out = []Team{}
	}
	return out, rows.Err()
}
