package database

import (
	"database/sql"
	"fmt"
)

// ReplaceGrantMembers swaps the stored membership of one list for members.
func (db *DB) ReplaceGrantMembers(listID string, members []GrantMember) error {
	return db.withTx(func(tx *sql.Tx) error {
		if _, err := tx.Exec("DELETE FROM grant_members WHERE list_id = ?", listID); err != nil {
			return fmt.Errorf("clearing members of list %s: %w", listID, err)
		}
		stmt, err := tx.Prepare(`INSERT OR REPLACE INTO grant_members (list_id, email, builder_id)
			VALUES (?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, m := range members {
			if _, err := stmt.Exec(listID, m.Email, m.BuilderID); err != nil {
				return fmt.Errorf("inserting member %s: %w", m.BuilderID, err)
			}
		}
		return nil
	})
}

// GetGrantMembers returns the cached membership of a list.
func (db *DB) GetGrantMembers(listID string) ([]GrantMember, error) {
	rows, err := db.conn.Query(
		`SELECT list_id, email, builder_id, fetched_at FROM grant_members
		WHERE list_id = ? ORDER BY rowid`, listID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var members []GrantMember
	for rows.Next() {
		var m GrantMember
		if err := rows.Scan(&m.ListID, &m.Email, &m.BuilderID, &m.FetchedAt); err != nil {
			return nil, err
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

// ReplacePaidTrafficExclusions stores the corrected exclusion set.
func (db *DB) ReplacePaidTrafficExclusions(matches []PaidTrafficMatch) error {
	return db.withTx(func(tx *sql.Tx) error {
		if _, err := tx.Exec("DELETE FROM paid_traffic_exclusions"); err != nil {
			return fmt.Errorf("clearing exclusions: %w", err)
		}
		stmt, err := tx.Prepare(`INSERT OR REPLACE INTO paid_traffic_exclusions
			(agent_id, target_name, found_name, match_type, similarity) VALUES (?, ?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, m := range matches {
			if _, err := stmt.Exec(m.AgentID, m.TargetName, m.FoundName, m.MatchType, m.Similarity); err != nil {
				return fmt.Errorf("inserting exclusion %s: %w", m.AgentID, err)
			}
		}
		return nil
	})
}

// GetPaidTrafficExclusions returns the stored exclusion set.
func (db *DB) GetPaidTrafficExclusions() ([]PaidTrafficMatch, error) {
	rows, err := db.conn.Query(`SELECT agent_id, target_name, found_name, match_type, similarity
		FROM paid_traffic_exclusions ORDER BY rowid`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PaidTrafficMatch
	for rows.Next() {
		var m PaidTrafficMatch
		if err := rows.Scan(&m.AgentID, &m.TargetName, &m.FoundName, &m.MatchType, &m.Similarity); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// InsertClassificationRun records a classifier run.
func (db *DB) InsertClassificationRun(run ClassificationRun) error {
	_, err := db.conn.Exec(
		`INSERT INTO classification_runs
		(id, list_id, source, members, grant_agents, exclusions, removed_overlap, unresolved)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.ListID, run.Source, run.Members, run.GrantAgents,
		run.Exclusions, run.RemovedOverlap, run.Unresolved,
	)
	return err
}

// GetLastClassificationRun returns the most recent run, or nil.
func (db *DB) GetLastClassificationRun() (*ClassificationRun, error) {
	row := db.conn.QueryRow(
		`SELECT id, list_id, source, members, grant_agents, exclusions, removed_overlap, unresolved, created_at
		FROM classification_runs ORDER BY created_at DESC, rowid DESC LIMIT 1`,
	)
	var r ClassificationRun
	if err := row.Scan(&r.ID, &r.ListID, &r.Source, &r.Members, &r.GrantAgents,
		&r.Exclusions, &r.RemovedOverlap, &r.Unresolved, &r.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &r, nil
}

// GetStats returns aggregate database statistics.
func (db *DB) GetStats() (*Stats, error) {
	s := &Stats{}

	queries := []struct {
		sql  string
		dest *int
	}{
		{"SELECT COUNT(*) FROM agents", &s.TotalAgents},
		{"SELECT COUNT(*) FROM agents WHERE status = 'public'", &s.PublicAgents},
		{"SELECT COUNT(*) FROM agents WHERE status = 'private'", &s.PrivateAgents},
		{"SELECT COUNT(*) FROM agents WHERE price > 0", &s.PaidAgents},
		{"SELECT COUNT(*) FROM agents WHERE builder_grant_program = 1", &s.GrantAgents},
		{"SELECT COUNT(*) FROM paid_traffic_exclusions", &s.Exclusions},
		{"SELECT COUNT(*) FROM builders", &s.CachedBuilders},
		{"SELECT COUNT(*) FROM builders WHERE email IS NOT NULL AND email != ''", &s.BuildersWithMail},
		{"SELECT COUNT(*) FROM grant_members", &s.GrantMembers},
	}

	for _, q := range queries {
		if err := db.conn.QueryRow(q.sql).Scan(q.dest); err != nil {
			return nil, err
		}
	}

	return s, nil
}
