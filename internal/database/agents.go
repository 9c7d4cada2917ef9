package database

import (
	"database/sql"
	"encoding/json"
	"fmt"
)

const agentColumns = `agent_id, agent_id_human, name, description, status, type,
	executions, reviews_count, reviews_score, price, authors, tags,
	created_at, updated_at, builder_grant_program`

// AgentFilter narrows GetAgents. Zero value returns every agent in
// ingestion order.
type AgentFilter struct {
	Status      string
	NewestFirst bool
}

// ReplaceAgents deletes every agent and inserts the given set in one
// transaction. Grant flags are cleared until the classifier runs again.
func (db *DB) ReplaceAgents(agents []Agent) (int, error) {
	var n int
	err := db.withTx(func(tx *sql.Tx) error {
		if _, err := tx.Exec("DELETE FROM agents"); err != nil {
			return fmt.Errorf("clearing agents: %w", err)
		}
		var err error
		n, err = insertAgents(tx, agents, `INSERT OR REPLACE INTO agents (`+agentColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0)`)
		return err
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

// UpsertAgents inserts or updates agents, keeping any existing grant flag.
func (db *DB) UpsertAgents(agents []Agent) (int, error) {
	var n int
	err := db.withTx(func(tx *sql.Tx) error {
		var err error
		n, err = insertAgents(tx, agents, `INSERT INTO agents (`+agentColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0)
			ON CONFLICT(agent_id) DO UPDATE SET
				agent_id_human = excluded.agent_id_human,
				name = excluded.name,
				description = excluded.description,
				status = excluded.status,
				type = excluded.type,
				executions = excluded.executions,
				reviews_count = excluded.reviews_count,
				reviews_score = excluded.reviews_score,
				price = excluded.price,
				authors = excluded.authors,
				tags = excluded.tags,
				created_at = excluded.created_at,
				updated_at = excluded.updated_at`)
		return err
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

func insertAgents(tx *sql.Tx, agents []Agent, query string) (int, error) {
	stmt, err := tx.Prepare(query)
	if err != nil {
		return 0, fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	for _, a := range agents {
		var tagsJSON *string
		if a.Tags != nil {
			data, err := json.Marshal(a.Tags)
			if err != nil {
				return 0, err
			}
			s := string(data)
			tagsJSON = &s
		}
		var authors *string
		if a.Authors != "" {
			authors = &a.Authors
		}
		if _, err := stmt.Exec(
			a.AgentID, a.AgentIDHuman, a.Name, a.Description, a.Status, a.Type,
			a.Executions, a.ReviewsCount, a.ReviewsScore, a.Price, authors, tagsJSON,
			a.CreatedAt, a.UpdatedAt,
		); err != nil {
			return 0, fmt.Errorf("inserting agent %s: %w", a.AgentID, err)
		}
	}
	return len(agents), nil
}

// GetAgents returns agents matching the filter.
func (db *DB) GetAgents(f AgentFilter) ([]Agent, error) {
	query := "SELECT " + agentColumns + " FROM agents"
	var args []any
	if f.Status != "" {
		query += " WHERE status = ?"
		args = append(args, f.Status)
	}
	if f.NewestFirst {
		query += " ORDER BY created_at DESC, rowid"
	} else {
		query += " ORDER BY rowid"
	}

	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAgents(rows)
}

// GetAgent returns a single agent by ID.
func (db *DB) GetAgent(agentID string) (*Agent, error) {
	row := db.conn.QueryRow("SELECT "+agentColumns+" FROM agents WHERE agent_id = ?", agentID)
	a, err := scanAgent(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}

// SetGrantProgramAgents resets every agent's grant flag to 0, then sets it
// to 1 for the given IDs, committing once. Returns the number flagged.
func (db *DB) SetGrantProgramAgents(agentIDs []string) (int, error) {
	var flagged int
	err := db.withTx(func(tx *sql.Tx) error {
		if _, err := tx.Exec("UPDATE agents SET builder_grant_program = 0"); err != nil {
			return fmt.Errorf("resetting grant flags: %w", err)
		}
		stmt, err := tx.Prepare("UPDATE agents SET builder_grant_program = 1 WHERE agent_id = ?")
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, id := range agentIDs {
			res, err := stmt.Exec(id)
			if err != nil {
				return fmt.Errorf("flagging agent %s: %w", id, err)
			}
			n, _ := res.RowsAffected()
			flagged += int(n)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return flagged, nil
}

// GetGrantProgramAgentIDs returns IDs of agents currently flagged.
func (db *DB) GetGrantProgramAgentIDs() ([]string, error) {
	rows, err := db.conn.Query("SELECT agent_id FROM agents WHERE builder_grant_program = 1 ORDER BY rowid")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAgentRow(s scanner) (*Agent, error) {
	var (
		a                       Agent
		name, desc, status      sql.NullString
		authors, tagsJSON       sql.NullString
		executions, reviewCount sql.NullInt64
		score                   sql.NullFloat64
		grant                   sql.NullInt64
	)
	if err := s.Scan(&a.AgentID, &a.AgentIDHuman, &name, &desc, &status, &a.Type,
		&executions, &reviewCount, &score, &a.Price, &authors, &tagsJSON,
		&a.CreatedAt, &a.UpdatedAt, &grant); err != nil {
		return nil, err
	}
	a.Name = name.String
	a.Description = desc.String
	a.Status = status.String
	a.Executions = executions.Int64
	a.ReviewsCount = reviewCount.Int64
	a.ReviewsScore = score.Float64
	a.Authors = authors.String
	a.BuilderGrantProgram = grant.Int64 == 1

	if tagsJSON.Valid && tagsJSON.String != "" {
		if err := json.Unmarshal([]byte(tagsJSON.String), &a.Tags); err != nil {
			a.Tags = nil
		}
	}
	return &a, nil
}

func scanAgents(rows *sql.Rows) ([]Agent, error) {
	var agents []Agent
	for rows.Next() {
		a, err := scanAgentRow(rows)
		if err != nil {
			return nil, err
		}
		agents = append(agents, *a)
	}
	return agents, rows.Err()
}

func scanAgent(row *sql.Row) (*Agent, error) {
	return scanAgentRow(row)
}
