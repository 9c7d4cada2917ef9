package database

import (
	"database/sql"
	"fmt"
)

// Migration represents a single schema migration step.
type Migration struct {
	Version     int
	Description string
	Up          func(tx *sql.Tx) error
}

// migrations is the ordered list of all schema migrations.
// Append new migrations to the end with incrementing Version numbers.
var migrations = []Migration{
	{
		Version:     1,
		Description: "agents table",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
CREATE TABLE IF NOT EXISTS agents (
    agent_id TEXT PRIMARY KEY,
    agent_id_human TEXT,
    name TEXT,
    description TEXT,
    status TEXT,
    type TEXT,
    executions INTEGER,
    reviews_count INTEGER,
    reviews_score REAL,
    price REAL,
    authors TEXT,
    tags TEXT,
    created_at TEXT,
    updated_at TEXT
);
`)
			return err
		},
	},
	{
		Version:     2,
		Description: "grant flag, builders and cohort tables",
		Up: func(tx *sql.Tx) error {
			// Databases built by the export importer lack some agent columns.
			for _, col := range []struct{ name, decl string }{
				{"agent_id_human", "TEXT"},
				{"type", "TEXT"},
				{"price", "REAL"},
				{"authors", "TEXT"},
				{"tags", "TEXT"},
				{"updated_at", "TEXT"},
				{"builder_grant_program", "INTEGER DEFAULT 0"},
			} {
				if err := ensureColumn(tx, "agents", col.name, col.decl); err != nil {
					return err
				}
			}

			_, err := tx.Exec(`
CREATE TABLE IF NOT EXISTS builders (
    builder_id TEXT PRIMARY KEY,
    name TEXT,
    twitter_handle TEXT,
    avatar TEXT,
    email TEXT,
    first_name TEXT,
    last_name TEXT,
    linkedin_url TEXT,
    company TEXT,
    job_title TEXT,
    last_activity_date TEXT,
    credits_balance REAL,
    refreshed_at TEXT DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS grant_members (
    list_id TEXT NOT NULL,
    email TEXT NOT NULL,
    builder_id TEXT NOT NULL,
    fetched_at TEXT DEFAULT (datetime('now')),
    PRIMARY KEY (list_id, builder_id)
);

CREATE TABLE IF NOT EXISTS paid_traffic_exclusions (
    agent_id TEXT PRIMARY KEY,
    target_name TEXT NOT NULL,
    found_name TEXT NOT NULL,
    match_type TEXT NOT NULL CHECK(match_type IN ('exact', 'similar')),
    similarity REAL NOT NULL
);

CREATE TABLE IF NOT EXISTS classification_runs (
    id TEXT PRIMARY KEY,
    list_id TEXT NOT NULL,
    source TEXT NOT NULL,
    members INTEGER DEFAULT 0,
    grant_agents INTEGER DEFAULT 0,
    exclusions INTEGER DEFAULT 0,
    removed_overlap INTEGER DEFAULT 0,
    unresolved INTEGER DEFAULT 0,
    created_at TEXT DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_agents_status ON agents(status);
CREATE INDEX IF NOT EXISTS idx_agents_grant ON agents(builder_grant_program);
CREATE INDEX IF NOT EXISTS idx_builders_email ON builders(email);
CREATE INDEX IF NOT EXISTS idx_classification_runs_created ON classification_runs(created_at);
`)
			return err
		},
	},
}

// ensureColumn adds a column unless the table already has it.
func ensureColumn(tx *sql.Tx, table, column, decl string) error {
	rows, err := tx.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return fmt.Errorf("reading columns of %s: %w", table, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cid       int
			name      string
			ctype     string
			notNull   int
			dfltValue sql.NullString
			pk        int
		)
		if err := rows.Scan(&cid, &name, &ctype, &notNull, &dfltValue, &pk); err != nil {
			return err
		}
		if name == column {
			return nil
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}
	rows.Close()

	_, err = tx.Exec(fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, column, decl))
	if err != nil {
		return fmt.Errorf("adding %s.%s: %w", table, column, err)
	}
	return nil
}

// latestVersion returns the highest migration version number.
func latestVersion() int {
	if len(migrations) == 0 {
		return 0
	}
	return migrations[len(migrations)-1].Version
}
