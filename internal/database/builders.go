package database

import (
	"database/sql"
	"fmt"
)

const builderColumns = `builder_id, name, twitter_handle, avatar, email, first_name, last_name,
	linkedin_url, company, job_title, last_activity_date, credits_balance, refreshed_at`

// UpsertBuilders inserts or refreshes builder profiles. Non-null incoming
// values overwrite stored ones; nulls keep what is already cached.
func (db *DB) UpsertBuilders(builders []Builder) (int, error) {
	err := db.withTx(func(tx *sql.Tx) error {
		stmt, err := tx.Prepare(`INSERT INTO builders (
				builder_id, name, twitter_handle, avatar, email, first_name, last_name,
				linkedin_url, company, job_title, last_activity_date, credits_balance, refreshed_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, datetime('now'))
			ON CONFLICT(builder_id) DO UPDATE SET
				name = COALESCE(excluded.name, builders.name),
				twitter_handle = COALESCE(excluded.twitter_handle, builders.twitter_handle),
				avatar = COALESCE(excluded.avatar, builders.avatar),
				email = COALESCE(excluded.email, builders.email),
				first_name = COALESCE(excluded.first_name, builders.first_name),
				last_name = COALESCE(excluded.last_name, builders.last_name),
				linkedin_url = COALESCE(excluded.linkedin_url, builders.linkedin_url),
				company = COALESCE(excluded.company, builders.company),
				job_title = COALESCE(excluded.job_title, builders.job_title),
				last_activity_date = COALESCE(excluded.last_activity_date, builders.last_activity_date),
				credits_balance = COALESCE(excluded.credits_balance, builders.credits_balance),
				refreshed_at = datetime('now')`)
		if err != nil {
			return fmt.Errorf("preparing builder upsert: %w", err)
		}
		defer stmt.Close()

		for _, b := range builders {
			if _, err := stmt.Exec(b.BuilderID, b.Name, b.TwitterHandle, b.Avatar, b.Email,
				b.FirstName, b.LastName, b.LinkedInURL, b.Company, b.JobTitle,
				b.LastActivityDate, b.CreditsBalance); err != nil {
				return fmt.Errorf("upserting builder %s: %w", b.BuilderID, err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(builders), nil
}

// GetBuilder returns a cached builder profile, or nil if none is stored.
func (db *DB) GetBuilder(builderID string) (*Builder, error) {
	row := db.conn.QueryRow("SELECT "+builderColumns+" FROM builders WHERE builder_id = ?", builderID)
	b, err := scanBuilderRow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return b, nil
}

// GetBuilders returns every cached builder keyed by identifier.
func (db *DB) GetBuilders() (map[string]Builder, error) {
	rows, err := db.conn.Query("SELECT " + builderColumns + " FROM builders")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]Builder)
	for rows.Next() {
		b, err := scanBuilderRow(rows)
		if err != nil {
			return nil, err
		}
		out[b.BuilderID] = *b
	}
	return out, rows.Err()
}

// GetEnrichedBuilderIDs returns the identifiers that already carry CRM data.
func (db *DB) GetEnrichedBuilderIDs() (map[string]bool, error) {
	rows, err := db.conn.Query("SELECT builder_id FROM builders WHERE email IS NOT NULL AND email != ''")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out[id] = true
	}
	return out, rows.Err()
}

func scanBuilderRow(s scanner) (*Builder, error) {
	var b Builder
	if err := s.Scan(&b.BuilderID, &b.Name, &b.TwitterHandle, &b.Avatar, &b.Email,
		&b.FirstName, &b.LastName, &b.LinkedInURL, &b.Company, &b.JobTitle,
		&b.LastActivityDate, &b.CreditsBalance, &b.RefreshedAt); err != nil {
		return nil, err
	}
	return &b, nil
}
