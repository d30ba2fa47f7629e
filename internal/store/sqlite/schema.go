package sqlite

import (
	"database/sql"
	"fmt"
	"strings"
)

func createTables(db *sql.DB) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS locations (
			location_id TEXT PRIMARY KEY,
			name TEXT NOT NULL UNIQUE,
			address TEXT NOT NULL DEFAULT '',
			province TEXT NOT NULL DEFAULT '',
			phone TEXT NOT NULL DEFAULT '',
			active BOOLEAN NOT NULL DEFAULT 1,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS desks (
			desk_id TEXT PRIMARY KEY,
			location_id TEXT NOT NULL REFERENCES locations(location_id) ON DELETE CASCADE,
			desk_number TEXT NOT NULL,
			desk_name TEXT NOT NULL,
			service_type TEXT NOT NULL DEFAULT '',
			active BOOLEAN NOT NULL DEFAULT 1,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL,
			UNIQUE (location_id, desk_number)
		)`,

		`CREATE TABLE IF NOT EXISTS users (
			user_id TEXT PRIMARY KEY,
			username TEXT NOT NULL UNIQUE,
			full_name TEXT NOT NULL DEFAULT '',
			phone TEXT NOT NULL DEFAULT '',
			role TEXT NOT NULL CHECK (role IN ('staff', 'admin', 'superadmin')),
			location_id TEXT REFERENCES locations(location_id) ON DELETE SET NULL,
			active BOOLEAN NOT NULL DEFAULT 1,
			password_hash TEXT NOT NULL,
			created_at DATETIME NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS sessions (
			session_id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL REFERENCES users(user_id) ON DELETE CASCADE,
			expires_at DATETIME NOT NULL,
			created_at DATETIME NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS desk_sequences (
			desk_id TEXT NOT NULL REFERENCES desks(desk_id) ON DELETE CASCADE,
			service_day TEXT NOT NULL,
			next_number INTEGER NOT NULL,
			PRIMARY KEY (desk_id, service_day)
		)`,

		`CREATE TABLE IF NOT EXISTS tickets (
			ticket_id TEXT PRIMARY KEY,
			desk_id TEXT NOT NULL REFERENCES desks(desk_id) ON DELETE CASCADE,
			location_id TEXT NOT NULL REFERENCES locations(location_id) ON DELETE CASCADE,
			queue_number TEXT NOT NULL,
			sequence INTEGER NOT NULL,
			service_day TEXT NOT NULL,
			customer_name TEXT NOT NULL,
			customer_phone TEXT NOT NULL DEFAULT '',
			service_type TEXT NOT NULL,
			notes TEXT NOT NULL DEFAULT '',
			is_priority BOOLEAN NOT NULL DEFAULT 0,
			status TEXT NOT NULL CHECK (status IN ('waiting', 'in_progress', 'completed', 'cancelled')),
			handled_by TEXT REFERENCES users(user_id) ON DELETE SET NULL,
			created_at DATETIME NOT NULL,
			called_at DATETIME,
			started_at DATETIME,
			completed_at DATETIME,
			UNIQUE (desk_id, service_day, sequence)
		)`,

		`CREATE TABLE IF NOT EXISTS ticket_events (
			ticket_id TEXT NOT NULL REFERENCES tickets(ticket_id) ON DELETE CASCADE,
			ticket_seq INTEGER NOT NULL,
			type TEXT NOT NULL,
			actor_id TEXT NOT NULL DEFAULT '',
			payload TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			prev_hash TEXT NOT NULL,
			hash TEXT NOT NULL,
			PRIMARY KEY (ticket_id, ticket_seq)
		)`,

		`CREATE INDEX IF NOT EXISTS idx_tickets_desk_day_status ON tickets(desk_id, service_day, status)`,
		`CREATE INDEX IF NOT EXISTS idx_tickets_location_day_status ON tickets(location_id, service_day, status)`,
	}

	for _, q := range queries {
		if _, err := db.Exec(q); err != nil {
			return fmt.Errorf("exec migration %s: %w", trimSQL(q), err)
		}
	}
	return nil
}

func trimSQL(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > 60 {
		return s[:60] + "..."
	}
	return s
}
