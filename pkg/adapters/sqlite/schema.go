package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

type migration struct {
	version     int
	description string
	statements  []string
}

// migrations are applied in order, each in its own transaction, and recorded
// in schema_version. Never edit a released migration; append a new one.
var migrations = []migration{
	{
		version:     1,
		description: "runtime tables",
		statements: []string{
			`CREATE TABLE bpm_instance (
				id             TEXT NOT NULL PRIMARY KEY,
				definition_id  TEXT NOT NULL,
				definition_key TEXT NOT NULL,
				business_key   TEXT,
				revision       INTEGER NOT NULL,
				started_at     INTEGER NOT NULL,
				ended_at       INTEGER,
				data           BLOB NOT NULL
			)`,
			`CREATE INDEX bpm_instance_definition ON bpm_instance (definition_id)`,
			`CREATE TABLE bpm_execution (
				id            TEXT NOT NULL PRIMARY KEY,
				process_id    TEXT NOT NULL,
				parent_id     TEXT,
				activity_id   TEXT,
				is_scope      INTEGER NOT NULL,
				is_active     INTEGER NOT NULL,
				is_waiting    INTEGER NOT NULL,
				is_concurrent INTEGER NOT NULL,
				state         TEXT NOT NULL,
				created_at    INTEGER NOT NULL
			)`,
			`CREATE INDEX bpm_execution_process ON bpm_execution (process_id)`,
			`CREATE INDEX bpm_execution_activity ON bpm_execution (activity_id)`,
			`CREATE TABLE bpm_event_subscription (
				id           TEXT NOT NULL PRIMARY KEY,
				process_id   TEXT NOT NULL,
				execution_id TEXT NOT NULL,
				kind         TEXT NOT NULL,
				name         TEXT NOT NULL,
				activity_id  TEXT NOT NULL,
				created_at   INTEGER NOT NULL,
				UNIQUE (execution_id, kind, name)
			)`,
			`CREATE INDEX bpm_event_subscription_name ON bpm_event_subscription (kind, name)`,
			`CREATE TABLE bpm_user_task (
				id           TEXT NOT NULL PRIMARY KEY,
				process_id   TEXT NOT NULL,
				execution_id TEXT NOT NULL,
				activity_id  TEXT NOT NULL,
				name         TEXT NOT NULL,
				description  TEXT,
				assignee     TEXT,
				priority     INTEGER NOT NULL DEFAULT 0,
				created_at   INTEGER NOT NULL
			)`,
			`CREATE INDEX bpm_user_task_process ON bpm_user_task (process_id)`,
			`CREATE INDEX bpm_user_task_assignee ON bpm_user_task (assignee)`,
		},
	},
	{
		version:     2,
		description: "history tables",
		statements: []string{
			`CREATE TABLE history_execution (
				id            TEXT NOT NULL PRIMARY KEY,
				process_id    TEXT NOT NULL,
				definition_id TEXT NOT NULL,
				started_at    INTEGER NOT NULL,
				ended_at      INTEGER,
				duration      INTEGER CHECK (duration >= 0)
			)`,
			`CREATE INDEX history_execution_process ON history_execution (process_id)`,
			`CREATE INDEX history_execution_definition ON history_execution (definition_id)`,
			`CREATE INDEX history_execution_started ON history_execution (started_at)`,
			`CREATE INDEX history_execution_ended ON history_execution (ended_at)`,
			`CREATE TABLE history_task (
				id             TEXT NOT NULL PRIMARY KEY,
				execution_id   TEXT,
				definition_key TEXT,
				started_at     INTEGER NOT NULL,
				ended_at       INTEGER,
				duration       INTEGER CHECK (duration >= 0),
				completed      INTEGER NOT NULL DEFAULT 0,
				description    TEXT,
				assignee       TEXT,
				priority       INTEGER NOT NULL CHECK (priority >= 0)
			)`,
			`CREATE INDEX history_task_execution ON history_task (execution_id)`,
			`CREATE TABLE history_activity (
				id           TEXT NOT NULL PRIMARY KEY,
				execution_id TEXT NOT NULL,
				task_id      TEXT,
				activity     TEXT NOT NULL,
				started_at   INTEGER NOT NULL,
				ended_at     INTEGER,
				duration     INTEGER CHECK (duration >= 0),
				completed    INTEGER NOT NULL DEFAULT 0
			)`,
			`CREATE INDEX history_activity_execution ON history_activity (execution_id)`,
			`CREATE INDEX history_activity_activity ON history_activity (activity)`,
			`CREATE INDEX history_activity_started ON history_activity (started_at)`,
			`CREATE INDEX history_activity_ended ON history_activity (ended_at)`,
		},
	},
}

// migrate brings the schema up to the latest version.
func migrate(ctx context.Context, db *sql.DB) (int, error) {
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_version (
		version     INTEGER NOT NULL PRIMARY KEY,
		description TEXT NOT NULL,
		applied_at  INTEGER NOT NULL
	)`); err != nil {
		return 0, fmt.Errorf("failed to create schema_version: %w", err)
	}

	var current int
	if err := db.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_version`).Scan(&current); err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		if err := apply(ctx, db, m); err != nil {
			return current, fmt.Errorf("migration %d (%s): %w", m.version, m.description, err)
		}
		current = m.version
	}
	return current, nil
}

func apply(ctx context.Context, db *sql.DB, m migration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	for _, stmt := range m.statements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO schema_version (version, description, applied_at) VALUES (?, ?, ?)`,
		m.version, m.description, time.Now().UnixMilli(),
	); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}
