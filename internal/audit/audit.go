// Package audit provides the durable, write-only event trail. The engine
// records events here and never reads them back; the files exist for
// after-the-fact inspection of a session.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// Event types recorded by the engine.
const (
	EventSessionCreated   = "session_created"
	EventMemberJoined     = "member_joined"
	EventSessionStarted   = "session_started"
	EventRoundStarted     = "round_started"
	EventRoundCompleted   = "round_completed"
	EventLLMInteraction   = "llm_interaction"
	EventVotingStarted    = "voting_started"
	EventVoteCast         = "vote_cast"
	EventTieBreak         = "tie_break"
	EventSessionCompleted = "session_completed"
	EventSessionCancelled = "session_cancelled"
)

// Trail is the write-only sink interface.
type Trail interface {
	Record(ctx context.Context, sessionID, eventType string, payload interface{}) error
	Close() error
}

// SQLiteTrail implements Trail using SQLite.
type SQLiteTrail struct {
	db *sql.DB
}

// NewSQLiteTrail opens (and migrates) the audit database.
func NewSQLiteTrail(dsn string) (*SQLiteTrail, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit database: %w", err)
	}

	trail := &SQLiteTrail{db: db}
	if err := trail.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate audit database: %w", err)
	}
	return trail, nil
}

var _ Trail = (*SQLiteTrail)(nil)

func (t *SQLiteTrail) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS audit_events (
			event_id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			ts INTEGER NOT NULL,
			type TEXT NOT NULL,
			payload TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_session ON audit_events(session_id, ts)`,
	}
	for _, m := range migrations {
		if _, err := t.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\n%s", err, m)
		}
	}
	return nil
}

// Record appends one event. Payload is marshaled to JSON.
func (t *SQLiteTrail) Record(ctx context.Context, sessionID, eventType string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}
	_, err = t.db.ExecContext(ctx,
		`INSERT INTO audit_events (event_id, session_id, ts, type, payload) VALUES (?, ?, ?, ?, ?)`,
		"evt_"+uuid.New().String()[:8], sessionID, time.Now().UnixMilli(), eventType, string(data))
	return err
}

// Close closes the database connection.
func (t *SQLiteTrail) Close() error {
	return t.db.Close()
}

// NopTrail discards all events. Used in tests and when auditing is disabled.
type NopTrail struct{}

var _ Trail = (*NopTrail)(nil)

// Record discards the event.
func (NopTrail) Record(ctx context.Context, sessionID, eventType string, payload interface{}) error {
	return nil
}

// Close is a no-op.
func (NopTrail) Close() error { return nil }
