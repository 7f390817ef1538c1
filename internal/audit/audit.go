// Package audit records security-relevant gateway events in SQLite.
// Message payloads are never written here; the log covers authentication,
// claiming, displacement, pairing outcomes and session closure only.
package audit

import (
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Actions recorded by the gateway.
const (
	ActionGatewayClaimed   = "gateway_claimed"
	ActionAuthOK           = "auth_ok"
	ActionAuthFailed       = "auth_failed"
	ActionSessionDisplaced = "session_displaced"
	ActionSessionClosed    = "session_closed"
	ActionPairingRequested = "pairing_requested"
	ActionPairingRejected  = "pairing_rejected"
)

// Event is a single audit log entry.
type Event struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Action    string    `json:"action"`
	DeviceID  string    `json:"deviceId,omitempty"`
	Role      string    `json:"role,omitempty"`
	Detail    string    `json:"detail,omitempty"`
}

// Log is the SQLite-backed audit log.
type Log struct {
	db *sql.DB
	mu sync.RWMutex
}

// Open opens (creating if needed) the audit database at dbPath.
func Open(dbPath string) (*Log, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open audit database: %w", err)
	}

	l := &Log{db: db}
	if err := l.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return l, nil
}

// Close closes the audit log.
func (l *Log) Close() error {
	return l.db.Close()
}

func (l *Log) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS events (
			id TEXT PRIMARY KEY,
			timestamp DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			action TEXT NOT NULL,
			device_id TEXT,
			role TEXT,
			detail TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_timestamp ON events(timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_events_device ON events(device_id)`,
	}
	for _, m := range migrations {
		if _, err := l.db.Exec(m); err != nil {
			return fmt.Errorf("execute migration: %w", err)
		}
	}
	return nil
}

// Record inserts an event. Empty ID and Timestamp fields are filled in.
func (l *Log) Record(e Event) error {
	if e.ID == "" {
		e.ID = generateID("evt")
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	_, err := l.db.Exec(`
		INSERT INTO events (id, timestamp, action, device_id, role, detail)
		VALUES (?, ?, ?, ?, ?, ?)
	`, e.ID, e.Timestamp, e.Action, e.DeviceID, e.Role, e.Detail)
	if err != nil {
		return fmt.Errorf("record event: %w", err)
	}
	return nil
}

// RecentEvents returns up to limit events, newest first, optionally
// filtered by device id.
func (l *Log) RecentEvents(limit int, deviceID string) ([]*Event, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	query := `SELECT id, timestamp, action, device_id, role, detail FROM events`
	args := []interface{}{}
	if deviceID != "" {
		query += ` WHERE device_id = ?`
		args = append(args, deviceID)
	}
	query += ` ORDER BY timestamp DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := l.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		var e Event
		var deviceID, role, detail sql.NullString
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.Action, &deviceID, &role, &detail); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.DeviceID = deviceID.String
		e.Role = role.String
		e.Detail = detail.String
		events = append(events, &e)
	}
	return events, rows.Err()
}

// generateID creates a unique ID with the given prefix.
func generateID(prefix string) string {
	b := make([]byte, 8)
	rand.Read(b)
	return fmt.Sprintf("%s_%s", prefix, hex.EncodeToString(b))
}
