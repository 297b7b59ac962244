package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// DB wraps the SQLite database connection and provides logging methods
type DB struct {
	conn *sql.DB
	path string
}

// Open opens or creates the SQLite database at the specified path
func Open(path string) (*DB, error) {
	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable WAL mode for better concurrency
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	db := &DB{
		conn: conn,
		path: path,
	}

	if err := db.initSchema(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return db, nil
}

// Close closes the database connection
func (db *DB) Close() error {
	if db.conn != nil {
		// Checkpoint the WAL to ensure all data is written to the main database file
		db.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
		return db.conn.Close()
	}
	return nil
}

// Flush forces a WAL checkpoint to write pending changes to the main database file
func (db *DB) Flush() error {
	if db.conn != nil {
		// Use RESTART mode to force checkpoint even if there are active readers
		_, err := db.conn.Exec("PRAGMA wal_checkpoint(RESTART)")
		return err
	}
	return nil
}

// initSchema creates the database tables if they don't exist
func (db *DB) initSchema() error {
	schema := `
	-- Device attach/detach history
	CREATE TABLE IF NOT EXISTS device_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		method TEXT NOT NULL,
		handle TEXT NOT NULL,
		event_type TEXT NOT NULL,
		timestamp DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	-- Relay process state transitions
	CREATE TABLE IF NOT EXISTS relay_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		old_state TEXT NOT NULL,
		new_state TEXT NOT NULL,
		timestamp DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	-- Internet sharing lifecycle events
	CREATE TABLE IF NOT EXISTS nat_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		method TEXT NOT NULL,
		event_type TEXT NOT NULL,
		details TEXT,
		timestamp DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	-- Daemon lifecycle events
	CREATE TABLE IF NOT EXISTS daemon_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		event_type TEXT NOT NULL,
		details TEXT,
		timestamp DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	-- Indexes for common queries
	CREATE INDEX IF NOT EXISTS idx_device_events_timestamp ON device_events(timestamp);
	CREATE INDEX IF NOT EXISTS idx_daemon_events_timestamp ON daemon_events(timestamp);
	CREATE INDEX IF NOT EXISTS idx_device_events_handle ON device_events(handle);
	CREATE INDEX IF NOT EXISTS idx_relay_events_timestamp ON relay_events(timestamp);
	CREATE INDEX IF NOT EXISTS idx_nat_events_timestamp ON nat_events(timestamp);
	`

	_, err := db.conn.Exec(schema)
	return err
}

// DeviceEvent represents a device attach or detach
type DeviceEvent struct {
	ID        int64
	Method    string
	Handle    string
	EventType string
	Timestamp time.Time
}

// LogDeviceEvent logs a device attach or detach to the database
func (db *DB) LogDeviceEvent(method, handle, eventType string) error {
	// Retry briefly if database is locked (3 attempts, 5ms between)
	// This is best-effort - we don't want to block daemon shutdown
	maxRetries := 3
	for i := 0; i < maxRetries; i++ {
		_, err := db.conn.Exec(
			`INSERT INTO device_events (method, handle, event_type, timestamp)
			 VALUES (?, ?, ?, ?)`,
			method, handle, eventType, time.Now(),
		)
		if err == nil {
			return nil
		}
		if strings.Contains(err.Error(), "database is locked") || strings.Contains(err.Error(), "SQLITE_BUSY") {
			time.Sleep(5 * time.Millisecond)
			continue
		}
		return err
	}
	return fmt.Errorf("failed to log device event after %d retries: database locked", maxRetries)
}

// RelayEvent represents a relay process state transition
type RelayEvent struct {
	ID        int64
	OldState  string
	NewState  string
	Timestamp time.Time
}

// LogRelayEvent logs a relay state transition to the database
func (db *DB) LogRelayEvent(oldState, newState string) error {
	_, err := db.conn.Exec(
		`INSERT INTO relay_events (old_state, new_state, timestamp)
		 VALUES (?, ?, ?)`,
		oldState, newState, time.Now(),
	)
	return err
}

// NatEvent represents an internet sharing lifecycle event
type NatEvent struct {
	ID        int64
	Method    string
	EventType string
	Details   string
	Timestamp time.Time
}

// LogNatEvent logs an internet sharing event to the database
func (db *DB) LogNatEvent(method, eventType, details string) error {
	_, err := db.conn.Exec(
		`INSERT INTO nat_events (method, event_type, details, timestamp)
		 VALUES (?, ?, ?, ?)`,
		method, eventType, details, time.Now(),
	)
	return err
}

// DaemonEvent represents a daemon lifecycle event
type DaemonEvent struct {
	ID        int64
	EventType string
	Details   string
	Timestamp time.Time
}

// LogDaemonEvent logs a daemon lifecycle event to the database
func (db *DB) LogDaemonEvent(eventType, details string) error {
	_, err := db.conn.Exec(
		`INSERT INTO daemon_events (event_type, details, timestamp)
		 VALUES (?, ?, ?)`,
		eventType, details, time.Now(),
	)
	return err
}

// GetRecentDeviceEvents retrieves recent device events
func (db *DB) GetRecentDeviceEvents(limit int) ([]DeviceEvent, error) {
	rows, err := db.conn.Query(
		`SELECT id, method, handle, event_type, timestamp
		 FROM device_events
		 ORDER BY timestamp DESC
		 LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []DeviceEvent
	for rows.Next() {
		var e DeviceEvent
		if err := rows.Scan(&e.ID, &e.Method, &e.Handle, &e.EventType, &e.Timestamp); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// GetRecentRelayEvents retrieves recent relay state transitions
func (db *DB) GetRecentRelayEvents(limit int) ([]RelayEvent, error) {
	rows, err := db.conn.Query(
		`SELECT id, old_state, new_state, timestamp
		 FROM relay_events
		 ORDER BY timestamp DESC
		 LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []RelayEvent
	for rows.Next() {
		var e RelayEvent
		if err := rows.Scan(&e.ID, &e.OldState, &e.NewState, &e.Timestamp); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// GetLastDeviceEventPerHandle retrieves the most recent event for each device handle
func (db *DB) GetLastDeviceEventPerHandle() ([]DeviceEvent, error) {
	rows, err := db.conn.Query(
		`SELECT id, method, handle, event_type, timestamp
		 FROM device_events
		 WHERE id IN (
			 SELECT MAX(id)
			 FROM device_events
			 GROUP BY handle
		 )
		 ORDER BY timestamp DESC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []DeviceEvent
	for rows.Next() {
		var e DeviceEvent
		if err := rows.Scan(&e.ID, &e.Method, &e.Handle, &e.EventType, &e.Timestamp); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
