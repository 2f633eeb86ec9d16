package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	_ "modernc.org/sqlite"

	"surveil/internal/geometry"
	"surveil/internal/pipeline"
)

// Database handles SQLite database operations
type Database struct {
	db *sql.DB
}

// CameraRecord represents a camera stored in the database
type CameraRecord struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Location  string    `json:"location"`
	Device    string    `json:"device"`
	CreatedAt time.Time `json:"created_at"`
}

// EventQuery filters ListEvents. Zero values mean no filter.
type EventQuery struct {
	CameraID string
	Type     pipeline.EventType
	Since    time.Time
	Limit    int
}

// DefaultEventLimit caps ListEvents when no limit is given
const DefaultEventLimit = 100

// New creates a new database connection
func New(dbPath string) (*Database, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// A single connection keeps :memory: databases shared and serializes writers
	db.SetMaxOpenConns(1)

	// Enable WAL mode for better concurrent access
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return &Database{db: db}, nil
}

// Close closes the database connection
func (d *Database) Close() error {
	return d.db.Close()
}

// Migrate runs database migrations
func (d *Database) Migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS cameras (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			location TEXT NOT NULL DEFAULT '',
			device TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS events (
			id TEXT PRIMARY KEY,
			camera_id TEXT NOT NULL,
			event_type TEXT NOT NULL,
			ts INTEGER NOT NULL,
			confidence REAL NOT NULL,
			bounding_box TEXT NOT NULL,
			weapon_type TEXT NOT NULL DEFAULT '',
			held INTEGER,
			source TEXT NOT NULL DEFAULT '',
			notification_sent INTEGER NOT NULL DEFAULT 0,
			FOREIGN KEY (camera_id) REFERENCES cameras(id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_camera_time ON events(camera_id, ts DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_events_time ON events(ts DESC)`,
	}

	for _, migration := range migrations {
		if _, err := d.db.Exec(migration); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	log.Printf("[Database] Migrations completed")
	return nil
}

// UpsertCamera saves or updates a camera, keeping its creation time
func (d *Database) UpsertCamera(ctx context.Context, id, name, location, device string) error {
	query := `INSERT INTO cameras (id, name, location, device, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			location = excluded.location,
			device = excluded.device`

	_, err := d.db.ExecContext(ctx, query, id, name, location, device, time.Now().UnixNano())
	if err != nil {
		return fmt.Errorf("failed to save camera: %w", err)
	}
	return nil
}

// ListCameras returns all cameras ordered by id
func (d *Database) ListCameras(ctx context.Context) ([]CameraRecord, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT id, name, location, device, created_at FROM cameras ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list cameras: %w", err)
	}
	defer rows.Close()

	var cameras []CameraRecord
	for rows.Next() {
		var cam CameraRecord
		var created int64
		if err := rows.Scan(&cam.ID, &cam.Name, &cam.Location, &cam.Device, &created); err != nil {
			return nil, fmt.Errorf("failed to scan camera: %w", err)
		}
		cam.CreatedAt = time.Unix(0, created).UTC()
		cameras = append(cameras, cam)
	}
	return cameras, rows.Err()
}

// SaveEvent stores a pipeline event
func (d *Database) SaveEvent(ctx context.Context, ev pipeline.Event) error {
	bboxJSON, err := json.Marshal(ev.BoundingBox)
	if err != nil {
		return fmt.Errorf("failed to marshal bounding box: %w", err)
	}

	var held sql.NullBool
	if ev.Held != nil {
		held = sql.NullBool{Bool: *ev.Held, Valid: true}
	}

	query := `INSERT INTO events
		(id, camera_id, event_type, ts, confidence, bounding_box, weapon_type, held, source)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = d.db.ExecContext(ctx, query, ev.ID, ev.CameraID, string(ev.Type), ev.Timestamp.UnixNano(),
		ev.Confidence, string(bboxJSON), ev.WeaponType, held, ev.Source)
	if err != nil {
		return fmt.Errorf("failed to save event: %w", err)
	}
	return nil
}

// ListEvents returns the newest events first
func (d *Database) ListEvents(ctx context.Context, q EventQuery) ([]pipeline.Event, error) {
	query := `SELECT id, camera_id, event_type, ts, confidence, bounding_box, weapon_type, held, source
		FROM events WHERE 1=1`
	args := []interface{}{}

	if q.CameraID != "" {
		query += " AND camera_id = ?"
		args = append(args, q.CameraID)
	}
	if q.Type != "" {
		query += " AND event_type = ?"
		args = append(args, string(q.Type))
	}
	if !q.Since.IsZero() {
		query += " AND ts >= ?"
		args = append(args, q.Since.UnixNano())
	}

	limit := q.Limit
	if limit <= 0 {
		limit = DefaultEventLimit
	}
	query += " ORDER BY ts DESC LIMIT ?"
	args = append(args, limit)

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	events := make([]pipeline.Event, 0)
	for rows.Next() {
		var ev pipeline.Event
		var eventType, bboxJSON string
		var ts int64
		var held sql.NullBool

		if err := rows.Scan(&ev.ID, &ev.CameraID, &eventType, &ts, &ev.Confidence,
			&bboxJSON, &ev.WeaponType, &held, &ev.Source); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		ev.Type = pipeline.EventType(eventType)
		ev.Timestamp = time.Unix(0, ts).UTC()
		if held.Valid {
			h := held.Bool
			ev.Held = &h
		}
		var box geometry.Box
		if err := json.Unmarshal([]byte(bboxJSON), &box); err != nil {
			return nil, fmt.Errorf("failed to unmarshal bounding box: %w", err)
		}
		ev.BoundingBox = box
		events = append(events, ev)
	}
	return events, rows.Err()
}

// MarkNotified flags an event as sent to the alert channel
func (d *Database) MarkNotified(ctx context.Context, id string) error {
	_, err := d.db.ExecContext(ctx, "UPDATE events SET notification_sent = 1 WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to mark event notified: %w", err)
	}
	return nil
}

// CountEvents returns the number of stored events per type
func (d *Database) CountEvents(ctx context.Context) (map[pipeline.EventType]int64, error) {
	rows, err := d.db.QueryContext(ctx, "SELECT event_type, COUNT(*) FROM events GROUP BY event_type")
	if err != nil {
		return nil, fmt.Errorf("failed to count events: %w", err)
	}
	defer rows.Close()

	counts := make(map[pipeline.EventType]int64)
	for rows.Next() {
		var t string
		var n int64
		if err := rows.Scan(&t, &n); err != nil {
			return nil, fmt.Errorf("failed to scan count: %w", err)
		}
		counts[pipeline.EventType(t)] = n
	}
	return counts, rows.Err()
}

// DeleteEventsBefore deletes events older than the specified time
func (d *Database) DeleteEventsBefore(ctx context.Context, before time.Time) (int64, error) {
	result, err := d.db.ExecContext(ctx, "DELETE FROM events WHERE ts < ?", before.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("failed to delete old events: %w", err)
	}
	return result.RowsAffected()
}
