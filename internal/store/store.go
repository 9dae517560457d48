// Package store is the SQLite-backed capture index: motion events and
// compiled timelapse segments, so the API can list history without walking
// the storage tree.
package store

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// MotionEvent is one recorded burst capture.
type MotionEvent struct {
	ID         string    `json:"id"`
	StartedAt  time.Time `json:"started_at"`
	FrameCount int       `json:"frame_count"`
	Dir        string    `json:"dir"`
}

// SegmentRecord is one compiled-and-appended timelapse segment.
type SegmentRecord struct {
	ID         int64     `json:"id"`
	Date       string    `json:"date"`
	FrameCount int       `json:"frame_count"`
	AssetPath  string    `json:"asset_path"`
	CreatedAt  time.Time `json:"created_at"`
}

// Store wraps the SQLite connection.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and applies the schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// SQLite writers do not tolerate concurrency; serialize on one conn.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS motion_events (
		id TEXT PRIMARY KEY,
		started_at DATETIME NOT NULL,
		frame_count INTEGER NOT NULL DEFAULT 0,
		dir TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS segments (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		date TEXT NOT NULL,
		frame_count INTEGER NOT NULL DEFAULT 0,
		asset_path TEXT NOT NULL,
		created_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_motion_events_started_at ON motion_events(started_at);
	CREATE INDEX IF NOT EXISTS idx_segments_date ON segments(date);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// InsertMotionEvent records a burst capture.
func (s *Store) InsertMotionEvent(ev MotionEvent) error {
	_, err := s.db.Exec(`
		INSERT INTO motion_events (id, started_at, frame_count, dir)
		VALUES (?, ?, ?, ?)
	`, ev.ID, ev.StartedAt.UTC(), ev.FrameCount, ev.Dir)
	if err != nil {
		return fmt.Errorf("insert motion event: %w", err)
	}
	return nil
}

// RecentMotionEvents returns up to limit events, newest first.
func (s *Store) RecentMotionEvents(limit int) ([]MotionEvent, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(`
		SELECT id, started_at, frame_count, dir
		FROM motion_events
		ORDER BY started_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query motion events: %w", err)
	}
	defer rows.Close()

	var events []MotionEvent
	for rows.Next() {
		var ev MotionEvent
		if err := rows.Scan(&ev.ID, &ev.StartedAt, &ev.FrameCount, &ev.Dir); err != nil {
			return nil, fmt.Errorf("scan motion event: %w", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// RecordSegment logs a compiled segment. Implements timelapse.SegmentRecorder.
func (s *Store) RecordSegment(date string, frameCount int, assetPath string) error {
	_, err := s.db.Exec(`
		INSERT INTO segments (date, frame_count, asset_path, created_at)
		VALUES (?, ?, ?, ?)
	`, date, frameCount, assetPath, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("insert segment: %w", err)
	}
	return nil
}

// SegmentsForDate returns the compiled segments for an ISO date in compile
// order.
func (s *Store) SegmentsForDate(date string) ([]SegmentRecord, error) {
	rows, err := s.db.Query(`
		SELECT id, date, frame_count, asset_path, created_at
		FROM segments
		WHERE date = ?
		ORDER BY id ASC
	`, date)
	if err != nil {
		return nil, fmt.Errorf("query segments: %w", err)
	}
	defer rows.Close()

	var segs []SegmentRecord
	for rows.Next() {
		var sr SegmentRecord
		if err := rows.Scan(&sr.ID, &sr.Date, &sr.FrameCount, &sr.AssetPath, &sr.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan segment: %w", err)
		}
		segs = append(segs, sr)
	}
	return segs, rows.Err()
}
