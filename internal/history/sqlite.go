package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/drivelens/drivelens/internal/intake"
	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS analyses (
    id                 TEXT PRIMARY KEY,
    session_id         TEXT NOT NULL,
    filename           TEXT NOT NULL,
    content_type       TEXT NOT NULL,
    size_bytes         INTEGER NOT NULL DEFAULT 0,
    duration_seconds   INTEGER NOT NULL,
    distance_km        REAL NOT NULL,
    average_speed_kmh  REAL NOT NULL,
    max_speed_kmh      REAL NOT NULL,
    harsh_braking      INTEGER NOT NULL,
    rapid_acceleration INTEGER NOT NULL,
    sharp_turns        INTEGER NOT NULL,
    safety_score       INTEGER NOT NULL CHECK (safety_score BETWEEN 0 AND 100),
    recommendations    TEXT NOT NULL DEFAULT '[]',
    country            TEXT NOT NULL DEFAULT '',
    browser            TEXT NOT NULL DEFAULT '',
    os                 TEXT NOT NULL DEFAULT '',
    analyzed_at        TIMESTAMP NOT NULL,
    created_at         TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_analyses_created_at ON analyses (created_at DESC);
`

// SQLite stores history in a single file for local runs.
type SQLite struct {
	db *sql.DB
}

func OpenSQLite(ctx context.Context, path string) (*SQLite, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create history directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create history schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) RecordOutcome(ctx context.Context, c intake.Completion) error {
	r, err := RecordFromCompletion(c)
	if err != nil {
		return err
	}
	_, err = s.Save(ctx, r)
	return err
}

func (s *SQLite) Save(ctx context.Context, r Record) (string, error) {
	recs, err := json.Marshal(r.Recommendations)
	if err != nil {
		return "", fmt.Errorf("marshal recommendations: %w", err)
	}

	id := uuid.New().String()
	m := r.Metrics
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO analyses (id, session_id, filename, content_type, size_bytes,
		    duration_seconds, distance_km, average_speed_kmh, max_speed_kmh,
		    harsh_braking, rapid_acceleration, sharp_turns, safety_score,
		    recommendations, country, browser, os, analyzed_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, r.SessionID, r.Filename, r.ContentType, r.Size,
		m.DurationSeconds, m.DistanceKm, m.AverageSpeedKmh, m.MaxSpeedKmh,
		m.HarshBraking, m.RapidAcceleration, m.SharpTurns, m.SafetyScore,
		string(recs), r.Country, r.Browser, r.OS, m.Timestamp.UTC(), r.CreatedAt.UTC(),
	)
	if err != nil {
		return "", fmt.Errorf("insert analysis: %w", err)
	}
	return id, nil
}

func (s *SQLite) Recent(ctx context.Context, limit int) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, filename, content_type, size_bytes,
		        duration_seconds, distance_km, average_speed_kmh, max_speed_kmh,
		        harsh_braking, rapid_acceleration, sharp_turns, safety_score,
		        recommendations, country, browser, os, analyzed_at, created_at
		 FROM analyses
		 ORDER BY created_at DESC
		 LIMIT ?`, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("query analyses: %w", err)
	}
	defer func() { _ = rows.Close() }()

	records := make([]Record, 0)
	for rows.Next() {
		var r Record
		var recs string
		m := &r.Metrics
		if err := rows.Scan(&r.ID, &r.SessionID, &r.Filename, &r.ContentType, &r.Size,
			&m.DurationSeconds, &m.DistanceKm, &m.AverageSpeedKmh, &m.MaxSpeedKmh,
			&m.HarshBraking, &m.RapidAcceleration, &m.SharpTurns, &m.SafetyScore,
			&recs, &r.Country, &r.Browser, &r.OS, &m.Timestamp, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan analysis: %w", err)
		}
		if err := json.Unmarshal([]byte(recs), &r.Recommendations); err != nil {
			return nil, fmt.Errorf("decode recommendations: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate analyses: %w", err)
	}
	return records, nil
}

func (s *SQLite) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLite) Close() error {
	return s.db.Close()
}
