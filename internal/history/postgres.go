package history

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/drivelens/drivelens/internal/database"
	"github.com/drivelens/drivelens/internal/intake"
)

type Postgres struct {
	db     database.DBTX
	closer *database.DB
}

func NewPostgres(db database.DBTX) *Postgres {
	return &Postgres{db: db}
}

// OpenPostgres connects to databaseURL and applies pending migrations.
func OpenPostgres(ctx context.Context, databaseURL string) (*Postgres, error) {
	db, err := database.Connect(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect history database: %w", err)
	}
	if err := db.Migrate(databaseURL); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate history database: %w", err)
	}
	return &Postgres{db: db.Pool, closer: db}, nil
}

func (p *Postgres) RecordOutcome(ctx context.Context, c intake.Completion) error {
	r, err := RecordFromCompletion(c)
	if err != nil {
		return err
	}
	_, err = p.Save(ctx, r)
	return err
}

func (p *Postgres) Save(ctx context.Context, r Record) (string, error) {
	recs, err := json.Marshal(r.Recommendations)
	if err != nil {
		return "", fmt.Errorf("marshal recommendations: %w", err)
	}

	m := r.Metrics
	var id string
	err = p.db.QueryRow(ctx,
		`INSERT INTO analyses (session_id, filename, content_type, size_bytes,
		    duration_seconds, distance_km, average_speed_kmh, max_speed_kmh,
		    harsh_braking, rapid_acceleration, sharp_turns, safety_score,
		    recommendations, country, browser, os, analyzed_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		 RETURNING id`,
		r.SessionID, r.Filename, r.ContentType, r.Size,
		m.DurationSeconds, m.DistanceKm, m.AverageSpeedKmh, m.MaxSpeedKmh,
		m.HarshBraking, m.RapidAcceleration, m.SharpTurns, m.SafetyScore,
		string(recs), r.Country, r.Browser, r.OS, m.Timestamp, r.CreatedAt,
	).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("insert analysis: %w", err)
	}
	return id, nil
}

func (p *Postgres) Recent(ctx context.Context, limit int) ([]Record, error) {
	rows, err := p.db.Query(ctx,
		`SELECT id, session_id, filename, content_type, size_bytes,
		        duration_seconds, distance_km, average_speed_kmh, max_speed_kmh,
		        harsh_braking, rapid_acceleration, sharp_turns, safety_score,
		        recommendations, country, browser, os, analyzed_at, created_at
		 FROM analyses
		 ORDER BY created_at DESC
		 LIMIT $1`, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("query analyses: %w", err)
	}
	defer rows.Close()

	records := make([]Record, 0)
	for rows.Next() {
		var r Record
		var recs []byte
		m := &r.Metrics
		if err := rows.Scan(&r.ID, &r.SessionID, &r.Filename, &r.ContentType, &r.Size,
			&m.DurationSeconds, &m.DistanceKm, &m.AverageSpeedKmh, &m.MaxSpeedKmh,
			&m.HarshBraking, &m.RapidAcceleration, &m.SharpTurns, &m.SafetyScore,
			&recs, &r.Country, &r.Browser, &r.OS, &m.Timestamp, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan analysis: %w", err)
		}
		if err := json.Unmarshal(recs, &r.Recommendations); err != nil {
			return nil, fmt.Errorf("decode recommendations: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate analyses: %w", err)
	}
	return records, nil
}

func (p *Postgres) Ping(ctx context.Context) error {
	if p.closer != nil {
		return p.closer.Ping(ctx)
	}
	var one int
	return p.db.QueryRow(ctx, "SELECT 1").Scan(&one)
}

func (p *Postgres) Close() error {
	p.closer.Close()
	return nil
}
