// Package history persists completed analyses so they can be listed later.
package history

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/drivelens/drivelens/internal/analysis"
	"github.com/drivelens/drivelens/internal/intake"
)

const (
	DefaultLimit = 20
	MaxLimit     = 200
)

var ErrUnsupportedDSN = errors.New("unsupported history DSN")

// Record is one stored analysis.
type Record struct {
	ID              string           `json:"id" yaml:"id"`
	SessionID       string           `json:"sessionId" yaml:"sessionId"`
	Filename        string           `json:"filename" yaml:"filename"`
	ContentType     string           `json:"contentType" yaml:"contentType"`
	Size            int64            `json:"size" yaml:"size"`
	Metrics         analysis.Metrics `json:"analysis" yaml:"analysis"`
	Recommendations []string         `json:"recommendations" yaml:"recommendations"`
	Country         string           `json:"country,omitempty" yaml:"country,omitempty"`
	Browser         string           `json:"browser,omitempty" yaml:"browser,omitempty"`
	OS              string           `json:"os,omitempty" yaml:"os,omitempty"`
	CreatedAt       time.Time        `json:"createdAt" yaml:"createdAt"`
}

// Store is implemented by both backends.
type Store interface {
	intake.Recorder
	Save(ctx context.Context, r Record) (string, error)
	Recent(ctx context.Context, limit int) ([]Record, error)
	Ping(ctx context.Context) error
	Close() error
}

// RecordFromCompletion builds the row for a successful analysis.
func RecordFromCompletion(c intake.Completion) (Record, error) {
	if !c.Succeeded() {
		return Record{}, errors.New("completion has no outcome")
	}
	return Record{
		SessionID:       c.SessionID,
		Filename:        c.Video.Filename,
		ContentType:     c.Video.ContentType,
		Size:            c.Video.Size,
		Metrics:         c.Outcome.Analysis,
		Recommendations: c.Outcome.Recommendations,
		Country:         c.Origin.Country,
		Browser:         c.Origin.Browser,
		OS:              c.Origin.OS,
		CreatedAt:       c.FinishedAt.UTC(),
	}, nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	if limit > MaxLimit {
		return MaxLimit
	}
	return limit
}

// Kind reports which backend a DSN selects: "postgres", "sqlite", or "" when
// history is disabled.
func Kind(dsn string) (string, error) {
	switch {
	case dsn == "":
		return "", nil
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return "postgres", nil
	case strings.HasPrefix(dsn, "sqlite://"), strings.HasSuffix(dsn, ".db"), strings.HasSuffix(dsn, ".sqlite"):
		return "sqlite", nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedDSN, dsn)
	}
}

// Open connects the backend named by dsn. Postgres schemas are migrated before
// use. It returns a nil Store when dsn is empty.
func Open(ctx context.Context, dsn string) (Store, error) {
	kind, err := Kind(dsn)
	if err != nil {
		return nil, err
	}
	switch kind {
	case "postgres":
		store, err := OpenPostgres(ctx, dsn)
		if err != nil {
			return nil, err
		}
		return store, nil
	case "sqlite":
		store, err := OpenSQLite(ctx, strings.TrimPrefix(dsn, "sqlite://"))
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, nil
	}
}
