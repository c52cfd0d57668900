package analysis

import (
	"context"
	"io"
	"time"
)

// Video is the input handed to an Analyzer. Open may be called more than
// once; each call returns a fresh reader positioned at the start.
type Video struct {
	Filename    string
	ContentType string
	Size        int64
	Open        func(ctx context.Context) (io.ReadCloser, error)
}

type Analyzer interface {
	Analyze(ctx context.Context, video Video) (*Outcome, error)
}

const DefaultSimulatedDelay = 2 * time.Second

// Simulated stands in for a real analysis service. It waits for Delay and
// returns a fixed outcome stamped with the completion time.
type Simulated struct {
	Delay time.Duration
	now   func() time.Time
}

func NewSimulated(delay time.Duration) *Simulated {
	return &Simulated{Delay: delay, now: time.Now}
}

func (s *Simulated) Analyze(ctx context.Context, _ Video) (*Outcome, error) {
	if s.Delay > 0 {
		timer := time.NewTimer(s.Delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	now := time.Now
	if s.now != nil {
		now = s.now
	}

	return &Outcome{
		Status: StatusSuccess,
		Analysis: Metrics{
			DurationSeconds:   165,
			DistanceKm:        8.7,
			AverageSpeedKmh:   32,
			MaxSpeedKmh:       78,
			HarshBraking:      2,
			RapidAcceleration: 3,
			SharpTurns:        1,
			SafetyScore:       87,
			Timestamp:         now().UTC(),
		},
		Recommendations: []string{
			"Try to maintain consistent speed",
			"Avoid sudden braking",
			"Smooth acceleration recommended",
		},
	}, nil
}
