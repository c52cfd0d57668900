package analysis

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestSimulated_ReturnsFixedOutcome(t *testing.T) {
	fixed := time.Date(2026, 5, 6, 7, 8, 9, 0, time.UTC)
	sim := NewSimulated(0)
	sim.now = func() time.Time { return fixed }

	outcome, err := sim.Analyze(context.Background(), Video{Filename: "drive1.mp4"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := outcome.Validate(); err != nil {
		t.Fatalf("simulated outcome failed validation: %v", err)
	}
	if outcome.Analysis.SafetyScore != 87 {
		t.Errorf("safety score = %d, want 87", outcome.Analysis.SafetyScore)
	}
	if outcome.Analysis.HarshBraking != 2 || outcome.Analysis.RapidAcceleration != 3 || outcome.Analysis.SharpTurns != 1 {
		t.Errorf("event counts = %d/%d/%d, want 2/3/1",
			outcome.Analysis.HarshBraking, outcome.Analysis.RapidAcceleration, outcome.Analysis.SharpTurns)
	}
	if !outcome.Analysis.Timestamp.Equal(fixed) {
		t.Errorf("timestamp = %v, want %v", outcome.Analysis.Timestamp, fixed)
	}
	if len(outcome.Recommendations) != 3 {
		t.Errorf("recommendations = %d, want 3", len(outcome.Recommendations))
	}
}

func TestSimulated_WaitsForDelay(t *testing.T) {
	sim := NewSimulated(50 * time.Millisecond)
	start := time.Now()
	if _, err := sim.Analyze(context.Background(), Video{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Errorf("returned after %v, want at least 50ms", elapsed)
	}
}

func TestSimulated_HonorsCancellation(t *testing.T) {
	sim := NewSimulated(time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := sim.Analyze(ctx, Video{})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
}

func TestOutcome_Display(t *testing.T) {
	outcome := &Outcome{
		Status: StatusSuccess,
		Analysis: Metrics{
			DistanceKm:      8.7,
			AverageSpeedKmh: 32,
			MaxSpeedKmh:     78,
			SafetyScore:     87,
		},
		Recommendations: []string{"a"},
	}

	got := outcome.Display()
	want := []DisplayMetric{
		{Label: "Safety Score", Value: "87/100"},
		{Label: "Distance", Value: "8.7 km"},
		{Label: "Avg. Speed", Value: "32 km/h"},
		{Label: "Max Speed", Value: "78 km/h"},
	}
	if len(got) != len(want) {
		t.Fatalf("display metrics = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("metric[%d] = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestOutcome_ValidateNil(t *testing.T) {
	var outcome *Outcome
	if err := outcome.Validate(); err == nil {
		t.Error("expected error for nil outcome")
	}
}

func TestOutcome_ValidateNegativeCounts(t *testing.T) {
	outcome := &Outcome{
		Status:          StatusSuccess,
		Analysis:        Metrics{SafetyScore: 50, SharpTurns: -1},
		Recommendations: []string{"a"},
	}
	if err := outcome.Validate(); err == nil {
		t.Error("expected error for negative event count")
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		seconds int
		want    string
	}{
		{0, "0:00"},
		{165, "2:45"},
		{600, "10:00"},
		{3725, "1:02:05"},
		{-5, "0:00"},
	}
	for _, tt := range tests {
		if got := FormatDuration(tt.seconds); got != tt.want {
			t.Errorf("FormatDuration(%d) = %q, want %q", tt.seconds, got, tt.want)
		}
	}
}
