package analysis

import (
	"errors"
	"fmt"
	"strconv"
	"time"
)

const StatusSuccess = "success"

const (
	MinSafetyScore = 0
	MaxSafetyScore = 100
)

type Metrics struct {
	DurationSeconds   int       `json:"durationSeconds" yaml:"durationSeconds"`
	DistanceKm        float64   `json:"distanceKm" yaml:"distanceKm"`
	AverageSpeedKmh   float64   `json:"averageSpeedKmh" yaml:"averageSpeedKmh"`
	MaxSpeedKmh       float64   `json:"maxSpeedKmh" yaml:"maxSpeedKmh"`
	HarshBraking      int       `json:"harshBraking" yaml:"harshBraking"`
	RapidAcceleration int       `json:"rapidAcceleration" yaml:"rapidAcceleration"`
	SharpTurns        int       `json:"sharpTurns" yaml:"sharpTurns"`
	SafetyScore       int       `json:"safetyScore" yaml:"safetyScore"`
	Timestamp         time.Time `json:"timestamp" yaml:"timestamp"`
}

// Outcome is the result of one driving-video analysis. It is never mutated
// after an analyzer returns it.
type Outcome struct {
	Status          string   `json:"status" yaml:"status"`
	Analysis        Metrics  `json:"analysis" yaml:"analysis"`
	Recommendations []string `json:"recommendations" yaml:"recommendations"`
}

type DisplayMetric struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

func (o *Outcome) Validate() error {
	if o == nil {
		return errors.New("outcome is empty")
	}
	if o.Status != StatusSuccess {
		return fmt.Errorf("unexpected outcome status %q", o.Status)
	}
	m := o.Analysis
	if m.SafetyScore < MinSafetyScore || m.SafetyScore > MaxSafetyScore {
		return fmt.Errorf("safety score %d outside [%d, %d]", m.SafetyScore, MinSafetyScore, MaxSafetyScore)
	}
	if m.DurationSeconds < 0 || m.DistanceKm < 0 || m.AverageSpeedKmh < 0 || m.MaxSpeedKmh < 0 {
		return errors.New("trip metrics must not be negative")
	}
	if m.HarshBraking < 0 || m.RapidAcceleration < 0 || m.SharpTurns < 0 {
		return errors.New("event counts must not be negative")
	}
	if len(o.Recommendations) == 0 {
		return errors.New("outcome has no recommendations")
	}
	return nil
}

// Display returns the four headline metrics shown next to the preview.
func (o *Outcome) Display() []DisplayMetric {
	m := o.Analysis
	return []DisplayMetric{
		{Label: "Safety Score", Value: fmt.Sprintf("%d/%d", m.SafetyScore, MaxSafetyScore)},
		{Label: "Distance", Value: formatDecimal(m.DistanceKm) + " km"},
		{Label: "Avg. Speed", Value: formatDecimal(m.AverageSpeedKmh) + " km/h"},
		{Label: "Max Speed", Value: formatDecimal(m.MaxSpeedKmh) + " km/h"},
	}
}

// FormatDuration renders seconds as m:ss, or h:mm:ss for drives of an hour or more.
func FormatDuration(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	h := seconds / 3600
	m := (seconds % 3600) / 60
	s := seconds % 60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}

func formatDecimal(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
