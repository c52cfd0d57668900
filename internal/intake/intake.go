// Package intake implements the video intake widget as server-side sessions.
// A session accepts one driving video at a time, keeps a preview handle for
// playback, and runs at most one analysis against it.
package intake

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/drivelens/drivelens/internal/analysis"
)

type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhaseSelected  Phase = "selected"
	PhaseAnalyzing Phase = "analyzing"
	PhaseComplete  Phase = "complete"
)

var (
	ErrNoFile          = errors.New("no file provided")
	ErrInvalidFileType = errors.New("invalid file type")
	ErrBusy            = errors.New("analysis in progress")
	ErrClosed          = errors.New("session closed")
	ErrSessionNotFound = errors.New("session not found")
)

const (
	MsgInvalidFileType = "Please upload a valid video file"
	MsgAnalysisFailed  = "Error analyzing video. Please try again."
)

// UserMessage maps an intake error to the text shown in the widget.
func UserMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidFileType), errors.Is(err, ErrNoFile):
		return MsgInvalidFileType
	case errors.Is(err, ErrBusy):
		return "Please wait for the current analysis to finish"
	case errors.Is(err, ErrClosed), errors.Is(err, ErrSessionNotFound):
		return "This upload session has ended. Please reload the page."
	default:
		return "Something went wrong. Please try again."
	}
}

// File is one file from a picker selection or a drop gesture.
type File struct {
	Name        string
	ContentType string
	Size        int64
	Body        io.Reader
}

// PreviewHandle is a revocable reference to uploaded bytes that the browser
// can play back. It must be released once the video is replaced or dropped.
type PreviewHandle struct {
	Key string
	URL string
}

type PreviewStore interface {
	Create(ctx context.Context, sessionID string, f File) (PreviewHandle, error)
	Open(ctx context.Context, h PreviewHandle) (io.ReadCloser, error)
	Release(ctx context.Context, h PreviewHandle) error
}

// Origin describes who opened a session. It travels with completed analyses
// into history.
type Origin struct {
	IP      string
	Country string
	City    string
	Browser string
	OS      string
	Mobile  bool
}

type SelectedVideo struct {
	Filename    string
	ContentType string
	Size        int64
	Preview     PreviewHandle
	SelectedAt  time.Time
}

// Completion is handed to the manager's hooks after every analysis attempt.
type Completion struct {
	SessionID  string
	Origin     Origin
	Video      SelectedVideo
	Outcome    *analysis.Outcome
	Err        error
	StartedAt  time.Time
	FinishedAt time.Time
}

func (c Completion) Succeeded() bool {
	return c.Err == nil && c.Outcome != nil
}

type Recorder interface {
	RecordOutcome(ctx context.Context, c Completion) error
}

type Notifier interface {
	NotifyAnalysis(ctx context.Context, c Completion) error
}

type EventType string

const (
	EventState     EventType = "state"
	EventCompleted EventType = "analysis.completed"
	EventFailed    EventType = "analysis.failed"
)

type Event struct {
	Type  EventType `json:"type"`
	State State     `json:"state"`
}

type VideoState struct {
	Filename    string    `json:"filename"`
	ContentType string    `json:"contentType"`
	Size        int64     `json:"size"`
	PreviewURL  string    `json:"previewUrl"`
	SelectedAt  time.Time `json:"selectedAt"`
}

// State is a read-only view of a session, shaped for the page.
type State struct {
	ID         string                   `json:"id"`
	Phase      Phase                    `json:"phase"`
	Video      *VideoState              `json:"video"`
	Outcome    *analysis.Outcome        `json:"outcome"`
	Display    []analysis.DisplayMetric `json:"display,omitempty"`
	Error      string                   `json:"error,omitempty"`
	CanAnalyze bool                     `json:"canAnalyze"`
	CanRetake  bool                     `json:"canRetake"`
}
