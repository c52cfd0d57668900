package intake

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/drivelens/drivelens/internal/analysis"
	"github.com/drivelens/drivelens/internal/validate"
)

const (
	subscriberBuffer = 16
	releaseTimeout   = 30 * time.Second
)

type Session struct {
	id       string
	origin   Origin
	previews PreviewStore
	analyzer analysis.Analyzer
	baseCtx  context.Context
	onFinish func(Completion)
	now      func() time.Time

	mu          sync.Mutex
	phase       Phase
	video       *SelectedVideo
	outcome     *analysis.Outcome
	lastError   string
	inFlight    bool
	closed      bool
	lastActive  time.Time
	subscribers map[int]chan Event
	nextSub     int

	running sync.WaitGroup
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) Origin() Origin {
	return s.origin
}

// SelectFile accepts the first of files from a picker selection. A non-video
// type is rejected with ErrInvalidFileType and leaves the session untouched.
func (s *Session) SelectFile(ctx context.Context, files ...File) error {
	return s.selectFile(ctx, files)
}

// SelectFileViaDrop is SelectFile for drag-and-drop. Invalid drops are ignored
// rather than reported; the bool tells whether the drop was taken.
func (s *Session) SelectFileViaDrop(ctx context.Context, files ...File) (bool, error) {
	err := s.selectFile(ctx, files)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrInvalidFileType), errors.Is(err, ErrNoFile):
		slog.Debug("intake: ignored invalid drop", "session_id", s.id)
		return false, nil
	default:
		return false, err
	}
}

func (s *Session) selectFile(ctx context.Context, files []File) error {
	if len(files) == 0 {
		return ErrNoFile
	}
	f := files[0]
	if !validate.IsVideoContentType(f.ContentType) {
		return ErrInvalidFileType
	}

	s.mu.Lock()
	if err := s.checkIdleLocked(); err != nil {
		s.mu.Unlock()
		return err
	}
	s.mu.Unlock()

	handle, err := s.previews.Create(ctx, s.id, f)
	if err != nil {
		return fmt.Errorf("create preview: %w", err)
	}

	s.mu.Lock()
	if err := s.checkIdleLocked(); err != nil {
		s.mu.Unlock()
		s.release(ctx, handle)
		return err
	}

	previous := s.video
	s.video = &SelectedVideo{
		Filename:    f.Name,
		ContentType: f.ContentType,
		Size:        f.Size,
		Preview:     handle,
		SelectedAt:  s.now().UTC(),
	}
	s.outcome = nil
	s.lastError = ""
	s.phase = PhaseSelected
	s.lastActive = s.now()
	s.publishLocked(EventState)
	s.mu.Unlock()

	if previous != nil {
		s.release(ctx, previous.Preview)
	}

	slog.Info("intake: video selected", "session_id", s.id, "filename", f.Name, "content_type", f.ContentType, "size", f.Size)
	return nil
}

// RequestAnalysis starts an analysis of the selected video. It reports false,
// and does nothing, when no video is selected or one is already running.
func (s *Session) RequestAnalysis() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || s.video == nil || s.inFlight {
		return false
	}

	s.inFlight = true
	s.phase = PhaseAnalyzing
	s.outcome = nil
	s.lastError = ""
	s.lastActive = s.now()
	s.publishLocked(EventState)

	video := *s.video
	s.running.Add(1)
	go s.runAnalysis(video)

	return true
}

func (s *Session) runAnalysis(video SelectedVideo) {
	defer s.running.Done()

	started := s.now()
	slog.Info("intake: analysis started", "session_id", s.id, "filename", video.Filename)

	outcome, err := s.analyzer.Analyze(s.baseCtx, analysis.Video{
		Filename:    video.Filename,
		ContentType: video.ContentType,
		Size:        video.Size,
		Open: func(ctx context.Context) (io.ReadCloser, error) {
			return s.previews.Open(ctx, video.Preview)
		},
	})
	if err == nil {
		if verr := outcome.Validate(); verr != nil {
			err = fmt.Errorf("%w: %w", analysis.ErrInvalidOutcome, verr)
		}
	}

	s.mu.Lock()
	s.inFlight = false
	if s.closed {
		s.mu.Unlock()
		slog.Info("intake: dropping analysis result for closed session", "session_id", s.id)
		return
	}

	if err != nil {
		s.phase = PhaseSelected
		s.outcome = nil
		s.lastError = MsgAnalysisFailed
		s.lastActive = s.now()
		s.publishLocked(EventFailed)
	} else {
		s.phase = PhaseComplete
		s.outcome = outcome
		s.lastActive = s.now()
		s.publishLocked(EventCompleted)
	}
	s.mu.Unlock()

	finished := s.now()
	if err != nil {
		slog.Error("intake: analysis failed", "session_id", s.id, "filename", video.Filename, "error", err)
		outcome = nil
	} else {
		slog.Info("intake: analysis complete", "session_id", s.id, "safety_score", outcome.Analysis.SafetyScore,
			"duration_ms", finished.Sub(started).Milliseconds())
	}

	if s.onFinish != nil {
		s.onFinish(Completion{
			SessionID:  s.id,
			Origin:     s.origin,
			Video:      video,
			Outcome:    outcome,
			Err:        err,
			StartedAt:  started,
			FinishedAt: finished,
		})
	}
}

// Retake drops the selected video and any outcome, returning to idle.
func (s *Session) Retake(ctx context.Context) error {
	s.mu.Lock()
	if err := s.checkIdleLocked(); err != nil {
		s.mu.Unlock()
		return err
	}

	previous := s.video
	s.video = nil
	s.outcome = nil
	s.lastError = ""
	s.phase = PhaseIdle
	s.lastActive = s.now()
	s.publishLocked(EventState)
	s.mu.Unlock()

	if previous != nil {
		s.release(ctx, previous.Preview)
	}
	return nil
}

// Close tears the session down: the preview handle is released and every
// subscriber channel is closed. A running analysis finishes in the background
// and its result is discarded.
func (s *Session) Close(ctx context.Context) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	previous := s.closeLocked()
	s.mu.Unlock()

	if previous != nil {
		s.release(ctx, previous.Preview)
	}
}

// closeIfIdle closes the session only if no analysis is running and it has
// not been active since cutoff. The check and the close share one lock hold,
// so a concurrent RequestAnalysis either wins or sees the session closed.
func (s *Session) closeIfIdle(ctx context.Context, cutoff time.Time) bool {
	s.mu.Lock()
	if s.closed || s.inFlight || s.lastActive.After(cutoff) {
		s.mu.Unlock()
		return false
	}
	previous := s.closeLocked()
	s.mu.Unlock()

	if previous != nil {
		s.release(ctx, previous.Preview)
	}
	return true
}

func (s *Session) closeLocked() *SelectedVideo {
	s.closed = true
	previous := s.video
	s.video = nil
	s.outcome = nil
	s.phase = PhaseIdle
	for id, ch := range s.subscribers {
		close(ch)
		delete(s.subscribers, id)
	}
	return previous
}

func (s *Session) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inFlight
}

func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Session) LastActive() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActive
}

// Subscribe returns a channel of session events and a function that ends the
// subscription. Slow subscribers miss events rather than block the session.
func (s *Session) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		close(ch)
		return ch, func() {}
	}

	id := s.nextSub
	s.nextSub++
	s.subscribers[id] = ch

	return ch, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if c, ok := s.subscribers[id]; ok {
			delete(s.subscribers, id)
			close(c)
		}
	}
}

// Wait blocks until no analysis is running or ctx is done.
func (s *Session) Wait(ctx context.Context) error {
	return waitGroup(ctx, &s.running)
}

func (s *Session) checkIdleLocked() error {
	if s.closed {
		return ErrClosed
	}
	if s.inFlight {
		return ErrBusy
	}
	return nil
}

func (s *Session) snapshotLocked() State {
	state := State{
		ID:    s.id,
		Phase: s.phase,
		Error: s.lastError,
	}
	if s.video != nil {
		state.Video = &VideoState{
			Filename:    s.video.Filename,
			ContentType: s.video.ContentType,
			Size:        s.video.Size,
			PreviewURL:  s.video.Preview.URL,
			SelectedAt:  s.video.SelectedAt,
		}
	}
	if s.outcome != nil {
		state.Outcome = s.outcome
		state.Display = s.outcome.Display()
	}
	state.CanAnalyze = !s.closed && s.video != nil && !s.inFlight
	state.CanRetake = !s.closed && s.video != nil && !s.inFlight
	return state
}

func (s *Session) publishLocked(t EventType) {
	if len(s.subscribers) == 0 {
		return
	}
	ev := Event{Type: t, State: s.snapshotLocked()}
	for _, ch := range s.subscribers {
		select {
		case ch <- ev:
		default:
			slog.Warn("intake: subscriber too slow, event dropped", "session_id", s.id, "event", t)
		}
	}
}

func (s *Session) release(ctx context.Context, h PreviewHandle) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()
	if err := s.previews.Release(ctx, h); err != nil {
		slog.Error("intake: failed to release preview", "session_id", s.id, "key", h.Key, "error", err)
	}
}
