package intake

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/drivelens/drivelens/internal/analysis"
	"github.com/google/uuid"
)

const (
	DefaultIdleTTL = 30 * time.Minute
	hookTimeout    = 30 * time.Second
)

type Config struct {
	Analyzer analysis.Analyzer
	Previews PreviewStore
	Recorder Recorder
	Notifier Notifier
	IdleTTL  time.Duration
}

// Manager owns the live sessions. Analyses run on the manager's context, so
// Shutdown cancels them.
type Manager struct {
	cfg    Config
	ctx    context.Context
	cancel context.CancelFunc
	now    func() time.Time

	mu       sync.Mutex
	sessions map[string]*Session

	hooks sync.WaitGroup
}

func NewManager(cfg Config) *Manager {
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = DefaultIdleTTL
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		cfg:      cfg,
		ctx:      ctx,
		cancel:   cancel,
		now:      time.Now,
		sessions: make(map[string]*Session),
	}
}

func (m *Manager) Create(origin Origin) *Session {
	s := &Session{
		id:          uuid.New().String(),
		origin:      origin,
		previews:    m.cfg.Previews,
		analyzer:    m.cfg.Analyzer,
		baseCtx:     m.ctx,
		onFinish:    m.finish,
		now:         m.now,
		phase:       PhaseIdle,
		lastActive:  m.now(),
		subscribers: make(map[int]chan Event),
	}

	m.mu.Lock()
	m.sessions[s.id] = s
	m.mu.Unlock()

	slog.Info("intake: session created", "session_id", s.id, "country", origin.Country, "browser", origin.Browser)
	return s
}

func (m *Manager) Get(id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

func (m *Manager) Close(ctx context.Context, id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	if !ok {
		return ErrSessionNotFound
	}
	s.Close(ctx)
	slog.Info("intake: session closed", "session_id", id)
	return nil
}

func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Sweep closes sessions idle for longer than the configured TTL. Sessions with
// a running analysis are left alone.
func (m *Manager) Sweep(ctx context.Context) int {
	cutoff := m.now().Add(-m.cfg.IdleTTL)

	m.mu.Lock()
	candidates := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		candidates = append(candidates, s)
	}
	m.mu.Unlock()

	swept := 0
	for _, s := range candidates {
		if !s.closeIfIdle(ctx, cutoff) {
			continue
		}
		m.mu.Lock()
		if m.sessions[s.id] == s {
			delete(m.sessions, s.id)
		}
		m.mu.Unlock()
		swept++
	}
	if swept > 0 {
		slog.Info("intake: swept idle sessions", "count", swept)
	}
	return swept
}

func (m *Manager) StartSweeper(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				slog.Info("intake: sweeper shutting down")
				return
			case <-ticker.C:
				m.Sweep(ctx)
			}
		}
	}()
}

// Shutdown cancels running analyses, closes every session and waits for
// their background work to finish or ctx to expire.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.cancel()

	m.mu.Lock()
	all := make([]*Session, 0, len(m.sessions))
	for id, s := range m.sessions {
		all = append(all, s)
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	for _, s := range all {
		s.Close(ctx)
	}
	for _, s := range all {
		if err := s.Wait(ctx); err != nil {
			return err
		}
	}
	return waitGroup(ctx, &m.hooks)
}

func waitGroup(ctx context.Context, wg *sync.WaitGroup) error {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// finish hands a completed attempt to the recorder and notifier in the
// background. Hooks run on the manager's context with their own timeout, so
// Shutdown cuts short any delivery still retrying.
func (m *Manager) finish(c Completion) {
	if m.cfg.Recorder == nil && m.cfg.Notifier == nil {
		return
	}
	m.hooks.Add(1)
	go func() {
		defer m.hooks.Done()
		m.runHooks(c)
	}()
}

func (m *Manager) runHooks(c Completion) {
	ctx, cancel := context.WithTimeout(m.ctx, hookTimeout)
	defer cancel()

	if c.Succeeded() && m.cfg.Recorder != nil {
		if err := m.cfg.Recorder.RecordOutcome(ctx, c); err != nil {
			slog.Error("intake: failed to record outcome", "session_id", c.SessionID, "error", err)
		}
	}
	if m.cfg.Notifier != nil {
		if err := m.cfg.Notifier.NotifyAnalysis(ctx, c); err != nil {
			slog.Error("intake: failed to notify analysis", "session_id", c.SessionID, "error", err)
		}
	}
}
