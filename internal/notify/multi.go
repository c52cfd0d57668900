// Package notify combines analysis notifiers.
package notify

import (
	"context"
	"log/slog"

	"github.com/drivelens/drivelens/internal/intake"
)

var _ intake.Notifier = (*MultiNotifier)(nil)

// MultiNotifier fans out analysis notifications to all registered notifiers.
type MultiNotifier struct {
	notifiers []intake.Notifier
}

// NewMultiNotifier creates a notifier that delegates to all provided notifiers.
// Nil entries are skipped.
func NewMultiNotifier(notifiers ...intake.Notifier) *MultiNotifier {
	m := &MultiNotifier{}
	for _, n := range notifiers {
		if n != nil {
			m.notifiers = append(m.notifiers, n)
		}
	}
	return m
}

func (m *MultiNotifier) Len() int {
	return len(m.notifiers)
}

func (m *MultiNotifier) NotifyAnalysis(ctx context.Context, c intake.Completion) error {
	for _, n := range m.notifiers {
		if err := n.NotifyAnalysis(ctx, c); err != nil {
			slog.Error("multi-notifier: analysis notification failed", "session_id", c.SessionID, "error", err)
		}
	}
	return nil
}
