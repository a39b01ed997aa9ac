/*
notify.go - Notifier implementations

PURPOSE:
  The workflow engine tells a Notifier about every committed transition, once
  per recipient. Delivery here is fire-and-forget: a failed notification is
  logged by the engine and never undoes the transition.

IMPLEMENTATIONS:
  Log       Writes one structured log line per recipient (default in cmd/server)
  Recorder  Keeps notifications in memory (tests, demo scenarios)
  Multi     Fans out to several notifiers, joining their errors
  Func      Adapts a plain function

SEE ALSO:
  - workflow/notifier.go: Notifier interface and recipient selection
*/
package notify

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"github.com/apettas/adeies/org"
	"github.com/apettas/adeies/workflow"
)

var (
	_ workflow.Notifier = (*Log)(nil)
	_ workflow.Notifier = (*Recorder)(nil)
	_ workflow.Notifier = Multi(nil)
	_ workflow.Notifier = Func(nil)
)

// =============================================================================
// LOG
// =============================================================================

// Log writes notifications to a zerolog logger.
type Log struct {
	log zerolog.Logger
}

func NewLog(log zerolog.Logger) *Log {
	return &Log{log: log.With().Str("component", "notify").Logger()}
}

func (l *Log) Notify(_ context.Context, recipient org.UserID, n workflow.Notification) error {
	ev := l.log.Info().
		Str("recipient", string(recipient)).
		Str("request_id", string(n.RequestID)).
		Str("event", string(n.Event)).
		Str("from", string(n.From)).
		Str("to", string(n.To)).
		Str("actor", string(n.Actor))
	if n.Reason != "" {
		ev = ev.Str("reason", n.Reason)
	}
	ev.Msg("leave request notification")
	return nil
}

// =============================================================================
// RECORDER
// =============================================================================

// Sent is one delivered notification.
type Sent struct {
	Recipient    org.UserID            `json:"recipient"`
	Notification workflow.Notification `json:"notification"`
}

// Recorder keeps every notification it receives. Safe for concurrent use.
type Recorder struct {
	mu   sync.Mutex
	sent []Sent
}

func NewRecorder() *Recorder { return &Recorder{} }

func (r *Recorder) Notify(_ context.Context, recipient org.UserID, n workflow.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, Sent{Recipient: recipient, Notification: n})
	return nil
}

// Sent returns a copy of everything recorded so far, in delivery order.
func (r *Recorder) Sent() []Sent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Sent, len(r.sent))
	copy(out, r.sent)
	return out
}

// For returns the notifications delivered to one recipient.
func (r *Recorder) For(recipient org.UserID) []workflow.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []workflow.Notification
	for _, s := range r.sent {
		if s.Recipient == recipient {
			out = append(out, s.Notification)
		}
	}
	return out
}

func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = nil
}

// =============================================================================
// FAN-OUT
// =============================================================================

// Multi delivers to every notifier, even after one fails.
type Multi []workflow.Notifier

func (m Multi) Notify(ctx context.Context, recipient org.UserID, n workflow.Notification) error {
	var errs []error
	for _, nt := range m {
		if err := nt.Notify(ctx, recipient, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Func adapts a function to workflow.Notifier.
type Func func(ctx context.Context, recipient org.UserID, n workflow.Notification) error

func (f Func) Notify(ctx context.Context, recipient org.UserID, n workflow.Notification) error {
	return f(ctx, recipient, n)
}
