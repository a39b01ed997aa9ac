package workflow

import (
	"context"

	"github.com/apettas/adeies/org"
)

// Notification describes a committed transition.
type Notification struct {
	RequestID RequestID  `json:"request_id"`
	Event     Event      `json:"event"`
	From      Status     `json:"from"`
	To        Status     `json:"to"`
	Actor     org.UserID `json:"actor"`
	OwnerID   org.UserID `json:"owner_id"`
	Reason    string     `json:"reason,omitempty"`
}

// Notifier is told about transitions after they commit. Errors are logged and
// never undo the transition.
type Notifier interface {
	Notify(ctx context.Context, recipient org.UserID, n Notification) error
}

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, org.UserID, Notification) error { return nil }

// recipients returns who hears about n: the owner, plus the next actor when it
// is a single known user.
func recipients(n Notification, next *org.User) []org.UserID {
	out := []org.UserID{}
	if n.Actor != n.OwnerID {
		out = append(out, n.OwnerID)
	}
	if next != nil && next.ID != n.Actor && next.ID != n.OwnerID {
		out = append(out, next.ID)
	}
	return out
}
