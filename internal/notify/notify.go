// Package notify delivers one-time codes and approver alerts.
//
// Delivery is best-effort and fire-and-forget from the pipeline's
// perspective: failures are logged, never surfaced, and never roll back a
// state transition.
package notify

import "context"

// Notifier is the notification collaborator the pipeline calls.
type Notifier interface {
	// SendCode delivers a one-time code to the requester.
	SendCode(ctx context.Context, requesterID, code string)
	// NotifyApprovers alerts the approval queue that a transfer is waiting.
	NotifyApprovers(ctx context.Context, transferID string)
}

// Noop discards all notifications. Used when no delivery channel is
// configured.
type Noop struct{}

func (Noop) SendCode(context.Context, string, string) {}

func (Noop) NotifyApprovers(context.Context, string) {}

var _ Notifier = Noop{}
