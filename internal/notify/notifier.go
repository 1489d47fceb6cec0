// Package notify carries the engine's outward signals: the open/close
// progress dialog notifications, and operator alerts about finished trades
// dispatched to Telegram and Discord.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/fulcrumbot/internal/domain"
)

// Alert event types.
const (
	EventTaskSucceeded = "task_succeeded"
	EventTaskFailed    = "task_failed"
	EventTaskCancelled = "task_cancelled"
)

// Sender is the interface that each notification channel must implement.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

// Notifier dispatches alerts to one or more Senders, forwarding only the
// configured event types (all of them when none are configured).
type Notifier struct {
	senders []Sender
	events  map[string]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier for senders filtered by events.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[e] = true
		}
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Enabled reports whether any sender is configured.
func (n *Notifier) Enabled() bool {
	return n != nil && len(n.senders) > 0
}

// Notify sends title/message for event if the event type is allowed.
func (n *Notifier) Notify(ctx context.Context, event, title, message string) error {
	if len(n.events) > 0 && !n.events[event] {
		n.logger.DebugContext(ctx, "event filtered out", slog.String("event", event))
		return nil
	}
	return n.dispatch(ctx, title, message)
}

// TaskOutcome alerts about a task that reached a terminal state. Non-terminal
// snapshots are ignored.
func (n *Notifier) TaskOutcome(ctx context.Context, snap domain.TaskSnapshot) error {
	event, title := outcomeEvent(snap)
	if event == "" {
		return nil
	}
	return n.Notify(ctx, event, title, FormatTask(snap))
}

func outcomeEvent(snap domain.TaskSnapshot) (event, title string) {
	req := snap.Request
	name := fmt.Sprintf("%s %s", req.TypeName(), req.TokenKey())
	switch snap.Status {
	case domain.TaskSucceeded:
		return EventTaskSucceeded, "Trade completed: " + name
	case domain.TaskFailed:
		return EventTaskFailed, "Trade failed: " + name
	case domain.TaskCancelled:
		return EventTaskCancelled, "Trade cancelled: " + name
	}
	return "", ""
}

// FormatTask renders the alert body for snap.
func FormatTask(snap domain.TaskSnapshot) string {
	req := snap.Request
	var b strings.Builder
	fmt.Fprintf(&b, "task: %s\n", snap.ID)
	fmt.Fprintf(&b, "amount: %s %s (collateral %s)\n", req.Amount.String(), req.Asset, req.Collateral)
	if stage := snap.CurrentStage(); stage != "" {
		fmt.Fprintf(&b, "stage: %s (%d/%d)\n", stage, snap.StageIndex+1, len(snap.Stages))
	}
	if snap.TxHash != "" {
		fmt.Fprintf(&b, "tx: %s\n", snap.TxHash)
	}
	if snap.Reason != "" {
		fmt.Fprintf(&b, "reason: %s\n", snap.Reason)
	}
	return strings.TrimRight(b.String(), "\n")
}

// dispatch sends to every sender; one failing sender does not stop the rest.
func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	if len(n.senders) == 0 {
		return nil
	}

	var errs []string
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Sprintf("%s: %v", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("title", title),
		)
	}

	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %s", len(errs), strings.Join(errs, "; "))
	}
	return nil
}
