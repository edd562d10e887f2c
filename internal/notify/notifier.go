// Package notify delivers copy-trading alerts (executed and skipped trades,
// trading disabled) to Telegram and Discord, filtered by event type.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/xunboo/polymarket-copy-bot/internal/domain"
)

// Sender is the interface that each notification channel must implement.
type Sender interface {
	// Send delivers one rendered message.
	Send(ctx context.Context, msg Message) error
	// Name returns a human-readable identifier for the sender (e.g. "telegram").
	Name() string
}

// Notifier renders domain events and dispatches them to one or more Senders.
// Only events in the allowed set are forwarded.
type Notifier struct {
	senders []Sender
	events  map[string]bool // allowed event types
	logger  *slog.Logger
}

// NewNotifier creates a Notifier. An empty events list allows every event.
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

// NotifyTrade reports a resolved copy as trade_executed or trade_skipped.
func (n *Notifier) NotifyTrade(ctx context.Context, ev domain.TradeEvent, r domain.Resolution) error {
	return n.Notify(ctx, TradeMessage(ev, r))
}

// NotifyTradingDisabled reports that credentials could not be derived.
func (n *Notifier) NotifyTradingDisabled(ctx context.Context, cause error) error {
	return n.Notify(ctx, DisabledMessage(cause))
}

// Notify sends msg to every sender when its event passes the filter.
func (n *Notifier) Notify(ctx context.Context, msg Message) error {
	if len(n.events) > 0 && !n.events[msg.Event] {
		n.logger.DebugContext(ctx, "event filtered out",
			slog.String("event", msg.Event),
		)
		return nil
	}
	if len(n.senders) == 0 {
		return nil
	}

	// One failing sender does not stop the rest.
	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, msg); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("event", msg.Event),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		} else {
			n.logger.DebugContext(ctx, "notification sent",
				slog.String("sender", s.Name()),
				slog.String("event", msg.Event),
			)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %w", len(errs), errors.Join(errs...))
	}
	return nil
}

// Senders returns the configured senders' names.
func (n *Notifier) Senders() []string {
	names := make([]string, 0, len(n.senders))
	for _, s := range n.senders {
		names = append(names, s.Name())
	}
	return names
}
