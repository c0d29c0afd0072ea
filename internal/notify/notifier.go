// Package notify fans operator alerts out to the configured channels.
// Exposure alerts (a leg left open after a failed compensation) always
// deliver; routine lifecycle events can be filtered per deployment.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// Event types emitted by the engine and jobs.
const (
	EventOpportunity = "opportunity"
	EventTradeOpened = "trade_opened"
	EventTradeClosed = "trade_closed"
	EventTradeError  = "trade_error"
	EventLegExposed  = "leg_exposed"
	EventOrphanSwept = "orphan_swept"
)

// Sender delivers one rendered notification over a single channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

// Notifier dispatches notifications to every configured Sender, filtering by
// event type. EventLegExposed and EventTradeError bypass the filter: an
// operator must always hear about money left on a venue.
type Notifier struct {
	senders []Sender
	allowed map[string]bool
	logger  *slog.Logger
}

// New creates a Notifier. An empty events list allows every event type.
func New(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		allowed[strings.TrimSpace(e)] = true
	}
	return &Notifier{
		senders: senders,
		allowed: allowed,
		logger:  logger.With("component", "notifier"),
	}
}

// Notify delivers to all senders if the event type passes the filter.
func (n *Notifier) Notify(ctx context.Context, event, title, message string) error {
	if !n.passes(event) {
		n.logger.Debug("event filtered out", "event", event)
		return nil
	}
	return n.dispatch(ctx, title, message)
}

func (n *Notifier) passes(event string) bool {
	if event == EventLegExposed || event == EventTradeError {
		return true
	}
	return len(n.allowed) == 0 || n.allowed[event]
}

// dispatch sends to every sender; one channel failing does not stop the rest.
func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	if len(n.senders) == 0 {
		return nil
	}

	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.Error("sender failed",
				"sender", s.Name(), "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		n.logger.Debug("notification sent",
			"sender", s.Name(), "title", title)
	}

	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %w", len(errs), errors.Join(errs...))
	}
	return nil
}
