// Package notification delivers breakout and trade alerts to external
// channels.
package notification

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tdawg5587/tradesim1/internal/session"
)

// AlertLevel represents the severity of an alert.
type AlertLevel string

const (
	AlertInfo    AlertLevel = "INFO"
	AlertWarning AlertLevel = "WARNING"
)

// Alert represents a notification to be sent.
type Alert struct {
	Level   AlertLevel        `json:"level"`
	Title   string            `json:"title"`
	Message string            `json:"message"`
	Event   session.EventType `json:"event"`
	At      time.Time         `json:"ts"`
}

// Notifier is the interface for all notification backends.
type Notifier interface {
	// Send delivers an alert. Returns error if delivery fails.
	Send(ctx context.Context, alert Alert) error
}

// LogNotifier logs alerts. It is the default when no webhook is set.
type LogNotifier struct {
	log *slog.Logger
}

// NewLogNotifier creates a log-based notifier.
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{log: slog.Default().With(slog.String("component", "notify"))}
}

func (n *LogNotifier) Send(ctx context.Context, alert Alert) error {
	n.log.Info(alert.Title,
		slog.String("level", string(alert.Level)),
		slog.String("message", alert.Message))
	return nil
}

// AlertFor maps a session event to an alert. Entries and cancels are the
// trader's own actions and produce none.
func AlertFor(ev session.Event) (Alert, bool) {
	switch ev.Type {
	case session.EventBreakout:
		if ev.Breakout == nil {
			return Alert{}, false
		}
		return Alert{
			Level:   AlertWarning,
			Title:   "Breakout",
			Message: fmt.Sprintf("high %s broke previous high %s", ev.Breakout.High, ev.Breakout.PrevHigh),
			Event:   ev.Type,
			At:      ev.At,
		}, true
	case session.EventExited:
		if ev.Trade == nil {
			return Alert{}, false
		}
		return Alert{
			Level: AlertInfo,
			Title: "Trade closed",
			Message: fmt.Sprintf("%s %s -> %s labelled %s, score %+d",
				ev.Trade.Kind, ev.Trade.EntryPrice, ev.ExitPrice, ev.Result, ev.ScoreDelta),
			Event: ev.Type,
			At:    ev.At,
		}, true
	}
	return Alert{}, false
}

// Run sends an alert for every alert-worthy event on ch until ctx is
// cancelled or ch is closed. onSent, if set, receives each send error
// (nil on success).
func Run(ctx context.Context, n Notifier, ch <-chan session.Event, onSent func(error)) {
	log := slog.Default().With(slog.String("component", "notify"))
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			alert, ok := AlertFor(ev)
			if !ok {
				continue
			}
			sendCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			err := n.Send(sendCtx, alert)
			cancel()
			if err != nil && !errors.Is(err, context.Canceled) {
				log.Warn("alert delivery failed",
					slog.String("title", alert.Title),
					slog.String("error", err.Error()))
			}
			if onSent != nil {
				onSent(err)
			}
		}
	}
}
