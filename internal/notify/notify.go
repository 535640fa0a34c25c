// Package notify delivers lifecycle events to the operator.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/eddiefleurent/nifty_condor/internal/config"
	"github.com/eddiefleurent/nifty_condor/internal/models"
)

// EventType classifies a notification.
type EventType string

const (
	EventEntry      EventType = "ENTRY"
	EventAdjustment EventType = "ADJUSTMENT"
	EventTargetHit  EventType = "TARGET_HIT"
	EventStopHit    EventType = "STOP_HIT"
	EventTimeExit   EventType = "TIME_EXIT"
	EventExit       EventType = "EXIT"
	EventError      EventType = "ERROR"
)

// Event is one notification. Position, when set, is a snapshot owned by the event.
type Event struct {
	Type     EventType
	Strategy string
	Message  string
	Position *models.Position
	Time     time.Time
}

// Notifier sends events somewhere a human will see them.
type Notifier interface {
	Notify(ctx context.Context, ev Event) error
}

// ExitEventType maps the reason a position closed to the event announcing it.
func ExitEventType(reason models.ExitReason) EventType {
	switch reason {
	case models.ExitTarget:
		return EventTargetHit
	case models.ExitStopLoss, models.ExitTrailingStop, models.ExitDailyLossLimit:
		return EventStopHit
	case models.ExitTimeExit:
		return EventTimeExit
	case models.ExitAdjustment:
		return EventAdjustment
	default:
		return EventExit
	}
}

// New returns the log notifier, fanned out to Telegram when it is enabled.
func New(cfg config.NotifyConfig, logger *logrus.Entry) Notifier {
	log := NewLogNotifier(logger)
	if !cfg.Telegram.Enabled {
		return log
	}
	return Multi{log, NewTelegramNotifier(cfg.Telegram, logger)}
}

// Multi delivers to every notifier and joins their errors.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, ev Event) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogNotifier writes events to the structured log.
type LogNotifier struct {
	logger *logrus.Entry
}

func NewLogNotifier(logger *logrus.Entry) *LogNotifier {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &LogNotifier{logger: logger}
}

func (l *LogNotifier) Notify(_ context.Context, ev Event) error {
	fields := logrus.Fields{"event": string(ev.Type), "strategy": ev.Strategy}
	if ev.Position != nil {
		fields["position"] = ev.Position.ID
		fields["legs"] = ev.Position.Describe()
		fields["pnl"] = fmt.Sprintf("%.2f", ev.Position.TotalPnL())
	}
	entry := l.logger.WithFields(fields)
	if ev.Type == EventError {
		entry.Error(ev.Message)
	} else {
		entry.Info(ev.Message)
	}
	return nil
}

// message is an event rendered as plain text; the Telegram notifier marks it up.
type message struct {
	title string
	body  []string
	legs  string
}

func render(ev Event) message {
	m := message{title: fmt.Sprintf("%s %s", strings.ToUpper(strings.ReplaceAll(ev.Strategy, "_", " ")), ev.Type)}
	if ev.Message != "" {
		m.body = append(m.body, ev.Message)
	}
	if p := ev.Position; p != nil {
		m.legs = p.Describe()
		m.body = append(m.body, fmt.Sprintf("P&L: %s", formatINR(p.TotalPnL())))
		if p.Ambiguous {
			m.body = append(m.body, "Both sides breached on the same tick")
		}
	}
	return m
}

func (m message) plain() string {
	lines := append([]string{m.title}, m.body...)
	if m.legs != "" {
		lines = append(lines, m.legs)
	}
	return strings.Join(lines, "\n")
}

// formatINR formats an amount with Indian digit grouping, e.g. -₹1,23,456.50.
func formatINR(amount float64) string {
	negative := amount < 0
	if negative {
		amount = -amount
	}

	str := fmt.Sprintf("%.2f", amount)
	intPart, decPart, _ := strings.Cut(str, ".")

	grouped := intPart
	if n := len(intPart); n > 3 {
		grouped = intPart[n-3:]
		rest := intPart[:n-3]
		for len(rest) > 2 {
			grouped = rest[len(rest)-2:] + "," + grouped
			rest = rest[:len(rest)-2]
		}
		grouped = rest + "," + grouped
	}

	out := "₹" + grouped + "." + decPart
	if negative {
		out = "-" + out
	}
	return out
}
