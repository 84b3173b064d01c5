// Package notification delivers trade alerts to external channels (log,
// webhook, Telegram). Delivery failures are logged and never propagate into
// the decision loop.
package notification

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"momentum-botv1/internal/model"
)

// AlertLevel represents the severity of an alert.
type AlertLevel string

const (
	AlertInfo     AlertLevel = "INFO"
	AlertWarning  AlertLevel = "WARNING"
	AlertCritical AlertLevel = "CRITICAL"
)

// Alert represents a notification to be sent.
type Alert struct {
	Level   AlertLevel `json:"level"`
	Title   string     `json:"title"`
	Message string     `json:"message"`
}

// Notifier is the interface for all notification backends.
type Notifier interface {
	// Send delivers an alert. Returns error if delivery fails.
	Send(ctx context.Context, alert Alert) error
}

// LogNotifier logs alerts (useful for development).
type LogNotifier struct{}

// NewLogNotifier creates a log-based notifier.
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{}
}

func (n *LogNotifier) Send(ctx context.Context, alert Alert) error {
	log.Printf("[notify] [%s] %s: %s", alert.Level, alert.Title, alert.Message)
	return nil
}

// Multi sends to every backend and joins their errors.
type Multi []Notifier

func (m Multi) Send(ctx context.Context, alert Alert) error {
	var errs []error
	for _, n := range m {
		if err := n.Send(ctx, alert); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Dispatcher delivers alerts in the background through a bounded queue so a
// slow channel never delays a trading decision.
type Dispatcher struct {
	n       Notifier
	queue   chan Alert
	timeout time.Duration
}

// NewDispatcher creates a Dispatcher. Call Run to start delivery.
func NewDispatcher(n Notifier, queueSize int) *Dispatcher {
	if queueSize <= 0 {
		queueSize = 64
	}
	return &Dispatcher{n: n, queue: make(chan Alert, queueSize), timeout: 10 * time.Second}
}

// Notify enqueues an alert; it is dropped if the queue is full.
func (d *Dispatcher) Notify(alert Alert) {
	select {
	case d.queue <- alert:
	default:
		log.Printf("[notify] queue full, dropping alert %q", alert.Title)
	}
}

// Opened enqueues the alert for a newly opened position.
func (d *Dispatcher) Opened(p model.Position) { d.Notify(OpenedAlert(p)) }

// Settled enqueues the alert for a settled position.
func (d *Dispatcher) Settled(s model.Settlement) { d.Notify(SettledAlert(s)) }

// Run delivers queued alerts until ctx is done.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case a := <-d.queue:
			sendCtx, cancel := context.WithTimeout(ctx, d.timeout)
			if err := d.n.Send(sendCtx, a); err != nil {
				log.Printf("[notify] delivery failed for %q: %v", a.Title, err)
			}
			cancel()
		}
	}
}

// OpenedAlert describes a new paper position.
func OpenedAlert(p model.Position) Alert {
	return Alert{
		Level: AlertInfo,
		Title: fmt.Sprintf("OPENED %s %s", p.Direction, p.Ticker),
		Message: fmt.Sprintf("%s | %d @ $%s = $%s | RSI %.1f | closes %s",
			p.Signal, p.Contracts, p.EntryPrice.StringFixed(2), p.Cost().StringFixed(2),
			p.RSI, p.CloseTime.UTC().Format("15:04 MST")),
	}
}

// SettledAlert describes a resolved position. Losses are warnings.
func SettledAlert(s model.Settlement) Alert {
	level, verdict := AlertInfo, "WIN"
	if !s.Won {
		level, verdict = AlertWarning, "LOSS"
	}
	return Alert{
		Level: level,
		Title: fmt.Sprintf("%s %s %s", verdict, s.Position.Direction, s.Position.Ticker),
		Message: fmt.Sprintf("outcome %s | pnl $%s | %s",
			s.Outcome, s.Profit.StringFixed(2), s.Position.Signal),
	}
}
