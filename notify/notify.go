// Package notify delivers fee notifications (payment receipts, issued
// invoices, arrears reminders) to an outbound channel. Delivery is best
// effort: a failed notification never fails the billing operation that
// produced it.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// Kind names a notification.
type Kind string

const (
	KindPaymentReceived   Kind = "payment.received"
	KindInvoiceIssued     Kind = "invoice.issued"
	KindInvoiceCancelled  Kind = "invoice.cancelled"
	KindInvoicesGenerated Kind = "invoices.generated"
	KindUnpaidReminder    Kind = "invoice.reminder"
)

// Event is one notification.
type Event struct {
	ID        string         `json:"id"`
	Kind      Kind           `json:"kind"`
	SchoolID  string         `json:"school_id"`
	StudentID string         `json:"student_id,omitempty"`
	InvoiceID string         `json:"invoice_id,omitempty"`
	Message   string         `json:"message"`
	Data      map[string]any `json:"data,omitempty"`
	At        time.Time      `json:"at"`
}

// Notifier sends events somewhere.
type Notifier interface {
	Notify(ctx context.Context, ev Event) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, ev Event) error

// Notify implements Notifier.
func (f NotifierFunc) Notify(ctx context.Context, ev Event) error { return f(ctx, ev) }

// Nop discards every event.
var Nop Notifier = NotifierFunc(func(context.Context, Event) error { return nil })

// Multi fans an event out to every notifier and joins their errors.
type Multi []Notifier

// Notify implements Notifier.
func (m Multi) Notify(ctx context.Context, ev Event) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ──────────────────────────────────────────────────
// Log notifier
// ──────────────────────────────────────────────────

// Logger writes events to a slog logger.
type Logger struct {
	logger *slog.Logger
}

// NewLogger returns a notifier that logs at Info.
func NewLogger(logger *slog.Logger) *Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Logger{logger: logger}
}

// Notify implements Notifier.
func (l *Logger) Notify(ctx context.Context, ev Event) error {
	l.logger.InfoContext(ctx, "notification",
		"kind", ev.Kind,
		"school_id", ev.SchoolID,
		"student_id", ev.StudentID,
		"invoice_id", ev.InvoiceID,
		"message", ev.Message,
	)
	return nil
}

// ──────────────────────────────────────────────────
// Redis notifier
// ──────────────────────────────────────────────────

// DefaultChannel is the pub/sub channel prefix used by Redis.
const DefaultChannel = "bursar:notifications"

// Redis publishes events as JSON on "<channel>:<school_id>".
type Redis struct {
	client  *redis.Client
	channel string
}

// NewRedis returns a publisher on client.
func NewRedis(client *redis.Client, channel string) *Redis {
	if channel == "" {
		channel = DefaultChannel
	}
	return &Redis{client: client, channel: channel}
}

// Channel returns the channel events for schoolID are published on.
func (r *Redis) Channel(schoolID string) string {
	return r.channel + ":" + schoolID
}

// Notify implements Notifier.
func (r *Redis) Notify(ctx context.Context, ev Event) error {
	data, err := marshal(ev)
	if err != nil {
		return err
	}
	if err := r.client.Publish(ctx, r.Channel(ev.SchoolID), data).Err(); err != nil {
		return fmt.Errorf("notify: redis publish: %w", err)
	}
	return nil
}

// ──────────────────────────────────────────────────
// Dispatcher
// ──────────────────────────────────────────────────

// DefaultTimeout bounds one delivery.
const DefaultTimeout = 10 * time.Second

// Dispatcher sends events on background goroutines so callers never wait
// on delivery.
type Dispatcher struct {
	notifier Notifier
	logger   *slog.Logger
	timeout  time.Duration
	now      func() time.Time
	wg       sync.WaitGroup
}

// NewDispatcher wraps n. A nil n discards events.
func NewDispatcher(n Notifier, logger *slog.Logger, timeout time.Duration) *Dispatcher {
	if n == nil {
		n = Nop
	}
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Dispatcher{notifier: n, logger: logger, timeout: timeout, now: time.Now}
}

// Send delivers ev in the background. The delivery context is detached
// from ctx so it outlives the request that produced the event.
func (d *Dispatcher) Send(ctx context.Context, ev Event) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.At.IsZero() {
		ev.At = d.now().UTC()
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer func() {
			if rec := recover(); rec != nil {
				d.logger.Error("notify: notifier panicked", "kind", ev.Kind, "panic", rec)
			}
		}()

		sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
		defer cancel()

		if err := d.notifier.Notify(sendCtx, ev); err != nil {
			d.logger.Warn("notify: delivery failed",
				"kind", ev.Kind,
				"school_id", ev.SchoolID,
				"invoice_id", ev.InvoiceID,
				"error", err,
			)
		}
	}()
}

// Wait blocks until every in-flight delivery has finished.
func (d *Dispatcher) Wait() { d.wg.Wait() }
