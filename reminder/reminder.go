// Package reminder sends scheduled reminders for unpaid invoices.
//
// A cron schedule (robfig/cron syntax, UTC) runs one pass per configured
// school: the current term's ISSUED and PARTIAL invoices with a balance
// produce one KindUnpaidReminder notification each.
package reminder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/xraph/bursar"
	"github.com/xraph/bursar/directory"
	"github.com/xraph/bursar/invoice"
	"github.com/xraph/bursar/notify"
)

// DefaultSchedule is Monday 08:00 UTC.
const DefaultSchedule = "0 8 * * 1"

// DefaultRunTimeout bounds one scheduled pass.
const DefaultRunTimeout = 5 * time.Minute

// Config controls the reminder job.
type Config struct {
	Schedule string `json:"schedule" yaml:"schedule"`
	// Schools lists the tenants to remind.
	Schools []string `json:"schools" yaml:"schools"`
	// OverdueOnly skips invoices whose due date has not passed.
	OverdueOnly bool `json:"overdue_only" yaml:"overdue_only"`
}

// Result summarizes one pass.
type Result struct {
	Schools int `json:"schools"`
	Sent    int `json:"sent"`
	Skipped int `json:"skipped"`
}

// Scheduler runs reminder passes.
type Scheduler struct {
	b          *bursar.Bursar
	dispatcher *notify.Dispatcher
	terms      directory.Terms
	cfg        Config
	logger     *slog.Logger
	now        func() time.Time
	cron       *cron.Cron
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithTerms sets the calendar used to find the current term. Without it
// the term is derived from the date.
func WithTerms(t directory.Terms) Option { return func(s *Scheduler) { s.terms = t } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(s *Scheduler) { s.logger = l } }

// WithClock sets the clock used for due dates and the default term.
func WithClock(now func() time.Time) Option { return func(s *Scheduler) { s.now = now } }

// New creates a Scheduler delivering through n.
func New(b *bursar.Bursar, n notify.Notifier, cfg Config, opts ...Option) *Scheduler {
	if cfg.Schedule == "" {
		cfg.Schedule = DefaultSchedule
	}
	s := &Scheduler{
		b:      b,
		cfg:    cfg,
		logger: b.Logger(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.dispatcher = notify.NewDispatcher(n, s.logger, notify.DefaultTimeout)
	return s
}

// Start registers the job and starts the cron scheduler.
func (s *Scheduler) Start() error {
	if len(s.cfg.Schools) == 0 {
		return errors.New("reminder: no schools configured")
	}
	c := cron.New(cron.WithLocation(time.UTC))
	_, err := c.AddFunc(s.cfg.Schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), DefaultRunTimeout)
		defer cancel()

		res, err := s.Run(ctx)
		if err != nil {
			s.logger.Error("reminder: run failed", "error", err)
			return
		}
		s.logger.Info("reminder: run complete",
			"schools", res.Schools,
			"sent", res.Sent,
			"skipped", res.Skipped,
		)
	})
	if err != nil {
		return fmt.Errorf("reminder: schedule %q: %w", s.cfg.Schedule, err)
	}
	s.cron = c
	c.Start()
	s.logger.Info("reminder: scheduled", "schedule", s.cfg.Schedule, "schools", len(s.cfg.Schools))
	return nil
}

// Stop stops the scheduler and waits for a running pass and its
// deliveries to finish.
func (s *Scheduler) Stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
	s.dispatcher.Wait()
}

// Wait blocks until queued deliveries finish.
func (s *Scheduler) Wait() { s.dispatcher.Wait() }

// Run performs one pass over every configured school. A failing school is
// logged and the rest still run; the joined errors are returned.
func (s *Scheduler) Run(ctx context.Context) (*Result, error) {
	res := &Result{}
	var errs []error
	for _, school := range s.cfg.Schools {
		sent, skipped, err := s.remindSchool(ctx, school)
		if err != nil {
			s.logger.Warn("reminder: school failed", "school_id", school, "error", err)
			errs = append(errs, fmt.Errorf("school %s: %w", school, err))
			continue
		}
		res.Schools++
		res.Sent += sent
		res.Skipped += skipped
	}
	return res, errors.Join(errs...)
}

func (s *Scheduler) remindSchool(ctx context.Context, school string) (sent, skipped int, err error) {
	term, err := s.currentTerm(ctx, school)
	if err != nil {
		return 0, 0, err
	}
	views, err := s.b.ListUnpaid(ctx, school, term.Year, term.Term, "")
	if err != nil {
		return 0, 0, err
	}

	now := s.now().UTC()
	for _, v := range views {
		if v.Status == invoice.StatusDraft || !v.Balance.IsPositive() {
			skipped++
			continue
		}
		if s.cfg.OverdueOnly && !v.DueDate.Before(now) {
			skipped++
			continue
		}
		s.dispatcher.Send(ctx, reminderEvent(v, now))
		sent++
	}
	return sent, skipped, nil
}

func (s *Scheduler) currentTerm(ctx context.Context, school string) (directory.Term, error) {
	if s.terms != nil {
		return s.terms.Current(ctx, school)
	}
	return directory.TermFor(s.now()), nil
}

func reminderEvent(v *invoice.View, now time.Time) notify.Event {
	msg := fmt.Sprintf("Fee balance of %s for Term %d %d is due on %s.",
		v.Balance, v.Term, v.Year, v.DueDate.Format("2 Jan 2006"))
	if v.DueDate.Before(now) {
		msg = fmt.Sprintf("Fee balance of %s for Term %d %d was due on %s.",
			v.Balance, v.Term, v.Year, v.DueDate.Format("2 Jan 2006"))
	}
	return notify.Event{
		Kind:      notify.KindUnpaidReminder,
		SchoolID:  v.SchoolID,
		StudentID: v.StudentID,
		InvoiceID: v.ID.String(),
		Message:   msg,
		Data: map[string]any{
			"balance":  v.Balance.Amount,
			"currency": v.Balance.Currency,
			"due_date": v.DueDate.Format(time.DateOnly),
			"overdue":  v.DueDate.Before(now),
		},
	}
}
