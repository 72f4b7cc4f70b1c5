package bursar

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/xraph/bursar/directory"
	"github.com/xraph/bursar/feestructure"
	"github.com/xraph/bursar/id"
	"github.com/xraph/bursar/invoice"
	"github.com/xraph/bursar/notify"
	"github.com/xraph/bursar/plugin"
	"github.com/xraph/bursar/store"
	"github.com/xraph/bursar/types"
)

// DefaultDueDays is how long after generation an invoice falls due.
const DefaultDueDays = 30

// Bursar is the fee billing engine.
type Bursar struct {
	store    store.Store
	plugins  *plugin.Registry
	logger   *slog.Logger
	students directory.Students
	notifier *notify.Dispatcher
	notifyTo notify.Notifier

	// Configuration
	dueDays  int
	currency string
	now      func() time.Time
}

// New creates a new Bursar instance.
func New(s store.Store, opts ...Option) *Bursar {
	b := &Bursar{
		store:    s,
		plugins:  plugin.NewRegistry(),
		logger:   slog.Default(),
		students: directory.NewStatic(),
		notifyTo: notify.Nop,
		dueDays:  DefaultDueDays,
		currency: types.DefaultCurrency,
		now:      time.Now,
	}

	for _, opt := range opts {
		opt(b)
	}

	b.notifier = notify.NewDispatcher(b.notifyTo, b.logger, notify.DefaultTimeout)
	return b
}

// Option configures a Bursar instance.
type Option func(*Bursar)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Bursar) {
		b.logger = logger
		b.plugins.WithLogger(logger)
	}
}

// WithPlugin registers a plugin.
func WithPlugin(p plugin.Plugin) Option {
	return func(b *Bursar) {
		_ = b.plugins.Register(p) //nolint:errcheck // best-effort plugin registration during init
	}
}

// WithStudents sets the student directory used by invoice generation.
func WithStudents(s directory.Students) Option {
	return func(b *Bursar) {
		b.students = s
	}
}

// WithNotifier sets where fee notifications go.
func WithNotifier(n notify.Notifier) Option {
	return func(b *Bursar) {
		b.notifyTo = n
	}
}

// WithDueDays sets the invoice due period in days.
func WithDueDays(days int) Option {
	return func(b *Bursar) {
		if days > 0 {
			b.dueDays = days
		}
	}
}

// WithCurrency sets the billing currency for new amounts.
func WithCurrency(currency string) Option {
	return func(b *Bursar) {
		if currency != "" {
			b.currency = strings.ToLower(currency)
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(b *Bursar) {
		b.now = now
	}
}

// Start migrates the store and initializes plugins.
func (b *Bursar) Start(ctx context.Context) error {
	if err := b.store.Migrate(ctx); err != nil {
		return err
	}

	b.plugins.EmitInit(ctx, b)

	b.logger.Info("bursar started",
		"currency", b.currency,
		"due_days", b.dueDays,
		"plugins", b.plugins.Count(),
	)
	return nil
}

// Stop waits for pending notifications, shuts plugins down and closes
// the store.
func (b *Bursar) Stop() error {
	b.notifier.Wait()

	ctx := context.Background()
	b.plugins.EmitShutdown(ctx)

	return b.store.Close()
}

// Store returns the underlying store.
func (b *Bursar) Store() store.Store { return b.store }

// Plugins returns the plugin registry.
func (b *Bursar) Plugins() *plugin.Registry { return b.plugins }

// Currency returns the billing currency.
func (b *Bursar) Currency() string { return b.currency }

// Logger returns the engine logger.
func (b *Bursar) Logger() *slog.Logger { return b.logger }

// FlushNotifications blocks until queued notifications are delivered.
func (b *Bursar) FlushNotifications() { b.notifier.Wait() }

// ──────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────

func (b *Bursar) clock() time.Time { return b.now().UTC() }

// structure loads a structure and hides other schools' rows behind
// ErrStructureNotFound.
func structure(ctx context.Context, s store.Store, schoolID string, structureID id.FeeStructureID) (*feestructure.FeeStructure, error) {
	if schoolID == "" {
		return nil, ErrMissingScope
	}
	fs, err := s.GetStructure(ctx, structureID)
	if err != nil {
		return nil, err
	}
	if fs.SchoolID != schoolID {
		return nil, ErrStructureNotFound
	}
	return fs, nil
}

func loadInvoice(ctx context.Context, s store.Store, schoolID string, invID id.InvoiceID) (*invoice.Invoice, error) {
	if schoolID == "" {
		return nil, ErrMissingScope
	}
	inv, err := s.GetInvoice(ctx, invID)
	if err != nil {
		return nil, err
	}
	if inv.SchoolID != schoolID {
		return nil, ErrInvoiceNotFound
	}
	return inv, nil
}

func validateTerm(year, term int) error {
	var errs MultiError
	if year < feestructure.MinYear || year > feestructure.MaxYear {
		errs.Add(Invalid("year", "must be between %d and %d", feestructure.MinYear, feestructure.MaxYear))
	}
	if term < feestructure.MinTerm || term > feestructure.MaxTerm {
		errs.Add(Invalid("term", "must be between %d and %d", feestructure.MinTerm, feestructure.MaxTerm))
	}
	return errs.Err()
}
