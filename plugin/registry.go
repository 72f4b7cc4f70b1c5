package plugin

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"time"

	"github.com/xraph/bursar/feestructure"
	"github.com/xraph/bursar/invoice"
	"github.com/xraph/bursar/payment"
)

// DefaultTimeout bounds a single hook call.
const DefaultTimeout = 5 * time.Second

// Registry manages all registered plugins and provides efficient dispatch.
// Hook implementations are discovered once at registration.
type Registry struct {
	mu      sync.RWMutex
	plugins []Plugin
	logger  *slog.Logger
	timeout time.Duration

	// Type-cached plugin lists for efficient dispatch
	onInit               []OnInit
	onShutdown           []OnShutdown
	onStructureCreated   []OnStructureCreated
	onStructurePublished []OnStructurePublished
	onDefaultChanged     []OnDefaultChanged
	onStructureDeleted   []OnStructureDeleted
	onItemSaved          []OnItemSaved
	onItemDeleted        []OnItemDeleted
	onInvoicesGenerated  []OnInvoicesGenerated
	onInvoicesIssued     []OnInvoicesIssued
	onInvoiceCancelled   []OnInvoiceCancelled
	onInvoicePaid        []OnInvoicePaid
	onPaymentRecorded    []OnPaymentRecorded
	onConversationTurn   []OnConversationTurn
	invoiceFormatters    map[string]InvoiceFormatter
}

// NewRegistry creates a new plugin registry.
func NewRegistry() *Registry {
	return &Registry{
		logger:            slog.Default(),
		timeout:           DefaultTimeout,
		invoiceFormatters: make(map[string]InvoiceFormatter),
	}
}

// WithLogger sets the logger for the registry.
func (r *Registry) WithLogger(logger *slog.Logger) *Registry {
	r.logger = logger
	return r
}

// WithTimeout sets the per-hook timeout.
func (r *Registry) WithTimeout(d time.Duration) *Registry {
	if d > 0 {
		r.timeout = d
	}
	return r
}

// Register adds a plugin to the registry and caches its interfaces.
func (r *Registry) Register(p Plugin) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.plugins {
		if existing.Name() == p.Name() {
			return fmt.Errorf("plugin: duplicate registration: %s", p.Name())
		}
	}

	r.plugins = append(r.plugins, p)

	if v, ok := p.(OnInit); ok {
		r.onInit = append(r.onInit, v)
	}
	if v, ok := p.(OnShutdown); ok {
		r.onShutdown = append(r.onShutdown, v)
	}
	if v, ok := p.(OnStructureCreated); ok {
		r.onStructureCreated = append(r.onStructureCreated, v)
	}
	if v, ok := p.(OnStructurePublished); ok {
		r.onStructurePublished = append(r.onStructurePublished, v)
	}
	if v, ok := p.(OnDefaultChanged); ok {
		r.onDefaultChanged = append(r.onDefaultChanged, v)
	}
	if v, ok := p.(OnStructureDeleted); ok {
		r.onStructureDeleted = append(r.onStructureDeleted, v)
	}
	if v, ok := p.(OnItemSaved); ok {
		r.onItemSaved = append(r.onItemSaved, v)
	}
	if v, ok := p.(OnItemDeleted); ok {
		r.onItemDeleted = append(r.onItemDeleted, v)
	}
	if v, ok := p.(OnInvoicesGenerated); ok {
		r.onInvoicesGenerated = append(r.onInvoicesGenerated, v)
	}
	if v, ok := p.(OnInvoicesIssued); ok {
		r.onInvoicesIssued = append(r.onInvoicesIssued, v)
	}
	if v, ok := p.(OnInvoiceCancelled); ok {
		r.onInvoiceCancelled = append(r.onInvoiceCancelled, v)
	}
	if v, ok := p.(OnInvoicePaid); ok {
		r.onInvoicePaid = append(r.onInvoicePaid, v)
	}
	if v, ok := p.(OnPaymentRecorded); ok {
		r.onPaymentRecorded = append(r.onPaymentRecorded, v)
	}
	if v, ok := p.(OnConversationTurn); ok {
		r.onConversationTurn = append(r.onConversationTurn, v)
	}
	if v, ok := p.(InvoiceFormatter); ok {
		r.invoiceFormatters[v.Format()] = v
	}

	r.logger.Info("plugin registered",
		"name", p.Name(),
		"interfaces", implementedInterfaces(p),
	)

	return nil
}

var hookTypes = []struct {
	name string
	typ  reflect.Type
}{
	{"OnInit", reflect.TypeFor[OnInit]()},
	{"OnShutdown", reflect.TypeFor[OnShutdown]()},
	{"OnStructureCreated", reflect.TypeFor[OnStructureCreated]()},
	{"OnStructurePublished", reflect.TypeFor[OnStructurePublished]()},
	{"OnDefaultChanged", reflect.TypeFor[OnDefaultChanged]()},
	{"OnStructureDeleted", reflect.TypeFor[OnStructureDeleted]()},
	{"OnItemSaved", reflect.TypeFor[OnItemSaved]()},
	{"OnItemDeleted", reflect.TypeFor[OnItemDeleted]()},
	{"OnInvoicesGenerated", reflect.TypeFor[OnInvoicesGenerated]()},
	{"OnInvoicesIssued", reflect.TypeFor[OnInvoicesIssued]()},
	{"OnInvoiceCancelled", reflect.TypeFor[OnInvoiceCancelled]()},
	{"OnInvoicePaid", reflect.TypeFor[OnInvoicePaid]()},
	{"OnPaymentRecorded", reflect.TypeFor[OnPaymentRecorded]()},
	{"OnConversationTurn", reflect.TypeFor[OnConversationTurn]()},
	{"InvoiceFormatter", reflect.TypeFor[InvoiceFormatter]()},
}

// implementedInterfaces returns the hook names a plugin implements.
func implementedInterfaces(p Plugin) []string {
	var names []string
	v := reflect.TypeOf(p)
	for _, h := range hookTypes {
		if v.Implements(h.typ) {
			names = append(names, h.name)
		}
	}
	return names
}

// Get returns a plugin by name.
func (r *Registry) Get(name string) Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range r.plugins {
		if p.Name() == name {
			return p
		}
	}
	return nil
}

// List returns all registered plugins.
func (r *Registry) List() []Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Plugin, len(r.plugins))
	copy(result, r.plugins)
	return result
}

// Count returns the number of registered plugins.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.plugins)
}

// InvoiceFormatter returns the formatter registered for format, or nil.
func (r *Registry) InvoiceFormatter(format string) InvoiceFormatter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.invoiceFormatters[format]
}

// ──────────────────────────────────────────────────
// Event emission methods
// ──────────────────────────────────────────────────

// emit calls fn for every cached implementation of a hook. Failures are
// logged and never returned to the caller.
func emit[T Plugin](ctx context.Context, r *Registry, list func(*Registry) []T, hook string, fn func(T) error) {
	r.mu.RLock()
	plugins := list(r)
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error { return fn(p) }); err != nil {
			r.logger.Warn("plugin "+hook+" failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitInit calls OnInit for all plugins that implement it.
func (r *Registry) EmitInit(ctx context.Context, b any) {
	emit(ctx, r, func(r *Registry) []OnInit { return r.onInit }, "OnInit",
		func(p OnInit) error { return p.OnInit(ctx, b) })
}

// EmitShutdown calls OnShutdown for all plugins that implement it.
func (r *Registry) EmitShutdown(ctx context.Context) {
	emit(ctx, r, func(r *Registry) []OnShutdown { return r.onShutdown }, "OnShutdown",
		func(p OnShutdown) error { return p.OnShutdown(ctx) })
}

// EmitStructureCreated emits a structure created event.
func (r *Registry) EmitStructureCreated(ctx context.Context, fs *feestructure.FeeStructure) {
	emit(ctx, r, func(r *Registry) []OnStructureCreated { return r.onStructureCreated }, "OnStructureCreated",
		func(p OnStructureCreated) error { return p.OnStructureCreated(ctx, fs) })
}

// EmitStructurePublished emits a structure published event.
func (r *Registry) EmitStructurePublished(ctx context.Context, fs *feestructure.FeeStructure, itemCount int) {
	emit(ctx, r, func(r *Registry) []OnStructurePublished { return r.onStructurePublished }, "OnStructurePublished",
		func(p OnStructurePublished) error { return p.OnStructurePublished(ctx, fs, itemCount) })
}

// EmitDefaultChanged emits a default structure changed event.
func (r *Registry) EmitDefaultChanged(ctx context.Context, fs, previous *feestructure.FeeStructure) {
	emit(ctx, r, func(r *Registry) []OnDefaultChanged { return r.onDefaultChanged }, "OnDefaultChanged",
		func(p OnDefaultChanged) error { return p.OnDefaultChanged(ctx, fs, previous) })
}

// EmitStructureDeleted emits a structure deleted event.
func (r *Registry) EmitStructureDeleted(ctx context.Context, fs *feestructure.FeeStructure) {
	emit(ctx, r, func(r *Registry) []OnStructureDeleted { return r.onStructureDeleted }, "OnStructureDeleted",
		func(p OnStructureDeleted) error { return p.OnStructureDeleted(ctx, fs) })
}

// EmitItemSaved emits an item saved event.
func (r *Registry) EmitItemSaved(ctx context.Context, item *feestructure.FeeItem, created bool) {
	emit(ctx, r, func(r *Registry) []OnItemSaved { return r.onItemSaved }, "OnItemSaved",
		func(p OnItemSaved) error { return p.OnItemSaved(ctx, item, created) })
}

// EmitItemDeleted emits an item deleted event.
func (r *Registry) EmitItemDeleted(ctx context.Context, item *feestructure.FeeItem) {
	emit(ctx, r, func(r *Registry) []OnItemDeleted { return r.onItemDeleted }, "OnItemDeleted",
		func(p OnItemDeleted) error { return p.OnItemDeleted(ctx, item) })
}

// EmitInvoicesGenerated emits a generation batch event.
func (r *Registry) EmitInvoicesGenerated(ctx context.Context, invoices []*invoice.Invoice, skipped int, elapsed time.Duration) {
	emit(ctx, r, func(r *Registry) []OnInvoicesGenerated { return r.onInvoicesGenerated }, "OnInvoicesGenerated",
		func(p OnInvoicesGenerated) error { return p.OnInvoicesGenerated(ctx, invoices, skipped, elapsed) })
}

// EmitInvoicesIssued emits an issued event.
func (r *Registry) EmitInvoicesIssued(ctx context.Context, invoices []*invoice.Invoice) {
	emit(ctx, r, func(r *Registry) []OnInvoicesIssued { return r.onInvoicesIssued }, "OnInvoicesIssued",
		func(p OnInvoicesIssued) error { return p.OnInvoicesIssued(ctx, invoices) })
}

// EmitInvoiceCancelled emits an invoice cancelled event.
func (r *Registry) EmitInvoiceCancelled(ctx context.Context, inv *invoice.Invoice, reason string) {
	emit(ctx, r, func(r *Registry) []OnInvoiceCancelled { return r.onInvoiceCancelled }, "OnInvoiceCancelled",
		func(p OnInvoiceCancelled) error { return p.OnInvoiceCancelled(ctx, inv, reason) })
}

// EmitInvoicePaid emits an invoice paid event.
func (r *Registry) EmitInvoicePaid(ctx context.Context, view *invoice.View) {
	emit(ctx, r, func(r *Registry) []OnInvoicePaid { return r.onInvoicePaid }, "OnInvoicePaid",
		func(p OnInvoicePaid) error { return p.OnInvoicePaid(ctx, view) })
}

// EmitPaymentRecorded emits a payment recorded event.
func (r *Registry) EmitPaymentRecorded(ctx context.Context, pay *payment.Payment, view *invoice.View) {
	emit(ctx, r, func(r *Registry) []OnPaymentRecorded { return r.onPaymentRecorded }, "OnPaymentRecorded",
		func(p OnPaymentRecorded) error { return p.OnPaymentRecorded(ctx, pay, view) })
}

// EmitConversationTurn emits a resolver turn event.
func (r *Registry) EmitConversationTurn(ctx context.Context, conversationID, intent string, completed bool) {
	emit(ctx, r, func(r *Registry) []OnConversationTurn { return r.onConversationTurn }, "OnConversationTurn",
		func(p OnConversationTurn) error { return p.OnConversationTurn(ctx, conversationID, intent, completed) })
}

// callWithTimeout calls a plugin function with a timeout.
// Plugins should never block the billing pipeline.
func (r *Registry) callWithTimeout(ctx context.Context, pluginName string, fn func() error) error {
	done := make(chan error, 1)

	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				done <- fmt.Errorf("plugin panic: %s: %v", pluginName, rec)
			}
		}()
		done <- fn()
	}()

	timer := time.NewTimer(r.timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		return err
	case <-timer.C:
		return fmt.Errorf("plugin timeout: %s", pluginName)
	case <-ctx.Done():
		return ctx.Err()
	}
}
