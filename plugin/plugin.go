// Package plugin provides an extensible plugin system for Bursar.
// Plugins can hook into fee catalog, invoice and payment lifecycle events.
package plugin

import (
	"context"
	"time"

	"github.com/xraph/bursar/feestructure"
	"github.com/xraph/bursar/invoice"
	"github.com/xraph/bursar/payment"
)

// Plugin is the base interface that all plugins must implement.
type Plugin interface {
	Name() string
}

// ──────────────────────────────────────────────────
// Lifecycle hooks
// ──────────────────────────────────────────────────

// OnInit is called when the engine starts. b is the *bursar.Bursar.
type OnInit interface {
	Plugin
	OnInit(ctx context.Context, b any) error
}

// OnShutdown is called when the plugin is shutting down.
type OnShutdown interface {
	Plugin
	OnShutdown(ctx context.Context) error
}

// ──────────────────────────────────────────────────
// Fee catalog hooks
// ──────────────────────────────────────────────────

// OnStructureCreated is called when a fee structure is created.
type OnStructureCreated interface {
	Plugin
	OnStructureCreated(ctx context.Context, fs *feestructure.FeeStructure) error
}

// OnStructurePublished is called when a fee structure is published.
type OnStructurePublished interface {
	Plugin
	OnStructurePublished(ctx context.Context, fs *feestructure.FeeStructure, itemCount int) error
}

// OnDefaultChanged is called after a structure becomes the term default.
// previous is nil when the term had no default.
type OnDefaultChanged interface {
	Plugin
	OnDefaultChanged(ctx context.Context, fs, previous *feestructure.FeeStructure) error
}

// OnStructureDeleted is called when a fee structure is deleted.
type OnStructureDeleted interface {
	Plugin
	OnStructureDeleted(ctx context.Context, fs *feestructure.FeeStructure) error
}

// OnItemSaved is called when an item is added or updated in place.
type OnItemSaved interface {
	Plugin
	OnItemSaved(ctx context.Context, item *feestructure.FeeItem, created bool) error
}

// OnItemDeleted is called when an item is removed.
type OnItemDeleted interface {
	Plugin
	OnItemDeleted(ctx context.Context, item *feestructure.FeeItem) error
}

// ──────────────────────────────────────────────────
// Invoice lifecycle hooks
// ──────────────────────────────────────────────────

// OnInvoicesGenerated is called once per generation batch.
type OnInvoicesGenerated interface {
	Plugin
	OnInvoicesGenerated(ctx context.Context, invoices []*invoice.Invoice, skipped int, elapsed time.Duration) error
}

// OnInvoicesIssued is called when one or more invoices move to ISSUED.
type OnInvoicesIssued interface {
	Plugin
	OnInvoicesIssued(ctx context.Context, invoices []*invoice.Invoice) error
}

// OnInvoiceCancelled is called when an invoice is cancelled.
type OnInvoiceCancelled interface {
	Plugin
	OnInvoiceCancelled(ctx context.Context, inv *invoice.Invoice, reason string) error
}

// OnInvoicePaid is called when a payment settles an invoice in full.
type OnInvoicePaid interface {
	Plugin
	OnInvoicePaid(ctx context.Context, view *invoice.View) error
}

// ──────────────────────────────────────────────────
// Payment hooks
// ──────────────────────────────────────────────────

// OnPaymentRecorded is called after a payment is committed.
type OnPaymentRecorded interface {
	Plugin
	OnPaymentRecorded(ctx context.Context, p *payment.Payment, view *invoice.View) error
}

// ──────────────────────────────────────────────────
// Conversation hooks
// ──────────────────────────────────────────────────

// OnConversationTurn is called after the resolver answers a message.
// completed is false while the request still has missing fields.
type OnConversationTurn interface {
	Plugin
	OnConversationTurn(ctx context.Context, conversationID, intent string, completed bool) error
}

// ──────────────────────────────────────────────────
// Invoice formatters
// ──────────────────────────────────────────────────

// InvoiceFormatter renders an invoice for export.
type InvoiceFormatter interface {
	Plugin
	Format() string // "text", "csv", etc.
	Render(ctx context.Context, view *invoice.View) ([]byte, error)
}
