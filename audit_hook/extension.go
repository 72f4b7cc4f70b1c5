// Package audithook bridges Bursar lifecycle events to an audit trail backend.
//
// It defines a local Recorder interface so the package does not depend on
// any particular audit store. Callers inject a RecorderFunc adapter at
// wiring time.
package audithook

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/bursar/feestructure"
	"github.com/xraph/bursar/invoice"
	"github.com/xraph/bursar/payment"
	"github.com/xraph/bursar/plugin"
)

// Compile-time interface checks.
var (
	_ plugin.Plugin               = (*Extension)(nil)
	_ plugin.OnStructureCreated   = (*Extension)(nil)
	_ plugin.OnStructurePublished = (*Extension)(nil)
	_ plugin.OnDefaultChanged     = (*Extension)(nil)
	_ plugin.OnStructureDeleted   = (*Extension)(nil)
	_ plugin.OnItemSaved          = (*Extension)(nil)
	_ plugin.OnItemDeleted        = (*Extension)(nil)
	_ plugin.OnInvoicesGenerated  = (*Extension)(nil)
	_ plugin.OnInvoicesIssued     = (*Extension)(nil)
	_ plugin.OnInvoiceCancelled   = (*Extension)(nil)
	_ plugin.OnInvoicePaid        = (*Extension)(nil)
	_ plugin.OnPaymentRecorded    = (*Extension)(nil)
	_ plugin.OnConversationTurn   = (*Extension)(nil)
)

// Recorder is the interface that audit backends must implement.
type Recorder interface {
	Record(ctx context.Context, event *AuditEvent) error
}

// AuditEvent is one entry of the audit trail.
type AuditEvent struct {
	Action     string         `json:"action"`
	Resource   string         `json:"resource"`
	Category   string         `json:"category"`
	ResourceID string         `json:"resource_id,omitempty"`
	SchoolID   string         `json:"school_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
	Reason     string         `json:"reason,omitempty"`
}

// RecorderFunc is an adapter to use a plain function as a Recorder.
type RecorderFunc func(ctx context.Context, event *AuditEvent) error

// Record implements Recorder.
func (f RecorderFunc) Record(ctx context.Context, event *AuditEvent) error {
	return f(ctx, event)
}

// Extension bridges Bursar lifecycle events to an audit trail backend.
type Extension struct {
	recorder Recorder
	enabled  map[string]bool // nil = all enabled
	logger   *slog.Logger
}

// New creates an Extension that emits audit events through the provided Recorder.
func New(r Recorder, opts ...Option) *Extension {
	e := &Extension{
		recorder: r,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements plugin.Plugin.
func (e *Extension) Name() string { return "audit-hook" }

// ──────────────────────────────────────────────────
// Fee catalog hooks
// ──────────────────────────────────────────────────

// OnStructureCreated implements plugin.OnStructureCreated.
func (e *Extension) OnStructureCreated(ctx context.Context, fs *feestructure.FeeStructure) error {
	return e.record(ctx, ActionStructureCreated, SeverityInfo, OutcomeSuccess,
		ResourceFeeStructure, fs.ID.String(), fs.SchoolID, CategoryCatalog, nil,
		"name", fs.Name,
		"level", fs.Level,
		"year", fs.Year,
		"term", fs.Term,
	)
}

// OnStructurePublished implements plugin.OnStructurePublished.
func (e *Extension) OnStructurePublished(ctx context.Context, fs *feestructure.FeeStructure, itemCount int) error {
	return e.record(ctx, ActionStructurePublished, SeverityInfo, OutcomeSuccess,
		ResourceFeeStructure, fs.ID.String(), fs.SchoolID, CategoryCatalog, nil,
		"name", fs.Name,
		"items", itemCount,
	)
}

// OnDefaultChanged implements plugin.OnDefaultChanged.
func (e *Extension) OnDefaultChanged(ctx context.Context, fs, previous *feestructure.FeeStructure) error {
	kv := []any{"name", fs.Name, "year", fs.Year, "term", fs.Term}
	if previous != nil {
		kv = append(kv, "previous_id", previous.ID.String(), "previous_name", previous.Name)
	}
	return e.record(ctx, ActionStructureDefault, SeverityInfo, OutcomeSuccess,
		ResourceFeeStructure, fs.ID.String(), fs.SchoolID, CategoryCatalog, nil, kv...)
}

// OnStructureDeleted implements plugin.OnStructureDeleted.
func (e *Extension) OnStructureDeleted(ctx context.Context, fs *feestructure.FeeStructure) error {
	return e.record(ctx, ActionStructureDeleted, SeverityWarning, OutcomeSuccess,
		ResourceFeeStructure, fs.ID.String(), fs.SchoolID, CategoryCatalog, nil,
		"name", fs.Name,
	)
}

// OnItemSaved implements plugin.OnItemSaved.
func (e *Extension) OnItemSaved(ctx context.Context, item *feestructure.FeeItem, created bool) error {
	action := ActionItemUpdated
	if created {
		action = ActionItemCreated
	}
	return e.record(ctx, action, SeverityInfo, OutcomeSuccess,
		ResourceFeeItem, item.ID.String(), item.SchoolID, CategoryCatalog, nil,
		"structure_id", item.StructureID.String(),
		"item_name", item.ItemName,
		"class_id", item.ClassID,
		"amount", item.Amount.Amount,
		"currency", item.Amount.Currency,
	)
}

// OnItemDeleted implements plugin.OnItemDeleted.
func (e *Extension) OnItemDeleted(ctx context.Context, item *feestructure.FeeItem) error {
	return e.record(ctx, ActionItemDeleted, SeverityInfo, OutcomeSuccess,
		ResourceFeeItem, item.ID.String(), item.SchoolID, CategoryCatalog, nil,
		"structure_id", item.StructureID.String(),
		"item_name", item.ItemName,
	)
}

// ──────────────────────────────────────────────────
// Invoice hooks
// ──────────────────────────────────────────────────

// OnInvoicesGenerated implements plugin.OnInvoicesGenerated. One event is
// recorded per batch.
func (e *Extension) OnInvoicesGenerated(ctx context.Context, invoices []*invoice.Invoice, skipped int, elapsed time.Duration) error {
	if len(invoices) == 0 {
		return nil
	}
	first := invoices[0]
	var total int64
	for _, inv := range invoices {
		total += inv.Total.Amount
	}
	return e.record(ctx, ActionInvoicesGenerated, SeverityInfo, OutcomeSuccess,
		ResourceInvoice, "", first.SchoolID, CategoryBilling, nil,
		"structure_id", first.StructureID.String(),
		"year", first.Year,
		"term", first.Term,
		"created", len(invoices),
		"skipped", skipped,
		"total", total,
		"elapsed_ms", elapsed.Milliseconds(),
	)
}

// OnInvoicesIssued implements plugin.OnInvoicesIssued.
func (e *Extension) OnInvoicesIssued(ctx context.Context, invoices []*invoice.Invoice) error {
	for _, inv := range invoices {
		if err := e.record(ctx, ActionInvoiceIssued, SeverityInfo, OutcomeSuccess,
			ResourceInvoice, inv.ID.String(), inv.SchoolID, CategoryBilling, nil,
			"student_id", inv.StudentID,
			"total", inv.Total.Amount,
		); err != nil {
			return err
		}
	}
	return nil
}

// OnInvoiceCancelled implements plugin.OnInvoiceCancelled.
func (e *Extension) OnInvoiceCancelled(ctx context.Context, inv *invoice.Invoice, reason string) error {
	return e.record(ctx, ActionInvoiceCancelled, SeverityWarning, OutcomeSuccess,
		ResourceInvoice, inv.ID.String(), inv.SchoolID, CategoryBilling, nil,
		"student_id", inv.StudentID,
		"cancel_reason", reason,
	)
}

// OnInvoicePaid implements plugin.OnInvoicePaid.
func (e *Extension) OnInvoicePaid(ctx context.Context, view *invoice.View) error {
	return e.record(ctx, ActionInvoicePaid, SeverityInfo, OutcomeSuccess,
		ResourceInvoice, view.ID.String(), view.SchoolID, CategoryBilling, nil,
		"student_id", view.StudentID,
		"total", view.Total.Amount,
		"paid", view.Paid.Amount,
	)
}

// ──────────────────────────────────────────────────
// Payment hooks
// ──────────────────────────────────────────────────

// OnPaymentRecorded implements plugin.OnPaymentRecorded. An overpaid
// invoice records a second, warning-level event.
func (e *Extension) OnPaymentRecorded(ctx context.Context, p *payment.Payment, view *invoice.View) error {
	if err := e.record(ctx, ActionPaymentRecorded, SeverityInfo, OutcomeSuccess,
		ResourcePayment, p.ID.String(), p.SchoolID, CategoryPayment, nil,
		"invoice_id", p.InvoiceID.String(),
		"student_id", p.StudentID,
		"amount", p.Amount.Amount,
		"method", string(p.Method),
		"reference", p.Reference,
		"posted_by", p.PostedBy,
		"status", string(view.Status),
	); err != nil {
		return err
	}
	if !view.Overpayment.IsPositive() {
		return nil
	}
	return e.record(ctx, ActionOverpayment, SeverityWarning, OutcomePartial,
		ResourceInvoice, view.ID.String(), view.SchoolID, CategoryPayment, nil,
		"overpayment", view.Overpayment.Amount,
		"payment_id", p.ID.String(),
	)
}

// ──────────────────────────────────────────────────
// Conversation hooks
// ──────────────────────────────────────────────────

// OnConversationTurn implements plugin.OnConversationTurn.
func (e *Extension) OnConversationTurn(ctx context.Context, conversationID, intent string, completed bool) error {
	outcome := OutcomeSuccess
	if !completed {
		outcome = OutcomePartial
	}
	return e.record(ctx, ActionConversationTurn, SeverityInfo, outcome,
		ResourceConversation, conversationID, "", CategoryConversation, nil,
		"intent", intent,
	)
}

// ──────────────────────────────────────────────────
// Internal helpers
// ──────────────────────────────────────────────────

// record builds and sends an audit event if the action is enabled.
func (e *Extension) record(
	ctx context.Context,
	action, severity, outcome string,
	resource, resourceID, schoolID, category string,
	err error,
	kvPairs ...any,
) error {
	if e.enabled != nil && !e.enabled[action] {
		return nil
	}

	meta := make(map[string]any, len(kvPairs)/2+1)
	for i := 0; i+1 < len(kvPairs); i += 2 {
		key, ok := kvPairs[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kvPairs[i])
		}
		meta[key] = kvPairs[i+1]
	}

	var reason string
	if err != nil {
		reason = err.Error()
		meta["error"] = err.Error()
	}

	evt := &AuditEvent{
		Action:     action,
		Resource:   resource,
		Category:   category,
		ResourceID: resourceID,
		SchoolID:   schoolID,
		Metadata:   meta,
		Outcome:    outcome,
		Severity:   severity,
		Reason:     reason,
	}

	if recErr := e.recorder.Record(ctx, evt); recErr != nil {
		e.logger.Warn("audit_hook: failed to record audit event",
			"action", action,
			"resource_id", resourceID,
			"error", recErr,
		)
	}
	return nil
}
