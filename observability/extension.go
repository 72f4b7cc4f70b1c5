// Package observability provides a metrics extension for Bursar that records
// lifecycle event counts through a MetricFactory.
package observability

import (
	"context"
	"time"

	"github.com/xraph/bursar/feestructure"
	"github.com/xraph/bursar/invoice"
	"github.com/xraph/bursar/payment"
	"github.com/xraph/bursar/plugin"
)

// Ensure MetricsExtension implements required interfaces.
var (
	_ plugin.Plugin               = (*MetricsExtension)(nil)
	_ plugin.OnInit               = (*MetricsExtension)(nil)
	_ plugin.OnStructureCreated   = (*MetricsExtension)(nil)
	_ plugin.OnStructurePublished = (*MetricsExtension)(nil)
	_ plugin.OnDefaultChanged     = (*MetricsExtension)(nil)
	_ plugin.OnInvoicesGenerated  = (*MetricsExtension)(nil)
	_ plugin.OnInvoicesIssued     = (*MetricsExtension)(nil)
	_ plugin.OnInvoiceCancelled   = (*MetricsExtension)(nil)
	_ plugin.OnInvoicePaid        = (*MetricsExtension)(nil)
	_ plugin.OnPaymentRecorded    = (*MetricsExtension)(nil)
	_ plugin.OnConversationTurn   = (*MetricsExtension)(nil)
)

// Counter interface for metric counters.
type Counter interface {
	Inc()
	Add(float64)
}

// Histogram interface for metric histograms.
type Histogram interface {
	Observe(float64)
}

// MetricFactory creates metrics.
type MetricFactory interface {
	Counter(name string) Counter
	Histogram(name string) Histogram
}

// MetricsExtension records system-wide lifecycle metrics.
// Register it as a Bursar plugin to track billing activity.
type MetricsExtension struct {
	factory MetricFactory

	// Catalog metrics
	StructureCreated   Counter
	StructurePublished Counter
	DefaultChanged     Counter

	// Invoice metrics
	InvoicesGenerated  Counter
	InvoicesSkipped    Counter
	GenerationLatency  Histogram
	InvoiceTotal       Histogram
	InvoicesIssued     Counter
	InvoicesCancelled  Counter
	InvoicesPaid       Counter

	// Payment metrics
	PaymentsRecorded Counter
	PaymentAmount    Histogram
	Overpayments     Counter

	// Conversation metrics
	ConversationTurns      Counter
	ConversationsCompleted Counter
}

// NewMetricsExtension creates a MetricsExtension with the provided MetricFactory.
// Use NewPrometheusFactory for a standalone server or app.Metrics() in forge.
func NewMetricsExtension(factory MetricFactory) *MetricsExtension {
	return &MetricsExtension{
		factory: factory,

		StructureCreated:   factory.Counter("bursar.fee_structure.created"),
		StructurePublished: factory.Counter("bursar.fee_structure.published"),
		DefaultChanged:     factory.Counter("bursar.fee_structure.default_changed"),

		InvoicesGenerated: factory.Counter("bursar.invoice.generated"),
		InvoicesSkipped:   factory.Counter("bursar.invoice.skipped"),
		GenerationLatency: factory.Histogram("bursar.invoice.generation.latency_ms"),
		InvoiceTotal:      factory.Histogram("bursar.invoice.total_amount"),
		InvoicesIssued:    factory.Counter("bursar.invoice.issued"),
		InvoicesCancelled: factory.Counter("bursar.invoice.cancelled"),
		InvoicesPaid:      factory.Counter("bursar.invoice.paid"),

		PaymentsRecorded: factory.Counter("bursar.payment.recorded"),
		PaymentAmount:    factory.Histogram("bursar.payment.amount"),
		Overpayments:     factory.Counter("bursar.payment.overpayments"),

		ConversationTurns:      factory.Counter("bursar.conversation.turns"),
		ConversationsCompleted: factory.Counter("bursar.conversation.completed"),
	}
}

// Name implements plugin.Plugin.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// OnInit implements plugin.OnInit.
func (m *MetricsExtension) OnInit(context.Context, any) error { return nil }

// OnStructureCreated implements plugin.OnStructureCreated.
func (m *MetricsExtension) OnStructureCreated(context.Context, *feestructure.FeeStructure) error {
	m.StructureCreated.Inc()
	return nil
}

// OnStructurePublished implements plugin.OnStructurePublished.
func (m *MetricsExtension) OnStructurePublished(context.Context, *feestructure.FeeStructure, int) error {
	m.StructurePublished.Inc()
	return nil
}

// OnDefaultChanged implements plugin.OnDefaultChanged.
func (m *MetricsExtension) OnDefaultChanged(context.Context, *feestructure.FeeStructure, *feestructure.FeeStructure) error {
	m.DefaultChanged.Inc()
	return nil
}

// OnInvoicesGenerated implements plugin.OnInvoicesGenerated.
func (m *MetricsExtension) OnInvoicesGenerated(_ context.Context, invoices []*invoice.Invoice, skipped int, elapsed time.Duration) error {
	m.InvoicesGenerated.Add(float64(len(invoices)))
	m.InvoicesSkipped.Add(float64(skipped))
	m.GenerationLatency.Observe(float64(elapsed.Milliseconds()))
	for _, inv := range invoices {
		m.InvoiceTotal.Observe(inv.Total.Decimal().InexactFloat64())
	}
	return nil
}

// OnInvoicesIssued implements plugin.OnInvoicesIssued.
func (m *MetricsExtension) OnInvoicesIssued(_ context.Context, invoices []*invoice.Invoice) error {
	m.InvoicesIssued.Add(float64(len(invoices)))
	return nil
}

// OnInvoiceCancelled implements plugin.OnInvoiceCancelled.
func (m *MetricsExtension) OnInvoiceCancelled(context.Context, *invoice.Invoice, string) error {
	m.InvoicesCancelled.Inc()
	return nil
}

// OnInvoicePaid implements plugin.OnInvoicePaid.
func (m *MetricsExtension) OnInvoicePaid(context.Context, *invoice.View) error {
	m.InvoicesPaid.Inc()
	return nil
}

// OnPaymentRecorded implements plugin.OnPaymentRecorded.
func (m *MetricsExtension) OnPaymentRecorded(_ context.Context, p *payment.Payment, view *invoice.View) error {
	m.PaymentsRecorded.Inc()
	m.PaymentAmount.Observe(p.Amount.Decimal().InexactFloat64())
	if view.Overpayment.IsPositive() {
		m.Overpayments.Inc()
	}
	return nil
}

// OnConversationTurn implements plugin.OnConversationTurn.
func (m *MetricsExtension) OnConversationTurn(_ context.Context, _, _ string, completed bool) error {
	m.ConversationTurns.Inc()
	if completed {
		m.ConversationsCompleted.Inc()
	}
	return nil
}
