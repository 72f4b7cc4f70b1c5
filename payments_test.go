package bursar_test

import (
	"strings"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/bursar"
	"github.com/xraph/bursar/invoice"
	"github.com/xraph/bursar/notify"
	"github.com/xraph/bursar/payment"
)

func TestRecordPaymentLifecycle(t *testing.T) {
	f := newFixture(t)
	f.defaultStructure(t, 2025, 3, item("Tuition", 20000), item("Lunch", 5000))
	inv := f.issued(t, 2025, 3)
	require.Equal(t, bursar.Major(25000, "kes"), inv.Total)

	res, err := f.pay(inv.ID, 20000)
	require.NoError(t, err)
	assert.Equal(t, invoice.StatusPartial, res.Invoice.Status)
	assert.Equal(t, bursar.Major(20000, "kes"), res.Invoice.Paid)
	assert.Equal(t, bursar.Major(5000, "kes"), res.Invoice.Balance)
	assert.True(t, res.Invoice.Overpayment.IsZero())
	assert.Equal(t, payment.MethodMpesa, res.Payment.Method)
	assert.Equal(t, fixedNow, res.Payment.PostedAt)

	res, err = f.pay(inv.ID, 10000)
	require.NoError(t, err)
	assert.Equal(t, invoice.StatusPaid, res.Invoice.Status)
	assert.Equal(t, bursar.Major(30000, "kes"), res.Invoice.Paid)
	assert.True(t, res.Invoice.Balance.IsZero())
	assert.Equal(t, bursar.Major(5000, "kes"), res.Invoice.Overpayment)

	// Further payments on a PAID invoice are accepted and reported.
	res, err = f.pay(inv.ID, 1000)
	require.NoError(t, err)
	assert.Equal(t, invoice.StatusPaid, res.Invoice.Status)
	assert.Equal(t, bursar.Major(6000, "kes"), res.Invoice.Overpayment)

	detail, err := f.b.GetInvoice(f.ctx, school, inv.ID)
	require.NoError(t, err)
	assert.Len(t, detail.Payments, 3)
	assert.Equal(t, detail.Paid, detail.Total.Add(detail.Overpayment).Subtract(detail.Balance))

	assert.Equal(t, 3, f.recorder.payments)
	assert.Equal(t, 1, f.recorder.paid, "paid fires once, on the transition")

	f.b.FlushNotifications()
	var received []notify.Event
	for _, ev := range f.notes.Events() {
		if ev.Kind == notify.KindPaymentReceived {
			received = append(received, ev)
		}
	}
	require.Len(t, received, 3)
	assert.Equal(t, "stu_1", received[0].StudentID)
	assert.NotEmpty(t, received[0].ID)
}

func TestRecordPaymentExact(t *testing.T) {
	f := newFixture(t)
	f.defaultStructure(t, 2025, 1, item("Tuition", 25000))
	inv := f.issued(t, 2025, 1)

	res, err := f.pay(inv.ID, 25000)
	require.NoError(t, err)
	assert.Equal(t, invoice.StatusPaid, res.Invoice.Status)
	assert.True(t, res.Invoice.Balance.IsZero())
	assert.True(t, res.Invoice.Overpayment.IsZero())
}

func TestRecordPaymentOnDraft(t *testing.T) {
	f := newFixture(t)
	f.defaultStructure(t, 2025, 1, item("Tuition", 25000))
	_, err := f.b.GenerateInvoices(f.ctx, school, bursar.GenerateInput{Year: 2025, Term: 1})
	require.NoError(t, err)
	draft, err := f.b.GetStudentInvoice(f.ctx, school, "stu_1", 2025, 1)
	require.NoError(t, err)

	_, err = f.pay(draft.ID, 100)
	assert.ErrorIs(t, err, bursar.ErrInvoiceNotIssued)
	assert.True(t, bursar.IsInvalidState(err))

	payments, err := f.b.ListInvoicePayments(f.ctx, school, draft.ID)
	require.NoError(t, err)
	assert.Empty(t, payments)
}

func TestRecordPaymentValidation(t *testing.T) {
	f := newFixture(t)
	f.defaultStructure(t, 2025, 1, item("Tuition", 25000))
	inv := f.issued(t, 2025, 1)

	tests := []struct {
		name string
		in   bursar.PaymentInput
	}{
		{"zero amount", bursar.PaymentInput{InvoiceID: inv.ID, Amount: bursar.KES(0), Method: "CASH"}},
		{"negative amount", bursar.PaymentInput{InvoiceID: inv.ID, Amount: bursar.KES(-500), Method: "CASH"}},
		{"unknown method", bursar.PaymentInput{InvoiceID: inv.ID, Amount: bursar.KES(500), Method: "BITCOIN"}},
		{"long reference", bursar.PaymentInput{InvoiceID: inv.ID, Amount: bursar.KES(500), Method: "CASH", Reference: strings.Repeat("R", payment.MaxReferenceLen+1)}},
		{"missing invoice", bursar.PaymentInput{Amount: bursar.KES(500), Method: "CASH"}},
		{"wrong currency", bursar.PaymentInput{InvoiceID: inv.ID, Amount: bursar.UGX(500), Method: "CASH"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.b.RecordPayment(f.ctx, school, tt.in)
			assert.True(t, bursar.IsValidation(err), "got %v", err)
		})
	}

	res, err := f.b.RecordPayment(f.ctx, school, bursar.PaymentInput{
		InvoiceID: inv.ID, Amount: bursar.KES(500), Method: "m-pesa", Reference: "  ABC123  ",
	})
	require.NoError(t, err)
	assert.Equal(t, payment.MethodMpesa, res.Payment.Method)
	assert.Equal(t, "ABC123", res.Payment.Reference)
}

func TestRecordPaymentConcurrent(t *testing.T) {
	f := newFixture(t)
	f.defaultStructure(t, 2025, 1, item("Tuition", 1000))
	inv := f.issued(t, 2025, 1)

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.pay(inv.ID, 100)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	detail, err := f.b.GetInvoice(f.ctx, school, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, invoice.StatusPaid, detail.Status)
	assert.Equal(t, bursar.Major(1000, "kes"), detail.Paid)
	assert.Len(t, detail.Payments, 10)
	assert.Equal(t, 1, f.recorder.paid)
}

func TestListStudentPayments(t *testing.T) {
	f := newFixture(t)
	f.defaultStructure(t, 2025, 1, item("Tuition", 25000))
	inv := f.issued(t, 2025, 1)

	_, err := f.pay(inv.ID, 1000)
	require.NoError(t, err)
	_, err = f.pay(inv.ID, 2000)
	require.NoError(t, err)

	payments, err := f.b.ListStudentPayments(f.ctx, school, "stu_1")
	require.NoError(t, err)
	require.Len(t, payments, 2)
	assert.Equal(t, bursar.Major(1000, "kes"), payments[0].Amount)

	none, err := f.b.ListStudentPayments(f.ctx, school, "stu_2")
	require.NoError(t, err)
	assert.Empty(t, none)

	_, err = f.b.ListStudentPayments(f.ctx, "", "stu_1")
	assert.ErrorIs(t, err, bursar.ErrMissingScope)
}

func TestArrearsReport(t *testing.T) {
	f := newFixture(t)
	f.defaultStructure(t, 2025, 1, item("Tuition", 10000))
	amina := f.issued(t, 2025, 1)

	brian, err := f.b.GetStudentInvoice(f.ctx, school, "stu_2", 2025, 1)
	require.NoError(t, err)
	carol, err := f.b.GetStudentInvoice(f.ctx, school, "stu_3", 2025, 1)
	require.NoError(t, err)

	_, err = f.pay(amina.ID, 10000)
	require.NoError(t, err)
	_, err = f.pay(brian.ID, 2500)
	require.NoError(t, err)
	_, err = f.b.CancelInvoice(f.ctx, school, carol.ID, "left school")
	require.NoError(t, err)

	report, err := f.b.ArrearsReport(f.ctx, school, 2025, 1, "")
	require.NoError(t, err)
	assert.Equal(t, bursar.Major(20000, "kes"), report.TotalBilled, "cancelled invoices are excluded")
	assert.Equal(t, bursar.Major(12500, "kes"), report.TotalPaid)
	assert.Equal(t, bursar.Major(7500, "kes"), report.TotalBalance)
	assert.True(t, decimal.NewFromFloat(62.5).Equal(report.CollectionRate), "got %s", report.CollectionRate)

	require.Len(t, report.Students, 1)
	assert.Equal(t, "stu_2", report.Students[0].StudentID)
	assert.Equal(t, bursar.Major(7500, "kes"), report.Students[0].Balance)
}

func TestCollectionRate(t *testing.T) {
	tests := []struct {
		name         string
		paid, billed int64
		want         string
	}{
		{"nothing billed", 0, 0, "0"},
		{"half", 500, 1000, "50"},
		{"third", 1, 3, "33.33"},
		{"overpaid caps", 1500, 1000, "100"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := bursar.CollectionRate(bursar.KES(tt.paid), bursar.KES(tt.billed))
			assert.Equal(t, tt.want, got.String())
		})
	}
}
