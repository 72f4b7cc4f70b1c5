package bursar

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/xraph/bursar/id"
	"github.com/xraph/bursar/invoice"
	"github.com/xraph/bursar/notify"
	"github.com/xraph/bursar/payment"
	"github.com/xraph/bursar/store"
	"github.com/xraph/bursar/types"
)

// PaymentInput is money received against one invoice.
type PaymentInput struct {
	InvoiceID id.InvoiceID   `json:"invoice_id"`
	Amount    types.Money    `json:"amount"`
	Method    payment.Method `json:"method"`
	Reference string         `json:"reference,omitempty"`
	PostedBy  string         `json:"posted_by,omitempty"`
}

// PaymentResult is the committed payment and the invoice after it.
type PaymentResult struct {
	Payment *payment.Payment `json:"payment"`
	Invoice *invoice.View    `json:"invoice"`
}

func (b *Bursar) normalizePayment(in PaymentInput) (PaymentInput, error) {
	var errs MultiError

	if in.InvoiceID.IsNil() {
		errs.Add(Invalid("invoice_id", "is required"))
	}
	amount, err := b.money("amount", in.Amount)
	errs.Add(err)
	if err == nil && !amount.IsPositive() {
		errs.Add(Invalid("amount", "must be greater than zero"))
	}
	in.Amount = amount

	method, ok := payment.ParseMethod(string(in.Method))
	if !ok {
		errs.Add(Invalid("method", "must be one of CASH, BANK or MPESA"))
	}
	in.Method = method

	in.Reference = strings.TrimSpace(in.Reference)
	if utf8.RuneCountInString(in.Reference) > payment.MaxReferenceLen {
		errs.Add(Invalid("reference", "must be at most %d characters", payment.MaxReferenceLen))
	}
	return in, errs.Err()
}

// RecordPayment posts a payment against an ISSUED, PARTIAL or PAID
// invoice and moves it to PAID or PARTIAL from the re-summed payments.
// Overpayment is accepted and reported.
func (b *Bursar) RecordPayment(ctx context.Context, schoolID string, in PaymentInput) (*PaymentResult, error) {
	in, err := b.normalizePayment(in)
	if err != nil {
		return nil, err
	}

	var (
		res        PaymentResult
		becamePaid bool
	)
	err = b.store.Transact(ctx, func(ctx context.Context, tx store.Store) error {
		inv, err := loadInvoice(ctx, tx, schoolID, in.InvoiceID)
		if err != nil {
			return err
		}
		// Serialize payments of the term so the status below is computed
		// from every committed payment.
		if err := tx.LockTerm(ctx, schoolID, inv.Year, inv.Term); err != nil {
			return err
		}
		if inv, err = loadInvoice(ctx, tx, schoolID, in.InvoiceID); err != nil {
			return err
		}

		switch {
		case inv.Status == invoice.StatusDraft:
			return ErrInvoiceNotIssued
		case inv.Status == invoice.StatusCancelled:
			return ErrInvoiceCancelled
		case !inv.Status.AcceptsPayments():
			return fmt.Errorf("%w: invoice is %s", ErrInvalidState, inv.Status)
		}

		p := &payment.Payment{
			ID:        id.NewPaymentID(),
			SchoolID:  schoolID,
			InvoiceID: inv.ID,
			StudentID: inv.StudentID,
			Amount:    in.Amount,
			Method:    in.Method,
			Reference: in.Reference,
			PostedBy:  in.PostedBy,
			PostedAt:  b.clock(),
		}
		if err := tx.CreatePayment(ctx, p); err != nil {
			return err
		}

		payments, err := tx.ListInvoicePayments(ctx, inv.ID)
		if err != nil {
			return err
		}
		amounts := invoice.Summarize(inv.Total, inv.Status, payments)
		if next := invoice.StatusAfterPayment(inv.Total, amounts.Paid); next != inv.Status {
			becamePaid = next == invoice.StatusPaid
			inv.Status = next
			inv.UpdatedAt = p.PostedAt
			if err := tx.UpdateInvoice(ctx, inv); err != nil {
				return err
			}
		}

		res.Payment = p
		res.Invoice = &invoice.View{Invoice: inv, Amounts: amounts}
		return nil
	})
	if err != nil {
		return nil, err
	}

	view := res.Invoice
	b.logger.Info("payment recorded",
		"school_id", schoolID,
		"invoice_id", view.ID.String(),
		"payment_id", res.Payment.ID.String(),
		"amount", res.Payment.Amount.String(),
		"method", res.Payment.Method,
		"status", view.Status,
	)
	b.plugins.EmitPaymentRecorded(ctx, res.Payment, view)
	if becamePaid {
		b.plugins.EmitInvoicePaid(ctx, view)
	}

	msg := fmt.Sprintf("Received %s via %s. Balance %s", res.Payment.Amount, res.Payment.Method, view.Balance)
	if view.Overpayment.IsPositive() {
		msg += fmt.Sprintf(", overpaid by %s", view.Overpayment)
	}
	b.notifier.Send(ctx, notify.Event{
		Kind:      notify.KindPaymentReceived,
		SchoolID:  schoolID,
		StudentID: view.StudentID,
		InvoiceID: view.ID.String(),
		Message:   msg,
		Data: map[string]any{
			"payment_id": res.Payment.ID.String(),
			"reference":  res.Payment.Reference,
			"status":     string(view.Status),
		},
	})
	return &res, nil
}

// ListInvoicePayments returns the payments of one invoice, oldest first.
func (b *Bursar) ListInvoicePayments(ctx context.Context, schoolID string, invID id.InvoiceID) ([]*payment.Payment, error) {
	inv, err := loadInvoice(ctx, b.store, schoolID, invID)
	if err != nil {
		return nil, err
	}
	return b.store.ListInvoicePayments(ctx, inv.ID)
}

// ListStudentPayments returns every payment of a student, oldest first.
func (b *Bursar) ListStudentPayments(ctx context.Context, schoolID, studentID string) ([]*payment.Payment, error) {
	if schoolID == "" {
		return nil, ErrMissingScope
	}
	return b.store.ListStudentPayments(ctx, schoolID, studentID)
}
