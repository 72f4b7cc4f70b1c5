package payment

import (
	"context"

	"github.com/xraph/bursar/id"
)

// Store appends and reads payments. There is no update or delete.
type Store interface {
	CreatePayment(ctx context.Context, p *Payment) error
	ListInvoicePayments(ctx context.Context, invoiceID id.InvoiceID) ([]*Payment, error)
	ListStudentPayments(ctx context.Context, schoolID, studentID string) ([]*Payment, error)
}
