package invoice

import (
	"context"

	"github.com/xraph/bursar/id"
)

// Store persists invoices together with their lines.
type Store interface {
	CreateInvoice(ctx context.Context, inv *Invoice) error
	GetInvoice(ctx context.Context, invID id.InvoiceID) (*Invoice, error)
	GetStudentInvoice(ctx context.Context, schoolID, studentID string, year, term int) (*Invoice, error)
	ListInvoices(ctx context.Context, schoolID string, opts ListOpts) ([]*Invoice, error)
	UpdateInvoice(ctx context.Context, inv *Invoice) error
	CountTermInvoices(ctx context.Context, schoolID string, year, term int) (int, error)
}

// ListOpts filters invoice listings. Zero values match everything.
type ListOpts struct {
	Year      int
	Term      int
	ClassID   string
	StudentID string
	Status    []Status
	Limit     int
	Offset    int
}

// Match reports whether inv passes every set filter except pagination.
func (o ListOpts) Match(inv *Invoice) bool {
	if o.Year != 0 && inv.Year != o.Year {
		return false
	}
	if o.Term != 0 && inv.Term != o.Term {
		return false
	}
	if o.ClassID != "" && inv.ClassID != o.ClassID {
		return false
	}
	if o.StudentID != "" && inv.StudentID != o.StudentID {
		return false
	}
	if len(o.Status) > 0 {
		for _, s := range o.Status {
			if inv.Status == s {
				return true
			}
		}
		return false
	}
	return true
}
