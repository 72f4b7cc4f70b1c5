// Package invoice defines per-student term invoices, their frozen lines,
// and the derived balance every reader reports.
package invoice

import (
	"time"

	"github.com/xraph/bursar/feestructure"
	"github.com/xraph/bursar/id"
	"github.com/xraph/bursar/types"
)

// Status is an invoice lifecycle state.
type Status string

const (
	StatusDraft     Status = "DRAFT"
	StatusIssued    Status = "ISSUED"
	StatusPartial   Status = "PARTIAL"
	StatusPaid      Status = "PAID"
	StatusCancelled Status = "CANCELLED"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusDraft, StatusIssued, StatusPartial, StatusPaid, StatusCancelled:
		return true
	}
	return false
}

// AcceptsPayments reports whether money may be posted in this state.
func (s Status) AcceptsPayments() bool {
	return s == StatusIssued || s == StatusPartial || s == StatusPaid
}

// Invoice bills one student for one (year, term). Total is frozen when the
// invoice is generated.
type Invoice struct {
	types.Entity
	ID           id.InvoiceID      `json:"id"`
	SchoolID     string            `json:"school_id"`
	StudentID    string            `json:"student_id"`
	ClassID      string            `json:"class_id,omitempty"`
	StructureID  id.FeeStructureID `json:"structure_id"`
	Year         int               `json:"year"`
	Term         int               `json:"term"`
	Total        types.Money       `json:"total"`
	Status       Status            `json:"status"`
	DueDate      time.Time         `json:"due_date"`
	IssuedAt     *time.Time        `json:"issued_at,omitempty"`
	CancelledAt  *time.Time        `json:"cancelled_at,omitempty"`
	CancelReason string            `json:"cancel_reason,omitempty"`
	Lines        []Line            `json:"lines"`
}

// Line is an immutable snapshot of one fee item at generation time.
type Line struct {
	ID        id.InvoiceLineID      `json:"id"`
	InvoiceID id.InvoiceID          `json:"invoice_id"`
	ItemName  string                `json:"item_name"`
	Amount    types.Money           `json:"amount"`
	Category  feestructure.Category `json:"category"`
}

// View is an invoice with its derived amounts, returned by every read path.
type View struct {
	*Invoice
	Amounts
}
