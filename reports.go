package bursar

import (
	"cmp"
	"context"
	"slices"

	"github.com/shopspring/decimal"

	"github.com/xraph/bursar/invoice"
	"github.com/xraph/bursar/types"
)

// StudentArrears is one student's position for a term.
type StudentArrears struct {
	StudentID string      `json:"student_id"`
	ClassID   string      `json:"class_id,omitempty"`
	Billed    types.Money `json:"billed"`
	Paid      types.Money `json:"paid"`
	Balance   types.Money `json:"balance"`
	Invoices  int         `json:"invoices"`
}

// ArrearsReport summarizes what is owed for a term. Drafts and cancelled
// invoices are excluded.
type ArrearsReport struct {
	Year           int               `json:"year"`
	Term           int               `json:"term"`
	Students       []*StudentArrears `json:"students"`
	TotalBilled    types.Money       `json:"total_billed"`
	TotalPaid      types.Money       `json:"total_paid"`
	TotalBalance   types.Money       `json:"total_balance"`
	CollectionRate decimal.Decimal   `json:"collection_rate"` // percent, two places
}

// ArrearsReport builds the per-student arrears for a term, largest
// balance first. Students with nothing outstanding are left out of
// Students but still count towards the totals.
func (b *Bursar) ArrearsReport(ctx context.Context, schoolID string, year, term int, classID string) (*ArrearsReport, error) {
	if schoolID == "" {
		return nil, ErrMissingScope
	}
	if err := validateTerm(year, term); err != nil {
		return nil, err
	}

	views, err := b.ListInvoices(ctx, schoolID, InvoiceFilter{
		Year:    year,
		Term:    term,
		ClassID: classID,
		Status:  []invoice.Status{invoice.StatusIssued, invoice.StatusPartial, invoice.StatusPaid},
	})
	if err != nil {
		return nil, err
	}

	zero := types.Zero(b.currency)
	report := &ArrearsReport{
		Year:           year,
		Term:           term,
		TotalBilled:    zero,
		TotalPaid:      zero,
		TotalBalance:   zero,
		CollectionRate: decimal.Zero,
	}

	byStudent := make(map[string]*StudentArrears)
	for _, v := range views {
		sa, ok := byStudent[v.StudentID]
		if !ok {
			sa = &StudentArrears{StudentID: v.StudentID, ClassID: v.ClassID, Billed: zero, Paid: zero, Balance: zero}
			byStudent[v.StudentID] = sa
		}
		sa.Invoices++
		sa.Billed = sa.Billed.Add(v.Total)
		sa.Paid = sa.Paid.Add(v.Paid)
		sa.Balance = sa.Balance.Add(v.Balance)

		report.TotalBilled = report.TotalBilled.Add(v.Total)
		report.TotalPaid = report.TotalPaid.Add(v.Paid)
		report.TotalBalance = report.TotalBalance.Add(v.Balance)
	}

	for _, sa := range byStudent {
		if sa.Balance.IsPositive() {
			report.Students = append(report.Students, sa)
		}
	}
	slices.SortFunc(report.Students, func(a, b *StudentArrears) int {
		if c := cmp.Compare(b.Balance.Amount, a.Balance.Amount); c != 0 {
			return c
		}
		return cmp.Compare(a.StudentID, b.StudentID)
	})

	report.CollectionRate = CollectionRate(report.TotalPaid, report.TotalBilled)
	return report, nil
}

// CollectionRate is paid as a percentage of billed, rounded to two places
// and capped at 100.
func CollectionRate(paid, billed types.Money) decimal.Decimal {
	if !billed.IsPositive() {
		return decimal.Zero
	}
	rate := paid.Decimal().Div(billed.Decimal()).Mul(decimal.NewFromInt(100)).Round(2)
	return decimal.Min(rate, decimal.NewFromInt(100))
}
