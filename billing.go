package bursar

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/xraph/bursar/directory"
	"github.com/xraph/bursar/feestructure"
	"github.com/xraph/bursar/id"
	"github.com/xraph/bursar/invoice"
	"github.com/xraph/bursar/notify"
	"github.com/xraph/bursar/payment"
	"github.com/xraph/bursar/store"
	"github.com/xraph/bursar/types"
)

// MaxCancelReasonLen bounds the free-text cancellation reason.
const MaxCancelReasonLen = 255

// ──────────────────────────────────────────────────
// Generation
// ──────────────────────────────────────────────────

// GenerateInput selects the term, and optionally the class and structure,
// to invoice. A nil StructureID uses the term's published default.
type GenerateInput struct {
	Year        int               `json:"year"`
	Term        int               `json:"term"`
	ClassID     string            `json:"class_id,omitempty"`
	StructureID id.FeeStructureID `json:"structure_id,omitempty"`
}

// GenerateResult reports one generation run. Invoices holds only the
// invoices created by this run.
type GenerateResult struct {
	Structure         *feestructure.FeeStructure `json:"structure"`
	Invoices          []*invoice.Invoice         `json:"invoices"`
	Created           int                        `json:"created"`
	Skipped           int                        `json:"skipped"`
	StudentsProcessed int                        `json:"students_processed"`
	TotalAmount       types.Money                `json:"total_amount"`
}

// GenerateInvoices creates one DRAFT invoice per active student that has
// none for the term. Students already invoiced are skipped, so running it
// twice creates nothing the second time. All inserts commit together.
func (b *Bursar) GenerateInvoices(ctx context.Context, schoolID string, in GenerateInput) (*GenerateResult, error) {
	if schoolID == "" {
		return nil, ErrMissingScope
	}
	if err := validateTerm(in.Year, in.Term); err != nil {
		return nil, err
	}
	start := time.Now()

	fs, err := b.billingStructure(ctx, schoolID, in)
	if err != nil {
		return nil, err
	}
	items, err := b.store.ListItems(ctx, fs.ID)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, ErrStructureEmpty
	}

	students, err := b.students.ListActive(ctx, schoolID, in.ClassID)
	if err != nil {
		return nil, fmt.Errorf("bursar: list students: %w", err)
	}
	if len(students) == 0 {
		return nil, ErrNoStudents
	}

	res := &GenerateResult{
		Structure:         fs,
		StudentsProcessed: len(students),
		TotalAmount:       types.Zero(b.currency),
	}
	now := b.clock()
	due := now.AddDate(0, 0, b.dueDays)

	err = b.store.Transact(ctx, func(ctx context.Context, tx store.Store) error {
		if err := tx.LockTerm(ctx, schoolID, in.Year, in.Term); err != nil {
			return err
		}
		res.Invoices, res.Created, res.Skipped = nil, 0, 0
		res.TotalAmount = types.Zero(b.currency)

		for _, st := range students {
			_, err := tx.GetStudentInvoice(ctx, schoolID, st.ID, in.Year, in.Term)
			if err == nil {
				res.Skipped++
				continue
			}
			if !errors.Is(err, ErrInvoiceNotFound) {
				return err
			}

			inv := b.buildInvoice(schoolID, st, fs, items, now, due)
			if len(inv.Lines) == 0 {
				b.logger.Debug("no fee items apply to student",
					"student_id", st.ID,
					"class_id", st.ClassID,
				)
				res.Skipped++
				continue
			}
			if err := tx.CreateInvoice(ctx, inv); err != nil {
				return fmt.Errorf("create invoice for student %s: %w", st.ID, err)
			}
			res.Invoices = append(res.Invoices, inv)
			res.Created++
			res.TotalAmount = res.TotalAmount.Add(inv.Total)
		}
		return nil
	})
	if err != nil {
		b.logger.Error("invoice generation rolled back",
			"school_id", schoolID,
			"year", in.Year,
			"term", in.Term,
			"error", err,
		)
		return nil, err
	}

	elapsed := time.Since(start)
	b.logger.Info("invoices generated",
		"school_id", schoolID,
		"structure_id", fs.ID.String(),
		"year", in.Year,
		"term", in.Term,
		"created", res.Created,
		"skipped", res.Skipped,
		"elapsed_ms", elapsed.Milliseconds(),
	)
	b.plugins.EmitInvoicesGenerated(ctx, res.Invoices, res.Skipped, elapsed)
	if res.Created > 0 {
		b.notifier.Send(ctx, notify.Event{
			Kind:     notify.KindInvoicesGenerated,
			SchoolID: schoolID,
			Message:  fmt.Sprintf("%d invoices generated for term %d %d, total %s", res.Created, in.Term, in.Year, res.TotalAmount),
			Data:     map[string]any{"created": res.Created, "skipped": res.Skipped, "structure_id": fs.ID.String()},
		})
	}
	return res, nil
}

// billingStructure resolves the structure a generation run bills from.
func (b *Bursar) billingStructure(ctx context.Context, schoolID string, in GenerateInput) (*feestructure.FeeStructure, error) {
	if !in.StructureID.IsNil() {
		fs, err := structure(ctx, b.store, schoolID, in.StructureID)
		if err != nil {
			return nil, err
		}
		if !fs.IsPublished {
			return nil, ErrStructureNotPublished
		}
		if fs.Year != in.Year || fs.Term != in.Term {
			return nil, ErrStructureTermMismatch
		}
		return fs, nil
	}

	published, isDefault := true, true
	defaults, err := b.store.ListStructures(ctx, schoolID, feestructure.ListOpts{
		Year: in.Year, Term: in.Term, Published: &published, Default: &isDefault,
	})
	if err != nil {
		return nil, err
	}
	if len(defaults) == 0 {
		return nil, ErrNoDefaultStructure
	}
	return defaults[0], nil
}

func (b *Bursar) buildInvoice(schoolID string, st directory.Student, fs *feestructure.FeeStructure, items []*feestructure.FeeItem, now, due time.Time) *invoice.Invoice {
	inv := &invoice.Invoice{
		Entity:      types.Entity{CreatedAt: now, UpdatedAt: now},
		ID:          id.NewInvoiceID(),
		SchoolID:    schoolID,
		StudentID:   st.ID,
		ClassID:     st.ClassID,
		StructureID: fs.ID,
		Year:        fs.Year,
		Term:        fs.Term,
		Total:       types.Zero(b.currency),
		Status:      invoice.StatusDraft,
		DueDate:     due,
	}
	for _, it := range items {
		if !it.AppliesTo(st.ClassID) {
			continue
		}
		inv.Lines = append(inv.Lines, invoice.Line{
			ID:        id.NewInvoiceLineID(),
			InvoiceID: inv.ID,
			ItemName:  it.ItemName,
			Amount:    it.Amount,
			Category:  it.Category,
		})
		inv.Total = inv.Total.Add(it.Amount)
	}
	return inv
}

// ──────────────────────────────────────────────────
// Issuing and cancelling
// ──────────────────────────────────────────────────

// IssueInvoice moves a single DRAFT invoice to ISSUED.
func (b *Bursar) IssueInvoice(ctx context.Context, schoolID string, invID id.InvoiceID) (*invoice.View, error) {
	var inv *invoice.Invoice
	err := b.store.Transact(ctx, func(ctx context.Context, tx store.Store) error {
		var err error
		inv, err = loadInvoice(ctx, tx, schoolID, invID)
		if err != nil {
			return err
		}
		switch inv.Status {
		case invoice.StatusDraft:
		case invoice.StatusCancelled:
			return ErrInvoiceCancelled
		default:
			return ErrInvoiceNotDraft
		}
		b.markIssued(inv)
		return tx.UpdateInvoice(ctx, inv)
	})
	if err != nil {
		return nil, err
	}

	b.afterIssue(ctx, []*invoice.Invoice{inv})
	return invoice.NewView(inv, nil), nil
}

// BulkIssueInput selects the drafts to issue.
type BulkIssueInput struct {
	Year    int    `json:"year"`
	Term    int    `json:"term"`
	ClassID string `json:"class_id,omitempty"`
}

// BulkIssue moves every matching DRAFT invoice to ISSUED in one
// transaction.
func (b *Bursar) BulkIssue(ctx context.Context, schoolID string, in BulkIssueInput) ([]*invoice.Invoice, error) {
	if schoolID == "" {
		return nil, ErrMissingScope
	}
	if err := validateTerm(in.Year, in.Term); err != nil {
		return nil, err
	}

	var issued []*invoice.Invoice
	err := b.store.Transact(ctx, func(ctx context.Context, tx store.Store) error {
		if err := tx.LockTerm(ctx, schoolID, in.Year, in.Term); err != nil {
			return err
		}
		drafts, err := tx.ListInvoices(ctx, schoolID, invoice.ListOpts{
			Year:    in.Year,
			Term:    in.Term,
			ClassID: in.ClassID,
			Status:  []invoice.Status{invoice.StatusDraft},
		})
		if err != nil {
			return err
		}
		if len(drafts) == 0 {
			return ErrNoDraftInvoices
		}
		for _, inv := range drafts {
			b.markIssued(inv)
			if err := tx.UpdateInvoice(ctx, inv); err != nil {
				return err
			}
		}
		issued = drafts
		return nil
	})
	if err != nil {
		return nil, err
	}

	b.afterIssue(ctx, issued)
	return issued, nil
}

func (b *Bursar) markIssued(inv *invoice.Invoice) {
	now := b.clock()
	inv.Status = invoice.StatusIssued
	inv.IssuedAt = &now
	inv.UpdatedAt = now
}

func (b *Bursar) afterIssue(ctx context.Context, issued []*invoice.Invoice) {
	b.logger.Info("invoices issued", "count", len(issued))
	b.plugins.EmitInvoicesIssued(ctx, issued)
	for _, inv := range issued {
		b.notifier.Send(ctx, notify.Event{
			Kind:      notify.KindInvoiceIssued,
			SchoolID:  inv.SchoolID,
			StudentID: inv.StudentID,
			InvoiceID: inv.ID.String(),
			Message: fmt.Sprintf("Term %d %d fees of %s are due by %s",
				inv.Term, inv.Year, inv.Total, inv.DueDate.Format("2 Jan 2006")),
		})
	}
}

// CancelInvoice cancels an invoice that is not PAID. Cancellation is
// terminal; payments already posted are kept but no longer counted.
func (b *Bursar) CancelInvoice(ctx context.Context, schoolID string, invID id.InvoiceID, reason string) (*invoice.View, error) {
	reason = strings.TrimSpace(reason)
	if utf8.RuneCountInString(reason) > MaxCancelReasonLen {
		return nil, Invalid("reason", "must be at most %d characters", MaxCancelReasonLen)
	}

	var inv *invoice.Invoice
	err := b.store.Transact(ctx, func(ctx context.Context, tx store.Store) error {
		var err error
		inv, err = loadInvoice(ctx, tx, schoolID, invID)
		if err != nil {
			return err
		}
		switch inv.Status {
		case invoice.StatusPaid:
			return ErrInvoicePaid
		case invoice.StatusCancelled:
			return ErrInvoiceCancelled
		}
		now := b.clock()
		inv.Status = invoice.StatusCancelled
		inv.CancelledAt = &now
		inv.CancelReason = reason
		inv.UpdatedAt = now
		return tx.UpdateInvoice(ctx, inv)
	})
	if err != nil {
		return nil, err
	}

	b.logger.Info("invoice cancelled",
		"school_id", schoolID,
		"invoice_id", inv.ID.String(),
		"reason", reason,
	)
	b.plugins.EmitInvoiceCancelled(ctx, inv, reason)
	b.notifier.Send(ctx, notify.Event{
		Kind:      notify.KindInvoiceCancelled,
		SchoolID:  schoolID,
		StudentID: inv.StudentID,
		InvoiceID: inv.ID.String(),
		Message:   "Invoice cancelled: " + reason,
	})
	return invoice.NewView(inv, nil), nil
}

// ──────────────────────────────────────────────────
// Reads
// ──────────────────────────────────────────────────

// InvoiceDetail is an invoice with its lines, payments and derived amounts.
type InvoiceDetail struct {
	*invoice.View
	Payments []*payment.Payment `json:"payments"`
}

// GetInvoice returns an invoice with payments and derived amounts.
func (b *Bursar) GetInvoice(ctx context.Context, schoolID string, invID id.InvoiceID) (*InvoiceDetail, error) {
	inv, err := loadInvoice(ctx, b.store, schoolID, invID)
	if err != nil {
		return nil, err
	}
	payments, err := b.store.ListInvoicePayments(ctx, inv.ID)
	if err != nil {
		return nil, err
	}
	return &InvoiceDetail{View: invoice.NewView(inv, payments), Payments: payments}, nil
}

// GetStudentInvoice returns a student's invoice for a term.
func (b *Bursar) GetStudentInvoice(ctx context.Context, schoolID, studentID string, year, term int) (*InvoiceDetail, error) {
	if schoolID == "" {
		return nil, ErrMissingScope
	}
	inv, err := b.store.GetStudentInvoice(ctx, schoolID, studentID, year, term)
	if err != nil {
		return nil, err
	}
	return b.GetInvoice(ctx, schoolID, inv.ID)
}

// InvoiceFilter narrows ListInvoices.
type InvoiceFilter = invoice.ListOpts

// ListInvoices returns invoices with derived amounts.
func (b *Bursar) ListInvoices(ctx context.Context, schoolID string, f InvoiceFilter) ([]*invoice.View, error) {
	if schoolID == "" {
		return nil, ErrMissingScope
	}
	invoices, err := b.store.ListInvoices(ctx, schoolID, f)
	if err != nil {
		return nil, err
	}
	return b.views(ctx, invoices)
}

// StudentInvoices returns every invoice of a student.
func (b *Bursar) StudentInvoices(ctx context.Context, schoolID, studentID string) ([]*invoice.View, error) {
	return b.ListInvoices(ctx, schoolID, InvoiceFilter{StudentID: studentID})
}

// ListUnpaid returns ISSUED and PARTIAL invoices that still have a balance.
func (b *Bursar) ListUnpaid(ctx context.Context, schoolID string, year, term int, classID string) ([]*invoice.View, error) {
	views, err := b.ListInvoices(ctx, schoolID, InvoiceFilter{
		Year:    year,
		Term:    term,
		ClassID: classID,
		Status:  []invoice.Status{invoice.StatusIssued, invoice.StatusPartial},
	})
	if err != nil {
		return nil, err
	}
	out := views[:0]
	for _, v := range views {
		if v.Balance.IsPositive() {
			out = append(out, v)
		}
	}
	return out, nil
}

func (b *Bursar) views(ctx context.Context, invoices []*invoice.Invoice) ([]*invoice.View, error) {
	out := make([]*invoice.View, 0, len(invoices))
	for _, inv := range invoices {
		payments, err := b.store.ListInvoicePayments(ctx, inv.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, invoice.NewView(inv, payments))
	}
	return out, nil
}
