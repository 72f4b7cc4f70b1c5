// Package storetest holds the behaviour every store.Store backend must
// share. Backend test files call Run with a constructor for a fresh store.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/bursar"
	"github.com/xraph/bursar/feestructure"
	"github.com/xraph/bursar/id"
	"github.com/xraph/bursar/invoice"
	"github.com/xraph/bursar/payment"
	"github.com/xraph/bursar/store"
	"github.com/xraph/bursar/types"
)

// Factory returns an empty, migrated store. It registers its own cleanup.
type Factory func(t *testing.T) store.Store

// Run executes the conformance suite against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Helper()

	t.Run("StructureCRUD", func(t *testing.T) { testStructureCRUD(t, newStore(t)) })
	t.Run("StructureNameConflict", func(t *testing.T) { testStructureConflict(t, newStore(t)) })
	t.Run("SingleDefaultPerTerm", func(t *testing.T) { testSingleDefault(t, newStore(t)) })
	t.Run("ItemKeyConflict", func(t *testing.T) { testItemConflict(t, newStore(t)) })
	t.Run("DeleteStructureRemovesItems", func(t *testing.T) { testDeleteCascade(t, newStore(t)) })
	t.Run("InvoiceRoundTrip", func(t *testing.T) { testInvoiceRoundTrip(t, newStore(t)) })
	t.Run("InvoicePerStudentTerm", func(t *testing.T) { testInvoiceUnique(t, newStore(t)) })
	t.Run("ListInvoiceFilters", func(t *testing.T) { testListInvoices(t, newStore(t)) })
	t.Run("Payments", func(t *testing.T) { testPayments(t, newStore(t)) })
	t.Run("TransactRollback", func(t *testing.T) { testRollback(t, newStore(t)) })
	t.Run("TransactCommit", func(t *testing.T) { testCommit(t, newStore(t)) })
}

const school = "sch_1"

// NewStructure builds an unpublished structure for tests.
func NewStructure(name string, year, term int) *feestructure.FeeStructure {
	return &feestructure.FeeStructure{
		Entity:   types.NewEntity(),
		ID:       id.NewFeeStructureID(),
		SchoolID: school,
		Name:     name,
		Level:    feestructure.LevelAll,
		Year:     year,
		Term:     term,
	}
}

// NewItem builds an item for structure fs.
func NewItem(fs *feestructure.FeeStructure, classID, name string, amount int64) *feestructure.FeeItem {
	return &feestructure.FeeItem{
		Entity:       types.NewEntity(),
		ID:           id.NewFeeItemID(),
		SchoolID:     fs.SchoolID,
		StructureID:  fs.ID,
		ClassID:      classID,
		ItemName:     name,
		Amount:       types.KES(amount),
		Category:     feestructure.CategoryTuition,
		BillingCycle: feestructure.CycleTerm,
	}
}

// NewInvoice builds a draft invoice with one line.
func NewInvoice(fs *feestructure.FeeStructure, studentID string, total int64) *invoice.Invoice {
	invID := id.NewInvoiceID()
	return &invoice.Invoice{
		Entity:      types.NewEntity(),
		ID:          invID,
		SchoolID:    fs.SchoolID,
		StudentID:   studentID,
		ClassID:     "cls_4",
		StructureID: fs.ID,
		Year:        fs.Year,
		Term:        fs.Term,
		Total:       types.KES(total),
		Status:      invoice.StatusDraft,
		DueDate:     time.Now().UTC().AddDate(0, 0, 30).Truncate(time.Second),
		Lines: []invoice.Line{{
			ID:        id.NewInvoiceLineID(),
			InvoiceID: invID,
			ItemName:  "Tuition",
			Amount:    types.KES(total),
			Category:  feestructure.CategoryTuition,
		}},
	}
}

func testStructureCRUD(t *testing.T, s store.Store) {
	ctx := context.Background()
	fs := NewStructure("Term 1 2025", 2025, 1)
	require.NoError(t, s.CreateStructure(ctx, fs))

	got, err := s.GetStructure(ctx, fs.ID)
	require.NoError(t, err)
	assert.Equal(t, fs.Name, got.Name)
	assert.Equal(t, 2025, got.Year)
	assert.False(t, got.IsPublished)

	now := time.Now().UTC().Truncate(time.Second)
	got.IsPublished = true
	got.PublishedAt = &now
	got.Name = "Term 1 2025 Fees"
	require.NoError(t, s.UpdateStructure(ctx, got))

	got, err = s.GetStructure(ctx, fs.ID)
	require.NoError(t, err)
	assert.True(t, got.IsPublished)
	require.NotNil(t, got.PublishedAt)
	assert.Equal(t, "Term 1 2025 Fees", got.Name)

	other := NewStructure("Term 2 2025", 2025, 2)
	require.NoError(t, s.CreateStructure(ctx, other))

	list, err := s.ListStructures(ctx, school, feestructure.ListOpts{Year: 2025, Term: 2})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, other.ID, list[0].ID)

	list, err = s.ListStructures(ctx, school, feestructure.ListOpts{Search: "fees"})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, fs.ID, list[0].ID)

	list, err = s.ListStructures(ctx, "other_school", feestructure.ListOpts{})
	require.NoError(t, err)
	assert.Empty(t, list)

	_, err = s.GetStructure(ctx, id.NewFeeStructureID())
	assert.True(t, bursar.IsNotFound(err), "got %v", err)
}

func testStructureConflict(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.CreateStructure(ctx, NewStructure("Term 1 2025", 2025, 1)))

	err := s.CreateStructure(ctx, NewStructure("term 1 2025", 2025, 1))
	assert.True(t, bursar.IsConflict(err), "got %v", err)

	// Same name in another term is fine.
	require.NoError(t, s.CreateStructure(ctx, NewStructure("Term 1 2025", 2025, 2)))
}

func testSingleDefault(t *testing.T, s store.Store) {
	ctx := context.Background()
	a := NewStructure("A", 2025, 3)
	a.IsDefault = true
	require.NoError(t, s.CreateStructure(ctx, a))

	b := NewStructure("B", 2025, 3)
	require.NoError(t, s.CreateStructure(ctx, b))

	b.IsDefault = true
	err := s.UpdateStructure(ctx, b)
	assert.Error(t, err, "a second default for the same term must be refused")
}

func testItemConflict(t *testing.T, s store.Store) {
	ctx := context.Background()
	fs := NewStructure("Term 1 2025", 2025, 1)
	require.NoError(t, s.CreateStructure(ctx, fs))
	require.NoError(t, s.CreateItem(ctx, NewItem(fs, "", "Tuition", 2500000)))

	err := s.CreateItem(ctx, NewItem(fs, "", "TUITION", 100))
	assert.True(t, bursar.IsConflict(err), "got %v", err)

	// A class-specific item with the same name is a separate key.
	require.NoError(t, s.CreateItem(ctx, NewItem(fs, "cls_4", "Tuition", 100)))

	n, err := s.CountItems(ctx, fs.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	items, err := s.ListItems(ctx, fs.ID)
	require.NoError(t, err)
	require.Len(t, items, 2)

	items[0].Amount = types.KES(42)
	require.NoError(t, s.UpdateItem(ctx, items[0]))
	got, err := s.GetItem(ctx, items[0].ID)
	require.NoError(t, err)
	assert.Equal(t, int64(42), got.Amount.Amount)
	assert.Equal(t, "kes", got.Amount.Currency)

	require.NoError(t, s.DeleteItem(ctx, items[0].ID))
	_, err = s.GetItem(ctx, items[0].ID)
	assert.True(t, bursar.IsNotFound(err), "got %v", err)
}

func testDeleteCascade(t *testing.T, s store.Store) {
	ctx := context.Background()
	fs := NewStructure("Term 1 2025", 2025, 1)
	require.NoError(t, s.CreateStructure(ctx, fs))
	require.NoError(t, s.CreateItem(ctx, NewItem(fs, "", "Tuition", 100)))
	require.NoError(t, s.CreateItem(ctx, NewItem(fs, "", "Lunch", 100)))

	require.NoError(t, s.DeleteStructure(ctx, fs.ID))
	n, err := s.CountItems(ctx, fs.ID)
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = s.GetStructure(ctx, fs.ID)
	assert.True(t, bursar.IsNotFound(err), "got %v", err)
}

func testInvoiceRoundTrip(t *testing.T, s store.Store) {
	ctx := context.Background()
	fs := NewStructure("Term 1 2025", 2025, 1)
	require.NoError(t, s.CreateStructure(ctx, fs))

	inv := NewInvoice(fs, "stu_1", 2500000)
	require.NoError(t, s.CreateInvoice(ctx, inv))

	got, err := s.GetInvoice(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, inv.StudentID, got.StudentID)
	assert.Equal(t, inv.ClassID, got.ClassID)
	assert.Equal(t, invoice.StatusDraft, got.Status)
	assert.Equal(t, int64(2500000), got.Total.Amount)
	assert.True(t, inv.DueDate.Equal(got.DueDate), "due date %v != %v", got.DueDate, inv.DueDate)
	require.Len(t, got.Lines, 1)
	assert.Equal(t, "Tuition", got.Lines[0].ItemName)

	now := time.Now().UTC().Truncate(time.Second)
	got.Status = invoice.StatusIssued
	got.IssuedAt = &now
	require.NoError(t, s.UpdateInvoice(ctx, got))

	got, err = s.GetStudentInvoice(ctx, school, "stu_1", 2025, 1)
	require.NoError(t, err)
	assert.Equal(t, invoice.StatusIssued, got.Status)
	require.NotNil(t, got.IssuedAt)

	_, err = s.GetStudentInvoice(ctx, school, "stu_1", 2025, 2)
	assert.True(t, bursar.IsNotFound(err), "got %v", err)

	n, err := s.CountTermInvoices(ctx, school, 2025, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func testInvoiceUnique(t *testing.T, s store.Store) {
	ctx := context.Background()
	fs := NewStructure("Term 1 2025", 2025, 1)
	require.NoError(t, s.CreateStructure(ctx, fs))
	require.NoError(t, s.CreateInvoice(ctx, NewInvoice(fs, "stu_1", 100)))

	err := s.CreateInvoice(ctx, NewInvoice(fs, "stu_1", 200))
	assert.True(t, bursar.IsConflict(err), "got %v", err)
}

func testListInvoices(t *testing.T, s store.Store) {
	ctx := context.Background()
	fs := NewStructure("Term 1 2025", 2025, 1)
	require.NoError(t, s.CreateStructure(ctx, fs))

	for _, st := range []string{"stu_1", "stu_2", "stu_3"} {
		require.NoError(t, s.CreateInvoice(ctx, NewInvoice(fs, st, 100)))
	}
	issued, err := s.GetStudentInvoice(ctx, school, "stu_2", 2025, 1)
	require.NoError(t, err)
	issued.Status = invoice.StatusIssued
	require.NoError(t, s.UpdateInvoice(ctx, issued))

	all, err := s.ListInvoices(ctx, school, invoice.ListOpts{Year: 2025, Term: 1})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	drafts, err := s.ListInvoices(ctx, school, invoice.ListOpts{Status: []invoice.Status{invoice.StatusDraft}})
	require.NoError(t, err)
	assert.Len(t, drafts, 2)

	mine, err := s.ListInvoices(ctx, school, invoice.ListOpts{StudentID: "stu_3"})
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, "stu_3", mine[0].StudentID)

	paged, err := s.ListInvoices(ctx, school, invoice.ListOpts{Limit: 2, Offset: 2})
	require.NoError(t, err)
	assert.Len(t, paged, 1)
}

func testPayments(t *testing.T, s store.Store) {
	ctx := context.Background()
	fs := NewStructure("Term 1 2025", 2025, 1)
	require.NoError(t, s.CreateStructure(ctx, fs))
	inv := NewInvoice(fs, "stu_1", 2500000)
	require.NoError(t, s.CreateInvoice(ctx, inv))

	base := time.Now().UTC().Truncate(time.Second)
	for i, amt := range []int64{1000000, 2000000} {
		require.NoError(t, s.CreatePayment(ctx, &payment.Payment{
			ID:        id.NewPaymentID(),
			SchoolID:  school,
			InvoiceID: inv.ID,
			StudentID: "stu_1",
			Amount:    types.KES(amt),
			Method:    payment.MethodMpesa,
			Reference: "QX12",
			PostedAt:  base.Add(time.Duration(i) * time.Minute),
		}))
	}

	pays, err := s.ListInvoicePayments(ctx, inv.ID)
	require.NoError(t, err)
	require.Len(t, pays, 2)
	assert.Equal(t, int64(1000000), pays[0].Amount.Amount)
	assert.Equal(t, payment.MethodMpesa, pays[1].Method)

	bal := invoice.Summarize(inv.Total, invoice.StatusPaid, pays)
	assert.Equal(t, int64(500000), bal.Overpayment.Amount)

	byStudent, err := s.ListStudentPayments(ctx, school, "stu_1")
	require.NoError(t, err)
	assert.Len(t, byStudent, 2)
}

var errBoom = errors.New("boom")

func testRollback(t *testing.T, s store.Store) {
	ctx := context.Background()
	fs := NewStructure("Term 1 2025", 2025, 1)
	require.NoError(t, s.CreateStructure(ctx, fs))

	err := s.Transact(ctx, func(ctx context.Context, tx store.Store) error {
		require.NoError(t, tx.LockTerm(ctx, school, 2025, 1))
		require.NoError(t, tx.CreateInvoice(ctx, NewInvoice(fs, "stu_1", 100)))
		require.NoError(t, tx.CreateInvoice(ctx, NewInvoice(fs, "stu_2", 100)))
		return errBoom
	})
	require.ErrorIs(t, err, errBoom)

	n, err := s.CountTermInvoices(ctx, school, 2025, 1)
	require.NoError(t, err)
	assert.Zero(t, n, "a failed batch must leave nothing behind")
}

func testCommit(t *testing.T, s store.Store) {
	ctx := context.Background()
	fs := NewStructure("Term 1 2025", 2025, 1)
	require.NoError(t, s.CreateStructure(ctx, fs))

	err := s.Transact(ctx, func(ctx context.Context, tx store.Store) error {
		if err := tx.CreateInvoice(ctx, NewInvoice(fs, "stu_1", 100)); err != nil {
			return err
		}
		got, err := tx.GetStudentInvoice(ctx, school, "stu_1", 2025, 1)
		if err != nil {
			return err
		}
		got.Status = invoice.StatusIssued
		return tx.UpdateInvoice(ctx, got)
	})
	require.NoError(t, err)

	got, err := s.GetStudentInvoice(ctx, school, "stu_1", 2025, 1)
	require.NoError(t, err)
	assert.Equal(t, invoice.StatusIssued, got.Status)
}
