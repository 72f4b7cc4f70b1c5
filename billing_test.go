package bursar_test

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/bursar"
	"github.com/xraph/bursar/invoice"
	"github.com/xraph/bursar/notify"
	"github.com/xraph/bursar/store/memory"
)

func TestGenerateInvoices(t *testing.T) {
	f := newFixture(t)
	fs := f.defaultStructure(t, 2025, 3,
		item("Tuition", 25000),
		item("Lunch", 5000),
		classItem("cls_5", "Science lab", 2000),
	)

	res, err := f.b.GenerateInvoices(f.ctx, school, bursar.GenerateInput{Year: 2025, Term: 3})
	require.NoError(t, err)
	assert.Equal(t, fs.ID, res.Structure.ID)
	assert.Equal(t, 3, res.StudentsProcessed, "inactive students are not billed")
	assert.Equal(t, 3, res.Created)
	assert.Equal(t, 0, res.Skipped)
	assert.Equal(t, bursar.Major(30000+30000+32000, "kes"), res.TotalAmount)

	amina, err := f.b.GetStudentInvoice(f.ctx, school, "stu_1", 2025, 3)
	require.NoError(t, err)
	assert.Equal(t, invoice.StatusDraft, amina.Status)
	assert.Equal(t, bursar.Major(30000, "kes"), amina.Total)
	assert.Len(t, amina.Lines, 2)
	assert.Equal(t, fixedNow.AddDate(0, 0, bursar.DefaultDueDays), amina.DueDate)
	assert.Equal(t, bursar.Major(30000, "kes"), amina.Balance)

	carol, err := f.b.GetStudentInvoice(f.ctx, school, "stu_3", 2025, 3)
	require.NoError(t, err)
	assert.Equal(t, bursar.Major(32000, "kes"), carol.Total)
	require.Len(t, carol.Lines, 3)

	var sum int64
	for _, l := range carol.Lines {
		sum += l.Amount.Amount
	}
	assert.Equal(t, carol.Total.Amount, sum, "total equals the sum of its lines")

	assert.Equal(t, []int{3}, f.recorder.generated)
	f.b.FlushNotifications()
	assert.Contains(t, f.notes.Kinds(), notify.KindInvoicesGenerated)
}

func TestGenerateInvoicesIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.defaultStructure(t, 2025, 1, item("Tuition", 25000))

	first, err := f.b.GenerateInvoices(f.ctx, school, bursar.GenerateInput{Year: 2025, Term: 1})
	require.NoError(t, err)
	require.Equal(t, 3, first.Created)

	second, err := f.b.GenerateInvoices(f.ctx, school, bursar.GenerateInput{Year: 2025, Term: 1})
	require.NoError(t, err)
	assert.Equal(t, 0, second.Created)
	assert.Equal(t, 3, second.Skipped)
	assert.Empty(t, second.Invoices)
	assert.True(t, second.TotalAmount.IsZero())

	// A new student is picked up by a later run.
	f.dir.AddStudents(directoryStudent("stu_9", "cls_4"))
	third, err := f.b.GenerateInvoices(f.ctx, school, bursar.GenerateInput{Year: 2025, Term: 1})
	require.NoError(t, err)
	assert.Equal(t, 1, third.Created)
	assert.Equal(t, 3, third.Skipped)

	all, err := f.b.ListInvoices(f.ctx, school, bursar.InvoiceFilter{Year: 2025, Term: 1})
	require.NoError(t, err)
	assert.Len(t, all, 4)
}

func TestGenerateInvoicesConcurrent(t *testing.T) {
	f := newFixture(t)
	f.defaultStructure(t, 2025, 1, item("Tuition", 25000))

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.b.GenerateInvoices(context.Background(), school, bursar.GenerateInput{Year: 2025, Term: 1})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	all, err := f.b.ListInvoices(f.ctx, school, bursar.InvoiceFilter{Year: 2025, Term: 1})
	require.NoError(t, err)
	assert.Len(t, all, 3, "one invoice per student and term")
}

func TestGenerateInvoicesForClass(t *testing.T) {
	f := newFixture(t)
	f.defaultStructure(t, 2025, 1, item("Tuition", 25000))

	res, err := f.b.GenerateInvoices(f.ctx, school, bursar.GenerateInput{Year: 2025, Term: 1, ClassID: "cls_4"})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Created)

	_, err = f.b.GetStudentInvoice(f.ctx, school, "stu_3", 2025, 1)
	assert.ErrorIs(t, err, bursar.ErrInvoiceNotFound)
}

func TestGenerateSkipsStudentsWithoutItems(t *testing.T) {
	f := newFixture(t)
	f.defaultStructure(t, 2025, 1, classItem("cls_4", "Swimming", 1500))

	res, err := f.b.GenerateInvoices(f.ctx, school, bursar.GenerateInput{Year: 2025, Term: 1})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Created)
	assert.Equal(t, 1, res.Skipped)
}

func TestGenerateInvoicesErrors(t *testing.T) {
	t.Run("no default", func(t *testing.T) {
		f := newFixture(t)
		f.structure(t, "Unpublished", 2025, 1, item("Tuition", 1))

		_, err := f.b.GenerateInvoices(f.ctx, school, bursar.GenerateInput{Year: 2025, Term: 1})
		assert.ErrorIs(t, err, bursar.ErrNoDefaultStructure)
		assert.True(t, bursar.IsNotFound(err))
	})

	t.Run("explicit structure must be published", func(t *testing.T) {
		f := newFixture(t)
		fs := f.structure(t, "Unpublished", 2025, 1, item("Tuition", 1))

		_, err := f.b.GenerateInvoices(f.ctx, school, bursar.GenerateInput{Year: 2025, Term: 1, StructureID: fs.ID})
		assert.ErrorIs(t, err, bursar.ErrStructureNotPublished)
	})

	t.Run("explicit structure of another term", func(t *testing.T) {
		f := newFixture(t)
		fs := f.defaultStructure(t, 2025, 2, item("Tuition", 1))

		_, err := f.b.GenerateInvoices(f.ctx, school, bursar.GenerateInput{Year: 2025, Term: 1, StructureID: fs.ID})
		assert.ErrorIs(t, err, bursar.ErrStructureTermMismatch)
	})

	t.Run("no students", func(t *testing.T) {
		f := newFixture(t)
		f.defaultStructure(t, 2025, 1, item("Tuition", 1))

		_, err := f.b.GenerateInvoices(f.ctx, school, bursar.GenerateInput{Year: 2025, Term: 1, ClassID: "cls_9"})
		assert.ErrorIs(t, err, bursar.ErrNoStudents)
	})

	t.Run("bad term", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.b.GenerateInvoices(f.ctx, school, bursar.GenerateInput{Year: 2025, Term: 7})
		assert.True(t, bursar.IsValidation(err))
	})

	t.Run("missing school", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.b.GenerateInvoices(f.ctx, "", bursar.GenerateInput{Year: 2025, Term: 1})
		assert.ErrorIs(t, err, bursar.ErrMissingScope)
	})
}

func TestGenerateInvoicesRollsBack(t *testing.T) {
	calls := 0
	fs := &failingStore{Store: memory.New(), calls: &calls, failAt: 2}
	f := newFixtureWithStore(t, fs)
	f.defaultStructure(t, 2025, 1, item("Tuition", 25000))

	_, err := f.b.GenerateInvoices(f.ctx, school, bursar.GenerateInput{Year: 2025, Term: 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")

	all, err := f.b.ListInvoices(f.ctx, school, bursar.InvoiceFilter{Year: 2025, Term: 1})
	require.NoError(t, err)
	assert.Empty(t, all, "no invoice survives a failed run")
	assert.Empty(t, f.recorder.generated)
}

func TestIssueInvoices(t *testing.T) {
	f := newFixture(t)
	f.defaultStructure(t, 2025, 1, item("Tuition", 25000))
	_, err := f.b.GenerateInvoices(f.ctx, school, bursar.GenerateInput{Year: 2025, Term: 1})
	require.NoError(t, err)

	amina, err := f.b.GetStudentInvoice(f.ctx, school, "stu_1", 2025, 1)
	require.NoError(t, err)

	view, err := f.b.IssueInvoice(f.ctx, school, amina.ID)
	require.NoError(t, err)
	assert.Equal(t, invoice.StatusIssued, view.Status)
	require.NotNil(t, view.IssuedAt)

	_, err = f.b.IssueInvoice(f.ctx, school, amina.ID)
	assert.ErrorIs(t, err, bursar.ErrInvoiceNotDraft)

	issued, err := f.b.BulkIssue(f.ctx, school, bursar.BulkIssueInput{Year: 2025, Term: 1, ClassID: "cls_4"})
	require.NoError(t, err)
	assert.Len(t, issued, 1, "only the remaining cls_4 draft")

	issued, err = f.b.BulkIssue(f.ctx, school, bursar.BulkIssueInput{Year: 2025, Term: 1})
	require.NoError(t, err)
	assert.Len(t, issued, 1)

	_, err = f.b.BulkIssue(f.ctx, school, bursar.BulkIssueInput{Year: 2025, Term: 1})
	assert.ErrorIs(t, err, bursar.ErrNoDraftInvoices)

	assert.Equal(t, 3, f.recorder.issued)
	f.b.FlushNotifications()
	var issuedEvents int
	for k, n := range f.notes.Kinds() {
		if k == notify.KindInvoiceIssued {
			issuedEvents += n
		}
	}
	assert.Equal(t, 3, issuedEvents)
}

func TestCancelInvoice(t *testing.T) {
	f := newFixture(t)
	f.defaultStructure(t, 2025, 1, item("Tuition", 25000))
	inv := f.issued(t, 2025, 1)

	_, err := f.pay(inv.ID, 10000)
	require.NoError(t, err)

	_, err = f.b.CancelInvoice(f.ctx, school, inv.ID, strings.Repeat("x", bursar.MaxCancelReasonLen+1))
	assert.True(t, bursar.IsValidation(err))

	view, err := f.b.CancelInvoice(f.ctx, school, inv.ID, "Student transferred")
	require.NoError(t, err)
	assert.Equal(t, invoice.StatusCancelled, view.Status)
	assert.Equal(t, "Student transferred", view.CancelReason)

	detail, err := f.b.GetInvoice(f.ctx, school, inv.ID)
	require.NoError(t, err)
	assert.True(t, detail.Paid.IsZero())
	assert.True(t, detail.Balance.IsZero())
	assert.True(t, detail.Overpayment.IsZero())
	assert.Len(t, detail.Payments, 1, "payments are kept")

	_, err = f.b.CancelInvoice(f.ctx, school, inv.ID, "again")
	assert.ErrorIs(t, err, bursar.ErrInvoiceCancelled)
	_, err = f.b.IssueInvoice(f.ctx, school, inv.ID)
	assert.ErrorIs(t, err, bursar.ErrInvoiceCancelled)
	_, err = f.pay(inv.ID, 100)
	assert.ErrorIs(t, err, bursar.ErrInvoiceCancelled)

	assert.Equal(t, 1, f.recorder.cancelled)
}

func TestCancelPaidInvoice(t *testing.T) {
	f := newFixture(t)
	f.defaultStructure(t, 2025, 1, item("Tuition", 25000))
	inv := f.issued(t, 2025, 1)

	_, err := f.pay(inv.ID, 25000)
	require.NoError(t, err)

	_, err = f.b.CancelInvoice(f.ctx, school, inv.ID, "mistake")
	assert.ErrorIs(t, err, bursar.ErrInvoicePaid)
	assert.True(t, bursar.IsInvalidState(err))
}

func TestCancelDraftInvoice(t *testing.T) {
	f := newFixture(t)
	f.defaultStructure(t, 2025, 1, item("Tuition", 25000))
	_, err := f.b.GenerateInvoices(f.ctx, school, bursar.GenerateInput{Year: 2025, Term: 1})
	require.NoError(t, err)
	amina, err := f.b.GetStudentInvoice(f.ctx, school, "stu_1", 2025, 1)
	require.NoError(t, err)

	view, err := f.b.CancelInvoice(f.ctx, school, amina.ID, "")
	require.NoError(t, err)
	assert.Equal(t, invoice.StatusCancelled, view.Status)
}

func TestListUnpaid(t *testing.T) {
	f := newFixture(t)
	f.defaultStructure(t, 2025, 1, item("Tuition", 25000))
	inv := f.issued(t, 2025, 1)

	_, err := f.pay(inv.ID, 25000)
	require.NoError(t, err)

	unpaid, err := f.b.ListUnpaid(f.ctx, school, 2025, 1, "")
	require.NoError(t, err)
	assert.Len(t, unpaid, 2)
	for _, v := range unpaid {
		assert.NotEqual(t, "stu_1", v.StudentID)
	}

	unpaid, err = f.b.ListUnpaid(f.ctx, school, 2025, 1, "cls_5")
	require.NoError(t, err)
	assert.Len(t, unpaid, 1)
}

func TestInvoiceTenancy(t *testing.T) {
	f := newFixture(t)
	f.defaultStructure(t, 2025, 1, item("Tuition", 25000))
	inv := f.issued(t, 2025, 1)

	_, err := f.b.GetInvoice(f.ctx, "sch_2", inv.ID)
	assert.ErrorIs(t, err, bursar.ErrInvoiceNotFound)
	_, err = f.b.CancelInvoice(f.ctx, "sch_2", inv.ID, "")
	assert.ErrorIs(t, err, bursar.ErrInvoiceNotFound)
	_, err = f.b.RecordPayment(f.ctx, "sch_2", bursar.PaymentInput{
		InvoiceID: inv.ID, Amount: bursar.Major(1, "kes"), Method: "CASH",
	})
	assert.ErrorIs(t, err, bursar.ErrInvoiceNotFound)

	views, err := f.b.ListInvoices(f.ctx, "sch_2", bursar.InvoiceFilter{})
	require.NoError(t, err)
	assert.Empty(t, views)
}
