package bursar_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xraph/bursar"
	"github.com/xraph/bursar/directory"
	"github.com/xraph/bursar/feestructure"
	"github.com/xraph/bursar/id"
	"github.com/xraph/bursar/invoice"
	"github.com/xraph/bursar/notify"
	"github.com/xraph/bursar/payment"
	"github.com/xraph/bursar/store"
	"github.com/xraph/bursar/store/memory"
)

const school = "sch_1"

var fixedNow = time.Date(2025, time.September, 1, 8, 0, 0, 0, time.UTC)

type fixture struct {
	b        *bursar.Bursar
	store    store.Store
	dir      *directory.Static
	notes    *notify.Memory
	recorder *recordingPlugin
	ctx      context.Context
}

func newFixture(t *testing.T, opts ...bursar.Option) *fixture {
	t.Helper()
	return newFixtureWithStore(t, memory.New(), opts...)
}

func newFixtureWithStore(t *testing.T, s store.Store, opts ...bursar.Option) *fixture {
	t.Helper()

	dir := directory.NewStatic().AddStudents(
		directory.Student{ID: "stu_1", SchoolID: school, Name: "Amina Njeri", ClassID: "cls_4", Active: true},
		directory.Student{ID: "stu_2", SchoolID: school, Name: "Brian Otieno", ClassID: "cls_4", Active: true},
		directory.Student{ID: "stu_3", SchoolID: school, Name: "Carol Wanjiku", ClassID: "cls_5", Active: true},
		directory.Student{ID: "stu_4", SchoolID: school, Name: "Dan Left", ClassID: "cls_5", Active: false},
	)
	f := &fixture{
		store:    s,
		dir:      dir,
		notes:    &notify.Memory{},
		recorder: &recordingPlugin{},
		ctx:      context.Background(),
	}

	all := append([]bursar.Option{
		bursar.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		bursar.WithStudents(dir),
		bursar.WithNotifier(f.notes),
		bursar.WithPlugin(f.recorder),
		bursar.WithClock(func() time.Time { return fixedNow }),
	}, opts...)
	f.b = bursar.New(s, all...)
	require.NoError(t, f.b.Start(f.ctx))
	t.Cleanup(func() { _ = f.b.Stop() })
	return f
}

// structure creates a structure with the given items (class "" for all).
func (f *fixture) structure(t *testing.T, name string, year, term int, items ...bursar.ItemInput) *feestructure.FeeStructure {
	t.Helper()
	fs, err := f.b.CreateStructure(f.ctx, school, bursar.CreateStructureInput{Name: name, Year: year, Term: term})
	require.NoError(t, err)
	for _, it := range items {
		_, _, err := f.b.AddItem(f.ctx, school, fs.ID, it)
		require.NoError(t, err)
	}
	return fs
}

// defaultStructure creates, publishes and defaults a structure.
func (f *fixture) defaultStructure(t *testing.T, year, term int, items ...bursar.ItemInput) *feestructure.FeeStructure {
	t.Helper()
	fs := f.structure(t, "Standard fees", year, term, items...)
	_, err := f.b.PublishStructure(f.ctx, school, fs.ID)
	require.NoError(t, err)
	fs, err = f.b.SetDefaultStructure(f.ctx, school, fs.ID)
	require.NoError(t, err)
	return fs
}

func item(name string, major int64) bursar.ItemInput {
	return bursar.ItemInput{ItemName: name, Amount: bursar.Major(major, "kes")}
}

func classItem(classID, name string, major int64) bursar.ItemInput {
	it := item(name, major)
	it.ClassID = classID
	return it
}

// issued generates and issues the term's invoices and returns stu_1's.
func (f *fixture) issued(t *testing.T, year, term int) *invoice.Invoice {
	t.Helper()
	_, err := f.b.GenerateInvoices(f.ctx, school, bursar.GenerateInput{Year: year, Term: term})
	require.NoError(t, err)
	_, err = f.b.BulkIssue(f.ctx, school, bursar.BulkIssueInput{Year: year, Term: term})
	require.NoError(t, err)
	inv, err := f.b.GetStudentInvoice(f.ctx, school, "stu_1", year, term)
	require.NoError(t, err)
	return inv.Invoice
}

func (f *fixture) pay(invID id.InvoiceID, major int64) (*bursar.PaymentResult, error) {
	return f.b.RecordPayment(f.ctx, school, bursar.PaymentInput{
		InvoiceID: invID,
		Amount:    bursar.Major(major, "kes"),
		Method:    payment.MethodMpesa,
		Reference: "QHX12345",
	})
}

// ──────────────────────────────────────────────────
// Recording plugin
// ──────────────────────────────────────────────────

type recordingPlugin struct {
	mu        sync.Mutex
	created   int
	published int
	defaults  []string
	generated []int
	issued    int
	cancelled int
	payments  int
	paid      int
}

func (p *recordingPlugin) Name() string { return "recorder" }

func (p *recordingPlugin) OnStructureCreated(context.Context, *feestructure.FeeStructure) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.created++
	return nil
}

func (p *recordingPlugin) OnStructurePublished(context.Context, *feestructure.FeeStructure, int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.published++
	return nil
}

func (p *recordingPlugin) OnDefaultChanged(_ context.Context, fs, _ *feestructure.FeeStructure) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.defaults = append(p.defaults, fs.Name)
	return nil
}

func (p *recordingPlugin) OnInvoicesGenerated(_ context.Context, invoices []*invoice.Invoice, _ int, _ time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.generated = append(p.generated, len(invoices))
	return nil
}

func (p *recordingPlugin) OnInvoicesIssued(_ context.Context, invoices []*invoice.Invoice) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.issued += len(invoices)
	return nil
}

func (p *recordingPlugin) OnInvoiceCancelled(context.Context, *invoice.Invoice, string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cancelled++
	return nil
}

func (p *recordingPlugin) OnPaymentRecorded(context.Context, *payment.Payment, *invoice.View) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.payments++
	return nil
}

func (p *recordingPlugin) OnInvoicePaid(context.Context, *invoice.View) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.paid++
	return nil
}

// ──────────────────────────────────────────────────
// Failing store
// ──────────────────────────────────────────────────

// failingStore fails the nth CreateInvoice call.
type failingStore struct {
	store.Store
	calls  *int
	failAt int
}

func (s *failingStore) Transact(ctx context.Context, fn func(ctx context.Context, tx store.Store) error) error {
	return s.Store.Transact(ctx, func(ctx context.Context, tx store.Store) error {
		return fn(ctx, &failingStore{Store: tx, calls: s.calls, failAt: s.failAt})
	})
}

func (s *failingStore) CreateInvoice(ctx context.Context, inv *invoice.Invoice) error {
	*s.calls++
	if *s.calls == s.failAt {
		return errors.New("disk full")
	}
	return s.Store.CreateInvoice(ctx, inv)
}

func directoryStudent(studentID, classID string) directory.Student {
	return directory.Student{ID: studentID, SchoolID: school, Name: studentID, ClassID: classID, Active: true}
}
