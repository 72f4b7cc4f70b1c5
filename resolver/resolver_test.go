package resolver_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/bursar"
	"github.com/xraph/bursar/directory"
	"github.com/xraph/bursar/entitymem"
	"github.com/xraph/bursar/feestructure"
	"github.com/xraph/bursar/invoice"
	"github.com/xraph/bursar/resolver"
	"github.com/xraph/bursar/store/memory"
	"github.com/xraph/bursar/understanding"
)

const school = "sch_1"

var fixedNow = time.Date(2025, time.September, 1, 8, 0, 0, 0, time.UTC)

type counter struct {
	mu        sync.Mutex
	itemsSet  int
	turns     int
	completed int
}

func (c *counter) Name() string { return "counter" }

func (c *counter) OnItemSaved(context.Context, *feestructure.FeeItem, bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.itemsSet++
	return nil
}

func (c *counter) OnConversationTurn(_ context.Context, _, _ string, completed bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.turns++
	if completed {
		c.completed++
	}
	return nil
}

type harness struct {
	b      *bursar.Bursar
	r      *resolver.Resolver
	mem    entitymem.Store
	counts *counter
	ctx    context.Context
	conv   string
}

type harnessOpt func(*harnessConfig)

type harnessConfig struct {
	model understanding.Client
	mem   entitymem.Store
}

func withModel(c understanding.Client) harnessOpt {
	return func(h *harnessConfig) { h.model = c }
}

func withMemory(m entitymem.Store) harnessOpt {
	return func(h *harnessConfig) { h.mem = m }
}

func newHarness(t *testing.T, opts ...harnessOpt) *harness {
	t.Helper()
	cfg := harnessConfig{model: understanding.Nop{}, mem: entitymem.NewMemory(100, time.Minute)}
	for _, o := range opts {
		o(&cfg)
	}

	dir := directory.NewStatic().
		AddStudents(
			directory.Student{ID: "stu_1", SchoolID: school, Name: "Amina Njeri", ClassID: "cls_4", Active: true},
			directory.Student{ID: "stu_2", SchoolID: school, Name: "Brian Otieno", ClassID: "cls_4", Active: true},
			directory.Student{ID: "stu_3", SchoolID: school, Name: "Carol Wanjiku", ClassID: "cls_5", Active: true},
		).
		AddClasses(
			directory.Class{ID: "cls_4", SchoolID: school, Name: "Grade 4"},
			directory.Class{ID: "cls_5", SchoolID: school, Name: "Grade 5"},
		)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	counts := &counter{}
	clock := func() time.Time { return fixedNow }
	b := bursar.New(memory.New(),
		bursar.WithLogger(logger),
		bursar.WithStudents(dir),
		bursar.WithPlugin(counts),
		bursar.WithClock(clock),
	)
	ctx := context.Background()
	require.NoError(t, b.Start(ctx))
	t.Cleanup(func() { _ = b.Stop() })

	r := resolver.New(b, cfg.mem,
		resolver.WithUnderstanding(cfg.model),
		resolver.WithDirectory(dir, dir.ClassDirectory(), nil),
		resolver.WithLogger(logger),
		resolver.WithClock(clock),
	)
	return &harness{b: b, r: r, mem: cfg.mem, counts: counts, ctx: ctx, conv: "conv_1"}
}

func (h *harness) say(t *testing.T, text string) *resolver.Reply {
	t.Helper()
	reply, err := h.r.Handle(h.ctx, resolver.Message{ConversationID: h.conv, SchoolID: school, UserID: "usr_bursar", Text: text})
	require.NoError(t, err)
	require.NotNil(t, reply)
	assert.Equal(t, h.conv, reply.ConversationID)
	return reply
}

func (h *harness) pending(t *testing.T) bool {
	t.Helper()
	ok, err := h.mem.Has(h.ctx, h.conv)
	require.NoError(t, err)
	return ok
}

func (h *harness) structure(t *testing.T, name, level string, year, term int, items ...bursar.ItemInput) *feestructure.FeeStructure {
	t.Helper()
	fs, err := h.b.CreateStructure(h.ctx, school, bursar.CreateStructureInput{Name: name, Level: level, Year: year, Term: term})
	require.NoError(t, err)
	for _, it := range items {
		_, _, err := h.b.AddItem(h.ctx, school, fs.ID, it)
		require.NoError(t, err)
	}
	return fs
}

// billed sets up issued Term 3 2025 invoices of KSh 25,000.
func (h *harness) billed(t *testing.T) {
	t.Helper()
	fs := h.structure(t, "Standard fees", "", 2025, 3, item("Tuition", 25000))
	_, err := h.b.PublishStructure(h.ctx, school, fs.ID)
	require.NoError(t, err)
	_, err = h.b.SetDefaultStructure(h.ctx, school, fs.ID)
	require.NoError(t, err)
	_, err = h.b.GenerateInvoices(h.ctx, school, bursar.GenerateInput{Year: 2025, Term: 3})
	require.NoError(t, err)
	_, err = h.b.BulkIssue(h.ctx, school, bursar.BulkIssueInput{Year: 2025, Term: 3})
	require.NoError(t, err)
}

func item(name string, major int64) bursar.ItemInput {
	return bursar.ItemInput{ItemName: name, Amount: bursar.Major(major, "kes")}
}

func TestShapeCorrect(t *testing.T) {
	tests := []struct {
		year, term         string
		wantYear, wantTerm string
		swapped            bool
	}{
		{"3", "2025", "2025", "3", true},
		{"2025", "3", "2025", "3", false},
		{"", "2025", "2025", "", true},
		{"3", "", "", "3", true},
		{"abc", "9", "abc", "9", false},
		{"", "", "", "", false},
	}
	for _, tt := range tests {
		y, term, swapped := resolver.ShapeCorrect(tt.year, tt.term)
		assert.Equal(t, tt.wantYear, y, "year for (%q, %q)", tt.year, tt.term)
		assert.Equal(t, tt.wantTerm, term, "term for (%q, %q)", tt.year, tt.term)
		assert.Equal(t, tt.swapped, swapped, "swapped for (%q, %q)", tt.year, tt.term)
	}
}

func TestModelYearTermAreSwapped(t *testing.T) {
	model := understanding.ClientFunc(func(context.Context, string, []understanding.Turn) (*understanding.Result, error) {
		return &understanding.Result{
			Intent:   "create_fee_structure",
			Entities: map[string]string{"year": "3", "term": "2025"},
		}, nil
	})
	h := newHarness(t, withModel(model))

	reply := h.say(t, "we need a new plan for next term")
	require.True(t, reply.ActionTaken, reply.Text)
	fs := reply.Data.(*feestructure.FeeStructure)
	assert.Equal(t, 2025, fs.Year)
	assert.Equal(t, 3, fs.Term)
	assert.Equal(t, "Term 3 2025", fs.Name)
}

func TestSlotFillingMerge(t *testing.T) {
	h := newHarness(t)
	fs := h.structure(t, "Term 1 2025", "", 2025, 1)

	reply := h.say(t, "add lunch to term 1 2025")
	assert.Equal(t, resolver.IntentAddItem, reply.Intent)
	assert.False(t, reply.ActionTaken)
	assert.Equal(t, []resolver.Field{resolver.FieldAmount}, reply.MissingFields)
	assert.True(t, h.pending(t))
	assert.Zero(t, h.counts.itemsSet)

	reply = h.say(t, "5000")
	require.True(t, reply.ActionTaken, reply.Text)
	assert.Empty(t, reply.MissingFields)
	assert.False(t, h.pending(t))
	assert.Equal(t, 1, h.counts.itemsSet, "engine runs exactly once")

	items, err := h.b.ListItems(h.ctx, school, fs.ID)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "lunch", items[0].ItemName)
	assert.Equal(t, int64(500000), items[0].Amount.Amount)
}

func TestMergeOverwritesAndRecomputesMissing(t *testing.T) {
	req := &resolver.AddItemRequest{Structure: resolver.StructureRef{Name: "Term 1 2025"}}
	assert.Equal(t, []resolver.Field{resolver.FieldItemName, resolver.FieldAmount}, req.Missing())

	amount := bursar.Major(1500, "kes")
	req.Merge(resolver.Params{ItemName: "Trip", Amount: &amount})
	assert.Empty(t, req.Missing())

	req.Merge(resolver.Params{ItemName: "Swimming"})
	assert.Equal(t, "Swimming", req.ItemName)
	assert.Equal(t, "Term 1 2025", req.Structure.Name, "unset params keep earlier values")
}

func TestTermPhrasePicksStructureWithItems(t *testing.T) {
	h := newHarness(t)
	h.structure(t, "Term 3 2025", "", 2025, 3)
	h.structure(t, "Grade 5 Extras", "GRADE 5", 2025, 3, item("Lab", 2000))
	h.structure(t, "Grade 4 Package", "", 2025, 3, item("Tuition", 30000), item("Lunch", 6000))

	reply := h.say(t, "show fee items for term 3 2025")
	require.True(t, reply.ActionTaken, reply.Text)
	assert.Equal(t, resolver.IntentShowStructure, reply.Intent)
	d := reply.Data.(*feestructure.Detail)
	assert.Equal(t, "Grade 4 Package", d.Name)
	require.Len(t, reply.Blocks, 1)
	assert.Len(t, reply.Blocks[0].Rows, 3)
}

func TestEditingPrefersNamedDraft(t *testing.T) {
	h := newHarness(t)
	pkg := h.structure(t, "Grade 4 Package", "", 2026, 1, item("Tuition", 30000))
	_, err := h.b.PublishStructure(h.ctx, school, pkg.ID)
	require.NoError(t, err)
	draft := h.structure(t, "Term 1 2026", "", 2026, 1)

	reply := h.say(t, "add lunch 5000 to Term 1 2026")
	require.True(t, reply.ActionTaken, reply.Text)
	items, err := h.b.ListItems(h.ctx, school, draft.ID)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, int64(500000), items[0].Amount.Amount)

	// Reads still rank by content.
	reply = h.say(t, "show fee items for term 1 2026")
	require.True(t, reply.ActionTaken, reply.Text)
	assert.Equal(t, "Grade 4 Package", reply.Data.(*feestructure.Detail).Name)
}

func TestEditingRanksDraftsFirst(t *testing.T) {
	h := newHarness(t)
	pkg := h.structure(t, "Grade 4 Package", "", 2026, 1, item("Tuition", 30000))
	_, err := h.b.PublishStructure(h.ctx, school, pkg.ID)
	require.NoError(t, err)
	draft := h.structure(t, "Extras", "", 2026, 1)

	reply := h.say(t, "add trip 1500 to term 1 2026")
	require.True(t, reply.ActionTaken, reply.Text)
	items, err := h.b.ListItems(h.ctx, school, draft.ID)
	require.NoError(t, err)
	assert.Len(t, items, 1)
}

func TestTiedStructuresShowCandidates(t *testing.T) {
	h := newHarness(t)
	h.structure(t, "Plan A", "", 2026, 1, item("Tuition", 20000))
	h.structure(t, "Plan B", "", 2026, 1, item("Tuition", 22000))

	reply := h.say(t, "show fee items for term 1 2026")
	assert.False(t, reply.ActionTaken)
	assert.Equal(t, []resolver.Field{resolver.FieldStructureName}, reply.MissingFields)
	require.Len(t, reply.Blocks, 1)
	assert.Equal(t, resolver.BlockCandidates, reply.Blocks[0].Kind)
	assert.Len(t, reply.Blocks[0].Rows, 2)
	assert.True(t, h.pending(t))

	reply = h.say(t, "Plan B")
	require.True(t, reply.ActionTaken, reply.Text)
	assert.Equal(t, "Plan B", reply.Data.(*feestructure.Detail).Name)
	assert.False(t, h.pending(t))
}

func TestPublishAsksToConfirmDefault(t *testing.T) {
	for _, tt := range []struct {
		answer      string
		wantDefault bool
	}{
		{"yes", true},
		{"no", false},
	} {
		t.Run(tt.answer, func(t *testing.T) {
			h := newHarness(t)
			fs := h.structure(t, "Term 1 2026", "", 2026, 1, item("Tuition", 20000))

			reply := h.say(t, "publish term 1 2026")
			require.True(t, reply.ActionTaken, reply.Text)
			assert.Equal(t, []resolver.Field{resolver.FieldAnswer}, reply.MissingFields)
			assert.Contains(t, reply.Text, "default")

			p, err := h.mem.Get(h.ctx, h.conv)
			require.NoError(t, err)
			assert.Equal(t, string(resolver.IntentConfirmDefault), p.Intent)
			assert.Equal(t, []string{"answer"}, p.Missing)

			reply = h.say(t, tt.answer)
			assert.Equal(t, resolver.IntentConfirmDefault, reply.Intent)
			assert.True(t, reply.ActionTaken)
			assert.False(t, h.pending(t))

			d, err := h.b.GetStructure(h.ctx, school, fs.ID)
			require.NoError(t, err)
			assert.True(t, d.IsPublished)
			assert.Equal(t, tt.wantDefault, d.IsDefault)
		})
	}
}

func TestConfirmDefaultRepromptsOnUnclearAnswer(t *testing.T) {
	h := newHarness(t)
	h.structure(t, "Term 1 2026", "", 2026, 1, item("Tuition", 20000))
	h.say(t, "publish term 1 2026")

	reply := h.say(t, "hmm")
	assert.Equal(t, resolver.IntentConfirmDefault, reply.Intent)
	assert.Equal(t, []resolver.Field{resolver.FieldAnswer}, reply.MissingFields)
	assert.True(t, h.pending(t))
}

func TestCancelClearsPendingRequest(t *testing.T) {
	h := newHarness(t)
	h.structure(t, "Term 1 2025", "", 2025, 1)

	h.say(t, "add lunch to term 1 2025")
	require.True(t, h.pending(t))

	reply := h.say(t, "never mind")
	assert.Equal(t, resolver.IntentCancel, reply.Intent)
	assert.False(t, h.pending(t))

	reply = h.say(t, "5000")
	assert.Equal(t, resolver.IntentHelp, reply.Intent, "nothing left to continue")
	assert.Zero(t, h.counts.itemsSet)
}

func TestRecordPaymentFromOneMessage(t *testing.T) {
	h := newHarness(t)
	h.billed(t)

	reply := h.say(t, "Amina paid 5000 via mpesa ref QHX12345")
	require.True(t, reply.ActionTaken, reply.Text)
	res := reply.Data.(*bursar.PaymentResult)
	assert.Equal(t, "stu_1", res.Payment.StudentID)
	assert.Equal(t, "QHX12345", res.Payment.Reference)
	assert.Equal(t, "usr_bursar", res.Payment.PostedBy)
	assert.Equal(t, invoice.StatusPartial, res.Invoice.Status)
	assert.Contains(t, reply.Text, "KSh 20,000.00 outstanding")
}

func TestRecordPaymentAsksForMethod(t *testing.T) {
	h := newHarness(t)
	h.billed(t)

	reply := h.say(t, "record payment of 3000 for Brian Otieno")
	assert.Equal(t, []resolver.Field{resolver.FieldMethod}, reply.MissingFields)

	reply = h.say(t, "cash")
	require.True(t, reply.ActionTaken, reply.Text)
	res := reply.Data.(*bursar.PaymentResult)
	assert.Equal(t, "stu_2", res.Payment.StudentID)
	assert.Equal(t, int64(300000), res.Payment.Amount.Amount)
}

func TestUnknownStudentIsAskedAgain(t *testing.T) {
	h := newHarness(t)
	h.billed(t)

	reply := h.say(t, "Zed paid 100 cash")
	assert.False(t, reply.ActionTaken)
	assert.Equal(t, []resolver.Field{resolver.FieldStudent}, reply.MissingFields)
	assert.Contains(t, reply.Text, "Zed")

	reply = h.say(t, "Amina Njeri")
	require.True(t, reply.ActionTaken, reply.Text)
	assert.Equal(t, "stu_1", reply.Data.(*bursar.PaymentResult).Payment.StudentID)
}

func TestModelFallback(t *testing.T) {
	var calls int
	model := understanding.ClientFunc(func(context.Context, string, []understanding.Turn) (*understanding.Result, error) {
		calls++
		return &understanding.Result{
			Intent:     "record_payment",
			Entities:   map[string]string{"student": "Carol", "amount": "KSh 5,000", "method": "mpesa", "reference": "???"},
			Confidence: map[string]float64{"student": 0.9, "amount": 0.8},
		}, nil
	})
	h := newHarness(t, withModel(model))
	h.billed(t)

	reply := h.say(t, "Carol ameleta elfu tano")
	require.True(t, reply.ActionTaken, reply.Text)
	assert.Equal(t, 1, calls)
	res := reply.Data.(*bursar.PaymentResult)
	assert.Equal(t, "stu_3", res.Payment.StudentID)
	assert.Equal(t, int64(500000), res.Payment.Amount.Amount)

	// Pattern matches never reach the model.
	h.say(t, "list unpaid invoices")
	assert.Equal(t, 1, calls)
}

func TestModelFailureDegrades(t *testing.T) {
	model := understanding.ClientFunc(func(context.Context, string, []understanding.Turn) (*understanding.Result, error) {
		return nil, errors.New("connection refused")
	})
	h := newHarness(t, withModel(model))

	reply := h.say(t, "habari yako")
	assert.Equal(t, resolver.IntentHelp, reply.Intent)
	assert.NotEmpty(t, reply.Suggestions)
}

func TestGuidedErrors(t *testing.T) {
	h := newHarness(t)

	reply := h.say(t, "generate invoices for term 1 2026")
	assert.False(t, reply.ActionTaken)
	assert.Contains(t, reply.Text, "no published default")
	assert.NotContains(t, reply.Text, "bursar:")

	h.structure(t, "Empty", "", 2026, 2)
	reply = h.say(t, "publish Empty")
	assert.Equal(t, resolver.IntentPublishStructure, reply.Intent)
	assert.Contains(t, reply.Text, "no items")
}

func TestListUnpaid(t *testing.T) {
	h := newHarness(t)
	h.billed(t)

	reply := h.say(t, "list unpaid invoices for grade 4")
	require.True(t, reply.ActionTaken, reply.Text)
	views := reply.Data.([]*invoice.View)
	assert.Len(t, views, 2)
	assert.Contains(t, reply.Text, "KSh 50,000.00")
	require.Len(t, reply.Blocks, 1)
	var names []string
	for _, row := range reply.Blocks[0].Rows {
		names = append(names, row[0])
	}
	assert.ElementsMatch(t, []string{"Amina Njeri", "Brian Otieno"}, names)
}

func TestHandleRequiresScope(t *testing.T) {
	h := newHarness(t)

	_, err := h.r.Handle(h.ctx, resolver.Message{ConversationID: "c", Text: "list fee structures"})
	assert.ErrorIs(t, err, bursar.ErrMissingScope)

	ctx := bursar.WithScope(h.ctx, school, "usr_1")
	reply, err := h.r.Handle(ctx, resolver.Message{ConversationID: "c", Text: "list fee structures"})
	require.NoError(t, err)
	assert.Equal(t, resolver.IntentListStructures, reply.Intent)
}

func TestConversationTurnsAreEmitted(t *testing.T) {
	h := newHarness(t)
	h.structure(t, "Term 1 2025", "", 2025, 1)

	h.say(t, "add lunch to term 1 2025")
	h.say(t, "5000")

	h.counts.mu.Lock()
	defer h.counts.mu.Unlock()
	assert.Equal(t, 2, h.counts.turns)
	assert.Equal(t, 1, h.counts.completed)
}

func TestRedisBackedConversation(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	h := newHarness(t, withMemory(entitymem.NewRedis(client, time.Minute)))
	h.structure(t, "Term 1 2025", "", 2025, 1)

	h.say(t, "add lunch to term 1 2025")
	assert.True(t, mr.Exists("bursar:conv:"+h.conv))

	mr.FastForward(2 * time.Minute)
	reply := h.say(t, "5000")
	assert.Equal(t, resolver.IntentHelp, reply.Intent, "expired request is forgotten")
}
