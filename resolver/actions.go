package resolver

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/xraph/bursar"
	"github.com/xraph/bursar/feestructure"
	"github.com/xraph/bursar/id"
	"github.com/xraph/bursar/invoice"
	"github.com/xraph/bursar/payment"
	"github.com/xraph/bursar/types"
)

// execute runs a complete request.
func (r *Resolver) execute(ctx context.Context, msg Message, req Request) (*Reply, error) {
	school := msg.SchoolID
	switch q := req.(type) {
	case *CreateStructureRequest:
		return r.createStructure(ctx, school, q)
	case *ListStructuresRequest:
		return r.listStructures(ctx, school, q)
	case *ShowStructureRequest:
		return r.showStructure(ctx, school, q)
	case *AddItemRequest:
		return r.addItem(ctx, school, q)
	case *RemoveItemRequest:
		return r.removeItem(ctx, school, q)
	case *PublishStructureRequest:
		return r.publish(ctx, msg, q)
	case *SetDefaultRequest:
		fs, err := r.findStructure(ctx, school, q.Structure, forReading)
		if err != nil {
			return nil, err
		}
		return r.setDefault(ctx, school, fs.ID, IntentSetDefault)
	case *ConfirmDefaultRequest:
		if !*q.Answer {
			return &Reply{
				Intent:      IntentConfirmDefault,
				Text:        fmt.Sprintf("Okay, %s is published but the default is unchanged.", q.Name),
				ActionTaken: true,
			}, nil
		}
		return r.setDefault(ctx, school, q.StructureID, IntentConfirmDefault)
	case *GenerateInvoicesRequest:
		return r.generate(ctx, school, q)
	case *IssueInvoicesRequest:
		return r.issue(ctx, school, q)
	case *ListInvoicesRequest:
		return r.listInvoices(ctx, school, q)
	case *ListUnpaidRequest:
		return r.listUnpaid(ctx, school, q)
	case *ShowStudentInvoiceRequest:
		return r.showStudent(ctx, school, q)
	case *RecordPaymentRequest:
		return r.recordPayment(ctx, msg, q)
	case *CancelInvoiceRequest:
		return r.cancelInvoice(ctx, school, q)
	}
	return nil, fmt.Errorf("resolver: no action for %T", req)
}

// ──────────────────────────────────────────────────
// Catalog
// ──────────────────────────────────────────────────

func (r *Resolver) createStructure(ctx context.Context, school string, q *CreateStructureRequest) (*Reply, error) {
	name := q.Name
	if name == "" {
		name = fmt.Sprintf("Term %d %d", q.Term, q.Year)
		if lvl := feestructure.NormalizeLevel(q.Level); lvl != feestructure.LevelAll {
			name = fmt.Sprintf("%s Term %d %d", titleCase(q.Level), q.Term, q.Year)
		}
	}
	fs, err := r.b.CreateStructure(ctx, school, bursar.CreateStructureInput{
		Name:  name,
		Level: levelOf(q.Level),
		Year:  q.Year,
		Term:  q.Term,
	})
	if err != nil {
		return nil, err
	}
	return &Reply{
		Intent:      IntentCreateStructure,
		Text:        fmt.Sprintf("Created fee structure %q for Term %d %d. Add fee items to it, then publish it.", fs.Name, fs.Term, fs.Year),
		ActionTaken: true,
		Data:        fs,
		Suggestions: []string{
			fmt.Sprintf("Add tuition 25000 to %s", fs.Name),
			fmt.Sprintf("Show fee items for %s", fs.Name),
		},
	}, nil
}

// levelOf maps "all", "all levels" and "" to the catch-all level.
func levelOf(s string) string {
	l := strings.ToUpper(strings.TrimSpace(s))
	if l == "" || strings.HasPrefix(l, "ALL") {
		return feestructure.LevelAll
	}
	return l
}

func (r *Resolver) listStructures(ctx context.Context, school string, q *ListStructuresRequest) (*Reply, error) {
	summaries, err := r.b.ListStructures(ctx, school, bursar.StructureFilter{Year: q.Year, Term: q.Term})
	if err != nil {
		return nil, err
	}
	if len(summaries) == 0 {
		return &Reply{
			Intent:      IntentListStructures,
			Text:        "There are no fee structures yet.",
			ActionTaken: true,
			Data:        summaries,
			Suggestions: []string{"Create a fee structure for term 1 2025"},
		}, nil
	}
	return &Reply{
		Intent:      IntentListStructures,
		Text:        fmt.Sprintf("Found %d fee structure(s).", len(summaries)),
		Blocks:      []Block{structureTable("Fee structures", summaries)},
		ActionTaken: true,
		Data:        summaries,
	}, nil
}

func (r *Resolver) showStructure(ctx context.Context, school string, q *ShowStructureRequest) (*Reply, error) {
	s, err := r.findStructure(ctx, school, q.Structure, forReading)
	if err != nil {
		return nil, err
	}
	d, err := r.b.GetStructure(ctx, school, s.ID)
	if err != nil {
		return nil, err
	}
	text := fmt.Sprintf("%s has %d item(s) totalling %s.", d.Name, len(d.Items), d.TotalAmount)
	if len(d.Items) == 0 {
		text = fmt.Sprintf("%s has no fee items yet.", d.Name)
	}
	return &Reply{
		Intent:      IntentShowStructure,
		Text:        text,
		Blocks:      []Block{itemTable(d, func(classID string) string { return r.className(ctx, school, classID) })},
		ActionTaken: true,
		Data:        d,
	}, nil
}

func (r *Resolver) addItem(ctx context.Context, school string, q *AddItemRequest) (*Reply, error) {
	s, err := r.findStructure(ctx, school, q.Structure, forEditing)
	if err != nil {
		return nil, err
	}
	classID, err := r.findClass(ctx, school, q.Class)
	if err != nil {
		return nil, err
	}
	category := q.Category
	if category == "" && strings.Contains(strings.ToLower(q.ItemName), "tuition") {
		category = feestructure.CategoryTuition
	}
	item, created, err := r.b.AddItem(ctx, school, s.ID, bursar.ItemInput{
		ClassID:  classID,
		ItemName: q.ItemName,
		Amount:   *q.Amount,
		Category: category,
	})
	if err != nil {
		return nil, err
	}
	verb := "Added"
	if !created {
		verb = "Updated"
	}
	scope := ""
	if classID != "" {
		scope = " for " + r.className(ctx, school, classID)
	}
	return &Reply{
		Intent:      IntentAddItem,
		Text:        fmt.Sprintf("%s %s (%s)%s in %s.", verb, item.ItemName, item.Amount, scope, s.Name),
		ActionTaken: true,
		Data:        item,
		Suggestions: []string{fmt.Sprintf("Show fee items for %s", s.Name), fmt.Sprintf("Publish %s", s.Name)},
	}, nil
}

func (r *Resolver) removeItem(ctx context.Context, school string, q *RemoveItemRequest) (*Reply, error) {
	s, err := r.findStructure(ctx, school, q.Structure, forEditing)
	if err != nil {
		return nil, err
	}
	classID, err := r.findClass(ctx, school, q.Class)
	if err != nil {
		return nil, err
	}
	item, err := r.b.DeleteItemByName(ctx, school, s.ID, classID, q.ItemName)
	if err != nil {
		return nil, err
	}
	return &Reply{
		Intent:      IntentRemoveItem,
		Text:        fmt.Sprintf("Removed %s from %s.", item.ItemName, s.Name),
		ActionTaken: true,
		Data:        item,
	}, nil
}

// publish publishes the structure and, unless it already is the default,
// asks whether to make it one.
func (r *Resolver) publish(ctx context.Context, msg Message, q *PublishStructureRequest) (*Reply, error) {
	s, err := r.findStructure(ctx, msg.SchoolID, q.Structure, forEditing)
	if err != nil {
		return nil, err
	}
	fs, err := r.b.PublishStructure(ctx, msg.SchoolID, s.ID)
	if err != nil {
		return nil, err
	}
	reply := &Reply{
		Intent:      IntentPublishStructure,
		Text:        fmt.Sprintf("Published %s. Its items can no longer be changed.", fs.Name),
		ActionTaken: true,
		Data:        fs,
	}
	if fs.IsDefault {
		return reply, nil
	}

	confirm := &ConfirmDefaultRequest{StructureID: fs.ID, Name: fs.Name}
	if err := r.save(ctx, msg.ConversationID, confirm); err != nil {
		return nil, err
	}
	reply.Text += fmt.Sprintf(" Make it the default for Term %d %d?", fs.Term, fs.Year)
	reply.MissingFields = []Field{FieldAnswer}
	reply.Suggestions = []string{"Yes", "No"}
	return reply, nil
}

func (r *Resolver) setDefault(ctx context.Context, school string, structureID id.FeeStructureID, intent Intent) (*Reply, error) {
	fs, err := r.b.SetDefaultStructure(ctx, school, structureID)
	if err != nil {
		return nil, err
	}
	return &Reply{
		Intent:      intent,
		Text:        fmt.Sprintf("%s is now the default fee structure for Term %d %d.", fs.Name, fs.Term, fs.Year),
		ActionTaken: true,
		Data:        fs,
		Suggestions: []string{fmt.Sprintf("Generate invoices for term %d %d", fs.Term, fs.Year)},
	}, nil
}

// ──────────────────────────────────────────────────
// Billing
// ──────────────────────────────────────────────────

func (r *Resolver) generate(ctx context.Context, school string, q *GenerateInvoicesRequest) (*Reply, error) {
	year, term, err := r.period(ctx, school, q.Period)
	if err != nil {
		return nil, err
	}
	classID, err := r.findClass(ctx, school, q.Class)
	if err != nil {
		return nil, err
	}
	res, err := r.b.GenerateInvoices(ctx, school, bursar.GenerateInput{Year: year, Term: term, ClassID: classID})
	if err != nil {
		return nil, err
	}
	text := fmt.Sprintf("Generated %d draft invoice(s) for Term %d %d from %s, totalling %s.",
		res.Created, term, year, res.Structure.Name, res.TotalAmount)
	if res.Skipped > 0 {
		text += fmt.Sprintf(" %d student(s) already had one.", res.Skipped)
	}
	return &Reply{
		Intent:      IntentGenerateInvoices,
		Text:        text,
		ActionTaken: true,
		Data:        res,
		Suggestions: []string{fmt.Sprintf("Issue invoices for term %d %d", term, year)},
	}, nil
}

func (r *Resolver) issue(ctx context.Context, school string, q *IssueInvoicesRequest) (*Reply, error) {
	year, term, err := r.period(ctx, school, q.Period)
	if err != nil {
		return nil, err
	}
	classID, err := r.findClass(ctx, school, q.Class)
	if err != nil {
		return nil, err
	}
	issued, err := r.b.BulkIssue(ctx, school, bursar.BulkIssueInput{Year: year, Term: term, ClassID: classID})
	if err != nil {
		return nil, err
	}
	return &Reply{
		Intent:      IntentIssueInvoices,
		Text:        fmt.Sprintf("Issued %d invoice(s) for Term %d %d.", len(issued), term, year),
		ActionTaken: true,
		Data:        issued,
		Suggestions: []string{fmt.Sprintf("List unpaid invoices for term %d %d", term, year)},
	}, nil
}

func (r *Resolver) listInvoices(ctx context.Context, school string, q *ListInvoicesRequest) (*Reply, error) {
	year, term, err := r.period(ctx, school, q.Period)
	if err != nil {
		return nil, err
	}
	classID, err := r.findClass(ctx, school, q.Class)
	if err != nil {
		return nil, err
	}
	f := bursar.InvoiceFilter{Year: year, Term: term, ClassID: classID}
	if q.Status != "" {
		f.Status = []invoice.Status{q.Status}
	}
	views, err := r.b.ListInvoices(ctx, school, f)
	if err != nil {
		return nil, err
	}
	title := fmt.Sprintf("Invoices, Term %d %d", term, year)
	return &Reply{
		Intent:      IntentListInvoices,
		Text:        fmt.Sprintf("Found %d invoice(s) for Term %d %d.", len(views), term, year),
		Blocks:      []Block{invoiceTable(title, views, r.studentName(ctx, school))},
		ActionTaken: true,
		Data:        views,
	}, nil
}

func (r *Resolver) listUnpaid(ctx context.Context, school string, q *ListUnpaidRequest) (*Reply, error) {
	year, term, err := r.period(ctx, school, q.Period)
	if err != nil {
		return nil, err
	}
	classID, err := r.findClass(ctx, school, q.Class)
	if err != nil {
		return nil, err
	}
	views, err := r.b.ListUnpaid(ctx, school, year, term, classID)
	if err != nil {
		return nil, err
	}
	if len(views) == 0 {
		return &Reply{
			Intent:      IntentListUnpaid,
			Text:        fmt.Sprintf("No unpaid invoices for Term %d %d.", term, year),
			ActionTaken: true,
			Data:        views,
		}, nil
	}
	outstanding := types.Zero(r.b.Currency())
	for _, v := range views {
		outstanding = outstanding.Add(v.Balance)
	}
	return &Reply{
		Intent: IntentListUnpaid,
		Text: fmt.Sprintf("%d unpaid invoice(s) for Term %d %d, %s outstanding.",
			len(views), term, year, outstanding),
		Blocks:      []Block{invoiceTable(fmt.Sprintf("Unpaid, Term %d %d", term, year), views, r.studentName(ctx, school))},
		ActionTaken: true,
		Data:        views,
	}, nil
}

func (r *Resolver) showStudent(ctx context.Context, school string, q *ShowStudentInvoiceRequest) (*Reply, error) {
	st, err := r.findStudent(ctx, school, q.Student)
	if err != nil {
		return nil, err
	}
	var view *invoice.View
	if q.Year != 0 || q.Term != 0 {
		year, term, err := r.period(ctx, school, q.Period)
		if err != nil {
			return nil, err
		}
		d, err := r.b.GetStudentInvoice(ctx, school, st.ID, year, term)
		if err != nil {
			return nil, err
		}
		view = d.View
	} else if view, err = r.latestInvoice(ctx, school, st.ID, false); err != nil {
		return nil, err
	}
	return &Reply{
		Intent:      IntentShowStudent,
		Text:        fmt.Sprintf("%s owes %s on the Term %d %d invoice (%s).", st.Name, view.Balance, view.Term, view.Year, view.Status),
		Blocks:      []Block{invoiceDetail(view, st.Name)},
		ActionTaken: true,
		Data:        view,
	}, nil
}

// latestInvoice picks the invoice a payment or question most likely means:
// the oldest one with a balance, else the newest non-cancelled one. With
// payable set, only invoices that accept payments count.
func (r *Resolver) latestInvoice(ctx context.Context, school, studentID string, payable bool) (*invoice.View, error) {
	views, err := r.b.StudentInvoices(ctx, school, studentID)
	if err != nil {
		return nil, err
	}
	var oldestOwing, newest *invoice.View
	for _, v := range views {
		if v.Status == invoice.StatusCancelled || (payable && !v.Status.AcceptsPayments()) {
			continue
		}
		if v.Balance.IsPositive() && (oldestOwing == nil || before(v, oldestOwing)) {
			oldestOwing = v
		}
		if newest == nil || before(newest, v) {
			newest = v
		}
	}
	switch {
	case oldestOwing != nil:
		return oldestOwing, nil
	case newest != nil:
		return newest, nil
	}
	return nil, bursar.ErrInvoiceNotFound
}

func before(a, b *invoice.View) bool {
	if a.Year != b.Year {
		return a.Year < b.Year
	}
	return a.Term < b.Term
}

func (r *Resolver) recordPayment(ctx context.Context, msg Message, q *RecordPaymentRequest) (*Reply, error) {
	school := msg.SchoolID
	st, err := r.findStudent(ctx, school, q.Student)
	if err != nil {
		return nil, err
	}
	var target *invoice.View
	if q.Year != 0 || q.Term != 0 {
		year, term, err := r.period(ctx, school, q.Period)
		if err != nil {
			return nil, err
		}
		d, err := r.b.GetStudentInvoice(ctx, school, st.ID, year, term)
		if err != nil {
			return nil, err
		}
		target = d.View
	} else if target, err = r.latestInvoice(ctx, school, st.ID, true); err != nil {
		return nil, err
	}

	res, err := r.b.RecordPayment(ctx, school, bursar.PaymentInput{
		InvoiceID: target.ID,
		Amount:    *q.Amount,
		Method:    q.Method,
		Reference: q.Reference,
		PostedBy:  msg.UserID,
	})
	if err != nil {
		return nil, err
	}
	v := res.Invoice
	text := fmt.Sprintf("Recorded %s %s payment for %s. The Term %d %d invoice is now %s",
		res.Payment.Amount, methodLabel(res.Payment.Method), st.Name, v.Term, v.Year, v.Status)
	switch {
	case v.Overpayment.IsPositive():
		text += fmt.Sprintf(" and overpaid by %s.", v.Overpayment)
	case v.Balance.IsPositive():
		text += fmt.Sprintf(" with %s outstanding.", v.Balance)
	default:
		text += "."
	}
	return &Reply{
		Intent:      IntentRecordPayment,
		Text:        text,
		Blocks:      []Block{invoiceDetail(v, st.Name)},
		ActionTaken: true,
		Data:        res,
	}, nil
}

func methodLabel(m payment.Method) string {
	switch m {
	case payment.MethodMpesa:
		return "M-Pesa"
	case payment.MethodBank:
		return "bank"
	case payment.MethodCash:
		return "cash"
	}
	return strings.ToLower(string(m))
}

func (r *Resolver) cancelInvoice(ctx context.Context, school string, q *CancelInvoiceRequest) (*Reply, error) {
	st, err := r.findStudent(ctx, school, q.Student)
	if err != nil {
		return nil, err
	}
	year, term, err := r.period(ctx, school, q.Period)
	if err != nil {
		return nil, err
	}
	d, err := r.b.GetStudentInvoice(ctx, school, st.ID, year, term)
	if err != nil {
		return nil, err
	}
	v, err := r.b.CancelInvoice(ctx, school, d.ID, q.Reason)
	if err != nil {
		return nil, err
	}
	return &Reply{
		Intent:      IntentCancelInvoice,
		Text:        fmt.Sprintf("Cancelled %s's Term %d %d invoice.", st.Name, v.Term, v.Year),
		ActionTaken: true,
		Data:        v,
	}, nil
}

// ──────────────────────────────────────────────────
// Replies without an action
// ──────────────────────────────────────────────────

var intentLabels = map[Intent]string{
	IntentCreateStructure:  "create the fee structure",
	IntentShowStructure:    "show the fee structure",
	IntentAddItem:          "add the fee item",
	IntentRemoveItem:       "remove the fee item",
	IntentPublishStructure: "publish the fee structure",
	IntentSetDefault:       "set the default fee structure",
	IntentConfirmDefault:   "change the default",
	IntentShowStudent:      "show the invoice",
	IntentRecordPayment:    "record the payment",
	IntentCancelInvoice:    "cancel the invoice",
}

func promptReply(req Request, missing []Field, lead string) *Reply {
	var b strings.Builder
	if lead != "" {
		b.WriteString(lead + " ")
	}
	if len(missing) == 1 {
		b.WriteString(missing[0].Prompt())
	} else {
		label := intentLabels[req.Intent()]
		if label == "" {
			label = "do that"
		}
		fmt.Fprintf(&b, "To %s I still need:", label)
		for _, f := range missing {
			b.WriteString("\n- " + f.Prompt())
		}
	}
	return &Reply{
		Intent:        req.Intent(),
		Text:          b.String(),
		Data:          req,
		MissingFields: missing,
		Suggestions:   []string{"cancel"},
	}
}

func helpReply(lead string) *Reply {
	return &Reply{
		Intent: IntentHelp,
		Text:   lead + " I can manage fee structures, generate and issue invoices, record payments and list balances.",
		Suggestions: []string{
			"Create a fee structure for term 1 2025",
			"Add tuition 25000 to Term 1 2025",
			"Generate invoices for term 1 2025",
			"Amina paid 5000 via M-Pesa ref QHX12345",
			"List unpaid invoices",
		},
	}
}

// guided turns an engine error into next steps. Unexpected errors are
// logged and never shown.
func (r *Resolver) guided(req Request, err error) *Reply {
	reply := &Reply{Intent: req.Intent()}
	var ve bursar.ValidationError
	switch {
	case errors.Is(err, bursar.ErrNoDefaultStructure):
		reply.Text = "There is no published default fee structure for that term. Create one, add its items, publish it and make it the default, then generate again."
		reply.Suggestions = []string{"List fee structures", "Create a fee structure"}
	case errors.Is(err, bursar.ErrStructureEmpty):
		reply.Text = "That fee structure has no items yet. Add at least one fee item before publishing."
		reply.Suggestions = []string{"Add tuition 25000 to it"}
	case errors.Is(err, bursar.ErrStructurePublished):
		reply.Text = "That fee structure is already published, so its items can't change. Create a new structure for the changes instead."
		reply.Suggestions = []string{"Create a fee structure"}
	case errors.Is(err, bursar.ErrStructureNotPublished):
		reply.Text = "That fee structure isn't published yet. Publish it first."
	case errors.Is(err, bursar.ErrStructureExists):
		reply.Text = "A fee structure with that name already exists for the term. Add items to it, or pick another name."
		reply.Suggestions = []string{"List fee structures"}
	case errors.Is(err, bursar.ErrItemExists):
		reply.Text = "That fee item already exists. Give it a new amount to update it instead."
	case errors.Is(err, bursar.ErrInvoicePaid):
		reply.Text = "That invoice is fully paid, so it can't be cancelled. Refund the payments first."
	case errors.Is(err, bursar.ErrInvoiceCancelled):
		reply.Text = "That invoice is cancelled. Generate a new one for the student if they should still be billed."
	case errors.Is(err, bursar.ErrInvoiceNotIssued):
		reply.Text = "That invoice is still a draft. Issue it before recording payments."
		reply.Suggestions = []string{"Issue invoices"}
	case errors.Is(err, bursar.ErrNoStudents):
		reply.Text = "There are no active students to bill for that selection."
	case errors.Is(err, bursar.ErrNoDraftInvoices):
		reply.Text = "There are no draft invoices to issue. Generate invoices first."
		reply.Suggestions = []string{"Generate invoices"}
	case errors.Is(err, bursar.ErrInvoiceNotFound):
		reply.Text = "I couldn't find an invoice for that student and term. Generate and issue invoices first."
		reply.Suggestions = []string{"Generate invoices"}
	case errors.Is(err, bursar.ErrItemNotFound):
		reply.Text = "I couldn't find that fee item in the structure."
		reply.Suggestions = []string{"Show fee items"}
	case bursar.IsNotFound(err):
		reply.Text = "I couldn't find what you referred to. Check the name and try again."
	case errors.As(err, &ve):
		reply.Text = fmt.Sprintf("The %s %s.", strings.ReplaceAll(ve.Field, "_", " "), ve.Message)
	case bursar.IsValidation(err):
		reply.Text = "Some of those details aren't valid. Please check them and try again."
	case bursar.IsConflict(err):
		reply.Text = "That already exists."
	case bursar.IsInvalidState(err):
		reply.Text = "That isn't allowed in its current state."
	default:
		r.logger.Error("resolver: action failed", "intent", req.Intent(), "error", err)
		reply.Text = "Something went wrong on my side and nothing was changed. Please try again."
	}
	return reply
}
