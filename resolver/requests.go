package resolver

import (
	"fmt"

	"github.com/xraph/bursar/feestructure"
	"github.com/xraph/bursar/id"
	"github.com/xraph/bursar/invoice"
	"github.com/xraph/bursar/payment"
	"github.com/xraph/bursar/types"
)

// Intent is what the user asked for.
type Intent string

const (
	IntentCreateStructure  Intent = "create_fee_structure"
	IntentListStructures   Intent = "list_fee_structures"
	IntentShowStructure    Intent = "show_fee_structure"
	IntentAddItem          Intent = "add_fee_item"
	IntentRemoveItem       Intent = "remove_fee_item"
	IntentPublishStructure Intent = "publish_fee_structure"
	IntentSetDefault       Intent = "set_default_structure"
	IntentConfirmDefault   Intent = "confirm_default"
	IntentGenerateInvoices Intent = "generate_invoices"
	IntentIssueInvoices    Intent = "issue_invoices"
	IntentListInvoices     Intent = "list_invoices"
	IntentListUnpaid       Intent = "list_unpaid_invoices"
	IntentShowStudent      Intent = "show_student_invoice"
	IntentRecordPayment    Intent = "record_payment"
	IntentCancelInvoice    Intent = "cancel_invoice"

	// Conversation control, never persisted.
	IntentCancel  Intent = "cancel"
	IntentHelp    Intent = "help"
	IntentUnknown Intent = "unknown"
)

// Intents lists every actionable intent, in the order offered to the model.
var Intents = []Intent{
	IntentCreateStructure, IntentListStructures, IntentShowStructure,
	IntentAddItem, IntentRemoveItem, IntentPublishStructure, IntentSetDefault,
	IntentConfirmDefault, IntentGenerateInvoices, IntentIssueInvoices,
	IntentListInvoices, IntentListUnpaid, IntentShowStudent,
	IntentRecordPayment, IntentCancelInvoice,
}

// Request is the typed parameter set of one intent. Missing lists the
// required fields that are still empty.
type Request interface {
	Intent() Intent
	// Fields are the parameters this intent reads from a message.
	Fields() []Field
	Missing() []Field
	// Merge overwrites fields with the non-zero values of p.
	Merge(p Params)
	clear(f Field)
}

// NewRequest returns an empty request for intent.
func NewRequest(intent Intent) (Request, error) {
	switch intent {
	case IntentCreateStructure:
		return &CreateStructureRequest{}, nil
	case IntentListStructures:
		return &ListStructuresRequest{}, nil
	case IntentShowStructure:
		return &ShowStructureRequest{}, nil
	case IntentAddItem:
		return &AddItemRequest{}, nil
	case IntentRemoveItem:
		return &RemoveItemRequest{}, nil
	case IntentPublishStructure:
		return &PublishStructureRequest{}, nil
	case IntentSetDefault:
		return &SetDefaultRequest{}, nil
	case IntentConfirmDefault:
		return &ConfirmDefaultRequest{}, nil
	case IntentGenerateInvoices:
		return &GenerateInvoicesRequest{}, nil
	case IntentIssueInvoices:
		return &IssueInvoicesRequest{}, nil
	case IntentListInvoices:
		return &ListInvoicesRequest{}, nil
	case IntentListUnpaid:
		return &ListUnpaidRequest{}, nil
	case IntentShowStudent:
		return &ShowStudentInvoiceRequest{}, nil
	case IntentRecordPayment:
		return &RecordPaymentRequest{}, nil
	case IntentCancelInvoice:
		return &CancelInvoiceRequest{}, nil
	}
	return nil, fmt.Errorf("resolver: unknown intent %q", intent)
}

// StructureRef is how the user named a fee structure: by name, by term,
// or both.
type StructureRef struct {
	Name string `json:"name,omitempty"`
	Year int    `json:"year,omitempty"`
	Term int    `json:"term,omitempty"`
}

func (r StructureRef) empty() bool { return r.Name == "" && (r.Year == 0 || r.Term == 0) }

func (r *StructureRef) merge(p Params) {
	if p.StructureName != "" {
		r.Name = p.StructureName
	}
	if p.Year != 0 {
		r.Year = p.Year
	}
	if p.Term != 0 {
		r.Term = p.Term
	}
}

var structureFields = []Field{FieldStructureName, FieldYear, FieldTerm}

// Period is an optional (year, term); zero means the current term.
type Period struct {
	Year int `json:"year,omitempty"`
	Term int `json:"term,omitempty"`
}

func (p *Period) merge(in Params) {
	if in.Year != 0 {
		p.Year = in.Year
	}
	if in.Term != 0 {
		p.Term = in.Term
	}
}

func (p *Period) clear(f Field) {
	switch f {
	case FieldYear:
		p.Year = 0
	case FieldTerm:
		p.Term = 0
	}
}

func missing(checks ...any) []Field {
	out := []Field{}
	for i := 0; i+1 < len(checks); i += 2 {
		if checks[i+1].(bool) {
			out = append(out, checks[i].(Field))
		}
	}
	return out
}

// ──────────────────────────────────────────────────
// Catalog
// ──────────────────────────────────────────────────

type CreateStructureRequest struct {
	Name  string `json:"name,omitempty"`
	Level string `json:"level,omitempty"`
	Year  int    `json:"year,omitempty"`
	Term  int    `json:"term,omitempty"`
}

func (r *CreateStructureRequest) Intent() Intent { return IntentCreateStructure }
func (r *CreateStructureRequest) Fields() []Field {
	return []Field{FieldStructureName, FieldLevel, FieldYear, FieldTerm}
}
func (r *CreateStructureRequest) Missing() []Field {
	return missing(FieldYear, r.Year == 0, FieldTerm, r.Term == 0)
}
func (r *CreateStructureRequest) Merge(p Params) {
	if p.StructureName != "" {
		r.Name = p.StructureName
	}
	if p.Level != "" {
		r.Level = p.Level
	}
	if p.Year != 0 {
		r.Year = p.Year
	}
	if p.Term != 0 {
		r.Term = p.Term
	}
}
func (r *CreateStructureRequest) clear(f Field) {
	switch f {
	case FieldStructureName:
		r.Name = ""
	case FieldYear:
		r.Year = 0
	case FieldTerm:
		r.Term = 0
	}
}

type ListStructuresRequest struct {
	Period
}

func (r *ListStructuresRequest) Intent() Intent   { return IntentListStructures }
func (r *ListStructuresRequest) Fields() []Field  { return []Field{FieldYear, FieldTerm} }
func (r *ListStructuresRequest) Missing() []Field { return []Field{} }
func (r *ListStructuresRequest) Merge(p Params)   { r.Period.merge(p) }
func (r *ListStructuresRequest) clear(f Field)    { r.Period.clear(f) }

type ShowStructureRequest struct {
	Structure StructureRef `json:"structure"`
}

func (r *ShowStructureRequest) Intent() Intent  { return IntentShowStructure }
func (r *ShowStructureRequest) Fields() []Field { return structureFields }
func (r *ShowStructureRequest) Missing() []Field {
	return missing(FieldStructureName, r.Structure.empty())
}
func (r *ShowStructureRequest) Merge(p Params) { r.Structure.merge(p) }
func (r *ShowStructureRequest) clear(Field)    { r.Structure = StructureRef{} }

type AddItemRequest struct {
	Structure StructureRef          `json:"structure"`
	ItemName  string                `json:"item_name,omitempty"`
	Amount    *types.Money          `json:"amount,omitempty"`
	Category  feestructure.Category `json:"category,omitempty"`
	Class     string                `json:"class,omitempty"`
}

func (r *AddItemRequest) Intent() Intent { return IntentAddItem }
func (r *AddItemRequest) Fields() []Field {
	return []Field{FieldStructureName, FieldYear, FieldTerm, FieldItemName, FieldAmount, FieldCategory, FieldClass}
}
func (r *AddItemRequest) Missing() []Field {
	return missing(
		FieldStructureName, r.Structure.empty(),
		FieldItemName, r.ItemName == "",
		FieldAmount, r.Amount == nil,
	)
}
func (r *AddItemRequest) Merge(p Params) {
	r.Structure.merge(p)
	if p.ItemName != "" {
		r.ItemName = p.ItemName
	}
	if p.Amount != nil {
		r.Amount = p.Amount
	}
	if p.Category != "" {
		r.Category = p.Category
	}
	if p.Class != "" {
		r.Class = p.Class
	}
}
func (r *AddItemRequest) clear(f Field) {
	switch f {
	case FieldStructureName, FieldYear, FieldTerm:
		r.Structure = StructureRef{}
	case FieldItemName:
		r.ItemName = ""
	case FieldAmount:
		r.Amount = nil
	case FieldClass:
		r.Class = ""
	}
}

type RemoveItemRequest struct {
	Structure StructureRef `json:"structure"`
	ItemName  string       `json:"item_name,omitempty"`
	Class     string       `json:"class,omitempty"`
}

func (r *RemoveItemRequest) Intent() Intent { return IntentRemoveItem }
func (r *RemoveItemRequest) Fields() []Field {
	return []Field{FieldStructureName, FieldYear, FieldTerm, FieldItemName, FieldClass}
}
func (r *RemoveItemRequest) Missing() []Field {
	return missing(FieldStructureName, r.Structure.empty(), FieldItemName, r.ItemName == "")
}
func (r *RemoveItemRequest) Merge(p Params) {
	r.Structure.merge(p)
	if p.ItemName != "" {
		r.ItemName = p.ItemName
	}
	if p.Class != "" {
		r.Class = p.Class
	}
}
func (r *RemoveItemRequest) clear(f Field) {
	switch f {
	case FieldStructureName, FieldYear, FieldTerm:
		r.Structure = StructureRef{}
	case FieldItemName:
		r.ItemName = ""
	case FieldClass:
		r.Class = ""
	}
}

type PublishStructureRequest struct {
	Structure StructureRef `json:"structure"`
}

func (r *PublishStructureRequest) Intent() Intent  { return IntentPublishStructure }
func (r *PublishStructureRequest) Fields() []Field { return structureFields }
func (r *PublishStructureRequest) Missing() []Field {
	return missing(FieldStructureName, r.Structure.empty())
}
func (r *PublishStructureRequest) Merge(p Params) { r.Structure.merge(p) }
func (r *PublishStructureRequest) clear(Field)    { r.Structure = StructureRef{} }

type SetDefaultRequest struct {
	Structure StructureRef `json:"structure"`
}

func (r *SetDefaultRequest) Intent() Intent  { return IntentSetDefault }
func (r *SetDefaultRequest) Fields() []Field { return structureFields }
func (r *SetDefaultRequest) Missing() []Field {
	return missing(FieldStructureName, r.Structure.empty())
}
func (r *SetDefaultRequest) Merge(p Params) { r.Structure.merge(p) }
func (r *SetDefaultRequest) clear(Field)    { r.Structure = StructureRef{} }

// ConfirmDefaultRequest follows a publish: the structure is already
// known, only the yes/no answer is asked.
type ConfirmDefaultRequest struct {
	StructureID id.FeeStructureID `json:"structure_id"`
	Name        string            `json:"name,omitempty"`
	Answer      *bool             `json:"answer,omitempty"`
}

func (r *ConfirmDefaultRequest) Intent() Intent   { return IntentConfirmDefault }
func (r *ConfirmDefaultRequest) Fields() []Field  { return []Field{FieldAnswer} }
func (r *ConfirmDefaultRequest) Missing() []Field { return missing(FieldAnswer, r.Answer == nil) }
func (r *ConfirmDefaultRequest) Merge(p Params) {
	if p.Answer != nil {
		r.Answer = p.Answer
	}
}
func (r *ConfirmDefaultRequest) clear(Field) { r.Answer = nil }

// ──────────────────────────────────────────────────
// Billing
// ──────────────────────────────────────────────────

type GenerateInvoicesRequest struct {
	Period
	Class string `json:"class,omitempty"`
}

func (r *GenerateInvoicesRequest) Intent() Intent { return IntentGenerateInvoices }
func (r *GenerateInvoicesRequest) Fields() []Field {
	return []Field{FieldYear, FieldTerm, FieldClass}
}
func (r *GenerateInvoicesRequest) Missing() []Field { return []Field{} }
func (r *GenerateInvoicesRequest) Merge(p Params) {
	r.Period.merge(p)
	if p.Class != "" {
		r.Class = p.Class
	}
}
func (r *GenerateInvoicesRequest) clear(f Field) {
	if f == FieldClass {
		r.Class = ""
	}
	r.Period.clear(f)
}

type IssueInvoicesRequest struct {
	Period
	Class string `json:"class,omitempty"`
}

func (r *IssueInvoicesRequest) Intent() Intent   { return IntentIssueInvoices }
func (r *IssueInvoicesRequest) Fields() []Field  { return []Field{FieldYear, FieldTerm, FieldClass} }
func (r *IssueInvoicesRequest) Missing() []Field { return []Field{} }
func (r *IssueInvoicesRequest) Merge(p Params) {
	r.Period.merge(p)
	if p.Class != "" {
		r.Class = p.Class
	}
}
func (r *IssueInvoicesRequest) clear(f Field) {
	if f == FieldClass {
		r.Class = ""
	}
	r.Period.clear(f)
}

type ListInvoicesRequest struct {
	Period
	Class  string         `json:"class,omitempty"`
	Status invoice.Status `json:"status,omitempty"`
}

func (r *ListInvoicesRequest) Intent() Intent { return IntentListInvoices }
func (r *ListInvoicesRequest) Fields() []Field {
	return []Field{FieldYear, FieldTerm, FieldClass, FieldStatus}
}
func (r *ListInvoicesRequest) Missing() []Field { return []Field{} }
func (r *ListInvoicesRequest) Merge(p Params) {
	r.Period.merge(p)
	if p.Class != "" {
		r.Class = p.Class
	}
	if p.Status != "" {
		r.Status = p.Status
	}
}
func (r *ListInvoicesRequest) clear(f Field) {
	switch f {
	case FieldClass:
		r.Class = ""
	case FieldStatus:
		r.Status = ""
	}
	r.Period.clear(f)
}

type ListUnpaidRequest struct {
	Period
	Class string `json:"class,omitempty"`
}

func (r *ListUnpaidRequest) Intent() Intent   { return IntentListUnpaid }
func (r *ListUnpaidRequest) Fields() []Field  { return []Field{FieldYear, FieldTerm, FieldClass} }
func (r *ListUnpaidRequest) Missing() []Field { return []Field{} }
func (r *ListUnpaidRequest) Merge(p Params) {
	r.Period.merge(p)
	if p.Class != "" {
		r.Class = p.Class
	}
}
func (r *ListUnpaidRequest) clear(f Field) {
	if f == FieldClass {
		r.Class = ""
	}
	r.Period.clear(f)
}

type ShowStudentInvoiceRequest struct {
	Period
	Student string `json:"student,omitempty"`
}

func (r *ShowStudentInvoiceRequest) Intent() Intent { return IntentShowStudent }
func (r *ShowStudentInvoiceRequest) Fields() []Field {
	return []Field{FieldStudent, FieldYear, FieldTerm}
}
func (r *ShowStudentInvoiceRequest) Missing() []Field {
	return missing(FieldStudent, r.Student == "")
}
func (r *ShowStudentInvoiceRequest) Merge(p Params) {
	r.Period.merge(p)
	if p.Student != "" {
		r.Student = p.Student
	}
}
func (r *ShowStudentInvoiceRequest) clear(f Field) {
	if f == FieldStudent {
		r.Student = ""
	}
	r.Period.clear(f)
}

type RecordPaymentRequest struct {
	Period
	Student   string         `json:"student,omitempty"`
	Amount    *types.Money   `json:"amount,omitempty"`
	Method    payment.Method `json:"method,omitempty"`
	Reference string         `json:"reference,omitempty"`
}

func (r *RecordPaymentRequest) Intent() Intent { return IntentRecordPayment }
func (r *RecordPaymentRequest) Fields() []Field {
	return []Field{FieldStudent, FieldAmount, FieldMethod, FieldReference, FieldYear, FieldTerm}
}
func (r *RecordPaymentRequest) Missing() []Field {
	return missing(
		FieldStudent, r.Student == "",
		FieldAmount, r.Amount == nil || !r.Amount.IsPositive(),
		FieldMethod, r.Method == "",
	)
}
func (r *RecordPaymentRequest) Merge(p Params) {
	r.Period.merge(p)
	if p.Student != "" {
		r.Student = p.Student
	}
	if p.Amount != nil {
		r.Amount = p.Amount
	}
	if p.Method != "" {
		r.Method = p.Method
	}
	if p.Reference != "" {
		r.Reference = p.Reference
	}
}
func (r *RecordPaymentRequest) clear(f Field) {
	switch f {
	case FieldStudent:
		r.Student = ""
	case FieldAmount:
		r.Amount = nil
	case FieldMethod:
		r.Method = ""
	case FieldReference:
		r.Reference = ""
	}
	r.Period.clear(f)
}

type CancelInvoiceRequest struct {
	Period
	Student string `json:"student,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

func (r *CancelInvoiceRequest) Intent() Intent { return IntentCancelInvoice }
func (r *CancelInvoiceRequest) Fields() []Field {
	return []Field{FieldStudent, FieldYear, FieldTerm, FieldReason}
}
func (r *CancelInvoiceRequest) Missing() []Field {
	return missing(FieldStudent, r.Student == "")
}
func (r *CancelInvoiceRequest) Merge(p Params) {
	r.Period.merge(p)
	if p.Student != "" {
		r.Student = p.Student
	}
	if p.Reason != "" {
		r.Reason = p.Reason
	}
}
func (r *CancelInvoiceRequest) clear(f Field) {
	switch f {
	case FieldStudent:
		r.Student = ""
	case FieldReason:
		r.Reason = ""
	}
	r.Period.clear(f)
}
