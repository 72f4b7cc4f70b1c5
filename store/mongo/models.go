package mongo

import (
	"strings"
	"time"

	"github.com/xraph/grove"

	"github.com/xraph/bursar/feestructure"
	"github.com/xraph/bursar/id"
	"github.com/xraph/bursar/invoice"
	"github.com/xraph/bursar/payment"
	"github.com/xraph/bursar/types"
)

// ==================== Fee structure models ====================

type structureModel struct {
	grove.BaseModel `grove:"table:bursar_fee_structures"`

	ID          string     `grove:"id,pk" bson:"_id"`
	SchoolID    string     `grove:"school_id" bson:"school_id"`
	Name        string     `grove:"name" bson:"name"`
	NameLower   string     `grove:"name_lower" bson:"name_lower"`
	Level       string     `grove:"level" bson:"level"`
	Year        int        `grove:"year" bson:"year"`
	Term        int        `grove:"term" bson:"term"`
	IsDefault   bool       `grove:"is_default" bson:"is_default"`
	IsPublished bool       `grove:"is_published" bson:"is_published"`
	PublishedAt *time.Time `grove:"published_at" bson:"published_at,omitempty"`
	CreatedAt   time.Time  `grove:"created_at" bson:"created_at"`
	UpdatedAt   time.Time  `grove:"updated_at" bson:"updated_at"`
}

func toStructureModel(fs *feestructure.FeeStructure) *structureModel {
	return &structureModel{
		ID:          fs.ID.String(),
		SchoolID:    fs.SchoolID,
		Name:        fs.Name,
		NameLower:   strings.ToLower(fs.Name),
		Level:       fs.Level,
		Year:        fs.Year,
		Term:        fs.Term,
		IsDefault:   fs.IsDefault,
		IsPublished: fs.IsPublished,
		PublishedAt: fs.PublishedAt,
		CreatedAt:   fs.CreatedAt,
		UpdatedAt:   fs.UpdatedAt,
	}
}

func fromStructureModel(m *structureModel) (*feestructure.FeeStructure, error) {
	structureID, err := id.ParseFeeStructureID(m.ID)
	if err != nil {
		return nil, err
	}
	return &feestructure.FeeStructure{
		Entity:      types.Entity{CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt},
		ID:          structureID,
		SchoolID:    m.SchoolID,
		Name:        m.Name,
		Level:       m.Level,
		Year:        m.Year,
		Term:        m.Term,
		IsDefault:   m.IsDefault,
		IsPublished: m.IsPublished,
		PublishedAt: m.PublishedAt,
	}, nil
}

// ==================== Fee item models ====================

type itemModel struct {
	grove.BaseModel `grove:"table:bursar_fee_items"`

	ID           string    `grove:"id,pk" bson:"_id"`
	SchoolID     string    `grove:"school_id" bson:"school_id"`
	StructureID  string    `grove:"structure_id" bson:"structure_id"`
	ClassID      string    `grove:"class_id" bson:"class_id"`
	ItemName     string    `grove:"item_name" bson:"item_name"`
	NameLower    string    `grove:"name_lower" bson:"name_lower"`
	Amount       int64     `grove:"amount" bson:"amount"`
	Currency     string    `grove:"currency" bson:"currency"`
	Category     string    `grove:"category" bson:"category"`
	BillingCycle string    `grove:"billing_cycle" bson:"billing_cycle"`
	IsOptional   bool      `grove:"is_optional" bson:"is_optional"`
	CreatedAt    time.Time `grove:"created_at" bson:"created_at"`
	UpdatedAt    time.Time `grove:"updated_at" bson:"updated_at"`
}

func toItemModel(it *feestructure.FeeItem) *itemModel {
	return &itemModel{
		ID:           it.ID.String(),
		SchoolID:     it.SchoolID,
		StructureID:  it.StructureID.String(),
		ClassID:      it.ClassID,
		ItemName:     it.ItemName,
		NameLower:    strings.ToLower(strings.TrimSpace(it.ItemName)),
		Amount:       it.Amount.Amount,
		Currency:     it.Amount.Currency,
		Category:     string(it.Category),
		BillingCycle: string(it.BillingCycle),
		IsOptional:   it.IsOptional,
		CreatedAt:    it.CreatedAt,
		UpdatedAt:    it.UpdatedAt,
	}
}

func fromItemModel(m *itemModel) (*feestructure.FeeItem, error) {
	itemID, err := id.ParseFeeItemID(m.ID)
	if err != nil {
		return nil, err
	}
	structureID, err := id.ParseFeeStructureID(m.StructureID)
	if err != nil {
		return nil, err
	}
	return &feestructure.FeeItem{
		Entity:       types.Entity{CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt},
		ID:           itemID,
		SchoolID:     m.SchoolID,
		StructureID:  structureID,
		ClassID:      m.ClassID,
		ItemName:     m.ItemName,
		Amount:       types.Money{Amount: m.Amount, Currency: m.Currency},
		Category:     feestructure.Category(m.Category),
		BillingCycle: feestructure.BillingCycle(m.BillingCycle),
		IsOptional:   m.IsOptional,
	}, nil
}

// ==================== Invoice models ====================

// Lines are embedded in the invoice document; they are never read alone.
type invoiceModel struct {
	grove.BaseModel `grove:"table:bursar_invoices"`

	ID           string      `grove:"id,pk" bson:"_id"`
	SchoolID     string      `grove:"school_id" bson:"school_id"`
	StudentID    string      `grove:"student_id" bson:"student_id"`
	ClassID      string      `grove:"class_id" bson:"class_id"`
	StructureID  string      `grove:"structure_id" bson:"structure_id"`
	Year         int         `grove:"year" bson:"year"`
	Term         int         `grove:"term" bson:"term"`
	Total        int64       `grove:"total" bson:"total"`
	Currency     string      `grove:"currency" bson:"currency"`
	Status       string      `grove:"status" bson:"status"`
	DueDate      time.Time   `grove:"due_date" bson:"due_date"`
	IssuedAt     *time.Time  `grove:"issued_at" bson:"issued_at,omitempty"`
	CancelledAt  *time.Time  `grove:"cancelled_at" bson:"cancelled_at,omitempty"`
	CancelReason string      `grove:"cancel_reason" bson:"cancel_reason,omitempty"`
	Lines        []lineModel `grove:"lines" bson:"lines"`
	CreatedAt    time.Time   `grove:"created_at" bson:"created_at"`
	UpdatedAt    time.Time   `grove:"updated_at" bson:"updated_at"`
}

type lineModel struct {
	ID       string `bson:"id"`
	ItemName string `bson:"item_name"`
	Amount   int64  `bson:"amount"`
	Currency string `bson:"currency"`
	Category string `bson:"category"`
}

func toInvoiceModel(inv *invoice.Invoice) *invoiceModel {
	lines := make([]lineModel, len(inv.Lines))
	for i, l := range inv.Lines {
		lines[i] = lineModel{
			ID:       l.ID.String(),
			ItemName: l.ItemName,
			Amount:   l.Amount.Amount,
			Currency: l.Amount.Currency,
			Category: string(l.Category),
		}
	}
	return &invoiceModel{
		ID:           inv.ID.String(),
		SchoolID:     inv.SchoolID,
		StudentID:    inv.StudentID,
		ClassID:      inv.ClassID,
		StructureID:  inv.StructureID.String(),
		Year:         inv.Year,
		Term:         inv.Term,
		Total:        inv.Total.Amount,
		Currency:     inv.Total.Currency,
		Status:       string(inv.Status),
		DueDate:      inv.DueDate,
		IssuedAt:     inv.IssuedAt,
		CancelledAt:  inv.CancelledAt,
		CancelReason: inv.CancelReason,
		Lines:        lines,
		CreatedAt:    inv.CreatedAt,
		UpdatedAt:    inv.UpdatedAt,
	}
}

func fromInvoiceModel(m *invoiceModel) (*invoice.Invoice, error) {
	invID, err := id.ParseInvoiceID(m.ID)
	if err != nil {
		return nil, err
	}
	structureID, err := id.ParseFeeStructureID(m.StructureID)
	if err != nil {
		return nil, err
	}
	lines := make([]invoice.Line, len(m.Lines))
	for i, lm := range m.Lines {
		lineID, err := id.ParseInvoiceLineID(lm.ID)
		if err != nil {
			return nil, err
		}
		lines[i] = invoice.Line{
			ID:        lineID,
			InvoiceID: invID,
			ItemName:  lm.ItemName,
			Amount:    types.Money{Amount: lm.Amount, Currency: lm.Currency},
			Category:  feestructure.Category(lm.Category),
		}
	}
	return &invoice.Invoice{
		Entity:       types.Entity{CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt},
		ID:           invID,
		SchoolID:     m.SchoolID,
		StudentID:    m.StudentID,
		ClassID:      m.ClassID,
		StructureID:  structureID,
		Year:         m.Year,
		Term:         m.Term,
		Total:        types.Money{Amount: m.Total, Currency: m.Currency},
		Status:       invoice.Status(m.Status),
		DueDate:      m.DueDate,
		IssuedAt:     m.IssuedAt,
		CancelledAt:  m.CancelledAt,
		CancelReason: m.CancelReason,
		Lines:        lines,
	}, nil
}

// ==================== Payment models ====================

type paymentModel struct {
	grove.BaseModel `grove:"table:bursar_payments"`

	ID        string    `grove:"id,pk" bson:"_id"`
	SchoolID  string    `grove:"school_id" bson:"school_id"`
	InvoiceID string    `grove:"invoice_id" bson:"invoice_id"`
	StudentID string    `grove:"student_id" bson:"student_id"`
	Amount    int64     `grove:"amount" bson:"amount"`
	Currency  string    `grove:"currency" bson:"currency"`
	Method    string    `grove:"method" bson:"method"`
	Reference string    `grove:"reference" bson:"reference,omitempty"`
	PostedBy  string    `grove:"posted_by" bson:"posted_by,omitempty"`
	PostedAt  time.Time `grove:"posted_at" bson:"posted_at"`
}

func toPaymentModel(p *payment.Payment) *paymentModel {
	return &paymentModel{
		ID:        p.ID.String(),
		SchoolID:  p.SchoolID,
		InvoiceID: p.InvoiceID.String(),
		StudentID: p.StudentID,
		Amount:    p.Amount.Amount,
		Currency:  p.Amount.Currency,
		Method:    string(p.Method),
		Reference: p.Reference,
		PostedBy:  p.PostedBy,
		PostedAt:  p.PostedAt,
	}
}

func fromPaymentModel(m *paymentModel) (*payment.Payment, error) {
	payID, err := id.ParsePaymentID(m.ID)
	if err != nil {
		return nil, err
	}
	invID, err := id.ParseInvoiceID(m.InvoiceID)
	if err != nil {
		return nil, err
	}
	return &payment.Payment{
		ID:        payID,
		SchoolID:  m.SchoolID,
		InvoiceID: invID,
		StudentID: m.StudentID,
		Amount:    types.Money{Amount: m.Amount, Currency: m.Currency},
		Method:    payment.Method(m.Method),
		Reference: m.Reference,
		PostedBy:  m.PostedBy,
		PostedAt:  m.PostedAt,
	}, nil
}

// ==================== Term locks ====================

type termLockModel struct {
	grove.BaseModel `grove:"table:bursar_term_locks"`

	ID      string `grove:"id,pk" bson:"_id"`
	Version int64  `grove:"version" bson:"version"`
}
