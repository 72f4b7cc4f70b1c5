package postgres

import (
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

	ID          string     `grove:"id,pk"`
	SchoolID    string     `grove:"school_id"`
	Name        string     `grove:"name"`
	Level       string     `grove:"level"`
	Year        int        `grove:"year"`
	Term        int        `grove:"term"`
	IsDefault   bool       `grove:"is_default"`
	IsPublished bool       `grove:"is_published"`
	PublishedAt *time.Time `grove:"published_at"`
	CreatedAt   time.Time  `grove:"created_at"`
	UpdatedAt   time.Time  `grove:"updated_at"`
}

func toStructureModel(fs *feestructure.FeeStructure) *structureModel {
	return &structureModel{
		ID:          fs.ID.String(),
		SchoolID:    fs.SchoolID,
		Name:        fs.Name,
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
		ID:          structureID,
		SchoolID:    m.SchoolID,
		Name:        m.Name,
		Level:       m.Level,
		Year:        m.Year,
		Term:        m.Term,
		IsDefault:   m.IsDefault,
		IsPublished: m.IsPublished,
		PublishedAt: m.PublishedAt,
		Entity: types.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
	}, nil
}

// ==================== Fee item models ====================

type itemModel struct {
	grove.BaseModel `grove:"table:bursar_fee_items"`

	ID           string    `grove:"id,pk"`
	SchoolID     string    `grove:"school_id"`
	StructureID  string    `grove:"structure_id"`
	ClassID      string    `grove:"class_id"`
	ItemName     string    `grove:"item_name"`
	Amount       int64     `grove:"amount"`
	Currency     string    `grove:"currency"`
	Category     string    `grove:"category"`
	BillingCycle string    `grove:"billing_cycle"`
	IsOptional   bool      `grove:"is_optional"`
	CreatedAt    time.Time `grove:"created_at"`
	UpdatedAt    time.Time `grove:"updated_at"`
}

func toItemModel(it *feestructure.FeeItem) *itemModel {
	return &itemModel{
		ID:           it.ID.String(),
		SchoolID:     it.SchoolID,
		StructureID:  it.StructureID.String(),
		ClassID:      it.ClassID,
		ItemName:     it.ItemName,
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
		ID:           itemID,
		SchoolID:     m.SchoolID,
		StructureID:  structureID,
		ClassID:      m.ClassID,
		ItemName:     m.ItemName,
		Amount:       types.Money{Amount: m.Amount, Currency: m.Currency},
		Category:     feestructure.Category(m.Category),
		BillingCycle: feestructure.BillingCycle(m.BillingCycle),
		IsOptional:   m.IsOptional,
		Entity: types.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
	}, nil
}

// ==================== Invoice models ====================

type invoiceModel struct {
	grove.BaseModel `grove:"table:bursar_invoices"`

	ID           string     `grove:"id,pk"`
	SchoolID     string     `grove:"school_id"`
	StudentID    string     `grove:"student_id"`
	ClassID      string     `grove:"class_id"`
	StructureID  string     `grove:"structure_id"`
	Year         int        `grove:"year"`
	Term         int        `grove:"term"`
	Total        int64      `grove:"total"`
	Currency     string     `grove:"currency"`
	Status       string     `grove:"status"`
	DueDate      time.Time  `grove:"due_date"`
	IssuedAt     *time.Time `grove:"issued_at"`
	CancelledAt  *time.Time `grove:"cancelled_at"`
	CancelReason string     `grove:"cancel_reason"`
	CreatedAt    time.Time  `grove:"created_at"`
	UpdatedAt    time.Time  `grove:"updated_at"`
}

func toInvoiceModel(inv *invoice.Invoice) *invoiceModel {
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
	return &invoice.Invoice{
		ID:           invID,
		SchoolID:     m.SchoolID,
		StudentID:    m.StudentID,
		ClassID:      m.ClassID,
		StructureID:  structureID,
		Year:         m.Year,
		Term:         m.Term,
		Lines:        []invoice.Line{},
		Total:        types.Money{Amount: m.Total, Currency: m.Currency},
		Status:       invoice.Status(m.Status),
		DueDate:      m.DueDate,
		IssuedAt:     m.IssuedAt,
		CancelledAt:  m.CancelledAt,
		CancelReason: m.CancelReason,
		Entity: types.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
	}, nil
}

type lineModel struct {
	grove.BaseModel `grove:"table:bursar_invoice_lines"`

	ID        string `grove:"id,pk"`
	InvoiceID string `grove:"invoice_id"`
	Position  int    `grove:"position"`
	ItemName  string `grove:"item_name"`
	Amount    int64  `grove:"amount"`
	Currency  string `grove:"currency"`
	Category  string `grove:"category"`
}

func toLineModels(inv *invoice.Invoice) []lineModel {
	lines := make([]lineModel, len(inv.Lines))
	for i, l := range inv.Lines {
		lines[i] = lineModel{
			ID:        l.ID.String(),
			InvoiceID: inv.ID.String(),
			Position:  i,
			ItemName:  l.ItemName,
			Amount:    l.Amount.Amount,
			Currency:  l.Amount.Currency,
			Category:  string(l.Category),
		}
	}
	return lines
}

func fromLineModel(m *lineModel) (invoice.Line, error) {
	lineID, err := id.ParseInvoiceLineID(m.ID)
	if err != nil {
		return invoice.Line{}, err
	}
	invID, err := id.ParseInvoiceID(m.InvoiceID)
	if err != nil {
		return invoice.Line{}, err
	}
	return invoice.Line{
		ID:        lineID,
		InvoiceID: invID,
		ItemName:  m.ItemName,
		Amount:    types.Money{Amount: m.Amount, Currency: m.Currency},
		Category:  feestructure.Category(m.Category),
	}, nil
}

// ==================== Payment models ====================

type paymentModel struct {
	grove.BaseModel `grove:"table:bursar_payments"`

	ID        string    `grove:"id,pk"`
	SchoolID  string    `grove:"school_id"`
	InvoiceID string    `grove:"invoice_id"`
	StudentID string    `grove:"student_id"`
	Amount    int64     `grove:"amount"`
	Currency  string    `grove:"currency"`
	Method    string    `grove:"method"`
	Reference string    `grove:"reference"`
	PostedBy  string    `grove:"posted_by"`
	PostedAt  time.Time `grove:"posted_at"`
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
