package resolver

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDetect(t *testing.T) {
	tests := []struct {
		text string
		want Intent
	}{
		{"Create a fee structure for term 1 2025", IntentCreateStructure},
		{"list fee structures", IntentListStructures},
		{"show fee items for term 3 2025", IntentShowStructure},
		{"add tuition 25000 to Term 1 2025", IntentAddItem},
		{"remove lunch from Term 1 2025", IntentRemoveItem},
		{"publish Term 1 2025", IntentPublishStructure},
		{"make Grade 4 Package the default", IntentSetDefault},
		{"generate invoices for term 1", IntentGenerateInvoices},
		{"issue invoices for term 1 2025", IntentIssueInvoices},
		{"show all invoices for grade 4", IntentListInvoices},
		{"who has unpaid fees", IntentListUnpaid},
		{"show invoice for Amina", IntentShowStudent},
		{"Amina paid 5000 via mpesa", IntentRecordPayment},
		{"cancel invoice for Brian because duplicate", IntentCancelInvoice},
		{"never mind", IntentCancel},
		{"hello there", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, detect(tt.text), tt.text)
	}
}

func TestExtract(t *testing.T) {
	tests := []struct {
		field Field
		text  string
		want  string
	}{
		{FieldYear, "fees for term 3 2025", "2025"},
		{FieldYear, "2026 term 1 invoices", "2026"},
		{FieldYear, "pay 2000 for Amina", ""},
		{FieldTerm, "fees for term 3 2025", "3"},
		{FieldTerm, "second term fees", "2"},
		{FieldAmount, "add tuition 25,000 to term 1 2025", "25,000"},
		{FieldAmount, "paid KSh 1,200 cash", "1,200"},
		{FieldAmount, "lunch 5k", "5000"},
		{FieldAmount, "show term 1 2025", ""},
		{FieldClass, "lab fee for grade 5", "Grade 5"},
		{FieldClass, "form 2 east", "Form 2 East"},
		{FieldStudent, "record payment for Amina Njeri", "Amina Njeri"},
		{FieldStudent, "Brian paid 300", "Brian"},
		{FieldStudent, "fees for Term 1", ""},
		{FieldMethod, "paid via M-Pesa", "M-Pesa"},
		{FieldReference, "ref QHX12345", "QHX12345"},
		{FieldItemName, "add lunch of 5000", "lunch"},
		{FieldItemName, "remove the bus fee from Term 1 2025", "bus fee"},
		{FieldStructureName, `add trip to "Grade 4 Package"`, "Grade 4 Package"},
		{FieldStructureName, "publish Grade 4 Package", "Grade 4 Package"},
		{FieldAnswer, "Yes please", "Yes"},
		{FieldStatus, "show paid invoices", "paid"},
		{FieldReason, "cancel it because duplicate entry", "duplicate entry"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, extract(tt.field, tt.text), "%s from %q", tt.field, tt.text)
	}
}

func TestParseDropsMalformedValues(t *testing.T) {
	p := parse(map[Field]string{
		FieldYear:   "20x5",
		FieldTerm:   "term 2",
		FieldAmount: "-300",
		FieldMethod: "bitcoin",
		FieldAnswer: "nope",
		FieldStatus: "canceled",
	}, "kes", discard())

	assert.Zero(t, p.Year)
	assert.Equal(t, 2, p.Term)
	assert.Nil(t, p.Amount)
	assert.Empty(t, p.Method)
	if assert.NotNil(t, p.Answer) {
		assert.False(t, *p.Answer)
	}
	assert.Equal(t, "CANCELLED", string(p.Status))
}

func TestShapeOKUsesCurrency(t *testing.T) {
	assert.True(t, shapeOK(FieldAmount, "1,500.50", "kes"))
	assert.False(t, shapeOK(FieldAmount, "1,500.50", "ugx"))
	assert.True(t, shapeOK(FieldAmount, "1,500", "ugx"))
	assert.False(t, shapeOK(FieldAmount, "1e20", "kes"))
}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }
