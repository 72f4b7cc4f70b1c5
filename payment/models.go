// Package payment defines payments posted against student invoices.
// Payments are append-only: they are never edited or deleted.
package payment

import (
	"strings"
	"time"

	"github.com/xraph/bursar/id"
	"github.com/xraph/bursar/types"
)

// MaxReferenceLen bounds the free-text payment reference.
const MaxReferenceLen = 64

// Method is how the money was received.
type Method string

const (
	MethodCash  Method = "CASH"
	MethodBank  Method = "BANK"
	MethodMpesa Method = "MPESA"
)

// ParseMethod normalizes user or API input ("mpesa", "M-Pesa", "bank transfer").
func ParseMethod(s string) (Method, bool) {
	v := strings.ToUpper(strings.TrimSpace(s))
	v = strings.NewReplacer("-", "", " ", "", "_", "").Replace(v)
	switch {
	case v == "CASH":
		return MethodCash, true
	case v == "BANK" || v == "BANKTRANSFER" || v == "BANKDEPOSIT" || v == "CHEQUE":
		return MethodBank, true
	case v == "MPESA":
		return MethodMpesa, true
	}
	return "", false
}

// Payment is money received against one invoice.
type Payment struct {
	ID        id.PaymentID `json:"id"`
	SchoolID  string       `json:"school_id"`
	InvoiceID id.InvoiceID `json:"invoice_id"`
	StudentID string       `json:"student_id"`
	Amount    types.Money  `json:"amount"`
	Method    Method       `json:"method"`
	Reference string       `json:"reference,omitempty"`
	PostedBy  string       `json:"posted_by,omitempty"`
	PostedAt  time.Time    `json:"posted_at"`
}
