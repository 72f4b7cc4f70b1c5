package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/xraph/bursar"
	"github.com/xraph/bursar/understanding"
)

// Amount accepts a JSON number or a string such as "KSh 25,000" and holds
// it in major units until the engine's currency is known.
type Amount string

// UnmarshalJSON implements json.Unmarshaler.
func (a *Amount) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*a = Amount(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*a = Amount(n.String())
	return nil
}

func (a Amount) money(currency, field string) (bursar.Money, error) {
	m, err := bursar.ParseMoney(string(a), currency)
	if err != nil {
		return m, bursar.Invalid(field, "%q is not a valid amount", string(a))
	}
	return m, nil
}

type createStructureRequest struct {
	Name  string `json:"name" validate:"required,max=128"`
	Level string `json:"level" validate:"omitempty,max=32"`
	Year  int    `json:"year" validate:"required,min=2000,max=2100"`
	Term  int    `json:"term" validate:"required,min=1,max=3"`
}

type updateStructureRequest struct {
	Name      *string `json:"name" validate:"omitempty,min=1,max=128"`
	Published *bool   `json:"is_published"`
	Default   *bool   `json:"is_default"`
}

type itemRequest struct {
	ClassID      string `json:"class_id" validate:"omitempty,max=64"`
	ItemName     string `json:"item_name" validate:"required,max=128"`
	Amount       Amount `json:"amount" validate:"required"`
	Category     string `json:"category" validate:"omitempty,max=32"`
	BillingCycle string `json:"billing_cycle" validate:"omitempty,max=16"`
	IsOptional   bool   `json:"is_optional"`
}

type generateRequest struct {
	Year        int    `json:"year" validate:"required,min=2000,max=2100"`
	Term        int    `json:"term" validate:"required,min=1,max=3"`
	ClassID     string `json:"class_id" validate:"omitempty,max=64"`
	StructureID string `json:"structure_id" validate:"omitempty,max=64"`
}

type bulkIssueRequest struct {
	Year    int    `json:"year" validate:"required,min=2000,max=2100"`
	Term    int    `json:"term" validate:"required,min=1,max=3"`
	ClassID string `json:"class_id" validate:"omitempty,max=64"`
}

type cancelRequest struct {
	Reason string `json:"reason" validate:"omitempty,max=500"`
}

type paymentRequest struct {
	InvoiceID string `json:"invoice_id" validate:"required"`
	Amount    Amount `json:"amount" validate:"required"`
	Method    string `json:"method" validate:"required,max=32"`
	Reference string `json:"reference" validate:"omitempty,max=64"`
}

type chatRequest struct {
	Text    string               `json:"text" validate:"max=2000"`
	History []understanding.Turn `json:"history" validate:"max=20"`
}

// query reads optional typed query parameters, keeping the first error.
type query struct {
	r   *http.Request
	err error
}

func (q *query) str(name string) string {
	return strings.TrimSpace(q.r.URL.Query().Get(name))
}

func (q *query) int(name string) int {
	v := q.str(name)
	if v == "" || q.err != nil {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		q.err = bursar.Invalid(name, "%q is not a non-negative integer", v)
		return 0
	}
	return n
}

func (q *query) bool(name string) *bool {
	v := q.str(name)
	if v == "" || q.err != nil {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		q.err = bursar.Invalid(name, "%q is not a boolean", v)
		return nil
	}
	return &b
}
