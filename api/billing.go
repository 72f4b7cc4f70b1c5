package api

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/xraph/bursar"
	"github.com/xraph/bursar/id"
	"github.com/xraph/bursar/invoice"
	"github.com/xraph/bursar/payment"
)

func invoiceID(r *http.Request) (id.InvoiceID, error) {
	raw := mux.Vars(r)["id"]
	iid, err := id.ParseInvoiceID(raw)
	if err != nil {
		return iid, notFoundID("invoice", raw)
	}
	return iid, nil
}

// GenerateInvoices handles POST /api/v1/invoices/generate.
func (h *Handler) GenerateInvoices(w http.ResponseWriter, r *http.Request) {
	school, _ := bursar.MustSchool(r.Context())
	var req generateRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	in := bursar.GenerateInput{Year: req.Year, Term: req.Term, ClassID: req.ClassID}
	if req.StructureID != "" {
		sid, err := id.ParseFeeStructureID(req.StructureID)
		if err != nil {
			h.fail(w, r, bursar.Invalid("structure_id", "%q is not a fee structure id", req.StructureID))
			return
		}
		in.StructureID = sid
	}
	res, err := h.b.GenerateInvoices(r.Context(), school, in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	status := http.StatusOK
	if res.Created > 0 {
		status = http.StatusCreated
	}
	writeJSON(w, status, res)
}

// BulkIssue handles PUT /api/v1/invoices/bulk-issue.
func (h *Handler) BulkIssue(w http.ResponseWriter, r *http.Request) {
	school, _ := bursar.MustSchool(r.Context())
	var req bulkIssueRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	issued, err := h.b.BulkIssue(r.Context(), school, bursar.BulkIssueInput{
		Year:    req.Year,
		Term:    req.Term,
		ClassID: req.ClassID,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"issued": len(issued), "invoices": issued})
}

// Arrears handles GET /api/v1/invoices/arrears.
func (h *Handler) Arrears(w http.ResponseWriter, r *http.Request) {
	school, _ := bursar.MustSchool(r.Context())
	q := &query{r: r}
	year, term, classID := q.int("year"), q.int("term"), q.str("class_id")
	if q.err != nil {
		h.fail(w, r, q.err)
		return
	}
	report, err := h.b.ArrearsReport(r.Context(), school, year, term, classID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// ListInvoices handles GET /api/v1/invoices. status may be repeated or
// comma separated.
func (h *Handler) ListInvoices(w http.ResponseWriter, r *http.Request) {
	school, _ := bursar.MustSchool(r.Context())
	q := &query{r: r}
	f := bursar.InvoiceFilter{
		Year:      q.int("year"),
		Term:      q.int("term"),
		ClassID:   q.str("class_id"),
		StudentID: q.str("student_id"),
		Limit:     q.int("limit"),
		Offset:    q.int("offset"),
	}
	if q.err != nil {
		h.fail(w, r, q.err)
		return
	}
	for _, raw := range r.URL.Query()["status"] {
		for _, s := range strings.Split(raw, ",") {
			st := invoice.Status(strings.ToUpper(strings.TrimSpace(s)))
			if st == "" {
				continue
			}
			if !st.Valid() {
				h.fail(w, r, bursar.Invalid("status", "unknown status %q", s))
				return
			}
			f.Status = append(f.Status, st)
		}
	}
	views, err := h.b.ListInvoices(r.Context(), school, f)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, views)
}

// StudentInvoices handles GET /api/v1/invoices/student/{student_id}.
func (h *Handler) StudentInvoices(w http.ResponseWriter, r *http.Request) {
	school, _ := bursar.MustSchool(r.Context())
	views, err := h.b.StudentInvoices(r.Context(), school, mux.Vars(r)["student_id"])
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, views)
}

// GetInvoice handles GET /api/v1/invoices/{id}.
func (h *Handler) GetInvoice(w http.ResponseWriter, r *http.Request) {
	school, _ := bursar.MustSchool(r.Context())
	iid, err := invoiceID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	d, err := h.b.GetInvoice(r.Context(), school, iid)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// IssueInvoice handles PUT /api/v1/invoices/{id}/issue.
func (h *Handler) IssueInvoice(w http.ResponseWriter, r *http.Request) {
	school, _ := bursar.MustSchool(r.Context())
	iid, err := invoiceID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	v, err := h.b.IssueInvoice(r.Context(), school, iid)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// CancelInvoice handles PUT /api/v1/invoices/{id}/cancel. The body is
// optional.
func (h *Handler) CancelInvoice(w http.ResponseWriter, r *http.Request) {
	school, _ := bursar.MustSchool(r.Context())
	iid, err := invoiceID(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req cancelRequest
	if r.ContentLength != 0 {
		if err := h.decode(r, &req); err != nil {
			h.fail(w, r, err)
			return
		}
	}
	v, err := h.b.CancelInvoice(r.Context(), school, iid, req.Reason)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// RecordPayment handles POST /api/v1/payments. The posting user is the
// X-User-ID of the request.
func (h *Handler) RecordPayment(w http.ResponseWriter, r *http.Request) {
	scope, _ := bursar.ScopeFrom(r.Context())
	var req paymentRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	iid, err := id.ParseInvoiceID(req.InvoiceID)
	if err != nil {
		h.fail(w, r, bursar.Invalid("invoice_id", "%q is not an invoice id", req.InvoiceID))
		return
	}
	method, ok := payment.ParseMethod(req.Method)
	if !ok {
		h.fail(w, r, bursar.Invalid("method", "unknown payment method %q", req.Method))
		return
	}
	amount, err := req.Amount.money(h.b.Currency(), "amount")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	res, err := h.b.RecordPayment(r.Context(), scope.SchoolID, bursar.PaymentInput{
		InvoiceID: iid,
		Amount:    amount,
		Method:    method,
		Reference: req.Reference,
		PostedBy:  scope.UserID,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// StudentPayments handles GET /api/v1/payments/student/{student_id}.
func (h *Handler) StudentPayments(w http.ResponseWriter, r *http.Request) {
	school, _ := bursar.MustSchool(r.Context())
	list, err := h.b.ListStudentPayments(r.Context(), school, mux.Vars(r)["student_id"])
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}
