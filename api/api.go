// Package api exposes the Bursar engine and the chat resolver over HTTP.
//
// Every /api/v1 route needs an X-School-ID header set by the auth layer in
// front of the service; X-User-ID is optional. Errors are returned as
// {"error": {"code", "message", "field"}}.
package api

import (
	"log/slog"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"

	"github.com/xraph/bursar"
	"github.com/xraph/bursar/observability"
	"github.com/xraph/bursar/resolver"
)

// Handler serves the HTTP API.
type Handler struct {
	b        *bursar.Bursar
	resolver *resolver.Resolver
	validate *validator.Validate
	logger   *slog.Logger
	metrics  *observability.PrometheusFactory
	http     *observability.HTTPMetrics
	router   *mux.Router
}

// Option configures a Handler.
type Option func(*Handler)

// WithResolver enables the chat route.
func WithResolver(r *resolver.Resolver) Option {
	return func(h *Handler) { h.resolver = r }
}

// WithMetrics serves /metrics from f and records per-route request metrics.
func WithMetrics(f *observability.PrometheusFactory) Option {
	return func(h *Handler) { h.metrics = f }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) { h.logger = l }
}

// New builds the handler and its routes.
func New(b *bursar.Bursar, opts ...Option) *Handler {
	h := &Handler{
		b:        b,
		validate: newValidator(),
		logger:   b.Logger(),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.metrics != nil {
		h.http = observability.NewHTTPMetrics(h.metrics)
	}

	h.router = mux.NewRouter()
	h.Register(h.router)
	return h
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

// Register adds every route to r. Use it to mount the API on an existing
// router instead of serving the Handler directly.
func (h *Handler) Register(r *mux.Router) {
	r.Use(h.requestID, h.recoverer)
	if h.http != nil {
		r.Use(h.http.Middleware)
		r.Handle("/metrics", h.metrics.Handler()).Methods(http.MethodGet)
	}
	r.HandleFunc("/healthz", h.Health).Methods(http.MethodGet)

	v1 := r.PathPrefix("/api/v1").Subrouter()
	v1.Use(h.scope)

	// Fee structures
	v1.HandleFunc("/fees/structures", h.CreateStructure).Methods(http.MethodPost)
	v1.HandleFunc("/fees/structures", h.ListStructures).Methods(http.MethodGet)
	v1.HandleFunc("/fees/structures/{id}", h.GetStructure).Methods(http.MethodGet)
	v1.HandleFunc("/fees/structures/{id}", h.UpdateStructure).Methods(http.MethodPatch)
	v1.HandleFunc("/fees/structures/{id}", h.DeleteStructure).Methods(http.MethodDelete)
	v1.HandleFunc("/fees/structures/{id}/publish", h.PublishStructure).Methods(http.MethodPost)
	v1.HandleFunc("/fees/structures/{id}/default", h.SetDefaultStructure).Methods(http.MethodPost)

	// Fee items
	v1.HandleFunc("/fees/structures/{id}/items", h.ListItems).Methods(http.MethodGet)
	v1.HandleFunc("/fees/structures/{id}/items", h.AddItem).Methods(http.MethodPost)
	v1.HandleFunc("/fees/structures/{id}/items", h.DeleteAllItems).Methods(http.MethodDelete)
	v1.HandleFunc("/fees/structures/{id}/items/by-name/{name}", h.GetItemByName).Methods(http.MethodGet)
	v1.HandleFunc("/fees/structures/{id}/items/{item_id}", h.UpdateItem).Methods(http.MethodPut)
	v1.HandleFunc("/fees/structures/{id}/items/{item_id}", h.DeleteItem).Methods(http.MethodDelete)

	// Invoices; fixed paths before {id}.
	v1.HandleFunc("/invoices/generate", h.GenerateInvoices).Methods(http.MethodPost)
	v1.HandleFunc("/invoices/bulk-issue", h.BulkIssue).Methods(http.MethodPut)
	v1.HandleFunc("/invoices/arrears", h.Arrears).Methods(http.MethodGet)
	v1.HandleFunc("/invoices/student/{student_id}", h.StudentInvoices).Methods(http.MethodGet)
	v1.HandleFunc("/invoices", h.ListInvoices).Methods(http.MethodGet)
	v1.HandleFunc("/invoices/{id}", h.GetInvoice).Methods(http.MethodGet)
	v1.HandleFunc("/invoices/{id}/issue", h.IssueInvoice).Methods(http.MethodPut)
	v1.HandleFunc("/invoices/{id}/cancel", h.CancelInvoice).Methods(http.MethodPut)

	// Payments
	v1.HandleFunc("/payments", h.RecordPayment).Methods(http.MethodPost)
	v1.HandleFunc("/payments/student/{student_id}", h.StudentPayments).Methods(http.MethodGet)

	if h.resolver != nil {
		v1.HandleFunc("/chat/{conversation_id}/messages", h.Chat).Methods(http.MethodPost)
	}
}

// newValidator reports fields by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Health handles GET /healthz.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.b.Store().Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
