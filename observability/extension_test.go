package observability_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/bursar/id"
	"github.com/xraph/bursar/invoice"
	"github.com/xraph/bursar/observability"
	"github.com/xraph/bursar/payment"
	"github.com/xraph/bursar/types"
)

func value(t *testing.T, c any) float64 {
	t.Helper()
	col, ok := c.(prometheus.Collector)
	require.True(t, ok, "metric is not a prometheus collector")
	return testutil.ToFloat64(col)
}

func TestMetricsExtension(t *testing.T) {
	f := observability.NewPrometheusFactory(nil)
	m := observability.NewMetricsExtension(f)
	ctx := context.Background()

	invoices := []*invoice.Invoice{
		{ID: id.NewInvoiceID(), Total: types.KES(2500000)},
		{ID: id.NewInvoiceID(), Total: types.KES(3000000)},
	}
	require.NoError(t, m.OnInvoicesGenerated(ctx, invoices, 1, 12*time.Millisecond))
	require.NoError(t, m.OnInvoicesIssued(ctx, invoices))

	view := &invoice.View{Invoice: invoices[0], Amounts: invoice.Amounts{Overpayment: types.KES(500)}}
	require.NoError(t, m.OnPaymentRecorded(ctx, &payment.Payment{Amount: types.KES(2500500)}, view))
	require.NoError(t, m.OnConversationTurn(ctx, "c1", "record_payment", false))
	require.NoError(t, m.OnConversationTurn(ctx, "c1", "record_payment", true))

	assert.Equal(t, 2.0, value(t, m.InvoicesGenerated))
	assert.Equal(t, 1.0, value(t, m.InvoicesSkipped))
	assert.Equal(t, 2.0, value(t, m.InvoicesIssued))
	assert.Equal(t, 1.0, value(t, m.PaymentsRecorded))
	assert.Equal(t, 1.0, value(t, m.Overpayments))
	assert.Equal(t, 2.0, value(t, m.ConversationTurns))
	assert.Equal(t, 1.0, value(t, m.ConversationsCompleted))
}

func TestFactoryReusesMetrics(t *testing.T) {
	f := observability.NewPrometheusFactory(prometheus.NewRegistry())

	a := f.Counter("bursar.invoice.paid")
	b := f.Counter("bursar.invoice.paid")
	a.Inc()
	b.Inc()
	assert.Equal(t, 2.0, value(t, a))

	n, err := testutil.GatherAndCount(f.Registry(), "bursar_invoice_paid_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestHTTPMetrics(t *testing.T) {
	f := observability.NewPrometheusFactory(prometheus.NewRegistry())
	hm := observability.NewHTTPMetrics(f)

	r := mux.NewRouter()
	r.Use(hm.Middleware)
	r.HandleFunc("/invoices/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	r.Handle("/metrics", f.Handler())

	for _, p := range []string{"/invoices/inv_1", "/invoices/inv_2"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, p, nil))
		assert.Equal(t, http.StatusNotFound, rec.Code)
	}

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(),
		`bursar_http_requests_total{method="GET",path="/invoices/{id}",status="404"} 2`)
}
