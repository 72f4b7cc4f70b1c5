package id_test

import (
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/bursar/id"
)

func TestIDBindsAsText(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	invID := id.NewInvoiceID()
	mock.ExpectExec("INSERT INTO bursar_invoices").
		WithArgs(invID.String(), nil).
		WillReturnResult(sqlmock.NewResult(0, 1))

	_, err = db.Exec("INSERT INTO bursar_invoices (id, structure_id) VALUES ($1, $2)", invID, id.Nil)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestIDScansFromRow(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	payID := id.NewPaymentID()
	mock.ExpectQuery("SELECT id, invoice_id FROM bursar_payments").
		WillReturnRows(sqlmock.NewRows([]string{"id", "invoice_id"}).AddRow([]byte(payID.String()), nil))

	var gotPay, gotInv id.ID
	err = db.QueryRow("SELECT id, invoice_id FROM bursar_payments").Scan(&gotPay, &gotInv)
	require.NoError(t, err)
	assert.Equal(t, payID.String(), gotPay.String())
	assert.True(t, gotInv.IsNil())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestIDScanRejectsGarbage(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT id FROM bursar_invoices").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("not-an-id"))

	var got id.ID
	err = db.QueryRow("SELECT id FROM bursar_invoices").Scan(&got)
	assert.Error(t, err)
}
