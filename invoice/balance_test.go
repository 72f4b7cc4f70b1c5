package invoice_test

import (
	"testing"

	"github.com/xraph/bursar/invoice"
	"github.com/xraph/bursar/payment"
	"github.com/xraph/bursar/types"
)

func pays(amounts ...int64) []*payment.Payment {
	out := make([]*payment.Payment, 0, len(amounts))
	for _, a := range amounts {
		out = append(out, &payment.Payment{Amount: types.KES(a), Method: payment.MethodCash})
	}
	return out
}

func TestSummarize(t *testing.T) {
	tests := []struct {
		name        string
		total       int64
		status      invoice.Status
		payments    []*payment.Payment
		paid        int64
		balance     int64
		overpayment int64
	}{
		{"unpaid", 2500000, invoice.StatusIssued, nil, 0, 2500000, 0},
		{"partial", 2500000, invoice.StatusPartial, pays(1000000, 500000), 1500000, 1000000, 0},
		{"exact", 2500000, invoice.StatusPaid, pays(2500000), 2500000, 0, 0},
		{"overpaid", 2500000, invoice.StatusPaid, pays(3000000), 3000000, 0, 500000},
		{"cancelled with payments", 2500000, invoice.StatusCancelled, pays(1000000), 0, 0, 0},
		{"cancelled overpaid", 2500000, invoice.StatusCancelled, pays(9000000), 0, 0, 0},
		{"zero total", 0, invoice.StatusIssued, pays(100), 100, 0, 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := invoice.Summarize(types.KES(tt.total), tt.status, tt.payments)
			if got.Paid.Amount != tt.paid {
				t.Errorf("paid: got %d, want %d", got.Paid.Amount, tt.paid)
			}
			if got.Balance.Amount != tt.balance {
				t.Errorf("balance: got %d, want %d", got.Balance.Amount, tt.balance)
			}
			if got.Overpayment.Amount != tt.overpayment {
				t.Errorf("overpayment: got %d, want %d", got.Overpayment.Amount, tt.overpayment)
			}
		})
	}
}

// For every non-cancelled invoice balance and overpayment are never both
// positive, and paid - total == overpayment - balance.
func TestSummarizeIdentity(t *testing.T) {
	for total := int64(0); total <= 5000; total += 1250 {
		for paid := int64(0); paid <= 7000; paid += 700 {
			a := invoice.Summarize(types.KES(total), invoice.StatusPartial, pays(paid))
			if a.Balance.IsPositive() && a.Overpayment.IsPositive() {
				t.Fatalf("total=%d paid=%d: both balance and overpayment positive", total, paid)
			}
			if paid-total != a.Overpayment.Amount-a.Balance.Amount {
				t.Fatalf("total=%d paid=%d: identity broken: %+v", total, paid, a)
			}
		}
	}
}

func TestStatusAfterPayment(t *testing.T) {
	if s := invoice.StatusAfterPayment(types.KES(100), types.KES(99)); s != invoice.StatusPartial {
		t.Errorf("got %s, want PARTIAL", s)
	}
	if s := invoice.StatusAfterPayment(types.KES(100), types.KES(100)); s != invoice.StatusPaid {
		t.Errorf("got %s, want PAID", s)
	}
	if s := invoice.StatusAfterPayment(types.KES(100), types.KES(150)); s != invoice.StatusPaid {
		t.Errorf("got %s, want PAID", s)
	}
}

func TestStatusAcceptsPayments(t *testing.T) {
	want := map[invoice.Status]bool{
		invoice.StatusDraft:     false,
		invoice.StatusIssued:    true,
		invoice.StatusPartial:   true,
		invoice.StatusPaid:      true,
		invoice.StatusCancelled: false,
	}
	for s, ok := range want {
		if s.AcceptsPayments() != ok {
			t.Errorf("%s: AcceptsPayments = %v, want %v", s, !ok, ok)
		}
	}
}
