package invoice

import (
	"github.com/xraph/bursar/payment"
	"github.com/xraph/bursar/types"
)

// Amounts holds the amounts derived from an invoice's payments. None of
// them is ever stored.
type Amounts struct {
	Paid        types.Money `json:"amount_paid"`
	Balance     types.Money `json:"balance"`
	Overpayment types.Money `json:"overpayment"`
}

// Summarize derives paid, balance and overpayment from the frozen total and
// the posted payments. A cancelled invoice reports zero for all three
// whatever it was paid.
func Summarize(total types.Money, status Status, payments []*payment.Payment) Amounts {
	zero := types.Zero(total.Currency)
	if status == StatusCancelled {
		return Amounts{Paid: zero, Balance: zero, Overpayment: zero}
	}

	paid := zero
	for _, p := range payments {
		paid = paid.Add(p.Amount)
	}
	return Amounts{
		Paid:        paid,
		Balance:     total.Subtract(paid).ClampZero(),
		Overpayment: paid.Subtract(total).ClampZero(),
	}
}

// StatusAfterPayment is the status an issued invoice takes once paid has
// been received against total.
func StatusAfterPayment(total, paid types.Money) Status {
	if paid.Amount >= total.Amount {
		return StatusPaid
	}
	return StatusPartial
}

// NewView pairs inv with its derived amounts.
func NewView(inv *Invoice, payments []*payment.Payment) *View {
	return &View{Invoice: inv, Amounts: Summarize(inv.Total, inv.Status, payments)}
}
