package ledger

import (
	"time"

	"kasirkredit/backend/internal/domain"
)

// ExpectedCash is the cash a drawer should hold: the opening float plus cash
// sales minus expenses paid out of the drawer.
func ExpectedCash(openingCents int64, totals domain.ShiftTotals) int64 {
	return openingCents + totals.CashSalesCents - totals.ExpensesCents
}

// CloseShift returns shift reconciled against the counted closing amount.
func CloseShift(shift domain.CashShift, totals domain.ShiftTotals, closingCents int64, closedAt time.Time) domain.CashShift {
	expected := ExpectedCash(shift.OpeningCents, totals)
	difference := closingCents - expected
	at := closedAt.UTC()

	closed := shift
	closed.Status = domain.ShiftStatusClosed
	closed.ClosingCents = &closingCents
	closed.ExpectedCents = &expected
	closed.DifferenceCents = &difference
	closed.ClosedAt = &at
	return closed
}
