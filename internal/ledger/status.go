package ledger

import (
	"time"

	"kasirkredit/backend/internal/domain"
)

// DeriveStatus classifies an installment from its amounts and due date.
// A partially paid installment stays PARTIAL after its due date; only an
// untouched one becomes OVERDUE, which is what the sweep stores.
func DeriveStatus(amountCents int64, paidCents int64, dueDate time.Time, today time.Time) string {
	switch {
	case paidCents >= amountCents:
		return domain.InstallmentPaid
	case paidCents > 0:
		return domain.InstallmentPartial
	case DateOf(dueDate).Before(DateOf(today)):
		return domain.InstallmentOverdue
	default:
		return domain.InstallmentPending
	}
}

// ShouldMarkOverdue reports whether the sweep must move inst to OVERDUE.
func ShouldMarkOverdue(inst domain.Installment, today time.Time) bool {
	if inst.Status != domain.InstallmentPending {
		return false
	}
	return DeriveStatus(inst.AmountCents, inst.PaidCents, inst.DueDate, today) == domain.InstallmentOverdue
}

// IsOutstanding reports whether a payment may be applied to the status.
func IsOutstanding(status string) bool {
	switch status {
	case domain.InstallmentPending, domain.InstallmentPartial, domain.InstallmentOverdue:
		return true
	}
	return false
}
