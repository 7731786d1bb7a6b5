package ledger

import (
	"sort"
	"time"

	"kasirkredit/backend/internal/domain"
)

// Allocate spreads amountCents over the outstanding installments, oldest due
// date first. It does not mutate its input: the returned slice holds the
// updated copies of the installments that received money, in the order they
// were paid. Whatever cannot be applied is reported as RemainingCents.
func Allocate(installments []domain.Installment, amountCents int64, now time.Time) (domain.Allocation, []domain.Installment) {
	allocation := domain.Allocation{Changes: []domain.InstallmentChange{}}
	if amountCents <= 0 {
		return allocation, nil
	}

	candidates := SortForAllocation(installments)
	remaining := amountCents
	updated := make([]domain.Installment, 0, len(candidates))
	paidAt := now.UTC()

	for _, inst := range candidates {
		if remaining == 0 {
			break
		}
		balance := inst.BalanceCents()
		if balance <= 0 {
			continue
		}

		applied := min(remaining, balance)
		next := inst
		next.PaidCents += applied
		switch {
		case next.PaidCents >= next.AmountCents:
			next.Status = domain.InstallmentPaid
			at := paidAt
			next.PaidAt = &at
		case next.PaidCents > 0:
			next.Status = domain.InstallmentPartial
		}
		remaining -= applied

		allocation.Changes = append(allocation.Changes, domain.InstallmentChange{
			InstallmentID:   inst.ID,
			PlanID:          inst.PlanID,
			Number:          inst.Number,
			DueDate:         inst.DueDate,
			AmountCents:     inst.AmountCents,
			PaidBeforeCents: inst.PaidCents,
			AppliedCents:    applied,
			PaidAfterCents:  next.PaidCents,
			StatusBefore:    inst.Status,
			StatusAfter:     next.Status,
			PaidAt:          next.PaidAt,
		})
		allocation.AppliedCents += applied
		updated = append(updated, next)
	}

	allocation.RemainingCents = remaining
	return allocation, updated
}

// SortForAllocation returns the outstanding installments ordered by due date.
// Ties fall back to plan age, installment number and id so the order is total.
func SortForAllocation(installments []domain.Installment) []domain.Installment {
	out := make([]domain.Installment, 0, len(installments))
	for _, inst := range installments {
		if IsOutstanding(inst.Status) {
			out = append(out, inst)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if !a.DueDate.Equal(b.DueDate) {
			return a.DueDate.Before(b.DueDate)
		}
		if !a.PlanCreatedAt.Equal(b.PlanCreatedAt) {
			return a.PlanCreatedAt.Before(b.PlanCreatedAt)
		}
		if a.Number != b.Number {
			return a.Number < b.Number
		}
		return a.ID < b.ID
	})
	return out
}

// OutstandingCents sums the unpaid balance of the given installments.
func OutstandingCents(installments []domain.Installment) int64 {
	total := int64(0)
	for _, inst := range installments {
		total += inst.BalanceCents()
	}
	return total
}
