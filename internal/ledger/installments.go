// Package ledger holds the pure arithmetic of the credit ledger: installment
// schedules, installment status, payment allocation and cash reconciliation.
// Nothing here touches storage, so the stores and the service share one
// implementation for previews and commits.
package ledger

import (
	"errors"
	"fmt"
	"time"

	"kasirkredit/backend/internal/domain"
)

const (
	MinInstallments = 1
	MaxInstallments = 6

	// InstallmentIntervalDays separates consecutive due dates.
	InstallmentIntervalDays = 30
)

var ErrInvalidSchedule = errors.New("invalid installment schedule")

// GenerateInstallments splits totalCents into count equal installments. The
// remainder of the integer division is added to the last installment so the
// amounts always sum to totalCents. Installment i is due 30*i days after the
// sale date.
func GenerateInstallments(saleDate time.Time, totalCents int64, count int) ([]domain.Installment, error) {
	if count < MinInstallments || count > MaxInstallments {
		return nil, fmt.Errorf("%w: installments must be between %d and %d, got %d", ErrInvalidSchedule, MinInstallments, MaxInstallments, count)
	}
	if totalCents <= 0 {
		return nil, fmt.Errorf("%w: total must be positive", ErrInvalidSchedule)
	}

	base := totalCents / int64(count)
	remainder := totalCents - base*int64(count)
	start := DateOf(saleDate)

	installments := make([]domain.Installment, 0, count)
	for i := 1; i <= count; i++ {
		amount := base
		if i == count {
			amount += remainder
		}
		installments = append(installments, domain.Installment{
			Number:      i,
			AmountCents: amount,
			DueDate:     start.AddDate(0, 0, InstallmentIntervalDays*i),
			Status:      domain.InstallmentPending,
		})
	}
	return installments, nil
}

// DateOf truncates t to its UTC calendar day.
func DateOf(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}
