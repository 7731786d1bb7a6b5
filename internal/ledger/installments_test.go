package ledger

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kasirkredit/backend/internal/domain"
)

func TestGenerateInstallmentsEvenSplit(t *testing.T) {
	saleDate := time.Date(2026, 3, 10, 15, 42, 0, 0, time.UTC)

	got, err := GenerateInstallments(saleDate, 60000, 3)
	require.NoError(t, err)
	require.Len(t, got, 3)

	for i, inst := range got {
		assert.Equal(t, i+1, inst.Number)
		assert.Equal(t, int64(20000), inst.AmountCents)
		assert.Equal(t, domain.InstallmentPending, inst.Status)
		assert.Zero(t, inst.PaidCents)
		assert.Equal(t, time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC).AddDate(0, 0, 30*(i+1)), inst.DueDate)
	}
}

func TestGenerateInstallmentsRemainderOnLast(t *testing.T) {
	got, err := GenerateInstallments(time.Now(), 10000, 3)
	require.NoError(t, err)
	require.Len(t, got, 3)

	assert.Equal(t, int64(3333), got[0].AmountCents)
	assert.Equal(t, int64(3333), got[1].AmountCents)
	assert.Equal(t, int64(3334), got[2].AmountCents)

	sum := int64(0)
	for _, inst := range got {
		sum += inst.AmountCents
	}
	assert.Equal(t, int64(10000), sum)
}

func TestGenerateInstallmentsNeverDueOnSaleDate(t *testing.T) {
	saleDate := time.Date(2026, 1, 31, 23, 59, 0, 0, time.UTC)
	got, err := GenerateInstallments(saleDate, 100, 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, got[0].DueDate.After(DateOf(saleDate)))
	assert.Equal(t, time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC), got[0].DueDate)
}

func TestGenerateInstallmentsRejectsBadSchedules(t *testing.T) {
	cases := []struct {
		name  string
		total int64
		count int
	}{
		{"zero count", 1000, 0},
		{"seven installments", 1000, 7},
		{"negative count", 1000, -1},
		{"zero total", 0, 3},
		{"negative total", -500, 2},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := GenerateInstallments(time.Now(), tc.total, tc.count)
			require.ErrorIs(t, err, ErrInvalidSchedule)
		})
	}
}

func TestGenerateInstallmentsAcceptsBounds(t *testing.T) {
	for _, count := range []int{MinInstallments, MaxInstallments} {
		got, err := GenerateInstallments(time.Now(), 600, count)
		require.NoError(t, err)
		assert.Len(t, got, count)
	}
}
