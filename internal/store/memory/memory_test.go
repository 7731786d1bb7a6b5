package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kasirkredit/backend/internal/domain"
	"kasirkredit/backend/internal/ledger"
	"kasirkredit/backend/internal/store"
)

var _ store.Repository = (*Store)(nil)

func cashSale(storeID string, items ...domain.SaleItem) domain.NewSale {
	total := int64(0)
	for _, item := range items {
		total += item.SubtotalCents
	}
	return domain.NewSale{Sale: domain.Sale{
		StoreID:       storeID,
		Type:          domain.SaleTypeCash,
		SubtotalCents: total,
		TotalCents:    total,
		UserID:        "cashier",
		Items:         items,
	}}
}

func line(productID string, qty int, unitCents int64) domain.SaleItem {
	return domain.SaleItem{ProductID: productID, Qty: qty, UnitPriceCents: unitCents, SubtotalCents: int64(qty) * unitCents}
}

func creditSale(t *testing.T, clientID string, totalCents int64, count int, at time.Time) domain.NewSale {
	t.Helper()
	installments, err := ledger.GenerateInstallments(at, totalCents, count)
	require.NoError(t, err)
	in := cashSale("centro", line("PROD-ARROZ-1KG", 1, totalCents))
	in.Sale.Type = domain.SaleTypeCredit
	in.Sale.ClientID = clientID
	in.Sale.CreatedAt = at
	in.Plan = &domain.CreditPlan{
		ClientID:          clientID,
		TotalCents:        totalCents,
		InstallmentsCount: count,
		InstallmentCents:  installments[0].AmountCents,
		CreatedAt:         at,
	}
	in.Installments = installments
	return in
}

func TestConcurrentSalesNeverOversellLastUnit(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()

	const workers = 16
	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	errs := make([]error, 0, workers)

	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.CreateSale(ctx, cashSale("norte", line("PROD-LICUADORA", 1, 89900)))
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				succeeded++
				return
			}
			errs = append(errs, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	for _, err := range errs {
		assert.ErrorIs(t, err, store.ErrInsufficientStock)
	}

	stock, err := s.CheckAvailability(ctx, "norte", []string{"PROD-LICUADORA"})
	require.NoError(t, err)
	assert.NotContains(t, stock, "PROD-LICUADORA")
}

func TestCreateSaleIsAllOrNothing(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()

	_, err := s.CreateSale(ctx, cashSale("norte",
		line("PROD-ARROZ-1KG", 5, 1500),
		line("PROD-LICUADORA", 2, 89900),
	))
	var stockErr *store.InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, "PROD-LICUADORA", stockErr.ProductID)
	assert.Equal(t, 1, stockErr.Available)
	assert.Equal(t, 2, stockErr.Required)

	stock, err := s.CheckAvailability(ctx, "norte", []string{"PROD-ARROZ-1KG", "PROD-LICUADORA"})
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"PROD-ARROZ-1KG": 25, "PROD-LICUADORA": 1}, stock)
}

func TestCreateSaleSumsRepeatedLines(t *testing.T) {
	s := NewSeeded()

	_, err := s.CreateSale(context.Background(), cashSale("norte",
		line("PROD-LICUADORA", 1, 89900),
		line("PROD-LICUADORA", 1, 89900),
	))
	require.ErrorIs(t, err, store.ErrInsufficientStock)
}

func TestCreateSaleRejectsOverflowingLineQuantities(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()

	in := cashSale("centro", line("PROD-ARROZ-1KG", 1<<62, 0), line("PROD-ARROZ-1KG", 1<<62, 1))
	_, err := s.CreateSale(ctx, in)
	require.ErrorIs(t, err, store.ErrValidation)

	stock, err := s.CheckAvailability(ctx, "centro", []string{"PROD-ARROZ-1KG"})
	require.NoError(t, err)
	assert.Equal(t, 80, stock["PROD-ARROZ-1KG"])
}

func TestStockIsIsolatedPerStore(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()

	_, err := s.CreateSale(ctx, cashSale("Centro ", line("PROD-VENTILADOR", 4, 45000)))
	require.NoError(t, err)

	_, err = s.CreateSale(ctx, cashSale("norte", line("PROD-VENTILADOR", 1, 45000)))
	require.ErrorIs(t, err, store.ErrInsufficientStock)

	stock, err := s.CheckAvailability(ctx, "norte", []string{"PROD-ARROZ-1KG"})
	require.NoError(t, err)
	assert.Equal(t, 25, stock["PROD-ARROZ-1KG"])
}

func TestSaleNumberIsConsumedByRejectedSale(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()

	first, err := s.CreateSale(ctx, cashSale("centro", line("PROD-ARROZ-1KG", 1, 1500)))
	require.NoError(t, err)

	_, err = s.CreateSale(ctx, cashSale("centro", line("PROD-LICUADORA", 99, 89900)))
	require.Error(t, err)

	third, err := s.CreateSale(ctx, cashSale("centro", line("PROD-ARROZ-1KG", 1, 1500)))
	require.NoError(t, err)
	assert.Equal(t, first.Number+2, third.Number)
}

func TestCreditSaleChargesClientAndRejectsOverLimit(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()
	at := time.Date(2026, 3, 1, 15, 0, 0, 0, time.UTC)

	sale, err := s.CreateSale(ctx, creditSale(t, "CLI-0001", 60000, 3, at))
	require.NoError(t, err)

	client, err := s.GetClient(ctx, "CLI-0001")
	require.NoError(t, err)
	assert.Equal(t, int64(60000), client.CreditUsedCents)

	plan, installments, err := s.GetPlanBySale(ctx, sale.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PlanStatusActive, plan.Status)
	require.Len(t, installments, 3)

	_, err = s.CreateSale(ctx, creditSale(t, "CLI-0001", 40001, 1, at))
	var creditErr *store.CreditLimitError
	require.ErrorAs(t, err, &creditErr)
	assert.Equal(t, int64(40000), creditErr.AvailableCents)

	stock, err := s.CheckAvailability(ctx, "centro", []string{"PROD-ARROZ-1KG"})
	require.NoError(t, err)
	assert.Equal(t, 79, stock["PROD-ARROZ-1KG"])
}

func TestApplyPaymentCompletesPlanAndReleasesCredit(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()
	at := time.Date(2026, 3, 1, 15, 0, 0, 0, time.UTC)

	sale, err := s.CreateSale(ctx, creditSale(t, "CLI-0002", 30000, 2, at))
	require.NoError(t, err)

	payment, allocation, err := s.ApplyPayment(ctx, domain.Payment{ClientID: "CLI-0002", AmountCents: 35000, PaymentDate: at, UserID: "cashier"})
	require.NoError(t, err)
	assert.Equal(t, int64(30000), payment.AppliedCents)
	assert.Equal(t, int64(35000), payment.AmountCents)
	assert.Equal(t, int64(5000), allocation.RemainingCents)

	plan, installments, err := s.GetPlanBySale(ctx, sale.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PlanStatusCompleted, plan.Status)
	for _, inst := range installments {
		assert.Equal(t, domain.InstallmentPaid, inst.Status)
		assert.NotNil(t, inst.PaidAt)
	}

	client, err := s.GetClient(ctx, "CLI-0002")
	require.NoError(t, err)
	assert.Zero(t, client.CreditUsedCents)

	_, _, err = s.ApplyPayment(ctx, domain.Payment{ClientID: "CLI-0002", AmountCents: 100, UserID: "cashier"})
	require.ErrorIs(t, err, store.ErrValidation)
}

func TestVoidCreditSaleRequiresNoPayments(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()
	at := time.Date(2026, 3, 1, 15, 0, 0, 0, time.UTC)

	paid, err := s.CreateSale(ctx, creditSale(t, "CLI-0001", 20000, 2, at))
	require.NoError(t, err)
	_, _, err = s.ApplyPayment(ctx, domain.Payment{ClientID: "CLI-0001", AmountCents: 1000, PaymentDate: at, UserID: "cashier"})
	require.NoError(t, err)

	_, err = s.VoidSale(ctx, paid.ID, "customer returned goods", at)
	require.ErrorIs(t, err, store.ErrValidation)

	untouched, err := s.CreateSale(ctx, creditSale(t, "CLI-0002", 10000, 1, at))
	require.NoError(t, err)

	voided, err := s.VoidSale(ctx, untouched.ID, "wrong client", at)
	require.NoError(t, err)
	assert.True(t, voided.Voided)

	plan, _, err := s.GetPlanBySale(ctx, untouched.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PlanStatusCancelled, plan.Status)

	client, err := s.GetClient(ctx, "CLI-0002")
	require.NoError(t, err)
	assert.Zero(t, client.CreditUsedCents)

	_, err = s.VoidSale(ctx, untouched.ID, "again", at)
	require.ErrorIs(t, err, store.ErrValidation)
}

func TestMarkOverdueOnlyTouchesUnpaidPastDue(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()
	at := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)

	_, err := s.CreateSale(ctx, creditSale(t, "CLI-0001", 30000, 3, at))
	require.NoError(t, err)
	_, _, err = s.ApplyPayment(ctx, domain.Payment{ClientID: "CLI-0001", AmountCents: 12000, PaymentDate: at, UserID: "cashier"})
	require.NoError(t, err)

	// Day 75: installment 1 is paid, 2 is partial and past due, 3 is not yet due.
	count, err := s.MarkOverdue(ctx, at.AddDate(0, 0, 75))
	require.NoError(t, err)
	assert.Zero(t, count)

	count, err = s.MarkOverdue(ctx, at.AddDate(0, 0, 95))
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	count, err = s.MarkOverdue(ctx, at.AddDate(0, 0, 95))
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestCreditDriftAndRepair(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()
	at := time.Date(2026, 3, 1, 15, 0, 0, 0, time.UTC)

	_, err := s.CreateSale(ctx, creditSale(t, "CLI-0001", 20000, 2, at))
	require.NoError(t, err)

	drifts, err := s.ListCreditDrift(ctx)
	require.NoError(t, err)
	assert.Empty(t, drifts)

	require.NoError(t, s.SetCreditUsed(ctx, "CLI-0001", 25000))
	drifts, err = s.ListCreditDrift(ctx)
	require.NoError(t, err)
	require.Len(t, drifts, 1)
	assert.Equal(t, int64(5000), drifts[0].DifferenceCents)
	assert.Equal(t, int64(20000), drifts[0].OutstandingCents)
}

func TestShiftLifecycle(t *testing.T) {
	s := NewSeeded()
	ctx := context.Background()
	opened := time.Now().UTC().Add(-time.Minute)

	shift, err := s.OpenShift(ctx, domain.CashShift{StoreID: "Centro", UserID: "cashier", OpeningCents: 10000, OpenedAt: opened})
	require.NoError(t, err)
	assert.Equal(t, "centro", shift.StoreID)

	_, err = s.OpenShift(ctx, domain.CashShift{StoreID: "centro", UserID: "admin"})
	require.ErrorIs(t, err, store.ErrShiftAlreadyOpen)

	_, err = s.CreateSale(ctx, cashSale("centro", line("PROD-LICUADORA", 1, 25000)))
	require.NoError(t, err)
	voidMe, err := s.CreateSale(ctx, cashSale("centro", line("PROD-ARROZ-1KG", 2, 1500)))
	require.NoError(t, err)
	_, err = s.VoidSale(ctx, voidMe.ID, "typo", time.Now().UTC())
	require.NoError(t, err)
	_, err = s.CreateSale(ctx, cashSale("norte", line("PROD-ARROZ-1KG", 1, 1500)))
	require.NoError(t, err)

	_, err = s.AddExpense(ctx, domain.CashExpense{ShiftID: shift.ID, UserID: "cashier", AmountCents: 3000, Category: "supplies"})
	require.NoError(t, err)
	_, err = s.AddExpense(ctx, domain.CashExpense{ShiftID: "shift-missing", UserID: "cashier", AmountCents: 3000, Category: "supplies"})
	require.ErrorIs(t, err, store.ErrShiftNotFound)
	_, err = s.AddExpense(ctx, domain.CashExpense{ShiftID: shift.ID, UserID: "admin", AmountCents: 900, Category: "supplies"})
	require.ErrorIs(t, err, store.ErrShiftNotFound)

	_, _, err = s.CloseShift(ctx, shift.ID, "admin", 30000, time.Time{})
	require.ErrorIs(t, err, store.ErrShiftNotFound)

	closed, totals, err := s.CloseShift(ctx, shift.ID, "cashier", 30000, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, domain.ShiftTotals{CashSalesCents: 25000, ExpensesCents: 3000}, totals)
	require.NotNil(t, closed.DifferenceCents)
	assert.Equal(t, int64(-2000), *closed.DifferenceCents)

	_, err = s.GetActiveShift(ctx, "centro")
	require.ErrorIs(t, err, store.ErrNotFound)
	_, err = s.AddExpense(ctx, domain.CashExpense{ShiftID: shift.ID, UserID: "cashier", AmountCents: 100, Category: "late"})
	require.ErrorIs(t, err, store.ErrShiftClosed)
	_, _, err = s.CloseShift(ctx, shift.ID, "cashier", 30000, time.Time{})
	require.ErrorIs(t, err, store.ErrShiftNotFound)
}

func TestAuditLogsFilterByStoreAndWindow(t *testing.T) {
	s := New()
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

	for i, storeID := range []string{"centro", "NORTE", "centro"} {
		require.NoError(t, s.CreateAuditLog(ctx, domain.AuditLog{
			StoreID:   storeID,
			Action:    "sale.create",
			CreatedAt: base.Add(time.Duration(i) * time.Hour),
		}))
	}

	logs, err := s.ListAuditLogs(ctx, "centro", base, base.Add(24*time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.True(t, logs[0].CreatedAt.After(logs[1].CreatedAt))

	logs, err = s.ListAuditLogs(ctx, "norte", base, base.Add(24*time.Hour), 10)
	require.NoError(t, err)
	assert.Len(t, logs, 1)
}
