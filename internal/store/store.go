package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"kasirkredit/backend/internal/domain"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrValidation          = errors.New("validation error")
	ErrForbidden           = errors.New("forbidden")
	ErrInsufficientStock   = errors.New("insufficient stock")
	ErrCreditLimitExceeded = errors.New("credit limit exceeded")
	ErrShiftAlreadyOpen    = errors.New("a cash shift is already open for this store")
	ErrShiftNotFound       = errors.New("open cash shift not found")
	ErrShiftClosed         = errors.New("cash shift is closed")
	ErrPersistence         = errors.New("could not save changes, try again")
)

// InsufficientStockError names the product that could not be covered.
type InsufficientStockError struct {
	ProductID string
	Available int
	Required  int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %s: available %d, required %d", e.ProductID, e.Available, e.Required)
}

func (e *InsufficientStockError) Unwrap() error {
	return ErrInsufficientStock
}

// CreditLimitError carries the credit a client has left versus what a sale needs.
type CreditLimitError struct {
	ClientID       string
	AvailableCents int64
	RequiredCents  int64
}

func (e *CreditLimitError) Error() string {
	return fmt.Sprintf("credit limit exceeded for client %s: available %s, required %s",
		e.ClientID, domain.FormatMoney(e.AvailableCents), domain.FormatMoney(e.RequiredCents))
}

func (e *CreditLimitError) Unwrap() error {
	return ErrCreditLimitExceeded
}

// CheckCredit is the acceptance rule for a credit sale, shared by every store
// so the pre-check and the locked re-check cannot drift apart.
func CheckCredit(client domain.Client, totalCents int64) error {
	if client.CreditUsedCents+totalCents > client.CreditLimitCents {
		return &CreditLimitError{
			ClientID:       client.ID,
			AvailableCents: client.AvailableCreditCents(),
			RequiredCents:  totalCents,
		}
	}
	return nil
}

type Repository interface {
	CheckAvailability(ctx context.Context, storeID string, productIDs []string) (map[string]int, error)
	ReceiveStock(ctx context.Context, storeID string, productID string, qty int) (domain.StockLevel, error)

	GetClient(ctx context.Context, clientID string) (*domain.Client, error)
	CreateClient(ctx context.Context, client domain.Client) (*domain.Client, error)

	// CreateSale commits the sale, its items, the stock decrements and, for
	// credit sales, the plan, its installments and the credit increment as
	// one unit. The store assigns Sale.Number.
	CreateSale(ctx context.Context, sale domain.NewSale) (*domain.Sale, error)
	GetSale(ctx context.Context, saleID string) (*domain.Sale, error)
	GetPlanBySale(ctx context.Context, saleID string) (*domain.CreditPlan, []domain.Installment, error)
	VoidSale(ctx context.Context, saleID string, reason string, at time.Time) (*domain.Sale, error)

	ListOutstandingInstallments(ctx context.Context, clientID string) ([]domain.Installment, error)
	// ApplyPayment locks the client's outstanding installments, allocates
	// payment.AmountCents over them and persists the result in one unit.
	ApplyPayment(ctx context.Context, payment domain.Payment) (*domain.Payment, domain.Allocation, error)
	MarkOverdue(ctx context.Context, today time.Time) (int, error)
	ListCreditDrift(ctx context.Context) ([]domain.CreditDrift, error)
	SetCreditUsed(ctx context.Context, clientID string, creditUsedCents int64) error

	OpenShift(ctx context.Context, shift domain.CashShift) (*domain.CashShift, error)
	GetShift(ctx context.Context, shiftID string) (*domain.CashShift, error)
	GetActiveShift(ctx context.Context, storeID string) (*domain.CashShift, error)
	ShiftTotals(ctx context.Context, shift domain.CashShift, until time.Time) (domain.ShiftTotals, error)
	// CloseShift fails with ErrShiftNotFound unless shiftID is OPEN and owned by userID.
	CloseShift(ctx context.Context, shiftID string, userID string, closingCents int64, closedAt time.Time) (*domain.CashShift, domain.ShiftTotals, error)
	// AddExpense fails with ErrShiftNotFound unless the shift exists and is
	// owned by expense.UserID, and with ErrShiftClosed once it is closed.
	AddExpense(ctx context.Context, expense domain.CashExpense) (*domain.CashExpense, error)

	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, storeID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}

// RequiredStock sums quantities per product, keeping first-seen order so
// errors name the first failing line of the request. A sum that leaves the
// stock quantity range fails with ErrValidation.
func RequiredStock(items []domain.SaleItem) ([]string, map[string]int, error) {
	order := make([]string, 0, len(items))
	required := make(map[string]int, len(items))
	for _, item := range items {
		if item.Qty < 1 {
			return nil, nil, fmt.Errorf("%w: qty for %s must be at least 1", ErrValidation, item.ProductID)
		}
		if _, seen := required[item.ProductID]; !seen {
			order = append(order, item.ProductID)
		}
		sum, ok := domain.AddQty(required[item.ProductID], item.Qty)
		if !ok {
			return nil, nil, fmt.Errorf("%w: total qty for %s is out of range", ErrValidation, item.ProductID)
		}
		required[item.ProductID] = sum
	}
	return order, required, nil
}

// CoverStock fails with an InsufficientStockError for the first product in
// order whose available quantity is below the required one.
func CoverStock(order []string, required map[string]int, available map[string]int) error {
	for _, productID := range order {
		have := available[productID]
		if have < required[productID] {
			return &InsufficientStockError{ProductID: productID, Available: max(have, 0), Required: required[productID]}
		}
	}
	return nil
}
