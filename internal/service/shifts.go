package service

import (
	"context"
	"fmt"
	"strings"

	"kasirkredit/backend/internal/domain"
	"kasirkredit/backend/internal/store"
	"kasirkredit/backend/internal/xid"
)

func (s *Service) OpenShift(ctx context.Context, req domain.ShiftOpenRequest) (domain.ShiftResponse, error) {
	ctx, cancel := commitContext(ctx)
	defer cancel()

	actor, err := s.authorize(ctx, ActionShiftManage)
	if err != nil {
		return domain.ShiftResponse{}, err
	}
	if req.OpeningCents < 0 {
		return domain.ShiftResponse{}, fmt.Errorf("%w: opening amount cannot be negative", store.ErrValidation)
	}

	storeKey := s.storeKey(req.StoreID)
	saved, err := s.repo.OpenShift(ctx, domain.CashShift{
		ID:           xid.New("shift"),
		StoreID:      storeKey,
		UserID:       actor.Username,
		OpeningCents: req.OpeningCents,
		Status:       domain.ShiftStatusOpen,
		OpenedAt:     s.now(),
	})
	if err != nil {
		return domain.ShiftResponse{}, s.classify("open_shift", err)
	}

	s.logAudit(ctx, storeKey, "shift_open", "shift", saved.ID, fmt.Sprintf("opening=%s", domain.FormatMoney(req.OpeningCents)))
	return domain.ShiftResponse{Shift: *saved}, nil
}

// CloseShift reconciles the caller's open shift against the cash sales and
// expenses recorded since it opened.
func (s *Service) CloseShift(ctx context.Context, req domain.ShiftCloseRequest) (domain.ShiftResponse, error) {
	ctx, cancel := commitContext(ctx)
	defer cancel()

	actor, err := s.authorize(ctx, ActionShiftManage)
	if err != nil {
		return domain.ShiftResponse{}, err
	}
	if req.ClosingCents < 0 {
		return domain.ShiftResponse{}, fmt.Errorf("%w: closing amount cannot be negative", store.ErrValidation)
	}

	closed, totals, err := s.repo.CloseShift(ctx, strings.TrimSpace(req.ShiftID), actor.Username, req.ClosingCents, s.now())
	if err != nil {
		return domain.ShiftResponse{}, s.classify("close_shift", err)
	}

	detail := fmt.Sprintf("closing=%s", domain.FormatMoney(req.ClosingCents))
	if closed.ExpectedCents != nil && closed.DifferenceCents != nil {
		detail += fmt.Sprintf(",expected=%s,difference=%s", domain.FormatMoney(*closed.ExpectedCents), domain.FormatMoney(*closed.DifferenceCents))
	}
	s.logAudit(ctx, closed.StoreID, "shift_close", "shift", closed.ID, detail)
	return domain.ShiftResponse{Shift: *closed, Totals: &totals}, nil
}

func (s *Service) AddExpense(ctx context.Context, req domain.ExpenseRequest) (domain.CashExpense, error) {
	ctx, cancel := commitContext(ctx)
	defer cancel()

	actor, err := s.authorize(ctx, ActionShiftManage)
	if err != nil {
		return domain.CashExpense{}, err
	}
	category := strings.TrimSpace(req.Category)
	if req.AmountCents <= 0 || category == "" {
		return domain.CashExpense{}, fmt.Errorf("%w: expense needs a positive amount and a category", store.ErrValidation)
	}

	saved, err := s.repo.AddExpense(ctx, domain.CashExpense{
		ID:          xid.New("exp"),
		ShiftID:     strings.TrimSpace(req.ShiftID),
		UserID:      actor.Username,
		AmountCents: req.AmountCents,
		Category:    category,
		Description: strings.TrimSpace(req.Description),
		CreatedAt:   s.now(),
	})
	if err != nil {
		return domain.CashExpense{}, s.classify("add_expense", err)
	}

	storeID := ""
	if shift, err := s.repo.GetShift(ctx, saved.ShiftID); err == nil {
		storeID = shift.StoreID
	}
	s.logAudit(ctx, storeID, "expense_add", "shift", saved.ShiftID, fmt.Sprintf("amount=%s,category=%s", domain.FormatMoney(saved.AmountCents), saved.Category))
	return *saved, nil
}

// GetActiveShift returns the store's open shift with its running totals.
func (s *Service) GetActiveShift(ctx context.Context, storeID string) (domain.ShiftResponse, error) {
	shift, err := s.repo.GetActiveShift(ctx, s.storeKey(storeID))
	if err != nil {
		return domain.ShiftResponse{}, s.classify("get_active_shift", err)
	}
	totals, err := s.repo.ShiftTotals(ctx, *shift, s.now())
	if err != nil {
		return domain.ShiftResponse{}, s.classify("shift_totals", err)
	}
	return domain.ShiftResponse{Shift: *shift, Totals: &totals}, nil
}
