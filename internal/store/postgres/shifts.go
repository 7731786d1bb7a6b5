package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"kasirkredit/backend/internal/domain"
	"kasirkredit/backend/internal/ledger"
	"kasirkredit/backend/internal/store"
	"kasirkredit/backend/internal/xid"
)

const shiftColumns = `id, store_id, user_id, opening_cents, status, opened_at,
	closing_cents, expected_cents, difference_cents, closed_at`

func (s *Store) OpenShift(ctx context.Context, shift domain.CashShift) (*domain.CashShift, error) {
	shift.StoreID = domain.NormalizeStoreID(shift.StoreID)
	if shift.StoreID == "" || strings.TrimSpace(shift.UserID) == "" || shift.OpeningCents < 0 {
		return nil, store.ErrValidation
	}
	if shift.ID == "" {
		shift.ID = xid.New("shift")
	}
	if shift.OpenedAt.IsZero() {
		shift.OpenedAt = time.Now().UTC()
	}
	shift.Status = domain.ShiftStatusOpen
	shift.ClosingCents = nil
	shift.ExpectedCents = nil
	shift.DifferenceCents = nil
	shift.ClosedAt = nil

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cash_shifts (id, store_id, user_id, opening_cents, status, opened_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, shift.ID, shift.StoreID, shift.UserID, shift.OpeningCents, shift.Status, shift.OpenedAt)
	if err != nil {
		// cash_shifts_one_open_per_store rejects a second OPEN row for the store.
		if isUniqueViolation(err) {
			return nil, store.ErrShiftAlreadyOpen
		}
		return nil, err
	}
	saved := shift
	return &saved, nil
}

func (s *Store) GetShift(ctx context.Context, shiftID string) (*domain.CashShift, error) {
	return scanShift(s.db.QueryRowContext(ctx, `
		SELECT `+shiftColumns+`
		FROM cash_shifts
		WHERE id = $1
	`, shiftID))
}

func (s *Store) GetActiveShift(ctx context.Context, storeID string) (*domain.CashShift, error) {
	return scanShift(s.db.QueryRowContext(ctx, `
		SELECT `+shiftColumns+`
		FROM cash_shifts
		WHERE store_id = $1 AND status = 'OPEN'
		ORDER BY opened_at DESC
		LIMIT 1
	`, domain.NormalizeStoreID(storeID)))
}

func (s *Store) ShiftTotals(ctx context.Context, shift domain.CashShift, until time.Time) (domain.ShiftTotals, error) {
	return shiftTotals(ctx, s.db, shift, until)
}

func shiftTotals(ctx context.Context, q queryer, shift domain.CashShift, until time.Time) (domain.ShiftTotals, error) {
	var totals domain.ShiftTotals
	if err := q.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(total_cents), 0)
		FROM sales
		WHERE store_id = $1
			AND type = 'CONTADO'
			AND NOT voided
			AND created_at >= $2
			AND created_at <= $3
	`, shift.StoreID, shift.OpenedAt, until).Scan(&totals.CashSalesCents); err != nil {
		return domain.ShiftTotals{}, err
	}
	if err := q.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(amount_cents), 0) FROM cash_expenses WHERE shift_id = $1
	`, shift.ID).Scan(&totals.ExpensesCents); err != nil {
		return domain.ShiftTotals{}, err
	}
	return totals, nil
}

func (s *Store) CloseShift(ctx context.Context, shiftID string, userID string, closingCents int64, closedAt time.Time) (*domain.CashShift, domain.ShiftTotals, error) {
	if closingCents < 0 {
		return nil, domain.ShiftTotals{}, store.ErrValidation
	}
	if closedAt.IsZero() {
		closedAt = time.Now().UTC()
	}

	var closed domain.CashShift
	var totals domain.ShiftTotals
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		shift, err := scanShift(tx.QueryRowContext(ctx, `
			SELECT `+shiftColumns+`
			FROM cash_shifts
			WHERE id = $1 AND user_id = $2 AND status = 'OPEN'
			FOR UPDATE
		`, shiftID, userID))
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return store.ErrShiftNotFound
			}
			return err
		}

		totals, err = shiftTotals(ctx, tx, *shift, closedAt)
		if err != nil {
			return err
		}
		closed = ledger.CloseShift(*shift, totals, closingCents, closedAt)

		_, err = tx.ExecContext(ctx, `
			UPDATE cash_shifts
			SET status = $2, closing_cents = $3, expected_cents = $4, difference_cents = $5, closed_at = $6
			WHERE id = $1
		`, closed.ID, closed.Status, nullInt64(closed.ClosingCents), nullInt64(closed.ExpectedCents),
			nullInt64(closed.DifferenceCents), nullTime(closed.ClosedAt))
		return err
	})
	if err != nil {
		return nil, domain.ShiftTotals{}, err
	}
	return &closed, totals, nil
}

func (s *Store) AddExpense(ctx context.Context, expense domain.CashExpense) (*domain.CashExpense, error) {
	expense.Category = strings.TrimSpace(expense.Category)
	if expense.AmountCents <= 0 || expense.Category == "" {
		return nil, store.ErrValidation
	}
	if expense.ID == "" {
		expense.ID = xid.New("exp")
	}
	if expense.CreatedAt.IsZero() {
		expense.CreatedAt = time.Now().UTC()
	}

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var status string
		err := tx.QueryRowContext(ctx, `
			SELECT status FROM cash_shifts WHERE id = $1 AND user_id = $2 FOR UPDATE
		`, expense.ShiftID, expense.UserID).Scan(&status)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return store.ErrShiftNotFound
			}
			return err
		}
		if status != domain.ShiftStatusOpen {
			return store.ErrShiftClosed
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO cash_expenses (id, shift_id, user_id, amount_cents, category, description, created_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7)
		`, expense.ID, expense.ShiftID, expense.UserID, expense.AmountCents, expense.Category,
			nullIfEmpty(expense.Description), expense.CreatedAt)
		return err
	})
	if err != nil {
		return nil, err
	}
	saved := expense
	return &saved, nil
}

func scanShift(row scanner) (*domain.CashShift, error) {
	var shift domain.CashShift
	var closing, expected, difference sql.NullInt64
	var closedAt sql.NullTime
	err := row.Scan(
		&shift.ID, &shift.StoreID, &shift.UserID, &shift.OpeningCents, &shift.Status, &shift.OpenedAt,
		&closing, &expected, &difference, &closedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	shift.OpenedAt = shift.OpenedAt.UTC()
	shift.ClosingCents = int64Ptr(closing)
	shift.ExpectedCents = int64Ptr(expected)
	shift.DifferenceCents = int64Ptr(difference)
	shift.ClosedAt = timePtr(closedAt)
	return &shift, nil
}
