package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"kasirkredit/backend/internal/domain"
	"kasirkredit/backend/internal/ledger"
	"kasirkredit/backend/internal/store"
	"kasirkredit/backend/internal/xid"
)

type scanner interface {
	Scan(dest ...any) error
}

const outstandingInstallmentsQuery = `
	SELECT i.id, i.plan_id, i.client_id, i.number, i.amount_cents, i.due_date, i.paid_cents,
		i.status, i.paid_at, p.created_at
	FROM installments i
	JOIN credit_plans p ON p.id = i.plan_id
	WHERE p.client_id = $1
		AND p.status = 'ACTIVE'
		AND i.status IN ('PENDING', 'PARTIAL', 'OVERDUE')
	ORDER BY i.due_date, p.created_at, i.number, i.id
`

func (s *Store) ListOutstandingInstallments(ctx context.Context, clientID string) ([]domain.Installment, error) {
	if _, err := s.GetClient(ctx, clientID); err != nil {
		return nil, err
	}
	return outstandingInstallments(ctx, s.db, clientID, false)
}

func outstandingInstallments(ctx context.Context, q queryer, clientID string, forUpdate bool) ([]domain.Installment, error) {
	query := outstandingInstallmentsQuery
	if forUpdate {
		query += " FOR UPDATE OF i"
	}

	rows, err := q.QueryContext(ctx, query, clientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]domain.Installment, 0, 8)
	for rows.Next() {
		var planCreatedAt time.Time
		inst, err := scanInstallment(rows, &planCreatedAt)
		if err != nil {
			return nil, err
		}
		inst.PlanCreatedAt = planCreatedAt.UTC()
		result = append(result, inst)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ledger.SortForAllocation(result), nil
}

func scanInstallment(row scanner, extra ...any) (domain.Installment, error) {
	var inst domain.Installment
	var paidAt sql.NullTime
	dest := []any{
		&inst.ID, &inst.PlanID, &inst.ClientID, &inst.Number, &inst.AmountCents,
		&inst.DueDate, &inst.PaidCents, &inst.Status, &paidAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return domain.Installment{}, err
	}
	inst.DueDate = ledger.DateOf(inst.DueDate)
	inst.PaidAt = timePtr(paidAt)
	return inst, nil
}

func (s *Store) ApplyPayment(ctx context.Context, payment domain.Payment) (*domain.Payment, domain.Allocation, error) {
	if payment.AmountCents <= 0 {
		return nil, domain.Allocation{}, store.ErrValidation
	}
	if payment.ID == "" {
		payment.ID = xid.New("pay")
	}
	if payment.PaymentDate.IsZero() {
		payment.PaymentDate = time.Now().UTC()
	}

	var allocation domain.Allocation
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := lockClient(ctx, tx, payment.ClientID); err != nil {
			return err
		}
		candidates, err := outstandingInstallments(ctx, tx, payment.ClientID, true)
		if err != nil {
			return err
		}

		var updated []domain.Installment
		allocation, updated = ledger.Allocate(candidates, payment.AmountCents, payment.PaymentDate)
		if allocation.AppliedCents == 0 {
			return fmt.Errorf("%w: client %s has no outstanding installments", store.ErrValidation, payment.ClientID)
		}

		planIDs := make([]string, 0, len(updated))
		seen := make(map[string]struct{}, len(updated))
		for _, inst := range updated {
			if _, err := tx.ExecContext(ctx, `
				UPDATE installments SET paid_cents = $2, status = $3, paid_at = $4 WHERE id = $1
			`, inst.ID, inst.PaidCents, inst.Status, nullTime(inst.PaidAt)); err != nil {
				return err
			}
			if _, ok := seen[inst.PlanID]; !ok {
				seen[inst.PlanID] = struct{}{}
				planIDs = append(planIDs, inst.PlanID)
			}
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE credit_plans p
			SET status = 'COMPLETED'
			WHERE p.id = ANY($1)
				AND NOT EXISTS (
					SELECT 1 FROM installments i WHERE i.plan_id = p.id AND i.status <> 'PAID'
				)
		`, planIDs); err != nil {
			return err
		}

		payment.AppliedCents = allocation.AppliedCents
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO payments (id, client_id, amount_cents, applied_cents, payment_date, user_id, notes)
			VALUES ($1,$2,$3,$4,$5,$6,$7)
		`, payment.ID, payment.ClientID, payment.AmountCents, payment.AppliedCents, payment.PaymentDate,
			payment.UserID, nullIfEmpty(payment.Notes)); err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE clients SET credit_used_cents = credit_used_cents - $2 WHERE id = $1
		`, payment.ClientID, allocation.AppliedCents)
		return err
	})
	if err != nil {
		if errors.Is(err, store.ErrValidation) {
			return nil, allocation, err
		}
		return nil, domain.Allocation{}, err
	}
	saved := payment
	return &saved, allocation, nil
}

func (s *Store) MarkOverdue(ctx context.Context, today time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE installments i
		SET status = 'OVERDUE'
		FROM credit_plans p
		WHERE p.id = i.plan_id
			AND p.status = 'ACTIVE'
			AND i.status = 'PENDING'
			AND i.paid_cents = 0
			AND i.due_date < $1
	`, ledger.DateOf(today))
	if err != nil {
		return 0, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(affected), nil
}

func (s *Store) ListCreditDrift(ctx context.Context) ([]domain.CreditDrift, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.credit_used_cents, COALESCE(SUM(i.amount_cents - i.paid_cents), 0) AS outstanding
		FROM clients c
		LEFT JOIN credit_plans p ON p.client_id = c.id AND p.status = 'ACTIVE'
		LEFT JOIN installments i ON i.plan_id = p.id
		GROUP BY c.id, c.credit_used_cents
		HAVING c.credit_used_cents <> COALESCE(SUM(i.amount_cents - i.paid_cents), 0)
		ORDER BY c.id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	drifts := make([]domain.CreditDrift, 0)
	for rows.Next() {
		var drift domain.CreditDrift
		if err := rows.Scan(&drift.ClientID, &drift.CreditUsedCents, &drift.OutstandingCents); err != nil {
			return nil, err
		}
		drift.DifferenceCents = drift.CreditUsedCents - drift.OutstandingCents
		drifts = append(drifts, drift)
	}
	return drifts, rows.Err()
}
