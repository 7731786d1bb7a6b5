package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"kasirkredit/backend/internal/domain"
	"kasirkredit/backend/internal/store"
	"kasirkredit/backend/internal/xid"
)

func (s *Store) CreateSale(ctx context.Context, in domain.NewSale) (*domain.Sale, error) {
	sale := in.Sale
	if len(sale.Items) == 0 {
		return nil, store.ErrValidation
	}
	isCredit := sale.Type == domain.SaleTypeCredit
	if isCredit && (sale.ClientID == "" || in.Plan == nil || len(in.Installments) == 0) {
		return nil, store.ErrValidation
	}
	if sale.ID == "" {
		sale.ID = xid.New("sale")
	}
	if sale.CreatedAt.IsZero() {
		sale.CreatedAt = time.Now().UTC()
	}
	sale.StoreID = domain.NormalizeStoreID(sale.StoreID)
	sale.Voided = false

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		// Sequence values are never handed out twice, even when this tx rolls back.
		if err := tx.QueryRowContext(ctx, `SELECT nextval('sale_number_seq')`).Scan(&sale.Number); err != nil {
			return err
		}

		if isCredit {
			client, err := lockClient(ctx, tx, sale.ClientID)
			if err != nil {
				if errors.Is(err, store.ErrNotFound) {
					return fmt.Errorf("%w: client %s", store.ErrNotFound, sale.ClientID)
				}
				return err
			}
			if err := store.CheckCredit(*client, sale.TotalCents); err != nil {
				return err
			}
		}

		order, required, err := store.RequiredStock(sale.Items)
		if err != nil {
			return err
		}
		available, err := lockStock(ctx, tx, sale.StoreID, order)
		if err != nil {
			return err
		}
		if err := store.CoverStock(order, required, available); err != nil {
			return err
		}
		for _, productID := range order {
			res, err := tx.ExecContext(ctx, `
				UPDATE product_stocks
				SET qty = qty - $1, updated_at = now()
				WHERE store_id = $2 AND product_id = $3 AND qty >= $1
			`, required[productID], sale.StoreID, productID)
			if err != nil {
				return err
			}
			affected, err := res.RowsAffected()
			if err != nil {
				return err
			}
			if affected != 1 {
				return &store.InsufficientStockError{ProductID: productID, Available: available[productID], Required: required[productID]}
			}
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO sales (
				id, number, store_id, client_id, type, subtotal_cents, discount_cents,
				total_cents, user_id, created_at, voided
			)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,false)
		`, sale.ID, sale.Number, sale.StoreID, nullIfEmpty(sale.ClientID), sale.Type, sale.SubtotalCents,
			sale.DiscountCents, sale.TotalCents, sale.UserID, sale.CreatedAt); err != nil {
			return err
		}

		for i := range sale.Items {
			sale.Items[i].SaleID = sale.ID
			item := sale.Items[i]
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO sale_items (sale_id, line_no, product_id, qty, unit_price_cents, subtotal_cents)
				VALUES ($1,$2,$3,$4,$5,$6)
			`, sale.ID, i+1, item.ProductID, item.Qty, item.UnitPriceCents, item.SubtotalCents); err != nil {
				return err
			}
		}

		if !isCredit {
			return nil
		}
		return insertPlan(ctx, tx, sale, *in.Plan, in.Installments)
	})
	if err != nil {
		return nil, err
	}
	return &sale, nil
}

func insertPlan(ctx context.Context, tx *sql.Tx, sale domain.Sale, plan domain.CreditPlan, installments []domain.Installment) error {
	if plan.ID == "" {
		plan.ID = xid.New("plan")
	}
	if plan.CreatedAt.IsZero() {
		plan.CreatedAt = sale.CreatedAt
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO credit_plans (
			id, sale_id, client_id, total_cents, installments_count, installment_cents, status, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, plan.ID, sale.ID, sale.ClientID, plan.TotalCents, plan.InstallmentsCount, plan.InstallmentCents,
		domain.PlanStatusActive, plan.CreatedAt); err != nil {
		return err
	}

	for _, inst := range installments {
		if inst.ID == "" {
			inst.ID = xid.New("inst")
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO installments (id, plan_id, client_id, number, amount_cents, due_date, paid_cents, status)
			VALUES ($1,$2,$3,$4,$5,$6,0,$7)
		`, inst.ID, plan.ID, sale.ClientID, inst.Number, inst.AmountCents, inst.DueDate, domain.InstallmentPending); err != nil {
			return err
		}
	}

	_, err := tx.ExecContext(ctx, `
		UPDATE clients SET credit_used_cents = credit_used_cents + $2 WHERE id = $1
	`, sale.ClientID, sale.TotalCents)
	return err
}

func (s *Store) GetSale(ctx context.Context, saleID string) (*domain.Sale, error) {
	return getSale(ctx, s.db, saleID, false)
}

func getSale(ctx context.Context, q queryer, saleID string, forUpdate bool) (*domain.Sale, error) {
	query := `
		SELECT id, number, store_id, COALESCE(client_id, ''), type, subtotal_cents, discount_cents,
			total_cents, user_id, created_at, voided, voided_at, COALESCE(void_reason, '')
		FROM sales
		WHERE id = $1
	`
	if forUpdate {
		query += " FOR UPDATE"
	}

	var sale domain.Sale
	var voidedAt sql.NullTime
	err := q.QueryRowContext(ctx, query, saleID).Scan(
		&sale.ID, &sale.Number, &sale.StoreID, &sale.ClientID, &sale.Type, &sale.SubtotalCents,
		&sale.DiscountCents, &sale.TotalCents, &sale.UserID, &sale.CreatedAt, &sale.Voided, &voidedAt, &sale.VoidReason,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	sale.CreatedAt = sale.CreatedAt.UTC()
	sale.VoidedAt = timePtr(voidedAt)

	rows, err := q.QueryContext(ctx, `
		SELECT product_id, qty, unit_price_cents, subtotal_cents
		FROM sale_items
		WHERE sale_id = $1
		ORDER BY line_no
	`, saleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sale.Items = make([]domain.SaleItem, 0, 8)
	for rows.Next() {
		item := domain.SaleItem{SaleID: sale.ID}
		if err := rows.Scan(&item.ProductID, &item.Qty, &item.UnitPriceCents, &item.SubtotalCents); err != nil {
			return nil, err
		}
		sale.Items = append(sale.Items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &sale, nil
}

func (s *Store) GetPlanBySale(ctx context.Context, saleID string) (*domain.CreditPlan, []domain.Installment, error) {
	plan, err := getPlanBySale(ctx, s.db, saleID, false)
	if err != nil {
		return nil, nil, err
	}
	installments, err := planInstallments(ctx, s.db, *plan)
	if err != nil {
		return nil, nil, err
	}
	return plan, installments, nil
}

func getPlanBySale(ctx context.Context, q queryer, saleID string, forUpdate bool) (*domain.CreditPlan, error) {
	query := `
		SELECT id, sale_id, client_id, total_cents, installments_count, installment_cents, status, created_at
		FROM credit_plans
		WHERE sale_id = $1
	`
	if forUpdate {
		query += " FOR UPDATE"
	}

	var plan domain.CreditPlan
	err := q.QueryRowContext(ctx, query, saleID).Scan(
		&plan.ID, &plan.SaleID, &plan.ClientID, &plan.TotalCents, &plan.InstallmentsCount,
		&plan.InstallmentCents, &plan.Status, &plan.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	plan.CreatedAt = plan.CreatedAt.UTC()
	return &plan, nil
}

func planInstallments(ctx context.Context, q queryer, plan domain.CreditPlan) ([]domain.Installment, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, plan_id, client_id, number, amount_cents, due_date, paid_cents, status, paid_at
		FROM installments
		WHERE plan_id = $1
		ORDER BY number
	`, plan.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]domain.Installment, 0, plan.InstallmentsCount)
	for rows.Next() {
		inst, err := scanInstallment(rows)
		if err != nil {
			return nil, err
		}
		inst.PlanCreatedAt = plan.CreatedAt
		result = append(result, inst)
	}
	return result, rows.Err()
}

func (s *Store) VoidSale(ctx context.Context, saleID string, reason string, at time.Time) (*domain.Sale, error) {
	var voided *domain.Sale
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		sale, err := getSale(ctx, tx, saleID, true)
		if err != nil {
			return err
		}
		if sale.Voided {
			return fmt.Errorf("%w: sale %d is already voided", store.ErrValidation, sale.Number)
		}

		plan, err := getPlanBySale(ctx, tx, saleID, true)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return err
		}
		if plan != nil {
			var paid int64
			if err := tx.QueryRowContext(ctx, `
				SELECT COALESCE(SUM(paid_cents), 0) FROM installments WHERE plan_id = $1
			`, plan.ID).Scan(&paid); err != nil {
				return err
			}
			if paid > 0 {
				return fmt.Errorf("%w: sale %d already has payments and cannot be voided", store.ErrValidation, sale.Number)
			}
		}

		for _, item := range sale.Items {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO product_stocks (store_id, product_id, qty, updated_at)
				VALUES ($1,$2,$3,now())
				ON CONFLICT (store_id, product_id)
				DO UPDATE SET qty = product_stocks.qty + EXCLUDED.qty, updated_at = now()
			`, sale.StoreID, item.ProductID, item.Qty); err != nil {
				return err
			}
		}

		if plan != nil {
			if _, err := tx.ExecContext(ctx, `
				UPDATE credit_plans SET status = $2 WHERE id = $1
			`, plan.ID, domain.PlanStatusCancelled); err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, `
				UPDATE clients SET credit_used_cents = credit_used_cents - $2 WHERE id = $1
			`, plan.ClientID, plan.TotalCents); err != nil {
				return err
			}
		}

		voidedAt := at.UTC()
		if _, err := tx.ExecContext(ctx, `
			UPDATE sales SET voided = true, voided_at = $2, void_reason = $3 WHERE id = $1
		`, sale.ID, voidedAt, reason); err != nil {
			return err
		}
		sale.Voided = true
		sale.VoidedAt = &voidedAt
		sale.VoidReason = reason
		voided = sale
		return nil
	})
	if err != nil {
		return nil, err
	}
	return voided, nil
}
