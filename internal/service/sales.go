package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"kasirkredit/backend/internal/domain"
	"kasirkredit/backend/internal/ledger"
	"kasirkredit/backend/internal/store"
	"kasirkredit/backend/internal/xid"
)

// CreateSale validates the request, pre-checks credit and stock, and commits
// the sale through the repository in one unit. Receipt and audit side effects
// run only after the commit and never fail the sale.
func (s *Service) CreateSale(ctx context.Context, req domain.SaleRequest) (domain.SaleResponse, error) {
	ctx, cancel := commitContext(ctx)
	defer cancel()

	storeKey := s.storeKey(req.StoreID)
	req.ClientID = strings.TrimSpace(req.ClientID)

	items, subtotal, err := normalizeItems(req.Items)
	if err != nil {
		return domain.SaleResponse{}, err
	}
	if req.DiscountCents < 0 {
		return domain.SaleResponse{}, fmt.Errorf("%w: discount cannot be negative", store.ErrValidation)
	}
	total := subtotal - req.DiscountCents
	if total < 0 {
		return domain.SaleResponse{}, fmt.Errorf("%w: discount %s exceeds subtotal %s",
			store.ErrValidation, domain.FormatMoney(req.DiscountCents), domain.FormatMoney(subtotal))
	}

	actor, err := s.authorize(ctx, ActionSaleCreate)
	if err != nil {
		return domain.SaleResponse{}, err
	}

	now := s.now()
	saleID := xid.New("sale")
	in := domain.NewSale{Sale: domain.Sale{
		ID:            saleID,
		StoreID:       storeKey,
		ClientID:      req.ClientID,
		Type:          req.Type,
		SubtotalCents: subtotal,
		DiscountCents: req.DiscountCents,
		TotalCents:    total,
		UserID:        actor.Username,
		CreatedAt:     now,
		Items:         items,
	}}

	switch req.Type {
	case domain.SaleTypeCash:
		if req.Installments != 0 {
			return domain.SaleResponse{}, fmt.Errorf("%w: installments only apply to %s sales", store.ErrValidation, domain.SaleTypeCredit)
		}
	case domain.SaleTypeCredit:
		if req.ClientID == "" {
			return domain.SaleResponse{}, fmt.Errorf("%w: client_id is required for %s sales", store.ErrValidation, domain.SaleTypeCredit)
		}
		installments, err := ledger.GenerateInstallments(now, total, req.Installments)
		if err != nil {
			return domain.SaleResponse{}, s.classify("generate_installments", err)
		}
		client, err := s.repo.GetClient(ctx, req.ClientID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return domain.SaleResponse{}, fmt.Errorf("%w: client %s", store.ErrNotFound, req.ClientID)
			}
			return domain.SaleResponse{}, s.classify("get_client", err)
		}
		if err := store.CheckCredit(*client, total); err != nil {
			return domain.SaleResponse{}, err
		}

		planID := xid.New("plan")
		for i := range installments {
			installments[i].ID = xid.New("inst")
			installments[i].PlanID = planID
			installments[i].ClientID = client.ID
		}
		in.Plan = &domain.CreditPlan{
			ID:                planID,
			SaleID:            saleID,
			ClientID:          client.ID,
			TotalCents:        total,
			InstallmentsCount: req.Installments,
			InstallmentCents:  installments[0].AmountCents,
			Status:            domain.PlanStatusActive,
			CreatedAt:         now,
		}
		in.Installments = installments
	default:
		return domain.SaleResponse{}, fmt.Errorf("%w: sale type must be %s or %s", store.ErrValidation, domain.SaleTypeCash, domain.SaleTypeCredit)
	}

	order, required, err := store.RequiredStock(items)
	if err != nil {
		return domain.SaleResponse{}, err
	}
	available, err := s.repo.CheckAvailability(ctx, storeKey, order)
	if err != nil {
		return domain.SaleResponse{}, s.classify("check_availability", err)
	}
	if err := store.CoverStock(order, required, available); err != nil {
		return domain.SaleResponse{}, err
	}

	sale, err := s.repo.CreateSale(ctx, in)
	if err != nil {
		return domain.SaleResponse{}, s.classify("create_sale", err)
	}

	if s.notifier != nil {
		if err := s.notifier.SaleCommitted(ctx, *sale); err != nil {
			log.Warn().Err(err).Str("sale_id", sale.ID).Int64("sale_number", sale.Number).Msg("receipt: failed to queue notification")
		}
	}
	s.invalidateStatement(ctx, sale.ClientID)
	s.logAudit(ctx, storeKey, "sale_create", "sale", sale.ID,
		fmt.Sprintf("number=%d,type=%s,total=%s", sale.Number, sale.Type, domain.FormatMoney(sale.TotalCents)))

	return domain.SaleResponse{
		SaleID:     sale.ID,
		SaleNumber: sale.Number,
		TotalCents: sale.TotalCents,
	}, nil
}

func (s *Service) GetSale(ctx context.Context, saleID string) (domain.SaleDetailResponse, error) {
	sale, err := s.repo.GetSale(ctx, strings.TrimSpace(saleID))
	if err != nil {
		return domain.SaleDetailResponse{}, s.classify("get_sale", err)
	}

	resp := domain.SaleDetailResponse{Sale: *sale}
	if sale.Type != domain.SaleTypeCredit {
		return resp, nil
	}
	plan, installments, err := s.repo.GetPlanBySale(ctx, sale.ID)
	if err != nil {
		return domain.SaleDetailResponse{}, s.classify("get_plan", err)
	}
	resp.Plan = plan
	resp.Installments = installments
	return resp, nil
}

// VoidSale reverses a sale: stock goes back to its store and, for a credit
// sale without payments, the plan is cancelled and the credit released.
// The manager PIN is checked by the caller.
func (s *Service) VoidSale(ctx context.Context, saleID string, req domain.VoidSaleRequest) (domain.Sale, error) {
	ctx, cancel := commitContext(ctx)
	defer cancel()

	if _, err := s.authorize(ctx, ActionSaleVoid); err != nil {
		return domain.Sale{}, err
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		return domain.Sale{}, fmt.Errorf("%w: void reason is required", store.ErrValidation)
	}

	sale, err := s.repo.VoidSale(ctx, strings.TrimSpace(saleID), reason, s.now())
	if err != nil {
		return domain.Sale{}, s.classify("void_sale", err)
	}

	s.invalidateStatement(ctx, sale.ClientID)
	s.logAudit(ctx, sale.StoreID, "sale_void", "sale", sale.ID, fmt.Sprintf("number=%d,reason=%s", sale.Number, reason))
	return *sale, nil
}

func (s *Service) CheckAvailability(ctx context.Context, storeID string, productIDs []string) (domain.AvailabilityResponse, error) {
	storeKey := s.storeKey(storeID)
	ids := make([]string, 0, len(productIDs))
	for _, id := range productIDs {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return domain.AvailabilityResponse{}, fmt.Errorf("%w: at least one product_id is required", store.ErrValidation)
	}

	stock, err := s.repo.CheckAvailability(ctx, storeKey, ids)
	if err != nil {
		return domain.AvailabilityResponse{}, s.classify("check_availability", err)
	}
	return domain.AvailabilityResponse{StoreID: storeKey, Stock: stock}, nil
}

func (s *Service) ReceiveStock(ctx context.Context, req domain.StockReceiptRequest) (domain.StockLevel, error) {
	if _, err := s.authorize(ctx, ActionStockReceive); err != nil {
		return domain.StockLevel{}, err
	}
	if req.Qty < 1 || strings.TrimSpace(req.ProductID) == "" {
		return domain.StockLevel{}, fmt.Errorf("%w: product_id and a positive qty are required", store.ErrValidation)
	}
	if req.Qty > domain.MaxLineQty {
		return domain.StockLevel{}, fmt.Errorf("%w: qty exceeds %d", store.ErrValidation, domain.MaxLineQty)
	}

	level, err := s.repo.ReceiveStock(ctx, s.storeKey(req.StoreID), req.ProductID, req.Qty)
	if err != nil {
		return domain.StockLevel{}, s.classify("receive_stock", err)
	}
	s.logAudit(ctx, level.StoreID, "stock_receive", "product", level.ProductID, fmt.Sprintf("qty=%d,on_hand=%d", req.Qty, level.Qty))
	return level, nil
}

// normalizeItems validates the lines and merges repeated lines of the same
// product at the same price, keeping first-seen order.
func normalizeItems(inputs []domain.SaleItemInput) ([]domain.SaleItem, int64, error) {
	if len(inputs) == 0 {
		return nil, 0, fmt.Errorf("%w: a sale needs at least one item", store.ErrValidation)
	}

	type lineKey struct {
		productID string
		price     int64
	}
	index := make(map[lineKey]int, len(inputs))
	items := make([]domain.SaleItem, 0, len(inputs))
	subtotal := int64(0)

	for _, in := range inputs {
		productID := strings.TrimSpace(in.ProductID)
		switch {
		case productID == "":
			return nil, 0, fmt.Errorf("%w: product_id is required", store.ErrValidation)
		case in.Qty < 1:
			return nil, 0, fmt.Errorf("%w: qty for %s must be at least 1", store.ErrValidation, productID)
		case in.Qty > domain.MaxLineQty:
			return nil, 0, fmt.Errorf("%w: qty for %s exceeds %d", store.ErrValidation, productID, domain.MaxLineQty)
		case in.UnitPriceCents < 0:
			return nil, 0, fmt.Errorf("%w: unit price for %s cannot be negative", store.ErrValidation, productID)
		case in.UnitPriceCents > domain.MaxUnitPriceCents:
			return nil, 0, fmt.Errorf("%w: unit price for %s exceeds %s", store.ErrValidation, productID, domain.FormatMoney(domain.MaxUnitPriceCents))
		}

		lineTotal, ok := domain.MulCents(int64(in.Qty), in.UnitPriceCents)
		if !ok {
			return nil, 0, fmt.Errorf("%w: line total for %s is out of range", store.ErrValidation, productID)
		}
		if subtotal, ok = domain.AddCents(subtotal, lineTotal); !ok {
			return nil, 0, fmt.Errorf("%w: sale subtotal is out of range", store.ErrValidation)
		}
		key := lineKey{productID: productID, price: in.UnitPriceCents}
		if at, seen := index[key]; seen {
			qty, okQty := domain.AddQty(items[at].Qty, in.Qty)
			sum, okSum := domain.AddCents(items[at].SubtotalCents, lineTotal)
			if !okQty || !okSum {
				return nil, 0, fmt.Errorf("%w: merged line for %s is out of range", store.ErrValidation, productID)
			}
			items[at].Qty = qty
			items[at].SubtotalCents = sum
			continue
		}
		index[key] = len(items)
		items = append(items, domain.SaleItem{
			ProductID:      productID,
			Qty:            in.Qty,
			UnitPriceCents: in.UnitPriceCents,
			SubtotalCents:  lineTotal,
		})
	}
	return items, subtotal, nil
}
