package service

import (
	"context"
	"fmt"
	"strings"

	"kasirkredit/backend/internal/domain"
	"kasirkredit/backend/internal/store"
)

// CreateClient registers a credit client with an unused limit.
func (s *Service) CreateClient(ctx context.Context, req domain.ClientCreateRequest) (domain.Client, error) {
	if _, err := s.authorize(ctx, ActionLedgerAdmin); err != nil {
		return domain.Client{}, err
	}
	name := strings.TrimSpace(req.Name)
	if name == "" || req.CreditLimitCents < 0 {
		return domain.Client{}, fmt.Errorf("%w: client needs a name and a non-negative credit limit", store.ErrValidation)
	}

	saved, err := s.repo.CreateClient(ctx, domain.Client{
		ID:               strings.TrimSpace(req.ID),
		Name:             name,
		CreditLimitCents: req.CreditLimitCents,
		CreatedAt:        s.now(),
	})
	if err != nil {
		return domain.Client{}, s.classify("create_client", err)
	}

	s.logAudit(ctx, "", "client_create", "client", saved.ID, fmt.Sprintf("limit=%s", domain.FormatMoney(saved.CreditLimitCents)))
	return *saved, nil
}
