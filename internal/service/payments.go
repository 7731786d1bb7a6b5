package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"kasirkredit/backend/internal/domain"
	"kasirkredit/backend/internal/ledger"
	"kasirkredit/backend/internal/store"
)

// PreviewPayment shows how amount would be spread over the client's
// outstanding installments without writing anything.
func (s *Service) PreviewPayment(ctx context.Context, clientID string, req domain.PaymentRequest) (domain.PaymentResponse, error) {
	clientID = strings.TrimSpace(clientID)
	if req.AmountCents <= 0 {
		return domain.PaymentResponse{}, fmt.Errorf("%w: payment amount must be positive", store.ErrValidation)
	}

	outstanding, err := s.repo.ListOutstandingInstallments(ctx, clientID)
	if err != nil {
		return domain.PaymentResponse{}, s.classify("list_outstanding", err)
	}
	allocation, _ := ledger.Allocate(outstanding, req.AmountCents, s.now())
	return domain.PaymentResponse{Allocation: allocation, Preview: true}, nil
}

// ApplyPayment commits the allocation PreviewPayment would show for the same
// snapshot and clock.
func (s *Service) ApplyPayment(ctx context.Context, clientID string, req domain.PaymentRequest) (domain.PaymentResponse, error) {
	ctx, cancel := commitContext(ctx)
	defer cancel()

	clientID = strings.TrimSpace(clientID)
	if req.AmountCents <= 0 {
		return domain.PaymentResponse{}, fmt.Errorf("%w: payment amount must be positive", store.ErrValidation)
	}
	actor, err := s.authorize(ctx, ActionPaymentApply)
	if err != nil {
		return domain.PaymentResponse{}, err
	}

	payment, allocation, err := s.repo.ApplyPayment(ctx, domain.Payment{
		ClientID:    clientID,
		AmountCents: req.AmountCents,
		PaymentDate: s.now(),
		UserID:      actor.Username,
		Notes:       strings.TrimSpace(req.Notes),
	})
	if err != nil {
		return domain.PaymentResponse{}, s.classify("apply_payment", err)
	}

	s.invalidateStatement(ctx, clientID)
	s.logAudit(ctx, "", "payment_apply", "client", clientID,
		fmt.Sprintf("payment=%s,amount=%s,applied=%s,installments=%d", payment.ID,
			domain.FormatMoney(payment.AmountCents), domain.FormatMoney(payment.AppliedCents), len(allocation.Changes)))

	return domain.PaymentResponse{Payment: payment, Allocation: allocation}, nil
}

// GetClientStatement returns the client's credit position and the
// installments still owed, served from cache when possible.
func (s *Service) GetClientStatement(ctx context.Context, clientID string) (domain.ClientStatement, error) {
	clientID = strings.TrimSpace(clientID)
	if clientID == "" {
		return domain.ClientStatement{}, fmt.Errorf("%w: client id is required", store.ErrValidation)
	}

	cached, found, err := s.statements.Get(ctx, clientID)
	if err != nil {
		log.Warn().Err(err).Str("client_id", clientID).Msg("cache: statement lookup failed")
	}
	if found && cached != nil {
		return *cached, nil
	}

	client, err := s.repo.GetClient(ctx, clientID)
	if err != nil {
		return domain.ClientStatement{}, s.classify("get_client", err)
	}
	outstanding, err := s.repo.ListOutstandingInstallments(ctx, clientID)
	if err != nil {
		return domain.ClientStatement{}, s.classify("list_outstanding", err)
	}

	statement := domain.ClientStatement{
		Client:               *client,
		AvailableCreditCents: client.AvailableCreditCents(),
		OutstandingCents:     ledger.OutstandingCents(outstanding),
		Installments:         outstanding,
		GeneratedAt:          s.now(),
	}
	if err := s.statements.Set(ctx, clientID, &statement, s.statementTTL); err != nil {
		log.Warn().Err(err).Str("client_id", clientID).Msg("cache: failed to store statement")
	}
	return statement, nil
}

// SweepOverdue stores OVERDUE on every untouched installment whose due date
// has passed.
func (s *Service) SweepOverdue(ctx context.Context) (domain.SweepResponse, error) {
	today := ledger.DateOf(s.now())
	count, err := s.repo.MarkOverdue(ctx, today)
	if err != nil {
		return domain.SweepResponse{}, s.classify("mark_overdue", err)
	}

	log.Info().Int("reclassified", count).Str("as_of", today.Format("2006-01-02")).Msg("ledger: overdue sweep finished")
	if count > 0 {
		if err := s.statements.InvalidateAll(ctx); err != nil {
			log.Warn().Err(err).Msg("cache: failed to flush statements after overdue sweep")
		}
		s.logAudit(ctx, "", "installments_overdue", "installment", "sweep", fmt.Sprintf("count=%d", count))
	}
	return domain.SweepResponse{Reclassified: count, AsOf: today.Format("2006-01-02")}, nil
}

// CreditDrift finds clients whose credit_used counter no longer matches the
// balance of their active installments. With repair set the counter is
// rewritten to the computed balance.
func (s *Service) CreditDrift(ctx context.Context, repair bool) ([]domain.CreditDrift, error) {
	drifts, err := s.repo.ListCreditDrift(ctx)
	if err != nil {
		return nil, s.classify("list_credit_drift", err)
	}

	for i := range drifts {
		drift := &drifts[i]
		event := log.Warn().
			Str("client_id", drift.ClientID).
			Int64("credit_used_cents", drift.CreditUsedCents).
			Int64("outstanding_cents", drift.OutstandingCents)
		if !repair {
			event.Msg("ledger: credit drift detected")
			continue
		}
		if err := s.repo.SetCreditUsed(ctx, drift.ClientID, drift.OutstandingCents); err != nil {
			event.Err(err).Msg("ledger: credit drift repair failed")
			continue
		}
		drift.Repaired = true
		event.Msg("ledger: credit drift repaired")
		s.invalidateStatement(ctx, drift.ClientID)
		s.logAudit(ctx, "", "credit_repair", "client", drift.ClientID,
			fmt.Sprintf("from=%s,to=%s", domain.FormatMoney(drift.CreditUsedCents), domain.FormatMoney(drift.OutstandingCents)))
	}
	return drifts, nil
}
