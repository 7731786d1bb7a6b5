package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"kasirkredit/backend/internal/cache"
	"kasirkredit/backend/internal/domain"
	"kasirkredit/backend/internal/ledger"
	"kasirkredit/backend/internal/store"
	"kasirkredit/backend/internal/xid"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

// ReceiptNotifier is told about every committed sale. Delivery failures are
// logged and never undo the sale.
type ReceiptNotifier interface {
	SaleCommitted(ctx context.Context, sale domain.Sale) error
}

// commitTimeout bounds a detached commit unit.
const commitTimeout = 30 * time.Second

type Service struct {
	repo           store.Repository
	statements     cache.StatementCache
	statementTTL   time.Duration
	notifier       ReceiptNotifier
	permissions    Permissions
	now            func() time.Time
	defaultStoreID string
}

type Option func(*Service)

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

func WithReceiptNotifier(notifier ReceiptNotifier) Option {
	return func(s *Service) {
		s.notifier = notifier
	}
}

func WithPermissions(permissions Permissions) Option {
	return func(s *Service) {
		s.permissions = permissions
	}
}

func WithStatementTTL(ttl time.Duration) Option {
	return func(s *Service) {
		s.statementTTL = ttl
	}
}

func New(repo store.Repository, statements cache.StatementCache, defaultStoreID string, opts ...Option) *Service {
	if defaultStoreID == "" {
		defaultStoreID = "centro"
	}
	if statements == nil {
		statements = cache.NoopStatementCache{}
	}

	s := &Service{
		repo:           repo,
		statements:     statements,
		statementTTL:   2 * time.Minute,
		permissions:    DefaultPermissions(),
		now:            func() time.Time { return time.Now().UTC() },
		defaultStoreID: domain.NormalizeStoreID(defaultStoreID),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// commitContext detaches ctx from the caller's cancellation so a started
// commit runs to completion. A caller that gives up only loses the outcome.
func commitContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), commitTimeout)
}

// authorize returns the authenticated actor when it may perform action.
func (s *Service) authorize(ctx context.Context, action string) (domain.Actor, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || strings.TrimSpace(actor.Username) == "" {
		return domain.Actor{}, fmt.Errorf("%w: authentication required", store.ErrForbidden)
	}
	if !s.permissions.Allowed(actor, action) {
		return domain.Actor{}, fmt.Errorf("%w: role %s may not perform %s", store.ErrForbidden, actor.Role, action)
	}
	return actor, nil
}

func (s *Service) storeKey(storeID string) string {
	key := domain.NormalizeStoreID(storeID)
	if key == "" {
		return s.defaultStoreID
	}
	return key
}

// classify passes domain errors through and hides everything else behind
// ErrPersistence after logging it.
func (s *Service) classify(op string, err error) error {
	if err == nil {
		return nil
	}
	for _, known := range []error{
		store.ErrNotFound,
		store.ErrValidation,
		store.ErrForbidden,
		store.ErrInsufficientStock,
		store.ErrCreditLimitExceeded,
		store.ErrShiftAlreadyOpen,
		store.ErrShiftNotFound,
		store.ErrShiftClosed,
		store.ErrPersistence,
		context.Canceled,
		context.DeadlineExceeded,
	} {
		if errors.Is(err, known) {
			return err
		}
	}
	if errors.Is(err, ledger.ErrInvalidSchedule) {
		return fmt.Errorf("%w: %w", store.ErrValidation, err)
	}

	log.Error().Err(err).Str("op", op).Msg("service: store operation failed")
	return store.ErrPersistence
}

func (s *Service) ListAuditLogs(ctx context.Context, storeID string, date string, limit int) ([]domain.AuditLog, error) {
	if _, err := s.authorize(ctx, ActionAuditRead); err != nil {
		return nil, err
	}
	if limit < 1 {
		limit = 100
	}

	var from time.Time
	if strings.TrimSpace(date) == "" {
		from = s.now().Add(-24 * time.Hour)
	} else {
		parsed, err := time.Parse("2006-01-02", date)
		if err != nil {
			return nil, fmt.Errorf("%w: date must be YYYY-MM-DD", store.ErrValidation)
		}
		from = parsed.UTC()
	}
	to := from.Add(24 * time.Hour)

	logs, err := s.repo.ListAuditLogs(ctx, s.storeKey(storeID), from, to, limit)
	return logs, s.classify("list_audit_logs", err)
}

func (s *Service) logAudit(ctx context.Context, storeID string, action string, entityType string, entityID string, detail string) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}

	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:            xid.New("audit"),
		StoreID:       s.storeKey(storeID),
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     s.now(),
	}); err != nil {
		log.Warn().Err(err).
			Str("action", action).
			Str("entity", entityType+"/"+entityID).
			Msg("audit: failed to write audit log")
	}
}

func (s *Service) invalidateStatement(ctx context.Context, clientID string) {
	if clientID == "" {
		return
	}
	if err := s.statements.Invalidate(ctx, clientID); err != nil {
		log.Warn().Err(err).Str("client_id", clientID).Msg("cache: failed to invalidate statement")
	}
}
