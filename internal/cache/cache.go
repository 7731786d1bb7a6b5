package cache

import (
	"context"
	"time"

	"kasirkredit/backend/internal/domain"
)

// StatementCache holds rendered client statements. Entries are dropped
// whenever a sale, payment or void changes the client's balance.
type StatementCache interface {
	Get(ctx context.Context, clientID string) (*domain.ClientStatement, bool, error)
	Set(ctx context.Context, clientID string, value *domain.ClientStatement, ttl time.Duration) error
	Invalidate(ctx context.Context, clientID string) error
	// InvalidateAll drops every cached statement, for changes that touch
	// clients the caller cannot name.
	InvalidateAll(ctx context.Context) error
}

type NoopStatementCache struct{}

func (NoopStatementCache) Get(_ context.Context, _ string) (*domain.ClientStatement, bool, error) {
	return nil, false, nil
}

func (NoopStatementCache) Set(_ context.Context, _ string, _ *domain.ClientStatement, _ time.Duration) error {
	return nil
}

func (NoopStatementCache) Invalidate(_ context.Context, _ string) error {
	return nil
}

func (NoopStatementCache) InvalidateAll(_ context.Context) error {
	return nil
}
