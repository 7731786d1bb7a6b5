package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kasirkredit/backend/internal/domain"
)

func newTestCache(t *testing.T) (*RedisStatementCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := NewRedisClient(mr.Addr(), "", 0)
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStatementCache(client), mr
}

func TestRedisStatementCacheRoundTrip(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()
	require.NoError(t, c.Ping(ctx))

	_, found, err := c.Get(ctx, "CLI-0001")
	require.NoError(t, err)
	assert.False(t, found)

	statement := &domain.ClientStatement{
		Client:               domain.Client{ID: "CLI-0001", Name: "Maria Gonzalez", CreditLimitCents: 100000, CreditUsedCents: 30000},
		AvailableCreditCents: 70000,
		OutstandingCents:     30000,
		GeneratedAt:          time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	require.NoError(t, c.Set(ctx, "CLI-0001", statement, time.Minute))

	got, found, err := c.Get(ctx, "CLI-0001")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, statement.OutstandingCents, got.OutstandingCents)
	assert.Equal(t, statement.Client.Name, got.Client.Name)
	assert.True(t, statement.GeneratedAt.Equal(got.GeneratedAt))
}

func TestRedisStatementCacheExpiresAndInvalidates(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	statement := &domain.ClientStatement{Client: domain.Client{ID: "CLI-0002"}}
	require.NoError(t, c.Set(ctx, "CLI-0002", statement, time.Minute))
	mr.FastForward(2 * time.Minute)

	_, found, err := c.Get(ctx, "CLI-0002")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, c.Set(ctx, "CLI-0002", statement, time.Minute))
	require.NoError(t, c.Invalidate(ctx, "CLI-0002"))
	_, found, err = c.Get(ctx, "CLI-0002")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestNoopStatementCacheNeverHits(t *testing.T) {
	var c StatementCache = NoopStatementCache{}
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "CLI-0001", &domain.ClientStatement{}, time.Minute))
	_, found, err := c.Get(ctx, "CLI-0001")
	require.NoError(t, err)
	assert.False(t, found)
	assert.NoError(t, c.Invalidate(ctx, "CLI-0001"))
	assert.NoError(t, c.InvalidateAll(ctx))
}

func TestRedisStatementCacheInvalidateAll(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	for _, id := range []string{"CLI-0001", "CLI-0002", "CLI-0003"} {
		require.NoError(t, c.Set(ctx, id, &domain.ClientStatement{Client: domain.Client{ID: id}}, time.Minute))
	}
	require.NoError(t, mr.Set("kasirkredit:lock:overdue-sweep", "held"))

	require.NoError(t, c.InvalidateAll(ctx))
	for _, id := range []string{"CLI-0001", "CLI-0002", "CLI-0003"} {
		_, found, err := c.Get(ctx, id)
		require.NoError(t, err)
		assert.False(t, found, id)
	}
	assert.True(t, mr.Exists("kasirkredit:lock:overdue-sweep"))
}
