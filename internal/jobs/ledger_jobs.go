package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/hibiken/asynq"
	"github.com/rs/zerolog/log"

	"kasirkredit/backend/internal/domain"
)

const lockKeyPrefix = "kasirkredit:lock:"

// Ledger is the part of the service the scheduled jobs drive.
type Ledger interface {
	SweepOverdue(ctx context.Context) (domain.SweepResponse, error)
	CreditDrift(ctx context.Context, repair bool) ([]domain.CreditDrift, error)
}

// LedgerJobs runs the periodic ledger maintenance. When a locker is set only
// one instance runs a given job at a time; the others skip.
type LedgerJobs struct {
	ledger  Ledger
	locker  *redislock.Client
	lockTTL time.Duration
}

func NewLedgerJobs(ledger Ledger, locker *redislock.Client) *LedgerJobs {
	return &LedgerJobs{ledger: ledger, locker: locker, lockTTL: 5 * time.Minute}
}

func (j *LedgerJobs) HandleOverdueSweep(ctx context.Context, _ *asynq.Task) error {
	return j.withLock(ctx, "overdue-sweep", func(ctx context.Context) error {
		resp, err := j.ledger.SweepOverdue(ctx)
		if err != nil {
			return fmt.Errorf("overdue sweep: %w", err)
		}
		log.Info().Str("task", TaskOverdueSweep).Int("reclassified", resp.Reclassified).Str("as_of", resp.AsOf).Msg("jobs: task finished")
		return nil
	})
}

func (j *LedgerJobs) HandleCreditDrift(ctx context.Context, t *asynq.Task) error {
	var payload CreditDriftPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return fmt.Errorf("credit drift payload: %v: %w", err, asynq.SkipRetry)
		}
	}

	return j.withLock(ctx, "credit-drift", func(ctx context.Context) error {
		drifts, err := j.ledger.CreditDrift(ctx, payload.Repair)
		if err != nil {
			return fmt.Errorf("credit drift: %w", err)
		}
		repaired := 0
		for _, drift := range drifts {
			if drift.Repaired {
				repaired++
			}
		}
		log.Info().Str("task", TaskCreditDrift).Int("drifted", len(drifts)).Int("repaired", repaired).Msg("jobs: task finished")
		return nil
	})
}

func (j *LedgerJobs) withLock(ctx context.Context, name string, fn func(context.Context) error) error {
	if j.locker == nil {
		return fn(ctx)
	}

	lock, err := j.locker.Obtain(ctx, lockKeyPrefix+name, j.lockTTL, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		log.Info().Str("job", name).Msg("jobs: another instance holds the lock, skipping")
		return nil
	}
	if err != nil {
		return fmt.Errorf("obtain %s lock: %w", name, err)
	}
	defer func() {
		if releaseErr := lock.Release(context.WithoutCancel(ctx)); releaseErr != nil {
			log.Warn().Err(releaseErr).Str("job", name).Msg("jobs: failed to release lock")
		}
	}()

	return fn(ctx)
}
