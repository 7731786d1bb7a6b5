package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bsm/redislock"
	"github.com/hibiken/asynq"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"kasirkredit/backend/internal/cache"
	"kasirkredit/backend/internal/config"
	"kasirkredit/backend/internal/httpapi"
	"kasirkredit/backend/internal/jobs"
	"kasirkredit/backend/internal/logging"
	"kasirkredit/backend/internal/service"
	"kasirkredit/backend/internal/store"
	"kasirkredit/backend/internal/store/memory"
	pgstore "kasirkredit/backend/internal/store/postgres"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config: failed to load")
	}
	logging.Setup(cfg.LogLevel, cfg.LogFormat)
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("config: invalid security configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Error().Err(err).Msg("server stopped with error")
		os.Exit(1)
	}
	log.Info().Msg("server stopped")
}

func run(ctx context.Context, cfg config.Config) error {
	closers := make([]func() error, 0, 3)
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil {
				log.Warn().Err(err).Msg("close failed")
			}
		}
	}()

	repo, closeRepo, err := openRepository(ctx, cfg)
	if err != nil {
		return err
	}
	if closeRepo != nil {
		closers = append(closers, closeRepo)
	}

	var (
		statements cache.StatementCache = cache.NoopStatementCache{}
		opts                            = []service.Option{service.WithStatementTTL(cfg.StatementCacheTTL)}
		redisOpts  *asynq.RedisClientOpt
		locker     *redislock.Client
	)
	if cfg.RedisAddr != "" {
		rdb := cache.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		closers = append(closers, rdb.Close)

		redisCache := cache.NewRedisStatementCache(rdb)
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		pingErr := redisCache.Ping(pingCtx)
		cancel()
		if pingErr != nil {
			log.Warn().Err(pingErr).Msg("redis unavailable, running without cache and jobs")
		} else {
			statements = redisCache
			locker = redislock.New(rdb)
			redisOpts = &asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}

			queue := jobs.NewClient(*redisOpts)
			closers = append(closers, queue.Close)
			opts = append(opts, service.WithReceiptNotifier(queue))
			log.Info().Str("addr", cfg.RedisAddr).Msg("cache and jobs: redis")
		}
	} else {
		log.Info().Msg("cache: noop, jobs: disabled")
	}

	svc := service.New(repo, statements, cfg.StoreID, opts...)
	auth := httpapi.NewAuthManager(cfg.AuthSecret, cfg.AccessTokenTTL, cfg.ManagerPIN, repo)
	api := httpapi.New(svc, auth, cfg.AllowedOrigin)

	var worker *jobs.Worker
	if redisOpts != nil {
		cron, err := cronEntries(cfg)
		if err != nil {
			return err
		}
		worker, err = jobs.NewWorker(jobs.WorkerConfig{
			RedisOpts:   *redisOpts,
			Concurrency: cfg.WorkerConcurrency,
			Ledger:      jobs.NewLedgerJobs(svc, locker),
			Cron:        cron,
		})
		if err != nil {
			return err
		}
	}

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		log.Info().Str("addr", cfg.Address()).Msg("http: listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 8*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	if worker != nil {
		group.Go(func() error {
			if err := worker.Run(groupCtx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}
	return group.Wait()
}

func openRepository(ctx context.Context, cfg config.Config) (store.Repository, func() error, error) {
	if cfg.DatabaseURL == "" {
		log.Info().Msg("repository: in-memory")
		return memory.NewSeeded(), nil, nil
	}

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pg, err := pgstore.New(connectCtx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	if err := pg.Migrate(connectCtx); err != nil {
		_ = pg.Close()
		return nil, nil, err
	}
	log.Info().Msg("repository: postgres")
	return pg, pg.Close, nil
}

// cronEntries schedules the ledger maintenance jobs. An empty schedule disables a job.
func cronEntries(cfg config.Config) ([]jobs.CronRegistration, error) {
	var entries []jobs.CronRegistration
	if cfg.OverdueSweepCron != "" {
		entries = append(entries, jobs.CronRegistration{
			Spec:    cfg.OverdueSweepCron,
			Task:    jobs.NewOverdueSweepTask(),
			Options: []asynq.Option{asynq.MaxRetry(3)},
		})
	}
	if cfg.CreditDriftCron != "" {
		task, err := jobs.NewCreditDriftTask(cfg.CreditDriftRepair)
		if err != nil {
			return nil, err
		}
		entries = append(entries, jobs.CronRegistration{
			Spec:    cfg.CreditDriftCron,
			Task:    task,
			Options: []asynq.Option{asynq.MaxRetry(3)},
		})
	}
	return entries, nil
}
