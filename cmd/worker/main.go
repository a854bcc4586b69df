// Command worker runs the durable Job Queue's worker pool: it dequeues jobs
// across the queue names internal/workers.Workers.Queues() lists (every
// closed queue name except companion-response, which has no handler) and
// executes them through
// internal/workers.Workers.Dispatch(), the single jobqueue.Handler that
// routes each job to its concrete implementation (Boundary Extraction,
// Naming, Memo Accumulator/Processor, Embedding).
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/chatcore/eventsub/internal/aicost"
	apihttp "github.com/chatcore/eventsub/internal/api/http"
	"github.com/chatcore/eventsub/internal/config"
	"github.com/chatcore/eventsub/internal/eventlog"
	"github.com/chatcore/eventsub/internal/health"
	"github.com/chatcore/eventsub/internal/jobqueue"
	"github.com/chatcore/eventsub/internal/logger"
	"github.com/chatcore/eventsub/internal/search"
	"github.com/chatcore/eventsub/internal/store"
	"github.com/chatcore/eventsub/internal/store/postgres"
	"github.com/chatcore/eventsub/internal/workers"
)

var rootCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the Job Queue worker pool",
	RunE: func(cmd *cobra.Command, args []string) error {
		return run()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	log := logger.New("worker")

	cfg, err := config.New()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := postgres.Open(ctx, cfg.PostgresDSN)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer pool.Close()

	st := postgres.NewWithPool(pool)
	events := eventlog.New(pool)
	queue := jobqueue.New(pool)

	embedder, err := search.NewProvider(cfg.EmbedProvider, cfg.EmbedBaseURL, cfg.EmbedModel)
	if err != nil {
		log.Warn().Err(err).Msg("embedder unavailable, embedding jobs will fail until it is")
	}
	searcher, err := search.NewWaviateSearcher(cfg.WaviateURL)
	if err != nil {
		return fmt.Errorf("waviate searcher: %w", err)
	}

	budget := aicost.NewEnforcer(pool,
		time.Duration(cfg.BudgetWindowHours)*time.Hour,
		cfg.BudgetSoftLimitCents, cfg.BudgetHardLimitCents,
		map[string]string{cfg.DefaultModel: cfg.SubstituteModel},
	)
	recorder := aicost.NewRecorder(pool)
	facade := aicost.NewFacade(
		cfg.ModelProviderBaseURL, cfg.ModelProviderAPIKey,
		time.Duration(cfg.ModelProviderTimeoutSeconds)*time.Second,
		budget, recorder, log,
		cfg.ModelProviderRateLimitPerSecond, cfg.ModelProviderRateBurst,
	)

	w := workers.New(pool, st, events, queue, searcher, embedder, facade, workers.Config{
		BoundaryModel: cfg.DefaultModel,
		NamerModel:    cfg.DefaultModel,
		MemoModel:     cfg.DefaultModel,
		NotifyChannel: cfg.NotifyChannel,
	}, log)

	jqPool := jobqueue.NewPool(queue, w.Queues(), jobqueue.PoolConfig{
		PollInterval:  time.Duration(cfg.JobPollIntervalMs) * time.Millisecond,
		LeaseDuration: time.Duration(cfg.JobLeaseSeconds) * time.Second,
		BaseBackoff:   time.Duration(cfg.JobBaseBackoffMs) * time.Millisecond,
		MaxBackoff:    time.Duration(cfg.JobMaxBackoffSec) * time.Second,
		Concurrency:   cfg.JobWorkerConcurrency,
	}, w.Dispatch(), log)

	checker := health.NewServiceHealthChecker(log, store.NewStoreHealthChecker(st, log, 5*time.Second))
	checker.Start(ctx, 15*time.Second)

	srv := &http.Server{
		Addr:         cfg.GetHTTPAddr(),
		Handler:      apihttp.NewRouter(checker, "worker"),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("health server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("health server exited")
		}
	}()

	log.Info().Strs("queues", w.Queues()).Int("concurrency", cfg.JobWorkerConcurrency).Msg("worker pool starting")
	runErr := jqPool.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)

	if runErr != nil && runErr != context.Canceled {
		return runErr
	}
	return nil
}
