// Command dispatcher-service runs the Dispatcher: it subscribes to the Event
// Log's change channel, fans debounced trigger() calls out to every
// registered Listener (Boundary Extraction, Naming, Memo Accumulator,
// Embedding), and serves the admin/health surface.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/chatcore/eventsub/internal/aicost"
	apihttp "github.com/chatcore/eventsub/internal/api/http"
	"github.com/chatcore/eventsub/internal/config"
	"github.com/chatcore/eventsub/internal/dispatcher"
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
	Use:   "dispatcher-service",
	Short: "Run the Event Log dispatcher and its listeners",
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
	log := logger.New("dispatcher-service")

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
		log.Warn().Err(err).Msg("embedder unavailable, embedding-triggering events will still enqueue")
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

	bus := eventlog.NewBus()
	subscriber := eventlog.NewSubscriber(pool, cfg.NotifyChannel, bus)

	selfToken := uuid.NewString()
	disp := dispatcher.New(bus, pool, selfToken, log)

	tuning := dispatcher.ListenerTuning{
		DebounceMs:   time.Duration(cfg.DebounceMs) * time.Millisecond,
		MaxWaitMs:    time.Duration(cfg.DebounceMaxWaitMs) * time.Millisecond,
		PollInterval: time.Duration(cfg.PollIntervalMs) * time.Millisecond,
	}
	for _, l := range w.Listeners() {
		disp.Register(l, tuning)
	}

	checker := health.NewServiceHealthChecker(log, store.NewStoreHealthChecker(st, log, 5*time.Second))
	checker.Start(ctx, 15*time.Second)

	srv := &http.Server{
		Addr:         cfg.GetHTTPAddr(),
		Handler:      apihttp.NewRouter(checker, "dispatcher-service"),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("health server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("health server exited")
		}
	}()

	go func() {
		if err := subscriber.Run(ctx); err != nil && err != context.Canceled {
			log.Error().Err(err).Msg("event log subscriber exited")
		}
	}()

	log.Info().Str("self", selfToken).Int("listeners", len(w.Listeners())).Msg("dispatcher starting")
	runErr := disp.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)

	if runErr != nil && runErr != context.Canceled {
		return runErr
	}
	return nil
}
