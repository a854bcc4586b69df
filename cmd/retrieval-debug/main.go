// Command retrieval-debug is an operator tool for invoking the Retrieval
// Loop directly against a live database, bypassing the Dispatcher, to
// inspect what context a given trigger message would pull in.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/chatcore/eventsub/internal/aicost"
	"github.com/chatcore/eventsub/internal/config"
	"github.com/chatcore/eventsub/internal/logger"
	"github.com/chatcore/eventsub/internal/model"
	"github.com/chatcore/eventsub/internal/retrieval"
	"github.com/chatcore/eventsub/internal/search"
	"github.com/chatcore/eventsub/internal/store/postgres"
)

var (
	workspaceFlag string
	streamFlag    string
	actorFlag     string
	bodyFlag      string
	rootCmd       = &cobra.Command{
		Use:   "retrieval-debug",
		Short: "Manually invoke the Retrieval Loop for a synthetic trigger message",
	}
)

func main() {
	rootCmd.PersistentFlags().StringVarP(&workspaceFlag, "workspace", "w", "", "Workspace ID (required)")
	rootCmd.PersistentFlags().StringVarP(&streamFlag, "stream", "s", "", "Stream ID (required)")
	rootCmd.PersistentFlags().StringVarP(&actorFlag, "actor", "a", "debug-actor", "Actor ID to attribute the synthetic trigger message to")
	rootCmd.PersistentFlags().StringVarP(&bodyFlag, "body", "b", "", "Trigger message body (required)")

	invokeCmd := &cobra.Command{
		Use:   "invoke",
		Short: "Run the Retrieval Loop once and print the resulting context",
		RunE: func(cmd *cobra.Command, args []string) error {
			if workspaceFlag == "" || streamFlag == "" || bodyFlag == "" {
				return fmt.Errorf("--workspace, --stream and --body are required")
			}
			return runInvoke(os.Stdout)
		},
	}
	rootCmd.AddCommand(invokeCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runInvoke(out *os.File) error {
	log := logger.New("retrieval-debug")

	cfg, err := config.New()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.BootstrapTimeoutSeconds)*time.Second)
	defer cancel()

	pool, err := postgres.Open(ctx, cfg.PostgresDSN)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer pool.Close()

	st := postgres.NewWithPool(pool)

	embedder, err := search.NewProvider(cfg.EmbedProvider, cfg.EmbedBaseURL, cfg.EmbedModel)
	if err != nil {
		return fmt.Errorf("embedder: %w", err)
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

	loop := retrieval.New(pool, st, searcher, embedder, facade, retrieval.Config{
		SearchAlpha:   cfg.SearchAlpha,
		DecideModel:   cfg.DefaultModel,
		EvaluateModel: cfg.DefaultModel,
	}, log)

	trigger := &model.Message{
		MessageID:    "debug-" + time.Now().UTC().Format("20060102T150405"),
		StreamID:     streamFlag,
		WorkspaceID:  workspaceFlag,
		AuthorID:     actorFlag,
		AuthorIsHuman: true,
		Body:         bodyFlag,
	}

	invokeCtx, invokeCancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer invokeCancel()

	result, err := loop.Invoke(invokeCtx, retrieval.Invocation{
		WorkspaceID:    workspaceFlag,
		StreamID:       streamFlag,
		TriggerMessage: trigger,
		ActorID:        actorFlag,
	})
	if err != nil {
		return fmt.Errorf("invoke: %w", err)
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}
