package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"commdigest/internal/config"
	"commdigest/internal/delivery"
	"commdigest/internal/engine"
	"commdigest/internal/source"
	"commdigest/internal/state"
	"commdigest/internal/summarize"
)

var (
	runInterval   string
	runDryRun     bool
	runRecipients []string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Fetch all sources and deliver the digest for the current interval",
	Long:  "run executes one full digest cycle: fetch and detect changes per source, assemble the digest, deliver it by email, and commit tracked state. Rerunning an already-delivered interval is a no-op.",
	RunE:  runAction,
}

func init() {
	runCmd.Flags().StringVar(&runInterval, "interval", "", "interval identifier (default: today's date in the configured timezone)")
	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "print the email instead of sending it")
	runCmd.Flags().StringSliceVar(&runRecipients, "recipients", nil, "override recipient list")
}

func runAction(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configDir)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	db, err := state.Open(cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("open state store: %w", err)
	}
	defer func() { _ = db.Close() }()

	runner, err := buildRunner(cmd.Context(), cfg, db)
	if err != nil {
		return err
	}
	if len(runRecipients) > 0 {
		runner.Recipients = runRecipients
	}

	report, err := runner.Run(cmd.Context(), runInterval)
	if err != nil {
		return err
	}

	if report.AlreadyDelivered {
		fmt.Printf("Interval %s already delivered; nothing to do.\n", report.IntervalID)
		return nil
	}

	fmt.Printf("Delivered digest for %s: %d new items", report.IntervalID, report.NewItems)
	if report.FailedSources > 0 {
		fmt.Printf(" (%d sources failed)", report.FailedSources)
	}
	fmt.Printf(" [message %s]\n", report.MessageID)
	return nil
}

func buildRunner(ctx context.Context, cfg *config.Config, db *state.Store) (*engine.Runner, error) {
	sources, err := buildSources(cfg)
	if err != nil {
		return nil, err
	}

	coord := engine.NewCoordinator(
		db,
		cfg.Engine.Concurrency,
		cfg.Engine.RetryAttempts,
		cfg.Engine.RetryBackoff.Duration,
		cfg.Engine.FingerprintWindow,
	)

	deliverer, err := buildDeliverer(ctx, cfg)
	if err != nil {
		return nil, err
	}

	return &engine.Runner{
		Store:       db,
		Sources:     sources,
		Coordinator: coord,
		Summarizer:  buildSummarizer(cfg),
		Deliverer:   deliverer,
		Sender:      cfg.Delivery.Sender,
		Recipients:  cfg.Delivery.Recipients,
		MaxItems:    cfg.Digest.MaxItems,
		Budget:      cfg.Engine.RunBudget.Duration,
		Location:    cfg.Location(),
		SourceNames: sourceNames(cfg),
	}, nil
}

func sourceNames(cfg *config.Config) map[string]string {
	names := make(map[string]string, len(cfg.Sources))
	for _, sc := range cfg.Sources {
		if sc.Name != "" {
			names[sc.ID] = sc.Name
		}
	}
	return names
}

func buildSources(cfg *config.Config) ([]source.Source, error) {
	var sources []source.Source
	for _, sc := range cfg.Sources {
		switch source.Type(sc.Type) {
		case source.TypePage:
			src, err := source.NewPage(sc.ID, sc.URL, sc.Feed, cfg.Engine.Lookback.Duration)
			if err != nil {
				return nil, fmt.Errorf("create page source: %w", err)
			}
			sources = append(sources, src)
		case source.TypeChannel:
			src, err := source.NewChannel(
				sc.ID, sc.Site, sc.Stream, sc.StreamID,
				cfg.Env.ChatEmail, cfg.Env.ChatAPIKey,
				cfg.Engine.Lookback.Duration,
			)
			if err != nil {
				return nil, fmt.Errorf("create channel source: %w", err)
			}
			sources = append(sources, src)
		default:
			return nil, fmt.Errorf("source %s: unknown type %q", sc.ID, sc.Type)
		}
	}
	return sources, nil
}

func buildSummarizer(cfg *config.Config) summarize.Summarizer {
	switch cfg.Summarize.Mode {
	case "none":
		return nil
	case "llm":
		heuristic := &summarize.HeuristicSummarizer{}
		if cfg.Env.LLMAPIKey == "" {
			fmt.Println("warning: summarize.mode is llm but DIGEST_LLM_API_KEY is not set; using heuristic")
			return heuristic
		}
		return summarize.NewLLM(cfg.Env.LLMAPIKey, cfg.Summarize.LLM.Model, cfg.Summarize.LLM.MaxTokensPerItem, heuristic)
	default:
		return &summarize.HeuristicSummarizer{}
	}
}

func buildDeliverer(ctx context.Context, cfg *config.Config) (delivery.Deliverer, error) {
	if runDryRun || cfg.Env.DryRun {
		return &delivery.DryRun{Out: os.Stdout}, nil
	}

	region := cfg.Delivery.Region
	if region == "" {
		region = "us-east-1"
	}
	ses, err := delivery.NewSES(ctx, region, cfg.Delivery.SkipEmpty)
	if err != nil {
		return nil, fmt.Errorf("create ses deliverer: %w", err)
	}
	return ses, nil
}
