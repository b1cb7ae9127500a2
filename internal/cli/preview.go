package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"commdigest/internal/config"
	"commdigest/internal/digest"
	"commdigest/internal/engine"
	"commdigest/internal/state"
)

var previewCmd = &cobra.Command{
	Use:   "preview",
	Short: "Assemble and print the digest without delivering or committing",
	Long:  "preview runs fetch and change detection against current state and prints the digest to stdout. Nothing is sent and no state is persisted, so the same items appear again on the next run.",
	RunE:  previewAction,
}

func previewAction(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configDir)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	db, err := state.Open(cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("open state store: %w", err)
	}
	defer func() { _ = db.Close() }()

	sources, err := buildSources(cfg)
	if err != nil {
		return err
	}

	coord := engine.NewCoordinator(
		db,
		cfg.Engine.Concurrency,
		cfg.Engine.RetryAttempts,
		cfg.Engine.RetryBackoff.Duration,
		cfg.Engine.FingerprintWindow,
	)

	ctx := cmd.Context()
	if cfg.Engine.RunBudget.Duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Engine.RunBudget.Duration)
		defer cancel()
	}

	outcomes, err := coord.Run(ctx, sources)
	if err != nil {
		return fmt.Errorf("run sources: %w", err)
	}

	intervalID := time.Now().In(cfg.Location()).Format("2006-01-02")
	payload := engine.Assemble(intervalID, outcomes, cfg.Digest.MaxItems)
	payload.Names = sourceNames(cfg)

	if s := buildSummarizer(cfg); s != nil {
		for i := range payload.Entries {
			if payload.Entries[i].Item.Body == "" {
				continue
			}
			payload.Entries[i].Summary = s.Summarize(payload.Entries[i].Item.Body).Bullets
		}
	}

	return digest.NewText().Format(os.Stdout, payload)
}
