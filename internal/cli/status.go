package cli

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"commdigest/internal/config"
	"commdigest/internal/state"
)

var statusLimit int

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show recent intervals and tracked source state",
	RunE:  statusAction,
}

func init() {
	statusCmd.Flags().IntVar(&statusLimit, "intervals", 10, "number of recent intervals to show")
}

func statusAction(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configDir)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	db, err := state.Open(cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("open state store: %w", err)
	}
	defer func() { _ = db.Close() }()

	ctx := cmd.Context()

	intervals, err := db.RecentIntervals(ctx, statusLimit)
	if err != nil {
		return fmt.Errorf("read intervals: %w", err)
	}

	fmt.Println("Recent intervals:")
	if len(intervals) == 0 {
		fmt.Println("  (none)")
	}
	for _, rec := range intervals {
		line := fmt.Sprintf("  %s  %s", rec.IntervalID, rec.Status)
		if rec.Status == state.StatusDelivered && !rec.DeliveredAt.IsZero() {
			line += fmt.Sprintf("  (%s)", humanize.Time(rec.DeliveredAt))
		}
		fmt.Println(line)
	}

	states, err := db.AllSourceStates(ctx)
	if err != nil {
		return fmt.Errorf("read source states: %w", err)
	}

	fmt.Println("\nTracked sources:")
	if len(states) == 0 {
		fmt.Println("  (no source has completed a run yet)")
	}
	for _, st := range states {
		fmt.Printf("  %-24s %4d fingerprints, updated %s\n",
			st.SourceID, len(st.Fingerprints), humanize.Time(st.UpdatedAt))
	}

	configured := make(map[string]bool, len(cfg.Sources))
	for _, sc := range cfg.Sources {
		configured[sc.ID] = true
	}
	for _, st := range states {
		delete(configured, st.SourceID)
	}
	if len(configured) > 0 {
		fmt.Println("\nConfigured but never run:")
		for _, sc := range cfg.Sources {
			if configured[sc.ID] {
				fmt.Printf("  %s (%s)\n", sc.ID, sc.Type)
			}
		}
	}

	return nil
}
