package cmd

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/harrison/aegis/internal/learning"
)

func newStatsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Summarize knowledge for every owner",
		Long: `Display one row per knowledge owner:
  - Retained execution samples and success rate
  - Completed and failed task counters
  - Average successful processing time
  - Distinct error kinds and optimization events`,
		Args: cobra.NoArgs,
		RunE: runStats,
	}
}

func runStats(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	ctx := commandContext(cmd)

	store, err := openLearningStore(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	owners, err := store.Owners(ctx)
	if err != nil {
		return fmt.Errorf("list owners: %w", err)
	}
	if len(owners) == 0 {
		fmt.Fprintln(out, "No knowledge recorded yet")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "OWNER\tSAMPLES\tSUCCESS\tCOMPLETED\tFAILED\tAVG TIME\tERRORS\tEVENTS")
	for _, owner := range owners {
		snap, err := store.Load(ctx, owner)
		if err != nil {
			return fmt.Errorf("load %s: %w", owner, err)
		}

		var samples []learning.Sample
		for _, taskSamples := range snap.Record.EfficiencyPatterns {
			samples = append(samples, taskSamples...)
		}
		agg := learning.Summarize(samples)
		events := 0
		for _, evs := range snap.Record.OptimizationStrategies {
			events += len(evs)
		}

		fmt.Fprintf(w, "%s\t%d\t%.1f%%\t%d\t%d\t%s\t%d\t%d\n",
			owner,
			agg.SampleCount,
			agg.SuccessRate*100,
			snap.Stats.TasksCompleted,
			snap.Stats.TasksFailed,
			snap.Stats.AverageProcessingTime.Round(time.Millisecond),
			len(snap.Record.ErrorResolutions),
			events,
		)
	}
	return w.Flush()
}
