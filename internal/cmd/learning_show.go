package cmd

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/harrison/aegis/internal/learning"
)

func newShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show <owner>",
		Short: "Show the knowledge of one owner",
		Long: `Display the knowledge recorded for one owner ("orchestrator" or
"agent:<type>"), including:
  - Per task type sample counts, success rates and average times
  - Error kinds with occurrence counts and the latest description
  - Optimization events in the order they were recorded`,
		Args: cobra.ExactArgs(1),
		RunE: runShow,
	}
}

func runShow(cmd *cobra.Command, args []string) error {
	owner := args[0]
	out := cmd.OutOrStdout()

	store, err := openLearningStore(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	snap, err := store.Load(commandContext(cmd), owner)
	if err != nil {
		return fmt.Errorf("load %s: %w", owner, err)
	}
	if snap.Record.SampleCount() == 0 && len(snap.Record.ErrorResolutions) == 0 && len(snap.Record.OptimizationStrategies) == 0 {
		fmt.Fprintf(out, "No knowledge recorded for %s\n", owner)
		return nil
	}

	printSnapshot(out, snap)
	return nil
}

func printSnapshot(out io.Writer, snap *learning.Snapshot) {
	bold := color.New(color.Bold)

	bold.Fprintf(out, "=== %s ===\n", snap.Owner)
	fmt.Fprintf(out, "Completed: %d  Failed: %d  Avg: %s\n\n",
		snap.Stats.TasksCompleted, snap.Stats.TasksFailed, snap.Stats.AverageProcessingTime.Round(time.Millisecond))

	if len(snap.Record.EfficiencyPatterns) > 0 {
		bold.Fprintln(out, "Task types:")
		for _, taskType := range sortedKeys(snap.Record.EfficiencyPatterns) {
			samples := snap.Record.EfficiencyPatterns[taskType]
			agg := learning.Summarize(samples)
			rate := fmt.Sprintf("%.1f%%", agg.SuccessRate*100)
			if agg.SuccessRate < learning.DefaultThresholdPolicy().MinSuccessRate {
				rate = color.RedString(rate)
			} else {
				rate = color.GreenString(rate)
			}
			fmt.Fprintf(out, "  %-28s samples=%-5d success=%s avg=%s", taskType, agg.SampleCount, rate, agg.AvgExecTime.Round(time.Millisecond))
			if n := cancelledCount(samples); n > 0 {
				fmt.Fprintf(out, " cancelled=%d", n)
			}
			fmt.Fprintln(out)
		}
		fmt.Fprintln(out)
	}

	if len(snap.Record.ErrorResolutions) > 0 {
		bold.Fprintln(out, "Errors:")
		for _, kind := range sortedKeys(snap.Record.ErrorResolutions) {
			res := snap.Record.ErrorResolutions[kind]
			fmt.Fprintf(out, "  %-28s x%-4d %s\n", kind, res.Occurrences, res.Description)
			for _, r := range res.Resolutions {
				fmt.Fprintf(out, "    -> %s\n", r)
			}
		}
		fmt.Fprintln(out)
	}

	if len(snap.Record.OptimizationStrategies) > 0 {
		bold.Fprintln(out, "Optimization events:")
		var events []learning.OptimizationEvent
		for _, evs := range snap.Record.OptimizationStrategies {
			events = append(events, evs...)
		}
		sort.SliceStable(events, func(i, j int) bool { return events[i].Timestamp.Before(events[j].Timestamp) })
		for _, ev := range events {
			fmt.Fprintf(out, "  %s %s: %s -> %s (n=%d, success=%.0f%%, avg=%s)\n",
				ev.Timestamp.Format(time.RFC3339), ev.TaskType, color.YellowString(ev.Reason), ev.AppliedStrategy,
				ev.SampleCount, ev.SuccessRate*100, ev.AvgExecTime.Round(time.Millisecond))
		}
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
