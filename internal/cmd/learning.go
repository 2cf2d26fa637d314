package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/harrison/aegis/internal/learning"
)

// NewLearningCommand creates the learning command group
func NewLearningCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "learning",
		Short: "Inspect and manage recorded knowledge",
		Long: `Commands for the knowledge aegis records for the orchestrator and each
agent type: execution samples, error resolutions and optimization events.

Owners are "orchestrator" and "agent:<type>".`,
	}

	cmd.PersistentFlags().String("db-path", "", "Path to the knowledge database (overrides knowledge.db_path)")

	cmd.AddCommand(newStatsCommand())
	cmd.AddCommand(newShowCommand())
	cmd.AddCommand(newExportCommand())
	cmd.AddCommand(newClearCommand())

	return cmd
}

// openLearningStore opens the configured knowledge store for offline inspection
func openLearningStore(cmd *cobra.Command) (*learning.Store, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	return openStore(commandContext(cmd), cfg)
}

// cancelledCount counts samples excluded from aggregates
func cancelledCount(samples []learning.Sample) int {
	n := 0
	for _, s := range samples {
		if s.Outcome == learning.OutcomeCancelled {
			n++
		}
	}
	return n
}

// confirmAction asks a yes/no question on in; only "y" or "yes" confirms
func confirmAction(in io.Reader, out io.Writer, prompt string) bool {
	fmt.Fprintf(out, "%s [y/N]: ", prompt)
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && line == "" {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
