package cmd

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/harrison/aegis/internal/agent"
	"github.com/harrison/aegis/internal/parser"
)

// NewValidateCommand creates the validate command
func NewValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <batch-file>",
		Short: "Check that a batch file parses and every task routes to an agent type",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			batch, err := parser.ParseFile(args[0])
			if err != nil {
				return err
			}
			return validateBatch(cmd, batch)
		},
	}
}

// validateBatch prints one line per task and fails when any task has no
// agent type in the catalog
func validateBatch(cmd *cobra.Command, batch *parser.Batch) error {
	out := cmd.OutOrStdout()
	catalog := agent.DefaultCatalog()

	fmt.Fprintf(out, "Batch %q: %d tasks\n", batch.Name, len(batch.Tasks))

	var unroutable []string
	for i, spec := range batch.Tasks {
		def, ok := catalog.Resolve(spec.Type)
		if !ok {
			unroutable = append(unroutable, spec.Type)
			fmt.Fprintf(out, "  %s %d. %s [%s]: no agent type handles this task type\n",
				color.RedString("✗"), i+1, spec.Type, spec.Priority)
			continue
		}
		fmt.Fprintf(out, "  %s %d. %s [%s] -> %s\n",
			color.GreenString("✓"), i+1, spec.Type, spec.Priority, def.Type)
	}

	if len(unroutable) > 0 {
		return fmt.Errorf("%d task(s) cannot be routed: %s", len(unroutable), strings.Join(unroutable, ", "))
	}
	fmt.Fprintln(out, "Batch is valid")
	return nil
}

// requiredAgentTypes returns the agent types a batch needs, in first-use order
func requiredAgentTypes(batch *parser.Batch) ([]string, error) {
	catalog := agent.DefaultCatalog()
	seen := make(map[string]bool)
	var types []string
	for i, spec := range batch.Tasks {
		def, ok := catalog.Resolve(spec.Type)
		if !ok {
			return nil, fmt.Errorf("task %d: no agent type handles task type %q", i+1, spec.Type)
		}
		if !seen[def.Type] {
			seen[def.Type] = true
			types = append(types, def.Type)
		}
	}
	return types, nil
}
