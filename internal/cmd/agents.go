package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/harrison/aegis/internal/agent"
)

// NewAgentsCommand creates the agents command listing the agent catalog
func NewAgentsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "agents",
		Short: "List the deployable agent types",
		Long: `List every agent type in the catalog with the task-type prefix it handles.
A task is routed to the agent type whose prefix matches its type.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "TYPE\tTASK PREFIX\tDESCRIPTION")
			for _, def := range agent.DefaultCatalog().Definitions() {
				fmt.Fprintf(w, "%s\t%s*\t%s\n", color.CyanString(def.Type), def.Prefix, def.Description)
			}
			return w.Flush()
		},
	}
}
