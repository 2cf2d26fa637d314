package cmd

import (
	"github.com/spf13/cobra"
)

// Version is injected at build time via -ldflags
var Version = "dev"

// NewRootCommand creates and returns the root cobra command for aegis
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "aegis",
		Short: "Self-optimizing task orchestration for pluggable agents",
		Long: `Aegis routes tasks to deployed agents in priority order, records every
execution in per-owner knowledge, and periodically evaluates that knowledge
to signal agents whose task types underperform.

Tasks arrive over the HTTP API (aegis serve) or from batch files in YAML or
Markdown (aegis run).`,
		Version: Version,
		// Errors are printed by main
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().String("config", "", "Path to config file (default: .aegis/config.yaml)")

	cmd.AddCommand(NewServeCommand())
	cmd.AddCommand(NewRunCommand())
	cmd.AddCommand(NewValidateCommand())
	cmd.AddCommand(NewAgentsCommand())
	cmd.AddCommand(NewLearningCommand())

	return cmd
}
