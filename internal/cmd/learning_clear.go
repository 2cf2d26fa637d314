package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newClearCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete all recorded knowledge",
		Long: `Delete every owner's samples, error resolutions, optimization events,
statistics and persisted task results. Asks for confirmation unless --yes is given.`,
		Args: cobra.NoArgs,
		RunE: runClear,
	}
	cmd.Flags().BoolP("yes", "y", false, "Skip the confirmation prompt")
	return cmd
}

func runClear(cmd *cobra.Command, args []string) error {
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
		fmt.Fprintln(out, "No knowledge to clear")
		return nil
	}

	yes, _ := cmd.Flags().GetBool("yes")
	if !yes && !confirmAction(cmd.InOrStdin(), out, fmt.Sprintf("Delete knowledge for %d owner(s)?", len(owners))) {
		fmt.Fprintln(out, "Cancelled")
		return nil
	}

	if err := store.Clear(ctx); err != nil {
		return fmt.Errorf("clear knowledge: %w", err)
	}
	fmt.Fprintf(out, "Cleared knowledge for %d owner(s)\n", len(owners))
	return nil
}
