package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/harrison/aegis/internal/learning"
)

func newExportCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export [output-file]",
		Short: "Export all knowledge as JSON",
		Long: `Write the knowledge of every owner as a single JSON document. With an
output file the document is written atomically; otherwise it is printed.`,
		Args: cobra.MaximumNArgs(1),
		RunE: runExport,
	}
	return cmd
}

func runExport(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	ctx := commandContext(cmd)

	store, err := openLearningStore(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	if len(args) == 1 {
		export, err := learning.ExportToFile(ctx, store, args[0])
		if err != nil {
			return fmt.Errorf("export knowledge: %w", err)
		}
		fmt.Fprintf(out, "Exported %d owner(s) to %s\n", len(export.Owners), args[0])
		return nil
	}

	export, err := learning.BuildExport(ctx, store)
	if err != nil {
		return fmt.Errorf("export knowledge: %w", err)
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(export)
}
