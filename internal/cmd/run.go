package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/harrison/aegis/internal/executor"
	"github.com/harrison/aegis/internal/models"
	"github.com/harrison/aegis/internal/parser"
)

// NewRunCommand creates the run command
func NewRunCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <batch-file>",
		Short: "Execute a batch of tasks",
		Long: `Parse a batch file (YAML or Markdown), deploy the agents its tasks need,
submit every task and wait for all of them to reach a terminal state.

The command exits non-zero when any task fails or is cancelled.`,
		Args: cobra.ExactArgs(1),
		RunE: runBatch,
	}

	cmd.Flags().Bool("dry-run", false, "Validate the batch without executing it")
	cmd.Flags().Duration("timeout", 10*time.Hour, "Maximum time to wait for the batch")
	cmd.Flags().Int("workers", 0, "Concurrent executions per agent type")
	cmd.Flags().String("log-level", "", "Log level (trace, debug, info, warn, error)")
	cmd.Flags().String("log-dir", "", "Directory for run logs")
	cmd.Flags().String("db-path", "", "Path to the knowledge database")

	return cmd
}

func runBatch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	batch, err := parser.ParseFile(args[0])
	if err != nil {
		return err
	}

	dryRun, _ := cmd.Flags().GetBool("dry-run")
	if dryRun {
		return validateBatch(cmd, batch)
	}
	timeout, _ := cmd.Flags().GetDuration("timeout")

	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := newRuntime(ctx, cfg, cmd.OutOrStdout())
	if err != nil {
		return err
	}
	defer rt.Close()

	needed, err := requiredAgentTypes(batch)
	if err != nil {
		return err
	}
	if err := rt.deploy(ctx, append(cfg.AgentTypes(), needed...)); err != nil {
		return fmt.Errorf("deploy agents: %w", err)
	}

	rt.log.LogInfo(fmt.Sprintf("Running batch %q: %d tasks (logs: %s)", batch.Name, len(batch.Tasks), rt.fileLog.RunFile()))
	start := time.Now()

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()
	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		return rt.orch.Run(gctx)
	})

	ids := make([]string, 0, len(batch.Tasks))
	for i, spec := range batch.Tasks {
		id, err := rt.orch.SubmitSpec(spec)
		if err != nil {
			cancelRun()
			g.Wait()
			return fmt.Errorf("submit task %d (%s): %w", i+1, spec.Type, err)
		}
		ids = append(ids, id)
	}

	results, waitErr := waitAll(ctx, rt.orch, ids, timeout)
	rt.log.LogProgress(results)

	// Evaluate once more so the run's samples are reflected before exit
	if _, err := rt.orch.Evaluate(context.WithoutCancel(ctx)); err != nil {
		rt.log.LogWarn(fmt.Sprintf("Final evaluation failed: %v", err))
	}

	cancelRun()
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	summary := models.Summary{Duration: time.Since(start)}
	for _, task := range results {
		summary.Add(task)
	}
	rt.log.LogSummary(summary)

	if waitErr != nil {
		return waitErr
	}
	return executor.NewBatchError(results)
}

// waitAll waits for every task to finish, returning a TimeoutError when the
// batch outlives timeout. On timeout the unfinished tasks are cancelled and
// the latest snapshot of each task is returned.
func waitAll(ctx context.Context, orch *executor.Orchestrator, ids []string, timeout time.Duration) ([]models.Task, error) {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var waitErr error
	for _, id := range ids {
		if _, err := orch.WaitTask(waitCtx, id); err != nil {
			if errors.Is(waitCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
				waitErr = executor.NewTimeoutError(id, timeout)
			} else {
				waitErr = err
			}
			break
		}
	}

	if waitErr != nil {
		for _, id := range ids {
			// Already-terminal tasks reject cancellation; that is expected here
			_ = orch.CancelTask(id)
		}
		for _, id := range ids {
			orch.WaitTask(context.WithoutCancel(ctx), id)
		}
	}

	results := make([]models.Task, 0, len(ids))
	for _, id := range ids {
		task, err := orch.Task(context.WithoutCancel(ctx), id)
		if err != nil {
			return nil, err
		}
		results = append(results, task)
	}
	return results, waitErr
}
