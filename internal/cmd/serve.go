package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/harrison/aegis/internal/server"
)

// NewServeCommand creates the serve command
func NewServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the orchestrator and its HTTP API",
		Long: `Start the orchestrator, deploy every agent listed under agents: in the
config, and serve the task and agent API until interrupted.

Endpoints:
  POST   /api/v1/tasks          submit a task
  GET    /api/v1/tasks/:id      task status and result
  DELETE /api/v1/tasks/:id      cancel a task
  POST   /api/v1/agents         deploy an agent
  GET    /api/v1/agents         list deployed agents
  GET    /api/v1/agents/:id     agent status`,
		Args: cobra.NoArgs,
		RunE: runServe,
	}

	cmd.Flags().String("addr", "", "Listen address (overrides server.addr)")
	cmd.Flags().Int("workers", 0, "Concurrent executions per agent type")
	cmd.Flags().String("log-level", "", "Log level (trace, debug, info, warn, error)")
	cmd.Flags().String("log-dir", "", "Directory for run logs")
	cmd.Flags().String("db-path", "", "Path to the knowledge database")

	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := newRuntime(ctx, cfg, cmd.OutOrStdout())
	if err != nil {
		return err
	}
	defer rt.Close()

	if err := rt.deploy(ctx, cfg.AgentTypes()); err != nil {
		return fmt.Errorf("deploy agents: %w", err)
	}

	srv := server.New(rt.orch, rt.log)
	rt.log.LogInfo(fmt.Sprintf("Aegis %s started with %d agent(s) (logs: %s)", Version, len(rt.registry.List()), rt.fileLog.RunFile()))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return rt.orch.Run(gctx)
	})
	g.Go(func() error {
		return srv.Run(gctx, cfg.Server.Addr)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	rt.log.LogInfo("Shut down")
	return nil
}
