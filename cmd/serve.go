// -- cmd/serve.go --
package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/droidpilot/internal/agent"
	"github.com/xkilldash9x/droidpilot/internal/config"
	"github.com/xkilldash9x/droidpilot/internal/gateway"
	"github.com/xkilldash9x/droidpilot/internal/llmclient"
	"github.com/xkilldash9x/droidpilot/internal/observability"
	"github.com/xkilldash9x/droidpilot/internal/taskstore"
	"github.com/xkilldash9x/droidpilot/internal/transport"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the device gateway and task API until interrupted.",
	Long: `Starts the gateway HTTP API: device agents poll it for actions and push
snapshots and results, and operators submit tasks against it. Tasks run in the
control loop in-process; outcomes are journaled to Postgres when a DSN is
configured.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	logger := observability.GetLogger()
	cfg := appConfig

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	llm, err := llmclient.NewClient(cfg.Agent.LLM, logger)
	if err != nil {
		return fmt.Errorf("failed to construct LLM client: %w", err)
	}
	defer llm.Close()

	journal, closeJournal, err := newJournal(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeJournal()

	gw := gateway.New(cfg.Gateway, logger)
	oracle := agent.NewOracle(logger, llm)
	runner := agent.NewRunner(cfg.Agent, logger, gw, oracle, journal)
	server := transport.NewServer(cfg.Server, logger, gw, runner)

	if cfg.Server.DeviceJWTSecret == "" {
		logger.Warn("No device JWT secret configured; device routes are unauthenticated")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.ListenAndServe(gctx)
	})

	err = g.Wait()
	logger.Info("Gateway stopped")
	return err
}

// newJournal wires the outcome journal: Postgres when a DSN is configured,
// a no-op otherwise. The returned closer releases the pool.
func newJournal(ctx context.Context, cfg *config.Config, logger *zap.Logger) (agent.Journal, func(), error) {
	if cfg.Store.PostgresDSN == "" {
		logger.Info("No postgres DSN configured; task outcomes will not be persisted")
		return taskstore.NewNoop(), func() {}, nil
	}

	pool, err := pgxpool.New(ctx, cfg.Store.PostgresDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}
	store, err := taskstore.New(ctx, pool, logger)
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	if err := store.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}
	return store, pool.Close, nil
}
