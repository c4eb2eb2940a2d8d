// -- cmd/tasks.go --
package cmd

import (
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	json "github.com/json-iterator/go"
	"github.com/spf13/cobra"

	"github.com/xkilldash9x/droidpilot/internal/observability"
	"github.com/xkilldash9x/droidpilot/internal/taskstore"
)

var (
	tasksDeviceID string
	tasksLimit    int
)

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "List recent task outcomes for a device from the journal.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg := appConfig
		if cfg.Store.PostgresDSN == "" {
			return fmt.Errorf("no postgres DSN configured; set store.postgres_dsn or DROIDPILOT_POSTGRES_DSN")
		}

		ctx := cmd.Context()
		pool, err := pgxpool.New(ctx, cfg.Store.PostgresDSN)
		if err != nil {
			return fmt.Errorf("failed to create postgres pool: %w", err)
		}
		defer pool.Close()

		store, err := taskstore.New(ctx, pool, observability.GetLogger())
		if err != nil {
			return err
		}

		outcomes, err := store.RecentOutcomes(ctx, tasksDeviceID, tasksLimit)
		if err != nil {
			return err
		}

		out, err := json.MarshalIndent(outcomes, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to render outcomes: %w", err)
		}
		fmt.Println(string(out))
		return nil
	},
}

func init() {
	tasksCmd.Flags().StringVar(&tasksDeviceID, "device", "", "device id to list outcomes for (required)")
	tasksCmd.Flags().IntVar(&tasksLimit, "limit", 20, "maximum number of outcomes to return")
	tasksCmd.MarkFlagRequired("device")
	rootCmd.AddCommand(tasksCmd)
}
