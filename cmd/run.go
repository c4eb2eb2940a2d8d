// -- cmd/run.go --
package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	json "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/droidpilot/api/schemas"
	"github.com/xkilldash9x/droidpilot/internal/agent"
	"github.com/xkilldash9x/droidpilot/internal/devicesim"
	"github.com/xkilldash9x/droidpilot/internal/gateway"
	"github.com/xkilldash9x/droidpilot/internal/llmclient"
	"github.com/xkilldash9x/droidpilot/internal/observability"
	"github.com/xkilldash9x/droidpilot/internal/taskstore"
	"github.com/xkilldash9x/droidpilot/internal/transport"
)

var (
	runGoal     string
	runDeviceID string
	runMaxSteps int
	runTimeout  time.Duration
	runSimulate bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a single task to completion and print its outcome.",
	Long: `Runs one task against a device and prints the terminal outcome as JSON.

With --simulate the device is an in-process scripted messaging app, useful for
exercising the control loop without real hardware. Without it the gateway HTTP
API is started so a real device agent can connect; the task begins as soon as
the device comes online.`,
	RunE: runTask,
}

func init() {
	runCmd.Flags().StringVar(&runGoal, "goal", "", "natural-language goal for the task (required)")
	runCmd.Flags().StringVar(&runDeviceID, "device", "", "target device id (required)")
	runCmd.Flags().IntVar(&runMaxSteps, "max-steps", 0, "step budget (0 uses the configured default)")
	runCmd.Flags().DurationVar(&runTimeout, "timeout", 0, "wall-clock budget (0 uses the configured default)")
	runCmd.Flags().BoolVar(&runSimulate, "simulate", false, "run against the in-process device simulator")
	runCmd.MarkFlagRequired("goal")
	runCmd.MarkFlagRequired("device")
	rootCmd.AddCommand(runCmd)
}

func runTask(cmd *cobra.Command, _ []string) error {
	logger := observability.GetLogger()
	cfg := appConfig

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	llm, err := llmclient.NewClient(cfg.Agent.LLM, logger)
	if err != nil {
		return fmt.Errorf("failed to construct LLM client: %w", err)
	}
	defer llm.Close()

	gw := gateway.New(cfg.Gateway, logger)
	oracle := agent.NewOracle(logger, llm)
	runner := agent.NewRunner(cfg.Agent, logger, gw, oracle, taskstore.NewNoop())

	g, gctx := errgroup.WithContext(ctx)
	if runSimulate {
		sim := devicesim.New(logger, gw, runDeviceID, demoScreens(), demoRules(), "inbox")
		g.Go(func() error {
			sim.Run(gctx)
			return nil
		})
	} else {
		server := transport.NewServer(cfg.Server, logger, gw, runner)
		g.Go(func() error {
			return server.ListenAndServe(gctx)
		})
		logger.Info("Waiting for device agent to connect",
			zap.String("device_id", runDeviceID), zap.String("addr", cfg.Server.Addr))
		if err := awaitDevice(gctx, gw, runDeviceID); err != nil {
			stop()
			g.Wait()
			return err
		}
	}

	outcome, err := runner.Submit(ctx, schemas.TaskRequest{
		Goal:     runGoal,
		DeviceID: runDeviceID,
		MaxSteps: runMaxSteps,
		Timeout:  runTimeout,
	})
	stop()
	if werr := g.Wait(); werr != nil && err == nil {
		err = werr
	}
	if err != nil {
		return err
	}

	out, merr := json.MarshalIndent(outcome, "", "  ")
	if merr != nil {
		return fmt.Errorf("failed to render outcome: %w", merr)
	}
	fmt.Println(string(out))

	if outcome.Status != schemas.StatusSuccess {
		return fmt.Errorf("task finished with status %q: %s", outcome.Status, outcome.Reason)
	}
	return nil
}

// awaitDevice blocks until the device has contacted the gateway or the
// context is cancelled.
func awaitDevice(ctx context.Context, gw *gateway.Gateway, deviceID string) error {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("cancelled while waiting for device %q: %w", deviceID, ctx.Err())
		case <-ticker.C:
			if gw.Online(deviceID) {
				return nil
			}
		}
	}
}

// demoScreens is the simulator's scripted app: a three-screen messaging flow.
func demoScreens() []devicesim.Screen {
	return []devicesim.Screen{
		{
			Name:       "inbox",
			AppPackage: "com.example.messages",
			Activity:   "InboxActivity",
			Elements: []schemas.UIElement{
				{ID: 1, Kind: schemas.KindText, Text: "Inbox"},
				{ID: 2, Kind: schemas.KindButton, Label: "Compose", Clickable: true, Enabled: true},
			},
		},
		{
			Name:       "compose",
			AppPackage: "com.example.messages",
			Activity:   "ComposeActivity",
			Elements: []schemas.UIElement{
				{ID: 1, Kind: schemas.KindTextField, Label: "Message", Editable: true, Focusable: true, Enabled: true},
				{ID: 2, Kind: schemas.KindButton, Label: "Send", Clickable: true, Enabled: true},
			},
		},
		{
			Name:       "compose_filled",
			AppPackage: "com.example.messages",
			Activity:   "ComposeActivity",
			Elements: []schemas.UIElement{
				{ID: 1, Kind: schemas.KindTextField, Text: "Hello", Label: "Message", Editable: true, Focusable: true, Enabled: true},
				{ID: 2, Kind: schemas.KindButton, Label: "Send", Clickable: true, Enabled: true},
			},
		},
		{
			Name:       "sent",
			AppPackage: "com.example.messages",
			Activity:   "InboxActivity",
			Elements: []schemas.UIElement{
				{ID: 1, Kind: schemas.KindText, Text: "Message sent"},
				{ID: 2, Kind: schemas.KindButton, Label: "Compose", Clickable: true, Enabled: true},
			},
		},
	}
}

func demoRules() []devicesim.Rule {
	return []devicesim.Rule{
		{From: "inbox", Kind: schemas.ActionTap, ElementID: 2, To: "compose"},
		{From: "compose", Kind: schemas.ActionType, ElementID: 1, To: "compose_filled"},
		{From: "compose_filled", Kind: schemas.ActionTap, ElementID: 2, To: "sent"},
		{From: "compose", Kind: schemas.ActionTap, ElementID: 2, To: "sent"},
	}
}
