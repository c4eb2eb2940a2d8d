// File: internal/agent/runner.go
package agent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/droidpilot/api/schemas"
	"github.com/xkilldash9x/droidpilot/internal/config"
)

// Runner is the task submission surface. It admits at most one running task
// per device (actions mutate shared device state and must be strictly
// ordered) while letting tasks on distinct devices proceed concurrently, and
// journals every terminal outcome.
type Runner struct {
	cfg     config.AgentConfig
	logger  *zap.Logger
	gw      DeviceGateway
	oracle  DecisionOracle
	journal Journal

	mu   sync.Mutex
	busy map[string]string // device id -> task id currently holding it
}

// NewRunner constructs a Runner. journal may be a no-op implementation but
// must not be nil.
func NewRunner(cfg config.AgentConfig, logger *zap.Logger, gw DeviceGateway, oracle DecisionOracle, journal Journal) *Runner {
	return &Runner{
		cfg:     cfg,
		logger:  logger.Named("runner"),
		gw:      gw,
		oracle:  oracle,
		journal: journal,
		busy:    make(map[string]string),
	}
}

// Submit runs the task to completion and returns its outcome. The only error
// cases are admission failures (invalid request, device already running a
// task); once a loop starts, every fault resolves into the outcome instead.
func (r *Runner) Submit(ctx context.Context, req schemas.TaskRequest) (schemas.TaskOutcome, error) {
	if req.ID == "" {
		req.ID = uuidNewString()
	}
	if req.MaxSteps <= 0 {
		req.MaxSteps = r.cfg.DefaultMaxSteps
	}
	if req.Timeout <= 0 {
		req.Timeout = r.cfg.DefaultTimeout
	}
	if err := req.Validate(); err != nil {
		return schemas.TaskOutcome{}, err
	}

	if err := r.acquire(req.DeviceID, req.ID); err != nil {
		return schemas.TaskOutcome{}, err
	}
	defer r.release(req.DeviceID)

	loop := NewLoop(r.cfg, r.logger, r.gw, r.oracle)
	outcome := loop.Run(ctx, req)

	// Journal failures are an observability loss, not a task failure.
	saveCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.journal.SaveOutcome(saveCtx, outcome); err != nil {
		r.logger.Error("Failed to journal task outcome",
			zap.String("task_id", outcome.TaskID), zap.Error(err))
	}
	return outcome, nil
}

func (r *Runner) acquire(deviceID, taskID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if holder, ok := r.busy[deviceID]; ok {
		return fmt.Errorf("device %q is already running task %q", deviceID, holder)
	}
	r.busy[deviceID] = taskID
	return nil
}

func (r *Runner) release(deviceID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.busy, deviceID)
}
