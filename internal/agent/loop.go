// File: internal/agent/loop.go
package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/droidpilot/api/schemas"
	"github.com/xkilldash9x/droidpilot/internal/config"
)

// Allows for mocking in tests.
var uuidNewString = uuid.NewString

// snapshotPollInterval is how often OBSERVE re-reads the gateway's snapshot
// slot while waiting for a usable snapshot to appear.
const snapshotPollInterval = 100 * time.Millisecond

// Loop drives one task at a time through the OBSERVE -> DECIDE -> ACT cycle
// until the oracle asserts completion or a budget/circuit-breaker terminates
// the run. A Loop is stateless between runs and safe to reuse, but a single
// Run is strictly sequential: one device, one in-flight action at a time.
type Loop struct {
	cfg    config.AgentConfig
	logger *zap.Logger
	gw     DeviceGateway
	oracle DecisionOracle
}

// NewLoop constructs a control loop over the given gateway and oracle.
func NewLoop(cfg config.AgentConfig, logger *zap.Logger, gw DeviceGateway, oracle DecisionOracle) *Loop {
	return &Loop{
		cfg:    cfg,
		logger: logger.Named("task_loop"),
		gw:     gw,
		oracle: oracle,
	}
}

// taskRun is the mutable state of one Run invocation.
type taskRun struct {
	req     schemas.TaskRequest
	start   time.Time
	steps   int
	actions []schemas.Action
	hist    *history
}

// Run executes the task to termination and always returns a TaskOutcome; no
// fault escapes as an error. Completion is asserted only by an explicit
// COMPLETE decision from the oracle -- never inferred from screen content.
func (l *Loop) Run(ctx context.Context, req schemas.TaskRequest) schemas.TaskOutcome {
	if req.ID == "" {
		req.ID = uuidNewString()
	}
	if req.MaxSteps <= 0 {
		req.MaxSteps = l.cfg.DefaultMaxSteps
	}
	if req.Timeout <= 0 {
		req.Timeout = l.cfg.DefaultTimeout
	}

	run := &taskRun{
		req:   req,
		start: time.Now(),
		hist:  newHistory(l.cfg.HistorySize),
	}
	logger := l.logger.With(zap.String("task_id", req.ID), zap.String("device_id", req.DeviceID))

	if err := req.Validate(); err != nil {
		return l.conclude(logger, run, schemas.StatusFailed, err.Error())
	}

	// -- AWAIT_DEVICE --
	logger.Info("Task starting", zap.String("state", string(StateAwaitDevice)),
		zap.String("goal", req.Goal), zap.Int("max_steps", req.MaxSteps), zap.Duration("timeout", req.Timeout))
	if !l.gw.Online(req.DeviceID) {
		return l.conclude(logger, run, schemas.StatusFailed,
			fmt.Sprintf("device unavailable: %q has not contacted the gateway recently", req.DeviceID))
	}

	staleRetried := false
	for {
		// Budgets are hard stops, checked at the top of every cycle and
		// never silently extended.
		if elapsed := time.Since(run.start); elapsed >= req.Timeout {
			return l.conclude(logger, run, schemas.StatusTimeout,
				fmt.Sprintf("task timeout of %s exhausted after %d steps", req.Timeout, run.steps))
		}
		if run.steps >= req.MaxSteps {
			return l.conclude(logger, run, schemas.StatusFailed,
				fmt.Sprintf("max step budget of %d exhausted without the goal being reached", req.MaxSteps))
		}

		// -- OBSERVE --
		snap, err := l.observe(ctx, req.DeviceID)
		if err != nil {
			if ctx.Err() != nil {
				return l.concludeCancelled(logger, run, ctx)
			}
			if !staleRetried {
				// Observation unavailability is recoverable once (spec'd as
				// one retry cycle) before it becomes fatal.
				staleRetried = true
				logger.Warn("No usable observation; retrying once", zap.Error(err))
				continue
			}
			return l.conclude(logger, run, schemas.StatusFailed,
				fmt.Sprintf("no observation available: %v", err))
		}
		staleRetried = false

		fp := Fingerprint(&snap)
		if runLen, kind := run.hist.stuckRun(fp); runLen >= l.cfg.StuckThreshold {
			return l.conclude(logger, run, schemas.StatusStuck,
				fmt.Sprintf("no observable UI change after %d consecutive %s actions", runLen, kind))
		}

		// -- DECIDE --
		logger.Debug("Deciding next action", zap.String("state", string(StateDeciding)),
			zap.String("fingerprint", fp), zap.Int("elements", len(snap.Elements)))
		action, err := l.oracle.Decide(ctx, req.Goal, snap, run.hist.recent(l.cfg.HistorySize))
		if err != nil {
			if ctx.Err() != nil {
				return l.concludeCancelled(logger, run, ctx)
			}
			// A decision that cannot be reduced to the vocabulary is an
			// explicit step failure. It consumes budget and is never, under
			// any framing, progress toward success.
			run.steps++
			run.hist.add(StepRecord{Step: run.steps, Fingerprint: fp, Status: StepUnparseable, Error: err.Error()})
			logger.Warn("Decision not usable; recorded as failed step",
				zap.Int("step", run.steps), zap.Error(err))
			continue
		}

		if action.Kind == schemas.ActionComplete {
			reason := action.Rationale
			if reason == "" {
				reason = "oracle declared the goal complete"
			}
			return l.conclude(logger, run, schemas.StatusSuccess, reason)
		}

		// Element references are scoped to the snapshot they were decided
		// from. The gateway does not enforce this; we must.
		if action.Kind == schemas.ActionTap || action.Kind == schemas.ActionType {
			if _, ok := snap.Element(action.ElementID); !ok {
				run.steps++
				run.hist.add(StepRecord{
					Step:        run.steps,
					Fingerprint: fp,
					Status:      StepInvalidRef,
					Error:       fmt.Sprintf("element %d does not exist on the observed screen", action.ElementID),
				})
				logger.Warn("Oracle referenced an element absent from its snapshot",
					zap.Int("element_id", action.ElementID), zap.Int("step", run.steps))
				continue
			}
		}

		// -- ACT --
		action.ID = uuidNewString()
		action.TaskID = req.ID
		action.DeviceID = req.DeviceID
		if err := l.gw.Enqueue(action); err != nil {
			return l.conclude(logger, run, schemas.StatusFailed,
				fmt.Sprintf("device unavailable: enqueue rejected: %v", err))
		}
		run.steps++
		run.actions = append(run.actions, action)
		logger.Info("Action dispatched", zap.String("state", string(StateActing)),
			zap.Int("step", run.steps), zap.String("kind", string(action.Kind)),
			zap.String("action_id", action.ID))

		rec := StepRecord{Step: run.steps, Fingerprint: fp, Action: action}
		res, err := l.gw.AwaitResult(ctx, action.ID, l.cfg.ActionWait)
		switch {
		case err == nil && res.Success:
			rec.Status = StepExecuted
		case err == nil:
			rec.Status = StepFailed
			rec.Error = res.Error
			logger.Warn("Executor reported action failure",
				zap.String("action_id", action.ID), zap.String("error", res.Error))
		case errors.Is(err, schemas.ErrResultTimeout):
			// Failure of this step only; the step still counts. Unless the
			// device dropped off entirely, the loop carries on.
			rec.Status = StepNoResult
			rec.Error = fmt.Sprintf("no result within %s", l.cfg.ActionWait)
			logger.Warn("No result for dispatched action", zap.String("action_id", action.ID))
			if !l.gw.Online(req.DeviceID) {
				run.hist.add(rec)
				return l.conclude(logger, run, schemas.StatusFailed,
					"device went offline while an action result was pending")
			}
		default:
			rec.Status = StepNoResult
			rec.Error = err.Error()
			run.hist.add(rec)
			return l.concludeCancelled(logger, run, ctx)
		}
		run.hist.add(rec)
	}
}

// observe reads the gateway's snapshot slot, waiting up to SnapshotWait for
// a snapshot that is present and not stale beyond the sanity threshold.
func (l *Loop) observe(ctx context.Context, deviceID string) (schemas.UISnapshot, error) {
	deadline := time.Now().Add(l.cfg.SnapshotWait)
	for {
		snap, err := l.gw.Snapshot(deviceID)
		if err == nil {
			if age := snap.Age(); age > l.cfg.SnapshotMaxAge {
				err = fmt.Errorf("%w: cached snapshot is %s old", schemas.ErrNoSnapshot, age.Round(time.Millisecond))
			} else {
				return snap, nil
			}
		}

		if time.Now().After(deadline) {
			return schemas.UISnapshot{}, err
		}
		select {
		case <-ctx.Done():
			return schemas.UISnapshot{}, ctx.Err()
		case <-time.After(snapshotPollInterval):
		}
	}
}

// conclude finalizes the run into its single TaskOutcome.
func (l *Loop) conclude(logger *zap.Logger, run *taskRun, status schemas.TaskStatus, reason string) schemas.TaskOutcome {
	outcome := schemas.TaskOutcome{
		TaskID:     run.req.ID,
		DeviceID:   run.req.DeviceID,
		Goal:       run.req.Goal,
		Status:     status,
		StepsTaken: run.steps,
		Actions:    run.actions,
		Elapsed:    time.Since(run.start),
		Reason:     reason,
		FinishedAt: time.Now().UTC(),
	}
	logger.Info("Task finished", zap.String("state", string(StateDone)),
		zap.String("status", string(status)), zap.Int("steps", run.steps),
		zap.Duration("elapsed", outcome.Elapsed), zap.String("reason", reason))
	return outcome
}

// concludeCancelled maps an external context cancellation onto a terminal
// outcome: deadline exhaustion is a timeout, anything else a failure. Either
// way the run still produces its TaskOutcome.
func (l *Loop) concludeCancelled(logger *zap.Logger, run *taskRun, ctx context.Context) schemas.TaskOutcome {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return l.conclude(logger, run, schemas.StatusTimeout,
			fmt.Sprintf("cancelled by deadline after %d steps", run.steps))
	}
	return l.conclude(logger, run, schemas.StatusFailed,
		fmt.Sprintf("cancelled externally after %d steps", run.steps))
}
