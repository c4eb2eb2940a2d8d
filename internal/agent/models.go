// internal/agent/models.go
package agent

import (
	"context"
	"time"

	"github.com/xkilldash9x/droidpilot/api/schemas"
)

// LoopState represents the control loop's current phase. Used for logging
// and for enforcing the strictly sequential OBSERVE -> DECIDE -> ACT order.
type LoopState string

const (
	StateAwaitDevice LoopState = "AWAIT_DEVICE" // Verifying the target device is reachable.
	StateObserving   LoopState = "OBSERVE"      // Pulling the latest snapshot from the gateway.
	StateDeciding    LoopState = "DECIDE"       // Asking the oracle for the next action.
	StateActing      LoopState = "ACT"          // Action enqueued, waiting for the executor's result.
	StateDone        LoopState = "DONE"         // Terminal; a TaskOutcome has been produced.
)

// StepStatus classifies what one loop cycle amounted to. Every cycle that
// consumes step budget is recorded, including ones that never reached the
// device.
type StepStatus string

const (
	StepExecuted    StepStatus = "executed"     // Executor confirmed the action.
	StepFailed      StepStatus = "failed"       // Executor reported success=false.
	StepNoResult    StepStatus = "no_result"    // No result arrived within the per-action wait.
	StepUnparseable StepStatus = "unparseable"  // The oracle's output was not reducible to the action vocabulary.
	StepInvalidRef  StepStatus = "invalid_ref"  // The decided action referenced an element absent from its snapshot.
)

// StepRecord is one entry in the loop's bounded history buffer. Fingerprint
// identifies the snapshot the decision was made against; together with the
// action kind it drives stuck detection.
type StepRecord struct {
	Step        int
	Fingerprint string
	Action      schemas.Action // Zero-valued when the cycle produced no action.
	Status      StepStatus
	Error       string
}

// DeviceGateway is the loop's view of the gateway. Satisfied by
// *gateway.Gateway; narrowed here so tests can substitute it.
type DeviceGateway interface {
	Snapshot(deviceID string) (schemas.UISnapshot, error)
	Enqueue(action schemas.Action) error
	AwaitResult(ctx context.Context, actionID string, timeout time.Duration) (schemas.ActionResult, error)
	Online(deviceID string) bool
}

// DecisionOracle maps (goal, snapshot, history) to the next primitive action
// or a COMPLETE action. Implementations must wrap schemas.ErrUnparseable
// when the underlying model's output cannot be reduced to the vocabulary.
type DecisionOracle interface {
	Decide(ctx context.Context, goal string, snap schemas.UISnapshot, history []StepRecord) (schemas.Action, error)
}

// Journal persists terminal task outcomes. Failures are logged by the
// caller, never propagated into the outcome itself.
type Journal interface {
	SaveOutcome(ctx context.Context, outcome schemas.TaskOutcome) error
}
