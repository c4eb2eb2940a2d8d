// File: api/schemas/tasks.go
package schemas

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors shared across the gateway and control loop.
var (
	ErrInvalidAction = errors.New("invalid action")
	ErrDeviceUnknown = errors.New("device unknown")
	ErrNoSnapshot    = errors.New("no snapshot available")
	ErrResultTimeout = errors.New("timed out waiting for action result")
	ErrUnparseable   = errors.New("oracle response not parseable")
	ErrDeviceOffline = errors.New("device offline")
)

// TaskStatus is the terminal status of one automation task. Exactly one of
// these is produced per run; there is no partial or implicit outcome.
type TaskStatus string

const (
	StatusSuccess TaskStatus = "success" // The oracle explicitly asserted completion.
	StatusFailed  TaskStatus = "failed"  // Device unavailable, observation unavailable, or unrecoverable step failure.
	StatusTimeout TaskStatus = "timeout" // Wall-clock budget exhausted.
	StatusStuck   TaskStatus = "stuck"   // Circuit breaker: repeated actions with no observable UI change.
)

// TaskRequest is the unit of work: drive one natural-language goal on one
// device within hard step and wall-clock budgets.
type TaskRequest struct {
	ID       string        `json:"id,omitempty"`
	Goal     string        `json:"goal"`
	DeviceID string        `json:"device_id"`
	MaxSteps int           `json:"max_steps"`
	Timeout  time.Duration `json:"timeout"`
}

// Validate rejects requests the loop could not run to a meaningful outcome.
func (r *TaskRequest) Validate() error {
	if r.Goal == "" {
		return fmt.Errorf("task request: goal must not be empty")
	}
	if r.DeviceID == "" {
		return fmt.Errorf("task request: device_id must not be empty")
	}
	if r.MaxSteps <= 0 {
		return fmt.Errorf("task request: max_steps must be positive")
	}
	if r.Timeout <= 0 {
		return fmt.Errorf("task request: timeout must be positive")
	}
	return nil
}

// TaskOutcome is the loop's only durable output, produced exactly once at
// termination. Reason is always populated with a concrete explanation.
type TaskOutcome struct {
	TaskID     string        `json:"task_id"`
	DeviceID   string        `json:"device_id"`
	Goal       string        `json:"goal"`
	Status     TaskStatus    `json:"status"`
	StepsTaken int           `json:"steps_taken"`
	Actions    []Action      `json:"actions"`
	Elapsed    time.Duration `json:"elapsed"`
	Reason     string        `json:"reason"`
	FinishedAt time.Time     `json:"finished_at"`
}
