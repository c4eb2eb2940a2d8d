// File: api/schemas/actions.go
package schemas

import (
	"fmt"
	"time"
)

// ActionKind is the fixed vocabulary of primitive device operations. The
// decision oracle may choose only from this set; anything else is a parse
// failure, never a best-effort guess.
type ActionKind string

const (
	ActionTap      ActionKind = "TAP"      // Tap an element. (Params: element_id)
	ActionType     ActionKind = "TYPE"     // Type text into an element. (Params: element_id, text)
	ActionScroll   ActionKind = "SCROLL"   // Scroll the screen. (Params: direction)
	ActionWait     ActionKind = "WAIT"     // Pause before re-observing. (Params: duration_ms)
	ActionNavigate ActionKind = "NAVIGATE" // Global navigation. (Params: target)
	ActionComplete ActionKind = "COMPLETE" // Terminal: the oracle asserts the goal is achieved.
)

// NavTarget enumerates global navigation destinations.
type NavTarget string

const (
	NavHome    NavTarget = "HOME"
	NavBack    NavTarget = "BACK"
	NavRecents NavTarget = "RECENTS"
)

// ScrollDirection enumerates scroll gestures.
type ScrollDirection string

const (
	ScrollUp    ScrollDirection = "up"
	ScrollDown  ScrollDirection = "down"
	ScrollLeft  ScrollDirection = "left"
	ScrollRight ScrollDirection = "right"
)

// Action is one atomic instruction decided by the oracle for a specific
// device. An Action that references an ElementID is only meaningful against
// the snapshot it was decided from; the control loop enforces that scoping,
// the gateway does not.
type Action struct {
	ID       string     `json:"id"`
	TaskID   string     `json:"task_id"`
	DeviceID string     `json:"device_id"`
	Kind     ActionKind `json:"kind"`

	ElementID  int             `json:"element_id,omitempty"`
	Text       string          `json:"text,omitempty"`
	Direction  ScrollDirection `json:"direction,omitempty"`
	DurationMS int             `json:"duration_ms,omitempty"`
	Target     NavTarget       `json:"target,omitempty"`

	// Rationale is the oracle's stated justification for the decision. For a
	// COMPLETE action it becomes the task's success reason.
	Rationale string    `json:"rationale,omitempty"`
	DecidedAt time.Time `json:"decided_at"`
}

// Validate checks that the action's kind-specific parameters are present and
// well-formed. It does not (and cannot) check element scoping; see
// UISnapshot.Element for that.
func (a *Action) Validate() error {
	switch a.Kind {
	case ActionTap:
		if a.ElementID <= 0 {
			return fmt.Errorf("%w: TAP requires a positive element_id", ErrInvalidAction)
		}
	case ActionType:
		if a.ElementID <= 0 {
			return fmt.Errorf("%w: TYPE requires a positive element_id", ErrInvalidAction)
		}
		if a.Text == "" {
			return fmt.Errorf("%w: TYPE requires non-empty text", ErrInvalidAction)
		}
	case ActionScroll:
		switch a.Direction {
		case ScrollUp, ScrollDown, ScrollLeft, ScrollRight:
		default:
			return fmt.Errorf("%w: SCROLL direction %q is not recognized", ErrInvalidAction, a.Direction)
		}
	case ActionWait:
		if a.DurationMS <= 0 {
			return fmt.Errorf("%w: WAIT requires a positive duration_ms", ErrInvalidAction)
		}
	case ActionNavigate:
		switch a.Target {
		case NavHome, NavBack, NavRecents:
		default:
			return fmt.Errorf("%w: NAVIGATE target %q is not recognized", ErrInvalidAction, a.Target)
		}
	case ActionComplete:
		// COMPLETE carries only a rationale and is never dispatched.
	default:
		return fmt.Errorf("%w: unknown action kind %q", ErrInvalidAction, a.Kind)
	}
	return nil
}

// ActionResult is the outcome of executing one Action on the device. The
// executor produces exactly one result per dequeued action; the control loop
// consumes it exactly once.
type ActionResult struct {
	ActionID   string        `json:"action_id"`
	DeviceID   string        `json:"device_id"`
	Success    bool          `json:"success"`
	Error      string        `json:"error,omitempty"`
	Elapsed    time.Duration `json:"elapsed"`
	ReportedAt time.Time     `json:"reported_at"`
}
