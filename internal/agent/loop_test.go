// File: internal/agent/loop_test.go
package agent

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/droidpilot/api/schemas"
	"github.com/xkilldash9x/droidpilot/internal/config"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func testAgentConfig() config.AgentConfig {
	return config.AgentConfig{
		DefaultMaxSteps: 20,
		DefaultTimeout:  time.Minute,
		SnapshotWait:    50 * time.Millisecond,
		SnapshotMaxAge:  time.Minute,
		ActionWait:      100 * time.Millisecond,
		StuckThreshold:  3,
		HistorySize:     5,
	}
}

// fakeGateway is an in-memory DeviceGateway whose executor behavior is
// scripted per test through the exec callback.
type fakeGateway struct {
	mu       sync.Mutex
	online   bool
	snap     schemas.UISnapshot
	snapErr  error
	enqueued []schemas.Action
	// exec produces the result for a dispatched action and may mutate the
	// fake's snapshot, mimicking the device applying the action.
	exec func(g *fakeGateway, action schemas.Action) (schemas.ActionResult, error)
}

func (g *fakeGateway) Snapshot(string) (schemas.UISnapshot, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.snapErr != nil {
		return schemas.UISnapshot{}, g.snapErr
	}
	snap := g.snap
	if snap.CapturedAt.IsZero() {
		snap.CapturedAt = time.Now()
	}
	return snap, nil
}

func (g *fakeGateway) Enqueue(action schemas.Action) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.enqueued = append(g.enqueued, action)
	return nil
}

func (g *fakeGateway) AwaitResult(_ context.Context, actionID string, _ time.Duration) (schemas.ActionResult, error) {
	g.mu.Lock()
	var action schemas.Action
	for _, a := range g.enqueued {
		if a.ID == actionID {
			action = a
			break
		}
	}
	exec := g.exec
	g.mu.Unlock()

	if exec == nil {
		return schemas.ActionResult{ActionID: actionID, Success: true}, nil
	}
	return exec(g, action)
}

func (g *fakeGateway) Online(string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.online
}

func (g *fakeGateway) setScreen(activity, text string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.snap = schemas.UISnapshot{
		DeviceID:   "pixel-7",
		AppPackage: "com.example.messages",
		Activity:   activity,
		Elements: []schemas.UIElement{
			{ID: 1, Kind: schemas.KindText, Text: text},
			{ID: 3, Kind: schemas.KindButton, Label: "Send", Clickable: true, Enabled: true},
			{ID: 5, Kind: schemas.KindTextField, Label: "Message", Editable: true, Enabled: true},
		},
	}
}

func newLoopUnderTest(t *testing.T, gw DeviceGateway, oracle DecisionOracle) *Loop {
	t.Helper()
	return NewLoop(testAgentConfig(), zaptest.NewLogger(t), gw, oracle)
}

func taskReq() schemas.TaskRequest {
	return schemas.TaskRequest{
		ID:       "task-1",
		Goal:     "send the message",
		DeviceID: "pixel-7",
		MaxSteps: 10,
		Timeout:  time.Minute,
	}
}

func TestLoop_CompletesAfterEffectiveAction(t *testing.T) {
	gw := &fakeGateway{online: true}
	gw.setScreen("ComposeActivity", "draft")
	gw.exec = func(g *fakeGateway, action schemas.Action) (schemas.ActionResult, error) {
		g.setScreen("InboxActivity", "Message sent")
		return schemas.ActionResult{ActionID: action.ID, Success: true}, nil
	}

	oracle := &scriptedOracle{script: []scriptedDecision{
		{action: schemas.Action{Kind: schemas.ActionTap, ElementID: 3}},
		{action: schemas.Action{Kind: schemas.ActionComplete, Rationale: "confirmation is on screen"}},
	}}

	outcome := newLoopUnderTest(t, gw, oracle).Run(context.Background(), taskReq())

	assert.Equal(t, schemas.StatusSuccess, outcome.Status)
	assert.Equal(t, 1, outcome.StepsTaken, "COMPLETE itself consumes no step")
	assert.Equal(t, "confirmation is on screen", outcome.Reason)
	require.Len(t, outcome.Actions, 1)
	assert.Equal(t, schemas.ActionTap, outcome.Actions[0].Kind)
	assert.Equal(t, "task-1", outcome.Actions[0].TaskID)
}

func TestLoop_OfflineDeviceFailsBeforeObserving(t *testing.T) {
	gw := &fakeGateway{online: false}
	oracle := &scriptedOracle{script: []scriptedDecision{
		{action: schemas.Action{Kind: schemas.ActionComplete}},
	}}

	outcome := newLoopUnderTest(t, gw, oracle).Run(context.Background(), taskReq())

	assert.Equal(t, schemas.StatusFailed, outcome.Status)
	assert.Equal(t, 0, outcome.StepsTaken)
	assert.Contains(t, outcome.Reason, "device unavailable")
	assert.Equal(t, 0, oracle.calls, "the oracle must never be consulted for an unreachable device")
}

func TestLoop_StuckCircuitBreaker(t *testing.T) {
	// The executor acknowledges every action but the screen never changes:
	// three identical TYPE steps against the same fingerprint must trip the
	// breaker on the next observation.
	gw := &fakeGateway{online: true}
	gw.setScreen("ComposeActivity", "draft")

	oracle := &scriptedOracle{script: []scriptedDecision{
		{action: schemas.Action{Kind: schemas.ActionType, ElementID: 5, Text: "hello"}},
	}}

	outcome := newLoopUnderTest(t, gw, oracle).Run(context.Background(), taskReq())

	assert.Equal(t, schemas.StatusStuck, outcome.Status)
	assert.Equal(t, 3, outcome.StepsTaken)
	assert.Contains(t, outcome.Reason, "3 consecutive TYPE actions")
}

func TestLoop_MaxStepBudget(t *testing.T) {
	// The screen changes on every action (no stuck run), the oracle never
	// declares completion, so the step budget is the binding limit.
	step := 0
	gw := &fakeGateway{online: true}
	gw.setScreen("FeedActivity", "item-0")
	gw.exec = func(g *fakeGateway, action schemas.Action) (schemas.ActionResult, error) {
		step++
		g.setScreen("FeedActivity", fmt.Sprintf("item-%d", step))
		return schemas.ActionResult{ActionID: action.ID, Success: true}, nil
	}

	oracle := &scriptedOracle{script: []scriptedDecision{
		{action: schemas.Action{Kind: schemas.ActionScroll, Direction: schemas.ScrollDown}},
	}}

	req := taskReq()
	req.MaxSteps = 4
	outcome := newLoopUnderTest(t, gw, oracle).Run(context.Background(), req)

	assert.Equal(t, schemas.StatusFailed, outcome.Status)
	assert.Equal(t, 4, outcome.StepsTaken)
	assert.Contains(t, outcome.Reason, "max step budget")
}

func TestLoop_WallClockTimeout(t *testing.T) {
	gw := &fakeGateway{online: true}
	gw.setScreen("ComposeActivity", "draft")
	oracle := &scriptedOracle{script: []scriptedDecision{
		{action: schemas.Action{Kind: schemas.ActionComplete}},
	}}

	req := taskReq()
	req.Timeout = time.Nanosecond
	outcome := newLoopUnderTest(t, gw, oracle).Run(context.Background(), req)

	assert.Equal(t, schemas.StatusTimeout, outcome.Status)
	assert.Contains(t, outcome.Reason, "task timeout")
}

func TestLoop_NoFalseSuccess(t *testing.T) {
	// The screen literally says the goal is done, but the oracle never emits
	// COMPLETE; its output is unusable every turn. Keyword inference must
	// never upgrade this to a success.
	gw := &fakeGateway{online: true}
	gw.setScreen("InboxActivity", "Message sent successfully. Task complete.")

	oracle := &scriptedOracle{script: []scriptedDecision{
		{err: fmt.Errorf("%w: no JSON object in response", schemas.ErrUnparseable)},
	}}

	req := taskReq()
	req.MaxSteps = 3
	outcome := newLoopUnderTest(t, gw, oracle).Run(context.Background(), req)

	assert.Equal(t, schemas.StatusFailed, outcome.Status)
	assert.Equal(t, 3, outcome.StepsTaken, "each unusable decision consumes budget")
	assert.Empty(t, outcome.Actions, "nothing was ever dispatched")
}

func TestLoop_RejectsElementOutsideSnapshot(t *testing.T) {
	gw := &fakeGateway{online: true}
	gw.setScreen("ComposeActivity", "draft")

	oracle := &scriptedOracle{script: []scriptedDecision{
		{action: schemas.Action{Kind: schemas.ActionTap, ElementID: 99}},
		{action: schemas.Action{Kind: schemas.ActionComplete, Rationale: "done"}},
	}}

	outcome := newLoopUnderTest(t, gw, oracle).Run(context.Background(), taskReq())

	assert.Equal(t, schemas.StatusSuccess, outcome.Status)
	assert.Equal(t, 1, outcome.StepsTaken, "the invalid reference consumed a step")
	assert.Empty(t, gw.enqueued, "an unscoped element reference must never reach the device")
}

func TestLoop_ExecutorFailureIsNotTerminal(t *testing.T) {
	gw := &fakeGateway{online: true}
	gw.setScreen("ComposeActivity", "draft")
	gw.exec = func(g *fakeGateway, action schemas.Action) (schemas.ActionResult, error) {
		g.setScreen("ComposeActivity", "draft v2")
		return schemas.ActionResult{ActionID: action.ID, Success: false, Error: "element obscured"}, nil
	}

	oracle := &scriptedOracle{script: []scriptedDecision{
		{action: schemas.Action{Kind: schemas.ActionTap, ElementID: 3}},
		{action: schemas.Action{Kind: schemas.ActionComplete, Rationale: "done"}},
	}}

	outcome := newLoopUnderTest(t, gw, oracle).Run(context.Background(), taskReq())

	assert.Equal(t, schemas.StatusSuccess, outcome.Status)
	assert.Equal(t, 1, outcome.StepsTaken)
}

func TestLoop_ResultTimeoutWithDeadDevice(t *testing.T) {
	gw := &fakeGateway{online: true}
	gw.setScreen("ComposeActivity", "draft")
	gw.exec = func(g *fakeGateway, _ schemas.Action) (schemas.ActionResult, error) {
		g.mu.Lock()
		g.online = false
		g.mu.Unlock()
		return schemas.ActionResult{}, schemas.ErrResultTimeout
	}

	oracle := &scriptedOracle{script: []scriptedDecision{
		{action: schemas.Action{Kind: schemas.ActionTap, ElementID: 3}},
	}}

	outcome := newLoopUnderTest(t, gw, oracle).Run(context.Background(), taskReq())

	assert.Equal(t, schemas.StatusFailed, outcome.Status)
	assert.Equal(t, 1, outcome.StepsTaken)
	assert.Contains(t, outcome.Reason, "device went offline")
}

func TestLoop_NoObservationAvailable(t *testing.T) {
	gw := &fakeGateway{online: true, snapErr: schemas.ErrNoSnapshot}
	oracle := &scriptedOracle{script: []scriptedDecision{
		{action: schemas.Action{Kind: schemas.ActionComplete}},
	}}

	outcome := newLoopUnderTest(t, gw, oracle).Run(context.Background(), taskReq())

	assert.Equal(t, schemas.StatusFailed, outcome.Status)
	assert.Contains(t, outcome.Reason, "no observation available")
	assert.Equal(t, 0, oracle.calls)
}

func TestLoop_StaleSnapshotIsNoObservation(t *testing.T) {
	gw := &fakeGateway{online: true}
	gw.setScreen("ComposeActivity", "draft")
	gw.mu.Lock()
	gw.snap.CapturedAt = time.Now().Add(-2 * time.Minute)
	gw.mu.Unlock()

	oracle := &scriptedOracle{script: []scriptedDecision{
		{action: schemas.Action{Kind: schemas.ActionComplete}},
	}}

	outcome := newLoopUnderTest(t, gw, oracle).Run(context.Background(), taskReq())

	assert.Equal(t, schemas.StatusFailed, outcome.Status)
	assert.Contains(t, outcome.Reason, "no observation available")
}

func TestLoop_ExternalCancellation(t *testing.T) {
	gw := &fakeGateway{online: true, snapErr: schemas.ErrNoSnapshot}
	oracle := &scriptedOracle{script: []scriptedDecision{
		{action: schemas.Action{Kind: schemas.ActionComplete}},
	}}

	t.Run("deadline maps to timeout", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()

		outcome := newLoopUnderTest(t, gw, oracle).Run(ctx, taskReq())
		assert.Equal(t, schemas.StatusTimeout, outcome.Status)
	})

	t.Run("cancel maps to failed", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		outcome := newLoopUnderTest(t, gw, oracle).Run(ctx, taskReq())
		assert.Equal(t, schemas.StatusFailed, outcome.Status)
	})
}

func TestLoop_InvalidRequest(t *testing.T) {
	gw := &fakeGateway{online: true}
	oracle := &scriptedOracle{script: []scriptedDecision{{}}}

	req := taskReq()
	req.Goal = ""
	outcome := newLoopUnderTest(t, gw, oracle).Run(context.Background(), req)

	assert.Equal(t, schemas.StatusFailed, outcome.Status)
	assert.Equal(t, 0, outcome.StepsTaken)
}
