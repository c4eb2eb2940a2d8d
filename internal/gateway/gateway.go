// File: internal/gateway/gateway.go
package gateway

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/droidpilot/api/schemas"
	"github.com/xkilldash9x/droidpilot/internal/config"
)

// Gateway is the synchronization point between the control loop's
// request/response rhythm and the device agent's independent polling rhythm.
// Per device it holds a single-slot snapshot cache (last write wins) and a
// FIFO pending-action queue with at-most-once poll delivery.
//
// The Gateway owns all thread safety; callers need no coordination of their
// own. No ordering guarantee exists across devices.
type Gateway struct {
	logger         *zap.Logger
	offlineAfter   time.Duration
	queueWarnDepth int

	// now is a seam for tests that need to age devices artificially.
	now func() time.Time

	mu      sync.Mutex
	devices map[string]*deviceState
	// waiters maps action ID to the channel AwaitResult listens on. Buffered
	// by one so a result posted before anyone waits is not lost.
	waiters map[string]chan schemas.ActionResult
}

// deviceState is everything the gateway tracks for one device.
type deviceState struct {
	snapshot *schemas.UISnapshot
	lastSeen time.Time
	pending  []schemas.Action
}

// New constructs a Gateway.
func New(cfg config.GatewayConfig, logger *zap.Logger) *Gateway {
	return &Gateway{
		logger:         logger.Named("gateway"),
		offlineAfter:   cfg.OfflineAfter,
		queueWarnDepth: cfg.QueueWarnDepth,
		now:            time.Now,
		devices:        make(map[string]*deviceState),
		waiters:        make(map[string]chan schemas.ActionResult),
	}
}

// -- Control-loop side --

// Snapshot returns the most recent UI snapshot cached for the device.
// ErrDeviceUnknown means the device has never contacted the gateway;
// ErrNoSnapshot means it has, but no snapshot arrived yet.
func (g *Gateway) Snapshot(deviceID string) (schemas.UISnapshot, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	dev, ok := g.devices[deviceID]
	if !ok {
		return schemas.UISnapshot{}, schemas.ErrDeviceUnknown
	}
	if dev.snapshot == nil {
		return schemas.UISnapshot{}, schemas.ErrNoSnapshot
	}
	return *dev.snapshot, nil
}

// Enqueue appends an action to the device's FIFO pending queue and registers
// a result waiter for it. Returns ErrDeviceUnknown for devices the gateway
// has never seen.
func (g *Gateway) Enqueue(action schemas.Action) error {
	if err := action.Validate(); err != nil {
		return err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	dev, ok := g.devices[action.DeviceID]
	if !ok {
		return schemas.ErrDeviceUnknown
	}

	dev.pending = append(dev.pending, action)
	g.waiters[action.ID] = make(chan schemas.ActionResult, 1)

	if depth := len(dev.pending); depth >= g.queueWarnDepth {
		// A deep queue means the device stopped draining. The gateway never
		// caps or expires the queue itself; escalation is the loop's call.
		g.logger.Warn("Pending queue is deep; device may have stopped polling",
			zap.String("device_id", action.DeviceID),
			zap.Int("depth", depth))
	}
	return nil
}

// AwaitResult blocks until the executor reports a result for the action, the
// timeout elapses, or the context is cancelled. The waiter registration is
// removed on return either way; a result that arrives afterwards is treated
// as orphaned by PostResult.
func (g *Gateway) AwaitResult(ctx context.Context, actionID string, timeout time.Duration) (schemas.ActionResult, error) {
	g.mu.Lock()
	ch, ok := g.waiters[actionID]
	g.mu.Unlock()
	if !ok {
		return schemas.ActionResult{}, schemas.ErrResultTimeout
	}

	defer func() {
		g.mu.Lock()
		delete(g.waiters, actionID)
		g.mu.Unlock()
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-ch:
		return res, nil
	case <-timer.C:
		return schemas.ActionResult{}, schemas.ErrResultTimeout
	case <-ctx.Done():
		return schemas.ActionResult{}, ctx.Err()
	}
}

// Online reports whether the device has polled or pushed within the
// configured liveness window.
func (g *Gateway) Online(deviceID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	dev, ok := g.devices[deviceID]
	if !ok {
		return false
	}
	return g.now().Sub(dev.lastSeen) <= g.offlineAfter
}

// -- Device side --

// PollPending drains and returns the device's pending queue in FIFO order.
// Delivery is at most once: an action handed to a poll is gone from the
// queue, and the device owes a result for everything it dequeued. Polling
// also registers the device and refreshes its liveness.
func (g *Gateway) PollPending(deviceID string) []schemas.Action {
	g.mu.Lock()
	defer g.mu.Unlock()

	dev := g.touchLocked(deviceID)
	if len(dev.pending) == 0 {
		return nil
	}
	drained := dev.pending
	dev.pending = nil
	return drained
}

// PostResult delivers an executor's result to the waiter registered for the
// action. Results for actions nobody is waiting on (a task that already
// timed out, say) are logged and dropped, never an error.
func (g *Gateway) PostResult(res schemas.ActionResult) {
	g.mu.Lock()
	ch, ok := g.waiters[res.ActionID]
	if res.DeviceID != "" {
		g.touchLocked(res.DeviceID)
	}
	g.mu.Unlock()

	if !ok {
		g.logger.Debug("Dropping orphaned action result",
			zap.String("action_id", res.ActionID),
			zap.String("device_id", res.DeviceID))
		return
	}

	select {
	case ch <- res:
	default:
		// A second result for the same action violates the executor's
		// exactly-once contract; keep the first.
		g.logger.Warn("Duplicate result for action; keeping the first",
			zap.String("action_id", res.ActionID))
	}
}

// PostSnapshot replaces the cached snapshot for the device. Last write wins;
// there is no versioning and no merge.
func (g *Gateway) PostSnapshot(snap schemas.UISnapshot) {
	g.mu.Lock()
	defer g.mu.Unlock()

	dev := g.touchLocked(snap.DeviceID)
	dev.snapshot = &snap
}

// touchLocked registers the device if needed and refreshes its liveness
// stamp. Callers must hold g.mu.
func (g *Gateway) touchLocked(deviceID string) *deviceState {
	dev, ok := g.devices[deviceID]
	if !ok {
		dev = &deviceState{}
		g.devices[deviceID] = dev
		g.logger.Info("Device registered", zap.String("device_id", deviceID))
	}
	dev.lastSeen = g.now()
	return dev
}
