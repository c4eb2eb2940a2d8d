// File: internal/devicesim/simulator.go
//
// devicesim is an in-process stand-in for the device agent: it polls the
// gateway the way a real phone-side executor does, "executes" actions against
// a scripted screen graph, and reports results and fresh snapshots. It backs
// `droidpilot run --simulate` and the control-loop integration tests.
package devicesim

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/droidpilot/api/schemas"
)

// Gateway is the device-side slice of the gateway protocol.
type Gateway interface {
	PollPending(deviceID string) []schemas.Action
	PostResult(res schemas.ActionResult)
	PostSnapshot(snap schemas.UISnapshot)
}

// Screen is one scripted UI state.
type Screen struct {
	Name       string
	AppPackage string
	Activity   string
	Elements   []schemas.UIElement
}

// Rule maps an incoming action on a screen to the next screen. ElementID of
// zero matches any element; Fail makes the executor report success=false
// without moving.
type Rule struct {
	From      string
	Kind      schemas.ActionKind
	ElementID int
	To        string
	Fail      bool
	Error     string
}

// Simulator drives one simulated device. Actions that match no rule are
// acknowledged as executed but change nothing, which is exactly the
// "acknowledged but ineffective" behavior stuck detection exists for.
type Simulator struct {
	logger    *zap.Logger
	gw        Gateway
	deviceID  string
	pollEvery time.Duration

	mu      sync.Mutex
	screens map[string]Screen
	rules   []Rule
	current string
}

// New constructs a simulator starting on the named screen.
func New(logger *zap.Logger, gw Gateway, deviceID string, screens []Screen, rules []Rule, start string) *Simulator {
	byName := make(map[string]Screen, len(screens))
	for _, sc := range screens {
		byName[sc.Name] = sc
	}
	return &Simulator{
		logger:    logger.Named("devicesim"),
		gw:        gw,
		deviceID:  deviceID,
		pollEvery: 50 * time.Millisecond,
		screens:   byName,
		rules:     rules,
		current:   start,
	}
}

// Run polls the gateway until the context is cancelled. It pushes an initial
// snapshot immediately so the device registers as online.
func (s *Simulator) Run(ctx context.Context) {
	s.pushSnapshot()

	ticker := time.NewTicker(s.pollEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, action := range s.gw.PollPending(s.deviceID) {
				s.execute(action)
			}
		}
	}
}

// execute applies one action to the screen graph and reports its result.
func (s *Simulator) execute(action schemas.Action) {
	start := time.Now()

	s.mu.Lock()
	rule, matched := s.matchLocked(action)
	if matched && !rule.Fail && rule.To != "" {
		s.current = rule.To
	}
	s.mu.Unlock()

	res := schemas.ActionResult{
		ActionID:   action.ID,
		DeviceID:   s.deviceID,
		Success:    true,
		Elapsed:    time.Since(start),
		ReportedAt: time.Now().UTC(),
	}
	if matched && rule.Fail {
		res.Success = false
		res.Error = rule.Error
		if res.Error == "" {
			res.Error = "simulated execution failure"
		}
	}

	s.logger.Debug("Simulated action",
		zap.String("kind", string(action.Kind)),
		zap.Bool("matched", matched),
		zap.Bool("success", res.Success))

	// Snapshot first: the control loop re-observes the moment the result
	// lands, and must see the post-action screen.
	s.pushSnapshot()
	s.gw.PostResult(res)
}

// matchLocked finds the first rule applying to the action on the current
// screen. Callers hold s.mu.
func (s *Simulator) matchLocked(action schemas.Action) (Rule, bool) {
	for _, r := range s.rules {
		if r.From != s.current || r.Kind != action.Kind {
			continue
		}
		if r.ElementID != 0 && r.ElementID != action.ElementID {
			continue
		}
		return r, true
	}
	return Rule{}, false
}

// pushSnapshot publishes the current screen as a fresh snapshot.
func (s *Simulator) pushSnapshot() {
	s.mu.Lock()
	sc := s.screens[s.current]
	s.mu.Unlock()

	s.gw.PostSnapshot(schemas.UISnapshot{
		DeviceID:     s.deviceID,
		AppPackage:   sc.AppPackage,
		Activity:     sc.Activity,
		CapturedAt:   time.Now().UTC(),
		ScreenWidth:  1080,
		ScreenHeight: 2400,
		Elements:     sc.Elements,
	})
}
