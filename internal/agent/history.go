// internal/agent/history.go
package agent

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"sort"

	"github.com/xkilldash9x/droidpilot/api/schemas"
)

// fieldSep keeps concatenated fingerprint fields from colliding
// ("ab"+"c" vs "a"+"bc").
const fieldSep = "\x1f"

// Fingerprint derives a content identity for a snapshot: the foreground app,
// the activity, and the sorted multiset of (kind, text, label) element
// triples. Capture timestamps, bounds and element order are deliberately
// excluded so that re-traversals of an unchanged screen hash identically,
// while any real content change does not.
func Fingerprint(snap *schemas.UISnapshot) string {
	h := sha256.New()
	io.WriteString(h, snap.AppPackage)
	io.WriteString(h, fieldSep)
	io.WriteString(h, snap.Activity)
	io.WriteString(h, fieldSep)

	lines := make([]string, 0, len(snap.Elements))
	for _, el := range snap.Elements {
		lines = append(lines, string(el.Kind)+fieldSep+el.Text+fieldSep+el.Label)
	}
	sort.Strings(lines)
	for _, line := range lines {
		io.WriteString(h, line)
		io.WriteString(h, "\n")
	}

	sum := h.Sum(nil)
	return hex.EncodeToString(sum[:12])
}

// history is the loop's bounded buffer of recent step records.
type history struct {
	max   int
	steps []StepRecord
}

func newHistory(max int) *history {
	if max <= 0 {
		max = 5
	}
	return &history{max: max}
}

// add appends a record, evicting the oldest when the buffer is full.
func (h *history) add(rec StepRecord) {
	h.steps = append(h.steps, rec)
	if len(h.steps) > h.max {
		h.steps = h.steps[len(h.steps)-h.max:]
	}
}

// recent returns up to n most recent records, oldest first.
func (h *history) recent(n int) []StepRecord {
	if n <= 0 || n > len(h.steps) {
		n = len(h.steps)
	}
	return h.steps[len(h.steps)-n:]
}

// stuckRun reports how many trailing records share the given fingerprint AND
// dispatched actions of one same kind, and which kind that was. Records
// without a dispatched action (parse failures, invalid references) break the
// run: "stuck" means the device keeps acknowledging the same kind of action
// with no observable effect, not that decisions are failing.
func (h *history) stuckRun(fingerprint string) (int, schemas.ActionKind) {
	run := 0
	var kind schemas.ActionKind
	for i := len(h.steps) - 1; i >= 0; i-- {
		rec := h.steps[i]
		if rec.Fingerprint != fingerprint || rec.Action.Kind == "" {
			break
		}
		if kind == "" {
			kind = rec.Action.Kind
		} else if rec.Action.Kind != kind {
			break
		}
		run++
	}
	return run, kind
}
