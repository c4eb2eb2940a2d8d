// File: internal/agent/oracle.go
package agent

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/droidpilot/api/schemas"
)

// Oracle adapts the abstract "goal + snapshot + history" decision to a
// concrete LLM call and translates the model's raw output back into the
// fixed action vocabulary. It never executes on a partial parse: anything
// that does not reduce cleanly to one Action is schemas.ErrUnparseable.
type Oracle struct {
	logger        *zap.Logger
	llm           schemas.LLMClient
	decideTimeout time.Duration
}

// Statically assert that Oracle implements the DecisionOracle interface.
var _ DecisionOracle = (*Oracle)(nil)

// NewOracle creates a decision oracle backed by the given LLM client.
func NewOracle(logger *zap.Logger, client schemas.LLMClient) *Oracle {
	return &Oracle{
		logger:        logger.Named("oracle"),
		llm:           client,
		decideTimeout: 30 * time.Second,
	}
}

// Decide renders the snapshot and history into prompts, queries the model,
// and parses the response into a vocabulary action.
func (o *Oracle) Decide(ctx context.Context, goal string, snap schemas.UISnapshot, history []StepRecord) (schemas.Action, error) {
	apiCtx, cancel := context.WithTimeout(ctx, o.decideTimeout)
	defer cancel()

	req := schemas.GenerationRequest{
		SystemPrompt: systemPrompt,
		UserPrompt:   o.buildUserPrompt(goal, snap, history),
		Tier:         schemas.TierPowerful,
		Options:      schemas.GenerationOptions{ForceJSONFormat: true, Temperature: 0.2},
	}

	response, err := o.llm.Generate(apiCtx, req)
	if err != nil {
		return schemas.Action{}, fmt.Errorf("llm generation failed: %w", err)
	}

	action, err := o.parseActionResponse(response)
	if err != nil {
		return schemas.Action{}, err
	}
	action.DecidedAt = time.Now().UTC()
	return action, nil
}

// systemPrompt is the oracle's fixed instruction set. The action vocabulary
// here is the entire surface the model is allowed to use; completion can only
// be asserted through COMPLETE, never inferred from screen content.
const systemPrompt = `You are the decision core of 'droidpilot', an agent that operates a mobile device to achieve a stated goal.
Each turn you receive the device's current screen as a numbered list of UI elements, plus the recent action history.
Respond with exactly one JSON object choosing your next action.

Available action kinds:
- TAP: tap an element. {"kind": "TAP", "element_id": <id>, "rationale": "..."}
- TYPE: type text into an element. {"kind": "TYPE", "element_id": <id>, "text": "...", "rationale": "..."}
- SCROLL: scroll the screen. {"kind": "SCROLL", "direction": "up"|"down"|"left"|"right", "rationale": "..."}
- WAIT: pause before re-observing. {"kind": "WAIT", "duration_ms": 1500, "rationale": "..."}
- NAVIGATE: global navigation. {"kind": "NAVIGATE", "target": "HOME"|"BACK"|"RECENTS", "rationale": "..."}
- COMPLETE: assert the goal is fully achieved. {"kind": "COMPLETE", "rationale": "why the goal is done"}

Rules:
- element_id values are only valid for the screen shown in THIS message. Never reuse ids from earlier turns.
- Only declare COMPLETE when the screen itself proves the goal is achieved. Text you typed yourself is not proof.
- If a previous action failed or had no effect, choose a different approach instead of repeating it.
- Your response must be only the JSON for your chosen action.`

// buildUserPrompt renders the goal, the compact element listing, and the
// recent (action, outcome) history. Structural and pixel data are deliberately
// excluded to keep the model's attention on actionable, labeled elements.
func (o *Oracle) buildUserPrompt(goal string, snap schemas.UISnapshot, history []StepRecord) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Goal: %s\n\n", goal)
	fmt.Fprintf(&b, "Current screen: app=%s activity=%s (%dx%d)\n",
		snap.AppPackage, snap.Activity, snap.ScreenWidth, snap.ScreenHeight)
	b.WriteString("Elements:\n")
	for _, el := range snap.Elements {
		b.WriteString(renderElement(el))
		b.WriteByte('\n')
	}

	if len(history) > 0 {
		b.WriteString("\nRecent history (oldest first):\n")
		for _, rec := range history {
			b.WriteString(renderStep(rec))
			b.WriteByte('\n')
		}
	}

	b.WriteString("\nDecide the next action. Respond with a single JSON object.")
	return b.String()
}

// renderElement produces the compact one-line form the oracle sees, e.g.
//
//	[3] button "Send" (clickable)
func renderElement(el schemas.UIElement) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%d] %s", el.ID, el.Kind)
	if el.Text != "" {
		fmt.Fprintf(&b, " %q", el.Text)
	}
	if el.Label != "" && el.Label != el.Text {
		fmt.Fprintf(&b, " label=%q", el.Label)
	}
	if el.ResourceID != "" {
		fmt.Fprintf(&b, " id=%s", el.ResourceID)
	}

	var flags []string
	if el.Clickable {
		flags = append(flags, "clickable")
	}
	if el.Editable {
		flags = append(flags, "editable")
	}
	if el.Scrollable {
		flags = append(flags, "scrollable")
	}
	if !el.Enabled {
		flags = append(flags, "disabled")
	}
	if len(flags) > 0 {
		fmt.Fprintf(&b, " (%s)", strings.Join(flags, ","))
	}
	return b.String()
}

// renderStep summarizes one history record for the prompt.
func renderStep(rec StepRecord) string {
	if rec.Action.Kind == "" {
		return fmt.Sprintf("step %d: <no action> -> %s: %s", rec.Step, rec.Status, rec.Error)
	}

	var params string
	switch rec.Action.Kind {
	case schemas.ActionTap:
		params = fmt.Sprintf("element %d", rec.Action.ElementID)
	case schemas.ActionType:
		params = fmt.Sprintf("element %d, %q", rec.Action.ElementID, rec.Action.Text)
	case schemas.ActionScroll:
		params = string(rec.Action.Direction)
	case schemas.ActionWait:
		params = fmt.Sprintf("%dms", rec.Action.DurationMS)
	case schemas.ActionNavigate:
		params = string(rec.Action.Target)
	}

	line := fmt.Sprintf("step %d: %s(%s) -> %s", rec.Step, rec.Action.Kind, params, rec.Status)
	if rec.Error != "" {
		line += ": " + rec.Error
	}
	return line
}

// oracleDecision is the wire shape the model is instructed to emit.
type oracleDecision struct {
	Kind       string `json:"kind"`
	ElementID  int    `json:"element_id"`
	Text       string `json:"text"`
	Direction  string `json:"direction"`
	DurationMS int    `json:"duration_ms"`
	Target     string `json:"target"`
	Rationale  string `json:"rationale"`
}

// A regex to robustly extract a JSON object from a markdown code block.
var jsonBlockRegex = regexp.MustCompile(fmt.Sprintf("(?s)%s(?:json)?\\s*(.*?)\\s*%s", "```", "```"))

// parseActionResponse extracts the structured payload from the model's raw
// output, tolerating surrounding prose and markdown fencing. Irrecoverable
// parse failure is schemas.ErrUnparseable, never a guess.
func (o *Oracle) parseActionResponse(response string) (schemas.Action, error) {
	response = strings.TrimSpace(response)
	var jsonStringToParse string

	matches := jsonBlockRegex.FindStringSubmatch(response)
	if len(matches) > 1 {
		jsonStringToParse = strings.TrimSpace(matches[1])
	} else {
		firstBracket := strings.Index(response, "{")
		lastBracket := strings.LastIndex(response, "}")
		if firstBracket != -1 && lastBracket > firstBracket {
			jsonStringToParse = response[firstBracket : lastBracket+1]
		}
	}

	if jsonStringToParse == "" {
		return schemas.Action{}, fmt.Errorf("%w: no JSON object in response", schemas.ErrUnparseable)
	}

	var decision oracleDecision
	if err := json.Unmarshal([]byte(jsonStringToParse), &decision); err != nil {
		o.logger.Warn("Failed to unmarshal oracle response",
			zap.String("raw_response", response),
			zap.String("extracted_json", jsonStringToParse),
			zap.Error(err))
		return schemas.Action{}, fmt.Errorf("%w: %v", schemas.ErrUnparseable, err)
	}
	if decision.Kind == "" {
		return schemas.Action{}, fmt.Errorf("%w: missing required 'kind' field", schemas.ErrUnparseable)
	}

	action := schemas.Action{
		Kind:       schemas.ActionKind(strings.ToUpper(decision.Kind)),
		ElementID:  decision.ElementID,
		Text:       decision.Text,
		Direction:  schemas.ScrollDirection(strings.ToLower(decision.Direction)),
		DurationMS: decision.DurationMS,
		Target:     schemas.NavTarget(strings.ToUpper(decision.Target)),
		Rationale:  decision.Rationale,
	}
	if err := action.Validate(); err != nil {
		// Well-formed JSON outside the vocabulary is still a parse failure.
		return schemas.Action{}, fmt.Errorf("%w: %v", schemas.ErrUnparseable, err)
	}
	return action, nil
}
