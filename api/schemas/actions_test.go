// File: api/schemas/actions_test.go
package schemas

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestActionValidate(t *testing.T) {
	cases := []struct {
		name    string
		action  Action
		wantErr bool
	}{
		{"tap with element", Action{Kind: ActionTap, ElementID: 3}, false},
		{"tap without element", Action{Kind: ActionTap}, true},
		{"type with text", Action{Kind: ActionType, ElementID: 1, Text: "hi"}, false},
		{"type without text", Action{Kind: ActionType, ElementID: 1}, true},
		{"type without element", Action{Kind: ActionType, Text: "hi"}, true},
		{"scroll down", Action{Kind: ActionScroll, Direction: ScrollDown}, false},
		{"scroll nonsense", Action{Kind: ActionScroll, Direction: "diagonal"}, true},
		{"wait positive", Action{Kind: ActionWait, DurationMS: 500}, false},
		{"wait zero", Action{Kind: ActionWait}, true},
		{"navigate home", Action{Kind: ActionNavigate, Target: NavHome}, false},
		{"navigate nonsense", Action{Kind: ActionNavigate, Target: "SETTINGS"}, true},
		{"complete bare", Action{Kind: ActionComplete}, false},
		{"unknown kind", Action{Kind: "LONG_PRESS", ElementID: 3}, true},
		{"empty kind", Action{}, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.action.Validate()
			if tc.wantErr {
				assert.ErrorIs(t, err, ErrInvalidAction)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestTaskRequestValidate(t *testing.T) {
	valid := TaskRequest{Goal: "send a message", DeviceID: "pixel-7", MaxSteps: 10, Timeout: 1}
	assert.NoError(t, valid.Validate())

	for name, mutate := range map[string]func(*TaskRequest){
		"empty goal":     func(r *TaskRequest) { r.Goal = "" },
		"empty device":   func(r *TaskRequest) { r.DeviceID = "" },
		"zero max steps": func(r *TaskRequest) { r.MaxSteps = 0 },
		"zero timeout":   func(r *TaskRequest) { r.Timeout = 0 },
	} {
		t.Run(name, func(t *testing.T) {
			req := valid
			mutate(&req)
			assert.Error(t, req.Validate())
		})
	}
}

func TestSnapshotElementLookup(t *testing.T) {
	snap := UISnapshot{Elements: []UIElement{
		{ID: 1, Kind: KindText, Text: "Inbox"},
		{ID: 4, Kind: KindButton, Label: "Compose"},
	}}

	el, ok := snap.Element(4)
	assert.True(t, ok)
	assert.Equal(t, KindButton, el.Kind)

	_, ok = snap.Element(99)
	assert.False(t, ok)
}
