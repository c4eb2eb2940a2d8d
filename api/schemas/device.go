// File: api/schemas/device.go
package schemas

import "time"

// ElementKind classifies a node in a captured UI tree. The set mirrors the
// accessibility classes the device-side capture layer reports.
type ElementKind string

const (
	KindButton    ElementKind = "button"
	KindTextField ElementKind = "textfield"
	KindCheckbox  ElementKind = "checkbox"
	KindSwitch    ElementKind = "switch"
	KindImage     ElementKind = "image"
	KindText      ElementKind = "text"
	KindList      ElementKind = "list"
	KindContainer ElementKind = "container"
)

// Bounds is an element's on-screen rectangle in device pixels.
type Bounds struct {
	Left   int `json:"left"`
	Top    int `json:"top"`
	Right  int `json:"right"`
	Bottom int `json:"bottom"`
}

// UIElement is one interactive or labeled node of a UI snapshot.
//
// ID is assigned by the capture layer in deterministic traversal order and is
// stable ONLY within the snapshot that carries it. Any re-traversal of the
// screen invalidates old IDs, so an ID must never be resolved against a
// snapshot other than the one it came from.
type UIElement struct {
	ID         int         `json:"id"`
	Kind       ElementKind `json:"kind"`
	Text       string      `json:"text,omitempty"`
	Label      string      `json:"label,omitempty"`       // Accessibility label.
	ResourceID string      `json:"resource_id,omitempty"` // Stable-ish developer identifier, optional.
	Clickable  bool        `json:"clickable"`
	Editable   bool        `json:"editable"`
	Scrollable bool        `json:"scrollable"`
	Focusable  bool        `json:"focusable"`
	Enabled    bool        `json:"enabled"`
	Bounds     Bounds      `json:"bounds"`
}

// UISnapshot is one structured capture of a device's current screen. It is
// immutable once created; a newer capture supersedes it, never mutates it.
type UISnapshot struct {
	DeviceID     string      `json:"device_id"`
	AppPackage   string      `json:"app_package"` // Foreground application identity.
	Activity     string      `json:"activity"`    // Logical screen/activity name.
	CapturedAt   time.Time   `json:"captured_at"`
	ScreenWidth  int         `json:"screen_width"`
	ScreenHeight int         `json:"screen_height"`
	Elements     []UIElement `json:"elements"`
}

// Element returns the element with the given per-snapshot ID, if present.
func (s *UISnapshot) Element(id int) (UIElement, bool) {
	for _, el := range s.Elements {
		if el.ID == id {
			return el, true
		}
	}
	return UIElement{}, false
}

// Age reports how long ago the snapshot was captured.
func (s *UISnapshot) Age() time.Duration {
	return time.Since(s.CapturedAt)
}
