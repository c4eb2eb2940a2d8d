// File: internal/taskstore/noop.go
package taskstore

import (
	"context"

	"github.com/xkilldash9x/droidpilot/api/schemas"
)

// Noop is the journal used when no store DSN is configured. Outcomes are
// still the loop's return value; they are simply not persisted.
type Noop struct{}

// NewNoop returns the no-op journal.
func NewNoop() Noop { return Noop{} }

// SaveOutcome discards the outcome.
func (Noop) SaveOutcome(context.Context, schemas.TaskOutcome) error { return nil }
