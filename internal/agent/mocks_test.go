// File: internal/agent/mocks_test.go
package agent

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/xkilldash9x/droidpilot/api/schemas"
)

// MockLLMClient is a testify mock of the schemas.LLMClient interface.
type MockLLMClient struct {
	mock.Mock
}

func (m *MockLLMClient) Generate(ctx context.Context, req schemas.GenerationRequest) (string, error) {
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

func (m *MockLLMClient) Close() error {
	args := m.Called()
	return args.Error(0)
}

// scriptedOracle replays a fixed decision sequence, repeating the last entry
// once the script runs out. Entries may be actions or errors.
type scriptedOracle struct {
	script []scriptedDecision
	calls  int
}

type scriptedDecision struct {
	action schemas.Action
	err    error
}

func (o *scriptedOracle) Decide(_ context.Context, _ string, _ schemas.UISnapshot, _ []StepRecord) (schemas.Action, error) {
	i := o.calls
	if i >= len(o.script) {
		i = len(o.script) - 1
	}
	o.calls++
	d := o.script[i]
	return d.action, d.err
}
