// File: internal/observability/logger_test.go
package observability

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/xkilldash9x/droidpilot/internal/config"
)

type memorySink struct {
	mu  sync.Mutex
	buf []byte
}

func (s *memorySink) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buf = append(s.buf, p...)
	return len(p), nil
}

func (s *memorySink) Sync() error { return nil }

func (s *memorySink) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return string(s.buf)
}

func testLoggerConfig() config.LoggerConfig {
	return config.LoggerConfig{Level: "debug", Format: "json", ServiceName: "droidpilot-test"}
}

func TestInitialize_WritesStructuredOutput(t *testing.T) {
	ResetForTest()
	t.Cleanup(ResetForTest)

	sink := &memorySink{}
	Initialize(testLoggerConfig(), zapcore.AddSync(sink))

	GetLogger().Info("hello from the gateway")
	require.NoError(t, GetLogger().Sync())

	out := sink.String()
	assert.Contains(t, out, `"msg":"hello from the gateway"`)
	assert.Contains(t, out, "droidpilot-test")
}

func TestInitialize_OnlyOnce(t *testing.T) {
	ResetForTest()
	t.Cleanup(ResetForTest)

	first := &memorySink{}
	second := &memorySink{}
	Initialize(testLoggerConfig(), zapcore.AddSync(first))
	Initialize(testLoggerConfig(), zapcore.AddSync(second))

	GetLogger().Info("routed to the first sink")
	assert.Contains(t, first.String(), "routed to the first sink")
	assert.Empty(t, second.String())
}

func TestInitialize_InvalidLevelFallsBackToInfo(t *testing.T) {
	ResetForTest()
	t.Cleanup(ResetForTest)

	sink := &memorySink{}
	cfg := testLoggerConfig()
	cfg.Level = "extremely-verbose"
	Initialize(cfg, zapcore.AddSync(sink))

	GetLogger().Debug("below the fallback level")
	GetLogger().Info("at the fallback level")

	out := sink.String()
	assert.NotContains(t, out, "below the fallback level")
	assert.Contains(t, out, "at the fallback level")
}

func TestGetLogger_FallbackBeforeInitialization(t *testing.T) {
	ResetForTest()
	t.Cleanup(ResetForTest)

	logger := GetLogger()
	require.NotNil(t, logger)
	logger.Debug("must not panic")

	// Sync before initialization is a no-op, not a crash.
	Sync()
}
