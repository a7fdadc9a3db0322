package observability

import (
	"bytes"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/breakaway-robotics/executive/internal/config"
)

// syncBuffer adapts bytes.Buffer into a WriteSyncer for capturing output.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) Sync() error { return nil }

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

var _ zapcore.WriteSyncer = (*syncBuffer)(nil)

func TestInitializeWritesThroughConfiguredLevel(t *testing.T) {
	ResetForTest()
	t.Cleanup(ResetForTest)

	out := &syncBuffer{}
	Initialize(config.LoggerConfig{
		Level:       "warn",
		Format:      "console",
		ServiceName: "executive-test",
	}, out)

	logger := GetLogger()
	logger.Info("below the configured level")
	logger.Warn("at the configured level")

	got := out.String()
	assert.NotContains(t, got, "below the configured level")
	assert.Contains(t, got, "at the configured level")
	assert.Contains(t, got, "executive-test")
}

func TestInitializeRunsOnlyOnce(t *testing.T) {
	ResetForTest()
	t.Cleanup(ResetForTest)

	first := &syncBuffer{}
	second := &syncBuffer{}
	Initialize(config.LoggerConfig{Level: "info", Format: "console"}, first)
	Initialize(config.LoggerConfig{Level: "debug", Format: "console"}, second)

	GetLogger().Info("routed to the first writer")
	assert.Contains(t, first.String(), "routed to the first writer")
	assert.Empty(t, second.String())
}

func TestInvalidLevelFallsBackToInfo(t *testing.T) {
	ResetForTest()
	t.Cleanup(ResetForTest)

	out := &syncBuffer{}
	Initialize(config.LoggerConfig{Level: "nonsense", Format: "console"}, out)

	GetLogger().Debug("suppressed")
	GetLogger().Info("visible")

	got := out.String()
	assert.NotContains(t, got, "suppressed")
	assert.Contains(t, got, "visible")
}

func TestJSONFormatProducesStructuredLines(t *testing.T) {
	ResetForTest()
	t.Cleanup(ResetForTest)

	out := &syncBuffer{}
	Initialize(config.LoggerConfig{Level: "info", Format: "json", ServiceName: "executive"}, out)

	GetLogger().Info("structured entry")

	line := strings.TrimSpace(out.String())
	require.NotEmpty(t, line)
	assert.True(t, strings.HasPrefix(line, "{"), "json format should emit objects, got %q", line)
	assert.Contains(t, line, `"msg":"structured entry"`)
}

func TestGetLoggerBeforeInitializeReturnsFallback(t *testing.T) {
	ResetForTest()
	t.Cleanup(ResetForTest)

	logger := GetLogger()
	require.NotNil(t, logger)
	// Must be safe to use without initialization.
	logger.Debug("fallback logger smoke check")
}
