package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNew(t *testing.T) {
	logger, err := New(DefaultConfig())
	require.NoError(t, err)
	require.NotNil(t, logger)
	assert.True(t, logger.Core().Enabled(zapcore.InfoLevel))
	assert.False(t, logger.Core().Enabled(zapcore.DebugLevel))
}

func TestNewInvalidLevel(t *testing.T) {
	_, err := New(Config{Level: "loud"})
	assert.Error(t, err)
}

func TestFromLevel(t *testing.T) {
	logger := FromLevel("debug", false)
	assert.True(t, logger.Core().Enabled(zapcore.DebugLevel))

	// Unknown levels fall back to the defaults instead of failing
	fallback := FromLevel("loud", false)
	assert.True(t, fallback.Core().Enabled(zapcore.InfoLevel))
}

func TestComponent(t *testing.T) {
	logger := NewNop()
	named := logger.Component("gateway")
	assert.NotNil(t, named)
}

func TestEncodingFormat(t *testing.T) {
	assert.Equal(t, "console", encodingFormat(true))
	assert.Equal(t, "json", encodingFormat(false))
}
