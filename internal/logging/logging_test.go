package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/vaultd/internal/config"
)

func TestNewJSON(t *testing.T) {
	logger, err := New(config.LoggingConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(zapcore.InfoLevel))
	assert.False(t, logger.Core().Enabled(zapcore.DebugLevel))
}

func TestNewConsoleDebug(t *testing.T) {
	logger, err := New(config.LoggingConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(zapcore.DebugLevel))
}

func TestNewRejectsBadLevel(t *testing.T) {
	_, err := New(config.LoggingConfig{Level: "loud", Format: "json"})
	assert.Error(t, err)
}
