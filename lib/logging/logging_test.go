package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestInit(t *testing.T) {
	logger, cleanup, err := Init("warn")
	require.NoError(t, err)
	defer cleanup()

	assert.Same(t, logger, zap.L())
	assert.False(t, zap.L().Core().Enabled(zapcore.InfoLevel))
	assert.True(t, zap.L().Core().Enabled(zapcore.ErrorLevel))
}

func TestInitBadLevel(t *testing.T) {
	_, _, err := Init("loud")
	assert.Error(t, err)
}
