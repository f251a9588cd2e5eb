package db

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tarancss/movo/lib/config"
)

func TestNewMemory(t *testing.T) {
	dh, err := New(config.ServiceConfig{DBType: MEMORY})
	require.NoError(t, err)
	assert.NoError(t, Close(MEMORY, dh))
}

func TestNewUnknown(t *testing.T) {
	_, err := New(config.ServiceConfig{DBType: "postgresql"})
	assert.ErrorIs(t, err, ErrUnknownDB)
}
