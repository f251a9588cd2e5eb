// config_test.go tests config files
package config

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fileToTest is a relative path to the configuration file to test (ie. movo/cmd/conf.json)
var fileToTest = "../../cmd/conf.json"

// TestConfig extracts config from a file and checks values loaded
func TestConfig(t *testing.T) {
	conf, err := ExtractConfiguration(fileToTest)
	require.NoError(t, err)

	assert.Equal(t, "3040", conf.Port)
	assert.Equal(t, "lisk-sepolia", conf.Bc.Name)
	assert.Equal(t, int32(18), conf.Bc.Decimals)
	assert.Equal(t, 4, conf.Workers)
	assert.Equal(t, 10*time.Second, conf.Bc.ReadTimeout())
	assert.Equal(t, 5*time.Second, conf.Bc.PollDuration())
	assert.NoError(t, conf.Validate())
}

func TestConfigEnvOverride(t *testing.T) {
	t.Setenv("MOVO_PORT", "4000")
	t.Setenv("MOVO_CONTRACT", "0xabc")
	t.Setenv("MOVO_WORKERS", "8")
	t.Setenv("MOVO_TXN", "true")
	t.Setenv("MOVO_STARTBLOCK", "1200")

	conf, err := ExtractConfiguration(fileToTest)
	require.NoError(t, err)

	assert.Equal(t, "4000", conf.Port)
	assert.Equal(t, "0xabc", conf.Bc.Contract)
	assert.Equal(t, 8, conf.Workers)
	assert.True(t, conf.Txn)
	assert.Equal(t, uint64(1200), conf.Bc.StartBlock)
}

func TestConfigBadEnv(t *testing.T) {
	t.Setenv("MOVO_WORKERS", "many")

	_, err := ExtractConfiguration("")
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	// defaults have no node nor contract
	conf, err := ExtractConfiguration("")
	require.NoError(t, err)

	err = conf.Validate()
	assert.True(t, errors.Is(err, ErrConfigurationMissing), "err:%v", err)

	conf.Bc.Node = "ws://localhost:8546"
	err = conf.Validate()
	assert.ErrorIs(t, err, ErrConfigurationMissing)
	assert.Contains(t, err.Error(), "contract")

	conf.Bc.Contract = "0x5fbdb2315678afecb367f032d93f642f64180aa3"
	assert.NoError(t, conf.Validate())

	conf.DBType, conf.DBConn = "memory", ""
	assert.NoError(t, conf.Validate())
}

func TestConfigFileNotFound(t *testing.T) {
	_, err := ExtractConfiguration("does-not-exist.json")
	assert.Error(t, err)
}
