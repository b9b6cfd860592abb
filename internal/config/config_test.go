package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	os.Setenv("COUPA_INPUT_PATH", "pos.csv")
	os.Setenv("COUPA_DRIVER_PATH", "/usr/bin/chromedriver")
	defer os.Unsetenv("COUPA_INPUT_PATH")
	defer os.Unsetenv("COUPA_DRIVER_PATH")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "pos.csv", cfg.InputPath)
	assert.Equal(t, 4, cfg.WorkerCount)
	assert.Equal(t, 8, cfg.HardWorkerCap)
	assert.True(t, cfg.Headless)
	assert.Equal(t, 100, cfg.ErrorPagePollMs)
}

func TestLoad_MissingRequiredFields(t *testing.T) {
	os.Unsetenv("COUPA_INPUT_PATH")
	os.Unsetenv("COUPA_DRIVER_PATH")

	_, err := Load("")
	assert.Error(t, err)
}

func TestConfig_EffectiveWorkerCount(t *testing.T) {
	t.Run("caps at hard worker cap", func(t *testing.T) {
		c := Config{WorkerCount: 10, HardWorkerCap: 3}
		assert.Equal(t, 3, c.EffectiveWorkerCount(100))
	})

	t.Run("caps at work list length", func(t *testing.T) {
		c := Config{WorkerCount: 10, HardWorkerCap: 10}
		assert.Equal(t, 2, c.EffectiveWorkerCount(2))
	})

	t.Run("empty work list spawns zero workers", func(t *testing.T) {
		c := Config{WorkerCount: 4, HardWorkerCap: 4}
		assert.Equal(t, 0, c.EffectiveWorkerCount(0))
	})
}

func TestConfig_Validate(t *testing.T) {
	base := Config{
		InputPath:               "x.csv",
		WorkerCount:             1,
		HardWorkerCap:           1,
		ErrorPagePollMs:         100,
		AttachmentWaitTimeoutMs: 1000,
		DownloadSettleTimeoutMs: 1000,
		PageLoadTimeoutMs:       1000,
		DriverPath:              "/usr/bin/chromedriver",
	}
	require.NoError(t, base.Validate())

	bad := base
	bad.ErrorPagePollMs = 0
	assert.Error(t, bad.Validate())
}
