// File: internal/config/config_test.go
package config

import (
	"bytes"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// -- Constructor and Defaults Tests --

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()

	assert.Equal(t, "info", cfg.Logger().Level)
	assert.Equal(t, "autowait", cfg.Logger().ServiceName)
	assert.True(t, cfg.Browser().Headless)
	assert.Equal(t, "data-testid", cfg.Browser().TestIDAttribute)
	assert.Equal(t, 30*time.Second, cfg.Browser().NavigationTimeout)
	assert.Equal(t, 5*time.Second, cfg.Poll().Timeout)
	assert.Equal(t, 20*time.Millisecond, cfg.Poll().BaseInterval)
	assert.Equal(t, 500*time.Millisecond, cfg.Poll().MaxInterval)
	assert.Equal(t, 4, cfg.Pool().Size)
	assert.True(t, cfg.Pool().ReuseContexts)
	assert.False(t, cfg.Telemetry().TracingEnabled)
	assert.NoError(t, cfg.Validate())
}

func TestSetters(t *testing.T) {
	var cfg Interface = NewDefaultConfig()

	cfg.SetBrowserHeadless(false)
	cfg.SetBrowserTestIDAttribute("data-qa")
	cfg.SetPollTimeout(time.Second)
	cfg.SetPoolSize(8)

	assert.False(t, cfg.Browser().Headless)
	assert.Equal(t, "data-qa", cfg.Browser().TestIDAttribute)
	assert.Equal(t, time.Second, cfg.Poll().Timeout)
	assert.Equal(t, 8, cfg.Pool().Size)
}

// -- Validation Logic Tests --

func TestConfigValidation(t *testing.T) {
	t.Run("Core Validation", func(t *testing.T) {
		cfg := NewDefaultConfig()
		require.NoError(t, cfg.Validate())

		badRate := *cfg
		badRate.BrowserCfg.QueryRate = -1
		err := badRate.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "browser.query_rate must not be negative")

		badBurst := *cfg
		badBurst.BrowserCfg.QueryBurst = 0
		err = badBurst.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "browser.query_burst must be positive")

		noTestID := *cfg
		noTestID.BrowserCfg.TestIDAttribute = ""
		err = noTestID.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "browser.test_id_attribute is required")

		badRatio := *cfg
		badRatio.TelemetryCfg.SampleRatio = 1.5
		err = badRatio.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "telemetry.sample_ratio")
	})

	t.Run("Poll Validation", func(t *testing.T) {
		valid := PollConfig{
			Timeout:      time.Second,
			BaseInterval: 10 * time.Millisecond,
			Factor:       1,
			MaxInterval:  10 * time.Millisecond,
		}
		assert.NoError(t, valid.Validate())

		zeroTimeout := valid
		zeroTimeout.Timeout = 0
		assert.NoError(t, zeroTimeout.Validate(), "a zero timeout means a single check")

		cases := map[string]func(p *PollConfig){
			"timeout must not be negative": func(p *PollConfig) { p.Timeout = -time.Second },
			"base_interval must be a positive": func(p *PollConfig) { p.BaseInterval = 0 },
			"factor must be at least 1.0": func(p *PollConfig) { p.Factor = 0.5 },
			"max_interval must be at least": func(p *PollConfig) { p.MaxInterval = time.Millisecond },
			"max_driver_failures must not be negative": func(p *PollConfig) { p.MaxDriverFailures = -1 },
		}
		for want, mutate := range cases {
			p := valid
			mutate(&p)
			err := p.Validate()
			require.Error(t, err, want)
			assert.Contains(t, err.Error(), want)
		}
	})

	t.Run("Pool Validation", func(t *testing.T) {
		p := PoolConfig{Size: 1}
		assert.NoError(t, p.Validate())

		p.Size = 0
		err := p.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "size must be a positive integer")

		p = PoolConfig{Size: 2, MaxIdle: -1}
		err = p.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "max_idle must not be negative")
	})
}

// -- Viper Integration Tests --

func TestNewConfigFromViper(t *testing.T) {
	t.Run("reads yaml over defaults", func(t *testing.T) {
		v := viper.New()
		SetDefaults(v)
		v.SetConfigType("yaml")
		yamlConfig := []byte(`
logger:
  level: debug
poll:
  timeout: 300ms
  base_interval: 50ms
  factor: 1
  max_interval: 50ms
pool:
  size: 2
  reuse_contexts: false
`)
		require.NoError(t, v.ReadConfig(bytes.NewBuffer(yamlConfig)))

		cfg, err := NewConfigFromViper(v)
		require.NoError(t, err)
		assert.Equal(t, "debug", cfg.Logger().Level)
		assert.Equal(t, 300*time.Millisecond, cfg.Poll().Timeout)
		assert.Equal(t, 50*time.Millisecond, cfg.Poll().BaseInterval)
		assert.Equal(t, 2, cfg.Pool().Size)
		assert.False(t, cfg.Pool().ReuseContexts)
		// Untouched sections keep their defaults.
		assert.Equal(t, "data-testid", cfg.Browser().TestIDAttribute)
	})

	t.Run("binds environment overrides", func(t *testing.T) {
		t.Setenv("AUTOWAIT_WORKERS", "7")
		v := viper.New()
		SetDefaults(v)

		cfg, err := NewConfigFromViper(v)
		require.NoError(t, err)
		assert.Equal(t, 7, cfg.Pool().Size)
	})

	t.Run("rejects invalid values", func(t *testing.T) {
		v := viper.New()
		SetDefaults(v)
		v.Set("pool.size", 0)

		_, err := NewConfigFromViper(v)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid configuration")
	})
}
