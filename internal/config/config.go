// File: internal/config/config.go
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Interface defines the contract for accessing application configuration.
// Commands depend on it so tests can substitute their own values.
type Interface interface {
	Logger() LoggerConfig
	Browser() BrowserConfig
	Poll() PollConfig
	Pool() PoolConfig
	Telemetry() TelemetryConfig

	// Browser Setters
	SetBrowserHeadless(bool)
	SetBrowserTestIDAttribute(string)

	// Poll Setters
	SetPollTimeout(time.Duration)

	// Pool Setters
	SetPoolSize(int)
}

// Config holds the entire application configuration.
type Config struct {
	LoggerCfg    LoggerConfig    `mapstructure:"logger" yaml:"logger"`
	BrowserCfg   BrowserConfig   `mapstructure:"browser" yaml:"browser"`
	PollCfg      PollConfig      `mapstructure:"poll" yaml:"poll"`
	PoolCfg      PoolConfig      `mapstructure:"pool" yaml:"pool"`
	TelemetryCfg TelemetryConfig `mapstructure:"telemetry" yaml:"telemetry"`
}

func (c *Config) Logger() LoggerConfig       { return c.LoggerCfg }
func (c *Config) Browser() BrowserConfig     { return c.BrowserCfg }
func (c *Config) Poll() PollConfig           { return c.PollCfg }
func (c *Config) Pool() PoolConfig           { return c.PoolCfg }
func (c *Config) Telemetry() TelemetryConfig { return c.TelemetryCfg }

func (c *Config) SetBrowserHeadless(b bool)            { c.BrowserCfg.Headless = b }
func (c *Config) SetBrowserTestIDAttribute(attr string) { c.BrowserCfg.TestIDAttribute = attr }
func (c *Config) SetPollTimeout(d time.Duration)       { c.PollCfg.Timeout = d }
func (c *Config) SetPoolSize(n int)                    { c.PoolCfg.Size = n }

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color settings for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// BrowserConfig holds settings for the Chrome allocator and the CDP driver.
type BrowserConfig struct {
	Headless          bool           `mapstructure:"headless" yaml:"headless"`
	DisableCache      bool           `mapstructure:"disable_cache" yaml:"disable_cache"`
	IgnoreTLSErrors   bool           `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
	ExecPath          string         `mapstructure:"exec_path" yaml:"exec_path"`
	Args              []string       `mapstructure:"args" yaml:"args"`
	Viewport          ViewportConfig `mapstructure:"viewport" yaml:"viewport"`
	NavigationTimeout time.Duration  `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	// QueryRate caps document queries per second across all pages. Zero
	// disables the limit.
	QueryRate       float64 `mapstructure:"query_rate" yaml:"query_rate"`
	QueryBurst      int     `mapstructure:"query_burst" yaml:"query_burst"`
	TestIDAttribute string  `mapstructure:"test_id_attribute" yaml:"test_id_attribute"`
	Debug           bool    `mapstructure:"debug" yaml:"debug"`
}

// ViewportConfig is the page size applied to new pages.
type ViewportConfig struct {
	Width  int `mapstructure:"width" yaml:"width"`
	Height int `mapstructure:"height" yaml:"height"`
}

// PollConfig is the default retry policy for waits, assertions and actions.
type PollConfig struct {
	Timeout           time.Duration `mapstructure:"timeout" yaml:"timeout"`
	BaseInterval      time.Duration `mapstructure:"base_interval" yaml:"base_interval"`
	Factor            float64       `mapstructure:"factor" yaml:"factor"`
	MaxInterval       time.Duration `mapstructure:"max_interval" yaml:"max_interval"`
	MaxDriverFailures int           `mapstructure:"max_driver_failures" yaml:"max_driver_failures"`
}

// PoolConfig sizes the execution context pool.
type PoolConfig struct {
	Size          int           `mapstructure:"size" yaml:"size"`
	MaxIdle       int           `mapstructure:"max_idle" yaml:"max_idle"`
	ReuseContexts bool          `mapstructure:"reuse_contexts" yaml:"reuse_contexts"`
	CloseTimeout  time.Duration `mapstructure:"close_timeout" yaml:"close_timeout"`
}

// TelemetryConfig controls tracing export.
type TelemetryConfig struct {
	TracingEnabled bool    `mapstructure:"tracing_enabled" yaml:"tracing_enabled"`
	PrettyPrint    bool    `mapstructure:"pretty_print" yaml:"pretty_print"`
	ServiceName    string  `mapstructure:"service_name" yaml:"service_name"`
	SampleRatio    float64 `mapstructure:"sample_ratio" yaml:"sample_ratio"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "autowait")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")

	// -- Browser --
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.disable_cache", true)
	v.SetDefault("browser.ignore_tls_errors", false)
	v.SetDefault("browser.viewport.width", 1280)
	v.SetDefault("browser.viewport.height", 720)
	v.SetDefault("browser.navigation_timeout", "30s")
	v.SetDefault("browser.query_rate", 200.0)
	v.SetDefault("browser.query_burst", 20)
	v.SetDefault("browser.test_id_attribute", "data-testid")
	v.SetDefault("browser.debug", false)

	// -- Poll --
	v.SetDefault("poll.timeout", "5s")
	v.SetDefault("poll.base_interval", "20ms")
	v.SetDefault("poll.factor", 2.0)
	v.SetDefault("poll.max_interval", "500ms")
	v.SetDefault("poll.max_driver_failures", 5)

	// -- Pool --
	v.SetDefault("pool.size", 4)
	v.SetDefault("pool.max_idle", 4)
	v.SetDefault("pool.reuse_contexts", true)
	v.SetDefault("pool.close_timeout", "10s")

	// -- Telemetry --
	v.SetDefault("telemetry.tracing_enabled", false)
	v.SetDefault("telemetry.pretty_print", false)
	v.SetDefault("telemetry.service_name", "autowait")
	v.SetDefault("telemetry.sample_ratio", 1.0)
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Bind the knobs most often flipped in CI without a config file.
	_ = v.BindEnv("browser.exec_path", "AUTOWAIT_CHROME_PATH")
	_ = v.BindEnv("pool.size", "AUTOWAIT_WORKERS")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if err := c.PollCfg.Validate(); err != nil {
		return fmt.Errorf("poll configuration invalid: %w", err)
	}
	if err := c.PoolCfg.Validate(); err != nil {
		return fmt.Errorf("pool configuration invalid: %w", err)
	}
	if c.BrowserCfg.QueryRate < 0 {
		return fmt.Errorf("browser.query_rate must not be negative")
	}
	if c.BrowserCfg.QueryRate > 0 && c.BrowserCfg.QueryBurst <= 0 {
		return fmt.Errorf("browser.query_burst must be positive when query_rate is set")
	}
	if c.BrowserCfg.TestIDAttribute == "" {
		return fmt.Errorf("browser.test_id_attribute is required")
	}
	if c.TelemetryCfg.SampleRatio < 0 || c.TelemetryCfg.SampleRatio > 1 {
		return fmt.Errorf("telemetry.sample_ratio must be between 0.0 and 1.0")
	}
	return nil
}

// Validate checks the poll settings.
func (p *PollConfig) Validate() error {
	if p.Timeout < 0 {
		return fmt.Errorf("timeout must not be negative")
	}
	if p.BaseInterval <= 0 {
		return fmt.Errorf("base_interval must be a positive duration")
	}
	if p.Factor < 1 {
		return fmt.Errorf("factor must be at least 1.0")
	}
	if p.MaxInterval < p.BaseInterval {
		return fmt.Errorf("max_interval must be at least base_interval")
	}
	if p.MaxDriverFailures < 0 {
		return fmt.Errorf("max_driver_failures must not be negative")
	}
	return nil
}

// Validate checks the pool settings.
func (p *PoolConfig) Validate() error {
	if p.Size <= 0 {
		return fmt.Errorf("size must be a positive integer")
	}
	if p.MaxIdle < 0 {
		return fmt.Errorf("max_idle must not be negative")
	}
	return nil
}
