// Package config owns the run's immutable Config record: defaults, the
// optional YAML file, and the recognized environment-variable overrides.
// Config is constructed once at startup and passed by value from then on —
// workers never mutate it and never see a pointer back into the parent's
// viper instance.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config is the run's immutable configuration record.
type Config struct {
	InputPath       string `mapstructure:"input_path"`
	WorkerCount     int    `mapstructure:"worker_count"`
	HardWorkerCap   int    `mapstructure:"hard_worker_cap"`
	Headless        bool   `mapstructure:"headless"`
	DownloadBaseDir string `mapstructure:"download_base_dir"`
	BrowserProfile  string `mapstructure:"browser_profile_dir"`
	DriverPath      string `mapstructure:"driver_path"`
	CoupaBaseURL    string `mapstructure:"coupa_base_url"`

	ErrorPageMarkers        []string `mapstructure:"error_page_markers"`
	ErrorPageSelectors      []string `mapstructure:"error_page_selectors"`
	ErrorPageCheckTimeoutMs int      `mapstructure:"error_page_check_timeout_ms"`
	ErrorPageReadyTimeoutMs int      `mapstructure:"error_page_ready_check_timeout_ms"`
	ErrorPagePollMs         int      `mapstructure:"error_page_poll_interval_ms"`

	AttachmentWaitTimeoutMs int `mapstructure:"attachment_wait_timeout_ms"`
	DownloadSettleTimeoutMs int `mapstructure:"download_settle_timeout_ms"`
	PageLoadTimeoutMs       int `mapstructure:"page_load_timeout_ms"`

	PrefixStripTokens     []string `mapstructure:"prefix_strip_tokens"`
	StatusSuffixSeparator string   `mapstructure:"status_suffix_separator"`
	RandomSampleSize      int      `mapstructure:"random_sample_size"` // 0 = disabled
	SkipAlreadyComplete   bool     `mapstructure:"skip_already_complete"`
	WorkerRespawnRetries  int      `mapstructure:"worker_respawn_retries"`
	ShutdownDrainMaxMs    int      `mapstructure:"shutdown_drain_max_ms"`

	Logger LoggerConfig `mapstructure:"logger"`
}

// LoggerConfig mirrors pkg/utils.LoggerConfig; kept distinct so config
// loading has no import-cycle dependence on the logging package.
type LoggerConfig struct {
	Level      string `mapstructure:"level"`
	OutputPath string `mapstructure:"output_path"`
	Format     string `mapstructure:"format"`
}

// Load reads defaults, an optional YAML file at configPath, and environment
// overrides, in that precedence order (env wins), and validates the result.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	bindEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("input_path", "")
	v.SetDefault("worker_count", 4)
	v.SetDefault("hard_worker_cap", 8)
	v.SetDefault("headless", true)
	v.SetDefault("download_base_dir", "downloads")
	v.SetDefault("driver_path", "")
	v.SetDefault("coupa_base_url", "https://coupa.example.com")

	v.SetDefault("error_page_markers", []string{"oops", "not found", "no access", "error"})
	v.SetDefault("error_page_selectors", []string{".error-page", "#error-container", "//div[@class='error-page']"})
	v.SetDefault("error_page_check_timeout_ms", 2000)
	v.SetDefault("error_page_ready_check_timeout_ms", 2000)
	v.SetDefault("error_page_poll_interval_ms", 100)

	v.SetDefault("attachment_wait_timeout_ms", 10000)
	v.SetDefault("download_settle_timeout_ms", 30000)
	v.SetDefault("page_load_timeout_ms", 30000)

	v.SetDefault("prefix_strip_tokens", []string{"PO", "PM"})
	v.SetDefault("status_suffix_separator", "_")
	v.SetDefault("random_sample_size", 0)
	v.SetDefault("skip_already_complete", true)
	v.SetDefault("worker_respawn_retries", 1)
	v.SetDefault("shutdown_drain_max_ms", 60000)

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.output_path", "stdout")
	v.SetDefault("logger.format", "console")
}

// bindEnvVars binds the recognized environment-variable overrides.
// Unrecognized environment variables are ignored by construction: only
// these names are ever bound.
func bindEnvVars(v *viper.Viper) {
	v.BindEnv("input_path", "COUPA_INPUT_PATH")
	v.BindEnv("worker_count", "COUPA_WORKER_COUNT")
	v.BindEnv("hard_worker_cap", "COUPA_HARD_WORKER_CAP")
	v.BindEnv("headless", "COUPA_HEADLESS")
	v.BindEnv("download_base_dir", "COUPA_DOWNLOAD_BASE_DIR")
	v.BindEnv("browser_profile_dir", "COUPA_BROWSER_PROFILE_DIR")
	v.BindEnv("driver_path", "COUPA_DRIVER_PATH")
	v.BindEnv("error_page_check_timeout_ms", "COUPA_ERROR_PAGE_CHECK_TIMEOUT_MS")
	v.BindEnv("error_page_ready_check_timeout_ms", "COUPA_ERROR_PAGE_READY_TIMEOUT_MS")
	v.BindEnv("error_page_poll_interval_ms", "COUPA_ERROR_PAGE_POLL_INTERVAL_MS")
	v.BindEnv("random_sample_size", "COUPA_RANDOM_SAMPLE_SIZE")
}

// Validate enforces the Config invariants required for a run to start.
func (c *Config) Validate() error {
	if c.InputPath == "" {
		return fmt.Errorf("input_path is required")
	}
	if c.WorkerCount < 1 {
		return fmt.Errorf("worker_count must be >= 1")
	}
	if c.HardWorkerCap < 1 {
		return fmt.Errorf("hard_worker_cap must be >= 1")
	}
	if c.ErrorPagePollMs <= 0 {
		return fmt.Errorf("error_page_poll_interval_ms must be > 0")
	}
	if c.AttachmentWaitTimeoutMs <= 0 {
		return fmt.Errorf("attachment_wait_timeout_ms must be > 0")
	}
	if c.DownloadSettleTimeoutMs <= 0 {
		return fmt.Errorf("download_settle_timeout_ms must be > 0")
	}
	if c.PageLoadTimeoutMs <= 0 {
		return fmt.Errorf("page_load_timeout_ms must be > 0")
	}
	if c.RandomSampleSize < 0 {
		return fmt.Errorf("random_sample_size must be >= 0")
	}
	if c.DriverPath == "" {
		return fmt.Errorf("driver_path is required")
	}
	return nil
}

// EffectiveWorkerCount caps the configured worker count at the hard cap
// and at the size of the work list itself.
func (c *Config) EffectiveWorkerCount(workListLen int) int {
	n := c.WorkerCount
	if c.HardWorkerCap < n {
		n = c.HardWorkerCap
	}
	if workListLen < n {
		n = workListLen
	}
	if n < 0 {
		n = 0
	}
	return n
}

// ErrorPageCheckTimeout and friends convert the millisecond fields to
// time.Duration at the point of use, keeping the Config struct itself a
// plain, easily-serialized value (it crosses a process boundary as JSON —
// see internal/scheduler).
func (c *Config) ErrorPageCheckTimeout() time.Duration {
	return time.Duration(c.ErrorPageCheckTimeoutMs) * time.Millisecond
}

func (c *Config) ErrorPageReadyTimeout() time.Duration {
	return time.Duration(c.ErrorPageReadyTimeoutMs) * time.Millisecond
}

func (c *Config) ErrorPagePollInterval() time.Duration {
	return time.Duration(c.ErrorPagePollMs) * time.Millisecond
}

func (c *Config) AttachmentWaitTimeout() time.Duration {
	return time.Duration(c.AttachmentWaitTimeoutMs) * time.Millisecond
}

func (c *Config) DownloadSettleTimeout() time.Duration {
	return time.Duration(c.DownloadSettleTimeoutMs) * time.Millisecond
}

func (c *Config) PageLoadTimeout() time.Duration {
	return time.Duration(c.PageLoadTimeoutMs) * time.Millisecond
}

func (c *Config) ShutdownDrainMax() time.Duration {
	return time.Duration(c.ShutdownDrainMaxMs) * time.Millisecond
}
