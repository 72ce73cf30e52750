// internal/config/config.go
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds the entire application configuration.
type Config struct {
	Logger   LoggerConfig   `mapstructure:"logger" yaml:"logger"`
	Browser  BrowserConfig  `mapstructure:"browser" yaml:"browser"`
	Agent    AgentConfig    `mapstructure:"agent" yaml:"agent"`
	LLM      LLMConfig      `mapstructure:"llm" yaml:"llm"`
	Events   EventsConfig   `mapstructure:"events" yaml:"events"`
	Database DatabaseConfig `mapstructure:"database" yaml:"database"`
	Stream   StreamConfig   `mapstructure:"stream" yaml:"stream"`
	Plans    PlansConfig    `mapstructure:"plans" yaml:"plans"`
}

// PlansConfig locates the plan documents on disk.
type PlansConfig struct {
	Dir string `mapstructure:"dir" yaml:"dir"`
}

// LoggerConfig controls the zap logger bootstrap.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"` // "console" or "json"
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"` // megabytes
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"` // days
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig maps log levels to terminal colors for the console encoder.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// BrowserConfig controls the chromedp-backed action executor.
type BrowserConfig struct {
	Headless          bool          `mapstructure:"headless" yaml:"headless"`
	IgnoreTLSErrors   bool          `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
	ViewportWidth     int           `mapstructure:"viewport_width" yaml:"viewport_width"`
	ViewportHeight    int           `mapstructure:"viewport_height" yaml:"viewport_height"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	PostLoadWait      time.Duration `mapstructure:"post_load_wait" yaml:"post_load_wait"`
	UserAgent         string        `mapstructure:"user_agent" yaml:"user_agent"`
}

// AgentConfig carries the session execution defaults; per-session overrides
// are applied on top by the command surface.
type AgentConfig struct {
	MaxSteps          int           `mapstructure:"max_steps" yaml:"max_steps"`
	MaxRetriesPerStep int           `mapstructure:"max_retries_per_step" yaml:"max_retries_per_step"`
	StepTimeout       time.Duration `mapstructure:"step_timeout" yaml:"step_timeout"`
	InterStepPause    time.Duration `mapstructure:"inter_step_pause" yaml:"inter_step_pause"`
	AutoScreenshot    bool          `mapstructure:"auto_screenshot" yaml:"auto_screenshot"`
	EnableRecovery    bool          `mapstructure:"enable_recovery" yaml:"enable_recovery"`
	FailFast          bool          `mapstructure:"fail_fast" yaml:"fail_fast"`
}

// LLMConfig configures the vision oracle's Gemini client.
type LLMConfig struct {
	APIKey      string        `mapstructure:"api_key" yaml:"api_key"`
	Model       string        `mapstructure:"model" yaml:"model"`
	Endpoint    string        `mapstructure:"endpoint" yaml:"endpoint"`
	APITimeout  time.Duration `mapstructure:"api_timeout" yaml:"api_timeout"`
	Temperature float64       `mapstructure:"temperature" yaml:"temperature"`
	MaxTokens   int           `mapstructure:"max_tokens" yaml:"max_tokens"`
}

// EventsConfig configures the optional fan-out sinks.
type EventsConfig struct {
	RedisURL       string `mapstructure:"redis_url" yaml:"redis_url"`
	RedisChannel   string `mapstructure:"redis_channel" yaml:"redis_channel"` // prefix; session id is appended
	HistoryLimit   int    `mapstructure:"history_limit" yaml:"history_limit"`
	WebSocketLimit int    `mapstructure:"websocket_limit" yaml:"websocket_limit"`
}

// DatabaseConfig configures the Postgres archival store.
type DatabaseConfig struct {
	DSN            string        `mapstructure:"dsn" yaml:"dsn"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout" yaml:"connect_timeout"`
}

// StreamConfig controls the live frame streamer.
type StreamConfig struct {
	Enabled bool    `mapstructure:"enabled" yaml:"enabled"`
	FPS     float64 `mapstructure:"fps" yaml:"fps"`
}

// SetDefaults registers sane defaults on the given viper instance. Called
// before unmarshalling so a missing config file still yields a runnable setup.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.service_name", "demodrive")
	v.SetDefault("logger.max_size", 50)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 14)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")

	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.viewport_width", 1920)
	v.SetDefault("browser.viewport_height", 1080)
	v.SetDefault("browser.navigation_timeout", 90*time.Second)
	v.SetDefault("browser.post_load_wait", 1500*time.Millisecond)

	v.SetDefault("agent.max_steps", 100)
	v.SetDefault("agent.max_retries_per_step", 3)
	v.SetDefault("agent.step_timeout", 30*time.Second)
	v.SetDefault("agent.inter_step_pause", 500*time.Millisecond)
	v.SetDefault("agent.auto_screenshot", true)
	v.SetDefault("agent.enable_recovery", true)

	v.SetDefault("llm.model", "gemini-2.0-flash")
	v.SetDefault("llm.api_timeout", 45*time.Second)
	v.SetDefault("llm.temperature", 0.1)
	v.SetDefault("llm.max_tokens", 1024)

	v.SetDefault("events.redis_channel", "agent")
	v.SetDefault("events.history_limit", 200)
	v.SetDefault("events.websocket_limit", 256)

	v.SetDefault("database.connect_timeout", 10*time.Second)

	v.SetDefault("stream.enabled", false)
	v.SetDefault("stream.fps", 2.0)

	v.SetDefault("plans.dir", "./plans")
}

// Validate checks cross-field constraints that viper cannot express.
func (c *Config) Validate() error {
	if c.Agent.MaxRetriesPerStep < 0 {
		return fmt.Errorf("agent.max_retries_per_step must be >= 0, got %d", c.Agent.MaxRetriesPerStep)
	}
	if c.Agent.MaxSteps <= 0 {
		return fmt.Errorf("agent.max_steps must be > 0, got %d", c.Agent.MaxSteps)
	}
	if c.Agent.StepTimeout <= 0 {
		return fmt.Errorf("agent.step_timeout must be > 0, got %v", c.Agent.StepTimeout)
	}
	if c.Browser.ViewportWidth <= 0 || c.Browser.ViewportHeight <= 0 {
		return fmt.Errorf("browser viewport must be positive, got %dx%d",
			c.Browser.ViewportWidth, c.Browser.ViewportHeight)
	}
	if c.Stream.Enabled && c.Stream.FPS <= 0 {
		return fmt.Errorf("stream.fps must be > 0 when streaming is enabled, got %v", c.Stream.FPS)
	}
	return nil
}
