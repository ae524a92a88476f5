package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
	"golang.org/x/net/publicsuffix"
)

// EnvPrefix is prepended to every environment variable override, so
// agent.loop.max_steps becomes WAYFINDER_AGENT_LOOP_MAX_STEPS.
const EnvPrefix = "WAYFINDER"

// Config is the root configuration for a wayfinder process.
type Config struct {
	Logger  LoggerConfig  `mapstructure:"logger" yaml:"logger"`
	Browser BrowserConfig `mapstructure:"browser" yaml:"browser"`
	Network NetworkConfig `mapstructure:"network" yaml:"network"`
	Agent   AgentConfig   `mapstructure:"agent" yaml:"agent"`
	Capture CaptureConfig `mapstructure:"capture" yaml:"capture"`
	Report  ReportConfig  `mapstructure:"report" yaml:"report"`
	Store   StoreConfig   `mapstructure:"store" yaml:"store"`
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
	Tracing TracingConfig `mapstructure:"tracing" yaml:"tracing"`
}

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

// ColorConfig defines the color names for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// BrowserEngine selects the automation backend.
type BrowserEngine string

const (
	EngineChromedp BrowserEngine = "chromedp"
	EngineRod      BrowserEngine = "rod"
)

// BrowserConfig holds settings for the browser the agent drives.
type BrowserConfig struct {
	Engine          BrowserEngine  `mapstructure:"engine" yaml:"engine"`
	Headless        bool           `mapstructure:"headless" yaml:"headless"`
	Stealth         bool           `mapstructure:"stealth" yaml:"stealth"`
	IgnoreTLSErrors bool           `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
	RemoteURL       string         `mapstructure:"remote_url" yaml:"remote_url"` // attach to an already running browser
	Args            []string       `mapstructure:"args" yaml:"args"`
	Viewport        ViewportConfig `mapstructure:"viewport" yaml:"viewport"`
	UserAgent       string         `mapstructure:"user_agent" yaml:"user_agent"`
	Timezone        string         `mapstructure:"timezone" yaml:"timezone"`
	Locale          string         `mapstructure:"locale" yaml:"locale"`
}

// ViewportConfig is the window size in CSS pixels.
type ViewportConfig struct {
	Width  int `mapstructure:"width" yaml:"width"`
	Height int `mapstructure:"height" yaml:"height"`
}

// NetworkConfig tunes page loading and per-action timeouts.
type NetworkConfig struct {
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	ActionTimeout     time.Duration `mapstructure:"action_timeout" yaml:"action_timeout"`
	ObserveTimeout    time.Duration `mapstructure:"observe_timeout" yaml:"observe_timeout"`
	PostLoadWait      time.Duration `mapstructure:"post_load_wait" yaml:"post_load_wait"`
}

// AgentConfig groups everything that shapes the decision loop.
type AgentConfig struct {
	Goal           string         `mapstructure:"goal" yaml:"goal"`
	StartURL       string         `mapstructure:"start_url" yaml:"start_url"`
	AllowedDomains []string       `mapstructure:"allowed_domains" yaml:"allowed_domains"`
	LLM            LLMModelConfig `mapstructure:"llm" yaml:"llm"`
	Loop           LoopConfig     `mapstructure:"loop" yaml:"loop"`
	History        HistoryConfig  `mapstructure:"history" yaml:"history"`
	Observer       ObserverConfig `mapstructure:"observer" yaml:"observer"`
}

// LLMProvider defines the supported model providers.
type LLMProvider string

const (
	ProviderGemini LLMProvider = "gemini"
)

// LLMModelConfig defines the configuration for the decision model.
type LLMModelConfig struct {
	Provider          LLMProvider       `mapstructure:"provider" yaml:"provider"`
	Model             string            `mapstructure:"model" yaml:"model"`
	APIKey            string            `mapstructure:"api_key" yaml:"api_key"`
	Endpoint          string            `mapstructure:"endpoint" yaml:"endpoint"`
	APITimeout        time.Duration     `mapstructure:"api_timeout" yaml:"api_timeout"`
	Temperature       float32           `mapstructure:"temperature" yaml:"temperature"`
	TopP              float32           `mapstructure:"top_p" yaml:"top_p"`
	TopK              int               `mapstructure:"top_k" yaml:"top_k"`
	MaxTokens         int               `mapstructure:"max_tokens" yaml:"max_tokens"`
	SafetyFilters     map[string]string `mapstructure:"safety_filters" yaml:"safety_filters"`
	RequestsPerMinute int               `mapstructure:"requests_per_minute" yaml:"requests_per_minute"`
}

// LoopConfig bounds the agent loop.
type LoopConfig struct {
	MaxSteps               int    `mapstructure:"max_steps" yaml:"max_steps"`
	MaxConsecutiveFailures int    `mapstructure:"max_consecutive_failures" yaml:"max_consecutive_failures"`
	MaxRepeatedFailures    int    `mapstructure:"max_repeated_failures" yaml:"max_repeated_failures"`
	RetryOnTimeout         bool   `mapstructure:"retry_on_timeout" yaml:"retry_on_timeout"`
	SuccessPredicate       string `mapstructure:"success_predicate" yaml:"success_predicate"`
	Confirm                bool   `mapstructure:"confirm" yaml:"confirm"`
}

// HistoryConfig is the budget for the history window sent to the model.
// Zero disables a limit.
type HistoryConfig struct {
	MaxEntries int `mapstructure:"max_entries" yaml:"max_entries"`
	MaxChars   int `mapstructure:"max_chars" yaml:"max_chars"`
	MaxTokens  int `mapstructure:"max_tokens" yaml:"max_tokens"`
}

// ObserverConfig caps the size of an observation.
type ObserverConfig struct {
	MaxElements   int  `mapstructure:"max_elements" yaml:"max_elements"`
	MaxLabelChars int  `mapstructure:"max_label_chars" yaml:"max_label_chars"`
	MaxTextChars  int  `mapstructure:"max_text_chars" yaml:"max_text_chars"`
	IncludeText   bool `mapstructure:"include_text" yaml:"include_text"`
}

// CaptureConfig controls per-step screenshots.
type CaptureConfig struct {
	ScreenshotsDir string `mapstructure:"screenshots_dir" yaml:"screenshots_dir"`
}

// ReportConfig controls how the final session report is rendered.
type ReportConfig struct {
	Format string `mapstructure:"format" yaml:"format"`
	Output string `mapstructure:"output" yaml:"output"`
}

// StoreConfig selects where reports are persisted.
type StoreConfig struct {
	Driver string `mapstructure:"driver" yaml:"driver"`
	DSN    string `mapstructure:"dsn" yaml:"dsn"`
}

// MetricsConfig exposes Prometheus metrics when Addr is set.
type MetricsConfig struct {
	Addr string `mapstructure:"addr" yaml:"addr"`
}

// TracingConfig enables OpenTelemetry spans written as JSON lines.
type TracingConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Output  string `mapstructure:"output" yaml:"output"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// Defaults are static; failing here is a programming error.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for every configuration parameter.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "wayfinder")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 50)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 14)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.dpanic", "magenta")
	v.SetDefault("logger.colors.panic", "magenta")
	v.SetDefault("logger.colors.fatal", "magenta")

	// -- Browser --
	v.SetDefault("browser.engine", string(EngineChromedp))
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.stealth", true)
	v.SetDefault("browser.ignore_tls_errors", false)
	v.SetDefault("browser.viewport.width", 1440)
	v.SetDefault("browser.viewport.height", 1700)

	// -- Network --
	v.SetDefault("network.navigation_timeout", "30s")
	v.SetDefault("network.action_timeout", "8s")
	v.SetDefault("network.observe_timeout", "15s")
	v.SetDefault("network.post_load_wait", "500ms")

	// -- Agent --
	v.SetDefault("agent.llm.provider", string(ProviderGemini))
	v.SetDefault("agent.llm.model", "gemini-2.5-flash")
	v.SetDefault("agent.llm.api_timeout", "60s")
	v.SetDefault("agent.llm.temperature", 0.2)
	v.SetDefault("agent.llm.top_p", 0.95)
	v.SetDefault("agent.llm.top_k", 40)
	v.SetDefault("agent.llm.max_tokens", 2048)
	v.SetDefault("agent.llm.requests_per_minute", 30)

	v.SetDefault("agent.loop.max_steps", 30)
	v.SetDefault("agent.loop.max_consecutive_failures", 3)
	v.SetDefault("agent.loop.max_repeated_failures", 3)
	v.SetDefault("agent.loop.retry_on_timeout", true)
	v.SetDefault("agent.loop.confirm", false)

	v.SetDefault("agent.history.max_entries", 20)
	v.SetDefault("agent.history.max_chars", 12000)
	v.SetDefault("agent.history.max_tokens", 3000)

	v.SetDefault("agent.observer.max_elements", 150)
	v.SetDefault("agent.observer.max_label_chars", 120)
	v.SetDefault("agent.observer.max_text_chars", 4000)
	v.SetDefault("agent.observer.include_text", true)

	// -- Output --
	v.SetDefault("capture.screenshots_dir", "")
	v.SetDefault("report.format", "text")
	v.SetDefault("report.output", "")
	v.SetDefault("store.driver", "none")
	v.SetDefault("metrics.addr", "")
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.output", "")
}

// SearchPaths returns the directories searched for config.yaml: the working
// directory first, then ~/.wayfinder.
func SearchPaths() []string {
	paths := []string{"."}
	if home, err := homedir.Dir(); err == nil {
		paths = append(paths, filepath.Join(home, ".wayfinder"))
	}
	return paths
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Bind environment variables for sensitive data.
	_ = v.BindEnv("agent.llm.api_key", EnvPrefix+"_AGENT_LLM_API_KEY", "GEMINI_API_KEY")
	_ = v.BindEnv("store.dsn", EnvPrefix+"_STORE_DSN", "DATABASE_URL")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if cfg.Agent.LLM.APIKey == "" {
		cfg.Agent.LLM.APIKey = os.Getenv("GOOGLE_API_KEY")
	}
	if cfg.Capture.ScreenshotsDir != "" {
		expanded, err := homedir.Expand(cfg.Capture.ScreenshotsDir)
		if err != nil {
			return nil, fmt.Errorf("expanding capture.screenshots_dir: %w", err)
		}
		cfg.Capture.ScreenshotsDir = expanded
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
// The goal and API key are checked by the run command, since other commands
// do not need them.
func (c *Config) Validate() error {
	switch c.Browser.Engine {
	case EngineChromedp, EngineRod:
	default:
		return fmt.Errorf("browser.engine must be one of chromedp, rod (got %q)", c.Browser.Engine)
	}
	if c.Browser.Viewport.Width <= 0 || c.Browser.Viewport.Height <= 0 {
		return fmt.Errorf("browser.viewport width and height must be positive")
	}
	if c.Network.ActionTimeout <= 0 || c.Network.NavigationTimeout <= 0 || c.Network.ObserveTimeout <= 0 {
		return fmt.Errorf("network timeouts must be positive durations")
	}
	if err := c.Agent.Validate(); err != nil {
		return fmt.Errorf("agent configuration invalid: %w", err)
	}
	switch strings.ToLower(c.Report.Format) {
	case "json", "yaml", "text":
	default:
		return fmt.Errorf("report.format must be one of json, yaml, text (got %q)", c.Report.Format)
	}
	switch c.Store.Driver {
	case "", "none":
	case "postgres", "sqlite":
		if c.Store.DSN == "" {
			return fmt.Errorf("store.dsn is required for driver %q", c.Store.Driver)
		}
	default:
		return fmt.Errorf("store.driver must be one of none, postgres, sqlite (got %q)", c.Store.Driver)
	}
	return nil
}

// Validate checks the agent loop settings.
func (a *AgentConfig) Validate() error {
	if a.Loop.MaxSteps <= 0 {
		return fmt.Errorf("loop.max_steps must be greater than 0")
	}
	if a.Loop.MaxConsecutiveFailures <= 0 {
		return fmt.Errorf("loop.max_consecutive_failures must be greater than 0")
	}
	if a.Loop.MaxRepeatedFailures <= 0 {
		return fmt.Errorf("loop.max_repeated_failures must be greater than 0")
	}
	if a.History.MaxEntries < 0 || a.History.MaxChars < 0 || a.History.MaxTokens < 0 {
		return fmt.Errorf("history budgets must not be negative")
	}
	if a.Observer.MaxElements <= 0 || a.Observer.MaxLabelChars <= 0 {
		return fmt.Errorf("observer.max_elements and observer.max_label_chars must be greater than 0")
	}
	if a.LLM.Provider != ProviderGemini {
		return fmt.Errorf("unsupported llm.provider %q", a.LLM.Provider)
	}
	if a.StartURL != "" {
		u, err := url.Parse(a.StartURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("start_url must be an absolute http(s) URL")
		}
	}
	for _, d := range a.AllowedDomains {
		d = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(d)), ".")
		if d == "" {
			continue
		}
		// "edu" or "co.uk" would admit every site under the suffix.
		if suffix, icann := publicsuffix.PublicSuffix(d); icann && suffix == d {
			return fmt.Errorf("allowed_domains entry %q is a public suffix", d)
		}
	}
	return nil
}
