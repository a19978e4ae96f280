// File: internal/config/config.go
package config

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Interface defines the contract for accessing application configuration.
// This allows for dependency injection and mocking in tests.
type Interface interface {
	Logger() LoggerConfig
	Browser() BrowserConfig
	Network() NetworkConfig
	Tracker() TrackerConfig
	Report() ReportConfig

	// Tracker Setters
	SetTrackerLabel(string)
	SetTrackerSelector(string)
	SetTrackerLocator(string)
	SetTrackerStartImmediately(bool)

	// Browser Setters
	SetBrowserHeadless(bool)
	SetBrowserConcurrency(int)

	// Report Setters
	SetReportFormat(string)
	SetReportOutput(string)
}

// Config holds the entire application configuration.
type Config struct {
	LoggerCfg  LoggerConfig  `mapstructure:"logger" yaml:"logger"`
	BrowserCfg BrowserConfig `mapstructure:"browser" yaml:"browser"`
	NetworkCfg NetworkConfig `mapstructure:"network" yaml:"network"`
	TrackerCfg TrackerConfig `mapstructure:"tracker" yaml:"tracker"`
	ReportCfg  ReportConfig  `mapstructure:"report" yaml:"report"`
}

// --- Interface Method Implementations (Getters) ---

func (c *Config) Logger() LoggerConfig   { return c.LoggerCfg }
func (c *Config) Browser() BrowserConfig { return c.BrowserCfg }
func (c *Config) Network() NetworkConfig { return c.NetworkCfg }
func (c *Config) Tracker() TrackerConfig { return c.TrackerCfg }
func (c *Config) Report() ReportConfig   { return c.ReportCfg }

// --- Interface Method Implementations (Setters) ---

// Tracker Setters
func (c *Config) SetTrackerLabel(l string)          { c.TrackerCfg.Label = l }
func (c *Config) SetTrackerSelector(s string)       { c.TrackerCfg.Selector = s }
func (c *Config) SetTrackerLocator(l string)        { c.TrackerCfg.Locator = l }
func (c *Config) SetTrackerStartImmediately(b bool) { c.TrackerCfg.StartImmediately = b }

// Browser Setters
func (c *Config) SetBrowserHeadless(b bool)   { c.BrowserCfg.Headless = b }
func (c *Config) SetBrowserConcurrency(n int) { c.BrowserCfg.Concurrency = n }

// Report Setters
func (c *Config) SetReportFormat(f string) { c.ReportCfg.Format = f }
func (c *Config) SetReportOutput(o string) { c.ReportCfg.Output = o }

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

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// BrowserConfig holds settings for the headless browser used to fetch remote pages.
type BrowserConfig struct {
	// Engine fetches remote targets: "chrome" drives a headless browser, "http" uses a
	// plain HTTP client and never starts one.
	Engine          string `mapstructure:"engine" yaml:"engine"`
	Headless        bool   `mapstructure:"headless" yaml:"headless"`
	IgnoreTLSErrors bool   `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
	// Concurrency bounds how many targets are tracked at once.
	Concurrency int      `mapstructure:"concurrency" yaml:"concurrency"`
	Debug       bool     `mapstructure:"debug" yaml:"debug"`
	Args        []string `mapstructure:"args" yaml:"args"`
	UserAgent   string   `mapstructure:"user_agent" yaml:"user_agent"`
}

// ProxyConfig defines the configuration for an outbound proxy.
type ProxyConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Address string `mapstructure:"address" yaml:"address"`
}

// NetworkConfig tunes page loading.
type NetworkConfig struct {
	NavigationTimeout time.Duration     `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	PostLoadWait      time.Duration     `mapstructure:"post_load_wait" yaml:"post_load_wait"`
	RetryMaxElapsed   time.Duration     `mapstructure:"retry_max_elapsed" yaml:"retry_max_elapsed"`
	Headers           map[string]string `mapstructure:"headers" yaml:"headers"`
	Proxy             ProxyConfig       `mapstructure:"proxy" yaml:"proxy"`
}

// TrackerConfig controls when tainting starts and what gets seeded.
type TrackerConfig struct {
	// Label names the seeded value and the global it is bound to.
	Label string `mapstructure:"label" yaml:"label"`
	// Locator is a JavaScript expression evaluating to the element to taint.
	Locator string `mapstructure:"locator" yaml:"locator"`
	// Selector is a CSS selector used when Locator is empty.
	Selector         string        `mapstructure:"selector" yaml:"selector"`
	StartImmediately bool          `mapstructure:"start_immediately" yaml:"start_immediately"`
	SeedCode         string        `mapstructure:"seed_code" yaml:"seed_code"`
	SettleTime       time.Duration `mapstructure:"settle_time" yaml:"settle_time"`
	ScriptTimeout    time.Duration `mapstructure:"script_timeout" yaml:"script_timeout"`
	// Triggers are "selector@event" pairs fired after the page finished loading.
	Triggers []string `mapstructure:"triggers" yaml:"triggers"`
}

// Trigger is one parsed entry of TrackerConfig.Triggers.
type Trigger struct {
	Selector string
	Event    string
}

// ParseTrigger splits "selector@event" at the last '@'.
func ParseTrigger(raw string) (Trigger, error) {
	i := strings.LastIndex(raw, "@")
	if i <= 0 || i == len(raw)-1 {
		return Trigger{}, fmt.Errorf("trigger %q must have the form selector@event", raw)
	}
	return Trigger{Selector: strings.TrimSpace(raw[:i]), Event: strings.TrimSpace(raw[i+1:])}, nil
}

// ParsedTriggers returns the configured triggers in order.
func (t *TrackerConfig) ParsedTriggers() ([]Trigger, error) {
	out := make([]Trigger, 0, len(t.Triggers))
	for _, raw := range t.Triggers {
		tr, err := ParseTrigger(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, tr)
	}
	return out, nil
}

// ReportConfig selects the report writer.
type ReportConfig struct {
	Format string `mapstructure:"format" yaml:"format"`
	// Output is a file path; empty or "-" means stdout.
	Output string `mapstructure:"output" yaml:"output"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// This should not happen with defaults, but good to be safe.
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
	v.SetDefault("logger.service_name", "domtaint")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- Browser --
	v.SetDefault("browser.engine", "chrome")
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.ignore_tls_errors", false)
	v.SetDefault("browser.concurrency", 4)
	v.SetDefault("browser.debug", false)

	// -- Network --
	v.SetDefault("network.navigation_timeout", "60s")
	v.SetDefault("network.post_load_wait", "1s")
	v.SetDefault("network.retry_max_elapsed", "30s")
	v.SetDefault("network.proxy.enabled", false)

	// -- Tracker --
	v.SetDefault("tracker.label", "tainted_input")
	v.SetDefault("tracker.locator", "")
	v.SetDefault("tracker.selector", "form")
	v.SetDefault("tracker.start_immediately", false)
	v.SetDefault("tracker.seed_code", "")
	v.SetDefault("tracker.settle_time", "2s")
	v.SetDefault("tracker.script_timeout", "10s")
	v.SetDefault("tracker.triggers", []string{})

	// -- Report --
	v.SetDefault("report.format", "text")
	v.SetDefault("report.output", "-")
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
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
	switch c.BrowserCfg.Engine {
	case "chrome", "http":
	default:
		return fmt.Errorf("browser.engine must be chrome or http, got %q", c.BrowserCfg.Engine)
	}
	if c.BrowserCfg.Concurrency <= 0 {
		return fmt.Errorf("browser.concurrency must be a positive integer")
	}
	if c.NetworkCfg.NavigationTimeout <= 0 {
		return fmt.Errorf("network.navigation_timeout must be a positive duration")
	}
	if err := c.TrackerCfg.Validate(); err != nil {
		return fmt.Errorf("tracker configuration invalid: %w", err)
	}
	if err := c.ReportCfg.Validate(); err != nil {
		return fmt.Errorf("report configuration invalid: %w", err)
	}
	return nil
}

var identifierPattern = regexp.MustCompile(`^[A-Za-z_$][A-Za-z0-9_$]*$`)

// Validate checks the TrackerConfig settings.
func (t *TrackerConfig) Validate() error {
	if !identifierPattern.MatchString(t.Label) {
		return fmt.Errorf("label %q must be a valid JavaScript identifier", t.Label)
	}
	if strings.HasPrefix(t.Label, "__") {
		return fmt.Errorf("label %q uses the prefix reserved for instrumentation", t.Label)
	}
	if IsReservedLabel(t.Label) {
		return fmt.Errorf("label %q shadows a built-in document or window member", t.Label)
	}
	if t.Locator == "" && t.Selector == "" && t.SeedCode == "" {
		return fmt.Errorf("one of locator, selector or seed_code is required")
	}
	if t.SettleTime < 0 {
		return fmt.Errorf("settle_time must not be negative")
	}
	if t.ScriptTimeout <= 0 {
		return fmt.Errorf("script_timeout must be a positive duration")
	}
	if _, err := t.ParsedTriggers(); err != nil {
		return err
	}
	return nil
}

// Validate checks the ReportConfig settings.
func (r *ReportConfig) Validate() error {
	switch r.Format {
	case "text", "json", "sarif":
		return nil
	}
	return fmt.Errorf("unsupported format %q (want text, json or sarif)", r.Format)
}

// IsReservedLabel reports whether name is a document or window member that a seeded
// label must not shadow.
func IsReservedLabel(name string) bool {
	_, ok := reservedLabels[name]
	return ok
}
