// File: internal/config/config.go
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix for every environment variable read by viper,
// e.g. HAGGLE_SESSION_PATH.
const EnvPrefix = "HAGGLE"

// EnvKeyReplacer maps nested keys onto environment variable names.
func EnvKeyReplacer() *strings.Replacer {
	return strings.NewReplacer(".", "_")
}

// Config holds the entire application configuration.
type Config struct {
	Logger      LoggerConfig      `mapstructure:"logger" yaml:"logger"`
	Browser     BrowserConfig     `mapstructure:"browser" yaml:"browser"`
	Site        SiteConfig        `mapstructure:"site" yaml:"site"`
	Timeouts    TimeoutsConfig    `mapstructure:"timeouts" yaml:"timeouts"`
	Retry       RetryConfig       `mapstructure:"retry" yaml:"retry"`
	Session     SessionConfig     `mapstructure:"session" yaml:"session"`
	Diagnostics DiagnosticsConfig `mapstructure:"diagnostics" yaml:"diagnostics"`
	Selectors   SelectorsConfig   `mapstructure:"selectors" yaml:"selectors"`
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
	Debug string `mapstructure:"debug" yaml:"debug"`
	Info  string `mapstructure:"info" yaml:"info"`
	Warn  string `mapstructure:"warn" yaml:"warn"`
	Error string `mapstructure:"error" yaml:"error"`
}

// BrowserConfig holds settings for the headless browser instance.
type BrowserConfig struct {
	Headless        bool           `mapstructure:"headless" yaml:"headless"`
	IgnoreTLSErrors bool           `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
	ExecPath        string         `mapstructure:"exec_path" yaml:"exec_path"`
	Args            []string       `mapstructure:"args" yaml:"args"`
	Viewport        map[string]int `mapstructure:"viewport" yaml:"viewport"`
	LaunchTimeout   time.Duration  `mapstructure:"launch_timeout" yaml:"launch_timeout"`
	Persona         PersonaConfig  `mapstructure:"persona" yaml:"persona"`
	Humanoid        HumanoidConfig `mapstructure:"humanoid" yaml:"humanoid"`
}

// PersonaConfig describes the browser identity presented to the site.
type PersonaConfig struct {
	UserAgent string   `mapstructure:"user_agent" yaml:"user_agent"`
	Platform  string   `mapstructure:"platform" yaml:"platform"`
	Languages []string `mapstructure:"languages" yaml:"languages"`
	Timezone  string   `mapstructure:"timezone" yaml:"timezone"`
	Locale    string   `mapstructure:"locale" yaml:"locale"`
	// WebGLVendor and WebGLRenderer are reported for the unmasked
	// WEBGL_debug_renderer_info parameters.
	WebGLVendor   string `mapstructure:"webgl_vendor" yaml:"webgl_vendor"`
	WebGLRenderer string `mapstructure:"webgl_renderer" yaml:"webgl_renderer"`
	// DisableCanvasNoise turns off the perturbation of canvas readbacks.
	DisableCanvasNoise bool `mapstructure:"disable_canvas_noise" yaml:"disable_canvas_noise"`
}

// SiteConfig holds the fixed entry points of the target site.
type SiteConfig struct {
	BaseURL  string `mapstructure:"base_url" yaml:"base_url"`
	LoginURL string `mapstructure:"login_url" yaml:"login_url"`
	InboxURL string `mapstructure:"inbox_url" yaml:"inbox_url"`
	// VerifyURL is a page that requires authentication. It is used to check
	// whether a stored session is still accepted by the server.
	VerifyURL string `mapstructure:"verify_url" yaml:"verify_url"`
}

// TimeoutsConfig holds the per-operation deadlines.
type TimeoutsConfig struct {
	SelectorAttempt  time.Duration `mapstructure:"selector_attempt" yaml:"selector_attempt"`
	Navigation       time.Duration `mapstructure:"navigation" yaml:"navigation"`
	Confirmation     time.Duration `mapstructure:"confirmation" yaml:"confirmation"`
	LoginMarker      time.Duration `mapstructure:"login_marker" yaml:"login_marker"`
	ConversationPoll time.Duration `mapstructure:"conversation_poll" yaml:"conversation_poll"`
}

// RetryConfig controls backoff for transient transport failures and inbox polling.
type RetryConfig struct {
	MaxRetries  int           `mapstructure:"max_retries" yaml:"max_retries"`
	BaseDelay   time.Duration `mapstructure:"base_delay" yaml:"base_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay" yaml:"max_delay"`
	PollInitial time.Duration `mapstructure:"poll_initial" yaml:"poll_initial"`
	PollMax     time.Duration `mapstructure:"poll_max" yaml:"poll_max"`
}

// SessionConfig controls cookie persistence.
type SessionConfig struct {
	Path         string `mapstructure:"path" yaml:"path"`
	AllowCookies bool   `mapstructure:"allow_cookies" yaml:"allow_cookies"`
}

// DiagnosticsConfig controls screenshot capture.
type DiagnosticsConfig struct {
	Dir                 string        `mapstructure:"dir" yaml:"dir"`
	ScreenshotOnSuccess bool          `mapstructure:"screenshot_on_success" yaml:"screenshot_on_success"`
	FullPage            bool          `mapstructure:"full_page" yaml:"full_page"`
	CaptureTimeout      time.Duration `mapstructure:"capture_timeout" yaml:"capture_timeout"`
}

// SelectorsConfig points at an optional file overriding the built-in fallback chains.
type SelectorsConfig struct {
	File string `mapstructure:"file" yaml:"file"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// This should not happen with defaults.
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
	v.SetDefault("logger.service_name", "haggle")
	v.SetDefault("logger.log_file", "logs/haggle.log")
	v.SetDefault("logger.max_size", 10)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 7)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")

	// -- Browser --
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.ignore_tls_errors", false)
	v.SetDefault("browser.launch_timeout", "60s")
	v.SetDefault("browser.viewport", map[string]int{"width": 1920, "height": 1080})
	v.SetDefault("browser.persona.user_agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36")
	v.SetDefault("browser.persona.platform", "Win32")
	v.SetDefault("browser.persona.languages", []string{"de-DE", "de", "en"})
	v.SetDefault("browser.persona.timezone", "Europe/Berlin")
	v.SetDefault("browser.persona.locale", "de-DE")
	v.SetDefault("browser.persona.webgl_vendor", "Google Inc. (Intel)")
	v.SetDefault("browser.persona.webgl_renderer", "ANGLE (Intel, Intel(R) UHD Graphics 620 Direct3D11 vs_5_0 ps_5_0, D3D11)")
	v.SetDefault("browser.persona.disable_canvas_noise", false)
	setHumanoidDefaults(v)

	// -- Site --
	v.SetDefault("site.base_url", "https://www.kleinanzeigen.de")
	v.SetDefault("site.login_url", "https://www.kleinanzeigen.de/m-einloggen.html")
	v.SetDefault("site.inbox_url", "https://www.kleinanzeigen.de/nachrichtenbox")
	v.SetDefault("site.verify_url", "https://www.kleinanzeigen.de/nachrichtenbox")

	// -- Timeouts --
	v.SetDefault("timeouts.selector_attempt", "5s")
	v.SetDefault("timeouts.navigation", "30s")
	v.SetDefault("timeouts.confirmation", "10s")
	v.SetDefault("timeouts.login_marker", "15s")
	v.SetDefault("timeouts.conversation_poll", "45s")

	// -- Retry --
	v.SetDefault("retry.max_retries", 3)
	v.SetDefault("retry.base_delay", "1s")
	v.SetDefault("retry.max_delay", "8s")
	v.SetDefault("retry.poll_initial", "2s")
	v.SetDefault("retry.poll_max", "8s")

	// -- Session --
	v.SetDefault("session.path", "cookies.json")
	v.SetDefault("session.allow_cookies", true)

	// -- Diagnostics --
	v.SetDefault("diagnostics.dir", "screenshots")
	v.SetDefault("diagnostics.screenshot_on_success", false)
	v.SetDefault("diagnostics.full_page", true)
	v.SetDefault("diagnostics.capture_timeout", "10s")

	// -- Selectors --
	v.SetDefault("selectors.file", "")
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.ExpandPaths(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// ExpandPaths resolves a leading "~" in every file system path.
func (c *Config) ExpandPaths() error {
	for _, p := range []*string{&c.Session.Path, &c.Diagnostics.Dir, &c.Logger.LogFile, &c.Selectors.File, &c.Browser.ExecPath} {
		if *p == "" {
			continue
		}
		expanded, err := homedir.Expand(*p)
		if err != nil {
			return fmt.Errorf("failed to expand path %q: %w", *p, err)
		}
		*p = expanded
	}
	return nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	for name, raw := range map[string]string{
		"site.base_url":   c.Site.BaseURL,
		"site.login_url":  c.Site.LoginURL,
		"site.inbox_url":  c.Site.InboxURL,
		"site.verify_url": c.Site.VerifyURL,
	} {
		if err := validateAbsoluteURL(raw); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	if err := c.Timeouts.Validate(); err != nil {
		return fmt.Errorf("timeouts: %w", err)
	}
	if err := c.Retry.Validate(); err != nil {
		return fmt.Errorf("retry: %w", err)
	}
	if c.Session.Path == "" {
		return fmt.Errorf("session.path must not be empty")
	}
	if c.Diagnostics.Dir == "" {
		return fmt.Errorf("diagnostics.dir must not be empty")
	}
	if err := c.Browser.Humanoid.Validate(); err != nil {
		return fmt.Errorf("browser.humanoid: %w", err)
	}
	return nil
}

// Validate checks that every deadline is positive.
func (t *TimeoutsConfig) Validate() error {
	for name, d := range map[string]time.Duration{
		"selector_attempt":  t.SelectorAttempt,
		"navigation":        t.Navigation,
		"confirmation":      t.Confirmation,
		"login_marker":      t.LoginMarker,
		"conversation_poll": t.ConversationPoll,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be a positive duration", name)
		}
	}
	return nil
}

// Validate checks the retry settings.
func (r *RetryConfig) Validate() error {
	if r.MaxRetries < 0 {
		return fmt.Errorf("max_retries must not be negative")
	}
	if r.BaseDelay <= 0 || r.MaxDelay <= 0 {
		return fmt.Errorf("base_delay and max_delay must be positive durations")
	}
	if r.MaxDelay < r.BaseDelay {
		return fmt.Errorf("max_delay must not be smaller than base_delay")
	}
	if r.PollInitial <= 0 || r.PollMax < r.PollInitial {
		return fmt.Errorf("poll_initial must be positive and not exceed poll_max")
	}
	return nil
}

func validateAbsoluteURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid URL %q: %w", raw, err)
	}
	if !u.IsAbs() || u.Host == "" || !strings.HasPrefix(u.Scheme, "http") {
		return fmt.Errorf("URL %q must be an absolute http(s) URL", raw)
	}
	return nil
}
