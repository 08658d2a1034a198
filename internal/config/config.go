package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/mstoykov/envconfig"
)

// BrowserType identifies the browser family to automate.
type BrowserType string

const (
	BrowserChrome BrowserType = "chrome"
)

// ConnectionMode selects the control protocol used to drive the browser.
type ConnectionMode string

const (
	// ModeWebDriver drives the browser through a chromedriver server.
	ModeWebDriver ConnectionMode = "webdriver"
	// ModeCDP drives the browser directly over the DevTools protocol.
	ModeCDP ConnectionMode = "cdp"
)

// Transport selects how the MCP server talks to its client.
type Transport string

const (
	TransportStdio Transport = "stdio"
	TransportHTTP  Transport = "http"
)

// Default ports and URLs.
const (
	DefaultDriverPort  = 9515
	DefaultCDPPort     = 9222
	DefaultHTTPPort    = 8080
	DefaultHTTPHost    = "127.0.0.1"
	DefaultInitialURL  = "https://www.google.com"
	DefaultSearchURL   = "https://www.google.com"
	DefaultScreenW     = 1280
	DefaultScreenH     = 720
	DefaultIdleTimeout = 5 * time.Minute
)

var (
	ErrInvalidConfig = errors.New("invalid configuration")
)

// Duration decodes either a bare number of seconds or a Go duration string.
type Duration time.Duration

// Decode implements envconfig.Decoder.
func (d *Duration) Decode(value string) error {
	value = strings.TrimSpace(value)
	if value == "" {
		*d = 0
		return nil
	}
	if secs, err := strconv.ParseInt(value, 10, 64); err == nil {
		if secs < 0 {
			return fmt.Errorf("negative duration %q", value)
		}
		*d = Duration(time.Duration(secs) * time.Second)
		return nil
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", value, err)
	}
	if parsed < 0 {
		return fmt.Errorf("negative duration %q", value)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// Config holds the complete server configuration.
type Config struct {
	// Browser
	BrowserPath  string      `json:"browser_path,omitempty" envconfig:"MCP_BROWSER_PATH"`
	BrowserType  BrowserType `json:"browser_type" envconfig:"MCP_BROWSER_TYPE"`
	ScreenWidth  int         `json:"screen_width" envconfig:"MCP_SCREEN_WIDTH"`
	ScreenHeight int         `json:"screen_height" envconfig:"MCP_SCREEN_HEIGHT"`
	Headless     bool        `json:"headless" envconfig:"MCP_HEADLESS"`
	Undetected   bool        `json:"undetected" envconfig:"MCP_UNDETECTED"`

	// Pages
	InitialURL      string `json:"initial_url" envconfig:"MCP_INITIAL_URL"`
	SearchEngineURL string `json:"search_engine_url" envconfig:"MCP_SEARCH_ENGINE_URL"`

	// Connection
	ConnectionMode     ConnectionMode `json:"connection_mode" envconfig:"MCP_CONNECTION_MODE"`
	WebDriverURL       string         `json:"webdriver_url,omitempty" envconfig:"MCP_WEBDRIVER_URL"`
	DriverPath         string         `json:"driver_path,omitempty" envconfig:"MCP_DRIVER_PATH"`
	DriverPort         int            `json:"driver_port" envconfig:"MCP_DRIVER_PORT"`
	CDPPort            int            `json:"cdp_port" envconfig:"MCP_CDP_PORT"`
	CDPURL             string         `json:"cdp_url,omitempty" envconfig:"MCP_CDP_URL"`
	AutoStart          bool           `json:"auto_start" envconfig:"MCP_AUTO_START"`
	AutoDownloadDriver bool           `json:"auto_download_driver" envconfig:"MCP_AUTO_DOWNLOAD_DRIVER"`
	CacheDir           string         `json:"cache_dir,omitempty" envconfig:"MCP_CACHE_DIR"`

	// Server
	Transport          Transport `json:"transport" envconfig:"MCP_TRANSPORT"`
	HTTPHost           string    `json:"http_host" envconfig:"MCP_HTTP_HOST"`
	HTTPPort           int       `json:"http_port" envconfig:"MCP_HTTP_PORT"`
	DisabledTools      []string  `json:"disabled_tools,omitempty" envconfig:"MCP_DISABLED_TOOLS"`
	HighlightMouse     bool      `json:"highlight_mouse" envconfig:"MCP_HIGHLIGHT_MOUSE"`
	OpenBrowserOnStart bool      `json:"open_browser_on_start" envconfig:"MCP_OPEN_BROWSER_ON_START"`
	IdleTimeout        Duration  `json:"idle_timeout" envconfig:"MCP_IDLE_TIMEOUT"`
	LogLevel           string    `json:"log_level" envconfig:"MCP_LOG_LEVEL"`
	Metrics            bool      `json:"metrics" envconfig:"MCP_METRICS"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		BrowserType:     BrowserChrome,
		ScreenWidth:     DefaultScreenW,
		ScreenHeight:    DefaultScreenH,
		Headless:        true,
		InitialURL:      DefaultInitialURL,
		SearchEngineURL: DefaultSearchURL,
		ConnectionMode:  ModeWebDriver,
		DriverPort:      DefaultDriverPort,
		CDPPort:         DefaultCDPPort,
		Transport:       TransportStdio,
		HTTPHost:        DefaultHTTPHost,
		HTTPPort:        DefaultHTTPPort,
		IdleTimeout:     Duration(DefaultIdleTimeout),
		LogLevel:        "info",
	}
}

// Load builds the configuration from defaults, the optional KDL file at
// path (ignored when empty or missing), and the process environment.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			file, err := LoadConfigFile(path)
			if err != nil {
				return nil, fmt.Errorf("failed to load %s: %w", path, err)
			}
			file.ApplyTo(cfg)
		}
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overlays MCP_* variables found through lookup onto c.
// Variables that are not set leave the current value untouched.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if err := envconfig.Process("", c, lookup); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	c.DisabledTools = normalizeList(c.DisabledTools)
	c.BrowserType = BrowserType(strings.ToLower(strings.TrimSpace(string(c.BrowserType))))
	c.ConnectionMode = ConnectionMode(strings.ToLower(strings.TrimSpace(string(c.ConnectionMode))))
	c.Transport = Transport(strings.ToLower(strings.TrimSpace(string(c.Transport))))
	return nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.BrowserType != BrowserChrome {
		return fmt.Errorf("%w: unsupported browser type %q, only %q is supported",
			ErrInvalidConfig, c.BrowserType, BrowserChrome)
	}
	if c.ScreenWidth <= 0 || c.ScreenHeight <= 0 {
		return fmt.Errorf("%w: screen size must be positive, got %dx%d",
			ErrInvalidConfig, c.ScreenWidth, c.ScreenHeight)
	}
	switch c.ConnectionMode {
	case ModeWebDriver, ModeCDP:
	default:
		return fmt.Errorf("%w: unknown connection mode %q", ErrInvalidConfig, c.ConnectionMode)
	}
	switch c.Transport {
	case TransportStdio, TransportHTTP:
	default:
		return fmt.Errorf("%w: unknown transport %q", ErrInvalidConfig, c.Transport)
	}
	for name, port := range map[string]int{
		"driver port": c.DriverPort,
		"cdp port":    c.CDPPort,
		"http port":   c.HTTPPort,
	} {
		if port <= 0 || port > 65535 {
			return fmt.Errorf("%w: %s %d out of range", ErrInvalidConfig, name, port)
		}
	}
	if c.IdleTimeout < 0 {
		return fmt.Errorf("%w: idle timeout cannot be negative", ErrInvalidConfig)
	}
	return nil
}

// EffectiveWebDriverURL returns the configured WebDriver URL or the local
// driver address derived from the driver port.
func (c *Config) EffectiveWebDriverURL() string {
	if c.WebDriverURL != "" {
		return c.WebDriverURL
	}
	return fmt.Sprintf("http://localhost:%d", c.DriverPort)
}

// HTTPAddr returns the listen address for the HTTP transport.
func (c *Config) HTTPAddr() string {
	return fmt.Sprintf("%s:%d", c.HTTPHost, c.HTTPPort)
}

// SetHTTPAddr sets the HTTP host and port from a host:port string.
func (c *Config) SetHTTPAddr(addr string) error {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("%w: http address %q: %v", ErrInvalidConfig, addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return fmt.Errorf("%w: http port %q is not a number", ErrInvalidConfig, portStr)
	}
	if host != "" {
		c.HTTPHost = host
	}
	c.HTTPPort = port
	return nil
}

// String renders the configuration as indented JSON.
func (c *Config) String() string {
	b, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Sprintf("%+v\n", *c)
	}
	return string(b) + "\n"
}

// IsToolDisabled reports whether the named tool was disabled.
func (c *Config) IsToolDisabled(name string) bool {
	for _, t := range c.DisabledTools {
		if t == name {
			return true
		}
	}
	return false
}

func normalizeList(in []string) []string {
	var out []string
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
