package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	kdl "github.com/sblinch/kdl-go"
)

// GlobalConfigFile is the KDL configuration file name.
const GlobalConfigFile = "config.kdl"

// KDLConfig represents the KDL configuration structure.
// Uses kdl struct tags for unmarshaling.
type KDLConfig struct {
	Browser    KDLBrowser    `kdl:"browser"`
	Pages      KDLPages      `kdl:"pages"`
	Connection KDLConnection `kdl:"connection"`
	Server     KDLServer     `kdl:"server"`
}

// KDLBrowser holds browser launch settings.
type KDLBrowser struct {
	Path       string `kdl:"path"`
	Type       string `kdl:"type"`
	Width      int    `kdl:"width"`
	Height     int    `kdl:"height"`
	Headless   *bool  `kdl:"headless"`
	Undetected *bool  `kdl:"undetected"`
}

// KDLPages holds the start and search pages.
type KDLPages struct {
	Initial string `kdl:"initial"`
	Search  string `kdl:"search"`
}

// KDLConnection holds protocol and acquisition settings.
type KDLConnection struct {
	Mode               string `kdl:"mode"`
	WebDriverURL       string `kdl:"webdriver-url"`
	DriverPath         string `kdl:"driver-path"`
	DriverPort         int    `kdl:"driver-port"`
	CDPPort            int    `kdl:"cdp-port"`
	CDPURL             string `kdl:"cdp-url"`
	AutoStart          *bool  `kdl:"auto-start"`
	AutoDownloadDriver *bool  `kdl:"auto-download-driver"`
	CacheDir           string `kdl:"cache-dir"`
}

// KDLServer holds MCP server settings.
type KDLServer struct {
	Transport          string   `kdl:"transport"`
	HTTPHost           string   `kdl:"http-host"`
	HTTPPort           int      `kdl:"http-port"`
	DisabledTools      []string `kdl:"disabled-tools"`
	HighlightMouse     *bool    `kdl:"highlight-mouse"`
	OpenBrowserOnStart *bool    `kdl:"open-browser-on-start"`
	// IdleTimeout is in seconds; 0 disables the idle monitor.
	IdleTimeout *int   `kdl:"idle-timeout"`
	LogLevel    string `kdl:"log-level"`
	Metrics     *bool  `kdl:"metrics"`
}

// LoadConfigFile loads configuration from a specific file path.
func LoadConfigFile(path string) (*KDLConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	return ParseKDLConfig(string(data))
}

// ParseKDLConfig parses KDL configuration data.
func ParseKDLConfig(data string) (*KDLConfig, error) {
	var kdlCfg KDLConfig
	if err := kdl.Unmarshal([]byte(data), &kdlCfg); err != nil {
		return nil, err
	}
	return &kdlCfg, nil
}

// ApplyTo copies every value present in the file onto cfg.
func (k *KDLConfig) ApplyTo(cfg *Config) {
	b := k.Browser
	setString(&cfg.BrowserPath, b.Path)
	if b.Type != "" {
		cfg.BrowserType = BrowserType(strings.ToLower(b.Type))
	}
	setInt(&cfg.ScreenWidth, b.Width)
	setInt(&cfg.ScreenHeight, b.Height)
	setBool(&cfg.Headless, b.Headless)
	setBool(&cfg.Undetected, b.Undetected)

	setString(&cfg.InitialURL, k.Pages.Initial)
	setString(&cfg.SearchEngineURL, k.Pages.Search)

	c := k.Connection
	if c.Mode != "" {
		cfg.ConnectionMode = ConnectionMode(strings.ToLower(c.Mode))
	}
	setString(&cfg.WebDriverURL, c.WebDriverURL)
	setString(&cfg.DriverPath, c.DriverPath)
	setInt(&cfg.DriverPort, c.DriverPort)
	setInt(&cfg.CDPPort, c.CDPPort)
	setString(&cfg.CDPURL, c.CDPURL)
	setBool(&cfg.AutoStart, c.AutoStart)
	setBool(&cfg.AutoDownloadDriver, c.AutoDownloadDriver)
	setString(&cfg.CacheDir, c.CacheDir)

	s := k.Server
	if s.Transport != "" {
		cfg.Transport = Transport(strings.ToLower(s.Transport))
	}
	setString(&cfg.HTTPHost, s.HTTPHost)
	setInt(&cfg.HTTPPort, s.HTTPPort)
	if len(s.DisabledTools) > 0 {
		cfg.DisabledTools = normalizeList(s.DisabledTools)
	}
	setBool(&cfg.HighlightMouse, s.HighlightMouse)
	setBool(&cfg.OpenBrowserOnStart, s.OpenBrowserOnStart)
	if s.IdleTimeout != nil && *s.IdleTimeout >= 0 {
		cfg.IdleTimeout = Duration(time.Duration(*s.IdleTimeout) * time.Second)
	}
	setString(&cfg.LogLevel, s.LogLevel)
	setBool(&cfg.Metrics, s.Metrics)
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v > 0 {
		*dst = v
	}
}

func setBool(dst *bool, v *bool) {
	if v != nil {
		*dst = *v
	}
}

// GlobalConfigPath returns the path to the global config file.
func GlobalConfigPath() string {
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		configDir = filepath.Join(home, ".config")
	}
	return filepath.Join(configDir, "browsr", GlobalConfigFile)
}

// WriteDefaultConfig writes a default config file with documentation.
func WriteDefaultConfig(path string) error {
	defaultKDL := `// browsr configuration
// Environment variables (MCP_*) override values set here.

browser {
    // path "/usr/bin/chromium"
    width 1280
    height 720
    headless true
    undetected false
}

pages {
    initial "https://www.google.com"
    search "https://www.google.com"
}

connection {
    // webdriver or cdp
    mode "webdriver"
    driver-port 9515
    cdp-port 9222
    auto-start false
    auto-download-driver false
}

server {
    transport "stdio"
    http-host "127.0.0.1"
    http-port 8080
    open-browser-on-start false
    // Seconds of inactivity before the browser is closed (0 = never)
    idle-timeout 300
}
`
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(defaultKDL), 0644)
}
