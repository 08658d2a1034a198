package driver

import (
	"fmt"

	"github.com/standardbeagle/browsr/internal/config"
)

// ChromeArgs returns the command-line switches every Chrome launch uses,
// whether started by chromedriver or directly for DevTools.
func ChromeArgs(cfg *config.Config) []string {
	args := []string{
		"--disable-extensions",
		"--disable-plugins",
		"--disable-dev-shm-usage",
		"--disable-background-networking",
		"--disable-default-apps",
		"--disable-sync",
		"--no-first-run",
		"--disable-popup-blocking",
		fmt.Sprintf("--window-size=%d,%d", cfg.ScreenWidth, cfg.ScreenHeight),
	}
	if cfg.Headless {
		args = append(args, "--headless=new", "--no-sandbox")
	}
	if cfg.Undetected {
		args = append(args,
			"--disable-blink-features=AutomationControlled",
			"--disable-infobars",
			"--disable-notifications",
		)
	}
	return args
}

// DevToolsArgs extends ChromeArgs with the remote debugging switches.
func DevToolsArgs(cfg *config.Config, profileDir string) []string {
	return append(ChromeArgs(cfg),
		fmt.Sprintf("--remote-debugging-port=%d", cfg.CDPPort),
		"--user-data-dir="+profileDir,
	)
}
