package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

const (
	appName    = "browsr"
	appVersion = "0.1.0"
)

var rootCmd = &cobra.Command{
	Use:   appName,
	Short: "Browser automation MCP server",
	Long: `browsr is an MCP server that drives Chrome with coordinate-based actions:
  - click, hover, type, scroll and drag at screen coordinates
  - navigation, history and keyboard shortcuts
  - tab management over WebDriver
  - a PNG screenshot and the current URL after every action

Chrome is controlled through chromedriver (WebDriver) or directly over the
DevTools protocol.`,
	Version:      appVersion,
	SilenceUsage: true,
	// Piped stdin means an MCP client launched us.
	RunE: func(cmd *cobra.Command, args []string) error {
		if !term.IsTerminal(int(os.Stdin.Fd())) {
			return runServe(cmd, args)
		}
		return cmd.Help()
	},
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "Path to a KDL config file (default: $XDG_CONFIG_HOME/browsr/config.kdl)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(driverCmd)
	rootCmd.AddCommand(configCmd)

	rootCmd.SetVersionTemplate(fmt.Sprintf("%s v%s\n", appName, appVersion))
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newLogger writes to stderr; stdout belongs to the stdio transport.
func newLogger(level string) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(os.Stderr)
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		log.WithField("level", level).Warn("unknown log level, using info")
		lvl = logrus.InfoLevel
	}
	log.SetLevel(lvl)
	return log
}
