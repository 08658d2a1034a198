package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/standardbeagle/browsr/internal/driver"
	"github.com/standardbeagle/browsr/internal/process"
)

var driverCmd = &cobra.Command{
	Use:   "driver",
	Short: "Manage the chromedriver binary",
}

var driverInstallCmd = &cobra.Command{
	Use:   "install",
	Short: "Download the chromedriver matching the installed Chrome",
	Long: `Detect the installed Chrome version, download the matching chromedriver
from Chrome for Testing into the cache, and print its path. The latest
stable driver is used when no release matches the browser's major version.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		acq, done, err := newDriverAcquirer(cmd)
		if err != nil {
			return err
		}
		defer done()

		ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()

		path, err := acq.InstallDriver(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), path)
		return nil
	},
}

var driverPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the chromedriver that would be used, without downloading",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		acq, done, err := newDriverAcquirer(cmd)
		if err != nil {
			return err
		}
		defer done()

		path, err := acq.Locator().FindDriver(acq.Config().DriverPath)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), path)
		return nil
	},
}

func init() {
	driverCmd.AddCommand(driverInstallCmd)
	driverCmd.AddCommand(driverPathCmd)
}

func newDriverAcquirer(cmd *cobra.Command) (*driver.Acquirer, func(), error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	log := newLogger(cfg.LogLevel)
	procs := process.NewProcessManager(process.DefaultManagerConfig(), log)
	acq, err := driver.NewAcquirer(cfg, procs, log)
	if err != nil {
		return nil, nil, err
	}
	return acq, func() { _ = procs.Shutdown(context.Background()) }, nil
}
