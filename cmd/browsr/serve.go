package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/standardbeagle/browsr/internal/browser"
	"github.com/standardbeagle/browsr/internal/config"
	"github.com/standardbeagle/browsr/internal/driver"
	"github.com/standardbeagle/browsr/internal/metrics"
	"github.com/standardbeagle/browsr/internal/process"
	"github.com/standardbeagle/browsr/internal/session"
	"github.com/standardbeagle/browsr/internal/tools"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the MCP server",
	Long: `Run the MCP server over stdio (default) or streamable HTTP.

The browser is opened by the open_web_browser tool, or at startup when
MCP_OPEN_BROWSER_ON_START=true. It is closed on exit and after
MCP_IDLE_TIMEOUT of inactivity.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("transport", "", "Transport: stdio or http (overrides MCP_TRANSPORT)")
	serveCmd.Flags().String("http-addr", "", "Listen address for the http transport, host:port")
}

// loadConfig reads the file named by --config, or the global config file,
// then the environment and the serve flags.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		path = config.GlobalConfigPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	if f := cmd.Flags().Lookup("transport"); f != nil && f.Changed {
		cfg.Transport = config.Transport(f.Value.String())
	}
	if f := cmd.Flags().Lookup("http-addr"); f != nil && f.Changed {
		if err := cfg.SetHTTPAddr(f.Value.String()); err != nil {
			return nil, err
		}
	}
	return cfg, cfg.Validate()
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	log := newLogger(cfg.LogLevel)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	m := metrics.New()
	procs := process.NewProcessManager(process.DefaultManagerConfig(), log)
	acq, err := driver.NewAcquirer(cfg, procs, log)
	if err != nil {
		return err
	}
	acq.Cache().OnDownload = m.DriverDownloaded

	backend, err := browser.New(cfg, acq, log)
	if err != nil {
		return err
	}
	sess := session.New(backend, cfg, log, m)
	defer shutdown(sess, procs, log)

	if err := sess.Init(ctx); err != nil {
		return fmt.Errorf("failed to open browser on start: %w", err)
	}

	server := mcp.NewServer(
		&mcp.Implementation{Name: appName, Version: appVersion},
		&mcp.ServerOptions{
			HasTools: true,
			Instructions: `Browser automation with coordinate-based actions.

Call open_web_browser first. Every action returns the page URL and a
screenshot; use the screenshot to pick coordinates for the next action.
Tab tools are only available in webdriver connection mode.`,
		},
	)
	names := tools.RegisterBrowserTools(server, sess, cfg, log)

	log.WithFields(logrus.Fields{
		"version":   appVersion,
		"transport": cfg.Transport,
		"mode":      cfg.ConnectionMode,
		"tools":     len(names),
	}).Info("starting browsr")

	switch cfg.Transport {
	case config.TransportHTTP:
		err = serveHTTP(ctx, server, cfg, m, log)
	default:
		err = server.Run(ctx, &mcp.StdioTransport{})
	}
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("server error: %w", err)
	}
	log.Info("server stopped")
	return nil
}

func serveHTTP(ctx context.Context, server *mcp.Server, cfg *config.Config, m *metrics.Metrics, log logrus.FieldLogger) error {
	handler := mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return server }, nil)

	mux := http.NewServeMux()
	if cfg.Metrics {
		mux.Handle("/metrics", m.Handler())
	}
	mux.Handle("/", handler)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithFields(logrus.Fields{"addr": srv.Addr, "metrics": cfg.Metrics}).Info("listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// shutdown closes the browser and stops every launched process. It runs on
// every exit path of serve.
func shutdown(sess *session.Manager, procs *process.ProcessManager, log logrus.FieldLogger) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := sess.Shutdown(ctx); err != nil {
		log.WithError(err).Warn("session shutdown error")
	}
	if err := procs.Shutdown(ctx); err != nil {
		log.WithError(err).Warn("process shutdown error")
	}
	log.Info("shutdown complete")
}
