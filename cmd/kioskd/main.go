package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/pixelmesa/kioskd/internal/browser"
	"github.com/pixelmesa/kioskd/internal/config"
	"github.com/pixelmesa/kioskd/internal/controller"
	"github.com/pixelmesa/kioskd/internal/events"
	"github.com/pixelmesa/kioskd/internal/logbuffer"
	"github.com/pixelmesa/kioskd/internal/logging"
	"github.com/pixelmesa/kioskd/internal/schedule"
	"github.com/pixelmesa/kioskd/internal/server"
	"github.com/pixelmesa/kioskd/internal/store"
	"github.com/pixelmesa/kioskd/internal/telemetry"
	"github.com/pixelmesa/kioskd/internal/version"
)

var (
	logger zerolog.Logger
	cfg    *config.Config
	logBuf *logbuffer.Buffer
)

var rootCmd = &cobra.Command{
	Use:   "kioskd",
	Short: "kioskd - unattended display kiosk controller",
	Long:  "kioskd keeps a fullscreen browser alive on a single-board device, pointed at URLs chosen by a time-of-day schedule, and serves the schedule's configuration API.",
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the kiosk controller",
	Long:  "Run the supervisory loop that owns the browser process, plus the configuration HTTP API",
	RunE:  runRun,
}

var resolveCmd = &cobra.Command{
	Use:   "resolve",
	Short: "Print the display target for a given time",
	Long:  "Load the schedule and print which URL would be shown, without touching the browser",
	RunE:  runResolve,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the kioskd version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(version.Version)
	},
}

var resolveAt string

func init() {
	resolveCmd.Flags().StringVar(&resolveAt, "at", "", "resolve for this time of day (HH:MM) instead of now")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(resolveCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig loads configuration (called by commands that need it)
func loadConfig() error {
	var err error
	cfg, err = config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logBuf = logbuffer.New(2000)
	logger = logging.SetupWithWriter(cfg.Environment, logBuf)
	return nil
}

// openStore builds the schedule store for the configured backend.
func openStore() (store.Store, func() error, error) {
	switch cfg.StoreBackend {
	case config.StoreSQLite:
		ds, err := store.OpenDB(cfg.StoreDSN, logger)
		if err != nil {
			return nil, nil, err
		}
		return ds, ds.Close, nil
	default:
		fs := store.NewFileStore(cfg.ConfigPath, logger)
		return fs, func() error { return nil }, nil
	}
}

func runRun(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}

	logger.Info().Str("version", version.Version).Str("instance", cfg.InstanceID).Msg("kioskd starting")

	tracerProvider, err := telemetry.InitTracer(context.Background(), telemetry.TracerConfig{
		ServiceName:    "kioskd",
		ServiceVersion: version.Version,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		Enabled:        cfg.TracingEnabled,
		SampleRate:     cfg.TracingSampleRate,
	}, logger)
	if err != nil {
		return fmt.Errorf("initialize tracer: %w", err)
	}
	defer func() {
		if err := tracerProvider.Shutdown(context.Background()); err != nil {
			logger.Error().Err(err).Msg("failed to shutdown tracer provider")
		}
	}()

	st, closeStore, err := openStore()
	if err != nil {
		return fmt.Errorf("open schedule store: %w", err)
	}
	defer func() {
		if err := closeStore(); err != nil {
			logger.Error().Err(err).Msg("failed to close schedule store")
		}
	}()

	// Seed defaults so a factory-fresh device has something to serve and
	// show; mirrors what the old config service did on first boot.
	if seeder, ok := st.(interface {
		EnsureDefault(context.Context, schedule.Schedule) error
	}); ok {
		if err := seeder.EnsureDefault(context.Background(), schedule.Default()); err != nil {
			return fmt.Errorf("seed default schedule: %w", err)
		}
	}

	chromium := browser.NewChromium(cfg.BrowserBin, cfg.UserDataDir, cfg.BrowserArgs, logger)
	if err := chromium.Probe(); err != nil {
		// Structural, not transient: no point in retry loops.
		return fmt.Errorf("process control unavailable: %w", err)
	}

	bus := events.NewBus()
	ctrl := controller.New(st, chromium, bus, logger,
		controller.WithStartupReap(cfg.ReapStrayOnBoot),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ctrlErr := make(chan error, 1)
	go func() {
		ctrlErr <- ctrl.Run(ctx)
	}()

	httpErr := make(chan error, 1)
	var httpServer *http.Server
	if cfg.HTTPEnabled {
		srv := server.New(cfg, st, ctrl, bus, logBuf, logger)
		httpServer = srv.HTTPServer()
		logger.Info().Str("addr", httpServer.Addr).Msg("HTTP server listening")
		go serveHTTP(httpServer, httpErr)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	ctrlDone := false
	var runErr error
	select {
	case <-quit:
		logger.Info().Msg("shutting down gracefully...")
	case err := <-httpErr:
		// Fall through to the shutdown path so the controller terminates
		// the browser before we exit.
		logger.Error().Err(err).Msg("http server failed")
		runErr = fmt.Errorf("http server: %w", err)
	case err := <-ctrlErr:
		ctrlDone = true
		if err != nil && err != context.Canceled {
			runErr = fmt.Errorf("controller: %w", err)
		}
	}

	cancel()

	if httpServer != nil {
		timeoutCtx, timeoutCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer timeoutCancel()
		if err := httpServer.Shutdown(timeoutCtx); err != nil {
			logger.Error().Err(err).Msg("graceful shutdown failed")
		}
	}

	// Wait for the controller to terminate the browser.
	if !ctrlDone {
		select {
		case <-ctrlErr:
		case <-time.After(10 * time.Second):
			logger.Warn().Msg("controller did not stop in time")
		}
	}

	logger.Info().Msg("kioskd stopped")
	return runErr
}

// serveHTTP runs the listener and forwards fatal serve errors so the main
// loop can shut the controller down cleanly.
func serveHTTP(httpServer *http.Server, errCh chan<- error) {
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		errCh <- err
	}
}

func runResolve(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}

	st, closeStore, err := openStore()
	if err != nil {
		return fmt.Errorf("open schedule store: %w", err)
	}
	defer closeStore()

	snap, err := st.Load(cmd.Context())
	if err != nil {
		return fmt.Errorf("load schedule: %w", err)
	}
	if err := snap.Schedule.Validate(); err != nil {
		return fmt.Errorf("schedule invalid: %w", err)
	}

	now := time.Now()
	if resolveAt != "" {
		tod, err := schedule.ParseTimeOfDay(resolveAt)
		if err != nil {
			return err
		}
		now = time.Date(now.Year(), now.Month(), now.Day(), tod.Hour, tod.Minute, 0, 0, now.Location())
	}

	target, err := schedule.Resolve(snap.Schedule, now)
	if err != nil {
		return err
	}

	fmt.Printf("%s\t%s\n", target.Mode, target.URL)
	return nil
}
