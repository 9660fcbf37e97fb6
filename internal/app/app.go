// Package app provides the top-level lifecycle of the egldtax service. It
// wires the explorer client, caches, stores, exporters and notifications,
// then runs the configured mode.
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/alanyoungcy/egldtax/internal/config"
	"github.com/alanyoungcy/egldtax/internal/telemetry"
)

// ReportArgs carries the one-shot report parameters used by report mode.
type ReportArgs struct {
	Wallet string
	From   string
	To     string
	// Out receives the CSV. Defaults to stdout.
	Out io.Writer
}

// App is the root application object. It owns the configuration, logger, and a
// list of cleanup functions that are called in reverse order on shutdown.
type App struct {
	cfg     *config.Config
	args    ReportArgs
	logger  *slog.Logger
	closers []func()
}

// New creates a new App from the given configuration and logger.
func New(cfg *config.Config, args ReportArgs, logger *slog.Logger) *App {
	if args.Out == nil {
		args.Out = os.Stdout
	}
	return &App{
		cfg:    cfg,
		args:   args,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run wires all dependencies, runs the selected mode and blocks until it
// finishes or ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting application",
		slog.String("mode", a.cfg.Mode),
		slog.String("log_level", a.cfg.LogLevel),
	)

	shutdownTracer, err := telemetry.InitTracer(ctx, a.cfg.Telemetry.ServiceName, a.cfg.Telemetry.OTLPEndpoint, a.cfg.Telemetry.SampleRatio)
	if err != nil {
		a.logger.WarnContext(ctx, "tracing disabled", slog.String("error", err.Error()))
	}
	a.closers = append(a.closers, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracer(ctx); err != nil {
			a.logger.Warn("tracer shutdown failed", slog.String("error", err.Error()))
		}
	})

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	switch strings.ToLower(a.cfg.Mode) {
	case "server":
		return a.ServerMode(ctx, deps)
	case "report":
		return a.ReportMode(ctx, deps)
	default:
		return fmt.Errorf("app: unsupported mode %q", a.cfg.Mode)
	}
}

// Close tears down all resources in reverse registration order. It is safe to
// call multiple times; subsequent calls are no-ops.
func (a *App) Close() {
	a.logger.Info("shutting down application")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
