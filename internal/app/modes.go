package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/egldtax/internal/export"
	"github.com/alanyoungcy/egldtax/internal/server"
	"github.com/alanyoungcy/egldtax/internal/server/handler"
	"github.com/alanyoungcy/egldtax/internal/server/ws"
	"github.com/alanyoungcy/egldtax/internal/service"
)

// ServerMode serves the report API until ctx is cancelled.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	g, ctx := errgroup.WithContext(ctx)

	if deps.Relay != nil {
		g.Go(func() error {
			return ignoreCanceled(deps.Relay.Run(ctx))
		})
	}

	a.startHTTPServer(ctx, g, deps)

	return g.Wait()
}

// ReportMode builds one report from the command-line arguments and writes it
// as CSV to the configured output.
func (a *App) ReportMode(ctx context.Context, deps *Dependencies) error {
	req, err := service.ParseRequest(a.args.Wallet, a.args.From, a.args.To, "")
	if err != nil {
		return fmt.Errorf("report mode: %w", err)
	}
	a.logger.InfoContext(ctx, "starting report mode",
		slog.String("wallet", req.Wallet),
		slog.String("from", req.From.Format(time.DateOnly)),
		slog.String("to", req.To.Format(time.DateOnly)),
	)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if deps.Relay != nil {
		go func() {
			if err := ignoreCanceled(deps.Relay.Run(runCtx)); err != nil {
				a.logger.WarnContext(runCtx, "progress relay stopped", slog.String("error", err.Error()))
			}
		}()
	}

	msgs, unsubscribe := deps.Progress.Subscribe(req.ClientID)
	defer unsubscribe()
	go func() {
		for {
			select {
			case <-runCtx.Done():
				return
			case msg := <-msgs:
				a.logger.InfoContext(runCtx, "progress", slog.String("message", msg))
			}
		}
	}()

	report, err := deps.Reports.Generate(runCtx, req)
	if err != nil {
		return fmt.Errorf("report mode: %w", err)
	}
	for _, w := range report.Warnings {
		a.logger.WarnContext(ctx, "report warning", slog.String("warning", w))
	}

	if err := export.WriteCSV(a.args.Out, report.TaxRelevantTransactions); err != nil {
		return fmt.Errorf("report mode: %w", err)
	}
	a.logger.InfoContext(ctx, "report written",
		slog.String("report_id", report.ID),
		slog.Int("transactions", len(report.AllTransactions)),
		slog.Int("rows", len(report.TaxRelevantTransactions)),
		slog.Bool("truncated", report.Truncated),
	)
	return nil
}

// startHTTPServer registers the API on g: one goroutine serves, the other
// shuts the server down once ctx is cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	handlers := server.Handlers{
		Health:   handler.NewHealthHandler(deps.HealthChecks(), a.logger),
		Report:   handler.NewReportHandler(deps.Reports, a.logger),
		Progress: handler.NewProgressHandler(deps.Progress, a.logger),
	}
	if deps.Postgres != nil {
		handlers.History = handler.NewHistoryHandler(deps.Reports, a.logger)
	}

	hub := ws.NewHub(deps.Progress, a.cfg.Server.CORSOrigins, a.logger)

	srv := server.NewServer(server.Config{
		Port:         a.cfg.Server.Port,
		CORSOrigins:  a.cfg.Server.CORSOrigins,
		APIKey:       a.cfg.Server.APIKey,
		RateLimit:    a.cfg.Server.RateLimit,
		RateWindow:   a.cfg.Server.RateWindow.Duration,
		WriteTimeout: a.cfg.Server.WriteTimeout.Duration,
	}, handlers, hub, deps.RateLimiter, a.logger)

	g.Go(func() error {
		a.logger.InfoContext(ctx, "HTTP server listening",
			slog.Int("port", a.cfg.Server.Port),
			slog.String("url", fmt.Sprintf("http://localhost:%d", a.cfg.Server.Port)))
		return srv.Start()
	})

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
