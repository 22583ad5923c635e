package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"outreach/internal/config"
	"outreach/internal/httpserver"
	"outreach/internal/logging"
	"outreach/internal/observability"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Dispatch batches on an interval until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.LoadDispatcher()
		logging.Init("dispatcher", cfg.LogFormat, cfg.LogLevel)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		app, err := build(ctx, cfg)
		if err != nil {
			return err
		}
		defer app.Close()

		observability.Register(prometheus.DefaultRegisterer)

		// health server (liveness + readiness)
		healthMux := httpserver.New().Mux
		healthMux.HandleFunc("/healthz", httpserver.Healthz())
		healthMux.HandleFunc("/readyz", httpserver.Readyz(2*time.Second, app.readyChecks()...))
		healthSrv := &http.Server{Addr: ":" + cfg.Port, Handler: httpserver.Logging(healthMux)}

		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", promhttp.Handler())
		metricsSrv := &http.Server{Addr: ":" + cfg.MetricsPort, Handler: metricsMux}

		srvErrCh := make(chan error, 2)
		go func() {
			slog.Info("dispatcher health listening", "port", cfg.Port)
			srvErrCh <- healthSrv.ListenAndServe()
		}()
		go func() {
			slog.Info("dispatcher metrics listening", "port", cfg.MetricsPort)
			srvErrCh <- metricsSrv.ListenAndServe()
		}()

		runErrCh := make(chan error, 1)
		go func() {
			runErrCh <- app.dispatcher.Run(ctx)
		}()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

		var exitErr error
		select {
		case err := <-runErrCh:
			exitErr = err
		case err := <-srvErrCh:
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("dispatcher http server failed", "err", err)
				exitErr = err
			}
		case sig := <-sigCh:
			slog.Info("dispatcher shutdown", "signal", sig.String())
		}

		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		_ = healthSrv.Shutdown(shutdownCtx)
		_ = metricsSrv.Shutdown(shutdownCtx)

		select {
		case <-runErrCh:
		case <-time.After(cfg.ClaimTTL):
			slog.Info("dispatcher shutdown timeout waiting for in-flight sends")
		}
		return exitErr
	},
}

var onceCmd = &cobra.Command{
	Use:   "once",
	Short: "Dispatch a single batch and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.LoadDispatcher()
		logging.Init("dispatcher", cfg.LogFormat, cfg.LogLevel)

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		app, err := build(ctx, cfg)
		if err != nil {
			return err
		}
		defer app.Close()

		st, err := app.dispatcher.RunOnce(ctx)
		if err != nil {
			return err
		}
		slog.Info("dispatch batch done", "claimed", st.Claimed, "sent", st.Sent, "retried", st.Retried,
			"failed", st.Failed, "released", st.Released, "no_account", st.NoAccount)
		return nil
	},
}
