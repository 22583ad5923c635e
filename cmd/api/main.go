package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"outreach/internal/config"
	"outreach/internal/httpserver"
	"outreach/internal/logging"
	"outreach/internal/observability"
	"outreach/internal/quota"
	"outreach/internal/render"
	"outreach/internal/service"
	"outreach/internal/store/pg"
)

func main() {
	cfg := config.LoadAPI()
	logging.Init("api", cfg.LogFormat, cfg.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := pg.NewPool(ctx, cfg.DSN, pg.PoolOptions{
		MaxConns:        cfg.MaxConns,
		MinConns:        cfg.MinConns,
		MaxConnLifetime: cfg.MaxConnLifetime,
		MaxConnIdleTime: cfg.MaxConnIdleTime,
		ApplicationName: "outreach-api",
	})
	if err != nil {
		slog.Error("api db connect failed", "err", err)
		os.Exit(1)
	}

	observability.Register(prometheus.DefaultRegisterer)

	store := pg.New(db)
	var counter quota.Counter = pg.NewCounter(db)
	readyChecks := []httpserver.ReadyzCheck{store.Ping}
	if cfg.CounterBackend == "redis" {
		rc := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rc.Close()
		counter = quota.NewRedisCounter(rc)
		readyChecks = append(readyChecks, func(c context.Context) error { return rc.Ping(c).Err() })
	}

	svc := &service.CampaignService{
		Store:    store,
		Tracker:  quota.NewTracker(counter),
		Renderer: render.Renderer{HTMLFormatting: cfg.HTMLFormatting},
	}
	if cfg.WelcomeEnabled {
		svc.Welcome = &service.Welcome{Subject: cfg.WelcomeSubject, Body: cfg.WelcomeBody, Delay: cfg.WelcomeDelay}
	}

	s := httpserver.New()
	s.Mux.Use(httpserver.Metrics(observability.APIRequests))
	api := &httpserver.API{Svc: svc, Validate: httpserver.NewValidator()}
	api.Register(s.Mux)

	s.Mux.HandleFunc("/healthz", httpserver.Healthz())
	s.Mux.HandleFunc("/readyz", httpserver.Readyz(2*time.Second, readyChecks...))

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: httpserver.Logging(s.Mux),
	}

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsSrv := &http.Server{Addr: ":" + cfg.MetricsPort, Handler: metricsMux}
	go func() {
		slog.Info("api metrics listening", "port", cfg.MetricsPort)
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("api metrics server failed", "err", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		slog.Info("api shutdown", "signal", sig.String())
		cancel()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		_ = srv.Shutdown(shutdownCtx)
		_ = metricsSrv.Shutdown(shutdownCtx)
	}()

	slog.Info("api listening", "port", cfg.Port)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("api server failed", "err", err)
		os.Exit(1)
	}

	db.Close()
}
