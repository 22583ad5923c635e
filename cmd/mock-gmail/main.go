package main

import (
	"log/slog"
	"net/http"
	"os"

	"github.com/gorilla/mux"

	"outreach/internal/config"
	"outreach/internal/httpserver"
	"outreach/internal/logging"
)

func main() {
	cfg := config.LoadMockGmail()
	logging.Init("mock-gmail", cfg.LogFormat, cfg.LogLevel)

	s := newServer(cfg)
	router := mux.NewRouter()
	s.register(router)

	slog.Info("mock gmail listening", "port", cfg.Port, "mode", cfg.OutcomeMode, "outcomes", cfg.Outcomes)
	if err := http.ListenAndServe(":"+cfg.Port, httpserver.Logging(router)); err != nil {
		slog.Error("mock gmail server failed", "err", err)
		os.Exit(1)
	}
}
