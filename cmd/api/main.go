package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"

	"github.com/charmbracelet/log"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/punchamoorthee/atelierops/internal/api"
	"github.com/punchamoorthee/atelierops/internal/config"
	"github.com/punchamoorthee/atelierops/internal/queue"
	"github.com/punchamoorthee/atelierops/internal/service"
	"github.com/punchamoorthee/atelierops/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	logger := setupLogger(cfg.Env)
	ctx := context.Background()

	st, err := store.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal("database connect failed", "error", err)
	}
	defer st.Close()

	publisher, err := queue.NewPublisher(cfg.RedisURL, cfg.GenerationStream, cfg.TrainingStream, logger)
	if err != nil {
		log.Fatal("redis connect failed", "error", err)
	}
	defer publisher.Close()

	ledger := service.NewLedger(st.Pool, logger)
	notifier := service.NewNotifier(st.Pool, logger)
	purchases := service.NewPurchaseService(st.Pool, ledger, notifier, logger)
	generations := service.NewGenerationService(st.Pool, ledger, notifier, publisher, logger)
	styles := service.NewStyleService(st.Pool, notifier, publisher, logger)

	handler := api.NewHandler(st, ledger, purchases, generations, styles, notifier, cfg.WelcomeGrant, logger)

	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/health", handler.HealthCheckHandler).Methods("GET")
	handler.Routes(r)

	logger.Info("server starting", "port", cfg.Port, "env", cfg.Env)
	if err := http.ListenAndServe(":"+cfg.Port, r); err != nil {
		log.Fatal(err)
	}
}

func setupLogger(env string) *slog.Logger {
	level := log.DebugLevel
	if env == "production" {
		level = log.InfoLevel
	}
	handler := log.NewWithOptions(os.Stderr, log.Options{
		ReportTimestamp: true,
		Level:           level,
		Prefix:          "atelier",
	})
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}
