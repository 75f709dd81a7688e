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

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/punchamoorthee/paysettle/internal/api"
	"github.com/punchamoorthee/paysettle/internal/bus"
	"github.com/punchamoorthee/paysettle/internal/config"
	"github.com/punchamoorthee/paysettle/internal/hold"
	"github.com/punchamoorthee/paysettle/internal/ledger"
	"github.com/punchamoorthee/paysettle/internal/store"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	cfg, err := config.LoadBalance()
	if err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ledgerStore, err := store.NewLedgerStore(ctx, cfg.DBSource)
	if err != nil {
		slog.Error("Database connection failed", "error", err)
		os.Exit(1)
	}
	if err := store.InitLedgerSchema(ctx, ledgerStore.Db); err != nil {
		slog.Error("Schema initialization failed", "error", err)
		os.Exit(1)
	}
	l := ledger.New(ledgerStore, cfg.CommissionRate)

	saramaCfg := bus.NewSaramaConfig(cfg.Actor)
	producer, err := bus.NewProducer(cfg.Brokers, saramaCfg)
	if err != nil {
		slog.Error("Kafka producer failed", "error", err)
		os.Exit(1)
	}
	consumer, err := bus.NewConsumer(cfg.Brokers, cfg.GroupID, saramaCfg)
	if err != nil {
		slog.Error("Kafka consumer failed", "error", err)
		os.Exit(1)
	}

	handler := hold.NewHandler(l, producer, cfg.HoldResponseTopic)
	consumed := make(chan struct{})
	go func() {
		defer close(consumed)
		if err := consumer.Subscribe(ctx, cfg.HoldRequestTopic, handler.Handle); err != nil {
			slog.Error("Hold request consumer stopped", "error", err)
			stop()
		}
	}()

	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/health", api.HealthCheckHandler)
	api.NewBalanceHandler(l).Register(r)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		slog.Info("Balance service starting", "port", cfg.Port, "env", cfg.Env, "commission_rate", cfg.CommissionRate.String())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	slog.Info("Shutting down balance service")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP shutdown failed", "error", err)
	}
	if err := consumer.Close(); err != nil {
		slog.Error("Kafka consumer close failed", "error", err)
	}
	<-consumed
	producer.Close()
	ledgerStore.Close()
	slog.Info("Balance service stopped")
}
