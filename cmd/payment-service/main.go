package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/punchamoorthee/paysettle/internal/api"
	"github.com/punchamoorthee/paysettle/internal/bus"
	"github.com/punchamoorthee/paysettle/internal/callback"
	"github.com/punchamoorthee/paysettle/internal/config"
	"github.com/punchamoorthee/paysettle/internal/payment"
	"github.com/punchamoorthee/paysettle/internal/store"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	cfg, err := config.LoadPayment()
	if err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	payments, err := store.OpenPaymentLedger(ctx, cfg.DBSource)
	if err != nil {
		slog.Error("Database connection failed", "error", err)
		os.Exit(1)
	}
	if err := store.InitPaymentSchema(ctx, payments.DB); err != nil {
		slog.Error("Schema initialization failed", "error", err)
		os.Exit(1)
	}

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

	notifier := callback.New(callback.Options{Workers: cfg.CallbackWorkers, Timeout: cfg.CallbackTimeout})
	coordinator := payment.NewCoordinator(payments, producer, notifier, payment.Config{
		RequestTopic:       cfg.HoldRequestTopic,
		SweepInterval:      cfg.SweepInterval,
		MaxPublishAttempts: cfg.MaxPublishAttempts,
		Actor:              cfg.Actor,
	})

	var background sync.WaitGroup
	background.Add(2)
	go func() {
		defer background.Done()
		if err := consumer.Subscribe(ctx, cfg.HoldResponseTopic, coordinator.HandleHoldResponse); err != nil {
			slog.Error("Hold response consumer stopped", "error", err)
			stop()
		}
	}()
	go func() {
		defer background.Done()
		payment.NewSweeper(coordinator).Run(ctx)
	}()

	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/health", api.HealthCheckHandler)
	api.NewPaymentHandler(coordinator).Register(r)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		slog.Info("Payment service starting", "port", cfg.Port, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	slog.Info("Shutting down payment service")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP shutdown failed", "error", err)
	}
	if err := consumer.Close(); err != nil {
		slog.Error("Kafka consumer close failed", "error", err)
	}
	background.Wait()
	// flushes in-flight hold requests and runs their callbacks against the store
	producer.Close()
	if err := notifier.Close(shutdownCtx); err != nil {
		slog.Warn("Pending callbacks abandoned", "error", err)
	}
	if err := payments.Close(); err != nil {
		slog.Error("Database close failed", "error", err)
	}
	slog.Info("Payment service stopped")
}
