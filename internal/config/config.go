package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"github.com/punchamoorthee/paysettle/internal/bus"
	"github.com/punchamoorthee/paysettle/internal/domain"
)

// Common holds the settings both services read.
type Common struct {
	Port              string
	Env               string
	Brokers           []string
	GroupID           string
	HoldRequestTopic  string
	HoldResponseTopic string
	Actor             string
}

type PaymentConfig struct {
	Common
	DBSource           string // MySQL DSN
	SweepInterval      time.Duration
	MaxPublishAttempts int
	CallbackWorkers    int
	CallbackTimeout    time.Duration
}

type BalanceConfig struct {
	Common
	DBSource       string // Postgres URL
	CommissionRate decimal.Decimal
}

// loadDotEnv reads .env when present; deployments set real variables instead.
func loadDotEnv() {
	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file found, relying on environment variables")
	}
}

func LoadPayment() (*PaymentConfig, error) {
	loadDotEnv()

	dbSource := os.Getenv("PAYMENT_DB_SOURCE")
	if dbSource == "" {
		return nil, fmt.Errorf("PAYMENT_DB_SOURCE environment variable is required")
	}
	common, err := loadCommon("payment-service", "8080")
	if err != nil {
		return nil, err
	}

	sweep, err := duration("SWEEP_INTERVAL", 5*time.Second)
	if err != nil {
		return nil, err
	}
	maxAttempts, err := integer("MAX_PUBLISH_ATTEMPTS", 10)
	if err != nil {
		return nil, err
	}
	workers, err := integer("CALLBACK_WORKERS", 8)
	if err != nil {
		return nil, err
	}
	timeout, err := duration("CALLBACK_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, err
	}

	return &PaymentConfig{
		Common:             common,
		DBSource:           dbSource,
		SweepInterval:      sweep,
		MaxPublishAttempts: maxAttempts,
		CallbackWorkers:    workers,
		CallbackTimeout:    timeout,
	}, nil
}

func LoadBalance() (*BalanceConfig, error) {
	loadDotEnv()

	dbSource := os.Getenv("BALANCE_DB_SOURCE")
	if dbSource == "" {
		return nil, fmt.Errorf("BALANCE_DB_SOURCE environment variable is required")
	}
	common, err := loadCommon("balance-service", "8081")
	if err != nil {
		return nil, err
	}

	rate := domain.DefaultCommissionRate
	if v := os.Getenv("COMMISSION_RATE"); v != "" {
		rate, err = decimal.NewFromString(v)
		if err != nil || rate.IsNegative() {
			return nil, fmt.Errorf("COMMISSION_RATE must be a non-negative decimal, got %q", v)
		}
	}

	return &BalanceConfig{Common: common, DBSource: dbSource, CommissionRate: rate}, nil
}

func loadCommon(service, defaultPort string) (Common, error) {
	brokers := splitList(getEnv("KAFKA_BROKERS", "localhost:9092"))
	if len(brokers) == 0 {
		return Common{}, fmt.Errorf("KAFKA_BROKERS must list at least one broker")
	}
	return Common{
		Port:              getEnv("SERVER_PORT", defaultPort),
		Env:               getEnv("ENVIRONMENT", "development"),
		Brokers:           brokers,
		GroupID:           getEnv("KAFKA_GROUP_ID", service),
		HoldRequestTopic:  getEnv("HOLD_REQUEST_TOPIC", bus.TopicHoldRequest),
		HoldResponseTopic: getEnv("HOLD_RESPONSE_TOPIC", bus.TopicHoldResponse),
		Actor:             getEnv("SERVICE_ACTOR", service),
	}, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func duration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("%s must be a positive duration, got %q", key, v)
	}
	return d, nil
}

func integer(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%s must be a non-negative integer, got %q", key, v)
	}
	return n, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
