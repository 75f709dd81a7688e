package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shopspring/decimal"

	"github.com/punchamoorthee/paysettle/internal/bus"
	"github.com/punchamoorthee/paysettle/internal/domain"
	"github.com/punchamoorthee/paysettle/internal/models"
	"github.com/punchamoorthee/paysettle/internal/store"
)

var (
	createdTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "payments_created_total",
		Help: "Payments accepted in CREATED status",
	})

	transitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_transitions_total",
		Help: "Applied payment status transitions, labeled by target status",
	}, []string{"status"})

	duplicateResponsesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "payment_duplicate_hold_responses_total",
		Help: "Hold responses ignored because the payment was already terminal",
	})
)

// callbackTimeout bounds the store writes made from publish completion callbacks.
const callbackTimeout = 10 * time.Second

// Notifier receives every payment that reached a terminal status.
type Notifier interface {
	Notify(ctx context.Context, p domain.Payment)
}

type Config struct {
	RequestTopic  string
	SweepInterval time.Duration
	// MaxPublishAttempts abandons a CREATED payment once it has been
	// published this many times. Zero re-publishes forever.
	MaxPublishAttempts int
	SweepBatch         int
	// Actor is written to updated_by for changes not made by a payer.
	Actor string
}

func (c Config) withDefaults() Config {
	if c.RequestTopic == "" {
		c.RequestTopic = bus.TopicHoldRequest
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = 5 * time.Second
	}
	if c.SweepBatch <= 0 {
		c.SweepBatch = 500
	}
	if c.Actor == "" {
		c.Actor = "payment-service"
	}
	return c
}

// Coordinator drives payments from creation to a terminal status through the
// hold request/response exchange with the balance service.
type Coordinator struct {
	store    store.PaymentStore
	pub      bus.Publisher
	notifier Notifier
	cfg      Config
	now      func() time.Time
}

func NewCoordinator(s store.PaymentStore, pub bus.Publisher, n Notifier, cfg Config) *Coordinator {
	return &Coordinator{
		store:    s,
		pub:      pub,
		notifier: n,
		cfg:      cfg.withDefaults(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Create records a CREATED payment and publishes its hold request without
// waiting for the broker. The send confirmation moves it to PROCESSING; a
// send failure fails it.
func (c *Coordinator) Create(ctx context.Context, amount decimal.Decimal, callbackURL, payer string) (domain.Payment, error) {
	if err := domain.ValidateAmount(amount); err != nil {
		return domain.Payment{}, err
	}
	if err := validateCallback(callbackURL); err != nil {
		return domain.Payment{}, err
	}
	if payer == "" {
		return domain.Payment{}, domain.ErrMissingPayer
	}

	now := c.now()
	p := domain.Payment{
		ID:              uuid.New(),
		Amount:          amount,
		Status:          domain.StatusCreated,
		CallbackURL:     callbackURL,
		PayerID:         payer,
		PublishAttempts: 1,
		CreatedAt:       now,
		UpdatedAt:       now,
		CreatedBy:       payer,
		UpdatedBy:       payer,
	}
	if err := c.store.Insert(ctx, p); err != nil {
		return domain.Payment{}, fmt.Errorf("create payment: %w", err)
	}
	createdTotal.Inc()
	slog.Info("Payment created", "payment_id", p.ID, "payer", payer, "amount", domain.Format(amount))

	c.publish(ctx, p, func(err error) {
		if err != nil {
			slog.Error("Hold request send failed", "payment_id", p.ID, "error", err)
			c.settle(p.ID, domain.StatusFailed, c.cfg.Actor)
			return
		}
		c.settle(p.ID, domain.StatusProcessing, c.cfg.Actor)
	})
	return p, nil
}

func (c *Coordinator) Get(ctx context.Context, id uuid.UUID) (domain.Payment, error) {
	p, err := c.store.Get(ctx, id)
	if err != nil {
		return domain.Payment{}, fmt.Errorf("get payment %s: %w", id, err)
	}
	return p, nil
}

// ApplyHoldResponse settles the payment the response belongs to. Responses
// for terminal or unknown payments are acknowledged and ignored.
func (c *Coordinator) ApplyHoldResponse(ctx context.Context, resp models.HoldResponse) error {
	p, err := c.store.Get(ctx, resp.PaymentID)
	if errors.Is(err, domain.ErrPaymentNotFound) {
		slog.Warn("Hold response for unknown payment", "payment_id", resp.PaymentID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("apply hold response %s: %w", resp.PaymentID, err)
	}
	if p.Status.Terminal() {
		duplicateResponsesTotal.Inc()
		slog.Info("Duplicate hold response ignored", "payment_id", p.ID, "status", p.Status)
		return nil
	}

	to := domain.StatusFailed
	if resp.Success {
		to = domain.StatusCompleted
	}
	updated, changed, err := c.store.Transition(ctx, p.ID, to, c.cfg.Actor, c.now())
	if err != nil {
		return fmt.Errorf("apply hold response %s: %w", resp.PaymentID, err)
	}
	if !changed {
		duplicateResponsesTotal.Inc()
		return nil
	}
	transitionsTotal.WithLabelValues(string(to)).Inc()
	slog.Info("Payment settled", "payment_id", p.ID, "status", to, "message", resp.Text())
	c.notifier.Notify(ctx, updated)
	return nil
}

// HandleHoldResponse is the bus.Handler for the hold response topic.
func (c *Coordinator) HandleHoldResponse(ctx context.Context, msg bus.Message) error {
	resp, err := models.DecodeHoldResponse(msg.Value)
	if err != nil {
		slog.Error("Dropping undecodable hold response", "key", msg.Key, "error", err)
		return nil
	}
	return c.ApplyHoldResponse(ctx, resp)
}

func (c *Coordinator) publish(ctx context.Context, p domain.Payment, done func(error)) {
	value, err := models.EncodeHoldRequest(models.HoldRequest{
		PaymentID: p.ID,
		PayerID:   p.PayerID,
		Amount:    models.NewMoney(p.Amount),
	})
	if err != nil {
		go done(fmt.Errorf("%w: encode hold request: %v", domain.ErrMessagingFailure, err))
		return
	}
	c.pub.Publish(context.WithoutCancel(ctx), c.cfg.RequestTopic, p.ID.String(), value, done)
}

// settle applies a transition from a publish callback, where no request
// context exists. A payment that reached FAILED here is notified.
func (c *Coordinator) settle(id uuid.UUID, to domain.PaymentStatus, actor string) {
	ctx, cancel := context.WithTimeout(context.Background(), callbackTimeout)
	defer cancel()

	updated, changed, err := c.store.Transition(ctx, id, to, actor, c.now())
	if err != nil {
		slog.Error("Payment transition failed", "payment_id", id, "to", to, "error", err)
		return
	}
	if !changed {
		return
	}
	transitionsTotal.WithLabelValues(string(to)).Inc()
	if to.Terminal() {
		slog.Info("Payment settled", "payment_id", id, "status", to)
		c.notifier.Notify(ctx, updated)
	}
}

func validateCallback(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidCallback, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: %q must be an absolute http(s) url", domain.ErrInvalidCallback, raw)
	}
	return nil
}
