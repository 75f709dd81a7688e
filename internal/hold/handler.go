package hold

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/punchamoorthee/paysettle/internal/bus"
	"github.com/punchamoorthee/paysettle/internal/domain"
	"github.com/punchamoorthee/paysettle/internal/ledger"
	"github.com/punchamoorthee/paysettle/internal/models"
)

var responsesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "hold_responses_total",
	Help: "Hold responses emitted, labeled by result (held, rejected, error)",
}, []string{"result"})

// Handler answers every HoldRequest on the bus with exactly one HoldResponse.
type Handler struct {
	ledger *ledger.Ledger
	pub    bus.Publisher
	topic  string
}

func NewHandler(l *ledger.Ledger, pub bus.Publisher, responseTopic string) *Handler {
	if responseTopic == "" {
		responseTopic = bus.TopicHoldResponse
	}
	return &Handler{ledger: l, pub: pub, topic: responseTopic}
}

// Handle is a bus.Handler. It returns an error only when the response could
// not be published, so the bus redelivers the request; the ledger replays
// the stored outcome on the second pass.
func (h *Handler) Handle(ctx context.Context, msg bus.Message) error {
	req, err := models.DecodeHoldRequest(msg.Value)
	if err == nil && req.PaymentID == uuid.Nil {
		err = errors.New("decode hold request: missing paymentId")
	}
	if err != nil {
		id, ok := recoverPaymentID(msg)
		if !ok {
			slog.Error("Dropping undecodable hold request", "key", msg.Key, "error", err)
			responsesTotal.WithLabelValues("error").Inc()
			return nil
		}
		return h.respond(ctx, failure(id, err))
	}

	slog.Info("Received hold request", "payment_id", req.PaymentID, "payer", req.PayerID, "amount", domain.Format(req.Amount.Decimal))
	return h.respond(ctx, h.process(ctx, req))
}

func (h *Handler) process(ctx context.Context, req models.HoldRequest) models.HoldResponse {
	if req.PayerID == "" {
		return failure(req.PaymentID, errors.New("missing payerId"))
	}
	if _, err := h.ledger.GetOrCreate(ctx, req.PayerID); err != nil {
		slog.Error("Balance lookup failed", "payment_id", req.PaymentID, "payer", req.PayerID, "error", err)
		return failure(req.PaymentID, err)
	}

	res, err := h.ledger.Hold(ctx, req.PayerID, req.Amount.Decimal, req.PaymentID)
	if err != nil {
		slog.Error("Hold failed", "payment_id", req.PaymentID, "payer", req.PayerID, "error", err)
		return failure(req.PaymentID, err)
	}

	switch {
	case res.Replayed:
		slog.Info("Replaying recorded hold outcome", "payment_id", req.PaymentID, "success", res.Success)
	case res.Success:
		slog.Info("Amount held", "payment_id", req.PaymentID, "commission", domain.Format(res.Commission))
	default:
		slog.Warn("Hold rejected", "payment_id", req.PaymentID, "reason", res.Message)
	}

	message := res.Message
	commission := models.NewMoney(res.Commission)
	return models.HoldResponse{
		PaymentID:  req.PaymentID,
		Success:    res.Success,
		Message:    &message,
		Commission: &commission,
	}
}

func (h *Handler) respond(ctx context.Context, resp models.HoldResponse) error {
	value, err := models.EncodeHoldResponse(resp)
	if err != nil {
		return fmt.Errorf("encode hold response %s: %w", resp.PaymentID, err)
	}

	sent := make(chan error, 1)
	h.pub.Publish(ctx, h.topic, resp.PaymentID.String(), value, func(err error) { sent <- err })
	select {
	case err := <-sent:
		if err != nil {
			return fmt.Errorf("publish hold response %s: %w", resp.PaymentID, err)
		}
	case <-ctx.Done():
		return ctx.Err()
	}

	switch {
	case resp.Success:
		responsesTotal.WithLabelValues("held").Inc()
	case resp.Commission != nil:
		responsesTotal.WithLabelValues("rejected").Inc()
	default:
		responsesTotal.WithLabelValues("error").Inc()
	}
	return nil
}

func failure(id uuid.UUID, err error) models.HoldResponse {
	message := fmt.Sprintf("Internal error: %v", err)
	return models.HoldResponse{PaymentID: id, Success: false, Message: &message}
}

// recoverPaymentID looks for a usable payment id in a payload that failed to
// decode as a whole, falling back to the message key.
func recoverPaymentID(msg bus.Message) (uuid.UUID, bool) {
	var partial struct {
		PaymentID string `json:"paymentId"`
	}
	if json.Unmarshal(msg.Value, &partial) == nil {
		if id, err := uuid.Parse(partial.PaymentID); err == nil {
			return id, true
		}
	}
	if id, err := uuid.Parse(msg.Key); err == nil {
		return id, true
	}
	return uuid.Nil, false
}
