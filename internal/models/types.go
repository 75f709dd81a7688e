package models

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/punchamoorthee/paysettle/internal/domain"
)

// Money is a decimal that travels as a JSON number with two fractional digits.
type Money struct {
	decimal.Decimal
}

func NewMoney(d decimal.Decimal) Money { return Money{Decimal: d} }

func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(m.StringFixed(domain.Scale)), nil
}

// UnmarshalJSON accepts both JSON numbers and quoted strings.
func (m *Money) UnmarshalJSON(b []byte) error {
	return m.Decimal.UnmarshalJSON(b)
}

// HoldRequest asks the balance service to reserve Amount (plus commission) for a payment.
type HoldRequest struct {
	PaymentID uuid.UUID `json:"paymentId"`
	PayerID   string    `json:"payerId"`
	Amount    Money     `json:"amount"`
}

// HoldResponse is the balance service's answer to exactly one HoldRequest.
type HoldResponse struct {
	PaymentID  uuid.UUID `json:"paymentId"`
	Success    bool      `json:"success"`
	Message    *string   `json:"message"`
	Commission *Money    `json:"commission"`
}

// Text returns the response message or the empty string.
func (r HoldResponse) Text() string {
	if r.Message == nil {
		return ""
	}
	return *r.Message
}

// CallbackPayload is POSTed to a payment's callback URL once it is terminal.
type CallbackPayload struct {
	ID      uuid.UUID            `json:"id"`
	Status  domain.PaymentStatus `json:"status"`
	Amount  Money                `json:"amount"`
	PayerID string               `json:"payerId"`
}

func NewCallbackPayload(p domain.Payment) CallbackPayload {
	return CallbackPayload{ID: p.ID, Status: p.Status, Amount: NewMoney(p.Amount), PayerID: p.PayerID}
}

// CreatePaymentRequest is the payload of POST /api/v1/payments.
type CreatePaymentRequest struct {
	Amount      Money  `json:"amount"`
	CallbackURL string `json:"callbackUrl"`
}

// PaymentResponse is the external view of a payment.
type PaymentResponse struct {
	ID          uuid.UUID            `json:"id"`
	Amount      Money                `json:"amount"`
	Status      domain.PaymentStatus `json:"status"`
	CallbackURL string               `json:"callbackUrl"`
	PayerID     string               `json:"payerId"`
	CreatedAt   string               `json:"createdAt"`
	UpdatedAt   string               `json:"updatedAt"`
}

func NewPaymentResponse(p domain.Payment) PaymentResponse {
	return PaymentResponse{
		ID:          p.ID,
		Amount:      NewMoney(p.Amount),
		Status:      p.Status,
		CallbackURL: p.CallbackURL,
		PayerID:     p.PayerID,
		CreatedAt:   p.CreatedAt.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
		UpdatedAt:   p.UpdatedAt.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
	}
}

// AmountRequest is the payload of deposit, withdrawal and release calls.
type AmountRequest struct {
	Amount    Money      `json:"amount"`
	PaymentID *uuid.UUID `json:"paymentId,omitempty"`
}

// BalanceResponse is the external view of a balance.
type BalanceResponse struct {
	PayerID   string `json:"payerId"`
	Available Money  `json:"available"`
	Reserved  Money  `json:"reserved"`
}

func NewBalanceResponse(b domain.Balance) BalanceResponse {
	return BalanceResponse{PayerID: b.PayerID, Available: NewMoney(b.Available), Reserved: NewMoney(b.Reserved)}
}

// EntryResponse is the external view of one transaction log entry.
type EntryResponse struct {
	ID         uuid.UUID       `json:"id"`
	Kind       domain.TxKind   `json:"kind"`
	Status     domain.TxStatus `json:"status"`
	Amount     Money           `json:"amount"`
	Commission Money           `json:"commission"`
	PaymentID  *uuid.UUID      `json:"paymentId,omitempty"`
	Message    string          `json:"message,omitempty"`
	CreatedAt  string          `json:"createdAt"`
}

func NewEntryResponses(entries []domain.Transaction) []EntryResponse {
	out := make([]EntryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, EntryResponse{
			ID:         e.ID,
			Kind:       e.Kind,
			Status:     e.Status,
			Amount:     NewMoney(e.Amount),
			Commission: NewMoney(e.Commission),
			PaymentID:  e.PaymentID,
			Message:    e.Message,
			CreatedAt:  e.CreatedAt.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
		})
	}
	return out
}

// EncodeHoldRequest and the functions below are the bus codec.
func EncodeHoldRequest(r HoldRequest) ([]byte, error) { return json.Marshal(r) }

func DecodeHoldRequest(b []byte) (HoldRequest, error) {
	var r HoldRequest
	if err := json.Unmarshal(b, &r); err != nil {
		return r, fmt.Errorf("decode hold request: %w", err)
	}
	return r, nil
}

func EncodeHoldResponse(r HoldResponse) ([]byte, error) { return json.Marshal(r) }

func DecodeHoldResponse(b []byte) (HoldResponse, error) {
	var r HoldResponse
	if err := json.Unmarshal(b, &r); err != nil {
		return r, fmt.Errorf("decode hold response: %w", err)
	}
	return r, nil
}
