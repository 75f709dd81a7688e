package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PaymentStatus is the lifecycle state of a payment.
type PaymentStatus string

const (
	StatusCreated    PaymentStatus = "CREATED"
	StatusProcessing PaymentStatus = "PROCESSING"
	StatusCompleted  PaymentStatus = "COMPLETED"
	StatusFailed     PaymentStatus = "FAILED"
)

// Terminal reports whether no further transition may leave s.
func (s PaymentStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// transitions lists, for every target status, the statuses it may be reached from.
var transitions = map[PaymentStatus][]PaymentStatus{
	StatusProcessing: {StatusCreated},
	StatusCompleted:  {StatusCreated, StatusProcessing},
	StatusFailed:     {StatusCreated, StatusProcessing},
}

// SourcesOf returns the statuses from which to is reachable in one step.
func SourcesOf(to PaymentStatus) []PaymentStatus {
	return transitions[to]
}

// CanTransition reports whether from -> to is a forward edge of the state graph.
func CanTransition(from, to PaymentStatus) bool {
	for _, s := range transitions[to] {
		if s == from {
			return true
		}
	}
	return false
}

// Payment is the payment service's record of a single authorization.
// Amount never changes after creation.
type Payment struct {
	ID              uuid.UUID       `json:"id"`
	Amount          decimal.Decimal `json:"amount"`
	Status          PaymentStatus   `json:"status"`
	CallbackURL     string          `json:"callbackUrl"`
	PayerID         string          `json:"payerId"`
	PublishAttempts int             `json:"publishAttempts"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
	CreatedBy       string          `json:"createdBy"`
	UpdatedBy       string          `json:"updatedBy"`
}

// Balance holds a payer's funds in the balance service.
// Available and Reserved are both non-negative.
type Balance struct {
	ID        uuid.UUID       `json:"id"`
	PayerID   string          `json:"payerId"`
	Available decimal.Decimal `json:"available"`
	Reserved  decimal.Decimal `json:"reserved"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// Total is available plus reserved.
func (b Balance) Total() decimal.Decimal {
	return b.Available.Add(b.Reserved)
}

// TxKind classifies a ledger movement.
type TxKind string

const (
	KindDeposit    TxKind = "DEPOSIT"
	KindWithdrawal TxKind = "WITHDRAWAL"
	KindHold       TxKind = "HOLD"
	KindRelease    TxKind = "RELEASE"
)

// TxStatus is the status of a ledger movement.
type TxStatus string

const (
	TxPending   TxStatus = "PENDING"
	TxCompleted TxStatus = "COMPLETED"
	TxFailed    TxStatus = "FAILED"
)

// Transaction is one append-only entry of the transaction log.
// Amount is the signed delta applied to the balance's available funds:
// deposits and releases are positive, withdrawals and holds negative.
// For holds Commission carries the fee included in Amount.
type Transaction struct {
	ID         uuid.UUID       `json:"id"`
	BalanceID  uuid.UUID       `json:"balanceId"`
	PayerID    string          `json:"payerId"`
	Amount     decimal.Decimal `json:"amount"`
	Commission decimal.Decimal `json:"commission"`
	Kind       TxKind          `json:"kind"`
	PaymentID  *uuid.UUID      `json:"paymentId,omitempty"`
	Status     TxStatus        `json:"status"`
	Message    string          `json:"message,omitempty"`
	CreatedAt  time.Time       `json:"createdAt"`
}
