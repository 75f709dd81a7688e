package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/punchamoorthee/paysettle/internal/domain"
)

// BalanceStore persists balances and their transaction log.
type BalanceStore interface {
	// WithBalance runs fn while holding the exclusive lock on the payer's
	// balance row. With create set, a zero balance is inserted first when the
	// payer has none; otherwise a missing balance yields domain.ErrBalanceNotFound.
	// Writes made through the BalanceTx are committed only if fn returns nil.
	WithBalance(ctx context.Context, payer string, create bool, fn func(tx BalanceTx) error) error

	GetBalance(ctx context.Context, payer string) (domain.Balance, error)
	Entries(ctx context.Context, payer string) ([]domain.Transaction, error)
}

// BalanceTx is the view of one locked balance inside WithBalance.
type BalanceTx interface {
	Balance() domain.Balance
	Save(ctx context.Context, b domain.Balance) error
	Append(ctx context.Context, e domain.Transaction) error
	// HoldEntry returns the HOLD entry recorded for paymentID, or nil.
	HoldEntry(ctx context.Context, paymentID uuid.UUID) (*domain.Transaction, error)
}

// PaymentStore persists payments. Status changes are compare-and-set so
// concurrent writers never move a payment backward.
type PaymentStore interface {
	Insert(ctx context.Context, p domain.Payment) error
	Get(ctx context.Context, id uuid.UUID) (domain.Payment, error)

	// Transition moves the payment to `to` if its current status is one of
	// domain.SourcesOf(to). The bool reports whether the row changed.
	Transition(ctx context.Context, id uuid.UUID, to domain.PaymentStatus, actor string, at time.Time) (domain.Payment, bool, error)

	// RecordPublish bumps the publish counter of a CREATED payment whose
	// counter still equals attempts.
	RecordPublish(ctx context.Context, id uuid.UUID, attempts int, actor string, at time.Time) (bool, error)

	// ListStale returns payments in status last updated before `before`, oldest first.
	ListStale(ctx context.Context, status domain.PaymentStatus, before time.Time, limit int) ([]domain.Payment, error)
}
