package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shopspring/decimal"

	"github.com/punchamoorthee/paysettle/internal/domain"
	"github.com/punchamoorthee/paysettle/internal/store"
)

var holdsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "ledger_holds_total",
	Help: "Hold attempts, labeled by outcome (held, insufficient, replayed)",
}, []string{"outcome"})

// HoldResult is the outcome of a hold attempt. Balance is set only when
// funds were actually reserved by this call.
type HoldResult struct {
	Success    bool
	Message    string
	Commission decimal.Decimal
	Balance    *domain.Balance
	Replayed   bool
}

// Ledger owns every mutation of balances. All of them run under the payer's
// row lock, which makes hold and release linearizable per payer.
type Ledger struct {
	store store.BalanceStore
	rate  decimal.Decimal
	now   func() time.Time
}

func New(s store.BalanceStore, commissionRate decimal.Decimal) *Ledger {
	return &Ledger{store: s, rate: commissionRate, now: func() time.Time { return time.Now().UTC() }}
}

// GetOrCreate returns the payer's balance, creating an empty one on first use.
func (l *Ledger) GetOrCreate(ctx context.Context, payer string) (domain.Balance, error) {
	var bal domain.Balance
	err := l.store.WithBalance(ctx, payer, true, func(tx store.BalanceTx) error {
		bal = tx.Balance()
		return nil
	})
	return bal, err
}

func (l *Ledger) Balance(ctx context.Context, payer string) (domain.Balance, error) {
	return l.store.GetBalance(ctx, payer)
}

// Hold reserves amount plus commission for paymentID. A second call for a
// payment that already has a HOLD entry returns the recorded outcome
// without touching the balance.
func (l *Ledger) Hold(ctx context.Context, payer string, amount decimal.Decimal, paymentID uuid.UUID) (HoldResult, error) {
	if err := domain.ValidateAmount(amount); err != nil {
		return HoldResult{}, err
	}
	total, commission := domain.HoldTotal(amount, l.rate)

	var res HoldResult
	err := l.store.WithBalance(ctx, payer, true, func(tx store.BalanceTx) error {
		prev, err := tx.HoldEntry(ctx, paymentID)
		if err != nil {
			return err
		}
		if prev != nil {
			res = HoldResult{
				Success:    prev.Status == domain.TxCompleted,
				Message:    prev.Message,
				Commission: prev.Commission,
				Replayed:   true,
			}
			return nil
		}

		bal := tx.Balance()
		now := l.now()
		entry := domain.Transaction{
			ID:         uuid.New(),
			BalanceID:  bal.ID,
			PayerID:    payer,
			Amount:     total.Neg(),
			Commission: commission,
			Kind:       domain.KindHold,
			PaymentID:  &paymentID,
			CreatedAt:  now,
		}

		if bal.Available.LessThan(total) {
			entry.Status = domain.TxFailed
			entry.Message = fmt.Sprintf("Insufficient balance. Required: %s, Available: %s",
				domain.Format(total), domain.Format(bal.Available))
			res = HoldResult{Success: false, Message: entry.Message, Commission: commission}
			return tx.Append(ctx, entry)
		}

		bal.Available = bal.Available.Sub(total)
		bal.Reserved = bal.Reserved.Add(total)
		bal.UpdatedAt = now
		if err := tx.Save(ctx, bal); err != nil {
			return err
		}
		entry.Status = domain.TxCompleted
		entry.Message = "Amount held successfully"
		if err := tx.Append(ctx, entry); err != nil {
			return err
		}
		res = HoldResult{Success: true, Message: entry.Message, Commission: commission, Balance: &bal}
		return nil
	})
	if err != nil {
		return HoldResult{}, fmt.Errorf("hold %s for %s: %w", domain.Format(amount), payer, err)
	}

	switch {
	case res.Replayed:
		holdsTotal.WithLabelValues("replayed").Inc()
	case res.Success:
		holdsTotal.WithLabelValues("held").Inc()
	default:
		holdsTotal.WithLabelValues("insufficient").Inc()
	}
	return res, nil
}

// Release moves amount from reserved back to available. It reports false,
// changing nothing, when the payer has no balance or too little reserved.
func (l *Ledger) Release(ctx context.Context, payer string, amount decimal.Decimal, paymentID *uuid.UUID) (bool, error) {
	if err := domain.ValidateAmount(amount); err != nil {
		return false, err
	}

	released := false
	err := l.store.WithBalance(ctx, payer, false, func(tx store.BalanceTx) error {
		bal := tx.Balance()
		if bal.Reserved.LessThan(amount) {
			return nil
		}
		now := l.now()
		bal.Reserved = bal.Reserved.Sub(amount)
		bal.Available = bal.Available.Add(amount)
		bal.UpdatedAt = now
		if err := tx.Save(ctx, bal); err != nil {
			return err
		}
		released = true
		return tx.Append(ctx, domain.Transaction{
			ID:        uuid.New(),
			BalanceID: bal.ID,
			PayerID:   payer,
			Amount:    amount,
			Kind:      domain.KindRelease,
			PaymentID: paymentID,
			Status:    domain.TxCompleted,
			CreatedAt: now,
		})
	})
	if errors.Is(err, domain.ErrBalanceNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("release %s for %s: %w", domain.Format(amount), payer, err)
	}
	return released, nil
}

// Deposit credits available funds, creating the balance if needed.
func (l *Ledger) Deposit(ctx context.Context, payer string, amount decimal.Decimal) (domain.Balance, error) {
	return l.move(ctx, payer, amount, domain.KindDeposit)
}

// Withdraw debits available funds; it never overdraws.
func (l *Ledger) Withdraw(ctx context.Context, payer string, amount decimal.Decimal) (domain.Balance, error) {
	return l.move(ctx, payer, amount, domain.KindWithdrawal)
}

func (l *Ledger) move(ctx context.Context, payer string, amount decimal.Decimal, kind domain.TxKind) (domain.Balance, error) {
	if err := domain.ValidateAmount(amount); err != nil {
		return domain.Balance{}, err
	}
	delta := amount
	if kind == domain.KindWithdrawal {
		delta = amount.Neg()
	}

	var bal domain.Balance
	err := l.store.WithBalance(ctx, payer, kind == domain.KindDeposit, func(tx store.BalanceTx) error {
		bal = tx.Balance()
		if bal.Available.Add(delta).IsNegative() {
			return fmt.Errorf("%w: available %s, requested %s",
				domain.ErrInsufficientBalance, domain.Format(bal.Available), domain.Format(amount))
		}
		now := l.now()
		bal.Available = bal.Available.Add(delta)
		bal.UpdatedAt = now
		if err := tx.Save(ctx, bal); err != nil {
			return err
		}
		return tx.Append(ctx, domain.Transaction{
			ID:        uuid.New(),
			BalanceID: bal.ID,
			PayerID:   payer,
			Amount:    delta,
			Kind:      kind,
			Status:    domain.TxCompleted,
			CreatedAt: now,
		})
	})
	if err != nil {
		return domain.Balance{}, fmt.Errorf("%s %s for %s: %w", kind, domain.Format(amount), payer, err)
	}
	return bal, nil
}

// Entries returns the payer's transaction log, newest first.
func (l *Ledger) Entries(ctx context.Context, payer string) ([]domain.Transaction, error) {
	return l.store.Entries(ctx, payer)
}

// Audit recomputes the payer's balance from the transaction log and returns
// domain.ErrLedgerInconsistency if the stored balance disagrees.
func (l *Ledger) Audit(ctx context.Context, payer string) (domain.Balance, error) {
	var bal domain.Balance
	// the row lock keeps concurrent movements out while the log is read
	err := l.store.WithBalance(ctx, payer, false, func(tx store.BalanceTx) error {
		bal = tx.Balance()
		entries, err := l.store.Entries(ctx, payer)
		if err != nil {
			return err
		}
		return Verify(bal, entries)
	})
	if errors.Is(err, domain.ErrLedgerInconsistency) {
		slog.Error("Ledger inconsistency detected", "payer", payer, "error", err)
	}
	return bal, err
}

// Verify checks a balance against its log: deposits minus withdrawals equal
// available plus reserved, and the sum of every completed delta equals available.
func Verify(bal domain.Balance, entries []domain.Transaction) error {
	if bal.Available.IsNegative() || bal.Reserved.IsNegative() {
		return fmt.Errorf("%w: negative funds (available %s, reserved %s)",
			domain.ErrLedgerInconsistency, domain.Format(bal.Available), domain.Format(bal.Reserved))
	}

	funded := decimal.Zero
	available := decimal.Zero
	for _, e := range entries {
		if e.Status != domain.TxCompleted {
			continue
		}
		available = available.Add(e.Amount)
		if e.Kind == domain.KindDeposit || e.Kind == domain.KindWithdrawal {
			funded = funded.Add(e.Amount)
		}
	}

	if !funded.Equal(bal.Total()) {
		return fmt.Errorf("%w: log funds %s, balance holds %s",
			domain.ErrLedgerInconsistency, domain.Format(funded), domain.Format(bal.Total()))
	}
	if !available.Equal(bal.Available) {
		return fmt.Errorf("%w: log available %s, balance available %s",
			domain.ErrLedgerInconsistency, domain.Format(available), domain.Format(bal.Available))
	}
	return nil
}
