package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/punchamoorthee/paysettle/internal/domain"
)

// MemoryLedger is an in-process BalanceStore. Each payer has its own lock,
// so holds for different payers proceed in parallel.
type MemoryLedger struct {
	mu       sync.Mutex
	locks    map[string]*sync.Mutex
	balances map[string]domain.Balance
	entries  []domain.Transaction
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		locks:    map[string]*sync.Mutex{},
		balances: map[string]domain.Balance{},
	}
}

func (m *MemoryLedger) payerLock(payer string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[payer]
	if !ok {
		l = &sync.Mutex{}
		m.locks[payer] = l
	}
	return l
}

func (m *MemoryLedger) WithBalance(ctx context.Context, payer string, create bool, fn func(tx BalanceTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l := m.payerLock(payer)
	l.Lock()
	defer l.Unlock()

	m.mu.Lock()
	bal, ok := m.balances[payer]
	if !ok && create {
		now := time.Now().UTC()
		// stored on commit; the payer lock keeps concurrent creators out
		bal = domain.Balance{ID: uuid.New(), PayerID: payer, CreatedAt: now, UpdatedAt: now}
		ok = true
	}
	m.mu.Unlock()
	if !ok {
		return domain.ErrBalanceNotFound
	}

	tx := &memBalanceTx{ledger: m, balance: bal}
	if err := fn(tx); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[payer] = tx.balance
	m.entries = append(m.entries, tx.pending...)
	return nil
}

func (m *MemoryLedger) GetBalance(ctx context.Context, payer string) (domain.Balance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.balances[payer]
	if !ok {
		return b, domain.ErrBalanceNotFound
	}
	return b, nil
}

func (m *MemoryLedger) Entries(ctx context.Context, payer string) ([]domain.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Transaction
	for i := len(m.entries) - 1; i >= 0; i-- {
		if m.entries[i].PayerID == payer {
			out = append(out, m.entries[i])
		}
	}
	return out, nil
}

type memBalanceTx struct {
	ledger  *MemoryLedger
	balance domain.Balance
	pending []domain.Transaction
}

func (t *memBalanceTx) Balance() domain.Balance { return t.balance }

func (t *memBalanceTx) Save(ctx context.Context, b domain.Balance) error {
	t.balance = b
	return nil
}

func (t *memBalanceTx) Append(ctx context.Context, e domain.Transaction) error {
	t.pending = append(t.pending, e)
	return nil
}

func (t *memBalanceTx) HoldEntry(ctx context.Context, paymentID uuid.UUID) (*domain.Transaction, error) {
	match := func(e domain.Transaction) bool {
		return e.Kind == domain.KindHold && e.PaymentID != nil && *e.PaymentID == paymentID
	}
	for _, e := range t.pending {
		if match(e) {
			return &e, nil
		}
	}
	t.ledger.mu.Lock()
	defer t.ledger.mu.Unlock()
	for _, e := range t.ledger.entries {
		if match(e) {
			return &e, nil
		}
	}
	return nil, nil
}

// MemoryPayments is an in-process PaymentStore.
type MemoryPayments struct {
	mu       sync.Mutex
	payments map[uuid.UUID]domain.Payment
}

func NewMemoryPayments() *MemoryPayments {
	return &MemoryPayments{payments: map[uuid.UUID]domain.Payment{}}
}

func (m *MemoryPayments) Insert(ctx context.Context, p domain.Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.payments[p.ID] = p
	return nil
}

func (m *MemoryPayments) Get(ctx context.Context, id uuid.UUID) (domain.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[id]
	if !ok {
		return p, domain.ErrPaymentNotFound
	}
	return p, nil
}

func (m *MemoryPayments) Transition(ctx context.Context, id uuid.UUID, to domain.PaymentStatus, actor string, at time.Time) (domain.Payment, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[id]
	if !ok {
		return p, false, domain.ErrPaymentNotFound
	}
	if !domain.CanTransition(p.Status, to) {
		return p, false, nil
	}
	p.Status = to
	p.UpdatedAt = at
	p.UpdatedBy = actor
	m.payments[id] = p
	return p, true, nil
}

func (m *MemoryPayments) RecordPublish(ctx context.Context, id uuid.UUID, attempts int, actor string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[id]
	if !ok || p.Status != domain.StatusCreated || p.PublishAttempts != attempts {
		return false, nil
	}
	p.PublishAttempts++
	p.UpdatedAt = at
	p.UpdatedBy = actor
	m.payments[id] = p
	return true, nil
}

func (m *MemoryPayments) ListStale(ctx context.Context, status domain.PaymentStatus, before time.Time, limit int) ([]domain.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Payment
	for _, p := range m.payments {
		if p.Status == status && p.UpdatedAt.Before(before) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
