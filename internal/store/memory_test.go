package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/punchamoorthee/paysettle/internal/domain"
)

func TestMemoryLedgerCreatesOncePerPayer(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := NewMemoryLedger()

	ids := make(chan uuid.UUID, 50)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = m.WithBalance(ctx, "alice", true, func(tx BalanceTx) error {
				ids <- tx.Balance().ID
				return nil
			})
		}()
	}
	wg.Wait()
	close(ids)

	var first uuid.UUID
	for id := range ids {
		if first == uuid.Nil {
			first = id
		}
		if id != first {
			t.Fatalf("Expected a single balance id, got %s and %s", first, id)
		}
	}
}

func TestMemoryLedgerRollsBackOnError(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := NewMemoryLedger()
	boom := errors.New("boom")

	err := m.WithBalance(ctx, "bob", true, func(tx BalanceTx) error {
		b := tx.Balance()
		b.Available = decimal.NewFromInt(10)
		_ = tx.Save(ctx, b)
		_ = tx.Append(ctx, domain.Transaction{ID: uuid.New(), PayerID: "bob", Kind: domain.KindDeposit})
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Expected boom, got %v", err)
	}

	if _, err := m.GetBalance(ctx, "bob"); !errors.Is(err, domain.ErrBalanceNotFound) {
		t.Errorf("Expected no balance after rollback, got %v", err)
	}
	entries, _ := m.Entries(ctx, "bob")
	if len(entries) != 0 {
		t.Errorf("Expected no entries after rollback, got %d", len(entries))
	}
}

func TestMemoryLedgerWithoutCreate(t *testing.T) {
	t.Parallel()
	m := NewMemoryLedger()

	err := m.WithBalance(context.Background(), "ghost", false, func(tx BalanceTx) error { return nil })
	if !errors.Is(err, domain.ErrBalanceNotFound) {
		t.Errorf("Expected ErrBalanceNotFound, got %v", err)
	}
}

func TestMemoryPaymentsTransitionIsForwardOnly(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := NewMemoryPayments()
	id := uuid.New()
	now := time.Now()
	_ = m.Insert(ctx, domain.Payment{ID: id, Status: domain.StatusCreated, CreatedAt: now, UpdatedAt: now})

	if _, ok, _ := m.Transition(ctx, id, domain.StatusCompleted, "test", now); !ok {
		t.Fatal("Expected CREATED -> COMPLETED to apply")
	}
	p, ok, err := m.Transition(ctx, id, domain.StatusProcessing, "test", now)
	if err != nil || ok {
		t.Fatalf("Expected COMPLETED -> PROCESSING to be refused, got ok=%v err=%v", ok, err)
	}
	if p.Status != domain.StatusCompleted {
		t.Errorf("Expected status to stay COMPLETED, got %s", p.Status)
	}
}

func TestMemoryPaymentsListStale(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := NewMemoryPayments()
	now := time.Now()

	old := domain.Payment{ID: uuid.New(), Status: domain.StatusCreated, UpdatedAt: now.Add(-time.Minute)}
	fresh := domain.Payment{ID: uuid.New(), Status: domain.StatusCreated, UpdatedAt: now}
	processing := domain.Payment{ID: uuid.New(), Status: domain.StatusProcessing, UpdatedAt: now.Add(-time.Minute)}
	for _, p := range []domain.Payment{old, fresh, processing} {
		_ = m.Insert(ctx, p)
	}

	got, err := m.ListStale(ctx, domain.StatusCreated, now.Add(-time.Second), 10)
	if err != nil {
		t.Fatalf("ListStale failed: %v", err)
	}
	if len(got) != 1 || got[0].ID != old.ID {
		t.Errorf("Expected only the old CREATED payment, got %+v", got)
	}
}

func TestMemoryPaymentsRecordPublishIsCompareAndSet(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := NewMemoryPayments()
	id := uuid.New()
	_ = m.Insert(ctx, domain.Payment{ID: id, Status: domain.StatusCreated, PublishAttempts: 1})

	if ok, _ := m.RecordPublish(ctx, id, 1, "sweeper", time.Now()); !ok {
		t.Fatal("Expected first RecordPublish to apply")
	}
	if ok, _ := m.RecordPublish(ctx, id, 1, "sweeper", time.Now()); ok {
		t.Error("Expected stale RecordPublish to be refused")
	}
}
