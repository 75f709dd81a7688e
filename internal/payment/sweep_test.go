package payment

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/punchamoorthee/paysettle/internal/domain"
	"github.com/punchamoorthee/paysettle/internal/models"
	"github.com/punchamoorthee/paysettle/internal/store"
)

func seedPayment(t *testing.T, s *store.MemoryPayments, status domain.PaymentStatus, age time.Duration, attempts int) domain.Payment {
	t.Helper()
	at := time.Now().UTC().Add(-age)
	p := domain.Payment{
		ID:              uuid.New(),
		Amount:          dec("25.00"),
		Status:          status,
		CallbackURL:     "http://cb.local/hook",
		PayerID:         "alice",
		PublishAttempts: attempts,
		CreatedAt:       at,
		UpdatedAt:       at,
	}
	if err := s.Insert(context.Background(), p); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	return p
}

func TestSweepRepublishesOnlyStaleCreated(t *testing.T) {
	t.Parallel()
	c, s, pub, _ := newTestCoordinator(Config{SweepInterval: time.Second})

	stuck := seedPayment(t, s, domain.StatusCreated, time.Minute, 1)
	seedPayment(t, s, domain.StatusCreated, 0, 1)
	seedPayment(t, s, domain.StatusProcessing, time.Minute, 1)
	seedPayment(t, s, domain.StatusCompleted, time.Minute, 1)
	seedPayment(t, s, domain.StatusFailed, time.Minute, 1)

	report, err := c.ReconcileStuckPayments(context.Background())
	if err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}
	if report.Scanned != 1 || report.Republished != 1 {
		t.Errorf("Expected one payment republished, got %+v", report)
	}
	if pub.count() != 1 || pub.sent[0].Key != stuck.ID.String() {
		t.Fatalf("Expected only %s to be republished", stuck.ID)
	}

	p := waitForStatus(t, c, stuck.ID, domain.StatusProcessing)
	if p.PublishAttempts != 2 {
		t.Errorf("Expected publish attempts 2, got %d", p.PublishAttempts)
	}
}

func TestSweepDoesNotRepublishTwiceWithinInterval(t *testing.T) {
	t.Parallel()
	c, s, pub, _ := newTestCoordinator(Config{SweepInterval: time.Hour})
	pub.hold = true

	seedPayment(t, s, domain.StatusCreated, 2*time.Hour, 1)
	if _, err := c.ReconcileStuckPayments(context.Background()); err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}
	report, err := c.ReconcileStuckPayments(context.Background())
	if err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}
	if report.Scanned != 0 || pub.count() != 1 {
		t.Errorf("Expected the republish to reset the interval, got %+v with %d publishes", report, pub.count())
	}
}

func TestSweepAbandonsAfterMaxAttempts(t *testing.T) {
	t.Parallel()
	c, s, pub, n := newTestCoordinator(Config{SweepInterval: time.Second, MaxPublishAttempts: 3})

	spent := seedPayment(t, s, domain.StatusCreated, time.Minute, 3)
	retry := seedPayment(t, s, domain.StatusCreated, time.Minute, 2)

	report, err := c.ReconcileStuckPayments(context.Background())
	if err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}
	if report.Abandoned != 1 || report.Republished != 1 {
		t.Errorf("Expected one abandoned and one republished, got %+v", report)
	}

	p, _ := c.Get(context.Background(), spent.ID)
	if p.Status != domain.StatusFailed {
		t.Errorf("Expected abandoned payment FAILED, got %s", p.Status)
	}
	if n.count() != 1 || n.notified[0].ID != spent.ID {
		t.Errorf("Expected one FAILED callback for %s", spent.ID)
	}
	if pub.count() != 1 || pub.sent[0].Key != retry.ID.String() {
		t.Errorf("Expected only %s to be republished", retry.ID)
	}
}

func TestAbandonedPaymentIgnoresLateHoldSuccess(t *testing.T) {
	t.Parallel()
	c, s, _, n := newTestCoordinator(Config{SweepInterval: time.Second, MaxPublishAttempts: 2})

	spent := seedPayment(t, s, domain.StatusCreated, time.Minute, 2)
	if _, err := c.ReconcileStuckPayments(context.Background()); err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}

	// one of the queued requests is still held successfully afterwards
	commission := models.Money{Decimal: dec("0.25")}
	err := c.ApplyHoldResponse(context.Background(), models.HoldResponse{
		PaymentID:  spent.ID,
		Success:    true,
		Commission: &commission,
	})
	if err != nil {
		t.Fatalf("ApplyHoldResponse failed: %v", err)
	}

	p, _ := c.Get(context.Background(), spent.ID)
	if p.Status != domain.StatusFailed {
		t.Errorf("Expected abandoned payment to stay FAILED, got %s", p.Status)
	}
	if n.count() != 1 {
		t.Errorf("Expected only the abandonment callback, got %d", n.count())
	}
}

func TestSweepRepublishFailureKeepsPaymentCreated(t *testing.T) {
	t.Parallel()
	c, s, pub, n := newTestCoordinator(Config{SweepInterval: time.Second})
	pub.hold = true

	stuck := seedPayment(t, s, domain.StatusCreated, time.Minute, 1)
	if _, err := c.ReconcileStuckPayments(context.Background()); err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}
	pub.releaseAll(domain.ErrMessagingFailure)

	p, _ := c.Get(context.Background(), stuck.ID)
	if p.Status != domain.StatusCreated {
		t.Errorf("Expected payment to stay CREATED, got %s", p.Status)
	}
	if n.count() != 0 {
		t.Errorf("Expected no callback, got %d", n.count())
	}
}

func TestSweeperRunStopsOnCancel(t *testing.T) {
	t.Parallel()
	c, s, pub, _ := newTestCoordinator(Config{SweepInterval: 10 * time.Millisecond})
	seedPayment(t, s, domain.StatusCreated, time.Minute, 1)

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		NewSweeper(c).Run(ctx)
		close(stopped)
	}()

	deadline := time.Now().Add(5 * time.Second)
	for pub.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if pub.count() == 0 {
		t.Fatal("Sweeper never republished the stuck payment")
	}

	cancel()
	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("Sweeper did not stop")
	}
}
