package callback

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/punchamoorthee/paysettle/internal/domain"
	"github.com/punchamoorthee/paysettle/internal/retry"
)

var fast = retry.Backoff{Attempts: 3, Initial: time.Millisecond, Multiplier: 2}

func payment(url string) domain.Payment {
	return domain.Payment{
		ID:          uuid.New(),
		Amount:      decimal.RequireFromString("100.00"),
		Status:      domain.StatusCompleted,
		CallbackURL: url,
		PayerID:     "alice",
	}
}

func drain(t *testing.T, n *Notifier) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := n.Close(ctx); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
}

func TestNotifyPostsPayload(t *testing.T) {
	t.Parallel()

	type body struct {
		ID      string          `json:"id"`
		Status  string          `json:"status"`
		Amount  json.RawMessage `json:"amount"`
		PayerID string          `json:"payerId"`
	}
	got := make(chan body, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("Expected POST, got %s", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Expected application/json, got %q", ct)
		}
		var b body
		if err := json.NewDecoder(r.Body).Decode(&b); err != nil {
			t.Errorf("Bad callback body: %v", err)
		}
		got <- b
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	n := New(Options{Workers: 1, Backoff: fast})
	p := payment(srv.URL)
	n.Notify(context.Background(), p)
	drain(t, n)

	b := <-got
	if b.ID != p.ID.String() || b.Status != "COMPLETED" || b.PayerID != "alice" || string(b.Amount) != "100.00" {
		t.Errorf("Unexpected callback body %+v", b)
	}
}

func TestNotifyRetriesUntilSuccess(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := New(Options{Workers: 1, Backoff: fast})
	n.Notify(context.Background(), payment(srv.URL))
	drain(t, n)

	if hits.Load() != 3 {
		t.Errorf("Expected 3 attempts, got %d", hits.Load())
	}
}

func TestNotifyGivesUpAfterThreeAttempts(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	n := New(Options{Workers: 2, Backoff: fast})
	n.Notify(context.Background(), payment(srv.URL))
	drain(t, n)

	if hits.Load() != 3 {
		t.Errorf("Expected exactly 3 attempts, got %d", hits.Load())
	}
}

func TestNotifyDoesNotBlockWhenQueueIsFull(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()

	n := New(Options{Workers: 1, QueueSize: 1, Backoff: retry.Backoff{Attempts: 1}})

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			n.Notify(context.Background(), payment(srv.URL))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Notify blocked on a full queue")
	}
	close(release)
	drain(t, n)
}

func TestNotifyAfterCloseIsIgnored(t *testing.T) {
	t.Parallel()
	n := New(Options{Workers: 1, Backoff: fast})
	drain(t, n)
	n.Notify(context.Background(), payment("http://127.0.0.1:1"))
}
