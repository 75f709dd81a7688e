package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/punchamoorthee/paysettle/internal/bus"
	"github.com/punchamoorthee/paysettle/internal/domain"
	"github.com/punchamoorthee/paysettle/internal/ledger"
	"github.com/punchamoorthee/paysettle/internal/payment"
	"github.com/punchamoorthee/paysettle/internal/store"
)

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, domain.Payment) {}

func newPaymentRouter() *mux.Router {
	c := payment.NewCoordinator(store.NewMemoryPayments(), bus.NewMemoryBus(1), nopNotifier{}, payment.Config{})
	r := mux.NewRouter()
	NewPaymentHandler(c).Register(r)
	return r
}

func newBalanceRouter() *mux.Router {
	r := mux.NewRouter()
	NewBalanceHandler(ledger.New(store.NewMemoryLedger(), domain.DefaultCommissionRate)).Register(r)
	return r
}

func do(r http.Handler, method, path, payer, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if payer != "" {
		req.Header.Set(PayerHeader, payer)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestCreatePaymentHandler(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		payer string
		body  string
		want  int
	}{
		{"created", "alice", `{"amount":100.00,"callbackUrl":"http://cb.local/hook"}`, http.StatusCreated},
		{"string amount", "alice", `{"amount":"12.50","callbackUrl":"https://cb.local/hook"}`, http.StatusCreated},
		{"missing payer", "", `{"amount":100.00,"callbackUrl":"http://cb.local/hook"}`, http.StatusBadRequest},
		{"malformed json", "alice", `{"amount":`, http.StatusBadRequest},
		{"zero amount", "alice", `{"amount":0,"callbackUrl":"http://cb.local/hook"}`, http.StatusUnprocessableEntity},
		{"bad callback", "alice", `{"amount":1.00,"callbackUrl":"not a url"}`, http.StatusUnprocessableEntity},
	}

	r := newPaymentRouter()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(r, "POST", "/api/v1/payments", tt.payer, tt.body)
			if rec.Code != tt.want {
				t.Fatalf("Expected %d, got %d: %s", tt.want, rec.Code, rec.Body)
			}
			if tt.want != http.StatusCreated {
				return
			}
			var got map[string]any
			if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
				t.Fatalf("Bad response body: %v", err)
			}
			if got["status"] != "CREATED" || got["payerId"] != tt.payer {
				t.Errorf("Unexpected payment %v", got)
			}
			if loc := rec.Header().Get("Location"); loc != "/api/v1/payments/"+got["id"].(string) {
				t.Errorf("Unexpected Location %q", loc)
			}
		})
	}
}

func TestGetPaymentHandler(t *testing.T) {
	t.Parallel()
	r := newPaymentRouter()

	rec := do(r, "POST", "/api/v1/payments", "alice", `{"amount":10.00,"callbackUrl":"http://cb.local/hook"}`)
	var created map[string]any
	json.Unmarshal(rec.Body.Bytes(), &created)
	id := created["id"].(string)

	if rec := do(r, "GET", "/api/v1/payments/"+id, "alice", ""); rec.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", rec.Code)
	}
	if rec := do(r, "GET", "/api/v1/payments/"+id, "mallory", ""); rec.Code != http.StatusNotFound {
		t.Errorf("Expected another payer to get 404, got %d", rec.Code)
	}
	if rec := do(r, "GET", "/api/v1/payments/"+uuid.NewString(), "", ""); rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown id, got %d", rec.Code)
	}
	if rec := do(r, "GET", "/api/v1/payments/nope", "", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for malformed id, got %d", rec.Code)
	}
}

func TestBalanceHandlers(t *testing.T) {
	t.Parallel()
	r := newBalanceRouter()

	if rec := do(r, "GET", "/api/v1/balances/alice", "", ""); rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404 before any deposit, got %d", rec.Code)
	}

	rec := do(r, "POST", "/api/v1/balances/alice/deposits", "", `{"amount":1000.00}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("Deposit: expected 200, got %d: %s", rec.Code, rec.Body)
	}
	if want := `{"payerId":"alice","available":1000.00,"reserved":0.00}`; strings.TrimSpace(rec.Body.String()) != want {
		t.Errorf("Expected %s, got %s", want, rec.Body)
	}

	if rec := do(r, "POST", "/api/v1/balances/alice/withdrawals", "", `{"amount":2000.00}`); rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("Overdraw: expected 422, got %d", rec.Code)
	}
	if rec := do(r, "POST", "/api/v1/balances/alice/withdrawals", "", `{"amount":-1}`); rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("Negative: expected 422, got %d", rec.Code)
	}
	if rec := do(r, "POST", "/api/v1/balances/alice/withdrawals", "", `{"amount":400.00}`); rec.Code != http.StatusOK {
		t.Errorf("Withdraw: expected 200, got %d", rec.Code)
	}

	rec = do(r, "POST", "/api/v1/balances/alice/releases", "", `{"amount":5.00}`)
	if rec.Code != http.StatusOK || strings.TrimSpace(rec.Body.String()) != `{"released":false}` {
		t.Errorf("Release with nothing reserved: got %d %s", rec.Code, rec.Body)
	}

	rec = do(r, "GET", "/api/v1/balances/alice/entries", "", "")
	var entries []map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &entries); err != nil || len(entries) != 2 {
		t.Fatalf("Expected two entries, got %s", rec.Body)
	}

	rec = do(r, "GET", "/api/v1/balances/alice/audit", "", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"available":600.00`) {
		t.Errorf("Audit: got %d %s", rec.Code, rec.Body)
	}
}

func TestHealthCheckHandler(t *testing.T) {
	t.Parallel()
	rec := httptest.NewRecorder()
	HealthCheckHandler(rec, httptest.NewRequest("GET", "/health", nil))
	if rec.Code != http.StatusOK || strings.TrimSpace(rec.Body.String()) != `{"status":"ok"}` {
		t.Errorf("Unexpected health response %d %s", rec.Code, rec.Body)
	}
}
