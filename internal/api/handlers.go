package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shopspring/decimal"

	"github.com/punchamoorthee/paysettle/internal/domain"
	"github.com/punchamoorthee/paysettle/internal/models"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total HTTP requests processed, labeled by status code",
	}, []string{"method", "endpoint", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Latency distribution of HTTP requests",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"method", "endpoint"})
)

// Ledger is what the balance API needs from the balance ledger.
type Ledger interface {
	Balance(ctx context.Context, payer string) (domain.Balance, error)
	Entries(ctx context.Context, payer string) ([]domain.Transaction, error)
	Deposit(ctx context.Context, payer string, amount decimal.Decimal) (domain.Balance, error)
	Withdraw(ctx context.Context, payer string, amount decimal.Decimal) (domain.Balance, error)
	Release(ctx context.Context, payer string, amount decimal.Decimal, paymentID *uuid.UUID) (bool, error)
	Audit(ctx context.Context, payer string) (domain.Balance, error)
}

type BalanceHandler struct {
	ledger Ledger
}

func NewBalanceHandler(l Ledger) *BalanceHandler {
	return &BalanceHandler{ledger: l}
}

func (h *BalanceHandler) Register(r *mux.Router) {
	const base = "/api/v1/balances/{payer}"
	r.HandleFunc(base, h.GetBalanceHandler).Methods("GET")
	r.HandleFunc(base+"/entries", h.GetEntriesHandler).Methods("GET")
	r.HandleFunc(base+"/deposits", h.DepositHandler).Methods("POST")
	r.HandleFunc(base+"/withdrawals", h.WithdrawHandler).Methods("POST")
	r.HandleFunc(base+"/releases", h.ReleaseHandler).Methods("POST")
	r.HandleFunc(base+"/audit", h.AuditHandler).Methods("GET")
}

func HealthCheckHandler(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *BalanceHandler) GetBalanceHandler(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/balances/{payer}"
	timer := prometheus.NewTimer(httpRequestDuration.WithLabelValues("GET", endpoint))
	defer timer.ObserveDuration()

	bal, err := h.ledger.Balance(r.Context(), mux.Vars(r)["payer"])
	if err != nil {
		respondWithDomainError(w, "GET", endpoint, err)
		return
	}
	respond(w, "GET", endpoint, http.StatusOK, models.NewBalanceResponse(bal))
}

func (h *BalanceHandler) GetEntriesHandler(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/balances/{payer}/entries"
	timer := prometheus.NewTimer(httpRequestDuration.WithLabelValues("GET", endpoint))
	defer timer.ObserveDuration()

	entries, err := h.ledger.Entries(r.Context(), mux.Vars(r)["payer"])
	if err != nil {
		respondWithDomainError(w, "GET", endpoint, err)
		return
	}
	respond(w, "GET", endpoint, http.StatusOK, models.NewEntryResponses(entries))
}

func (h *BalanceHandler) DepositHandler(w http.ResponseWriter, r *http.Request) {
	h.move(w, r, "/balances/{payer}/deposits", h.ledger.Deposit)
}

func (h *BalanceHandler) WithdrawHandler(w http.ResponseWriter, r *http.Request) {
	h.move(w, r, "/balances/{payer}/withdrawals", h.ledger.Withdraw)
}

func (h *BalanceHandler) move(w http.ResponseWriter, r *http.Request, endpoint string,
	fn func(context.Context, string, decimal.Decimal) (domain.Balance, error)) {
	timer := prometheus.NewTimer(httpRequestDuration.WithLabelValues("POST", endpoint))
	defer timer.ObserveDuration()

	var req models.AmountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respond(w, "POST", endpoint, http.StatusBadRequest, errorBody("Malformed JSON body"))
		return
	}

	bal, err := fn(r.Context(), mux.Vars(r)["payer"], req.Amount.Decimal)
	if err != nil {
		respondWithDomainError(w, "POST", endpoint, err)
		return
	}
	respond(w, "POST", endpoint, http.StatusOK, models.NewBalanceResponse(bal))
}

func (h *BalanceHandler) ReleaseHandler(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/balances/{payer}/releases"
	timer := prometheus.NewTimer(httpRequestDuration.WithLabelValues("POST", endpoint))
	defer timer.ObserveDuration()

	var req models.AmountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respond(w, "POST", endpoint, http.StatusBadRequest, errorBody("Malformed JSON body"))
		return
	}

	released, err := h.ledger.Release(r.Context(), mux.Vars(r)["payer"], req.Amount.Decimal, req.PaymentID)
	if err != nil {
		respondWithDomainError(w, "POST", endpoint, err)
		return
	}
	respond(w, "POST", endpoint, http.StatusOK, map[string]bool{"released": released})
}

func (h *BalanceHandler) AuditHandler(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/balances/{payer}/audit"
	timer := prometheus.NewTimer(httpRequestDuration.WithLabelValues("GET", endpoint))
	defer timer.ObserveDuration()

	bal, err := h.ledger.Audit(r.Context(), mux.Vars(r)["payer"])
	if err != nil {
		respondWithDomainError(w, "GET", endpoint, err)
		return
	}
	respond(w, "GET", endpoint, http.StatusOK, map[string]any{
		"consistent": true,
		"balance":    models.NewBalanceResponse(bal),
	})
}

// respondWithDomainError maps the domain's sentinel errors onto HTTP statuses.
func respondWithDomainError(w http.ResponseWriter, method, endpoint string, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidAmount), errors.Is(err, domain.ErrInvalidCallback):
		respond(w, method, endpoint, http.StatusUnprocessableEntity, errorBody(err.Error()))
	case errors.Is(err, domain.ErrInsufficientBalance):
		respond(w, method, endpoint, http.StatusUnprocessableEntity, errorBody("Insufficient balance"))
	case errors.Is(err, domain.ErrMissingPayer):
		respond(w, method, endpoint, http.StatusBadRequest, errorBody(err.Error()))
	case errors.Is(err, domain.ErrBalanceNotFound):
		respond(w, method, endpoint, http.StatusNotFound, errorBody("Balance not found"))
	case errors.Is(err, domain.ErrPaymentNotFound):
		respond(w, method, endpoint, http.StatusNotFound, errorBody("Payment not found"))
	case errors.Is(err, domain.ErrLedgerInconsistency):
		respond(w, method, endpoint, http.StatusConflict, errorBody(err.Error()))
	default:
		respond(w, method, endpoint, http.StatusInternalServerError, errorBody("Internal Server Error"))
	}
}

func respond(w http.ResponseWriter, method, endpoint string, code int, payload any) {
	httpRequestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(code)).Inc()
	respondWithJSON(w, code, payload)
}

func errorBody(message string) map[string]string {
	return map[string]string{"error": message}
}

func respondWithJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}
