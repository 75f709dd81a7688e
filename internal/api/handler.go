package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"

	"github.com/punchamoorthee/paysettle/internal/domain"
	"github.com/punchamoorthee/paysettle/internal/models"
)

// PayerHeader identifies the paying user until an identity layer sits in front.
const PayerHeader = "X-Payer-Id"

// Payments is what the payment API needs from the settlement coordinator.
type Payments interface {
	Create(ctx context.Context, amount decimal.Decimal, callbackURL, payer string) (domain.Payment, error)
	Get(ctx context.Context, id uuid.UUID) (domain.Payment, error)
}

type PaymentHandler struct {
	payments Payments
}

func NewPaymentHandler(p Payments) *PaymentHandler {
	return &PaymentHandler{payments: p}
}

func (h *PaymentHandler) Register(r *mux.Router) {
	apiV1 := r.PathPrefix("/api/v1").Subrouter()
	apiV1.HandleFunc("/payments", h.CreatePayment).Methods("POST")
	apiV1.HandleFunc("/payments/{id}", h.GetPayment).Methods("GET")
}

func (h *PaymentHandler) CreatePayment(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(httpRequestDuration.WithLabelValues("POST", "/payments"))
	defer timer.ObserveDuration()

	payer := r.Header.Get(PayerHeader)
	if payer == "" {
		respond(w, "POST", "/payments", http.StatusBadRequest, errorBody("Missing "+PayerHeader+" header"))
		return
	}

	var req models.CreatePaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respond(w, "POST", "/payments", http.StatusBadRequest, errorBody("Malformed JSON body"))
		return
	}

	p, err := h.payments.Create(r.Context(), req.Amount.Decimal, req.CallbackURL, payer)
	if err != nil {
		respondWithDomainError(w, "POST", "/payments", err)
		return
	}

	w.Header().Set("Location", fmt.Sprintf("/api/v1/payments/%s", p.ID))
	respond(w, "POST", "/payments", http.StatusCreated, models.NewPaymentResponse(p))
}

// GetPayment hides other payers' payments behind a 404 when the caller
// identifies itself.
func (h *PaymentHandler) GetPayment(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(httpRequestDuration.WithLabelValues("GET", "/payments/{id}"))
	defer timer.ObserveDuration()

	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		respond(w, "GET", "/payments/{id}", http.StatusBadRequest, errorBody("Malformed payment id"))
		return
	}

	p, err := h.payments.Get(r.Context(), id)
	if err != nil {
		respondWithDomainError(w, "GET", "/payments/{id}", err)
		return
	}
	if payer := r.Header.Get(PayerHeader); payer != "" && payer != p.PayerID {
		respondWithDomainError(w, "GET", "/payments/{id}", domain.ErrPaymentNotFound)
		return
	}
	respond(w, "GET", "/payments/{id}", http.StatusOK, models.NewPaymentResponse(p))
}
