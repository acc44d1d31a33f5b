package api

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/punchamoorthee/atelierops/internal/service"
)

type checkoutRequest struct {
	BuyerID       int64  `json:"buyer_id"`
	AmountTokens  int64  `json:"amount_tokens"`
	PricePerToken string `json:"price_per_token"`
	Provider      string `json:"provider"`
	OrderRef      string `json:"order_ref"`
}

func (h *Handler) CheckoutHandler(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if !decodeBody(w, r, &req, "POST", "/checkout") {
		return
	}
	if req.AmountTokens <= 0 {
		respondWithError(w, http.StatusUnprocessableEntity, "amount_tokens must be positive", "POST", "/checkout")
		return
	}
	if req.Provider == "" {
		respondWithError(w, http.StatusUnprocessableEntity, "provider required", "POST", "/checkout")
		return
	}

	p, err := h.purchases.Checkout(r.Context(), req.BuyerID, req.AmountTokens, req.PricePerToken, req.Provider, req.OrderRef)
	if err != nil {
		h.respondDomainError(w, err, "POST", "/checkout")
		return
	}
	respondWithJSON(w, http.StatusCreated, p, "POST", "/checkout")
}

type paymentWebhookRequest struct {
	PaymentKey    string `json:"payment_key"`
	OrderRef      string `json:"order_ref"`
	AmountTokens  int64  `json:"amount_tokens"`
	PricePerToken string `json:"price_per_token"`
	BuyerID       int64  `json:"buyer_id"`
}

// PaymentWebhookHandler settles a provider payment. Deliveries are
// at-least-once; a replayed key returns 200 with the already-settled purchase
// instead of crediting twice.
func (h *Handler) PaymentWebhookHandler(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(httpRequestDuration.WithLabelValues("POST", "/webhooks/payment"))
	defer timer.ObserveDuration()

	var req paymentWebhookRequest
	if !decodeBody(w, r, &req, "POST", "/webhooks/payment") {
		return
	}
	if req.PaymentKey == "" {
		respondWithError(w, http.StatusUnprocessableEntity, "payment_key required", "POST", "/webhooks/payment")
		return
	}
	if req.AmountTokens <= 0 {
		respondWithError(w, http.StatusUnprocessableEntity, "amount_tokens must be positive", "POST", "/webhooks/payment")
		return
	}

	p, duplicate, err := h.purchases.SettleWebhook(r.Context(), service.PaymentWebhook{
		PaymentKey:    req.PaymentKey,
		OrderRef:      req.OrderRef,
		AmountTokens:  req.AmountTokens,
		PricePerToken: req.PricePerToken,
		BuyerID:       req.BuyerID,
	})
	if err != nil {
		h.respondDomainError(w, err, "POST", "/webhooks/payment")
		return
	}
	if duplicate {
		respondWithJSON(w, http.StatusOK, p, "POST", "/webhooks/payment")
		return
	}
	respondWithJSON(w, http.StatusCreated, p, "POST", "/webhooks/payment")
}
