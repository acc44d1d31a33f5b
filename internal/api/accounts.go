package api

import (
	"net/http"

	"github.com/punchamoorthee/atelierops/internal/domain"
)

type createAccountRequest struct {
	DisplayName string `json:"display_name"`
	Role        string `json:"role"`

	// WelcomeGrant overrides the configured signup bonus when non-nil.
	WelcomeGrant *int64 `json:"welcome_grant,omitempty"`
}

func (h *Handler) CreateAccountHandler(w http.ResponseWriter, r *http.Request) {
	var req createAccountRequest
	if !decodeBody(w, r, &req, "POST", "/accounts") {
		return
	}
	if req.DisplayName == "" {
		respondWithError(w, http.StatusUnprocessableEntity, "display_name required", "POST", "/accounts")
		return
	}
	role := domain.Role(req.Role)
	if role == "" {
		role = domain.RoleRequester
	}
	if role != domain.RoleRequester && role != domain.RoleArtist {
		respondWithError(w, http.StatusUnprocessableEntity, "role must be requester or artist", "POST", "/accounts")
		return
	}

	acc, err := h.store.CreateAccount(r.Context(), req.DisplayName, role)
	if err != nil {
		h.respondDomainError(w, err, "POST", "/accounts")
		return
	}

	grant := h.welcomeGrant
	if req.WelcomeGrant != nil {
		grant = *req.WelcomeGrant
	}
	if grant > 0 {
		if _, err := h.ledger.Grant(r.Context(), acc.ID, grant, "welcome grant"); err != nil {
			h.respondDomainError(w, err, "POST", "/accounts")
			return
		}
		acc.Balance = grant
	}

	respondWithJSON(w, http.StatusCreated, acc, "POST", "/accounts")
}

func (h *Handler) GetAccountHandler(w http.ResponseWriter, r *http.Request) {
	id := pathID(w, r, "GET", "/accounts/{id}")
	if id == 0 {
		return
	}
	acc, err := h.store.GetAccount(r.Context(), id)
	if err != nil {
		h.respondDomainError(w, err, "GET", "/accounts/{id}")
		return
	}
	respondWithJSON(w, http.StatusOK, acc, "GET", "/accounts/{id}")
}

func (h *Handler) GetTransactionHandler(w http.ResponseWriter, r *http.Request) {
	id := pathID(w, r, "GET", "/transactions/{id}")
	if id == 0 {
		return
	}
	tx, err := h.store.GetTransaction(r.Context(), id)
	if err != nil {
		h.respondDomainError(w, err, "GET", "/transactions/{id}")
		return
	}
	respondWithJSON(w, http.StatusOK, tx, "GET", "/transactions/{id}")
}

func (h *Handler) ListTransactionsHandler(w http.ResponseWriter, r *http.Request) {
	id := pathID(w, r, "GET", "/accounts/{id}/transactions")
	if id == 0 {
		return
	}
	cursor, limit := pageParams(r)
	txs, next, err := h.store.ListTransactions(r.Context(), id, cursor, limit)
	if err != nil {
		h.respondDomainError(w, err, "GET", "/accounts/{id}/transactions")
		return
	}
	respondWithJSON(w, http.StatusOK,
		page[domain.Transaction]{Items: txs, NextCursor: next},
		"GET", "/accounts/{id}/transactions")
}
