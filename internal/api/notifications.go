package api

import (
	"net/http"

	"github.com/punchamoorthee/atelierops/internal/domain"
)

func (h *Handler) ListNotificationsHandler(w http.ResponseWriter, r *http.Request) {
	id := pathID(w, r, "GET", "/accounts/{id}/notifications")
	if id == 0 {
		return
	}
	cursor, limit := pageParams(r)
	notes, next, err := h.store.ListNotifications(r.Context(), id, cursor, limit)
	if err != nil {
		h.respondDomainError(w, err, "GET", "/accounts/{id}/notifications")
		return
	}
	respondWithJSON(w, http.StatusOK,
		page[domain.Notification]{Items: notes, NextCursor: next},
		"GET", "/accounts/{id}/notifications")
}

func (h *Handler) MarkNotificationReadHandler(w http.ResponseWriter, r *http.Request) {
	id := pathID(w, r, "POST", "/notifications/{id}/read")
	if id == 0 {
		return
	}
	if err := h.notifier.MarkRead(r.Context(), id); err != nil {
		h.respondDomainError(w, err, "POST", "/notifications/{id}/read")
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"}, "POST", "/notifications/{id}/read")
}
