package api

import (
	"net/http"
)

type createStyleRequest struct {
	ArtistID       int64  `json:"artist_id"`
	Name           string `json:"name"`
	GenerationCost int64  `json:"generation_cost"`
}

func (h *Handler) CreateStyleHandler(w http.ResponseWriter, r *http.Request) {
	var req createStyleRequest
	if !decodeBody(w, r, &req, "POST", "/styles") {
		return
	}
	if req.Name == "" {
		respondWithError(w, http.StatusUnprocessableEntity, "name required", "POST", "/styles")
		return
	}
	if req.GenerationCost <= 0 {
		respondWithError(w, http.StatusUnprocessableEntity, "generation_cost must be positive", "POST", "/styles")
		return
	}

	st, err := h.styles.Create(r.Context(), req.ArtistID, req.Name, req.GenerationCost)
	if err != nil {
		h.respondDomainError(w, err, "POST", "/styles")
		return
	}
	respondWithJSON(w, http.StatusCreated, st, "POST", "/styles")
}

func (h *Handler) GetStyleHandler(w http.ResponseWriter, r *http.Request) {
	id := pathID(w, r, "GET", "/styles/{id}")
	if id == 0 {
		return
	}
	st, err := h.store.GetStyle(r.Context(), id)
	if err != nil {
		h.respondDomainError(w, err, "GET", "/styles/{id}")
		return
	}
	respondWithJSON(w, http.StatusOK, st, "GET", "/styles/{id}")
}

type trainingProgressRequest struct {
	StyleID int64   `json:"style_id"`
	Percent float64 `json:"percent"`
	Stage   string  `json:"stage"`
}

func (h *Handler) TrainingProgressHandler(w http.ResponseWriter, r *http.Request) {
	var req trainingProgressRequest
	if !decodeBody(w, r, &req, "PATCH", "/webhooks/training/progress") {
		return
	}
	if err := h.styles.TrainingProgress(r.Context(), req.StyleID, req.Percent, req.Stage); err != nil {
		h.respondDomainError(w, err, "PATCH", "/webhooks/training/progress")
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"}, "PATCH", "/webhooks/training/progress")
}

type trainingCompleteRequest struct {
	StyleID  int64  `json:"style_id"`
	ModelRef string `json:"model_ref"`
}

func (h *Handler) TrainingCompleteHandler(w http.ResponseWriter, r *http.Request) {
	var req trainingCompleteRequest
	if !decodeBody(w, r, &req, "POST", "/webhooks/training/complete") {
		return
	}
	if req.ModelRef == "" {
		respondWithError(w, http.StatusUnprocessableEntity, "model_ref required", "POST", "/webhooks/training/complete")
		return
	}
	if err := h.styles.TrainingComplete(r.Context(), req.StyleID, req.ModelRef); err != nil {
		h.respondDomainError(w, err, "POST", "/webhooks/training/complete")
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"}, "POST", "/webhooks/training/complete")
}

type trainingFailedRequest struct {
	StyleID      int64  `json:"style_id"`
	ErrorCode    string `json:"error_code"`
	ErrorMessage string `json:"error_message"`
}

func (h *Handler) TrainingFailedHandler(w http.ResponseWriter, r *http.Request) {
	var req trainingFailedRequest
	if !decodeBody(w, r, &req, "POST", "/webhooks/training/failed") {
		return
	}
	if err := h.styles.TrainingFailed(r.Context(), req.StyleID, req.ErrorCode, req.ErrorMessage); err != nil {
		h.respondDomainError(w, err, "POST", "/webhooks/training/failed")
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"}, "POST", "/webhooks/training/failed")
}
