package api

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/punchamoorthee/atelierops/internal/domain"
	"github.com/punchamoorthee/atelierops/internal/service"
)

type submitGenerationRequest struct {
	RequesterID int64    `json:"requester_id"`
	StyleID     int64    `json:"style_id"`
	PromptTags  []string `json:"prompt_tags"`
	AspectRatio string   `json:"aspect_ratio"`
}

func (h *Handler) SubmitGenerationHandler(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(httpRequestDuration.WithLabelValues("POST", "/generations"))
	defer timer.ObserveDuration()

	var req submitGenerationRequest
	if !decodeBody(w, r, &req, "POST", "/generations") {
		return
	}

	job, err := h.generations.Submit(r.Context(), service.SubmitRequest{
		RequesterID: req.RequesterID,
		StyleID:     req.StyleID,
		PromptTags:  req.PromptTags,
		AspectRatio: req.AspectRatio,
	})
	if err != nil {
		h.respondDomainError(w, err, "POST", "/generations")
		return
	}
	respondWithJSON(w, http.StatusAccepted, job, "POST", "/generations")
}

func (h *Handler) GetGenerationHandler(w http.ResponseWriter, r *http.Request) {
	id := pathID(w, r, "GET", "/generations/{id}")
	if id == 0 {
		return
	}
	job, err := h.store.GetJob(r.Context(), id)
	if err != nil {
		h.respondDomainError(w, err, "GET", "/generations/{id}")
		return
	}
	respondWithJSON(w, http.StatusOK, job, "GET", "/generations/{id}")
}

func (h *Handler) ListGenerationsHandler(w http.ResponseWriter, r *http.Request) {
	id := pathID(w, r, "GET", "/accounts/{id}/generations")
	if id == 0 {
		return
	}
	cursor, limit := pageParams(r)
	jobs, next, err := h.store.ListJobs(r.Context(), id, cursor, limit)
	if err != nil {
		h.respondDomainError(w, err, "GET", "/accounts/{id}/generations")
		return
	}
	respondWithJSON(w, http.StatusOK,
		page[domain.GenerationJob]{Items: jobs, NextCursor: next},
		"GET", "/accounts/{id}/generations")
}

type generationProgressRequest struct {
	JobID   int64   `json:"job_id"`
	Percent float64 `json:"percent"`
	Stage   string  `json:"stage"`
}

func (h *Handler) GenerationProgressHandler(w http.ResponseWriter, r *http.Request) {
	var req generationProgressRequest
	if !decodeBody(w, r, &req, "PATCH", "/webhooks/generation/progress") {
		return
	}
	if err := h.generations.Progress(r.Context(), req.JobID, req.Percent, req.Stage); err != nil {
		h.respondDomainError(w, err, "PATCH", "/webhooks/generation/progress")
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"}, "PATCH", "/webhooks/generation/progress")
}

type generationCompleteRequest struct {
	JobID     int64  `json:"job_id"`
	ResultRef string `json:"result_ref"`
}

func (h *Handler) GenerationCompleteHandler(w http.ResponseWriter, r *http.Request) {
	var req generationCompleteRequest
	if !decodeBody(w, r, &req, "POST", "/webhooks/generation/complete") {
		return
	}
	if req.ResultRef == "" {
		respondWithError(w, http.StatusUnprocessableEntity, "result_ref required", "POST", "/webhooks/generation/complete")
		return
	}
	job, err := h.generations.Complete(r.Context(), req.JobID, req.ResultRef)
	if err != nil {
		h.respondDomainError(w, err, "POST", "/webhooks/generation/complete")
		return
	}
	respondWithJSON(w, http.StatusOK, job, "POST", "/webhooks/generation/complete")
}

type generationFailedRequest struct {
	JobID        int64  `json:"job_id"`
	ErrorCode    string `json:"error_code"`
	ErrorMessage string `json:"error_message"`
}

func (h *Handler) GenerationFailedHandler(w http.ResponseWriter, r *http.Request) {
	var req generationFailedRequest
	if !decodeBody(w, r, &req, "POST", "/webhooks/generation/failed") {
		return
	}
	if err := h.generations.Fail(r.Context(), req.JobID, req.ErrorCode, req.ErrorMessage); err != nil {
		h.respondDomainError(w, err, "POST", "/webhooks/generation/failed")
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"}, "POST", "/webhooks/generation/failed")
}
