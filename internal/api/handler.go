package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/punchamoorthee/atelierops/internal/domain"
	"github.com/punchamoorthee/atelierops/internal/service"
	"github.com/punchamoorthee/atelierops/internal/store"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "atelier_http_requests_total",
		Help: "Total HTTP requests processed, labeled by status code",
	}, []string{"method", "endpoint", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "atelier_http_request_duration_seconds",
		Help:    "Latency distribution of HTTP requests",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"method", "endpoint"})
)

type Handler struct {
	store       *store.Store
	ledger      *service.Ledger
	purchases   *service.PurchaseService
	generations *service.GenerationService
	styles      *service.StyleService
	notifier    *service.Notifier
	logger      *slog.Logger

	// welcomeGrant tokens are credited to every new account; zero disables.
	welcomeGrant int64
}

func NewHandler(
	st *store.Store,
	ledger *service.Ledger,
	purchases *service.PurchaseService,
	generations *service.GenerationService,
	styles *service.StyleService,
	notifier *service.Notifier,
	welcomeGrant int64,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		store:        st,
		ledger:       ledger,
		purchases:    purchases,
		generations:  generations,
		styles:       styles,
		notifier:     notifier,
		welcomeGrant: welcomeGrant,
		logger:       logger,
	}
}

// Routes wires every endpoint onto r. /health and /metrics are registered by
// the caller alongside this.
func (h *Handler) Routes(r *mux.Router) {
	v1 := r.PathPrefix("/api/v1").Subrouter()

	v1.HandleFunc("/accounts", h.CreateAccountHandler).Methods("POST")
	v1.HandleFunc("/accounts/{id}", h.GetAccountHandler).Methods("GET")
	v1.HandleFunc("/accounts/{id}/transactions", h.ListTransactionsHandler).Methods("GET")
	v1.HandleFunc("/transactions/{id}", h.GetTransactionHandler).Methods("GET")
	v1.HandleFunc("/accounts/{id}/generations", h.ListGenerationsHandler).Methods("GET")
	v1.HandleFunc("/accounts/{id}/notifications", h.ListNotificationsHandler).Methods("GET")

	v1.HandleFunc("/styles", h.CreateStyleHandler).Methods("POST")
	v1.HandleFunc("/styles/{id}", h.GetStyleHandler).Methods("GET")

	v1.HandleFunc("/checkout", h.CheckoutHandler).Methods("POST")
	v1.HandleFunc("/webhooks/payment", h.PaymentWebhookHandler).Methods("POST")

	v1.HandleFunc("/generations", h.SubmitGenerationHandler).Methods("POST")
	v1.HandleFunc("/generations/{id}", h.GetGenerationHandler).Methods("GET")

	v1.HandleFunc("/webhooks/generation/progress", h.GenerationProgressHandler).Methods("PATCH")
	v1.HandleFunc("/webhooks/generation/complete", h.GenerationCompleteHandler).Methods("POST")
	v1.HandleFunc("/webhooks/generation/failed", h.GenerationFailedHandler).Methods("POST")

	v1.HandleFunc("/webhooks/training/progress", h.TrainingProgressHandler).Methods("PATCH")
	v1.HandleFunc("/webhooks/training/complete", h.TrainingCompleteHandler).Methods("POST")
	v1.HandleFunc("/webhooks/training/failed", h.TrainingFailedHandler).Methods("POST")

	v1.HandleFunc("/notifications/{id}/read", h.MarkNotificationReadHandler).Methods("POST")
}

func (h *Handler) HealthCheckHandler(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"}, "GET", "/health")
}

// pathID parses the {id} route variable. A zero return means the response has
// already been written.
func pathID(w http.ResponseWriter, r *http.Request, method, endpoint string) int64 {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil || id <= 0 {
		respondWithError(w, http.StatusBadRequest, "Invalid id", method, endpoint)
		return 0
	}
	return id
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any, method, endpoint string) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		respondWithError(w, http.StatusBadRequest, "Malformed JSON body", method, endpoint)
		return false
	}
	return true
}

// pageParams reads ?cursor= and ?limit= for list endpoints.
func pageParams(r *http.Request) (string, int) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	return q.Get("cursor"), limit
}

// respondDomainError maps service sentinels to HTTP statuses.
func (h *Handler) respondDomainError(w http.ResponseWriter, err error, method, endpoint string) {
	switch {
	case errors.Is(err, domain.ErrAccountNotFound),
		errors.Is(err, domain.ErrStyleNotFound),
		errors.Is(err, domain.ErrJobNotFound),
		errors.Is(err, domain.ErrPurchaseNotFound),
		errors.Is(err, domain.ErrTransactionNotFound),
		errors.Is(err, domain.ErrNotificationNotFound):
		respondWithError(w, http.StatusNotFound, err.Error(), method, endpoint)
	case errors.Is(err, domain.ErrInsufficientBalance):
		respondWithError(w, http.StatusPaymentRequired, "Insufficient token balance", method, endpoint)
	case errors.Is(err, domain.ErrAlreadyRefunded),
		errors.Is(err, domain.ErrNotRefundable):
		respondWithError(w, http.StatusConflict, err.Error(), method, endpoint)
	case errors.Is(err, domain.ErrStyleNotReady),
		errors.Is(err, domain.ErrBadAspectRatio),
		errors.Is(err, domain.ErrArtistRequired),
		errors.Is(err, domain.ErrNonPositiveAmount):
		respondWithError(w, http.StatusUnprocessableEntity, err.Error(), method, endpoint)
	case errors.Is(err, domain.ErrDispatchFailed):
		respondWithError(w, http.StatusBadGateway,
			"Generation could not be dispatched; tokens were refunded", method, endpoint)
	case errors.Is(err, store.ErrBadCursor):
		respondWithError(w, http.StatusBadRequest, "Invalid cursor", method, endpoint)
	default:
		h.logger.Error("request failed", "method", method, "endpoint", endpoint, "error", err)
		respondWithError(w, http.StatusInternalServerError, "Internal Server Error", method, endpoint)
	}
}

func respondWithError(w http.ResponseWriter, code int, message, method, endpoint string) {
	respondWithJSON(w, code, map[string]string{"error": message}, method, endpoint)
}

func respondWithJSON(w http.ResponseWriter, code int, payload any, method, endpoint string) {
	httpRequestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(code)).Inc()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if payload != nil {
		json.NewEncoder(w).Encode(payload) //nolint:errcheck
	}
}

// page is the envelope for cursor-paginated list responses.
type page[T any] struct {
	Items      []T    `json:"items"`
	NextCursor string `json:"next_cursor,omitempty"`
}
