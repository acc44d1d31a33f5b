package api

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
)

// newTestRouter wires a handler with no backing services; these tests only
// exercise request validation, which never reaches the store.
func newTestRouter() *mux.Router {
	h := &Handler{logger: testLoggerDiscard()}
	r := mux.NewRouter()
	r.HandleFunc("/health", h.HealthCheckHandler).Methods("GET")
	h.Routes(r)
	return r
}

func doRequest(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	newTestRouter().ServeHTTP(rec, req)
	return rec
}

func TestHealthCheck(t *testing.T) {
	rec := doRequest(t, "GET", "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestCreateAccountValidation(t *testing.T) {
	cases := []struct {
		name string
		body string
		want int
	}{
		{"malformed json", `{`, http.StatusBadRequest},
		{"missing display name", `{"role":"requester"}`, http.StatusUnprocessableEntity},
		{"unknown role", `{"display_name":"x","role":"admin"}`, http.StatusUnprocessableEntity},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			rec := doRequest(t, "POST", "/api/v1/accounts", c.body)
			assert.Equal(t, c.want, rec.Code)
		})
	}
}

func TestPathIDValidation(t *testing.T) {
	for _, path := range []string{
		"/api/v1/accounts/abc",
		"/api/v1/accounts/0",
		"/api/v1/accounts/-3",
		"/api/v1/styles/abc",
		"/api/v1/generations/abc",
	} {
		rec := doRequest(t, "GET", path, "")
		assert.Equal(t, http.StatusBadRequest, rec.Code, "path %s", path)
	}
}

func TestCreateStyleValidation(t *testing.T) {
	rec := doRequest(t, "POST", "/api/v1/styles", `{"artist_id":1,"generation_cost":25}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = doRequest(t, "POST", "/api/v1/styles", `{"artist_id":1,"name":"x","generation_cost":0}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestCheckoutValidation(t *testing.T) {
	rec := doRequest(t, "POST", "/api/v1/checkout", `{"buyer_id":1,"amount_tokens":0,"provider":"stripe"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = doRequest(t, "POST", "/api/v1/checkout", `{"buyer_id":1,"amount_tokens":10}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestPaymentWebhookValidation(t *testing.T) {
	rec := doRequest(t, "POST", "/api/v1/webhooks/payment", `{"amount_tokens":10,"buyer_id":1}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = doRequest(t, "POST", "/api/v1/webhooks/payment", `{"payment_key":"k","amount_tokens":0,"buyer_id":1}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestGenerationWebhookValidation(t *testing.T) {
	rec := doRequest(t, "POST", "/api/v1/webhooks/generation/complete", `{"job_id":1}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = doRequest(t, "POST", "/api/v1/webhooks/training/complete", `{"style_id":1}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = doRequest(t, "PATCH", "/api/v1/webhooks/generation/progress", `{`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func testLoggerDiscard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
