package webhook_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/w3f/ack-escalation/internal/alertmodel"
	"github.com/w3f/ack-escalation/internal/metrics"
	"github.com/w3f/ack-escalation/internal/store/memory"
	"github.com/w3f/ack-escalation/internal/webhook"
)

type fakeChatIngester struct {
	ok  bool
	err error
}

func (f *fakeChatIngester) Ingest(_ string, _ alertmodel.User, _ string) (bool, error) {
	return f.ok, f.err
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newHandler(t *testing.T, chat webhook.ChatIngester) *webhook.Handler {
	t.Helper()
	h, err := webhook.New(webhook.HandlerConfig{
		Store:   memory.New(discardLogger()),
		Chat:    chat,
		Logger:  discardLogger(),
		Metrics: metrics.NewHTTPMetricsWithRegisterer(prometheus.NewRegistry(), "ack_escalation_test", "http"),
	})
	require.NoError(t, err)
	return h
}

func TestHandleAlertsInsertsValidBatch(t *testing.T) {
	h := newHandler(t, nil)
	body, err := json.Marshal(map[string]any{
		"alerts": []map[string]any{
			{"labels": map[string]string{"severity": "critical", "alertname": "disk_full"}},
		},
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	h.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp["status"])
	assert.EqualValues(t, 1, resp["inserted"])
}

func TestHandleAlertsRejectsMissingRequiredLabels(t *testing.T) {
	h := newHandler(t, nil)
	body, err := json.Marshal(map[string]any{
		"alerts": []map[string]any{{"labels": map[string]string{}}},
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	h.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleAlertsRejectsMalformedJSON(t *testing.T) {
	h := newHandler(t, nil)
	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader([]byte("{not json")))
	rec := httptest.NewRecorder()
	h.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestChatCallbackDisabledWithoutIngester(t *testing.T) {
	h := newHandler(t, nil)
	body, _ := json.Marshal(map[string]string{"room": "ops", "user": "alice", "text": "ack 1"})
	req := httptest.NewRequest(http.MethodPost, "/chat/callback", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	h.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestChatCallbackForwardsToIngester(t *testing.T) {
	h := newHandler(t, &fakeChatIngester{ok: true})
	body, _ := json.Marshal(map[string]string{"room": "ops", "user": "alice", "text": "ack 1"})
	req := httptest.NewRequest(http.MethodPost, "/chat/callback", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	h.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]bool
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp["accepted"])
}

func TestChatCallbackReturnsBadRequestOnIngestError(t *testing.T) {
	h := newHandler(t, &fakeChatIngester{err: errors.New("bad command")})
	body, _ := json.Marshal(map[string]string{"room": "ops", "user": "alice", "text": "garbage"})
	req := httptest.NewRequest(http.MethodPost, "/chat/callback", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	h.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthzReportsStoreHealth(t *testing.T) {
	h := newHandler(t, nil)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	h.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMetricsEndpointServesPrometheusFormat(t *testing.T) {
	h := newHandler(t, nil)
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	h.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRequestIDHeaderIsEchoedWhenProvided(t *testing.T) {
	h := newHandler(t, nil)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-Id", "test-request-id")
	rec := httptest.NewRecorder()
	h.Router().ServeHTTP(rec, req)

	assert.Equal(t, "test-request-id", rec.Header().Get("X-Request-Id"))
}
