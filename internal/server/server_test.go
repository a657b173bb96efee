package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridianbank/transferauth/internal/config"
)

func testConfig() *config.Config {
	return &config.Config{
		Port:              "0",
		Env:               "development",
		LogLevel:          "error",
		KafkaTopic:        config.DefaultKafkaTopic,
		HighRiskThreshold: config.DefaultHighRiskThreshold,
		TwoFactorScore:    config.DefaultTwoFactorScore,
		TwoFactorAmount:   decimal.RequireFromString(config.DefaultTwoFactorAmount),
		ApprovalCeiling:   decimal.RequireFromString(config.DefaultApprovalCeiling),
		ChallengeTTL:      config.DefaultChallengeTTL,
		ApprovalSLA:       config.DefaultApprovalSLA,
		SweepInterval:     config.DefaultSweepInterval,
		IdempotencyTTL:    config.DefaultIdempotencyTTL,
	}
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	srv, err := New(testConfig())
	require.NoError(t, err)
	return srv
}

func do(srv *Server, method, path string, body any) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		payload, _ := json.Marshal(body)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)
	return w
}

func TestHealthEndpoints(t *testing.T) {
	srv := newTestServer(t)

	w := do(srv, http.MethodGet, "/health/live", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	// Not ready until Run flips the flag.
	w = do(srv, http.MethodGet, "/health/ready", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	srv.ready.Store(true)
	w = do(srv, http.MethodGet, "/health/ready", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHealth_SchedulerDownDegrades(t *testing.T) {
	srv := newTestServer(t)

	// Scheduler has not been started.
	w := do(srv, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "degraded", resp.Status)
}

func TestRequestIDPropagation(t *testing.T) {
	srv := newTestServer(t)

	w := do(srv, http.MethodGet, "/health/live", nil)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	req := httptest.NewRequest(http.MethodGet, "/health/live", nil)
	req.Header.Set("X-Request-ID", "req_fixed")
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	assert.Equal(t, "req_fixed", rec.Header().Get("X-Request-ID"))
}

func TestSubmitOverHTTP_NoRulesRequiresApproval(t *testing.T) {
	srv := newTestServer(t)

	// With no STP rules the evaluator fails safe to review.
	w := do(srv, http.MethodPost, "/v1/transfers", map[string]any{
		"requesterId":        "cust-http",
		"amount":             "100",
		"currency":           "EUR",
		"destinationAccount": "DE89370400440532013000",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var resp struct {
		TransferID     string `json:"transferId"`
		State          string `json:"state"`
		RequiresAction string `json:"requiresAction"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "pending_approval", resp.State)
	assert.Equal(t, "approval", resp.RequiresAction)
}

func TestSubmitOverHTTP_RuleEnablesStraightThrough(t *testing.T) {
	srv := newTestServer(t)

	w := do(srv, http.MethodPost, "/v1/admin/rules", map[string]any{
		"entityType": "transfer",
		"name":       "small-amounts",
		"priority":   1,
		"condition": map[string]any{
			"type":   "amount_below",
			"params": map[string]any{"max": "1000000"},
		},
		"action": "ALLOW_STP",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = do(srv, http.MethodPost, "/v1/transfers", map[string]any{
		"requesterId":        "cust-http",
		"amount":             "100",
		"currency":           "EUR",
		"destinationAccount": "DE89370400440532013000",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var resp struct {
		TransferID string `json:"transferId"`
		State      string `json:"state"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "completed", resp.State)

	// Status endpoint sees the same record.
	w = do(srv, http.MethodGet, "/v1/transfers/"+resp.TransferID, nil)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestSubmitOverHTTP_ValidationFailure(t *testing.T) {
	srv := newTestServer(t)

	w := do(srv, http.MethodPost, "/v1/transfers", map[string]any{
		"requesterId":        "cust-http",
		"amount":             "-5",
		"currency":           "EUR",
		"destinationAccount": "DE89370400440532013000",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestIdempotencyKeyHeaderReplays(t *testing.T) {
	srv := newTestServer(t)

	body := map[string]any{
		"requesterId":        "cust-http",
		"amount":             "100",
		"currency":           "EUR",
		"destinationAccount": "DE89370400440532013000",
	}
	payload, _ := json.Marshal(body)

	send := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/v1/transfers", bytes.NewReader(payload))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Idempotency-Key", "key-http-1")
		w := httptest.NewRecorder()
		srv.Router().ServeHTTP(w, req)
		return w
	}

	first := send()
	require.Equal(t, http.StatusCreated, first.Code)
	var a struct {
		TransferID string `json:"transferId"`
	}
	require.NoError(t, json.Unmarshal(first.Body.Bytes(), &a))

	second := send()
	require.Equal(t, http.StatusOK, second.Code, "replays return 200, not 201")
	var b struct {
		TransferID string `json:"transferId"`
		Replayed   bool   `json:"replayed"`
	}
	require.NoError(t, json.Unmarshal(second.Body.Bytes(), &b))
	assert.True(t, b.Replayed)
	assert.Equal(t, a.TransferID, b.TransferID)
}
