package stp

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRouter(store Store) (*gin.Engine, *Evaluator) {
	gin.SetMode(gin.TestMode)
	evaluator := NewEvaluator(store).WithCacheTTL(time.Hour)
	router := gin.New()
	NewHandler(store, evaluator).RegisterRoutes(router.Group("/admin"))
	return router, evaluator
}

func postJSON(router *gin.Engine, path string, body any) *httptest.ResponseRecorder {
	payload, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func validRuleBody() map[string]any {
	return map[string]any{
		"entityType": "transfer",
		"name":       "small-domestic",
		"priority":   5,
		"condition": map[string]any{
			"type":   "amount_below",
			"params": map[string]any{"max": "500"},
		},
		"action": "ALLOW_STP",
	}
}

func TestCreateRule_Succeeds(t *testing.T) {
	store := NewMemoryStore()
	router, _ := newTestRouter(store)

	w := postJSON(router, "/admin/rules", validRuleBody())
	require.Equal(t, http.StatusCreated, w.Code)

	var created Rule
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.NotEmpty(t, created.ID)
	assert.True(t, created.Active, "rules default to active")

	stored, err := store.Get(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, "small-domestic", stored.Name)
}

func TestCreateRule_RejectsBadCondition(t *testing.T) {
	store := NewMemoryStore()
	router, _ := newTestRouter(store)

	body := validRuleBody()
	body["condition"] = map[string]any{
		"type":   "amount_below",
		"params": map[string]any{"max": "not-a-number"},
	}

	w := postJSON(router, "/admin/rules", body)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCreateRule_DuplicateNameConflicts(t *testing.T) {
	store := NewMemoryStore()
	router, _ := newTestRouter(store)

	require.Equal(t, http.StatusCreated, postJSON(router, "/admin/rules", validRuleBody()).Code)
	assert.Equal(t, http.StatusConflict, postJSON(router, "/admin/rules", validRuleBody()).Code)
}

func TestCreateRule_InvalidatesEvaluatorCache(t *testing.T) {
	store := NewMemoryStore()
	router, evaluator := newTestRouter(store)
	ctx := context.Background()

	// Warm the cache with the empty rule set.
	out, err := evaluator.Evaluate(ctx, "transfer", lowAmountAttrs())
	require.NoError(t, err)
	require.Equal(t, ActionRequireReview, out.Action)

	require.Equal(t, http.StatusCreated, postJSON(router, "/admin/rules", validRuleBody()).Code)

	// Without invalidation the hour-long TTL would still serve the empty set.
	out, err = evaluator.Evaluate(ctx, "transfer", lowAmountAttrs())
	require.NoError(t, err)
	assert.Equal(t, ActionAllowSTP, out.Action)
}

func TestGetRule_NotFound(t *testing.T) {
	router, _ := newTestRouter(NewMemoryStore())

	req := httptest.NewRequest(http.MethodGet, "/admin/rules/rule_missing", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestUpdateRule_TogglesActive(t *testing.T) {
	store := NewMemoryStore()
	router, _ := newTestRouter(store)

	w := postJSON(router, "/admin/rules", validRuleBody())
	require.Equal(t, http.StatusCreated, w.Code)
	var created Rule
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))

	body := validRuleBody()
	body["active"] = false
	payload, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPut, "/admin/rules/"+created.ID, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	stored, err := store.Get(context.Background(), created.ID)
	require.NoError(t, err)
	assert.False(t, stored.Active)
}

func TestDeleteRule_RemovesRule(t *testing.T) {
	store := NewMemoryStore()
	router, _ := newTestRouter(store)

	w := postJSON(router, "/admin/rules", validRuleBody())
	require.Equal(t, http.StatusCreated, w.Code)
	var created Rule
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))

	req := httptest.NewRequest(http.MethodDelete, "/admin/rules/"+created.ID, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	_, err := store.Get(context.Background(), created.ID)
	assert.ErrorIs(t, err, ErrRuleNotFound)
}
