package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomevault/tomevault/internal/middleware"
)

func TestRespondEnvelope(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/demo", func(c *gin.Context) {
		c.Set(middleware.ContextStartTime, time.Now())
		respond(c, http.StatusOK, gin.H{"id": "t-1"}, gin.H{"total": 3}, "")
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/demo", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Data map[string]any `json:"data"`
		Meta struct {
			Status     int            `json:"status"`
			Total      int            `json:"total"`
			Timestamps map[string]any `json:"timestamps"`
		} `json:"meta"`
		Message *string `json:"message"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))

	assert.Equal(t, "t-1", body.Data["id"])
	assert.Equal(t, http.StatusOK, body.Meta.Status)
	assert.Equal(t, 3, body.Meta.Total)
	assert.Contains(t, body.Meta.Timestamps, "timestamp")
	assert.Contains(t, body.Meta.Timestamps, "response_time_ms")
	assert.Nil(t, body.Message, "empty message is omitted")
}

func TestRespondResourceTimestampsMoveIntoMeta(t *testing.T) {
	gin.SetMode(gin.TestMode)
	created := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	r := gin.New()
	r.GET("/demo", func(c *gin.Context) {
		respond(c, http.StatusCreated, gin.H{"id": "t-1"},
			gin.H{"created_at": created, "updated_at": created}, "Tome created")
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/demo", nil))

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))

	assert.Equal(t, "Tome created", body["message"])
	meta := body["meta"].(map[string]any)
	timestamps := meta["timestamps"].(map[string]any)
	assert.Contains(t, timestamps, "created_at")
	assert.Contains(t, timestamps, "updated_at")
	_, atTop := meta["created_at"]
	assert.False(t, atTop, "resource timestamps live under timestamps only")
}

func TestSummaryDaysValidation(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(middleware.ErrorHandler())
	// Validation rejects before the service is touched.
	h := NewSummaryHandler(nil)
	r.GET("/api/logs/summary", h.Summary)

	for _, raw := range []string{"0", "366", "abc", "-3"} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/logs/summary?days="+raw, nil))
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code, "days=%s", raw)
		assert.Contains(t, w.Body.String(), "days")
	}
}
