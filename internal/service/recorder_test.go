package service

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomevault/tomevault/internal/config"
	"github.com/tomevault/tomevault/internal/model"
	"github.com/tomevault/tomevault/internal/security"
)

type memStore struct {
	entries []*model.APILog
	err     error
}

func (m *memStore) Insert(ctx context.Context, entry *model.APILog) error {
	if m.err != nil {
		return m.err
	}
	m.entries = append(m.entries, entry)
	return nil
}

func testLoggingConfig() config.LoggingConfig {
	return config.LoggingConfig{
		Level:                "info",
		SlowThresholdMs:      1000,
		VerySlowThresholdMs:  5000,
		PerformanceLogging:   true,
		ResponsePreviewChars: 1000,
	}
}

func newTestRecorder(store *memStore) *Recorder {
	cfg := testLoggingConfig()
	analyzer := security.NewAnalyzer(config.SecurityConfig{BurstLimit: 60, BurstWindowSeconds: 60}, nil)
	return NewRecorder(cfg, analyzer, NewImmediateDispatcher(NewSink(cfg, store)))
}

func TestRecordProducesOneEntry(t *testing.T) {
	store := &memStore{}
	r := newTestRecorder(store)

	r.Record(context.Background(), &RecordInput{
		RequestID:  "req-1",
		Method:     "GET",
		URL:        "/api/tomes?page=2",
		Endpoint:   "/api/tomes",
		ClientIP:   "203.0.113.9",
		UserAgent:  "Mozilla/5.0",
		StatusCode: 200,
		Elapsed:    42 * time.Millisecond,
	})

	require.Len(t, store.entries, 1)
	entry := store.entries[0]
	assert.Equal(t, "req-1", entry.RequestID)
	assert.Equal(t, model.LogLevelInfo, entry.LogLevel)
	assert.Equal(t, "anonymous", entry.UserType)
	assert.InDelta(t, 42.0, entry.ResponseTimeMs, 0.01)
	assert.Nil(t, entry.ErrorMessage)
}

func TestRecordWithHandlerError(t *testing.T) {
	store := &memStore{}
	r := newTestRecorder(store)

	r.Record(context.Background(), &RecordInput{
		RequestID:  "req-err",
		Method:     "GET",
		URL:        "/api/tomes/boom",
		Endpoint:   "/api/tomes/:id",
		ClientIP:   "203.0.113.9",
		StatusCode: 500,
		Elapsed:    5 * time.Millisecond,
		Err:        errors.New("kaboom"),
		Stack:      []string{"handler.go:42", "router.go:10"},
	})

	require.Len(t, store.entries, 1)
	entry := store.entries[0]
	assert.Equal(t, model.LogLevelError, entry.LogLevel)
	require.NotNil(t, entry.ErrorMessage)
	assert.Equal(t, "kaboom", *entry.ErrorMessage)
	require.NotNil(t, entry.ErrorContext)
	assert.Equal(t, "handler.go", entry.ErrorContext.File)
	assert.Equal(t, 42, entry.ErrorContext.Line)
}

func TestRecordStoreFailureIsSwallowed(t *testing.T) {
	store := &memStore{err: errors.New("db down")}
	r := newTestRecorder(store)

	assert.NotPanics(t, func() {
		r.Record(context.Background(), &RecordInput{
			RequestID:  "req-2",
			Method:     "GET",
			URL:        "/api/tomes",
			Endpoint:   "/api/tomes",
			StatusCode: 200,
		})
	})
}

func TestDetermineLogLevel(t *testing.T) {
	cases := []struct {
		name   string
		status int
		rt     float64
		err    error
		want   string
	}{
		{"ok", 200, 10, nil, model.LogLevelInfo},
		{"client error", 404, 10, nil, model.LogLevelWarning},
		{"server error", 500, 10, nil, model.LogLevelError},
		{"handler error wins", 200, 10, errors.New("x"), model.LogLevelError},
		{"very slow", 200, 5001, nil, model.LogLevelWarning},
		{"slow but under threshold", 200, 4999, nil, model.LogLevelInfo},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, determineLogLevel(tc.status, tc.rt, tc.err, 5000))
		})
	}
}

func TestSanitizeBodyRedactsNestedKeys(t *testing.T) {
	body := []byte(`{
		"username": "elara",
		"password": "hunter2",
		"profile": {"api_key": "abc123", "city": "Duskmere"},
		"tokens": [{"token": "t1"}, {"token": "t2"}]
	}`)

	out := sanitizeBody(body)
	assert.Equal(t, "elara", out["username"])
	assert.Equal(t, model.RedactedValue, out["password"])
	profile := out["profile"].(map[string]any)
	assert.Equal(t, model.RedactedValue, profile["api_key"])
	assert.Equal(t, "Duskmere", profile["city"])
	for _, item := range out["tokens"].([]any) {
		assert.Equal(t, model.RedactedValue, item.(map[string]any)["token"])
	}
}

func TestSanitizeBodyIsIdempotent(t *testing.T) {
	body := []byte(`{"password": "hunter2", "nested": {"secret": "s", "ok": true}}`)

	once := sanitizeBody(body)
	reserialized, err := json.Marshal(once)
	require.NoError(t, err)
	twice := sanitizeBody(reserialized)

	assert.Equal(t, once, twice)
}

func TestSanitizeBodyNonJSON(t *testing.T) {
	out := sanitizeBody([]byte("plain text payload"))
	assert.Equal(t, map[string]any{"raw": "plain text payload"}, out)
}

func TestSanitizeHeaders(t *testing.T) {
	h := http.Header{}
	h.Set("Authorization", "Bearer secret-token")
	h.Set("Content-Type", "application/json")
	h.Add("Accept", "application/json")
	h.Add("Accept", "text/plain")

	out := sanitizeHeaders(h)
	assert.Equal(t, model.RedactedValue, out["authorization"])
	assert.Equal(t, "application/json", out["content-type"])
	assert.Equal(t, "application/json, text/plain", out["accept"])
}

func TestSanitizeResponseTruncatesLongBodies(t *testing.T) {
	r := newTestRecorder(&memStore{})
	long := []byte(`{"data":"` + strings.Repeat("x", 2000) + `"}`)

	out := r.sanitizeResponse(long)
	assert.Equal(t, true, out["truncated"])
	assert.Len(t, out["preview"], 1000)

	short := r.sanitizeResponse([]byte(`{"data":"ok"}`))
	assert.Equal(t, "ok", short["data"])
	_, truncated := short["truncated"]
	assert.False(t, truncated)
}

func TestNewRequestID(t *testing.T) {
	assert.Equal(t, "inbound-id", NewRequestID("inbound-id"))
	minted := NewRequestID("")
	assert.NotEmpty(t, minted)
	assert.NotEqual(t, minted, NewRequestID(""))
}
