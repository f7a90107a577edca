package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomevault/tomevault/internal/model"
)

func newTestRepo(t *testing.T) *APILogRepo {
	t.Helper()
	db, err := sqlx.Connect("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	db.SetMaxOpenConns(1)
	return NewAPILogRepo(db, SQLiteDialect{})
}

func makeEntry(requestID string, status int, rt float64, ip string, at time.Time) *model.APILog {
	ua := "Mozilla/5.0"
	return &model.APILog{
		ID:             requestID + "-id",
		RequestID:      requestID,
		Method:         "GET",
		URL:            "/api/tomes",
		Endpoint:       "/api/tomes",
		IPAddress:      ip,
		UserAgent:      &ua,
		UserType:       "anonymous",
		StatusCode:     status,
		ResponseTimeMs: rt,
		LogLevel:       model.LogLevelInfo,
		CreatedAt:      at,
	}
}

func TestInsertAndGetByRequestIDRoundTrip(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	size := int64(512)
	msg := "kaboom"
	userID := "user-1"
	entry := makeEntry("req-rt", 500, 12.34, "203.0.113.9", time.Now())
	entry.UserID = &userID
	entry.UserType = "admin"
	entry.ResponseSize = &size
	entry.CacheHit = true
	entry.LogLevel = model.LogLevelError
	entry.ErrorMessage = &msg
	entry.ErrorContext = &model.ErrorContext{
		File: "handler.go", Line: 42,
		Trace:    []string{"handler.go:42", "router.go:10"},
		Previous: "root cause",
	}
	entry.RequestHeaders = map[string]any{"content-type": "application/json", "authorization": model.RedactedValue}
	entry.RequestData = map[string]any{"title": "Grimoire", "password": model.RedactedValue}
	entry.ResponseData = map[string]any{"truncated": true, "preview": "..."}
	entry.Metadata = map[string]any{"timezone": "UTC", "locale": "en-US"}
	entry.Security = model.SecurityFlags{SQLInjectionSuspected: true, UnusualPatternSuspected: false}

	require.NoError(t, repo.Insert(ctx, entry))

	got, err := repo.GetByRequestID(ctx, "req-rt")
	require.NoError(t, err)
	require.NotNil(t, got)

	assert.Equal(t, entry.ID, got.ID)
	assert.Equal(t, "admin", got.UserType)
	require.NotNil(t, got.UserID)
	assert.Equal(t, "user-1", *got.UserID)
	assert.Equal(t, 500, got.StatusCode)
	assert.InDelta(t, 12.34, got.ResponseTimeMs, 0.001)
	require.NotNil(t, got.ResponseSize)
	assert.Equal(t, int64(512), *got.ResponseSize)

	// Booleans survive the round trip as booleans.
	assert.True(t, got.CacheHit)
	assert.True(t, got.Security.SQLInjectionSuspected)
	assert.False(t, got.Security.UnusualPatternSuspected)

	assert.Equal(t, model.RedactedValue, got.RequestHeaders["authorization"])
	assert.Equal(t, model.RedactedValue, got.RequestData["password"])
	assert.Equal(t, true, got.ResponseData["truncated"])
	require.NotNil(t, got.ErrorContext)
	assert.Equal(t, "handler.go", got.ErrorContext.File)
	assert.Equal(t, 42, got.ErrorContext.Line)
	assert.Equal(t, "root cause", got.ErrorContext.Previous)
	require.NotNil(t, got.ErrorMessage)
	assert.Equal(t, "kaboom", *got.ErrorMessage)
}

func TestGetByRequestIDMissing(t *testing.T) {
	repo := newTestRepo(t)
	got, err := repo.GetByRequestID(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestCountByIPSinceWindow(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	now := time.Now().UTC()

	for i := 0; i < 5; i++ {
		require.NoError(t, repo.Insert(ctx, makeEntry(fmt.Sprintf("in-%d", i), 200, 10, "203.0.113.9", now)))
	}
	// Outside the window and from another IP; neither counts.
	require.NoError(t, repo.Insert(ctx, makeEntry("old", 200, 10, "203.0.113.9", now.Add(-2*time.Minute))))
	require.NoError(t, repo.Insert(ctx, makeEntry("other", 200, 10, "198.51.100.7", now)))

	count, err := repo.CountByIPSince(ctx, "203.0.113.9", now.Add(-time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(5), count)
}

func TestStatusCodeBreakdown(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	now := time.Now().UTC()

	for i := 0; i < 12; i++ {
		require.NoError(t, repo.Insert(ctx, makeEntry(fmt.Sprintf("ok-%d", i), 200, 10, "203.0.113.9", now)))
	}
	for i := 0; i < 3; i++ {
		require.NoError(t, repo.Insert(ctx, makeEntry(fmt.Sprintf("err-%d", i), 500, 10, "203.0.113.9", now)))
	}

	breakdown, err := repo.StatusCodeBreakdown(ctx, now.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, model.StatusCodeBreakdown{{StatusCode: 200, Count: 12}, {StatusCode: 500, Count: 3}}, breakdown)

	encoded, err := json.Marshal(breakdown)
	require.NoError(t, err)
	assert.Equal(t, `{"200":12,"500":3}`, string(encoded))

	total, err := repo.CountSince(ctx, now.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(15), total)
}

func TestResponseTimesSortedAscending(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	now := time.Now().UTC()

	for i, rt := range []float64{500, 10, 120, 45, 3000} {
		require.NoError(t, repo.Insert(ctx, makeEntry(fmt.Sprintf("rt-%d", i), 200, rt, "203.0.113.9", now)))
	}

	times, err := repo.ResponseTimes(ctx, now.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, []float64{10, 45, 120, 500, 3000}, times)

	slow, err := repo.CountSlowerThan(ctx, now.Add(-time.Hour), 100)
	require.NoError(t, err)
	assert.Equal(t, int64(3), slow)
}

func TestSuspiciousIPsThresholds(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	now := time.Now().UTC()

	// 150 requests, no errors: trips the volume threshold.
	for i := 0; i < 150; i++ {
		require.NoError(t, repo.Insert(ctx, makeEntry(fmt.Sprintf("vol-%d", i), 200, 10, "203.0.113.1", now)))
	}
	// 25 errors from a low-volume IP: trips the error threshold.
	for i := 0; i < 25; i++ {
		require.NoError(t, repo.Insert(ctx, makeEntry(fmt.Sprintf("bad-%d", i), 403, 10, "203.0.113.2", now)))
	}
	// Quiet IP: neither.
	for i := 0; i < 10; i++ {
		require.NoError(t, repo.Insert(ctx, makeEntry(fmt.Sprintf("quiet-%d", i), 200, 10, "203.0.113.3", now)))
	}

	ips, err := repo.SuspiciousIPs(ctx, now.Add(-time.Hour), 100, 20, 10)
	require.NoError(t, err)
	require.Len(t, ips, 2)
	assert.Equal(t, "203.0.113.1", ips[0].IP)
	assert.Equal(t, int64(150), ips[0].Requests)
	assert.Equal(t, "0%", ips[0].ErrorRate)
	assert.Equal(t, "203.0.113.2", ips[1].IP)
	assert.Equal(t, int64(25), ips[1].Errors)
	assert.Equal(t, "100%", ips[1].ErrorRate)
}

func TestSuspiciousIPErrorRateRounding(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	now := time.Now().UTC()

	for i := 0; i < 120; i++ {
		status := 200
		if i < 40 {
			status = 500
		}
		require.NoError(t, repo.Insert(ctx, makeEntry(fmt.Sprintf("mx-%d", i), status, 10, "203.0.113.4", now)))
	}

	ips, err := repo.SuspiciousIPs(ctx, now.Add(-time.Hour), 100, 20, 10)
	require.NoError(t, err)
	require.Len(t, ips, 1)
	assert.Equal(t, "33.33%", ips[0].ErrorRate)
}

func TestRequestsByHourKeyFormat(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	at := time.Date(2026, 8, 29, 9, 15, 0, 0, time.UTC)
	require.NoError(t, repo.Insert(ctx, makeEntry("h1", 200, 10, "203.0.113.9", at)))
	require.NoError(t, repo.Insert(ctx, makeEntry("h2", 200, 10, "203.0.113.9", at.Add(10*time.Minute))))
	require.NoError(t, repo.Insert(ctx, makeEntry("h3", 200, 10, "203.0.113.9", at.Add(5*time.Hour))))

	byHour, err := repo.RequestsByHour(ctx, at.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"09:00": 2, "14:00": 1}, byHour)

	byDay, err := repo.RequestsByDay(ctx, at.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"2026-08-29": 3}, byDay)
}

func TestDeleteOlderThan(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, repo.Insert(ctx, makeEntry("fresh", 200, 10, "203.0.113.9", now)))
	require.NoError(t, repo.Insert(ctx, makeEntry("stale", 200, 10, "203.0.113.9", now.Add(-48*time.Hour))))

	require.NoError(t, repo.DeleteOlderThan(ctx, 24*time.Hour))

	total, err := repo.CountSince(ctx, now.Add(-30*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
}
