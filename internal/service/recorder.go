package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"runtime"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tomevault/tomevault/internal/config"
	"github.com/tomevault/tomevault/internal/model"
	"github.com/tomevault/tomevault/internal/pkg/logger"
	"github.com/tomevault/tomevault/internal/security"
)

// Known-sensitive keys redacted from headers and bodies before a record
// is persisted or emitted anywhere.
var sensitiveKeys = map[string]struct{}{
	"authorization": {},
	"x-api-key":     {},
	"cookie":        {},
	"x-auth-token":  {},
	"password":      {},
	"token":         {},
	"secret":        {},
	"key":           {},
	"api_key":       {},
}

// RecordInput carries the raw request facts observed by the middleware.
// Everything here is request-scoped; the recorder itself holds no
// per-request state.
type RecordInput struct {
	RequestID  string
	Method     string
	URL        string
	Endpoint   string
	ClientIP   string
	UserAgent  string
	UserID     *string
	UserType   string
	StatusCode int
	Elapsed    time.Duration

	RequestHeaders http.Header
	RequestBody    []byte
	ResponseBody   []byte
	CacheHit       bool
	Referer        string
	Locale         string
	QueryCount     int64

	// Err is the handler failure, if any: an application error or a
	// recovered panic. Stack holds bounded frames for the latter.
	Err   error
	Stack []string
}

// Recorder turns a completed request into exactly one immutable log
// record and hands it to the configured dispatcher. Logging failures are
// reported to the operational channel and swallowed; they never reach
// the caller.
type Recorder struct {
	cfg        config.LoggingConfig
	analyzer   *security.Analyzer
	dispatcher Dispatcher
}

func NewRecorder(cfg config.LoggingConfig, analyzer *security.Analyzer, dispatcher Dispatcher) *Recorder {
	return &Recorder{cfg: cfg, analyzer: analyzer, dispatcher: dispatcher}
}

// NewRequestID reuses the inbound correlation id when present, else
// mints a fresh one.
func NewRequestID(inbound string) string {
	if inbound != "" {
		return inbound
	}
	return uuid.NewString()
}

// Record builds and dispatches the log record. It must never panic or
// return: any internal failure is swallowed after an ops log entry.
func (r *Recorder) Record(ctx context.Context, in *RecordInput) {
	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("Failed to log API request",
				"error", fmt.Sprint(rec), "request_id", in.RequestID)
		}
	}()

	entry := r.build(ctx, in)

	// Critical failures bypass the queue so alerting is never delayed
	// by the batching window.
	if in.Err != nil && entry.StatusCode >= 500 {
		logger.Error("Critical API error",
			"request_id", entry.RequestID,
			"endpoint", entry.Endpoint,
			"method", entry.Method,
			"error", in.Err.Error(),
			"ip", entry.IPAddress,
			"user_id", derefOr(entry.UserID, ""),
		)
	}

	r.dispatcher.Dispatch(entry)
}

func (r *Recorder) build(ctx context.Context, in *RecordInput) *model.APILog {
	responseTime := roundTo(float64(in.Elapsed)/float64(time.Millisecond), 2)
	statusCode := in.StatusCode
	if statusCode == 0 {
		// No response materialized; treat as an unhandled failure.
		statusCode = http.StatusInternalServerError
	}

	entry := &model.APILog{
		ID:             uuid.NewString(),
		RequestID:      in.RequestID,
		Method:         in.Method,
		URL:            in.URL,
		Endpoint:       in.Endpoint,
		IPAddress:      in.ClientIP,
		UserAgent:      nilIfEmpty(in.UserAgent),
		UserID:         in.UserID,
		UserType:       in.UserType,
		StatusCode:     statusCode,
		ResponseTimeMs: responseTime,
		CacheHit:       in.CacheHit,
		LogLevel:       determineLogLevel(statusCode, responseTime, in.Err, r.cfg.VerySlowThresholdMs),
		CreatedAt:      time.Now().UTC(),
	}
	if in.UserType == "" {
		entry.UserType = "anonymous"
	}
	if in.ResponseBody != nil {
		size := int64(len(in.ResponseBody))
		entry.ResponseSize = &size
	}

	entry.RequestHeaders = sanitizeHeaders(in.RequestHeaders)
	entry.RequestData = sanitizeBody(in.RequestBody)
	entry.ResponseData = r.sanitizeResponse(in.ResponseBody)
	entry.Metadata = buildMetadata(in)

	if in.Err != nil {
		msg := in.Err.Error()
		entry.ErrorMessage = &msg
		entry.ErrorContext = buildErrorContext(in.Err, in.Stack)
	}

	entry.Security = r.analyzer.Analyze(ctx, entry.RequestData, in.UserAgent, in.ClientIP)
	return entry
}

func determineLogLevel(statusCode int, responseTimeMs float64, err error, verySlowMs float64) string {
	if err != nil || statusCode >= 500 {
		return model.LogLevelError
	}
	if statusCode >= 400 || responseTimeMs > verySlowMs {
		return model.LogLevelWarning
	}
	return model.LogLevelInfo
}

func sanitizeHeaders(headers http.Header) map[string]any {
	if len(headers) == 0 {
		return nil
	}
	out := make(map[string]any, len(headers))
	for name, values := range headers {
		lower := strings.ToLower(name)
		if _, sensitive := sensitiveKeys[lower]; sensitive {
			out[lower] = model.RedactedValue
			continue
		}
		out[lower] = strings.Join(values, ", ")
	}
	return out
}

// sanitizeBody decodes a JSON body and redacts sensitive keys at every
// nesting level. Redaction is idempotent: re-sanitizing output is a
// no-op. Non-JSON bodies are kept as an opaque raw string.
func sanitizeBody(body []byte) map[string]any {
	if len(body) == 0 {
		return nil
	}
	var data map[string]any
	if err := json.Unmarshal(body, &data); err != nil {
		return map[string]any{"raw": string(body)}
	}
	redactMap(data)
	return data
}

func redactMap(data map[string]any) {
	for key, val := range data {
		if _, sensitive := sensitiveKeys[strings.ToLower(key)]; sensitive {
			data[key] = model.RedactedValue
			continue
		}
		redactNested(val)
	}
}

func redactNested(val any) {
	switch v := val.(type) {
	case map[string]any:
		redactMap(v)
	case []any:
		for _, item := range v {
			redactNested(item)
		}
	}
}

func (r *Recorder) sanitizeResponse(body []byte) map[string]any {
	if len(body) == 0 {
		return nil
	}
	limit := r.cfg.ResponsePreviewChars
	if limit <= 0 {
		limit = 1000
	}
	if len(body) > limit {
		return map[string]any{
			"truncated": true,
			"preview":   string(body[:limit]),
		}
	}
	return sanitizeBody(body)
}

func buildMetadata(in *RecordInput) map[string]any {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	meta := map[string]any{
		"memory_usage": mem.HeapAlloc,
		"query_count":  in.QueryCount,
		"timezone":     time.Now().Location().String(),
	}
	if in.Referer != "" {
		meta["referer"] = in.Referer
	}
	if in.Locale != "" {
		meta["locale"] = in.Locale
	}
	return meta
}

func buildErrorContext(err error, stack []string) *model.ErrorContext {
	ctx := &model.ErrorContext{}
	if len(stack) > 0 {
		// First frame is the failure origin.
		ctx.File, ctx.Line = splitFrame(stack[0])
		if len(stack) > 5 {
			stack = stack[:5]
		}
		ctx.Trace = stack
	}
	if cause := errors.Unwrap(err); cause != nil {
		ctx.Previous = cause.Error()
	}
	return ctx
}

func splitFrame(frame string) (string, int) {
	// Frames look like "path/to/file.go:42".
	idx := strings.LastIndex(frame, ":")
	if idx < 0 {
		return frame, 0
	}
	var line int
	_, _ = fmt.Sscanf(frame[idx+1:], "%d", &line)
	return frame[:idx], line
}

// Sink performs the persistence steps shared by the immediate and
// queued paths: store insert, then api/security/performance channel
// entries. The channel steps are best-effort; only the store error is
// surfaced so the queued path can retry it.
type Sink struct {
	cfg   config.LoggingConfig
	store LogStore
}

// LogStore is the slice of the log repository the pipeline writes to.
type LogStore interface {
	Insert(ctx context.Context, entry *model.APILog) error
}

func NewSink(cfg config.LoggingConfig, store LogStore) *Sink {
	return &Sink{cfg: cfg, store: store}
}

func (s *Sink) Persist(ctx context.Context, entry *model.APILog) error {
	err := s.store.Insert(ctx, entry)
	if err != nil {
		// Failed DB write still leaves a file trail.
		logger.Error("Database logging failed",
			"error", err.Error(), "request_id", entry.RequestID)
	}
	s.logToFile(entry)
	s.logSecurityEvents(entry)
	s.logPerformanceIssues(entry)
	return err
}

func (s *Sink) logToFile(entry *model.APILog) {
	apiLog := logger.Channel("api")
	args := []any{
		"request_id", entry.RequestID,
		"method", entry.Method,
		"endpoint", entry.Endpoint,
		"status", entry.StatusCode,
		"response_time", fmt.Sprintf("%.2fms", entry.ResponseTimeMs),
		"user_id", derefOr(entry.UserID, ""),
		"ip", entry.IPAddress,
	}
	switch entry.LogLevel {
	case model.LogLevelError:
		if entry.ErrorMessage != nil {
			args = append(args, "error", *entry.ErrorMessage)
		}
		apiLog.Error("API Request", args...)
	case model.LogLevelWarning:
		apiLog.Warn("API Request", args...)
	default:
		apiLog.Info("API Request", args...)
	}
}

func (s *Sink) logSecurityEvents(entry *model.APILog) {
	secLog := logger.Channel("security")
	ua := derefOr(entry.UserAgent, "")

	if entry.StatusCode == http.StatusUnauthorized || entry.StatusCode == http.StatusForbidden {
		secLog.Warn("Unauthorized access attempt",
			"request_id", entry.RequestID,
			"endpoint", entry.Endpoint,
			"method", entry.Method,
			"ip", entry.IPAddress,
			"user_agent", ua,
			"status_code", entry.StatusCode,
		)
	}

	if entry.UserID == nil && strings.Contains(strings.ToLower(entry.Endpoint), "admin") {
		secLog.Warn("Unauthenticated admin access attempt",
			"request_id", entry.RequestID,
			"endpoint", entry.Endpoint,
			"ip", entry.IPAddress,
			"user_agent", ua,
		)
	}

	if ua == "" || strings.Contains(strings.ToLower(ua), "bot") {
		secLog.Info("Bot or empty user agent detected",
			"request_id", entry.RequestID,
			"endpoint", entry.Endpoint,
			"ip", entry.IPAddress,
			"user_agent", ua,
		)
	}

	if entry.Security.SQLInjectionSuspected {
		secLog.Error("Potential SQL injection attempt",
			"request_id", entry.RequestID,
			"endpoint", entry.Endpoint,
			"ip", entry.IPAddress,
		)
	}
	if entry.Security.UnusualPatternSuspected {
		secLog.Warn("Unusual request pattern detected",
			"request_id", entry.RequestID,
			"endpoint", entry.Endpoint,
			"ip", entry.IPAddress,
			"user_agent", ua,
		)
	}
}

func (s *Sink) logPerformanceIssues(entry *model.APILog) {
	if !s.cfg.PerformanceLogging {
		return
	}
	perfLog := logger.Channel("performance")
	if entry.ResponseTimeMs > s.cfg.VerySlowThresholdMs {
		perfLog.Error("Very slow API response",
			"request_id", entry.RequestID,
			"endpoint", entry.Endpoint,
			"response_time_ms", entry.ResponseTimeMs,
			"threshold", "very_slow",
		)
	} else if entry.ResponseTimeMs > s.cfg.SlowThresholdMs {
		perfLog.Warn("Slow API response",
			"request_id", entry.RequestID,
			"endpoint", entry.Endpoint,
			"response_time_ms", entry.ResponseTimeMs,
			"threshold", "slow",
		)
	}
}

func nilIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func derefOr(s *string, fallback string) string {
	if s == nil {
		return fallback
	}
	return *s
}

func roundTo(v float64, places int) float64 {
	factor := math.Pow(10, float64(places))
	return math.Round(v*factor) / factor
}
