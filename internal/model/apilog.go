package model

import (
	"time"
)

// Log levels derived per record, not configured.
const (
	LogLevelInfo    = "info"
	LogLevelWarning = "warning"
	LogLevelError   = "error"
)

// RedactedValue replaces every known-sensitive header or body value
// before a record leaves the pipeline.
const RedactedValue = "[REDACTED]"

// SecurityFlags holds the per-request heuristic results. Both flags are
// always evaluated; neither short-circuits the other.
type SecurityFlags struct {
	SQLInjectionSuspected   bool `json:"sql_injection_suspected"`
	UnusualPatternSuspected bool `json:"unusual_pattern_suspected"`
}

// ErrorContext captures where a request failure originated. The trace is
// bounded so a record never balloons past a few frames.
type ErrorContext struct {
	File     string   `json:"file"`
	Line     int      `json:"line"`
	Trace    []string `json:"trace"`
	Previous string   `json:"previous,omitempty"`
}

// APILog is one immutable record per HTTP request/response cycle.
// Records are created by the logging middleware after the handler
// finishes and are never mutated afterwards; created_at is the only
// ordering key for time-window queries.
type APILog struct {
	ID             string  `json:"id" db:"id"`
	RequestID      string  `json:"request_id" db:"request_id"`
	Method         string  `json:"method" db:"method"`
	URL            string  `json:"url" db:"url"`
	Endpoint       string  `json:"endpoint" db:"endpoint"`
	IPAddress      string  `json:"ip_address" db:"ip_address"`
	UserAgent      *string `json:"user_agent" db:"user_agent"`
	UserID         *string `json:"user_id" db:"user_id"`
	UserType       string  `json:"user_type" db:"user_type"`
	StatusCode     int     `json:"status_code" db:"status_code"`
	ResponseTimeMs float64 `json:"response_time_ms" db:"response_time_ms"`
	ResponseSize   *int64  `json:"response_size" db:"response_size"`

	RequestHeaders map[string]any `json:"request_headers"`
	RequestData    map[string]any `json:"request_data"`
	ResponseData   map[string]any `json:"response_data"`

	CacheHit     bool           `json:"cache_hit" db:"cache_hit"`
	LogLevel     string         `json:"log_level" db:"log_level"`
	ErrorMessage *string        `json:"error_message" db:"error_message"`
	ErrorContext *ErrorContext  `json:"error_context"`
	Security     SecurityFlags  `json:"security_flags"`
	Metadata     map[string]any `json:"metadata"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// IPRequestCount pairs a client IP with its request count in a window.
type IPRequestCount struct {
	IP    string `db:"ip_address"`
	Count int64  `db:"count"`
}
