package model

import (
	"bytes"
	"fmt"
	"strconv"
)

// Summary is the full analytics structure returned by /api/logs/summary.
// Each section is computed as an independent aggregate over the same
// created_at window.
type Summary struct {
	Period      Period          `json:"period"`
	Overview    Overview        `json:"overview"`
	Endpoints   []EndpointStat  `json:"endpoints"`
	Performance Performance     `json:"performance"`
	Security    SecuritySummary `json:"security"`
	Errors      ErrorSummary    `json:"errors"`
	Traffic     TrafficPatterns `json:"traffic_patterns"`
	Geographic  GeographicStats `json:"geographic"`
}

type Period struct {
	Days      int    `json:"days"`
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
}

type Overview struct {
	TotalRequests          int64   `json:"total_requests"`
	UniqueIPs              int64   `json:"unique_ips"`
	UniqueUsers            int64   `json:"unique_users"`
	AverageResponseTimeMs  float64 `json:"average_response_time_ms"`
	TotalDataTransferredMB float64 `json:"total_data_transferred_mb"`
	CacheHitRate           float64 `json:"cache_hit_rate"`
}

type EndpointStat struct {
	Endpoint          string  `json:"endpoint"` // "GET /api/tomes"
	Requests          int64   `json:"requests"`
	AvgResponseTimeMs float64 `json:"avg_response_time_ms"`
	MaxResponseTimeMs float64 `json:"max_response_time_ms"`
	ErrorRate         string  `json:"error_rate"`
}

type Performance struct {
	SlowRequests     ThresholdCount  `json:"slow_requests"`
	VerySlowRequests ThresholdCount  `json:"very_slow_requests"`
	Percentiles      Percentiles     `json:"response_time_percentiles"`
	SlowestEndpoints []SlowEndpoint  `json:"slowest_endpoints"`
}

type ThresholdCount struct {
	Count      int64   `json:"count"`
	Percentage float64 `json:"percentage"`
}

type Percentiles struct {
	P50 float64 `json:"p50"`
	P90 float64 `json:"p90"`
	P95 float64 `json:"p95"`
	P99 float64 `json:"p99"`
}

type SlowEndpoint struct {
	Endpoint          string  `json:"endpoint"`
	AvgResponseTimeMs float64 `json:"avg_response_time_ms"`
	MaxResponseTimeMs float64 `json:"max_response_time_ms"`
	RequestCount      int64   `json:"request_count"`
}

type SecuritySummary struct {
	FailedAuthAttempts  int64            `json:"failed_auth_attempts"`
	ForbiddenAttempts   int64            `json:"forbidden_attempts"`
	SuspiciousIPs       []SuspiciousIP   `json:"suspicious_ips"`
	BotRequests         map[string]int64 `json:"bot_requests"`
	AdminAccessAttempts int64            `json:"admin_access_attempts"`
}

type ErrorSummary struct {
	StatusCodeBreakdown StatusCodeBreakdown `json:"status_code_breakdown"`
	ErrorRateByEndpoint []EndpointError     `json:"error_rate_by_endpoint"`
	MostCommonErrors    []ErrorCount        `json:"most_common_errors"`
}

type StatusCodeCount struct {
	StatusCode int
	Count      int64
}

// StatusCodeBreakdown marshals as a JSON object whose keys keep the
// slice order (descending by count), which a plain map would lose.
type StatusCodeBreakdown []StatusCodeCount

func (b StatusCodeBreakdown) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, sc := range b {
		if i > 0 {
			buf.WriteByte(',')
		}
		fmt.Fprintf(&buf, "%q:%d", strconv.Itoa(sc.StatusCode), sc.Count)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Get returns the count for a status code, 0 when absent.
func (b StatusCodeBreakdown) Get(code int) int64 {
	for _, sc := range b {
		if sc.StatusCode == code {
			return sc.Count
		}
	}
	return 0
}

type EndpointError struct {
	Endpoint   string `json:"endpoint" db:"endpoint"`
	ErrorCount int64  `json:"error_count" db:"error_count"`
}

type ErrorCount struct {
	ErrorMessage string `json:"error_message" db:"error_message"`
	Count        int64  `json:"count" db:"count"`
}

type TrafficPatterns struct {
	RequestsByHour map[string]int64 `json:"requests_by_hour"` // "09:00" -> count
	RequestsByDay  map[string]int64 `json:"requests_by_day"`  // "2026-08-29" -> count
	TopUserAgents  []UserAgentCount `json:"top_user_agents"`
}

type UserAgentCount struct {
	UserAgent string `json:"user_agent" db:"user_agent"`
	Count     int64  `json:"count" db:"count"`
}

type GeographicStats struct {
	Countries         []CountryStat `json:"countries"`
	Cities            []CityStat    `json:"cities"`
	TotalCountries    int           `json:"total_countries"`
	MostActiveCountry *CountryStat  `json:"most_active_country"`
}
