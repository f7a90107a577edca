package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/tomevault/tomevault/internal/model"
)

// APILogRepo is the append-only request log store. Records are inserted
// once and only ever read afterwards; every aggregate below is an
// independent query over `created_at >= start`.
type APILogRepo struct {
	db      *sqlx.DB
	dialect Dialect
}

func NewAPILogRepo(db *sqlx.DB, dialect Dialect) *APILogRepo {
	repo := &APILogRepo{db: db, dialect: dialect}
	_ = repo.ensureSchema(context.Background())
	return repo
}

func (r *APILogRepo) ensureSchema(ctx context.Context) error {
	jsonT := r.dialect.JSONType()
	tsT := r.dialect.TimestampType()
	_, err := r.db.ExecContext(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS api_logs (
			id TEXT PRIMARY KEY,
			request_id TEXT NOT NULL,
			method TEXT NOT NULL,
			url TEXT NOT NULL,
			endpoint TEXT NOT NULL,
			ip_address TEXT NOT NULL,
			user_agent TEXT,
			user_id TEXT,
			user_type TEXT NOT NULL DEFAULT 'anonymous',
			status_code INTEGER NOT NULL,
			response_time_ms NUMERIC(10,2) NOT NULL,
			response_size BIGINT,
			request_headers %[1]s,
			request_data %[1]s,
			response_data %[1]s,
			cache_hit BOOLEAN NOT NULL DEFAULT %[3]s,
			log_level TEXT NOT NULL DEFAULT 'info',
			error_message TEXT,
			error_context %[1]s,
			sql_injection_suspected BOOLEAN NOT NULL DEFAULT %[3]s,
			unusual_pattern_suspected BOOLEAN NOT NULL DEFAULT %[3]s,
			metadata %[1]s,
			created_at %[2]s NOT NULL
		)
	`, jsonT, tsT, r.dialect.BoolLiteral(false)))
	if err != nil {
		return err
	}

	// Composite indexes backing the aggregator's window filters.
	indexes := []string{
		`CREATE INDEX IF NOT EXISTS idx_api_logs_request_id ON api_logs(request_id)`,
		`CREATE INDEX IF NOT EXISTS idx_api_logs_created_status ON api_logs(created_at, status_code)`,
		`CREATE INDEX IF NOT EXISTS idx_api_logs_endpoint_created ON api_logs(endpoint, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_api_logs_ip_created ON api_logs(ip_address, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_api_logs_created_response_time ON api_logs(created_at, response_time_ms)`,
		`CREATE INDEX IF NOT EXISTS idx_api_logs_endpoint_method_created ON api_logs(endpoint, method, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_api_logs_created_status_ip ON api_logs(created_at, status_code, ip_address)`,
		`CREATE INDEX IF NOT EXISTS idx_api_logs_status_created ON api_logs(status_code, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_api_logs_created_cache ON api_logs(created_at, cache_hit)`,
		`CREATE INDEX IF NOT EXISTS idx_api_logs_user_created ON api_logs(user_id, created_at)`,
	}
	for _, idx := range indexes {
		_, _ = r.db.ExecContext(ctx, idx)
	}
	return nil
}

func (r *APILogRepo) Insert(ctx context.Context, entry *model.APILog) error {
	if entry == nil {
		return nil
	}
	headersJSON := marshalOrNull(entry.RequestHeaders)
	requestJSON := marshalOrNull(entry.RequestData)
	responseJSON := marshalOrNull(entry.ResponseData)
	metadataJSON := marshalOrNull(entry.Metadata)
	var errCtxJSON any
	if entry.ErrorContext != nil {
		b, _ := json.Marshal(entry.ErrorContext)
		errCtxJSON = b
	}

	query := r.db.Rebind(`
		INSERT INTO api_logs (
			id, request_id, method, url, endpoint, ip_address, user_agent,
			user_id, user_type, status_code, response_time_ms, response_size,
			request_headers, request_data, response_data, cache_hit, log_level,
			error_message, error_context, sql_injection_suspected,
			unusual_pattern_suspected, metadata, created_at
		) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
	`)
	_, err := r.db.ExecContext(ctx, query,
		entry.ID, entry.RequestID, entry.Method, entry.URL, entry.Endpoint,
		entry.IPAddress, entry.UserAgent, entry.UserID, entry.UserType,
		entry.StatusCode, entry.ResponseTimeMs, entry.ResponseSize,
		headersJSON, requestJSON, responseJSON, entry.CacheHit, entry.LogLevel,
		entry.ErrorMessage, errCtxJSON, entry.Security.SQLInjectionSuspected,
		entry.Security.UnusualPatternSuspected, metadataJSON,
		entry.CreatedAt.UTC())
	return err
}

func marshalOrNull(m map[string]any) any {
	if m == nil {
		return nil
	}
	b, _ := json.Marshal(m)
	return b
}

// GetByRequestID reads one record back in full.
func (r *APILogRepo) GetByRequestID(ctx context.Context, requestID string) (*model.APILog, error) {
	query := r.db.Rebind(`
		SELECT id, request_id, method, url, endpoint, ip_address, user_agent,
			user_id, user_type, status_code, response_time_ms, response_size,
			request_headers, request_data, response_data, cache_hit, log_level,
			error_message, error_context, sql_injection_suspected,
			unusual_pattern_suspected, metadata, created_at
		FROM api_logs WHERE request_id = ? LIMIT 1
	`)
	row := r.db.QueryRowxContext(ctx, query, requestID)

	var entry model.APILog
	var headersJSON, requestJSON, responseJSON, errCtxJSON, metadataJSON []byte
	err := row.Scan(
		&entry.ID, &entry.RequestID, &entry.Method, &entry.URL, &entry.Endpoint,
		&entry.IPAddress, &entry.UserAgent, &entry.UserID, &entry.UserType,
		&entry.StatusCode, &entry.ResponseTimeMs, &entry.ResponseSize,
		&headersJSON, &requestJSON, &responseJSON, &entry.CacheHit,
		&entry.LogLevel, &entry.ErrorMessage, &errCtxJSON,
		&entry.Security.SQLInjectionSuspected,
		&entry.Security.UnusualPatternSuspected, &metadataJSON, &entry.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	if len(headersJSON) > 0 {
		_ = json.Unmarshal(headersJSON, &entry.RequestHeaders)
	}
	if len(requestJSON) > 0 {
		_ = json.Unmarshal(requestJSON, &entry.RequestData)
	}
	if len(responseJSON) > 0 {
		_ = json.Unmarshal(responseJSON, &entry.ResponseData)
	}
	if len(errCtxJSON) > 0 {
		entry.ErrorContext = &model.ErrorContext{}
		_ = json.Unmarshal(errCtxJSON, entry.ErrorContext)
	}
	if len(metadataJSON) > 0 {
		_ = json.Unmarshal(metadataJSON, &entry.Metadata)
	}
	return &entry, nil
}

// CountByIPSince backs the burst heuristic: requests from one client IP
// in the trailing window.
func (r *APILogRepo) CountByIPSince(ctx context.Context, ip string, since time.Time) (int64, error) {
	var count int64
	query := r.db.Rebind(`SELECT COUNT(*) FROM api_logs WHERE ip_address = ? AND created_at >= ?`)
	err := r.db.GetContext(ctx, &count, query, ip, since.UTC())
	return count, err
}

// DeleteOlderThan enforces the retention policy.
func (r *APILogRepo) DeleteOlderThan(ctx context.Context, olderThan time.Duration) error {
	if olderThan <= 0 {
		return nil
	}
	cutoff := time.Now().UTC().Add(-olderThan)
	query := r.db.Rebind(`DELETE FROM api_logs WHERE created_at < ?`)
	_, err := r.db.ExecContext(ctx, query, cutoff)
	return err
}

// --- aggregates ---

func (r *APILogRepo) CountSince(ctx context.Context, start time.Time) (int64, error) {
	var count int64
	query := r.db.Rebind(`SELECT COUNT(*) FROM api_logs WHERE created_at >= ?`)
	err := r.db.GetContext(ctx, &count, query, start.UTC())
	return count, err
}

func (r *APILogRepo) CountDistinctIPs(ctx context.Context, start time.Time) (int64, error) {
	var count int64
	query := r.db.Rebind(`SELECT COUNT(DISTINCT ip_address) FROM api_logs WHERE created_at >= ?`)
	err := r.db.GetContext(ctx, &count, query, start.UTC())
	return count, err
}

func (r *APILogRepo) CountDistinctUsers(ctx context.Context, start time.Time) (int64, error) {
	var count int64
	query := r.db.Rebind(`SELECT COUNT(DISTINCT user_id) FROM api_logs WHERE created_at >= ? AND user_id IS NOT NULL`)
	err := r.db.GetContext(ctx, &count, query, start.UTC())
	return count, err
}

func (r *APILogRepo) AvgResponseTime(ctx context.Context, start time.Time) (float64, error) {
	var avg float64
	query := r.db.Rebind(`SELECT COALESCE(AVG(response_time_ms), 0) FROM api_logs WHERE created_at >= ?`)
	err := r.db.GetContext(ctx, &avg, query, start.UTC())
	return avg, err
}

func (r *APILogRepo) SumResponseSize(ctx context.Context, start time.Time) (int64, error) {
	var total int64
	query := r.db.Rebind(`SELECT COALESCE(SUM(response_size), 0) FROM api_logs WHERE created_at >= ?`)
	err := r.db.GetContext(ctx, &total, query, start.UTC())
	return total, err
}

func (r *APILogRepo) CountCacheHits(ctx context.Context, start time.Time) (int64, error) {
	var count int64
	query := r.db.Rebind(fmt.Sprintf(
		`SELECT COUNT(*) FROM api_logs WHERE created_at >= ? AND cache_hit = %s`,
		r.dialect.BoolLiteral(true)))
	err := r.db.GetContext(ctx, &count, query, start.UTC())
	return count, err
}

type EndpointAggRow struct {
	Endpoint        string  `db:"endpoint"`
	Method          string  `db:"method"`
	RequestCount    int64   `db:"request_count"`
	AvgResponseTime float64 `db:"avg_response_time"`
	MaxResponseTime float64 `db:"max_response_time"`
	ErrorCount      int64   `db:"error_count"`
}

func (r *APILogRepo) EndpointStats(ctx context.Context, start time.Time, limit int) ([]EndpointAggRow, error) {
	var rows []EndpointAggRow
	query := r.db.Rebind(`
		SELECT endpoint, method,
			COUNT(*) AS request_count,
			AVG(response_time_ms) AS avg_response_time,
			MAX(response_time_ms) AS max_response_time,
			SUM(CASE WHEN status_code >= 400 THEN 1 ELSE 0 END) AS error_count
		FROM api_logs
		WHERE created_at >= ?
		GROUP BY endpoint, method
		ORDER BY request_count DESC
		LIMIT ?
	`)
	err := r.db.SelectContext(ctx, &rows, query, start.UTC(), limit)
	return rows, err
}

func (r *APILogRepo) SlowestEndpoints(ctx context.Context, start time.Time, limit int) ([]EndpointAggRow, error) {
	var rows []EndpointAggRow
	query := r.db.Rebind(`
		SELECT endpoint, method,
			COUNT(*) AS request_count,
			AVG(response_time_ms) AS avg_response_time,
			MAX(response_time_ms) AS max_response_time,
			SUM(CASE WHEN status_code >= 400 THEN 1 ELSE 0 END) AS error_count
		FROM api_logs
		WHERE created_at >= ?
		GROUP BY endpoint, method
		ORDER BY avg_response_time DESC
		LIMIT ?
	`)
	err := r.db.SelectContext(ctx, &rows, query, start.UTC(), limit)
	return rows, err
}

func (r *APILogRepo) CountSlowerThan(ctx context.Context, start time.Time, thresholdMs float64) (int64, error) {
	var count int64
	query := r.db.Rebind(`SELECT COUNT(*) FROM api_logs WHERE created_at >= ? AND response_time_ms > ?`)
	err := r.db.GetContext(ctx, &count, query, start.UTC(), thresholdMs)
	return count, err
}

// ResponseTimes returns every in-window response time already sorted
// ascending, ready for nearest-rank percentile indexing.
func (r *APILogRepo) ResponseTimes(ctx context.Context, start time.Time) ([]float64, error) {
	var times []float64
	query := r.db.Rebind(`SELECT response_time_ms FROM api_logs WHERE created_at >= ? ORDER BY response_time_ms ASC`)
	err := r.db.SelectContext(ctx, &times, query, start.UTC())
	return times, err
}

func (r *APILogRepo) CountByStatus(ctx context.Context, start time.Time, status int) (int64, error) {
	var count int64
	query := r.db.Rebind(`SELECT COUNT(*) FROM api_logs WHERE created_at >= ? AND status_code = ?`)
	err := r.db.GetContext(ctx, &count, query, start.UTC(), status)
	return count, err
}

// SuspiciousIPs groups by client IP and keeps high-volume or high-error
// actors. Thresholds are exclusive, matching the summary contract.
func (r *APILogRepo) SuspiciousIPs(ctx context.Context, start time.Time, minRequests, minErrors int64, limit int) ([]model.SuspiciousIP, error) {
	query := r.db.Rebind(`
		SELECT ip_address,
			COUNT(*) AS request_count,
			SUM(CASE WHEN status_code >= 400 THEN 1 ELSE 0 END) AS error_count,
			COUNT(DISTINCT endpoint) AS unique_endpoints
		FROM api_logs
		WHERE created_at >= ?
		GROUP BY ip_address
		HAVING COUNT(*) > ? OR SUM(CASE WHEN status_code >= 400 THEN 1 ELSE 0 END) > ?
		ORDER BY request_count DESC
		LIMIT ?
	`)
	rows, err := r.db.QueryxContext(ctx, query, start.UTC(), minRequests, minErrors, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []model.SuspiciousIP
	for rows.Next() {
		var ip model.SuspiciousIP
		if err := rows.Scan(&ip.IP, &ip.Requests, &ip.Errors, &ip.UniqueEndpoints); err != nil {
			return nil, err
		}
		ip.ErrorRate = errorRatePercent(ip.Errors, ip.Requests)
		results = append(results, ip)
	}
	return results, rows.Err()
}

// errorRatePercent renders errors/requests as "NN%" rounded to two
// decimal places, trailing zeros trimmed.
func errorRatePercent(errors, requests int64) string {
	if requests == 0 {
		return "0%"
	}
	rate := math.Round(float64(errors)/float64(requests)*10000) / 100
	return strconv.FormatFloat(rate, 'f', -1, 64) + "%"
}

func (r *APILogRepo) CountUserAgentLike(ctx context.Context, start time.Time, pattern string) (int64, error) {
	var count int64
	query := r.db.Rebind(`
		SELECT COUNT(*) FROM api_logs
		WHERE created_at >= ? AND user_agent IS NOT NULL
		AND LOWER(user_agent) LIKE ?
	`)
	err := r.db.GetContext(ctx, &count, query, start.UTC(), "%"+strings.ToLower(pattern)+"%")
	return count, err
}

func (r *APILogRepo) CountAdminEndpoints(ctx context.Context, start time.Time) (int64, error) {
	var count int64
	query := r.db.Rebind(`SELECT COUNT(*) FROM api_logs WHERE created_at >= ? AND LOWER(endpoint) LIKE '%admin%'`)
	err := r.db.GetContext(ctx, &count, query, start.UTC())
	return count, err
}

// StatusCodeBreakdown returns per-status counts ordered descending by
// count, the order the summary JSON preserves.
func (r *APILogRepo) StatusCodeBreakdown(ctx context.Context, start time.Time) (model.StatusCodeBreakdown, error) {
	query := r.db.Rebind(`
		SELECT status_code, COUNT(*) AS count
		FROM api_logs
		WHERE created_at >= ?
		GROUP BY status_code
		ORDER BY count DESC
	`)
	rows, err := r.db.QueryxContext(ctx, query, start.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var breakdown model.StatusCodeBreakdown
	for rows.Next() {
		var sc model.StatusCodeCount
		if err := rows.Scan(&sc.StatusCode, &sc.Count); err != nil {
			return nil, err
		}
		breakdown = append(breakdown, sc)
	}
	return breakdown, rows.Err()
}

func (r *APILogRepo) ErrorsByEndpoint(ctx context.Context, start time.Time, limit int) ([]model.EndpointError, error) {
	var rows []model.EndpointError
	query := r.db.Rebind(`
		SELECT endpoint, COUNT(*) AS error_count
		FROM api_logs
		WHERE created_at >= ? AND status_code >= 400
		GROUP BY endpoint
		ORDER BY error_count DESC
		LIMIT ?
	`)
	err := r.db.SelectContext(ctx, &rows, query, start.UTC(), limit)
	return rows, err
}

func (r *APILogRepo) MostCommonErrors(ctx context.Context, start time.Time, limit int) ([]model.ErrorCount, error) {
	var rows []model.ErrorCount
	query := r.db.Rebind(`
		SELECT error_message, COUNT(*) AS count
		FROM api_logs
		WHERE created_at >= ? AND error_message IS NOT NULL
		GROUP BY error_message
		ORDER BY count DESC
		LIMIT ?
	`)
	err := r.db.SelectContext(ctx, &rows, query, start.UTC(), limit)
	return rows, err
}

// RequestsByHour buckets the window by hour of day, keyed "HH:00".
func (r *APILogRepo) RequestsByHour(ctx context.Context, start time.Time) (map[string]int64, error) {
	hourExpr := r.dialect.HourExpr("created_at")
	query := r.db.Rebind(fmt.Sprintf(`
		SELECT %s AS hour, COUNT(*) AS count
		FROM api_logs
		WHERE created_at >= ?
		GROUP BY %s
		ORDER BY hour ASC
	`, hourExpr, hourExpr))
	rows, err := r.db.QueryxContext(ctx, query, start.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	buckets := make(map[string]int64)
	for rows.Next() {
		var hour string
		var count int64
		if err := rows.Scan(&hour, &count); err != nil {
			return nil, err
		}
		buckets[hour+":00"] = count
	}
	return buckets, rows.Err()
}

func (r *APILogRepo) RequestsByDay(ctx context.Context, start time.Time) (map[string]int64, error) {
	dateExpr := r.dialect.DateExpr("created_at")
	query := r.db.Rebind(fmt.Sprintf(`
		SELECT %s AS date, COUNT(*) AS count
		FROM api_logs
		WHERE created_at >= ?
		GROUP BY %s
		ORDER BY date ASC
	`, dateExpr, dateExpr))
	rows, err := r.db.QueryxContext(ctx, query, start.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	buckets := make(map[string]int64)
	for rows.Next() {
		var date string
		var count int64
		if err := rows.Scan(&date, &count); err != nil {
			return nil, err
		}
		buckets[date] = count
	}
	return buckets, rows.Err()
}

func (r *APILogRepo) TopUserAgents(ctx context.Context, start time.Time, limit int) ([]model.UserAgentCount, error) {
	var rows []model.UserAgentCount
	query := r.db.Rebind(`
		SELECT user_agent, COUNT(*) AS count
		FROM api_logs
		WHERE created_at >= ? AND user_agent IS NOT NULL
		GROUP BY user_agent
		ORDER BY count DESC
		LIMIT ?
	`)
	err := r.db.SelectContext(ctx, &rows, query, start.UTC(), limit)
	return rows, err
}

// IPCounts returns per-IP request totals for the geographic rollup.
func (r *APILogRepo) IPCounts(ctx context.Context, start time.Time) ([]model.IPRequestCount, error) {
	var rows []model.IPRequestCount
	query := r.db.Rebind(`
		SELECT ip_address, COUNT(*) AS count
		FROM api_logs
		WHERE created_at >= ?
		GROUP BY ip_address
	`)
	err := r.db.SelectContext(ctx, &rows, query, start.UTC())
	return rows, err
}
