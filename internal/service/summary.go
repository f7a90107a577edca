package service

import (
	"context"
	"sort"
	"strconv"
	"time"

	"github.com/tomevault/tomevault/internal/config"
	"github.com/tomevault/tomevault/internal/geoip"
	"github.com/tomevault/tomevault/internal/model"
	"github.com/tomevault/tomevault/internal/repository"
)

// Suspicious IP thresholds: high volume or a meaningful error count,
// whichever trips first.
const (
	suspiciousMinRequests = 100
	suspiciousMinErrors   = 20
	suspiciousIPLimit     = 10
)

// SummaryService assembles the multi-dimensional traffic report from
// the log store aggregates and the GeoIP resolver.
type SummaryService struct {
	cfg  config.SecurityConfig
	logs *repository.APILogRepo
	geo  *geoip.Client
	slow float64
	very float64
}

func NewSummaryService(cfg *config.Config, logs *repository.APILogRepo, geo *geoip.Client) *SummaryService {
	return &SummaryService{
		cfg:  cfg.Security,
		logs: logs,
		geo:  geo,
		slow: float64(cfg.Logging.SlowThresholdMs),
		very: float64(cfg.Logging.VerySlowThresholdMs),
	}
}

// Summarize builds the report over the trailing window. Days outside
// 1..365 fall back to 7.
func (s *SummaryService) Summarize(ctx context.Context, days int) (*model.Summary, error) {
	if days < 1 || days > 365 {
		days = 7
	}
	now := time.Now().UTC()
	start := now.AddDate(0, 0, -days)

	total, err := s.logs.CountSince(ctx, start)
	if err != nil {
		return nil, err
	}
	overview, err := s.overview(ctx, start, total)
	if err != nil {
		return nil, err
	}
	endpoints, err := s.endpointStats(ctx, start)
	if err != nil {
		return nil, err
	}
	perf, err := s.performance(ctx, start, total)
	if err != nil {
		return nil, err
	}
	security, err := s.security(ctx, start)
	if err != nil {
		return nil, err
	}
	errs, err := s.errorSummary(ctx, start)
	if err != nil {
		return nil, err
	}
	traffic, err := s.traffic(ctx, start)
	if err != nil {
		return nil, err
	}
	geo, err := s.geographic(ctx, start)
	if err != nil {
		return nil, err
	}

	return &model.Summary{
		Period: model.Period{
			Days:      days,
			StartDate: start.Format("2006-01-02"),
			EndDate:   now.Format("2006-01-02"),
		},
		Overview:    *overview,
		Endpoints:   endpoints,
		Performance: *perf,
		Security:    *security,
		Errors:      *errs,
		Traffic:     *traffic,
		Geographic:  *geo,
	}, nil
}

func (s *SummaryService) overview(ctx context.Context, start time.Time, total int64) (*model.Overview, error) {
	ips, err := s.logs.CountDistinctIPs(ctx, start)
	if err != nil {
		return nil, err
	}
	users, err := s.logs.CountDistinctUsers(ctx, start)
	if err != nil {
		return nil, err
	}
	avg, err := s.logs.AvgResponseTime(ctx, start)
	if err != nil {
		return nil, err
	}
	size, err := s.logs.SumResponseSize(ctx, start)
	if err != nil {
		return nil, err
	}
	hits, err := s.logs.CountCacheHits(ctx, start)
	if err != nil {
		return nil, err
	}

	hitRate := 0.0
	if total > 0 {
		hitRate = roundTo(float64(hits)/float64(total)*100, 2)
	}

	return &model.Overview{
		TotalRequests:          total,
		UniqueIPs:              ips,
		UniqueUsers:            users,
		AverageResponseTimeMs:  roundTo(avg, 2),
		TotalDataTransferredMB: roundTo(float64(size)/1024/1024, 2),
		CacheHitRate:           hitRate,
	}, nil
}

func (s *SummaryService) endpointStats(ctx context.Context, start time.Time) ([]model.EndpointStat, error) {
	rows, err := s.logs.EndpointStats(ctx, start, 20)
	if err != nil {
		return nil, err
	}
	stats := make([]model.EndpointStat, 0, len(rows))
	for _, r := range rows {
		stats = append(stats, model.EndpointStat{
			Endpoint:          r.Method + " " + r.Endpoint,
			Requests:          r.RequestCount,
			AvgResponseTimeMs: roundTo(r.AvgResponseTime, 2),
			MaxResponseTimeMs: roundTo(r.MaxResponseTime, 2),
			ErrorRate:         percentOf(r.ErrorCount, r.RequestCount),
		})
	}
	return stats, nil
}

func (s *SummaryService) performance(ctx context.Context, start time.Time, total int64) (*model.Performance, error) {
	slowCount, err := s.logs.CountSlowerThan(ctx, start, s.slow)
	if err != nil {
		return nil, err
	}
	veryCount, err := s.logs.CountSlowerThan(ctx, start, s.very)
	if err != nil {
		return nil, err
	}
	times, err := s.logs.ResponseTimes(ctx, start)
	if err != nil {
		return nil, err
	}
	slowest, err := s.logs.SlowestEndpoints(ctx, start, 10)
	if err != nil {
		return nil, err
	}

	slowestStats := make([]model.SlowEndpoint, 0, len(slowest))
	for _, r := range slowest {
		slowestStats = append(slowestStats, model.SlowEndpoint{
			Endpoint:          r.Method + " " + r.Endpoint,
			AvgResponseTimeMs: roundTo(r.AvgResponseTime, 2),
			MaxResponseTimeMs: roundTo(r.MaxResponseTime, 2),
			RequestCount:      r.RequestCount,
		})
	}

	return &model.Performance{
		SlowRequests: model.ThresholdCount{
			Count:      slowCount,
			Percentage: sharePercent(slowCount, total),
		},
		VerySlowRequests: model.ThresholdCount{
			Count:      veryCount,
			Percentage: sharePercent(veryCount, total),
		},
		Percentiles: model.Percentiles{
			P50: percentile(times, 0.50),
			P90: percentile(times, 0.90),
			P95: percentile(times, 0.95),
			P99: percentile(times, 0.99),
		},
		SlowestEndpoints: slowestStats,
	}, nil
}

// percentile uses nearest-rank on an ascending slice: index floor(n*p),
// clamped to the last element. Zero when the window is empty.
func percentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	idx := int(float64(n) * p)
	if idx >= n {
		idx = n - 1
	}
	return roundTo(sorted[idx], 2)
}

func (s *SummaryService) security(ctx context.Context, start time.Time) (*model.SecuritySummary, error) {
	suspicious, err := s.logs.SuspiciousIPs(ctx, start, suspiciousMinRequests, suspiciousMinErrors, suspiciousIPLimit)
	if err != nil {
		return nil, err
	}
	suspicious = s.geo.EnrichSuspiciousIPs(ctx, suspicious)

	unauthorized, err := s.logs.CountByStatus(ctx, start, 401)
	if err != nil {
		return nil, err
	}
	forbidden, err := s.logs.CountByStatus(ctx, start, 403)
	if err != nil {
		return nil, err
	}
	admin, err := s.logs.CountAdminEndpoints(ctx, start)
	if err != nil {
		return nil, err
	}

	bots := make(map[string]int64, len(s.cfg.BotPatterns))
	for _, pattern := range s.cfg.BotPatterns {
		n, err := s.logs.CountUserAgentLike(ctx, start, pattern)
		if err != nil {
			return nil, err
		}
		if n > 0 {
			bots[pattern] = n
		}
	}

	return &model.SecuritySummary{
		FailedAuthAttempts:  unauthorized,
		ForbiddenAttempts:   forbidden,
		SuspiciousIPs:       suspicious,
		BotRequests:         bots,
		AdminAccessAttempts: admin,
	}, nil
}

func (s *SummaryService) errorSummary(ctx context.Context, start time.Time) (*model.ErrorSummary, error) {
	breakdown, err := s.logs.StatusCodeBreakdown(ctx, start)
	if err != nil {
		return nil, err
	}
	byEndpoint, err := s.logs.ErrorsByEndpoint(ctx, start, 10)
	if err != nil {
		return nil, err
	}
	common, err := s.logs.MostCommonErrors(ctx, start, 10)
	if err != nil {
		return nil, err
	}
	return &model.ErrorSummary{
		StatusCodeBreakdown: breakdown,
		ErrorRateByEndpoint: byEndpoint,
		MostCommonErrors:    common,
	}, nil
}

func (s *SummaryService) traffic(ctx context.Context, start time.Time) (*model.TrafficPatterns, error) {
	byHour, err := s.logs.RequestsByHour(ctx, start)
	if err != nil {
		return nil, err
	}
	byDay, err := s.logs.RequestsByDay(ctx, start)
	if err != nil {
		return nil, err
	}
	agents, err := s.logs.TopUserAgents(ctx, start, 10)
	if err != nil {
		return nil, err
	}
	return &model.TrafficPatterns{
		RequestsByHour: byHour,
		RequestsByDay:  byDay,
		TopUserAgents:  agents,
	}, nil
}

func (s *SummaryService) geographic(ctx context.Context, start time.Time) (*model.GeographicStats, error) {
	ipCounts, err := s.logs.IPCounts(ctx, start)
	if err != nil {
		return nil, err
	}

	countries := s.geo.CountryStats(ctx, ipCounts)

	topCountries := countries
	if len(topCountries) > 10 {
		topCountries = topCountries[:10]
	}

	var mostActive *model.CountryStat
	if len(countries) > 0 {
		mostActive = &countries[0]
	}

	return &model.GeographicStats{
		Countries:         topCountries,
		Cities:            s.topCities(ctx, ipCounts),
		TotalCountries:    len(countries),
		MostActiveCountry: mostActive,
	}, nil
}

// topCities groups traffic by (city, country) across distinct IPs.
// IPs that resolve without a usable city are skipped.
func (s *SummaryService) topCities(ctx context.Context, ipCounts []model.IPRequestCount) []model.CityStat {
	type key struct{ city, country string }
	totals := make(map[key]*model.CityStat)
	for _, ic := range ipCounts {
		loc := s.geo.Resolve(ctx, ic.IP)
		if loc == nil || loc.City == "" || loc.City == "Unknown" {
			continue
		}
		k := key{city: loc.City, country: loc.Country}
		st, ok := totals[k]
		if !ok {
			st = &model.CityStat{City: loc.City, Country: loc.Country, CountryCode: loc.CountryCode}
			totals[k] = st
		}
		st.RequestCount += ic.Count
		st.UniqueIPs++
	}

	cities := make([]model.CityStat, 0, len(totals))
	for _, st := range totals {
		cities = append(cities, *st)
	}
	sort.Slice(cities, func(i, j int) bool {
		if cities[i].RequestCount != cities[j].RequestCount {
			return cities[i].RequestCount > cities[j].RequestCount
		}
		return cities[i].City < cities[j].City
	})
	if len(cities) > 10 {
		cities = cities[:10]
	}
	return cities
}

func sharePercent(part, total int64) float64 {
	if total == 0 {
		return 0
	}
	return roundTo(float64(part)/float64(total)*100, 2)
}

// percentOf renders an error ratio as "NN%" without trailing zeros.
func percentOf(part, total int64) string {
	if total == 0 {
		return "0%"
	}
	v := roundTo(float64(part)/float64(total)*100, 2)
	return strconv.FormatFloat(v, 'f', -1, 64) + "%"
}
