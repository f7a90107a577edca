package geoip

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/tomevault/tomevault/internal/config"
	"github.com/tomevault/tomevault/internal/model"
	"github.com/tomevault/tomevault/internal/pkg/logger"
	"github.com/tomevault/tomevault/internal/pkg/metrics"
)

// Client resolves an IP to coarse location/ISP data. Lookups are cached,
// local IPs never leave the process, and provider failures resolve to
// nil so callers treat them as "unknown location".
type Client struct {
	cfg        config.GeoIPConfig
	security   config.SecurityConfig
	httpClient *http.Client
	cache      Cache
}

func NewClient(cfg config.GeoIPConfig, security config.SecurityConfig, cache Cache) *Client {
	if cache == nil {
		cache = NewMemoryCache()
	}
	return &Client{
		cfg:        cfg,
		security:   security,
		httpClient: &http.Client{Timeout: cfg.Timeout()},
		cache:      cache,
	}
}

// providerResponse matches the ip-api.com JSON field set.
type providerResponse struct {
	Status      string `json:"status"`
	Message     string `json:"message"`
	Country     string `json:"country"`
	CountryCode string `json:"countryCode"`
	RegionName  string `json:"regionName"`
	City        string `json:"city"`
	Timezone    string `json:"timezone"`
	ISP         string `json:"isp"`
	Org         string `json:"org"`
	AS          string `json:"as"`
}

// Resolve returns the location for ip, or nil when unknown. It never
// returns an error: a failed lookup must not fail the caller.
func (c *Client) Resolve(ctx context.Context, ip string) *model.GeoLocation {
	if isLocalIP(ip) {
		metrics.GeoLookups.WithLabelValues("local").Inc()
		return &model.GeoLocation{
			Country:     "Local",
			CountryCode: "LOCAL",
			Region:      "Local Network",
			City:        "Local",
			Timezone:    "UTC",
			ISP:         "Local Network",
		}
	}

	if loc, ok := c.cache.Get(ctx, ip); ok {
		metrics.GeoLookups.WithLabelValues("hit").Inc()
		return loc
	}

	loc := c.fetch(ctx, ip)
	if loc == nil {
		metrics.GeoLookups.WithLabelValues("error").Inc()
		return nil
	}
	metrics.GeoLookups.WithLabelValues("miss").Inc()
	c.cache.Set(ctx, ip, loc, c.cfg.CacheTTL())
	return loc
}

func (c *Client) fetch(ctx context.Context, ip string) *model.GeoLocation {
	endpoint := strings.TrimSuffix(c.cfg.ProviderURL, "/") + "/" + url.PathEscape(ip) +
		"?fields=status,message,country,countryCode,region,regionName,city,timezone,isp,org,as,query"

	var lastErr error
	attempts := c.cfg.Retries + 1
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(c.cfg.RetryBackoff()):
			case <-ctx.Done():
				return nil
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			continue
		}

		var data providerResponse
		decodeErr := json.NewDecoder(resp.Body).Decode(&data)
		resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			lastErr = fmt.Errorf("provider returned status %d", resp.StatusCode)
			continue
		}
		if decodeErr != nil {
			lastErr = decodeErr
			continue
		}
		if data.Status != "success" {
			logger.Warn("GeoIP provider reported failure", "ip", ip, "message", data.Message)
			return nil
		}

		org := data.Org
		if org == "" {
			org = data.ISP
		}
		return &model.GeoLocation{
			Country:     data.Country,
			CountryCode: data.CountryCode,
			Region:      data.RegionName,
			City:        data.City,
			Timezone:    data.Timezone,
			ISP:         data.ISP,
			Org:         org,
			AS:          data.AS,
		}
	}

	logger.LogError(ctx, lastErr, "Failed to fetch IP location", "ip", ip)
	return nil
}

// CountryStats resolves each IP (cache-backed) and sums request counts
// per country, sorted descending by request count.
func (c *Client) CountryStats(ctx context.Context, ipCounts []model.IPRequestCount) []model.CountryStat {
	byCountry := make(map[string]*model.CountryStat)
	for _, ic := range ipCounts {
		country, code := "Unknown", "XX"
		if loc := c.Resolve(ctx, ic.IP); loc != nil {
			country, code = loc.Country, loc.CountryCode
		}
		stat, ok := byCountry[country]
		if !ok {
			stat = &model.CountryStat{Country: country, CountryCode: code}
			byCountry[country] = stat
		}
		stat.RequestCount += ic.Count
		stat.UniqueIPs++
	}

	stats := make([]model.CountryStat, 0, len(byCountry))
	for _, stat := range byCountry {
		stats = append(stats, *stat)
	}
	sort.Slice(stats, func(i, j int) bool {
		if stats[i].RequestCount != stats[j].RequestCount {
			return stats[i].RequestCount > stats[j].RequestCount
		}
		return stats[i].Country < stats[j].Country
	})
	return stats
}

// EnrichSuspiciousIPs attaches location, hosting classification and a
// risk score to each suspicious-IP record.
func (c *Client) EnrichSuspiciousIPs(ctx context.Context, ips []model.SuspiciousIP) []model.SuspiciousIP {
	for i := range ips {
		loc := c.Resolve(ctx, ips[i].IP)
		ips[i].Country = "Unknown"
		ips[i].CountryCode = "XX"
		ips[i].City = "Unknown"
		ips[i].ISP = "Unknown"
		if loc != nil {
			ips[i].Country = loc.Country
			ips[i].CountryCode = loc.CountryCode
			ips[i].City = loc.City
			ips[i].ISP = loc.ISP
		}
		ips[i].IsHosting = c.IsHostingProvider(ips[i].ISP)
		ips[i].RiskScore = c.RiskScore(&ips[i], loc)
	}
	return ips
}

func (c *Client) IsHostingProvider(isp string) bool {
	ispLower := strings.ToLower(isp)
	for _, keyword := range c.security.HostingKeywords {
		if strings.Contains(ispLower, keyword) {
			return true
		}
	}
	return false
}

// RiskScore grades a suspicious IP 0-100. Each factor contributes its
// highest matching tier only; the sum is capped at 100.
func (c *Client) RiskScore(ip *model.SuspiciousIP, loc *model.GeoLocation) int {
	score := 0

	errorRate, _ := strconv.ParseFloat(strings.TrimSuffix(ip.ErrorRate, "%"), 64)
	switch {
	case errorRate > 50:
		score += 30
	case errorRate > 25:
		score += 20
	case errorRate > 10:
		score += 10
	}

	switch {
	case ip.Requests > 1000:
		score += 25
	case ip.Requests > 500:
		score += 15
	case ip.Requests > 100:
		score += 10
	}

	// Many unique endpoints suggests scanning
	switch {
	case ip.UniqueEndpoints > 20:
		score += 20
	case ip.UniqueEndpoints > 10:
		score += 10
	}

	isp := ""
	countryCode := ""
	if loc != nil {
		isp = loc.ISP
		countryCode = loc.CountryCode
	}
	if c.IsHostingProvider(isp) {
		score += 15
	}
	for _, watched := range c.security.WatchedCountries {
		if countryCode == watched {
			score += 10
			break
		}
	}

	if score > 100 {
		score = 100
	}
	return score
}

func isLocalIP(ip string) bool {
	if ip == "localhost" || ip == "" {
		return true
	}
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return true
	}
	return parsed.IsLoopback() || parsed.IsPrivate() || parsed.IsLinkLocalUnicast() || parsed.IsUnspecified()
}
