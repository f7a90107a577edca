package geoip

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomevault/tomevault/internal/config"
	"github.com/tomevault/tomevault/internal/model"
)

func testGeoConfig(providerURL string) config.GeoIPConfig {
	return config.GeoIPConfig{
		ProviderURL:    providerURL,
		TimeoutSeconds: 2,
		Retries:        2,
		RetryBackoffMs: 1,
		CacheTTLHours:  24,
	}
}

func testSecurity() config.SecurityConfig {
	return config.SecurityConfig{
		HostingKeywords:  []string{"aws", "amazon", "hosting", "cloud"},
		WatchedCountries: []string{"CN", "RU", "KP"},
	}
}

func TestResolveLocalIPs(t *testing.T) {
	c := NewClient(testGeoConfig("http://unreachable.invalid"), testSecurity(), NewMemoryCache())

	for _, ip := range []string{"127.0.0.1", "10.0.0.5", "192.168.1.1", "::1", "not-an-ip", ""} {
		loc := c.Resolve(context.Background(), ip)
		require.NotNil(t, loc, "ip %q", ip)
		assert.Equal(t, "Local", loc.Country)
		assert.Equal(t, "LOCAL", loc.CountryCode)
	}
}

func TestResolveFetchesAndCaches(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"status": "success",
			"country": "Netherlands", "countryCode": "NL",
			"regionName": "North Holland", "city": "Amsterdam",
			"timezone": "Europe/Amsterdam",
			"isp": "Example ISP", "org": "Example Org", "as": "AS64500"
		}`))
	}))
	defer srv.Close()

	c := NewClient(testGeoConfig(srv.URL), testSecurity(), NewMemoryCache())

	loc := c.Resolve(context.Background(), "203.0.113.9")
	require.NotNil(t, loc)
	assert.Equal(t, "Netherlands", loc.Country)
	assert.Equal(t, "Amsterdam", loc.City)

	// Second lookup is served from cache.
	again := c.Resolve(context.Background(), "203.0.113.9")
	require.NotNil(t, again)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestResolveProviderFailureReturnsNil(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status": "fail", "message": "private range"}`))
	}))
	defer srv.Close()

	c := NewClient(testGeoConfig(srv.URL), testSecurity(), NewMemoryCache())
	assert.Nil(t, c.Resolve(context.Background(), "203.0.113.9"))
}

func TestResolveRetriesOnServerError(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`{"status": "success", "country": "Norway", "countryCode": "NO"}`))
	}))
	defer srv.Close()

	c := NewClient(testGeoConfig(srv.URL), testSecurity(), NewMemoryCache())
	loc := c.Resolve(context.Background(), "203.0.113.9")
	require.NotNil(t, loc)
	assert.Equal(t, "Norway", loc.Country)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestIsHostingProvider(t *testing.T) {
	c := NewClient(testGeoConfig(""), testSecurity(), NewMemoryCache())
	assert.True(t, c.IsHostingProvider("Amazon Technologies Inc."))
	assert.True(t, c.IsHostingProvider("Some Cloud Company"))
	assert.False(t, c.IsHostingProvider("Residential Telecom AB"))
}

func TestRiskScoreTiers(t *testing.T) {
	c := NewClient(testGeoConfig(""), testSecurity(), NewMemoryCache())

	low := c.RiskScore(&model.SuspiciousIP{
		Requests: 50, ErrorRate: "5%", UniqueEndpoints: 2,
	}, &model.GeoLocation{ISP: "Residential", CountryCode: "SE"})
	assert.Equal(t, 0, low)

	mid := c.RiskScore(&model.SuspiciousIP{
		Requests: 600, ErrorRate: "30%", UniqueEndpoints: 12,
	}, &model.GeoLocation{ISP: "Residential", CountryCode: "SE"})
	assert.Equal(t, 20+15+10, mid)

	nilLoc := c.RiskScore(&model.SuspiciousIP{Requests: 150, ErrorRate: "15%"}, nil)
	assert.Equal(t, 10+10, nilLoc)
}

func TestRiskScoreIsCappedAt100(t *testing.T) {
	c := NewClient(testGeoConfig(""), testSecurity(), NewMemoryCache())

	score := c.RiskScore(&model.SuspiciousIP{
		Requests: 5000, ErrorRate: "90%", UniqueEndpoints: 50,
	}, &model.GeoLocation{ISP: "AWS EC2", CountryCode: "RU"})
	assert.Equal(t, 100, score)
}

func TestMemoryCacheExpiry(t *testing.T) {
	cache := NewMemoryCache()
	ctx := context.Background()
	loc := &model.GeoLocation{Country: "Iceland"}

	cache.Set(ctx, "198.51.100.1", loc, 50*time.Millisecond)
	got, ok := cache.Get(ctx, "198.51.100.1")
	require.True(t, ok)
	assert.Equal(t, "Iceland", got.Country)

	time.Sleep(80 * time.Millisecond)
	_, ok = cache.Get(ctx, "198.51.100.1")
	assert.False(t, ok)
}

func TestCountryStats(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status": "success", "country": "Germany", "countryCode": "DE"}`))
	}))
	defer srv.Close()

	c := NewClient(testGeoConfig(srv.URL), testSecurity(), NewMemoryCache())
	stats := c.CountryStats(context.Background(), []model.IPRequestCount{
		{IP: "203.0.113.1", Count: 7},
		{IP: "203.0.113.2", Count: 3},
		{IP: "127.0.0.1", Count: 100},
	})

	require.Len(t, stats, 2)
	assert.Equal(t, "Local", stats[0].Country)
	assert.Equal(t, int64(100), stats[0].RequestCount)
	assert.Equal(t, "Germany", stats[1].Country)
	assert.Equal(t, int64(10), stats[1].RequestCount)
	assert.Equal(t, 2, stats[1].UniqueIPs)
}
