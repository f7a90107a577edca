package security

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"
	"time"

	"github.com/tomevault/tomevault/internal/config"
	"github.com/tomevault/tomevault/internal/model"
	"github.com/tomevault/tomevault/internal/pkg/logger"
)

var sqlInjectionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)union\s+select`),
	regexp.MustCompile(`(?i)drop\s+table`),
	regexp.MustCompile(`(?i)delete\s+from`),
	regexp.MustCompile(`(?i)insert\s+into`),
	regexp.MustCompile(`(?i)update\s+.*set`),
	regexp.MustCompile(`(?i)exec\s*\(`),
}

// RequestCounter is the slice of the log store the burst heuristic needs.
type RequestCounter interface {
	CountByIPSince(ctx context.Context, ip string, since time.Time) (int64, error)
}

// Analyzer runs per-request pattern heuristics over completed requests.
// Both checks are always evaluated; neither short-circuits the other.
type Analyzer struct {
	cfg     config.SecurityConfig
	counter RequestCounter
}

func NewAnalyzer(cfg config.SecurityConfig, counter RequestCounter) *Analyzer {
	return &Analyzer{cfg: cfg, counter: counter}
}

func (a *Analyzer) Analyze(ctx context.Context, requestData map[string]any, userAgent, clientIP string) model.SecurityFlags {
	return model.SecurityFlags{
		SQLInjectionSuspected:   DetectSQLInjection(requestData),
		UnusualPatternSuspected: a.DetectUnusualPattern(ctx, userAgent, clientIP),
	}
}

// DetectSQLInjection matches the serialized request body against known
// injection signatures.
func DetectSQLInjection(requestData map[string]any) bool {
	if len(requestData) == 0 {
		return false
	}
	serialized, err := json.Marshal(requestData)
	if err != nil {
		return false
	}
	for _, pattern := range sqlInjectionPatterns {
		if pattern.Match(serialized) {
			return true
		}
	}
	return false
}

// DetectUnusualPattern flags bot-like user agents and request bursts
// from a single client IP.
func (a *Analyzer) DetectUnusualPattern(ctx context.Context, userAgent, clientIP string) bool {
	agentLower := strings.ToLower(userAgent)
	for _, pattern := range []string{"curl", "wget", "python-requests", "bot", "crawler"} {
		if strings.Contains(agentLower, pattern) {
			return true
		}
	}

	if a.counter == nil {
		return false
	}
	since := time.Now().Add(-a.cfg.BurstWindow())
	count, err := a.counter.CountByIPSince(ctx, clientIP, since)
	if err != nil {
		// Heuristic only; a store failure must not fail the request.
		logger.LogError(ctx, err, "Burst check failed", "ip", clientIP)
		return false
	}
	// The record under analysis is not stored yet, so it counts as +1.
	return count+1 > int64(a.cfg.BurstLimit)
}
