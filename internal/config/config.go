package config

import (
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	GeoIP     GeoIPConfig     `mapstructure:"geoip"`
	Security  SecurityConfig  `mapstructure:"security"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

type ServerConfig struct {
	Port string `mapstructure:"port"`
}

type AuthConfig struct {
	Tokens []TokenConfig `mapstructure:"tokens"`
}

// TokenConfig maps a static bearer token to the user it authenticates.
// Token issuance itself lives in an external identity service.
type TokenConfig struct {
	Token    string `mapstructure:"token"`
	UserID   string `mapstructure:"user_id"`
	UserType string `mapstructure:"user_type"`
}

type DatabaseConfig struct {
	Driver                 string `mapstructure:"driver"` // "postgres" or "sqlite"
	DSN                    string `mapstructure:"dsn"`
	LogRetentionDays       int    `mapstructure:"log_retention_days"`
	CleanupIntervalMinutes int    `mapstructure:"cleanup_interval_minutes"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type LoggingConfig struct {
	Level                string  `mapstructure:"level"`
	UseQueue             bool    `mapstructure:"use_queue"`
	QueueSize            int     `mapstructure:"queue_size"`
	BatchDelaySeconds    int     `mapstructure:"batch_delay_seconds"`
	SlowThresholdMs      float64 `mapstructure:"slow_request_threshold_ms"`
	VerySlowThresholdMs  float64 `mapstructure:"very_slow_request_threshold_ms"`
	PerformanceLogging   bool    `mapstructure:"performance_logging"`
	ResponsePreviewChars int     `mapstructure:"response_preview_chars"`
}

type GeoIPConfig struct {
	ProviderURL    string `mapstructure:"provider_url"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	Retries        int    `mapstructure:"retries"`
	RetryBackoffMs int    `mapstructure:"retry_backoff_ms"`
	CacheTTLHours  int    `mapstructure:"cache_ttl_hours"`
}

type SecurityConfig struct {
	BotPatterns        []string `mapstructure:"bot_patterns"`
	HostingKeywords    []string `mapstructure:"hosting_keywords"`
	WatchedCountries   []string `mapstructure:"watched_countries"`
	BurstLimit         int      `mapstructure:"burst_limit"`
	BurstWindowSeconds int      `mapstructure:"burst_window_seconds"`
}

type RateLimitConfig struct {
	Enabled bool    `mapstructure:"enabled"`
	RPS     float64 `mapstructure:"rps"`
	Burst   int     `mapstructure:"burst"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

func (c *GeoIPConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

func (c *GeoIPConfig) RetryBackoff() time.Duration {
	return time.Duration(c.RetryBackoffMs) * time.Millisecond
}

func (c *GeoIPConfig) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLHours) * time.Hour
}

func (c *LoggingConfig) BatchDelay() time.Duration {
	return time.Duration(c.BatchDelaySeconds) * time.Second
}

func (c *SecurityConfig) BurstWindow() time.Duration {
	return time.Duration(c.BurstWindowSeconds) * time.Second
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./configs")

	// Environment variables support
	// e.g. TOMEVAULT_DATABASE_DSN
	viper.SetEnvPrefix("tomevault")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Defaults
	viper.SetDefault("server.port", "8080")
	viper.SetDefault("database.driver", "postgres")
	viper.SetDefault("database.log_retention_days", 30)
	viper.SetDefault("database.cleanup_interval_minutes", 60)

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.use_queue", false)
	viper.SetDefault("logging.queue_size", 1000)
	viper.SetDefault("logging.batch_delay_seconds", 2)
	viper.SetDefault("logging.slow_request_threshold_ms", 1000)
	viper.SetDefault("logging.very_slow_request_threshold_ms", 5000)
	viper.SetDefault("logging.performance_logging", true)
	viper.SetDefault("logging.response_preview_chars", 1000)

	viper.SetDefault("geoip.provider_url", "http://ip-api.com/json/")
	viper.SetDefault("geoip.timeout_seconds", 5)
	viper.SetDefault("geoip.retries", 2)
	viper.SetDefault("geoip.retry_backoff_ms", 100)
	viper.SetDefault("geoip.cache_ttl_hours", 24)

	viper.SetDefault("security.bot_patterns", []string{"bot", "crawler", "spider", "curl", "wget"})
	viper.SetDefault("security.hosting_keywords", []string{
		"aws", "amazon", "google", "microsoft", "azure", "digitalocean",
		"linode", "vultr", "hetzner", "ovh", "cloudflare", "hosting",
		"datacenter", "server", "cloud", "vps",
	})
	viper.SetDefault("security.watched_countries", []string{"CN", "RU", "KP"})
	viper.SetDefault("security.burst_limit", 60)
	viper.SetDefault("security.burst_window_seconds", 60)

	viper.SetDefault("rate_limit.enabled", false)
	viper.SetDefault("rate_limit.rps", 50)
	viper.SetDefault("rate_limit.burst", 100)

	viper.SetDefault("metrics.enabled", true)
	viper.SetDefault("metrics.path", "/metrics")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			log.Println("No config file found, using defaults and env vars")
		} else {
			return nil, err
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}
