package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/servicoscor/dashboard-radares/internal/radar/fetchers"
	"github.com/servicoscor/dashboard-radares/internal/ratelimit"
)

type AppConfig struct {
	Port string

	// CacheDir holds one directory per source plus exports.
	CacheDir string

	FTP fetchers.FTPConfig

	SumareBaseURL string
	HTTPTimeout   time.Duration

	// SyncInterval is the pause between scheduler ticks.
	SyncInterval time.Duration
	// SyncTimeout bounds each fetch or eviction step of a tick.
	SyncTimeout time.Duration

	// Retention.
	CacheMaxAge  time.Duration // source frames
	ExportMaxAge time.Duration // derivative exports

	AdminToken string

	RateLimitWindow time.Duration
	RateLimitRead   int
	RateLimitExport int
	RateLimitSync   int

	// FrameLocation is the time zone capture times in frame names are written in.
	FrameLocation *time.Location
}

// Load reads configuration from environment with sensible defaults.
func Load() (*AppConfig, error) {
	cfg := &AppConfig{}
	var err error

	cfg.Port = getenvDefault("PORT", "8080")
	cfg.CacheDir = getenvDefault("CACHE_DIR", "./cache")
	cfg.AdminToken = os.Getenv("ADMIN_TOKEN")
	cfg.SumareBaseURL = getenvDefault("SUMARE_BASE_URL", fetchers.DefaultAlertaRioBaseURL)

	cfg.FTP = fetchers.FTPConfig{
		Host:     os.Getenv("FTP_HOST"),
		Port:     getenvInt("FTP_PORT", 21),
		User:     os.Getenv("FTP_USER"),
		Password: os.Getenv("FTP_PASSWORD"),
		Path:     getenvDefault("FTP_PATH", "/"),
		Pattern:  getenvDefault("FTP_PATTERN", fetchers.DefaultFTPPattern),
	}
	if cfg.FTP.Timeout, err = getenvDuration("FTP_TIMEOUT", "30s"); err != nil {
		return nil, err
	}
	if cfg.HTTPTimeout, err = getenvDuration("HTTP_TIMEOUT", "10s"); err != nil {
		return nil, err
	}
	if cfg.SyncInterval, err = getenvDuration("SYNC_INTERVAL", "2m"); err != nil {
		return nil, err
	}
	if cfg.SyncTimeout, err = getenvDuration("SYNC_TIMEOUT", "3m"); err != nil {
		return nil, err
	}
	if cfg.CacheMaxAge, err = getenvDuration("CACHE_MAX_AGE", "24h"); err != nil {
		return nil, err
	}
	if cfg.ExportMaxAge, err = getenvDuration("EXPORT_MAX_AGE", "1h"); err != nil {
		return nil, err
	}
	if cfg.RateLimitWindow, err = getenvDuration("RATE_LIMIT_WINDOW", "60s"); err != nil {
		return nil, err
	}

	cfg.RateLimitRead = getenvInt("RATE_LIMIT_READ", 120)
	cfg.RateLimitExport = getenvInt("RATE_LIMIT_EXPORT", 5)
	cfg.RateLimitSync = getenvInt("RATE_LIMIT_SYNC", 3)

	tz := getenvDefault("FRAME_TIMEZONE", "UTC")
	if cfg.FrameLocation, err = time.LoadLocation(tz); err != nil {
		return nil, fmt.Errorf("invalid FRAME_TIMEZONE: %w", err)
	}

	return cfg, nil
}

// RateLimiter builds the request limiter for the configured quotas.
func (c *AppConfig) RateLimiter() *ratelimit.Limiter {
	return ratelimit.New(c.RateLimitWindow, map[ratelimit.Category]int{
		ratelimit.CategoryExport: c.RateLimitExport,
		ratelimit.CategorySync:   c.RateLimitSync,
	}, c.RateLimitRead)
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
	}
	return def
}

func getenvDuration(key, def string) (time.Duration, error) {
	d, err := time.ParseDuration(getenvDefault(key, def))
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
