// Package config loads and validates policy crawler configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/insurdocs/policy-crawler/internal/crawler"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Crawler  CrawlerConfig  `mapstructure:"crawler"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Download DownloadConfig `mapstructure:"download"`
	Storage  StorageConfig  `mapstructure:"storage"`
	DB       DBConfig       `mapstructure:"db"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// CrawlerConfig governs frontier traversal and session limits.
type CrawlerConfig struct {
	UserAgent        string   `mapstructure:"user_agent"`
	Mode             string   `mapstructure:"mode"`
	DelayMs          int      `mapstructure:"delay_ms"`
	MaxProbesPerPage int      `mapstructure:"max_probes_per_page"`
	TrackingParams   []string `mapstructure:"tracking_params"`
	MaxPages         int      `mapstructure:"max_pages"`
	MaxMinutes       int      `mapstructure:"max_minutes"`
	MaxConcurrent    int      `mapstructure:"max_concurrent"`
	RespectRobots    bool     `mapstructure:"respect_robots"`
}

// HTTPConfig configures HTTP client timeout and retry behavior.
type HTTPConfig struct {
	ConnectTimeoutSeconds int `mapstructure:"connect_timeout_seconds"`
	ReadTimeoutSeconds    int `mapstructure:"read_timeout_seconds"`
	TotalTimeoutSeconds   int `mapstructure:"total_timeout_seconds"`
	MaxRetries            int `mapstructure:"max_retries"`
	BackoffInitialMs      int `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs          int `mapstructure:"backoff_max_ms"`
}

// DownloadConfig bounds individual PDF downloads.
type DownloadConfig struct {
	MaxFileMB      int `mapstructure:"max_file_mb"`
	ChunkKB        int `mapstructure:"chunk_kb"`
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
}

// StorageConfig sets the local document tree root.
type StorageConfig struct {
	Root string `mapstructure:"root"`
}

// DBConfig controls access to Postgres. An empty DSN selects the in-memory
// store.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int    `mapstructure:"max_conns"`
	MinConns int    `mapstructure:"min_conns"`
}

// CacheConfig tunes the aggregate view cache.
type CacheConfig struct {
	TTLSeconds int `mapstructure:"ttl_seconds"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment. Environment variables use the
// POLICYCRAWLER prefix with dots replaced by underscores.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("POLICYCRAWLER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("crawler.user_agent", "insurdocs-policy-bot/1.0")
	v.SetDefault("crawler.mode", "breadth")
	v.SetDefault("crawler.delay_ms", 500)
	v.SetDefault("crawler.max_probes_per_page", 25)
	v.SetDefault("crawler.max_pages", 500)
	v.SetDefault("crawler.max_minutes", 60)
	v.SetDefault("crawler.max_concurrent", 3)
	v.SetDefault("crawler.respect_robots", true)
	v.SetDefault("http.connect_timeout_seconds", 10)
	v.SetDefault("http.read_timeout_seconds", 20)
	// Must cover the download window; the downloader shares this client.
	v.SetDefault("http.total_timeout_seconds", 180)
	v.SetDefault("http.max_retries", 2)
	v.SetDefault("http.backoff_initial_ms", 250)
	v.SetDefault("http.backoff_max_ms", 5000)
	v.SetDefault("download.max_file_mb", 50)
	v.SetDefault("download.chunk_kb", 64)
	v.SetDefault("download.timeout_seconds", 120)
	v.SetDefault("storage.root", "./data/documents")
	v.SetDefault("db.max_conns", 8)
	v.SetDefault("db.min_conns", 1)
	v.SetDefault("cache.ttl_seconds", 30)
	v.SetDefault("logging.development", false)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Crawler.Mode != "breadth" && c.Crawler.Mode != "depth" {
		return fmt.Errorf("crawler.mode must be breadth or depth")
	}
	if c.Crawler.MaxPages <= 0 {
		return fmt.Errorf("crawler.max_pages must be > 0")
	}
	if c.Crawler.MaxMinutes <= 0 {
		return fmt.Errorf("crawler.max_minutes must be > 0")
	}
	if c.Crawler.MaxConcurrent <= 0 {
		return fmt.Errorf("crawler.max_concurrent must be > 0")
	}
	if c.Download.MaxFileMB <= 0 {
		return fmt.Errorf("download.max_file_mb must be > 0")
	}
	if c.Storage.Root == "" {
		return fmt.Errorf("storage.root is required")
	}
	return nil
}

// CrawlerSettings converts the config into the settings struct the pipeline
// components consume.
func (c Config) CrawlerSettings() crawler.Settings {
	return crawler.Settings{
		UserAgent:        c.Crawler.UserAgent,
		Mode:             c.Crawler.Mode,
		RequestDelay:     time.Duration(c.Crawler.DelayMs) * time.Millisecond,
		MaxProbesPerPage: c.Crawler.MaxProbesPerPage,
		TrackingParams:   c.Crawler.TrackingParams,

		MaxPagesAbsolute:   c.Crawler.MaxPages,
		MaxMinutesAbsolute: c.Crawler.MaxMinutes,
		MaxConcurrent:      c.Crawler.MaxConcurrent,
		RespectRobots:      c.Crawler.RespectRobots,

		MaxFileBytes:    int64(c.Download.MaxFileMB) << 20,
		ChunkBytes:      c.Download.ChunkKB << 10,
		MaxDownloadTime: time.Duration(c.Download.TimeoutSeconds) * time.Second,

		StorageRoot: c.Storage.Root,

		HTTP: c.HTTPClientConfig(),
	}
}

// HTTPClientConfig converts HTTP config into the client config struct.
func (c Config) HTTPClientConfig() crawler.HTTPClientConfig {
	return crawler.HTTPClientConfig{
		ConnectTimeout: time.Duration(c.HTTP.ConnectTimeoutSeconds) * time.Second,
		ReadTimeout:    time.Duration(c.HTTP.ReadTimeoutSeconds) * time.Second,
		TotalTimeout:   time.Duration(c.HTTP.TotalTimeoutSeconds) * time.Second,
		MaxRetries:     c.HTTP.MaxRetries,
		BackoffInitial: time.Duration(c.HTTP.BackoffInitialMs) * time.Millisecond,
		BackoffMax:     time.Duration(c.HTTP.BackoffMaxMs) * time.Millisecond,
		UserAgent:      c.Crawler.UserAgent,
	}
}
