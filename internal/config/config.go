// Package config loads and validates crawler configuration via Viper.
package config

import (
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/crawlengine/internal/api"
	"github.com/JakeFAU/crawlengine/internal/crawler"
	collyfetcher "github.com/JakeFAU/crawlengine/internal/fetcher/colly"
	"github.com/JakeFAU/crawlengine/internal/handlers"
	"github.com/JakeFAU/crawlengine/internal/policy/ratelimit"
	redissource "github.com/JakeFAU/crawlengine/internal/source/redis"
	"github.com/JakeFAU/crawlengine/internal/storage/local"
)

// Queue strategies accepted by crawler.queue.
const (
	QueuePriority = "priority"
	QueueFIFO     = "fifo"
	QueueLazy     = "lazy"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Crawler CrawlerConfig      `mapstructure:"crawler"`
	Fetcher FetcherConfig      `mapstructure:"fetcher"`
	Workers WorkersConfig      `mapstructure:"workers"`
	Handler HandlerConfig      `mapstructure:"handler"`
	Server  ServerConfig       `mapstructure:"server"`
	Storage local.Config       `mapstructure:"storage"`
	Redis   redissource.Config `mapstructure:"redis"`
	Logging LoggingConfig      `mapstructure:"logging"`
}

// CrawlerConfig governs the dispatch engine.
type CrawlerConfig struct {
	MaxConnections  int           `mapstructure:"max_connections"`
	MaxTries        int           `mapstructure:"max_tries"`
	Parallelism     int           `mapstructure:"parallelism"`
	PropRetainProxy float64       `mapstructure:"prop_retain_proxy"`
	Pacing          PacingConfig  `mapstructure:"pacing"`
	StopCodes       []int         `mapstructure:"stop_codes"`
	PollTimeout     time.Duration `mapstructure:"poll_timeout"`
	Queue           string        `mapstructure:"queue"`
	HostRPS         float64       `mapstructure:"host_rps"`
	HostBurst       int           `mapstructure:"host_burst"`
	Seeds           []string      `mapstructure:"seeds"`
}

// PacingConfig bounds the delay between two dispatches.
type PacingConfig struct {
	MinDelay time.Duration `mapstructure:"min_delay"`
	MaxDelay time.Duration `mapstructure:"max_delay"`
}

// FetcherConfig configures the colly fetcher.
type FetcherConfig struct {
	UserAgent     string        `mapstructure:"user_agent"`
	Timeout       time.Duration `mapstructure:"timeout"`
	RespectRobots bool          `mapstructure:"respect_robots"`
	MaxBodySize   int           `mapstructure:"max_body_size"`
}

// WorkersConfig sizes the pool handlers use for off-loop work.
type WorkersConfig struct {
	Size int `mapstructure:"size"`
}

// HandlerConfig tunes the default page handler.
type HandlerConfig struct {
	FollowLinks bool `mapstructure:"follow_links"`
	SameHost    bool `mapstructure:"same_host"`
	MaxPages    int  `mapstructure:"max_pages"`
}

// ServerConfig controls the optional HTTP API.
type ServerConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	Port    int           `mapstructure:"port"`
	APIKey  string        `mapstructure:"api_key"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CRAWLER")
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
	v.SetDefault("crawler.max_connections", 8)
	v.SetDefault("crawler.max_tries", 5)
	v.SetDefault("crawler.parallelism", runtime.NumCPU())
	v.SetDefault("crawler.prop_retain_proxy", 0.05)
	v.SetDefault("crawler.pacing.min_delay", "0s")
	v.SetDefault("crawler.pacing.max_delay", "0s")
	v.SetDefault("crawler.stop_codes", []int{})
	v.SetDefault("crawler.poll_timeout", "3s")
	v.SetDefault("crawler.queue", QueuePriority)
	v.SetDefault("crawler.host_rps", 0)
	v.SetDefault("crawler.host_burst", 1)
	v.SetDefault("crawler.seeds", []string{})
	v.SetDefault("fetcher.user_agent", "crawlengine/0.1")
	v.SetDefault("fetcher.timeout", "15s")
	v.SetDefault("fetcher.respect_robots", true)
	v.SetDefault("fetcher.max_body_size", 0)
	v.SetDefault("workers.size", 4)
	v.SetDefault("handler.follow_links", false)
	v.SetDefault("handler.same_host", true)
	v.SetDefault("handler.max_pages", 1000)
	v.SetDefault("server.enabled", false)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.api_key", "")
	v.SetDefault("server.timeout", "60s")
	v.SetDefault("storage.base_dir", "data/pages")
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.key", "crawler:requests")
	v.SetDefault("redis.db", 0)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if err := c.Engine().Validate(); err != nil {
		return fmt.Errorf("crawler: %w", err)
	}
	switch c.Crawler.Queue {
	case QueuePriority, QueueFIFO:
	case QueueLazy:
		if c.Redis.Addr == "" {
			return fmt.Errorf("redis.addr must be set when crawler.queue is %q", QueueLazy)
		}
		if c.Redis.Key == "" {
			return fmt.Errorf("redis.key must be set when crawler.queue is %q", QueueLazy)
		}
	default:
		return fmt.Errorf("crawler.queue must be one of priority, fifo, lazy; got %q", c.Crawler.Queue)
	}
	if c.Crawler.HostRPS < 0 {
		return fmt.Errorf("crawler.host_rps must be >= 0")
	}
	for _, code := range c.Crawler.StopCodes {
		if code < 100 || code > 599 {
			return fmt.Errorf("crawler.stop_codes contains invalid status %d", code)
		}
	}
	if c.Fetcher.Timeout <= 0 {
		return fmt.Errorf("fetcher.timeout must be > 0")
	}
	if c.Workers.Size <= 0 {
		return fmt.Errorf("workers.size must be > 0")
	}
	if c.Handler.MaxPages < 0 {
		return fmt.Errorf("handler.max_pages must be >= 0")
	}
	if c.Server.Enabled && (c.Server.Port <= 0 || c.Server.Port > 65535) {
		return fmt.Errorf("server.port must be within 1-65535")
	}
	if strings.TrimSpace(c.Storage.BaseDir) == "" {
		return fmt.Errorf("storage.base_dir is required")
	}
	return nil
}

// Engine converts the crawler section into engine settings.
func (c Config) Engine() crawler.Config {
	return crawler.Config{
		MaxConnections:  c.Crawler.MaxConnections,
		MaxTries:        c.Crawler.MaxTries,
		Parallelism:     c.Crawler.Parallelism,
		PropRetainProxy: c.Crawler.PropRetainProxy,
		MinDelay:        c.Crawler.Pacing.MinDelay,
		MaxDelay:        c.Crawler.Pacing.MaxDelay,
		PollTimeout:     c.Crawler.PollTimeout,
	}
}

// FetcherOptions converts the fetcher section, adding the crawler's stop codes.
func (c Config) FetcherOptions() collyfetcher.Config {
	return collyfetcher.Config{
		UserAgent:     c.Fetcher.UserAgent,
		RespectRobots: c.Fetcher.RespectRobots,
		Timeout:       c.Fetcher.Timeout,
		StopCodes:     append([]int(nil), c.Crawler.StopCodes...),
		MaxBodySize:   c.Fetcher.MaxBodySize,
	}
}

// RateLimit returns the per-host limiter settings and whether limiting is on.
func (c Config) RateLimit() (ratelimit.Config, bool) {
	return ratelimit.Config{
		HostRPS:   c.Crawler.HostRPS,
		HostBurst: c.Crawler.HostBurst,
	}, c.Crawler.HostRPS > 0
}

// HandlerOptions converts the handler section.
func (c Config) HandlerOptions() handlers.Options {
	return handlers.Options{
		FollowLinks: c.Handler.FollowLinks,
		SameHost:    c.Handler.SameHost,
		MaxPages:    c.Handler.MaxPages,
	}
}

// API converts the server section.
func (c Config) API() api.Config {
	return api.Config{APIKey: c.Server.APIKey, Timeout: c.Server.Timeout}
}

// Addr is the API listen address.
func (c Config) Addr() string {
	return fmt.Sprintf(":%d", c.Server.Port)
}
