package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"gopkg.in/ini.v1"

	"proxywarden/internal/domain"
	"proxywarden/internal/support"
)

var ErrInvalidConfig = errors.New("config: invalid value")

type CheckerConfig struct {
	// Timeout bounds each target request of a probe.
	Timeout time.Duration `ini:"timeout"`
	// SlowThreshold fails a probe whose mean per-target latency exceeds it.
	SlowThreshold     time.Duration `ini:"slow_threshold"`
	Targets           []string      `ini:"targets" delim:","`
	Concurrency       int           `ini:"concurrency"`
	BatchSize         int           `ini:"batch_size"`
	ProgressEvery     int           `ini:"progress_every"`
	TransportProtocol string        `ini:"transport_protocol"`
	RandomSampleSize  int           `ini:"random_sample_size"`
	RecheckAfter      time.Duration `ini:"recheck_after"`
	RecheckLimit      int           `ini:"recheck_limit"`
}

type PoolConfig struct {
	MinWorking      int           `ini:"min_working"`
	MaxAge          time.Duration `ini:"max_age"`
	RetentionDays   int           `ini:"retention_days"`
	RefreshInterval time.Duration `ini:"refresh_interval"`
	Protocol        string        `ini:"protocol"`
}

type HarvestConfig struct {
	Timeout       time.Duration `ini:"timeout"`
	UserAgent     string        `ini:"user_agent"`
	Sources       []string      `ini:"sources" delim:","`
	TextLists     []string      `ini:"text_lists" delim:","`
	GeoIPDatabase string        `ini:"geoip_database"`
	RespectRobots bool          `ini:"respect_robots"`
}

type ServerConfig struct {
	Addr      string        `ini:"addr"`
	JWTSecret string        `ini:"jwt_secret"`
	TokenTTL  time.Duration `ini:"token_ttl"`
}

type RedisConfig struct {
	URL      string        `ini:"url"`
	LeaseTTL time.Duration `ini:"lease_ttl"`
}

type LogConfig struct {
	Level string `ini:"level"`
}

type Config struct {
	Checker CheckerConfig `ini:"checker"`
	Pool    PoolConfig    `ini:"pool"`
	Harvest HarvestConfig `ini:"harvest"`
	Server  ServerConfig  `ini:"server"`
	Redis   RedisConfig   `ini:"redis"`
	Log     LogConfig     `ini:"log"`
}

var current atomic.Value

func init() {
	current.Store(Default())
}

func GetConfig() Config {
	return current.Load().(Config)
}

func SetConfig(cfg Config) {
	current.Store(cfg)
}

func Default() Config {
	return Config{
		Checker: CheckerConfig{
			Timeout:       10 * time.Second,
			SlowThreshold: 5 * time.Second,
			Targets: []string{
				"http://api.ipify.org?format=json",
				"https://www.cloudflare.com/cdn-cgi/trace",
			},
			Concurrency:       100,
			BatchSize:         500,
			ProgressEvery:     10,
			TransportProtocol: support.TransportTCP,
			RandomSampleSize:  10,
			RecheckAfter:      6 * time.Hour,
			RecheckLimit:      200,
		},
		Pool: PoolConfig{
			MinWorking:      10,
			MaxAge:          24 * time.Hour,
			RetentionDays:   7,
			RefreshInterval: time.Hour,
		},
		Harvest: HarvestConfig{
			Timeout:       30 * time.Second,
			UserAgent:     "proxywarden/1.0",
			Sources:       []string{"github", "proxyscrape", "geonode", "free-proxy-list", "proxy-list-download"},
			RespectRobots: true,
		},
		Server: ServerConfig{
			Addr:     ":8080",
			TokenTTL: 24 * time.Hour,
		},
		Redis: RedisConfig{
			LeaseTTL: 30 * time.Second,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads path over the defaults and applies environment overrides. A
// missing file is not an error; the defaults and env still apply.
func Load(path string) (Config, error) {
	cfg := Default()

	if strings.TrimSpace(path) != "" {
		if _, err := os.Stat(path); err == nil {
			file, err := ini.Load(path)
			if err != nil {
				return Config{}, fmt.Errorf("config: load %s: %w", path, err)
			}
			if err := file.MapTo(&cfg); err != nil {
				return Config{}, fmt.Errorf("config: map %s: %w", path, err)
			}
		} else if !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("config: stat %s: %w", path, err)
		} else {
			log.Warn("Config file not found, using defaults", "path", path)
		}
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	cfg.Checker.Timeout = support.GetEnvDuration("CHECKER_TIMEOUT", cfg.Checker.Timeout)
	cfg.Checker.SlowThreshold = support.GetEnvDuration("CHECKER_SLOW_THRESHOLD", cfg.Checker.SlowThreshold)
	cfg.Checker.Concurrency = support.GetEnvInt("CHECKER_CONCURRENCY", cfg.Checker.Concurrency)
	cfg.Checker.BatchSize = support.GetEnvInt("CHECKER_BATCH_SIZE", cfg.Checker.BatchSize)
	cfg.Checker.TransportProtocol = support.GetEnv("CHECKER_TRANSPORT_PROTOCOL", cfg.Checker.TransportProtocol)
	if targets := splitList(support.GetEnv("CHECKER_TARGETS", "")); len(targets) > 0 {
		cfg.Checker.Targets = targets
	}

	cfg.Pool.MinWorking = support.GetEnvInt("POOL_MIN_WORKING", cfg.Pool.MinWorking)
	cfg.Pool.MaxAge = support.GetEnvDuration("POOL_MAX_AGE", cfg.Pool.MaxAge)
	cfg.Pool.RetentionDays = support.GetEnvInt("POOL_RETENTION_DAYS", cfg.Pool.RetentionDays)
	cfg.Pool.RefreshInterval = support.GetEnvDuration("POOL_REFRESH_INTERVAL", cfg.Pool.RefreshInterval)
	cfg.Pool.Protocol = support.GetEnv("POOL_PROTOCOL", cfg.Pool.Protocol)

	cfg.Harvest.GeoIPDatabase = support.GetEnv("GEOIP_DATABASE", cfg.Harvest.GeoIPDatabase)
	cfg.Harvest.RespectRobots = support.GetEnvBool("HARVEST_RESPECT_ROBOTS", cfg.Harvest.RespectRobots)

	cfg.Server.Addr = support.GetEnv("SERVER_ADDR", cfg.Server.Addr)
	cfg.Server.JWTSecret = support.GetEnv("JWT_SECRET", cfg.Server.JWTSecret)

	cfg.Redis.URL = support.GetEnv("REDIS_URL", cfg.Redis.URL)

	cfg.Log.Level = support.GetEnv("LOG_LEVEL", cfg.Log.Level)
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func (cfg Config) Validate() error {
	switch {
	case cfg.Checker.Timeout <= 0:
		return fmt.Errorf("%w: checker.timeout must be positive", ErrInvalidConfig)
	case cfg.Checker.SlowThreshold <= 0:
		return fmt.Errorf("%w: checker.slow_threshold must be positive", ErrInvalidConfig)
	case len(cfg.Checker.Targets) == 0:
		return fmt.Errorf("%w: checker.targets is empty", ErrInvalidConfig)
	case cfg.Checker.Concurrency <= 0:
		return fmt.Errorf("%w: checker.concurrency must be positive", ErrInvalidConfig)
	case cfg.Checker.BatchSize <= 0:
		return fmt.Errorf("%w: checker.batch_size must be positive", ErrInvalidConfig)
	case cfg.Pool.MinWorking < 0:
		return fmt.Errorf("%w: pool.min_working is negative", ErrInvalidConfig)
	case cfg.Pool.MaxAge <= 0:
		return fmt.Errorf("%w: pool.max_age must be positive", ErrInvalidConfig)
	case cfg.Pool.RetentionDays < 1:
		return fmt.Errorf("%w: pool.retention_days must be at least 1", ErrInvalidConfig)
	}

	if _, err := support.ParseTransportProtocol(cfg.Checker.TransportProtocol); err != nil {
		return fmt.Errorf("%w: checker.transport_protocol: %v", ErrInvalidConfig, err)
	}

	if cfg.Pool.Protocol != "" {
		if _, err := domain.ParseProtocol(cfg.Pool.Protocol); err != nil {
			return fmt.Errorf("%w: pool.protocol: %v", ErrInvalidConfig, err)
		}
	}
	return nil
}

// LogLevel maps the configured name onto charmbracelet/log, defaulting to info.
func (cfg Config) LogLevel() log.Level {
	level, err := log.ParseLevel(strings.ToLower(strings.TrimSpace(cfg.Log.Level)))
	if err != nil {
		return log.InfoLevel
	}
	return level
}
