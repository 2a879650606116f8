package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

const PathEnvVar = "MEETSUM_CONFIG"

type Config struct {
	ListenAddr string `env:"LISTEN_ADDR" yaml:"listen_addr"`

	OpenAIAPIKey  string `env:"OPENAI_API_KEY"  yaml:"openai_api_key"`
	OpenAIModel   string `env:"OPENAI_MODEL"    yaml:"openai_model"`
	OpenAIBaseURL string `env:"OPENAI_BASE_URL" yaml:"openai_base_url"`

	CacheTTL        time.Duration `env:"CACHE_TTL"         yaml:"cache_ttl"`
	CacheMaxEntries int           `env:"CACHE_MAX_ENTRIES" yaml:"cache_max_entries"`

	RateLimit  int           `env:"RATE_LIMIT"  yaml:"rate_limit"`
	RateWindow time.Duration `env:"RATE_WINDOW" yaml:"rate_window"`
	TrustXFF   bool          `env:"TRUST_XFF"   yaml:"trust_xff"`

	MaxInputChars    int           `env:"MAX_INPUT_CHARS"   yaml:"max_input_chars"`
	SummarizeTimeout time.Duration `env:"SUMMARIZE_TIMEOUT" yaml:"summarize_timeout"`
	MinSummaryChars  int           `env:"MIN_SUMMARY_CHARS" yaml:"min_summary_chars"`

	UpstreamRPS   float64 `env:"UPSTREAM_RPS"   yaml:"upstream_rps"`
	UpstreamBurst int     `env:"UPSTREAM_BURST" yaml:"upstream_burst"`

	ConcurrencyMax int    `env:"CONCURRENCY_MAX" yaml:"concurrency_max"`
	SweepSpec      string `env:"SWEEP_SPEC"      yaml:"sweep_spec"`

	DBPath         string        `env:"DB_PATH"         yaml:"db_path"`
	AuditRetention time.Duration `env:"AUDIT_RETENTION" yaml:"audit_retention"`

	RedisAddr     string        `env:"REDIS_ADDR"     yaml:"redis_addr"`
	RedisPassword string        `env:"REDIS_PASSWORD" yaml:"redis_password"`
	RedisDB       int           `env:"REDIS_DB"       yaml:"redis_db"`
	RedisPrefix   string        `env:"REDIS_PREFIX"   yaml:"redis_prefix"`
	RedisTTL      time.Duration `env:"REDIS_TTL"      yaml:"redis_ttl"`

	LogLevel string `env:"LOG_LEVEL" yaml:"log_level"`
}

// Default returns the configuration used when nothing overrides it.
func Default() Config {
	return Config{
		ListenAddr:       ":8080",
		OpenAIModel:      "gpt-3.5-turbo",
		CacheTTL:         5 * time.Minute,
		CacheMaxEntries:  1024,
		RateLimit:        10,
		RateWindow:       time.Minute,
		TrustXFF:         true,
		MaxInputChars:    50_000,
		SummarizeTimeout: 30 * time.Second,
		MinSummaryChars:  5,
		UpstreamBurst:    1,
		ConcurrencyMax:   64,
		SweepSpec:        "@every 1m",
		AuditRetention:   7 * 24 * time.Hour,
		RedisPrefix:      "meetsum:stats",
		RedisTTL:         24 * time.Hour,
		LogLevel:         "info",
	}
}

// Load applies, in order, the defaults, the YAML file at path (if any) and the
// environment. An empty path falls back to MEETSUM_CONFIG.
func Load(path string) (Config, error) {
	cfg := Default()

	path = strings.TrimSpace(path)
	if path == "" {
		path = strings.TrimSpace(os.Getenv(PathEnvVar))
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}

		if err = yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file: %w", err)
		}
	}

	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	cfg.OpenAIAPIKey = strings.TrimSpace(cfg.OpenAIAPIKey)
	cfg.DBPath = strings.TrimSpace(cfg.DBPath)
	cfg.RedisAddr = strings.TrimSpace(cfg.RedisAddr)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error

	if c.CacheTTL <= 0 {
		errs = append(errs, errors.New("CACHE_TTL must be > 0"))
	}
	if c.CacheMaxEntries < 0 {
		errs = append(errs, errors.New("CACHE_MAX_ENTRIES must be >= 0"))
	}
	if c.RateLimit <= 0 {
		errs = append(errs, errors.New("RATE_LIMIT must be > 0"))
	}
	if c.RateWindow <= 0 {
		errs = append(errs, errors.New("RATE_WINDOW must be > 0"))
	}
	if c.MaxInputChars <= 0 {
		errs = append(errs, errors.New("MAX_INPUT_CHARS must be > 0"))
	}
	if c.SummarizeTimeout <= 0 {
		errs = append(errs, errors.New("SUMMARIZE_TIMEOUT must be > 0"))
	}
	if c.MinSummaryChars < 0 {
		errs = append(errs, errors.New("MIN_SUMMARY_CHARS must be >= 0"))
	}
	if c.UpstreamRPS > 0 && c.UpstreamBurst < 1 {
		errs = append(errs, errors.New("UPSTREAM_BURST must be >= 1 when UPSTREAM_RPS is set"))
	}
	if c.ConcurrencyMax < 0 {
		errs = append(errs, errors.New("CONCURRENCY_MAX must be >= 0"))
	}
	if strings.TrimSpace(c.SweepSpec) == "" {
		errs = append(errs, errors.New("SWEEP_SPEC is required"))
	}
	if _, err := c.SlogLevel(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

func (c Config) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(c.LogLevel))); err != nil {
		return slog.LevelInfo, fmt.Errorf("parse LOG_LEVEL: %w", err)
	}

	return level, nil
}
