package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/circadianhq/circadian/internal/domain/activity"
)

// DefaultConfigFile is the YAML file consulted when no explicit path is
// given. A missing default file is not an error.
const DefaultConfigFile = "circadian.yaml"

// Load builds the configuration from defaults, the default YAML file
// (if present) and environment variables, in that order.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
}

// LoadFrom is Load with an explicit YAML path. The file must exist
// unless path is DefaultConfigFile.
func LoadFrom(path string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, path, path != DefaultConfigFile); err != nil {
		return nil, err
	}
	loadEnv(&cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func loadYAML(cfg *Config, path string, required bool) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && !required {
			return nil
		}
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func loadEnv(cfg *Config) {
	setString(&cfg.API.Port, "CIRCADIAN_API_PORT")
	setString(&cfg.API.Token, "CIRCADIAN_API_TOKEN")
	setString(&cfg.API.CORSOrigin, "CIRCADIAN_CORS_ORIGIN")

	setString(&cfg.Store.Driver, "CIRCADIAN_STORE_DRIVER")
	setString(&cfg.SQLite.Path, "CIRCADIAN_SQLITE_PATH")
	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "CIRCADIAN_PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "CIRCADIAN_PG_MIN_CONNS")

	setString(&cfg.NATS.URL, "NATS_URL")
	setInt64(&cfg.Cache.L1MaxSizeMB, "CIRCADIAN_CACHE_L1_MB")
	setString(&cfg.Cache.L2Bucket, "CIRCADIAN_CACHE_L2_BUCKET")
	setDuration(&cfg.Cache.L2TTL, "CIRCADIAN_CACHE_L2_TTL")

	setString(&cfg.Logging.Level, "CIRCADIAN_LOG_LEVEL")
	setString(&cfg.Logging.Service, "CIRCADIAN_LOG_SERVICE")
	setBool(&cfg.Logging.Async, "CIRCADIAN_LOG_ASYNC")

	setString(&cfg.Metrics.OTLPEndpoint, "CIRCADIAN_OTLP_ENDPOINT")
	setDuration(&cfg.Metrics.Interval, "CIRCADIAN_OTLP_INTERVAL")

	setInt(&cfg.Brain.NeutralScore, "CIRCADIAN_BRAIN_NEUTRAL_SCORE")
	setInt(&cfg.Brain.CallsPerMinute, "CIRCADIAN_BRAIN_CALLS_PER_MINUTE")
	setInt(&cfg.Brain.MaxAttempts, "CIRCADIAN_BRAIN_MAX_ATTEMPTS")
	setDuration(&cfg.Brain.RetryBase, "CIRCADIAN_BRAIN_RETRY_BASE")
	setDuration(&cfg.Brain.CacheTTL, "CIRCADIAN_BRAIN_CACHE_TTL")
	setString(&cfg.Brain.Fast.Model, "CIRCADIAN_BRAIN_FAST_MODEL")
	setString(&cfg.Brain.Mid.Model, "CIRCADIAN_BRAIN_MID_MODEL")
	setString(&cfg.Brain.Smart.Model, "CIRCADIAN_BRAIN_SMART_MODEL")

	setInt(&cfg.Loop.ErrorThreshold, "CIRCADIAN_LOOP_ERROR_THRESHOLD")
	setInt(&cfg.Loop.ScoreThreshold, "CIRCADIAN_LOOP_SCORE_THRESHOLD")
	setDuration(&cfg.Loop.StopTimeout, "CIRCADIAN_LOOP_STOP_TIMEOUT")

	setInt(&cfg.Breaker.MaxFailures, "CIRCADIAN_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "CIRCADIAN_BREAKER_TIMEOUT")

	setBool(&cfg.Browser.Enabled, "CIRCADIAN_BROWSER_ENABLED")
	setString(&cfg.Browser.Bin, "CIRCADIAN_BROWSER_BIN")
	setBool(&cfg.Browser.Headless, "CIRCADIAN_BROWSER_HEADLESS")
	setInt64(&cfg.Browser.MaxSessions, "CIRCADIAN_BROWSER_MAX_SESSIONS")

	setString(&cfg.Telegram.Token, "TELEGRAM_BOT_TOKEN")
	setInt64(&cfg.Telegram.ChatID, "TELEGRAM_CHAT_ID")

	setFloat64(&cfg.Rate.RequestsPerSecond, "CIRCADIAN_RATE_RPS")
	setInt(&cfg.Rate.Burst, "CIRCADIAN_RATE_BURST")
}

func (c *Config) validate() error {
	if c.API.Port == "" {
		return fmt.Errorf("api port is required")
	}
	switch c.Store.Driver {
	case "sqlite":
		if c.SQLite.Path == "" {
			return fmt.Errorf("sqlite path is required")
		}
	case "postgres":
		if c.Postgres.DSN == "" {
			return fmt.Errorf("postgres dsn is required")
		}
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}

	if c.Brain.NeutralScore < 0 || c.Brain.NeutralScore > 100 {
		return fmt.Errorf("brain neutral_score must be in [0,100], got %d", c.Brain.NeutralScore)
	}
	if c.Brain.CallsPerMinute < 1 {
		return fmt.Errorf("brain calls_per_minute must be at least 1, got %d", c.Brain.CallsPerMinute)
	}
	if c.Brain.MaxAttempts < 1 {
		return fmt.Errorf("brain max_attempts must be at least 1, got %d", c.Brain.MaxAttempts)
	}
	for name, t := range map[string]Tier{"fast": c.Brain.Fast, "mid": c.Brain.Mid, "smart": c.Brain.Smart} {
		if t.Backend != "openai" && t.Backend != "anthropic" {
			return fmt.Errorf("brain %s tier: unknown backend %q", name, t.Backend)
		}
		if t.Model == "" {
			return fmt.Errorf("brain %s tier: model is required", name)
		}
	}

	for name, caps := range c.Quota.Limits {
		if !activity.Type(name).Valid() {
			return fmt.Errorf("quota limits: unknown activity type %q", name)
		}
		if caps.Hourly < 0 || caps.Daily < 0 {
			return fmt.Errorf("quota limits for %s: caps must not be negative", name)
		}
	}

	if len(c.Rhythm.Hourly) != 24 {
		return fmt.Errorf("rhythm hourly must have 24 values, got %d", len(c.Rhythm.Hourly))
	}

	for _, chance := range []struct {
		name  string
		value float64
	}{
		{"planner skip_chance", c.Planner.SkipChance},
		{"planner binge_chance", c.Planner.BingeChance},
		{"planner duration_jitter", c.Planner.DurationJitter},
	} {
		if chance.value < 0 || chance.value > 1 {
			return fmt.Errorf("%s must be in [0,1], got %v", chance.name, chance.value)
		}
	}
	if c.Planner.JitterMin > c.Planner.JitterMax {
		return fmt.Errorf("planner jitter_min must not exceed jitter_max")
	}
	if c.Planner.HourlyBase <= 0 {
		return fmt.Errorf("planner hourly_base must be positive, got %v", c.Planner.HourlyBase)
	}

	if c.Loop.ErrorThreshold < 1 {
		return fmt.Errorf("loop error_threshold must be at least 1, got %d", c.Loop.ErrorThreshold)
	}

	seen := make(map[string]struct{}, len(c.Accounts))
	for i, acct := range c.Accounts {
		if acct.ID == "" {
			return fmt.Errorf("account %d: id is required", i)
		}
		if acct.Handle == "" {
			return fmt.Errorf("account %s: handle is required", acct.ID)
		}
		if _, dup := seen[acct.ID]; dup {
			return fmt.Errorf("account %s: duplicate id", acct.ID)
		}
		seen[acct.ID] = struct{}{}
	}

	for i, def := range c.Activities {
		if !activity.Type(def.Type).Valid() {
			return fmt.Errorf("activity %d: unknown type %q", i, def.Type)
		}
		if def.Weight <= 0 {
			return fmt.Errorf("activity %s: weight must be positive", def.Type)
		}
		for _, h := range def.ValidHours {
			if h < 0 || h > 23 {
				return fmt.Errorf("activity %s: hour %d out of range", def.Type, h)
			}
		}
	}

	return nil
}

// Definitions converts the configured activities to domain definitions.
func (c *Config) Definitions() []activity.Definition {
	defs := make([]activity.Definition, 0, len(c.Activities))
	for _, a := range c.Activities {
		defs = append(defs, activity.Definition{
			Type:       activity.Type(a.Type),
			Weight:     a.Weight,
			ValidHours: a.ValidHours,
		})
	}
	return defs
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt32(dst *int32, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			*dst = int32(n)
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
