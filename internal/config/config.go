package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// DefaultPath is used when neither --config nor CONFIG_PATH is given.
const DefaultPath = "configs/config.yaml"

// Config holds all application configuration.
type Config struct {
	Broker struct {
		BaseURL          string        `yaml:"base_url"`
		Token            string        `yaml:"token"`
		Source           string        `yaml:"source"`
		RateLimitWait    time.Duration `yaml:"rate_limit_wait"`
		RateLimitRetries int           `yaml:"rate_limit_retries"`
	} `yaml:"broker"`
	Telegram struct {
		BotToken string `yaml:"bot_token"`
		ChatID   string `yaml:"chat_id"`
	} `yaml:"telegram"`
	Database struct {
		Driver      string `yaml:"driver"`
		SQLitePath  string `yaml:"sqlite_path"`
		PostgresDSN string `yaml:"postgres_dsn"`
	} `yaml:"database"`
	Schedule struct {
		Timezone        string `yaml:"timezone"`
		InstrumentsCron string `yaml:"instruments_cron"`
		CandlesCron     string `yaml:"candles_cron"`
		ReportCron      string `yaml:"report_cron"`
	} `yaml:"schedule"`
	Sync struct {
		HistoryStart string `yaml:"history_start"`
		Currency     string `yaml:"currency"`
	} `yaml:"sync"`
	Levels struct {
		PriceTolerance        decimal.Decimal `yaml:"price_tolerance"` // zero: half the mean candle range
		MinSizeOfBatch        int             `yaml:"min_size_of_batch"`
		RecentLevelRate       int             `yaml:"recent_level_rate"`
		SignificanceThreshold float64         `yaml:"significance_threshold"`
		LookbackDays          int             `yaml:"lookback_days"`
	} `yaml:"levels"`
	Watchlist []string `yaml:"watchlist"`
	Log       struct {
		Level string `yaml:"level"`
	} `yaml:"log"`
	Proxy string `yaml:"proxy"`
}

// Default returns a Config with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.Broker.BaseURL = "https://api-invest.tinkoff.ru/openapi/"
	cfg.Broker.Source = "broker"
	cfg.Broker.RateLimitWait = time.Minute
	cfg.Broker.RateLimitRetries = 2
	cfg.Database.Driver = "sqlite"
	cfg.Database.SQLitePath = "data/levelscope.db"
	cfg.Schedule.Timezone = "Asia/Yekaterinburg"
	cfg.Schedule.InstrumentsCron = "0 0 4 * * 2-6"
	cfg.Schedule.CandlesCron = "0 10 4 * * 2-6"
	cfg.Schedule.ReportCron = "0 30 4 * * 2-6"
	cfg.Sync.HistoryStart = "2021-01-01"
	cfg.Sync.Currency = "USD"
	cfg.Levels.MinSizeOfBatch = 5
	cfg.Levels.RecentLevelRate = 16
	cfg.Levels.SignificanceThreshold = 0.3
	cfg.Levels.LookbackDays = 365
	cfg.Log.Level = "info"
	return cfg
}

// Load reads .env (if present) and the YAML file at path over the defaults, then
// applies environment variable overrides. A missing file is not an error.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	// Environment variable overrides
	overrides := map[string]*string{
		"BROKER_BASE_URL":    &cfg.Broker.BaseURL,
		"BROKER_TOKEN":       &cfg.Broker.Token,
		"DATA_SOURCE":        &cfg.Broker.Source,
		"TELEGRAM_BOT_TOKEN": &cfg.Telegram.BotToken,
		"TELEGRAM_CHAT_ID":   &cfg.Telegram.ChatID,
		"DB_DRIVER":          &cfg.Database.Driver,
		"SQLITE_PATH":        &cfg.Database.SQLitePath,
		"POSTGRES_DSN":       &cfg.Database.PostgresDSN,
		"TZ_NAME":            &cfg.Schedule.Timezone,
		"CRON_INSTRUMENTS":   &cfg.Schedule.InstrumentsCron,
		"CRON_CANDLES":       &cfg.Schedule.CandlesCron,
		"CRON_REPORT":        &cfg.Schedule.ReportCron,
		"LOG_LEVEL":          &cfg.Log.Level,
		"HTTPS_PROXY":        &cfg.Proxy,
	}
	for env, field := range overrides {
		if v := os.Getenv(env); v != "" {
			*field = v
		}
	}
	if v := os.Getenv("WATCHLIST"); v != "" {
		cfg.Watchlist = strings.Split(v, ",")
	}
	cfg.Watchlist = normalizeTickers(cfg.Watchlist)

	return cfg, nil
}

func normalizeTickers(tickers []string) []string {
	out := make([]string, 0, len(tickers))
	seen := make(map[string]bool, len(tickers))
	for _, t := range tickers {
		t = strings.ToUpper(strings.TrimSpace(t))
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}

// Validate checks that all required fields are set and values are in range.
func (c *Config) Validate() error {
	switch c.Broker.Source {
	case "broker":
		if c.Broker.Token == "" {
			return fmt.Errorf("broker.token is required for the broker data source")
		}
		if c.Broker.BaseURL == "" {
			return fmt.Errorf("broker.base_url is required")
		}
	case "yahoo":
	default:
		return fmt.Errorf("broker.source must be broker or yahoo, got %q", c.Broker.Source)
	}
	if c.Broker.RateLimitWait < 0 || c.Broker.RateLimitRetries < 0 {
		return fmt.Errorf("broker rate limit settings must not be negative")
	}

	switch c.Database.Driver {
	case "sqlite":
		if c.Database.SQLitePath == "" {
			return fmt.Errorf("database.sqlite_path is required")
		}
	case "postgres":
		if c.Database.PostgresDSN == "" {
			return fmt.Errorf("database.postgres_dsn is required for the postgres driver")
		}
	case "memory":
	default:
		return fmt.Errorf("database.driver must be sqlite, postgres or memory, got %q", c.Database.Driver)
	}

	if _, err := c.Location(); err != nil {
		return err
	}
	if _, err := c.HistoryStart(); err != nil {
		return err
	}

	if c.Levels.MinSizeOfBatch <= 0 {
		return fmt.Errorf("levels.min_size_of_batch must be positive")
	}
	if c.Levels.RecentLevelRate < 0 {
		return fmt.Errorf("levels.recent_level_rate must not be negative")
	}
	if c.Levels.PriceTolerance.IsNegative() {
		return fmt.Errorf("levels.price_tolerance must not be negative")
	}
	if c.Levels.SignificanceThreshold < 0 || c.Levels.SignificanceThreshold >= 1 {
		return fmt.Errorf("levels.significance_threshold must be in [0, 1)")
	}
	if c.Levels.LookbackDays <= 0 {
		return fmt.Errorf("levels.lookback_days must be positive")
	}
	return nil
}

// Location returns the schedule time zone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Schedule.Timezone)
	if err != nil {
		return nil, fmt.Errorf("schedule.timezone %q: %w", c.Schedule.Timezone, err)
	}
	return loc, nil
}

// HistoryStart returns the first day requested for an instrument with no candles,
// at midnight in the schedule time zone.
func (c *Config) HistoryStart() (time.Time, error) {
	loc, err := c.Location()
	if err != nil {
		return time.Time{}, err
	}
	t, err := time.ParseInLocation(time.DateOnly, c.Sync.HistoryStart, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("sync.history_start: %w", err)
	}
	return t, nil
}
