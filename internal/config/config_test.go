package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("BROKER_TOKEN", "")
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "https://api-invest.tinkoff.ru/openapi/", cfg.Broker.BaseURL)
	assert.Equal(t, "broker", cfg.Broker.Source)
	assert.Equal(t, time.Minute, cfg.Broker.RateLimitWait)
	assert.Equal(t, 2, cfg.Broker.RateLimitRetries)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "0 10 4 * * 2-6", cfg.Schedule.CandlesCron)
	assert.Equal(t, 5, cfg.Levels.MinSizeOfBatch)
	assert.Equal(t, 16, cfg.Levels.RecentLevelRate)
	assert.Equal(t, 0.3, cfg.Levels.SignificanceThreshold)
	assert.True(t, cfg.Levels.PriceTolerance.IsZero())
	assert.Empty(t, cfg.Watchlist)

	assert.Error(t, cfg.Validate(), "the broker source needs a token")
}

func TestLoad_FileAndEnv(t *testing.T) {
	path := writeConfig(t, `
broker:
  source: yahoo
  rate_limit_wait: 5s
  rate_limit_retries: 0
database:
  driver: memory
schedule:
  timezone: UTC
sync:
  history_start: "2020-06-01"
levels:
  price_tolerance: 0.25
  min_size_of_batch: 3
  significance_threshold: 0
watchlist: [aapl, " msft", AAPL]
`)
	t.Setenv("TELEGRAM_CHAT_ID", "42")
	t.Setenv("CRON_REPORT", "0 0 9 * * *")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "yahoo", cfg.Broker.Source)
	assert.Equal(t, 5*time.Second, cfg.Broker.RateLimitWait)
	assert.Zero(t, cfg.Broker.RateLimitRetries)
	assert.Equal(t, "memory", cfg.Database.Driver)
	assert.True(t, cfg.Levels.PriceTolerance.Equal(decimal.RequireFromString("0.25")))
	assert.Equal(t, 3, cfg.Levels.MinSizeOfBatch)
	assert.Zero(t, cfg.Levels.SignificanceThreshold)
	assert.Equal(t, []string{"AAPL", "MSFT"}, cfg.Watchlist)
	assert.Equal(t, "42", cfg.Telegram.ChatID)
	assert.Equal(t, "0 0 9 * * *", cfg.Schedule.ReportCron)
	assert.Equal(t, "debug", cfg.Log.Level)

	start, err := cfg.HistoryStart()
	require.NoError(t, err)
	assert.Equal(t, time.Date(2020, 6, 1, 0, 0, 0, 0, time.UTC), start)
}

func TestLoad_WatchlistEnv(t *testing.T) {
	t.Setenv("WATCHLIST", "tsla, nvda,,")
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, []string{"TSLA", "NVDA"}, cfg.Watchlist)
}

func TestLoad_BadYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "broker: [unclosed"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := Default()
		cfg.Broker.Token = "t"
		cfg.Schedule.Timezone = "UTC"
		return cfg
	}
	require.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown source", func(c *Config) { c.Broker.Source = "csv" }},
		{"unknown driver", func(c *Config) { c.Database.Driver = "mysql" }},
		{"postgres without dsn", func(c *Config) { c.Database.Driver = "postgres" }},
		{"zero batch size", func(c *Config) { c.Levels.MinSizeOfBatch = 0 }},
		{"negative tolerance", func(c *Config) { c.Levels.PriceTolerance = decimal.NewFromInt(-1) }},
		{"threshold of one", func(c *Config) { c.Levels.SignificanceThreshold = 1 }},
		{"negative threshold", func(c *Config) { c.Levels.SignificanceThreshold = -0.1 }},
		{"unknown timezone", func(c *Config) { c.Schedule.Timezone = "Mars/Olympus" }},
		{"bad history start", func(c *Config) { c.Sync.HistoryStart = "01.01.2021" }},
		{"zero lookback", func(c *Config) { c.Levels.LookbackDays = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
