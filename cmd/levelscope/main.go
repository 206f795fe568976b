package main

import (
	"context"
	"fmt"
	"os"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"LevelScope/internal/analyzer"
	"LevelScope/internal/collector"
	"LevelScope/internal/config"
	"LevelScope/internal/model"
	"LevelScope/internal/store"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:           "levelscope",
	Short:         "Support and resistance levels for daily stock candles",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to the YAML config (default $CONFIG_PATH or "+config.DefaultPath+")")
	rootCmd.AddCommand(syncCmd, levelsCmd, chartCmd, importCmd, exportCmd, statusCmd)

	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("%v", err)
	}
}

// loadConfig loads and validates the config and applies its log level.
func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	if path == "" {
		path = config.DefaultPath
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	setupLogging(cfg.Log.Level)
	return cfg, nil
}

func setupLogging(level string) {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true, TimestampFormat: time.DateTime})
	lvl, err := log.ParseLevel(level)
	if err != nil {
		log.Warnf("unknown log level %q, using info", level)
		lvl = log.InfoLevel
	}
	log.SetLevel(lvl)
}

func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	st, err := store.Open(ctx, store.Options{
		Driver:      cfg.Database.Driver,
		SQLitePath:  cfg.Database.SQLitePath,
		PostgresDSN: cfg.Database.PostgresDSN,
	})
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Database.Driver, err)
	}
	return st, nil
}

func newFetcher(cfg *config.Config) (collector.Fetcher, error) {
	switch cfg.Broker.Source {
	case "yahoo":
		return collector.NewYahooFetcher(cfg.Watchlist, cfg.Proxy), nil
	case "broker":
		loc, err := cfg.Location()
		if err != nil {
			return nil, err
		}
		c := collector.NewBrokerClient(cfg.Broker.BaseURL, cfg.Broker.Token, cfg.Proxy)
		c.RateLimitWait = cfg.Broker.RateLimitWait
		c.RateLimitRetries = cfg.Broker.RateLimitRetries
		c.Location = loc
		return c, nil
	default:
		return nil, fmt.Errorf("unknown data source %q", cfg.Broker.Source)
	}
}

func newAnalyzer(cfg *config.Config, st store.Store) (*analyzer.Analyzer, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	return analyzer.NewAnalyzer(st, analyzer.Defaults{
		Interval:        model.IntervalDay,
		LookbackDays:    cfg.Levels.LookbackDays,
		PriceTolerance:  cfg.Levels.PriceTolerance,
		MinBatchSize:    cfg.Levels.MinSizeOfBatch,
		RecentLevelRate: cfg.Levels.RecentLevelRate,
		Threshold:       cfg.Levels.SignificanceThreshold,
		Location:        loc,
	}), nil
}

// withStore loads the config, opens the store and runs fn, closing the store afterwards.
func withStore(ctx context.Context, fn func(cfg *config.Config, st store.Store) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()
	return fn(cfg, st)
}
