package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"LevelScope/internal/collector"
	"LevelScope/internal/model"
	"LevelScope/internal/notifier"
	"LevelScope/internal/scheduler"
)

var syncRunNow bool

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run the sync daemon: scheduled instrument and candle sync, levels reports and Telegram commands",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		log.Info("LevelScope starting...")

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		loc, err := cfg.Location()
		if err != nil {
			return err
		}
		historyStart, err := cfg.HistoryStart()
		if err != nil {
			return err
		}

		// Context for graceful shutdown
		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		st, err := openStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer st.Close()

		fetcher, err := newFetcher(cfg)
		if err != nil {
			return err
		}
		log.Infof("data source: %s", fetcher.Name())
		col := collector.NewCollector(fetcher, st, model.Currency(cfg.Sync.Currency), historyStart)

		an, err := newAnalyzer(cfg, st)
		if err != nil {
			return err
		}

		tn := notifier.NewTelegramNotifier(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Proxy)

		sched := scheduler.NewScheduler(ctx, loc, col, an, st, tn)
		sched.Watchlist = cfg.Watchlist
		sched.Source = fetcher.Name()
		sched.Driver = cfg.Database.Driver
		if err := sched.RegisterAll(cfg.Schedule.InstrumentsCron, cfg.Schedule.CandlesCron, cfg.Schedule.ReportCron); err != nil {
			return err
		}
		sched.Start()
		defer sched.Stop()

		if tn.Enabled() {
			go tn.StartPolling(ctx, sched.HandleCommand)
			log.Info("Telegram polling started")
		} else {
			log.Warn("Telegram is not configured, notifications and commands are disabled")
		}

		if syncRunNow {
			log.Info("--run-now given, executing all jobs now")
			sched.RunInBackground()
		}

		log.Info("LevelScope is running. Press Ctrl+C to stop.")

		// Wait for shutdown signal
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
		sig := <-sigCh

		log.Infof("%v received, stopping...", sig)
		cancel()
		return nil
	},
}

func init() {
	syncCmd.Flags().BoolVar(&syncRunNow, "run-now", false, "run the sync and report jobs once at startup")
}
