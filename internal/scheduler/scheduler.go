package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"

	"LevelScope/internal/analyzer"
	"LevelScope/internal/collector"
	"LevelScope/internal/model"
	"LevelScope/internal/notifier"
	"LevelScope/internal/store"
)

// Job names, used in logs and in /status.
const (
	JobInstruments = "instruments"
	JobCandles     = "candles"
	JobReport      = "report"
)

// synced instrument kinds, in order
var syncKinds = []model.InstrumentType{model.InstrumentStock, model.InstrumentCurrency}

// Notifier delivers messages to the user.
type Notifier interface {
	SendWithRetry(ctx context.Context, text string, maxRetries int) error
}

// Scheduler manages all cron tasks.
type Scheduler struct {
	Cron      *cron.Cron
	Collector *collector.Collector
	Analyzer  *analyzer.Analyzer
	Store     store.Store
	Notifier  Notifier
	Watchlist []string
	Source    string
	Driver    string
	Ctx       context.Context

	syncMu      sync.Mutex
	mu          sync.Mutex
	background  sync.WaitGroup
	lastSync    time.Time
	instruments []collector.InstrumentSyncResult
	entries     map[string]cron.EntryID
}

// NewScheduler creates a new Scheduler whose cron expressions have a seconds
// field and are evaluated in loc.
func NewScheduler(ctx context.Context, loc *time.Location, col *collector.Collector, an *analyzer.Analyzer, st store.Store, n Notifier) *Scheduler {
	logger := cron.PrintfLogger(log.StandardLogger())
	return &Scheduler{
		Cron: cron.New(
			cron.WithSeconds(),
			cron.WithLocation(loc),
			cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
		),
		Collector: col,
		Analyzer:  an,
		Store:     st,
		Notifier:  n,
		Ctx:       ctx,
		entries:   make(map[string]cron.EntryID),
	}
}

// RegisterAll registers the instrument sync, candle sync and report tasks.
func (s *Scheduler) RegisterAll(instrumentsCron, candlesCron, reportCron string) error {
	jobs := []struct {
		name, spec string
		fn         func()
	}{
		{JobInstruments, instrumentsCron, s.instrumentsTask},
		{JobCandles, candlesCron, s.candlesTask},
		{JobReport, reportCron, s.reportTask},
	}
	for _, j := range jobs {
		id, err := s.Cron.AddFunc(j.spec, s.job(j.name, j.fn))
		if err != nil {
			return fmt.Errorf("register %s task: %w", j.name, err)
		}
		s.entries[j.name] = id
	}
	return nil
}

// Start starts the cron scheduler.
func (s *Scheduler) Start() {
	s.Cron.Start()
	log.Info("scheduler started")
}

// Stop stops the cron scheduler and waits for running jobs, including
// those started by RunInBackground.
func (s *Scheduler) Stop() {
	<-s.Cron.Stop().Done()
	s.background.Wait()
	log.Info("scheduler stopped")
}

// RunNow runs every task once, in schedule order.
func (s *Scheduler) RunNow() {
	s.job(JobInstruments, s.instrumentsTask)()
	s.job(JobCandles, s.candlesTask)()
	s.job(JobReport, s.reportTask)()
}

// RunInBackground runs RunNow in its own goroutine.
func (s *Scheduler) RunInBackground() {
	s.background.Add(1)
	go func() {
		defer s.background.Done()
		s.RunNow()
	}()
}

func (s *Scheduler) job(name string, fn func()) func() {
	return func() {
		log.Infof("running job: %s", name)
		start := time.Now()
		fn()
		log.Infof("job done: %s (%v)", name, time.Since(start).Round(time.Millisecond))
	}
}

func (s *Scheduler) instrumentsTask() {
	s.syncMu.Lock()
	defer s.syncMu.Unlock()
	s.syncInstruments()
}

func (s *Scheduler) syncInstruments() {
	var results []collector.InstrumentSyncResult
	for _, kind := range syncKinds {
		res, err := s.Collector.SyncInstruments(s.Ctx, kind)
		if err != nil {
			if errors.Is(err, collector.ErrUnsupported) {
				log.Debugf("%s instruments not available from %s", kind, s.Collector.Fetcher.Name())
				continue
			}
			log.Errorf("sync %s instruments: %v", kind, err)
			continue
		}
		results = append(results, res)
	}

	s.mu.Lock()
	s.instruments = results
	s.mu.Unlock()
}

func (s *Scheduler) candlesTask() {
	s.syncMu.Lock()
	defer s.syncMu.Unlock()
	if summary, err := s.syncCandles(); err != nil {
		log.Errorf("sync candles: %v", err)
		s.trySend(fmt.Sprintf("❌ Candle sync failed: %v", err))
	} else {
		s.trySend(summary)
	}
}

func (s *Scheduler) syncCandles() (string, error) {
	res, err := s.Collector.SyncCandles(s.Ctx, model.IntervalDay)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	s.lastSync = time.Now()
	instruments := s.instruments
	s.instruments = nil
	s.mu.Unlock()

	log.Infof("candles synced: %d candles for %d instruments, %d failed",
		res.Candles, res.Instruments, len(res.Failed))
	return notifier.FormatSyncSummary(instruments, &res), nil
}

func (s *Scheduler) reportTask() {
	for _, ticker := range s.Watchlist {
		res, err := s.Analyzer.Analyze(s.Ctx, analyzer.Request{Ticker: ticker})
		if err != nil {
			log.WithField("ticker", ticker).Errorf("levels report: %v", err)
			continue
		}
		s.trySend(notifier.FormatLevelsReport(res))
	}
}

const helpText = "Available commands:\n" +
	"• /levels TICKER [threshold]\n" +
	"• /sync\n" +
	"• /status"

// HandleCommand processes a user command and returns a reply.
func (s *Scheduler) HandleCommand(ctx context.Context, command string) string {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return helpText
	}

	switch strings.ToLower(fields[0]) {
	case "/levels":
		return s.levelsCommand(ctx, fields[1:])
	case "/sync":
		if !s.syncMu.TryLock() {
			return "⏳ Sync is already running"
		}
		defer s.syncMu.Unlock()
		s.syncInstruments()
		summary, err := s.syncCandles()
		if err != nil {
			return fmt.Sprintf("❌ Sync failed: %v", err)
		}
		return summary
	case "/status":
		return notifier.FormatStatus(s.Status(ctx))
	default:
		return helpText
	}
}

func (s *Scheduler) levelsCommand(ctx context.Context, args []string) string {
	if len(args) == 0 {
		return "Usage: /levels TICKER [threshold]"
	}
	req := analyzer.Request{Ticker: args[0]}
	if len(args) > 1 {
		threshold, err := strconv.ParseFloat(args[1], 64)
		if err != nil || threshold < 0 || threshold >= 1 {
			return fmt.Sprintf("Invalid threshold %q: expected a number in [0, 1)", args[1])
		}
		req.Threshold = &threshold
	}

	res, err := s.Analyzer.Analyze(ctx, req)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return fmt.Sprintf("Unknown ticker %s", strings.ToUpper(args[0]))
	case err != nil:
		log.WithField("ticker", args[0]).Errorf("levels command: %v", err)
		return fmt.Sprintf("❌ %v", err)
	}
	return notifier.FormatLevelsReport(res)
}

// Status collects the daemon state shown by /status.
func (s *Scheduler) Status(ctx context.Context) notifier.Status {
	st := notifier.Status{
		Source:    s.Source,
		Driver:    s.Driver,
		Watchlist: s.Watchlist,
		NextRuns:  make(map[string]time.Time, len(s.entries)),
	}
	if s.Collector != nil && s.Source == "" {
		st.Source = s.Collector.Fetcher.Name()
	}

	if instruments, err := s.Store.Instruments(ctx, store.InstrumentFilter{}); err != nil {
		log.Errorf("status: list instruments: %v", err)
	} else {
		st.Instruments = len(instruments)
	}
	if size, err := s.Store.Size(ctx); err != nil {
		log.Errorf("status: store size: %v", err)
	} else {
		st.StoreSize = size
	}

	for name, id := range s.entries {
		if next := s.Cron.Entry(id).Next; !next.IsZero() {
			st.NextRuns[name] = next
		}
	}

	s.mu.Lock()
	st.LastSync = s.lastSync
	s.mu.Unlock()
	return st
}

func (s *Scheduler) trySend(text string) {
	if s.Notifier == nil {
		return
	}
	if err := s.Notifier.SendWithRetry(s.Ctx, text, 3); err != nil {
		if errors.Is(err, notifier.ErrDisabled) {
			log.Debug("notification skipped: telegram is not configured")
			return
		}
		log.Errorf("send notification: %v", err)
	}
}
