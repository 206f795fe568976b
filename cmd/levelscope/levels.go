package main

import (
	"fmt"
	"os"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"LevelScope/internal/analyzer"
	"LevelScope/internal/config"
	"LevelScope/internal/model"
	"LevelScope/internal/store"
)

// requestFlags are the analysis flags shared by levels and chart.
type requestFlags struct {
	interval   string
	from, to   string
	levelsFrom string
	levelsTo   string
	threshold  float64
	tolerance  string
	minBatch   int
	recentRate int
}

func (f *requestFlags) register(fs *pflag.FlagSet) {
	fs.StringVar(&f.interval, "interval", string(model.IntervalDay), "candle interval")
	fs.StringVar(&f.from, "from", "", "first displayed date, YYYY-MM-DD (default: lookback_days before --to)")
	fs.StringVar(&f.to, "to", "", "last displayed date, YYYY-MM-DD (default: today)")
	fs.StringVar(&f.levelsFrom, "levels-from", "", "first date used for levels (default: --from)")
	fs.StringVar(&f.levelsTo, "levels-to", "", "last date used for levels (default: --to)")
	fs.Float64Var(&f.threshold, "threshold", -1, "significance threshold (default: from config)")
	fs.StringVar(&f.tolerance, "tolerance", "", "price tolerance (default: half the mean candle range)")
	fs.IntVar(&f.minBatch, "min-batch", 0, "min size of batch (default: from config)")
	fs.IntVar(&f.recentRate, "recent-rate", -1, "recent level rate, 0 disables the recency boost (default: from config)")
}

func (f *requestFlags) request(cfg *config.Config, ticker string) (analyzer.Request, error) {
	loc, err := cfg.Location()
	if err != nil {
		return analyzer.Request{}, err
	}
	req := analyzer.Request{
		Ticker:       ticker,
		Interval:     model.CandleInterval(f.interval),
		MinBatchSize: f.minBatch,
	}
	if !req.Interval.Valid() {
		return req, fmt.Errorf("unknown interval %q", f.interval)
	}

	dates := []struct {
		name  string
		value string
		dst   *time.Time
	}{
		{"from", f.from, &req.From},
		{"to", f.to, &req.To},
		{"levels-from", f.levelsFrom, &req.LevelsFrom},
		{"levels-to", f.levelsTo, &req.LevelsTo},
	}
	for _, d := range dates {
		if d.value == "" {
			continue
		}
		t, err := time.ParseInLocation(time.DateOnly, d.value, loc)
		if err != nil {
			return req, fmt.Errorf("--%s: %w", d.name, err)
		}
		*d.dst = t
	}

	// -1 is the unset flag value
	switch {
	case f.threshold == -1:
	case f.threshold < 0 || f.threshold >= 1:
		return req, fmt.Errorf("--threshold %v: expected a number in [0, 1)", f.threshold)
	default:
		threshold := f.threshold
		req.Threshold = &threshold
	}
	switch {
	case f.recentRate == -1:
	case f.recentRate < 0:
		return req, fmt.Errorf("--recent-rate %d: must not be negative", f.recentRate)
	default:
		rate := f.recentRate
		req.RecentLevelRate = &rate
	}
	if f.tolerance != "" {
		tol, err := decimal.NewFromString(f.tolerance)
		if err != nil {
			return req, fmt.Errorf("--tolerance: %w", err)
		}
		req.PriceTolerance = &tol
	}
	return req, nil
}

var levelsFlags requestFlags

var levelsCmd = &cobra.Command{
	Use:   "levels TICKER",
	Short: "Print the support and resistance levels of a stored instrument",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd.Context(), func(cfg *config.Config, st store.Store) error {
			req, err := levelsFlags.request(cfg, args[0])
			if err != nil {
				return err
			}
			an, err := newAnalyzer(cfg, st)
			if err != nil {
				return err
			}
			res, err := an.Analyze(cmd.Context(), req)
			if err != nil {
				return err
			}
			printLevels(res)
			return nil
		})
	},
}

func printLevels(res *analyzer.Result) {
	fmt.Printf("%s: %d %s candles, levels from %s to %s, tolerance %s\n",
		res.Instrument, len(res.Candles), res.Interval,
		res.LevelsFrom.Format(time.DateOnly), res.LevelsEnd.Format(time.DateOnly), res.Tolerance.StringFixed(4))

	p := message.NewPrinter(language.English)
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Price", "Since", "Significance", "Distance"})
	table.SetAlignment(tablewriter.ALIGN_RIGHT)
	last := res.Context.LastClose
	for _, l := range res.Levels {
		dist := "-"
		if last > 0 {
			dist = fmt.Sprintf("%+.2f%%", (l.Price.InexactFloat64()-last)/last*100)
		}
		table.Append([]string{
			p.Sprintf("%.2f", l.Price.InexactFloat64()),
			l.Time.Format(time.DateOnly),
			fmt.Sprintf("%.3f", l.Significance),
			dist,
		})
	}
	table.SetFooter([]string{"", "", "last close", p.Sprintf("%.2f", last)})
	table.Render()
}

func init() {
	levelsFlags.register(levelsCmd.Flags())
}
