package notifier

import (
	"fmt"
	"html"
	"maps"
	"slices"
	"strings"
	"time"

	"LevelScope/internal/analyzer"
	"LevelScope/internal/collector"
	"LevelScope/internal/model"
)

// FormatLevelsReport formats the levels of one instrument with its market context.
// Levels above the last close are marked red, the rest green.
func FormatLevelsReport(res *analyzer.Result) string {
	var b strings.Builder

	b.WriteString(fmt.Sprintf("📊 <b>%s</b> %s | %s\n",
		html.EscapeString(res.Instrument.Ticker), res.Interval, res.LevelsEnd.Format(time.DateOnly)))
	if res.Instrument.Name != "" && res.Instrument.Name != res.Instrument.Ticker {
		b.WriteString(html.EscapeString(res.Instrument.Name) + "\n")
	}
	b.WriteString("\n")

	mc := res.Context
	b.WriteString(fmt.Sprintf("Last close: %.2f\n", mc.LastClose))
	if mc.MA200 > 0 {
		b.WriteString(fmt.Sprintf("MA200: %.2f (%+.1f%%)\n", mc.MA200, (mc.LastClose-mc.MA200)/mc.MA200*100))
	}
	b.WriteString(fmt.Sprintf("RSI(14): %.1f\n", mc.DailyRSI))
	b.WriteString(fmt.Sprintf("52w range: %.2f - %.2f (%.0f%%)\n\n", mc.Low52w, mc.High52w, mc.Position52w*100))

	if len(res.Levels) == 0 {
		b.WriteString(fmt.Sprintf("No levels above significance %.2f\n", res.Threshold))
		return b.String()
	}

	b.WriteString(fmt.Sprintf("📈 <b>Levels</b> (significance &gt; %.2f, tolerance %s):\n",
		res.Threshold, res.Tolerance.StringFixed(2)))
	for _, l := range res.Levels {
		price := l.Price.InexactFloat64()
		marker := "🟢"
		if price > mc.LastClose {
			marker = "🔴"
		}
		dist := 0.0
		if mc.LastClose > 0 {
			dist = (price - mc.LastClose) / mc.LastClose * 100
		}
		b.WriteString(fmt.Sprintf("  %s %s (%+.1f%%) sig %.2f since %s\n",
			marker, l.Price.StringFixed(2), dist, l.Significance, l.Time.Format(time.DateOnly)))
	}
	return b.String()
}

// FormatSyncSummary formats the result of one sync run.
func FormatSyncSummary(instruments []collector.InstrumentSyncResult, candles *collector.CandleSyncResult) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("🔄 <b>Sync</b> | %s\n\n", time.Now().Format("2006-01-02 15:04")))

	for _, r := range instruments {
		b.WriteString(fmt.Sprintf("%s instruments: +%d / -%d\n", kindLabel(r.Kind), r.Created, r.Deleted))
	}
	if candles != nil {
		b.WriteString(fmt.Sprintf("Candles: %d saved for %d instruments\n", candles.Candles, candles.Instruments))
		if len(candles.Failed) > 0 {
			b.WriteString(fmt.Sprintf("⚠️ Failed: %s\n", html.EscapeString(strings.Join(candles.Failed, ", "))))
		}
	}
	return b.String()
}

// Status is the daemon state shown by /status.
type Status struct {
	Source      string
	Driver      string
	Instruments int
	StoreSize   int64
	Watchlist   []string
	LastSync    time.Time
	NextRuns    map[string]time.Time
}

// FormatStatus formats the daemon status for display.
func FormatStatus(s Status) string {
	var b strings.Builder
	b.WriteString("📦 <b>LevelScope status</b>\n\n")
	b.WriteString(fmt.Sprintf("Data source: %s\n", s.Source))
	b.WriteString(fmt.Sprintf("Store: %s, %s\n", s.Driver, humanBytes(s.StoreSize)))
	b.WriteString(fmt.Sprintf("Active instruments: %d\n", s.Instruments))
	if len(s.Watchlist) > 0 {
		b.WriteString(fmt.Sprintf("Watchlist: %s\n", html.EscapeString(strings.Join(s.Watchlist, ", "))))
	}
	if s.LastSync.IsZero() {
		b.WriteString("Last sync: never\n")
	} else {
		b.WriteString(fmt.Sprintf("Last sync: %s\n", s.LastSync.Format("2006-01-02 15:04")))
	}
	for _, name := range slices.Sorted(maps.Keys(s.NextRuns)) {
		b.WriteString(fmt.Sprintf("Next %s: %s\n", name, s.NextRuns[name].Format("2006-01-02 15:04")))
	}
	return b.String()
}

func kindLabel(kind model.InstrumentType) string {
	switch kind {
	case model.InstrumentStock:
		return "Stock"
	case model.InstrumentBond:
		return "Bond"
	case model.InstrumentCurrency:
		return "Currency"
	default:
		return string(kind)
	}
}

func humanBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
