// Package chart renders candles, volume and price levels as a standalone SVG.
package chart

import (
	"bufio"
	"errors"
	"fmt"
	"html"
	"io"
	"math"
	"time"

	"github.com/shopspring/decimal"

	"LevelScope/internal/model"
)

const (
	ColorIncreasing = "#2d9462"
	ColorDecreasing = "#f62f47"
	ColorVolume     = "#7658e0"
	ColorLevel      = "#1f77b4"

	defaultWidth  = 1200
	defaultHeight = 700

	marginLeft   = 60
	marginRight  = 20
	marginTop    = 36
	marginBottom = 24
)

// ErrNoCandles is returned when there is nothing to draw.
var ErrNoCandles = errors.New("chart needs at least one candle")

// Chart describes one rendered chart.
type Chart struct {
	Title   string
	Candles []model.Candle
	Levels  []model.PriceLevel
	// LevelsEnd is the last candle the levels were computed from. A marker is
	// drawn there when it is before the last displayed candle.
	LevelsEnd time.Time
	ShowHover bool

	Width, Height int
}

// layout maps candle indexes, prices and volumes to SVG coordinates.
// The price panel takes 80% of the plot height and the volume panel 15%.
type layout struct {
	left, slot           float64
	priceTop, priceH     float64
	volumeTop, volumeH   float64
	minPrice, priceRange float64
	maxVolume            float64
}

func newLayout(c Chart, width, height int) layout {
	plotH := float64(height - marginTop - marginBottom)
	l := layout{
		left:      marginLeft,
		slot:      float64(width-marginLeft-marginRight) / float64(len(c.Candles)),
		priceTop:  marginTop,
		priceH:    plotH * 0.80,
		volumeTop: marginTop + plotH*0.85,
		volumeH:   plotH * 0.15,
	}

	lo, hi := c.Candles[0].Low, c.Candles[0].High
	for _, cd := range c.Candles {
		lo = decimal.Min(lo, cd.Low)
		hi = decimal.Max(hi, cd.High)
		l.maxVolume = math.Max(l.maxVolume, float64(cd.Volume))
	}
	for _, lv := range c.Levels {
		lo = decimal.Min(lo, lv.Price)
		hi = decimal.Max(hi, lv.Price)
	}
	pad := hi.Sub(lo).InexactFloat64() * 0.02
	if pad == 0 {
		pad = 1
	}
	l.minPrice = lo.InexactFloat64() - pad
	l.priceRange = hi.InexactFloat64() + pad - l.minPrice
	return l
}

func (l layout) x(i int) float64 {
	return l.left + (float64(i)+0.5)*l.slot
}

func (l layout) y(price decimal.Decimal) float64 {
	return l.priceTop + l.priceH*(1-(price.InexactFloat64()-l.minPrice)/l.priceRange)
}

func (l layout) vy(volume int64) float64 {
	if l.maxVolume == 0 {
		return l.volumeTop + l.volumeH
	}
	return l.volumeTop + l.volumeH*(1-float64(volume)/l.maxVolume)
}

// indexAtOrAfter returns the first candle at or after t, clamped to the last candle.
func indexAtOrAfter(candles []model.Candle, t time.Time) int {
	for i, c := range candles {
		if !c.Time.Before(t) {
			return i
		}
	}
	return len(candles) - 1
}

// indexAtOrBefore returns the last candle at or before t, or -1.
func indexAtOrBefore(candles []model.Candle, t time.Time) int {
	idx := -1
	for i, c := range candles {
		if c.Time.After(t) {
			break
		}
		idx = i
	}
	return idx
}

// Render writes the chart as SVG to w. Candles must be ordered by time.
func Render(w io.Writer, c Chart) error {
	if len(c.Candles) == 0 {
		return ErrNoCandles
	}
	width, height := c.Width, c.Height
	if width <= 0 {
		width = defaultWidth
	}
	if height <= 0 {
		height = defaultHeight
	}
	l := newLayout(c, width, height)
	last := len(c.Candles) - 1

	bw := bufio.NewWriter(w)
	p := func(format string, args ...any) {
		fmt.Fprintf(bw, format, args...)
	}

	p(`<svg xmlns="http://www.w3.org/2000/svg" width="%d" height="%d" viewBox="0 0 %d %d" font-family="sans-serif" font-size="12">`+"\n",
		width, height, width, height)
	p(`<rect width="100%%" height="100%%" fill="#ffffff"/>` + "\n")
	if c.Title != "" {
		p(`<text class="title" x="%d" y="22" font-size="16">%s</text>`+"\n", marginLeft, html.EscapeString(c.Title))
	}

	// price axis: five evenly spaced labels
	for i := 0; i <= 4; i++ {
		price := l.minPrice + l.priceRange*float64(i)/4
		y := l.priceTop + l.priceH*(1-float64(i)/4)
		p(`<line class="grid" x1="%d" y1="%.2f" x2="%d" y2="%.2f" stroke="#e5e5e5"/>`+"\n", marginLeft, y, width-marginRight, y)
		p(`<text class="axis" x="%d" y="%.2f" text-anchor="end">%.2f</text>`+"\n", marginLeft-4, y+4, price)
	}
	p(`<text class="axis" x="%.2f" y="%d">%s</text>`+"\n", l.x(0), height-6, c.Candles[0].Time.Format(time.DateOnly))
	p(`<text class="axis" x="%.2f" y="%d" text-anchor="end">%s</text>`+"\n", l.x(last), height-6, c.Candles[last].Time.Format(time.DateOnly))

	bodyW := math.Max(l.slot*0.7, 1)
	for i, cd := range c.Candles {
		color := ColorDecreasing
		if cd.Increasing() {
			color = ColorIncreasing
		}
		x := l.x(i)
		top, bottom := l.y(decimal.Max(cd.Open, cd.Close)), l.y(decimal.Min(cd.Open, cd.Close))

		p(`<g>`)
		if c.ShowHover {
			p(`<title>%s O %s H %s L %s C %s V %d</title>`, cd.Time.Format(time.DateOnly),
				cd.Open, cd.High, cd.Low, cd.Close, cd.Volume)
		}
		p(`<line class="wick" x1="%.2f" y1="%.2f" x2="%.2f" y2="%.2f" stroke="%s"/>`,
			x, l.y(cd.High), x, l.y(cd.Low), color)
		p(`<rect class="candle" x="%.2f" y="%.2f" width="%.2f" height="%.2f" fill="%s"/>`,
			x-bodyW/2, top, bodyW, math.Max(bottom-top, 1), color)
		p("</g>\n")
	}

	p(`<polyline class="volume" fill="none" stroke="%s" stroke-width="1.5" points="`, ColorVolume)
	for i, cd := range c.Candles {
		if i > 0 {
			p(" ")
		}
		p("%.2f,%.2f", l.x(i), l.vy(cd.Volume))
	}
	p(`"/>` + "\n")

	for _, lv := range c.Levels {
		y := l.y(lv.Price)
		p(`<line class="level" x1="%.2f" y1="%.2f" x2="%.2f" y2="%.2f" stroke="%s" stroke-width="2" stroke-opacity="%.3f">`,
			l.x(indexAtOrAfter(c.Candles, lv.Time)), y, l.x(last), y, ColorLevel, lv.Significance)
		p(`<title>%s (%.2f)</title></line>`+"\n", lv.Price, lv.Significance)
	}

	if !c.LevelsEnd.IsZero() && c.LevelsEnd.Before(c.Candles[last].Time) {
		if i := indexAtOrBefore(c.Candles, c.LevelsEnd); i >= 0 {
			p(`<line class="levels-end" x1="%.2f" y1="%.2f" x2="%.2f" y2="%.2f" stroke="#000000" stroke-width="3" stroke-opacity="0.2"/>`+"\n",
				l.x(i), l.priceTop, l.x(i), l.volumeTop+l.volumeH)
		}
	}

	p("</svg>\n")
	return bw.Flush()
}
