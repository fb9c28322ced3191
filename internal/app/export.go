package app

import (
	"context"
	"encoding/csv"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/markcheno/go-talib"
	chart "github.com/wcharczuk/go-chart/v2"

	"finpath-insight/internal/market"
)

const exportSMAPeriod = 50

// Export writes a symbol's history as CSV and/or a PNG close-price chart.
// The history is served from cache when fresh and fetched otherwise.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}
	if opts.Symbol == "" {
		return errors.New("--symbol is required")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	rt, err := a.build(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	resp, err := rt.service.Warm(ctx, market.History, opts.Symbol, market.Params{Period: opts.Period})
	if err != nil {
		return err
	}

	var bars []market.Bar
	if resp.Payload.Has(market.FieldBars) {
		if err := resp.Payload.Decode(market.FieldBars, &bars); err != nil {
			return err
		}
	}
	if len(bars) == 0 {
		a.Logger.Info().Str("key", resp.Key).Msg("no history bars to export")
		return nil
	}

	downsampled := downsampleBars(bars, opts.MaxPoints)
	a.Logger.Info().
		Str("key", resp.Key).
		Str("cache_status", string(resp.CacheStatus)).
		Int("total", len(bars)).
		Int("exported", len(downsampled)).
		Msg("exporting history")

	if opts.CSVPath != "" {
		if err := writeBarsCSV(opts.CSVPath, downsampled); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writeBarsPNG(opts.PNGPath, resp.Key, downsampled); err != nil {
			return err
		}
	}

	return nil
}

func downsampleBars(bars []market.Bar, max int) []market.Bar {
	if max <= 0 || len(bars) <= max {
		return bars
	}
	if max == 1 {
		return bars[len(bars)-1:]
	}

	result := make([]market.Bar, 0, max)
	step := float64(len(bars)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(bars) {
			idx = len(bars) - 1
		}
		result = append(result, bars[idx])
	}
	return result
}

func writeBarsCSV(path string, bars []market.Bar) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	if err := writer.Write([]string{"date", "open", "high", "low", "close", "volume"}); err != nil {
		return err
	}

	for _, bar := range bars {
		record := []string{
			bar.Date,
			formatPrice(bar.Open),
			formatPrice(bar.High),
			formatPrice(bar.Low),
			formatPrice(bar.Close),
			strconv.FormatInt(bar.Volume, 10),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

func writeBarsPNG(path, key string, bars []market.Bar) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	x := make([]time.Time, 0, len(bars))
	closes := make([]float64, 0, len(bars))
	for _, bar := range bars {
		day, err := time.Parse("2006-01-02", bar.Date)
		if err != nil {
			continue
		}
		x = append(x, day)
		closes = append(closes, bar.Close)
	}
	if len(x) < 2 {
		return errors.New("not enough dated bars to chart")
	}

	priceFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.2f")
	}
	series := []chart.Series{
		chart.TimeSeries{
			Name:    "Close",
			XValues: x,
			YValues: closes,
		},
	}
	if len(closes) >= exportSMAPeriod {
		sma := talib.Sma(closes, exportSMAPeriod)
		series = append(series, chart.TimeSeries{
			Name:    "SMA 50",
			XValues: x[exportSMAPeriod-1:],
			YValues: sma[exportSMAPeriod-1:],
		})
	}

	graph := chart.Chart{
		Title:  key,
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeDateValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Price",
			ValueFormatter: priceFormatter,
		},
		Series: series,
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func formatPrice(v float64) string {
	return strconv.FormatFloat(v, 'f', 4, 64)
}
