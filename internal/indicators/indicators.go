// Package indicators derives a technical summary from cached history bars.
package indicators

import (
	"math"

	"github.com/markcheno/go-talib"
	"gonum.org/v1/gonum/stat"

	"finpath-insight/internal/market"
)

const (
	tradingDaysPerYear = 252
	rsiPeriod          = 14
	macdFast           = 12
	macdSlow           = 26
	macdSignal         = 9
	minVolatilityBars  = 21
)

// MACD is the last MACD(12,26,9) reading.
type MACD struct {
	Line      float64 `json:"line"`
	Signal    float64 `json:"signal"`
	Histogram float64 `json:"histogram"`
}

// Summary holds the latest indicator values. An indicator is nil when the
// history is too short to compute it.
type Summary struct {
	Bars       int      `json:"bars"`
	LastClose  *float64 `json:"lastClose,omitempty"`
	SMA50      *float64 `json:"sma50,omitempty"`
	SMA200     *float64 `json:"sma200,omitempty"`
	RSI14      *float64 `json:"rsi14,omitempty"`
	MACD       *MACD    `json:"macd,omitempty"`
	Volatility *float64 `json:"annualizedVolatility,omitempty"`
}

// Summarize computes the summary over bars ordered oldest first.
func Summarize(bars []market.Bar) Summary {
	closes := make([]float64, 0, len(bars))
	for _, b := range bars {
		if b.Close > 0 && !math.IsNaN(b.Close) {
			closes = append(closes, b.Close)
		}
	}

	summary := Summary{Bars: len(closes)}
	if len(closes) == 0 {
		return summary
	}
	summary.LastClose = ptr(closes[len(closes)-1])
	summary.SMA50 = sma(closes, 50)
	summary.SMA200 = sma(closes, 200)
	summary.RSI14 = rsi(closes, rsiPeriod)
	summary.MACD = macd(closes)
	summary.Volatility = volatility(closes)
	return summary
}

func sma(closes []float64, period int) *float64 {
	if len(closes) < period {
		return nil
	}
	return last(talib.Sma(closes, period))
}

func rsi(closes []float64, period int) *float64 {
	if len(closes) < period+1 {
		return nil
	}
	return last(talib.Rsi(closes, period))
}

func macd(closes []float64) *MACD {
	if len(closes) < macdSlow+macdSignal {
		return nil
	}
	line, signal, hist := talib.Macd(closes, macdFast, macdSlow, macdSignal)
	l, s, h := last(line), last(signal), last(hist)
	if l == nil || s == nil || h == nil {
		return nil
	}
	return &MACD{Line: *l, Signal: *s, Histogram: *h}
}

// volatility is the annualised standard deviation of daily simple returns.
func volatility(closes []float64) *float64 {
	if len(closes) < minVolatilityBars {
		return nil
	}
	returns := make([]float64, 0, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		returns = append(returns, closes[i]/closes[i-1]-1)
	}
	sd := stat.StdDev(returns, nil)
	if math.IsNaN(sd) {
		return nil
	}
	return ptr(sd * math.Sqrt(tradingDaysPerYear))
}

func last(series []float64) *float64 {
	if len(series) == 0 {
		return nil
	}
	v := series[len(series)-1]
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return ptr(v)
}

func ptr(v float64) *float64 {
	return &v
}
