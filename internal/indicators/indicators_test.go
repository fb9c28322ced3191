package indicators

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"finpath-insight/internal/market"
)

func barsFromCloses(closes []float64) []market.Bar {
	bars := make([]market.Bar, len(closes))
	for i, c := range closes {
		bars[i] = market.Bar{Open: c, High: c, Low: c, Close: c, Volume: 1000}
	}
	return bars
}

func TestSummarizeShortHistoryOmitsIndicators(t *testing.T) {
	s := Summarize(barsFromCloses([]float64{10, 11, 12, 13, 14}))

	assert.Equal(t, 5, s.Bars)
	require.NotNil(t, s.LastClose)
	assert.Equal(t, 14.0, *s.LastClose)
	assert.Nil(t, s.SMA50)
	assert.Nil(t, s.SMA200)
	assert.Nil(t, s.RSI14)
	assert.Nil(t, s.MACD)
	assert.Nil(t, s.Volatility)
}

func TestSummarizeEmpty(t *testing.T) {
	s := Summarize(nil)
	assert.Zero(t, s.Bars)
	assert.Nil(t, s.LastClose)
}

func TestSummarizeRisingSeries(t *testing.T) {
	closes := make([]float64, 60)
	for i := range closes {
		closes[i] = float64(i + 1)
	}
	s := Summarize(barsFromCloses(closes))

	require.NotNil(t, s.SMA50)
	assert.InDelta(t, 35.5, *s.SMA50, 1e-9)
	assert.Nil(t, s.SMA200)

	require.NotNil(t, s.RSI14)
	assert.InDelta(t, 100, *s.RSI14, 1e-6)

	require.NotNil(t, s.MACD)
	assert.Greater(t, s.MACD.Line, 0.0)

	require.NotNil(t, s.Volatility)
	assert.Greater(t, *s.Volatility, 0.0)
}

func TestVolatilityOfConstantGrowthIsZero(t *testing.T) {
	closes := make([]float64, 30)
	for i := range closes {
		closes[i] = 100 * math.Pow(1.01, float64(i))
	}
	v := volatility(closes)
	require.NotNil(t, v)
	assert.InDelta(t, 0, *v, 1e-9)
}

func TestSummarizeSkipsNonPositiveCloses(t *testing.T) {
	s := Summarize(barsFromCloses([]float64{0, 10, -1, 12}))
	assert.Equal(t, 2, s.Bars)
	assert.Equal(t, 12.0, *s.LastClose)
}
