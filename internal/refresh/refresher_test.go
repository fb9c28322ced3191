package refresh

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"finpath-insight/internal/alerting"
	"finpath-insight/internal/market"
)

type fakeWarmer struct {
	mu     sync.Mutex
	calls  []string
	move   map[string]float64
	fail   map[string]bool
	status market.CacheStatus
}

func (f *fakeWarmer) Warm(_ context.Context, dt market.DataType, key string, _ market.Params) (market.Response, error) {
	f.mu.Lock()
	f.calls = append(f.calls, string(dt)+"/"+key)
	f.mu.Unlock()

	if f.fail[key] {
		return market.Response{}, errors.New("upstream down")
	}
	payload := market.Fields{}
	if pct, ok := f.move[key]; ok {
		_ = payload.Set(market.FieldChangePercent, pct)
	}
	_ = payload.Set(market.FieldPrice, 100.0)
	_ = payload.Set(market.FieldValue, 22000.0)
	status := f.status
	if status == "" {
		status = market.CacheMiss
	}
	return market.Response{DataType: dt, Key: key, Payload: payload, CacheStatus: status, Sources: []string{"eodhd"}}, nil
}

type recordingNotifier struct {
	mu    sync.Mutex
	notes []alerting.Notification
}

func (n *recordingNotifier) Notify(_ context.Context, note alerting.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notes = append(n.notes, note)
	return nil
}

func TestRefreshWarmsWatchlist(t *testing.T) {
	warmer := &fakeWarmer{}
	r := New(warmer, nil, Options{
		Symbols: []string{"RELIANCE", "TCS"},
		Indices: []string{"NIFTY 50"},
		Workers: 2,
	}, zerolog.Nop())

	summary, err := r.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Warmed)
	assert.Zero(t, summary.Failed)
	assert.ElementsMatch(t, []string{"stock_price/RELIANCE", "stock_price/TCS", "indices/NIFTY 50"}, warmer.calls)
}

func TestRefreshPartialAndTotalFailure(t *testing.T) {
	warmer := &fakeWarmer{fail: map[string]bool{"TCS": true}}
	r := New(warmer, nil, Options{Symbols: []string{"RELIANCE", "TCS"}}, zerolog.Nop())

	summary, err := r.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Warmed)
	assert.Equal(t, 1, summary.Failed)

	allBad := New(&fakeWarmer{fail: map[string]bool{"TCS": true}}, nil, Options{Symbols: []string{"TCS"}}, zerolog.Nop())
	require.Error(t, allBad.Tick(context.Background(), time.Now()))
}

func TestRefreshAlertsOnBigMovesWithCooldown(t *testing.T) {
	warmer := &fakeWarmer{move: map[string]float64{"RELIANCE": -3.4, "TCS": 1.2, "NIFTY 50": 3.0}}
	notifier := &recordingNotifier{}
	r := New(warmer, notifier, Options{
		Symbols:      []string{"RELIANCE", "TCS"},
		Indices:      []string{"NIFTY 50"},
		ThresholdPct: 3,
		Cooldown:     time.Hour,
	}, zerolog.Nop())

	summary, err := r.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Alerts)
	require.Len(t, notifier.notes, 2)

	byKey := map[string]alerting.Notification{}
	for _, n := range notifier.notes {
		byKey[n.Symbol] = n
	}
	assert.Equal(t, alerting.DirectionDown, byKey["RELIANCE"].Direction)
	assert.Equal(t, "100", byKey["RELIANCE"].Price.String())
	assert.Equal(t, "Index", byKey["NIFTY 50"].Kind)
	assert.Equal(t, "22000", byKey["NIFTY 50"].Price.String())

	summary, err = r.Refresh(context.Background())
	require.NoError(t, err)
	assert.Zero(t, summary.Alerts)
	assert.Len(t, notifier.notes, 2)
}

func TestRefreshNeverAlertsOnStalePayloads(t *testing.T) {
	warmer := &fakeWarmer{move: map[string]float64{"RELIANCE": 9.0}, status: market.CacheStaleServed}
	notifier := &recordingNotifier{}
	r := New(warmer, notifier, Options{Symbols: []string{"RELIANCE"}, ThresholdPct: 3}, zerolog.Nop())

	summary, err := r.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Stale)
	assert.Empty(t, notifier.notes)
}

func TestRefreshDoesNotAlertOnCacheHits(t *testing.T) {
	warmer := &fakeWarmer{move: map[string]float64{"RELIANCE": 9.0}, status: market.CacheHit}
	notifier := &recordingNotifier{}
	r := New(warmer, notifier, Options{Symbols: []string{"RELIANCE"}, ThresholdPct: 3}, zerolog.Nop())

	summary, err := r.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Warmed)
	assert.Zero(t, summary.Alerts)
	assert.Empty(t, notifier.notes)
}
