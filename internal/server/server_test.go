package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"finpath-insight/internal/config"
	"finpath-insight/internal/fallback"
	"finpath-insight/internal/freshness"
	"finpath-insight/internal/market"
	"finpath-insight/internal/ratelimit"
	"finpath-insight/internal/service"
	"finpath-insight/internal/storage"
)

type stubResolver struct {
	fail bool
}

func (s *stubResolver) Resolve(_ context.Context, dt market.DataType, key string, _ market.Params) fallback.Outcome {
	if s.fail {
		err := errors.New("eodhd: server error")
		return fallback.Outcome{
			Attempts: []fallback.Attempt{{Provider: "eodhd", Err: err}},
			Err:      err,
		}
	}
	fields := market.Fields{}
	switch dt {
	case market.History:
		bars := make([]market.Bar, 60)
		for i := range bars {
			c := float64(100 + i)
			bars[i] = market.Bar{Date: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, i).Format("2006-01-02"), Open: c, High: c, Low: c, Close: c}
		}
		_ = fields.Set(market.FieldBars, bars)
	case market.News:
		_ = fields.Set(market.FieldArticles, []market.Article{{Title: "Markets rally", URL: "https://example.com/a"}})
	default:
		_ = fields.Set(market.FieldPrice, 2876.45)
	}
	return fallback.Outcome{OK: true, Fields: fields, Sources: []string{"eodhd"}}
}

func newTestServer(t *testing.T, resolver service.Resolver, freeQuota int) *httptest.Server {
	t.Helper()
	limiter, err := ratelimit.NewMemoryLimiter(ratelimit.Quotas{Window: time.Hour, Free: freeQuota, Pro: 100})
	require.NoError(t, err)

	svc := service.New(storage.NewMemoryStore(), limiter, freshness.Default(), resolver, zerolog.Nop())
	srv := New(config.ServerConfig{Addr: ":0"}, svc, zerolog.Nop())
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func get(t *testing.T, ts *httptest.Server, path string, headers map[string]string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, ts.URL+path, nil)
	require.NoError(t, err)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func user(id string) map[string]string {
	return map[string]string{HeaderUserID: id}
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, &stubResolver{}, 20)
	resp := get(t, ts, "/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get(HeaderRequestID))
}

func TestGetStockPriceMissThenHit(t *testing.T) {
	ts := newTestServer(t, &stubResolver{}, 20)

	resp := get(t, ts, "/api/v1/stock_price/reliance", user("u1"))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "miss", resp.Header.Get(HeaderCacheStatus))
	assert.Equal(t, "19", resp.Header.Get(HeaderRateLimitRemaining))

	var body market.Response
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "RELIANCE", body.Key)
	price, ok := body.Payload.Float(market.FieldPrice)
	require.True(t, ok)
	assert.Equal(t, 2876.45, price)

	resp = get(t, ts, "/api/v1/stock_price/RELIANCE", user("u1"))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "hit", resp.Header.Get(HeaderCacheStatus))
}

func TestMissingIdentityIsBadRequest(t *testing.T) {
	ts := newTestServer(t, &stubResolver{}, 20)
	resp := get(t, ts, "/api/v1/stock_price/TCS", nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var body errorBody
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "invalid_request", body.Error.Kind)
}

func TestUnknownDataTypeAndTier(t *testing.T) {
	ts := newTestServer(t, &stubResolver{}, 20)

	resp := get(t, ts, "/api/v1/options/TCS", user("u1"))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = get(t, ts, "/api/v1/stock_price/TCS", map[string]string{HeaderUserID: "u1", HeaderUserTier: "gold"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRateLimitedRequestGets429(t *testing.T) {
	ts := newTestServer(t, &stubResolver{}, 1)

	resp := get(t, ts, "/api/v1/stock_price/TCS", user("u1"))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = get(t, ts, "/api/v1/stock_price/TCS", user("u1"))
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "3600", resp.Header.Get(HeaderRetryAfter))
	assert.Equal(t, "0", resp.Header.Get(HeaderRateLimitRemaining))

	var body errorBody
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "rate_limit_exceeded", body.Error.Kind)
	require.NotNil(t, body.Error.RetryAfterSeconds)
	assert.Equal(t, 3600, *body.Error.RetryAfterSeconds)
}

func TestAllProvidersFailedGets502(t *testing.T) {
	ts := newTestServer(t, &stubResolver{fail: true}, 20)

	resp := get(t, ts, "/api/v1/fundamentals/INFY", user("u1"))
	require.Equal(t, http.StatusBadGateway, resp.StatusCode)

	var body errorBody
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "all_providers_failed", body.Error.Kind)
	require.Len(t, body.Error.Attempts, 1)
	assert.Equal(t, "eodhd", body.Error.Attempts[0].Provider)
}

func TestGeneralNews(t *testing.T) {
	ts := newTestServer(t, &stubResolver{}, 20)
	resp := get(t, ts, "/api/v1/news?limit=5", user("u1"))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body market.Response
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, market.GeneralNewsKey, body.Key)
	assert.True(t, body.Payload.Has(market.FieldArticles))

	resp = get(t, ts, "/api/v1/news?limit=x", user("u1"))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestIndicators(t *testing.T) {
	ts := newTestServer(t, &stubResolver{}, 20)
	resp := get(t, ts, "/api/v1/indicators/tcs?period=6mo", user("u1"))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body indicatorsBody
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "TCS:6mo", body.Key)
	assert.Equal(t, "6mo", body.Period)
	assert.Equal(t, 60, body.Indicators.Bars)
	require.NotNil(t, body.Indicators.SMA50)
	assert.Nil(t, body.Indicators.SMA200)
}
