package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"finpath-insight/internal/fallback"
	"finpath-insight/internal/fetcher"
	"finpath-insight/internal/freshness"
	"finpath-insight/internal/market"
	"finpath-insight/internal/ratelimit"
	"finpath-insight/internal/storage"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type stubProvider struct {
	mu     sync.Mutex
	name   string
	fields map[string]any
	fail   bool
	calls  int
}

func (p *stubProvider) Name() string { return p.name }

func (p *stubProvider) Fetch(_ context.Context, _ market.DataType, _ string, _ market.Params) fetcher.Result {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.fail {
		return fetcher.Failure(p.name, fetcher.NewServerError(503))
	}
	f := market.Fields{}
	for k, v := range p.fields {
		_ = f.Set(k, v)
	}
	return fetcher.Success(p.name, f)
}

func (p *stubProvider) setFail(fail bool) {
	p.mu.Lock()
	p.fail = fail
	p.mu.Unlock()
}

func (p *stubProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

// spyStore wraps MemoryStore with failure injection and read counting.
type spyStore struct {
	*storage.MemoryStore
	mu        sync.Mutex
	gets      int
	failGet   bool
	failWrite bool
}

func (s *spyStore) Get(ctx context.Context, dt market.DataType, key string) (*market.CacheRecord, error) {
	s.mu.Lock()
	s.gets++
	fail := s.failGet
	s.mu.Unlock()
	if fail {
		return nil, &storage.Error{Op: "get", DataType: dt, Key: key, Err: errors.New("connection refused")}
	}
	return s.MemoryStore.Get(ctx, dt, key)
}

func (s *spyStore) Upsert(ctx context.Context, rec market.CacheRecord) error {
	if s.failWrite {
		return &storage.Error{Op: "upsert", DataType: rec.DataType, Key: rec.Key, Err: errors.New("connection refused")}
	}
	return s.MemoryStore.Upsert(ctx, rec)
}

type brokenLimiter struct{}

func (brokenLimiter) TryConsume(context.Context, string, market.Tier) (ratelimit.Decision, error) {
	return ratelimit.Decision{}, errors.New("redis: connection refused")
}

type harness struct {
	svc      *Service
	clock    *clock
	store    *spyStore
	provider *stubProvider
}

func relianceQuote() map[string]any {
	return map[string]any{
		market.FieldPrice:         2876.45,
		market.FieldChangePercent: 1.2,
		market.FieldVolume:        52345,
	}
}

func newHarness(t *testing.T, limiter ratelimit.Limiter, opts ...Option) *harness {
	t.Helper()
	c := &clock{now: time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)}
	if limiter == nil {
		mem, err := ratelimit.NewMemoryLimiter(ratelimit.DefaultQuotas(), ratelimit.WithClock(c.Now))
		require.NoError(t, err)
		limiter = mem
	}
	provider := &stubProvider{name: "eodhd", fields: relianceQuote()}
	chain := fallback.New(fetcher.NewRegistry(provider), map[market.DataType][]string{
		market.StockPrice: {"eodhd"},
		market.Indices:    {"eodhd"},
	}, zerolog.Nop())
	store := &spyStore{MemoryStore: storage.NewMemoryStore()}

	opts = append([]Option{WithClock(c.Now)}, opts...)
	svc := New(store, limiter, freshness.Default(), chain, zerolog.Nop(), opts...)
	return &harness{svc: svc, clock: c, store: store, provider: provider}
}

func priceRequest() market.Request {
	return market.Request{DataType: market.StockPrice, Key: "RELIANCE", Identity: "u1", Tier: market.TierFree}
}

func TestMissThenHit(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	first, err := h.svc.Handle(ctx, priceRequest())
	require.NoError(t, err)
	assert.Equal(t, market.CacheMiss, first.CacheStatus)
	price, _ := first.Payload.Float(market.FieldPrice)
	assert.Equal(t, 2876.45, price)
	assert.Equal(t, []string{"eodhd"}, first.Sources)
	require.NotNil(t, first.RateLimit)
	assert.Equal(t, 19, first.RateLimit.Remaining)

	second, err := h.svc.Handle(ctx, priceRequest())
	require.NoError(t, err)
	assert.Equal(t, market.CacheHit, second.CacheStatus)
	assert.Equal(t, first.Payload, second.Payload)
	assert.Equal(t, 1, h.provider.callCount())
	assert.Equal(t, 18, second.RateLimit.Remaining)
}

func TestTTLBoundary(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	_, err := h.svc.Handle(ctx, priceRequest())
	require.NoError(t, err)

	h.clock.Advance(60*time.Second - time.Millisecond)
	resp, err := h.svc.Handle(ctx, priceRequest())
	require.NoError(t, err)
	assert.Equal(t, market.CacheHit, resp.CacheStatus)

	h.clock.Advance(2 * time.Millisecond)
	resp, err = h.svc.Handle(ctx, priceRequest())
	require.NoError(t, err)
	assert.Equal(t, market.CacheMiss, resp.CacheStatus)
	assert.Equal(t, 2, h.provider.callCount())
}

func TestStaleServedWhenProvidersFail(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	first, err := h.svc.Handle(ctx, priceRequest())
	require.NoError(t, err)

	h.clock.Advance(10 * time.Minute)
	h.provider.setFail(true)

	resp, err := h.svc.Handle(ctx, priceRequest())
	require.NoError(t, err)
	assert.Equal(t, market.CacheStaleServed, resp.CacheStatus)
	assert.Equal(t, first.Payload, resp.Payload)
	assert.True(t, first.FetchedAt.Equal(resp.FetchedAt))
}

func TestAllProvidersFailedWithoutCache(t *testing.T) {
	h := newHarness(t, nil)
	h.provider.setFail(true)

	_, err := h.svc.Handle(context.Background(), priceRequest())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAllProvidersFailed)

	var svcErr *Error
	require.True(t, errors.As(err, &svcErr))
	assert.Equal(t, KindAllProvidersFailed, svcErr.Kind)
	require.Len(t, svcErr.Attempts, 1)

	rec, _ := h.store.MemoryStore.Get(context.Background(), market.StockPrice, "RELIANCE")
	assert.Nil(t, rec)
}

func TestRateLimitGatesBeforeCache(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		_, err := h.svc.Handle(ctx, priceRequest())
		require.NoError(t, err, "request %d", i+1)
	}
	getsBefore := h.store.gets

	_, err := h.svc.Handle(ctx, priceRequest())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRateLimited)

	var svcErr *Error
	require.True(t, errors.As(err, &svcErr))
	assert.Equal(t, 0, svcErr.Remaining)
	assert.Equal(t, 20, svcErr.Limit)
	assert.Equal(t, time.Hour, svcErr.RetryAfter)
	assert.Equal(t, getsBefore, h.store.gets, "rejected request must not read the cache")
	assert.Equal(t, 1, h.provider.callCount())
}

func TestExemptCacheHitsOnlyChargesFetches(t *testing.T) {
	h := newHarness(t, nil, WithExemptCacheHits(true))
	ctx := context.Background()

	first, err := h.svc.Handle(ctx, priceRequest())
	require.NoError(t, err)
	require.NotNil(t, first.RateLimit)
	assert.Equal(t, 19, first.RateLimit.Remaining)

	for i := 0; i < 30; i++ {
		resp, err := h.svc.Handle(ctx, priceRequest())
		require.NoError(t, err)
		assert.Equal(t, market.CacheHit, resp.CacheStatus)
		assert.Nil(t, resp.RateLimit)
	}
}

func TestCacheReadFailureIsAMiss(t *testing.T) {
	h := newHarness(t, nil)
	h.store.failGet = true

	resp, err := h.svc.Handle(context.Background(), priceRequest())
	require.NoError(t, err)
	assert.Equal(t, market.CacheMiss, resp.CacheStatus)
	assert.Equal(t, 1, h.provider.callCount())
}

func TestCacheWriteFailureStillReturnsData(t *testing.T) {
	h := newHarness(t, nil)
	h.store.failWrite = true

	resp, err := h.svc.Handle(context.Background(), priceRequest())
	require.NoError(t, err)
	assert.Equal(t, market.CacheMiss, resp.CacheStatus)
	price, _ := resp.Payload.Float(market.FieldPrice)
	assert.Equal(t, 2876.45, price)
}

func TestLimiterFailureAdmits(t *testing.T) {
	h := newHarness(t, brokenLimiter{})

	resp, err := h.svc.Handle(context.Background(), priceRequest())
	require.NoError(t, err)
	assert.Nil(t, resp.RateLimit)
}

func TestInvalidRequests(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	tests := []struct {
		name string
		req  market.Request
	}{
		{"no identity", market.Request{DataType: market.StockPrice, Key: "TCS"}},
		{"no key", market.Request{DataType: market.StockPrice, Identity: "u1"}},
		{"bad type", market.Request{DataType: "options", Key: "TCS", Identity: "u1"}},
		{"bad period", market.Request{DataType: market.History, Key: "TCS", Identity: "u1", Params: market.Params{Period: "7w"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.svc.Handle(ctx, tt.req)
			assert.ErrorIs(t, err, ErrInvalidRequest)
		})
	}
	assert.Equal(t, 0, h.provider.callCount())
}

func TestHandleBatchKeepsOrder(t *testing.T) {
	h := newHarness(t, nil, WithBatchWorkers(3))
	reqs := []market.Request{
		priceRequest(),
		{DataType: market.StockPrice, Key: "TCS", Identity: "u1"},
		{DataType: market.StockPrice, Identity: "u1"},
		{DataType: market.StockPrice, Key: "INFY", Identity: "u2", Tier: market.TierPro},
	}

	results := h.svc.HandleBatch(context.Background(), reqs)
	require.Len(t, results, 4)
	assert.Equal(t, "RELIANCE", results[0].Response.Key)
	assert.Equal(t, "TCS", results[1].Response.Key)
	assert.ErrorIs(t, results[2].Err, ErrInvalidRequest)
	assert.Equal(t, "INFY", results[3].Response.Key)
	assert.Equal(t, 99, results[3].Response.RateLimit.Remaining)
}

func TestWarmSkipsRateLimit(t *testing.T) {
	limiter, err := ratelimit.NewMemoryLimiter(ratelimit.Quotas{Window: time.Hour, Free: 1, Pro: 1})
	require.NoError(t, err)
	h := newHarness(t, limiter)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		h.clock.Advance(2 * time.Minute)
		resp, err := h.svc.Warm(ctx, market.StockPrice, "RELIANCE", market.Params{})
		require.NoError(t, err)
		assert.Equal(t, market.CacheMiss, resp.CacheStatus)
	}
	assert.Equal(t, 3, h.provider.callCount())

	_, err = h.svc.Handle(ctx, priceRequest())
	require.NoError(t, err)
}

// newsProvider returns up to 30 articles, honouring the requested limit.
type newsProvider struct {
	mu     sync.Mutex
	limits []int
}

func (p *newsProvider) Name() string { return "newsapi" }

func (p *newsProvider) Fetch(_ context.Context, _ market.DataType, _ string, params market.Params) fetcher.Result {
	p.mu.Lock()
	p.limits = append(p.limits, params.Limit)
	p.mu.Unlock()

	n := 30
	if params.Limit < n {
		n = params.Limit
	}
	articles := make([]market.Article, n)
	for i := range articles {
		articles[i] = market.Article{Title: "headline", URL: "https://example.com/" + string(rune('a'+i%26))}
	}
	f := market.Fields{}
	_ = f.Set(market.FieldArticles, articles)
	return fetcher.Success(p.Name(), f)
}

func articleCount(t *testing.T, resp market.Response) int {
	t.Helper()
	var articles []market.Article
	require.NoError(t, resp.Payload.Decode(market.FieldArticles, &articles))
	return len(articles)
}

func TestNewsLimitAppliesToCachedList(t *testing.T) {
	c := &clock{now: time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)}
	provider := &newsProvider{}
	chain := fallback.New(fetcher.NewRegistry(provider), map[market.DataType][]string{
		market.News: {"newsapi"},
	}, zerolog.Nop())
	svc := New(storage.NewMemoryStore(), nil, freshness.Default(), chain, zerolog.Nop(), WithClock(c.Now))
	ctx := context.Background()

	small, err := svc.Handle(ctx, market.Request{DataType: market.News, Identity: "u1", Params: market.Params{Limit: 2}})
	require.NoError(t, err)
	assert.Equal(t, market.CacheMiss, small.CacheStatus)
	assert.Equal(t, 2, articleCount(t, small))

	large, err := svc.Handle(ctx, market.Request{DataType: market.News, Identity: "u1", Params: market.Params{Limit: 15}})
	require.NoError(t, err)
	assert.Equal(t, market.CacheHit, large.CacheStatus)
	assert.Equal(t, 15, articleCount(t, large))

	deflt, err := svc.Handle(ctx, market.Request{DataType: market.News, Identity: "u1"})
	require.NoError(t, err)
	assert.Equal(t, market.DefaultNewsLimit, articleCount(t, deflt))

	assert.Equal(t, []int{market.MaxNewsLimit}, provider.limits)
}

func TestHistoryPeriodCheckedAgainstServiceClock(t *testing.T) {
	h := newHarness(t, nil)
	var calls int
	var mu sync.Mutex
	h.svc.now = func() time.Time {
		mu.Lock()
		calls++
		mu.Unlock()
		return h.clock.Now()
	}

	_, err := h.svc.Handle(context.Background(), market.Request{
		DataType: market.History, Key: "TCS", Identity: "u1", Params: market.Params{Period: "7w"},
	})
	assert.ErrorIs(t, err, ErrInvalidRequest)
	assert.Positive(t, calls)
	assert.Zero(t, h.provider.callCount())
}
