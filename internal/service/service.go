package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"finpath-insight/internal/fallback"
	"finpath-insight/internal/freshness"
	"finpath-insight/internal/market"
	"finpath-insight/internal/ratelimit"
	"finpath-insight/internal/storage"
)

const defaultBatchWorkers = 4

// Resolver produces merged provider results for one key.
type Resolver interface {
	Resolve(ctx context.Context, dt market.DataType, key string, params market.Params) fallback.Outcome
}

// Service is the orchestrator: rate check, cache lookup, fallback fetch,
// cache write.
type Service struct {
	store   storage.CacheStore
	limiter ratelimit.Limiter
	policy  freshness.Policy
	chain   Resolver
	logger  zerolog.Logger

	now             func() time.Time
	exemptCacheHits bool
	batchWorkers    int
}

// Option customises a Service.
type Option func(*Service)

// WithClock overrides the time source used for freshness and fetchedAt.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// WithExemptCacheHits consumes quota only when a request has to go upstream.
func WithExemptCacheHits(exempt bool) Option {
	return func(s *Service) {
		s.exemptCacheHits = exempt
	}
}

// WithBatchWorkers bounds HandleBatch concurrency.
func WithBatchWorkers(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.batchWorkers = n
		}
	}
}

// New constructs the orchestrator.
func New(store storage.CacheStore, limiter ratelimit.Limiter, policy freshness.Policy, chain Resolver, logger zerolog.Logger, opts ...Option) *Service {
	s := &Service{
		store:        store,
		limiter:      limiter,
		policy:       policy,
		chain:        chain,
		logger:       logger.With().Str("component", "service").Logger(),
		now:          time.Now,
		batchWorkers: defaultBatchWorkers,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handle serves one request: fresh data, stale-but-labelled data, or an *Error.
func (s *Service) Handle(ctx context.Context, req market.Request) (market.Response, error) {
	if err := s.validate(req); err != nil {
		return market.Response{}, err
	}
	if req.Identity == "" {
		return market.Response{}, invalidRequest("identity is required")
	}
	if req.Tier == "" {
		req.Tier = market.TierFree
	}

	var quota *market.RateLimit
	admit := func() error {
		rl, err := s.admit(ctx, req)
		quota = rl
		return err
	}

	if !s.exemptCacheHits {
		if err := admit(); err != nil {
			return market.Response{}, err
		}
		admit = nil
	}

	resp, err := s.serve(ctx, req, admit)
	if err != nil {
		return market.Response{}, err
	}
	resp.RateLimit = quota
	return resp, nil
}

// Warm refreshes one key without a rate check. A fresh cached record is left
// alone and returned as a hit.
func (s *Service) Warm(ctx context.Context, dt market.DataType, key string, params market.Params) (market.Response, error) {
	req := market.Request{DataType: dt, Key: key, Params: params}
	if err := s.validate(req); err != nil {
		return market.Response{}, err
	}
	return s.serve(ctx, req, nil)
}

// BatchResult pairs a response with its error for one batch entry.
type BatchResult struct {
	Response market.Response
	Err      error
}

// HandleBatch serves independent requests concurrently. Results keep the
// input order.
func (s *Service) HandleBatch(ctx context.Context, reqs []market.Request) []BatchResult {
	results := make([]BatchResult, len(reqs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.batchWorkers)
	for i, req := range reqs {
		i, req := i, req
		g.Go(func() error {
			resp, err := s.Handle(gctx, req)
			results[i] = BatchResult{Response: resp, Err: err}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (s *Service) validate(req market.Request) error {
	if _, err := market.ParseDataType(string(req.DataType)); err != nil {
		return invalidRequest("%v", err)
	}
	if req.DataType != market.News && market.Symbol(req.DataType, req.Key) == "" {
		return invalidRequest("key is required for %s", req.DataType)
	}
	if req.DataType == market.History {
		period := req.Params.Normalize(market.History).Period
		if _, err := market.PeriodStart(period, s.now()); err != nil {
			return invalidRequest("%v", err)
		}
	}
	return nil
}

// admit consumes one unit of quota. Limiter failures let the request through.
func (s *Service) admit(ctx context.Context, req market.Request) (*market.RateLimit, error) {
	if s.limiter == nil {
		return nil, nil
	}
	decision, err := s.limiter.TryConsume(ctx, req.Identity, req.Tier)
	if err != nil {
		s.logger.Warn().Err(err).Str("identity", req.Identity).Msg("rate limiter unavailable; admitting request")
		return nil, nil
	}
	if !decision.Allowed {
		s.logger.Info().
			Str("identity", req.Identity).
			Str("tier", string(req.Tier)).
			Dur("retry_after", decision.RetryAfter).
			Msg("request rejected by rate limit")
		return &market.RateLimit{Limit: decision.Limit, Remaining: 0}, &Error{
			Kind:       KindRateLimitExceeded,
			Message:    fmt.Sprintf("%s tier allows %d requests per window", req.Tier, decision.Limit),
			RetryAfter: decision.RetryAfter,
			Limit:      decision.Limit,
			Remaining:  0,
		}
	}
	return &market.RateLimit{Limit: decision.Limit, Remaining: decision.Remaining}, nil
}

// serve runs cache lookup then, on a miss or stale record, the fallback
// chain. beforeFetch, when set, runs only on the fetch path.
func (s *Service) serve(ctx context.Context, req market.Request, beforeFetch func() error) (market.Response, error) {
	dt := req.DataType
	params := req.Params.Normalize(dt)
	key := market.CacheKey(dt, req.Key, params)
	log := s.logger.With().Str("data_type", string(dt)).Str("key", key).Logger()

	cached := s.lookup(ctx, dt, key, log)
	now := s.now()
	if cached != nil && !s.policy.IsStale(dt, cached.FetchedAt, now) {
		log.Debug().Time("fetched_at", cached.FetchedAt).Msg("cache hit")
		return fromRecord(*cached, market.CacheHit, params), nil
	}

	if beforeFetch != nil {
		if err := beforeFetch(); err != nil {
			return market.Response{}, err
		}
	}

	outcome := s.chain.Resolve(ctx, dt, market.Symbol(dt, req.Key), fetchParams(dt, params))
	if !outcome.OK {
		if cached != nil {
			log.Warn().
				Err(outcome.Err).
				Time("fetched_at", cached.FetchedAt).
				Msg("all providers failed; serving stale record")
			return fromRecord(*cached, market.CacheStaleServed, params), nil
		}
		log.Warn().Err(outcome.Err).Msg("all providers failed and nothing cached")
		return market.Response{}, &Error{
			Kind:     KindAllProvidersFailed,
			Message:  fmt.Sprintf("no provider returned %s for %s", dt, key),
			Attempts: outcome.Attempts,
			Err:      outcome.Err,
		}
	}

	record := market.CacheRecord{
		DataType:  dt,
		Key:       key,
		Payload:   outcome.Fields,
		Sources:   outcome.Sources,
		FetchedAt: now.UTC(),
	}
	if err := s.store.Upsert(ctx, record); err != nil {
		log.Error().Err(err).Msg("failed to upsert cache record")
	}

	event := log.Info().Strs("sources", outcome.Sources)
	if len(outcome.Missing) > 0 {
		event = event.Strs("missing", outcome.Missing)
	}
	event.Msg("fetched from providers")

	return fromRecord(record, market.CacheMiss, params), nil
}

// lookup reads the cache. Read failures count as a miss.
func (s *Service) lookup(ctx context.Context, dt market.DataType, key string, log zerolog.Logger) *market.CacheRecord {
	rec, err := s.store.Get(ctx, dt, key)
	if err != nil {
		log.Warn().Err(err).Msg("cache read failed; treating as miss")
		return nil
	}
	return rec
}

// fetchParams widens news requests to the cacheable maximum so one cached
// list serves every limit.
func fetchParams(dt market.DataType, params market.Params) market.Params {
	if dt == market.News {
		params.Limit = market.MaxNewsLimit
	}
	return params
}

// fromRecord builds a response from a record, cutting news to params.Limit.
func fromRecord(rec market.CacheRecord, status market.CacheStatus, params market.Params) market.Response {
	payload := rec.Payload.Clone()
	if rec.DataType == market.News {
		payload.LimitArticles(params.Limit)
	}
	return market.Response{
		DataType:    rec.DataType,
		Key:         rec.Key,
		Payload:     payload,
		CacheStatus: status,
		FetchedAt:   rec.FetchedAt,
		Sources:     append([]string(nil), rec.Sources...),
		Missing:     rec.Payload.Missing(market.RequiredFields(rec.DataType)),
	}
}
