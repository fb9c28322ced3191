package refresh

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"finpath-insight/internal/alerting"
	"finpath-insight/internal/market"
)

const defaultWorkers = 4

// Warmer refreshes one cache entry without a rate check.
type Warmer interface {
	Warm(ctx context.Context, dt market.DataType, key string, params market.Params) (market.Response, error)
}

// Options configure a Refresher.
type Options struct {
	Symbols      []string
	Indices      []string
	Workers      int
	ThresholdPct float64
	Cooldown     time.Duration
}

// Summary reports one refresh pass.
type Summary struct {
	Bucket time.Time
	Warmed int
	Stale  int
	Failed int
	Alerts int
}

// Refresher keeps a watchlist warm in the cache and raises alerts on big
// moves.
type Refresher struct {
	warmer    Warmer
	notifier  alerting.Notifier
	cooldown  *alerting.Cooldown
	threshold decimal.Decimal
	symbols   []string
	indices   []string
	workers   int
	logger    zerolog.Logger
	now       func() time.Time
}

// New constructs a Refresher. A nil notifier disables alerts.
func New(warmer Warmer, notifier alerting.Notifier, opts Options, logger zerolog.Logger) *Refresher {
	workers := opts.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}
	return &Refresher{
		warmer:    warmer,
		notifier:  notifier,
		cooldown:  alerting.NewCooldown(opts.Cooldown),
		threshold: decimal.NewFromFloat(opts.ThresholdPct),
		symbols:   append([]string(nil), opts.Symbols...),
		indices:   append([]string(nil), opts.Indices...),
		workers:   workers,
		logger:    logger.With().Str("component", "refresh").Logger(),
		now:       time.Now,
	}
}

type job struct {
	dt  market.DataType
	key string
}

func (r *Refresher) jobs() []job {
	jobs := make([]job, 0, len(r.symbols)+len(r.indices))
	for _, sym := range r.symbols {
		jobs = append(jobs, job{dt: market.StockPrice, key: sym})
	}
	for _, idx := range r.indices {
		jobs = append(jobs, job{dt: market.Indices, key: idx})
	}
	return jobs
}

// Tick adapts Refresh to the scheduler. It fails only when every key failed.
func (r *Refresher) Tick(ctx context.Context, bucket time.Time) error {
	summary, err := r.Refresh(ctx)
	if err != nil {
		return err
	}
	summary.Bucket = bucket
	r.logger.Info().
		Time("bucket", bucket).
		Int("warmed", summary.Warmed).
		Int("stale", summary.Stale).
		Int("failed", summary.Failed).
		Int("alerts", summary.Alerts).
		Msg("refresh pass complete")
	return nil
}

// Refresh warms every watchlist key once.
func (r *Refresher) Refresh(ctx context.Context) (Summary, error) {
	jobs := r.jobs()
	summary := Summary{Bucket: r.now().UTC()}
	if len(jobs) == 0 {
		return summary, nil
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers)
	for _, j := range jobs {
		j := j
		g.Go(func() error {
			resp, err := r.warmer.Warm(gctx, j.dt, j.key, market.Params{})
			if err != nil {
				r.logger.Warn().Err(err).Str("data_type", string(j.dt)).Str("key", j.key).Msg("refresh failed")
				mu.Lock()
				summary.Failed++
				mu.Unlock()
				return nil
			}

			alerted := r.maybeAlert(gctx, j, resp)

			mu.Lock()
			if resp.CacheStatus == market.CacheStaleServed {
				summary.Stale++
			} else {
				summary.Warmed++
			}
			if alerted {
				summary.Alerts++
			}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return summary, err
	}
	if summary.Failed == len(jobs) {
		return summary, fmt.Errorf("refresh: all %d keys failed", len(jobs))
	}
	return summary, nil
}

// maybeAlert notifies when a freshly fetched move crosses the threshold.
// Only cache misses alert; hits and stale payloads were already seen.
func (r *Refresher) maybeAlert(ctx context.Context, j job, resp market.Response) bool {
	if r.notifier == nil || resp.CacheStatus != market.CacheMiss {
		return false
	}
	changePct, ok := resp.Payload.Float(market.FieldChangePercent)
	if !ok {
		return false
	}
	change := decimal.NewFromFloat(changePct)
	if change.Abs().LessThan(r.threshold) {
		return false
	}

	now := r.now().UTC()
	cooldownKey := string(j.dt) + ":" + resp.Key
	if !r.cooldown.Allow(cooldownKey, now) {
		r.logger.Debug().Str("key", resp.Key).Msg("alert suppressed by cooldown")
		return false
	}

	note := alerting.Notification{
		Symbol:        resp.Key,
		Kind:          "Price",
		ObservedAt:    now,
		ChangePercent: change,
		ThresholdPct:  r.threshold,
		Direction:     alerting.DirectionUp,
		Sources:       resp.Sources,
	}
	if change.IsNegative() {
		note.Direction = alerting.DirectionDown
	}
	priceField := market.FieldPrice
	if j.dt == market.Indices {
		note.Kind = "Index"
		priceField = market.FieldValue
	}
	if price, ok := resp.Payload.Float(priceField); ok {
		note.Price = decimal.NewFromFloat(price)
	}

	if err := r.notifier.Notify(ctx, note); err != nil {
		if !errors.Is(err, context.Canceled) {
			r.logger.Error().Err(err).Str("key", resp.Key).Msg("failed to send alert")
		}
		return false
	}
	return true
}
