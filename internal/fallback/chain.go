package fallback

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"finpath-insight/internal/fetcher"
	"finpath-insight/internal/market"
)

// ErrAllProvidersFailed is returned when no provider supplied any field.
var ErrAllProvidersFailed = errors.New("all providers failed")

// ProviderSource resolves provider names to providers.
type ProviderSource interface {
	Lookup(name string) (fetcher.Provider, bool)
}

// Attempt records what one provider contributed.
type Attempt struct {
	Provider string
	OK       bool
	Added    []string
	Err      error
}

// Outcome is the merged result of walking a provider order.
type Outcome struct {
	OK       bool
	Fields   market.Fields
	Sources  []string
	Missing  []string
	Attempts []Attempt
	Err      error
}

// Chain walks providers in priority order, merging fields first-writer-wins.
type Chain struct {
	providers ProviderSource
	orders    map[market.DataType][]string
	logger    zerolog.Logger
}

// New constructs a Chain with a provider order per data type.
func New(providers ProviderSource, orders map[market.DataType][]string, logger zerolog.Logger) *Chain {
	copied := make(map[market.DataType][]string, len(orders))
	for dt, order := range orders {
		copied[dt] = append([]string(nil), order...)
	}
	return &Chain{
		providers: providers,
		orders:    copied,
		logger:    logger.With().Str("component", "fallback").Logger(),
	}
}

// Order returns the configured provider order for dt.
func (c *Chain) Order(dt market.DataType) []string {
	return append([]string(nil), c.orders[dt]...)
}

// Resolve walks the configured order for dt.
func (c *Chain) Resolve(ctx context.Context, dt market.DataType, key string, params market.Params) Outcome {
	return c.ResolveWith(ctx, dt, key, params, c.orders[dt])
}

// ResolveWith walks order. It stops at the first point where every required
// field is present. Fields already held are never replaced by a later
// provider. If nothing at all was obtained the outcome carries
// ErrAllProvidersFailed.
func (c *Chain) ResolveWith(ctx context.Context, dt market.DataType, key string, params market.Params, order []string) Outcome {
	required := market.RequiredFields(dt)
	acc := market.Fields{}
	out := Outcome{}

	for _, name := range order {
		p, ok := c.providers.Lookup(name)
		if !ok {
			out.Attempts = append(out.Attempts, Attempt{
				Provider: name,
				Err:      fmt.Errorf("provider %s not configured", name),
			})
			continue
		}

		res := p.Fetch(ctx, dt, key, params)
		attempt := Attempt{Provider: name, OK: res.OK, Err: res.Err}
		if !res.OK {
			c.logger.Warn().
				Err(res.Err).
				Str("provider", name).
				Str("data_type", string(dt)).
				Str("key", key).
				Msg("provider fetch failed")
			out.Attempts = append(out.Attempts, attempt)
			continue
		}

		attempt.Added = acc.MergeFrom(res.Fields)
		out.Attempts = append(out.Attempts, attempt)
		if len(attempt.Added) > 0 {
			out.Sources = append(out.Sources, name)
		}

		missing := acc.Missing(required)
		if len(missing) == 0 {
			break
		}
		c.logger.Debug().
			Str("provider", name).
			Str("data_type", string(dt)).
			Str("key", key).
			Strs("missing", missing).
			Msg("partial result, trying next provider")
	}

	out.Missing = acc.Missing(required)
	if len(acc) == 0 {
		out.Err = fmt.Errorf("%w: %s", ErrAllProvidersFailed, summarize(out.Attempts))
		return out
	}
	out.OK = true
	out.Fields = acc
	return out
}

func summarize(attempts []Attempt) string {
	if len(attempts) == 0 {
		return "no providers configured"
	}
	parts := make([]string, 0, len(attempts))
	for _, a := range attempts {
		switch {
		case a.Err != nil:
			parts = append(parts, a.Provider+": "+a.Err.Error())
		default:
			parts = append(parts, a.Provider+": no fields")
		}
	}
	return strings.Join(parts, "; ")
}
