package fallback

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"finpath-insight/internal/fetcher"
	"finpath-insight/internal/market"
)

type stubProvider struct {
	name   string
	fields map[string]any
	err    error
	calls  int
}

func (s *stubProvider) Name() string { return s.name }

func (s *stubProvider) Fetch(_ context.Context, _ market.DataType, _ string, _ market.Params) fetcher.Result {
	s.calls++
	if s.err != nil {
		return fetcher.Failure(s.name, s.err)
	}
	f := market.Fields{}
	for k, v := range s.fields {
		if err := f.Set(k, v); err != nil {
			return fetcher.Failure(s.name, err)
		}
	}
	return fetcher.Success(s.name, f)
}

func fullQuote(price float64) map[string]any {
	return map[string]any{
		market.FieldPrice:         price,
		market.FieldOpen:          price,
		market.FieldHigh:          price,
		market.FieldLow:           price,
		market.FieldClose:         price,
		market.FieldChangePercent: 0.5,
		market.FieldVolume:        1000,
		market.FieldTimestamp:     "2026-03-02T09:30:00Z",
	}
}

func TestMergeIsFirstWriterWinsPerField(t *testing.T) {
	a := &stubProvider{name: "a", fields: map[string]any{market.FieldPrice: 100.0}}
	b := &stubProvider{name: "b", fields: map[string]any{market.FieldPrice: 105.0, market.FieldVolume: 500}}
	chain := New(fetcher.NewRegistry(a, b), nil, zerolog.Nop())

	out := chain.ResolveWith(context.Background(), market.StockPrice, "RELIANCE", market.Params{}, []string{"a", "b"})
	require.True(t, out.OK)

	price, _ := out.Fields.Float(market.FieldPrice)
	volume, _ := out.Fields.Float(market.FieldVolume)
	assert.Equal(t, 100.0, price)
	assert.Equal(t, 500.0, volume)
	assert.Equal(t, []string{"a", "b"}, out.Sources)
	assert.Equal(t, []string{market.FieldVolume}, out.Attempts[1].Added)
	assert.Contains(t, out.Missing, market.FieldOpen)
}

func TestShortCircuitsWhenComplete(t *testing.T) {
	a := &stubProvider{name: "a", fields: fullQuote(2876.45)}
	b := &stubProvider{name: "b", fields: fullQuote(1)}
	chain := New(fetcher.NewRegistry(a, b), map[market.DataType][]string{
		market.StockPrice: {"a", "b"},
	}, zerolog.Nop())

	out := chain.Resolve(context.Background(), market.StockPrice, "RELIANCE", market.Params{})
	require.True(t, out.OK)
	assert.Empty(t, out.Missing)
	assert.Equal(t, 1, a.calls)
	assert.Equal(t, 0, b.calls)
}

func TestFailedProvidersAreSkipped(t *testing.T) {
	a := &stubProvider{name: "a", err: fetcher.NewServerError(503)}
	b := &stubProvider{name: "b", fields: fullQuote(42)}
	chain := New(fetcher.NewRegistry(a, b), nil, zerolog.Nop())

	out := chain.ResolveWith(context.Background(), market.StockPrice, "INFY", market.Params{}, []string{"missing", "a", "b"})
	require.True(t, out.OK)
	assert.Equal(t, []string{"b"}, out.Sources)
	require.Len(t, out.Attempts, 3)
	assert.Error(t, out.Attempts[0].Err)
	assert.False(t, out.Attempts[1].OK)
}

func TestAllProvidersFailed(t *testing.T) {
	a := &stubProvider{name: "a", err: fetcher.NewServerError(500)}
	b := &stubProvider{name: "b", err: fetcher.NewNetworkError(errors.New("connection refused"))}
	chain := New(fetcher.NewRegistry(a, b), nil, zerolog.Nop())

	out := chain.ResolveWith(context.Background(), market.Indices, "NIFTY 50", market.Params{}, []string{"a", "b"})
	assert.False(t, out.OK)
	assert.Nil(t, out.Fields)
	assert.ErrorIs(t, out.Err, ErrAllProvidersFailed)
	assert.Contains(t, out.Err.Error(), "connection refused")
}

func TestEmptyOrderFails(t *testing.T) {
	chain := New(fetcher.NewRegistry(), nil, zerolog.Nop())
	out := chain.Resolve(context.Background(), market.News, "", market.Params{})
	assert.False(t, out.OK)
	assert.ErrorIs(t, out.Err, ErrAllProvidersFailed)
}
