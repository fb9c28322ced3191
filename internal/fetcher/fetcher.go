package fetcher

import (
	"context"
	"fmt"

	"finpath-insight/internal/market"
)

// Provider fetches and normalises one upstream API. Fetch never panics or
// returns a Go error; failures travel inside the Result so the fallback chain
// can inspect them and move on.
type Provider interface {
	Name() string
	Fetch(ctx context.Context, dt market.DataType, key string, params market.Params) Result
}

// Result is one provider's answer for one request.
type Result struct {
	Provider string
	OK       bool
	Fields   market.Fields
	Err      error
}

// Success wraps normalised fields. An empty field set is a validation failure.
func Success(provider string, fields market.Fields) Result {
	if len(fields) == 0 {
		return Failure(provider, NewValidationError("response carried no usable fields"))
	}
	return Result{Provider: provider, OK: true, Fields: fields}
}

// Failure wraps an error.
func Failure(provider string, err error) Result {
	if err == nil {
		err = fmt.Errorf("%s: unknown failure", provider)
	}
	return Result{Provider: provider, Err: err}
}

// normaliser fetches one data type from one provider and maps it to
// canonical fields.
type normaliser func(ctx context.Context, key string, params market.Params) (market.Fields, error)

// dispatch runs the normaliser registered for dt.
func dispatch(ctx context.Context, provider string, table map[market.DataType]normaliser, dt market.DataType, key string, params market.Params) Result {
	fn, ok := table[dt]
	if !ok {
		return Failure(provider, NewUnsupportedError(provider, string(dt)))
	}
	fields, err := fn(ctx, key, params.Normalize(dt))
	if err != nil {
		return Failure(provider, err)
	}
	return Success(provider, fields)
}

// barsFields wraps a history series. An empty series is not a result.
func barsFields(bars []market.Bar) (market.Fields, error) {
	if len(bars) == 0 {
		return nil, NewValidationError("history response had no bars")
	}
	fields := market.Fields{}
	if err := fields.Set(market.FieldBars, bars); err != nil {
		return nil, err
	}
	return fields, nil
}

// articlesFields wraps a news list capped at limit.
func articlesFields(articles []market.Article, limit int) (market.Fields, error) {
	if len(articles) == 0 {
		return nil, NewValidationError("news response had no articles")
	}
	if limit > 0 && len(articles) > limit {
		articles = articles[:limit]
	}
	fields := market.Fields{}
	if err := fields.Set(market.FieldArticles, articles); err != nil {
		return nil, err
	}
	return fields, nil
}
