package fetcher

import (
	"context"
	"net/url"
	"time"

	"github.com/rs/zerolog"

	"finpath-insight/internal/config"
	"finpath-insight/internal/market"
)

// Yahoo normalises the public Yahoo Finance quote and chart endpoints.
type Yahoo struct {
	endpoint
	exchange string
	table    map[market.DataType]normaliser
	now      func() time.Time
}

// NewYahoo constructs a Yahoo provider.
func NewYahoo(cfg config.ProviderConfig, defaultExchange string, logger zerolog.Logger) *Yahoo {
	p := &Yahoo{
		endpoint: newEndpoint(ProviderYahoo, cfg, logger),
		exchange: defaultExchange,
		now:      time.Now,
	}
	p.table = map[market.DataType]normaliser{
		market.StockPrice:   p.stockPrice,
		market.Fundamentals: p.fundamentals,
		market.Indices:      p.index,
		market.History:      p.history,
	}
	return p
}

// Name implements Provider.
func (p *Yahoo) Name() string { return ProviderYahoo }

// Fetch implements Provider.
func (p *Yahoo) Fetch(ctx context.Context, dt market.DataType, key string, params market.Params) Result {
	return dispatch(ctx, p.Name(), p.table, dt, key, params)
}

type yahooQuote struct {
	Symbol                      string `json:"symbol"`
	LongName                    string `json:"longName"`
	ShortName                   string `json:"shortName"`
	RegularMarketPrice          number `json:"regularMarketPrice"`
	RegularMarketOpen           number `json:"regularMarketOpen"`
	RegularMarketDayHigh        number `json:"regularMarketDayHigh"`
	RegularMarketDayLow         number `json:"regularMarketDayLow"`
	RegularMarketChange         number `json:"regularMarketChange"`
	RegularMarketChangePercent  number `json:"regularMarketChangePercent"`
	RegularMarketVolume         number `json:"regularMarketVolume"`
	RegularMarketTime           number `json:"regularMarketTime"`
	MarketCap                   number `json:"marketCap"`
	TrailingPE                  number `json:"trailingPE"`
	PriceToBook                 number `json:"priceToBook"`
	EPSTrailingTwelveMonths     number `json:"epsTrailingTwelveMonths"`
	BookValue                   number `json:"bookValue"`
	TrailingAnnualDividendYield number `json:"trailingAnnualDividendYield"`
}

type yahooQuoteResponse struct {
	QuoteResponse struct {
		Result []yahooQuote `json:"result"`
		Error  *struct {
			Description string `json:"description"`
		} `json:"error"`
	} `json:"quoteResponse"`
}

func (p *Yahoo) quote(ctx context.Context, symbol string) (yahooQuote, error) {
	var resp yahooQuoteResponse
	if err := p.getJSON(ctx, "/v7/finance/quote", map[string]string{"symbols": symbol}, nil, &resp); err != nil {
		return yahooQuote{}, err
	}
	if e := resp.QuoteResponse.Error; e != nil && e.Description != "" {
		return yahooQuote{}, NewValidationError(e.Description)
	}
	if len(resp.QuoteResponse.Result) == 0 {
		return yahooQuote{}, NewValidationError("no quote returned for " + symbol)
	}
	return resp.QuoteResponse.Result[0], nil
}

func (q yahooQuote) timestamp() *string {
	if ts := q.RegularMarketTime.intPtr(); ts != nil {
		return unixTimestamp(*ts)
	}
	return nil
}

func (q yahooQuote) companyName() string {
	if q.LongName != "" {
		return q.LongName
	}
	return q.ShortName
}

func (p *Yahoo) stockPrice(ctx context.Context, key string, _ market.Params) (market.Fields, error) {
	q, err := p.quote(ctx, ParseTicker(key, p.exchange).Yahoo())
	if err != nil {
		return nil, err
	}
	fields := market.Fields{}
	err = setAll(fields, map[string]any{
		market.FieldPrice:         q.RegularMarketPrice.ptr(),
		market.FieldOpen:          q.RegularMarketOpen.ptr(),
		market.FieldHigh:          q.RegularMarketDayHigh.ptr(),
		market.FieldLow:           q.RegularMarketDayLow.ptr(),
		market.FieldClose:         q.RegularMarketPrice.ptr(),
		market.FieldChange:        q.RegularMarketChange.ptr(),
		market.FieldChangePercent: q.RegularMarketChangePercent.ptr(),
		market.FieldVolume:        q.RegularMarketVolume.intPtr(),
		market.FieldTimestamp:     q.timestamp(),
	})
	return fields, err
}

func (p *Yahoo) fundamentals(ctx context.Context, key string, _ market.Params) (market.Fields, error) {
	q, err := p.quote(ctx, ParseTicker(key, p.exchange).Yahoo())
	if err != nil {
		return nil, err
	}
	fields := market.Fields{}
	err = setAll(fields, map[string]any{
		market.FieldCompanyName:   q.companyName(),
		market.FieldMarketCap:     q.MarketCap.ptr(),
		market.FieldPERatio:       q.TrailingPE.ptr(),
		market.FieldPBRatio:       q.PriceToBook.ptr(),
		market.FieldEPS:           q.EPSTrailingTwelveMonths.ptr(),
		market.FieldBookValue:     q.BookValue.ptr(),
		market.FieldDividendYield: asPercent(q.TrailingAnnualDividendYield.ptr()),
	})
	return fields, err
}

func (p *Yahoo) index(ctx context.Context, key string, _ market.Params) (market.Fields, error) {
	q, err := p.quote(ctx, YahooIndex(key))
	if err != nil {
		return nil, err
	}
	fields := market.Fields{}
	err = setAll(fields, map[string]any{
		market.FieldValue:         q.RegularMarketPrice.ptr(),
		market.FieldChange:        q.RegularMarketChange.ptr(),
		market.FieldChangePercent: q.RegularMarketChangePercent.ptr(),
		market.FieldTimestamp:     q.timestamp(),
	})
	return fields, err
}

type yahooChartResponse struct {
	Chart struct {
		Result []struct {
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Open   []number `json:"open"`
					High   []number `json:"high"`
					Low    []number `json:"low"`
					Close  []number `json:"close"`
					Volume []number `json:"volume"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

func (p *Yahoo) history(ctx context.Context, key string, params market.Params) (market.Fields, error) {
	if _, err := market.PeriodStart(params.Period, p.now()); err != nil {
		return nil, NewValidationError(err.Error())
	}
	symbol := ParseTicker(key, p.exchange).Yahoo()
	query := map[string]string{"range": params.Period, "interval": "1d"}

	var resp yahooChartResponse
	if err := p.getJSON(ctx, "/v8/finance/chart/"+url.PathEscape(symbol), query, nil, &resp); err != nil {
		return nil, err
	}
	if e := resp.Chart.Error; e != nil && e.Description != "" {
		return nil, NewValidationError(e.Description)
	}
	if len(resp.Chart.Result) == 0 || len(resp.Chart.Result[0].Indicators.Quote) == 0 {
		return nil, NewValidationError("no chart returned for " + symbol)
	}

	res := resp.Chart.Result[0]
	q := res.Indicators.Quote[0]
	at := func(series []number, i int) number {
		if i < len(series) {
			return series[i]
		}
		return number{}
	}

	bars := make([]market.Bar, 0, len(res.Timestamp))
	for i, ts := range res.Timestamp {
		closeVal := at(q.Close, i)
		if !closeVal.ok {
			continue
		}
		bar := market.Bar{
			Date:  time.Unix(ts, 0).UTC().Format(time.DateOnly),
			Open:  at(q.Open, i).val,
			High:  at(q.High, i).val,
			Low:   at(q.Low, i).val,
			Close: closeVal.val,
		}
		if v := at(q.Volume, i).intPtr(); v != nil {
			bar.Volume = *v
		}
		bars = append(bars, bar)
	}
	return barsFields(bars)
}

var _ Provider = (*Yahoo)(nil)
