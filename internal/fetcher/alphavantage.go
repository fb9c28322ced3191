package fetcher

import (
	"context"
	"sort"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"finpath-insight/internal/config"
	"finpath-insight/internal/market"
)

const (
	alphaVantagePath = "/query"
	// compactDays is roughly what outputsize=compact returns.
	compactDays = 100
)

// AlphaVantage normalises the alphavantage.co query API. Authentication is
// the apikey query parameter.
type AlphaVantage struct {
	endpoint
	exchange string
	now      func() time.Time
	table    map[market.DataType]normaliser
}

// NewAlphaVantage constructs an AlphaVantage provider.
func NewAlphaVantage(cfg config.ProviderConfig, defaultExchange string, logger zerolog.Logger) *AlphaVantage {
	p := &AlphaVantage{
		endpoint: newEndpoint(ProviderAlphaVantage, cfg, logger),
		exchange: defaultExchange,
		now:      time.Now,
	}
	p.table = map[market.DataType]normaliser{
		market.StockPrice:   p.stockPrice,
		market.Fundamentals: p.fundamentals,
		market.History:      p.history,
		market.News:         p.news,
	}
	return p
}

// Name implements Provider.
func (p *AlphaVantage) Name() string { return ProviderAlphaVantage }

// Fetch implements Provider.
func (p *AlphaVantage) Fetch(ctx context.Context, dt market.DataType, key string, params market.Params) Result {
	return dispatch(ctx, p.Name(), p.table, dt, key, params)
}

// avStatus captures the notices Alpha Vantage returns with HTTP 200.
type avStatus struct {
	Note         string `json:"Note"`
	Information  string `json:"Information"`
	ErrorMessage string `json:"Error Message"`
}

func (s avStatus) err() error {
	switch {
	case s.ErrorMessage != "":
		return NewValidationError(s.ErrorMessage)
	case s.Note != "":
		return NewRateLimitError(0, s.Note)
	case s.Information != "":
		return NewRateLimitError(0, s.Information)
	}
	return nil
}

func (p *AlphaVantage) call(ctx context.Context, function string, extra map[string]string, dst interface{ err() error }) error {
	q := map[string]string{"function": function, "apikey": p.apiKey}
	for k, v := range extra {
		q[k] = v
	}
	if err := p.getJSON(ctx, alphaVantagePath, q, nil, dst); err != nil {
		return err
	}
	return dst.err()
}

type avGlobalQuote struct {
	avStatus
	GlobalQuote struct {
		Open             number `json:"02. open"`
		High             number `json:"03. high"`
		Low              number `json:"04. low"`
		Price            number `json:"05. price"`
		Volume           number `json:"06. volume"`
		LatestTradingDay string `json:"07. latest trading day"`
		Change           number `json:"09. change"`
		ChangePercent    number `json:"10. change percent"`
	} `json:"Global Quote"`
}

func (p *AlphaVantage) stockPrice(ctx context.Context, key string, _ market.Params) (market.Fields, error) {
	var resp avGlobalQuote
	symbol := ParseTicker(key, p.exchange).AlphaVantage()
	if err := p.call(ctx, "GLOBAL_QUOTE", map[string]string{"symbol": symbol}, &resp); err != nil {
		return nil, err
	}
	q := resp.GlobalQuote
	if !q.Price.ok {
		return nil, NewValidationError("price not found in response for " + symbol)
	}
	fields := market.Fields{}
	err := setAll(fields, map[string]any{
		market.FieldPrice:         q.Price.ptr(),
		market.FieldOpen:          q.Open.ptr(),
		market.FieldHigh:          q.High.ptr(),
		market.FieldLow:           q.Low.ptr(),
		market.FieldClose:         q.Price.ptr(),
		market.FieldChange:        q.Change.ptr(),
		market.FieldChangePercent: q.ChangePercent.ptr(),
		market.FieldVolume:        q.Volume.intPtr(),
		market.FieldTimestamp:     dateTimestamp(time.DateOnly, q.LatestTradingDay),
	})
	return fields, err
}

type avOverview struct {
	avStatus
	Name                 string `json:"Name"`
	Sector               string `json:"Sector"`
	Industry             string `json:"Industry"`
	MarketCapitalization number `json:"MarketCapitalization"`
	PERatio              number `json:"PERatio"`
	PriceToBookRatio     number `json:"PriceToBookRatio"`
	ReturnOnEquityTTM    number `json:"ReturnOnEquityTTM"`
	DividendYield        number `json:"DividendYield"`
	EPS                  number `json:"EPS"`
	BookValue            number `json:"BookValue"`
}

func (p *AlphaVantage) fundamentals(ctx context.Context, key string, _ market.Params) (market.Fields, error) {
	var o avOverview
	symbol := ParseTicker(key, p.exchange).AlphaVantage()
	if err := p.call(ctx, "OVERVIEW", map[string]string{"symbol": symbol}, &o); err != nil {
		return nil, err
	}
	fields := market.Fields{}
	err := setAll(fields, map[string]any{
		market.FieldCompanyName:   o.Name,
		market.FieldSector:        o.Sector,
		market.FieldIndustry:      o.Industry,
		market.FieldMarketCap:     o.MarketCapitalization.ptr(),
		market.FieldPERatio:       o.PERatio.ptr(),
		market.FieldPBRatio:       o.PriceToBookRatio.ptr(),
		market.FieldROE:           asPercent(o.ReturnOnEquityTTM.ptr()),
		market.FieldDividendYield: asPercent(o.DividendYield.ptr()),
		market.FieldEPS:           o.EPS.ptr(),
		market.FieldBookValue:     o.BookValue.ptr(),
	})
	return fields, err
}

type avDailySeries struct {
	avStatus
	Series map[string]struct {
		Open   number `json:"1. open"`
		High   number `json:"2. high"`
		Low    number `json:"3. low"`
		Close  number `json:"4. close"`
		Volume number `json:"5. volume"`
	} `json:"Time Series (Daily)"`
}

func (p *AlphaVantage) history(ctx context.Context, key string, params market.Params) (market.Fields, error) {
	now := p.now().UTC()
	start, err := market.PeriodStart(params.Period, now)
	if err != nil {
		return nil, NewValidationError(err.Error())
	}
	size := "full"
	if !start.IsZero() && now.Sub(start) < compactDays*24*time.Hour {
		size = "compact"
	}

	var resp avDailySeries
	symbol := ParseTicker(key, p.exchange).AlphaVantage()
	if err := p.call(ctx, "TIME_SERIES_DAILY", map[string]string{"symbol": symbol, "outputsize": size}, &resp); err != nil {
		return nil, err
	}

	from := start.Format(time.DateOnly)
	bars := make([]market.Bar, 0, len(resp.Series))
	for date, v := range resp.Series {
		if !start.IsZero() && date < from {
			continue
		}
		if !v.Close.ok {
			continue
		}
		bar := market.Bar{Date: date, Open: v.Open.val, High: v.High.val, Low: v.Low.val, Close: v.Close.val}
		if vol := v.Volume.intPtr(); vol != nil {
			bar.Volume = *vol
		}
		bars = append(bars, bar)
	}
	sort.Slice(bars, func(i, j int) bool { return bars[i].Date < bars[j].Date })
	return barsFields(bars)
}

type avNews struct {
	avStatus
	Feed []struct {
		Title         string `json:"title"`
		URL           string `json:"url"`
		TimePublished string `json:"time_published"`
		Summary       string `json:"summary"`
		Source        string `json:"source"`
	} `json:"feed"`
}

func (p *AlphaVantage) news(ctx context.Context, key string, params market.Params) (market.Fields, error) {
	extra := map[string]string{"limit": strconv.Itoa(params.Limit), "sort": "LATEST"}
	if key == "" {
		extra["topics"] = "financial_markets"
	} else {
		extra["tickers"] = ParseTicker(key, p.exchange).AlphaVantage()
	}

	var resp avNews
	if err := p.call(ctx, "NEWS_SENTIMENT", extra, &resp); err != nil {
		return nil, err
	}

	articles := make([]market.Article, 0, len(resp.Feed))
	for _, item := range resp.Feed {
		if item.Title == "" {
			continue
		}
		published := item.TimePublished
		if ts := dateTimestamp("20060102T150405", item.TimePublished); ts != nil {
			published = *ts
		}
		articles = append(articles, market.Article{
			Title:       item.Title,
			Description: item.Summary,
			URL:         item.URL,
			Source:      item.Source,
			PublishedAt: published,
		})
	}
	return articlesFields(articles, params.Limit)
}

var _ Provider = (*AlphaVantage)(nil)
