package fetcher

import (
	"context"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"finpath-insight/internal/config"
	"finpath-insight/internal/market"
)

// EODHD normalises the eodhd.com API. Authentication is the api_token query
// parameter.
type EODHD struct {
	endpoint
	exchange string
	now      func() time.Time
	table    map[market.DataType]normaliser
}

// NewEODHD constructs an EODHD provider.
func NewEODHD(cfg config.ProviderConfig, defaultExchange string, logger zerolog.Logger) *EODHD {
	p := &EODHD{
		endpoint: newEndpoint(ProviderEODHD, cfg, logger),
		exchange: defaultExchange,
		now:      time.Now,
	}
	p.table = map[market.DataType]normaliser{
		market.StockPrice:   p.stockPrice,
		market.Indices:      p.index,
		market.Fundamentals: p.fundamentals,
		market.History:      p.history,
		market.News:         p.news,
	}
	return p
}

// Name implements Provider.
func (p *EODHD) Name() string { return ProviderEODHD }

// Fetch implements Provider.
func (p *EODHD) Fetch(ctx context.Context, dt market.DataType, key string, params market.Params) Result {
	return dispatch(ctx, p.Name(), p.table, dt, key, params)
}

func (p *EODHD) query(extra map[string]string) map[string]string {
	q := map[string]string{"api_token": p.apiKey, "fmt": "json"}
	for k, v := range extra {
		q[k] = v
	}
	return q
}

type eodhdRealTime struct {
	Code          string `json:"code"`
	Timestamp     number `json:"timestamp"`
	Open          number `json:"open"`
	High          number `json:"high"`
	Low           number `json:"low"`
	Close         number `json:"close"`
	Volume        number `json:"volume"`
	PreviousClose number `json:"previousClose"`
	Change        number `json:"change"`
	ChangeP       number `json:"change_p"`
}

func (p *EODHD) realTime(ctx context.Context, code string) (eodhdRealTime, error) {
	var rt eodhdRealTime
	err := p.getJSON(ctx, "/real-time/"+url.PathEscape(code), p.query(nil), nil, &rt)
	if err != nil {
		return rt, err
	}
	if !rt.Close.ok {
		return rt, NewValidationError("real-time quote for " + code + " has no close")
	}
	return rt, nil
}

func (rt eodhdRealTime) changePercent() *float64 {
	if rt.ChangeP.ok {
		return rt.ChangeP.ptr()
	}
	return percentChange(rt.Close.ptr(), rt.PreviousClose.ptr())
}

func (rt eodhdRealTime) timestamp() *string {
	if ts := rt.Timestamp.intPtr(); ts != nil {
		return unixTimestamp(*ts)
	}
	return nil
}

func (p *EODHD) stockPrice(ctx context.Context, key string, _ market.Params) (market.Fields, error) {
	rt, err := p.realTime(ctx, ParseTicker(key, p.exchange).EODHD())
	if err != nil {
		return nil, err
	}
	fields := market.Fields{}
	err = setAll(fields, map[string]any{
		market.FieldPrice:         rt.Close.ptr(),
		market.FieldOpen:          rt.Open.ptr(),
		market.FieldHigh:          rt.High.ptr(),
		market.FieldLow:           rt.Low.ptr(),
		market.FieldClose:         rt.Close.ptr(),
		market.FieldChange:        rt.Change.ptr(),
		market.FieldChangePercent: rt.changePercent(),
		market.FieldVolume:        rt.Volume.intPtr(),
		market.FieldTimestamp:     rt.timestamp(),
	})
	return fields, err
}

func (p *EODHD) index(ctx context.Context, key string, _ market.Params) (market.Fields, error) {
	rt, err := p.realTime(ctx, EODHDIndex(key))
	if err != nil {
		return nil, err
	}
	fields := market.Fields{}
	err = setAll(fields, map[string]any{
		market.FieldValue:         rt.Close.ptr(),
		market.FieldChange:        rt.Change.ptr(),
		market.FieldChangePercent: rt.changePercent(),
		market.FieldTimestamp:     rt.timestamp(),
	})
	return fields, err
}

type eodhdFundamentals struct {
	General struct {
		Name     string `json:"Name"`
		Sector   string `json:"Sector"`
		Industry string `json:"Industry"`
	} `json:"General"`
	Highlights struct {
		MarketCapitalization number `json:"MarketCapitalization"`
		PERatio              number `json:"PERatio"`
		ReturnOnEquityTTM    number `json:"ReturnOnEquityTTM"`
		DividendYield        number `json:"DividendYield"`
		EarningsShare        number `json:"EarningsShare"`
		BookValue            number `json:"BookValue"`
	} `json:"Highlights"`
	Valuation struct {
		PriceBookMRQ number `json:"PriceBookMRQ"`
	} `json:"Valuation"`
}

func (p *EODHD) fundamentals(ctx context.Context, key string, _ market.Params) (market.Fields, error) {
	var f eodhdFundamentals
	code := ParseTicker(key, p.exchange).EODHD()
	if err := p.getJSON(ctx, "/fundamentals/"+url.PathEscape(code), p.query(nil), nil, &f); err != nil {
		return nil, err
	}
	fields := market.Fields{}
	err := setAll(fields, map[string]any{
		market.FieldCompanyName:   f.General.Name,
		market.FieldSector:        f.General.Sector,
		market.FieldIndustry:      f.General.Industry,
		market.FieldMarketCap:     f.Highlights.MarketCapitalization.ptr(),
		market.FieldPERatio:       f.Highlights.PERatio.ptr(),
		market.FieldPBRatio:       f.Valuation.PriceBookMRQ.ptr(),
		market.FieldROE:           asPercent(f.Highlights.ReturnOnEquityTTM.ptr()),
		market.FieldDividendYield: asPercent(f.Highlights.DividendYield.ptr()),
		market.FieldEPS:           f.Highlights.EarningsShare.ptr(),
		market.FieldBookValue:     f.Highlights.BookValue.ptr(),
	})
	return fields, err
}

type eodhdBar struct {
	Date   string `json:"date"`
	Open   number `json:"open"`
	High   number `json:"high"`
	Low    number `json:"low"`
	Close  number `json:"close"`
	Volume number `json:"volume"`
}

func (p *EODHD) history(ctx context.Context, key string, params market.Params) (market.Fields, error) {
	now := p.now().UTC()
	start, err := market.PeriodStart(params.Period, now)
	if err != nil {
		return nil, NewValidationError(err.Error())
	}
	extra := map[string]string{
		"period": "d",
		"order":  "a",
		"to":     now.Format(time.DateOnly),
	}
	if !start.IsZero() {
		extra["from"] = start.Format(time.DateOnly)
	}

	var rows []eodhdBar
	code := ParseTicker(key, p.exchange).EODHD()
	if err := p.getJSON(ctx, "/eod/"+url.PathEscape(code), p.query(extra), nil, &rows); err != nil {
		return nil, err
	}

	bars := make([]market.Bar, 0, len(rows))
	for _, r := range rows {
		if r.Date == "" || !r.Close.ok {
			continue
		}
		bar := market.Bar{Date: r.Date, Open: r.Open.val, High: r.High.val, Low: r.Low.val, Close: r.Close.val}
		if v := r.Volume.intPtr(); v != nil {
			bar.Volume = *v
		}
		bars = append(bars, bar)
	}
	return barsFields(bars)
}

type eodhdArticle struct {
	Date    string `json:"date"`
	Title   string `json:"title"`
	Content string `json:"content"`
	Link    string `json:"link"`
}

func (p *EODHD) news(ctx context.Context, key string, params market.Params) (market.Fields, error) {
	extra := map[string]string{
		"limit":  strconv.Itoa(params.Limit),
		"offset": "0",
	}
	if key == "" {
		extra["t"] = "market"
	} else {
		extra["s"] = ParseTicker(key, p.exchange).EODHD()
	}

	var rows []eodhdArticle
	if err := p.getJSON(ctx, "/news", p.query(extra), nil, &rows); err != nil {
		return nil, err
	}

	articles := make([]market.Article, 0, len(rows))
	for _, r := range rows {
		if r.Title == "" {
			continue
		}
		published := r.Date
		if ts := dateTimestamp(time.RFC3339, r.Date); ts != nil {
			published = *ts
		}
		articles = append(articles, market.Article{
			Title:       r.Title,
			Description: truncate(r.Content, 300),
			URL:         r.Link,
			Source:      "EODHD",
			PublishedAt: published,
		})
	}
	return articlesFields(articles, params.Limit)
}

var _ Provider = (*EODHD)(nil)
