package fetcher

import (
	"context"
	"net/url"
	"time"

	"github.com/rs/zerolog"

	"finpath-insight/internal/config"
	"finpath-insight/internal/market"
)

// FMP normalises the financialmodelingprep.com v3 API. Authentication is the
// apikey query parameter. Symbols use the Yahoo exchange suffixes.
type FMP struct {
	endpoint
	exchange string
	now      func() time.Time
	table    map[market.DataType]normaliser
}

// NewFMP constructs an FMP provider.
func NewFMP(cfg config.ProviderConfig, defaultExchange string, logger zerolog.Logger) *FMP {
	p := &FMP{
		endpoint: newEndpoint(ProviderFMP, cfg, logger),
		exchange: defaultExchange,
		now:      time.Now,
	}
	p.table = map[market.DataType]normaliser{
		market.StockPrice:   p.stockPrice,
		market.Indices:      p.index,
		market.Fundamentals: p.fundamentals,
		market.History:      p.history,
	}
	return p
}

// Name implements Provider.
func (p *FMP) Name() string { return ProviderFMP }

// Fetch implements Provider.
func (p *FMP) Fetch(ctx context.Context, dt market.DataType, key string, params market.Params) Result {
	return dispatch(ctx, p.Name(), p.table, dt, key, params)
}

func (p *FMP) query(extra map[string]string) map[string]string {
	q := map[string]string{"apikey": p.apiKey}
	for k, v := range extra {
		q[k] = v
	}
	return q
}

type fmpQuote struct {
	Symbol            string `json:"symbol"`
	Name              string `json:"name"`
	Price             number `json:"price"`
	Open              number `json:"open"`
	DayHigh           number `json:"dayHigh"`
	DayLow            number `json:"dayLow"`
	PreviousClose     number `json:"previousClose"`
	Change            number `json:"change"`
	ChangesPercentage number `json:"changesPercentage"`
	Volume            number `json:"volume"`
	Timestamp         number `json:"timestamp"`
}

func (q fmpQuote) changePercent() *float64 {
	if q.ChangesPercentage.ok {
		return q.ChangesPercentage.ptr()
	}
	return percentChange(q.Price.ptr(), q.PreviousClose.ptr())
}

func (q fmpQuote) timestamp() *string {
	if ts := q.Timestamp.intPtr(); ts != nil {
		return unixTimestamp(*ts)
	}
	return nil
}

func (p *FMP) quote(ctx context.Context, symbol string) (fmpQuote, error) {
	var rows []fmpQuote
	if err := p.getJSON(ctx, "/quote/"+url.PathEscape(symbol), p.query(nil), nil, &rows); err != nil {
		return fmpQuote{}, err
	}
	if len(rows) == 0 || !rows[0].Price.ok {
		return fmpQuote{}, NewValidationError("no quote returned for " + symbol)
	}
	return rows[0], nil
}

func (p *FMP) stockPrice(ctx context.Context, key string, _ market.Params) (market.Fields, error) {
	q, err := p.quote(ctx, ParseTicker(key, p.exchange).Yahoo())
	if err != nil {
		return nil, err
	}
	fields := market.Fields{}
	err = setAll(fields, map[string]any{
		market.FieldPrice:         q.Price.ptr(),
		market.FieldOpen:          q.Open.ptr(),
		market.FieldHigh:          q.DayHigh.ptr(),
		market.FieldLow:           q.DayLow.ptr(),
		market.FieldClose:         q.Price.ptr(),
		market.FieldChange:        q.Change.ptr(),
		market.FieldChangePercent: q.changePercent(),
		market.FieldVolume:        q.Volume.intPtr(),
		market.FieldTimestamp:     q.timestamp(),
	})
	return fields, err
}

func (p *FMP) index(ctx context.Context, key string, _ market.Params) (market.Fields, error) {
	q, err := p.quote(ctx, YahooIndex(key))
	if err != nil {
		return nil, err
	}
	fields := market.Fields{}
	err = setAll(fields, map[string]any{
		market.FieldValue:         q.Price.ptr(),
		market.FieldChange:        q.Change.ptr(),
		market.FieldChangePercent: q.changePercent(),
		market.FieldTimestamp:     q.timestamp(),
	})
	return fields, err
}

type fmpProfile struct {
	CompanyName string `json:"companyName"`
	Sector      string `json:"sector"`
	Industry    string `json:"industry"`
	MktCap      number `json:"mktCap"`
}

type fmpRatios struct {
	PriceEarningsRatio number `json:"priceEarningsRatio"`
	PriceToBookRatio   number `json:"priceToBookRatio"`
	ReturnOnEquity     number `json:"returnOnEquity"`
	DebtEquityRatio    number `json:"debtEquityRatio"`
	DividendYield      number `json:"dividendYield"`
}

type fmpKeyMetrics struct {
	NetIncomePerShare number `json:"netIncomePerShare"`
	BookValuePerShare number `json:"bookValuePerShare"`
}

// fundamentals requires the profile; ratios and key metrics only add fields.
func (p *FMP) fundamentals(ctx context.Context, key string, _ market.Params) (market.Fields, error) {
	symbol := ParseTicker(key, p.exchange).Yahoo()
	path := url.PathEscape(symbol)

	var profiles []fmpProfile
	if err := p.getJSON(ctx, "/profile/"+path, p.query(nil), nil, &profiles); err != nil {
		return nil, err
	}
	if len(profiles) == 0 {
		return nil, NewValidationError("no profile returned for " + symbol)
	}
	profile := profiles[0]

	latest := map[string]string{"limit": "1"}
	var ratios []fmpRatios
	if err := p.getJSON(ctx, "/ratios/"+path, p.query(latest), nil, &ratios); err != nil {
		p.logger.Warn().Err(err).Str("symbol", symbol).Msg("ratios unavailable")
	}
	var metrics []fmpKeyMetrics
	if err := p.getJSON(ctx, "/key-metrics/"+path, p.query(latest), nil, &metrics); err != nil {
		p.logger.Warn().Err(err).Str("symbol", symbol).Msg("key metrics unavailable")
	}

	fields := market.Fields{}
	values := map[string]any{
		market.FieldCompanyName: profile.CompanyName,
		market.FieldSector:      profile.Sector,
		market.FieldIndustry:    profile.Industry,
		market.FieldMarketCap:   profile.MktCap.ptr(),
	}
	if len(ratios) > 0 {
		r := ratios[0]
		values[market.FieldPERatio] = r.PriceEarningsRatio.ptr()
		values[market.FieldPBRatio] = r.PriceToBookRatio.ptr()
		values[market.FieldROE] = asPercent(r.ReturnOnEquity.ptr())
		values[market.FieldDebtToEquity] = r.DebtEquityRatio.ptr()
		values[market.FieldDividendYield] = asPercent(r.DividendYield.ptr())
	}
	if len(metrics) > 0 {
		values[market.FieldEPS] = metrics[0].NetIncomePerShare.ptr()
		values[market.FieldBookValue] = metrics[0].BookValuePerShare.ptr()
	}
	err := setAll(fields, values)
	return fields, err
}

type fmpHistory struct {
	Symbol     string `json:"symbol"`
	Historical []struct {
		Date   string `json:"date"`
		Open   number `json:"open"`
		High   number `json:"high"`
		Low    number `json:"low"`
		Close  number `json:"close"`
		Volume number `json:"volume"`
	} `json:"historical"`
}

func (p *FMP) history(ctx context.Context, key string, params market.Params) (market.Fields, error) {
	now := p.now().UTC()
	start, err := market.PeriodStart(params.Period, now)
	if err != nil {
		return nil, NewValidationError(err.Error())
	}
	extra := map[string]string{"to": now.Format(time.DateOnly)}
	if !start.IsZero() {
		extra["from"] = start.Format(time.DateOnly)
	}

	var h fmpHistory
	symbol := ParseTicker(key, p.exchange).Yahoo()
	if err := p.getJSON(ctx, "/historical-price-full/"+url.PathEscape(symbol), p.query(extra), nil, &h); err != nil {
		return nil, err
	}

	// newest first on the wire
	bars := make([]market.Bar, 0, len(h.Historical))
	for i := len(h.Historical) - 1; i >= 0; i-- {
		r := h.Historical[i]
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

var _ Provider = (*FMP)(nil)
