package fetcher

import (
	"context"
	"strings"

	"github.com/rs/zerolog"

	"finpath-insight/internal/config"
	"finpath-insight/internal/market"
)

// IndianAPI normalises stock.indianapi.in. Authentication is the X-Api-Key
// header; stocks are looked up by bare company code.
type IndianAPI struct {
	endpoint
	exchange string
	table    map[market.DataType]normaliser
}

// NewIndianAPI constructs an IndianAPI provider.
func NewIndianAPI(cfg config.ProviderConfig, defaultExchange string, logger zerolog.Logger) *IndianAPI {
	p := &IndianAPI{
		endpoint: newEndpoint(ProviderIndianAPI, cfg, logger),
		exchange: defaultExchange,
	}
	p.table = map[market.DataType]normaliser{
		market.StockPrice:   p.stockPrice,
		market.Fundamentals: p.fundamentals,
		market.News:         p.news,
	}
	return p
}

// Name implements Provider.
func (p *IndianAPI) Name() string { return ProviderIndianAPI }

// Fetch implements Provider.
func (p *IndianAPI) Fetch(ctx context.Context, dt market.DataType, key string, params market.Params) Result {
	return dispatch(ctx, p.Name(), p.table, dt, key, params)
}

func (p *IndianAPI) headers() map[string]string {
	return map[string]string{"X-Api-Key": p.apiKey}
}

type indianMetric struct {
	Key   string `json:"key"`
	Value number `json:"value"`
}

type indianStock struct {
	CompanyName    string `json:"companyName"`
	Industry       string `json:"industry"`
	CompanyProfile struct {
		MgIndustry string `json:"mgIndustry"`
	} `json:"companyProfile"`
	CurrentPrice struct {
		BSE number `json:"BSE"`
		NSE number `json:"NSE"`
	} `json:"currentPrice"`
	PercentChange number                    `json:"percentChange"`
	KeyMetrics    map[string][]indianMetric `json:"keyMetrics"`
}

// Metric keys inside keyMetrics, by canonical field.
var indianMetricKeys = map[string]string{
	market.FieldMarketCap:     "marketCap",
	market.FieldPERatio:       "pPerEBasicExcludingExtraordinaryItemsTTM",
	market.FieldPBRatio:       "priceToBookMostRecentQuarter",
	market.FieldROE:           "returnOnAverageEquityTrailing12Month",
	market.FieldDebtToEquity:  "totalDebtPerTotalEquityMostRecentQuarter",
	market.FieldDividendYield: "currentDividendYieldCommonStockPrimaryIssueLTM",
	market.FieldEPS:           "ePSIncludingExtraOrdinaryItemsTrailing12Month",
	market.FieldBookValue:     "bookValuePerShareMostRecentQuarter",
}

func (s indianStock) metric(key string) *float64 {
	for _, group := range s.KeyMetrics {
		for _, m := range group {
			if m.Key == key {
				return m.Value.ptr()
			}
		}
	}
	return nil
}

func (p *IndianAPI) stock(ctx context.Context, key string) (indianStock, error) {
	var s indianStock
	name := ParseTicker(key, p.exchange).Plain()
	if err := p.getJSON(ctx, "/stock", map[string]string{"name": name}, p.headers(), &s); err != nil {
		return s, err
	}
	if s.CompanyName == "" && !s.CurrentPrice.NSE.ok && !s.CurrentPrice.BSE.ok {
		return s, NewValidationError("no stock data returned for " + name)
	}
	return s, nil
}

func (p *IndianAPI) stockPrice(ctx context.Context, key string, _ market.Params) (market.Fields, error) {
	s, err := p.stock(ctx, key)
	if err != nil {
		return nil, err
	}
	price := s.CurrentPrice.NSE
	if ParseTicker(key, p.exchange).Exchange == ExchangeBSE || !price.ok {
		price = s.CurrentPrice.BSE
	}
	fields := market.Fields{}
	err = setAll(fields, map[string]any{
		market.FieldPrice:         price.ptr(),
		market.FieldChangePercent: s.PercentChange.ptr(),
	})
	return fields, err
}

func (p *IndianAPI) fundamentals(ctx context.Context, key string, _ market.Params) (market.Fields, error) {
	s, err := p.stock(ctx, key)
	if err != nil {
		return nil, err
	}
	industry := s.Industry
	if industry == "" {
		industry = s.CompanyProfile.MgIndustry
	}
	values := map[string]any{
		market.FieldCompanyName: s.CompanyName,
		market.FieldIndustry:    industry,
	}
	for field, metricKey := range indianMetricKeys {
		values[field] = s.metric(metricKey)
	}
	fields := market.Fields{}
	err = setAll(fields, values)
	return fields, err
}

type indianArticle struct {
	Title   string `json:"title"`
	Summary string `json:"summary"`
	URL     string `json:"url"`
	PubDate string `json:"pub_date"`
	Source  string `json:"source"`
}

func (p *IndianAPI) news(ctx context.Context, key string, params market.Params) (market.Fields, error) {
	var rows []indianArticle
	if err := p.getJSON(ctx, "/news", nil, p.headers(), &rows); err != nil {
		return nil, err
	}

	code := ""
	if key != "" {
		code = strings.ToUpper(ParseTicker(key, p.exchange).Plain())
	}
	articles := make([]market.Article, 0, len(rows))
	for _, r := range rows {
		if r.Title == "" {
			continue
		}
		// The feed is market-wide; keep only items naming the ticker when one is asked for.
		if code != "" && !strings.Contains(strings.ToUpper(r.Title+" "+r.Summary), code) {
			continue
		}
		source := r.Source
		if source == "" {
			source = "IndianAPI"
		}
		articles = append(articles, market.Article{
			Title:       r.Title,
			Description: r.Summary,
			URL:         r.URL,
			Source:      source,
			PublishedAt: r.PubDate,
		})
	}
	return articlesFields(articles, params.Limit)
}

var _ Provider = (*IndianAPI)(nil)
