package fetcher

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"finpath-insight/internal/config"
	"finpath-insight/internal/market"
)

// NewsAPI normalises newsapi.org. It serves news only.
type NewsAPI struct {
	endpoint
	table map[market.DataType]normaliser
}

// NewNewsAPI constructs a NewsAPI provider.
func NewNewsAPI(cfg config.ProviderConfig, logger zerolog.Logger) *NewsAPI {
	p := &NewsAPI{endpoint: newEndpoint(ProviderNewsAPI, cfg, logger)}
	p.table = map[market.DataType]normaliser{
		market.News: p.news,
	}
	return p
}

// Name implements Provider.
func (p *NewsAPI) Name() string { return ProviderNewsAPI }

// Fetch implements Provider.
func (p *NewsAPI) Fetch(ctx context.Context, dt market.DataType, key string, params market.Params) Result {
	return dispatch(ctx, p.Name(), p.table, dt, key, params)
}

type newsAPIResponse struct {
	Status   string `json:"status"`
	Code     string `json:"code"`
	Message  string `json:"message"`
	Articles []struct {
		Title       string `json:"title"`
		Description string `json:"description"`
		URL         string `json:"url"`
		PublishedAt string `json:"publishedAt"`
		Source      struct {
			Name string `json:"name"`
		} `json:"source"`
	} `json:"articles"`
}

func (p *NewsAPI) news(ctx context.Context, key string, params market.Params) (market.Fields, error) {
	path := "/top-headlines"
	query := map[string]string{
		"pageSize": strconv.Itoa(params.Limit),
		"language": "en",
	}
	if key == "" {
		query["category"] = "business"
	} else {
		path = "/everything"
		query["q"] = ParseTicker(key, "").Plain()
		query["sortBy"] = "publishedAt"
	}

	var resp newsAPIResponse
	headers := map[string]string{"X-Api-Key": p.apiKey}
	if err := p.getJSON(ctx, path, query, headers, &resp); err != nil {
		return nil, err
	}
	if resp.Status == "error" {
		if resp.Code == "rateLimited" {
			return nil, NewRateLimitError(0, resp.Message)
		}
		return nil, NewValidationError(resp.Message)
	}

	articles := make([]market.Article, 0, len(resp.Articles))
	for _, a := range resp.Articles {
		if a.Title == "" || strings.EqualFold(a.Title, "[Removed]") {
			continue
		}
		published := a.PublishedAt
		if ts := dateTimestamp(time.RFC3339, a.PublishedAt); ts != nil {
			published = *ts
		}
		articles = append(articles, market.Article{
			Title:       a.Title,
			Description: a.Description,
			URL:         a.URL,
			Source:      a.Source.Name,
			PublishedAt: published,
		})
	}
	return articlesFields(articles, params.Limit)
}

var _ Provider = (*NewsAPI)(nil)
