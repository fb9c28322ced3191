package market

import (
	"fmt"
	"strings"
	"time"
)

// DataType names one logical kind of market data. Each has its own cache table,
// freshness TTL and provider order.
type DataType string

const (
	StockPrice   DataType = "stock_price"
	Fundamentals DataType = "fundamentals"
	History      DataType = "history"
	News         DataType = "news"
	Indices      DataType = "indices"
)

// DataTypes lists every supported data type in a stable order.
var DataTypes = []DataType{StockPrice, Fundamentals, History, News, Indices}

// ParseDataType validates a data type name.
func ParseDataType(s string) (DataType, error) {
	dt := DataType(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range DataTypes {
		if dt == known {
			return dt, nil
		}
	}
	return "", fmt.Errorf("unknown data type %q", s)
}

// Tier is a subscription tier. It selects the rate limit quota.
type Tier string

const (
	TierFree Tier = "free"
	TierPro  Tier = "pro"
)

// ParseTier validates a tier name. An empty string is the free tier.
func ParseTier(s string) (Tier, error) {
	switch Tier(strings.ToLower(strings.TrimSpace(s))) {
	case "", TierFree:
		return TierFree, nil
	case TierPro:
		return TierPro, nil
	default:
		return "", fmt.Errorf("unknown tier %q", s)
	}
}

// CacheStatus tells the caller where a payload came from.
type CacheStatus string

const (
	CacheHit         CacheStatus = "hit"
	CacheMiss        CacheStatus = "miss"
	CacheStaleServed CacheStatus = "stale-served"
)

// Params carries optional request parameters.
type Params struct {
	// Period selects the history range (1mo, 3mo, 6mo, 1y, 5y). Defaults to 1y.
	Period string
	// Limit caps the number of news articles. Defaults to 10.
	Limit int
}

// Request is a single orchestrator invocation.
type Request struct {
	DataType DataType
	Key      string
	Identity string
	Tier     Tier
	Params   Params
}

// RateLimit reports the quota state observed while serving a request.
type RateLimit struct {
	Limit     int `json:"limit"`
	Remaining int `json:"remaining"`
}

// Response is what the orchestrator hands back for a served request.
type Response struct {
	DataType    DataType    `json:"dataType"`
	Key         string      `json:"key"`
	Payload     Fields      `json:"payload"`
	CacheStatus CacheStatus `json:"cacheStatus"`
	FetchedAt   time.Time   `json:"fetchedAt"`
	Sources     []string    `json:"sources,omitempty"`
	Missing     []string    `json:"missing,omitempty"`
	RateLimit   *RateLimit  `json:"rateLimit,omitempty"`
}

// CacheRecord is one persisted payload. There is at most one record per
// (DataType, Key).
type CacheRecord struct {
	DataType  DataType
	Key       string
	Payload   Fields
	Sources   []string
	FetchedAt time.Time
}

// Bar is one OHLCV row of a history payload.
type Bar struct {
	Date   string  `json:"date"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume int64   `json:"volume"`
}

// Article is one item of a news payload.
type Article struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	URL         string `json:"url"`
	Source      string `json:"source"`
	PublishedAt string `json:"publishedAt"`
}
