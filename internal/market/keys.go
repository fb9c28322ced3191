package market

import (
	"fmt"
	"strings"
	"time"
)

const (
	// DefaultPeriod is the history range used when a request does not name one.
	DefaultPeriod = "1y"
	// DefaultNewsLimit caps news payloads when a request does not set a limit.
	DefaultNewsLimit = 10
	// MaxNewsLimit is the largest news list a request can ask for. News is
	// fetched and cached at this size.
	MaxNewsLimit = 50
	// GeneralNewsKey keys market-wide news with no ticker.
	GeneralNewsKey = "market"
)

// Normalize fills in parameter defaults for dt.
func (p Params) Normalize(dt DataType) Params {
	switch dt {
	case History:
		if p.Period == "" {
			p.Period = DefaultPeriod
		}
	case News:
		if p.Limit <= 0 {
			p.Limit = DefaultNewsLimit
		}
		if p.Limit > MaxNewsLimit {
			p.Limit = MaxNewsLimit
		}
	}
	return p
}

// Symbol returns the upstream identifier of a request key: ticker or index
// name, trimmed and upper-cased. General news has no symbol.
func Symbol(dt DataType, key string) string {
	s := strings.ToUpper(strings.TrimSpace(key))
	if dt == News && (s == "" || s == strings.ToUpper(GeneralNewsKey)) {
		return ""
	}
	return s
}

// CacheKey builds the key a request is cached under. History keys carry the
// period since each range is a different payload.
func CacheKey(dt DataType, key string, params Params) string {
	params = params.Normalize(dt)
	sym := Symbol(dt, key)
	switch dt {
	case History:
		return sym + ":" + strings.ToLower(params.Period)
	case News:
		if sym == "" {
			return GeneralNewsKey
		}
		return sym
	default:
		return sym
	}
}

var periodSpans = map[string]func(time.Time) time.Time{
	"1mo": func(t time.Time) time.Time { return t.AddDate(0, -1, 0) },
	"3mo": func(t time.Time) time.Time { return t.AddDate(0, -3, 0) },
	"6mo": func(t time.Time) time.Time { return t.AddDate(0, -6, 0) },
	"1y":  func(t time.Time) time.Time { return t.AddDate(-1, 0, 0) },
	"2y":  func(t time.Time) time.Time { return t.AddDate(-2, 0, 0) },
	"5y":  func(t time.Time) time.Time { return t.AddDate(-5, 0, 0) },
	"max": func(time.Time) time.Time { return time.Time{} },
}

// PeriodStart returns the first instant covered by a history period ending
// at now. "max" returns the zero time.
func PeriodStart(period string, now time.Time) (time.Time, error) {
	span, ok := periodSpans[strings.ToLower(period)]
	if !ok {
		return time.Time{}, fmt.Errorf("unsupported history period %q", period)
	}
	return span(now), nil
}
