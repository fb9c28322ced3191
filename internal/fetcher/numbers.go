package fetcher

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"finpath-insight/internal/market"
)

var hundred = decimal.NewFromInt(100)

// number decodes a JSON value that upstream APIs send either as a number or
// as a string ("2876.45", "0.98%", "1,234", "None"). Unparseable values are
// treated as absent rather than failing the whole response.
type number struct {
	val float64
	ok  bool
}

func (n *number) UnmarshalJSON(b []byte) error {
	raw := strings.TrimSpace(string(b))
	if raw == "null" || raw == "" {
		return nil
	}
	if strings.HasPrefix(raw, `"`) {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return nil
		}
		n.val, n.ok = parseNumber(s)
		return nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return nil
	}
	n.val, n.ok = d.InexactFloat64(), true
	return nil
}

func (n number) ptr() *float64 {
	if !n.ok {
		return nil
	}
	v := n.val
	return &v
}

func (n number) intPtr() *int64 {
	if !n.ok {
		return nil
	}
	v := decimal.NewFromFloat(n.val).Round(0).IntPart()
	return &v
}

func parseNumber(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "%")
	s = strings.ReplaceAll(s, ",", "")
	switch strings.ToUpper(s) {
	case "", "-", "NONE", "NA", "N/A", "NAN", "NULL":
		return 0, false
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, false
	}
	return d.InexactFloat64(), true
}

// percentChange derives (price - previous) / previous * 100 rounded to four
// places. It returns nil if either side is absent or previous is zero.
func percentChange(price, previous *float64) *float64 {
	if price == nil || previous == nil || *previous == 0 {
		return nil
	}
	p := decimal.NewFromFloat(*price)
	prev := decimal.NewFromFloat(*previous)
	v := p.Sub(prev).Div(prev).Mul(hundred).Round(4).InexactFloat64()
	return &v
}

func unixTimestamp(sec int64) *string {
	if sec <= 0 {
		return nil
	}
	s := time.Unix(sec, 0).UTC().Format(time.RFC3339)
	return &s
}

func dateTimestamp(layout, value string) *string {
	t, err := time.Parse(layout, strings.TrimSpace(value))
	if err != nil {
		return nil
	}
	s := t.UTC().Format(time.RFC3339)
	return &s
}

// setAll stores every value in fields, stopping at the first encoding error.
func setAll(fields market.Fields, values map[string]any) error {
	for name, v := range values {
		if err := fields.Set(name, v); err != nil {
			return err
		}
	}
	return nil
}

// asPercent turns a ratio such as 0.0912 into 9.12.
func asPercent(ratio *float64) *float64 {
	if ratio == nil {
		return nil
	}
	v := decimal.NewFromFloat(*ratio).Mul(hundred).Round(4).InexactFloat64()
	return &v
}
