package market

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
)

// Canonical field names.
const (
	FieldPrice         = "price"
	FieldOpen          = "open"
	FieldHigh          = "high"
	FieldLow           = "low"
	FieldClose         = "close"
	FieldChange        = "change"
	FieldChangePercent = "changePercent"
	FieldVolume        = "volume"
	FieldTimestamp     = "timestamp"
	FieldValue         = "value"

	FieldCompanyName   = "companyName"
	FieldSector        = "sector"
	FieldIndustry      = "industry"
	FieldMarketCap     = "marketCap"
	FieldPERatio       = "peRatio"
	FieldPBRatio       = "pbRatio"
	FieldROE           = "roe"
	FieldDebtToEquity  = "debtToEquity"
	FieldDividendYield = "dividendYield"
	FieldEPS           = "eps"
	FieldBookValue     = "bookValue"

	FieldBars     = "bars"
	FieldArticles = "articles"
)

var requiredFields = map[DataType][]string{
	StockPrice: {
		FieldPrice, FieldOpen, FieldHigh, FieldLow, FieldClose,
		FieldChangePercent, FieldVolume, FieldTimestamp,
	},
	Fundamentals: {
		FieldCompanyName, FieldSector, FieldIndustry, FieldMarketCap, FieldPERatio,
		FieldPBRatio, FieldROE, FieldDebtToEquity, FieldDividendYield, FieldEPS, FieldBookValue,
	},
	History: {FieldBars},
	News:    {FieldArticles},
	Indices: {FieldValue, FieldChange, FieldChangePercent, FieldTimestamp},
}

// RequiredFields returns the fields a complete payload of dt carries.
func RequiredFields(dt DataType) []string {
	return append([]string(nil), requiredFields[dt]...)
}

// Fields is a partial canonical record: field name to JSON-encoded value. A
// field is present only if some provider actually supplied it.
type Fields map[string]json.RawMessage

// Set stores v under name. Nil values and non-finite floats are skipped so an
// absent upstream value never masks a later provider.
func (f Fields) Set(name string, v any) error {
	switch x := v.(type) {
	case nil:
		return nil
	case *float64:
		if x == nil {
			return nil
		}
		v = *x
	case *int64:
		if x == nil {
			return nil
		}
		v = *x
	case *string:
		if x == nil || *x == "" {
			return nil
		}
		v = *x
	case string:
		if x == "" {
			return nil
		}
	}
	if fv, ok := v.(float64); ok && (math.IsNaN(fv) || math.IsInf(fv, 0)) {
		return nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode field %s: %w", name, err)
	}
	f[name] = raw
	return nil
}

// Has reports whether name is present.
func (f Fields) Has(name string) bool {
	_, ok := f[name]
	return ok
}

// Float decodes a numeric field.
func (f Fields) Float(name string) (float64, bool) {
	raw, ok := f[name]
	if !ok {
		return 0, false
	}
	var v float64
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, false
	}
	return v, true
}

// String decodes a text field.
func (f Fields) String(name string) (string, bool) {
	raw, ok := f[name]
	if !ok {
		return "", false
	}
	var v string
	if err := json.Unmarshal(raw, &v); err != nil {
		return "", false
	}
	return v, true
}

// Decode unmarshals a field into dst.
func (f Fields) Decode(name string, dst any) error {
	raw, ok := f[name]
	if !ok {
		return fmt.Errorf("field %s not present", name)
	}
	return json.Unmarshal(raw, dst)
}

// Missing returns the required names not present, in the order given.
func (f Fields) Missing(required []string) []string {
	var missing []string
	for _, name := range required {
		if !f.Has(name) {
			missing = append(missing, name)
		}
	}
	return missing
}

// MergeFrom copies fields of other that f does not have yet. Fields already
// present are never overwritten. It returns the names that were added.
func (f Fields) MergeFrom(other Fields) []string {
	var added []string
	for name, raw := range other {
		if _, exists := f[name]; exists {
			continue
		}
		f[name] = append(json.RawMessage(nil), raw...)
		added = append(added, name)
	}
	sort.Strings(added)
	return added
}

// Clone returns a deep copy.
func (f Fields) Clone() Fields {
	if f == nil {
		return nil
	}
	out := make(Fields, len(f))
	for name, raw := range f {
		out[name] = append(json.RawMessage(nil), raw...)
	}
	return out
}

// LimitArticles keeps only the first n articles. Payloads without a
// decodable article list are left alone.
func (f Fields) LimitArticles(n int) {
	if n <= 0 || !f.Has(FieldArticles) {
		return
	}
	var articles []json.RawMessage
	if err := json.Unmarshal(f[FieldArticles], &articles); err != nil || len(articles) <= n {
		return
	}
	raw, err := json.Marshal(articles[:n])
	if err != nil {
		return
	}
	f[FieldArticles] = raw
}
