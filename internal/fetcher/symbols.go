package fetcher

import (
	"strings"
)

// Exchange suffixes as used in request keys.
const (
	ExchangeNSE = "NSE"
	ExchangeBSE = "BSE"
	ExchangeUS  = "US"
)

var exchangeAliases = map[string]string{
	"NSE": ExchangeNSE,
	"NS":  ExchangeNSE,
	"BSE": ExchangeBSE,
	"BO":  ExchangeBSE,
	"US":  ExchangeUS,
}

// Ticker is a request symbol split into base code and exchange.
type Ticker struct {
	Code     string
	Exchange string
}

// ParseTicker splits "RELIANCE.NSE", "TCS.NS", "AAPL.US" or a bare code.
// Bare codes take defaultExchange; crypto pairs such as "BTC-USD" carry no
// exchange.
func ParseTicker(symbol, defaultExchange string) Ticker {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	if idx := strings.LastIndex(s, "."); idx > 0 && idx < len(s)-1 {
		suffix := s[idx+1:]
		if exch, ok := exchangeAliases[suffix]; ok {
			return Ticker{Code: s[:idx], Exchange: exch}
		}
		return Ticker{Code: s[:idx], Exchange: suffix}
	}
	if strings.Contains(s, "-") {
		return Ticker{Code: s}
	}
	exch, ok := exchangeAliases[strings.ToUpper(defaultExchange)]
	if !ok {
		exch = ExchangeNSE
	}
	return Ticker{Code: s, Exchange: exch}
}

// EODHD renders the ticker as EODHD expects: CODE.NSE, CODE.BSE, CODE.US.
func (t Ticker) EODHD() string {
	if t.Exchange == "" {
		return t.Code + ".CC"
	}
	return t.Code + "." + t.Exchange
}

// Yahoo renders the ticker as Yahoo Finance expects: CODE.NS, CODE.BO, CODE.
func (t Ticker) Yahoo() string {
	switch t.Exchange {
	case ExchangeNSE:
		return t.Code + ".NS"
	case ExchangeBSE:
		return t.Code + ".BO"
	case ExchangeUS, "":
		return t.Code
	default:
		return t.Code + "." + t.Exchange
	}
}

// AlphaVantage renders the ticker as Alpha Vantage expects: CODE.NSE,
// CODE.BSE, or the bare code for US listings.
func (t Ticker) AlphaVantage() string {
	if t.Exchange == ExchangeUS || t.Exchange == "" {
		return t.Code
	}
	return t.Code + "." + t.Exchange
}

// Plain is the bare company code, as name-based APIs expect.
func (t Ticker) Plain() string {
	return t.Code
}

type indexCodes struct {
	yahoo string
	eodhd string
}

var knownIndices = map[string]indexCodes{
	"NIFTY 50":   {yahoo: "^NSEI", eodhd: "NSEI.INDX"},
	"NIFTY":      {yahoo: "^NSEI", eodhd: "NSEI.INDX"},
	"SENSEX":     {yahoo: "^BSESN", eodhd: "BSESN.INDX"},
	"NIFTY BANK": {yahoo: "^NSEBANK", eodhd: "NSEBANK.INDX"},
	"BANK NIFTY": {yahoo: "^NSEBANK", eodhd: "NSEBANK.INDX"},
	"NIFTY IT":   {yahoo: "^CNXIT", eodhd: "CNXIT.INDX"},
	"S&P 500":    {yahoo: "^GSPC", eodhd: "GSPC.INDX"},
	"NASDAQ":     {yahoo: "^IXIC", eodhd: "IXIC.INDX"},
	"DOW JONES":  {yahoo: "^DJI", eodhd: "DJI.INDX"},
}

func lookupIndex(name string) indexCodes {
	n := strings.ToUpper(strings.TrimSpace(name))
	if codes, ok := knownIndices[n]; ok {
		return codes
	}
	code := strings.ReplaceAll(strings.TrimPrefix(n, "^"), " ", "")
	return indexCodes{yahoo: "^" + code, eodhd: code + ".INDX"}
}

// YahooIndex maps an index name to its Yahoo symbol.
func YahooIndex(name string) string {
	return lookupIndex(name).yahoo
}

// EODHDIndex maps an index name to its EODHD code.
func EODHDIndex(name string) string {
	return lookupIndex(name).eodhd
}
