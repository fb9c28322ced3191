package fetcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"finpath-insight/internal/market"
)

func TestFMPStockPrice(t *testing.T) {
	srv := jsonServer(t, func(r *http.Request) {
		if r.URL.Path != "/quote/RELIANCE.NS" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if r.URL.Query().Get("apikey") != "test-key" {
			t.Errorf("apikey = %q", r.URL.Query().Get("apikey"))
		}
	}, http.StatusOK, `[{
		"symbol": "RELIANCE.NS", "name": "Reliance Industries Limited",
		"price": 2876.45, "open": 2850.1, "dayHigh": 2890, "dayLow": 2845.5,
		"previousClose": 2842.3, "change": 34.15, "changesPercentage": 1.2,
		"volume": 52345, "timestamp": 1772443800
	}]`)

	p := NewFMP(testProviderConfig(srv.URL), "NSE", noopLogger())
	res := p.Fetch(context.Background(), market.StockPrice, "RELIANCE", market.Params{})
	if !res.OK {
		t.Fatalf("expected ok, got %v", res.Err)
	}
	mustFloat(t, res.Fields, market.FieldPrice, 2876.45)
	mustFloat(t, res.Fields, market.FieldChangePercent, 1.2)
	if missing := res.Fields.Missing(market.RequiredFields(market.StockPrice)); len(missing) != 0 {
		t.Fatalf("unexpected missing fields %v", missing)
	}
	if ts, _ := res.Fields.String(market.FieldTimestamp); ts != "2026-03-02T09:30:00Z" {
		t.Fatalf("timestamp = %q", ts)
	}
}

func TestFMPUnknownSymbolIsValidationError(t *testing.T) {
	srv := jsonServer(t, nil, http.StatusOK, `[]`)

	p := NewFMP(testProviderConfig(srv.URL), "NSE", noopLogger())
	res := p.Fetch(context.Background(), market.StockPrice, "NOPE", market.Params{})
	if res.OK {
		t.Fatal("expected failure for empty quote list")
	}
	var fe *FetchError
	if !errors.As(res.Err, &fe) || fe.Type != ErrorTypeValidation {
		t.Fatalf("err = %v, want validation FetchError", res.Err)
	}
}

func TestFMPIndexUsesCaretSymbol(t *testing.T) {
	srv := jsonServer(t, func(r *http.Request) {
		if r.URL.Path != "/quote/^NSEI" {
			t.Errorf("path = %q", r.URL.Path)
		}
	}, http.StatusOK, `[{"symbol": "^NSEI", "price": 22345.6, "previousClose": 22000, "timestamp": 1772443800}]`)

	p := NewFMP(testProviderConfig(srv.URL), "NSE", noopLogger())
	res := p.Fetch(context.Background(), market.Indices, "NIFTY 50", market.Params{})
	if !res.OK {
		t.Fatalf("expected ok, got %v", res.Err)
	}
	mustFloat(t, res.Fields, market.FieldValue, 22345.6)
	mustFloat(t, res.Fields, market.FieldChangePercent, 1.5709)
}

func TestFMPFundamentalsMergesEndpoints(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/profile/TCS.NS":
			_, _ = w.Write([]byte(`[{"companyName": "Tata Consultancy Services", "sector": "Technology",
				"industry": "Information Technology Services", "mktCap": 14500000000000}]`))
		case "/ratios/TCS.NS":
			if r.URL.Query().Get("limit") != "1" {
				t.Errorf("limit = %q", r.URL.Query().Get("limit"))
			}
			_, _ = w.Write([]byte(`[{"priceEarningsRatio": 30.2, "priceToBookRatio": 14.1,
				"returnOnEquity": 0.465, "debtEquityRatio": 0.08, "dividendYield": 0.012}]`))
		case "/key-metrics/TCS.NS":
			_, _ = w.Write([]byte(`[{"netIncomePerShare": 126.9, "bookValuePerShare": 280.4}]`))
		default:
			t.Errorf("unexpected path %q", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)

	p := NewFMP(testProviderConfig(srv.URL), "NSE", noopLogger())
	res := p.Fetch(context.Background(), market.Fundamentals, "TCS.NSE", market.Params{})
	if !res.OK {
		t.Fatalf("expected ok, got %v", res.Err)
	}
	mustFloat(t, res.Fields, market.FieldROE, 46.5)
	mustFloat(t, res.Fields, market.FieldDividendYield, 1.2)
	mustFloat(t, res.Fields, market.FieldDebtToEquity, 0.08)
	mustFloat(t, res.Fields, market.FieldEPS, 126.9)
	if missing := res.Fields.Missing(market.RequiredFields(market.Fundamentals)); len(missing) != 0 {
		t.Fatalf("unexpected missing fields %v", missing)
	}
}

func TestFMPFundamentalsKeepsProfileWhenRatiosFail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Path == "/profile/INFY.NS" {
			_, _ = w.Write([]byte(`[{"companyName": "Infosys Limited", "sector": "Technology", "mktCap": 6400000000000}]`))
			return
		}
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"Error Message": "Exclusive Endpoint"}`))
	}))
	t.Cleanup(srv.Close)

	p := NewFMP(testProviderConfig(srv.URL), "NSE", noopLogger())
	res := p.Fetch(context.Background(), market.Fundamentals, "INFY", market.Params{})
	if !res.OK {
		t.Fatalf("expected ok, got %v", res.Err)
	}
	if name, _ := res.Fields.String(market.FieldCompanyName); name != "Infosys Limited" {
		t.Fatalf("companyName = %q", name)
	}
	if res.Fields.Has(market.FieldDebtToEquity) || res.Fields.Has(market.FieldEPS) {
		t.Fatalf("ratio fields must be absent: %v", res.Fields)
	}
}

func TestFMPHistoryIsOldestFirst(t *testing.T) {
	srv := jsonServer(t, func(r *http.Request) {
		if r.URL.Path != "/historical-price-full/TCS.NS" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.URL.Query().Get("to"); got != "2026-03-05" {
			t.Errorf("to = %q", got)
		}
		if got := r.URL.Query().Get("from"); got != "2026-02-05" {
			t.Errorf("from = %q", got)
		}
	}, http.StatusOK, `{"symbol": "TCS.NS", "historical": [
		{"date": "2026-03-04", "open": 3950, "high": 3990, "low": 3940, "close": 3985.5, "volume": 980000},
		{"date": "2026-03-03", "open": 3920, "high": 3960, "low": 3910, "close": 3948.2, "volume": 870000}
	]}`)

	p := NewFMP(testProviderConfig(srv.URL), "NSE", noopLogger())
	p.now = func() time.Time { return time.Date(2026, 3, 5, 10, 0, 0, 0, time.UTC) }
	res := p.Fetch(context.Background(), market.History, "TCS", market.Params{Period: "1mo"})
	if !res.OK {
		t.Fatalf("expected ok, got %v", res.Err)
	}
	var bars []market.Bar
	if err := res.Fields.Decode(market.FieldBars, &bars); err != nil {
		t.Fatalf("decode bars: %v", err)
	}
	if len(bars) != 2 || bars[0].Date != "2026-03-03" || bars[1].Close != 3985.5 {
		t.Fatalf("unexpected bars %+v", bars)
	}
}
