package app

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"finpath-insight/internal/freshness"
	"finpath-insight/internal/market"
)

// Show prints the most recently fetched cache records of one data type.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	dt, err := market.ParseDataType(opts.DataType)
	if err != nil {
		return err
	}
	policy, err := freshness.New(a.Config.Freshness.TTLs())
	if err != nil {
		return err
	}

	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	records, err := store.List(ctx, dt, opts.Limit)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Fprintf(a.Out, "no cached %s records found\n", dt)
		return nil
	}

	now := time.Now()
	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Key\tFetched (UTC)\tAge\tState\tSources\tSummary\tMissing")

	for _, rec := range records {
		state := "fresh"
		if policy.IsStale(dt, rec.FetchedAt, now) {
			state = "stale"
		}
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\t%s\t%d\n",
			rec.Key,
			rec.FetchedAt.UTC().Format(time.RFC3339),
			now.Sub(rec.FetchedAt).Truncate(time.Second),
			state,
			strings.Join(rec.Sources, ","),
			sanitizeInline(summarize(rec)),
			len(rec.Payload.Missing(market.RequiredFields(dt))),
		)
	}

	return writer.Flush()
}

// summarize renders the headline value of a record.
func summarize(rec market.CacheRecord) string {
	p := rec.Payload
	switch rec.DataType {
	case market.StockPrice:
		return numberWithChange(p, market.FieldPrice)
	case market.Indices:
		return numberWithChange(p, market.FieldValue)
	case market.Fundamentals:
		name, _ := p.String(market.FieldCompanyName)
		if pe, ok := p.Float(market.FieldPERatio); ok {
			return fmt.Sprintf("%s P/E %s", name, strconv.FormatFloat(pe, 'f', 2, 64))
		}
		return name
	case market.History:
		var bars []market.Bar
		if err := p.Decode(market.FieldBars, &bars); err != nil || len(bars) == 0 {
			return "-"
		}
		return fmt.Sprintf("%d bars %s..%s", len(bars), bars[0].Date, bars[len(bars)-1].Date)
	case market.News:
		var articles []market.Article
		if err := p.Decode(market.FieldArticles, &articles); err != nil || len(articles) == 0 {
			return "-"
		}
		return fmt.Sprintf("%d articles, latest %q", len(articles), articles[0].Title)
	}
	return "-"
}

func numberWithChange(p market.Fields, field string) string {
	v, ok := p.Float(field)
	if !ok {
		return "-"
	}
	out := strconv.FormatFloat(v, 'f', 2, 64)
	if pct, ok := p.Float(market.FieldChangePercent); ok {
		out += fmt.Sprintf(" (%+.2f%%)", pct)
	}
	return out
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
