package lookup

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
	"unicode"

	shardErrors "github.com/sweetpotato0/shard/errors"
	"github.com/tidwall/gjson"
)

const (
	DefaultYahooURL = "https://query1.finance.yahoo.com"
	yahooQuotePage  = "https://finance.yahoo.com/quote/"
	browserAgent    = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"
	financeHint     = "Symbol not recognized. Try a ticker such as AAPL, MSFT or TSLA, or a full company name."
)

// Quote is the payload of a financial result.
type Quote struct {
	Symbol   string    `json:"symbol"`
	Name     string    `json:"name,omitempty"`
	Currency string    `json:"currency,omitempty"`
	Date     time.Time `json:"date"`
	Open     float64   `json:"open"`
	High     float64   `json:"high"`
	Low      float64   `json:"low"`
	Close    float64   `json:"close"`
	Volume   int64     `json:"volume"`
}

// Finance resolves a company name or ticker to its latest daily quote.
// Unknown symbols produce a not-found Result, not an error.
type Finance struct {
	opts *options
}

// NewFinance creates the financial-quote adapter backed by Yahoo Finance.
func NewFinance(opts ...Option) *Finance {
	o := newOptions("lookup.finance", DefaultYahooURL, append([]Option{WithUserAgent(browserAgent)}, opts...))
	return &Finance{opts: o}
}

func (f *Finance) Kind() Kind { return KindFinancial }

func (f *Finance) Lookup(ctx context.Context, query string) (*Result, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fail(KindFinancial, query, shardErrors.ErrInvalidInput)
	}

	symbol, ok := tickerSymbol(query)
	if !ok {
		resolved, err := f.search(ctx, query)
		if err != nil {
			return nil, fail(KindFinancial, query, err)
		}
		if resolved == "" {
			return notFound(KindFinancial, query, financeHint), nil
		}
		symbol = resolved
	}

	quote, err := f.chart(ctx, symbol)
	if errors.Is(err, shardErrors.ErrNotFound) {
		return notFound(KindFinancial, query, financeHint), nil
	}
	if err != nil {
		return nil, fail(KindFinancial, query, err)
	}

	return &Result{
		Kind:    KindFinancial,
		Query:   query,
		Title:   quote.Symbol,
		Summary: formatQuote(quote),
		Sources: []Source{{Name: "Yahoo Finance: " + quote.Symbol, URL: yahooQuotePage + url.PathEscape(quote.Symbol)}},
		Data:    quote,
	}, nil
}

// tickerSymbol accepts short all-letter inputs as tickers.
func tickerSymbol(q string) (string, bool) {
	if len(q) == 0 || len(q) > 5 {
		return "", false
	}
	for _, r := range q {
		if !unicode.IsLetter(r) || r > unicode.MaxASCII {
			return "", false
		}
	}
	return strings.ToUpper(q), true
}

func (f *Finance) search(ctx context.Context, q string) (string, error) {
	v := url.Values{}
	v.Set("q", q)
	v.Set("quotesCount", "1")
	v.Set("newsCount", "0")

	body, err := f.opts.get(ctx, strings.TrimRight(f.opts.baseURL, "/")+"/v1/finance/search?"+v.Encode())
	if errors.Is(err, shardErrors.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("symbol search: %w", err)
	}
	return gjson.GetBytes(body, "quotes.0.symbol").String(), nil
}

func (f *Finance) chart(ctx context.Context, symbol string) (*Quote, error) {
	v := url.Values{}
	v.Set("range", "1d")
	v.Set("interval", "1d")

	body, err := f.opts.get(ctx, strings.TrimRight(f.opts.baseURL, "/")+"/v8/finance/chart/"+url.PathEscape(symbol)+"?"+v.Encode())
	if err != nil && !errors.Is(err, shardErrors.ErrNotFound) {
		return nil, fmt.Errorf("chart: %w", err)
	}
	res := gjson.GetBytes(body, "chart.result.0")
	if !res.Exists() {
		if code := gjson.GetBytes(body, "chart.error.code").String(); code != "" && code != "Not Found" {
			return nil, fmt.Errorf("chart: %s", gjson.GetBytes(body, "chart.error.description").String())
		}
		return nil, shardErrors.ErrNotFound
	}

	meta := res.Get("meta")
	q := &Quote{
		Symbol:   meta.Get("symbol").String(),
		Currency: meta.Get("currency").String(),
		Name:     meta.Get("longName").String(),
	}
	if q.Name == "" {
		q.Name = meta.Get("shortName").String()
	}
	if q.Symbol == "" {
		q.Symbol = symbol
	}

	stamps := res.Get("timestamp").Array()
	ind := res.Get("indicators.quote.0")
	last := len(stamps) - 1
	if last < 0 {
		// no trading data yet today; fall back to the meta price
		q.Close = meta.Get("regularMarketPrice").Float()
		q.Date = time.Unix(meta.Get("regularMarketTime").Int(), 0).UTC()
		return q, nil
	}
	q.Date = time.Unix(stamps[last].Int(), 0).UTC()
	q.Open = at(ind.Get("open"), last)
	q.High = at(ind.Get("high"), last)
	q.Low = at(ind.Get("low"), last)
	q.Close = at(ind.Get("close"), last)
	q.Volume = int64(at(ind.Get("volume"), last))
	return q, nil
}

func at(arr gjson.Result, i int) float64 {
	items := arr.Array()
	if i < 0 || i >= len(items) {
		return 0
	}
	return items[i].Float()
}

func formatQuote(q *Quote) string {
	label := q.Symbol
	if q.Name != "" {
		label = fmt.Sprintf("%s (%s)", q.Symbol, q.Name)
	}
	return fmt.Sprintf("Latest data for %s: Date: %s, Open: %.2f, High: %.2f, Low: %.2f, Close: %.2f, Volume: %d",
		label, q.Date.Format("2006-01-02"), q.Open, q.High, q.Low, q.Close, q.Volume)
}
