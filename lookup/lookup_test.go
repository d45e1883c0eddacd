package lookup

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	shardErrors "github.com/sweetpotato0/shard/errors"
	"github.com/sweetpotato0/shard/pkg/logging"
)

func server(t *testing.T, h http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return srv
}

func TestWikipediaExactTitle(t *testing.T) {
	srv := server(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "extracts", r.URL.Query().Get("prop"))
		assert.Equal(t, "1", r.URL.Query().Get("redirects"))
		assert.NotEmpty(t, r.Header.Get("User-Agent"))
		io.WriteString(w, `{"query":{"pages":[{"pageid":1,"title":"Dune (novel)","extract":"Dune is a 1965 science fiction novel by Frank Herbert."}]}}`)
	})
	wp := NewWikipedia(WithBaseURL(srv.URL), WithLogger(logging.Discard()))

	res, err := wp.Lookup(context.Background(), "Dune (novel)")
	require.NoError(t, err)
	assert.Equal(t, KindEncyclopedia, res.Kind)
	assert.Equal(t, "Dune (novel)", res.Title)
	assert.Contains(t, res.Summary, "Frank Herbert")
	require.Len(t, res.Sources, 1)
	assert.True(t, strings.HasPrefix(res.Sources[0].URL, "https://en.wikipedia.org/wiki/Dune_"))
}

func TestWikipediaFallsBackToSearch(t *testing.T) {
	srv := server(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		switch {
		case q.Get("list") == "search":
			io.WriteString(w, `{"query":{"search":[{"title":"Frank Herbert","snippet":"<span class=\"searchmatch\">Dune</span> author"}]}}`)
		case q.Get("titles") == "Frank Herbert":
			io.WriteString(w, `{"query":{"pages":[{"title":"Frank Herbert","extract":"Franklin Patrick Herbert Jr. was an American science-fiction author."}]}}`)
		default:
			io.WriteString(w, `{"query":{"pages":[{"title":"Dune author","missing":true}]}}`)
		}
	})
	wp := NewWikipedia(WithBaseURL(srv.URL), WithLogger(logging.Discard()))

	res, err := wp.Lookup(context.Background(), "Dune author")
	require.NoError(t, err)
	assert.Equal(t, "Frank Herbert", res.Title)
	assert.Equal(t, "Dune author", res.Query)
	assert.False(t, res.NotFound)
}

func TestWikipediaNotFound(t *testing.T) {
	srv := server(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("list") == "search" {
			io.WriteString(w, `{"query":{"search":[]}}`)
			return
		}
		io.WriteString(w, `{"query":{"pages":[{"title":"Xyzzy","missing":true}]}}`)
	})
	wp := NewWikipedia(WithBaseURL(srv.URL), WithLogger(logging.Discard()))

	res, err := wp.Lookup(context.Background(), "Xyzzy")
	require.NoError(t, err)
	assert.True(t, res.NotFound)
	assert.Empty(t, res.Summary)
}

func TestWikipediaServerErrorIsFailure(t *testing.T) {
	srv := server(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	wp := NewWikipedia(WithBaseURL(srv.URL), WithLogger(logging.Discard()))

	_, err := wp.Lookup(context.Background(), "Dune")
	var failure *Failure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, KindEncyclopedia, failure.Kind)
	assert.True(t, errors.Is(err, shardErrors.ErrLookup))
}

func TestStripHTML(t *testing.T) {
	got := stripHTML(`The <span class="searchmatch">Dune</span>   saga &amp; more`)
	assert.Equal(t, "The Dune saga & more", got)
}

func TestWeatherLookup(t *testing.T) {
	srv := server(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/search":
			assert.Equal(t, "Boise", r.URL.Query().Get("name"))
			io.WriteString(w, `{"results":[{"name":"Boise","admin1":"Idaho","country":"United States","latitude":43.6135,"longitude":-116.20345}]}`)
		case "/v1/forecast":
			assert.Equal(t, "temperature_2m,weather_code", r.URL.Query().Get("current"))
			io.WriteString(w, `{"current_units":{"temperature_2m":"°C"},"current":{"temperature_2m":21.4,"weather_code":2}}`)
		default:
			http.NotFound(w, r)
		}
	})
	wx := NewWeather(WithBaseURL(srv.URL), WithGeocodingURL(srv.URL), WithLogger(logging.Discard()))

	res, err := wx.Lookup(context.Background(), "Boise")
	require.NoError(t, err)
	assert.Equal(t, "Weather in Boise, Idaho, United States: 21.4°C - Partly cloudy", res.Summary)
	cond := res.Data.(*Conditions)
	assert.Equal(t, "°C", cond.Unit)
	assert.InDelta(t, 43.6135, cond.Latitude, 0.0001)
}

func TestWeatherUnknownLocationIsFailure(t *testing.T) {
	srv := server(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"generationtime_ms":0.5}`)
	})
	wx := NewWeather(WithBaseURL(srv.URL), WithGeocodingURL(srv.URL), WithLogger(logging.Discard()))

	_, err := wx.Lookup(context.Background(), "Atlantis")
	assert.ErrorIs(t, err, shardErrors.ErrLookup)
	assert.ErrorIs(t, err, shardErrors.ErrNotFound)
}

const appleChart = `{"chart":{"result":[{"meta":{"symbol":"AAPL","currency":"USD","longName":"Apple Inc.","regularMarketPrice":190.1},
"timestamp":[1714570200],"indicators":{"quote":[{"open":[169.58],"high":[172.71],"low":[169.11],"close":[169.3],"volume":[50383100]}]}}],"error":null}}`

func TestFinanceTickerQuote(t *testing.T) {
	srv := server(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v8/finance/chart/AAPL", r.URL.Path)
		io.WriteString(w, appleChart)
	})
	fin := NewFinance(WithBaseURL(srv.URL), WithLogger(logging.Discard()))

	res, err := fin.Lookup(context.Background(), "aapl")
	require.NoError(t, err)
	assert.False(t, res.NotFound)
	assert.Equal(t, "Latest data for AAPL (Apple Inc.): Date: 2024-05-01, Open: 169.58, High: 172.71, Low: 169.11, Close: 169.30, Volume: 50383100", res.Summary)
	assert.Equal(t, "https://finance.yahoo.com/quote/AAPL", res.Sources[0].URL)
}

func TestFinanceCompanyNameResolvesViaSearch(t *testing.T) {
	srv := server(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/finance/search":
			assert.Equal(t, "Apple Computer", r.URL.Query().Get("q"))
			io.WriteString(w, `{"quotes":[{"symbol":"AAPL"}]}`)
		default:
			io.WriteString(w, appleChart)
		}
	})
	fin := NewFinance(WithBaseURL(srv.URL), WithLogger(logging.Discard()))

	res, err := fin.Lookup(context.Background(), "Apple Computer")
	require.NoError(t, err)
	assert.Equal(t, "AAPL", res.Title)
}

func TestFinanceUnknownSymbolIsStructuredNotFound(t *testing.T) {
	srv := server(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/finance/search":
			io.WriteString(w, `{"quotes":[]}`)
		default:
			w.WriteHeader(http.StatusNotFound)
			io.WriteString(w, `{"chart":{"result":null,"error":{"code":"Not Found","description":"No data found, symbol may be delisted"}}}`)
		}
	})
	fin := NewFinance(WithBaseURL(srv.URL), WithLogger(logging.Discard()))

	res, err := fin.Lookup(context.Background(), "ZZZZQQ")
	require.NoError(t, err)
	assert.True(t, res.NotFound)
	assert.Empty(t, res.Summary)
	assert.NotEmpty(t, res.Hint)

	res, err = fin.Lookup(context.Background(), "ZZZQ")
	require.NoError(t, err)
	assert.True(t, res.NotFound)
}

func TestTickerSymbol(t *testing.T) {
	tests := []struct {
		in     string
		want   string
		ticker bool
	}{
		{"msft", "MSFT", true},
		{"GOOGL", "GOOGL", true},
		{"ZZZZQQ", "", false},
		{"BRK.B", "", false},
		{"Tesla Inc", "", false},
	}
	for _, tt := range tests {
		got, ok := tickerSymbol(tt.in)
		assert.Equal(t, tt.ticker, ok, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

const arxivFeed = `<?xml version="1.0" encoding="UTF-8"?>
<feed xmlns="http://www.w3.org/2005/Atom">
  <entry>
    <id>http://arxiv.org/abs/1706.03762v7</id>
    <published>2017-06-12T17:57:34Z</published>
    <title>Attention Is All
      You Need</title>
    <summary>  The dominant sequence transduction models...  </summary>
    <author><name>Ashish Vaswani</name></author>
    <author><name>Noam Shazeer</name></author>
    <link href="http://arxiv.org/abs/1706.03762v7" rel="alternate" type="text/html"/>
    <link title="pdf" href="http://arxiv.org/pdf/1706.03762v7" rel="related" type="application/pdf"/>
  </entry>
  <entry>
    <id>http://arxiv.org/abs/1810.04805v2</id>
    <published>2018-10-11T00:50:01Z</published>
    <title>BERT</title>
    <summary>We introduce BERT.</summary>
    <author><name>Jacob Devlin</name></author>
  </entry>
  <entry>
    <id>http://arxiv.org/abs/2005.14165v4</id>
    <published>2020-05-28T17:29:03Z</published>
    <title>Language Models are Few-Shot Learners</title>
    <summary>GPT-3.</summary>
  </entry>
</feed>`

func TestArxivCapsAndParses(t *testing.T) {
	srv := server(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "all:transformers", r.URL.Query().Get("search_query"))
		assert.Equal(t, "2", r.URL.Query().Get("max_results"))
		io.WriteString(w, arxivFeed)
	})
	ax := NewArxiv(WithBaseURL(srv.URL), WithRateLimit(0, 0), WithLogger(logging.Discard()))

	res, err := ax.Lookup(context.Background(), "transformers")
	require.NoError(t, err)
	papers := res.Data.([]Paper)
	require.Len(t, papers, 2)
	assert.Equal(t, "Attention Is All You Need", papers[0].Title)
	assert.Equal(t, []string{"Ashish Vaswani", "Noam Shazeer"}, papers[0].Authors)
	assert.Equal(t, "http://arxiv.org/pdf/1706.03762v7", papers[0].PDFURL)
	assert.Equal(t, "http://arxiv.org/pdf/1810.04805v2", papers[1].PDFURL)
	assert.Equal(t, 2017, papers[0].Published.Year())
	assert.Len(t, res.Sources, 2)
	assert.Contains(t, res.Summary, "1. Attention Is All You Need")
}

func TestArxivMaxResultsClamped(t *testing.T) {
	ax := NewArxiv(WithMaxResults(50), WithLogger(logging.Discard()))
	assert.Equal(t, MaxPapers, ax.opts.maxResults)
}

func TestArxivEmptyFeedIsNotFound(t *testing.T) {
	srv := server(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `<feed xmlns="http://www.w3.org/2005/Atom"></feed>`)
	})
	ax := NewArxiv(WithBaseURL(srv.URL), WithRateLimit(0, 0), WithLogger(logging.Discard()))

	res, err := ax.Lookup(context.Background(), "nothing at all")
	require.NoError(t, err)
	assert.True(t, res.NotFound)
}

type countingAdapter struct {
	calls atomic.Int32
	err   error
}

func (c *countingAdapter) Kind() Kind { return KindWeather }

func (c *countingAdapter) Lookup(ctx context.Context, q string) (*Result, error) {
	c.calls.Add(1)
	if c.err != nil {
		return nil, c.err
	}
	return &Result{Kind: KindWeather, Query: q, Summary: "sunny"}, nil
}

func TestCachedMemoizesSuccesses(t *testing.T) {
	inner := &countingAdapter{}
	c := NewCached(inner, 8, time.Minute)

	_, err := c.Lookup(context.Background(), "Boise")
	require.NoError(t, err)
	res, err := c.Lookup(context.Background(), "  boise ")
	require.NoError(t, err)
	assert.Equal(t, int32(1), inner.calls.Load())
	assert.Equal(t, "  boise ", res.Query)
	assert.Equal(t, 1, c.Len())
}

func TestCachedSkipsFailures(t *testing.T) {
	inner := &countingAdapter{err: errors.New("down")}
	c := NewCached(inner, 8, time.Minute)

	_, _ = c.Lookup(context.Background(), "Boise")
	_, _ = c.Lookup(context.Background(), "Boise")
	assert.Equal(t, int32(2), inner.calls.Load())
	assert.Equal(t, 0, c.Len())
}

func TestRegistry(t *testing.T) {
	r := NewRegistry(NewArxiv(), NewWeather())
	assert.Equal(t, []Kind{KindWeather, KindPreprint}, r.Kinds())
	assert.Error(t, r.Register(NewWeather()))
	assert.Error(t, r.Register(nil))

	a, ok := r.Get(KindPreprint)
	require.True(t, ok)
	assert.Equal(t, KindPreprint, a.Kind())
	_, ok = r.Get(KindFinancial)
	assert.False(t, ok)
}
