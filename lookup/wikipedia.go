package lookup

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	shardErrors "github.com/sweetpotato0/shard/errors"
	"github.com/tidwall/gjson"
)

const (
	DefaultWikipediaURL = "https://en.wikipedia.org/w/api.php"
	wikipediaPageURL    = "https://en.wikipedia.org/wiki/"
	summaryRunes        = 600
)

// Page is the payload of an encyclopedia result.
type Page struct {
	Title   string `json:"title"`
	Extract string `json:"extract"`
	URL     string `json:"url"`
}

// Wikipedia resolves a term to the introduction of the best matching article.
type Wikipedia struct {
	opts *options
}

// NewWikipedia creates the encyclopedia adapter.
func NewWikipedia(opts ...Option) *Wikipedia {
	return &Wikipedia{opts: newOptions("lookup.wikipedia", DefaultWikipediaURL, opts)}
}

func (w *Wikipedia) Kind() Kind { return KindEncyclopedia }

// Lookup tries the exact title first (following redirects), then the top
// full-text search hit.
func (w *Wikipedia) Lookup(ctx context.Context, query string) (*Result, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fail(KindEncyclopedia, query, shardErrors.ErrInvalidInput)
	}

	page, err := w.Page(ctx, query)
	if err != nil {
		return nil, fail(KindEncyclopedia, query, err)
	}
	if page == nil {
		title, snippet, err := w.search(ctx, query)
		if err != nil {
			return nil, fail(KindEncyclopedia, query, err)
		}
		if title == "" {
			return notFound(KindEncyclopedia, query, "No encyclopedia article matched; try a more specific term."), nil
		}
		page, err = w.Page(ctx, title)
		if err != nil {
			return nil, fail(KindEncyclopedia, query, err)
		}
		if page == nil {
			page = &Page{Title: title, Extract: snippet, URL: ArticleURL(title)}
		}
	}

	return &Result{
		Kind:    KindEncyclopedia,
		Query:   query,
		Title:   page.Title,
		Summary: clip(page.Extract, summaryRunes),
		Content: clip(page.Extract, w.opts.contentRune),
		Sources: []Source{{Name: "Wikipedia: " + page.Title, URL: page.URL}},
		Data:    page,
	}, nil
}

// Page fetches the plain-text introduction of title. A missing or empty page
// yields nil without error.
func (w *Wikipedia) Page(ctx context.Context, title string) (*Page, error) {
	q := url.Values{}
	q.Set("action", "query")
	q.Set("format", "json")
	q.Set("formatversion", "2")
	q.Set("prop", "extracts")
	q.Set("exintro", "true")
	q.Set("explaintext", "true")
	q.Set("redirects", "1")
	q.Set("titles", title)

	body, err := w.opts.get(ctx, w.opts.baseURL+"?"+q.Encode())
	if errors.Is(err, shardErrors.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("invalid response from encyclopedia")
	}
	p := gjson.GetBytes(body, "query.pages.0")
	if !p.Exists() || p.Get("missing").Bool() || p.Get("invalid").Bool() {
		return nil, nil
	}
	extract := strings.TrimSpace(p.Get("extract").String())
	if extract == "" {
		return nil, nil
	}
	resolved := p.Get("title").String()
	return &Page{Title: resolved, Extract: extract, URL: ArticleURL(resolved)}, nil
}

func (w *Wikipedia) search(ctx context.Context, term string) (title, snippet string, err error) {
	q := url.Values{}
	q.Set("action", "query")
	q.Set("format", "json")
	q.Set("formatversion", "2")
	q.Set("list", "search")
	q.Set("srlimit", "1")
	q.Set("srsearch", term)

	body, err := w.opts.get(ctx, w.opts.baseURL+"?"+q.Encode())
	if err != nil {
		return "", "", err
	}
	hit := gjson.GetBytes(body, "query.search.0")
	if !hit.Exists() {
		return "", "", nil
	}
	return hit.Get("title").String(), stripHTML(hit.Get("snippet").String()), nil
}

// ArticleURL returns the canonical article address for title.
func ArticleURL(title string) string {
	return wikipediaPageURL + url.PathEscape(strings.ReplaceAll(title, " ", "_"))
}

// stripHTML drops markup from search snippets such as <span class="searchmatch">.
func stripHTML(fragment string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return fragment
	}
	return strings.Join(strings.Fields(doc.Text()), " ")
}

func clip(s string, n int) string {
	if n <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return strings.TrimSpace(string(r[:n])) + "..."
}
