package lookup

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/url"
	"strings"
	"time"

	shardErrors "github.com/sweetpotato0/shard/errors"
)

const (
	DefaultArxivURL   = "http://export.arxiv.org"
	arxivPDFBase      = "http://arxiv.org/pdf/"
	DefaultMaxPapers  = 2
	MaxPapers         = 5
	arxivRequestEvery = 3 * time.Second
)

// Paper is one entry of a preprint result.
type Paper struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Authors   []string  `json:"authors"`
	Published time.Time `json:"published"`
	Abstract  string    `json:"abstract"`
	PDFURL    string    `json:"pdf_url"`
	AbsURL    string    `json:"abs_url"`
}

type atomFeed struct {
	Entries []atomEntry `xml:"entry"`
}

type atomEntry struct {
	ID        string       `xml:"id"`
	Title     string       `xml:"title"`
	Summary   string       `xml:"summary"`
	Published string       `xml:"published"`
	Authors   []atomAuthor `xml:"author"`
	Links     []atomLink   `xml:"link"`
}

type atomAuthor struct {
	Name string `xml:"name"`
}

type atomLink struct {
	Href  string `xml:"href,attr"`
	Rel   string `xml:"rel,attr"`
	Type  string `xml:"type,attr"`
	Title string `xml:"title,attr"`
}

// Arxiv resolves a topical query to a short list of papers. The result set is
// capped at MaxPapers regardless of configuration.
type Arxiv struct {
	opts *options
}

// NewArxiv creates the preprint adapter. Requests are spaced three seconds
// apart per the arXiv API terms unless overridden with WithRateLimit.
func NewArxiv(opts ...Option) *Arxiv {
	o := newOptions("lookup.arxiv", DefaultArxivURL, append([]Option{WithRateLimit(arxivRequestEvery, 1)}, opts...))
	switch {
	case o.maxResults <= 0:
		o.maxResults = DefaultMaxPapers
	case o.maxResults > MaxPapers:
		o.maxResults = MaxPapers
	}
	return &Arxiv{opts: o}
}

func (a *Arxiv) Kind() Kind { return KindPreprint }

func (a *Arxiv) Lookup(ctx context.Context, query string) (*Result, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fail(KindPreprint, query, shardErrors.ErrInvalidInput)
	}

	v := url.Values{}
	v.Set("search_query", "all:"+query)
	v.Set("start", "0")
	v.Set("max_results", fmt.Sprint(a.opts.maxResults))
	body, err := a.opts.get(ctx, strings.TrimRight(a.opts.baseURL, "/")+"/api/query?"+v.Encode())
	if err != nil {
		return nil, fail(KindPreprint, query, err)
	}

	papers, err := parseFeed(body)
	if err != nil {
		return nil, fail(KindPreprint, query, err)
	}
	if len(papers) > a.opts.maxResults {
		papers = papers[:a.opts.maxResults]
	}
	if len(papers) == 0 {
		return notFound(KindPreprint, query, "No preprints matched; try broader keywords."), nil
	}

	sources := make([]Source, 0, len(papers))
	var lines []string
	for i, p := range papers {
		sources = append(sources, Source{Name: "arXiv: " + p.Title, URL: p.AbsURL})
		lines = append(lines, fmt.Sprintf("%d. %s (%s, %s) %s", i+1, p.Title,
			strings.Join(p.Authors, ", "), p.Published.Format("2006-01-02"), p.PDFURL))
	}
	var content strings.Builder
	for _, p := range papers {
		fmt.Fprintf(&content, "Title: %s\nAuthors: %s\nPublished: %s\nAbstract: %s\nPDF: %s\n\n",
			p.Title, strings.Join(p.Authors, ", "), p.Published.Format("2006-01-02"), p.Abstract, p.PDFURL)
	}

	return &Result{
		Kind:    KindPreprint,
		Query:   query,
		Title:   papers[0].Title,
		Summary: strings.Join(lines, "\n"),
		Content: strings.TrimSpace(content.String()),
		Sources: sources,
		Data:    papers,
	}, nil
}

func parseFeed(body []byte) ([]Paper, error) {
	var feed atomFeed
	if err := xml.Unmarshal(body, &feed); err != nil {
		return nil, fmt.Errorf("decode atom feed: %w", err)
	}
	papers := make([]Paper, 0, len(feed.Entries))
	for _, e := range feed.Entries {
		if strings.Contains(e.ID, "/api/errors") {
			return nil, fmt.Errorf("arxiv rejected query: %s", collapse(e.Summary))
		}
		p := Paper{
			ID:       e.ID,
			Title:    collapse(e.Title),
			Abstract: collapse(e.Summary),
			AbsURL:   e.ID,
		}
		for _, au := range e.Authors {
			if name := collapse(au.Name); name != "" {
				p.Authors = append(p.Authors, name)
			}
		}
		if t, err := time.Parse(time.RFC3339, strings.TrimSpace(e.Published)); err == nil {
			p.Published = t
		}
		p.PDFURL = pdfLink(e)
		papers = append(papers, p)
	}
	return papers, nil
}

func pdfLink(e atomEntry) string {
	for _, l := range e.Links {
		if l.Title == "pdf" || l.Type == "application/pdf" {
			return l.Href
		}
	}
	id := strings.TrimRight(e.ID, "/")
	if i := strings.LastIndex(id, "/abs/"); i >= 0 {
		return arxivPDFBase + id[i+len("/abs/"):]
	}
	return arxivPDFBase + id[strings.LastIndex(id, "/")+1:]
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
