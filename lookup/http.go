package lookup

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	shardErrors "github.com/sweetpotato0/shard/errors"
	"github.com/sweetpotato0/shard/pkg/logging"
	"golang.org/x/time/rate"
)

const (
	defaultUserAgent = "Shard/1.0 (+https://github.com/sweetpotato0/shard)"
	defaultTimeout   = 15 * time.Second
	maxBodySize      = 8 << 20
)

type options struct {
	httpClient  *http.Client
	baseURL     string
	geocodeURL  string
	limiter     *rate.Limiter
	userAgent   string
	maxResults  int
	logger      *slog.Logger
	contentRune int
}

// Option configures an adapter.
type Option func(*options)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) {
		if c != nil {
			o.httpClient = c
		}
	}
}

// WithBaseURL points the adapter at a different API root.
func WithBaseURL(u string) Option {
	return func(o *options) {
		if u != "" {
			o.baseURL = u
		}
	}
}

// WithGeocodingURL points the weather adapter at a different geocoding root.
func WithGeocodingURL(u string) Option {
	return func(o *options) {
		if u != "" {
			o.geocodeURL = u
		}
	}
}

// WithRateLimit spaces requests at least every apart. Zero disables limiting.
func WithRateLimit(every time.Duration, burst int) Option {
	return func(o *options) {
		if every <= 0 {
			o.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		o.limiter = rate.NewLimiter(rate.Every(every), burst)
	}
}

// WithMaxResults bounds list-shaped results.
func WithMaxResults(n int) Option {
	return func(o *options) {
		o.maxResults = n
	}
}

// WithContentLimit caps the rune length of full-text content.
func WithContentLimit(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.contentRune = n
		}
	}
}

// WithUserAgent overrides the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(o *options) {
		if ua != "" {
			o.userAgent = ua
		}
	}
}

// WithLogger overrides the adapter logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

func newOptions(component, baseURL string, opts []Option) *options {
	o := &options{
		httpClient:  &http.Client{Timeout: defaultTimeout},
		baseURL:     baseURL,
		userAgent:   defaultUserAgent,
		contentRune: 100000,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = logging.WithComponent(component)
	}
	return o
}

// get fetches rawURL and returns the body. A 404 maps to ErrNotFound.
func (o *options) get(ctx context.Context, rawURL string) ([]byte, error) {
	if o.limiter != nil {
		if err := o.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", o.userAgent)
	req.Header.Set("Accept", "application/json, application/atom+xml;q=0.9, */*;q=0.8")

	start := time.Now()
	resp, err := o.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	o.logger.Debug("lookup request", "url", req.URL.Host+req.URL.Path, "status", resp.StatusCode, "elapsed", time.Since(start))

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return body, shardErrors.ErrNotFound
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return body, nil
}
