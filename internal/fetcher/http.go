// Package fetcher is the HTTP capability shared by source adapters. It owns
// connection pooling, per-host rate limiting, and the mapping of transport
// outcomes onto the transient/permanent failure taxonomy; retries themselves
// belong to the resilience layer wrapped around each adapter fetch.
package fetcher

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/barharvest/internal/resilience"
	"github.com/sells-group/barharvest/internal/source"
)

// Options configures the HTTP fetcher.
type Options struct {
	UserAgent string
	Timeout   time.Duration

	// HostRate is the per-host request rate applied on top of the per-source
	// governor; it only matters when several sources share a host.
	HostRate  rate.Limit
	HostBurst int
}

// HTTPFetcher performs page requests for adapters.
type HTTPFetcher struct {
	client *http.Client
	opts   Options

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// New creates an HTTPFetcher with the given options.
func New(opts Options) *HTTPFetcher {
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "barharvest/1.0"
	}
	if opts.HostRate == 0 {
		opts.HostRate = 2
	}
	if opts.HostBurst == 0 {
		opts.HostBurst = 2
	}
	transport := &http.Transport{
		MaxIdleConnsPerHost: 4,
		MaxConnsPerHost:     8,
		IdleConnTimeout:     90 * time.Second,
	}
	return &HTTPFetcher{
		client: &http.Client{
			Timeout:   opts.Timeout,
			Transport: transport,
		},
		opts:     opts,
		limiters: make(map[string]*rate.Limiter),
	}
}

func (f *HTTPFetcher) limiterFor(host string) *rate.Limiter {
	f.mu.Lock()
	defer f.mu.Unlock()
	lim, ok := f.limiters[host]
	if !ok {
		lim = rate.NewLimiter(f.opts.HostRate, f.opts.HostBurst)
		f.limiters[host] = lim
	}
	return lim
}

// GetDocument fetches rawURL and parses the response body as HTML.
func (f *HTTPFetcher) GetDocument(ctx context.Context, rawURL string) (*goquery.Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "fetcher: create request")
	}
	return f.doDocument(req)
}

// PostFormDocument submits a form POST to rawURL and parses the response
// body as HTML.
func (f *HTTPFetcher) PostFormDocument(ctx context.Context, rawURL string, form url.Values) (*goquery.Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, eris.Wrap(err, "fetcher: create request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return f.doDocument(req)
}

func (f *HTTPFetcher) doDocument(req *http.Request) (*goquery.Document, error) {
	req.Header.Set("User-Agent", f.opts.UserAgent)

	if err := f.limiterFor(req.URL.Host).Wait(req.Context()); err != nil {
		return nil, eris.Wrap(err, "fetcher: rate limiter wait")
	}

	resp, err := f.client.Do(req)
	if err != nil {
		if req.Context().Err() != nil {
			return nil, req.Context().Err()
		}
		// Transport failures (timeouts, resets, DNS) are retryable.
		return nil, resilience.NewTransientError(eris.Wrapf(err, "fetcher: request %s", req.URL), 0)
	}
	defer resp.Body.Close() //nolint:errcheck

	if err := ClassifyStatus(resp.StatusCode, req.URL.String()); err != nil {
		io.Copy(io.Discard, resp.Body) //nolint:errcheck
		return nil, err
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		// The request succeeded but the body is not parseable markup.
		return nil, source.NewPermanentError(eris.Wrapf(err, "fetcher: parse html from %s", req.URL), resp.StatusCode)
	}
	return doc, nil
}

// ClassifyStatus maps a response status onto the failure taxonomy: 2xx is
// success, 429 an explicit rate-limit signal, 5xx/408 transient, any other
// 4xx permanent.
func ClassifyStatus(statusCode int, url string) error {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return nil
	case statusCode == http.StatusTooManyRequests:
		return resilience.NewRateLimitError(eris.Errorf("fetcher: http 429 from %s", url))
	case resilience.IsTransientHTTPStatus(statusCode):
		return resilience.NewTransientError(eris.Errorf("fetcher: http %d from %s", statusCode, url), statusCode)
	default:
		return source.NewPermanentError(eris.Errorf("fetcher: http %d from %s", statusCode, url), statusCode)
	}
}
