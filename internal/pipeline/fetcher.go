package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/ppiankov/tariffscope/internal/model"
	"github.com/ppiankov/tariffscope/internal/util"
	"github.com/ppiankov/tariffscope/internal/worker"
)

// ErrDisallowed is returned for URLs excluded by the host's robots.txt
var ErrDisallowed = errors.New("disallowed by robots.txt")

// Page is a fetched source document
type Page struct {
	URL          string
	FinalURL     string
	Body         string
	ContentHash  string // sha256 of Body, hex
	StatusCode   int
	ContentType  string
	LastModified string
	ETag         string
}

// Fetcher retrieves source documents
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (*Page, error)
}

// StatusError is a non-2xx response
type StatusError struct {
	Code   int
	Status string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status: %d %s", e.Code, e.Status)
}

// fetchSleepFunc waits between retries; tests replace it
var fetchSleepFunc = func(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// HTTPFetcher fetches schedule pages politely: robots.txt is honoured, every
// attempt waits on the per-host limiter, and transient failures are retried
// with exponential backoff
type HTTPFetcher struct {
	httpClient *http.Client
	userAgent  string
	maxBytes   int64
	maxRetries int
	backoff    time.Duration
	robots     *util.RobotsChecker
	limiter    *worker.Limiter
}

// NewHTTPFetcher creates a fetcher from the HTTP configuration. limiter may
// be nil.
func NewHTTPFetcher(cfg model.HTTPConfig, limiter *worker.Limiter) (*HTTPFetcher, error) {
	proxy, err := util.NewProxyFunc(cfg.HTTPProxy, cfg.HTTPSProxy)
	if err != nil {
		return nil, err
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.Proxy = proxy

	client := &http.Client{
		Timeout:   cfg.Timeout,
		Transport: transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 3 {
				return fmt.Errorf("stopped after 3 redirects")
			}
			return nil
		},
	}

	f := &HTTPFetcher{
		httpClient: client,
		userAgent:  cfg.UserAgent,
		maxBytes:   cfg.MaxBodyBytes,
		maxRetries: cfg.MaxRetries,
		backoff:    cfg.RetryBackoff,
		limiter:    limiter,
	}
	if cfg.RespectRobots {
		f.robots = util.NewRobotsChecker(cfg.UserAgent, client)
	}
	return f, nil
}

// Fetch checks robots.txt and fetches rawURL with retries
func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string) (*Page, error) {
	if f.robots != nil {
		allowed, delay, err := f.robots.CanFetch(ctx, rawURL)
		if err != nil {
			return nil, err
		}
		if !allowed {
			return nil, fmt.Errorf("%s: %w", rawURL, ErrDisallowed)
		}
		if delay > 0 && f.limiter != nil {
			if u, err := url.Parse(rawURL); err == nil {
				f.limiter.SetCrawlDelay(u.Host, delay)
			}
		}
	}
	return f.FetchWithRetry(ctx, rawURL)
}

// FetchWithRetry fetches rawURL, retrying 429, 5xx and transport errors up to
// maxRetries times
func (f *HTTPFetcher) FetchWithRetry(ctx context.Context, rawURL string) (*Page, error) {
	backoff := f.backoff
	for attempt := 0; ; attempt++ {
		if f.limiter != nil {
			if err := f.limiter.WaitPolitely(ctx, rawURL); err != nil {
				return nil, err
			}
		}

		page, err := f.fetchOnce(ctx, rawURL)
		if err == nil {
			return page, nil
		}
		if ctx.Err() != nil || attempt >= f.maxRetries || !isRetryableFetchError(err) {
			return nil, err
		}

		slog.Debug("retrying fetch", "url", rawURL, "attempt", attempt+1, "backoff", backoff, "error", err)
		if err := fetchSleepFunc(ctx, backoff); err != nil {
			return nil, err
		}
		backoff *= 2
	}
}

func (f *HTTPFetcher) fetchOnce(ctx context.Context, rawURL string) (*Page, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/vnd.openxmlformats-officedocument.spreadsheetml.sheet;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en;q=0.9")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{Code: resp.StatusCode, Status: resp.Status}
	}

	var reader io.Reader = resp.Body
	if f.maxBytes > 0 {
		reader = io.LimitReader(resp.Body, f.maxBytes+1)
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read body: %v", err)
	}
	if f.maxBytes > 0 && int64(len(body)) > f.maxBytes {
		return nil, fmt.Errorf("read body: response exceeds %d bytes", f.maxBytes)
	}

	sum := sha256.Sum256(body)
	return &Page{
		URL:          rawURL,
		FinalURL:     resp.Request.URL.String(),
		Body:         string(body),
		ContentHash:  hex.EncodeToString(sum[:]),
		StatusCode:   resp.StatusCode,
		ContentType:  resp.Header.Get("Content-Type"),
		LastModified: resp.Header.Get("Last-Modified"),
		ETag:         resp.Header.Get("ETag"),
	}, nil
}

// isRetryableFetchError reports whether a later attempt might succeed
func isRetryableFetchError(err error) bool {
	if err == nil {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code == http.StatusTooManyRequests || se.Code >= 500
	}
	var ue *url.Error
	if errors.As(err, &ue) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne)
}
