// Package fetch retrieves remote media bytes.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/avast/retry-go/v4"
	"golang.org/x/time/rate"

	"github.com/veranemoloko/media-harvester/internal/metrics"
)

// Fetcher downloads the body of url.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// FetchFunc adapts a function to Fetcher.
type FetchFunc func(ctx context.Context, url string) ([]byte, error)

// Fetch calls f.
func (f FetchFunc) Fetch(ctx context.Context, url string) ([]byte, error) {
	return f(ctx, url)
}

// ErrTooLarge is wrapped by FetchError when a body exceeds the size limit.
var ErrTooLarge = errors.New("response body exceeds size limit")

// FetchError describes a failed fetch. StatusCode is zero when no response
// was received.
type FetchError struct {
	URL        string
	StatusCode int
	Err        error

	temporary bool
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: status %d: %v", e.URL, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Temporary reports whether retrying the request may succeed.
func (e *FetchError) Temporary() bool {
	return e.temporary
}

// Options configure an HTTPFetcher.
type Options struct {
	Timeout           time.Duration
	MaxBytes          int64
	RequestsPerSecond float64
	Burst             int
	// Attempts bounds requests made within one fetch for transient errors.
	Attempts   uint
	RetryDelay time.Duration
	UserAgent  string
}

// HTTPFetcher fetches over HTTP with pacing and in-attempt retries.
type HTTPFetcher struct {
	client  *http.Client
	limiter *rate.Limiter
	opts    Options
	logger  *slog.Logger
}

// NewHTTPFetcher creates an HTTPFetcher. A non-positive RequestsPerSecond
// disables pacing.
func NewHTTPFetcher(opts Options, logger *slog.Logger) *HTTPFetcher {
	if opts.Attempts == 0 {
		opts.Attempts = 1
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 500 * time.Millisecond
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "media-harvester/1.0"
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if opts.RequestsPerSecond > 0 {
		burst := opts.Burst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)
	}

	return &HTTPFetcher{
		client:  &http.Client{Timeout: opts.Timeout},
		limiter: limiter,
		opts:    opts,
		logger:  logger,
	}
}

// Fetch downloads url, retrying network errors, 5xx and 429 responses with
// exponential backoff. Other failures are returned immediately. Every error
// is a *FetchError.
func (f *HTTPFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	start := time.Now()
	var body []byte

	err := retry.Do(
		func() error {
			if err := f.limiter.Wait(ctx); err != nil {
				return &FetchError{URL: url, Err: err}
			}
			b, err := f.fetchOnce(ctx, url)
			if err != nil {
				return err
			}
			body = b
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(f.opts.Attempts),
		retry.Delay(f.opts.RetryDelay),
		retry.MaxDelay(30*time.Second),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			var fe *FetchError
			return errors.As(err, &fe) && fe.Temporary()
		}),
		retry.OnRetry(func(n uint, err error) {
			f.logger.Warn("fetch attempt failed, retrying", "url", url, "retry", n+1, "error", err)
		}),
	)
	if err != nil {
		var fe *FetchError
		if !errors.As(err, &fe) {
			err = &FetchError{URL: url, Err: err}
		}
		return nil, err
	}

	metrics.FetchDuration.Observe(time.Since(start).Seconds())
	metrics.FetchBytes.Add(float64(len(body)))
	f.logger.Debug("fetched", "url", url, "bytes", len(body), "duration", time.Since(start))
	return body, nil
}

func (f *HTTPFetcher) fetchOnce(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &FetchError{URL: url, Err: fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("User-Agent", f.opts.UserAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &FetchError{URL: url, Err: err, temporary: ctx.Err() == nil}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &FetchError{
			URL:        url,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("bad status: %s", resp.Status),
			temporary:  resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests,
		}
	}

	if f.opts.MaxBytes > 0 && resp.ContentLength > f.opts.MaxBytes {
		return nil, &FetchError{URL: url, StatusCode: resp.StatusCode, Err: ErrTooLarge}
	}

	reader := io.Reader(resp.Body)
	if f.opts.MaxBytes > 0 {
		reader = io.LimitReader(resp.Body, f.opts.MaxBytes+1)
	}

	body, err := io.ReadAll(reader)
	if err != nil {
		return nil, &FetchError{URL: url, StatusCode: resp.StatusCode, Err: fmt.Errorf("read body: %w", err), temporary: ctx.Err() == nil}
	}
	if f.opts.MaxBytes > 0 && int64(len(body)) > f.opts.MaxBytes {
		return nil, &FetchError{URL: url, StatusCode: resp.StatusCode, Err: ErrTooLarge}
	}
	return body, nil
}
