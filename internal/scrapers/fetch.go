package scrapers

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/fabula/internal/common"
	"github.com/ternarybob/fabula/internal/errkind"
	"github.com/ternarybob/fabula/internal/ratelimit"
)

const maxResponseBytes = 10 << 20 // catalog pages and API payloads are small

// Fetcher performs catalog HTTP requests. Every request holds the domain
// limiter for its host for the full request duration, and transient failures
// are retried with exponential backoff before the task is failed.
type Fetcher struct {
	client    *http.Client
	limiter   *ratelimit.DomainLimiter
	config    *common.HTTPConfig
	logger    arbor.ILogger
	userAgent string
}

// NewFetcher creates a fetcher sharing one rate limiter across all workers
func NewFetcher(config *common.HTTPConfig, limiter *ratelimit.DomainLimiter, logger arbor.ILogger) *Fetcher {
	return &Fetcher{
		client: &http.Client{
			Timeout: config.RequestTimeout,
		},
		limiter:   limiter,
		config:    config,
		logger:    logger,
		userAgent: config.UserAgent,
	}
}

// Get fetches a URL with per-host serialization and retry. Non-2xx statuses
// and transport errors are retried up to the attempt budget with backoff
// growing 1.5x per attempt; client errors other than 408/429 fail immediately.
// A 404 classifies as a missing source, everything else that exhausts the
// budget classifies as HTTP exhaustion.
func (f *Fetcher) Get(ctx context.Context, rawURL string) (*Response, error) {
	var resp *Response

	err := retry.Do(
		func() error {
			r, err := f.fetchOnce(ctx, rawURL)
			if err != nil {
				return err
			}
			resp = r
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(uint(f.config.MaxAttempts)),
		retry.LastErrorOnly(true),
		retry.DelayType(f.backoff),
		retry.RetryIf(func(err error) bool {
			return errkind.KindOf(err) == errkind.KindHTTPTransient
		}),
		retry.OnRetry(func(n uint, err error) {
			f.logger.Debug().
				Str("url", rawURL).
				Int("attempt", int(n)+1).
				Err(err).
				Msg("Retrying catalog fetch")
		}),
	)
	if err != nil {
		if ctx.Err() != nil {
			return nil, errkind.NewError(errkind.KindCancelled, ctx.Err())
		}
		if errkind.KindOf(err) == errkind.KindHTTPTransient {
			return nil, errkind.Errorf(errkind.KindHTTPExhausted,
				"%d attempts failed for %s: %v", f.config.MaxAttempts, rawURL, err)
		}
		return nil, err
	}

	return resp, nil
}

// fetchOnce performs a single attempt under the domain limiter
func (f *Fetcher) fetchOnce(ctx context.Context, rawURL string) (*Response, error) {
	if err := f.limiter.Acquire(ctx, rawURL); err != nil {
		return nil, errkind.NewError(errkind.KindCancelled, err)
	}
	defer f.limiter.Release(rawURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, errkind.Errorf(errkind.KindUnsupportedURL, "invalid URL %s: %v", rawURL, err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html,application/json;q=0.9,*/*;q=0.8")

	httpResp, err := f.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, errkind.NewError(errkind.KindCancelled, ctx.Err())
		}
		return nil, errkind.Errorf(errkind.KindHTTPTransient, "request failed: %v", err)
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBytes))
	if err != nil {
		return nil, errkind.Errorf(errkind.KindHTTPTransient, "reading response body: %v", err)
	}

	switch {
	case httpResp.StatusCode >= 200 && httpResp.StatusCode < 300:
		return &Response{
			StatusCode: httpResp.StatusCode,
			Body:       body,
			FinalURL:   httpResp.Request.URL.String(),
		}, nil
	case httpResp.StatusCode == http.StatusNotFound || httpResp.StatusCode == http.StatusGone:
		return nil, errkind.Errorf(errkind.KindSourceNotFound, "catalog returned %d for %s", httpResp.StatusCode, rawURL)
	case httpResp.StatusCode == http.StatusRequestTimeout || httpResp.StatusCode == http.StatusTooManyRequests || httpResp.StatusCode >= 500:
		return nil, errkind.Errorf(errkind.KindHTTPTransient, "catalog returned %d for %s", httpResp.StatusCode, rawURL)
	default:
		return nil, errkind.Errorf(errkind.KindHTTPExhausted, "catalog returned %d for %s", httpResp.StatusCode, rawURL)
	}
}

// backoff grows 1.5x per attempt from the initial delay, capped at the
// configured maximum
func (f *Fetcher) backoff(n uint, _ error, _ *retry.Config) time.Duration {
	delay := float64(f.config.InitialBackoff)
	for i := uint(0); i < n; i++ {
		delay *= 1.5
	}
	if capped := float64(f.config.MaxBackoff); delay > capped {
		delay = capped
	}
	return time.Duration(delay)
}

// DownloadTo fetches a URL and streams the body to a writer, used for cover
// images. The content type must have the given prefix ("image/") or the
// download is rejected without writing.
func (f *Fetcher) DownloadTo(ctx context.Context, rawURL string, contentTypePrefix string, w io.Writer) error {
	if err := f.limiter.Acquire(ctx, rawURL); err != nil {
		return errkind.NewError(errkind.KindCancelled, err)
	}
	defer f.limiter.Release(rawURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return errkind.Errorf(errkind.KindUnsupportedURL, "invalid URL %s: %v", rawURL, err)
	}
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return errkind.Errorf(errkind.KindHTTPTransient, "download failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errkind.Errorf(errkind.KindHTTPTransient, "download returned %d for %s", resp.StatusCode, rawURL)
	}

	if ct := resp.Header.Get("Content-Type"); contentTypePrefix != "" && !strings.HasPrefix(strings.ToLower(ct), contentTypePrefix) {
		return errkind.Errorf(errkind.KindParseError, "unexpected content type %q for %s", ct, rawURL)
	}

	if _, err := io.Copy(w, resp.Body); err != nil {
		return fmt.Errorf("writing download: %w", err)
	}
	return nil
}
