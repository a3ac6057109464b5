package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/jpillora/backoff"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	storage "google.golang.org/api/storage/v1"
)

// ObjectFetcher downloads workflow assets from http(s) URLs, gs://
// buckets or local paths.
type ObjectFetcher struct {
	client  *http.Client
	retries int
	backoff backoff.Backoff
	logger  Logger

	gcsKey  string
	gcsOnce sync.Once
	gcs     *storage.Service
	gcsErr  error
}

// ObjectFetcherOption configures an ObjectFetcher.
type ObjectFetcherOption func(*ObjectFetcher)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) ObjectFetcherOption {
	return func(f *ObjectFetcher) { f.client = c }
}

// WithRetries sets how many times a transient failure is retried.
func WithRetries(n int) ObjectFetcherOption {
	return func(f *ObjectFetcher) { f.retries = n }
}

// WithRetryDelay sets the bounds of the retry delay.
func WithRetryDelay(min, max time.Duration) ObjectFetcherOption {
	return func(f *ObjectFetcher) {
		f.backoff.Min = min
		f.backoff.Max = max
	}
}

// WithGCSKey sets the service account key file used for gs:// reads.
// Without one, application default credentials are used.
func WithGCSKey(path string) ObjectFetcherOption {
	return func(f *ObjectFetcher) { f.gcsKey = path }
}

// WithFetchLogger sets the logger for retry messages.
func WithFetchLogger(l Logger) ObjectFetcherOption {
	return func(f *ObjectFetcher) { f.logger = l }
}

// NewObjectFetcher creates a new ObjectFetcher.
func NewObjectFetcher(opts ...ObjectFetcherOption) *ObjectFetcher {
	f := &ObjectFetcher{
		client:  &http.Client{Timeout: 30 * time.Second},
		retries: 3,
		backoff: backoff.Backoff{
			Min:    200 * time.Millisecond,
			Max:    5 * time.Second,
			Factor: 2,
			Jitter: true,
		},
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// StatusError reports a non-200 answer from an HTTP source.
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status code %d from %s", e.Code, e.URL)
}

// retryableError marks a failure worth another attempt.
type retryableError struct{ err error }

func (e *retryableError) Error() string { return e.err.Error() }
func (e *retryableError) Unwrap() error { return e.err }

// Fetch returns the content at link.
func (f *ObjectFetcher) Fetch(ctx context.Context, link string) ([]byte, error) {
	u, err := url.Parse(link)
	if err != nil {
		return nil, fmt.Errorf("parse url %q: %w", link, err)
	}

	switch u.Scheme {
	case "http", "https":
		return f.withRetry(ctx, link, func() ([]byte, error) { return f.fetchHTTP(ctx, link) })
	case "gs":
		return f.withRetry(ctx, link, func() ([]byte, error) { return f.fetchGCS(ctx, u) })
	case "", "file":
		path := u.Path
		if u.Scheme == "" {
			path = link
		}
		return os.ReadFile(path)
	default:
		return nil, fmt.Errorf("unsupported url scheme %q", u.Scheme)
	}
}

func (f *ObjectFetcher) withRetry(ctx context.Context, link string, do func() ([]byte, error)) ([]byte, error) {
	b := f.backoff
	for attempt := 0; ; attempt++ {
		body, err := do()
		if err == nil {
			return body, nil
		}
		var retryable *retryableError
		if !errors.As(err, &retryable) || attempt >= f.retries {
			return nil, err
		}

		delay := b.ForAttempt(float64(attempt))
		if f.logger != nil {
			f.logger.Debug("retrying fetch", "url", link, "attempt", attempt+1, "delay", delay, "error", err)
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

func (f *ObjectFetcher) fetchHTTP(ctx context.Context, link string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		return nil, &retryableError{fmt.Errorf("failed to make request: %w", err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &retryableError{fmt.Errorf("failed to read response body: %w", err)}
	}

	switch {
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return nil, &retryableError{&StatusError{URL: link, Code: resp.StatusCode}}
	case resp.StatusCode != http.StatusOK:
		return nil, &StatusError{URL: link, Code: resp.StatusCode}
	}
	return body, nil
}

func (f *ObjectFetcher) storageService(ctx context.Context) (*storage.Service, error) {
	f.gcsOnce.Do(func() {
		opts := []option.ClientOption{option.WithScopes(storage.DevstorageReadOnlyScope)}
		if f.gcsKey != "" {
			opts = append(opts, option.WithCredentialsFile(f.gcsKey))
		}
		// the service outlives this request
		f.gcs, f.gcsErr = storage.NewService(context.WithoutCancel(ctx), opts...)
	})
	return f.gcs, f.gcsErr
}

func (f *ObjectFetcher) fetchGCS(ctx context.Context, u *url.URL) ([]byte, error) {
	svc, err := f.storageService(ctx)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}

	object := strings.TrimPrefix(u.Path, "/")
	resp, err := svc.Objects.Get(u.Host, object).Context(ctx).Download()
	if err != nil {
		err = fmt.Errorf("download gs://%s/%s: %w", u.Host, object, err)
		var apiErr *googleapi.Error
		if ctx.Err() != nil || (errors.As(err, &apiErr) && apiErr.Code < 500 && apiErr.Code != http.StatusTooManyRequests) {
			return nil, err
		}
		return nil, &retryableError{err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &retryableError{fmt.Errorf("read gs://%s/%s: %w", u.Host, object, err)}
	}
	return body, nil
}
