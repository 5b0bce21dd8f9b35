// Package download is the network boundary: it fetches manifest documents
// and artifact bytes over HTTPS. Nothing it returns is trusted until the
// caller verifies it against the manifest's declared hashes; the
// transport's TLS guarantees are not a substitute for content
// verification.
package download

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/skade/criticalup/internal/manifest"
)

const (
	// DefaultRetries is how many times a transient failure is retried.
	DefaultRetries = 3
	// DefaultAttemptTimeout bounds each individual network attempt.
	DefaultAttemptTimeout = 5 * time.Minute
	// DefaultUserAgent is sent with every request.
	DefaultUserAgent = "criticalup/1.0"
)

var (
	// ErrNotFound means the server has no such product or release.
	ErrNotFound = errors.New("not found on download server")
	// ErrRateLimited means the server asked us to back off.
	ErrRateLimited = errors.New("rate limited by download server")
	// ErrServerFailure means the server kept failing after all retries.
	ErrServerFailure = errors.New("download server error")
	// ErrUnexpectedStatus covers everything else.
	ErrUnexpectedStatus = errors.New("unexpected response status")
)

// RequestError carries the URL and status of a failed request.
type RequestError struct {
	URL    string
	Status int
	kind   error
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("%v: %s (status %d)", e.kind, e.URL, e.Status)
}

func (e *RequestError) Unwrap() error {
	return e.kind
}

// Client fetches manifests and artifacts with bounded retries and
// exponential backoff for transient failures.
type Client struct {
	http      *retryablehttp.Client
	baseURL   string
	userAgent string
}

// Option mutates client defaults.
type Option func(*Client)

// WithRetries sets the retry ceiling.
func WithRetries(n int) Option {
	return func(c *Client) { c.http.RetryMax = n }
}

// WithBackoff sets the minimum and maximum retry wait.
func WithBackoff(min, max time.Duration) Option {
	return func(c *Client) {
		c.http.RetryWaitMin = min
		c.http.RetryWaitMax = max
	}
}

// WithAttemptTimeout bounds each network attempt.
func WithAttemptTimeout(d time.Duration) Option {
	return func(c *Client) { c.http.HTTPClient.Timeout = d }
}

// NewClient creates a download client for the given server base URL.
func NewClient(baseURL string, opts ...Option) *Client {
	inner := retryablehttp.NewClient()
	inner.RetryMax = DefaultRetries
	inner.RetryWaitMin = 1 * time.Second
	inner.RetryWaitMax = 30 * time.Second
	inner.HTTPClient.Timeout = DefaultAttemptTimeout
	inner.Logger = nil
	// Hand the final response back after the retry ceiling instead of the
	// library's generic "giving up" error, so a server that kept returning
	// 429 or 5xx still maps to its typed error kind.
	inner.ErrorHandler = func(resp *http.Response, err error, _ int) (*http.Response, error) {
		if resp != nil {
			return resp, nil
		}
		return nil, err
	}

	client := &Client{
		http:      inner,
		baseURL:   baseURL,
		userAgent: DefaultUserAgent,
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

// FetchManifest retrieves and decodes the manifest document for a release.
// It performs no trust evaluation.
func (c *Client) FetchManifest(ctx context.Context, product, version string) (*manifest.Document, error) {
	endpoint := fmt.Sprintf("%s/v1/releases/%s/%s",
		c.baseURL, url.PathEscape(product), url.PathEscape(version))

	resp, err := c.get(ctx, endpoint)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var doc manifest.Document
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode manifest from %s: %w", endpoint, err)
	}
	return &doc, nil
}

// DownloadFile streams a URL into destPath, writing a temporary file first
// and renaming it into place so a partial download is never left at the
// destination.
func (c *Client) DownloadFile(ctx context.Context, fileURL, destPath string) error {
	resp, err := c.get(ctx, fileURL)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
		return fmt.Errorf("create download directory: %w", err)
	}

	tmpPath := destPath + ".tmp"
	tmpFile, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}

	cleanupNeeded := true
	defer func() {
		tmpFile.Close()
		if cleanupNeeded {
			os.Remove(tmpPath)
		}
	}()

	if _, err := io.Copy(tmpFile, resp.Body); err != nil {
		return fmt.Errorf("download %s: %w", fileURL, err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, destPath); err != nil {
		return fmt.Errorf("rename downloaded file: %w", err)
	}

	cleanupNeeded = false
	return nil
}

func (c *Client) get(ctx context.Context, endpoint string) (*http.Response, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request %s: %w", endpoint, err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return resp, nil
	case resp.StatusCode == http.StatusNotFound:
		return nil, c.statusError(resp, ErrNotFound)
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, c.statusError(resp, ErrRateLimited)
	case resp.StatusCode >= 500:
		return nil, c.statusError(resp, ErrServerFailure)
	default:
		return nil, c.statusError(resp, ErrUnexpectedStatus)
	}
}

func (c *Client) statusError(resp *http.Response, kind error) error {
	resp.Body.Close()
	return &RequestError{
		URL:    resp.Request.URL.String(),
		Status: resp.StatusCode,
		kind:   kind,
	}
}
