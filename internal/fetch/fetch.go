// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 PlugBridge Contributors

// Package fetch resolves plugin locators to raw bytes.
//
// A locator is either an http(s) URL, a file:// URL, or a filesystem path.
// Relative paths are resolved against the configured root directory.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
)

// Default limits applied when Options leaves them unset.
const (
	DefaultTimeout  = 10 * time.Second
	DefaultMaxBytes = 64 << 20
	DefaultBackoff  = 200 * time.Millisecond
)

// Source fetches the bytes a locator points at.
type Source interface {
	Fetch(ctx context.Context, locator string) ([]byte, error)
}

// Options configures the default sources.
type Options struct {
	// Root resolves relative file locators. Empty means the working directory.
	Root string
	// Timeout bounds a single HTTP attempt.
	Timeout time.Duration
	// Retries is the number of extra attempts for transient HTTP failures.
	Retries uint64
	// MaxBytes caps the size of a fetched body.
	MaxBytes int64
}

func (o Options) withDefaults() Options {
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.MaxBytes <= 0 {
		o.MaxBytes = DefaultMaxBytes
	}
	return o
}

// Router dispatches a locator to the HTTP or file source by scheme.
type Router struct {
	http Source
	file Source
}

// Compile-time interface checks.
var (
	_ Source = (*Router)(nil)
	_ Source = (*HTTPSource)(nil)
	_ Source = (*FileSource)(nil)
)

// NewRouter creates a Router from explicit sources.
// Panics if either source is nil.
func NewRouter(httpSource, fileSource Source) *Router {
	if httpSource == nil || fileSource == nil {
		panic("fetch: sources cannot be nil")
	}
	return &Router{http: httpSource, file: fileSource}
}

// New creates a Router backed by an HTTPSource and a FileSource.
func New(opts Options) *Router {
	opts = opts.withDefaults()
	return NewRouter(
		NewHTTPSource(&http.Client{Timeout: opts.Timeout}, opts.Retries, opts.MaxBytes),
		&FileSource{Root: opts.Root, MaxBytes: opts.MaxBytes},
	)
}

// Fetch implements Source.
func (r *Router) Fetch(ctx context.Context, locator string) ([]byte, error) {
	if locator == "" {
		return nil, oops.In("fetch").Errorf("empty locator")
	}
	if isHTTP(locator) {
		return r.http.Fetch(ctx, locator)
	}
	return r.file.Fetch(ctx, locator)
}

func isHTTP(locator string) bool {
	lower := strings.ToLower(locator)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}

// HTTPSource fetches locators over HTTP.
type HTTPSource struct {
	client   *http.Client
	retries  uint64
	backoff  time.Duration
	maxBytes int64
}

// NewHTTPSource creates an HTTP source. A nil client uses a client with
// DefaultTimeout.
func NewHTTPSource(client *http.Client, retries uint64, maxBytes int64) *HTTPSource {
	if client == nil {
		client = &http.Client{Timeout: DefaultTimeout}
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return &HTTPSource{
		client:   client,
		retries:  retries,
		backoff:  DefaultBackoff,
		maxBytes: maxBytes,
	}
}

// Fetch implements Source. Network errors, 5xx and 429 responses are retried
// up to the configured number of times; other non-2xx responses fail at once.
func (s *HTTPSource) Fetch(ctx context.Context, locator string) ([]byte, error) {
	var body []byte
	backoff := retry.WithMaxRetries(s.retries, retry.NewExponential(s.backoff))

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		b, err := s.fetchOnce(ctx, locator)
		if err != nil {
			if isTransient(err) {
				return retry.RetryableError(err)
			}
			return err
		}
		body = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	return body, nil
}

func (s *HTTPSource) fetchOnce(ctx context.Context, locator string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, locator, nil)
	if err != nil {
		return nil, oops.In("fetch").With("locator", locator).Wrapf(err, "build request")
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, oops.In("fetch").With("locator", locator).With("transient", true).Wrapf(err, "fetch %s", locator)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		transient := resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests
		return nil, oops.In("fetch").
			With("locator", locator).
			With("status", resp.StatusCode).
			With("transient", transient).
			Errorf("fetch %s: unexpected status %s", locator, resp.Status)
	}

	return readLimited(resp.Body, s.maxBytes, locator)
}

func isTransient(err error) bool {
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return false
	}
	transient, _ := oopsErr.Context()["transient"].(bool)
	return transient
}

// StatusCode returns the HTTP status recorded on a fetch error, or 0.
func StatusCode(err error) int {
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return 0
	}
	status, _ := oopsErr.Context()["status"].(int)
	return status
}

// Page fetches a web page for scraping. Failures read
// "Failed to fetch URL: <status>".
func Page(ctx context.Context, src Source, pageURL string) (string, error) {
	body, err := src.Fetch(ctx, pageURL)
	if err != nil {
		status := StatusCode(err)
		reason := err.Error()
		if status != 0 {
			reason = strconv.Itoa(status)
		}
		return "", oops.In("fetch").
			With("url", pageURL).
			With("status", status).
			Errorf("Failed to fetch URL: %s", reason)
	}
	return string(body), nil
}

// FileSource reads locators from the local filesystem.
type FileSource struct {
	Root     string
	MaxBytes int64
}

// Fetch implements Source.
func (s *FileSource) Fetch(ctx context.Context, locator string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, oops.In("fetch").With("locator", locator).Wrap(err)
	}

	path, err := s.resolve(locator)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path) //nolint:gosec // locator comes from operator configuration
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, oops.In("fetch").With("locator", locator).With("path", path).Errorf("fetch %s: file not found", locator)
		}
		return nil, oops.In("fetch").With("locator", locator).With("path", path).Wrapf(err, "fetch %s", locator)
	}
	defer func() { _ = f.Close() }()

	maxBytes := s.MaxBytes
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return readLimited(f, maxBytes, locator)
}

func (s *FileSource) resolve(locator string) (string, error) {
	path := locator
	if strings.HasPrefix(locator, "file://") {
		u, err := url.Parse(locator)
		if err != nil {
			return "", oops.In("fetch").With("locator", locator).Wrapf(err, "parse file URL")
		}
		path = u.Path
	}
	if !filepath.IsAbs(path) && s.Root != "" {
		path = filepath.Join(s.Root, path)
	}
	return filepath.Clean(path), nil
}

func readLimited(r io.Reader, maxBytes int64, locator string) ([]byte, error) {
	b, err := io.ReadAll(io.LimitReader(r, maxBytes+1))
	if err != nil {
		return nil, oops.In("fetch").With("locator", locator).Wrapf(err, "read %s", locator)
	}
	if int64(len(b)) > maxBytes {
		return nil, oops.In("fetch").
			With("locator", locator).
			With("max_bytes", maxBytes).
			Errorf("fetch %s: body exceeds %s", locator, formatBytes(maxBytes))
	}
	return b, nil
}

func formatBytes(n int64) string {
	if n >= 1<<20 && n%(1<<20) == 0 {
		return fmt.Sprintf("%dMiB", n>>20)
	}
	return fmt.Sprintf("%d bytes", n)
}
