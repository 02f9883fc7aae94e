// Package source retrieves feed content over HTTP and normalizes it into items.
package source

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/0x0BSoD/feedRelay/internal/model"
)

const acceptHeader = "application/rss+xml, application/atom+xml, application/feed+json, application/xml;q=0.9, text/xml;q=0.9, */*;q=0.8"

type HTTPFetcher struct {
	client    *http.Client
	insecure  *http.Client
	timeout   time.Duration
	userAgent string
	maxBytes  int64
}

func NewHTTPFetcher(timeout time.Duration, userAgent string, maxBytes int64) *HTTPFetcher {
	insecureTransport := http.DefaultTransport.(*http.Transport).Clone()
	insecureTransport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec

	return &HTTPFetcher{
		client:    &http.Client{},
		insecure:  &http.Client{Transport: insecureTransport},
		timeout:   timeout,
		userAgent: userAgent,
		maxBytes:  maxBytes,
	}
}

// Fetch performs a single GET of the source URL. It never retries; every failure, including non-2xx statuses and
// timeouts, is returned as *FetchError.
func (f *HTTPFetcher) Fetch(ctx context.Context, src model.FeedSource) ([]byte, error) {
	data, err := f.fetch(ctx, src)
	if err != nil {
		return nil, &FetchError{Source: src, Cause: err}
	}
	return data, nil
}

func (f *HTTPFetcher) fetch(ctx context.Context, src model.FeedSource) ([]byte, error) {
	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.URL, nil)
	if err != nil {
		return nil, err
	}
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}
	req.Header.Set("Accept", acceptHeader)

	client := f.client
	if src.Insecure {
		client = f.insecure
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &StatusError{Code: resp.StatusCode}
	}

	body := io.Reader(resp.Body)
	if f.maxBytes > 0 {
		body = io.LimitReader(resp.Body, f.maxBytes+1)
	}

	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if f.maxBytes > 0 && int64(len(data)) > f.maxBytes {
		return nil, fmt.Errorf("body exceeds %d bytes", f.maxBytes)
	}

	return data, nil
}
