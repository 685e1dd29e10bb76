package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	defaultTimeout  = 30 * time.Second
	defaultMaxBytes = 32 << 20 // 32 MiB; ranker models are small
	userAgent       = "modelfetch/1.0"
)

// Client downloads model payloads over HTTP. A non-2xx response, a
// transport error, or an oversized body all count as a failed fetch;
// the loader does not distinguish between them.
type Client struct {
	hc       *http.Client
	maxBytes int64
}

// New returns a Client with the given per-request timeout and response
// size cap. Zero values select defaults.
func New(timeout time.Duration, maxBytes int64) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if maxBytes <= 0 {
		maxBytes = defaultMaxBytes
	}
	return &Client{
		hc:       &http.Client{Timeout: timeout},
		maxBytes: maxBytes,
	}
}

// Fetch GETs url and returns the response body. The context bounds the
// whole request; cancellation (e.g. loader shutdown) aborts the fetch.
func (c *Client) Fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("fetch %s: unexpected status %d", url, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if int64(len(data)) > c.maxBytes {
		return nil, fmt.Errorf("fetch %s: response exceeds %d bytes", url, c.maxBytes)
	}
	return data, nil
}
