// Package sensorthings is a minimal OGC SensorThings API client that knows the
// two queries the weather bridge needs: online locations and the latest
// observation of a filtered datastream.
package sensorthings

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const maxBodyBytes = 8 << 20

// Doer is satisfied by *http.Client.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

type Options struct {
	BaseURL  string
	Username string
	Password string
	Timeout  time.Duration
	// HTTPClient overrides the default client, mainly for tests.
	HTTPClient Doer
	Logger     *slog.Logger
}

// Client issues GET requests relative to a SensorThings base path.
type Client struct {
	baseURL  string
	username string
	password string
	timeout  time.Duration
	http     Doer
	logger   *slog.Logger
}

func NewClient(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: opts.Timeout}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Client{
		baseURL:  strings.TrimRight(opts.BaseURL, "/"),
		username: opts.Username,
		password: opts.Password,
		timeout:  opts.Timeout,
		http:     opts.HTTPClient,
		logger:   opts.Logger,
	}
}

// URL returns basePath + queryPath.
func (c *Client) URL(path string) string {
	return c.baseURL + path
}

// Get performs a bounded GET and returns the status code and body. The error is
// non-nil only for transport failures (including timeout); any status code is
// returned as-is.
func (c *Client) Get(ctx context.Context, path string) (int, []byte, error) {
	url := c.URL(path)

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.username != "" {
		req.SetBasicAuth(c.username, c.password)
	}

	c.logger.Debug("sensorthings request", "url", url)
	start := time.Now()

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("do request: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.Debug("close response body", "error", closeErr)
		}
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read response: %w", err)
	}

	c.logger.Debug("sensorthings response",
		"url", url,
		"status", resp.StatusCode,
		"bytes", len(body),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return resp.StatusCode, body, nil
}

// fetch wraps Get and maps failures onto *FetchError.
func (c *Client) fetch(ctx context.Context, path string) ([]byte, error) {
	status, body, err := c.Get(ctx, path)
	if err != nil {
		return nil, &FetchError{Kind: KindTransport, URL: c.URL(path), Err: err}
	}
	if status != http.StatusOK {
		return nil, &FetchError{Kind: KindHTTPStatus, StatusCode: status, URL: c.URL(path)}
	}
	return body, nil
}
