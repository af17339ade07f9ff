// Package client provides the catalog HTTP client with retry and online tracking.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/fruitsalade/postfs/internal/logging"
	"github.com/fruitsalade/postfs/internal/metrics"
	"github.com/fruitsalade/postfs/pkg/protocol"
	"github.com/fruitsalade/postfs/pkg/retry"
)

// DefaultUserAgent identifies postfs to the catalog.
const DefaultUserAgent = "postfs/1.0 (github.com/fruitsalade/postfs)"

// maxErrorBody caps how much of a failed response is kept for diagnostics.
const maxErrorBody = 4096

// Client talks to the remote catalog.
type Client struct {
	baseURL     string
	userAgent   string
	httpClient  *http.Client
	retryConfig retry.Config

	mu     sync.RWMutex
	online bool
}

// Config holds client configuration.
type Config struct {
	BaseURL     string
	UserAgent   string
	Timeout     time.Duration // per attempt
	RetryConfig retry.Config
	Transport   http.RoundTripper
}

// New creates a new client.
func New(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RetryConfig.MaxAttempts == 0 {
		cfg.RetryConfig = retry.DefaultConfig()
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.Transport == nil {
		cfg.Transport = &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   10 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConns:        100,
			IdleConnTimeout:     90 * time.Second,
			DisableCompression:  true,
			TLSHandshakeTimeout: 10 * time.Second,
		}
	}

	return &Client{
		baseURL:   cfg.BaseURL,
		userAgent: cfg.UserAgent,
		httpClient: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: logging.Transport(cfg.Transport),
		},
		retryConfig: cfg.RetryConfig,
		online:      true,
	}
}

// BaseURL returns the catalog base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// UpstreamError is returned when the catalog answers with a non-success
// status or the request fails in transport. StatusCode is 0 for transport
// failures.
type UpstreamError struct {
	StatusCode int
	Body       string
	URL        string
	Err        error
}

func (e *UpstreamError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("request %s: %v", e.URL, e.Err)
	}
	msg := e.Body
	var er protocol.ErrorResponse
	if json.Unmarshal([]byte(e.Body), &er) == nil && er.Reason != "" {
		msg = er.Reason
	}
	return fmt.Sprintf("got %d for %s: %q", e.StatusCode, e.URL, msg)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// NotFound reports whether the catalog said the resource does not exist.
func (e *UpstreamError) NotFound() bool {
	return e.StatusCode == http.StatusNotFound
}

// AsUpstream checks if an error is an UpstreamError and returns it.
func AsUpstream(err error) (*UpstreamError, bool) {
	var ue *UpstreamError
	if errors.As(err, &ue) {
		return ue, true
	}
	return nil, false
}

// IsOnline returns true if the catalog was reachable on the last request.
func (c *Client) IsOnline() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.online
}

func (c *Client) setOnline(online bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.online != online {
		if online {
			logging.Info("catalog is back online", logging.String("base_url", c.baseURL))
		} else {
			logging.Warn("catalog is offline", logging.String("base_url", c.baseURL))
		}
	}
	c.online = online
}

// Ping checks if the catalog is reachable with a one-item page request.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.FetchPage(ctx, 1, "", 1)
	return err
}

// FetchOne fetches a single post.
func (c *Client) FetchOne(ctx context.Context, id int64) (*protocol.RawPost, error) {
	u := fmt.Sprintf("%s/posts/%d.json", c.baseURL, id)

	var resp protocol.PostResponse
	if err := c.getJSON(ctx, "fetch_one", u, &resp); err != nil {
		return nil, err
	}
	if resp.Post == nil {
		return nil, &UpstreamError{StatusCode: http.StatusNotFound, URL: u, Body: "missing post in response"}
	}
	return resp.Post, nil
}

// FetchPage fetches one page of posts matching tags, in the catalog's order.
func (c *Client) FetchPage(ctx context.Context, page int, tags string, limit int) ([]*protocol.RawPost, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	q.Set("page", strconv.Itoa(page))
	q.Set("tags", tags)
	u := c.baseURL + "/posts.json?" + q.Encode()

	var resp protocol.PageResponse
	if err := c.getJSON(ctx, "fetch_page", u, &resp); err != nil {
		return nil, err
	}
	return resp.Posts, nil
}

// FetchVariant downloads the raw bytes of a media rendition.
func (c *Client) FetchVariant(ctx context.Context, variantURL string) ([]byte, error) {
	return retry.DoWithResult(ctx, c.retryConfig, func() ([]byte, error) {
		body, err := c.do(ctx, "fetch_variant", variantURL)
		if err != nil {
			return nil, err
		}
		defer body.Close()

		data, err := io.ReadAll(body)
		if err != nil {
			return nil, retry.Retryable(&UpstreamError{URL: variantURL, Err: err})
		}
		metrics.RecordVariantBytes(int64(len(data)))
		return data, nil
	})
}

func (c *Client) getJSON(ctx context.Context, op, u string, v interface{}) error {
	return retry.Do(ctx, c.retryConfig, func() error {
		body, err := c.do(ctx, op, u)
		if err != nil {
			return err
		}
		defer body.Close()

		if err := json.NewDecoder(body).Decode(v); err != nil {
			return &UpstreamError{StatusCode: http.StatusOK, URL: u, Err: err, Body: "invalid JSON: " + err.Error()}
		}
		return nil
	})
}

// do performs one GET attempt. Transport failures and 5xx/429 responses are
// marked retryable; every other non-2xx is final.
func (c *Client) do(ctx context.Context, op, u string) (io.ReadCloser, error) {
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, &UpstreamError{URL: u, Err: err}
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept-Encoding", "gzip")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.setOnline(false)
		metrics.RecordCatalogRequest(op, "error", time.Since(start))
		return nil, retry.Retryable(&UpstreamError{URL: u, Err: err})
	}
	metrics.RecordCatalogRequest(op, strconv.Itoa(resp.StatusCode), time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		ue := &UpstreamError{StatusCode: resp.StatusCode, URL: u, Body: string(body)}
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			c.setOnline(false)
			return nil, retry.Retryable(ue)
		}
		c.setOnline(true)
		return nil, ue
	}

	c.setOnline(true)

	if resp.Header.Get("Content-Encoding") == "gzip" {
		gr, err := gzip.NewReader(resp.Body)
		if err != nil {
			resp.Body.Close()
			return nil, &UpstreamError{StatusCode: resp.StatusCode, URL: u, Err: err}
		}
		return &gzipReadCloser{gr: gr, body: resp.Body}, nil
	}
	return resp.Body, nil
}

type gzipReadCloser struct {
	gr   *gzip.Reader
	body io.ReadCloser
}

func (g *gzipReadCloser) Read(p []byte) (int, error) {
	return g.gr.Read(p)
}

func (g *gzipReadCloser) Close() error {
	g.gr.Close()
	return g.body.Close()
}
