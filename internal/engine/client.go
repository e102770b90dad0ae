package engine

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// connectTimeout and readTimeout bound C1 per spec §4.1.
const (
	connectTimeout = 10 * time.Second
	readTimeout    = 30 * time.Second
	maxRedirects   = 8
)

// Client is the single shared HTTP client used by every task: a
// bounded connection pool with process-wide default timeouts and a
// per-request header overlay. It never sends a request body — only
// GET.
//
// The pooled transport comes from hashicorp/go-retryablehttp (a direct
// dependency of this module); its own retry loop is disabled here
// because segment retry
// policy belongs to the worker pool (C5), which needs a single budget
// spanning network, HTTP, validation, and decrypt failures rather than
// two independent retry counters.
type Client struct {
	http *http.Client
}

// NewClient builds the shared HTTP client. poolSize should be at least
// the largest thread budget any task will request (spec §4.5,
// "Concurrency knob").
func NewClient(poolSize int) *Client {
	rc := retryablehttp.NewClient()
	rc.Logger = nil
	rc.RetryMax = 0
	rc.CheckRetry = func(ctx context.Context, resp *http.Response, err error) (bool, error) {
		return false, nil
	}
	rc.HTTPClient.Timeout = readTimeout
	if t, ok := rc.HTTPClient.Transport.(*http.Transport); ok {
		t.MaxIdleConnsPerHost = poolSize * 2
		t.IdleConnTimeout = 90 * time.Second
		t.TLSHandshakeTimeout = connectTimeout
		t.ResponseHeaderTimeout = readTimeout
	}
	std := rc.StandardClient()
	std.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		if len(via) >= maxRedirects {
			return fmt.Errorf("stopped after %d redirects", maxRedirects)
		}
		return nil
	}
	return &Client{http: std}
}

func (c *Client) do(ctx context.Context, url string, headers map[string]string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &NetworkError{Op: "build request", Err: err}
	}
	req.Header.Set("User-Agent", DefaultUserAgent)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, classifyTransportErr(err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, &HTTPError{Status: resp.StatusCode, URL: url}
	}
	return resp, nil
}

// GetBytes fetches the full response body for url, applying headers on
// top of the default User-Agent.
func (c *Client) GetBytes(ctx context.Context, url string, headers map[string]string) ([]byte, error) {
	resp, err := c.do(ctx, url, headers)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classifyTransportErr(err)
	}
	return data, nil
}

// GetText is GetBytes with the response decoded as a string, used for
// fetching manifest text.
func (c *Client) GetText(ctx context.Context, url string, headers map[string]string) (string, error) {
	data, err := c.GetBytes(ctx, url, headers)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func classifyTransportErr(err error) error {
	if err == nil {
		return nil
	}
	return &NetworkError{Op: "do request", Err: err}
}

// DefaultUserAgent is sent on every request unless overridden by a
// caller-supplied header.
const DefaultUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"
