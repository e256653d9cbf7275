// Package restclient is the small JSON-over-HTTP client shared by the
// explorer backed currencies (Esplora, TronGrid, Etherscan).
package restclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"kelvin-core/pkg/errno"
	"kelvin-core/pkg/logger"
)

const maxBody = 8 << 20

// HTTPError is a non-2xx reply. It is wrapped in errno.ErrNetwork; callers
// that can tell a rejection apart use errors.As to inspect it.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("http %d: %s", e.StatusCode, strings.TrimSpace(e.Body))
}

type Client struct {
	httpClient *http.Client
	baseURL    string
	header     http.Header
}

func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(baseURL, "/"),
		header:     make(http.Header),
	}
}

// WithHeader sets a header sent with every request (API keys).
func (c *Client) WithHeader(key, value string) *Client {
	if value != "" {
		c.header.Set(key, value)
	}
	return c
}

func (c *Client) BaseURL() string { return c.baseURL }

// GetJSON decodes the JSON reply of GET path into out.
func (c *Client) GetJSON(ctx context.Context, path string, out interface{}) error {
	body, err := c.do(ctx, http.MethodGet, path, "", nil)
	if err != nil {
		return err
	}
	return decode(body, out)
}

// PostJSON marshals in, posts it and decodes the reply into out (if non-nil).
func (c *Client) PostJSON(ctx context.Context, path string, in, out interface{}) error {
	b, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	body, err := c.do(ctx, http.MethodPost, path, "application/json", b)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return decode(body, out)
}

// PostText posts a plain text body and returns the trimmed reply.
func (c *Client) PostText(ctx context.Context, path, text string) (string, error) {
	body, err := c.do(ctx, http.MethodPost, path, "text/plain", []byte(text))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(body)), nil
}

func (c *Client) do(ctx context.Context, method, path, contentType string, payload []byte) ([]byte, error) {
	url := c.baseURL + path
	var rd io.Reader
	if payload != nil {
		rd = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, rd)
	if err != nil {
		return nil, errno.ErrNetwork.Wrap(err, "build request")
	}
	for k, v := range c.header {
		req.Header[k] = v
	}
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errno.ErrNetwork.Wrap(err, "%s %s", method, path)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, errno.ErrNetwork.Wrap(err, "read %s", path)
	}
	logger.Debug("rest call",
		zap.String("method", method),
		zap.String("url", url),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, errno.ErrNetwork.Wrap(&HTTPError{StatusCode: resp.StatusCode, Body: string(body)}, "%s %s", method, path)
	}
	return body, nil
}

func decode(body []byte, out interface{}) error {
	if err := json.Unmarshal(body, out); err != nil {
		return errno.ErrNetwork.Wrap(err, "decode response")
	}
	return nil
}
