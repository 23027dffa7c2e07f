package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrorKind classifies a transport failure. Callers treat every kind the
// same way; the kind only shows up in logs.
type ErrorKind string

const (
	KindConnection ErrorKind = "connection"
	KindTimeout    ErrorKind = "timeout"
	KindStatus     ErrorKind = "status"
	KindMalformed  ErrorKind = "malformed"
)

// TransportError is returned for any request that did not produce a 2xx.
type TransportError struct {
	Method     string
	Path       string
	Kind       ErrorKind
	StatusCode int    // set for KindStatus
	Body       string // truncated response body, set for KindStatus
	Err        error
}

func (e *TransportError) Error() string {
	if e.Kind == KindStatus {
		if e.Body != "" {
			return fmt.Sprintf("%s %s: HTTP %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
		}
		return fmt.Sprintf("%s %s: HTTP %d", e.Method, e.Path, e.StatusCode)
	}
	return fmt.Sprintf("%s %s: %s: %v", e.Method, e.Path, e.Kind, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsNotFound reports whether err is an HTTP 404 from the framework.
func IsNotFound(err error) bool {
	var te *TransportError
	return errors.As(err, &te) && te.Kind == KindStatus && te.StatusCode == http.StatusNotFound
}

// Client is the HTTP transport for the framework API. It does not retry.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a Client for baseURL. A zero timeout means no timeout.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// BaseURL returns the normalized base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Request sends method to path with an optional JSON payload and returns the
// status code and body. Non-2xx responses are returned as a *TransportError
// together with the body.
func (c *Client) Request(ctx context.Context, method, path string, payload interface{}) (int, []byte, error) {
	var bodyReader io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return 0, nil, fmt.Errorf("marshaling body: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return 0, nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, &TransportError{Method: method, Path: path, Kind: classify(err), Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, &TransportError{Method: method, Path: path, Kind: KindMalformed, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, body, &TransportError{
			Method:     method,
			Path:       path,
			Kind:       KindStatus,
			StatusCode: resp.StatusCode,
			Body:       truncate(strings.TrimSpace(string(body)), 200),
		}
	}
	return resp.StatusCode, body, nil
}

// Get performs a GET and returns the response body.
func (c *Client) Get(ctx context.Context, path string) ([]byte, error) {
	_, body, err := c.Request(ctx, http.MethodGet, path, nil)
	return body, err
}

// Post performs a POST with a JSON body.
func (c *Client) Post(ctx context.Context, path string, payload interface{}) ([]byte, int, error) {
	status, body, err := c.Request(ctx, http.MethodPost, path, payload)
	return body, status, err
}

// Delete performs a DELETE. Unlike a plain REST client it does not treat 404
// as success; callers decide that.
func (c *Client) Delete(ctx context.Context, path string) error {
	_, _, err := c.Request(ctx, http.MethodDelete, path, nil)
	return err
}

// EscapeID makes an identifier safe to embed as a single path segment.
func EscapeID(id string) string {
	return url.PathEscape(id)
}

func classify(err error) ErrorKind {
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return KindTimeout
	}
	return KindConnection
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
