// Package transport talks to the chat service: a REST client for
// requests and an EventStream for the live WebSocket feed.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	chaterrors "github.com/alexjbarnes/chat-sync/internal/errors"
	"github.com/alexjbarnes/chat-sync/internal/retry"
)

const (
	// maxRedirects is the maximum number of HTTP redirects to follow
	// before giving up, matching the default net/http limit.
	maxRedirects = 10

	// httpClientTimeout is the timeout for the default HTTP client.
	// Uploads get their own deadline from the caller's context.
	httpClientTimeout = 60 * time.Second

	// maxAPIResponseBytes caps response body reads. Channel query pages
	// with message history are the largest responses.
	maxAPIResponseBytes = 8 * 1024 * 1024
)

// APIError is a non-2xx response from the chat API. It implements
// retry.StatusCoder so the retry taxonomy classifies it by status.
type APIError struct {
	HTTPStatus int    `json:"StatusCode"`
	Code       int    `json:"code"`
	Message    string `json:"message"`
	Endpoint   string `json:"-"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API %s (%d, code %d): %s", e.Endpoint, e.HTTPStatus, e.Code, e.Message)
}

// StatusCode returns the HTTP status of the failed request.
func (e *APIError) StatusCode() int { return e.HTTPStatus }

func (e *APIError) Unwrap() error { return chaterrors.ErrAPIRequest }

// Client talks to the chat REST API on behalf of one user.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string

	mu    sync.RWMutex
	token string
}

// sameHostRedirectPolicy follows redirects only when the target host
// matches the original request host. This prevents the user token from
// leaking to third-party domains.
func sameHostRedirectPolicy(req *http.Request, via []*http.Request) error {
	if len(via) >= maxRedirects {
		return errors.New("stopped after 10 redirects")
	}

	if len(via) > 0 {
		origHost := via[0].URL.Host
		if req.URL.Host != origHost {
			return fmt.Errorf("redirect to different host blocked: %s -> %s", origHost, req.URL.Host)
		}
	}

	return nil
}

// NewClient creates an API client. If httpClient is nil, a client with
// a 60-second timeout and same-host redirect policy is created.
func NewClient(baseURL, apiKey string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout:       httpClientTimeout,
			CheckRedirect: sameHostRedirectPolicy,
		}
	}

	return &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
	}
}

// SetToken sets the user token sent with every request. An empty token
// logs the client out.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

func (c *Client) currentToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.token
}

// sanitizeResponseBody truncates and sanitizes a response body for
// inclusion in error messages. Limits to 256 bytes and replaces
// non-printable characters to prevent log injection.
func sanitizeResponseBody(body []byte) string {
	const maxLen = 256
	if len(body) > maxLen {
		body = body[:maxLen]
	}

	var clean []byte

	for len(body) > 0 {
		r, size := utf8.DecodeRune(body)
		if r == utf8.RuneError && size <= 1 {
			clean = append(clean, '?')
			body = body[1:]

			continue
		}

		if r < 0x20 && r != '\n' && r != '\r' && r != '\t' {
			clean = append(clean, '?')
		} else {
			clean = append(clean, body[:size]...)
		}

		body = body[size:]
	}

	return string(clean)
}

// doJSON sends body as JSON (nil sends no body) and decodes the response
// into result (nil discards it).
func (c *Client) doJSON(ctx context.Context, method, endpoint string, query url.Values, body, result any) error {
	var (
		reader      io.Reader
		contentType string
	)

	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshalling request body: %w", err)
		}

		reader = bytes.NewReader(payload)
		contentType = "application/json"
	}

	return c.do(ctx, method, endpoint, query, reader, -1, contentType, result)
}

// do sends a request and decodes the response. Network failures are
// wrapped as transient; HTTP failures become *APIError.
func (c *Client) do(ctx context.Context, method, endpoint string, query url.Values, body io.Reader, size int64, contentType string, result any) error {
	if query == nil {
		query = url.Values{}
	}

	query.Set("api_key", c.apiKey)

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint+"?"+query.Encode(), body)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	if size >= 0 {
		req.ContentLength = size
	}

	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	req.Header.Set("Stream-Auth-Type", "jwt")

	if token := c.currentToken(); token != "" {
		req.Header.Set("Authorization", token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Network errors (timeouts, connection refused, DNS failures)
		// are transient by nature.
		return retry.Transient(fmt.Errorf("sending request to %s: %w", endpoint, err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxAPIResponseBytes))
	if err != nil {
		return retry.Transient(fmt.Errorf("reading response from %s: %w", endpoint, err))
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{Endpoint: endpoint}
		if json.Unmarshal(respBody, apiErr) != nil || apiErr.Message == "" {
			apiErr.Message = sanitizeResponseBody(respBody)
		}

		apiErr.HTTPStatus = resp.StatusCode

		return apiErr
	}

	if result != nil {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("%w: decoding response from %s: %w", chaterrors.ErrAPIResponse, endpoint, err)
		}
	}

	return nil
}

func channelPath(channelType, channelID string) string {
	return "/channels/" + url.PathEscape(channelType) + "/" + url.PathEscape(channelID)
}
