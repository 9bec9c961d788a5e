// Package remote is the HTTP client for the storefront cart, wishlist and
// abandoned-cart endpoints.
//
// Every cart mutation returns the server's full resulting cart; callers replace
// their state with it and never patch-merge. Error responses are translated
// into the model error taxonomy:
//
//	401/403                      → model.ErrUnauthorized (caller forces logout)
//	400 + WAREHOUSE_CONFLICT     → *model.WarehouseConflictError
//	400 otherwise                → VALIDATION_ERROR
//	404                          → NOT_FOUND
//	429                          → RATE_LIMITED
//	anything else                → UPSTREAM_ERROR
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"storefront-cart/internal/model"
	"storefront-cart/internal/transport"
)

const (
	serviceName = "cart API"
	userAgent   = "storefront-cart/1.0"

	// DefaultTimeout bounds each request when Config.Timeout is zero.
	DefaultTimeout = 15 * time.Second
)

// TokenSource returns the bearer token for the current identity.
// An empty token sends the request unauthenticated.
type TokenSource func(ctx context.Context) (string, error)

// Config holds client configuration.
type Config struct {
	BaseURL   string
	Timeout   time.Duration
	ChromeTLS bool    // Present a Chrome TLS fingerprint (see internal/transport)
	RateLimit float64 // Client-side requests per second, 0 = unlimited
	APIKey    string  // Storefront key sent as X-Api-Key, optional

	// HTTPClient overrides the constructed client. Used by tests.
	HTTPClient *http.Client
}

// Client talks to the cart backend.
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      TokenSource
	apiKey     string
	logger     *slog.Logger
}

// New creates a client. token may be nil for guest-only use (abandoned-cart
// reporting for anonymous sessions needs no token).
func New(cfg Config, token TokenSource, logger *slog.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if token == nil {
		token = func(context.Context) (string, error) { return "", nil }
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = DefaultTimeout
		}
		var rt http.RoundTripper = http.DefaultTransport
		if cfg.ChromeTLS {
			rt = transport.NewChromeTransport(timeout)
		}
		httpClient = &http.Client{
			Timeout:   timeout,
			Transport: transport.RateLimited(rt, cfg.RateLimit, 2),
		}
	}

	return &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		token:      token,
		apiKey:     cfg.APIKey,
		logger:     logger,
	}, nil
}

// do sends one JSON request and decodes a 2xx body into out.
// It returns the HTTP status so callers can distinguish 200 from 207.
func (c *Client) do(ctx context.Context, method, path string, body, out any) (int, error) {
	var bodyReader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("marshaling request: %w", err)
		}
		bodyReader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return 0, fmt.Errorf("creating request: %w", err)
	}

	token, err := c.token(ctx)
	if err != nil {
		return 0, fmt.Errorf("reading token: %w", err)
	}
	c.setHeaders(req, token)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, model.NewUpstreamError(serviceName, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, fmt.Errorf("reading response: %w", err)
	}

	c.logger.DebugContext(ctx, "cart api call",
		slog.String("method", method),
		slog.String("path", path),
		slog.Int("status", resp.StatusCode),
		slog.Duration("duration", time.Since(start)),
	)

	if resp.StatusCode >= 400 {
		return resp.StatusCode, parseErrorResponse(resp.StatusCode, respBody)
	}

	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return resp.StatusCode, fmt.Errorf("parsing response: %w", err)
		}
	}
	return resp.StatusCode, nil
}

func (c *Client) setHeaders(req *http.Request, token string) {
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)
	if req.Body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("X-Api-Key", c.apiKey)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
}

// errorResponse is the backend's error envelope. The conflict marker may
// arrive in code, error or message depending on the endpoint.
type errorResponse struct {
	Code              string       `json:"code"`
	Error             string       `json:"error"`
	Message           string       `json:"message"`
	ExistingWarehouse warehouseRef `json:"existingWarehouse"`
	NewWarehouse      warehouseRef `json:"newWarehouse"`
}

func (e errorResponse) isWarehouseConflict() bool {
	return e.Code == model.WarehouseConflictCode ||
		e.Error == model.WarehouseConflictCode ||
		strings.Contains(e.Message, model.WarehouseConflictCode)
}

func (e errorResponse) text() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Error
}

// warehouseRef accepts either a bare name or a warehouse object.
type warehouseRef struct {
	model.Warehouse
}

func (w *warehouseRef) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		return json.Unmarshal(data, &w.Name)
	}
	if string(data) == "null" {
		return nil
	}
	return json.Unmarshal(data, &w.Warehouse)
}

// parseErrorResponse converts a backend error body to a typed error.
func parseErrorResponse(statusCode int, body []byte) error {
	var apiErr errorResponse
	json.Unmarshal(body, &apiErr) // Best effort parse

	switch statusCode {
	case 401, 403:
		return model.NewUnauthorizedError("cart API rejected credentials")
	case 404:
		return model.NewNotFoundError("cart resource")
	case 400:
		if apiErr.isWarehouseConflict() {
			return &model.WarehouseConflictError{
				Existing: apiErr.ExistingWarehouse.DisplayName(),
				Incoming: apiErr.NewWarehouse.DisplayName(),
			}
		}
		msg := apiErr.text()
		if msg == "" {
			msg = "invalid request"
		}
		return model.NewValidationError("request", msg)
	case 429:
		return model.NewRateLimitError(serviceName)
	default:
		return model.NewUpstreamError(serviceName,
			fmt.Errorf("status %d: %s", statusCode, apiErr.text()))
	}
}
