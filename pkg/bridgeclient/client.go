// Package bridgeclient is a caching, retrying client for the ability
// gateway. It mirrors the behavior expected of agent-side consumers:
// conditional discovery with a long-lived local cache, automatic CSRF token
// refresh with a single retry, and agent-safe tool names.
package bridgeclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/code-atlantic/abridge/pkg/ability"
	"github.com/code-atlantic/abridge/pkg/gateway"
)

// DefaultCacheTTL is how long a fetched tool list is served without
// revalidation when the gateway is unreachable.
const DefaultCacheTTL = 24 * time.Hour

// Options configures the client.
type Options struct {
	// BaseURL is the gateway root, e.g. "http://localhost:8321". The
	// versioned API prefix is appended automatically.
	BaseURL string
	// AuthToken is an optional bearer token identifying the caller.
	AuthToken string
	// CacheTTL bounds the local tool cache. Default 24h.
	CacheTTL time.Duration
	// HTTPClient overrides the transport, mainly for tests.
	HTTPClient *http.Client
}

// Client consumes the gateway's discovery and execution endpoints.
type Client struct {
	options Options
	http    *http.Client
	logger  zerolog.Logger

	mu           sync.Mutex
	cachedTools  []ability.Tool
	cachedETag   string
	cacheExpiry  time.Time
	currentNonce string
}

// New creates a gateway client.
func New(options Options, logger zerolog.Logger) (*Client, error) {
	if options.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	options.BaseURL = strings.TrimRight(options.BaseURL, "/")
	if options.CacheTTL == 0 {
		options.CacheTTL = DefaultCacheTTL
	}
	httpClient := options.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	return &Client{
		options: options,
		http:    httpClient,
		logger:  logger,
	}, nil
}

// SafeName adapts a tool name for agent runtimes that reject the namespace
// separator. The original name is still used on the execution URL.
func SafeName(name string) string {
	return strings.ReplaceAll(name, "/", "_")
}

// Tools returns the gateway's tool list for this caller. A cached list is
// revalidated with If-None-Match; a 304 or a network failure serves the
// cache.
func (c *Client) Tools(ctx context.Context) ([]ability.Tool, error) {
	c.mu.Lock()
	cachedTools := c.cachedTools
	cachedETag := c.cachedETag
	cacheValid := cachedTools != nil && time.Now().Before(c.cacheExpiry)
	c.mu.Unlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint("/tools"), nil)
	if err != nil {
		return nil, err
	}
	c.setAuth(req)
	if cacheValid && cachedETag != "" {
		req.Header.Set("If-None-Match", `"`+cachedETag+`"`)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if cacheValid {
			c.logger.Warn().Err(err).Msg("Discovery request failed, serving cached tools")
			return cachedTools, nil
		}
		return nil, fmt.Errorf("discovery request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotModified && cacheValid {
		return cachedTools, nil
	}

	if resp.StatusCode != http.StatusOK {
		if cacheValid {
			return cachedTools, nil
		}
		return nil, c.responseError(resp)
	}

	var payload gateway.ToolsResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to decode discovery response: %w", err)
	}

	etag := strings.Trim(resp.Header.Get("ETag"), `"`)

	c.mu.Lock()
	c.cachedTools = payload.Tools
	c.cachedETag = etag
	c.cacheExpiry = time.Now().Add(c.options.CacheTTL)
	if payload.Nonce != "" {
		c.currentNonce = payload.Nonce
	}
	c.mu.Unlock()

	return payload.Tools, nil
}

// RefreshNonce fetches a fresh CSRF token from the nonce endpoint.
func (c *Client) RefreshNonce(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint("/nonce"), nil)
	if err != nil {
		return err
	}
	c.setAuth(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("nonce request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.responseError(resp)
	}

	var payload gateway.NonceResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return fmt.Errorf("failed to decode nonce response: %w", err)
	}

	c.mu.Lock()
	c.currentNonce = payload.Nonce
	c.mu.Unlock()
	return nil
}

// Execute invokes a tool by its original (namespaced) name. Write tools send
// the current CSRF token; on a 403 the token is refreshed and the request
// retried exactly once.
func (c *Client) Execute(ctx context.Context, name string, input map[string]interface{}, readOnly bool) (interface{}, error) {
	resp, err := c.doExecute(ctx, name, input, readOnly)
	if err != nil {
		return nil, err
	}

	if !readOnly && resp.StatusCode == http.StatusForbidden {
		resp.Body.Close()
		if err := c.RefreshNonce(ctx); err != nil {
			c.logger.Warn().Err(err).Str("tool", name).Msg("Nonce refresh failed")
		}
		resp, err = c.doExecute(ctx, name, input, readOnly)
		if err != nil {
			return nil, err
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.responseError(resp)
	}

	var payload gateway.ExecuteResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to decode execution response: %w", err)
	}
	return payload.Result, nil
}

func (c *Client) doExecute(ctx context.Context, name string, input map[string]interface{}, readOnly bool) (*http.Response, error) {
	if input == nil {
		input = map[string]interface{}{}
	}
	body, err := json.Marshal(input)
	if err != nil {
		return nil, err
	}

	execURL := c.endpoint("/execute/" + url.PathEscape(name))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, execURL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	c.setAuth(req)

	if !readOnly {
		c.mu.Lock()
		nonce := c.currentNonce
		c.mu.Unlock()
		if nonce != "" {
			req.Header.Set(gateway.NonceHeader, nonce)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execution request failed: %w", err)
	}
	return resp, nil
}

func (c *Client) endpoint(path string) string {
	return c.options.BaseURL + gateway.APIPrefix + path
}

func (c *Client) setAuth(req *http.Request) {
	if c.options.AuthToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.options.AuthToken)
	}
}

// responseError converts a non-200 gateway response into an *ability.Error
// so callers can branch on the stable code and status.
func (c *Client) responseError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))

	var envelope gateway.ErrorEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil || envelope.Code == "" {
		return ability.NewError("wmcp_http_error", fmt.Sprintf("HTTP %d", resp.StatusCode), resp.StatusCode)
	}
	return ability.NewError(envelope.Code, envelope.Message, resp.StatusCode)
}
