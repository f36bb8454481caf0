// Package httpapi provides the generic HTTP API-call adapter.
package httpapi

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/agentflow/agentflow-go/flow/adapter"
)

// defaultTimeout bounds a single API call when the caller's context has
// no earlier deadline.
const defaultTimeout = 30 * time.Second

// Client implements adapter.HTTP over net/http.
//
// The base URL comes from config.base_url; an optional bearer token is
// resolved lazily from the environment variable named by
// config.auth_env. Transport-level failures surface as ErrUnavailable.
type Client struct {
	httpClient *http.Client
}

// NewClient creates an HTTP adapter. A nil client uses a default with a
// 30-second timeout.
func NewClient(httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	return &Client{httpClient: httpClient}
}

// Call implements adapter.HTTP.
func (c *Client) Call(ctx context.Context, config map[string]any, req adapter.Request) (adapter.Response, error) {
	if ctx.Err() != nil {
		return adapter.Response{}, ctx.Err()
	}

	baseURL, _ := config["base_url"].(string)
	target, err := url.JoinPath(baseURL, req.Path)
	if err != nil {
		return adapter.Response{}, fmt.Errorf("%w: %v", adapter.ErrInvalidOperation, err)
	}

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return adapter.Response{}, fmt.Errorf("%w: %v", adapter.ErrInvalidOperation, err)
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	// Auth is optional; resolve only when an env var is configured.
	if authEnv, _ := config["auth_env"].(string); authEnv != "" {
		token, err := adapter.SecretFromEnv(authEnv)
		if err != nil {
			return adapter.Response{}, err
		}
		if !strings.Contains(token, " ") {
			token = "Bearer " + token
		}
		httpReq.Header.Set("Authorization", token)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return adapter.Response{}, ctx.Err()
		}
		return adapter.Response{}, fmt.Errorf("%w: %v", adapter.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return adapter.Response{}, fmt.Errorf("%w: %v", adapter.ErrUnavailable, err)
	}

	headers := make(map[string]string, len(resp.Header))
	for k := range resp.Header {
		headers[k] = resp.Header.Get(k)
	}

	return adapter.Response{
		StatusCode: resp.StatusCode,
		Headers:    headers,
		Body:       respBody,
	}, nil
}
