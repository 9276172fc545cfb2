// Package bamboo provides a client for reading plans and build results from
// Atlassian Bamboo servers.
package bamboo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"build-collector/src/provider"
)

// maxErrorBody caps how much of a failed response is kept in the error.
const maxErrorBody = 512

var errDecode = errors.New("failed to decode response")

// Client is a Bamboo REST API client. A single Client can talk to any number
// of instances; every call takes an absolute URL.
type Client struct {
	username   string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a new Bamboo API client. Basic authentication is sent only
// when both username and apiKey are non-empty.
func NewClient(username, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		username: username,
		apiKey:   apiKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

func (c *Client) hasCredentials() bool {
	return c.username != "" && c.apiKey != ""
}

// getJSON performs an authenticated GET and decodes the JSON body into v.
// Non-200 responses are returned as *provider.StatusError.
func (c *Client) getJSON(ctx context.Context, url string, v interface{}) error {
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	if c.hasCredentials() {
		req.SetBasicAuth(c.username, c.apiKey)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%w: %v", provider.ErrNetworkTimeout, err)
		}
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &provider.StatusError{StatusCode: resp.StatusCode, URL: url, Body: string(body)}
	}

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: %v", errDecode, err)
	}

	return nil
}
