package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Client forwards notifications to another deployment's relay endpoint,
// authenticating with a system access token.
type Client struct {
	baseURL    string
	bearer     string
	httpClient *http.Client
}

// NewClient constructs a new client. bearer is the full sat_-prefixed
// credential issued by the receiving deployment.
func NewClient(baseURL, bearer string) *Client {
	return &Client{
		baseURL: baseURL,
		bearer:  bearer,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Ping checks if the remote deployment is reachable.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/healthz", c.baseURL), nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}
	return nil
}

// Deliver satisfies the receiving handler's Deliverer, so one deployment can
// chain its forward endpoint onto another deployment's relay.
func (c *Client) Deliver(ctx context.Context, n Notification, d DeviceDescriptor) (*ForwardResult, error) {
	return c.Forward(ctx, ForwardRequest{Notification: n, Device: d})
}

// Forward sends the notification and device descriptor to the remote
// deployment. Upstream failures map onto the package error classes.
func (c *Client) Forward(ctx context.Context, fwd ForwardRequest) (*ForwardResult, error) {
	body, err := json.Marshal(fwd)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fmt.Sprintf("%s/api/v1/relay/forward", c.baseURL), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.bearer)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, ErrUnauthorized
	case resp.StatusCode == http.StatusForbidden:
		return nil, ErrForbidden
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	case resp.StatusCode >= 400:
		return nil, fmt.Errorf("%w: status %d", ErrRejected, resp.StatusCode)
	}

	var result ForwardResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("%w: malformed response", ErrUnavailable)
	}
	return &result, nil
}
