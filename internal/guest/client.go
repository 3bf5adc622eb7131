// Package guest provides the HTTP client for the guest-resident API server.
// The server itself runs inside the Windows guest and is a black box here;
// this package only speaks its JSON contract through the mapped host port.
package guest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// APIPort is the guest-side port the guest API server listens on.
const APIPort = 7148

// App is one installed application as enumerated by the guest.
type App struct {
	Name   string `json:"name"`
	Path   string `json:"path"`
	Source string `json:"source,omitempty"`
	Icon   string `json:"icon,omitempty"`
}

// Metrics is a point-in-time resource snapshot reported by the guest.
type Metrics struct {
	CPUPercent float64 `json:"cpu_percent"`
	RAMPercent float64 `json:"ram_percent"`
	DiskUsed   int64   `json:"disk_used"`
	DiskTotal  int64   `json:"disk_total"`
	UptimeSecs int64   `json:"uptime_secs"`
}

// Client talks to the guest API over the host side of its port mapping.
type Client struct {
	httpClient *http.Client
	baseURL    string
}

// NewClient creates a client for the guest API published on hostPort.
// The base URL is always loopback: published guest ports bind locally.
func NewClient(hostPort int) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: 0, // Launch blocks for the lifetime of the remote session
		},
		baseURL: fmt.Sprintf("http://127.0.0.1:%d", hostPort),
	}
}

// Ping reports whether the guest API answers its health endpoint. Used as
// the reachability probe while the guest boots, so failures of any kind
// just mean "not yet".
func (c *Client) Ping(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	return resp.StatusCode == http.StatusOK
}

// ListApps enumerates the applications installed in the guest.
func (c *Client) ListApps(ctx context.Context) ([]App, error) {
	var out []App
	if err := c.doJSON(ctx, "GET", "/api/apps", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Launch asks the guest to start an application. The call is long-lived by
// contract: it resolves (or fails) when the remote session for that app
// ends, which can be hours later. Callers must not gate progress on it.
func (c *Client) Launch(ctx context.Context, app App) error {
	return c.doJSON(ctx, "POST", "/api/launch", app, nil)
}

// Metrics fetches the guest resource snapshot.
func (c *Client) Metrics(ctx context.Context) (*Metrics, error) {
	var out Metrics
	if err := c.doJSON(ctx, "GET", "/api/metrics", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// BaseURL returns the base URL used for requests.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// doJSON makes a JSON request and decodes the JSON response into result.
// If body is non-nil it is encoded as JSON; if result is nil the response
// body is discarded.
func (c *Client) doJSON(ctx context.Context, method, path string, body interface{}, result interface{}) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("guest api %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return parseError(resp)
	}
	if result == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(result)
}

// parseError reads an error response body into a descriptive error.
func parseError(resp *http.Response) error {
	var errResp struct {
		Error string `json:"error"`
	}
	data, _ := io.ReadAll(resp.Body)
	if json.Unmarshal(data, &errResp) == nil && errResp.Error != "" {
		return fmt.Errorf("guest api: %s (status %d)", errResp.Error, resp.StatusCode)
	}
	return fmt.Errorf("guest api: status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
}
