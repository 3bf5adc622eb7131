// Package client provides a shared Go client for the winboxd HTTP API.
// Used by the CLI and the desktop shell so neither carries its own unix
// socket boilerplate.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Client talks to winboxd over a unix socket.
type Client struct {
	httpClient *http.Client
	baseURL    string
}

// New creates a client connected to the winboxd unix socket at socketPath.
func New(socketPath string) *Client {
	return &Client{
		httpClient: &http.Client{
			Transport: &http.Transport{
				DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
					var d net.Dialer
					d.Timeout = 5 * time.Second
					return d.DialContext(ctx, "unix", socketPath)
				},
			},
			Timeout: 0, // no timeout for streaming
		},
		baseURL: "http://winbox",
	}
}

// DefaultSocketPath returns the default winboxd socket path
// (~/.winbox/winboxd.sock).
func DefaultSocketPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".winbox", "winboxd.sock")
}

// NewDefault creates a client using the default socket path.
func NewDefault() *Client {
	return New(DefaultSocketPath())
}

// Status returns daemon, container, and guest state.
func (c *Client) Status(ctx context.Context) (*Status, error) {
	var out Status
	if err := c.doJSON(ctx, "GET", "/v1/status", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListApps returns the guest applications, live or cached.
func (c *Client) ListApps(ctx context.Context) ([]App, error) {
	var out []App
	if err := c.doJSON(ctx, "GET", "/v1/apps", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Metrics returns the guest's resource metrics.
func (c *Client) Metrics(ctx context.Context) (*Metrics, error) {
	var out Metrics
	if err := c.doJSON(ctx, "GET", "/v1/metrics", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Launch requests an app launch by name or path.
func (c *Client) Launch(ctx context.Context, name string) error {
	return c.doJSON(ctx, "POST", "/v1/launch", map[string]string{"name": name}, nil)
}

// LaunchProgress returns the current launch progress.
func (c *Client) LaunchProgress(ctx context.Context) (*LaunchProgress, error) {
	var out LaunchProgress
	if err := c.doJSON(ctx, "GET", "/v1/launch", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CancelLaunch cancels the in-flight launch, if any.
func (c *Client) CancelLaunch(ctx context.Context) error {
	return c.doJSON(ctx, "DELETE", "/v1/launch", nil, nil)
}

// ListPorts returns the serialized port mappings.
func (c *Client) ListPorts(ctx context.Context) ([]string, error) {
	var out struct {
		Ports []string `json:"ports"`
	}
	if err := c.doJSON(ctx, "GET", "/v1/ports", nil, &out); err != nil {
		return nil, err
	}
	return out.Ports, nil
}

// SetPort records a host endpoint for a guest port. The returned flag says
// whether the host port looked already bound at probe time.
func (c *Client) SetPort(ctx context.Context, req SetPortRequest) (*SetPortResponse, error) {
	var out SetPortResponse
	if err := c.doJSON(ctx, "PUT", "/v1/ports", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListSecretNames returns the stored secret names.
func (c *Client) ListSecretNames(ctx context.Context) ([]string, error) {
	var out struct {
		Names []string `json:"names"`
	}
	if err := c.doJSON(ctx, "GET", "/v1/secrets", nil, &out); err != nil {
		return nil, err
	}
	return out.Names, nil
}

// SetSecret stores a secret value under name.
func (c *Client) SetSecret(ctx context.Context, name, value string) error {
	return c.doJSON(ctx, "PUT", "/v1/secrets/"+url.PathEscape(name),
		map[string]string{"value": value}, nil)
}

// DeleteSecret removes a secret.
func (c *Client) DeleteSecret(ctx context.Context, name string) error {
	return c.doJSON(ctx, "DELETE", "/v1/secrets/"+url.PathEscape(name), nil, nil)
}

// RDPInfo returns the mapped RDP endpoint and stored credentials.
func (c *Client) RDPInfo(ctx context.Context) (*RDPInfo, error) {
	var out RDPInfo
	if err := c.doJSON(ctx, "GET", "/v1/rdp", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CheckUpdate asks the daemon whether a newer container image exists.
func (c *Client) CheckUpdate(ctx context.Context) (*UpdateStatus, error) {
	var out UpdateStatus
	if err := c.doJSON(ctx, "GET", "/v1/update", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Diagnostics streams the diagnostics bundle to w.
func (c *Client) Diagnostics(ctx context.Context, w io.Writer) error {
	resp, err := c.doRaw(ctx, "GET", "/v1/diagnostics", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, err = io.Copy(w, resp.Body)
	return err
}

// ContainerAction runs an explicit lifecycle verb: start, stop, pause,
// unpause.
func (c *Client) ContainerAction(ctx context.Context, action string) error {
	return c.doJSON(ctx, "POST", "/v1/container/"+url.PathEscape(action), nil, nil)
}

// Logs returns recent daemon log entries for a component.
func (c *Client) Logs(ctx context.Context, component string) ([]LogEntry, error) {
	var out struct {
		Entries []LogEntry `json:"entries"`
	}
	if err := c.doJSON(ctx, "GET", "/v1/logs/"+url.PathEscape(component), nil, &out); err != nil {
		return nil, err
	}
	return out.Entries, nil
}

// doJSON makes a request and decodes the JSON response into result.
func (c *Client) doJSON(ctx context.Context, method, path string, body interface{}, result interface{}) error {
	resp, err := c.doRaw(ctx, method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if result == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(result)
}

// doRaw makes an HTTP request and returns the raw response.
// Caller is responsible for closing resp.Body.
func (c *Client) doRaw(ctx context.Context, method, path string, body interface{}) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request %s %s: %w", method, path, err)
	}

	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		return nil, parseError(resp)
	}
	return resp, nil
}

// parseError reads an error response body and returns an APIError.
func parseError(resp *http.Response) error {
	var errResp struct {
		Error string `json:"error"`
	}
	data, _ := io.ReadAll(resp.Body)
	if json.Unmarshal(data, &errResp) == nil && errResp.Error != "" {
		return &APIError{StatusCode: resp.StatusCode, Message: errResp.Error}
	}
	return &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(data))}
}
