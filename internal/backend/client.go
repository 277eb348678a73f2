// Package backend talks to the detection backend: the sources registry, the
// fleet health endpoint and the two per-source websocket channels.
package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/live-monitor/pkg/types"
)

// ErrUnexpectedStatus is returned when the backend answers with a non-2xx status.
var ErrUnexpectedStatus = errors.New("unexpected status")

const maxBodyBytes = 4 << 20

// Client fetches the REST endpoints of the backend.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient returns a client for baseURL (e.g. "http://localhost:8000").
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

// BaseURL returns the normalised backend URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Sources fetches the registry of known sources.
func (c *Client) Sources(ctx context.Context) ([]types.SourceInfo, error) {
	var resp types.SourcesResponse
	if err := c.getJSON(ctx, "/sources", &resp); err != nil {
		return nil, err
	}
	return resp.Sources, nil
}

// Health fetches the fleet-wide health map.
func (c *Client) Health(ctx context.Context) (types.HealthResponse, error) {
	resp := types.HealthResponse{}
	if err := c.getJSON(ctx, "/health", &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build request %s: %w", path, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("GET %s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("GET %s: %w %d", path, ErrUnexpectedStatus, resp.StatusCode)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

// StreamURL derives the websocket base from an http(s) backend URL.
func StreamURL(baseURL string) (string, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return "", fmt.Errorf("parse backend url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported backend scheme %q", u.Scheme)
	}
	return u.String(), nil
}
