// Package client talks to a running kickshield server over HTTP.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/verte-zerg/kickshield/internal/model"
)

// Client wraps the device HTTP API.
type Client struct {
	base string
	http *http.Client
}

// New returns a Client for base, e.g. "http://192.168.4.1" or ":8080".
func New(base string) *Client {
	if strings.HasPrefix(base, ":") {
		base = "localhost" + base
	}
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	return &Client{
		base: strings.TrimRight(base, "/"),
		http: &http.Client{Timeout: 2 * time.Second},
	}
}

// Base returns the normalized server URL.
func (c *Client) Base() string {
	return c.base
}

// Status fetches the current status snapshot.
func (c *Client) Status(ctx context.Context) (model.Status, error) {
	var st model.Status
	if err := c.do(ctx, http.MethodGet, "/api/status", nil, &st); err != nil {
		return model.Status{}, err
	}
	return st, nil
}

// Start starts a session in the given mode label.
func (c *Client) Start(ctx context.Context, mode string) error {
	return c.do(ctx, http.MethodPost, "/api/start?mode="+url.QueryEscape(mode), nil, nil)
}

// Stop stops the running session.
func (c *Client) Stop(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/api/stop", nil, nil)
}

// UpdateSettings sends the fields set in u as a JSON config update.
func (c *Client) UpdateSettings(ctx context.Context, u model.SettingsUpdate) error {
	payload := map[string]any{}
	if u.Threshold != nil {
		payload["threshold"] = *u.Threshold
	}
	if u.LockoutMs != nil {
		payload["lockout_ms"] = *u.LockoutMs
	}
	if u.SeriesGapMs != nil {
		payload["series_gap_ms"] = *u.SeriesGapMs
	}
	if u.SampleWindowMs != nil {
		payload["sample_window_ms"] = *u.SampleWindowMs
	}
	if u.Simulate != nil {
		payload["simulate"] = *u.Simulate
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode settings: %w", err)
	}
	return c.do(ctx, http.MethodPost, "/api/config", body, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach %s: %w", c.base, err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			// Best-effort body close.
			_ = cerr
		}
	}()

	if resp.StatusCode != http.StatusOK {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.NewDecoder(resp.Body).Decode(&apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s %s: %s", method, path, apiErr.Error)
		}
		return fmt.Errorf("%s %s: %s", method, path, resp.Status)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
