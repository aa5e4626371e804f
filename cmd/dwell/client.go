package main

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

	"github.com/goodtune/dwell/internal/config"
)

var serverURL string

// apiClient talks to a running daemon's bridge REST API.
type apiClient struct {
	base string
	http *http.Client
}

// apiError mirrors the bridge error body.
type apiError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// newAPIClient resolves the daemon address from --server or the config file.
func newAPIClient() (*apiClient, error) {
	base := serverURL
	if base == "" {
		cfg, err := config.Load(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load configuration: %w", err)
		}
		host := cfg.Server.BindAddress
		if host == "" || host == "0.0.0.0" {
			host = "127.0.0.1"
		}
		base = fmt.Sprintf("http://%s:%d", host, cfg.Server.BridgePort)
	}
	return &apiClient{
		base: strings.TrimRight(base, "/"),
		http: &http.Client{Timeout: 10 * time.Second},
	}, nil
}

func (c *apiClient) do(ctx context.Context, method, path string, query url.Values, body, out interface{}) error {
	u := c.base + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("dwell daemon unreachable at %s: %w", c.base, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr apiError
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err == nil && apiErr.Message != "" {
			return fmt.Errorf("%s %s: %s", method, path, apiErr.Message)
		}
		return fmt.Errorf("%s %s: %s", method, path, resp.Status)
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
