package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

type apiClient struct {
	baseURL string
	http    *http.Client
}

func newAPIClient(baseURL string) *apiClient {
	return &apiClient{baseURL: baseURL, http: &http.Client{Timeout: 30 * time.Second}}
}

func (c *apiClient) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *apiClient) post(ctx context.Context, path string, body, out any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *apiClient) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return fmt.Errorf("%s %s: %s: %s", req.Method, req.URL.Path, resp.Status, string(data))
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(data, out)
}

type statusView struct {
	Status         string `json:"status"`
	UptimeMS       int64  `json:"uptime_ms"`
	PoolReady      bool   `json:"pool_ready"`
	WorkerCount    int    `json:"worker_count"`
	QueueDepth     int    `json:"queue_depth"`
	CacheLiveCount uint64 `json:"cache_live_count"`
	CacheCapacity  uint64 `json:"cache_capacity"`
	TotalClients   int    `json:"total_clients"`
	ModelID        string `json:"model_id"`
	ShutdownState  string `json:"shutdown_state"`
}

type healthView struct {
	Status    string `json:"status"`
	UptimeMS  int64  `json:"uptime_ms"`
	PoolReady bool   `json:"pool_ready"`
}
