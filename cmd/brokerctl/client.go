package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

// Client talks to the broker diagnostics API.
type Client struct {
	addr string
	http *http.Client
}

func newClient() *Client {
	addr := cliConfig.Address
	if env := os.Getenv("BROKER_ADDR"); env != "" {
		addr = env
	}
	return &Client{
		addr: strings.TrimSuffix(addr, "/"),
		http: &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *Client) get(path string) (map[string]any, error) {
	return c.do(http.MethodGet, path)
}

func (c *Client) post(path string) (map[string]any, error) {
	return c.do(http.MethodPost, path)
}

func (c *Client) delete(path string) (map[string]any, error) {
	return c.do(http.MethodDelete, path)
}

func (c *Client) do(method, path string) (map[string]any, error) {
	req, err := http.NewRequest(method, c.addr+path, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("connection failed: %w", err)
	}
	defer resp.Body.Close()
	return parseResponse(resp)
}

func parseResponse(resp *http.Response) (map[string]any, error) {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var result map[string]any
	if len(body) > 0 {
		if err := json.Unmarshal(body, &result); err != nil {
			return nil, fmt.Errorf("invalid response (status %d): %s", resp.StatusCode, string(body))
		}
	}

	if resp.StatusCode >= 400 {
		if errs, ok := result["errors"].([]any); ok && len(errs) > 0 {
			msgs := make([]string, 0, len(errs))
			for _, e := range errs {
				msgs = append(msgs, fmt.Sprint(e))
			}
			return nil, fmt.Errorf("%s", strings.Join(msgs, "; "))
		}
		return nil, fmt.Errorf("request failed with status %d", resp.StatusCode)
	}
	return result, nil
}
