package dashboard

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/fyrsmithlabs/vaultd/internal/httpapi"
)

// Client fetches dashboard data from a running vaultd API.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a client for the vaultd control plane at baseURL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 5 * time.Second},
	}
}

// Status fetches the partition counts.
func (c *Client) Status(ctx context.Context) (*httpapi.StatusResponse, error) {
	var out httpapi.StatusResponse
	if err := c.get(ctx, "/api/v1/status", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Tasks fetches the tasks in one partition.
func (c *Client) Tasks(ctx context.Context, status string) ([]httpapi.TaskView, error) {
	var out []httpapi.TaskView
	path := "/api/v1/tasks?status=" + url.QueryEscape(status)
	if err := c.get(ctx, path, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("vaultd returned %s for %s", resp.Status, path)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
