package client

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/kurihiro0119/gitlab-inventory/internal/domain"
	"github.com/kurihiro0119/gitlab-inventory/internal/report"
)

// Client is the API client for the gitlab-inventory server
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new API client
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// ListRuns retrieves the stored runs, newest first. limit <= 0 uses the server default.
func (c *Client) ListRuns(limit int) ([]*domain.InventoryRun, error) {
	var params url.Values
	if limit > 0 {
		params = url.Values{}
		params.Set("limit", strconv.Itoa(limit))
	}

	var response struct {
		Data []*domain.InventoryRun `json:"data"`
	}
	if err := c.get("/api/v1/runs", params, &response); err != nil {
		return nil, err
	}
	return response.Data, nil
}

// GetRun retrieves one run; runID may be "latest"
func (c *Client) GetRun(runID string) (*domain.InventoryRun, error) {
	var response struct {
		Data *domain.InventoryRun `json:"data"`
	}
	if err := c.get(runPath(runID, ""), nil, &response); err != nil {
		return nil, err
	}
	return response.Data, nil
}

// GetSummary retrieves the totals of a run
func (c *Client) GetSummary(runID string) (*domain.InventorySummary, error) {
	var response struct {
		Data *domain.InventorySummary `json:"data"`
	}
	if err := c.get(runPath(runID, "/summary"), nil, &response); err != nil {
		return nil, err
	}
	return response.Data, nil
}

// GetGroupSummaries retrieves one summary per group of a run
func (c *Client) GetGroupSummaries(runID string) ([]*domain.InventorySummary, error) {
	params := url.Values{}
	params.Set("by", "group")

	var response struct {
		Data []*domain.InventorySummary `json:"data"`
	}
	if err := c.get(runPath(runID, "/summary"), params, &response); err != nil {
		return nil, err
	}
	return response.Data, nil
}

// GetProjects retrieves the inventory rows of a run, optionally filtered by status
func (c *Client) GetProjects(runID string, status domain.RecordStatus) ([]report.Row, error) {
	var params url.Values
	if status != "" {
		params = url.Values{}
		params.Set("status", string(status))
	}

	var response struct {
		Data []report.Row `json:"data"`
	}
	if err := c.get(runPath(runID, "/projects"), params, &response); err != nil {
		return nil, err
	}
	return response.Data, nil
}

// GetGroups retrieves the groups discovered by a run
func (c *Client) GetGroups(runID string) ([]domain.GroupNode, error) {
	var response struct {
		Data []domain.GroupNode `json:"data"`
	}
	if err := c.get(runPath(runID, "/groups"), nil, &response); err != nil {
		return nil, err
	}
	return response.Data, nil
}

// HealthCheck checks if the API is healthy
func (c *Client) HealthCheck() error {
	var response struct {
		Status string `json:"status"`
	}
	if err := c.get("/health", nil, &response); err != nil {
		return err
	}
	if response.Status != "ok" {
		return fmt.Errorf("unhealthy status: %s", response.Status)
	}
	return nil
}

func runPath(runID, suffix string) string {
	return "/api/v1/runs/" + url.PathEscape(runID) + suffix
}

func (c *Client) get(path string, params url.Values, result interface{}) error {
	u, err := url.Parse(c.baseURL + path)
	if err != nil {
		return err
	}
	if params != nil {
		u.RawQuery = params.Encode()
	}

	resp, err := c.httpClient.Get(u.String())
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("API error: %s - %s", resp.Status, string(body))
	}

	return json.NewDecoder(resp.Body).Decode(result)
}
