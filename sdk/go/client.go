package plantlinesdk

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
)

// Client is a minimal Plantline HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Asset represents the API asset model.
type Asset struct {
	ID                     string   `json:"asset_id"`
	Type                   string   `json:"asset_type"`
	HealthScore            float64  `json:"health_score"`
	RiskLevel              float64  `json:"risk_level"`
	RequiredCertifications []string `json:"required_certifications,omitempty"`
	Operational            bool     `json:"operational"`
}

// Engineer represents the API engineer model.
type Engineer struct {
	ID             string   `json:"engineer_id"`
	Name           string   `json:"name"`
	Team           string   `json:"team,omitempty"`
	Certifications []string `json:"certifications,omitempty"`
	Fatigue        float64  `json:"fatigue"`
}

// Decision is one allocation made by a schedule run.
type Decision struct {
	OrderID         string `json:"order_id"`
	EngineerID      string `json:"engineer_id"`
	EngineerName    string `json:"engineer_name"`
	AssetID         string `json:"asset_id"`
	DurationMinutes int    `json:"duration_minutes"`
	StartTime       string `json:"start_time"`
	EndTime         string `json:"end_time"`
}

// ScheduleResult reports one schedule run.
type ScheduleResult struct {
	Status        string     `json:"status"`
	OrdersCreated int        `json:"orders_created"`
	Decisions     []Decision `json:"decisions"`
	Unstaffed     []string   `json:"unstaffed,omitempty"`
}

// Order represents a maintenance order.
type Order struct {
	ID                 string  `json:"order_id"`
	AssetID            string  `json:"asset_id"`
	AssignedEngineerID *string `json:"assigned_engineer_id,omitempty"`
	Status             string  `json:"status"`
	Priority           float64 `json:"priority"`
}

// Alert is a staffing-gap alert.
type Alert struct {
	ID       int64  `json:"id"`
	Severity string `json:"severity"`
	Message  string `json:"message"`
	AssetID  string `json:"asset_id,omitempty"`
	OrderID  string `json:"order_id,omitempty"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// CreateAsset registers an asset.
func (c *Client) CreateAsset(ctx context.Context, asset Asset) (Asset, error) {
	var resp Asset
	err := c.do(ctx, http.MethodPost, "v0/assets", asset, &resp)
	return resp, err
}

// ListAssets returns all assets.
func (c *Client) ListAssets(ctx context.Context) ([]Asset, error) {
	var resp []Asset
	err := c.do(ctx, http.MethodGet, "v0/assets", nil, &resp)
	return resp, err
}

// CreateEngineer registers an engineer.
func (c *Client) CreateEngineer(ctx context.Context, engineer Engineer) (Engineer, error) {
	var resp Engineer
	err := c.do(ctx, http.MethodPost, "v0/engineers", engineer, &resp)
	return resp, err
}

// ListEngineers returns all engineers with live fatigue.
func (c *Client) ListEngineers(ctx context.Context) ([]Engineer, error) {
	var resp []Engineer
	err := c.do(ctx, http.MethodGet, "v0/engineers", nil, &resp)
	return resp, err
}

// RunSchedule triggers one allocation pass.
func (c *Client) RunSchedule(ctx context.Context) (ScheduleResult, error) {
	var resp ScheduleResult
	err := c.do(ctx, http.MethodPost, "v0/schedule", nil, &resp)
	return resp, err
}

// ListOrders returns orders, optionally filtered by status.
func (c *Client) ListOrders(ctx context.Context, status string) ([]Order, error) {
	endpoint := "v0/orders"
	if status != "" {
		endpoint += "?status=" + url.QueryEscape(status)
	}
	var resp []Order
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// CompleteOrder closes an order and restores its asset.
func (c *Client) CompleteOrder(ctx context.Context, orderID string) (Order, error) {
	var resp Order
	endpoint := fmt.Sprintf("v0/orders/%s/complete", url.PathEscape(orderID))
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp, err
}

// Alerts returns recent staffing-gap alerts.
func (c *Client) Alerts(ctx context.Context, limit int) ([]Alert, error) {
	endpoint := "v0/alerts"
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	var resp []Alert
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
