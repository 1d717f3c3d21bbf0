// Package costrouter provides a Go client for the Cloud Cost Router API.
//
// Basic Usage:
//
//	client := costrouter.NewClient("https://costs.example.com")
//
//	resp, err := client.FetchCosts(ctx, costrouter.CostRequest{
//		CloudProvider: costrouter.AWS,
//		StartDate:     "2024-01-01",
//		EndDate:       "2024-02-01",
//		GroupBy:       []string{"SERVICE"},
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	fmt.Printf("Total: %s %s\n", resp.Total, resp.Currency)
//
// Administrative Usage:
//
//	adminClient := costrouter.NewAdminClient("https://costs.example.com", "admin-token")
//	status, err := adminClient.GetAdminStatus(ctx)
package costrouter

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

const (
	AWS   = "aws"
	Azure = "azure"
)

// Client provides access to the cost endpoint
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// AdminClient provides access to administrative endpoints
type AdminClient struct {
	baseURL    string
	adminToken string
	httpClient *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

func NewAdminClient(baseURL, adminToken string) *AdminClient {
	return &AdminClient{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		adminToken: adminToken,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// WithHTTPClient allows customization of the underlying HTTP client
func (c *Client) WithHTTPClient(client *http.Client) *Client {
	c.httpClient = client
	return c
}

func (c *AdminClient) WithHTTPClient(client *http.Client) *AdminClient {
	c.httpClient = client
	return c
}

// CostRequest is the body of POST /costs. Fields other than CloudProvider
// are read by the selected provider only; SubscriptionID and Scope apply to
// azure, Metrics to aws.
type CostRequest struct {
	CloudProvider  string   `json:"cloudProvider"`
	StartDate      string   `json:"startDate,omitempty"`
	EndDate        string   `json:"endDate,omitempty"`
	Granularity    string   `json:"granularity,omitempty"`
	GroupBy        []string `json:"groupBy,omitempty"`
	Metrics        []string `json:"metrics,omitempty"`
	SubscriptionID string   `json:"subscriptionId,omitempty"`
	Scope          string   `json:"scope,omitempty"`
}

// CostReport mirrors the server's report. Amounts are decimal strings so no
// precision is lost.
type CostReport struct {
	Provider    string       `json:"provider"`
	Start       string       `json:"start"`
	End         string       `json:"end"`
	Granularity string       `json:"granularity"`
	Currency    string       `json:"currency"`
	Total       string       `json:"total"`
	Periods     []PeriodCost `json:"periods"`
}

type PeriodCost struct {
	Start  string      `json:"start"`
	End    string      `json:"end,omitempty"`
	Total  string      `json:"total"`
	Groups []GroupCost `json:"groups,omitempty"`
}

type GroupCost struct {
	Keys   []string `json:"keys"`
	Amount string   `json:"amount"`
	Unit   string   `json:"unit"`
}

type envelope struct {
	Success bool            `json:"success"`
	Costs   json.RawMessage `json:"costs,omitempty"`
	Message string          `json:"message,omitempty"`
}

// Error is returned for any non-200 response.
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.Status, e.Message)
}

// FetchCosts posts the request to /costs and decodes the report.
func (c *Client) FetchCosts(ctx context.Context, req CostRequest) (*CostReport, error) {
	raw, err := c.FetchRaw(ctx, req)
	if err != nil {
		return nil, err
	}
	var report CostReport
	if err := json.Unmarshal(raw, &report); err != nil {
		return nil, fmt.Errorf("decode costs: %w", err)
	}
	return &report, nil
}

// FetchRaw returns the costs payload without decoding it.
func (c *Client) FetchRaw(ctx context.Context, req CostRequest) (json.RawMessage, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/costs", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		if resp.StatusCode != http.StatusOK {
			return nil, &Error{Status: resp.StatusCode, Message: string(data)}
		}
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if resp.StatusCode != http.StatusOK || !env.Success {
		return nil, &Error{Status: resp.StatusCode, Message: env.Message}
	}
	return env.Costs, nil
}

type AdminStatus struct {
	BuildInfo struct {
		Version string `json:"version"`
		Commit  string `json:"commit"`
	} `json:"build_info"`
	Uptime    string           `json:"uptime"`
	Providers []ProviderStatus `json:"providers"`
}

type ProviderStatus struct {
	Name       string `json:"name"`
	Configured bool   `json:"configured"`
}

// GetAdminStatus retrieves build info and provider status
func (c *AdminClient) GetAdminStatus(ctx context.Context) (*AdminStatus, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/admin/status", nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.adminToken)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, &Error{Status: resp.StatusCode, Message: strings.TrimSpace(string(body))}
	}

	var result AdminStatus
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &result, nil
}
