package fablinesdk

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

// Client is a minimal Fabline HTTP API client.
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

// Plan represents the API production-plan model (partial).
type Plan struct {
	ID              int64      `json:"id"`
	SalesOrderID    *int64     `json:"sales_order_id,omitempty"`
	ReplenishmentID *int64     `json:"replenishment_id,omitempty"`
	PlanDate        string     `json:"plan_date,omitempty"`
	Status          string     `json:"status"`
	Note            string     `json:"note,omitempty"`
	Items           []PlanItem `json:"items,omitempty"`
}

// PlanItem is one process step of a plan.
type PlanItem struct {
	ID          int64  `json:"id"`
	PlanID      int64  `json:"plan_id"`
	ProductID   int64  `json:"product_id"`
	ProcessName string `json:"process_name"`
	Sequence    int    `json:"sequence"`
	Mode        string `json:"mode"`
	Quantity    int    `json:"quantity"`
	PartnerName string `json:"partner_name,omitempty"`
	Status      string `json:"status"`
}

// Order is a purchase or outsourcing order.
type Order struct {
	ID           int64       `json:"id"`
	Kind         string      `json:"kind"`
	OrderNo      string      `json:"order_no"`
	PartnerName  string      `json:"partner_name,omitempty"`
	Status       string      `json:"status"`
	OrderDate    string      `json:"order_date,omitempty"`
	DeliveryDate *string     `json:"delivery_date,omitempty"`
	Items        []OrderLine `json:"items,omitempty"`
}

// OrderLine is one line of an external order.
type OrderLine struct {
	ID               int64  `json:"id"`
	OrderID          int64  `json:"order_id"`
	ProductID        int64  `json:"product_id"`
	PlanItemID       *int64 `json:"plan_item_id,omitempty"`
	OrderedQuantity  int    `json:"ordered_quantity"`
	ReceivedQuantity int    `json:"received_quantity"`
	Status           string `json:"status"`
}

// Stock holds the per-product counters.
type Stock struct {
	ProductID            int64  `json:"product_id"`
	OnHandQuantity       int    `json:"on_hand_quantity"`
	InProductionQuantity int    `json:"in_production_quantity"`
	Location             string `json:"location,omitempty"`
}

// Event represents an audit log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload,omitempty"`
}

// PlanItemInput is one explicit item for plan creation.
type PlanItemInput struct {
	ProductID     int64  `json:"product_id"`
	ProcessName   string `json:"process_name"`
	Sequence      int    `json:"sequence"`
	Mode          string `json:"mode"`
	Quantity      int    `json:"quantity"`
	PartnerName   string `json:"partner_name,omitempty"`
	EstimatedCost string `json:"estimated_cost,omitempty"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// CreatePlan creates (or idempotently returns) a plan for one demand.
// Exactly one of salesOrderID or replenishmentID must be non-nil. Pass
// items to override routing expansion.
func (c *Client) CreatePlan(ctx context.Context, salesOrderID, replenishmentID *int64, planDate string, items []PlanItemInput) (Plan, error) {
	body := map[string]any{}
	if salesOrderID != nil {
		body["sales_order_id"] = *salesOrderID
	}
	if replenishmentID != nil {
		body["replenishment_id"] = *replenishmentID
	}
	if planDate != "" {
		body["plan_date"] = planDate
	}
	if len(items) > 0 {
		body["items"] = items
	}
	var resp Plan
	err := c.do(ctx, http.MethodPost, "v0/production/plans", body, &resp)
	return resp, err
}

// GetPlan fetches a plan with its items.
func (c *Client) GetPlan(ctx context.Context, id int64) (Plan, error) {
	var resp Plan
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("v0/production/plans/%d", id), nil, &resp)
	return resp, err
}

// SetPlanStatus transitions a plan.
func (c *Client) SetPlanStatus(ctx context.Context, id int64, status string) (Plan, error) {
	var resp Plan
	err := c.do(ctx, http.MethodPatch, fmt.Sprintf("v0/production/plans/%d/status", id), map[string]any{"status": status}, &resp)
	return resp, err
}

// DeletePlan removes a plan and its dependents. When deleteRelatedOrders
// is nil the server-side default applies.
func (c *Client) DeletePlan(ctx context.Context, id int64, deleteRelatedOrders *bool) error {
	endpoint := fmt.Sprintf("v0/production/plans/%d", id)
	if deleteRelatedOrders != nil {
		endpoint = fmt.Sprintf("%s?delete_related_orders=%t", endpoint, *deleteRelatedOrders)
	}
	return c.do(ctx, http.MethodDelete, endpoint, nil, nil)
}

// RecordWorkLog reports produced quantity against a plan item.
func (c *Client) RecordWorkLog(ctx context.Context, planItemID int64, quantity int, workDate string) (PlanItem, error) {
	body := map[string]any{"quantity": quantity}
	if workDate != "" {
		body["work_date"] = workDate
	}
	var resp PlanItem
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("v0/production/plan-items/%d/work-logs", planItemID), body, &resp)
	return resp, err
}

// Orders lists purchase or outsourcing orders; kind is "purchase" or
// "outsourcing".
func (c *Client) Orders(ctx context.Context, kind string, limit int) ([]Order, error) {
	endpoint := fmt.Sprintf("v0/purchasing/%s-orders", kind)
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	var resp []Order
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Stocks lists the stock counters.
func (c *Client) Stocks(ctx context.Context) ([]Stock, error) {
	var resp []Stock
	err := c.do(ctx, http.MethodGet, "v0/inventory/stocks", nil, &resp)
	return resp, err
}

// Events returns recent audit events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	endpoint := "v0/events"
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	var resp []Event
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
