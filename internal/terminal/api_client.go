package terminal

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"floor-sync/internal/models"

	"github.com/go-resty/resty/v2"
)

// ErrRecoverable marks a failed write that never reached a verdict from the server.
// Local state is left unchanged and the action may be retried.
var ErrRecoverable = errors.New("recoverable error")

// APIError is a request the server answered with a rejection
type APIError struct {
	Status  int
	Message string
	Details string
}

func (e *APIError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s (%d): %s", e.Message, e.Status, e.Details)
	}
	return fmt.Sprintf("%s (%d)", e.Message, e.Status)
}

// Rejected reports whether the server refused the request as invalid or conflicting
func (e *APIError) Rejected() bool {
	return e.Status == http.StatusBadRequest || e.Status == http.StatusConflict
}

type errorBody struct {
	Error   string `json:"error"`
	Details string `json:"details"`
}

// APIClient talks to the floor HTTP API. Reads are retried once on transport errors;
// writes are never retried.
type APIClient struct {
	reads  *resty.Client
	writes *resty.Client
}

// NewAPIClient creates a client for baseURL acting as staffID
func NewAPIClient(baseURL string, staffID int64) *APIClient {
	base := func() *resty.Client {
		c := resty.New().
			SetBaseURL(strings.TrimRight(baseURL, "/")).
			SetTimeout(10*time.Second).
			SetHeader("Content-Type", "application/json").
			SetHeader("Accept", "application/json")
		if staffID > 0 {
			c.SetHeader("X-Staff-ID", strconv.FormatInt(staffID, 10))
		}
		return c
	}

	return &APIClient{
		reads: base().
			SetRetryCount(1).
			SetRetryWaitTime(200 * time.Millisecond).
			SetRetryMaxWaitTime(time.Second),
		writes: base(),
	}
}

func (c *APIClient) get(ctx context.Context, path string, query map[string]string, result interface{}) error {
	resp, err := c.reads.R().
		SetContext(ctx).
		SetQueryParams(query).
		SetResult(result).
		SetError(&errorBody{}).
		Get(path)
	if err != nil {
		return fmt.Errorf("GET %s: %w", path, err)
	}
	return responseError(resp)
}

func (c *APIClient) send(ctx context.Context, method, path string, body, result interface{}) error {
	req := c.writes.R().
		SetContext(ctx).
		SetResult(result).
		SetError(&errorBody{})
	if body != nil {
		req.SetBody(body)
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %v", ErrRecoverable, method, path, err)
	}
	if err := responseError(resp); err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Status >= http.StatusInternalServerError {
			return fmt.Errorf("%w: %v", ErrRecoverable, err)
		}
		return err
	}
	return nil
}

func responseError(resp *resty.Response) error {
	if !resp.IsError() {
		return nil
	}
	apiErr := &APIError{Status: resp.StatusCode(), Message: http.StatusText(resp.StatusCode())}
	if body, ok := resp.Error().(*errorBody); ok && body.Error != "" {
		apiErr.Message = body.Error
		apiErr.Details = body.Details
	}
	return apiErr
}

func restaurantPath(restaurantID int64, suffix string) string {
	return "/api/v1/restaurants/" + strconv.FormatInt(restaurantID, 10) + suffix
}

// ListOrders fetches the restaurant's orders in statuses
func (c *APIClient) ListOrders(ctx context.Context, restaurantID int64, statuses []models.OrderStatus) ([]models.Order, error) {
	parts := make([]string, len(statuses))
	for i, s := range statuses {
		parts[i] = string(s)
	}

	var orders []models.Order
	err := c.get(ctx, restaurantPath(restaurantID, "/orders"), map[string]string{"status": strings.Join(parts, ",")}, &orders)
	return orders, err
}

// CountOrders asks the server how many orders are in status
func (c *APIClient) CountOrders(ctx context.Context, restaurantID int64, status models.OrderStatus) (int, error) {
	var out struct {
		Count int `json:"count"`
	}
	err := c.get(ctx, restaurantPath(restaurantID, "/orders/count"), map[string]string{"status": string(status)}, &out)
	return out.Count, err
}

// ListTables fetches the restaurant's tables
func (c *APIClient) ListTables(ctx context.Context, restaurantID int64) ([]models.Table, error) {
	var tables []models.Table
	err := c.get(ctx, restaurantPath(restaurantID, "/tables"), nil, &tables)
	return tables, err
}

// ActiveCalls fetches pending and acknowledged calls, optionally for one staff member
func (c *APIClient) ActiveCalls(ctx context.Context, restaurantID int64, staffID *int64) ([]models.WaiterCall, error) {
	query := map[string]string{}
	if staffID != nil {
		query["staffId"] = strconv.FormatInt(*staffID, 10)
	}

	var calls []models.WaiterCall
	err := c.get(ctx, restaurantPath(restaurantID, "/waiter-calls/active"), query, &calls)
	return calls, err
}

// UpdateOrderStatus moves an order along its pipeline
func (c *APIClient) UpdateOrderStatus(ctx context.Context, orderID int64, status models.OrderStatus) (*models.Order, error) {
	var order models.Order
	path := "/api/v1/orders/" + strconv.FormatInt(orderID, 10) + "/status"
	if err := c.send(ctx, http.MethodPatch, path, map[string]interface{}{"status": status}, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

// UpdateTableStatus sets a table's raw status
func (c *APIClient) UpdateTableStatus(ctx context.Context, tableID int64, status models.TableStatus, reason string) (*models.Table, error) {
	var table models.Table
	path := "/api/v1/tables/" + strconv.FormatInt(tableID, 10) + "/status"
	body := map[string]interface{}{"status": status, "reason": reason}
	if err := c.send(ctx, http.MethodPatch, path, body, &table); err != nil {
		return nil, err
	}
	return &table, nil
}

// FreeTable ends the table's session
func (c *APIClient) FreeTable(ctx context.Context, tableID int64) (*models.Table, error) {
	var out struct {
		Table models.Table `json:"table"`
	}
	path := "/api/v1/tables/" + strconv.FormatInt(tableID, 10) + "/free"
	if err := c.send(ctx, http.MethodPost, path, nil, &out); err != nil {
		return nil, err
	}
	return &out.Table, nil
}

// AcknowledgeCall acknowledges a waiter call
func (c *APIClient) AcknowledgeCall(ctx context.Context, callID int64) (*models.WaiterCall, error) {
	var call models.WaiterCall
	path := "/api/v1/waiter-calls/" + strconv.FormatInt(callID, 10) + "/acknowledge"
	if err := c.send(ctx, http.MethodPost, path, nil, &call); err != nil {
		return nil, err
	}
	return &call, nil
}

// ResolveCall resolves a waiter call
func (c *APIClient) ResolveCall(ctx context.Context, callID int64) (*models.WaiterCall, error) {
	var call models.WaiterCall
	path := "/api/v1/waiter-calls/" + strconv.FormatInt(callID, 10) + "/resolve"
	if err := c.send(ctx, http.MethodPost, path, nil, &call); err != nil {
		return nil, err
	}
	return &call, nil
}
