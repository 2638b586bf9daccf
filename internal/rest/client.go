// Package rest is the thin snapshot/auth client for the dispatch REST API.
// It distinguishes three failure classes: missing credential (no network
// call made), transport failure, and a non-success server status.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/example/courier-dispatch/internal/models"
)

// ErrAuthRequired is returned before any network call when no credential
// is present; resolved by re-login, not by retrying.
var ErrAuthRequired = errors.New("authentication required")

// ConnectivityError wraps a transport-level failure: the server was never
// reached, so the call is retryable as-is.
type ConnectivityError struct {
	Err error
}

func (e *ConnectivityError) Error() string { return "connectivity: " + e.Err.Error() }
func (e *ConnectivityError) Unwrap() error { return e.Err }

// StatusError carries a reply the server deliberately produced.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("server status %d: %s", e.Code, e.Message)
}

// Client performs REST lookups against the dispatch backend.
type Client struct {
	BaseURL string
	HTTP    *http.Client

	mu    sync.RWMutex
	token string
}

func NewClient(baseURL string) *Client {
	return &Client{BaseURL: baseURL, HTTP: &http.Client{Timeout: 10 * time.Second}}
}

// SetToken installs or clears the auth credential.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// envelope is the backend's uniform response wrapper.
type envelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// LoginResult is the profile+credential pair returned by login.
type LoginResult struct {
	Token  string `json:"token"`
	Driver struct {
		ID    string `json:"id"`
		Name  string `json:"name"`
		Phone string `json:"phone"`
	} `json:"driver"`
}

// Login exchanges phone+password for a token and profile. On success the
// token is installed on the client.
func (c *Client) Login(ctx context.Context, phone, password string) (LoginResult, error) {
	var out LoginResult
	body := map[string]string{"phone": phone, "password": password}
	if err := c.call(ctx, http.MethodPost, "/api/v1/auth/login", body, &out, false); err != nil {
		return LoginResult{}, err
	}
	c.SetToken(out.Token)
	return out, nil
}

// AvailableOrders lists cooked orders waiting for a driver.
func (c *Client) AvailableOrders(ctx context.Context) ([]models.Order, error) {
	var out []models.Order
	if err := c.call(ctx, http.MethodGet, "/api/v1/orders/available", nil, &out, true); err != nil {
		return nil, err
	}
	normalize(out)
	return out, nil
}

// OrdersByStatus lists the authenticated driver's orders in one status.
func (c *Client) OrdersByStatus(ctx context.Context, status models.OrderStatus) ([]models.Order, error) {
	var out []models.Order
	path := "/api/v1/orders?status=" + url.QueryEscape(string(status))
	if err := c.call(ctx, http.MethodGet, path, nil, &out, true); err != nil {
		return nil, err
	}
	normalize(out)
	return out, nil
}

// History lists the driver's completed orders.
func (c *Client) History(ctx context.Context) ([]models.Order, error) {
	return c.OrdersByStatus(ctx, models.StatusDelivered)
}

// VerifyDelivery confirms handover with the customer's pickup code.
func (c *Client) VerifyDelivery(ctx context.Context, orderID, code string) error {
	body := map[string]string{"orderId": orderID, "code": code}
	return c.call(ctx, http.MethodPost, "/api/v1/orders/verify-delivery", body, nil, true)
}

// ChangePassword rotates the driver's password.
func (c *Client) ChangePassword(ctx context.Context, oldPassword, newPassword string) error {
	body := map[string]string{"oldPassword": oldPassword, "newPassword": newPassword}
	return c.call(ctx, http.MethodPost, "/api/v1/auth/change-password", body, nil, true)
}

func (c *Client) call(ctx context.Context, method, path string, body any, out any, needAuth bool) error {
	token := c.Token()
	if needAuth && token == "" {
		return ErrAuthRequired
	}

	var rd *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(b)
	} else {
		rd = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, rd)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return &ConnectivityError{Err: err}
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		if resp.StatusCode/100 != 2 {
			return &StatusError{Code: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		}
		return fmt.Errorf("decoding response: %w", err)
	}
	if resp.StatusCode/100 != 2 || env.Status != "success" {
		return &StatusError{Code: resp.StatusCode, Message: env.Message}
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("decoding payload: %w", err)
		}
	}
	return nil
}

// normalize maps wire statuses onto the canonical enum. Money fields are
// already normalized by the Amount decoder.
func normalize(orders []models.Order) {
	for i := range orders {
		orders[i].Status = models.NormalizeStatus(string(orders[i].Status))
	}
}
