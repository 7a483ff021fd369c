// Package client talks to the device API of a running appmanager.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"appmanager/internal/constants"
	"appmanager/internal/db"
	"appmanager/internal/errors"
	"appmanager/internal/server"
	"appmanager/internal/types"
)

// Client represents the HTTP/WebSocket client for the device API
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a new client instance
func New(serverURL string) (*Client, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return nil, fmt.Errorf("invalid server URL: %w", err)
	}
	if u.Scheme == "" {
		u.Scheme = "http"
	}
	if u.Host == "" {
		return nil, fmt.Errorf("invalid server URL %q: missing host", serverURL)
	}

	return &Client{
		baseURL: u.String(),
		httpClient: &http.Client{
			Timeout: constants.DefaultHTTPClientTimeout,
		},
	}, nil
}

// SetTimeout replaces the per-request timeout. Zero disables it.
func (c *Client) SetTimeout(d time.Duration) {
	c.httpClient.Timeout = d
}

// doRequest performs a JSON request and decodes the response into out.
// Error envelopes are returned as *errors.AppError.
func (c *Client) doRequest(ctx context.Context, method, path string, body, out interface{}, expected ...int) error {
	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.NetworkConnectionError(c.baseURL, err)
	}
	defer resp.Body.Close()

	if len(expected) == 0 {
		expected = []int{http.StatusOK}
	}
	for _, code := range expected {
		if resp.StatusCode == code {
			if out == nil {
				return nil
			}
			if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
				return fmt.Errorf("failed to decode response: %w", err)
			}
			return nil
		}
	}
	return decodeError(method, path, resp)
}

func decodeError(method, path string, resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))

	var envelope errors.HTTPErrorResponse
	if err := json.Unmarshal(data, &envelope); err == nil && envelope.Error.Code != "" {
		ae := errors.NewWithDetails(envelope.Error.Code, envelope.Error.Message, envelope.Error.Details)
		ae.HTTPStatus = resp.StatusCode
		for k, v := range envelope.Context {
			ae.WithContext(k, v)
		}
		return ae
	}
	return errors.APICallError(method, path, fmt.Errorf("unexpected status %s", resp.Status))
}

func applyQuery(path string, apply bool) string {
	if apply {
		return path + "?apply=true"
	}
	return path
}

// Ping checks that the server answers
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/ping", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.NetworkConnectionError(c.baseURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ping failed: %s", resp.Status)
	}
	return nil
}

// Healthy reports whether the runtime and database are reachable
func (c *Client) Healthy(ctx context.Context) error {
	return c.doRequest(ctx, http.MethodGet, "/v1/healthy", nil, nil)
}

// Device returns the device summary
func (c *Client) Device(ctx context.Context) (*server.DeviceResponse, error) {
	var out server.DeviceResponse
	if err := c.doRequest(ctx, http.MethodGet, "/v1/device", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Status returns the reconciler status
func (c *Client) Status(ctx context.Context) (*server.StatusResponse, error) {
	var out server.StatusResponse
	if err := c.doRequest(ctx, http.MethodGet, "/v2/reconciliation/status", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CurrentState returns the last observed state
func (c *Client) CurrentState(ctx context.Context) (*types.StateSnapshot, error) {
	out := types.NewSnapshot()
	if err := c.doRequest(ctx, http.MethodGet, "/v2/applications/state", nil, out); err != nil {
		return nil, err
	}
	return out, nil
}

// AppState returns the observed state of one application
func (c *Client) AppState(ctx context.Context, appID int) (*types.Application, error) {
	var out types.Application
	if err := c.doRequest(ctx, http.MethodGet, fmt.Sprintf("/v2/applications/%d/state", appID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ServiceLogs returns the output tail of an application's services.
// An empty serviceName selects every service.
func (c *Client) ServiceLogs(ctx context.Context, appID int, serviceName string, tail int) (*server.LogsResponse, error) {
	q := url.Values{}
	if serviceName != "" {
		q.Set("service", serviceName)
	}
	if tail > 0 {
		q.Set("tail", strconv.Itoa(tail))
	}
	path := fmt.Sprintf("/v2/applications/%d/logs", appID)
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var out server.LogsResponse
	if err := c.doRequest(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Target returns the target state
func (c *Client) Target(ctx context.Context) (*types.StateSnapshot, error) {
	out := types.NewSnapshot()
	if err := c.doRequest(ctx, http.MethodGet, "/v2/state/target", nil, out); err != nil {
		return nil, err
	}
	return out, nil
}

// SetTarget replaces the whole target state
func (c *Client) SetTarget(ctx context.Context, snap *types.StateSnapshot, apply bool) (*server.TargetResponse, error) {
	var out server.TargetResponse
	if err := c.doRequest(ctx, http.MethodPut, applyQuery("/v2/state/target", apply), snap, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SetAppTarget replaces one application in the target state
func (c *Client) SetAppTarget(ctx context.Context, app *types.Application, apply bool) (*server.TargetResponse, error) {
	var out server.TargetResponse
	path := applyQuery(fmt.Sprintf("/v2/applications/%d/target", app.AppID), apply)
	if err := c.doRequest(ctx, http.MethodPut, path, app, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RemoveAppTarget removes one application from the target state
func (c *Client) RemoveAppTarget(ctx context.Context, appID int, apply bool) (*server.TargetResponse, error) {
	var out server.TargetResponse
	path := applyQuery(fmt.Sprintf("/v2/applications/%d/target", appID), apply)
	if err := c.doRequest(ctx, http.MethodDelete, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Apply queues a reconciliation pass. With wait the pass runs before
// the call returns and its record is included.
func (c *Client) Apply(ctx context.Context, wait bool) (*server.ApplyResponse, error) {
	var out server.ApplyResponse
	path := "/v2/applications/apply"
	if wait {
		path += "?wait=true"
	}
	if err := c.doRequest(ctx, http.MethodPost, path, nil, &out, http.StatusOK, http.StatusAccepted); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) serviceAction(ctx context.Context, action string, appID int, serviceName string, force bool) (*server.ActionResponse, error) {
	var out server.ActionResponse
	req := server.ServiceActionRequest{ServiceName: serviceName, Force: force}
	if err := c.doRequest(ctx, http.MethodPost, fmt.Sprintf("/v2/applications/%d/%s", appID, action), req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RestartService restarts one service
func (c *Client) RestartService(ctx context.Context, appID int, serviceName string, force bool) (*server.ActionResponse, error) {
	return c.serviceAction(ctx, "restart-service", appID, serviceName, force)
}

// StopService stops one service
func (c *Client) StopService(ctx context.Context, appID int, serviceName string, force bool) (*server.ActionResponse, error) {
	return c.serviceAction(ctx, "stop-service", appID, serviceName, force)
}

// StartService starts one service
func (c *Client) StartService(ctx context.Context, appID int, serviceName string, force bool) (*server.ActionResponse, error) {
	return c.serviceAction(ctx, "start-service", appID, serviceName, force)
}

// RestartApp restarts every service of an application
func (c *Client) RestartApp(ctx context.Context, appID int, force bool) (*server.ActionResponse, error) {
	var out server.ActionResponse
	if err := c.doRequest(ctx, http.MethodPost, fmt.Sprintf("/v2/applications/%d/restart", appID),
		server.ForceRequest{Force: force}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// PurgeApp removes an application's containers and volumes
func (c *Client) PurgeApp(ctx context.Context, appID int, force bool) (*server.ActionResponse, error) {
	var out server.ActionResponse
	if err := c.doRequest(ctx, http.MethodPost, fmt.Sprintf("/v2/applications/%d/purge", appID),
		server.ForceRequest{Force: force}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListRuns returns one page of the run log, newest first
func (c *Client) ListRuns(ctx context.Context, page, pageSize int) (*db.PaginatedResponse[types.ReconciliationRun], error) {
	q := url.Values{}
	if page > 0 {
		q.Set("page", strconv.Itoa(page))
	}
	if pageSize > 0 {
		q.Set("page_size", strconv.Itoa(pageSize))
	}
	path := "/v2/reconciliation/runs"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var out db.PaginatedResponse[types.ReconciliationRun]
	if err := c.doRequest(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetRun returns one run with its steps
func (c *Client) GetRun(ctx context.Context, id string) (*types.ReconciliationRun, error) {
	var out types.ReconciliationRun
	if err := c.doRequest(ctx, http.MethodGet, "/v2/reconciliation/runs/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// WebSocketConnect establishes a WebSocket connection to path
func (c *Client) WebSocketConnect(ctx context.Context, path string) (*websocket.Conn, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, err
	}

	wsScheme := "ws"
	if u.Scheme == "https" {
		wsScheme = "wss"
	}
	wsURL := fmt.Sprintf("%s://%s%s", wsScheme, u.Host, path)

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("WebSocket connection failed: %w", err)
	}
	return conn, nil
}

// WatchEvents streams reconciler messages to fn until ctx is done, the
// server closes the stream, or fn returns false.
func (c *Client) WatchEvents(ctx context.Context, fn func(server.ServerMessage) bool) error {
	conn, err := c.WebSocketConnect(ctx, "/v2/reconciliation/events")
	if err != nil {
		return err
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	for {
		var msg server.ServerMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("event stream: %w", err)
		}
		if !fn(msg) {
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			return nil
		}
	}
}
