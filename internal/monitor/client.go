package monitor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/fieldguide/guidance/internal/httputil"
)

// Client talks to a running guidance server.
type Client struct {
	base string
	doer httputil.Doer
}

// NewClient returns a client for the server at base, for example
// "http://127.0.0.1:8080". A nil doer uses http.DefaultClient.
func NewClient(base string, doer httputil.Doer) *Client {
	if doer == nil {
		doer = http.DefaultClient
	}
	return &Client{base: strings.TrimRight(base, "/"), doer: doer}
}

func (c *Client) get(ctx context.Context, path string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.doer.Do(req)
	if err != nil {
		return fmt.Errorf("GET %s: %w", path, err)
	}
	if err := httputil.ReadJSON(resp, v); err != nil {
		return fmt.Errorf("GET %s: %w", path, err)
	}
	return nil
}

// Status fetches the engine summary.
func (c *Client) Status(ctx context.Context) (StatusView, error) {
	var v StatusView
	err := c.get(ctx, "/api/status", &v)
	return v, err
}

// Plan fetches the current plan.
func (c *Client) Plan(ctx context.Context) (PlanView, error) {
	var v PlanView
	err := c.get(ctx, "/api/plan", &v)
	return v, err
}

// ActivePlan fetches the active pass.
func (c *Client) ActivePlan(ctx context.Context) (PlanView, error) {
	var v PlanView
	err := c.get(ctx, "/api/plan/active", &v)
	return v, err
}

// Send posts command or pose lines and returns how many were accepted.
func (c *Client) Send(ctx context.Context, lines ...string) (int, error) {
	body, err := json.Marshal(commandRequest{Lines: lines})
	if err != nil {
		return 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/api/command", bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.doer.Do(req)
	if err != nil {
		return 0, fmt.Errorf("send commands: %w", err)
	}
	var out struct {
		Accepted int `json:"accepted"`
	}
	if err := httputil.ReadJSON(resp, &out); err != nil {
		return 0, fmt.Errorf("send commands: %w", err)
	}
	return out.Accepted, nil
}
