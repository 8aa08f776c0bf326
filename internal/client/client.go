// Package client talks to the calm-todo HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"calm-todo/pkg/aggregate"
	"calm-todo/pkg/auth"
	"calm-todo/pkg/task"
)

// ErrUnauthorized is returned for 401 answers.
var ErrUnauthorized = errors.New("unauthorized")

// Client is an authenticated API client.
type Client struct {
	base  string
	token string
	tz    string
	http  *http.Client
}

// New creates a Client for the server at base, e.g. http://localhost:8080.
// A nil hc uses a client with a 15 second timeout.
func New(base string, hc *http.Client) *Client {
	if hc == nil {
		hc = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{base: strings.TrimRight(base, "/"), http: hc}
}

// SetToken uses an already issued token.
func (c *Client) SetToken(token string) { c.token = token }

// SetTimezone sends an IANA zone name with every call so "today" is the
// caller's day. Empty leaves the server's choice.
func (c *Client) SetTimezone(name string) { c.tz = name }

// SignIn exchanges credentials for a token. A first sign-in with a new
// email claims the account with password.
func (c *Client) SignIn(ctx context.Context, name, email, password string) (*auth.User, error) {
	var resp struct {
		Token string     `json:"token"`
		User  *auth.User `json:"user"`
	}
	body := map[string]string{"name": name, "email": email, "password": password, "tz": c.tz}
	if err := c.do(ctx, http.MethodPost, "/api/auth/sign-in", body, &resp); err != nil {
		return nil, err
	}
	c.token = resp.Token
	return resp.User, nil
}

// Stats is the /api/views/stats answer.
type Stats struct {
	Today  aggregate.Stats         `json:"today"`
	Streak int                     `json:"streak"`
	Weekly []aggregate.DayActivity `json:"weekly"`
}

func (c *Client) Today(ctx context.Context) ([]task.Task, error) {
	var out []task.Task
	return out, c.do(ctx, http.MethodGet, "/api/views/today", nil, &out)
}

func (c *Client) Overdue(ctx context.Context) ([]task.Task, error) {
	var out []task.Task
	return out, c.do(ctx, http.MethodGet, "/api/views/overdue", nil, &out)
}

func (c *Client) Projects(ctx context.Context) ([]task.Project, error) {
	var out []task.Project
	return out, c.do(ctx, http.MethodGet, "/api/projects", nil, &out)
}

func (c *Client) ProjectTasks(ctx context.Context, id string) ([]task.Task, error) {
	var out []task.Task
	return out, c.do(ctx, http.MethodGet, "/api/projects/"+id+"/tasks", nil, &out)
}

func (c *Client) Stats(ctx context.Context) (Stats, error) {
	var out Stats
	return out, c.do(ctx, http.MethodGet, "/api/views/stats", nil, &out)
}

func (c *Client) CreateTask(ctx context.Context, in task.Input) (task.Task, error) {
	var out task.Task
	return out, c.do(ctx, http.MethodPost, "/api/tasks", in, &out)
}

func (c *Client) Toggle(ctx context.Context, id string) (task.Task, error) {
	var out task.Task
	return out, c.do(ctx, http.MethodPost, "/api/tasks/"+id+"/toggle", nil, &out)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if c.tz != "" {
		req.Header.Set("X-Timezone", c.tz)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("%s %s: %w", method, path, ErrUnauthorized)
	}
	if resp.StatusCode >= 400 {
		var e struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(raw, &e) == nil && e.Error != "" {
			return fmt.Errorf("%s %s: %d: %s", method, path, resp.StatusCode, e.Error)
		}
		return fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(raw, out)
}
