package blocklinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client is a minimal Blockline HTTP API client.
type Client struct {
	BaseURL     string
	BasePath    string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:  baseURL,
		BasePath: "/v0",
		Timeout:  10 * time.Second,
	}
}

// Task is a stored task as the API returns it.
type Task struct {
	ID        int64    `json:"id"`
	Title     string   `json:"title"`
	Assign    string   `json:"assign"`
	Starred   bool     `json:"starred"`
	Archived  bool     `json:"archived"`
	Startable *string  `json:"startable,omitempty"`
	Deadline  *string  `json:"deadline,omitempty"`
	Weight    *float64 `json:"weight,omitempty"`
	Link      *string  `json:"link,omitempty"`
	CreatedAt string   `json:"created_at"`
	UpdatedAt string   `json:"updated_at"`
}

type UserInfo struct {
	Name     string   `json:"name"`
	Since    string   `json:"since"`
	Executed int64    `json:"executed"`
	TZ       string   `json:"tz"`
	ViewTo   []string `json:"view_to"`
	EditTo   []string `json:"edit_to"`
	ViewFrom []string `json:"view_from"`
	EditFrom []string `json:"edit_from"`
}

// TextReply answers Text. Kind is one of tasks, help, user or search.
type TextReply struct {
	Kind    string    `json:"kind"`
	Created int       `json:"created"`
	Updated int       `json:"updated"`
	Help    string    `json:"help,omitempty"`
	User    *UserInfo `json:"user,omitempty"`
	Tasks   []Task    `json:"tasks,omitempty"`
}

type TransitionResult struct {
	Count int64 `json:"count"`
	Chain int64 `json:"chain"`
}

// DeleteResult carries a token while the deletion awaits confirmation.
type DeleteResult struct {
	Token     string  `json:"token,omitempty"`
	ExpiresAt string  `json:"expires_at,omitempty"`
	Deleted   int64   `json:"deleted"`
	Tasks     []int64 `json:"tasks"`
}

type Focus struct {
	Task    Task   `json:"task"`
	Sources []Task `json:"sources"`
	Targets []Task `json:"targets"`
}

type Permission struct {
	Subject string `json:"subject"`
	Object  string `json:"object"`
	Edit    bool   `json:"edit"`
}

// Event represents a log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id"`
	ActorID    int64          `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// IsStatus reports whether err is an APIError with the given status.
func IsStatus(err error, status int) bool {
	var ae *APIError
	return errors.As(err, &ae) && ae.StatusCode == status
}

// Login mints a development token for user and keeps it on the client.
func (c *Client) Login(ctx context.Context, user string) error {
	var resp struct {
		Token string `json:"token"`
	}
	if err := c.do(ctx, http.MethodPost, "auth/dev/login", map[string]any{"user": user}, &resp); err != nil {
		return err
	}
	c.BearerToken = resp.Token
	return nil
}

// Text submits outline lines or a slash command.
func (c *Client) Text(ctx context.Context, text string) (TextReply, error) {
	var resp TextReply
	err := c.do(ctx, http.MethodPost, "tasks/text", map[string]any{"text": text}, &resp)
	return resp, err
}

// Complete archives the tasks and whatever the graph carries along.
func (c *Client) Complete(ctx context.Context, ids ...int64) (TransitionResult, error) {
	return c.transition(ctx, ids, false)
}

// Revert unarchives the tasks and whatever the graph carries along.
func (c *Client) Revert(ctx context.Context, ids ...int64) (TransitionResult, error) {
	return c.transition(ctx, ids, true)
}

func (c *Client) transition(ctx context.Context, ids []int64, revert bool) (TransitionResult, error) {
	var resp TransitionResult
	err := c.do(ctx, http.MethodPut, "tasks/transition", map[string]any{"tasks": ids, "revert": revert}, &resp)
	return resp, err
}

// Delete asks for a deletion token when token is empty, and deletes otherwise.
func (c *Client) Delete(ctx context.Context, token string, ids ...int64) (DeleteResult, error) {
	body := map[string]any{"tasks": ids}
	if token != "" {
		body["token"] = token
	}
	var resp DeleteResult
	err := c.do(ctx, http.MethodPost, "tasks/delete", body, &resp)
	return resp, err
}

// Search posts a condition document and returns the matching tasks.
func (c *Client) Search(ctx context.Context, condition map[string]any) ([]Task, error) {
	if condition == nil {
		condition = map[string]any{}
	}
	var resp struct {
		Tasks []Task `json:"tasks"`
	}
	err := c.do(ctx, http.MethodPost, "tasks/search", condition, &resp)
	return resp.Tasks, err
}

func (c *Client) Focus(ctx context.Context, id int64) (Focus, error) {
	var resp Focus
	err := c.do(ctx, http.MethodGet, "tasks/"+strconv.FormatInt(id, 10), nil, &resp)
	return resp, err
}

// Star toggles the starred flag and returns the new value.
func (c *Client) Star(ctx context.Context, id int64) (bool, error) {
	var resp struct {
		Starred bool `json:"starred"`
	}
	err := c.do(ctx, http.MethodPut, fmt.Sprintf("tasks/%d/star", id), nil, &resp)
	return resp.Starred, err
}

// Grant lets user view (edit false) or edit your tasks. A nil edit revokes.
func (c *Client) Grant(ctx context.Context, user string, edit *bool) (Permission, error) {
	body := map[string]any{"user": user}
	if edit != nil {
		body["edit"] = *edit
	}
	var resp Permission
	err := c.do(ctx, http.MethodPut, "permissions", body, &resp)
	return resp, err
}

func (c *Client) Me(ctx context.Context) (UserInfo, error) {
	var resp UserInfo
	err := c.do(ctx, http.MethodGet, "me", nil, &resp)
	return resp, err
}

// Events returns recent events caused by the caller.
func (c *Client) Events(ctx context.Context, eventType string, limit int) ([]Event, error) {
	q := url.Values{}
	if eventType != "" {
		q.Set("type", eventType)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	endpoint := "events"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp struct {
		Items []Event `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Items, err
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
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var env struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &env) == nil {
			apiErr.Code, apiErr.Message = env.Error.Code, env.Error.Message
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	basePath := c.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	return strings.TrimRight(c.BaseURL, "/") + "/" + strings.Trim(basePath, "/")
}
