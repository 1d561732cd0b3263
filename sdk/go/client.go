package taskpilotsdk

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

// Client is a minimal Taskpilot HTTP API client.
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

// Task represents the API task model (partial).
type Task struct {
	ID       string  `json:"id"`
	UserID   string  `json:"user_id"`
	ClientID *string `json:"client_id,omitempty"`
	ParentID *string `json:"parent_id,omitempty"`
	Title    string  `json:"title"`
	Status   string  `json:"status"`
	Priority string  `json:"priority"`
	DueDate  *string `json:"due_date,omitempty"`
}

// Action is one rule action.
type Action struct {
	Type       string         `json:"type"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

// Rule represents an automation rule.
type Rule struct {
	ID             string         `json:"id"`
	UserID         string         `json:"user_id"`
	Name           string         `json:"name"`
	Description    string         `json:"description,omitempty"`
	Trigger        string         `json:"trigger"`
	Conditions     map[string]any `json:"conditions,omitempty"`
	Actions        []Action       `json:"actions"`
	IsActive       bool           `json:"is_active"`
	ExecutionCount int64          `json:"execution_count"`
	LastExecuted   *string        `json:"last_executed,omitempty"`
}

// ExecutionRecord is one rule run.
type ExecutionRecord struct {
	ID           string `json:"id"`
	RuleID       string `json:"rule_id"`
	TaskID       string `json:"task_id"`
	Trigger      string `json:"trigger"`
	Status       string `json:"status"`
	ErrorMessage string `json:"error_message,omitempty"`
	ExecutedAt   string `json:"executed_at"`
}

// ValidationResult is the rule validator's report.
type ValidationResult struct {
	IsValid  bool     `json:"is_valid"`
	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// TestReport is the dry-run response for a rule.
type TestReport struct {
	Validation ValidationResult `json:"validation"`
	Matched    bool             `json:"matched"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// CreateTask creates a task.
func (c *Client) CreateTask(ctx context.Context, title string, fields map[string]any) (Task, error) {
	body := map[string]any{"title": title}
	for k, v := range fields {
		body[k] = v
	}
	var resp Task
	err := c.do(ctx, http.MethodPost, "v0/tasks", body, &resp)
	return resp, err
}

// GetTask fetches a task by id.
func (c *Client) GetTask(ctx context.Context, id string) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("v0/tasks/%s", url.PathEscape(id)), nil, &resp)
	return resp, err
}

// ListTasks returns the caller's tasks.
func (c *Client) ListTasks(ctx context.Context) ([]Task, error) {
	var resp []Task
	err := c.do(ctx, http.MethodGet, "v0/tasks", nil, &resp)
	return resp, err
}

// SetTaskStatus changes a task's status. The returned records are the rule
// executions the change triggered.
func (c *Client) SetTaskStatus(ctx context.Context, id, status string) (Task, []ExecutionRecord, error) {
	var resp struct {
		Task    Task              `json:"task"`
		Records []ExecutionRecord `json:"records"`
	}
	endpoint := fmt.Sprintf("v0/tasks/%s/status", url.PathEscape(id))
	err := c.do(ctx, http.MethodPost, endpoint, map[string]any{"status": status}, &resp)
	return resp.Task, resp.Records, err
}

// LogTime records time against a task and returns triggered executions.
func (c *Client) LogTime(ctx context.Context, id string, minutes int, description string) ([]ExecutionRecord, error) {
	body := map[string]any{"duration_minutes": minutes}
	if description != "" {
		body["description"] = description
	}
	var resp struct {
		Records []ExecutionRecord `json:"records"`
	}
	endpoint := fmt.Sprintf("v0/tasks/%s/time", url.PathEscape(id))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp.Records, err
}

// FireEvent reports a task event to the rule engine.
func (c *Client) FireEvent(ctx context.Context, taskID, event string, metadata map[string]any) ([]ExecutionRecord, error) {
	body := map[string]any{"event": event}
	if metadata != nil {
		body["metadata"] = metadata
	}
	var resp struct {
		Records []ExecutionRecord `json:"records"`
	}
	endpoint := fmt.Sprintf("v0/tasks/%s/events", url.PathEscape(taskID))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp.Records, err
}

// CreateRule creates an automation rule.
func (c *Client) CreateRule(ctx context.Context, rule Rule) (Rule, []string, error) {
	var resp struct {
		Rule     Rule     `json:"rule"`
		Warnings []string `json:"warnings"`
	}
	err := c.do(ctx, http.MethodPost, "v0/rules", rule, &resp)
	return resp.Rule, resp.Warnings, err
}

// ListRules returns the caller's rules.
func (c *Client) ListRules(ctx context.Context) ([]Rule, error) {
	var resp []Rule
	err := c.do(ctx, http.MethodGet, "v0/rules", nil, &resp)
	return resp, err
}

// DeleteRule removes a rule.
func (c *Client) DeleteRule(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("v0/rules/%s", url.PathEscape(id)), nil, nil)
}

// ValidateRule checks a rule definition without saving it.
func (c *Client) ValidateRule(ctx context.Context, rule Rule) (ValidationResult, error) {
	var resp ValidationResult
	err := c.do(ctx, http.MethodPost, "v0/rules/validate", rule, &resp)
	return resp, err
}

// TestRule dry-runs a saved rule against a task.
func (c *Client) TestRule(ctx context.Context, ruleID, taskID string) (TestReport, error) {
	var resp TestReport
	endpoint := fmt.Sprintf("v0/rules/%s/test", url.PathEscape(ruleID))
	err := c.do(ctx, http.MethodPost, endpoint, map[string]any{"task_id": taskID}, &resp)
	return resp, err
}

// RuleExecutions returns a rule's execution history.
func (c *Client) RuleExecutions(ctx context.Context, ruleID string, limit int) ([]ExecutionRecord, error) {
	endpoint := fmt.Sprintf("v0/rules/%s/executions", url.PathEscape(ruleID))
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	var resp struct {
		Executions []ExecutionRecord `json:"executions"`
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Executions, err
}

// RunScan triggers the scheduled scan immediately.
func (c *Client) RunScan(ctx context.Context) (map[string]any, error) {
	var resp map[string]any
	err := c.do(ctx, http.MethodPost, "v0/scan", nil, &resp)
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
	if out != nil && resp.StatusCode != http.StatusNoContent {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
