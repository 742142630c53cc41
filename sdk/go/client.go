package missionctlsdk

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

// Client is a minimal Mission Control HTTP API client.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Agent represents the API agent model.
type Agent struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Role        string `json:"role"`
	Description string `json:"description"`
	Status      string `json:"status"`
	IsMaster    bool   `json:"is_master"`
}

// Task represents the API task model (partial).
type Task struct {
	ID                string  `json:"id"`
	Title             string  `json:"title"`
	Description       string  `json:"description"`
	Status            string  `json:"status"`
	Priority          string  `json:"priority"`
	DueDate           *string `json:"due_date"`
	AssignedAgentID   *string `json:"assigned_agent_id"`
	AssignedAgentName string  `json:"assigned_agent_name"`
	DispatchCount     int     `json:"dispatch_count"`
	LateAlertedAt     *string `json:"late_alerted_at"`
	LateAlertStatus   *string `json:"late_alert_status"`
	UpdatedAt         string  `json:"updated_at"`
}

// RoutingDecision is one scored candidate.
type RoutingDecision struct {
	AgentID   string   `json:"agentId"`
	AgentName string   `json:"agentName"`
	Score     int      `json:"score"`
	Reasons   []string `json:"reasons"`
}

// AutoRouteResult is returned by AutoRoute. Applied is nil for dry runs.
type AutoRouteResult struct {
	Success  bool              `json:"success"`
	DryRun   bool              `json:"dryRun"`
	TaskID   string            `json:"taskId"`
	Selected RoutingDecision   `json:"selected"`
	Ranked   []RoutingDecision `json:"ranked"`
	Applied  *struct {
		Task          Task              `json:"task"`
		TopCandidates []RoutingDecision `json:"topCandidates"`
		Dispatched    bool              `json:"dispatched"`
	} `json:"applied"`
}

// LateScan is the late-task alert payload.
type LateScan struct {
	Now                string            `json:"now"`
	RepeatAfterMinutes int               `json:"repeatAfterMinutes"`
	Marked             bool              `json:"marked"`
	Total              int               `json:"total"`
	GroupedByStatus    map[string][]Task `json:"groupedByStatus"`
	Tasks              []Task            `json:"tasks"`
}

// MentionTarget is a resolved @mention.
type MentionTarget struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Activity is a task log entry.
type Activity struct {
	ID           string          `json:"id"`
	TaskID       string          `json:"task_id"`
	AgentID      *string         `json:"agent_id"`
	AgentName    string          `json:"agent_name"`
	ActivityType string          `json:"activity_type"`
	Message      string          `json:"message"`
	Metadata     string          `json:"metadata"`
	CreatedAt    string          `json:"created_at"`
	Mentions     []MentionTarget `json:"mentions,omitempty"`
}

// Mention is a notification addressed to an agent.
type Mention struct {
	ID            string  `json:"id"`
	TaskID        string  `json:"task_id"`
	FromAgentID   *string `json:"from_agent_id"`
	FromAgentName string  `json:"from_agent_name"`
	ToAgentID     string  `json:"to_agent_id"`
	Message       string  `json:"message"`
	CreatedAt     string  `json:"created_at"`
	ReadAt        *string `json:"read_at"`
}

// Event represents a log entry.
type Event struct {
	ID        int64   `json:"id"`
	Type      string  `json:"type"`
	AgentID   *string `json:"agent_id"`
	TaskID    *string `json:"task_id"`
	Message   string  `json:"message"`
	CreatedAt string  `json:"created_at"`
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// CreateAgent registers an agent.
func (c *Client) CreateAgent(ctx context.Context, name, role string, isMaster bool) (Agent, error) {
	body := map[string]any{
		"name":      name,
		"role":      role,
		"is_master": isMaster,
	}
	var resp Agent
	err := c.do(ctx, http.MethodPost, "v0/agents", body, &resp)
	return resp, err
}

// SetAgentStatus changes an agent's availability.
func (c *Client) SetAgentStatus(ctx context.Context, agentID, status string) (Agent, error) {
	var resp Agent
	err := c.do(ctx, http.MethodPatch, "v0/agents/"+url.PathEscape(agentID), map[string]any{"status": status}, &resp)
	return resp, err
}

// CreateTask creates a task. dueDate may be empty.
func (c *Client) CreateTask(ctx context.Context, title, description, status, dueDate string) (Task, error) {
	body := map[string]any{"title": title}
	if description != "" {
		body["description"] = description
	}
	if status != "" {
		body["status"] = status
	}
	if dueDate != "" {
		body["due_date"] = dueDate
	}
	var resp Task
	err := c.do(ctx, http.MethodPost, "v0/tasks", body, &resp)
	return resp, err
}

// GetTask fetches a task by id.
func (c *Client) GetTask(ctx context.Context, taskID string) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodGet, "v0/tasks/"+url.PathEscape(taskID), nil, &resp)
	return resp, err
}

// UpdateTaskStatus moves a task to status.
func (c *Client) UpdateTaskStatus(ctx context.Context, taskID, status string) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodPatch, "v0/tasks/"+url.PathEscape(taskID), map[string]any{"status": status}, &resp)
	return resp, err
}

// AutoRoute scores agents for a task; with apply the decision is persisted
// and with dispatch the task is queued for the gateway.
func (c *Client) AutoRoute(ctx context.Context, taskID string, apply, dispatch bool) (AutoRouteResult, error) {
	body := map[string]any{"apply": apply, "dispatch": dispatch}
	var resp AutoRouteResult
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("v0/tasks/%s/auto-route", url.PathEscape(taskID)), body, &resp)
	return resp, err
}

// LateTasks runs the late-task scan.
func (c *Client) LateTasks(ctx context.Context, repeatAfterMinutes int, mark bool) (LateScan, error) {
	q := url.Values{}
	if repeatAfterMinutes > 0 {
		q.Set("repeatAfterMinutes", fmt.Sprintf("%d", repeatAfterMinutes))
	}
	if mark {
		q.Set("mark", "true")
	}
	endpoint := "v0/tasks/alerts/late"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp LateScan
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// AddActivity logs a task activity. agentID may be empty.
func (c *Client) AddActivity(ctx context.Context, taskID, agentID, activityType, message string) (Activity, error) {
	body := map[string]any{
		"activity_type": activityType,
		"message":       message,
	}
	if agentID != "" {
		body["agent_id"] = agentID
	}
	var resp Activity
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("v0/tasks/%s/activities", url.PathEscape(taskID)), body, &resp)
	return resp, err
}

// Activities lists a task's log newest first.
func (c *Client) Activities(ctx context.Context, taskID string) ([]Activity, error) {
	var resp struct {
		Items []Activity `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("v0/tasks/%s/activities", url.PathEscape(taskID)), nil, &resp)
	return resp.Items, err
}

// Mentions lists mentions addressed to an agent.
func (c *Client) Mentions(ctx context.Context, agentID string, unreadOnly bool) ([]Mention, error) {
	endpoint := fmt.Sprintf("v0/agents/%s/mentions", url.PathEscape(agentID))
	if unreadOnly {
		endpoint += "?unread=true"
	}
	var resp struct {
		Items []Mention `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Items, err
}

// MarkMentionsRead marks the given mentions read, or all of them when ids is empty.
func (c *Client) MarkMentionsRead(ctx context.Context, agentID string, ids []string) (int64, error) {
	body := map[string]any{"markAll": len(ids) == 0}
	if len(ids) > 0 {
		body["mentionIds"] = ids
	}
	var resp struct {
		Marked int64 `json:"marked"`
	}
	err := c.do(ctx, http.MethodPatch, fmt.Sprintf("v0/agents/%s/mentions", url.PathEscape(agentID)), body, &resp)
	return resp.Marked, err
}

// UnreadMentionCounts returns unread mentions per agent id.
func (c *Client) UnreadMentionCounts(ctx context.Context) (map[string]int, error) {
	var resp struct {
		Counts map[string]int `json:"counts"`
	}
	err := c.do(ctx, http.MethodGet, "v0/mentions/unread", nil, &resp)
	return resp.Counts, err
}

// EventsPage returns a paginated event listing.
func (c *Client) EventsPage(ctx context.Context, limit int, cursor string) (PaginatedEvents, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	endpoint := "v0/events"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp PaginatedEvents
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
