package taskboardsdk

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

// Client is a minimal Taskboard HTTP API client.
type Client struct {
	BaseURL     string
	BasePath    string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:  baseURL,
		BasePath: "/v1",
		Timeout:  10 * time.Second,
	}
}

// User represents the API user model.
type User struct {
	ID          string   `json:"id"`
	Username    string   `json:"username"`
	DisplayName string   `json:"display_name"`
	Email       string   `json:"email"`
	Role        string   `json:"role"`
	ManagerID   *string  `json:"manager_id"`
	Balance     string   `json:"balance"`
	Tags        []string `json:"tags"`
}

// Task represents the API task model (partial).
type Task struct {
	ID            string   `json:"id"`
	Title         string   `json:"title"`
	Description   string   `json:"description"`
	AssignedTo    string   `json:"assigned_to"`
	CreatedBy     string   `json:"created_by"`
	ControlledBy  *string  `json:"controlled_by"`
	DueDate       string   `json:"due_date"`
	PaymentAmount string   `json:"payment_amount"`
	Status        string   `json:"status"`
	Tags          []string `json:"tags"`
	DaysUntilDue  int      `json:"days_until_due"`
	Overdue       bool     `json:"overdue"`
	Urgent        bool     `json:"urgent"`
}

// NewTask carries the fields of a task to create.
type NewTask struct {
	Title         string   `json:"title"`
	Description   string   `json:"description,omitempty"`
	AssignedTo    string   `json:"assigned_to"`
	ControlledBy  *string  `json:"controlled_by,omitempty"`
	DueDate       string   `json:"due_date"`
	PaymentAmount string   `json:"payment_amount,omitempty"`
	Tags          []string `json:"tags,omitempty"`
}

// TaskQuery filters ListTasks. Empty fields are ignored.
type TaskQuery struct {
	Status     string
	AssignedTo string
	CreatedBy  string
	Tag        string
	DueFrom    string
	DueTo      string
}

// KanbanGroup is one status column.
type KanbanGroup struct {
	Status string `json:"status"`
	Name   string `json:"name"`
	Tasks  []Task `json:"tasks"`
	Count  int    `json:"count"`
	Total  string `json:"total"`
}

// Kanban is a status board.
type Kanban struct {
	Groups []KanbanGroup `json:"groups"`
	Count  int           `json:"count"`
	Total  string        `json:"total"`
}

// Payment represents a recorded payment.
type Payment struct {
	ID          string `json:"id"`
	EmployeeID  string `json:"employee_id"`
	ManagerID   string `json:"manager_id"`
	Amount      string `json:"amount"`
	Description string `json:"description"`
	PaymentDate string `json:"payment_date"`
}

// Event represents a log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	EntityID   string         `json:"entity_id"`
	EntityKind string         `json:"entity_kind"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// APIError wraps non-2xx responses. Code is the error envelope's code when
// the body carries one.
type APIError struct {
	StatusCode int
	Code       string
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d code=%s body=%s", e.StatusCode, e.Code, e.Body)
}

// Login exchanges credentials for a token and keeps it for later calls.
func (c *Client) Login(ctx context.Context, username, password string) (User, error) {
	var resp struct {
		Token string `json:"token"`
		User  User   `json:"user"`
	}
	body := map[string]any{"username": username, "password": password}
	if err := c.do(ctx, http.MethodPost, "auth/login", body, &resp); err != nil {
		return User{}, err
	}
	c.BearerToken = resp.Token
	return resp.User, nil
}

// Me returns the authenticated user.
func (c *Client) Me(ctx context.Context) (User, error) {
	var resp User
	err := c.do(ctx, http.MethodGet, "me", nil, &resp)
	return resp, err
}

// CreateTask creates a task, or proposes one when the caller is a technician.
func (c *Client) CreateTask(ctx context.Context, t NewTask) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodPost, "tasks", t, &resp)
	return resp, err
}

// GetTask fetches one task.
func (c *Client) GetTask(ctx context.Context, id string) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodGet, "tasks/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// ListTasks returns visible tasks ordered by due date.
func (c *Client) ListTasks(ctx context.Context, q TaskQuery) ([]Task, error) {
	v := url.Values{}
	for key, val := range map[string]string{
		"status":      q.Status,
		"assigned_to": q.AssignedTo,
		"created_by":  q.CreatedBy,
		"tag":         q.Tag,
		"due_from":    q.DueFrom,
		"due_to":      q.DueTo,
	} {
		if val != "" {
			v.Set(key, val)
		}
	}
	endpoint := "tasks"
	if len(v) > 0 {
		endpoint += "?" + v.Encode()
	}
	var resp []Task
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) transition(ctx context.Context, id, action string) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("tasks/%s/%s", url.PathEscape(id), action), nil, &resp)
	return resp, err
}

// PromoteTask accepts a proposed task.
func (c *Client) PromoteTask(ctx context.Context, id string) (Task, error) {
	return c.transition(ctx, id, "promote")
}

// StartTask moves a created task to in_progress.
func (c *Client) StartTask(ctx context.Context, id string) (Task, error) {
	return c.transition(ctx, id, "start")
}

// SubmitTask hands a task in for review.
func (c *Client) SubmitTask(ctx context.Context, id string) (Task, error) {
	return c.transition(ctx, id, "submit")
}

// CompleteTask approves a submitted task and credits its payment.
func (c *Client) CompleteTask(ctx context.Context, id string) (Task, error) {
	return c.transition(ctx, id, "complete")
}

// Kanban returns the caller's board, or assignee's when set.
func (c *Client) Kanban(ctx context.Context, assignee string) (Kanban, error) {
	endpoint := "kanban"
	if assignee != "" {
		endpoint += "?assignee=" + url.QueryEscape(assignee)
	}
	var resp Kanban
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// RecordPayment pays a technician out of its balance. Amounts are decimal
// strings such as "120.50".
func (c *Client) RecordPayment(ctx context.Context, employeeID, amount, description string) (Payment, error) {
	body := map[string]any{
		"employee_id": employeeID,
		"amount":      amount,
		"description": description,
	}
	var resp Payment
	err := c.do(ctx, http.MethodPost, "payments", body, &resp)
	return resp, err
}

// Payments lists payments visible to the caller, newest first.
func (c *Client) Payments(ctx context.Context, employeeID string) ([]Payment, error) {
	endpoint := "payments"
	if employeeID != "" {
		endpoint += "?employee_id=" + url.QueryEscape(employeeID)
	}
	var resp []Payment
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Balance returns a user's current balance.
func (c *Client) Balance(ctx context.Context, userID string) (string, error) {
	var resp struct {
		Balance string `json:"balance"`
	}
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("users/%s/balance", url.PathEscape(userID)), nil, &resp)
	return resp.Balance, err
}

// EventsPage returns a paginated event listing.
func (c *Client) EventsPage(ctx context.Context, limit int, cursor string) (PaginatedEvents, error) {
	endpoint := "events"
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	if cursor != "" {
		sep := "?"
		if strings.Contains(endpoint, "?") {
			sep = "&"
		}
		endpoint = fmt.Sprintf("%s%scursor=%s", endpoint, sep, url.QueryEscape(cursor))
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
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
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
				Code string `json:"code"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &env) == nil {
			apiErr.Code = env.Error.Code
		}
		return apiErr
	}
	if out != nil && resp.StatusCode != http.StatusNoContent {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	base := strings.TrimRight(c.BaseURL, "/")
	if p := strings.Trim(c.BasePath, "/"); p != "" {
		base += "/" + p
	}
	return base
}
