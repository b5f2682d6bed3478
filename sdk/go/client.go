package devportalsdk

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

// Client is a minimal devportal HTTP API client.
type Client struct {
	BaseURL     string
	BasePath    string
	BearerToken string
	// ActorID is sent as X-Actor-Id when no bearer token is set.
	ActorID    string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:  baseURL,
		BasePath: "/api",
		Timeout:  10 * time.Second,
	}
}

// Task represents the API task model.
type Task struct {
	ID                 string     `json:"id"`
	Title              string     `json:"title"`
	Description        string     `json:"description,omitempty"`
	Assignee           string     `json:"assignee,omitempty"`
	Status             string     `json:"status"`
	Priority           string     `json:"priority,omitempty"`
	Paths              []string   `json:"paths"`
	Branch             string     `json:"branch,omitempty"`
	Repository         string     `json:"repository,omitempty"`
	PRURL              string     `json:"prUrl,omitempty"`
	Deadline           string     `json:"deadline,omitempty"`
	Complexity         string     `json:"complexity,omitempty"`
	AcceptanceCriteria []string   `json:"acceptanceCriteria"`
	CreatedAt          time.Time  `json:"createdAt"`
	UpdatedAt          time.Time  `json:"updatedAt"`
	StartedAt          *time.Time `json:"startedAt,omitempty"`
	CompletedAt        *time.Time `json:"completedAt,omitempty"`
}

// TaskInput is the body of CreateTask.
type TaskInput struct {
	Title              string   `json:"title"`
	Description        string   `json:"description,omitempty"`
	Assignee           string   `json:"assignee,omitempty"`
	Status             string   `json:"status,omitempty"`
	Priority           string   `json:"priority,omitempty"`
	Paths              []string `json:"paths,omitempty"`
	Branch             string   `json:"branch,omitempty"`
	Repository         string   `json:"repository,omitempty"`
	Deadline           string   `json:"deadline,omitempty"`
	Complexity         string   `json:"complexity,omitempty"`
	AcceptanceCriteria []string `json:"acceptanceCriteria,omitempty"`
}

// TaskPatch is the body of UpdateTask; nil fields are left unchanged.
type TaskPatch struct {
	Title              *string  `json:"title,omitempty"`
	Description        *string  `json:"description,omitempty"`
	Assignee           *string  `json:"assignee,omitempty"`
	Status             *string  `json:"status,omitempty"`
	Priority           *string  `json:"priority,omitempty"`
	Paths              []string `json:"paths,omitempty"`
	Branch             *string  `json:"branch,omitempty"`
	Repository         *string  `json:"repository,omitempty"`
	PRURL              *string  `json:"prUrl,omitempty"`
	Deadline           *string  `json:"deadline,omitempty"`
	Complexity         *string  `json:"complexity,omitempty"`
	AcceptanceCriteria []string `json:"acceptanceCriteria,omitempty"`
}

type Lease struct {
	ID          string     `json:"id"`
	TaskID      string     `json:"taskId"`
	DeveloperID string     `json:"developerId"`
	Paths       []string   `json:"paths"`
	Status      string     `json:"status"`
	ExpiresAt   time.Time  `json:"expiresAt"`
	CreatedAt   time.Time  `json:"createdAt"`
	ReleasedAt  *time.Time `json:"releasedAt,omitempty"`
}

type TaskStart struct {
	Task  Task   `json:"task"`
	Lease *Lease `json:"lease,omitempty"`
}

type PathLock struct {
	Path     string    `json:"path"`
	LockedBy string    `json:"lockedBy"`
	TaskID   string    `json:"taskId"`
	LeaseID  string    `json:"leaseId"`
	Status   string    `json:"status"`
	LockedAt time.Time `json:"lockedAt"`
}

type Checks struct {
	Lint      bool `json:"lint"`
	Typecheck bool `json:"typecheck"`
	Tests     bool `json:"tests"`
}

// PullRequest is a PR as returned by the API. List responses also fill the
// task and author fields.
type PullRequest struct {
	ID          string     `json:"id"`
	TaskID      string     `json:"taskId"`
	DeveloperID string     `json:"developerId"`
	PRURL       string     `json:"prUrl"`
	Status      string     `json:"status"`
	CIStatus    string     `json:"ciStatus"`
	Checks      Checks     `json:"checks"`
	ReviewNotes string     `json:"reviewNotes,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	MergedAt    *time.Time `json:"mergedAt,omitempty"`
	TaskTitle   string     `json:"taskTitle,omitempty"`
	Author      string     `json:"author,omitempty"`
	Branch      string     `json:"branch,omitempty"`
	Repository  string     `json:"repository,omitempty"`
	FileCount   int        `json:"fileCount,omitempty"`
}

type Developer struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Avatar      string `json:"avatar,omitempty"`
	Status      string `json:"status"`
	CurrentTask string `json:"currentTask,omitempty"`
}

type TaskRequest struct {
	ID             string     `json:"id"`
	DeveloperID    string     `json:"developerId"`
	Title          string     `json:"title"`
	Description    string     `json:"description,omitempty"`
	Reasoning      string     `json:"reasoning,omitempty"`
	SuggestedPaths []string   `json:"suggestedPaths"`
	Status         string     `json:"status"`
	ReviewNotes    string     `json:"reviewNotes,omitempty"`
	TaskID         string     `json:"taskId,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	ReviewedAt     *time.Time `json:"reviewedAt,omitempty"`
}

// Review carries approval notes and overrides for the synthesized task.
type Review struct {
	ReviewNotes string `json:"reviewNotes,omitempty"`
	Priority    string `json:"priority,omitempty"`
	Complexity  string `json:"complexity,omitempty"`
	Deadline    string `json:"deadline,omitempty"`
}

// Activity represents an activity log entry.
type Activity struct {
	ID        string         `json:"id,omitempty"`
	Timestamp time.Time      `json:"timestamp,omitempty"`
	Type      string         `json:"type"`
	TaskID    string         `json:"taskId,omitempty"`
	TaskTitle string         `json:"taskTitle,omitempty"`
	ActorID   string         `json:"actorId,omitempty"`
	ActorName string         `json:"actorName,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Details    map[string]any
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Conflicts returns the locked paths reported by a 409 response.
func (e *APIError) Conflicts() []string {
	raw, _ := e.Details["conflicts"].([]any)
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "health", nil, nil)
}

// InitDB seeds the store; it reports whether this call did the seeding.
func (c *Client) InitDB(ctx context.Context) (bool, error) {
	var resp struct {
		Seeded bool `json:"seeded"`
	}
	err := c.do(ctx, http.MethodPost, "init-db", nil, &resp)
	return resp.Seeded, err
}

func (c *Client) ClearAll(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "clear-all", nil, nil)
}

// ListTasks lists tasks, optionally filtered by status and assignee.
func (c *Client) ListTasks(ctx context.Context, status, assignee string) ([]Task, error) {
	q := url.Values{}
	if status != "" {
		q.Set("status", status)
	}
	if assignee != "" {
		q.Set("assignee", assignee)
	}
	var resp []Task
	err := c.do(ctx, http.MethodGet, withQuery("tasks", q), nil, &resp)
	return resp, err
}

// CreateTask creates a task.
func (c *Client) CreateTask(ctx context.Context, in TaskInput) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodPost, "tasks", in, &resp)
	return resp, err
}

func (c *Client) GetTask(ctx context.Context, id string) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodGet, "tasks/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// UpdateTask applies a shallow patch. Force skips the transition check.
func (c *Client) UpdateTask(ctx context.Context, id string, patch TaskPatch, force bool) (Task, error) {
	endpoint := "tasks/" + url.PathEscape(id)
	if force {
		endpoint += "?force=true"
	}
	var resp Task
	err := c.do(ctx, http.MethodPatch, endpoint, patch, &resp)
	return resp, err
}

func (c *Client) DeleteTask(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "tasks/"+url.PathEscape(id), nil, nil)
}

// StartTask starts an assigned task. An empty developerID uses the caller identity.
func (c *Client) StartTask(ctx context.Context, id, developerID string) (TaskStart, error) {
	var body any
	if developerID != "" {
		body = map[string]any{"developerId": developerID}
	}
	var resp TaskStart
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("tasks/%s/start", url.PathEscape(id)), body, &resp)
	return resp, err
}

func (c *Client) ListLeases(ctx context.Context) ([]Lease, error) {
	var resp []Lease
	err := c.do(ctx, http.MethodGet, "leases", nil, &resp)
	return resp, err
}

// ClaimLease leases a task's paths. Hours of zero uses the server default.
func (c *Client) ClaimLease(ctx context.Context, taskID, developerID string, hours int) (Lease, error) {
	body := map[string]any{"taskId": taskID}
	if developerID != "" {
		body["developerId"] = developerID
	}
	if hours > 0 {
		body["hours"] = hours
	}
	var resp Lease
	err := c.do(ctx, http.MethodPost, "leases/claim", body, &resp)
	return resp, err
}

func (c *Client) ExtendLease(ctx context.Context, id string, hours int) (Lease, error) {
	var resp Lease
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("leases/%s/extend", url.PathEscape(id)), map[string]any{"hours": hours}, &resp)
	return resp, err
}

func (c *Client) ReleaseLease(ctx context.Context, id string) (Lease, error) {
	var resp Lease
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("leases/%s/release", url.PathEscape(id)), nil, &resp)
	return resp, err
}

func (c *Client) ListPathLocks(ctx context.Context) ([]PathLock, error) {
	var resp []PathLock
	err := c.do(ctx, http.MethodGet, "path-locks", nil, &resp)
	return resp, err
}

// SubmitPR opens a pull request for review. An empty developerID means the
// lease holder.
func (c *Client) SubmitPR(ctx context.Context, taskID, prURL, developerID string) (PullRequest, error) {
	body := map[string]any{"taskId": taskID}
	if prURL != "" {
		body["prUrl"] = prURL
	}
	if developerID != "" {
		body["developerId"] = developerID
	}
	var resp PullRequest
	err := c.do(ctx, http.MethodPost, "prs/submit", body, &resp)
	return resp, err
}

func (c *Client) ListPRs(ctx context.Context) ([]PullRequest, error) {
	var resp []PullRequest
	err := c.do(ctx, http.MethodGet, "prs", nil, &resp)
	return resp, err
}

// UpdatePRChecks records CI results; final marks a failing set as failed.
func (c *Client) UpdatePRChecks(ctx context.Context, id string, checks Checks, final bool) (PullRequest, error) {
	body := map[string]any{
		"lint":      checks.Lint,
		"typecheck": checks.Typecheck,
		"tests":     checks.Tests,
		"final":     final,
	}
	var resp PullRequest
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("prs/%s/checks", url.PathEscape(id)), body, &resp)
	return resp, err
}

func (c *Client) RequestChanges(ctx context.Context, id, notes string) (PullRequest, error) {
	var resp PullRequest
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("prs/%s/request-changes", url.PathEscape(id)), map[string]any{"notes": notes}, &resp)
	return resp, err
}

func (c *Client) ApprovePR(ctx context.Context, id string) (PullRequest, error) {
	var resp PullRequest
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("prs/%s/approve", url.PathEscape(id)), nil, &resp)
	return resp, err
}

func (c *Client) ListDevelopers(ctx context.Context) ([]Developer, error) {
	var resp []Developer
	err := c.do(ctx, http.MethodGet, "developers", nil, &resp)
	return resp, err
}

func (c *Client) AddDeveloper(ctx context.Context, id, name, avatar string) (Developer, error) {
	body := map[string]any{"name": name}
	if id != "" {
		body["id"] = id
	}
	if avatar != "" {
		body["avatar"] = avatar
	}
	var resp Developer
	err := c.do(ctx, http.MethodPost, "developers", body, &resp)
	return resp, err
}

func (c *Client) ResetDevelopers(ctx context.Context) ([]Developer, error) {
	var resp []Developer
	err := c.do(ctx, http.MethodPost, "developers/reset", nil, &resp)
	return resp, err
}

func (c *Client) ListTaskRequests(ctx context.Context, status string) ([]TaskRequest, error) {
	q := url.Values{}
	if status != "" {
		q.Set("status", status)
	}
	var resp []TaskRequest
	err := c.do(ctx, http.MethodGet, withQuery("task-requests", q), nil, &resp)
	return resp, err
}

func (c *Client) CreateTaskRequest(ctx context.Context, developerID, title, description, reasoning string, paths []string) (TaskRequest, error) {
	body := map[string]any{
		"title":       title,
		"description": description,
		"reasoning":   reasoning,
	}
	if len(paths) > 0 {
		body["suggestedPaths"] = paths
	}
	if developerID != "" {
		body["developerId"] = developerID
	}
	var resp TaskRequest
	err := c.do(ctx, http.MethodPost, "task-requests", body, &resp)
	return resp, err
}

// ApproveTaskRequest approves a pending request and returns the created task.
func (c *Client) ApproveTaskRequest(ctx context.Context, id string, review Review) (TaskRequest, Task, error) {
	var resp struct {
		Request TaskRequest `json:"request"`
		Task    Task        `json:"task"`
	}
	err := c.do(ctx, http.MethodPatch, fmt.Sprintf("task-requests/%s/approve", url.PathEscape(id)), review, &resp)
	return resp.Request, resp.Task, err
}

func (c *Client) RejectTaskRequest(ctx context.Context, id, notes string) (TaskRequest, error) {
	var resp TaskRequest
	err := c.do(ctx, http.MethodPatch, fmt.Sprintf("task-requests/%s/reject", url.PathEscape(id)), Review{ReviewNotes: notes}, &resp)
	return resp, err
}

// Activities returns recent activities, newest first.
func (c *Client) Activities(ctx context.Context, limit int) ([]Activity, error) {
	endpoint := "activities"
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	var resp []Activity
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) AddActivity(ctx context.Context, a Activity) (Activity, error) {
	body := map[string]any{"type": a.Type}
	for k, v := range map[string]string{"taskId": a.TaskID, "taskTitle": a.TaskTitle, "actorId": a.ActorID, "actorName": a.ActorName} {
		if v != "" {
			body[k] = v
		}
	}
	if a.Metadata != nil {
		body["metadata"] = a.Metadata
	}
	var resp Activity
	err := c.do(ctx, http.MethodPost, "activities", body, &resp)
	return resp, err
}

// SlackNotify queues a Slack message on the server.
func (c *Client) SlackNotify(ctx context.Context, text, title, color string) (bool, error) {
	var resp struct {
		Queued bool `json:"queued"`
	}
	body := map[string]any{"text": text, "title": title, "color": color}
	err := c.do(ctx, http.MethodPost, "slack-notify", body, &resp)
	return resp.Queued, err
}

// DevLogin exchanges an actor id for a development token and stores it on the client.
func (c *Client) DevLogin(ctx context.Context, actorID string, roles ...string) (string, error) {
	var resp struct {
		Token string `json:"token"`
	}
	body := map[string]any{"actorId": actorID}
	if len(roles) > 0 {
		body["roles"] = roles
	}
	if err := c.do(ctx, http.MethodPost, "auth/dev/login", body, &resp); err != nil {
		return "", err
	}
	c.BearerToken = resp.Token
	return resp.Token, nil
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
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.ActorID != "":
		req.Header.Set("X-Actor-Id", c.ActorID)
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
				Code    string         `json:"code"`
				Message string         `json:"message"`
				Details map[string]any `json:"details"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &env) == nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
			apiErr.Details = env.Error.Details
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func withQuery(endpoint string, q url.Values) string {
	if len(q) == 0 {
		return endpoint
	}
	return endpoint + "?" + q.Encode()
}

func (c *Client) base() string {
	base := strings.TrimRight(c.BaseURL, "/")
	if c.BasePath == "" {
		return base
	}
	return base + "/" + strings.Trim(c.BasePath, "/")
}
