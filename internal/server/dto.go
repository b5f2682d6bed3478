package server

import (
	"time"

	"devportal/internal/domain"
)

type HealthResponse struct {
	Status string    `json:"status" example:"ok"`
	Time   time.Time `json:"time"`
}

type InitDBResponse struct {
	Initialized bool `json:"initialized"`
	Seeded      bool `json:"seeded"`
}

type ClearAllResponse struct {
	Cleared bool      `json:"cleared"`
	At      time.Time `json:"at"`
}

type TaskCreateRequest struct {
	Title              string   `json:"title" minLength:"1" example:"Add login form"`
	Description        string   `json:"description,omitempty"`
	Assignee           string   `json:"assignee,omitempty" example:"dev-1"`
	Status             string   `json:"status,omitempty" enum:"draft,ready,assigned"`
	Priority           string   `json:"priority,omitempty" example:"high"`
	Paths              []string `json:"paths,omitempty" example:"[\"src/login.tsx\"]"`
	Branch             string   `json:"branch,omitempty"`
	Repository         string   `json:"repository,omitempty" example:"acme/web"`
	Deadline           string   `json:"deadline,omitempty"`
	Complexity         string   `json:"complexity,omitempty"`
	AcceptanceCriteria []string `json:"acceptanceCriteria,omitempty"`
}

type TaskUpdateRequest struct {
	Title              *string  `json:"title,omitempty"`
	Description        *string  `json:"description,omitempty"`
	Assignee           *string  `json:"assignee,omitempty"`
	Status             *string  `json:"status,omitempty" enum:"draft,ready,assigned,in-progress,in-review,pr,merge-queue,done"`
	Priority           *string  `json:"priority,omitempty"`
	Paths              []string `json:"paths,omitempty"`
	Branch             *string  `json:"branch,omitempty"`
	Repository         *string  `json:"repository,omitempty"`
	PRURL              *string  `json:"prUrl,omitempty"`
	Deadline           *string  `json:"deadline,omitempty"`
	Complexity         *string  `json:"complexity,omitempty"`
	AcceptanceCriteria []string `json:"acceptanceCriteria,omitempty"`
}

type TaskStartRequest struct {
	DeveloperID string `json:"developerId,omitempty" example:"dev-1"`
}

type TaskDeleteResponse struct {
	ID      string `json:"id"`
	Deleted bool   `json:"deleted"`
}

type LeaseClaimRequest struct {
	TaskID      string `json:"taskId" minLength:"1"`
	DeveloperID string `json:"developerId,omitempty"`
	Hours       int    `json:"hours,omitempty" minimum:"0"`
}

type LeaseExtendRequest struct {
	Hours int `json:"hours" minimum:"1" example:"4"`
}

type PRSubmitRequest struct {
	TaskID      string `json:"taskId" minLength:"1"`
	PRURL       string `json:"prUrl,omitempty" example:"https://github.com/acme/web/pull/12"`
	DeveloperID string `json:"developerId,omitempty"`
}

type PRChecksRequest struct {
	Lint      bool `json:"lint"`
	Typecheck bool `json:"typecheck"`
	Tests     bool `json:"tests"`
	Final     bool `json:"final,omitempty"`
}

type PRRequestChangesRequest struct {
	Notes string `json:"notes,omitempty"`
}

type DeveloperCreateRequest struct {
	ID     string `json:"id,omitempty" example:"dev-4"`
	Name   string `json:"name" minLength:"1" example:"Marta Silva"`
	Avatar string `json:"avatar,omitempty" example:"MS"`
}

type TaskRequestCreateRequest struct {
	DeveloperID    string   `json:"developerId,omitempty"`
	Title          string   `json:"title" minLength:"1"`
	Description    string   `json:"description,omitempty"`
	Reasoning      string   `json:"reasoning,omitempty"`
	SuggestedPaths []string `json:"suggestedPaths,omitempty"`
}

type TaskRequestReviewRequest struct {
	ReviewNotes string `json:"reviewNotes,omitempty"`
	Priority    string `json:"priority,omitempty"`
	Complexity  string `json:"complexity,omitempty"`
	Deadline    string `json:"deadline,omitempty"`
}

type TaskRequestApprovalResponse struct {
	Request domain.TaskRequest `json:"request"`
	Task    domain.Task        `json:"task"`
}

type ActivityCreateRequest struct {
	Type      string         `json:"type" minLength:"1" example:"note"`
	TaskID    string         `json:"taskId,omitempty"`
	TaskTitle string         `json:"taskTitle,omitempty"`
	ActorID   string         `json:"actorId,omitempty"`
	ActorName string         `json:"actorName,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

type SlackNotifyRequest struct {
	Text  string `json:"text" minLength:"1"`
	Title string `json:"title,omitempty"`
	Color string `json:"color,omitempty" example:"#36a64f"`
}

type SlackNotifyResponse struct {
	Queued bool `json:"queued"`
}

type DevLoginRequest struct {
	ActorID string   `json:"actorId" example:"dev-1"`
	Roles   []string `json:"roles,omitempty" example:"[\"pm\"]"`
}

type DevLoginResponse struct {
	Token     string    `json:"token"`
	ActorID   string    `json:"actorId"`
	ExpiresAt time.Time `json:"expiresAt"`
}
