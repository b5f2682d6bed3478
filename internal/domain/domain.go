package domain

import "time"

type TaskStatus string

const (
	TaskDraft      TaskStatus = "draft"
	TaskReady      TaskStatus = "ready"
	TaskAssigned   TaskStatus = "assigned"
	TaskInProgress TaskStatus = "in-progress"
	TaskInReview   TaskStatus = "in-review"
	TaskMergeQueue TaskStatus = "merge-queue"
	TaskDone       TaskStatus = "done"
)

const taskStatusPRAlias = "pr"

var taskTransitions = map[TaskStatus][]TaskStatus{
	TaskDraft:      {TaskReady},
	TaskReady:      {TaskDraft, TaskAssigned},
	TaskAssigned:   {TaskReady, TaskInReview},
	TaskInProgress: {TaskInReview},
	TaskInReview:   {TaskInProgress, TaskMergeQueue, TaskDone},
	TaskMergeQueue: {TaskInProgress, TaskDone},
	TaskDone:       nil,
}

// ParseTaskStatus validates a status coming from outside the process.
// "pr" is accepted as a synonym of in-review.
func ParseTaskStatus(s string) (TaskStatus, error) {
	if s == taskStatusPRAlias {
		return TaskInReview, nil
	}
	st := TaskStatus(s)
	if _, ok := taskTransitions[st]; !ok {
		return "", ValidationError{Field: "status", Reason: "unknown task status " + s}
	}
	return st, nil
}

// HoldsWork reports whether a task in this status may keep a lease and
// path locks. Moving to any other status releases them.
func (s TaskStatus) HoldsWork() bool {
	switch s {
	case TaskAssigned, TaskInProgress, TaskInReview, TaskMergeQueue:
		return true
	}
	return false
}

// CanTransition reports whether a plain status update may move from -> to.
// assigned -> in-progress is reserved for StartTask, which leases the paths.
func (from TaskStatus) CanTransition(to TaskStatus) bool {
	for _, next := range taskTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

type LeaseStatus string

const (
	LeaseActive   LeaseStatus = "active"
	LeaseExpiring LeaseStatus = "expiring"
	LeaseExpired  LeaseStatus = "expired"
	LeaseReleased LeaseStatus = "released"
)

type DeveloperStatus string

const (
	DeveloperActive  DeveloperStatus = "active"
	DeveloperIdle    DeveloperStatus = "idle"
	DeveloperBlocked DeveloperStatus = "blocked"
)

type PRStatus string

const (
	PROpen             PRStatus = "open"
	PRChangesRequested PRStatus = "changes_requested"
	PRMerged           PRStatus = "merged"
)

type CIStatus string

const (
	CIPending CIStatus = "pending"
	CIPassed  CIStatus = "passed"
	CIFailed  CIStatus = "failed"
)

type RequestStatus string

const (
	RequestPending  RequestStatus = "pending"
	RequestApproved RequestStatus = "approved"
	RequestRejected RequestStatus = "rejected"
)

const PathLocked = "locked"

type Task struct {
	ID                 string     `json:"id"`
	Title              string     `json:"title"`
	Description        string     `json:"description,omitempty"`
	Assignee           string     `json:"assignee,omitempty"`
	Status             TaskStatus `json:"status" enum:"draft,ready,assigned,in-progress,in-review,merge-queue,done"`
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

type Developer struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Avatar      string          `json:"avatar,omitempty"`
	Status      DeveloperStatus `json:"status" enum:"active,idle,blocked"`
	CurrentTask string          `json:"currentTask,omitempty"`
}

type Lease struct {
	ID          string      `json:"id"`
	TaskID      string      `json:"taskId"`
	DeveloperID string      `json:"developerId"`
	Paths       []string    `json:"paths"`
	Status      LeaseStatus `json:"status" enum:"active,expiring,expired,released"`
	ExpiresAt   time.Time   `json:"expiresAt"`
	CreatedAt   time.Time   `json:"createdAt"`
	ReleasedAt  *time.Time  `json:"releasedAt,omitempty"`
}

// Live reports whether the lease still holds its path locks at now.
func (l Lease) Live(now time.Time) bool {
	return l.Status == LeaseActive && now.Before(l.ExpiresAt)
}

type PathLock struct {
	Path     string    `json:"path"`
	LockedBy string    `json:"lockedBy"`
	TaskID   string    `json:"taskId"`
	LeaseID  string    `json:"leaseId"`
	Status   string    `json:"status"`
	LockedAt time.Time `json:"lockedAt"`
}

type PRChecks struct {
	Lint      bool `json:"lint"`
	Typecheck bool `json:"typecheck"`
	Tests     bool `json:"tests"`
}

func (c PRChecks) AllPassed() bool {
	return c.Lint && c.Typecheck && c.Tests
}

type PullRequest struct {
	ID          string     `json:"id"`
	TaskID      string     `json:"taskId"`
	DeveloperID string     `json:"developerId"`
	PRURL       string     `json:"prUrl"`
	Status      PRStatus   `json:"status" enum:"open,changes_requested,merged"`
	CIStatus    CIStatus   `json:"ciStatus" enum:"pending,passed,failed"`
	Checks      PRChecks   `json:"checks"`
	ReviewNotes string     `json:"reviewNotes,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	MergedAt    *time.Time `json:"mergedAt,omitempty"`
}

type Activity struct {
	ID        string         `json:"id"`
	Timestamp time.Time      `json:"timestamp"`
	Type      string         `json:"type"`
	TaskID    string         `json:"taskId,omitempty"`
	TaskTitle string         `json:"taskTitle,omitempty"`
	ActorID   string         `json:"actorId"`
	ActorName string         `json:"actorName"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

type TaskRequest struct {
	ID             string        `json:"id"`
	DeveloperID    string        `json:"developerId"`
	Title          string        `json:"title"`
	Description    string        `json:"description,omitempty"`
	Reasoning      string        `json:"reasoning,omitempty"`
	SuggestedPaths []string      `json:"suggestedPaths"`
	Status         RequestStatus `json:"status" enum:"pending,approved,rejected"`
	ReviewNotes    string        `json:"reviewNotes,omitempty"`
	TaskID         string        `json:"taskId,omitempty"`
	CreatedAt      time.Time     `json:"createdAt"`
	ReviewedAt     *time.Time    `json:"reviewedAt,omitempty"`
}
