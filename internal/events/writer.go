package events

import (
	"context"
	"strconv"
	"time"

	"devportal/internal/domain"
	"devportal/internal/repo"

	"github.com/google/uuid"
)

const (
	TaskCreated          = "task_created"
	TaskUpdated          = "task_updated"
	TaskStarted          = "task_started"
	TaskDeleted          = "task_deleted"
	TaskCompleted        = "task_completed"
	LeaseClaimed         = "lease_claimed"
	LeaseExtended        = "lease_extended"
	LeaseReleased        = "lease_released"
	LeaseExpired         = "lease_expired"
	PRSubmitted          = "pr_submitted"
	PRChecksUpdated      = "pr_checks_updated"
	PRChangesRequested   = "pr_changes_requested"
	PRApproved           = "pr_approved"
	TaskRequestSubmitted = "task_request_submitted"
	TaskRequestApproved  = "task_request_approved"
	TaskRequestRejected  = "task_request_rejected"
	DeveloperAdded       = "developer_added"
	DevelopersReset      = "developers_reset"
)

type Writer struct {
	Now func() time.Time
}

type Payload map[string]any

// Append adds one record to the activity log within r's transaction.
// Records are never rewritten once appended.
func (w Writer) Append(ctx context.Context, r repo.Repo, a domain.Activity) (domain.Activity, error) {
	if w.Now == nil {
		w.Now = time.Now
	}
	if a.ID == "" {
		a.ID = NewID("act", w.Now())
	}
	if a.Timestamp.IsZero() {
		a.Timestamp = w.Now().UTC()
	}
	if a.Metadata == nil {
		a.Metadata = Payload{}
	}
	acts, err := r.Activities(ctx)
	if err != nil {
		return domain.Activity{}, err
	}
	acts = append(acts, a)
	if err := r.SaveActivities(ctx, acts); err != nil {
		return domain.Activity{}, err
	}
	return a, nil
}

// NewID returns "<prefix>-<unix millis>-<8 hex chars>".
func NewID(prefix string, now time.Time) string {
	return prefix + "-" + strconv.FormatInt(now.UnixMilli(), 10) + "-" + uuid.NewString()[:8]
}
