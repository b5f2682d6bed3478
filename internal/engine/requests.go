package engine

import (
	"context"
	"sort"
	"strings"

	"devportal/internal/domain"
	"devportal/internal/events"
	"devportal/internal/notify"
	"devportal/internal/repo"
)

type TaskRequestCreateOptions struct {
	DeveloperID    string
	Title          string
	Description    string
	Reasoning      string
	SuggestedPaths []string
}

// TaskRequestReviewOptions applies to approval; the overrides shape the new task.
type TaskRequestReviewOptions struct {
	ReviewNotes string
	Priority    string
	Complexity  string
	Deadline    string
	ActorID     string
}

func (e Engine) CreateTaskRequest(ctx context.Context, opts TaskRequestCreateOptions) (domain.TaskRequest, error) {
	title := strings.TrimSpace(opts.Title)
	if title == "" {
		return domain.TaskRequest{}, domain.ValidationError{Field: "title", Reason: "is required"}
	}
	if strings.TrimSpace(opts.DeveloperID) == "" {
		return domain.TaskRequest{}, domain.ValidationError{Field: "developerId", Reason: "is required"}
	}
	now := e.now()
	req := domain.TaskRequest{
		ID:             events.NewID("req", now),
		DeveloperID:    opts.DeveloperID,
		Title:          title,
		Description:    opts.Description,
		Reasoning:      opts.Reasoning,
		SuggestedPaths: domain.NormalizePaths(opts.SuggestedPaths),
		Status:         domain.RequestPending,
		CreatedAt:      now,
	}
	var devName string
	err := e.update(ctx, func(r repo.Repo) error {
		devs, err := r.Developers(ctx)
		if err != nil {
			return err
		}
		if findDeveloper(devs, req.DeveloperID) < 0 {
			return domain.ValidationError{Field: "developerId", Reason: "unknown developer " + req.DeveloperID}
		}
		devName = developerName(devs, req.DeveloperID)
		reqs, err := r.TaskRequests(ctx)
		if err != nil {
			return err
		}
		if err := r.SaveTaskRequests(ctx, append(reqs, req)); err != nil {
			return err
		}
		return e.appendActivity(ctx, r, devs, domain.Activity{
			Type:      events.TaskRequestSubmitted,
			TaskTitle: req.Title,
			ActorID:   req.DeveloperID,
			Metadata:  events.Payload{"requestId": req.ID},
		})
	})
	if err != nil {
		return domain.TaskRequest{}, err
	}
	e.notify(notify.TaskRequestSubmitted(req, devName))
	return req, nil
}

func (e Engine) ListTaskRequests(ctx context.Context, status string) ([]domain.TaskRequest, error) {
	switch domain.RequestStatus(status) {
	case "", domain.RequestPending, domain.RequestApproved, domain.RequestRejected:
	default:
		return nil, domain.ValidationError{Field: "status", Reason: "unknown request status " + status}
	}
	out := make([]domain.TaskRequest, 0)
	err := e.view(ctx, func(r repo.Repo) error {
		reqs, err := r.TaskRequests(ctx)
		if err != nil {
			return err
		}
		for _, req := range reqs {
			if status == "" || string(req.Status) == status {
				out = append(out, req)
			}
		}
		return nil
	})
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, err
}

// ApproveTaskRequest turns a pending request into a task assigned to the
// requesting developer.
func (e Engine) ApproveTaskRequest(ctx context.Context, id string, opts TaskRequestReviewOptions) (domain.TaskRequest, domain.Task, error) {
	var req domain.TaskRequest
	var task domain.Task
	var devName string
	err := e.update(ctx, func(r repo.Repo) error {
		now := e.now()
		reqs, err := r.TaskRequests(ctx)
		if err != nil {
			return err
		}
		idx := indexOf(reqs, func(q domain.TaskRequest) bool { return q.ID == id })
		if idx < 0 {
			return domain.NotFoundError{Kind: "task request", ID: id}
		}
		req = reqs[idx]
		if req.Status != domain.RequestPending {
			return domain.InvalidStateError{Kind: "task request", ID: req.ID, Status: string(req.Status), Action: "approve"}
		}
		devs, err := r.Developers(ctx)
		if err != nil {
			return err
		}
		if findDeveloper(devs, req.DeveloperID) < 0 {
			return domain.ValidationError{Field: "developerId", Reason: "requesting developer " + req.DeveloperID + " no longer exists"}
		}
		devName = developerName(devs, req.DeveloperID)
		task = domain.Task{
			ID:                 events.NewID("task", now),
			Title:              req.Title,
			Description:        req.Description,
			Assignee:           req.DeveloperID,
			Status:             domain.TaskAssigned,
			Priority:           opts.Priority,
			Paths:              nonNilStrings(req.SuggestedPaths),
			Deadline:           opts.Deadline,
			Complexity:         opts.Complexity,
			AcceptanceCriteria: []string{},
			CreatedAt:          now,
			UpdatedAt:          now,
		}
		tasks, err := r.Tasks(ctx)
		if err != nil {
			return err
		}
		if err := r.SaveTasks(ctx, append(tasks, task)); err != nil {
			return err
		}
		req.Status = domain.RequestApproved
		req.ReviewNotes = opts.ReviewNotes
		req.TaskID = task.ID
		req.ReviewedAt = &now
		reqs[idx] = req
		if err := r.SaveTaskRequests(ctx, reqs); err != nil {
			return err
		}
		return e.appendActivity(ctx, r, devs, domain.Activity{
			Type:      events.TaskRequestApproved,
			TaskID:    task.ID,
			TaskTitle: task.Title,
			ActorID:   actorOr(opts.ActorID, DefaultActor),
			Metadata:  events.Payload{"requestId": req.ID, "developerId": req.DeveloperID},
		})
	})
	if err != nil {
		return domain.TaskRequest{}, domain.Task{}, err
	}
	e.notify(notify.TaskCreated(task, devName))
	return req, task, nil
}

func (e Engine) RejectTaskRequest(ctx context.Context, id, notes, actorID string) (domain.TaskRequest, error) {
	var req domain.TaskRequest
	err := e.update(ctx, func(r repo.Repo) error {
		now := e.now()
		reqs, err := r.TaskRequests(ctx)
		if err != nil {
			return err
		}
		idx := indexOf(reqs, func(q domain.TaskRequest) bool { return q.ID == id })
		if idx < 0 {
			return domain.NotFoundError{Kind: "task request", ID: id}
		}
		req = reqs[idx]
		if req.Status != domain.RequestPending {
			return domain.InvalidStateError{Kind: "task request", ID: req.ID, Status: string(req.Status), Action: "reject"}
		}
		req.Status = domain.RequestRejected
		req.ReviewNotes = notes
		req.ReviewedAt = &now
		reqs[idx] = req
		if err := r.SaveTaskRequests(ctx, reqs); err != nil {
			return err
		}
		devs, err := r.Developers(ctx)
		if err != nil {
			return err
		}
		return e.appendActivity(ctx, r, devs, domain.Activity{
			Type:      events.TaskRequestRejected,
			TaskTitle: req.Title,
			ActorID:   actorOr(actorID, DefaultActor),
			Metadata:  events.Payload{"requestId": req.ID, "notes": notes},
		})
	})
	return req, err
}
