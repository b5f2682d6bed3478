package engine

import (
	"context"
	"slices"
	"sort"
	"strings"
	"time"

	"devportal/internal/domain"
	"devportal/internal/events"
	"devportal/internal/github"
	"devportal/internal/notify"
	"devportal/internal/repo"
)

const branchCreateTimeout = 10 * time.Second

// TaskCreateOptions are parameters for creating a task.
// An empty Status defaults to assigned when Assignee is set and to ready
// otherwise, since a task without an assignee cannot be assigned.
type TaskCreateOptions struct {
	Title              string
	Description        string
	Assignee           string
	Status             string
	Priority           string
	Paths              []string
	Branch             string
	Repository         string
	Deadline           string
	Complexity         string
	AcceptanceCriteria []string
	ActorID            string
}

// CreateTask validates and stores a new task, then creates its branch on
// GitHub when Branch and Repository are both set. New tasks may only start
// as draft, ready or assigned; see TaskCreateOptions for the default.
func (e Engine) CreateTask(ctx context.Context, opts TaskCreateOptions) (domain.Task, error) {
	title := strings.TrimSpace(opts.Title)
	if title == "" {
		return domain.Task{}, domain.ValidationError{Field: "title", Reason: "is required"}
	}
	assignee := strings.TrimSpace(opts.Assignee)
	status := domain.TaskReady
	if assignee != "" {
		status = domain.TaskAssigned
	}
	if opts.Status != "" {
		st, err := domain.ParseTaskStatus(opts.Status)
		if err != nil {
			return domain.Task{}, err
		}
		switch st {
		case domain.TaskDraft, domain.TaskReady, domain.TaskAssigned:
			status = st
		default:
			return domain.Task{}, domain.ValidationError{Field: "status", Reason: "new tasks start as draft, ready or assigned"}
		}
	}
	if status == domain.TaskAssigned && assignee == "" {
		return domain.Task{}, domain.ValidationError{Field: "assignee", Reason: "is required for assigned tasks"}
	}

	now := e.now()
	t := domain.Task{
		ID:                 events.NewID("task", now),
		Title:              title,
		Description:        opts.Description,
		Assignee:           assignee,
		Status:             status,
		Priority:           opts.Priority,
		Paths:              domain.NormalizePaths(opts.Paths),
		Branch:             strings.TrimSpace(opts.Branch),
		Repository:         strings.TrimSpace(opts.Repository),
		Deadline:           opts.Deadline,
		Complexity:         opts.Complexity,
		AcceptanceCriteria: nonNilStrings(opts.AcceptanceCriteria),
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	var assigneeName string
	err := e.update(ctx, func(r repo.Repo) error {
		devs, err := r.Developers(ctx)
		if err != nil {
			return err
		}
		if t.Assignee != "" {
			if findDeveloper(devs, t.Assignee) < 0 {
				return domain.ValidationError{Field: "assignee", Reason: "unknown developer " + t.Assignee}
			}
			assigneeName = developerName(devs, t.Assignee)
		}
		tasks, err := r.Tasks(ctx)
		if err != nil {
			return err
		}
		if err := r.SaveTasks(ctx, append(tasks, t)); err != nil {
			return err
		}
		return e.appendActivity(ctx, r, devs, domain.Activity{
			Type:      events.TaskCreated,
			TaskID:    t.ID,
			TaskTitle: t.Title,
			ActorID:   actorOr(opts.ActorID, DefaultActor),
			Metadata:  events.Payload{"status": t.Status, "assignee": t.Assignee, "paths": t.Paths},
		})
	})
	if err != nil {
		return domain.Task{}, err
	}
	e.createBranch(ctx, t)
	e.notify(notify.TaskCreated(t, assigneeName))
	return t, nil
}

// createBranch is best-effort: failures are logged and never surfaced.
func (e Engine) createBranch(ctx context.Context, t domain.Task) {
	if e.GitHub == nil || t.Branch == "" || t.Repository == "" {
		return
	}
	owner, name, ok := github.ParseRepository(t.Repository)
	if !ok {
		e.logf("github: task %s has unparseable repository %q", t.ID, t.Repository)
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), branchCreateTimeout)
	defer cancel()
	if err := e.GitHub.CreateBranch(ctx, owner, name, t.Branch, e.cfg().GitHub.DefaultBase); err != nil {
		e.logf("github: create branch %s on %s/%s failed: %v", t.Branch, owner, name, err)
	}
}

// TaskUpdateOptions is a shallow merge; nil fields are left untouched.
type TaskUpdateOptions struct {
	ID                 string
	Title              *string
	Description        *string
	Assignee           *string
	Status             *string
	Priority           *string
	Paths              []string
	Branch             *string
	Repository         *string
	PRURL              *string
	Deadline           *string
	Complexity         *string
	AcceptanceCriteria []string
	ActorID            string
	Force              bool
}

func (e Engine) UpdateTask(ctx context.Context, opts TaskUpdateOptions) (domain.Task, error) {
	var out domain.Task
	err := e.update(ctx, func(r repo.Repo) error {
		tasks, err := r.Tasks(ctx)
		if err != nil {
			return err
		}
		idx := findTask(tasks, opts.ID)
		if idx < 0 {
			return domain.NotFoundError{Kind: "task", ID: opts.ID}
		}
		devs, err := r.Developers(ctx)
		if err != nil {
			return err
		}
		t := tasks[idx]
		from := t.Status
		if opts.Title != nil {
			title := strings.TrimSpace(*opts.Title)
			if title == "" {
				return domain.ValidationError{Field: "title", Reason: "must not be empty"}
			}
			t.Title = title
		}
		if opts.Assignee != nil {
			a := strings.TrimSpace(*opts.Assignee)
			if a != "" && findDeveloper(devs, a) < 0 {
				return domain.ValidationError{Field: "assignee", Reason: "unknown developer " + a}
			}
			t.Assignee = a
		}
		setString(&t.Description, opts.Description)
		setString(&t.Priority, opts.Priority)
		setString(&t.Branch, opts.Branch)
		setString(&t.Repository, opts.Repository)
		setString(&t.PRURL, opts.PRURL)
		setString(&t.Deadline, opts.Deadline)
		setString(&t.Complexity, opts.Complexity)
		now := e.now()
		if opts.Paths != nil {
			paths := domain.NormalizePaths(opts.Paths)
			if !slices.Equal(paths, t.Paths) {
				leases, err := r.Leases(ctx)
				if err != nil {
					return err
				}
				if i := liveLeaseFor(leases, t.ID, now); i >= 0 {
					return domain.ConflictError{Message: "task " + t.ID + " has an active lease held by " + leases[i].DeveloperID + ", release it before changing paths"}
				}
			}
			t.Paths = paths
		}
		if opts.AcceptanceCriteria != nil {
			t.AcceptanceCriteria = opts.AcceptanceCriteria
		}
		if opts.Status != nil {
			to, err := domain.ParseTaskStatus(*opts.Status)
			if err != nil {
				return err
			}
			if to != from {
				if !opts.Force && !from.CanTransition(to) {
					return domain.InvalidStateError{Kind: "task", ID: t.ID, Status: string(from), Action: "move to " + string(to)}
				}
				t.Status = to
				stampStatus(&t, now)
			}
		}
		if t.Status == domain.TaskAssigned && t.Assignee == "" {
			return domain.ValidationError{Field: "assignee", Reason: "is required for assigned tasks"}
		}
		t.UpdatedAt = now
		tasks[idx] = t
		if err := r.SaveTasks(ctx, tasks); err != nil {
			return err
		}
		out = t
		var released []string
		if t.Status != from && !t.Status.HoldsWork() {
			released, err = releaseTaskLeases(ctx, r, devs, t.ID, now)
			if err != nil {
				return err
			}
		}
		meta := events.Payload{}
		if t.Status != from {
			meta["from"] = from
			meta["to"] = t.Status
		}
		if len(released) > 0 {
			meta["releasedLeases"] = released
		}
		if opts.Force {
			meta["force"] = true
		}
		return e.appendActivity(ctx, r, devs, domain.Activity{
			Type:      events.TaskUpdated,
			TaskID:    t.ID,
			TaskTitle: t.Title,
			ActorID:   actorOr(opts.ActorID, DefaultActor),
			Metadata:  meta,
		})
	})
	return out, err
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

func stampStatus(t *domain.Task, now time.Time) {
	switch t.Status {
	case domain.TaskInProgress:
		if t.StartedAt == nil {
			t.StartedAt = &now
		}
	case domain.TaskDone:
		t.CompletedAt = &now
	}
}

// TaskStartResult carries the started task and, if one was created, its lease.
type TaskStartResult struct {
	Task  domain.Task   `json:"task"`
	Lease *domain.Lease `json:"lease,omitempty"`
}

// StartTask moves an assigned task to in-progress for its assignee and,
// unless the task already has a live lease, leases and locks its paths.
func (e Engine) StartTask(ctx context.Context, taskID, developerID string) (TaskStartResult, error) {
	if strings.TrimSpace(developerID) == "" {
		return TaskStartResult{}, domain.ValidationError{Field: "developerId", Reason: "is required"}
	}
	var res TaskStartResult
	var devName string
	err := e.update(ctx, func(r repo.Repo) error {
		now := e.now()
		if _, err := e.expireLeases(ctx, r, now); err != nil {
			return err
		}
		tasks, err := r.Tasks(ctx)
		if err != nil {
			return err
		}
		idx := findTask(tasks, taskID)
		if idx < 0 {
			return domain.NotFoundError{Kind: "task", ID: taskID}
		}
		t := tasks[idx]
		if t.Status != domain.TaskAssigned {
			return domain.InvalidStateError{Kind: "task", ID: t.ID, Status: string(t.Status), Action: "start"}
		}
		if t.Assignee != developerID {
			return domain.ForbiddenError{Reason: "task " + t.ID + " is assigned to another developer"}
		}
		leases, err := r.Leases(ctx)
		if err != nil {
			return err
		}
		if liveLeaseFor(leases, t.ID, now) < 0 {
			locks, err := r.PathLocks(ctx)
			if err != nil {
				return err
			}
			if conflicts := lockConflicts(locks, t.Paths); len(conflicts) > 0 {
				return domain.ConflictError{Message: "paths are locked by another task", Paths: conflicts}
			}
			lease := newLease(t, developerID, now, e.cfg().Leases.StartTTL())
			lockPaths(locks, lease, now)
			if err := r.SaveLeases(ctx, append(leases, lease)); err != nil {
				return err
			}
			if err := r.SavePathLocks(ctx, locks); err != nil {
				return err
			}
			res.Lease = &lease
		}
		t.Status = domain.TaskInProgress
		t.StartedAt = &now
		t.UpdatedAt = now
		tasks[idx] = t
		if err := r.SaveTasks(ctx, tasks); err != nil {
			return err
		}
		res.Task = t

		devs, err := r.Developers(ctx)
		if err != nil {
			return err
		}
		if setDeveloperWork(devs, developerID, t.ID) {
			if err := r.SaveDevelopers(ctx, devs); err != nil {
				return err
			}
		}
		devName = developerName(devs, developerID)
		meta := events.Payload{}
		if res.Lease != nil {
			meta["leaseId"] = res.Lease.ID
			meta["expiresAt"] = res.Lease.ExpiresAt
		}
		return e.appendActivity(ctx, r, devs, domain.Activity{
			Type:      events.TaskStarted,
			TaskID:    t.ID,
			TaskTitle: t.Title,
			ActorID:   developerID,
			Metadata:  meta,
		})
	})
	if err != nil {
		return TaskStartResult{}, err
	}
	e.notify(notify.TaskStarted(res.Task, devName, res.Lease))
	return res, nil
}

// DeleteTask removes the task, releases its live lease and drops any path
// lock that still references it.
func (e Engine) DeleteTask(ctx context.Context, taskID, actorID string) (domain.Task, error) {
	var out domain.Task
	err := e.update(ctx, func(r repo.Repo) error {
		now := e.now()
		tasks, err := r.Tasks(ctx)
		if err != nil {
			return err
		}
		idx := findTask(tasks, taskID)
		if idx < 0 {
			return domain.NotFoundError{Kind: "task", ID: taskID}
		}
		out = tasks[idx]
		tasks = append(tasks[:idx], tasks[idx+1:]...)
		if err := r.SaveTasks(ctx, tasks); err != nil {
			return err
		}
		devs, err := r.Developers(ctx)
		if err != nil {
			return err
		}
		released, err := releaseTaskLeases(ctx, r, devs, taskID, now)
		if err != nil {
			return err
		}
		return e.appendActivity(ctx, r, devs, domain.Activity{
			Type:      events.TaskDeleted,
			TaskID:    out.ID,
			TaskTitle: out.Title,
			ActorID:   actorOr(actorID, DefaultActor),
			Metadata:  events.Payload{"releasedLeases": released},
		})
	})
	return out, err
}

// TaskFilter narrows ListTasks; empty fields match everything.
type TaskFilter struct {
	Status   string
	Assignee string
}

func (e Engine) ListTasks(ctx context.Context, f TaskFilter) ([]domain.Task, error) {
	var status domain.TaskStatus
	if f.Status != "" {
		st, err := domain.ParseTaskStatus(f.Status)
		if err != nil {
			return nil, err
		}
		status = st
	}
	out := make([]domain.Task, 0)
	err := e.view(ctx, func(r repo.Repo) error {
		tasks, err := r.Tasks(ctx)
		if err != nil {
			return err
		}
		for _, t := range tasks {
			if status != "" && t.Status != status {
				continue
			}
			if f.Assignee != "" && t.Assignee != f.Assignee {
				continue
			}
			out = append(out, t)
		}
		return nil
	})
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, err
}

func (e Engine) GetTask(ctx context.Context, id string) (domain.Task, error) {
	var out domain.Task
	err := e.view(ctx, func(r repo.Repo) error {
		tasks, err := r.Tasks(ctx)
		if err != nil {
			return err
		}
		idx := findTask(tasks, id)
		if idx < 0 {
			return domain.NotFoundError{Kind: "task", ID: id}
		}
		out = tasks[idx]
		return nil
	})
	return out, err
}
