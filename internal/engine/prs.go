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

// PRSubmitOptions are parameters for submitting a pull request.
// An empty DeveloperID means the lease holder.
type PRSubmitOptions struct {
	TaskID      string
	PRURL       string
	DeveloperID string
}

// PullRequestView is a pull request joined with its task and author.
type PullRequestView struct {
	domain.PullRequest
	TaskTitle  string `json:"taskTitle"`
	Author     string `json:"author"`
	Branch     string `json:"branch,omitempty"`
	Repository string `json:"repository,omitempty"`
	FileCount  int    `json:"fileCount"`
}

func validPRURL(u string) bool {
	return strings.Contains(u, "github.com") && strings.Contains(u, "pull")
}

func (e Engine) SubmitPR(ctx context.Context, opts PRSubmitOptions) (domain.PullRequest, error) {
	prURL := strings.TrimSpace(opts.PRURL)
	if prURL != "" && !validPRURL(prURL) {
		return domain.PullRequest{}, domain.ValidationError{Field: "prUrl", Reason: "must be a github.com pull request URL"}
	}
	var out domain.PullRequest
	var task domain.Task
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
		idx := findTask(tasks, opts.TaskID)
		if idx < 0 {
			return domain.NotFoundError{Kind: "task", ID: opts.TaskID}
		}
		t := tasks[idx]
		leases, err := r.Leases(ctx)
		if err != nil {
			return err
		}
		li := liveLeaseFor(leases, t.ID, now)
		if li < 0 {
			return domain.ForbiddenError{Reason: "an active lease on task " + t.ID + " is required to submit a pull request"}
		}
		developerID := actorOr(opts.DeveloperID, leases[li].DeveloperID)
		if leases[li].DeveloperID != developerID {
			return domain.ForbiddenError{Reason: "the lease on task " + t.ID + " is held by another developer"}
		}
		prs, err := r.PullRequests(ctx)
		if err != nil {
			return err
		}
		if indexOf(prs, func(p domain.PullRequest) bool { return p.TaskID == t.ID && p.Status == domain.PROpen }) >= 0 {
			return domain.ConflictError{Message: "task " + t.ID + " already has an open pull request"}
		}
		if t.Status != domain.TaskInReview && !t.Status.CanTransition(domain.TaskInReview) {
			return domain.InvalidStateError{Kind: "task", ID: t.ID, Status: string(t.Status), Action: "submit a pull request for"}
		}
		out = domain.PullRequest{
			ID:          events.NewID("pr", now),
			TaskID:      t.ID,
			DeveloperID: developerID,
			PRURL:       prURL,
			Status:      domain.PROpen,
			CIStatus:    domain.CIPending,
			CreatedAt:   now,
		}
		if err := r.SavePullRequests(ctx, append(prs, out)); err != nil {
			return err
		}
		t.Status = domain.TaskInReview
		if prURL != "" {
			t.PRURL = prURL
		}
		t.UpdatedAt = now
		tasks[idx] = t
		if err := r.SaveTasks(ctx, tasks); err != nil {
			return err
		}
		task = t
		devs, err := r.Developers(ctx)
		if err != nil {
			return err
		}
		devName = developerName(devs, developerID)
		return e.appendActivity(ctx, r, devs, domain.Activity{
			Type:      events.PRSubmitted,
			TaskID:    t.ID,
			TaskTitle: t.Title,
			ActorID:   developerID,
			Metadata:  events.Payload{"prId": out.ID, "prUrl": out.PRURL},
		})
	})
	if err != nil {
		return domain.PullRequest{}, err
	}
	e.notify(notify.PRSubmitted(out, task, devName))
	return out, nil
}

// ListPRs returns pull requests newest first, enriched from the current
// tasks and developers.
func (e Engine) ListPRs(ctx context.Context) ([]PullRequestView, error) {
	var out []PullRequestView
	err := e.view(ctx, func(r repo.Repo) error {
		prs, err := r.PullRequests(ctx)
		if err != nil {
			return err
		}
		tasks, err := r.Tasks(ctx)
		if err != nil {
			return err
		}
		devs, err := r.Developers(ctx)
		if err != nil {
			return err
		}
		out = make([]PullRequestView, 0, len(prs))
		for _, pr := range prs {
			v := PullRequestView{PullRequest: pr, Author: developerName(devs, pr.DeveloperID)}
			if i := findTask(tasks, pr.TaskID); i >= 0 {
				t := tasks[i]
				v.TaskTitle = t.Title
				v.Branch = t.Branch
				v.Repository = t.Repository
				v.FileCount = len(t.Paths)
			}
			out = append(out, v)
		}
		return nil
	})
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, err
}

// UpdatePRChecks records CI results. A PR whose checks all pass moves its
// task from in-review to merge-queue.
func (e Engine) UpdatePRChecks(ctx context.Context, prID string, checks domain.PRChecks, final bool, actorID string) (domain.PullRequest, error) {
	var out domain.PullRequest
	err := e.update(ctx, func(r repo.Repo) error {
		prs, err := r.PullRequests(ctx)
		if err != nil {
			return err
		}
		idx := indexOf(prs, func(p domain.PullRequest) bool { return p.ID == prID })
		if idx < 0 {
			return domain.NotFoundError{Kind: "pull request", ID: prID}
		}
		pr := prs[idx]
		if pr.Status == domain.PRMerged {
			return domain.InvalidStateError{Kind: "pull request", ID: pr.ID, Status: string(pr.Status), Action: "update checks of"}
		}
		pr.Checks = checks
		switch {
		case checks.AllPassed():
			pr.CIStatus = domain.CIPassed
		case final:
			pr.CIStatus = domain.CIFailed
		default:
			pr.CIStatus = domain.CIPending
		}
		prs[idx] = pr
		if err := r.SavePullRequests(ctx, prs); err != nil {
			return err
		}
		out = pr

		tasks, err := r.Tasks(ctx)
		if err != nil {
			return err
		}
		var title string
		if ti := findTask(tasks, pr.TaskID); ti >= 0 {
			title = tasks[ti].Title
			if pr.CIStatus == domain.CIPassed && pr.Status == domain.PROpen && tasks[ti].Status == domain.TaskInReview {
				tasks[ti].Status = domain.TaskMergeQueue
				tasks[ti].UpdatedAt = e.now()
				if err := r.SaveTasks(ctx, tasks); err != nil {
					return err
				}
			}
		}
		devs, err := r.Developers(ctx)
		if err != nil {
			return err
		}
		return e.appendActivity(ctx, r, devs, domain.Activity{
			Type:      events.PRChecksUpdated,
			TaskID:    pr.TaskID,
			TaskTitle: title,
			ActorID:   actorOr(actorID, "ci"),
			Metadata:  events.Payload{"prId": pr.ID, "ciStatus": pr.CIStatus, "checks": pr.Checks},
		})
	})
	return out, err
}

// RequestChanges sends an open PR back to its author; the task returns to in-progress.
func (e Engine) RequestChanges(ctx context.Context, prID, notes, actorID string) (domain.PullRequest, error) {
	var out domain.PullRequest
	err := e.update(ctx, func(r repo.Repo) error {
		prs, err := r.PullRequests(ctx)
		if err != nil {
			return err
		}
		idx := indexOf(prs, func(p domain.PullRequest) bool { return p.ID == prID })
		if idx < 0 {
			return domain.NotFoundError{Kind: "pull request", ID: prID}
		}
		pr := prs[idx]
		if pr.Status != domain.PROpen {
			return domain.InvalidStateError{Kind: "pull request", ID: pr.ID, Status: string(pr.Status), Action: "request changes on"}
		}
		pr.Status = domain.PRChangesRequested
		pr.ReviewNotes = notes
		prs[idx] = pr
		if err := r.SavePullRequests(ctx, prs); err != nil {
			return err
		}
		out = pr

		tasks, err := r.Tasks(ctx)
		if err != nil {
			return err
		}
		var title string
		if ti := findTask(tasks, pr.TaskID); ti >= 0 {
			title = tasks[ti].Title
			if tasks[ti].Status.CanTransition(domain.TaskInProgress) {
				tasks[ti].Status = domain.TaskInProgress
				tasks[ti].UpdatedAt = e.now()
				if err := r.SaveTasks(ctx, tasks); err != nil {
					return err
				}
			}
		}
		devs, err := r.Developers(ctx)
		if err != nil {
			return err
		}
		return e.appendActivity(ctx, r, devs, domain.Activity{
			Type:      events.PRChangesRequested,
			TaskID:    pr.TaskID,
			TaskTitle: title,
			ActorID:   actorOr(actorID, DefaultActor),
			Metadata:  events.Payload{"prId": pr.ID, "notes": notes},
		})
	})
	return out, err
}

// ApprovePR merges the PR and completes its task in one transaction: the
// task's leases are released, its path locks dropped, and exactly two
// activities (pr_approved, task_completed) appended. CI state is not consulted.
func (e Engine) ApprovePR(ctx context.Context, prID, actorID string) (domain.PullRequest, error) {
	var out domain.PullRequest
	var task domain.Task
	var devName string
	err := e.update(ctx, func(r repo.Repo) error {
		now := e.now()
		prs, err := r.PullRequests(ctx)
		if err != nil {
			return err
		}
		idx := indexOf(prs, func(p domain.PullRequest) bool { return p.ID == prID })
		if idx < 0 {
			return domain.NotFoundError{Kind: "pull request", ID: prID}
		}
		pr := prs[idx]
		if pr.Status == domain.PRMerged {
			return domain.InvalidStateError{Kind: "pull request", ID: pr.ID, Status: string(pr.Status), Action: "approve"}
		}
		tasks, err := r.Tasks(ctx)
		if err != nil {
			return err
		}
		ti := findTask(tasks, pr.TaskID)
		if ti < 0 {
			return domain.NotFoundError{Kind: "task", ID: pr.TaskID}
		}
		pr.Status = domain.PRMerged
		pr.MergedAt = &now
		prs[idx] = pr
		if err := r.SavePullRequests(ctx, prs); err != nil {
			return err
		}
		out = pr

		t := tasks[ti]
		t.Status = domain.TaskDone
		t.CompletedAt = &now
		t.UpdatedAt = now
		if pr.PRURL != "" {
			t.PRURL = pr.PRURL
		}
		tasks[ti] = t
		if err := r.SaveTasks(ctx, tasks); err != nil {
			return err
		}
		task = t

		devs, err := r.Developers(ctx)
		if err != nil {
			return err
		}
		released, err := releaseTaskLeases(ctx, r, devs, t.ID, now)
		if err != nil {
			return err
		}
		devName = developerName(devs, pr.DeveloperID)
		actor := actorOr(actorID, DefaultActor)
		if err := e.appendActivity(ctx, r, devs, domain.Activity{
			Type:      events.PRApproved,
			TaskID:    t.ID,
			TaskTitle: t.Title,
			ActorID:   actor,
			Metadata:  events.Payload{"prId": pr.ID, "prUrl": pr.PRURL, "ciStatus": pr.CIStatus},
		}); err != nil {
			return err
		}
		return e.appendActivity(ctx, r, devs, domain.Activity{
			Type:      events.TaskCompleted,
			TaskID:    t.ID,
			TaskTitle: t.Title,
			ActorID:   actor,
			Metadata:  events.Payload{"developerId": pr.DeveloperID, "releasedLeases": released},
		})
	})
	if err != nil {
		return domain.PullRequest{}, err
	}
	e.notify(notify.PRApproved(out, task, devName))
	return out, nil
}
