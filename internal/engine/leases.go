package engine

import (
	"context"
	"sort"
	"strings"
	"time"

	"devportal/internal/domain"
	"devportal/internal/events"
	"devportal/internal/repo"
)

// LeaseClaimOptions are parameters for claiming a task lease.
// Hours of zero falls back to the configured claim TTL.
type LeaseClaimOptions struct {
	TaskID      string
	DeveloperID string
	Hours       int
}

func (e Engine) ClaimLease(ctx context.Context, opts LeaseClaimOptions) (domain.Lease, error) {
	if strings.TrimSpace(opts.TaskID) == "" {
		return domain.Lease{}, domain.ValidationError{Field: "taskId", Reason: "is required"}
	}
	if strings.TrimSpace(opts.DeveloperID) == "" {
		return domain.Lease{}, domain.ValidationError{Field: "developerId", Reason: "is required"}
	}
	if opts.Hours < 0 {
		return domain.Lease{}, domain.ValidationError{Field: "hours", Reason: "must be positive"}
	}
	ttl := e.cfg().Leases.ClaimTTL()
	if opts.Hours > 0 {
		ttl = time.Duration(opts.Hours) * time.Hour
	}
	var out domain.Lease
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
		devs, err := r.Developers(ctx)
		if err != nil {
			return err
		}
		if findDeveloper(devs, opts.DeveloperID) < 0 {
			return domain.ValidationError{Field: "developerId", Reason: "unknown developer " + opts.DeveloperID}
		}
		leases, err := r.Leases(ctx)
		if err != nil {
			return err
		}
		locks, err := r.PathLocks(ctx)
		if err != nil {
			return err
		}
		if conflicts := lockConflicts(locks, t.Paths); len(conflicts) > 0 {
			return domain.ConflictError{Message: "paths are already locked", Paths: conflicts}
		}
		if i := liveLeaseFor(leases, t.ID, now); i >= 0 {
			return domain.ConflictError{Message: "task " + t.ID + " already has an active lease held by " + leases[i].DeveloperID}
		}
		out = newLease(t, opts.DeveloperID, now, ttl)
		lockPaths(locks, out, now)
		if err := r.SaveLeases(ctx, append(leases, out)); err != nil {
			return err
		}
		if err := r.SavePathLocks(ctx, locks); err != nil {
			return err
		}
		if setDeveloperWork(devs, opts.DeveloperID, t.ID) {
			if err := r.SaveDevelopers(ctx, devs); err != nil {
				return err
			}
		}
		return e.appendActivity(ctx, r, devs, domain.Activity{
			Type:      events.LeaseClaimed,
			TaskID:    t.ID,
			TaskTitle: t.Title,
			ActorID:   opts.DeveloperID,
			Metadata:  events.Payload{"leaseId": out.ID, "paths": out.Paths, "expiresAt": out.ExpiresAt},
		})
	})
	return out, err
}

func (e Engine) ExtendLease(ctx context.Context, leaseID string, hours int, actorID string) (domain.Lease, error) {
	if hours <= 0 {
		return domain.Lease{}, domain.ValidationError{Field: "hours", Reason: "must be positive"}
	}
	var out domain.Lease
	err := e.update(ctx, func(r repo.Repo) error {
		now := e.now()
		if _, err := e.expireLeases(ctx, r, now); err != nil {
			return err
		}
		leases, err := r.Leases(ctx)
		if err != nil {
			return err
		}
		idx := indexOf(leases, func(l domain.Lease) bool { return l.ID == leaseID })
		if idx < 0 {
			return domain.NotFoundError{Kind: "lease", ID: leaseID}
		}
		l := leases[idx]
		if l.Status != domain.LeaseActive {
			return domain.InvalidStateError{Kind: "lease", ID: l.ID, Status: string(l.Status), Action: "extend"}
		}
		l.ExpiresAt = l.ExpiresAt.Add(time.Duration(hours) * time.Hour)
		leases[idx] = l
		if err := r.SaveLeases(ctx, leases); err != nil {
			return err
		}
		out = l
		devs, err := r.Developers(ctx)
		if err != nil {
			return err
		}
		return e.appendActivity(ctx, r, devs, domain.Activity{
			Type:     events.LeaseExtended,
			TaskID:   l.TaskID,
			ActorID:  actorOr(actorID, l.DeveloperID),
			Metadata: events.Payload{"leaseId": l.ID, "hours": hours, "expiresAt": l.ExpiresAt},
		})
	})
	return e.present(out), err
}

// ReleaseLease is idempotent: releasing a released lease returns it unchanged.
func (e Engine) ReleaseLease(ctx context.Context, leaseID, actorID string) (domain.Lease, error) {
	var out domain.Lease
	err := e.update(ctx, func(r repo.Repo) error {
		leases, err := r.Leases(ctx)
		if err != nil {
			return err
		}
		idx := indexOf(leases, func(l domain.Lease) bool { return l.ID == leaseID })
		if idx < 0 {
			return domain.NotFoundError{Kind: "lease", ID: leaseID}
		}
		if leases[idx].Status == domain.LeaseReleased {
			out = leases[idx]
			return nil
		}
		now := e.now()
		l := leases[idx]
		l.Status = domain.LeaseReleased
		l.ReleasedAt = &now
		leases[idx] = l
		if err := r.SaveLeases(ctx, leases); err != nil {
			return err
		}
		locks, err := r.PathLocks(ctx)
		if err != nil {
			return err
		}
		if unlockLease(locks, l.ID) > 0 {
			if err := r.SavePathLocks(ctx, locks); err != nil {
				return err
			}
		}
		devs, err := r.Developers(ctx)
		if err != nil {
			return err
		}
		if clearDeveloperWork(devs, l.DeveloperID, l.TaskID) {
			if err := r.SaveDevelopers(ctx, devs); err != nil {
				return err
			}
		}
		out = l
		return e.appendActivity(ctx, r, devs, domain.Activity{
			Type:     events.LeaseReleased,
			TaskID:   l.TaskID,
			ActorID:  actorOr(actorID, l.DeveloperID),
			Metadata: events.Payload{"leaseId": l.ID, "paths": l.Paths},
		})
	})
	return out, err
}

// ExpireLeases marks overdue active leases expired and drops their locks.
func (e Engine) ExpireLeases(ctx context.Context) (int, error) {
	var n int
	err := e.update(ctx, func(r repo.Repo) error {
		var err error
		n, err = e.expireLeases(ctx, r, e.now())
		return err
	})
	return n, err
}

func (e Engine) expireLeases(ctx context.Context, r repo.Repo, now time.Time) (int, error) {
	leases, err := r.Leases(ctx)
	if err != nil {
		return 0, err
	}
	var expired []domain.Lease
	for i, l := range leases {
		if l.Status == domain.LeaseActive && !now.Before(l.ExpiresAt) {
			leases[i].Status = domain.LeaseExpired
			expired = append(expired, leases[i])
		}
	}
	if len(expired) == 0 {
		return 0, nil
	}
	if err := r.SaveLeases(ctx, leases); err != nil {
		return 0, err
	}
	locks, err := r.PathLocks(ctx)
	if err != nil {
		return 0, err
	}
	devs, err := r.Developers(ctx)
	if err != nil {
		return 0, err
	}
	devsChanged := false
	for _, l := range expired {
		unlockLease(locks, l.ID)
		if clearDeveloperWork(devs, l.DeveloperID, l.TaskID) {
			devsChanged = true
		}
	}
	if err := r.SavePathLocks(ctx, locks); err != nil {
		return 0, err
	}
	if devsChanged {
		if err := r.SaveDevelopers(ctx, devs); err != nil {
			return 0, err
		}
	}
	for _, l := range expired {
		err := e.appendActivity(ctx, r, devs, domain.Activity{
			Type:     events.LeaseExpired,
			TaskID:   l.TaskID,
			ActorID:  "system",
			Metadata: events.Payload{"leaseId": l.ID, "developerId": l.DeveloperID, "expiresAt": l.ExpiresAt},
		})
		if err != nil {
			return 0, err
		}
	}
	return len(expired), nil
}

// ListLeases returns leases newest first with the expiring status derived.
func (e Engine) ListLeases(ctx context.Context) ([]domain.Lease, error) {
	var out []domain.Lease
	err := e.view(ctx, func(r repo.Repo) error {
		leases, err := r.Leases(ctx)
		if err != nil {
			return err
		}
		out = leases
		return nil
	})
	for i := range out {
		out[i] = e.present(out[i])
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, err
}

// present derives the read-only expiring/expired view of a stored active lease.
func (e Engine) present(l domain.Lease) domain.Lease {
	if l.Status != domain.LeaseActive {
		return l
	}
	now := e.now()
	switch {
	case !now.Before(l.ExpiresAt):
		l.Status = domain.LeaseExpired
	case l.ExpiresAt.Sub(now) <= e.cfg().Leases.ExpiringWindow():
		l.Status = domain.LeaseExpiring
	}
	return l
}

func (e Engine) ListPathLocks(ctx context.Context) ([]domain.PathLock, error) {
	out := make([]domain.PathLock, 0)
	err := e.view(ctx, func(r repo.Repo) error {
		locks, err := r.PathLocks(ctx)
		if err != nil {
			return err
		}
		for _, l := range locks {
			out = append(out, l)
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, err
}

// RunLeaseReaper expires overdue leases every interval until ctx is done.
func (e Engine) RunLeaseReaper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = e.cfg().Leases.ReapInterval()
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := e.ExpireLeases(ctx)
			if err != nil {
				if ctx.Err() == nil {
					e.logf("reaper: expire leases failed: %v", err)
				}
				continue
			}
			if n > 0 {
				e.logf("reaper: expired %d lease(s)", n)
			}
		}
	}
}

func newLease(t domain.Task, developerID string, now time.Time, ttl time.Duration) domain.Lease {
	return domain.Lease{
		ID:          events.NewID("lease", now),
		TaskID:      t.ID,
		DeveloperID: developerID,
		Paths:       nonNilStrings(append([]string(nil), t.Paths...)),
		Status:      domain.LeaseActive,
		ExpiresAt:   now.Add(ttl),
		CreatedAt:   now,
	}
}

func liveLeaseFor(leases []domain.Lease, taskID string, now time.Time) int {
	return indexOf(leases, func(l domain.Lease) bool { return l.TaskID == taskID && l.Live(now) })
}

// lockConflicts returns the requested paths that already hold a lock.
func lockConflicts(locks map[string]domain.PathLock, paths []string) []string {
	var out []string
	for _, p := range paths {
		if l, ok := locks[domain.NormalizePath(p)]; ok && l.Status == domain.PathLocked {
			out = append(out, p)
		}
	}
	return out
}

func lockPaths(locks map[string]domain.PathLock, l domain.Lease, now time.Time) {
	for _, p := range l.Paths {
		key := domain.NormalizePath(p)
		locks[key] = domain.PathLock{
			Path:     key,
			LockedBy: l.DeveloperID,
			TaskID:   l.TaskID,
			LeaseID:  l.ID,
			Status:   domain.PathLocked,
			LockedAt: now,
		}
	}
}

func unlockLease(locks map[string]domain.PathLock, leaseID string) int {
	n := 0
	for path, l := range locks {
		if l.LeaseID == leaseID {
			delete(locks, path)
			n++
		}
	}
	return n
}

// releaseTaskLeases releases every active lease of a task and removes every
// lock referencing the task. devs is updated in place and saved if changed.
func releaseTaskLeases(ctx context.Context, r repo.Repo, devs []domain.Developer, taskID string, now time.Time) ([]string, error) {
	leases, err := r.Leases(ctx)
	if err != nil {
		return nil, err
	}
	released := []string{}
	devsChanged := false
	for i, l := range leases {
		if l.TaskID != taskID || l.Status != domain.LeaseActive {
			continue
		}
		leases[i].Status = domain.LeaseReleased
		leases[i].ReleasedAt = &now
		released = append(released, l.ID)
		if clearDeveloperWork(devs, l.DeveloperID, taskID) {
			devsChanged = true
		}
	}
	if len(released) > 0 {
		if err := r.SaveLeases(ctx, leases); err != nil {
			return nil, err
		}
	}
	locks, err := r.PathLocks(ctx)
	if err != nil {
		return nil, err
	}
	dropped := 0
	for path, l := range locks {
		if l.TaskID == taskID {
			delete(locks, path)
			dropped++
		}
	}
	if dropped > 0 {
		if err := r.SavePathLocks(ctx, locks); err != nil {
			return nil, err
		}
	}
	if devsChanged {
		if err := r.SaveDevelopers(ctx, devs); err != nil {
			return nil, err
		}
	}
	return released, nil
}
