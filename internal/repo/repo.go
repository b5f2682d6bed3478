package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"devportal/internal/domain"
	"devportal/internal/store"
)

const (
	KeyTasks        = "tasks"
	KeyDevelopers   = "developers"
	KeyLeases       = "leases"
	KeyPullRequests = "pull_requests"
	KeyPathLocks    = "path_locks"
	KeyTaskRequests = "task_requests"
	KeyActivities   = "activities"
	KeyInitialized  = "meta:initialized"
)

// CollectionKeys lists every collection document, in the order init-db seeds them.
var CollectionKeys = []string{
	KeyTasks, KeyDevelopers, KeyLeases, KeyPullRequests, KeyPathLocks, KeyTaskRequests, KeyActivities,
}

// Repo reads and writes whole collections through one store transaction.
type Repo struct {
	Tx store.Tx
}

func load[T any](ctx context.Context, tx store.Tx, key string, dst *T) error {
	raw, ok, err := tx.Get(ctx, key)
	if err != nil {
		return err
	}
	if !ok || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

func save(ctx context.Context, tx store.Tx, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return tx.Set(ctx, key, data)
}

func (r Repo) Tasks(ctx context.Context) ([]domain.Task, error) {
	var out []domain.Task
	err := load(ctx, r.Tx, KeyTasks, &out)
	return out, err
}

func (r Repo) SaveTasks(ctx context.Context, tasks []domain.Task) error {
	return save(ctx, r.Tx, KeyTasks, nonNil(tasks))
}

func (r Repo) Developers(ctx context.Context) ([]domain.Developer, error) {
	var out []domain.Developer
	err := load(ctx, r.Tx, KeyDevelopers, &out)
	return out, err
}

func (r Repo) SaveDevelopers(ctx context.Context, devs []domain.Developer) error {
	return save(ctx, r.Tx, KeyDevelopers, nonNil(devs))
}

func (r Repo) Leases(ctx context.Context) ([]domain.Lease, error) {
	var out []domain.Lease
	err := load(ctx, r.Tx, KeyLeases, &out)
	return out, err
}

func (r Repo) SaveLeases(ctx context.Context, leases []domain.Lease) error {
	return save(ctx, r.Tx, KeyLeases, nonNil(leases))
}

func (r Repo) PullRequests(ctx context.Context) ([]domain.PullRequest, error) {
	var out []domain.PullRequest
	err := load(ctx, r.Tx, KeyPullRequests, &out)
	return out, err
}

func (r Repo) SavePullRequests(ctx context.Context, prs []domain.PullRequest) error {
	return save(ctx, r.Tx, KeyPullRequests, nonNil(prs))
}

// PathLocks is keyed by normalized path.
func (r Repo) PathLocks(ctx context.Context) (map[string]domain.PathLock, error) {
	out := map[string]domain.PathLock{}
	err := load(ctx, r.Tx, KeyPathLocks, &out)
	if out == nil {
		out = map[string]domain.PathLock{}
	}
	return out, err
}

func (r Repo) SavePathLocks(ctx context.Context, locks map[string]domain.PathLock) error {
	if locks == nil {
		locks = map[string]domain.PathLock{}
	}
	return save(ctx, r.Tx, KeyPathLocks, locks)
}

func (r Repo) TaskRequests(ctx context.Context) ([]domain.TaskRequest, error) {
	var out []domain.TaskRequest
	err := load(ctx, r.Tx, KeyTaskRequests, &out)
	return out, err
}

func (r Repo) SaveTaskRequests(ctx context.Context, reqs []domain.TaskRequest) error {
	return save(ctx, r.Tx, KeyTaskRequests, nonNil(reqs))
}

func (r Repo) Activities(ctx context.Context) ([]domain.Activity, error) {
	var out []domain.Activity
	err := load(ctx, r.Tx, KeyActivities, &out)
	return out, err
}

func (r Repo) SaveActivities(ctx context.Context, acts []domain.Activity) error {
	return save(ctx, r.Tx, KeyActivities, nonNil(acts))
}

// Initialized returns when init-db first seeded the store, or nil.
func (r Repo) Initialized(ctx context.Context) (*time.Time, error) {
	var ts string
	if err := load(ctx, r.Tx, KeyInitialized, &ts); err != nil {
		return nil, err
	}
	if ts == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", KeyInitialized, err)
	}
	return &t, nil
}

func (r Repo) MarkInitialized(ctx context.Context, at time.Time) error {
	return save(ctx, r.Tx, KeyInitialized, at.UTC().Format(time.RFC3339Nano))
}

// Exists reports whether a collection document has ever been written.
func (r Repo) Exists(ctx context.Context, key string) (bool, error) {
	_, ok, err := r.Tx.Get(ctx, key)
	return ok, err
}

// Empty writes the zero value of a collection.
func (r Repo) Empty(ctx context.Context, key string) error {
	if key == KeyPathLocks {
		return r.SavePathLocks(ctx, nil)
	}
	return save(ctx, r.Tx, key, []struct{}{})
}

func nonNil[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
