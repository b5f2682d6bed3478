package engine_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"devportal/internal/config"
	"devportal/internal/db"
	"devportal/internal/domain"
	"devportal/internal/engine"
	"devportal/internal/github"
	"devportal/internal/migrate"
	"devportal/internal/notify"
	"devportal/internal/store"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fakeNotifier struct {
	mu       sync.Mutex
	messages []notify.Message
}

func (f *fakeNotifier) Enabled() bool { return true }

func (f *fakeNotifier) Enqueue(m notify.Message) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, m)
	return true
}

func (f *fakeNotifier) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.messages)
}

type fakeGitHub struct {
	mu       sync.Mutex
	branches []string
	err      error
}

func (f *fakeGitHub) CreateBranch(ctx context.Context, owner, repo, branch, base string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.branches = append(f.branches, owner+"/"+repo+"@"+branch+"<-"+base)
	return f.err
}

func (f *fakeGitHub) ListRepos(ctx context.Context) ([]github.Repository, error) {
	return []github.Repository{{Name: "portal", FullName: "acme/portal"}}, nil
}

func (f *fakeGitHub) ListBranches(ctx context.Context, owner, repo string) ([]github.Branch, error) {
	return nil, f.err
}

type testEnv struct {
	Engine   engine.Engine
	Ctx      context.Context
	Clock    *clock
	Notifier *fakeNotifier
	GitHub   *fakeGitHub
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if _, err := migrate.Migrate(context.Background(), conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	st := store.NewSQLite(conn)
	t.Cleanup(func() { _ = st.Close() })

	clk := &clock{now: time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)}
	eng := engine.New(st, config.Default())
	eng.Now = clk.Now
	eng.Logger = nil
	n := &fakeNotifier{}
	gh := &fakeGitHub{}
	eng.Notifier = n
	eng.GitHub = gh
	ctx := context.Background()
	if _, err := eng.InitDB(ctx); err != nil {
		t.Fatalf("init db: %v", err)
	}
	return testEnv{Engine: eng, Ctx: ctx, Clock: clk, Notifier: n, GitHub: gh}
}

func (env testEnv) createTask(t *testing.T, assignee string, paths ...string) domain.Task {
	t.Helper()
	task, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		Title:    "Implement " + assignee,
		Assignee: assignee,
		Paths:    paths,
	})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	return task
}

func (env testEnv) activityTypes(t *testing.T) []string {
	t.Helper()
	acts, err := env.Engine.ListActivities(env.Ctx, 0)
	if err != nil {
		t.Fatalf("list activities: %v", err)
	}
	out := make([]string, 0, len(acts))
	for _, a := range acts {
		out = append(out, a.Type)
	}
	return out
}

func TestCreateTaskDefaults(t *testing.T) {
	env := newTestEnv(t)
	assigned := env.createTask(t, "dev-1", "src/a.ts", "./src/a.ts", "src//b.ts")
	if assigned.Status != domain.TaskAssigned {
		t.Fatalf("expected assigned, got %s", assigned.Status)
	}
	if len(assigned.Paths) != 2 || assigned.Paths[1] != "src/b.ts" {
		t.Fatalf("paths not normalized: %v", assigned.Paths)
	}
	unassigned := env.createTask(t, "")
	if unassigned.Status != domain.TaskReady {
		t.Fatalf("expected ready, got %s", unassigned.Status)
	}
	_, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{Title: "x", Assignee: "ghost"})
	var verr domain.ValidationError
	if !errors.As(err, &verr) || verr.Field != "assignee" {
		t.Fatalf("expected assignee validation error, got %v", err)
	}
	_, err = env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{Title: "x", Status: "done"})
	if !errors.As(err, &verr) {
		t.Fatalf("expected status validation error, got %v", err)
	}
	_, err = env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{Title: "x", Status: "assigned"})
	if !errors.As(err, &verr) || verr.Field != "assignee" {
		t.Fatalf("assigned without assignee should fail, got %v", err)
	}
	if env.Notifier.count() != 2 {
		t.Fatalf("expected 2 notifications, got %d", env.Notifier.count())
	}
}

func TestCreateTaskCreatesBranchBestEffort(t *testing.T) {
	env := newTestEnv(t)
	env.GitHub.err = errors.New("github down")
	task, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{
		Title:      "Branch me",
		Repository: "https://github.com/acme/portal",
		Branch:     "feature/login",
	})
	if err != nil {
		t.Fatalf("branch failure must not surface: %v", err)
	}
	if len(env.GitHub.branches) != 1 || env.GitHub.branches[0] != "acme/portal@feature/login<-main" {
		t.Fatalf("unexpected branch calls: %v", env.GitHub.branches)
	}
	if _, err := env.Engine.GetTask(env.Ctx, task.ID); err != nil {
		t.Fatalf("task not persisted: %v", err)
	}
}

func TestTaskStatusTransitions(t *testing.T) {
	env := newTestEnv(t)
	task := env.createTask(t, "")
	status := func(s string) *string { return &s }

	task, err := env.Engine.UpdateTask(env.Ctx, engine.TaskUpdateOptions{ID: task.ID, Status: status("draft")})
	if err != nil || task.Status != domain.TaskDraft {
		t.Fatalf("to draft: %v", err)
	}
	_, err = env.Engine.UpdateTask(env.Ctx, engine.TaskUpdateOptions{ID: task.ID, Status: status("done")})
	var serr domain.InvalidStateError
	if !errors.As(err, &serr) {
		t.Fatalf("expected invalid state, got %v", err)
	}
	task, err = env.Engine.UpdateTask(env.Ctx, engine.TaskUpdateOptions{ID: task.ID, Status: status("done"), Force: true})
	if err != nil || task.Status != domain.TaskDone || task.CompletedAt == nil {
		t.Fatalf("forced done: %+v %v", task, err)
	}
	_, err = env.Engine.UpdateTask(env.Ctx, engine.TaskUpdateOptions{ID: task.ID, Status: status("ready")})
	if !errors.As(err, &serr) {
		t.Fatalf("done is terminal, got %v", err)
	}
	_, err = env.Engine.UpdateTask(env.Ctx, engine.TaskUpdateOptions{ID: "task-missing", Status: status("ready")})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestUpdateTaskAliasAndShallowMerge(t *testing.T) {
	env := newTestEnv(t)
	task := env.createTask(t, "dev-1", "a.ts")
	desc := "new description"
	pr := "pr"
	_, err := env.Engine.UpdateTask(env.Ctx, engine.TaskUpdateOptions{ID: task.ID, Description: &desc, Status: &pr})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	got, err := env.Engine.GetTask(env.Ctx, task.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != domain.TaskInReview || got.Description != desc || got.Title != task.Title || len(got.Paths) != 1 {
		t.Fatalf("unexpected merge result: %+v", got)
	}
}

func TestUpdateTaskToDoneReleasesLeaseAndLocks(t *testing.T) {
	env := newTestEnv(t)
	task := env.createTask(t, "dev-1", "a.ts")
	res, err := env.Engine.StartTask(env.Ctx, task.ID, "dev-1")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	status := func(s string) *string { return &s }
	if _, err := env.Engine.UpdateTask(env.Ctx, engine.TaskUpdateOptions{ID: task.ID, Status: status("in-review")}); err != nil {
		t.Fatalf("to in-review: %v", err)
	}
	done, err := env.Engine.UpdateTask(env.Ctx, engine.TaskUpdateOptions{ID: task.ID, Status: status("done")})
	if err != nil || done.Status != domain.TaskDone || done.CompletedAt == nil {
		t.Fatalf("to done: %+v %v", done, err)
	}
	locks, _ := env.Engine.ListPathLocks(env.Ctx)
	if len(locks) != 0 {
		t.Fatalf("expected locks released, got %+v", locks)
	}
	leases, _ := env.Engine.ListLeases(env.Ctx)
	if len(leases) != 1 || leases[0].ID != res.Lease.ID || leases[0].Status != domain.LeaseReleased || leases[0].ReleasedAt == nil {
		t.Fatalf("expected released lease, got %+v", leases)
	}
	devs, _ := env.Engine.ListDevelopers(env.Ctx)
	if devs[0].CurrentTask != "" {
		t.Fatalf("developer still holds %s", devs[0].CurrentTask)
	}

	other := env.createTask(t, "dev-2", "a.ts")
	if _, err := env.Engine.ClaimLease(env.Ctx, engine.LeaseClaimOptions{TaskID: other.ID, DeveloperID: "dev-2"}); err != nil {
		t.Fatalf("claim after done: %v", err)
	}
}

func TestForcedDoneReleasesLease(t *testing.T) {
	env := newTestEnv(t)
	task := env.createTask(t, "dev-1", "a.ts", "b.ts")
	if _, err := env.Engine.StartTask(env.Ctx, task.ID, "dev-1"); err != nil {
		t.Fatalf("start: %v", err)
	}
	done := "done"
	if _, err := env.Engine.UpdateTask(env.Ctx, engine.TaskUpdateOptions{ID: task.ID, Status: &done, Force: true}); err != nil {
		t.Fatalf("forced done: %v", err)
	}
	locks, _ := env.Engine.ListPathLocks(env.Ctx)
	if len(locks) != 0 {
		t.Fatalf("expected locks released, got %+v", locks)
	}
	leases, _ := env.Engine.ListLeases(env.Ctx)
	if len(leases) != 1 || leases[0].Status != domain.LeaseReleased {
		t.Fatalf("expected released lease, got %+v", leases)
	}
}

func TestUpdateTaskCannotStartWithoutLease(t *testing.T) {
	env := newTestEnv(t)
	task := env.createTask(t, "dev-1", "a.ts")
	inProgress := "in-progress"
	_, err := env.Engine.UpdateTask(env.Ctx, engine.TaskUpdateOptions{ID: task.ID, Status: &inProgress})
	var serr domain.InvalidStateError
	if !errors.As(err, &serr) {
		t.Fatalf("expected invalid state, got %v", err)
	}
	got, _ := env.Engine.GetTask(env.Ctx, task.ID)
	if got.Status != domain.TaskAssigned || got.StartedAt != nil {
		t.Fatalf("task changed: %+v", got)
	}
	res, err := env.Engine.StartTask(env.Ctx, task.ID, "dev-1")
	if err != nil || res.Lease == nil {
		t.Fatalf("start after rejected update: %+v %v", res, err)
	}
}

func TestUpdateTaskPathsWhileLeased(t *testing.T) {
	env := newTestEnv(t)
	task := env.createTask(t, "dev-1", "a.ts")
	if _, err := env.Engine.StartTask(env.Ctx, task.ID, "dev-1"); err != nil {
		t.Fatalf("start: %v", err)
	}
	_, err := env.Engine.UpdateTask(env.Ctx, engine.TaskUpdateOptions{ID: task.ID, Paths: []string{"a.ts", "b.ts"}})
	var cerr domain.ConflictError
	if !errors.As(err, &cerr) {
		t.Fatalf("expected conflict, got %v", err)
	}
	got, _ := env.Engine.GetTask(env.Ctx, task.ID)
	if len(got.Paths) != 1 || got.Paths[0] != "a.ts" {
		t.Fatalf("paths changed under lease: %v", got.Paths)
	}

	desc := "same paths"
	if _, err := env.Engine.UpdateTask(env.Ctx, engine.TaskUpdateOptions{ID: task.ID, Description: &desc, Paths: []string{"a.ts"}}); err != nil {
		t.Fatalf("unchanged paths should be accepted: %v", err)
	}

	idle := env.createTask(t, "dev-2", "c.ts")
	updated, err := env.Engine.UpdateTask(env.Ctx, engine.TaskUpdateOptions{ID: idle.ID, Paths: []string{"d.ts"}})
	if err != nil || len(updated.Paths) != 1 || updated.Paths[0] != "d.ts" {
		t.Fatalf("paths edit without lease: %+v %v", updated, err)
	}
}

func TestEmptyListsAreNotNil(t *testing.T) {
	env := newTestEnv(t)
	tasks, err := env.Engine.ListTasks(env.Ctx, engine.TaskFilter{Status: "done"})
	if err != nil || tasks == nil {
		t.Fatalf("tasks: %v %v", tasks, err)
	}
	locks, err := env.Engine.ListPathLocks(env.Ctx)
	if err != nil || locks == nil {
		t.Fatalf("locks: %v %v", locks, err)
	}
	reqs, err := env.Engine.ListTaskRequests(env.Ctx, "approved")
	if err != nil || reqs == nil {
		t.Fatalf("requests: %v %v", reqs, err)
	}
}

func TestStartTaskPreconditions(t *testing.T) {
	env := newTestEnv(t)
	ready := env.createTask(t, "")
	_, err := env.Engine.StartTask(env.Ctx, ready.ID, "dev-1")
	var serr domain.InvalidStateError
	if !errors.As(err, &serr) {
		t.Fatalf("expected invalid state, got %v", err)
	}

	task := env.createTask(t, "dev-1", "a.ts")
	_, err = env.Engine.StartTask(env.Ctx, task.ID, "dev-2")
	var ferr domain.ForbiddenError
	if !errors.As(err, &ferr) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	unchanged, _ := env.Engine.GetTask(env.Ctx, task.ID)
	if unchanged.Status != domain.TaskAssigned || unchanged.StartedAt != nil {
		t.Fatalf("task changed after forbidden start: %+v", unchanged)
	}
}

func TestStartTaskLeasesAndLocksPaths(t *testing.T) {
	env := newTestEnv(t)
	task := env.createTask(t, "dev-1", "a.ts")
	res, err := env.Engine.StartTask(env.Ctx, task.ID, "dev-1")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if res.Task.Status != domain.TaskInProgress || res.Task.StartedAt == nil {
		t.Fatalf("unexpected task: %+v", res.Task)
	}
	if res.Lease == nil || res.Lease.Status != domain.LeaseActive {
		t.Fatalf("expected active lease, got %+v", res.Lease)
	}
	if got := res.Lease.ExpiresAt.Sub(env.Clock.Now()); got != 72*time.Hour {
		t.Fatalf("start ttl = %s", got)
	}
	leases, _ := env.Engine.ListLeases(env.Ctx)
	if len(leases) != 1 || len(leases[0].Paths) != 1 || leases[0].Paths[0] != "a.ts" {
		t.Fatalf("unexpected leases: %+v", leases)
	}
	locks, _ := env.Engine.ListPathLocks(env.Ctx)
	if len(locks) != 1 || locks[0].Path != "a.ts" || locks[0].LockedBy != "dev-1" || locks[0].Status != domain.PathLocked {
		t.Fatalf("unexpected locks: %+v", locks)
	}
	devs, _ := env.Engine.ListDevelopers(env.Ctx)
	if devs[0].Status != domain.DeveloperActive || devs[0].CurrentTask != task.ID {
		t.Fatalf("developer not marked active: %+v", devs[0])
	}
}

func TestStartTaskPathConflict(t *testing.T) {
	env := newTestEnv(t)
	first := env.createTask(t, "dev-1", "a.ts")
	second := env.createTask(t, "dev-2", "a.ts", "b.ts")
	if _, err := env.Engine.StartTask(env.Ctx, first.ID, "dev-1"); err != nil {
		t.Fatalf("start first: %v", err)
	}
	_, err := env.Engine.StartTask(env.Ctx, second.ID, "dev-2")
	var cerr domain.ConflictError
	if !errors.As(err, &cerr) || len(cerr.Paths) != 1 || cerr.Paths[0] != "a.ts" {
		t.Fatalf("expected conflict on a.ts, got %v", err)
	}
	got, _ := env.Engine.GetTask(env.Ctx, second.ID)
	if got.Status != domain.TaskAssigned {
		t.Fatalf("conflicting start changed task: %s", got.Status)
	}
}

func TestClaimConflictLeavesStateUntouched(t *testing.T) {
	env := newTestEnv(t)
	t1 := env.createTask(t, "dev-1", "a.ts")
	if _, err := env.Engine.StartTask(env.Ctx, t1.ID, "dev-1"); err != nil {
		t.Fatalf("start: %v", err)
	}
	_, err := env.Engine.ClaimLease(env.Ctx, engine.LeaseClaimOptions{TaskID: t1.ID, DeveloperID: "dev-2"})
	var cerr domain.ConflictError
	if !errors.As(err, &cerr) || len(cerr.Paths) != 1 || cerr.Paths[0] != "a.ts" {
		t.Fatalf("expected conflicts=[a.ts], got %v", err)
	}
	leases, _ := env.Engine.ListLeases(env.Ctx)
	if len(leases) != 1 {
		t.Fatalf("claim conflict created a lease: %+v", leases)
	}
}

func TestClaimLocksEveryPath(t *testing.T) {
	env := newTestEnv(t)
	task := env.createTask(t, "", "a.ts", "b.ts")
	lease, err := env.Engine.ClaimLease(env.Ctx, engine.LeaseClaimOptions{TaskID: task.ID, DeveloperID: "dev-2"})
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if got := lease.ExpiresAt.Sub(env.Clock.Now()); got != 8*time.Hour {
		t.Fatalf("claim ttl = %s", got)
	}
	locks, _ := env.Engine.ListPathLocks(env.Ctx)
	if len(locks) != 2 {
		t.Fatalf("expected 2 locks, got %+v", locks)
	}
	for _, l := range locks {
		if l.LockedBy != "dev-2" || l.Status != domain.PathLocked || l.LeaseID != lease.ID {
			t.Fatalf("bad lock: %+v", l)
		}
	}
	_, err = env.Engine.ClaimLease(env.Ctx, engine.LeaseClaimOptions{TaskID: "task-missing", DeveloperID: "dev-2"})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestConcurrentOverlappingClaims(t *testing.T) {
	env := newTestEnv(t)
	a := env.createTask(t, "", "shared.go", "a.go")
	b := env.createTask(t, "", "shared.go", "b.go")

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, task := range []domain.Task{a, b} {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			_, errs[i] = env.Engine.ClaimLease(env.Ctx, engine.LeaseClaimOptions{TaskID: id, DeveloperID: "dev-3"})
		}(i, task.ID)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		var cerr domain.ConflictError
		switch {
		case err == nil:
			wins++
		case errors.As(err, &cerr):
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if wins != 1 {
		t.Fatalf("expected exactly one winning claim, got %d (%v)", wins, errs)
	}
	locks, _ := env.Engine.ListPathLocks(env.Ctx)
	if len(locks) != 2 {
		t.Fatalf("expected 2 locks from the winner, got %+v", locks)
	}
}

func TestReleaseLeaseTwice(t *testing.T) {
	env := newTestEnv(t)
	task := env.createTask(t, "", "a.ts", "b.ts")
	lease, err := env.Engine.ClaimLease(env.Ctx, engine.LeaseClaimOptions{TaskID: task.ID, DeveloperID: "dev-1"})
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	first, err := env.Engine.ReleaseLease(env.Ctx, lease.ID, "dev-1")
	if err != nil || first.Status != domain.LeaseReleased || first.ReleasedAt == nil {
		t.Fatalf("first release: %+v %v", first, err)
	}
	before := len(env.activityTypes(t))
	env.Clock.Advance(time.Minute)
	second, err := env.Engine.ReleaseLease(env.Ctx, lease.ID, "dev-1")
	if err != nil || second.Status != domain.LeaseReleased || !second.ReleasedAt.Equal(*first.ReleasedAt) {
		t.Fatalf("second release: %+v %v", second, err)
	}
	if after := len(env.activityTypes(t)); after != before {
		t.Fatalf("idempotent release appended activities: %d -> %d", before, after)
	}
	locks, _ := env.Engine.ListPathLocks(env.Ctx)
	if len(locks) != 0 {
		t.Fatalf("locks remain: %+v", locks)
	}
	if _, err := env.Engine.ClaimLease(env.Ctx, engine.LeaseClaimOptions{TaskID: task.ID, DeveloperID: "dev-2"}); err != nil {
		t.Fatalf("reclaim after release: %v", err)
	}
}

func TestExtendAndExpireLeases(t *testing.T) {
	env := newTestEnv(t)
	task := env.createTask(t, "", "a.ts")
	lease, err := env.Engine.ClaimLease(env.Ctx, engine.LeaseClaimOptions{TaskID: task.ID, DeveloperID: "dev-1", Hours: 1})
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	leases, _ := env.Engine.ListLeases(env.Ctx)
	if leases[0].Status != domain.LeaseExpiring {
		t.Fatalf("1h lease should read as expiring, got %s", leases[0].Status)
	}
	if _, err := env.Engine.ExtendLease(env.Ctx, lease.ID, 0, ""); err == nil {
		t.Fatalf("expected validation error for zero hours")
	}
	extended, err := env.Engine.ExtendLease(env.Ctx, lease.ID, 2, "")
	if err != nil || !extended.ExpiresAt.Equal(lease.ExpiresAt.Add(2*time.Hour)) {
		t.Fatalf("extend: %+v %v", extended, err)
	}

	env.Clock.Advance(4 * time.Hour)
	n, err := env.Engine.ExpireLeases(env.Ctx)
	if err != nil || n != 1 {
		t.Fatalf("expire: n=%d err=%v", n, err)
	}
	locks, _ := env.Engine.ListPathLocks(env.Ctx)
	if len(locks) != 0 {
		t.Fatalf("expired lease kept locks: %+v", locks)
	}
	_, err = env.Engine.ExtendLease(env.Ctx, lease.ID, 1, "")
	var serr domain.InvalidStateError
	if !errors.As(err, &serr) {
		t.Fatalf("expected invalid state extending expired lease, got %v", err)
	}
	if types := env.activityTypes(t); types[0] != "lease_expired" {
		t.Fatalf("latest activity = %s", types[0])
	}
}

func TestSubmitPRRequiresLease(t *testing.T) {
	env := newTestEnv(t)
	task := env.createTask(t, "dev-1", "a.ts")
	_, err := env.Engine.SubmitPR(env.Ctx, engine.PRSubmitOptions{TaskID: task.ID, PRURL: "https://github.com/org/repo/pull/5", DeveloperID: "dev-1"})
	var ferr domain.ForbiddenError
	if !errors.As(err, &ferr) {
		t.Fatalf("expected forbidden without lease, got %v", err)
	}
	_, err = env.Engine.SubmitPR(env.Ctx, engine.PRSubmitOptions{TaskID: task.ID, PRURL: "https://gitlab.com/org/repo/merge/5"})
	var verr domain.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected url validation error, got %v", err)
	}
	if _, err := env.Engine.StartTask(env.Ctx, task.ID, "dev-1"); err != nil {
		t.Fatalf("start: %v", err)
	}
	_, err = env.Engine.SubmitPR(env.Ctx, engine.PRSubmitOptions{TaskID: task.ID, DeveloperID: "dev-2"})
	if !errors.As(err, &ferr) {
		t.Fatalf("expected forbidden for non-holder, got %v", err)
	}
	pr, err := env.Engine.SubmitPR(env.Ctx, engine.PRSubmitOptions{TaskID: task.ID, PRURL: "https://github.com/org/repo/pull/5"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if pr.DeveloperID != "dev-1" || pr.CIStatus != domain.CIPending || pr.Checks.AllPassed() {
		t.Fatalf("unexpected pr: %+v", pr)
	}
	got, _ := env.Engine.GetTask(env.Ctx, task.ID)
	if got.Status != domain.TaskInReview || got.PRURL != pr.PRURL {
		t.Fatalf("task not in review: %+v", got)
	}
	prs, _ := env.Engine.ListPRs(env.Ctx)
	if len(prs) != 1 || prs[0].TaskTitle != task.Title || prs[0].Author != "Ana Lima" || prs[0].FileCount != 1 {
		t.Fatalf("unexpected enrichment: %+v", prs)
	}
}

func TestApprovePRCascade(t *testing.T) {
	env := newTestEnv(t)
	task := env.createTask(t, "dev-1", "a.ts")
	start, err := env.Engine.StartTask(env.Ctx, task.ID, "dev-1")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	pr, err := env.Engine.SubmitPR(env.Ctx, engine.PRSubmitOptions{TaskID: task.ID, PRURL: "https://github.com/org/repo/pull/5", DeveloperID: "dev-1"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	before := len(env.activityTypes(t))

	merged, err := env.Engine.ApprovePR(env.Ctx, pr.ID, "pm")
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if merged.Status != domain.PRMerged || merged.MergedAt == nil {
		t.Fatalf("pr not merged: %+v", merged)
	}
	got, _ := env.Engine.GetTask(env.Ctx, task.ID)
	if got.Status != domain.TaskDone || got.CompletedAt == nil {
		t.Fatalf("task not done: %+v", got)
	}
	leases, _ := env.Engine.ListLeases(env.Ctx)
	if len(leases) != 1 || leases[0].ID != start.Lease.ID || leases[0].Status != domain.LeaseReleased {
		t.Fatalf("lease not released: %+v", leases)
	}
	locks, _ := env.Engine.ListPathLocks(env.Ctx)
	for _, l := range locks {
		if l.TaskID == task.ID {
			t.Fatalf("lock still references task: %+v", l)
		}
	}
	types := env.activityTypes(t)
	if len(types)-before != 2 {
		t.Fatalf("expected exactly two new activities, got %d", len(types)-before)
	}
	if types[0] != "task_completed" || types[1] != "pr_approved" {
		t.Fatalf("unexpected activity order: %v", types[:2])
	}
	if _, err := env.Engine.ApprovePR(env.Ctx, pr.ID, "pm"); err == nil {
		t.Fatalf("approving a merged pr should fail")
	}
	devs, _ := env.Engine.ListDevelopers(env.Ctx)
	if devs[0].Status != domain.DeveloperIdle || devs[0].CurrentTask != "" {
		t.Fatalf("developer still busy: %+v", devs[0])
	}
}

func TestChecksAndRequestChanges(t *testing.T) {
	env := newTestEnv(t)
	task := env.createTask(t, "dev-2", "b.ts")
	if _, err := env.Engine.StartTask(env.Ctx, task.ID, "dev-2"); err != nil {
		t.Fatalf("start: %v", err)
	}
	pr, err := env.Engine.SubmitPR(env.Ctx, engine.PRSubmitOptions{TaskID: task.ID})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	pr, err = env.Engine.UpdatePRChecks(env.Ctx, pr.ID, domain.PRChecks{Lint: true}, true, "")
	if err != nil || pr.CIStatus != domain.CIFailed {
		t.Fatalf("failed checks: %+v %v", pr, err)
	}
	pr, err = env.Engine.RequestChanges(env.Ctx, pr.ID, "fix lint", "pm")
	if err != nil || pr.Status != domain.PRChangesRequested || pr.ReviewNotes != "fix lint" {
		t.Fatalf("request changes: %+v %v", pr, err)
	}
	got, _ := env.Engine.GetTask(env.Ctx, task.ID)
	if got.Status != domain.TaskInProgress {
		t.Fatalf("task should return to in-progress, got %s", got.Status)
	}

	second, err := env.Engine.SubmitPR(env.Ctx, engine.PRSubmitOptions{TaskID: task.ID, PRURL: "https://github.com/org/repo/pull/6"})
	if err != nil {
		t.Fatalf("resubmit: %v", err)
	}
	second, err = env.Engine.UpdatePRChecks(env.Ctx, second.ID, domain.PRChecks{Lint: true, Typecheck: true, Tests: true}, false, "")
	if err != nil || second.CIStatus != domain.CIPassed {
		t.Fatalf("passing checks: %+v %v", second, err)
	}
	got, _ = env.Engine.GetTask(env.Ctx, task.ID)
	if got.Status != domain.TaskMergeQueue {
		t.Fatalf("passing checks should queue the merge, got %s", got.Status)
	}
}

func TestDeleteTaskReleasesLease(t *testing.T) {
	env := newTestEnv(t)
	task := env.createTask(t, "dev-1", "a.ts")
	if _, err := env.Engine.StartTask(env.Ctx, task.ID, "dev-1"); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := env.Engine.DeleteTask(env.Ctx, task.ID, "pm"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := env.Engine.GetTask(env.Ctx, task.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found after delete, got %v", err)
	}
	leases, _ := env.Engine.ListLeases(env.Ctx)
	if leases[0].Status != domain.LeaseReleased {
		t.Fatalf("lease not released: %+v", leases[0])
	}
	locks, _ := env.Engine.ListPathLocks(env.Ctx)
	if len(locks) != 0 {
		t.Fatalf("locks remain: %+v", locks)
	}
}

func TestTaskRequestLifecycle(t *testing.T) {
	env := newTestEnv(t)
	req, err := env.Engine.CreateTaskRequest(env.Ctx, engine.TaskRequestCreateOptions{
		DeveloperID:    "dev-3",
		Title:          "Refactor auth",
		Reasoning:      "duplicated checks",
		SuggestedPaths: []string{"src/auth/"},
	})
	if err != nil {
		t.Fatalf("create request: %v", err)
	}
	pending, _ := env.Engine.ListTaskRequests(env.Ctx, "pending")
	if len(pending) != 1 {
		t.Fatalf("expected one pending request, got %d", len(pending))
	}
	approved, task, err := env.Engine.ApproveTaskRequest(env.Ctx, req.ID, engine.TaskRequestReviewOptions{ReviewNotes: "ok", Priority: "high"})
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if approved.Status != domain.RequestApproved || approved.TaskID != task.ID {
		t.Fatalf("unexpected request: %+v", approved)
	}
	if task.Assignee != "dev-3" || task.Status != domain.TaskAssigned || task.Paths[0] != "src/auth" || task.Priority != "high" {
		t.Fatalf("unexpected task: %+v", task)
	}
	_, err = env.Engine.RejectTaskRequest(env.Ctx, req.ID, "late", "pm")
	var serr domain.InvalidStateError
	if !errors.As(err, &serr) {
		t.Fatalf("expected invalid state rejecting approved request, got %v", err)
	}
	if _, err := env.Engine.ListTaskRequests(env.Ctx, "bogus"); err == nil {
		t.Fatalf("expected error for unknown status filter")
	}
}

func TestDeveloperAvatarInitials(t *testing.T) {
	env := newTestEnv(t)
	for name, want := range map[string]string{
		"Élodie Ângelo":  "ÉÂ",
		"ana maria lima": "AM",
		"Øyvind":         "Ø",
	} {
		dev, err := env.Engine.AddDeveloper(env.Ctx, engine.DeveloperCreateOptions{Name: name})
		if err != nil {
			t.Fatalf("add %q: %v", name, err)
		}
		if dev.Avatar != want {
			t.Fatalf("initials(%q) = %q, want %q", name, dev.Avatar, want)
		}
		env.Clock.Advance(time.Second)
	}
}

func TestDevelopersAndAdmin(t *testing.T) {
	env := newTestEnv(t)
	seeded, err := env.Engine.InitDB(env.Ctx)
	if err != nil || seeded {
		t.Fatalf("second init should be a no-op: seeded=%v err=%v", seeded, err)
	}
	dev, err := env.Engine.AddDeveloper(env.Ctx, engine.DeveloperCreateOptions{Name: "Lee Park"})
	if err != nil || dev.Avatar != "LP" || dev.Status != domain.DeveloperIdle {
		t.Fatalf("add developer: %+v %v", dev, err)
	}
	_, err = env.Engine.AddDeveloper(env.Ctx, engine.DeveloperCreateOptions{ID: dev.ID, Name: "Dup"})
	var cerr domain.ConflictError
	if !errors.As(err, &cerr) {
		t.Fatalf("expected duplicate conflict, got %v", err)
	}
	task := env.createTask(t, dev.ID, "z.go")
	if _, err := env.Engine.StartTask(env.Ctx, task.ID, dev.ID); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := env.Engine.ClearAll(env.Ctx); err != nil {
		t.Fatalf("clear: %v", err)
	}
	tasks, _ := env.Engine.ListTasks(env.Ctx, engine.TaskFilter{})
	locks, _ := env.Engine.ListPathLocks(env.Ctx)
	acts, _ := env.Engine.ListActivities(env.Ctx, 0)
	if len(tasks) != 0 || len(locks) != 0 || len(acts) != 0 {
		t.Fatalf("clear left state: %d tasks %d locks %d activities", len(tasks), len(locks), len(acts))
	}
	devs, _ := env.Engine.ListDevelopers(env.Ctx)
	if len(devs) != 4 || devs[3].CurrentTask != "" {
		t.Fatalf("developers should survive clear idle: %+v", devs)
	}
	devs, err = env.Engine.ResetDevelopers(env.Ctx, "pm")
	if err != nil || len(devs) != 3 {
		t.Fatalf("reset: %d %v", len(devs), err)
	}
}

func TestListActivitiesOrderAndLimit(t *testing.T) {
	env := newTestEnv(t)
	for _, typ := range []string{"note", "deploy", "standup"} {
		if _, err := env.Engine.AddActivity(env.Ctx, domain.Activity{Type: typ, ActorID: "dev-1"}); err != nil {
			t.Fatalf("add: %v", err)
		}
		env.Clock.Advance(time.Second)
	}
	acts, err := env.Engine.ListActivities(env.Ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(acts) != 2 || acts[0].Type != "standup" || acts[1].Type != "deploy" {
		t.Fatalf("unexpected order: %+v", acts)
	}
	if acts[0].ActorName != "Ana Lima" || acts[0].ID == "" {
		t.Fatalf("actor not resolved: %+v", acts[0])
	}
	if _, err := env.Engine.AddActivity(env.Ctx, domain.Activity{}); err == nil {
		t.Fatalf("expected type validation error")
	}
}
