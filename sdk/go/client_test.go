package devportalsdk_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"devportal/internal/config"
	"devportal/internal/db"
	"devportal/internal/engine"
	"devportal/internal/migrate"
	"devportal/internal/server"
	"devportal/internal/store"
	devportalsdk "devportal/sdk/go"
)

func newClient(t *testing.T) *devportalsdk.Client {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	_, err = migrate.Migrate(context.Background(), conn)
	require.NoError(t, err)
	st := store.NewSQLite(conn)
	t.Cleanup(func() { st.Close() })

	e := engine.New(st, config.Default())
	handler, err := server.New(server.Config{Engine: e})
	require.NoError(t, err)
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)

	c := devportalsdk.New(ts.URL)
	seeded, err := c.InitDB(context.Background())
	require.NoError(t, err)
	require.True(t, seeded)
	return c
}

func TestClientWorkflow(t *testing.T) {
	ctx := context.Background()
	c := newClient(t)
	require.NoError(t, c.Health(ctx))

	task, err := c.CreateTask(ctx, devportalsdk.TaskInput{Title: "Billing page", Assignee: "dev-2", Paths: []string{"web/billing.tsx"}})
	require.NoError(t, err)
	assert.Equal(t, "assigned", task.Status)

	c.ActorID = "dev-2"
	started, err := c.StartTask(ctx, task.ID, "")
	require.NoError(t, err)
	require.NotNil(t, started.Lease)
	assert.Equal(t, "in-progress", started.Task.Status)

	pr, err := c.SubmitPR(ctx, task.ID, "https://github.com/acme/web/pull/3", "")
	require.NoError(t, err)

	pr, err = c.UpdatePRChecks(ctx, pr.ID, devportalsdk.Checks{Lint: true, Typecheck: true, Tests: true}, false)
	require.NoError(t, err)
	assert.Equal(t, "passed", pr.CIStatus)
	got, err := c.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, "merge-queue", got.Status)

	c.ActorID = ""
	pr, err = c.ApprovePR(ctx, pr.ID)
	require.NoError(t, err)
	assert.Equal(t, "merged", pr.Status)

	locks, err := c.ListPathLocks(ctx)
	require.NoError(t, err)
	assert.Empty(t, locks)

	devs, err := c.ListDevelopers(ctx)
	require.NoError(t, err)
	for _, d := range devs {
		assert.Equal(t, "idle", d.Status, d.ID)
	}

	acts, err := c.Activities(ctx, 2)
	require.NoError(t, err)
	require.Len(t, acts, 2)
	assert.ElementsMatch(t, []string{"pr_approved", "task_completed"}, []string{acts[0].Type, acts[1].Type})
}

func TestClientConflictError(t *testing.T) {
	ctx := context.Background()
	c := newClient(t)

	t1, err := c.CreateTask(ctx, devportalsdk.TaskInput{Title: "one", Assignee: "dev-1", Paths: []string{"a.ts"}})
	require.NoError(t, err)
	_, err = c.StartTask(ctx, t1.ID, "dev-1")
	require.NoError(t, err)

	_, err = c.ClaimLease(ctx, t1.ID, "dev-2", 0)
	var apiErr *devportalsdk.APIError
	require.True(t, errors.As(err, &apiErr), "expected APIError, got %v", err)
	assert.Equal(t, http.StatusConflict, apiErr.StatusCode)
	assert.Equal(t, "conflict", apiErr.Code)
	assert.Equal(t, []string{"a.ts"}, apiErr.Conflicts())

	_, err = c.GetTask(ctx, "task-nope")
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
}

func TestConcurrentClaimsOverHTTP(t *testing.T) {
	ctx := context.Background()
	c := newClient(t)

	a, err := c.CreateTask(ctx, devportalsdk.TaskInput{Title: "a", Paths: []string{"shared/x.go", "a.go"}})
	require.NoError(t, err)
	b, err := c.CreateTask(ctx, devportalsdk.TaskInput{Title: "b", Paths: []string{"shared/x.go", "b.go"}})
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, claim := range []struct{ task, dev string }{{a.ID, "dev-1"}, {b.ID, "dev-2"}} {
		wg.Add(1)
		go func(i int, task, dev string) {
			defer wg.Done()
			_, errs[i] = c.ClaimLease(ctx, task, dev, 1)
		}(i, claim.task, claim.dev)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		var apiErr *devportalsdk.APIError
		require.True(t, errors.As(err, &apiErr))
		assert.Equal(t, http.StatusConflict, apiErr.StatusCode)
	}
	assert.Equal(t, 1, succeeded)

	locks, err := c.ListPathLocks(ctx)
	require.NoError(t, err)
	assert.Len(t, locks, 2)
}

func TestClientTaskRequests(t *testing.T) {
	ctx := context.Background()
	c := newClient(t)

	req, err := c.CreateTaskRequest(ctx, "dev-3", "Add metrics", "", "ops asked", []string{"metrics/x.go"})
	require.NoError(t, err)
	assert.Equal(t, "pending", req.Status)

	rejected, err := c.RejectTaskRequest(ctx, req.ID, "not now")
	require.NoError(t, err)
	assert.Equal(t, "rejected", rejected.Status)
	assert.Equal(t, "not now", rejected.ReviewNotes)

	_, _, err = c.ApproveTaskRequest(ctx, req.ID, devportalsdk.Review{})
	var apiErr *devportalsdk.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "invalid_state", apiErr.Code)
}
