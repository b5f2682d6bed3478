package store_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"devportal/internal/store"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func newPostgresStore(t *testing.T, ctx context.Context) *store.Postgres {
	t.Helper()
	if testing.Short() {
		t.Skip("postgres container test skipped in -short mode")
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:15-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "test",
				"POSTGRES_PASSWORD": "test",
				"POSTGRES_DB":       "test",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Skipf("postgres container unavailable: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate postgres container: %v", err)
		}
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	dsn := fmt.Sprintf("postgres://test:test@%s:%s/test?sslmode=disable", host, port.Port())
	s, err := store.NewPostgres(ctx, store.PostgresConfig{DSN: dsn, MaxConns: 4})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestPostgresStore(t *testing.T) {
	ctx := context.Background()
	s := newPostgresStore(t, ctx)

	_, ok, err := s.Get(ctx, "tasks")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, s.Set(ctx, "tasks", []byte(`[{"id":"task-1"}]`)))
	val, ok, err := s.Get(ctx, "tasks")
	require.NoError(t, err)
	require.True(t, ok)
	require.JSONEq(t, `[{"id":"task-1"}]`, string(val))

	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := s.Update(ctx, func(tx store.Tx) error {
				raw, _, err := tx.Get(ctx, "log")
				if err != nil {
					return err
				}
				next := string(raw) + fmt.Sprint(i)
				return tx.Set(ctx, "log", []byte(next))
			})
			if err != nil {
				t.Errorf("update: %v", err)
			}
		}(i)
	}
	wg.Wait()

	val, _, err = s.Get(ctx, "log")
	require.NoError(t, err)
	require.Len(t, string(val), 6)
}
