package store_test

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"

	"devportal/internal/db"
	"devportal/internal/migrate"
	"devportal/internal/store"

	"github.com/stretchr/testify/require"
)

func newSQLiteStore(t *testing.T) *store.SQLite {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	_, err = migrate.Migrate(context.Background(), conn)
	require.NoError(t, err)
	s := store.NewSQLite(conn)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLiteGetMissingKey(t *testing.T) {
	s := newSQLiteStore(t)
	val, ok, err := s.Get(context.Background(), "tasks")
	require.NoError(t, err)
	require.False(t, ok)
	require.Nil(t, val)
}

func TestSQLiteSetOverwrites(t *testing.T) {
	ctx := context.Background()
	s := newSQLiteStore(t)
	require.NoError(t, s.Set(ctx, "tasks", []byte(`[1]`)))
	require.NoError(t, s.Set(ctx, "tasks", []byte(`[1,2]`)))
	val, ok, err := s.Get(ctx, "tasks")
	require.NoError(t, err)
	require.True(t, ok)
	require.JSONEq(t, `[1,2]`, string(val))
}

func TestSQLiteUpdateRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	s := newSQLiteStore(t)
	require.NoError(t, s.Set(ctx, "leases", []byte(`[]`)))
	boom := errors.New("boom")
	err := s.Update(ctx, func(tx store.Tx) error {
		if err := tx.Set(ctx, "leases", []byte(`["a"]`)); err != nil {
			return err
		}
		if err := tx.Set(ctx, "path_locks", []byte(`{"a":{}}`)); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	val, _, err := s.Get(ctx, "leases")
	require.NoError(t, err)
	require.JSONEq(t, `[]`, string(val))
	_, ok, err := s.Get(ctx, "path_locks")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestSQLiteUpdateSerializesWriters(t *testing.T) {
	ctx := context.Background()
	s := newSQLiteStore(t)
	require.NoError(t, s.Set(ctx, "counter", []byte("0")))

	const workers = 8
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.Update(ctx, func(tx store.Tx) error {
				raw, _, err := tx.Get(ctx, "counter")
				if err != nil {
					return err
				}
				n, err := strconv.Atoi(string(raw))
				if err != nil {
					return err
				}
				return tx.Set(ctx, "counter", []byte(strconv.Itoa(n+1)))
			})
			if err != nil {
				t.Errorf("update: %v", err)
			}
		}()
	}
	wg.Wait()

	val, _, err := s.Get(ctx, "counter")
	require.NoError(t, err)
	require.Equal(t, strconv.Itoa(workers), string(val))
}

func TestSQLiteClosed(t *testing.T) {
	s := newSQLiteStore(t)
	require.NoError(t, s.Close())
	_, _, err := s.Get(context.Background(), "tasks")
	require.ErrorIs(t, err, store.ErrClosed)
}

func TestMigrateIsIdempotent(t *testing.T) {
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	defer conn.Close()
	first, err := migrate.Migrate(context.Background(), conn)
	require.NoError(t, err)
	second, err := migrate.Migrate(context.Background(), conn)
	require.NoError(t, err)
	require.Equal(t, first, second)
	require.Equal(t, 2, second)
}
