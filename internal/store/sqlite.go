package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"
)

// SQLite stores documents in the kv table created by the migrate package.
type SQLite struct {
	DB  *sql.DB
	Now func() time.Time

	mu     sync.Mutex
	closed bool
}

func NewSQLite(conn *sql.DB) *SQLite {
	// one connection keeps the writer lock and the transaction on the same handle
	conn.SetMaxOpenConns(1)
	return &SQLite{DB: conn, Now: time.Now}
}

func (s *SQLite) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var out []byte
	var found bool
	err := s.View(ctx, func(tx Tx) error {
		var err error
		out, found, err = tx.Get(ctx, key)
		return err
	})
	return out, found, err
}

func (s *SQLite) Set(ctx context.Context, key string, value []byte) error {
	return s.Update(ctx, func(tx Tx) error {
		return tx.Set(ctx, key, value)
	})
}

func (s *SQLite) Update(ctx context.Context, fn func(Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.run(ctx, fn)
}

func (s *SQLite) View(ctx context.Context, fn func(Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.run(ctx, fn)
}

func (s *SQLite) run(ctx context.Context, fn func(Tx) error) error {
	if s.closed {
		return ErrClosed
	}
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := fn(sqliteTx{tx: tx, now: s.now}); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLite) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.DB.Close()
}

func (s *SQLite) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

type sqliteTx struct {
	tx  *sql.Tx
	now func() time.Time
}

func (t sqliteTx) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var value string
	err := t.tx.QueryRowContext(ctx, `SELECT value FROM kv WHERE key=?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("kv get %s: %w", key, err)
	}
	return []byte(value), true, nil
}

func (t sqliteTx) Set(ctx context.Context, key string, value []byte) error {
	_, err := t.tx.ExecContext(ctx, `INSERT INTO kv(key, value, updated_at) VALUES(?,?,?)
ON CONFLICT(key) DO UPDATE SET value=excluded.value, updated_at=excluded.updated_at`,
		key, string(value), t.now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("kv set %s: %w", key, err)
	}
	return nil
}
