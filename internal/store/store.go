package store

import (
	"context"
	"errors"
)

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("store closed")

// Tx reads and writes whole JSON documents by key inside one transaction.
type Tx interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
}

// Store is the key/value persistence port. Update runs fn with writers
// serialized store-wide, so a read-modify-write over several keys is atomic.
type Store interface {
	Tx
	Update(ctx context.Context, fn func(Tx) error) error
	View(ctx context.Context, fn func(Tx) error) error
	Close() error
}
