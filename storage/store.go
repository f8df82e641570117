package storage

import (
	"context"
	"errors"

	"github.com/luma/nearwire/version"
)

var ErrClosed = errors.New("Store is closed")

// Entry is a near cache value with the version it was written at. TTL is in
// milliseconds and ExpireAt in unix milliseconds; values <= 0 never expire.
type Entry[V any] struct {
	Value    V
	Version  version.Version
	TTL      int64
	ExpireAt int64
}

// Update is sent to listeners on every change. Entry is nil for removals.
type Update[K comparable, V any] struct {
	Key   K
	Entry *Entry[V]
}

type Store[K comparable, V any] interface {
	// Get returns the live entry for key.
	Get(ctx context.Context, key K) (Entry[V], bool, error)

	// Set stores e unless the key already holds a newer version. It reports
	// whether e was stored.
	Set(ctx context.Context, key K, e Entry[V]) (bool, error)

	Remove(ctx context.Context, key K) error

	ListenToUpdates() <-chan *Update[K, V]

	Close() error
}
