package storage

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/tidwall/sjson"
)

const DefaultShards = 16

type Options[K comparable] struct {
	// Shards is rounded up to a power of two. Zero means DefaultShards.
	Shards int

	// Hasher picks a key's shard. Defaults to HashString.
	Hasher func(K) uint64

	// Clock is used for expiry. Defaults to time.Now.
	Clock func() time.Time
}

// HashString hashes the key's fmt representation.
func HashString[K comparable](key K) uint64 {
	if s, ok := any(key).(string); ok {
		return xxhash.Sum64String(s)
	}

	return xxhash.Sum64String(fmt.Sprint(key))
}

type shard[K comparable, V any] struct {
	mu      sync.RWMutex
	entries map[K]Entry[V]
}

type InmemoryStore[K comparable, V any] struct {
	shards []*shard[K, V]
	mask   uint64
	hash   func(K) uint64
	now    func() time.Time

	mu          sync.Mutex
	updateChans []chan *Update[K, V]

	// stop will be closed when Close() is called
	stop      chan struct{}
	closeOnce sync.Once
}

func NewInmemoryStore[K comparable, V any](opts Options[K]) *InmemoryStore[K, V] {
	n := 1
	for n < max(opts.Shards, 1) {
		n <<= 1
	}

	if opts.Shards == 0 {
		n = DefaultShards
	}

	if opts.Hasher == nil {
		opts.Hasher = HashString[K]
	}

	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	shards := make([]*shard[K, V], n)
	for i := range shards {
		shards[i] = &shard[K, V]{entries: make(map[K]Entry[V])}
	}

	return &InmemoryStore[K, V]{
		shards: shards,
		mask:   uint64(n - 1),
		hash:   opts.Hasher,
		now:    opts.Clock,
		stop:   make(chan struct{}),
	}
}

func (i *InmemoryStore[K, V]) Close() error {
	i.closeOnce.Do(func() {
		close(i.stop)

		i.mu.Lock()
		defer i.mu.Unlock()

		for _, updateChan := range i.updateChans {
			close(updateChan)
		}
		i.updateChans = nil
	})

	return nil
}

func (i *InmemoryStore[K, V]) Get(ctx context.Context, key K) (Entry[V], bool, error) {
	if !i.isRunning() {
		return Entry[V]{}, false, ErrClosed
	}

	s := i.shardFor(key)

	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()

	if !ok {
		return Entry[V]{}, false, nil
	}

	if i.expired(e) {
		s.mu.Lock()
		// Only drop the entry if nobody replaced it in between.
		if cur, ok := s.entries[key]; ok && cur.Version == e.Version {
			delete(s.entries, key)
		}
		s.mu.Unlock()

		return Entry[V]{}, false, nil
	}

	return e, true, nil
}

func (i *InmemoryStore[K, V]) Set(ctx context.Context, key K, e Entry[V]) (bool, error) {
	if !i.isRunning() {
		return false, ErrClosed
	}

	s := i.shardFor(key)

	s.mu.Lock()
	if cur, ok := s.entries[key]; ok && !i.expired(cur) && cur.Version.Compare(e.Version) > 0 {
		s.mu.Unlock()
		return false, nil
	}
	s.entries[key] = e
	s.mu.Unlock()

	stored := e
	return true, i.publish(ctx, &Update[K, V]{Key: key, Entry: &stored})
}

func (i *InmemoryStore[K, V]) Remove(ctx context.Context, key K) error {
	if !i.isRunning() {
		return ErrClosed
	}

	s := i.shardFor(key)

	s.mu.Lock()
	_, ok := s.entries[key]
	delete(s.entries, key)
	s.mu.Unlock()

	if !ok {
		return nil
	}

	return i.publish(ctx, &Update[K, V]{Key: key})
}

// Len counts the stored entries, including expired ones not yet evicted.
func (i *InmemoryStore[K, V]) Len() int {
	n := 0
	for _, s := range i.shards {
		s.mu.RLock()
		n += len(s.entries)
		s.mu.RUnlock()
	}

	return n
}

func (i *InmemoryStore[K, V]) ListenToUpdates() <-chan *Update[K, V] {
	i.mu.Lock()
	defer i.mu.Unlock()

	updateChan := make(chan *Update[K, V], 255)
	if !i.isRunning() {
		close(updateChan)
		return updateChan
	}

	i.updateChans = append(i.updateChans, updateChan)
	return updateChan
}

// Backup renders the live entries as a JSON object keyed by the keys' fmt
// representation.
func (i *InmemoryStore[K, V]) Backup() ([]byte, error) {
	type row struct {
		key string
		e   Entry[V]
	}

	var rows []row
	for _, s := range i.shards {
		s.mu.RLock()
		for k, e := range s.entries {
			if !i.expired(e) {
				rows = append(rows, row{key: fmt.Sprint(k), e: e})
			}
		}
		s.mu.RUnlock()
	}

	slices.SortFunc(rows, func(a, b row) int {
		return strings.Compare(a.key, b.key)
	})

	out := []byte("{}")
	for _, r := range rows {
		path := escapePath(r.key)

		var err error
		if out, err = sjson.SetBytes(out, path+".value", r.e.Value); err != nil {
			return nil, fmt.Errorf("Failed to back up %q: %w", r.key, err)
		}
		if out, err = sjson.SetBytes(out, path+".version", r.e.Version.String()); err != nil {
			return nil, fmt.Errorf("Failed to back up %q: %w", r.key, err)
		}
		if out, err = sjson.SetBytes(out, path+".ttl", r.e.TTL); err != nil {
			return nil, fmt.Errorf("Failed to back up %q: %w", r.key, err)
		}
		if out, err = sjson.SetBytes(out, path+".expireAt", r.e.ExpireAt); err != nil {
			return nil, fmt.Errorf("Failed to back up %q: %w", r.key, err)
		}
	}

	return out, nil
}

func (i *InmemoryStore[K, V]) publish(ctx context.Context, update *Update[K, V]) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	for _, updateChan := range i.updateChans {
		select {
		case updateChan <- update:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return nil
}

func (i *InmemoryStore[K, V]) shardFor(key K) *shard[K, V] {
	return i.shards[i.hash(key)&i.mask]
}

func (i *InmemoryStore[K, V]) expired(e Entry[V]) bool {
	return e.ExpireAt > 0 && i.now().UnixMilli() >= e.ExpireAt
}

// isRunning returns true if Close has not been called
func (i *InmemoryStore[K, V]) isRunning() bool {
	select {
	case <-i.stop:
		return false

	default:
		return true
	}
}

// escapePath escapes the characters sjson treats as path syntax.
func escapePath(key string) string {
	var b strings.Builder
	for _, r := range key {
		switch r {
		case '\\', '.', '*', '?':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}

	return b.String()
}

var _ Store[string, string] = (*InmemoryStore[string, string])(nil)
