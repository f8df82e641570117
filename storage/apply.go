package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/luma/nearwire/atomicupdate"
)

var ErrKeyIndex = errors.New("Key index is out of range")

// Apply puts the near values carried by resp into store. keys are the keys of
// the original request, in request order. A nil near value removes the key;
// skipped keys only have their TTL refreshed. It returns the number of keys
// changed.
func Apply[K comparable, V any](ctx context.Context, store Store[K, V], keys []K, resp *atomicupdate.Response[K, V], now time.Time) (int, error) {
	nearVer := resp.NearVersion()
	if nearVer == nil {
		return 0, nil
	}

	applied := 0

	for i, idx := range resp.NearValueIndexes() {
		key, err := keyAt(keys, idx)
		if err != nil {
			return applied, err
		}

		val := resp.NearValue(i)
		if val == nil {
			if err := store.Remove(ctx, key); err != nil {
				return applied, fmt.Errorf("Failed to remove %v: %w", key, err)
			}

			applied++
			continue
		}

		ttl, expireAt := expiry(resp, int(idx), now)

		ok, err := store.Set(ctx, key, Entry[V]{
			Value:    *val,
			Version:  *nearVer,
			TTL:      ttl,
			ExpireAt: expireAt,
		})
		if err != nil {
			return applied, fmt.Errorf("Failed to set %v: %w", key, err)
		}

		if ok {
			applied++
		}
	}

	for _, idx := range resp.SkippedIndexes() {
		key, err := keyAt(keys, idx)
		if err != nil {
			return applied, err
		}

		if resp.NearTTL(int(idx)) < 0 {
			continue
		}

		cur, found, err := store.Get(ctx, key)
		if err != nil {
			return applied, fmt.Errorf("Failed to get %v: %w", key, err)
		}

		if !found {
			continue
		}

		cur.TTL, cur.ExpireAt = expiry(resp, int(idx), now)

		ok, err := store.Set(ctx, key, cur)
		if err != nil {
			return applied, fmt.Errorf("Failed to refresh %v: %w", key, err)
		}

		if ok {
			applied++
		}
	}

	return applied, nil
}

func keyAt[K any](keys []K, idx int32) (K, error) {
	if idx < 0 || int(idx) >= len(keys) {
		var zero K
		return zero, fmt.Errorf("Failed to apply index %d of %d keys: %w", idx, len(keys), ErrKeyIndex)
	}

	return keys[idx], nil
}

// expiry derives an absolute expire time from the TTL when the primary did
// not send one.
func expiry[K, V any](resp *atomicupdate.Response[K, V], idx int, now time.Time) (int64, int64) {
	ttl := resp.NearTTL(idx)
	expireAt := resp.NearExpireTime(idx)

	if expireAt < 0 && ttl > 0 {
		expireAt = now.UnixMilli() + ttl
	}

	return ttl, expireAt
}
