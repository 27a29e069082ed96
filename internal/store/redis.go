package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/solshield/ledger/internal/model"
)

// CachedStore wraps a primary Store with a Redis read-through cache.
// View reads check Redis first then fall back to the primary. Update
// bypasses the cache (its reads must see row locks) and, once the primary
// commits, bumps a generation key and deletes the cached value for every
// record it wrote. A read-through fill is a WATCHed transaction on the
// generation key, so a fill that raced a commit is discarded.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

func (s *CachedStore) View(ctx context.Context, fn func(tx Tx) error) error {
	return s.primary.View(ctx, func(tx Tx) error {
		return fn(&cachedTx{Tx: tx, cache: s})
	})
}

func (s *CachedStore) Update(ctx context.Context, fn func(tx Tx) error) error {
	var touched []string
	err := s.primary.Update(ctx, func(tx Tx) error {
		rec := &recordingTx{Tx: tx}
		err := fn(rec)
		touched = rec.keys
		return err
	})
	if err != nil {
		return err
	}
	if len(touched) > 0 {
		_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			for _, key := range touched {
				pipe.Incr(ctx, genKey(key))
				pipe.Expire(ctx, genKey(key), s.ttl+time.Minute)
				pipe.Del(ctx, key)
			}
			return nil
		})
		if err != nil {
			slog.Warn("cache invalidation failed", "keys", len(touched), "err", err)
		}
	}
	return nil
}

func (s *CachedStore) Close() error {
	rerr := s.rdb.Close()
	if err := s.primary.Close(); err != nil {
		return err
	}
	return rerr
}

// --- Read-through ---

type cachedTx struct {
	Tx
	cache *CachedStore
}

func (t *cachedTx) Get(ctx context.Context, kind Kind, addr model.Address) ([]byte, error) {
	key := cacheKey(kind, addr)
	if data, err := t.cache.rdb.Get(ctx, key).Bytes(); err == nil {
		return data, nil
	}

	// Cache miss: read from primary under WATCH so a concurrent commit
	// aborts the fill.
	var (
		data    []byte
		readErr error
		read    bool
	)
	err := t.cache.rdb.Watch(ctx, func(rtx *redis.Tx) error {
		read = true
		data, readErr = t.Tx.Get(ctx, kind, addr)
		if readErr != nil {
			return nil
		}
		_, err := rtx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, t.cache.ttl)
			return nil
		})
		return err
	}, genKey(key))
	if !read {
		// Redis unavailable; serve from the primary alone.
		return t.Tx.Get(ctx, kind, addr)
	}
	if readErr != nil {
		return nil, readErr
	}
	if err != nil && !errors.Is(err, redis.TxFailedErr) {
		slog.Warn("cache fill failed", "key", key, "err", err)
	}
	return data, nil
}

// --- Write tracking ---

type recordingTx struct {
	Tx
	keys []string
}

func (t *recordingTx) Create(ctx context.Context, kind Kind, addr model.Address, data []byte) error {
	if err := t.Tx.Create(ctx, kind, addr, data); err != nil {
		return err
	}
	t.keys = append(t.keys, cacheKey(kind, addr))
	return nil
}

func (t *recordingTx) Put(ctx context.Context, kind Kind, addr model.Address, data []byte) error {
	if err := t.Tx.Put(ctx, kind, addr, data); err != nil {
		return err
	}
	t.keys = append(t.keys, cacheKey(kind, addr))
	return nil
}

func (t *recordingTx) Delete(ctx context.Context, kind Kind, addr model.Address) error {
	if err := t.Tx.Delete(ctx, kind, addr); err != nil {
		return err
	}
	t.keys = append(t.keys, cacheKey(kind, addr))
	return nil
}

func cacheKey(kind Kind, addr model.Address) string {
	return fmt.Sprintf("solshield:%s:%s", kind, addr)
}

func genKey(key string) string {
	return key + ":gen"
}
