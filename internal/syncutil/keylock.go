// Package syncutil holds small concurrency helpers.
package syncutil

import (
	"context"
	"hash/fnv"
)

const shardCount = 256

// KeyLock serializes work per key using a fixed pool of channel-backed
// locks. Memory is bounded no matter how many keys are seen; two keys that
// hash to the same shard contend with each other.
type KeyLock struct {
	shards [shardCount]chan struct{}
}

// NewKeyLock returns an unlocked KeyLock.
func NewKeyLock() *KeyLock {
	l := &KeyLock{}
	for i := range l.shards {
		l.shards[i] = make(chan struct{}, 1)
	}
	return l
}

// Lock blocks until key's shard is free or ctx is done. On success the
// returned func releases the lock and must be called exactly once.
func (l *KeyLock) Lock(ctx context.Context, key string) (func(), error) {
	ch := l.shards[shard(key)]
	select {
	case ch <- struct{}{}:
		return func() { <-ch }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func shard(key string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return h.Sum32() % shardCount
}
