// Package ratelimit provides the in-process abuse-control primitives that
// gate every credential check: a refilling token bucket for steady-rate
// allowances, an expiring token bucket for fixed per-window allotments, and
// a throttler for escalating per-identity delays.
//
// Buckets gate volume; the throttler gates sequential guessing. Both are
// needed: a high-volume attacker defeats a pure throttle, and a slow
// persistent attacker defeats a pure bucket.
//
// All state is process-local and intentionally lost on restart.
package ratelimit

import (
	"sync"
	"time"
)

// RefillingTokenBucket grants up to capacity tokens per key, refilling one
// token every refill interval. Unseen keys start at full capacity.
type RefillingTokenBucket[K comparable] struct {
	mu       sync.Mutex
	capacity int
	interval time.Duration
	buckets  map[K]*refillingBucket
	now      func() time.Time
}

type refillingBucket struct {
	count      int
	refilledAt time.Time
}

func NewRefillingTokenBucket[K comparable](capacity int, refillInterval time.Duration) *RefillingTokenBucket[K] {
	return &RefillingTokenBucket[K]{
		capacity: capacity,
		interval: refillInterval,
		buckets:  make(map[K]*refillingBucket),
		now:      time.Now,
	}
}

// Check reports whether a Consume of cost would currently succeed without
// spending any tokens.
func (b *RefillingTokenBucket[K]) Check(key K, cost int) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	bucket, ok := b.buckets[key]
	if !ok {
		return cost <= b.capacity
	}
	return b.refilled(bucket) >= cost
}

// Consume spends cost tokens if available. On insufficient tokens the count
// is left unchanged.
func (b *RefillingTokenBucket[K]) Consume(key K, cost int) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	bucket, ok := b.buckets[key]
	if !ok {
		if cost > b.capacity {
			return false
		}
		b.buckets[key] = &refillingBucket{count: b.capacity - cost, refilledAt: now}
		return true
	}

	bucket.count = b.refilled(bucket)
	bucket.refilledAt = now
	if bucket.count < cost {
		return false
	}
	bucket.count -= cost
	return true
}

func (b *RefillingTokenBucket[K]) refilled(bucket *refillingBucket) int {
	refill := int(b.now().Sub(bucket.refilledAt) / b.interval)
	count := bucket.count + refill
	if count > b.capacity {
		count = b.capacity
	}
	return count
}

// ExpiringTokenBucket grants a fixed allotment of capacity tokens per
// rolling window. The window starts at the first consume and the whole
// allotment returns when it lapses.
type ExpiringTokenBucket[K comparable] struct {
	mu       sync.Mutex
	capacity int
	window   time.Duration
	buckets  map[K]*expiringBucket
	now      func() time.Time
}

type expiringBucket struct {
	count     int
	expiresAt time.Time
}

func NewExpiringTokenBucket[K comparable](capacity int, window time.Duration) *ExpiringTokenBucket[K] {
	return &ExpiringTokenBucket[K]{
		capacity: capacity,
		window:   window,
		buckets:  make(map[K]*expiringBucket),
		now:      time.Now,
	}
}

func (b *ExpiringTokenBucket[K]) Check(key K, cost int) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	bucket, ok := b.buckets[key]
	if !ok || !b.now().Before(bucket.expiresAt) {
		return cost <= b.capacity
	}
	return bucket.count >= cost
}

func (b *ExpiringTokenBucket[K]) Consume(key K, cost int) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	bucket, ok := b.buckets[key]
	if !ok || !now.Before(bucket.expiresAt) {
		if cost > b.capacity {
			return false
		}
		b.buckets[key] = &expiringBucket{count: b.capacity - cost, expiresAt: now.Add(b.window)}
		return true
	}

	if bucket.count < cost {
		return false
	}
	bucket.count -= cost
	return true
}

// Reset deletes the key so the counter does not linger as a probing budget
// for the next legitimate attempt. Called after a correct final proof.
func (b *ExpiringTokenBucket[K]) Reset(key K) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.buckets, key)
}

// Throttler imposes an escalating minimum delay between attempts per key.
// Each consume advances the delay index, capped at the last entry, so
// repeated failures strictly increase the wait.
type Throttler[K comparable] struct {
	mu       sync.Mutex
	delays   []time.Duration
	counters map[K]*throttleCounter
	now      func() time.Time
}

type throttleCounter struct {
	index     int
	updatedAt time.Time
}

func NewThrottler[K comparable](delays []time.Duration) *Throttler[K] {
	return &Throttler[K]{
		delays:   delays,
		counters: make(map[K]*throttleCounter),
		now:      time.Now,
	}
}

func (t *Throttler[K]) Consume(key K) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	counter, ok := t.counters[key]
	if !ok {
		t.counters[key] = &throttleCounter{index: 0, updatedAt: now}
		return true
	}

	if now.Sub(counter.updatedAt) < t.delays[counter.index] {
		return false
	}
	counter.updatedAt = now
	if counter.index < len(t.delays)-1 {
		counter.index++
	}
	return true
}

func (t *Throttler[K]) Reset(key K) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.counters, key)
}
