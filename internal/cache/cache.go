// Package cache implements the keyed, TTL-based result cache backing the
// resolution dispatcher and the news aggregator.
package cache

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/kurumaware/recallwatch/internal/metrics"
	"github.com/kurumaware/recallwatch/internal/recall"
)

// Record is one cache entry. Payload is an opaque JSON document owned by the
// caller; the cache never interprets it.
type Record struct {
	Key       string
	Payload   []byte
	CheckedAt time.Time
	ExpiresAt time.Time
}

// Backend is a key-value store for cache records. Find returns whatever is
// stored for the key, expired or not; expiry policy lives in Store.
type Backend interface {
	Upsert(ctx context.Context, rec Record) error
	Find(ctx context.Context, key string) (Record, bool, error)
	Delete(ctx context.Context, key string) error
	DeleteAll(ctx context.Context) error
}

// Store wraps a Backend with expiry checks and error absorption. The cache
// is an optimization, not a correctness dependency: a backend failure is
// logged and treated as a miss, never surfaced to the caller.
type Store struct {
	backend Backend
	clock   recall.Clock
	log     *zap.Logger
}

// NewStore builds a Store over the given backend.
func NewStore(backend Backend, clock recall.Clock, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{backend: backend, clock: clock, log: log}
}

// Get returns the live record for key. Expired entries are misses; they are
// not evicted here.
func (s *Store) Get(ctx context.Context, key string) (Record, bool) {
	rec, found, err := s.backend.Find(ctx, key)
	if err != nil {
		s.log.Warn("cache read failed, treating as miss", zap.String("key", key), zap.Error(err))
		metrics.RecordCacheLookup("error")
		return Record{}, false
	}
	if !found || !rec.ExpiresAt.After(s.clock.Now()) {
		metrics.RecordCacheLookup("miss")
		return Record{}, false
	}
	metrics.RecordCacheLookup("hit")
	return rec, true
}

// Put upserts the payload under key with the given TTL. Failures are logged
// and swallowed.
func (s *Store) Put(ctx context.Context, key string, payload []byte, ttl time.Duration) {
	now := s.clock.Now()
	rec := Record{
		Key:       key,
		Payload:   payload,
		CheckedAt: now,
		ExpiresAt: now.Add(ttl),
	}
	if err := s.backend.Upsert(ctx, rec); err != nil {
		s.log.Warn("cache write failed", zap.String("key", key), zap.Error(err))
	}
}

// Invalidate removes one entry.
func (s *Store) Invalidate(ctx context.Context, key string) {
	if err := s.backend.Delete(ctx, key); err != nil {
		s.log.Warn("cache delete failed", zap.String("key", key), zap.Error(err))
	}
}

// InvalidateAll removes every entry.
func (s *Store) InvalidateAll(ctx context.Context) {
	if err := s.backend.DeleteAll(ctx); err != nil {
		s.log.Warn("cache clear failed", zap.Error(err))
	}
}
