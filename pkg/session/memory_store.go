package session

import (
	"context"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/robfig/cron/v3"

	"github.com/platinummonkey/gatehouse/pkg/observability"
)

// MemoryStore keeps sessions in a bounded LRU. When full the least recently
// used session is evicted. Expired entries are hidden on read and removed by
// Purge, which StartPurge runs on a cron schedule.
type MemoryStore struct {
	cache   *lru.Cache[string, *Session]
	now     func() time.Time
	cron    *cron.Cron
	logger  *observability.Logger
	metrics *observability.Metrics
}

// NewMemoryStore creates a store holding at most maxSize sessions
func NewMemoryStore(maxSize int, logger *observability.Logger, metrics *observability.Metrics) (*MemoryStore, error) {
	if maxSize <= 0 {
		maxSize = 10000
	}
	cache, err := lru.New[string, *Session](maxSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create session cache: %w", err)
	}
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	return &MemoryStore{
		cache:   cache,
		now:     time.Now,
		logger:  logger,
		metrics: metrics,
	}, nil
}

// Save implements Store. The record's ExpiresAt governs expiry; ttl only
// fills it in when unset.
func (s *MemoryStore) Save(ctx context.Context, key string, sess *Session, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c := *sess
	if c.ExpiresAt.IsZero() && ttl > 0 {
		c.ExpiresAt = s.now().Add(ttl)
	}
	s.cache.Add(key, &c)
	return nil
}

// Load implements Store
func (s *MemoryStore) Load(ctx context.Context, key string) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sess, ok := s.cache.Get(key)
	if !ok || sess.Expired(s.now()) {
		return nil, ErrNotFound
	}
	c := *sess
	return &c, nil
}

// Delete implements Store
func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.cache.Remove(key)
	return nil
}

// Len returns the number of stored sessions, expired ones included
func (s *MemoryStore) Len() int {
	return s.cache.Len()
}

// Purge removes expired sessions and returns how many were dropped
func (s *MemoryStore) Purge() int {
	now := s.now()
	purged := 0
	for _, key := range s.cache.Keys() {
		sess, ok := s.cache.Peek(key)
		if ok && sess.Expired(now) {
			s.cache.Remove(key)
			purged++
		}
	}
	s.metrics.RecordSessionsPurged(purged)
	return purged
}

// StartPurge schedules Purge with a cron spec such as "@every 5m"
func (s *MemoryStore) StartPurge(schedule string) error {
	c := cron.New()
	_, err := c.AddFunc(schedule, func() {
		defer observability.RecoverPanic(s.logger, "session purge")
		if n := s.Purge(); n > 0 {
			s.logger.WithField("purged", n).Debug("Expired sessions purged")
		}
	})
	if err != nil {
		return fmt.Errorf("invalid purge schedule %q: %w", schedule, err)
	}
	c.Start()
	s.cron = c
	return nil
}

// Stop halts the purge schedule and waits for a running purge
func (s *MemoryStore) Stop(ctx context.Context) error {
	if s.cron == nil {
		return nil
	}
	select {
	case <-s.cron.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
