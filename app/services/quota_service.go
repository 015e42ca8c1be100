// Package services provides external service integrations and technical concerns like channel gateways and notifications
package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/peyk-io/peyk/utils"
	"github.com/redis/go-redis/v9"
)

// QuotaService enforces the per-account daily send cap. Allow reserves
// one send against today's bucket; buckets roll over at midnight UTC.
type QuotaService interface {
	Allow(ctx context.Context, accountID uint, limit int) (bool, error)
	Used(ctx context.Context, accountID uint) (int, error)
	ResetAll(ctx context.Context) error
}

// RedisQuotaService implements QuotaService on redis counters, shared
// across processes
type RedisQuotaService struct {
	client *redis.Client
	prefix string
}

// NewRedisQuotaService creates a new redis-backed quota service
func NewRedisQuotaService(client *redis.Client, prefix string) QuotaService {
	return &RedisQuotaService{
		client: client,
		prefix: prefix,
	}
}

func (s *RedisQuotaService) key(accountID uint, day string) string {
	return fmt.Sprintf("%squota:%d:%s", s.prefix, accountID, day)
}

// Allow atomically reserves one send, rolling back the increment when the
// cap is already reached
func (s *RedisQuotaService) Allow(ctx context.Context, accountID uint, limit int) (bool, error) {
	key := s.key(accountID, utils.DayKey(utils.UTCNow()))

	used, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("failed to increment quota counter: %w", err)
	}
	if used == 1 {
		// Counters live two days so a bucket survives clock skew around midnight
		if err := s.client.Expire(ctx, key, 48*time.Hour).Err(); err != nil {
			return false, fmt.Errorf("failed to set quota counter expiry: %w", err)
		}
	}
	if int(used) > limit {
		if err := s.client.Decr(ctx, key).Err(); err != nil {
			return false, fmt.Errorf("failed to roll back quota counter: %w", err)
		}
		return false, nil
	}
	return true, nil
}

// Used returns the number of sends consumed today
func (s *RedisQuotaService) Used(ctx context.Context, accountID uint) (int, error) {
	key := s.key(accountID, utils.DayKey(utils.UTCNow()))

	used, err := s.client.Get(ctx, key).Int()
	if err != nil {
		if err == redis.Nil {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read quota counter: %w", err)
	}
	return used, nil
}

// ResetAll drops every quota bucket
func (s *RedisQuotaService) ResetAll(ctx context.Context) error {
	iter := s.client.Scan(ctx, 0, s.prefix+"quota:*", 0).Iterator()
	for iter.Next(ctx) {
		if err := s.client.Del(ctx, iter.Val()).Err(); err != nil {
			return fmt.Errorf("failed to delete quota counter: %w", err)
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to scan quota counters: %w", err)
	}
	return nil
}

// MemoryQuotaService implements QuotaService with in-process counters,
// used in tests and single-node deployments without redis
type MemoryQuotaService struct {
	mu   sync.Mutex
	day  string
	used map[uint]int
	now  func() time.Time
}

// NewMemoryQuotaService creates a new in-memory quota service
func NewMemoryQuotaService() *MemoryQuotaService {
	return &MemoryQuotaService{
		used: make(map[uint]int),
		now:  utils.UTCNow,
	}
}

func (s *MemoryQuotaService) rollover() {
	day := utils.DayKey(s.now())
	if day != s.day {
		s.day = day
		s.used = make(map[uint]int)
	}
}

// Allow reserves one send against today's bucket
func (s *MemoryQuotaService) Allow(ctx context.Context, accountID uint, limit int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.rollover()
	if s.used[accountID] >= limit {
		return false, nil
	}
	s.used[accountID]++
	return true, nil
}

// Used returns the number of sends consumed today
func (s *MemoryQuotaService) Used(ctx context.Context, accountID uint) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.rollover()
	return s.used[accountID], nil
}

// ResetAll drops every quota bucket
func (s *MemoryQuotaService) ResetAll(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.used = make(map[uint]int)
	return nil
}
