// Package kv is a thin, typed wrapper over Redis exposing only the
// primitives the rest of the system needs: a TTL'd value store (treasury
// budgets/transactions, agent genomes) and an ordered-set sliding window
// (rate limiter). One shared connection serves every call site.
package kv

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store wraps a redis.UniversalClient. A nil *Store is valid and treated as
// "unavailable" by callers that implement fail-open/fail-closed policies.
type Store struct {
	client redis.UniversalClient
}

// Options configures the underlying Redis connection.
type Options struct {
	Addr                  string
	Password              string
	DB                    int
	TLSInsecureSkipVerify bool
}

// New creates a Store and verifies connectivity with a PING.
func New(ctx context.Context, opts Options) (*Store, error) {
	redisOpts := &redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	}
	if opts.TLSInsecureSkipVerify {
		redisOpts.TLSConfig = &tls.Config{InsecureSkipVerify: true}
	}
	client := redis.NewClient(redisOpts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("kv: redis ping: %w", err)
	}
	return &Store{client: client}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

// ErrUnavailable is returned (wrapped) when the store is nil or the
// underlying connection is down. Callers decide whether that means fail-open
// (rate limiter) or fail-closed-to-null (budget cache).
var ErrUnavailable = fmt.Errorf("kv: store unavailable")

// Ping verifies connectivity, for the gateway's /health aggregation.
func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.client == nil {
		return ErrUnavailable
	}
	return s.client.Ping(ctx).Err()
}

// GetString reads a single string value. Returns (_, false, nil) on miss.
func (s *Store) GetString(ctx context.Context, key string) (string, bool, error) {
	if s == nil || s.client == nil {
		return "", false, ErrUnavailable
	}
	val, err := s.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("kv: get %s: %w", key, err)
	}
	return val, true, nil
}

// SetString writes a string value with a TTL. ttl<=0 means no expiry.
func (s *Store) SetString(ctx context.Context, key, value string, ttl time.Duration) error {
	if s == nil || s.client == nil {
		return ErrUnavailable
	}
	if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("kv: set %s: %w", key, err)
	}
	return nil
}

// Keys returns all keys matching a glob pattern via SCAN (non-blocking,
// bounded batch size), used by Treasury.EmergencyFreezeAll and
// GetEconomicAnalytics to enumerate budget:* keys.
func (s *Store) Keys(ctx context.Context, pattern string) ([]string, error) {
	if s == nil || s.client == nil {
		return nil, ErrUnavailable
	}
	var keys []string
	iter := s.client.Scan(ctx, 0, pattern, 200).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("kv: scan %s: %w", pattern, err)
	}
	return keys, nil
}

// SlidingWindowAdmit implements the rate limiter's atomic sliding-window
// check: trim entries older than the window, count what remains, add "now",
// and set the key to expire one second after the window. The four
// operations (ZREMRANGEBYSCORE/ZCARD/ZADD/EXPIRE) run as one pipelined
// batch. It returns the count observed *before* adding the current entry;
// the caller admits iff that count is under its limit.
func (s *Store) SlidingWindowAdmit(ctx context.Context, key string, windowSeconds int, now time.Time) (countBeforeAdd int64, err error) {
	if s == nil || s.client == nil {
		return 0, ErrUnavailable
	}
	nowUnix := now.Unix()
	windowStart := nowUnix - int64(windowSeconds)

	pipe := s.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, key, "0", fmt.Sprintf("%d", windowStart))
	countCmd := pipe.ZCard(ctx, key)
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(nowUnix), Member: fmt.Sprintf("%d-%d", nowUnix, now.UnixNano())})
	pipe.Expire(ctx, key, time.Duration(windowSeconds+1)*time.Second)

	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("kv: sliding window pipeline %s: %w", key, err)
	}
	return countCmd.Val(), nil
}

// Del removes a key outright.
func (s *Store) Del(ctx context.Context, key string) error {
	if s == nil || s.client == nil {
		return ErrUnavailable
	}
	return s.client.Del(ctx, key).Err()
}
