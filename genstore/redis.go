package genstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisGenStore shares per-key generations across processes and survives
// restarts. With a TTL, generation keys expire when idle; an expired key reads
// as 0 and tier entries written under a higher generation self-heal on read.
type RedisGenStore struct {
	rdb         redis.UniversalClient
	ns          string        // should match the tier namespace
	ttl         time.Duration // 0 disables expiry
	closeClient bool
}

var _ GenStore = (*RedisGenStore)(nil)

type RedisOptions struct {
	Namespace   string
	TTL         time.Duration
	CloseClient bool // set true only if the store exclusively owns the client
}

func NewRedisGenStore(client redis.UniversalClient, opts RedisOptions) *RedisGenStore {
	return &RedisGenStore{rdb: client, ns: opts.Namespace, ttl: opts.TTL, closeClient: opts.CloseClient}
}

func (s *RedisGenStore) key(k string) string { return "gen:" + s.ns + ":" + k }

func (s *RedisGenStore) Snapshot(ctx context.Context, storageKey string) (uint64, error) {
	res, err := s.rdb.Get(ctx, s.key(storageKey)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	u, err := strconv.ParseUint(res, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("redis gen parse: %w", err)
	}
	return u, nil
}

// Bump increments the generation; with a TTL, INCR and EXPIRE share one
// pipelined round-trip.
func (s *RedisGenStore) Bump(ctx context.Context, storageKey string) (uint64, error) {
	k := s.key(storageKey)
	if s.ttl <= 0 {
		v, err := s.rdb.Incr(ctx, k).Result()
		if err != nil {
			return 0, err
		}
		return uint64(v), nil
	}

	var incr *redis.IntCmd
	_, err := s.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		incr = p.Incr(ctx, k)
		p.Expire(ctx, k, s.ttl)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return uint64(incr.Val()), nil
}

// Cleanup is a no-op; Redis expires keys itself when a TTL is set.
func (s *RedisGenStore) Cleanup(time.Duration) {}

func (s *RedisGenStore) Close(context.Context) error {
	if !s.closeClient {
		return nil
	}
	if err := s.rdb.Close(); err != nil && !errors.Is(err, redis.ErrClosed) {
		return err
	}
	return nil
}
