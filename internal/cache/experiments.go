package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"prayukti-judge/internal/storage"
)

const listKey = "experiments:list"

// Options configures the Redis client.
type Options struct {
	Addr      string
	Password  string
	DB        int
	TTL       time.Duration
	KeyPrefix string
}

// NewClient connects to Redis and verifies the connection.
func NewClient(opts Options) (*redis.Client, error) {
	if opts.Addr == "" {
		return nil, fmt.Errorf("addr cannot be empty")
	}

	client := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     20,
		MinIdleConns: 2,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return client, nil
}

// ExperimentCache is a read-through cache in front of an ExperimentStore.
// Experiments are read on every run and submit but change rarely. Redis
// failures fall through to the underlying store.
type ExperimentCache struct {
	next     storage.ExperimentStore
	client   *redis.Client
	ttl      time.Duration
	prefix   string
	onLookup func(result string)
}

func NewExperimentCache(next storage.ExperimentStore, client *redis.Client, ttl time.Duration, prefix string) *ExperimentCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &ExperimentCache{
		next:   next,
		client: client,
		ttl:    ttl,
		prefix: prefix,
	}
}

// OnLookup registers a hook receiving "hit", "miss" or "error" per lookup.
func (c *ExperimentCache) OnLookup(fn func(result string)) {
	c.onLookup = fn
}

func (c *ExperimentCache) GetExperiment(ctx context.Context, id string) (*storage.Experiment, error) {
	key := c.prefix + "experiment:" + id

	var exp storage.Experiment
	if c.load(ctx, key, &exp) {
		return &exp, nil
	}

	got, err := c.next.GetExperiment(ctx, id)
	if err != nil {
		return nil, err
	}
	c.store(ctx, key, got)
	return got, nil
}

func (c *ExperimentCache) ListExperiments(ctx context.Context) ([]storage.ExperimentSummary, error) {
	key := c.prefix + listKey

	var list []storage.ExperimentSummary
	if c.load(ctx, key, &list) {
		return list, nil
	}

	got, err := c.next.ListExperiments(ctx)
	if err != nil {
		return nil, err
	}
	c.store(ctx, key, got)
	return got, nil
}

// CreateExperiment writes through and drops the cached list.
func (c *ExperimentCache) CreateExperiment(ctx context.Context, exp *storage.Experiment) error {
	if err := c.next.CreateExperiment(ctx, exp); err != nil {
		return err
	}
	if err := c.client.Del(ctx, c.prefix+listKey).Err(); err != nil {
		log.Warn().Err(err).Msg("failed to invalidate experiment list cache")
	}
	return nil
}

func (c *ExperimentCache) load(ctx context.Context, key string, dst any) bool {
	raw, err := c.client.Get(ctx, key).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		c.record("miss")
		return false
	case err != nil:
		log.Warn().Err(err).Str("key", key).Msg("cache read failed, using store")
		c.record("error")
		return false
	}

	if err := json.Unmarshal(raw, dst); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("discarding undecodable cache entry")
		c.record("error")
		return false
	}
	c.record("hit")
	return true
}

func (c *ExperimentCache) store(ctx context.Context, key string, v any) {
	raw, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, key, raw, c.ttl).Err(); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("cache write failed")
	}
}

func (c *ExperimentCache) record(result string) {
	if c.onLookup != nil {
		c.onLookup(result)
	}
}
