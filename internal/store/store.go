package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config configures the Redis connection backing a Store.
type Config struct {
	Addr     string
	Password string
	DB       int
}

// Store is the typed facade over Redis described by §4.A. It owns a single
// *redis.Client connection pool shared by every worker.
type Store struct {
	client *redis.Client

	// dedupMu/dedupLast back the "caching decorator" AddTriggerCheck applies
	// over its SADD: identical (id, cacheKey) calls within cacheTTL of each
	// other skip the underlying SADD (§4.A, §4.G).
	dedupMu   sync.Mutex
	dedupLast map[string]time.Time
}

// New connects to Redis and verifies reachability with a bounded ping.
func New(cfg Config) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("store: connect to redis: %w", err)
	}

	return &Store{client: client, dedupLast: make(map[string]time.Time)}, nil
}

// NewFromClient wraps an already-constructed client — used by tests to hand
// in a miniredis-backed client without going through Config/New.
func NewFromClient(client *redis.Client) *Store {
	return &Store{client: client, dedupLast: make(map[string]time.Time)}
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.client.Close()
}

// Client exposes the raw client for subsystems (the pub/sub ingest
// subscriber) that need primitives this facade doesn't wrap.
func (s *Store) Client() *redis.Client {
	return s.client
}
