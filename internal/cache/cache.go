// Package cache holds read-through copies of derived stock views. Nothing
// here is authoritative; every write to the ledger invalidates the affected
// keys after commit.
package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ErrMiss is returned by Get when the key is absent or expired.
var ErrMiss = errors.New("cache miss")

// Cache is a byte-value store with per-key TTLs.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	// Incr atomically adds one to the decimal counter at key, starting
	// from zero, and returns the new value. Get reads it back as text.
	Incr(ctx context.Context, key string) (int64, error)
}

// KeyStockSummary is the cache key of a variant's stock summary.
const KeyStockSummary = "zaloga:stock:%d"

// StockSummaryKey returns the cache key for a variant's stock summary.
func StockSummaryKey(variantID int64) string {
	return fmt.Sprintf(KeyStockSummary, variantID)
}

// KeyStockGeneration is the cache key of a variant's change counter.
const KeyStockGeneration = "zaloga:stock:%d:gen"

// StockGenerationKey returns the key of the counter bumped on every change
// to a variant's stock.
func StockGenerationKey(variantID int64) string {
	return fmt.Sprintf(KeyStockGeneration, variantID)
}

// Options configure New.
type Options struct {
	Addr     string
	Password string
	DB       int
}

// New connects to Redis. When no address is configured or the server does
// not answer a ping, it falls back to an in-process cache.
func New(ctx context.Context, opts Options, log *zap.Logger) Cache {
	if opts.Addr == "" {
		log.Info("redis not configured, using in-memory cache")
		return NewMemory()
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		PoolSize:     10,
		MinIdleConns: 2,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		log.Warn("redis unavailable, using in-memory cache", zap.String("addr", opts.Addr), zap.Error(err))
		_ = rdb.Close()
		return NewMemory()
	}

	log.Info("redis cache connected", zap.String("addr", opts.Addr), zap.Int("db", opts.DB))
	return &Redis{client: rdb}
}

// Redis implements Cache on a go-redis client.
type Redis struct {
	client redis.UniversalClient
}

// NewRedis wraps an existing client.
func NewRedis(client redis.UniversalClient) *Redis {
	return &Redis{client: client}
}

func (c *Redis) Get(ctx context.Context, key string) ([]byte, error) {
	b, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}
	return b, nil
}

func (c *Redis) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := c.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

func (c *Redis) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

func (c *Redis) Incr(ctx context.Context, key string) (int64, error) {
	n, err := c.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("redis incr %s: %w", key, err)
	}
	return n, nil
}

// Close closes the underlying client.
func (c *Redis) Close() error {
	return c.client.Close()
}

// Memory is an in-process Cache.
type Memory struct {
	mu   sync.Mutex
	data map[string]memoryEntry
	now  func() time.Time
}

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

// NewMemory returns an empty in-process cache.
func NewMemory() *Memory {
	return &Memory{data: make(map[string]memoryEntry), now: time.Now}
}

func (c *Memory) Get(_ context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.data[key]
	if !ok {
		return nil, ErrMiss
	}
	if !e.expiresAt.IsZero() && c.now().After(e.expiresAt) {
		delete(c.data, key)
		return nil, ErrMiss
	}
	return e.value, nil
}

func (c *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := memoryEntry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		e.expiresAt = c.now().Add(ttl)
	}
	c.data[key] = e
	return nil
}

func (c *Memory) Delete(_ context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, k := range keys {
		delete(c.data, k)
	}
	return nil
}

func (c *Memory) Incr(_ context.Context, key string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var n int64
	if e, ok := c.data[key]; ok {
		v, err := strconv.ParseInt(string(e.value), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("incr %s: value is not an integer", key)
		}
		n = v
	}
	n++
	c.data[key] = memoryEntry{value: []byte(strconv.FormatInt(n, 10))}
	return n, nil
}
