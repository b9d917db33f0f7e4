package autotrade

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/elegroag/trading-alpaca-backend/internal/config"
)

// guardTTL outlives a trading day so a claim covers the whole session.
const guardTTL = 36 * time.Hour

// Guard records which symbols were already auto-traded on a given day.
type Guard interface {
	// Traded reports whether symbol was claimed for day.
	Traded(ctx context.Context, symbol, day string) (bool, error)
	// Claim marks symbol as traded for day. It reports false if another
	// caller claimed it first.
	Claim(ctx context.Context, symbol, day string) (bool, error)
	// Release drops a claim after a failed placement.
	Release(ctx context.Context, symbol, day string) error
}

func guardKey(symbol, day string) string {
	return symbol + ":" + day
}

// MemoryGuard keeps claims in process memory.
type MemoryGuard struct {
	mu      sync.Mutex
	claimed map[string]time.Time
	now     func() time.Time
}

// NewMemoryGuard creates an empty in-process guard.
func NewMemoryGuard() *MemoryGuard {
	return &MemoryGuard{
		claimed: make(map[string]time.Time),
		now:     time.Now,
	}
}

func (g *MemoryGuard) Traded(ctx context.Context, symbol, day string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.live(guardKey(symbol, day)), nil
}

func (g *MemoryGuard) Claim(ctx context.Context, symbol, day string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	key := guardKey(symbol, day)
	if g.live(key) {
		return false, nil
	}
	g.claimed[key] = g.now().Add(guardTTL)
	return true, nil
}

func (g *MemoryGuard) Release(ctx context.Context, symbol, day string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.claimed, guardKey(symbol, day))
	return nil
}

// live requires mu held; expired claims are pruned on sight
func (g *MemoryGuard) live(key string) bool {
	expires, ok := g.claimed[key]
	if !ok {
		return false
	}
	if g.now().After(expires) {
		delete(g.claimed, key)
		return false
	}
	return true
}

// RedisGuard shares claims between processes through SET NX.
type RedisGuard struct {
	client *redis.Client
	prefix string
}

// NewRedisGuard wraps an existing client. Keys are prefix+symbol:day.
func NewRedisGuard(client *redis.Client, prefix string) *RedisGuard {
	return &RedisGuard{client: client, prefix: prefix}
}

// DialRedisGuard connects to Redis and checks the connection.
func DialRedisGuard(ctx context.Context, cfg config.Redis) (*RedisGuard, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr, err)
	}
	return NewRedisGuard(client, "autotrade:"), nil
}

func (g *RedisGuard) Traded(ctx context.Context, symbol, day string) (bool, error) {
	n, err := g.client.Exists(ctx, g.prefix+guardKey(symbol, day)).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists failed: %w", err)
	}
	return n > 0, nil
}

func (g *RedisGuard) Claim(ctx context.Context, symbol, day string) (bool, error) {
	ok, err := g.client.SetNX(ctx, g.prefix+guardKey(symbol, day), time.Now().UTC().Format(time.RFC3339), guardTTL).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx failed: %w", err)
	}
	return ok, nil
}

func (g *RedisGuard) Release(ctx context.Context, symbol, day string) error {
	if err := g.client.Del(ctx, g.prefix+guardKey(symbol, day)).Err(); err != nil {
		return fmt.Errorf("redis del failed: %w", err)
	}
	return nil
}

// Close closes the underlying client.
func (g *RedisGuard) Close() error {
	return g.client.Close()
}
