package position

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	// positionKeyPrefix namespaces position keys: bot:position:{symbol}.
	positionKeyPrefix = "bot:position"

	// positionTTL keeps stale state from surviving forever if the bot is
	// retired for a symbol.
	positionTTL = 7 * 24 * time.Hour
)

// Cache persists the last known position state so a restart (or a transient
// exchange failure) never downgrades a long position to flat. Redis is
// preferred; when it is unavailable every operation falls back to an
// in-memory copy and trading continues.
type Cache struct {
	client    *redis.Client
	logger    zerolog.Logger
	mu        sync.RWMutex
	memory    map[string]*State
	available atomic.Bool
}

// NewCache wraps an optional Redis client. A nil client means memory-only
// mode, which is valid for single-process runs.
func NewCache(client *redis.Client, logger zerolog.Logger) *Cache {
	c := &Cache{
		client: client,
		logger: logger.With().Str("component", "position-cache").Logger(),
		memory: make(map[string]*State),
	}
	if client == nil {
		c.logger.Info().Msg("no redis client, using in-memory cache only")
		return c
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		c.logger.Warn().Err(err).Msg("redis unavailable at startup, using in-memory cache")
	} else {
		c.available.Store(true)
	}
	return c
}

func key(symbol string) string {
	return fmt.Sprintf("%s:%s", positionKeyPrefix, symbol)
}

// Save writes the state to memory and, when reachable, to Redis. A Redis
// write failure downgrades to memory-only without returning an error.
func (c *Cache) Save(ctx context.Context, symbol string, st State) error {
	c.mu.Lock()
	copied := st
	c.memory[symbol] = &copied
	c.mu.Unlock()

	if c.client == nil || !c.available.Load() {
		return nil
	}

	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("marshal position state: %w", err)
	}
	if err := c.client.Set(ctx, key(symbol), data, positionTTL).Err(); err != nil {
		c.logger.Warn().Err(err).Msg("redis write failed, keeping in-memory copy")
		c.available.Store(false)
	}
	return nil
}

// Load returns the last known state, or nil when nothing was ever saved.
func (c *Cache) Load(ctx context.Context, symbol string) (*State, error) {
	if c.client != nil && c.available.Load() {
		data, err := c.client.Get(ctx, key(symbol)).Result()
		switch {
		case err == redis.Nil:
			// fall through to memory
		case err != nil:
			c.logger.Warn().Err(err).Msg("redis read failed, using in-memory copy")
			c.available.Store(false)
		default:
			var st State
			if err := json.Unmarshal([]byte(data), &st); err != nil {
				return nil, fmt.Errorf("unmarshal position state: %w", err)
			}
			return &st, nil
		}
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	if st, ok := c.memory[symbol]; ok {
		copied := *st
		return &copied, nil
	}
	return nil, nil
}
