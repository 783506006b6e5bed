package docregistry

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"synapse/internal/observability"
)

// CacheConfig configures the Redis fast-path cache fronting Store for
// lookupByUrl/lookupByContentHash's single-digit-ms requirement (§4.8).
type CacheConfig struct {
	Addr                  string
	Password              string
	DB                    int
	TLSInsecureSkipVerify bool
	TTL                   time.Duration
}

// redisCache is a best-effort cache: every method degrades to "miss" on
// error rather than surfacing a Redis outage to the lookup path.
type redisCache struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// newRedisCache builds a cache when cfg.Addr is set; returns nil otherwise,
// and every method on a nil *redisCache is a safe no-op/miss.
func newRedisCache(cfg CacheConfig) *redisCache {
	if cfg.Addr == "" {
		return nil
	}
	opts := &redis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB}
	if cfg.TLSInsecureSkipVerify {
		opts.TLSConfig = &tls.Config{InsecureSkipVerify: true}
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &redisCache{client: redis.NewClient(opts), ttl: ttl}
}

func urlKey(userID, urlHash string) string     { return "docreg:" + userID + ":url:" + urlHash }
func contentKey(userID, contentHash string) string { return "docreg:" + userID + ":content:" + contentHash }

func (c *redisCache) getByKey(ctx context.Context, key string) (Entry, bool) {
	if c == nil {
		return Entry{}, false
	}
	val, err := c.client.Get(ctx, key).Result()
	if err != nil {
		if err != redis.Nil {
			observability.LoggerWithTrace(ctx).Debug().Err(err).Str("key", key).Msg("docregistry cache get failed")
		}
		return Entry{}, false
	}
	var e Entry
	if err := json.Unmarshal([]byte(val), &e); err != nil {
		return Entry{}, false
	}
	return e, true
}

func (c *redisCache) set(ctx context.Context, e Entry) {
	if c == nil {
		return
	}
	data, err := json.Marshal(e)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, urlKey(e.UserID, e.URLHash), data, c.ttl).Err(); err != nil {
		observability.LoggerWithTrace(ctx).Debug().Err(err).Msg("docregistry cache set (url) failed")
	}
	if e.ContentHash != "" && e.Status == StatusComplete {
		if err := c.client.Set(ctx, contentKey(e.UserID, e.ContentHash), data, c.ttl).Err(); err != nil {
			observability.LoggerWithTrace(ctx).Debug().Err(err).Msg("docregistry cache set (content) failed")
		}
	}
}

func (c *redisCache) getByURL(ctx context.Context, userID, urlHash string) (Entry, bool) {
	return c.getByKey(ctx, urlKey(userID, urlHash))
}

func (c *redisCache) getByContent(ctx context.Context, userID, contentHash string) (Entry, bool) {
	return c.getByKey(ctx, contentKey(userID, contentHash))
}
