package blacklist

import (
	"context"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "blacklist:"

// RedisPersister stores entries as blacklist:<jti> keys carrying a TTL equal to the token's remaining life.
type RedisPersister struct {
	client *redis.Client
	now    func() time.Time
}

// NewRedisPersister returns a persister over client.
func NewRedisPersister(client *redis.Client) *RedisPersister {
	return &RedisPersister{client: client, now: time.Now}
}

// NewRedisClient parses a redis:// URL and returns a connected client. Callers own Close.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}

// Add writes the entry with a TTL. Already expired entries are skipped.
func (p *RedisPersister) Add(ctx context.Context, jti string, expiresAt time.Time) error {
	ttl := expiresAt.Sub(p.now())
	if ttl <= 0 {
		return nil
	}
	return p.client.Set(ctx, redisKeyPrefix+jti, expiresAt.Unix(), ttl).Err()
}

// Load scans all blacklist keys and returns jti -> expiry, derived from each key's remaining TTL.
func (p *RedisPersister) Load(ctx context.Context) (map[string]time.Time, error) {
	out := make(map[string]time.Time)
	iter := p.client.Scan(ctx, 0, redisKeyPrefix+"*", 500).Iterator()
	now := p.now()
	for iter.Next(ctx) {
		key := iter.Val()
		ttl, err := p.client.PTTL(ctx, key).Result()
		if err != nil {
			return nil, err
		}
		if ttl <= 0 {
			continue
		}
		out[strings.TrimPrefix(key, redisKeyPrefix)] = now.Add(ttl)
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// WarmFromRedis loads persisted entries into b and returns how many were added.
func WarmFromRedis(ctx context.Context, b *Blacklist, p *RedisPersister) (int, error) {
	entries, err := p.Load(ctx)
	if err != nil {
		return 0, err
	}
	return b.Warm(entries), nil
}
