package kv

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix namespaces every key written by the chat.
const DefaultRedisPrefix = "nexus:"

// Redis is a Storage backed by a Redis server, for tabs running in separate
// processes. Keys are stored under a prefix so Keys and wipes only touch
// entries this store created.
type Redis struct {
	client   *redis.Client
	prefix   string
	maxValue int // bytes per value; 0 = unlimited
}

// NewRedis connects to addr and verifies the connection with PING.
func NewRedis(ctx context.Context, addr, prefix string, maxValue int) (*Redis, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return NewRedisFromClient(client, prefix, maxValue), nil
}

// NewRedisFromClient wraps an existing client.
func NewRedisFromClient(client *redis.Client, prefix string, maxValue int) *Redis {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &Redis{client: client, prefix: prefix, maxValue: maxValue}
}

// Client exposes the underlying Redis client.
func (r *Redis) Client() *redis.Client {
	return r.client
}

// GetItem returns the value stored under key or os.ErrNotExist.
func (r *Redis) GetItem(ctx context.Context, key string) ([]byte, error) {
	v, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, os.ErrNotExist
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}
	return v, nil
}

// SetItem stores value under key with no expiry. Values larger than the
// configured maximum are rejected with ErrQuotaExceeded.
func (r *Redis) SetItem(ctx context.Context, key string, value []byte) error {
	if r.maxValue > 0 && len(value) > r.maxValue {
		return ErrQuotaExceeded
	}
	if err := r.client.Set(ctx, r.prefix+key, value, 0).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// RemoveItem deletes key.
func (r *Redis) RemoveItem(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.prefix+key).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", key, err)
	}
	return nil
}

// Keys scans for every key under the prefix and returns them without it.
func (r *Redis) Keys(ctx context.Context) ([]string, error) {
	var keys []string
	iter := r.client.Scan(ctx, 0, r.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, strings.TrimPrefix(iter.Val(), r.prefix))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis scan %s*: %w", r.prefix, err)
	}
	sort.Strings(keys)
	return keys, nil
}

// Close closes the Redis connection.
func (r *Redis) Close() error {
	return r.client.Close()
}
