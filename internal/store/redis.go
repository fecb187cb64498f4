package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	_ Snapshotter = (*RedisSnapshotter)(nil)
	_ Quarantiner = (*RedisSnapshotter)(nil)
)

// RedisSnapshotter keeps a snapshot document under a single redis key.
// Several snapshotters may share one client.
type RedisSnapshotter struct {
	client *redis.Client
	key    string
}

// NewRedisClient connects and verifies the connection.
func NewRedisClient(options *redis.Options) (*redis.Client, error) {
	client := redis.NewClient(options)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}

	return client, nil
}

func NewRedisSnapshotter(client *redis.Client, key string) *RedisSnapshotter {
	return &RedisSnapshotter{client: client, key: key}
}

func (r *RedisSnapshotter) Save(ctx context.Context, data []byte) error {
	return r.client.Set(ctx, r.key, data, 0).Err()
}

func (r *RedisSnapshotter) Load(ctx context.Context) ([]byte, error) {
	data, err := r.client.Get(ctx, r.key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	return data, nil
}

// Quarantine renames the key to <key>:corrupt:<unix>.
func (r *RedisSnapshotter) Quarantine(ctx context.Context) (string, error) {
	dest := fmt.Sprintf("%s:corrupt:%d", r.key, time.Now().Unix())
	if err := r.client.Rename(ctx, r.key, dest).Err(); err != nil {
		return "", fmt.Errorf("moving snapshot aside: %w", err)
	}
	return dest, nil
}
