package fifo

import (
	"context"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisDedupIndex shares the dedup window across queue instances. It is
// meant for deployments where a relay restart must not replay mutations
// already absorbed by another instance.
type RedisDedupIndex struct {
	rdb    *redis.Client
	window time.Duration
	prefix string
}

func NewRedisDedupIndex(rdb *redis.Client, window time.Duration, prefix string) *RedisDedupIndex {
	if window <= 0 {
		window = defaultDedupWindow
	}
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "dedup"
	}
	return &RedisDedupIndex{rdb: rdb, window: window, prefix: prefix}
}

func (r *RedisDedupIndex) Remember(ctx context.Context, id string) (bool, error) {
	return r.rdb.SetNX(ctx, r.prefix+":"+id, 1, r.window).Result()
}

func RedisReadyCheck(rdb *redis.Client) func(context.Context) error {
	return func(ctx context.Context) error {
		return rdb.Ping(ctx).Err()
	}
}
