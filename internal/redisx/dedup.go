package redisx

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Dedup remembers which events a consumer has already handled.
type Dedup struct {
	RDB     redis.Cmdable
	Service string
	TTL     time.Duration
}

// First marks id as seen and reports whether this call was the first.
func (d *Dedup) First(ctx context.Context, id string) (bool, error) {
	ttl := d.TTL
	if ttl <= 0 {
		ttl = TTLDedup
	}
	return d.RDB.SetNX(ctx, fmt.Sprintf(KeyDedup, d.Service, id), 1, ttl).Result()
}

// Forget drops the mark so a failed event can be handled again.
func (d *Dedup) Forget(ctx context.Context, id string) error {
	return d.RDB.Del(ctx, fmt.Sprintf(KeyDedup, d.Service, id)).Err()
}
