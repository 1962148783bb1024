package redisx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/ariefcatur/go-pos-orders/internal/orders"
	"github.com/redis/go-redis/v9"
)

// OrderCache holds hydrated orders for the read path. Entries are evicted on
// every change to the order. Each eviction bumps a per-order version, and Put
// only writes under the version its Get saw, so a read that raced an update
// cannot bring the old order back.
type OrderCache struct {
	RDB redis.Cmdable
	TTL time.Duration
}

var putIfVersionScript = redis.NewScript(`
local v = redis.call("GET", KEYS[2]) or "0"
if v == ARGV[1] then
	return redis.call("SET", KEYS[1], ARGV[2], "PX", ARGV[3])
end
return false
`)

// Get returns the cached order, or nil on a miss, plus the version to pass
// to Put.
func (c *OrderCache) Get(ctx context.Context, id string) (*orders.Order, int64, error) {
	vals, err := c.RDB.MGet(ctx, fmt.Sprintf(KeyOrder, id), fmt.Sprintf(KeyOrderVersion, id)).Result()
	if err != nil {
		return nil, 0, err
	}

	var version int64
	if s, ok := vals[1].(string); ok {
		if version, err = strconv.ParseInt(s, 10, 64); err != nil {
			return nil, 0, fmt.Errorf("decode order version: %w", err)
		}
	}
	raw, ok := vals[0].(string)
	if !ok {
		return nil, version, nil
	}
	var o orders.Order
	if err := json.Unmarshal([]byte(raw), &o); err != nil {
		return nil, version, fmt.Errorf("decode cached order: %w", err)
	}
	return &o, version, nil
}

// Put caches o unless the order was evicted after the Get that returned
// version.
func (c *OrderCache) Put(ctx context.Context, o *orders.Order, version int64) error {
	b, err := json.Marshal(o)
	if err != nil {
		return err
	}
	ttl := c.TTL
	if ttl <= 0 {
		ttl = TTLOrderCache
	}
	keys := []string{fmt.Sprintf(KeyOrder, o.ID), fmt.Sprintf(KeyOrderVersion, o.ID)}
	err = putIfVersionScript.Run(ctx, c.RDB, keys, version, b, ttl.Milliseconds()).Err()
	if errors.Is(err, redis.Nil) {
		return nil // superseded
	}
	return err
}

func (c *OrderCache) Evict(ctx context.Context, id string) error {
	_, err := c.RDB.TxPipelined(ctx, func(p redis.Pipeliner) error {
		vk := fmt.Sprintf(KeyOrderVersion, id)
		p.Incr(ctx, vk)
		p.PExpire(ctx, vk, TTLOrderVersion)
		p.Del(ctx, fmt.Sprintf(KeyOrder, id))
		return nil
	})
	return err
}
