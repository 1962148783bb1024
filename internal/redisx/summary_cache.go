package redisx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ariefcatur/go-pos-orders/internal/summary"
	"github.com/redis/go-redis/v9"
)

// SummaryCache keeps finished reports per window. Invalidate bumps a
// generation counter instead of scanning keys; stale entries age out by TTL.
type SummaryCache struct {
	RDB  redis.Cmdable
	TTL  time.Duration
	Zone string // report timezone name, part of the key
}

var _ summary.Cache = (*SummaryCache)(nil)

func (c *SummaryCache) Get(ctx context.Context, r summary.Range) (*summary.Report, int64, error) {
	gen, err := c.generation(ctx)
	if err != nil {
		return nil, 0, err
	}
	raw, err := c.RDB.Get(ctx, c.key(gen, r)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, gen, nil
	}
	if err != nil {
		return nil, gen, err
	}
	var rep summary.Report
	if err := json.Unmarshal(raw, &rep); err != nil {
		return nil, gen, fmt.Errorf("decode cached summary: %w", err)
	}
	return &rep, gen, nil
}

func (c *SummaryCache) Put(ctx context.Context, r summary.Range, generation int64, rep *summary.Report) error {
	b, err := json.Marshal(rep)
	if err != nil {
		return err
	}
	return c.RDB.Set(ctx, c.key(generation, r), b, c.ttl()).Err()
}

// Invalidate makes every cached report unreachable.
func (c *SummaryCache) Invalidate(ctx context.Context) error {
	return c.RDB.Incr(ctx, KeySummaryGeneration).Err()
}

func (c *SummaryCache) generation(ctx context.Context) (int64, error) {
	gen, err := c.RDB.Get(ctx, KeySummaryGeneration).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return gen, err
}

func (c *SummaryCache) key(gen int64, r summary.Range) string {
	zone := c.Zone
	if zone == "" {
		zone = "UTC"
	}
	return fmt.Sprintf(KeySummary, gen, zone, r.Start.Format(time.RFC3339Nano), r.End.Format(time.RFC3339Nano))
}

func (c *SummaryCache) ttl() time.Duration {
	if c.TTL > 0 {
		return c.TTL
	}
	return TTLSummary
}
