package redisx

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const pendingPrefix = "pending:"

// Reservation is the outcome of Reserve. Exactly one of Token, OrderID or
// Pending is set.
type Reservation struct {
	Token   string // the caller owns the key and must Complete or Release it
	OrderID string // the key already produced this order
	Pending bool   // another request holds the key
}

// Idempotency maps a client-supplied Idempotency-Key to the order it created.
// Keys are scoped per cashier. While a capture runs the key holds a pending
// token, so concurrent retries never capture twice.
type Idempotency struct {
	RDB        redis.Cmdable
	TTL        time.Duration
	PendingTTL time.Duration
}

// set KEYS[1] to ARGV[2] only while it still holds the caller's token ARGV[1]
var completeScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("SET", KEYS[1], ARGV[2], "PX", ARGV[3])
end
return false
`)

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Reserve claims key for one capture. A pending reservation expires after
// PendingTTL so a crashed request does not block the key for long.
func (i *Idempotency) Reserve(ctx context.Context, cashierID, key string) (Reservation, error) {
	k := fmt.Sprintf(KeyIdemOrderCapture, cashierID, key)
	token := pendingPrefix + uuid.NewString()

	ok, err := i.RDB.SetNX(ctx, k, token, i.pendingTTL()).Result()
	if err != nil {
		return Reservation{}, err
	}
	if ok {
		return Reservation{Token: token}, nil
	}

	v, err := i.RDB.Get(ctx, k).Result()
	switch {
	case errors.Is(err, redis.Nil):
		// released between SETNX and GET; the client may retry
		return Reservation{Pending: true}, nil
	case err != nil:
		return Reservation{}, err
	case strings.HasPrefix(v, pendingPrefix):
		return Reservation{Pending: true}, nil
	}
	return Reservation{OrderID: v}, nil
}

// Complete records orderID under key if token still owns it.
func (i *Idempotency) Complete(ctx context.Context, cashierID, key, token, orderID string) error {
	k := fmt.Sprintf(KeyIdemOrderCapture, cashierID, key)
	err := completeScript.Run(ctx, i.RDB, []string{k}, token, orderID, i.ttl().Milliseconds()).Err()
	if errors.Is(err, redis.Nil) {
		return fmt.Errorf("idempotency key %s: reservation lost", key)
	}
	return err
}

// Release frees key after a failed capture so the client can retry.
func (i *Idempotency) Release(ctx context.Context, cashierID, key, token string) error {
	k := fmt.Sprintf(KeyIdemOrderCapture, cashierID, key)
	return releaseScript.Run(ctx, i.RDB, []string{k}, token).Err()
}

func (i *Idempotency) ttl() time.Duration {
	if i.TTL > 0 {
		return i.TTL
	}
	return TTLIdempotency
}

func (i *Idempotency) pendingTTL() time.Duration {
	if i.PendingTTL > 0 {
		return i.PendingTTL
	}
	return TTLIdempotencyPending
}
