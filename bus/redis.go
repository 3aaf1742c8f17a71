package bus

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisAdapter is the concrete Bus Adapter: a FIFO-queue broker client
// backed by Redis (or anything speaking the Redis list commands —
// RPUSH/LPOP/BLPOP/DEL). Each queue is a Redis list; push-to-tail and
// pop-from-head give the FIFO ordering the protocol relies on.
type RedisAdapter struct {
	rdb   *redis.Client
	busID string
}

// NewBusID generates a stable reply address from prefix plus a random
// 12-digit decimal suffix, e.g. NewBusID("client") -> "client453829104772".
func NewBusID(prefix string) string {
	return prefix + randomDigits(12)
}

func randomDigits(n int) string {
	max := int64(1)
	for i := 0; i < n; i++ {
		max *= 10
	}
	return fmt.Sprintf("%0*d", n, rand.Int64N(max))
}

// Dial connects to the broker named by cfg and returns a RedisAdapter
// whose own inbound queue is prefix plus a random numeric suffix. It fails
// with a *ConfigError if cfg names neither a socket path nor a host+port
// pair, or a *Error if the broker can't be reached.
func Dial(prefix string, cfg Config) (*RedisAdapter, error) {
	network, addr, err := cfg.dialAddr()
	if err != nil {
		return nil, err
	}

	rdb := redis.NewClient(&redis.Options{
		Network: network,
		Addr:    addr,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, &Error{Op: "connect", Err: err}
	}

	return &RedisAdapter{rdb: rdb, busID: NewBusID(prefix)}, nil
}

// BusID implements Adapter.
func (a *RedisAdapter) BusID() string { return a.busID }

// Send implements Adapter.
func (a *RedisAdapter) Send(queue, payload string) error {
	ctx := context.Background()
	if err := a.rdb.RPush(ctx, queue, payload).Err(); err != nil {
		return &Error{Op: "send", Err: err}
	}
	return nil
}

// Recv implements Adapter. timeoutSeconds follows the bus-wide convention:
// 0 is non-blocking, negative blocks indefinitely, positive bounds the
// block. A context cancellation or Redis nil reply both surface as
// (ok=false, err=nil) rather than an error.
func (a *RedisAdapter) Recv(timeoutSeconds int) (string, bool, error) {
	ctx := context.Background()

	if timeoutSeconds == 0 {
		val, err := a.rdb.LPop(ctx, a.busID).Result()
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		if err != nil {
			return "", false, &Error{Op: "recv", Err: err}
		}
		return val, true, nil
	}

	block := time.Duration(timeoutSeconds) * time.Second
	if timeoutSeconds < 0 {
		block = 0 // go-redis: 0 means block indefinitely for BLPop
	}

	res, err := a.rdb.BLPop(ctx, block, a.busID).Result()
	if errors.Is(err, redis.Nil) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return "", false, nil
	}
	if err != nil {
		return "", false, &Error{Op: "recv", Err: err}
	}
	if len(res) < 2 {
		return "", false, nil
	}
	return res[1], true, nil
}

// Clear implements Adapter.
func (a *RedisAdapter) Clear(queue string) error {
	ctx := context.Background()
	if err := a.rdb.Del(ctx, queue).Err(); err != nil {
		return &Error{Op: "clear", Err: err}
	}
	return nil
}

// Close releases the underlying Redis connection.
func (a *RedisAdapter) Close() error {
	return a.rdb.Close()
}
