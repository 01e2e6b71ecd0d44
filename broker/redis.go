package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pulp/tasking"
)

var _ Broker = (*Redis)(nil)

// keyPrefix namespaces queue keys to avoid collisions.
const keyPrefix = "tasking:queue:"

// queueKey returns the list key for a queue: tasking:queue:{name}
func queueKey(name string) string { return keyPrefix + name }

// RedisOption configures a Redis broker.
type RedisOption func(*Redis)

// WithCodec sets the message codec. Defaults to JSON.
func WithCodec(c Codec) RedisOption {
	return func(r *Redis) { r.codec = c }
}

// WithPollTimeout sets how long one BLPOP blocks before Consume re-checks
// its context. Defaults to one second.
func WithPollTimeout(d time.Duration) RedisOption {
	return func(r *Redis) { r.pollTimeout = d }
}

// WithRedisLogger sets the logger.
func WithRedisLogger(l *slog.Logger) RedisOption {
	return func(r *Redis) { r.logger = l }
}

// Redis is a Broker backed by Redis lists. The caller owns the client
// lifecycle.
type Redis struct {
	client      redis.Cmdable
	codec       Codec
	pollTimeout time.Duration
	logger      *slog.Logger
	closed      chan struct{}
	closeOnce   sync.Once
}

// NewRedis creates a Redis-backed broker.
func NewRedis(client redis.Cmdable, opts ...RedisOption) *Redis {
	r := &Redis{
		client:      client,
		codec:       &JSONCodec{},
		pollTimeout: time.Second,
		logger:      slog.Default(),
		closed:      make(chan struct{}),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Ping verifies the Redis connection is alive.
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Publish encodes msg and appends it to the queue's list.
func (r *Redis) Publish(ctx context.Context, queue string, msg *Message) error {
	if r.isClosed() {
		return tasking.ErrBrokerClosed
	}
	data, err := r.codec.Encode(msg)
	if err != nil {
		return fmt.Errorf("tasking/redis: encode message: %w", err)
	}
	if err := r.client.RPush(ctx, queueKey(queue), data).Err(); err != nil {
		return fmt.Errorf("tasking/redis: publish to %s: %w", queue, err)
	}
	return nil
}

// Consume pops the oldest message from the queue's list, blocking until
// one is available.
func (r *Redis) Consume(ctx context.Context, queue string) (*Message, error) {
	key := queueKey(queue)
	for {
		if r.isClosed() {
			return nil, tasking.ErrBrokerClosed
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		res, err := r.client.BLPop(ctx, r.pollTimeout, key).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, fmt.Errorf("tasking/redis: consume from %s: %w", queue, err)
		}
		// BLPOP returns [key, value].
		if len(res) != 2 {
			continue
		}

		msg, err := r.codec.Decode([]byte(res[1]))
		if err != nil {
			r.logger.Error("dropping undecodable message",
				slog.String("queue", queue),
				slog.String("codec", r.codec.Name()),
				slog.String("error", err.Error()),
			)
			continue
		}
		return msg, nil
	}
}

// Len returns the number of messages waiting on queue.
func (r *Redis) Len(ctx context.Context, queue string) (int64, error) {
	return r.client.LLen(ctx, queueKey(queue)).Result()
}

// Close stops further publishes and consumes. The Redis client is not
// closed.
func (r *Redis) Close() error {
	r.closeOnce.Do(func() { close(r.closed) })
	return nil
}

func (r *Redis) isClosed() bool {
	select {
	case <-r.closed:
		return true
	default:
		return false
	}
}
