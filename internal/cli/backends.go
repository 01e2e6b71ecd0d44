package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/pulp/tasking/broker"
	"github.com/pulp/tasking/store/mongo"
)

// openStore connects to MongoDB and ensures indexes exist.
func (a *app) openStore(ctx context.Context) (*mongo.Store, error) {
	s, err := mongo.Connect(ctx, a.cfg.Mongo.URI, a.cfg.Mongo.Database, mongo.WithLogger(a.logger))
	if err != nil {
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

// openBroker connects to Redis. The returned close func shuts down both the
// broker and its client.
func (a *app) openBroker(ctx context.Context) (broker.Broker, func() error, error) {
	if a.cfg.Broker.RedisAddr == "" {
		return nil, nil, errors.New("broker.redis_addr is required; use the dev command for a single-process setup")
	}

	client := redis.NewClient(&redis.Options{Addr: a.cfg.Broker.RedisAddr})
	b := broker.NewRedis(client,
		broker.WithCodec(broker.GetCodec(a.cfg.Broker.Codec)),
		broker.WithRedisLogger(a.logger),
	)
	if err := b.Ping(ctx); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("redis %s: %w", a.cfg.Broker.RedisAddr, err)
	}

	closeFn := func() error {
		return errors.Join(b.Close(), client.Close())
	}
	return b, closeFn, nil
}
