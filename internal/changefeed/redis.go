package changefeed

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Redis fans change signals out over Redis pub/sub, one channel per family.
type Redis struct {
	client *redis.Client
	prefix string
	logger *zap.Logger
}

func NewRedis(client *redis.Client, prefix string, logger *zap.Logger) *Redis {
	return &Redis{client: client, prefix: prefix, logger: logger}
}

func (r *Redis) channel(familyID string) string {
	return r.prefix + familyID
}

func (r *Redis) Publish(ctx context.Context, familyID string) error {
	if err := r.client.Publish(ctx, r.channel(familyID), "changed").Err(); err != nil {
		return fmt.Errorf("changefeed publish error: %w", err)
	}
	return nil
}

func (r *Redis) Subscribe(ctx context.Context, familyID string) (<-chan struct{}, func(), error) {
	ps := r.client.Subscribe(ctx, r.channel(familyID))
	// Receive ждёт подтверждения подписки, иначе первые сообщения могут потеряться
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, nil, fmt.Errorf("changefeed subscribe error: %w", err)
	}

	out := make(chan struct{}, 1)
	done := make(chan struct{})
	msgs := ps.Channel()

	go func() {
		defer close(out)
		for {
			select {
			case <-done:
				return
			case _, ok := <-msgs:
				if !ok {
					return
				}
				notify(out)
			}
		}
	}()

	var once sync.Once
	closeFn := func() {
		once.Do(func() {
			close(done)
			if err := ps.Close(); err != nil {
				r.logger.Warn("failed to close redis subscription",
					zap.String("family_id", familyID), zap.Error(err))
			}
		})
	}
	return out, closeFn, nil
}

// Ping checks if the Redis connection is healthy.
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
