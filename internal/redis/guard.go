package redisclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var ErrAlreadyDelivered = errors.New("delivery already claimed")

// DeliveryGuard makes side effects run at most once per key across notify
// worker replicas, even when a stream entry is redelivered after a crash.
type DeliveryGuard struct {
	client *redis.Client
	ttl    time.Duration
}

func NewDeliveryGuard(client *redis.Client, ttl time.Duration) *DeliveryGuard {
	return &DeliveryGuard{client: client, ttl: ttl}
}

// Do claims key and runs fn. A successful fn leaves the claim in place for
// the guard's ttl; a failed fn gives it up so a later attempt can retry.
func (g *DeliveryGuard) Do(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	key = "notify:delivered:" + key
	token := uuid.NewString()

	ok, err := g.client.SetNX(ctx, key, token, g.ttl).Result()
	if err != nil {
		return fmt.Errorf("claim delivery: %w", err)
	}
	if !ok {
		return ErrAlreadyDelivered
	}

	if err := fn(ctx); err != nil {
		_ = g.release(context.WithoutCancel(ctx), key, token)
		return err
	}
	return nil
}

var releaseScript = redis.NewScript(`
local val = redis.call("GET", KEYS[1])
if val == ARGV[1] then
  return redis.call("DEL", KEYS[1])
else
  return 0
end
`)

func (g *DeliveryGuard) release(ctx context.Context, key, token string) error {
	_, err := releaseScript.Run(ctx, g.client, []string{key}, token).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release delivery claim: %w", err)
	}
	return nil
}
