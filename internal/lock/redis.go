package lock

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	clierr "github.com/ggonzalez94/vaultflow/internal/errors"
)

// releaseScript deletes the key only while it still holds our token, so an
// expired-and-retaken lock is never released by the old holder.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// Redis shares flow locks between hosts using SET NX PX.
type Redis struct {
	client *redis.Client
	prefix string
}

func NewRedis(client *redis.Client, prefix string) *Redis {
	return &Redis{client: client, prefix: prefix}
}

// DialRedis parses a redis:// URL and pings the server.
func DialRedis(ctx context.Context, rawURL, prefix string) (*Redis, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeUsage, "parse redis url", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, clierr.Wrap(clierr.CodeUnavailable, "connect to redis", err)
	}
	return NewRedis(client, prefix), nil
}

func (r *Redis) Close() error { return r.client.Close() }

func (r *Redis) TryLock(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, error) {
	if ttl <= 0 {
		return nil, clierr.New(clierr.CodeUsage, "redis lock requires a positive ttl")
	}
	lockKey := r.prefix + key
	token := uuid.NewString()
	ok, err := r.client.SetNX(ctx, lockKey, token, ttl).Result()
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeUnavailable, "acquire flow lock", err)
	}
	if !ok {
		return nil, busy(key)
	}
	return func(ctx context.Context) error {
		if err := releaseScript.Run(ctx, r.client, []string{lockKey}, token).Err(); err != nil {
			return clierr.Wrap(clierr.CodeUnavailable, "release flow lock", err)
		}
		return nil
	}, nil
}
