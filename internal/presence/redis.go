package presence

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	fieldOnline   = "online"
	fieldLastSeen = "last_seen"
)

// setOfflineScript updates last_seen only when the new value is later.
var setOfflineScript = redis.NewScript(`
local current = tonumber(redis.call("HGET", KEYS[1], "last_seen") or "0")
local incoming = tonumber(ARGV[1])
if incoming > current then
  redis.call("HSET", KEYS[1], "last_seen", ARGV[1])
end
redis.call("HSET", KEYS[1], "online", "0")
return 1
`)

// RedisStore keeps presence in one hash per user.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(ctx context.Context, redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return &RedisStore{client: client}, nil
}

func NewRedisStoreFromClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// Client returns the underlying connection so other components can share it.
func (s *RedisStore) Client() *redis.Client {
	return s.client
}

func presenceKey(userId string) string {
	return fmt.Sprintf("presence:%s", userId)
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) SetOnline(ctx context.Context, userId string) error {
	return s.client.HSet(ctx, presenceKey(userId), fieldOnline, "1").Err()
}

func (s *RedisStore) SetOffline(ctx context.Context, userId string, lastSeen time.Time) error {
	return setOfflineScript.Run(ctx, s.client, []string{presenceKey(userId)}, lastSeen.UnixMilli()).Err()
}

func (s *RedisStore) Get(ctx context.Context, userId string) (Status, error) {
	vals, err := s.client.HGetAll(ctx, presenceKey(userId)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return Status{}, err
	}

	st := Status{UserId: userId, IsOnline: vals[fieldOnline] == "1"}
	if raw, ok := vals[fieldLastSeen]; ok {
		ms, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return Status{}, fmt.Errorf("parse last seen: %w", err)
		}
		st.LastSeen = time.UnixMilli(ms).UTC()
	}

	return st, nil
}
