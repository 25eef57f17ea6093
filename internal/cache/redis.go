package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Domenick1991/roombooking/config"
	"github.com/Domenick1991/roombooking/internal/domain"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the lock only if it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

const lockRetryInterval = 25 * time.Millisecond

type RedisCache struct {
	client     *redis.Client
	roomsTTL   time.Duration
	weatherTTL time.Duration
}

func NewRedisCache(cfg config.RedisConfig, roomsTTL, weatherTTL time.Duration) *RedisCache {
	return &RedisCache{
		client:     redis.NewClient(&redis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB}),
		roomsTTL:   roomsTTL,
		weatherTTL: weatherTTL,
	}
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}

// GetRooms returns nil, nil on a miss.
func (c *RedisCache) GetRooms(ctx context.Context) ([]domain.Room, error) {
	data, err := c.client.Get(ctx, roomsKey()).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}

	var rooms []domain.Room
	if err := json.Unmarshal(data, &rooms); err != nil {
		return nil, err
	}
	return rooms, nil
}

func (c *RedisCache) SetRooms(ctx context.Context, rooms []domain.Room) error {
	payload, err := json.Marshal(rooms)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, roomsKey(), payload, c.roomsTTL).Err()
}

// GetTemperature reports ok=false on a miss.
func (c *RedisCache) GetTemperature(ctx context.Context, location, date string) (float64, bool, error) {
	raw, err := c.client.Get(ctx, weatherKey(location, date)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, false, nil
		}
		return 0, false, err
	}
	temp, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false, fmt.Errorf("corrupt weather cache entry: %w", err)
	}
	return temp, true, nil
}

func (c *RedisCache) SetTemperature(ctx context.Context, location, date string, celsius float64) error {
	return c.client.Set(ctx, weatherKey(location, date), strconv.FormatFloat(celsius, 'f', -1, 64), c.weatherTTL).Err()
}

// Lock blocks until the key is acquired or ctx is done. The lock expires after ttl
// even if the holder never releases it.
func (c *RedisCache) Lock(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, error) {
	token := uuid.NewString()
	redisKey := lockKey(key)

	for {
		ok, err := c.client.SetNX(ctx, redisKey, token, ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("%w: acquire lock %s: %v", domain.ErrTransientDependency, key, err)
		}
		if ok {
			return func(ctx context.Context) error {
				return releaseScript.Run(ctx, c.client, []string{redisKey}, token).Err()
			}, nil
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: lock %s busy: %v", domain.ErrTransientDependency, key, ctx.Err())
		case <-time.After(lockRetryInterval):
		}
	}
}

func roomsKey() string {
	return "cache:rooms"
}

func weatherKey(location, date string) string {
	return fmt.Sprintf("weather:%s_%s", strings.ToLower(location), date)
}

func lockKey(key string) string {
	return "lock:" + key
}
