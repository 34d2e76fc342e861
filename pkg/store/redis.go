package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/NicolasHaas/gorelay/pkg/model"
)

const defaultRedisKey = "gorelay:bans"

var errRedisUnavailable = errors.New("store: redis unavailable")

// RedisStore keeps bans in a single Redis hash: name -> JSON record.
type RedisStore struct {
	client *redis.Client
	key    string
}

// OpenRedis parses a redis:// URL, connects and pings the server.
func OpenRedis(ctx context.Context, url string) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("store: parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: %v", errRedisUnavailable, err)
	}
	return NewRedis(client, defaultRedisKey), nil
}

// NewRedis wraps an existing client. key names the hash holding the bans.
func NewRedis(client *redis.Client, key string) *RedisStore {
	if key == "" {
		key = defaultRedisKey
	}
	return &RedisStore{client: client, key: key}
}

func (s *RedisStore) IsBanned(ctx context.Context, name string) (bool, error) {
	ok, err := s.client.HExists(ctx, s.key, name).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", errRedisUnavailable, err)
	}
	return ok, nil
}

// Add stores ban unless the name is already present.
func (s *RedisStore) Add(ctx context.Context, ban model.Ban) error {
	if err := validateBan(ban); err != nil {
		return err
	}
	if ban.CreatedAt.IsZero() {
		ban.CreatedAt = time.Now().UTC()
	}
	encoded, err := json.Marshal(ban)
	if err != nil {
		return fmt.Errorf("store: encode ban: %w", err)
	}
	if err := s.client.HSetNX(ctx, s.key, ban.Name, encoded).Err(); err != nil {
		return fmt.Errorf("%w: %v", errRedisUnavailable, err)
	}
	return nil
}

func (s *RedisStore) List(ctx context.Context) ([]model.Ban, error) {
	all, err := s.client.HGetAll(ctx, s.key).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errRedisUnavailable, err)
	}
	bans := make([]model.Ban, 0, len(all))
	for name, raw := range all {
		var b model.Ban
		if err := json.Unmarshal([]byte(raw), &b); err != nil {
			return nil, fmt.Errorf("store: decode ban %q: %w", name, err)
		}
		b.Name = name
		bans = append(bans, b)
	}
	return sortBans(bans), nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
