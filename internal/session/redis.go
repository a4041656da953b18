package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "emotibot:session:"

// RedisStore keeps one capped list per session so windows survive restarts
// and are shared between instances.
type RedisStore struct {
	client *redis.Client
	window int
	ttl    time.Duration
}

func NewRedisStore(ctx context.Context, addr, password string, window int, ttl time.Duration) (*RedisStore, error) {
	if window <= 0 {
		return nil, fmt.Errorf("session window must be positive, got %d", window)
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return &RedisStore{client: client, window: window, ttl: ttl}, nil
}

func (s *RedisStore) Append(ctx context.Context, sessionID string, turns ...Turn) error {
	if len(turns) == 0 {
		return nil
	}

	vals := make([]any, len(turns))
	for i, t := range turns {
		if t.At.IsZero() {
			t.At = time.Now()
		}
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Errorf("marshal turn: %w", err)
		}
		vals[i] = b
	}

	key := keyPrefix + sessionID
	_, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.RPush(ctx, key, vals...)
		p.LTrim(ctx, key, int64(-s.window), -1)
		if s.ttl > 0 {
			p.Expire(ctx, key, s.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("append session: %w", err)
	}
	return nil
}

func (s *RedisStore) Recent(ctx context.Context, sessionID string, n int) ([]Turn, error) {
	start := int64(0)
	if n > 0 {
		start = int64(-n)
	}

	raw, err := s.client.LRange(ctx, keyPrefix+sessionID, start, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("read session: %w", err)
	}

	out := make([]Turn, 0, len(raw))
	for _, r := range raw {
		var t Turn
		if err := json.Unmarshal([]byte(r), &t); err != nil {
			return nil, fmt.Errorf("unmarshal turn: %w", err)
		}
		out = append(out, t)
	}
	return out, nil
}

func (s *RedisStore) Clear(ctx context.Context, sessionID string) error {
	return s.client.Del(ctx, keyPrefix+sessionID).Err()
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
