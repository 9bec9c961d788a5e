package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string // Default: "storefront:"
}

// RedisStore keeps one profile's keys in Redis under "<prefix><profile>:<key>"
// and announces changes on the "<prefix><profile>:changes" channel, so tabs
// hosted by different processes still see each other's writes.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStoreWithClient creates a store over an existing client.
// The client is not closed by Close.
func NewRedisStoreWithClient(client *redis.Client, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) key(k string) string { return s.prefix + k }

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := s.client.Get(ctx, s.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}
	return data, nil
}

func (s *RedisStore) Set(ctx context.Context, key string, value []byte) error {
	if err := s.client.Set(ctx, s.key(key), value, 0).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.key(key)).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) Publish(ctx context.Context, change Change) error {
	payload, err := json.Marshal(change)
	if err != nil {
		return fmt.Errorf("encoding change: %w", err)
	}
	if err := s.client.Publish(ctx, s.key(changesChannel), payload).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

// Subscribe listens on the profile channel until cancel is called.
// Malformed messages are dropped.
func (s *RedisStore) Subscribe(ctx context.Context, fn func(Change)) (func(), error) {
	pubsub := s.client.Subscribe(ctx, s.key(changesChannel))
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("redis subscribe: %w", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for msg := range pubsub.Channel() {
			var change Change
			if err := json.Unmarshal([]byte(msg.Payload), &change); err != nil {
				continue
			}
			fn(change)
		}
	}()

	return func() {
		pubsub.Close()
		<-done
	}, nil
}

// Close is a no-op; the client belongs to whoever created it.
func (s *RedisStore) Close() error { return nil }

// RedisOpener shares one client across all profile stores.
type RedisOpener struct {
	client *redis.Client
	prefix string
}

// NewRedisOpener connects to Redis and verifies the connection.
func NewRedisOpener(cfg RedisConfig) (*RedisOpener, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewRedisOpenerWithClient(client, cfg.KeyPrefix), nil
}

// NewRedisOpenerWithClient creates an opener with an existing client.
func NewRedisOpenerWithClient(client *redis.Client, prefix string) *RedisOpener {
	if prefix == "" {
		prefix = "storefront:"
	}
	return &RedisOpener{client: client, prefix: prefix}
}

func (o *RedisOpener) Open(_ context.Context, profile string) (Store, error) {
	if profile == "" {
		return nil, errors.New("profile id required")
	}
	return NewRedisStoreWithClient(o.client, o.prefix+profile+":"), nil
}

func (o *RedisOpener) Close() error {
	return o.client.Close()
}
