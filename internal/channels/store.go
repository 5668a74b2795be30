// Package channels persists which mode each chat channel runs pugs in.
package channels

import (
	"context"
	"errors"
	"sync"

	"github.com/redis/go-redis/v9"
)

const modesKey = "pug:channel_modes"

var ErrNotConfigured = errors.New("channel not configured")

type Store interface {
	GetMode(ctx context.Context, channelID string) (string, error)
	SetMode(ctx context.Context, channelID, mode string) error
	List(ctx context.Context) (map[string]string, error)
}

type RedisStore struct {
	redis *redis.Client
}

func NewRedisStore(redisClient *redis.Client) *RedisStore {
	return &RedisStore{redis: redisClient}
}

func (s *RedisStore) GetMode(ctx context.Context, channelID string) (string, error) {
	mode, err := s.redis.HGet(ctx, modesKey, channelID).Result()
	if err == redis.Nil {
		return "", ErrNotConfigured
	}
	if err != nil {
		return "", err
	}
	return mode, nil
}

func (s *RedisStore) SetMode(ctx context.Context, channelID, mode string) error {
	return s.redis.HSet(ctx, modesKey, channelID, mode).Err()
}

func (s *RedisStore) List(ctx context.Context) (map[string]string, error) {
	return s.redis.HGetAll(ctx, modesKey).Result()
}

// MemoryStore is used when no redis is configured; modes are lost on restart.
type MemoryStore struct {
	mu    sync.RWMutex
	modes map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{modes: make(map[string]string)}
}

func (s *MemoryStore) GetMode(_ context.Context, channelID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	mode, ok := s.modes[channelID]
	if !ok {
		return "", ErrNotConfigured
	}
	return mode, nil
}

func (s *MemoryStore) SetMode(_ context.Context, channelID, mode string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.modes[channelID] = mode
	return nil
}

func (s *MemoryStore) List(_ context.Context) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]string, len(s.modes))
	for k, v := range s.modes {
		out[k] = v
	}
	return out, nil
}
