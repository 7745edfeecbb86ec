package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// SessionStorage is a per-browser-session key/value store. Each session is a
// Redis hash whose TTL slides forward on every write.
type SessionStorage struct {
	client *redis.Client
	ttl    time.Duration
	logger *logrus.Logger
}

func NewSessionStorage(client *redis.Client, ttl time.Duration, logger *logrus.Logger) *SessionStorage {
	return &SessionStorage{
		client: client,
		ttl:    ttl,
		logger: logger,
	}
}

func sessionKey(sessionID string) string {
	return fmt.Sprintf("session:%s", sessionID)
}

func (s *SessionStorage) SetItem(ctx context.Context, sessionID, key, value string) error {
	hkey := sessionKey(sessionID)

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, hkey, key, value)
	pipe.Expire(ctx, hkey, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		s.logger.WithError(err).Error("Failed to write session item")
		return fmt.Errorf("failed to set session item: %w", err)
	}
	return nil
}

// GetItem returns "", false when the key is not set for the session.
func (s *SessionStorage) GetItem(ctx context.Context, sessionID, key string) (string, bool, error) {
	value, err := s.client.HGet(ctx, sessionKey(sessionID), key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get session item: %w", err)
	}
	return value, true, nil
}

// RemoveItem drops keys from the session, leaving the rest of it intact.
func (s *SessionStorage) RemoveItem(ctx context.Context, sessionID string, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := s.client.HDel(ctx, sessionKey(sessionID), keys...).Err(); err != nil {
		s.logger.WithError(err).Error("Failed to remove session item")
		return fmt.Errorf("failed to remove session item: %w", err)
	}
	return nil
}
