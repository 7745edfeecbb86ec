package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/vendorportal/vendorportal/internal/models"
)

// OTPCache keeps OTP records in Redis, expiring them with the key TTL.
type OTPCache struct {
	client *redis.Client
	logger *logrus.Logger
}

func NewOTPCache(client *redis.Client, logger *logrus.Logger) *OTPCache {
	return &OTPCache{
		client: client,
		logger: logger,
	}
}

func otpCacheKey(email string) string {
	return fmt.Sprintf("otp:%s", models.NormalizeEmail(email))
}

func (c *OTPCache) Save(ctx context.Context, email string, otpData models.OTPData) error {
	dataJSON, err := json.Marshal(otpData)
	if err != nil {
		return fmt.Errorf("failed to marshal OTP data: %w", err)
	}

	ttl := time.Until(otpData.ExpiresAt)
	if ttl <= 0 {
		return fmt.Errorf("failed to store OTP: already expired")
	}

	if err := c.client.Set(ctx, otpCacheKey(email), dataJSON, ttl).Err(); err != nil {
		c.logger.WithError(err).Error("Failed to store OTP in Redis")
		return fmt.Errorf("failed to store OTP: %w", err)
	}

	return nil
}

func (c *OTPCache) Get(ctx context.Context, email string) (*models.OTPData, error) {
	dataJSON, err := c.client.Get(ctx, otpCacheKey(email)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrOTPNotFound
	}
	if err != nil {
		c.logger.WithError(err).Error("Failed to get OTP from Redis")
		return nil, fmt.Errorf("failed to get OTP: %w", err)
	}

	var otpData models.OTPData
	if err := json.Unmarshal([]byte(dataJSON), &otpData); err != nil {
		return nil, fmt.Errorf("failed to unmarshal OTP data: %w", err)
	}

	return &otpData, nil
}

func (c *OTPCache) Delete(ctx context.Context, email string) error {
	if err := c.client.Del(ctx, otpCacheKey(email)).Err(); err != nil {
		return fmt.Errorf("failed to delete OTP: %w", err)
	}
	return nil
}
