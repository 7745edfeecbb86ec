package service

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/vendorportal/vendorportal/internal/config"
	"github.com/vendorportal/vendorportal/internal/models"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run failed: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = rdb.Close()
		mr.Close()
	})
	return mr, rdb
}

func newTestJWTService(t *testing.T) *JWTService {
	t.Helper()

	svc, err := NewJWTService(&config.JWTConfig{SecretKey: testSecret, AccessExpiry: time.Hour}, testLogger())
	if err != nil {
		t.Fatalf("NewJWTService: %v", err)
	}
	return svc
}

type sentOTP struct {
	email string
	otp   string
}

type recordingMailer struct {
	sent []sentOTP
	err  error
}

func (m *recordingMailer) SendOTP(ctx context.Context, email, otp string, validFor time.Duration) error {
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, sentOTP{email: email, otp: otp})
	return nil
}

type fakeUserVerifier struct {
	marked []string
	err    error
}

func (f *fakeUserVerifier) MarkVerified(ctx context.Context, user *models.User) error {
	if f.err != nil {
		return f.err
	}
	f.marked = append(f.marked, user.Email)
	return nil
}
