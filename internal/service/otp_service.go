package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/vendorportal/vendorportal/internal/config"
	"github.com/vendorportal/vendorportal/internal/models"
	"github.com/vendorportal/vendorportal/internal/repository"
	"golang.org/x/crypto/bcrypt"
)

// OTPStore persists hashed OTP records by email address.
type OTPStore interface {
	Save(ctx context.Context, email string, otpData models.OTPData) error
	Get(ctx context.Context, email string) (*models.OTPData, error)
	Delete(ctx context.Context, email string) error
}

type OTPService struct {
	store  OTPStore
	mailer Mailer
	cfg    *config.OTPConfig
	logger *logrus.Logger
	now    func() time.Time
	cost   int
}

func NewOTPService(store OTPStore, mailer Mailer, cfg *config.OTPConfig, logger *logrus.Logger) *OTPService {
	return &OTPService{
		store:  store,
		mailer: mailer,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
		cost:   bcrypt.DefaultCost,
	}
}

// GenerateOTP issues a fresh code for email, replacing any outstanding one,
// and hands it to the mailer.
func (s *OTPService) GenerateOTP(ctx context.Context, email string) (string, error) {
	email = models.NormalizeEmail(email)

	otp, err := s.generateRandomOTP(s.cfg.Length)
	if err != nil {
		return "", fmt.Errorf("failed to generate OTP: %w", err)
	}

	hashedOTP, err := bcrypt.GenerateFromPassword([]byte(otp), s.cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash OTP: %w", err)
	}

	now := s.now()
	otpData := models.OTPData{
		OTPHash:   string(hashedOTP),
		Email:     email,
		Attempts:  0,
		CreatedAt: now,
		ExpiresAt: now.Add(s.cfg.Expiry),
	}

	if err := s.store.Save(ctx, email, otpData); err != nil {
		return "", err
	}

	if err := s.mailer.SendOTP(ctx, email, otp, s.cfg.Expiry); err != nil {
		s.logger.WithError(err).WithField("email", email).Error("Failed to deliver OTP")
		return "", fmt.Errorf("failed to deliver OTP: %w", err)
	}

	return otp, nil
}

// VerifyOTP reports whether otp is currently valid for email. A missing,
// expired, exhausted or mismatched code yields false with a nil error;
// errors are reserved for storage failures.
func (s *OTPService) VerifyOTP(ctx context.Context, email, otp string) (bool, error) {
	email = models.NormalizeEmail(email)

	otpData, err := s.store.Get(ctx, email)
	if errors.Is(err, repository.ErrOTPNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if otpData.Expired(s.now()) {
		if err := s.store.Delete(ctx, email); err != nil {
			s.logger.WithError(err).Warn("Failed to delete expired OTP")
		}
		return false, nil
	}

	if otpData.Attempts >= s.cfg.MaxAttempts {
		if err := s.store.Delete(ctx, email); err != nil {
			s.logger.WithError(err).Warn("Failed to delete exhausted OTP")
		}
		return false, nil
	}

	if err := bcrypt.CompareHashAndPassword([]byte(otpData.OTPHash), []byte(otp)); err != nil {
		otpData.Attempts++
		if err := s.store.Save(ctx, email, *otpData); err != nil {
			return false, err
		}
		s.logger.WithFields(logrus.Fields{
			"email":    email,
			"attempts": otpData.Attempts,
		}).Info("OTP mismatch")
		return false, nil
	}

	if err := s.store.Delete(ctx, email); err != nil {
		return false, err
	}
	return true, nil
}

func (s *OTPService) generateRandomOTP(length int) (string, error) {
	otp := make([]byte, 0, length)
	for i := 0; i < length; i++ {
		num, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			return "", err
		}
		otp = append(otp, byte('0'+num.Int64()))
	}
	return string(otp), nil
}
