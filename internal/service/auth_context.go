package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/vendorportal/vendorportal/internal/models"
)

const currentUserKey = "currentUser"

type userVerifier interface {
	MarkVerified(ctx context.Context, user *models.User) error
}

// AuthContextService holds the current user of a browser session and issues
// the bearer token other parts of the portal authenticate with.
type AuthContextService struct {
	users    userVerifier
	sessions *SessionStorage
	jwt      *JWTService
	logger   *logrus.Logger
}

func NewAuthContextService(users userVerifier, sessions *SessionStorage, jwt *JWTService, logger *logrus.Logger) *AuthContextService {
	return &AuthContextService{
		users:    users,
		sessions: sessions,
		jwt:      jwt,
		logger:   logger,
	}
}

// Publish makes user the current user of sessionID.
func (s *AuthContextService) Publish(ctx context.Context, sessionID string, user *models.User) (*models.TokenPair, error) {
	if user.Verified {
		if err := s.users.MarkVerified(ctx, user); err != nil {
			return nil, err
		}
	}

	userJSON, err := json.Marshal(user)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal user: %w", err)
	}

	if err := s.sessions.SetItem(ctx, sessionID, currentUserKey, string(userJSON)); err != nil {
		return nil, err
	}

	tokens, err := s.jwt.GenerateAccessToken(user)
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"email":   user.Email,
		"user_id": user.ID,
	}).Info("User signed in")

	return tokens, nil
}

// SignOut forgets the current user of sessionID. Tokens already issued stay
// valid until they expire.
func (s *AuthContextService) SignOut(ctx context.Context, sessionID string) error {
	if err := s.sessions.RemoveItem(ctx, sessionID, currentUserKey); err != nil {
		return err
	}
	s.logger.WithField("session_id", sessionID).Info("User signed out")
	return nil
}

// Current returns the user published for sessionID, or nil when nobody is signed in.
func (s *AuthContextService) Current(ctx context.Context, sessionID string) (*models.User, error) {
	userJSON, ok, err := s.sessions.GetItem(ctx, sessionID, currentUserKey)
	if err != nil || !ok {
		return nil, err
	}

	var user models.User
	if err := json.Unmarshal([]byte(userJSON), &user); err != nil {
		return nil, fmt.Errorf("failed to unmarshal user: %w", err)
	}
	return &user, nil
}
