package models

import (
	"strings"
	"time"
)

type User struct {
	ID         string     `json:"id" dynamodbav:"id"`
	Email      string     `json:"email" dynamodbav:"email"`
	Verified   bool       `json:"verified" dynamodbav:"verified"`
	VerifiedAt *time.Time `json:"verified_at,omitempty" dynamodbav:"verified_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at" dynamodbav:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at" dynamodbav:"updated_at"`
}

func (u *User) GetPK() string {
	return "USER!" + NormalizeEmail(u.Email)
}

func (u *User) GetSK() string {
	return "METADATA"
}

// NormalizeEmail is the canonical form used for storage keys and comparisons.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
