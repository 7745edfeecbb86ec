package models

import "time"

type OTPData struct {
	OTPHash   string    `json:"otp_hash" dynamodbav:"OTPHash"`
	Email     string    `json:"email" dynamodbav:"Email"`
	Attempts  int       `json:"attempts" dynamodbav:"Attempts"`
	CreatedAt time.Time `json:"created_at" dynamodbav:"CreatedAt"`
	ExpiresAt time.Time `json:"expires_at" dynamodbav:"ExpiresAt"`
}

func (d *OTPData) Expired(now time.Time) bool {
	return now.After(d.ExpiresAt)
}
