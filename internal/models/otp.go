package models

import "time"

// OTPChallenge is the single live signup code for an identifier. Issuing a new
// one replaces the old row, so IssuedAt, Verified and Attempts always describe
// the most recent code.
type OTPChallenge struct {
	Identifier string    `json:"identifier" bson:"_id" db:"identifier"`
	Code       string    `json:"-" bson:"code" db:"code"`
	IssuedAt   time.Time `json:"issued_at" bson:"issued_at" db:"issued_at"`
	Verified   bool      `json:"verified" bson:"verified" db:"verified"`
	Attempts   int       `json:"attempts" bson:"attempts" db:"attempts"`
}

// ExpiredAt reports whether the challenge is at least ttl old at now.
func (c *OTPChallenge) ExpiredAt(now time.Time, ttl time.Duration) bool {
	return now.Sub(c.IssuedAt) >= ttl
}

type OTPRequest struct {
	Email string `json:"email" binding:"required"`
}

type OTPVerifyRequest struct {
	Email string `json:"email" binding:"required"`
	OTP   string `json:"otp" binding:"required"`
}
