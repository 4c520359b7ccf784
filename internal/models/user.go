package models

import (
	"strings"
	"time"

	"campuspay/internal/authz"
)

type User struct {
	ID           string     `json:"id" bson:"_id"`
	Name         string     `json:"name" bson:"name"`
	Email        string     `json:"email" bson:"email"`
	Mobile       string     `json:"mobile" bson:"mobile"`
	Role         authz.Role `json:"role" bson:"role"`
	Course       string     `json:"course,omitempty" bson:"course,omitempty"`
	PasswordHash string     `json:"-" bson:"password_hash"` // не отдаём наружу
	CreatedAt    time.Time  `json:"created_at" bson:"created_at"`
}

// Public returns a copy safe to hand to clients.
func (u *User) Public() *User {
	if u == nil {
		return nil
	}
	cp := *u
	cp.PasswordHash = ""
	return &cp
}

// NormalizeEmail is the single place where emails are case-folded; every
// store keys records by its result.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

type LoginRequest struct {
	Email    string     `json:"email" binding:"required"`
	Password string     `json:"password" binding:"required"`
	Role     authz.Role `json:"role"`
}

type SignupRequest struct {
	Name     string     `json:"name"`
	Email    string     `json:"email"`
	Mobile   string     `json:"mobile"`
	Course   string     `json:"course"`
	Password string     `json:"password"`
	Role     authz.Role `json:"role"`
}
