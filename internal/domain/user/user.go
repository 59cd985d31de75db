package user

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

type Role string

const (
	RoleUser    Role = "user"
	RoleManager Role = "manager"
)

func (r Role) IsValid() bool {
	switch r {
	case RoleUser, RoleManager:
		return true
	default:
		return false
	}
}

// Purposes for one-time verification codes. A code issued for one purpose
// can never be consumed for the other.
const (
	CodePurposeEmailVerify   = "email_verify"
	CodePurposePasswordReset = "password_reset"
)

type User struct {
	ID           string    `json:"id"`
	FirstName    string    `json:"firstName"`
	LastName     string    `json:"lastName"`
	Email        string    `json:"email"`
	PasswordHash *string   `json:"-"` // nil for OAuth-only accounts, never exposed in JSON
	Role         Role      `json:"role"`
	IsVerified   bool      `json:"isVerified"`
	IsBlocked    bool      `json:"isBlocked"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

var ErrNotFound = errors.New("user not found")
var ErrEmailTaken = errors.New("email already in use")
var ErrInvalidCode = errors.New("invalid or expired verification code")

type RegisterRequest struct {
	FirstName string `json:"firstName" binding:"required,min=2,max=80"`
	LastName  string `json:"lastName" binding:"required,min=2,max=80"`
	Email     string `json:"email" binding:"required,email"`
	Password  string `json:"password" binding:"required,min=8"`
}

type UpdateProfileRequest struct {
	FirstName *string `json:"firstName" binding:"omitempty,min=2,max=80"`
	LastName  *string `json:"lastName" binding:"omitempty,min=2,max=80"`
}

// NewFromRegisterRequest builds an unverified User from the registration DTO.
// The password must already be hashed by the caller.
func NewFromRegisterRequest(req RegisterRequest, passwordHash string, role Role) User {
	now := time.Now().UTC()

	return User{
		ID:           uuid.NewString(),
		FirstName:    req.FirstName,
		LastName:     req.LastName,
		Email:        req.Email,
		PasswordHash: &passwordHash,
		Role:         role,
		IsVerified:   false,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// NewFromOAuthProfile builds a passwordless, pre-verified User for a
// federated identity.
func NewFromOAuthProfile(email, firstName, lastName string) User {
	now := time.Now().UTC()

	return User{
		ID:         uuid.NewString(),
		FirstName:  firstName,
		LastName:   lastName,
		Email:      email,
		Role:       RoleUser,
		IsVerified: true,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}
