// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package auth

import (
	"context"
	"regexp"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Email validation constraints.
const (
	// MaxEmailLength follows the SMTP path limit (RFC 5321).
	MaxEmailLength = 254

	// MinPasswordLength is the minimum accepted password length at signup.
	MinPasswordLength = 6
)

// emailRegex matches a local part, an @, and a dotted domain. It is a
// deliverability sanity check, not full RFC 5322 validation.
var emailRegex = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

// User represents an account identified by email.
type User struct {
	ID           ulid.ULID
	Email        string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// NewUser creates a validated User instance. The password hash must come
// from a PasswordHasher; plaintext never reaches this constructor.
func NewUser(email, passwordHash string) (*User, error) {
	if err := ValidateEmail(email); err != nil {
		return nil, err
	}
	if passwordHash == "" {
		return nil, oops.Code("USER_INVALID_HASH").Errorf("password hash cannot be empty")
	}

	now := time.Now().UTC()
	return &User{
		ID:           ulid.Make(),
		Email:        email,
		PasswordHash: passwordHash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// ValidateEmail validates an email address against rules:
// - non-empty, at most MaxEmailLength bytes
// - one local part, one @, a dotted domain
func ValidateEmail(email string) error {
	if email == "" {
		return oops.Code("USER_INVALID_EMAIL").Wrapf(ErrInvalidEmail, "email cannot be empty")
	}
	if len(email) > MaxEmailLength {
		return oops.Code("USER_INVALID_EMAIL").
			With("max", MaxEmailLength).
			Wrapf(ErrInvalidEmail, "email must be at most %d characters", MaxEmailLength)
	}
	if !emailRegex.MatchString(email) {
		return oops.Code("USER_INVALID_EMAIL").Wrapf(ErrInvalidEmail, "email address is malformed")
	}
	return nil
}

// ValidatePassword validates a plaintext password at signup time.
func ValidatePassword(password string) error {
	if len(password) < MinPasswordLength {
		return oops.Code("AUTH_PASSWORD_TOO_SHORT").
			With("min", MinPasswordLength).
			Wrapf(ErrWeakPassword, "password must be at least %d characters", MinPasswordLength)
	}
	return nil
}

// UserRepository manages user persistence.
//
// Email uniqueness is enforced by the implementation: concurrent Create
// calls with the same email must yield exactly one success, the rest
// failing with ErrDuplicateEmail.
type UserRepository interface {
	// Create stores a new user. Returns ErrDuplicateEmail if the email is
	// already on file (case-insensitive).
	Create(ctx context.Context, user *User) error

	// GetByID retrieves a user by ID.
	GetByID(ctx context.Context, id ulid.ULID) (*User, error)

	// GetByEmail retrieves a user by email (case-insensitive).
	// Returns ErrNotFound if no user has the given email.
	GetByEmail(ctx context.Context, email string) (*User, error)

	// UpdatePassword updates only the password hash for a user. Used for
	// transparent hash upgrades on login.
	UpdatePassword(ctx context.Context, id ulid.ULID, passwordHash string) error
}
