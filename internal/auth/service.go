// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package auth

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/samber/oops"
)

// Service provides signup, login, logout, and session validation.
type Service struct {
	users      UserRepository
	sessions   SessionRepository
	hasher     PasswordHasher
	sessionTTL time.Duration
	logger     *slog.Logger

	// dummyHash is verified against when the email is unknown, so lookup
	// misses take as long as password mismatches (no username enumeration
	// through timing).
	dummyHash string
}

// NewService creates a new Service. A non-positive sessionTTL falls back
// to DefaultSessionTTL.
func NewService(users UserRepository, sessions SessionRepository, hasher PasswordHasher, sessionTTL time.Duration) (*Service, error) {
	return NewServiceWithLogger(users, sessions, hasher, sessionTTL, slog.Default())
}

// NewServiceWithLogger creates a new Service with an explicit logger.
func NewServiceWithLogger(users UserRepository, sessions SessionRepository, hasher PasswordHasher, sessionTTL time.Duration, logger *slog.Logger) (*Service, error) {
	if users == nil {
		return nil, oops.Code("AUTH_INVALID_DEPENDENCY").Errorf("users repository is required")
	}
	if sessions == nil {
		return nil, oops.Code("AUTH_INVALID_DEPENDENCY").Errorf("sessions repository is required")
	}
	if hasher == nil {
		return nil, oops.Code("AUTH_INVALID_DEPENDENCY").Errorf("password hasher is required")
	}
	if logger == nil {
		return nil, oops.Code("AUTH_INVALID_DEPENDENCY").Errorf("logger is required")
	}
	if sessionTTL <= 0 {
		sessionTTL = DefaultSessionTTL
	}

	// The dummy hash is computed with the live hasher so its format and
	// cost match real credentials.
	dummyHash, err := hasher.Hash("gatehouse-timing-equalizer")
	if err != nil {
		return nil, oops.Code("AUTH_INVALID_DEPENDENCY").
			With("operation", "compute dummy hash").
			Wrap(err)
	}

	return &Service{
		users:      users,
		sessions:   sessions,
		hasher:     hasher,
		sessionTTL: sessionTTL,
		logger:     logger,
		dummyHash:  dummyHash,
	}, nil
}

// Signup validates the credentials, hashes the password, and creates the
// user. ErrDuplicateEmail surfaces unchanged for the signup form to
// report; any other persistence failure is a server fault.
func (s *Service) Signup(ctx context.Context, email, password string) (*User, error) {
	if err := ValidateEmail(email); err != nil {
		return nil, err
	}
	if err := ValidatePassword(password); err != nil {
		return nil, err
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, oops.Code("AUTH_SIGNUP_FAILED").
			With("operation", "hash password").
			Wrap(err)
	}

	user, err := NewUser(email, hash)
	if err != nil {
		return nil, err
	}

	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, ErrDuplicateEmail) {
			return nil, oops.Code("USER_DUPLICATE_EMAIL").Wrap(err)
		}
		return nil, oops.Code("AUTH_SIGNUP_FAILED").
			With("operation", "create user").
			Wrap(err)
	}

	s.logger.Info("user signed up", "user_id", user.ID.String())
	return user, nil
}

// Login authenticates a user and creates a session.
// Returns the session, the plaintext token, and any error. Unknown email
// and wrong password both come back as ErrInvalidCredentials; only a
// store failure is a distinct server fault.
func (s *Service) Login(ctx context.Context, email, password, userAgent, ipAddress string) (*Session, string, error) {
	user, lookupErr := s.users.GetByEmail(ctx, email)

	// Pick the hash to verify against: the real one, or the dummy so the
	// miss path still pays the hash cost.
	targetHash := s.dummyHash
	userExists := false

	if lookupErr != nil {
		if !errors.Is(lookupErr, ErrNotFound) {
			return nil, "", oops.Code("AUTH_LOGIN_FAILED").
				With("operation", "get user by email").
				Wrap(lookupErr)
		}
	} else {
		targetHash = user.PasswordHash
		userExists = true
	}

	valid, verifyErr := s.hasher.Verify(password, targetHash)
	if verifyErr != nil {
		return nil, "", oops.Code("AUTH_LOGIN_FAILED").
			With("operation", "verify password").
			Wrap(verifyErr)
	}

	if !userExists || !valid {
		return nil, "", oops.Code("AUTH_INVALID_CREDENTIALS").Wrap(ErrInvalidCredentials)
	}

	// Rehash transparently when the stored hash predates the configured
	// algorithm or cost. Login succeeds even if the update fails.
	if s.hasher.NeedsUpgrade(user.PasswordHash) {
		if newHash, hashErr := s.hasher.Hash(password); hashErr == nil {
			if updateErr := s.users.UpdatePassword(ctx, user.ID, newHash); updateErr != nil {
				s.logger.Warn("password hash upgrade failed",
					"user_id", user.ID.String(),
					"error", updateErr)
			}
		}
	}

	token, tokenHash, err := GenerateSessionToken()
	if err != nil {
		return nil, "", oops.Code("AUTH_LOGIN_FAILED").
			With("operation", "generate session token").
			Wrap(err)
	}

	csrfToken, err := GenerateCSRFToken()
	if err != nil {
		return nil, "", oops.Code("AUTH_LOGIN_FAILED").
			With("operation", "generate csrf token").
			Wrap(err)
	}

	expiresAt := time.Now().Add(s.sessionTTL)
	session, err := NewSession(user.ID, tokenHash, csrfToken, userAgent, ipAddress, expiresAt)
	if err != nil {
		return nil, "", oops.Code("AUTH_LOGIN_FAILED").
			With("operation", "create session").
			Wrap(err)
	}

	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, "", oops.Code("AUTH_SESSION_CREATE_FAILED").
			With("operation", "persist session").
			Wrap(err)
	}

	s.logger.Info("user logged in", "user_id", user.ID.String(), "session_id", session.ID.String())
	return session, token, nil
}

// Logout invalidates the session holding the given token. An unknown or
// already-invalidated token returns a SESSION_NOT_FOUND error wrapping
// ErrNotFound; the HTTP boundary treats that as an idempotent success.
func (s *Service) Logout(ctx context.Context, token string) error {
	if token == "" {
		return oops.Code("SESSION_TOKEN_EMPTY").Errorf("session token cannot be empty")
	}

	tokenHash := HashSessionToken(token)
	if err := s.sessions.DeleteByTokenHash(ctx, tokenHash); err != nil {
		if errors.Is(err, ErrNotFound) {
			return oops.Code("SESSION_NOT_FOUND").Wrap(err)
		}
		return oops.Code("AUTH_LOGOUT_FAILED").
			With("operation", "delete session").
			Wrap(err)
	}
	return nil
}

// ValidateSession resolves a session token to a live session. Absent,
// unknown, and expired tokens all wrap ErrNotFound; a store failure is a
// distinct server fault and must not be mistaken for an invalid session.
// Bumps LastSeenAt best-effort.
func (s *Service) ValidateSession(ctx context.Context, token string) (*Session, error) {
	if token == "" {
		return nil, oops.Code("SESSION_INVALID").Wrap(ErrNotFound)
	}

	tokenHash := HashSessionToken(token)

	session, err := s.sessions.GetByTokenHash(ctx, tokenHash)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, oops.Code("SESSION_INVALID").Wrap(ErrNotFound)
		}
		return nil, oops.Code("SESSION_VALIDATE_FAILED").
			With("operation", "get session by token hash").
			Wrap(err)
	}

	// The returned row must actually hold this token's hash.
	if !VerifySessionToken(token, session.TokenHash) {
		return nil, oops.Code("SESSION_INVALID").Wrap(ErrNotFound)
	}

	if session.IsExpired() {
		return nil, oops.Code("SESSION_EXPIRED").Wrap(ErrNotFound)
	}

	now := time.Now()
	if err := s.sessions.UpdateLastSeen(ctx, session.ID, now); err != nil {
		s.logger.Debug("last seen update failed", "session_id", session.ID.String(), "error", err)
	}

	return session, nil
}

// User resolves the user behind a validated session.
func (s *Service) User(ctx context.Context, session *Session) (*User, error) {
	user, err := s.users.GetByID(ctx, session.UserID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			// The account disappeared under a live session; treat the
			// session as invalid.
			return nil, oops.Code("SESSION_INVALID").Wrap(ErrNotFound)
		}
		return nil, oops.Code("AUTH_USER_LOOKUP_FAILED").
			With("operation", "get user by id").
			Wrap(err)
	}
	return user, nil
}
