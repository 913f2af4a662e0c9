// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package auth_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/gatehouse/gatehouse/internal/auth"
	"github.com/gatehouse/gatehouse/internal/auth/mocks"
)

const testHash = "$argon2id$v=19$m=65536,t=1,p=4$c2FsdA$aGFzaA"

// newTestService wires a Service against fresh mocks. The first Hash
// expectation feeds the dummy-hash computation during construction.
func newTestService(t *testing.T) (*auth.Service, *mocks.MockUserRepository, *mocks.MockSessionRepository, *mocks.MockPasswordHasher) {
	t.Helper()

	users := mocks.NewMockUserRepository(t)
	sessions := mocks.NewMockSessionRepository(t)
	hasher := mocks.NewMockPasswordHasher(t)
	hasher.On("Hash", mock.AnythingOfType("string")).Return(testHash, nil).Once()

	svc, err := auth.NewService(users, sessions, hasher, time.Hour)
	require.NoError(t, err)
	return svc, users, sessions, hasher
}

func TestNewService_NilDependencies(t *testing.T) {
	users := mocks.NewMockUserRepository(t)
	sessions := mocks.NewMockSessionRepository(t)
	hasher := mocks.NewMockPasswordHasher(t)

	tests := []struct {
		name        string
		users       auth.UserRepository
		sessions    auth.SessionRepository
		hasher      auth.PasswordHasher
		expectError string
	}{
		{
			name:        "nil users repository",
			users:       nil,
			sessions:    sessions,
			hasher:      hasher,
			expectError: "users repository is required",
		},
		{
			name:        "nil sessions repository",
			users:       users,
			sessions:    nil,
			hasher:      hasher,
			expectError: "sessions repository is required",
		},
		{
			name:        "nil password hasher",
			users:       users,
			sessions:    sessions,
			hasher:      nil,
			expectError: "password hasher is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, err := auth.NewService(tt.users, tt.sessions, tt.hasher, time.Hour)
			require.Error(t, err)
			assert.Nil(t, svc)
			assert.Contains(t, err.Error(), tt.expectError)
		})
	}
}

func TestService_Signup(t *testing.T) {
	ctx := context.Background()

	t.Run("creates user with hashed password", func(t *testing.T) {
		svc, users, _, hasher := newTestService(t)

		hasher.On("Hash", "secret1").Return(testHash, nil).Once()
		users.On("Create", ctx, mock.AnythingOfType("*auth.User")).Return(nil)

		user, err := svc.Signup(ctx, "a@x.com", "secret1")
		require.NoError(t, err)
		assert.Equal(t, "a@x.com", user.Email)
		assert.Equal(t, testHash, user.PasswordHash)
	})

	t.Run("duplicate email surfaces as ErrDuplicateEmail", func(t *testing.T) {
		svc, users, _, hasher := newTestService(t)

		hasher.On("Hash", "secret1").Return(testHash, nil).Once()
		users.On("Create", ctx, mock.AnythingOfType("*auth.User")).Return(auth.ErrDuplicateEmail)

		_, err := svc.Signup(ctx, "a@x.com", "secret1")
		require.Error(t, err)
		assert.ErrorIs(t, err, auth.ErrDuplicateEmail)
	})

	t.Run("store failure is not a duplicate", func(t *testing.T) {
		svc, users, _, hasher := newTestService(t)

		hasher.On("Hash", "secret1").Return(testHash, nil).Once()
		users.On("Create", ctx, mock.AnythingOfType("*auth.User")).Return(errors.New("connection refused"))

		_, err := svc.Signup(ctx, "a@x.com", "secret1")
		require.Error(t, err)
		assert.NotErrorIs(t, err, auth.ErrDuplicateEmail)
	})

	t.Run("invalid email rejected before hashing", func(t *testing.T) {
		svc, _, _, _ := newTestService(t)

		_, err := svc.Signup(ctx, "not-an-email", "secret1")
		require.Error(t, err)
	})

	t.Run("short password rejected before hashing", func(t *testing.T) {
		svc, _, _, _ := newTestService(t)

		_, err := svc.Signup(ctx, "a@x.com", "short")
		require.Error(t, err)
	})
}

func TestService_Login(t *testing.T) {
	ctx := context.Background()

	user := &auth.User{
		ID:           ulid.Make(),
		Email:        "a@x.com",
		PasswordHash: testHash,
	}

	t.Run("successful login creates session", func(t *testing.T) {
		svc, users, sessions, hasher := newTestService(t)

		users.On("GetByEmail", ctx, "a@x.com").Return(user, nil)
		hasher.On("Verify", "secret1", testHash).Return(true, nil)
		hasher.On("NeedsUpgrade", testHash).Return(false)
		sessions.On("Create", ctx, mock.AnythingOfType("*auth.Session")).Return(nil)

		session, token, err := svc.Login(ctx, "a@x.com", "secret1", "Mozilla/5.0", "192.168.1.1")
		require.NoError(t, err)
		assert.NotEmpty(t, token)
		assert.Equal(t, user.ID, session.UserID)
		assert.Equal(t, auth.HashSessionToken(token), session.TokenHash)
		assert.NotEmpty(t, session.CSRFToken)
		assert.True(t, session.ExpiresAt.After(time.Now()))
	})

	t.Run("unknown email and wrong password are indistinguishable", func(t *testing.T) {
		svc, users, _, hasher := newTestService(t)

		users.On("GetByEmail", ctx, "ghost@x.com").Return(nil, auth.ErrNotFound)
		users.On("GetByEmail", ctx, "a@x.com").Return(user, nil)
		// The unknown-email path still pays for a verification.
		hasher.On("Verify", "whatever", testHash).Return(false, nil).Twice()

		_, _, unknownErr := svc.Login(ctx, "ghost@x.com", "whatever", "", "")
		require.Error(t, unknownErr)
		assert.ErrorIs(t, unknownErr, auth.ErrInvalidCredentials)

		_, _, wrongErr := svc.Login(ctx, "a@x.com", "whatever", "", "")
		require.Error(t, wrongErr)
		assert.ErrorIs(t, wrongErr, auth.ErrInvalidCredentials)
	})

	t.Run("store failure is not invalid credentials", func(t *testing.T) {
		svc, users, _, _ := newTestService(t)

		users.On("GetByEmail", ctx, "a@x.com").Return(nil, errors.New("connection refused"))

		_, _, err := svc.Login(ctx, "a@x.com", "secret1", "", "")
		require.Error(t, err)
		assert.NotErrorIs(t, err, auth.ErrInvalidCredentials)
	})

	t.Run("legacy hash upgraded transparently", func(t *testing.T) {
		svc, users, sessions, hasher := newTestService(t)

		legacy := &auth.User{ID: ulid.Make(), Email: "a@x.com", PasswordHash: "$2a$10$legacy"}
		users.On("GetByEmail", ctx, "a@x.com").Return(legacy, nil)
		hasher.On("Verify", "secret1", legacy.PasswordHash).Return(true, nil)
		hasher.On("NeedsUpgrade", legacy.PasswordHash).Return(true)
		hasher.On("Hash", "secret1").Return(testHash, nil).Once()
		users.On("UpdatePassword", ctx, legacy.ID, testHash).Return(nil)
		sessions.On("Create", ctx, mock.AnythingOfType("*auth.Session")).Return(nil)

		_, token, err := svc.Login(ctx, "a@x.com", "secret1", "", "")
		require.NoError(t, err)
		assert.NotEmpty(t, token)
	})

	t.Run("login succeeds even if hash upgrade fails", func(t *testing.T) {
		svc, users, sessions, hasher := newTestService(t)

		legacy := &auth.User{ID: ulid.Make(), Email: "a@x.com", PasswordHash: "$2a$10$legacy"}
		users.On("GetByEmail", ctx, "a@x.com").Return(legacy, nil)
		hasher.On("Verify", "secret1", legacy.PasswordHash).Return(true, nil)
		hasher.On("NeedsUpgrade", legacy.PasswordHash).Return(true)
		hasher.On("Hash", "secret1").Return(testHash, nil).Once()
		users.On("UpdatePassword", ctx, legacy.ID, testHash).Return(errors.New("write timeout"))
		sessions.On("Create", ctx, mock.AnythingOfType("*auth.Session")).Return(nil)

		_, _, err := svc.Login(ctx, "a@x.com", "secret1", "", "")
		require.NoError(t, err)
	})

	t.Run("session persistence failure fails the login", func(t *testing.T) {
		svc, users, sessions, hasher := newTestService(t)

		users.On("GetByEmail", ctx, "a@x.com").Return(user, nil)
		hasher.On("Verify", "secret1", testHash).Return(true, nil)
		hasher.On("NeedsUpgrade", testHash).Return(false)
		sessions.On("Create", ctx, mock.AnythingOfType("*auth.Session")).Return(errors.New("disk full"))

		_, _, err := svc.Login(ctx, "a@x.com", "secret1", "", "")
		require.Error(t, err)
		assert.NotErrorIs(t, err, auth.ErrInvalidCredentials)
	})
}

func TestService_Logout(t *testing.T) {
	ctx := context.Background()

	t.Run("deletes session by token hash", func(t *testing.T) {
		svc, _, sessions, _ := newTestService(t)

		token, tokenHash, err := auth.GenerateSessionToken()
		require.NoError(t, err)
		sessions.On("DeleteByTokenHash", ctx, tokenHash).Return(nil)

		require.NoError(t, svc.Logout(ctx, token))
	})

	t.Run("unknown token wraps ErrNotFound", func(t *testing.T) {
		svc, _, sessions, _ := newTestService(t)

		sessions.On("DeleteByTokenHash", ctx, mock.AnythingOfType("string")).Return(auth.ErrNotFound)

		err := svc.Logout(ctx, "deadbeef")
		require.Error(t, err)
		assert.ErrorIs(t, err, auth.ErrNotFound)
	})

	t.Run("empty token rejected", func(t *testing.T) {
		svc, _, _, _ := newTestService(t)
		require.Error(t, svc.Logout(ctx, ""))
	})
}

func TestService_ValidateSession(t *testing.T) {
	ctx := context.Background()

	t.Run("valid token resolves session", func(t *testing.T) {
		svc, _, sessions, _ := newTestService(t)

		token, tokenHash, err := auth.GenerateSessionToken()
		require.NoError(t, err)
		session := &auth.Session{
			ID:        ulid.Make(),
			UserID:    ulid.Make(),
			TokenHash: tokenHash,
			ExpiresAt: time.Now().Add(time.Hour),
		}
		sessions.On("GetByTokenHash", ctx, tokenHash).Return(session, nil)
		sessions.On("UpdateLastSeen", ctx, session.ID, mock.AnythingOfType("time.Time")).Return(nil)

		got, err := svc.ValidateSession(ctx, token)
		require.NoError(t, err)
		assert.Equal(t, session.ID, got.ID)
	})

	t.Run("expired session is invalid", func(t *testing.T) {
		svc, _, sessions, _ := newTestService(t)

		token, tokenHash, err := auth.GenerateSessionToken()
		require.NoError(t, err)
		session := &auth.Session{
			ID:        ulid.Make(),
			UserID:    ulid.Make(),
			TokenHash: tokenHash,
			ExpiresAt: time.Now().Add(-time.Minute),
		}
		sessions.On("GetByTokenHash", ctx, tokenHash).Return(session, nil)

		_, err = svc.ValidateSession(ctx, token)
		require.Error(t, err)
		assert.ErrorIs(t, err, auth.ErrNotFound)
	})

	t.Run("unknown token is invalid", func(t *testing.T) {
		svc, _, sessions, _ := newTestService(t)

		sessions.On("GetByTokenHash", ctx, mock.AnythingOfType("string")).Return(nil, auth.ErrNotFound)

		_, err := svc.ValidateSession(ctx, "deadbeef")
		require.Error(t, err)
		assert.ErrorIs(t, err, auth.ErrNotFound)
	})

	t.Run("session holding a different token hash is invalid", func(t *testing.T) {
		svc, _, sessions, _ := newTestService(t)

		token, tokenHash, err := auth.GenerateSessionToken()
		require.NoError(t, err)
		_, otherHash, err := auth.GenerateSessionToken()
		require.NoError(t, err)
		session := &auth.Session{
			ID:        ulid.Make(),
			UserID:    ulid.Make(),
			TokenHash: otherHash,
			ExpiresAt: time.Now().Add(time.Hour),
		}
		sessions.On("GetByTokenHash", ctx, tokenHash).Return(session, nil)

		_, err = svc.ValidateSession(ctx, token)
		require.Error(t, err)
		assert.ErrorIs(t, err, auth.ErrNotFound)
	})

	t.Run("empty token is invalid", func(t *testing.T) {
		svc, _, _, _ := newTestService(t)

		_, err := svc.ValidateSession(ctx, "")
		require.Error(t, err)
		assert.ErrorIs(t, err, auth.ErrNotFound)
	})

	t.Run("store failure is not an invalid session", func(t *testing.T) {
		svc, _, sessions, _ := newTestService(t)

		sessions.On("GetByTokenHash", ctx, mock.AnythingOfType("string")).Return(nil, errors.New("connection refused"))

		_, err := svc.ValidateSession(ctx, "deadbeef")
		require.Error(t, err)
		assert.NotErrorIs(t, err, auth.ErrNotFound)
	})

	t.Run("validation survives a failed last-seen update", func(t *testing.T) {
		svc, _, sessions, _ := newTestService(t)

		token, tokenHash, err := auth.GenerateSessionToken()
		require.NoError(t, err)
		session := &auth.Session{
			ID:        ulid.Make(),
			UserID:    ulid.Make(),
			TokenHash: tokenHash,
			ExpiresAt: time.Now().Add(time.Hour),
		}
		sessions.On("GetByTokenHash", ctx, tokenHash).Return(session, nil)
		sessions.On("UpdateLastSeen", ctx, session.ID, mock.AnythingOfType("time.Time")).Return(errors.New("write timeout"))

		_, err = svc.ValidateSession(ctx, token)
		require.NoError(t, err)
	})
}

func TestService_User(t *testing.T) {
	ctx := context.Background()

	t.Run("resolves the session user", func(t *testing.T) {
		svc, users, _, _ := newTestService(t)

		user := &auth.User{ID: ulid.Make(), Email: "a@x.com"}
		users.On("GetByID", ctx, user.ID).Return(user, nil)

		got, err := svc.User(ctx, &auth.Session{UserID: user.ID})
		require.NoError(t, err)
		assert.Equal(t, user.Email, got.Email)
	})

	t.Run("vanished account invalidates the session", func(t *testing.T) {
		svc, users, _, _ := newTestService(t)

		id := ulid.Make()
		users.On("GetByID", ctx, id).Return(nil, auth.ErrNotFound)

		_, err := svc.User(ctx, &auth.Session{UserID: id})
		require.Error(t, err)
		assert.ErrorIs(t, err, auth.ErrNotFound)
	})
}
