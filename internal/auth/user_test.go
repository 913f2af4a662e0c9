// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package auth_test

import (
	"strings"
	"testing"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gatehouse/gatehouse/internal/auth"
)

func TestValidateEmail(t *testing.T) {
	tests := []struct {
		name    string
		email   string
		wantErr bool
	}{
		{name: "valid", email: "a@x.com", wantErr: false},
		{name: "valid with plus tag", email: "user+tag@example.co.uk", wantErr: false},
		{name: "empty", email: "", wantErr: true},
		{name: "missing at", email: "ax.com", wantErr: true},
		{name: "missing domain dot", email: "a@localhost", wantErr: true},
		{name: "embedded space", email: "a b@x.com", wantErr: true},
		{name: "double at", email: "a@@x.com", wantErr: true},
		{name: "too long", email: strings.Repeat("a", auth.MaxEmailLength) + "@x.com", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := auth.ValidateEmail(tt.email)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidatePassword(t *testing.T) {
	assert.NoError(t, auth.ValidatePassword("secret1"))
	assert.NoError(t, auth.ValidatePassword("secret"))
	assert.Error(t, auth.ValidatePassword("short"))
	assert.Error(t, auth.ValidatePassword(""))
}

func TestNewUser(t *testing.T) {
	t.Run("valid user", func(t *testing.T) {
		user, err := auth.NewUser("a@x.com", "$argon2id$v=19$m=65536,t=1,p=4$salt$hash")
		require.NoError(t, err)
		assert.NotEqual(t, ulid.ULID{}, user.ID)
		assert.Equal(t, "a@x.com", user.Email)
		assert.False(t, user.CreatedAt.IsZero())
		assert.Equal(t, user.CreatedAt, user.UpdatedAt)
	})

	t.Run("invalid email", func(t *testing.T) {
		_, err := auth.NewUser("not-an-email", "hash")
		require.Error(t, err)
	})

	t.Run("empty hash", func(t *testing.T) {
		_, err := auth.NewUser("a@x.com", "")
		require.Error(t, err)
	})

	t.Run("ids are unique", func(t *testing.T) {
		first, err := auth.NewUser("a@x.com", "hash")
		require.NoError(t, err)
		second, err := auth.NewUser("a@x.com", "hash")
		require.NoError(t, err)
		assert.NotEqual(t, first.ID, second.ID)
	})
}
