// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package auth

import "errors"

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrDuplicateEmail is returned when creating a user whose email is
// already on file.
var ErrDuplicateEmail = errors.New("email already registered")

// ErrInvalidCredentials is returned on login with an unknown email or a
// wrong password. Both cases collapse into this single error so callers
// cannot tell which field was wrong.
var ErrInvalidCredentials = errors.New("invalid email or password")

// ErrInvalidEmail is returned when an email fails validation at signup.
var ErrInvalidEmail = errors.New("invalid email address")

// ErrWeakPassword is returned when a password fails the length rule at
// signup.
var ErrWeakPassword = errors.New("password too short")
