// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

// Package auth provides the credential-verification core of Gatehouse.
//
// # Domain Types
//
// Domain types (User, Session) should be created using their
// constructors:
//   - NewUser - creates a User with a validated email and password hash
//   - NewSession - creates a Session with a validated user and expiry
//
// Direct struct initialization bypasses validation and may create invalid
// state. Repository implementations receive pre-validated types from these
// constructors.
//
// # Services
//
// Service coordinates the domain operations: signup, login, logout, and
// session validation. It is created with NewService, which validates its
// dependencies.
//
// Repositories are interfaces; PostgreSQL implementations live in the
// postgres subpackage and an in-process session store in the memory
// subpackage.
package auth
