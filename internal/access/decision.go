// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package access

import "github.com/oklog/ulid/v2"

// LoginPath is where denied browser requests are redirected.
const LoginPath = "/login"

// State is the outcome class of an access decision.
type State int

const (
	// StateAnonymous means the request carries no identity but the path
	// is public, so it proceeds.
	StateAnonymous State = iota

	// StateAuthenticated means the request carries a valid identity.
	StateAuthenticated

	// StateDenied means the path requires authentication and the
	// request has none.
	StateDenied
)

// String returns the state name for logs.
func (s State) String() string {
	switch s {
	case StateAuthenticated:
		return "authenticated"
	case StateDenied:
		return "denied"
	default:
		return "anonymous"
	}
}

// Identity is the authenticated principal attached to a request, if any.
type Identity struct {
	UserID ulid.ULID
	Email  string
}

// Decision is the result of evaluating a policy for one request.
type Decision struct {
	State State

	// Allow reports whether the request may be served.
	Allow bool

	// RedirectTo is set when the request should be redirected instead
	// of served, e.g. to the login form on denial.
	RedirectTo string
}

// Decide evaluates the policy for a path and an optional identity.
// It is a pure function: same inputs, same decision.
//
// An authenticated identity is allowed everywhere, including public
// paths. An anonymous request is allowed only on public paths; on
// protected paths it is denied with a redirect to the login form.
func Decide(policy *Policy, path string, identity *Identity) Decision {
	if identity != nil {
		return Decision{State: StateAuthenticated, Allow: true}
	}
	if policy.Evaluate(path) == RequirePublic {
		return Decision{State: StateAnonymous, Allow: true}
	}
	return Decision{State: StateDenied, Allow: false, RedirectTo: LoginPath}
}
