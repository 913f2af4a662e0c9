// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

// Package access decides whether a request path may be served for a
// given authentication state.
//
// The policy is an explicit ordered list of (pattern, requirement)
// pairs; the first matching pattern wins and anything unmatched
// requires authentication. Evaluation is a pure function over the
// compiled rules, independent of any routing library.
package access

import (
	"github.com/gobwas/glob"
	"github.com/samber/oops"
)

// Requirement is the authentication state a path demands.
type Requirement int

const (
	// RequireAuthenticated paths are served only with a valid session.
	// This is the default for unmatched paths (deny by default).
	RequireAuthenticated Requirement = iota

	// RequirePublic paths are served regardless of identity.
	RequirePublic
)

// String returns the requirement name for logs.
func (r Requirement) String() string {
	if r == RequirePublic {
		return "public"
	}
	return "authenticated"
}

// Rule binds a path pattern to a requirement. Patterns use glob syntax
// with '/' as separator: '*' matches within a segment, '**' across
// segments.
type Rule struct {
	Pattern     string
	Requirement Requirement
}

// compiledRule holds a rule and its compiled glob.
type compiledRule struct {
	rule Rule
	glob glob.Glob
}

// Policy is an immutable, ordered set of compiled rules. Construct once
// and share freely; evaluation requires no synchronization.
type Policy struct {
	rules []compiledRule
}

// NewPolicy compiles the rules in order. Returns an error if any pattern
// fails to compile (invalid glob syntax).
func NewPolicy(rules []Rule) (*Policy, error) {
	compiled := make([]compiledRule, 0, len(rules))
	for _, r := range rules {
		g, err := glob.Compile(r.Pattern, '/')
		if err != nil {
			return nil, oops.In("access").
				Code("INVALID_PATH_PATTERN").
				With("pattern", r.Pattern).
				Wrap(err)
		}
		compiled = append(compiled, compiledRule{rule: r, glob: g})
	}
	return &Policy{rules: compiled}, nil
}

// MustPolicy compiles the rules and panics on failure. For use with
// hardcoded rule sets, where a bad pattern is a code bug that should
// fail fast.
func MustPolicy(rules []Rule) *Policy {
	p, err := NewPolicy(rules)
	if err != nil {
		panic("invalid path pattern in policy: " + err.Error())
	}
	return p
}

// Evaluate returns the requirement for a request path. First match wins;
// unmatched paths require authentication.
func (p *Policy) Evaluate(path string) Requirement {
	for _, r := range p.rules {
		if r.glob.Match(path) {
			return r.rule.Requirement
		}
	}
	return RequireAuthenticated
}

// Rules returns a copy of the rule list, in evaluation order.
func (p *Policy) Rules() []Rule {
	rules := make([]Rule, len(p.rules))
	for i, r := range p.rules {
		rules[i] = r.rule
	}
	return rules
}

// DefaultRules returns the standard allowlist: the login and signup
// forms, static assets, and the health probes are public; everything
// else needs a session.
func DefaultRules() []Rule {
	return []Rule{
		{Pattern: "/login", Requirement: RequirePublic},
		{Pattern: "/signup", Requirement: RequirePublic},
		{Pattern: "/static/**", Requirement: RequirePublic},
		{Pattern: "/healthz/**", Requirement: RequirePublic},
	}
}
