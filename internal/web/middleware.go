// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package web

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strconv"

	"github.com/gatehouse/gatehouse/internal/access"
	"github.com/gatehouse/gatehouse/internal/auth"
	"github.com/gatehouse/gatehouse/pkg/errutil"
)

type ctxKey int

const principalCtxKey ctxKey = iota

// principal is the resolved identity of a request. Both fields are set
// together or not at all.
type principal struct {
	session *auth.Session
	user    *auth.User
}

// principalFrom returns the request's principal, or nil for anonymous.
func principalFrom(ctx context.Context) *principal {
	p, _ := ctx.Value(principalCtxKey).(*principal)
	return p
}

// csrfCookieName holds the anonymous CSRF token for the login and
// signup forms, double-submit style. Authenticated forms use the token
// bound to the session instead.
const csrfCookieName = "gatehouse_csrf"

const csrfFormField = "csrf_token"

// withSession resolves the session cookie into a principal.
//
// An unknown or expired token is treated as anonymous and the stale
// cookie is cleared. A session store failure is neither: the request
// fails with 500 rather than silently downgrading an authenticated
// user to anonymous.
func (h *Handlers) withSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(h.cookieName)
		if err != nil || cookie.Value == "" {
			next.ServeHTTP(w, r)
			return
		}

		session, err := h.auth.ValidateSession(r.Context(), cookie.Value)
		if err != nil {
			if errors.Is(err, auth.ErrNotFound) {
				h.clearSessionCookie(w)
				next.ServeHTTP(w, r)
				return
			}
			errutil.LogError(h.logger, "session validation failed", err)
			http.Error(w, "internal server error", http.StatusInternalServerError)
			return
		}

		user, err := h.auth.User(r.Context(), session)
		if err != nil {
			if errors.Is(err, auth.ErrNotFound) {
				// User deleted out from under a live session.
				h.clearSessionCookie(w)
				next.ServeHTTP(w, r)
				return
			}
			errutil.LogError(h.logger, "session user lookup failed", err)
			http.Error(w, "internal server error", http.StatusInternalServerError)
			return
		}

		ctx := context.WithValue(r.Context(), principalCtxKey, &principal{
			session: session,
			user:    user,
		})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// withAccess enforces the path policy. Denied browser requests are
// redirected to the login form rather than answered with 401.
func (h *Handlers) withAccess(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var identity *access.Identity
		if p := principalFrom(r.Context()); p != nil {
			identity = &access.Identity{UserID: p.user.ID, Email: p.user.Email}
		}

		decision := access.Decide(h.policy, r.URL.Path, identity)
		if !decision.Allow {
			http.Redirect(w, r, decision.RedirectTo, http.StatusSeeOther)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// withCSRF rejects unsafe requests whose form token does not match.
// Authenticated requests verify against the session-bound token,
// anonymous ones against the double-submit cookie.
func (h *Handlers) withCSRF(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			next.ServeHTTP(w, r)
			return
		}

		got := r.PostFormValue(csrfFormField)
		want := ""
		if p := principalFrom(r.Context()); p != nil {
			want = p.session.CSRFToken
		} else if cookie, err := r.Cookie(csrfCookieName); err == nil {
			want = cookie.Value
		}

		if got == "" || want == "" ||
			subtle.ConstantTimeCompare([]byte(got), []byte(want)) != 1 {
			h.logger.Warn("csrf token mismatch", "path", r.URL.Path)
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// statusRecorder captures the response status for the request metric.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// withMetrics counts requests by path and status class. Unknown paths
// collapse into "other" to bound label cardinality.
func (h *Handlers) withMetrics(next http.Handler) http.Handler {
	if h.metrics == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		h.metrics.RequestsTotal.WithLabelValues(
			pathLabel(r.URL.Path),
			strconv.Itoa(rec.status/100)+"xx",
		).Inc()
	})
}

func pathLabel(path string) string {
	switch path {
	case "/", "/home", "/profile", "/login", "/signup", "/logout":
		return path
	}
	if len(path) >= len("/static/") && path[:len("/static/")] == "/static/" {
		return "/static"
	}
	return "other"
}
