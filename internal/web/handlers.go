// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

package web

import (
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/samber/oops"

	"github.com/gatehouse/gatehouse/internal/access"
	"github.com/gatehouse/gatehouse/internal/auth"
	"github.com/gatehouse/gatehouse/internal/observability"
	"github.com/gatehouse/gatehouse/pkg/errutil"
)

// HandlerConfig wires the web surface to its dependencies.
type HandlerConfig struct {
	Auth   *auth.Service
	Policy *access.Policy

	// Metrics is optional; nil disables instrumentation.
	Metrics *observability.Metrics

	Logger *slog.Logger

	CookieName   string
	CookieSecure bool
}

// Handlers serves the form-login surface.
type Handlers struct {
	auth         *auth.Service
	policy       *access.Policy
	metrics      *observability.Metrics
	logger       *slog.Logger
	templates    *templates
	cookieName   string
	cookieSecure bool
}

// NewHandler builds the full application handler: routes wrapped in
// metrics, session, access and CSRF middleware.
func NewHandler(cfg HandlerConfig) (http.Handler, error) {
	if cfg.Auth == nil {
		return nil, oops.In("web").Errorf("auth service is required")
	}
	if cfg.Policy == nil {
		return nil, oops.In("web").Errorf("access policy is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.CookieName == "" {
		cfg.CookieName = "gatehouse_session"
	}

	tmpl, err := parseTemplates()
	if err != nil {
		return nil, err
	}

	h := &Handlers{
		auth:         cfg.Auth,
		policy:       cfg.Policy,
		metrics:      cfg.Metrics,
		logger:       cfg.Logger,
		templates:    tmpl,
		cookieName:   cfg.CookieName,
		cookieSecure: cfg.CookieSecure,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", h.handleRoot)
	mux.HandleFunc("GET /home", h.handleHome)
	mux.HandleFunc("GET /profile", h.handleProfile)
	mux.HandleFunc("GET /login", h.handleLoginForm)
	mux.HandleFunc("POST /login", h.handleLogin)
	mux.HandleFunc("GET /signup", h.handleSignupForm)
	mux.HandleFunc("POST /signup", h.handleSignup)
	mux.HandleFunc("POST /logout", h.handleLogout)
	mux.Handle("GET /static/", staticHandler())

	// Order matters: the session must be resolved before the policy or
	// CSRF checks can see it.
	var handler http.Handler = mux
	handler = h.withCSRF(handler)
	handler = h.withAccess(handler)
	handler = h.withSession(handler)
	handler = h.withMetrics(handler)
	return handler, nil
}

func (h *Handlers) handleRoot(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, "/home", http.StatusSeeOther)
}

func (h *Handlers) handleHome(w http.ResponseWriter, r *http.Request) {
	p := principalFrom(r.Context())
	h.templates.render(w, http.StatusOK, "home", pageData{
		Title:     "Home",
		Email:     p.user.Email,
		CSRFToken: p.session.CSRFToken,
	})
}

func (h *Handlers) handleProfile(w http.ResponseWriter, r *http.Request) {
	p := principalFrom(r.Context())
	h.templates.render(w, http.StatusOK, "profile", pageData{
		Title:     "Profile",
		Email:     p.user.Email,
		CreatedAt: p.user.CreatedAt.Format("2 January 2006"),
		CSRFToken: p.session.CSRFToken,
	})
}

func (h *Handlers) handleLoginForm(w http.ResponseWriter, r *http.Request) {
	// Already signed in: the form would be a dead end.
	if principalFrom(r.Context()) != nil {
		http.Redirect(w, r, "/home", http.StatusSeeOther)
		return
	}

	notice := ""
	if r.URL.Query().Get("signup") == "ok" {
		notice = "Account created. Log in to continue."
	}
	if r.URL.Query().Get("logout") == "ok" {
		notice = "You have been logged out."
	}

	h.templates.render(w, http.StatusOK, "login", pageData{
		Title:     "Log in",
		Notice:    notice,
		CSRFToken: h.ensureCSRFCookie(w, r),
	})
}

func (h *Handlers) handleLogin(w http.ResponseWriter, r *http.Request) {
	email := r.PostFormValue("email")
	password := r.PostFormValue("password")

	session, token, err := h.auth.Login(r.Context(),
		email, password, r.UserAgent(), clientIP(r))
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			h.countLogin("invalid_credentials")
			h.templates.render(w, http.StatusUnauthorized, "login", pageData{
				Title:     "Log in",
				Email:     email,
				Error:     "Invalid email or password.",
				CSRFToken: h.ensureCSRFCookie(w, r),
			})
			return
		}
		h.countLogin("error")
		errutil.LogError(h.logger, "login failed", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	h.countLogin("success")
	if h.metrics != nil {
		h.metrics.ActiveSessions.Inc()
	}
	h.setSessionCookie(w, token, session.ExpiresAt)
	h.clearCSRFCookie(w)
	http.Redirect(w, r, "/home", http.StatusSeeOther)
}

func (h *Handlers) handleSignupForm(w http.ResponseWriter, r *http.Request) {
	if principalFrom(r.Context()) != nil {
		http.Redirect(w, r, "/home", http.StatusSeeOther)
		return
	}
	h.templates.render(w, http.StatusOK, "signup", pageData{
		Title:     "Sign up",
		CSRFToken: h.ensureCSRFCookie(w, r),
	})
}

func (h *Handlers) handleSignup(w http.ResponseWriter, r *http.Request) {
	email := r.PostFormValue("email")
	password := r.PostFormValue("password")

	_, err := h.auth.Signup(r.Context(), email, password)
	if err != nil {
		status := http.StatusInternalServerError
		msg := "Something went wrong. Try again later."
		outcome := "error"

		switch {
		case errors.Is(err, auth.ErrDuplicateEmail):
			status = http.StatusConflict
			msg = "That email is already registered."
			outcome = "duplicate_email"
		case errors.Is(err, auth.ErrInvalidEmail),
			errors.Is(err, auth.ErrWeakPassword):
			status = http.StatusUnprocessableEntity
			msg = validationMessage(err)
			outcome = "invalid_input"
		default:
			errutil.LogError(h.logger, "signup failed", err)
		}

		h.countSignup(outcome)
		h.templates.render(w, status, "signup", pageData{
			Title:     "Sign up",
			Email:     email,
			Error:     msg,
			CSRFToken: h.ensureCSRFCookie(w, r),
		})
		return
	}

	h.countSignup("created")
	http.Redirect(w, r, "/login?signup=ok", http.StatusSeeOther)
}

func (h *Handlers) handleLogout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(h.cookieName); err == nil && cookie.Value != "" {
		if err := h.auth.Logout(r.Context(), cookie.Value); err != nil {
			errutil.LogError(h.logger, "logout failed", err)
			http.Error(w, "internal server error", http.StatusInternalServerError)
			return
		}
		if h.metrics != nil {
			h.metrics.ActiveSessions.Dec()
		}
	}
	h.clearSessionCookie(w)
	http.Redirect(w, r, "/login?logout=ok", http.StatusSeeOther)
}

func validationMessage(err error) string {
	if errors.Is(err, auth.ErrInvalidEmail) {
		return "Enter a valid email address."
	}
	return "Password is too short."
}

func (h *Handlers) countLogin(outcome string) {
	if h.metrics != nil {
		h.metrics.LoginsTotal.WithLabelValues(outcome).Inc()
	}
}

func (h *Handlers) countSignup(outcome string) {
	if h.metrics != nil {
		h.metrics.SignupsTotal.WithLabelValues(outcome).Inc()
	}
}

func (h *Handlers) setSessionCookie(w http.ResponseWriter, token string, expires time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     h.cookieName,
		Value:    token,
		Path:     "/",
		Expires:  expires,
		HttpOnly: true,
		Secure:   h.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *Handlers) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     h.cookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

// ensureCSRFCookie returns the anonymous CSRF token for this browser,
// issuing it on first use.
func (h *Handlers) ensureCSRFCookie(w http.ResponseWriter, r *http.Request) string {
	if cookie, err := r.Cookie(csrfCookieName); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	token, err := auth.GenerateCSRFToken()
	if err != nil {
		// Out of entropy; the form will fail CSRF validation and the
		// user retries.
		h.logger.Error("csrf token generation failed", "error", err)
		return ""
	}
	http.SetCookie(w, &http.Cookie{
		Name:     csrfCookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   h.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
	return token
}

func (h *Handlers) clearCSRFCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     csrfCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
