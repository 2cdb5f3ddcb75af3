package middleware

import (
	"context"
	"errors"
	"net/http"
	"time"

	"commonstories/internal/dto"
	"commonstories/internal/service"

	"github.com/labstack/echo/v4"
)

const DefaultSessionCookieName = "session_id"

// SessionAuthenticator is the gate contract this middleware wraps.
type SessionAuthenticator interface {
	Authenticate(ctx context.Context, sessionID string) (*service.AuthResult, error)
}

// SessionMiddleware turns the session cookie into an authenticated request
// context. When the gate refreshed the underlying token it rewrites the
// cookie with a fresh seven-day horizon; when the cookie points at a dead
// session it expires the cookie so the client stops retrying it.
type SessionMiddleware struct {
	Service       SessionAuthenticator
	CookieName    string
	CookieDomain  string
	SecureCookies bool
	Clock         service.Clock
}

func (m SessionMiddleware) RequireSession(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		value := ""
		if cookie, err := c.Cookie(m.cookieName()); err == nil {
			value = cookie.Value
		}

		result, err := m.Service.Authenticate(c.Request().Context(), value)
		if err != nil {
			return m.reject(c, err)
		}

		if result.Refreshed {
			m.setSessionCookie(c, result.Session.ID, result.CookieExpiry)
		}
		SetAuthContext(c, result.User, result.Session)
		return next(c)
	}
}

func (m SessionMiddleware) reject(c echo.Context, err error) error {
	var message string
	switch {
	case errors.Is(err, service.ErrNoSession):
		message = "No session found"
	case errors.Is(err, service.ErrSessionNotFound):
		m.clearSessionCookie(c)
		message = "Session not found"
	case errors.Is(err, service.ErrSessionExpired):
		message = "Session expired"
	case errors.Is(err, service.ErrRefreshRejected):
		message = "Refresh token expired. Please login again"
	case errors.Is(err, service.ErrRefreshFailed):
		message = "Session expired and refresh failed"
	case errors.Is(err, service.ErrUserNotFound):
		message = "User not found"
	default:
		// Store failure, not an authentication decision.
		return c.JSON(http.StatusInternalServerError, dto.AuthResponse{
			Success: false,
			Message: "Authentication error",
		})
	}
	return c.JSON(http.StatusUnauthorized, dto.AuthResponse{Success: false, Message: message})
}

func (m SessionMiddleware) setSessionCookie(c echo.Context, sessionID string, expiry time.Time) {
	c.SetCookie(&http.Cookie{
		Name:     m.cookieName(),
		Value:    sessionID,
		Path:     "/",
		Domain:   m.CookieDomain,
		Expires:  expiry,
		MaxAge:   int(expiry.Sub(m.now()).Seconds()),
		HttpOnly: true,
		Secure:   m.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}

func (m SessionMiddleware) clearSessionCookie(c echo.Context) {
	c.SetCookie(&http.Cookie{
		Name:     m.cookieName(),
		Value:    "",
		Path:     "/",
		Domain:   m.CookieDomain,
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   m.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}

func (m SessionMiddleware) cookieName() string {
	if m.CookieName != "" {
		return m.CookieName
	}
	return DefaultSessionCookieName
}

func (m SessionMiddleware) now() time.Time {
	if m.Clock == nil {
		return time.Now()
	}
	return m.Clock.Now()
}
