package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"commonstories/api/middleware"
	"commonstories/internal/dto"
	"commonstories/internal/service"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
)

// AuthFlow is the slice of the auth service the handler needs.
type AuthFlow interface {
	CompleteAuthorization(ctx context.Context, code, codeVerifier string, ipAddress *string) (*service.LoginResult, error)
	Logout(ctx context.Context, sessionID string, ipAddress *string) error
}

type AuthHandler struct {
	Auth          AuthFlow
	Validate      *validator.Validate
	CookieName    string
	CookieDomain  string
	SecureCookies bool
	Clock         service.Clock
}

func NewAuthHandler(auth AuthFlow, validate *validator.Validate) *AuthHandler {
	return &AuthHandler{
		Auth:          auth,
		Validate:      validate,
		CookieName:    middleware.DefaultSessionCookieName,
		SecureCookies: true,
		Clock:         service.RealClock{},
	}
}

// OAuthCallback completes the PKCE flow: the browser submits the one-time
// authorization code plus the verifier it retained, and gets back a user
// payload and an httpOnly session cookie. OAuth tokens stay server-side.
func (h *AuthHandler) OAuthCallback(c echo.Context) error {
	var req dto.OAuthCallbackRequest
	if err := decodeJSON(c, &req); err != nil {
		return writeError(c, http.StatusBadRequest, "Invalid request body")
	}
	if err := h.validate(req); err != nil {
		return writeError(c, http.StatusBadRequest, "Code and code verifier are required")
	}

	result, err := h.Auth.CompleteAuthorization(c.Request().Context(), req.Code, req.CodeVerifier, stringPtr(c.RealIP()))
	if err != nil {
		return writeAuthError(c, err)
	}

	h.setSessionCookie(c, result.SessionID, result.CookieExpiry)
	return c.JSON(http.StatusOK, dto.AuthResponse{
		Success: true,
		Message: "Login successful",
		User:    dto.UserResponseFromEntity(result.User),
		Token:   dto.TokenInfoFrom(result.TokenExpiresAt, h.now()),
	})
}

// Me reports the authenticated user plus the access token's expiry so the
// client can schedule its next proactive check-in. Runs behind the session
// gate, so reaching here may itself have refreshed the token.
func (h *AuthHandler) Me(c echo.Context) error {
	user, ok := middleware.UserFromContext(c)
	if !ok {
		return writeError(c, http.StatusUnauthorized, "No session found")
	}
	session, ok := middleware.SessionFromContext(c)
	if !ok {
		return writeError(c, http.StatusUnauthorized, "No session found")
	}
	return c.JSON(http.StatusOK, dto.AuthResponse{
		Success: true,
		User:    dto.UserResponseFromEntity(user),
		Token:   dto.TokenInfoFrom(session.ExpiresAt, h.now()),
	})
}

// Logout deletes the session row and expires the cookie. Deliberately not
// behind the gate: a browser with a dead or expired session can still log
// out cleanly.
func (h *AuthHandler) Logout(c echo.Context) error {
	sessionID := ""
	if cookie, err := c.Cookie(h.cookieName()); err == nil {
		sessionID = cookie.Value
	}
	if err := h.Auth.Logout(c.Request().Context(), sessionID, stringPtr(c.RealIP())); err != nil {
		return writeError(c, http.StatusInternalServerError, "An error occurred during logout")
	}
	h.clearSessionCookie(c)
	return c.JSON(http.StatusOK, dto.AuthResponse{Success: true, Message: "Logged out successfully"})
}

func Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func writeAuthError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, service.ErrInvalidInput):
		return writeError(c, http.StatusBadRequest, "Code and code verifier are required")
	case errors.Is(err, service.ErrAuthorizationRejected):
		return writeError(c, http.StatusBadRequest, "Login failed")
	case errors.Is(err, service.ErrUserNotProvisioned):
		return writeError(c, http.StatusNotFound,
			"User not found in database. Please contact the administrator to create an account for you.")
	case errors.Is(err, service.ErrNoRoleAssigned):
		return writeError(c, http.StatusForbidden,
			"No role assigned to your account. Please contact the administrator to assign a role before proceeding.")
	case errors.Is(err, service.ErrUpstreamUnavailable):
		return writeError(c, http.StatusBadGateway, "Authorization server unavailable")
	default:
		return writeError(c, http.StatusInternalServerError, "An error occurred during authentication")
	}
}

func (h *AuthHandler) validate(payload any) error {
	if h.Validate == nil {
		return nil
	}
	return h.Validate.Struct(payload)
}

func (h *AuthHandler) setSessionCookie(c echo.Context, sessionID string, expiry time.Time) {
	c.SetCookie(&http.Cookie{
		Name:     h.cookieName(),
		Value:    sessionID,
		Path:     "/",
		Domain:   h.CookieDomain,
		Expires:  expiry,
		MaxAge:   int(expiry.Sub(h.now()).Seconds()),
		HttpOnly: true,
		Secure:   h.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *AuthHandler) clearSessionCookie(c echo.Context) {
	c.SetCookie(&http.Cookie{
		Name:     h.cookieName(),
		Value:    "",
		Path:     "/",
		Domain:   h.CookieDomain,
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *AuthHandler) cookieName() string {
	if h.CookieName != "" {
		return h.CookieName
	}
	return middleware.DefaultSessionCookieName
}

func (h *AuthHandler) now() time.Time {
	if h.Clock == nil {
		return time.Now()
	}
	return h.Clock.Now()
}

func decodeJSON(c echo.Context, target any) error {
	decoder := json.NewDecoder(c.Request().Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(target)
}

func writeError(c echo.Context, status int, message string) error {
	return c.JSON(status, dto.AuthResponse{Success: false, Message: message})
}

func stringPtr(value string) *string {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return &value
}
