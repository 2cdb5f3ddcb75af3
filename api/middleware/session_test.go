package middleware_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"commonstories/api/middleware"
	"commonstories/internal/entity"
	"commonstories/internal/service"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"
)

type frozenClock struct{ now time.Time }

func (c frozenClock) Now() time.Time { return c.now }

var middlewareNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type stubAuthenticator struct {
	gotSessionID string
	result       *service.AuthResult
	err          error
}

func (s *stubAuthenticator) Authenticate(_ context.Context, sessionID string) (*service.AuthResult, error) {
	s.gotSessionID = sessionID
	if s.err != nil {
		return nil, s.err
	}
	return s.result, nil
}

func okHandler(c echo.Context) error {
	user, _ := middleware.UserFromContext(c)
	session, _ := middleware.SessionFromContext(c)
	return c.JSON(http.StatusOK, map[string]string{
		"email":   user.Email,
		"session": session.ID,
	})
}

func performRequest(t *testing.T, stub *stubAuthenticator, cookie *http.Cookie) *httptest.ResponseRecorder {
	t.Helper()

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	if cookie != nil {
		req.AddCookie(cookie)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	m := middleware.SessionMiddleware{Service: stub, SecureCookies: true, Clock: frozenClock{now: middlewareNow}}
	require.NoError(t, m.RequireSession(okHandler)(c))
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func sessionCookie(t *testing.T, rec *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, cookie := range rec.Result().Cookies() {
		if cookie.Name == middleware.DefaultSessionCookieName {
			return cookie
		}
	}
	return nil
}

func TestRequireSessionPassesThroughWhenFresh(t *testing.T) {
	userID := uuid.New()
	stub := &stubAuthenticator{result: &service.AuthResult{
		User:    &entity.User{ID: userID, Email: "reader@example.com", Role: "editor"},
		Session: &entity.Session{ID: "sess-1", UserID: userID},
	}}

	rec := performRequest(t, stub, &http.Cookie{Name: "session_id", Value: "sess-1"})

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "sess-1", stub.gotSessionID)
	body := decodeBody(t, rec)
	require.Equal(t, "reader@example.com", body["email"])
	require.Equal(t, "sess-1", body["session"])

	// No refresh happened, so the cookie is left untouched.
	require.Nil(t, sessionCookie(t, rec))
}

func TestRequireSessionRewritesCookieAfterRefresh(t *testing.T) {
	userID := uuid.New()
	expiry := middlewareNow.Add(7 * 24 * time.Hour)
	stub := &stubAuthenticator{result: &service.AuthResult{
		User:         &entity.User{ID: userID, Email: "reader@example.com"},
		Session:      &entity.Session{ID: "sess-1", UserID: userID},
		Refreshed:    true,
		CookieExpiry: expiry,
	}}

	rec := performRequest(t, stub, &http.Cookie{Name: "session_id", Value: "sess-1"})

	require.Equal(t, http.StatusOK, rec.Code)
	cookie := sessionCookie(t, rec)
	require.NotNil(t, cookie)
	require.Equal(t, "sess-1", cookie.Value)
	require.Equal(t, "/", cookie.Path)
	require.True(t, cookie.HttpOnly)
	require.True(t, cookie.Secure)
	require.Equal(t, http.SameSiteLaxMode, cookie.SameSite)
	require.WithinDuration(t, expiry, cookie.Expires, 2*time.Second)
	// Expires and Max-Age both derive from the middleware's clock.
	require.Equal(t, int(7*24*time.Hour/time.Second), cookie.MaxAge)
}

func TestRequireSessionMissingCookie(t *testing.T) {
	stub := &stubAuthenticator{err: service.ErrNoSession}

	rec := performRequest(t, stub, nil)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, "", stub.gotSessionID)
	body := decodeBody(t, rec)
	require.Equal(t, false, body["success"])
	require.Equal(t, "No session found", body["message"])
}

func TestRequireSessionUnknownSessionClearsCookie(t *testing.T) {
	stub := &stubAuthenticator{err: service.ErrSessionNotFound}

	rec := performRequest(t, stub, &http.Cookie{Name: "session_id", Value: "sess-stale"})

	require.Equal(t, http.StatusUnauthorized, rec.Code)
	body := decodeBody(t, rec)
	require.Equal(t, "Session not found", body["message"])

	cookie := sessionCookie(t, rec)
	require.NotNil(t, cookie)
	require.Equal(t, "", cookie.Value)
	require.Equal(t, -1, cookie.MaxAge)
	require.False(t, cookie.Expires.After(time.Unix(1, 0)))
}

func TestRequireSessionErrorMessages(t *testing.T) {
	cases := []struct {
		name    string
		err     error
		status  int
		message string
	}{
		{"expired without refresh token", service.ErrSessionExpired, http.StatusUnauthorized, "Session expired"},
		{"refresh rejected", service.ErrRefreshRejected, http.StatusUnauthorized, "Refresh token expired. Please login again"},
		{"refresh failed", service.ErrRefreshFailed, http.StatusUnauthorized, "Session expired and refresh failed"},
		{"user deleted", service.ErrUserNotFound, http.StatusUnauthorized, "User not found"},
		{"store failure", errors.New("connection reset"), http.StatusInternalServerError, "Authentication error"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			stub := &stubAuthenticator{err: tc.err}

			rec := performRequest(t, stub, &http.Cookie{Name: "session_id", Value: "sess-1"})

			require.Equal(t, tc.status, rec.Code)
			body := decodeBody(t, rec)
			require.Equal(t, false, body["success"])
			require.Equal(t, tc.message, body["message"])
		})
	}
}

func TestRequireSessionCustomCookieName(t *testing.T) {
	userID := uuid.New()
	stub := &stubAuthenticator{result: &service.AuthResult{
		User:    &entity.User{ID: userID, Email: "reader@example.com"},
		Session: &entity.Session{ID: "sess-custom", UserID: userID},
	}}

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	req.AddCookie(&http.Cookie{Name: "bff_session", Value: "sess-custom"})
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	m := middleware.SessionMiddleware{Service: stub, CookieName: "bff_session"}
	require.NoError(t, m.RequireSession(okHandler)(c))
	require.Equal(t, "sess-custom", stub.gotSessionID)
}
