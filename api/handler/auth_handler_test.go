package handler_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"commonstories/api/handler"
	"commonstories/api/middleware"
	"commonstories/internal/entity"
	"commonstories/internal/service"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"
)

type stubAuthFlow struct {
	gotCode       string
	gotVerifier   string
	gotLogoutID   string
	loginResult   *service.LoginResult
	loginErr      error
	logoutErr     error
	logoutCalls   int
	completeCalls int
}

func (s *stubAuthFlow) CompleteAuthorization(_ context.Context, code, codeVerifier string, _ *string) (*service.LoginResult, error) {
	s.completeCalls++
	s.gotCode = code
	s.gotVerifier = codeVerifier
	if s.loginErr != nil {
		return nil, s.loginErr
	}
	return s.loginResult, nil
}

func (s *stubAuthFlow) Logout(_ context.Context, sessionID string, _ *string) error {
	s.logoutCalls++
	s.gotLogoutID = sessionID
	return s.logoutErr
}

type stubClock struct{ now time.Time }

func (c stubClock) Now() time.Time { return c.now }

var handlerNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestHandler(flow *stubAuthFlow) *handler.AuthHandler {
	h := handler.NewAuthHandler(flow, validator.New())
	h.Clock = stubClock{now: handlerNow}
	return h
}

func postCallback(t *testing.T, h *handler.AuthHandler, body string) *httptest.ResponseRecorder {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/auth/oauth/callback", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	require.NoError(t, h.OAuthCallback(e.NewContext(req, rec)))
	return rec
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func responseCookie(rec *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, cookie := range rec.Result().Cookies() {
		if cookie.Name == name {
			return cookie
		}
	}
	return nil
}

func TestOAuthCallbackSuccess(t *testing.T) {
	userID := uuid.New()
	flow := &stubAuthFlow{loginResult: &service.LoginResult{
		User:           &entity.User{ID: userID, Email: "reader@example.com", Name: "Reader", Role: "editor"},
		SessionID:      "sess-new",
		CookieExpiry:   handlerNow.Add(7 * 24 * time.Hour),
		TokenExpiresAt: handlerNow.Add(15 * time.Minute),
	}}
	h := newTestHandler(flow)

	rec := postCallback(t, h, `{"code":"one-time-code","code_verifier":"retained-verifier"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "one-time-code", flow.gotCode)
	require.Equal(t, "retained-verifier", flow.gotVerifier)

	body := decodeResponse(t, rec)
	require.Equal(t, true, body["success"])
	require.Equal(t, "Login successful", body["message"])

	user := body["user"].(map[string]any)
	require.Equal(t, "reader@example.com", user["email"])
	require.Equal(t, "editor", user["role"])

	token := body["token"].(map[string]any)
	require.Equal(t, float64(15*60), token["expires_in"])

	// OAuth tokens never appear in the envelope.
	require.NotContains(t, rec.Body.String(), "access_token")
	require.NotContains(t, rec.Body.String(), "refresh_token")

	cookie := responseCookie(rec, middleware.DefaultSessionCookieName)
	require.NotNil(t, cookie)
	require.Equal(t, "sess-new", cookie.Value)
	require.True(t, cookie.HttpOnly)
	require.True(t, cookie.Secure)
	require.Equal(t, http.SameSiteLaxMode, cookie.SameSite)
	// Max-Age comes from the handler's clock, not the wall clock.
	require.Equal(t, int(7*24*time.Hour/time.Second), cookie.MaxAge)
}

func TestOAuthCallbackMalformedBody(t *testing.T) {
	flow := &stubAuthFlow{}
	rec := postCallback(t, newTestHandler(flow), `{"code":`)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "Invalid request body", decodeResponse(t, rec)["message"])
	require.Zero(t, flow.completeCalls)
}

func TestOAuthCallbackUnknownField(t *testing.T) {
	flow := &stubAuthFlow{}
	rec := postCallback(t, newTestHandler(flow), `{"code":"c","code_verifier":"v","state":"x"}`)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Zero(t, flow.completeCalls)
}

func TestOAuthCallbackMissingVerifier(t *testing.T) {
	flow := &stubAuthFlow{}
	rec := postCallback(t, newTestHandler(flow), `{"code":"one-time-code"}`)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "Code and code verifier are required", decodeResponse(t, rec)["message"])
	require.Zero(t, flow.completeCalls)
}

func TestOAuthCallbackErrorMapping(t *testing.T) {
	cases := []struct {
		name    string
		err     error
		status  int
		message string
	}{
		{"rejected exchange", service.ErrAuthorizationRejected, http.StatusBadRequest, "Login failed"},
		{"unprovisioned user", service.ErrUserNotProvisioned, http.StatusNotFound,
			"User not found in database. Please contact the administrator to create an account for you."},
		{"missing role", service.ErrNoRoleAssigned, http.StatusForbidden,
			"No role assigned to your account. Please contact the administrator to assign a role before proceeding."},
		{"upstream down", service.ErrUpstreamUnavailable, http.StatusBadGateway, "Authorization server unavailable"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			flow := &stubAuthFlow{loginErr: tc.err}
			rec := postCallback(t, newTestHandler(flow), `{"code":"c","code_verifier":"v"}`)

			require.Equal(t, tc.status, rec.Code)
			body := decodeResponse(t, rec)
			require.Equal(t, false, body["success"])
			require.Equal(t, tc.message, body["message"])
			require.Nil(t, responseCookie(rec, middleware.DefaultSessionCookieName))
		})
	}
}

func TestMeReportsTokenExpiry(t *testing.T) {
	h := newTestHandler(&stubAuthFlow{})
	userID := uuid.New()

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	middleware.SetAuthContext(c,
		&entity.User{ID: userID, Email: "reader@example.com", Role: "editor"},
		&entity.Session{ID: "sess-1", UserID: userID, ExpiresAt: handlerNow.Add(4 * time.Minute)},
	)

	require.NoError(t, h.Me(c))
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeResponse(t, rec)
	require.Equal(t, true, body["success"])
	token := body["token"].(map[string]any)
	require.Equal(t, float64(4*60), token["expires_in"])
}

func TestMeWithoutContext(t *testing.T) {
	h := newTestHandler(&stubAuthFlow{})

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	rec := httptest.NewRecorder()

	require.NoError(t, h.Me(e.NewContext(req, rec)))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Equal(t, "No session found", decodeResponse(t, rec)["message"])
}

func TestLogoutClearsCookie(t *testing.T) {
	flow := &stubAuthFlow{}
	h := newTestHandler(flow)

	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
	req.AddCookie(&http.Cookie{Name: "session_id", Value: "sess-1"})
	rec := httptest.NewRecorder()

	require.NoError(t, h.Logout(e.NewContext(req, rec)))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "sess-1", flow.gotLogoutID)
	require.Equal(t, "Logged out successfully", decodeResponse(t, rec)["message"])

	cookie := responseCookie(rec, middleware.DefaultSessionCookieName)
	require.NotNil(t, cookie)
	require.Equal(t, "", cookie.Value)
	require.Equal(t, -1, cookie.MaxAge)
}

func TestLogoutWithoutCookie(t *testing.T) {
	flow := &stubAuthFlow{}
	h := newTestHandler(flow)

	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
	rec := httptest.NewRecorder()

	require.NoError(t, h.Logout(e.NewContext(req, rec)))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 1, flow.logoutCalls)
	require.Equal(t, "", flow.gotLogoutID)
}

func TestHealth(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()

	require.NoError(t, handler.Health(e.NewContext(req, rec)))
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}
