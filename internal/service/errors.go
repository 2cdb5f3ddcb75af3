package service

import "errors"

// Gate outcomes. Every one of these maps to a 401 at the HTTP edge; the
// middleware owns the exact user-facing wording.
var (
	ErrNoSession       = errors.New("no session presented")
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionExpired  = errors.New("session expired")
	ErrRefreshFailed   = errors.New("session expired and refresh failed")
	ErrRefreshRejected = errors.New("refresh token rejected")
	ErrUserNotFound    = errors.New("user not found")
)

// Authorization flow outcomes.
var (
	ErrInvalidInput          = errors.New("invalid input")
	ErrAuthorizationRejected = errors.New("authorization rejected")
	ErrUpstreamUnavailable   = errors.New("authorization server unavailable")
	ErrUserNotProvisioned    = errors.New("user not provisioned")
	ErrNoRoleAssigned        = errors.New("no role assigned")
)
