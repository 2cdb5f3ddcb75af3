package service

import (
	"context"
	"time"
)

// TokenPair is the normalized result of a token-endpoint exchange.
type TokenPair struct {
	AccessToken string
	// RefreshToken is empty when the authorization server did not reissue
	// one; the stored refresh token stays in place in that case.
	RefreshToken string
	ExpiresAt    time.Time
}

// UserInfo is the identity payload from the authorization server's userinfo
// endpoint.
type UserInfo struct {
	Subject string `json:"sub"`
	Email   string `json:"email"`
	Name    string `json:"name"`
}

// TokenExchanger performs the network exchanges with the external
// authorization server. Implementations classify failures as
// ErrAuthorizationRejected, ErrRefreshRejected or ErrUpstreamUnavailable.
type TokenExchanger interface {
	ExchangeCode(ctx context.Context, code, codeVerifier string) (*TokenPair, error)
	Refresh(ctx context.Context, refreshToken string) (*TokenPair, error)
	UserInfo(ctx context.Context, accessToken string) (*UserInfo, error)
}

type SessionConfig struct {
	// RefreshThreshold is how close to expiry a token must be before the
	// gate refreshes it proactively.
	RefreshThreshold time.Duration
	// CookieTTL is the login horizon granted on every successful refresh.
	CookieTTL time.Duration
}

func (c SessionConfig) refreshThreshold() time.Duration {
	if c.RefreshThreshold > 0 {
		return c.RefreshThreshold
	}
	return 5 * time.Minute
}

func (c SessionConfig) cookieTTL() time.Duration {
	if c.CookieTTL > 0 {
		return c.CookieTTL
	}
	return 7 * 24 * time.Hour
}

type Clock interface {
	Now() time.Time
}

type RealClock struct{}

func (RealClock) Now() time.Time {
	return time.Now()
}
