package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"commonstories/config"

	"golang.org/x/oauth2"
)

// defaultTokenLifetime applies when the authorization server omits
// expires_in from a token response.
const defaultTokenLifetime = 15 * time.Minute

// OAuthClient talks to the external authorization server as a confidential
// client. Client credentials are injected once via config; nothing here reads
// the environment.
type OAuthClient struct {
	conf        *oauth2.Config
	userinfoURL string
	httpClient  *http.Client

	// Clock supplies the base time for the default-expiry fallback.
	Clock Clock
}

func NewOAuthClient(cfg config.OAuthConfig) *OAuthClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &OAuthClient{
		conf: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURI,
			Scopes:       strings.Fields(cfg.Scope),
			Endpoint: oauth2.Endpoint{
				AuthURL:  cfg.AuthorizeURL,
				TokenURL: cfg.TokenURL,
				// The server expects HTTP Basic client authentication.
				AuthStyle: oauth2.AuthStyleInHeader,
			},
		},
		userinfoURL: cfg.UserinfoURL,
		httpClient:  &http.Client{Timeout: timeout},
		Clock:       RealClock{},
	}
}

// ExchangeCode redeems a one-time authorization code together with the PKCE
// verifier. Codes are single-use; failures surface immediately, no retries.
func (c *OAuthClient) ExchangeCode(ctx context.Context, code, codeVerifier string) (*TokenPair, error) {
	token, err := c.conf.Exchange(c.callContext(ctx), code,
		oauth2.SetAuthURLParam("code_verifier", codeVerifier),
	)
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) {
			if retrieveErr.Response != nil && retrieveErr.Response.StatusCode >= http.StatusInternalServerError {
				return nil, fmt.Errorf("%w: code exchange: %s", ErrUpstreamUnavailable, retrieveErr.ErrorCode)
			}
			return nil, fmt.Errorf("%w: %s", ErrAuthorizationRejected, retrieveErr.ErrorCode)
		}
		return nil, fmt.Errorf("%w: code exchange: %v", ErrUpstreamUnavailable, err)
	}
	return c.pairFromToken(token), nil
}

// Refresh exchanges a refresh token for a new token pair. The authorization
// server is the sole arbiter of refresh-token validity: a 4xx answer means
// the user must log in again, a 5xx or transport failure means the server
// might recover.
func (c *OAuthClient) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	source := c.conf.TokenSource(c.callContext(ctx), &oauth2.Token{RefreshToken: refreshToken})
	token, err := source.Token()
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) {
			if retrieveErr.Response != nil && retrieveErr.Response.StatusCode >= http.StatusInternalServerError {
				return nil, fmt.Errorf("%w: refresh: %s", ErrUpstreamUnavailable, retrieveErr.ErrorCode)
			}
			return nil, fmt.Errorf("%w: %s", ErrRefreshRejected, retrieveErr.ErrorCode)
		}
		return nil, fmt.Errorf("%w: refresh: %v", ErrUpstreamUnavailable, err)
	}
	return c.pairFromToken(token), nil
}

// UserInfo fetches the identity payload for a freshly issued access token.
func (c *OAuthClient) UserInfo(ctx context.Context, accessToken string) (*UserInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.userinfoURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: userinfo: %v", ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, fmt.Errorf("%w: userinfo returned %d", ErrUpstreamUnavailable, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: userinfo returned %d", ErrAuthorizationRejected, resp.StatusCode)
	}

	var info UserInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("%w: decode userinfo: %v", ErrAuthorizationRejected, err)
	}
	return &info, nil
}

func (c *OAuthClient) pairFromToken(token *oauth2.Token) *TokenPair {
	expiresAt := token.Expiry
	if expiresAt.IsZero() {
		expiresAt = c.now().Add(defaultTokenLifetime)
	}
	return &TokenPair{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		ExpiresAt:    expiresAt,
	}
}

// callContext bounds the exchange and routes it through the timeout-bearing
// client.
func (c *OAuthClient) callContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
}

func (c *OAuthClient) now() time.Time {
	if c.Clock == nil {
		return time.Now()
	}
	return c.Clock.Now()
}
