package service

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"commonstories/internal/entity"
	"commonstories/internal/repository"
	"commonstories/internal/utils"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
)

// sessionIDBytes of entropy per session id; the encoded id is the cookie
// value and the primary key.
const sessionIDBytes = 32

// LoginResult is what a completed authorization hands back to the HTTP
// layer. Raw OAuth tokens deliberately never appear here.
type LoginResult struct {
	User           *entity.User
	SessionID      string
	CookieExpiry   time.Time
	TokenExpiresAt time.Time
}

// AuthService completes the PKCE authorization flow server-side and owns
// logout and session housekeeping.
type AuthService struct {
	users        repository.UserRepository
	sessions     repository.SessionRepository
	securityLogs repository.SecurityLogRepository

	tokens TokenExchanger
	cipher *utils.TokenCipher
	clock  Clock
	logger *logrus.Logger
	config SessionConfig
}

func NewAuthService(
	users repository.UserRepository,
	sessions repository.SessionRepository,
	securityLogs repository.SecurityLogRepository,
	tokens TokenExchanger,
	cipher *utils.TokenCipher,
	clock Clock,
	logger *logrus.Logger,
	config SessionConfig,
) *AuthService {
	return &AuthService{
		users:        users,
		sessions:     sessions,
		securityLogs: securityLogs,
		tokens:       tokens,
		cipher:       cipher,
		clock:        clock,
		logger:       logger,
		config:       config,
	}
}

// CompleteAuthorization redeems the authorization code the browser obtained,
// using the PKCE verifier the browser retained. The verifier must be the one
// that produced the challenge sent on the redirect; this service never
// substitutes another. On success a new session is created and only its
// opaque id leaves the server.
func (s *AuthService) CompleteAuthorization(ctx context.Context, code, codeVerifier string, ipAddress *string) (*LoginResult, error) {
	if strings.TrimSpace(code) == "" || strings.TrimSpace(codeVerifier) == "" {
		return nil, ErrInvalidInput
	}

	pair, err := s.tokens.ExchangeCode(ctx, code, codeVerifier)
	if err != nil {
		s.logger.WithError(err).Warn("authorization code exchange failed")
		return nil, err
	}

	info, err := s.tokens.UserInfo(ctx, pair.AccessToken)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(info.Email) == "" {
		return nil, ErrAuthorizationRejected
	}

	user, err := s.users.FindByEmail(ctx, utils.NormalizeEmail(info.Email))
	if err != nil {
		return nil, err
	}
	if user == nil {
		s.logSecurity(ctx, nil, ipAddress, entity.LoginFailed, map[string]any{"email": info.Email})
		return nil, ErrUserNotProvisioned
	}
	if strings.TrimSpace(user.Role) == "" {
		s.logSecurity(ctx, &user.ID, ipAddress, entity.LoginFailed, map[string]any{"reason": "no role"})
		return nil, ErrNoRoleAssigned
	}

	sessionID, err := utils.GenerateRandomToken(sessionIDBytes)
	if err != nil {
		return nil, err
	}
	sealedAccess, err := s.cipher.Seal(pair.AccessToken)
	if err != nil {
		return nil, err
	}
	var sealedRefresh *string
	if pair.RefreshToken != "" {
		sealed, err := s.cipher.Seal(pair.RefreshToken)
		if err != nil {
			return nil, err
		}
		sealedRefresh = &sealed
	}

	session := &entity.Session{
		ID:                sessionID,
		UserID:            user.ID,
		OAuthAccessToken:  sealedAccess,
		OAuthRefreshToken: sealedRefresh,
		ExpiresAt:         pair.ExpiresAt,
	}
	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, err
	}

	s.logSecurity(ctx, &user.ID, ipAddress, entity.LoginSuccess, map[string]any{"session_id": sessionID})
	s.logger.WithFields(logrus.Fields{
		"user_id":    user.ID,
		"session_id": sessionID,
	}).Info("login completed")

	now := s.now()
	return &LoginResult{
		User:           user,
		SessionID:      sessionID,
		CookieExpiry:   now.Add(s.config.cookieTTL()),
		TokenExpiresAt: pair.ExpiresAt,
	}, nil
}

// Logout deletes the session row. The gate treats a deleted row as
// unauthenticated, so a logged-out cookie can never resurrect a session.
// Unknown ids are not an error: the cookie gets cleared either way.
func (s *AuthService) Logout(ctx context.Context, sessionID string, ipAddress *string) error {
	if strings.TrimSpace(sessionID) == "" {
		return nil
	}
	if err := s.sessions.Delete(ctx, sessionID); err != nil {
		return err
	}
	s.logSecurity(ctx, nil, ipAddress, entity.Logout, map[string]any{"session_id": sessionID})
	return nil
}

// CleanupExpiredSessions removes sessions whose access token expired longer
// than the retention window ago. Refresh stays strictly inline per request;
// this only reclaims rows nobody presented a cookie for.
func (s *AuthService) CleanupExpiredSessions(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := s.now().Add(-retention)
	removed, err := s.sessions.CleanupExpired(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		s.logger.WithField("removed", removed).Info("expired sessions cleaned up")
	}
	return removed, nil
}

func (s *AuthService) logSecurity(ctx context.Context, userID *uuid.UUID, ipAddress *string, action entity.SecurityAction, metadata map[string]any) {
	if s.securityLogs == nil {
		return
	}
	var payload datatypes.JSON
	if metadata != nil {
		if bytes, err := json.Marshal(metadata); err == nil {
			payload = datatypes.JSON(bytes)
		}
	}
	if err := s.securityLogs.Log(ctx, &entity.SecurityLog{
		UserID:    userID,
		IPAddress: ipAddress,
		Action:    action,
		Metadata:  payload,
	}); err != nil {
		s.logger.WithError(err).Warn("security log write failed")
	}
}

func (s *AuthService) now() time.Time {
	if s.clock == nil {
		return time.Now()
	}
	return s.clock.Now()
}
