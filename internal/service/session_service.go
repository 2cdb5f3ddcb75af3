package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"commonstories/internal/entity"
	"commonstories/internal/repository"
	"commonstories/internal/utils"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
)

// AuthResult is the outcome of a successful authentication: the resolved
// user, the (possibly just refreshed) session, and whether the response must
// carry an extended session cookie.
type AuthResult struct {
	User    *entity.User
	Session *entity.Session

	// Refreshed is true when the token pair was replaced during this
	// request; the middleware rewrites the cookie only then.
	Refreshed bool
	// CookieExpiry is the new cookie horizon, set when Refreshed.
	CookieExpiry time.Time
}

// SessionService is the per-request authentication gate: it turns a session
// cookie value into an authenticated identity, silently refreshing the
// underlying OAuth access token when it is expiring or expired.
type SessionService struct {
	sessions     repository.SessionRepository
	users        repository.UserRepository
	securityLogs repository.SecurityLogRepository

	tokens TokenExchanger
	cipher *utils.TokenCipher
	clock  Clock
	logger *logrus.Logger
	config SessionConfig

	locks *sessionLocks
}

func NewSessionService(
	sessions repository.SessionRepository,
	users repository.UserRepository,
	securityLogs repository.SecurityLogRepository,
	tokens TokenExchanger,
	cipher *utils.TokenCipher,
	clock Clock,
	logger *logrus.Logger,
	config SessionConfig,
) *SessionService {
	return &SessionService{
		sessions:     sessions,
		users:        users,
		securityLogs: securityLogs,
		tokens:       tokens,
		cipher:       cipher,
		clock:        clock,
		logger:       logger,
		config:       config,
		locks:        newSessionLocks(),
	}
}

// Authenticate resolves a session cookie value into an AuthResult.
//
// The freshness check runs in order, first match wins: a token comfortably
// before expiry proceeds untouched; a token inside the refresh threshold is
// refreshed proactively and a failure there is tolerated because the token is
// still valid; an already expired token is refreshed reactively and a failure
// there rejects the request. An expired token with no refresh token fails
// without any network call.
func (s *SessionService) Authenticate(ctx context.Context, sessionID string) (*AuthResult, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, ErrNoSession
	}

	session, err := s.sessions.FindByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, ErrSessionNotFound
	}

	now := s.now()
	refreshed := false

	switch {
	case session.ExpiresAt.Sub(now) > s.config.refreshThreshold():
		// Comfortably fresh.

	case !session.Expired(now):
		if session.HasRefreshToken() {
			updated, err := s.refreshSession(ctx, session, "proactive")
			if err != nil {
				// The access token has not actually expired; carry
				// the request and try again next time.
				s.logger.WithError(err).WithField("session_id", session.ID).
					Warn("proactive token refresh failed")
			} else {
				session = updated
				refreshed = true
			}
		}

	default:
		if !session.HasRefreshToken() {
			return nil, ErrSessionExpired
		}
		updated, err := s.refreshSession(ctx, session, "reactive")
		if err != nil {
			if errors.Is(err, ErrRefreshRejected) {
				return nil, ErrRefreshRejected
			}
			if errors.Is(err, ErrSessionNotFound) {
				return nil, ErrSessionNotFound
			}
			return nil, ErrRefreshFailed
		}
		session = updated
		refreshed = true
	}

	user, err := s.users.FindByID(ctx, session.UserID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		// A session must never outlive its user.
		return nil, ErrUserNotFound
	}

	result := &AuthResult{User: user, Session: session, Refreshed: refreshed}
	if refreshed {
		result.CookieExpiry = now.Add(s.config.cookieTTL())
	}
	return result, nil
}

// refreshSession exchanges the stored refresh token for a new pair and
// persists it. The per-session lock serializes concurrent refreshes; the
// request that loses the lock re-reads the row and reuses the winner's
// tokens.
func (s *SessionService) refreshSession(ctx context.Context, session *entity.Session, trigger string) (*entity.Session, error) {
	unlock := s.locks.lock(session.ID)
	defer unlock()

	current, err := s.sessions.FindByID(ctx, session.ID)
	if err != nil {
		return nil, err
	}
	if current == nil {
		// Logged out while we waited for the lock.
		return nil, ErrSessionNotFound
	}
	if current.ExpiresAt.After(session.ExpiresAt) {
		// A concurrent request already refreshed.
		return current, nil
	}
	if !current.HasRefreshToken() {
		return nil, ErrRefreshRejected
	}

	refreshToken, err := s.cipher.Open(*current.OAuthRefreshToken)
	if err != nil {
		return nil, ErrRefreshRejected
	}

	started := time.Now()
	pair, err := s.tokens.Refresh(ctx, refreshToken)
	duration := time.Since(started)
	if err != nil {
		s.logger.WithError(err).WithFields(logrus.Fields{
			"session_id":  current.ID,
			"trigger":     trigger,
			"duration_ms": duration.Milliseconds(),
		}).Warn("token refresh failed")
		s.logSecurity(ctx, &current.UserID, entity.RefreshFailed, map[string]any{
			"session_id": current.ID,
			"trigger":    trigger,
		})
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

	updated, err := s.sessions.UpdateTokens(ctx, current.ID, current.ExpiresAt, sealedAccess, sealedRefresh, pair.ExpiresAt)
	if err != nil {
		return nil, err
	}
	if !updated {
		// The guarded write missed: the row changed or vanished
		// underneath us. Trust whatever is stored now.
		again, err := s.sessions.FindByID(ctx, current.ID)
		if err != nil {
			return nil, err
		}
		if again == nil {
			return nil, ErrSessionNotFound
		}
		return again, nil
	}

	current.OAuthAccessToken = sealedAccess
	if sealedRefresh != nil {
		current.OAuthRefreshToken = sealedRefresh
	}
	current.ExpiresAt = pair.ExpiresAt

	s.logger.WithFields(logrus.Fields{
		"session_id":  current.ID,
		"trigger":     trigger,
		"expires_at":  pair.ExpiresAt,
		"duration_ms": duration.Milliseconds(),
	}).Info("token refreshed")
	s.logSecurity(ctx, &current.UserID, entity.TokenRefreshed, map[string]any{
		"session_id": current.ID,
		"trigger":    trigger,
	})

	return current, nil
}

func (s *SessionService) logSecurity(ctx context.Context, userID *uuid.UUID, action entity.SecurityAction, metadata map[string]any) {
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
		UserID:   userID,
		Action:   action,
		Metadata: payload,
	}); err != nil {
		s.logger.WithError(err).Warn("security log write failed")
	}
}

func (s *SessionService) now() time.Time {
	if s.clock == nil {
		return time.Now()
	}
	return s.clock.Now()
}
