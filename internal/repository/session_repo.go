package repository

import (
	"context"
	"errors"
	"time"

	"commonstories/internal/entity"

	"gorm.io/gorm"
)

type SessionRepository interface {
	Create(ctx context.Context, session *entity.Session) error
	FindByID(ctx context.Context, id string) (*entity.Session, error)
	// UpdateTokens replaces the token pair and expiry in one write. The
	// update is guarded by the previously observed expiry so a refresh that
	// raced with another writer (or a logout) does not clobber newer state;
	// it returns false when the guarded row was not found.
	UpdateTokens(ctx context.Context, id string, prevExpiresAt time.Time, accessToken string, refreshToken *string, expiresAt time.Time) (bool, error)
	Delete(ctx context.Context, id string) error
	// CleanupExpired removes sessions whose access token expired before the
	// cutoff and that can no longer self-heal in practice.
	CleanupExpired(ctx context.Context, before time.Time) (int64, error)
}

type sessionRepository struct {
	db *gorm.DB
}

func NewSessionRepository(db *gorm.DB) SessionRepository {
	return &sessionRepository{db: db}
}

func (r *sessionRepository) Create(ctx context.Context, s *entity.Session) error {
	return r.db.WithContext(ctx).Create(s).Error
}

func (r *sessionRepository) FindByID(ctx context.Context, id string) (*entity.Session, error) {
	var session entity.Session
	err := r.db.WithContext(ctx).
		Where("id = ?", id).
		First(&session).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &session, nil
}

func (r *sessionRepository) UpdateTokens(ctx context.Context, id string, prevExpiresAt time.Time, accessToken string, refreshToken *string, expiresAt time.Time) (bool, error) {
	updates := map[string]any{
		"oauth_access_token": accessToken,
		"expires_at":         expiresAt,
	}
	// The server does not always reissue a refresh token; keep the stored
	// one unless a new one arrived.
	if refreshToken != nil {
		updates["oauth_refresh_token"] = *refreshToken
	}

	result := r.db.WithContext(ctx).
		Model(&entity.Session{}).
		Where("id = ? AND expires_at = ?", id, prevExpiresAt).
		Updates(updates)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *sessionRepository) Delete(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).
		Where("id = ?", id).
		Delete(&entity.Session{}).
		Error
}

func (r *sessionRepository) CleanupExpired(ctx context.Context, before time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("expires_at < ?", before).
		Delete(&entity.Session{})
	return result.RowsAffected, result.Error
}
