package entity

import (
	"time"

	"github.com/google/uuid"
)

// Session maps an opaque cookie value to the OAuth token pair held on behalf
// of the browser. The tokens are sealed before they reach this struct; the
// plaintext never touches the database.
type Session struct {
	ID     string    `gorm:"type:varchar(64);primaryKey"`
	UserID uuid.UUID `gorm:"type:uuid;not null;index"`
	User   User      `gorm:"constraint:OnDelete:CASCADE"`

	OAuthAccessToken  string  `gorm:"type:text;not null"`
	OAuthRefreshToken *string `gorm:"type:text"`

	// ExpiresAt is the access token's expiry as reported by the
	// authorization server. It must change together with OAuthAccessToken.
	ExpiresAt time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (s *Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.After(now)
}

// HasRefreshToken reports whether the session can self-heal once the access
// token expires.
func (s *Session) HasRefreshToken() bool {
	return s.OAuthRefreshToken != nil && *s.OAuthRefreshToken != ""
}
