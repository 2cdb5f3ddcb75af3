package dto

import (
	"time"

	"commonstories/internal/entity"
)

type OAuthCallbackRequest struct {
	Code         string `json:"code" validate:"required"`
	CodeVerifier string `json:"code_verifier" validate:"required"`
}

type UserResponse struct {
	ID             string  `json:"id"`
	Email          string  `json:"email"`
	Name           string  `json:"name"`
	Role           string  `json:"role"`
	OrganizationID *string `json:"organization_id,omitempty"`
}

// TokenInfo advertises the access token's expiry so the client can schedule
// its next check-in. Purely advisory: the gate's server-side check always
// governs.
type TokenInfo struct {
	ExpiresAt time.Time `json:"expires_at"`
	ExpiresIn int64     `json:"expires_in"`
}

// AuthResponse is the uniform envelope for auth endpoints. OAuth tokens are
// never part of it.
type AuthResponse struct {
	Success bool          `json:"success"`
	Message string        `json:"message,omitempty"`
	User    *UserResponse `json:"user,omitempty"`
	Token   *TokenInfo    `json:"token,omitempty"`
}

func UserResponseFromEntity(user *entity.User) *UserResponse {
	resp := &UserResponse{
		ID:    user.ID.String(),
		Email: user.Email,
		Name:  user.Name,
		Role:  user.Role,
	}
	if user.OrganizationID != nil {
		id := user.OrganizationID.String()
		resp.OrganizationID = &id
	}
	return resp
}

func TokenInfoFrom(expiresAt time.Time, now time.Time) *TokenInfo {
	expiresIn := int64(expiresAt.Sub(now).Seconds())
	if expiresIn < 0 {
		expiresIn = 0
	}
	return &TokenInfo{ExpiresAt: expiresAt, ExpiresIn: expiresIn}
}
