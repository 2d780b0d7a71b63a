package dto

import (
	"time"

	"github.com/KonradBrave61/session-service/internal/domain"
)

// RegisterRequest payload for new accounts.
type RegisterRequest struct {
	Username     string `json:"username"`
	Email        string `json:"email"`
	Password     string `json:"password"`
	CoachLevel   int    `json:"coach_level"`
	FavoriteTeam string `json:"favorite_team"`
	RememberMe   bool   `json:"remember_me"`
}

// LoginRequest payload for login.
type LoginRequest struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	RememberMe bool   `json:"remember_me"`
}

// TokenResponse carries the access token. The refresh token travels only in
// the cookie, never in a body.
type TokenResponse struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// AuthResponse is the body for register and login.
type AuthResponse struct {
	AccessToken string       `json:"access_token"`
	TokenType   string       `json:"token_type"`
	ExpiresAt   time.Time    `json:"expires_at"`
	User        UserResponse `json:"user"`
}

// UserResponse is the public projection of a principal.
type UserResponse struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	CoachLevel   int       `json:"coach_level"`
	FavoriteTeam string    `json:"favorite_team"`
	CreatedAt    time.Time `json:"created_at"`
}

// UpdateProfileRequest payload for PUT /auth/me.
type UpdateProfileRequest struct {
	Username     *string `json:"username"`
	CoachLevel   *int    `json:"coach_level"`
	FavoriteTeam *string `json:"favorite_team"`
}

// NewUserResponse converts a domain user.
func NewUserResponse(user *domain.User) UserResponse {
	return UserResponse{
		ID:           user.ID,
		Username:     user.Username,
		Email:        user.Email,
		CoachLevel:   user.CoachLevel,
		FavoriteTeam: user.FavoriteTeam,
		CreatedAt:    user.CreatedAt,
	}
}
