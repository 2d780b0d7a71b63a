package domain

import "time"

// UserStatus represents lifecycle states for a player account.
type UserStatus string

const (
	UserStatusActive    UserStatus = "ACTIVE"
	UserStatusSuspended UserStatus = "SUSPENDED"
)

// User is the domain model for an authenticated principal. It never embeds
// tokens; issued tokens reference it by ID only.
type User struct {
	ID           string
	Username     string
	Email        string
	PasswordHash string
	CoachLevel   int
	FavoriteTeam string
	Status       UserStatus
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
