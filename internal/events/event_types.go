package events

import "time"

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventUserRegistered   EventType = "user_registered"
	EventUserLoggedIn     EventType = "user_logged_in"
	EventTokenRefreshed   EventType = "token_refreshed"
	EventUserLoggedOut    EventType = "user_logged_out"
	EventRefreshReplay    EventType = "refresh_replay_denied"
	EventLoginRateLimited EventType = "login_rate_limited"
)

// Event represents an auth lifecycle event emitted by services.
type Event struct {
	ID        string      `json:"id"`
	Type      EventType   `json:"type"`
	UserID    string      `json:"user_id,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// SessionPayload carries token lineage metadata for issuance events.
type SessionPayload struct {
	JTI        string    `json:"jti"`
	ExpiresAt  time.Time `json:"expires_at"`
	RememberMe bool      `json:"remember_me,omitempty"`
}

// RotationPayload records a refresh rotation.
type RotationPayload struct {
	OldJTI    string    `json:"old_jti"`
	NewJTI    string    `json:"new_jti"`
	ExpiresAt time.Time `json:"expires_at"`
}

// ReplayPayload records a rejected reuse of a rotated or revoked token.
type ReplayPayload struct {
	JTI string `json:"jti"`
}

// RateLimitPayload records a throttled login attempt.
type RateLimitPayload struct {
	Email string `json:"email"`
}
