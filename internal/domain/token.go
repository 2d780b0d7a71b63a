package domain

import "time"

// TokenType discriminates access vs refresh claims.
type TokenType string

const (
	TokenTypeAccess  TokenType = "access"
	TokenTypeRefresh TokenType = "refresh"
)

// RefreshToken is the ledger record for an issued refresh token. Only the
// token's jti is persisted, never the signed blob itself. Records are
// mutated once (revoked flips to true) and never deleted by the core.
type RefreshToken struct {
	JTI       string
	UserID    string
	ExpiresAt time.Time
	Revoked   bool
	CreatedAt time.Time
}

// Active reports whether the record still authorizes a rotation at the
// given instant. The revoked flag is authoritative; the embedded claim
// expiry is only a ceiling.
func (t *RefreshToken) Active(now time.Time) bool {
	return !t.Revoked && now.Before(t.ExpiresAt)
}
