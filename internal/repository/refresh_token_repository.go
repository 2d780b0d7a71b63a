package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/KonradBrave61/session-service/internal/domain"
)

// ErrDuplicateJTI indicates an insert collided with an existing ledger row.
// jti values are generated uniquely, so a collision is a bug, never a
// normal path; the insert fails loudly instead of overwriting.
var ErrDuplicateJTI = errors.New("refresh token jti already exists")

// ErrTokenNotActive indicates a rotation lost the race: the predecessor row
// was already revoked, expired, or never existed.
var ErrTokenNotActive = errors.New("refresh token not active")

const pgUniqueViolation = "23505"

// RefreshTokenRepository is the persistent ledger of refresh-token
// identities. Rows are inserted once, revoked at most once, and never
// updated otherwise. Expired rows are inert and may be reaped out of band.
type RefreshTokenRepository interface {
	Insert(ctx context.Context, jti, userID string, expiresAt time.Time) error
	Revoke(ctx context.Context, jti string) error
	IsValid(ctx context.Context, jti, userID string) (bool, error)
	Rotate(ctx context.Context, oldJTI, newJTI, userID string, expiresAt time.Time) error
	Get(ctx context.Context, jti string) (*domain.RefreshToken, error)
	DeleteExpired(ctx context.Context) (int64, error)
}

type refreshTokenRepository struct {
	pool *pgxpool.Pool
}

// NewRefreshTokenRepository returns a Postgres-backed ledger.
func NewRefreshTokenRepository(pool *pgxpool.Pool) RefreshTokenRepository {
	return &refreshTokenRepository{pool: pool}
}

func (r *refreshTokenRepository) Insert(ctx context.Context, jti, userID string, expiresAt time.Time) error {
	const query = `
        INSERT INTO refresh_tokens (jti, user_id, expires_at)
        VALUES ($1, $2, $3)`

	if _, err := r.pool.Exec(ctx, query, jti, userID, expiresAt); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return ErrDuplicateJTI
		}
		return err
	}
	return nil
}

// Revoke marks the row revoked. Revoking an already revoked or missing jti
// is not an error.
func (r *refreshTokenRepository) Revoke(ctx context.Context, jti string) error {
	const query = `
        UPDATE refresh_tokens SET revoked=TRUE
        WHERE jti=$1`

	_, err := r.pool.Exec(ctx, query, jti)
	return err
}

// IsValid reports whether a non-revoked, unexpired row exists for the
// (jti, user) pair. A missing row counts as invalid, not as an error.
func (r *refreshTokenRepository) IsValid(ctx context.Context, jti, userID string) (bool, error) {
	const query = `
        SELECT EXISTS (
            SELECT 1 FROM refresh_tokens
            WHERE jti=$1 AND user_id=$2 AND revoked=FALSE AND expires_at > NOW()
        )`

	var valid bool
	if err := r.pool.QueryRow(ctx, query, jti, userID).Scan(&valid); err != nil {
		return false, err
	}
	return valid, nil
}

// Rotate revokes the predecessor and inserts the successor in a single
// transaction. The revoke is conditional on the predecessor still being
// active, so of two racing rotations exactly one commits; the loser gets
// ErrTokenNotActive. The transaction also closes the crash window between
// the two writes.
func (r *refreshTokenRepository) Rotate(ctx context.Context, oldJTI, newJTI, userID string, expiresAt time.Time) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	const revoke = `
        UPDATE refresh_tokens SET revoked=TRUE
        WHERE jti=$1 AND user_id=$2 AND revoked=FALSE AND expires_at > NOW()`
	cmd, err := tx.Exec(ctx, revoke, oldJTI, userID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrTokenNotActive
	}

	const insert = `
        INSERT INTO refresh_tokens (jti, user_id, expires_at)
        VALUES ($1, $2, $3)`
	if _, err := tx.Exec(ctx, insert, newJTI, userID, expiresAt); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return ErrDuplicateJTI
		}
		return err
	}

	return tx.Commit(ctx)
}

func (r *refreshTokenRepository) Get(ctx context.Context, jti string) (*domain.RefreshToken, error) {
	const query = `
        SELECT jti, user_id, expires_at, revoked, created_at
        FROM refresh_tokens WHERE jti=$1`

	var token domain.RefreshToken
	if err := r.pool.QueryRow(ctx, query, jti).Scan(
		&token.JTI,
		&token.UserID,
		&token.ExpiresAt,
		&token.Revoked,
		&token.CreatedAt,
	); err != nil {
		return nil, err
	}
	return &token, nil
}

// DeleteExpired reaps rows whose expiry has passed. The core never calls
// this on a request path.
func (r *refreshTokenRepository) DeleteExpired(ctx context.Context) (int64, error) {
	const query = `
        DELETE FROM refresh_tokens WHERE expires_at <= NOW()`

	cmd, err := r.pool.Exec(ctx, query)
	if err != nil {
		return 0, err
	}
	return cmd.RowsAffected(), nil
}
