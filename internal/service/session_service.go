package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/KonradBrave61/session-service/internal/auth"
	"github.com/KonradBrave61/session-service/internal/config"
	"github.com/KonradBrave61/session-service/internal/domain"
	"github.com/KonradBrave61/session-service/internal/events"
	"github.com/KonradBrave61/session-service/internal/repository"
	apperrors "github.com/KonradBrave61/session-service/pkg/util"
)

// SessionService coordinates the session lifecycle: registration, login,
// refresh rotation and logout. It is the only writer of the refresh ledger.
type SessionService struct {
	users      repository.UserRepository
	ledger     repository.RefreshTokenRepository
	tokenMgr   *auth.TokenManager
	limiter    LoginLimiter
	dispatcher events.Dispatcher
	authCfg    config.AuthConfig
}

// SessionDependencies bundles collaborator requirements for the service.
type SessionDependencies struct {
	UserRepo    repository.UserRepository
	RefreshRepo repository.RefreshTokenRepository
	Limiter     LoginLimiter
	Dispatcher  events.Dispatcher
}

// SessionTokens is the pair produced by every successful authentication.
// The access token goes into the response body, the refresh token into the
// cookie side-channel; the server keeps no record of either string.
type SessionTokens struct {
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
}

// RegisterInput describes a registration payload.
type RegisterInput struct {
	Username     string
	Email        string
	Password     string
	CoachLevel   int
	FavoriteTeam string
	RememberMe   bool
}

// ProfileUpdateInput describes a profile mutation. Nil fields are left
// untouched.
type ProfileUpdateInput struct {
	Username     *string
	CoachLevel   *int
	FavoriteTeam *string
}

// NewSessionService builds the service.
func NewSessionService(cfg config.Config, deps SessionDependencies) *SessionService {
	limiter := deps.Limiter
	if limiter == nil {
		limiter = NoopLoginLimiter{}
	}
	return &SessionService{
		users:      deps.UserRepo,
		ledger:     deps.RefreshRepo,
		tokenMgr:   auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTL()),
		limiter:    limiter,
		dispatcher: deps.Dispatcher,
		authCfg:    cfg.Auth,
	}
}

// Register creates a new account and opens its first session. Email and
// username are both uniqueness-checked so the caller learns which field
// collided, but nothing about the existing account.
func (s *SessionService) Register(ctx context.Context, input RegisterInput) (*domain.User, *SessionTokens, error) {
	if _, err := s.users.GetByEmail(ctx, input.Email); err == nil {
		return nil, nil, apperrors.NewDuplicateIdentity("email already registered")
	} else if !errors.Is(err, pgx.ErrNoRows) {
		return nil, nil, err
	}
	if _, err := s.users.GetByUsername(ctx, input.Username); err == nil {
		return nil, nil, apperrors.NewDuplicateIdentity("username already taken")
	} else if !errors.Is(err, pgx.ErrNoRows) {
		return nil, nil, err
	}

	hash, err := auth.HashPassword(input.Password, s.authCfg.BcryptCost)
	if err != nil {
		return nil, nil, err
	}

	coachLevel := input.CoachLevel
	if coachLevel <= 0 {
		coachLevel = 1
	}
	user := &domain.User{
		Username:     input.Username,
		Email:        input.Email,
		PasswordHash: hash,
		CoachLevel:   coachLevel,
		FavoriteTeam: input.FavoriteTeam,
		Status:       domain.UserStatusActive,
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, nil, err
	}

	tokens, jti, err := s.openSession(ctx, user.ID, input.RememberMe)
	if err != nil {
		return nil, nil, err
	}

	s.publish(ctx, events.Event{
		Type:   events.EventUserRegistered,
		UserID: user.ID,
		Payload: events.SessionPayload{
			JTI:        jti,
			ExpiresAt:  tokens.RefreshExpiresAt,
			RememberMe: input.RememberMe,
		},
	})
	return user, tokens, nil
}

// Login authenticates by email and password. Unknown email and wrong
// password produce the same error.
func (s *SessionService) Login(ctx context.Context, email, password, ip string, rememberMe bool) (*domain.User, *SessionTokens, error) {
	if err := s.limiter.Allow(ctx, email, ip); err != nil {
		if errors.Is(err, ErrRateLimited) {
			s.publish(ctx, events.Event{
				Type:    events.EventLoginRateLimited,
				Payload: events.RateLimitPayload{Email: email},
			})
			return nil, nil, apperrors.NewRateLimited("too many login attempts")
		}
		return nil, nil, err
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil, apperrors.NewInvalidCredentials()
		}
		return nil, nil, err
	}
	if err := auth.ComparePassword(user.PasswordHash, password); err != nil {
		return nil, nil, apperrors.NewInvalidCredentials()
	}

	tokens, jti, err := s.openSession(ctx, user.ID, rememberMe)
	if err != nil {
		return nil, nil, err
	}

	s.publish(ctx, events.Event{
		Type:   events.EventUserLoggedIn,
		UserID: user.ID,
		Payload: events.SessionPayload{
			JTI:        jti,
			ExpiresAt:  tokens.RefreshExpiresAt,
			RememberMe: rememberMe,
		},
	})
	return user, tokens, nil
}

// Refresh rotates the presented refresh token. The ledger, not the claim
// expiry, is the authority: a revoked or missing jti fails here even if the
// signed blob still verifies. Exactly one of two racing calls wins; the
// loser sees the revocation and fails.
func (s *SessionService) Refresh(ctx context.Context, presented string) (*SessionTokens, error) {
	claims, err := s.tokenMgr.ParseRefreshToken(presented)
	if err != nil {
		return nil, apperrors.NewUnauthenticated("invalid refresh token")
	}

	valid, err := s.ledger.IsValid(ctx, claims.ID, claims.Subject)
	if err != nil {
		return nil, err
	}
	if !valid {
		s.publish(ctx, events.Event{
			Type:    events.EventRefreshReplay,
			UserID:  claims.Subject,
			Payload: events.ReplayPayload{JTI: claims.ID},
		})
		return nil, apperrors.NewUnauthenticated("invalid refresh token")
	}

	// Preserve the lineage's original lifetime when minting the successor.
	ttl := s.authCfg.RefreshTokenTTL(false)
	if record, err := s.ledger.Get(ctx, claims.ID); err == nil {
		if lifetime := record.ExpiresAt.Sub(record.CreatedAt); lifetime > 0 {
			ttl = lifetime
		}
	}

	refreshToken, newJTI, refreshExp, err := s.tokenMgr.GenerateRefreshToken(claims.Subject, ttl)
	if err != nil {
		return nil, err
	}
	if err := s.ledger.Rotate(ctx, claims.ID, newJTI, claims.Subject, refreshExp); err != nil {
		if errors.Is(err, repository.ErrTokenNotActive) {
			// Lost the race to a concurrent rotation of the same token.
			s.publish(ctx, events.Event{
				Type:    events.EventRefreshReplay,
				UserID:  claims.Subject,
				Payload: events.ReplayPayload{JTI: claims.ID},
			})
			return nil, apperrors.NewUnauthenticated("invalid refresh token")
		}
		return nil, err
	}

	accessToken, accessExp, err := s.tokenMgr.GenerateAccessToken(claims.Subject)
	if err != nil {
		return nil, err
	}

	s.publish(ctx, events.Event{
		Type:   events.EventTokenRefreshed,
		UserID: claims.Subject,
		Payload: events.RotationPayload{
			OldJTI:    claims.ID,
			NewJTI:    newJTI,
			ExpiresAt: refreshExp,
		},
	})
	return &SessionTokens{
		AccessToken:      accessToken,
		AccessExpiresAt:  accessExp,
		RefreshToken:     refreshToken,
		RefreshExpiresAt: refreshExp,
	}, nil
}

// Logout revokes the presented refresh token when it decodes to a
// well-formed refresh claim. It never returns an error: logout always
// succeeds from the client's perspective.
func (s *SessionService) Logout(ctx context.Context, presented string) {
	claims, err := s.tokenMgr.ParseRefreshToken(presented)
	if err != nil {
		return
	}
	_ = s.ledger.Revoke(ctx, claims.ID)
	s.publish(ctx, events.Event{
		Type:    events.EventUserLoggedOut,
		UserID:  claims.Subject,
		Payload: events.ReplayPayload{JTI: claims.ID},
	})
}

// UpdateProfile mutates profile fields on the principal. A username change
// re-checks uniqueness.
func (s *SessionService) UpdateProfile(ctx context.Context, userID string, input ProfileUpdateInput) (*domain.User, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	if input.Username != nil && *input.Username != user.Username {
		if _, err := s.users.GetByUsername(ctx, *input.Username); err == nil {
			return nil, apperrors.NewDuplicateIdentity("username already taken")
		} else if !errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		user.Username = *input.Username
	}
	if input.CoachLevel != nil {
		user.CoachLevel = *input.CoachLevel
	}
	if input.FavoriteTeam != nil {
		user.FavoriteTeam = *input.FavoriteTeam
	}

	if err := s.users.Update(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// RefreshTokenTTL exposes the configured cookie lifetime for the given
// remember-me preference.
func (s *SessionService) RefreshTokenTTL(rememberMe bool) time.Duration {
	return s.authCfg.RefreshTokenTTL(rememberMe)
}

// TokenManager exposes the underlying token manager for middleware usage.
func (s *SessionService) TokenManager() *auth.TokenManager {
	return s.tokenMgr
}

// openSession issues the token pair and records the refresh identity in the
// ledger.
func (s *SessionService) openSession(ctx context.Context, userID string, rememberMe bool) (*SessionTokens, string, error) {
	accessToken, accessExp, err := s.tokenMgr.GenerateAccessToken(userID)
	if err != nil {
		return nil, "", err
	}

	refreshToken, jti, refreshExp, err := s.tokenMgr.GenerateRefreshToken(userID, s.authCfg.RefreshTokenTTL(rememberMe))
	if err != nil {
		return nil, "", err
	}
	if err := s.ledger.Insert(ctx, jti, userID, refreshExp); err != nil {
		return nil, "", err
	}

	return &SessionTokens{
		AccessToken:      accessToken,
		AccessExpiresAt:  accessExp,
		RefreshToken:     refreshToken,
		RefreshExpiresAt: refreshExp,
	}, jti, nil
}

func (s *SessionService) publish(ctx context.Context, event events.Event) {
	if s.dispatcher == nil {
		return
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	_ = s.dispatcher.Publish(ctx, event)
}
