package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/KonradBrave61/session-service/internal/config"
	"github.com/KonradBrave61/session-service/internal/domain"
	"github.com/KonradBrave61/session-service/internal/events"
	"github.com/KonradBrave61/session-service/internal/repository"
	apperrors "github.com/KonradBrave61/session-service/pkg/util"
)

type memUserRepo struct {
	mu    sync.Mutex
	users map[string]*domain.User
}

func newMemUserRepo() *memUserRepo {
	return &memUserRepo{users: make(map[string]*domain.User)}
}

func (r *memUserRepo) Create(_ context.Context, user *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	user.ID = uuid.NewString()
	user.CreatedAt = time.Now()
	user.UpdatedAt = user.CreatedAt
	clone := *user
	r.users[user.ID] = &clone
	return nil
}

func (r *memUserRepo) Update(_ context.Context, user *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.users[user.ID]; !ok {
		return pgx.ErrNoRows
	}
	clone := *user
	r.users[user.ID] = &clone
	return nil
}

func (r *memUserRepo) GetByID(_ context.Context, id string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if user, ok := r.users[id]; ok {
		clone := *user
		return &clone, nil
	}
	return nil, pgx.ErrNoRows
}

func (r *memUserRepo) GetByEmail(_ context.Context, email string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, user := range r.users {
		if user.Email == email {
			clone := *user
			return &clone, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (r *memUserRepo) GetByUsername(_ context.Context, username string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, user := range r.users {
		if user.Username == username {
			clone := *user
			return &clone, nil
		}
	}
	return nil, pgx.ErrNoRows
}

type memLedger struct {
	mu     sync.Mutex
	tokens map[string]*domain.RefreshToken
}

func newMemLedger() *memLedger {
	return &memLedger{tokens: make(map[string]*domain.RefreshToken)}
}

func (l *memLedger) Insert(_ context.Context, jti, userID string, expiresAt time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, exists := l.tokens[jti]; exists {
		return repository.ErrDuplicateJTI
	}
	l.tokens[jti] = &domain.RefreshToken{
		JTI:       jti,
		UserID:    userID,
		ExpiresAt: expiresAt,
		CreatedAt: time.Now(),
	}
	return nil
}

func (l *memLedger) Revoke(_ context.Context, jti string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if token, ok := l.tokens[jti]; ok {
		token.Revoked = true
	}
	return nil
}

func (l *memLedger) IsValid(_ context.Context, jti, userID string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	token, ok := l.tokens[jti]
	if !ok || token.UserID != userID {
		return false, nil
	}
	return token.Active(time.Now()), nil
}

func (l *memLedger) Rotate(_ context.Context, oldJTI, newJTI, userID string, expiresAt time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	old, ok := l.tokens[oldJTI]
	if !ok || old.UserID != userID || !old.Active(time.Now()) {
		return repository.ErrTokenNotActive
	}
	old.Revoked = true
	if _, exists := l.tokens[newJTI]; exists {
		return repository.ErrDuplicateJTI
	}
	l.tokens[newJTI] = &domain.RefreshToken{
		JTI:       newJTI,
		UserID:    userID,
		ExpiresAt: expiresAt,
		CreatedAt: time.Now(),
	}
	return nil
}

func (l *memLedger) Get(_ context.Context, jti string) (*domain.RefreshToken, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if token, ok := l.tokens[jti]; ok {
		clone := *token
		return &clone, nil
	}
	return nil, pgx.ErrNoRows
}

func (l *memLedger) DeleteExpired(_ context.Context) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var count int64
	for jti, token := range l.tokens {
		if !time.Now().Before(token.ExpiresAt) {
			delete(l.tokens, jti)
			count++
		}
	}
	return count, nil
}

func (l *memLedger) record(jti string) *domain.RefreshToken {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.tokens[jti]
}

type stubLimiter struct {
	err error
}

func (s stubLimiter) Allow(context.Context, string, string) error { return s.err }

func testConfig() config.Config {
	return config.Config{
		Auth: config.AuthConfig{
			JWTSecret:                "test-secret",
			AccessTokenTTLMinutes:    15,
			RefreshTokenTTLDays:      30,
			RefreshTokenShortTTLDays: 7,
			BcryptCost:               bcrypt.MinCost,
		},
	}
}

func newTestService(t *testing.T) (*SessionService, *memUserRepo, *memLedger) {
	t.Helper()
	users := newMemUserRepo()
	ledger := newMemLedger()
	svc := NewSessionService(testConfig(), SessionDependencies{
		UserRepo:    users,
		RefreshRepo: ledger,
		Limiter:     stubLimiter{},
		Dispatcher:  events.NewInMemoryDispatcher(),
	})
	return svc, users, ledger
}

func registerTestUser(t *testing.T, svc *SessionService) (*domain.User, *SessionTokens) {
	t.Helper()
	user, tokens, err := svc.Register(context.Background(), RegisterInput{
		Username: "mark",
		Email:    "mark@raimon.jp",
		Password: "Secret123",
	})
	require.NoError(t, err)
	return user, tokens
}

func domainCode(t *testing.T, err error) string {
	t.Helper()
	var domainErr *apperrors.DomainError
	require.ErrorAs(t, err, &domainErr)
	return domainErr.Code
}

func TestRegister_OpensSession(t *testing.T) {
	svc, _, ledger := newTestService(t)

	user, tokens := registerTestUser(t, svc)
	assert.NotEmpty(t, user.ID)
	assert.NotEqual(t, "Secret123", user.PasswordHash)
	assert.NotEmpty(t, tokens.AccessToken)
	assert.NotEmpty(t, tokens.RefreshToken)

	claims, err := svc.TokenManager().ParseRefreshToken(tokens.RefreshToken)
	require.NoError(t, err)
	record := ledger.record(claims.ID)
	require.NotNil(t, record, "refresh jti must be recorded in the ledger")
	assert.Equal(t, user.ID, record.UserID)
	assert.False(t, record.Revoked)
}

func TestRegister_DuplicateEmail(t *testing.T) {
	svc, _, _ := newTestService(t)
	registerTestUser(t, svc)

	_, _, err := svc.Register(context.Background(), RegisterInput{
		Username: "axel",
		Email:    "mark@raimon.jp",
		Password: "Secret123",
	})
	assert.Equal(t, "DUPLICATE_IDENTITY", domainCode(t, err))
}

func TestRegister_DuplicateUsername(t *testing.T) {
	svc, _, _ := newTestService(t)
	registerTestUser(t, svc)

	_, _, err := svc.Register(context.Background(), RegisterInput{
		Username: "mark",
		Email:    "axel@raimon.jp",
		Password: "Secret123",
	})
	assert.Equal(t, "DUPLICATE_IDENTITY", domainCode(t, err))
}

func TestLogin_WrongPasswordAndUnknownEmailIndistinguishable(t *testing.T) {
	svc, _, _ := newTestService(t)
	registerTestUser(t, svc)

	_, _, errWrongPassword := svc.Login(context.Background(), "mark@raimon.jp", "WrongSecret", "", false)
	_, _, errUnknownEmail := svc.Login(context.Background(), "nobody@raimon.jp", "Secret123", "", false)

	require.Error(t, errWrongPassword)
	require.Error(t, errUnknownEmail)
	assert.Equal(t, errWrongPassword.Error(), errUnknownEmail.Error())
	assert.Equal(t, "INVALID_CREDENTIALS", domainCode(t, errWrongPassword))
	assert.Equal(t, "INVALID_CREDENTIALS", domainCode(t, errUnknownEmail))
}

func TestLogin_RememberMeSelectsLongTTL(t *testing.T) {
	svc, _, _ := newTestService(t)
	registerTestUser(t, svc)

	_, shortTokens, err := svc.Login(context.Background(), "mark@raimon.jp", "Secret123", "", false)
	require.NoError(t, err)
	_, longTokens, err := svc.Login(context.Background(), "mark@raimon.jp", "Secret123", "", true)
	require.NoError(t, err)

	assert.WithinDuration(t, time.Now().Add(7*24*time.Hour), shortTokens.RefreshExpiresAt, 5*time.Second)
	assert.WithinDuration(t, time.Now().Add(30*24*time.Hour), longTokens.RefreshExpiresAt, 5*time.Second)
}

func TestLogin_RateLimited(t *testing.T) {
	users := newMemUserRepo()
	svc := NewSessionService(testConfig(), SessionDependencies{
		UserRepo:    users,
		RefreshRepo: newMemLedger(),
		Limiter:     stubLimiter{err: ErrRateLimited},
	})

	_, _, err := svc.Login(context.Background(), "mark@raimon.jp", "Secret123", "10.0.0.1", false)
	assert.Equal(t, "RATE_LIMITED", domainCode(t, err))
}

func TestRefresh_RotatesAndInvalidatesPredecessor(t *testing.T) {
	svc, _, ledger := newTestService(t)
	user, tokens := registerTestUser(t, svc)

	oldClaims, err := svc.TokenManager().ParseRefreshToken(tokens.RefreshToken)
	require.NoError(t, err)

	rotated, err := svc.Refresh(context.Background(), tokens.RefreshToken)
	require.NoError(t, err)
	assert.NotEmpty(t, rotated.AccessToken)
	assert.NotEqual(t, tokens.RefreshToken, rotated.RefreshToken)

	// Predecessor is revoked in the ledger, successor is active.
	assert.True(t, ledger.record(oldClaims.ID).Revoked)
	newClaims, err := svc.TokenManager().ParseRefreshToken(rotated.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, user.ID, newClaims.Subject)
	assert.False(t, ledger.record(newClaims.ID).Revoked)

	// Replay of the rotated token must fail.
	_, err = svc.Refresh(context.Background(), tokens.RefreshToken)
	assert.Equal(t, "UNAUTHENTICATED", domainCode(t, err))
}

func TestRefresh_GarbageToken(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.Refresh(context.Background(), "garbage")
	assert.Equal(t, "UNAUTHENTICATED", domainCode(t, err))
}

func TestRefresh_AccessTokenRejected(t *testing.T) {
	svc, _, _ := newTestService(t)
	_, tokens := registerTestUser(t, svc)

	_, err := svc.Refresh(context.Background(), tokens.AccessToken)
	assert.Equal(t, "UNAUTHENTICATED", domainCode(t, err))
}

func TestRefresh_LedgerExpiryDominates(t *testing.T) {
	svc, _, ledger := newTestService(t)
	_, tokens := registerTestUser(t, svc)

	claims, err := svc.TokenManager().ParseRefreshToken(tokens.RefreshToken)
	require.NoError(t, err)

	// The signed claim is still within its lifetime, but the ledger row has
	// expired: the ledger wins.
	ledger.mu.Lock()
	ledger.tokens[claims.ID].ExpiresAt = time.Now().Add(-time.Minute)
	ledger.mu.Unlock()

	_, err = svc.Refresh(context.Background(), tokens.RefreshToken)
	assert.Equal(t, "UNAUTHENTICATED", domainCode(t, err))
}

func TestRefresh_PreservesLineageLifetime(t *testing.T) {
	svc, _, _ := newTestService(t)
	registerTestUser(t, svc)

	_, longTokens, err := svc.Login(context.Background(), "mark@raimon.jp", "Secret123", "", true)
	require.NoError(t, err)

	rotated, err := svc.Refresh(context.Background(), longTokens.RefreshToken)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(30*24*time.Hour), rotated.RefreshExpiresAt, time.Minute)
}

func TestLogout_RevokesAndIsIdempotent(t *testing.T) {
	svc, _, ledger := newTestService(t)
	_, tokens := registerTestUser(t, svc)

	claims, err := svc.TokenManager().ParseRefreshToken(tokens.RefreshToken)
	require.NoError(t, err)

	svc.Logout(context.Background(), tokens.RefreshToken)
	assert.True(t, ledger.record(claims.ID).Revoked)

	// A second logout with the same token, and one with garbage, must not
	// panic or error.
	svc.Logout(context.Background(), tokens.RefreshToken)
	svc.Logout(context.Background(), "garbage")
}

func TestLogout_DoesNotInvalidateAccessToken(t *testing.T) {
	svc, _, _ := newTestService(t)
	user, tokens := registerTestUser(t, svc)

	svc.Logout(context.Background(), tokens.RefreshToken)

	// Access tokens are stateless: revoking the refresh lineage leaves
	// already-issued access tokens valid until they expire.
	claims, err := svc.TokenManager().ParseAccessToken(tokens.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, user.ID, claims.Subject)
}

func TestConcurrentRefresh_ExactlyOneWinner(t *testing.T) {
	svc, _, _ := newTestService(t)
	_, tokens := registerTestUser(t, svc)

	const racers = 8
	var wg sync.WaitGroup
	errs := make([]error, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.Refresh(context.Background(), tokens.RefreshToken)
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, err := range errs {
		if err == nil {
			winners++
		} else {
			var domainErr *apperrors.DomainError
			require.ErrorAs(t, err, &domainErr)
			assert.Equal(t, "UNAUTHENTICATED", domainErr.Code)
		}
	}
	assert.Equal(t, 1, winners)
}

func TestUpdateProfile(t *testing.T) {
	svc, _, _ := newTestService(t)
	user, _ := registerTestUser(t, svc)

	newName := "axel"
	level := 42
	updated, err := svc.UpdateProfile(context.Background(), user.ID, ProfileUpdateInput{
		Username:   &newName,
		CoachLevel: &level,
	})
	require.NoError(t, err)
	assert.Equal(t, "axel", updated.Username)
	assert.Equal(t, 42, updated.CoachLevel)
}

func TestUpdateProfile_UsernameConflict(t *testing.T) {
	svc, _, _ := newTestService(t)
	user, _ := registerTestUser(t, svc)
	_, _, err := svc.Register(context.Background(), RegisterInput{
		Username: "axel",
		Email:    "axel@raimon.jp",
		Password: "Secret123",
	})
	require.NoError(t, err)

	taken := "axel"
	_, err = svc.UpdateProfile(context.Background(), user.ID, ProfileUpdateInput{Username: &taken})
	assert.Equal(t, "DUPLICATE_IDENTITY", domainCode(t, err))
}

func TestLedgerInsert_DuplicateJTIFailsLoudly(t *testing.T) {
	ledger := newMemLedger()
	require.NoError(t, ledger.Insert(context.Background(), "jti-1", "user-1", time.Now().Add(time.Hour)))

	err := ledger.Insert(context.Background(), "jti-1", "user-1", time.Now().Add(time.Hour))
	assert.True(t, errors.Is(err, repository.ErrDuplicateJTI))
}
