package handlers

import (
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/KonradBrave61/session-service/internal/api/dto"
	"github.com/KonradBrave61/session-service/internal/service"
	apperrors "github.com/KonradBrave61/session-service/pkg/util"
)

const refreshCookieName = "refresh_token"

// AuthHandler exposes the session lifecycle endpoints.
type AuthHandler struct {
	sessions     *service.SessionService
	cookieSecure bool
}

// NewAuthHandler constructs handler.
func NewAuthHandler(sessions *service.SessionService, cookieSecure bool) *AuthHandler {
	return &AuthHandler{sessions: sessions, cookieSecure: cookieSecure}
}

// Register handles POST /auth/register.
func (h *AuthHandler) Register(c *fiber.Ctx) error {
	var req dto.RegisterRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if req.Username == "" || req.Email == "" || req.Password == "" {
		return apperrors.NewValidationError("username, email, password required", nil)
	}

	user, tokens, err := h.sessions.Register(c.Context(), service.RegisterInput{
		Username:     req.Username,
		Email:        req.Email,
		Password:     req.Password,
		CoachLevel:   req.CoachLevel,
		FavoriteTeam: req.FavoriteTeam,
		RememberMe:   req.RememberMe,
	})
	if err != nil {
		return err
	}

	h.setRefreshCookie(c, tokens)
	return c.Status(http.StatusOK).JSON(dto.AuthResponse{
		AccessToken: tokens.AccessToken,
		TokenType:   "bearer",
		ExpiresAt:   tokens.AccessExpiresAt,
		User:        dto.NewUserResponse(user),
	})
}

// Login handles POST /auth/login.
func (h *AuthHandler) Login(c *fiber.Ctx) error {
	var req dto.LoginRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if req.Email == "" || req.Password == "" {
		return apperrors.NewValidationError("email and password required", nil)
	}

	user, tokens, err := h.sessions.Login(c.Context(), req.Email, req.Password, c.IP(), req.RememberMe)
	if err != nil {
		return err
	}

	h.setRefreshCookie(c, tokens)
	return c.JSON(dto.AuthResponse{
		AccessToken: tokens.AccessToken,
		TokenType:   "bearer",
		ExpiresAt:   tokens.AccessExpiresAt,
		User:        dto.NewUserResponse(user),
	})
}

// Refresh handles POST /auth/refresh. The token arrives in the cookie; no
// body is read.
func (h *AuthHandler) Refresh(c *fiber.Ctx) error {
	presented := c.Cookies(refreshCookieName)
	if presented == "" {
		return apperrors.NewUnauthenticated("missing refresh token")
	}

	tokens, err := h.sessions.Refresh(c.Context(), presented)
	if err != nil {
		return err
	}

	h.setRefreshCookie(c, tokens)
	return c.JSON(dto.TokenResponse{
		AccessToken: tokens.AccessToken,
		TokenType:   "bearer",
		ExpiresAt:   tokens.AccessExpiresAt,
	})
}

// Logout handles POST /auth/logout. It always succeeds and always clears
// the cookie, whether or not revocation found anything to revoke.
func (h *AuthHandler) Logout(c *fiber.Ctx) error {
	if presented := c.Cookies(refreshCookieName); presented != "" {
		h.sessions.Logout(c.Context(), presented)
	}
	h.clearRefreshCookie(c)
	return c.JSON(fiber.Map{"detail": "Logged out"})
}

func (h *AuthHandler) setRefreshCookie(c *fiber.Ctx, tokens *service.SessionTokens) {
	maxAge := int(time.Until(tokens.RefreshExpiresAt).Seconds())
	c.Cookie(&fiber.Cookie{
		Name:     refreshCookieName,
		Value:    tokens.RefreshToken,
		Path:     "/",
		MaxAge:   maxAge,
		Expires:  tokens.RefreshExpiresAt,
		HTTPOnly: true,
		Secure:   h.cookieSecure,
		SameSite: fiber.CookieSameSiteLaxMode,
	})
}

func (h *AuthHandler) clearRefreshCookie(c *fiber.Ctx) {
	c.Cookie(&fiber.Cookie{
		Name:     refreshCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
		HTTPOnly: true,
		Secure:   h.cookieSecure,
		SameSite: fiber.CookieSameSiteLaxMode,
	})
}
