package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/KonradBrave61/session-service/internal/api/dto"
	"github.com/KonradBrave61/session-service/internal/auth"
	"github.com/KonradBrave61/session-service/internal/service"
	apperrors "github.com/KonradBrave61/session-service/pkg/util"
)

// UsersHandler exposes the authenticated principal surface.
type UsersHandler struct {
	sessions *service.SessionService
}

// NewUsersHandler constructs handler.
func NewUsersHandler(sessions *service.SessionService) *UsersHandler {
	return &UsersHandler{sessions: sessions}
}

// Me handles GET /auth/me.
func (h *UsersHandler) Me(c *fiber.Ctx) error {
	user, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthenticated("invalid token")
	}
	return c.JSON(dto.NewUserResponse(user))
}

// UpdateMe handles PUT /auth/me.
func (h *UsersHandler) UpdateMe(c *fiber.Ctx) error {
	user, ok := auth.PrincipalFromContext(c)
	if !ok {
		return apperrors.NewUnauthenticated("invalid token")
	}

	var req dto.UpdateProfileRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if req.Username != nil && *req.Username == "" {
		return apperrors.NewValidationError("username must not be empty", nil)
	}

	updated, err := h.sessions.UpdateProfile(c.Context(), user.ID, service.ProfileUpdateInput{
		Username:     req.Username,
		CoachLevel:   req.CoachLevel,
		FavoriteTeam: req.FavoriteTeam,
	})
	if err != nil {
		return err
	}
	return c.JSON(dto.NewUserResponse(updated))
}
