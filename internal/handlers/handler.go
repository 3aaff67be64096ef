package handlers

import (
	"context"
	"errors"
	"strings"

	"github.com/fathima-sithara/identity-service/internal/identity"
	"github.com/fathima-sithara/identity-service/internal/models"
	"github.com/fathima-sithara/identity-service/internal/services"
	"github.com/fathima-sithara/identity-service/internal/utils"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// genericEmailMessage is returned whether or not the address has an account.
const genericEmailMessage = "If an account exists for this email, a message has been sent."

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Handler struct {
	svc    *services.AuthService
	health Pinger
	log    *zap.Logger
}

func NewHandler(svc *services.AuthService, health Pinger, logger *zap.Logger) *Handler {
	return &Handler{svc: svc, health: health, log: logger}
}

var statusBySentinel = []struct {
	err    error
	status int
}{
	{services.ErrInvalidCredentials, fiber.StatusUnauthorized},
	{services.ErrInvalidBearer, fiber.StatusUnauthorized},
	{services.ErrSubjectMismatch, fiber.StatusUnauthorized},
	{services.ErrAccountLinked, fiber.StatusUnauthorized},
	{services.ErrInvalidSession, fiber.StatusUnauthorized},
	{identity.ErrUnavailable, fiber.StatusUnauthorized},

	{services.ErrUsernameTaken, fiber.StatusBadRequest},
	{services.ErrEmailTaken, fiber.StatusBadRequest},
	{services.ErrSubjectTaken, fiber.StatusBadRequest},
	{services.ErrPasswordRequired, fiber.StatusBadRequest},
	{services.ErrInvalidToken, fiber.StatusBadRequest},
	{services.ErrAlreadyVerified, fiber.StatusBadRequest},
	{services.ErrProviderUnverified, fiber.StatusBadRequest},

	{services.ErrEmailNotVerified, fiber.StatusForbidden},
	{services.ErrUserNotFound, fiber.StatusNotFound},
	{services.ErrDeliveryFailed, fiber.StatusInternalServerError},
}

// fail writes err as {"error": msg}. Sentinel messages are used verbatim so
// wrapped detail never reaches the client; unknown errors become a 500.
func (h *Handler) fail(c *fiber.Ctx, err error) error {
	if errors.Is(err, services.ErrInvalidInput) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}
	for _, m := range statusBySentinel {
		if errors.Is(err, m.err) {
			if m.status == fiber.StatusUnauthorized {
				h.log.Debug("unauthorized", zap.String("path", c.Path()), zap.Error(err))
			}
			return c.Status(m.status).JSON(fiber.Map{"error": m.err.Error()})
		}
	}
	h.log.Error("request failed", zap.String("path", c.Path()), zap.Error(err))
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal server error"})
}

// ValidationError carries per-field failures to the error handler.
type ValidationError struct {
	Details []utils.ValidationError
}

func (e *ValidationError) Error() string { return "validation failed" }

// parse decodes the body into req and checks its validate tags.
func (h *Handler) parse(c *fiber.Ctx, req interface{}) error {
	if err := c.BodyParser(req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid body")
	}
	if err := utils.Validator().Struct(req); err != nil {
		return &ValidationError{Details: utils.FormatValidationErrors(err)}
	}
	return nil
}

// ErrorHandler renders errors returned from handlers and middlewares as
// {"error": msg}.
func ErrorHandler(logger *zap.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		var ve *ValidationError
		if errors.As(err, &ve) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": ve.Error(), "details": ve.Details})
		}
		var fe *fiber.Error
		if errors.As(err, &fe) {
			return c.Status(fe.Code).JSON(fiber.Map{"error": fe.Message})
		}
		logger.Error("unhandled error", zap.String("path", c.Path()), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal server error"})
	}
}

// bearerToken returns the token from "Authorization: Bearer <token>", or "".
func bearerToken(c *fiber.Ctx) string {
	auth := c.Get(fiber.HeaderAuthorization)
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// currentUser returns the user set by the session middleware.
func currentUser(c *fiber.Ctx) *models.User {
	u, _ := c.Locals("user").(*models.User)
	return u
}

func (h *Handler) Health(c *fiber.Ctx) error {
	if err := h.health.Ping(c.UserContext()); err != nil {
		h.log.Warn("health check failed", zap.Error(err))
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "unavailable"})
	}
	return c.JSON(fiber.Map{"status": "ok"})
}
