package handlers

import (
	"github.com/fathima-sithara/identity-service/internal/models"
	"github.com/fathima-sithara/identity-service/internal/services"
	"github.com/gofiber/fiber/v2"
)

func (h *Handler) Register(c *fiber.Ctx) error {
	var req models.RegisterRequest
	if err := h.parse(c, &req); err != nil {
		return err
	}
	resp, err := h.svc.Register(c.UserContext(), req, bearerToken(c))
	if err != nil {
		return h.fail(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(resp)
}

func (h *Handler) Login(c *fiber.Ctx) error {
	var req models.LoginRequest
	if err := h.parse(c, &req); err != nil {
		return err
	}
	resp, err := h.svc.Login(c.UserContext(), req, bearerToken(c))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(resp)
}

func (h *Handler) SocialLogin(c *fiber.Ctx) error {
	bearer := bearerToken(c)
	if bearer == "" {
		return h.fail(c, services.ErrInvalidBearer)
	}
	var req models.SocialLoginRequest
	if err := h.parse(c, &req); err != nil {
		return err
	}
	resp, err := h.svc.SocialLogin(c.UserContext(), req, bearer)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(resp)
}

func (h *Handler) VerifyEmail(c *fiber.Ctx) error {
	var req models.VerifyEmailRequest
	bearer := bearerToken(c)
	if bearer == "" {
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid body")
		}
	}
	u, err := h.svc.VerifyEmail(c.UserContext(), req, bearer)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(fiber.Map{"user": u})
}

func (h *Handler) ResendVerification(c *fiber.Ctx) error {
	var req models.EmailRequest
	if err := h.parse(c, &req); err != nil {
		return err
	}
	if err := h.svc.ResendVerification(c.UserContext(), req.Email); err != nil {
		return h.fail(c, err)
	}
	return c.JSON(fiber.Map{"message": genericEmailMessage})
}

func (h *Handler) ForgotPassword(c *fiber.Ctx) error {
	var req models.EmailRequest
	if err := h.parse(c, &req); err != nil {
		return err
	}
	if err := h.svc.ForgotPassword(c.UserContext(), req.Email); err != nil {
		return h.fail(c, err)
	}
	return c.JSON(fiber.Map{"message": genericEmailMessage})
}

func (h *Handler) ResetPassword(c *fiber.Ctx) error {
	var req models.ResetPasswordRequest
	if err := h.parse(c, &req); err != nil {
		return err
	}
	if err := h.svc.ResetPassword(c.UserContext(), req); err != nil {
		return h.fail(c, err)
	}
	return c.JSON(fiber.Map{"message": "password updated"})
}

func (h *Handler) Me(c *fiber.Ctx) error {
	u := currentUser(c)
	if u == nil {
		return h.fail(c, services.ErrInvalidSession)
	}
	return c.JSON(fiber.Map{"user": u})
}

func (h *Handler) UpdateMe(c *fiber.Ctx) error {
	u := currentUser(c)
	if u == nil {
		return h.fail(c, services.ErrInvalidSession)
	}
	var req models.UpdateProfileRequest
	if err := h.parse(c, &req); err != nil {
		return err
	}
	updated, err := h.svc.UpdateUsername(c.UserContext(), u.ID, req.Username)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(fiber.Map{"user": updated})
}

func (h *Handler) ChangePassword(c *fiber.Ctx) error {
	u := currentUser(c)
	if u == nil {
		return h.fail(c, services.ErrInvalidSession)
	}
	var req models.ChangePasswordRequest
	if err := h.parse(c, &req); err != nil {
		return err
	}
	if err := h.svc.ChangePassword(c.UserContext(), u.ID, req); err != nil {
		return h.fail(c, err)
	}
	return c.JSON(fiber.Map{"message": "password updated"})
}
