package routes

import (
	"net/http"

	"github.com/fathima-sithara/identity-service/internal/handlers"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
)

// Middlewares holds the optional guards mounted by Setup. Nil entries are skipped.
type Middlewares struct {
	IPLimiter    fiber.Handler
	TokenLimiter fiber.Handler
	Session      fiber.Handler
	Metrics      http.Handler
}

func Setup(app *fiber.App, h *handlers.Handler, mw Middlewares) {
	app.Get("/healthz", h.Health)
	if mw.Metrics != nil {
		app.Get("/metrics", adaptor.HTTPHandler(mw.Metrics))
	}

	auth := app.Group("/auth")
	if mw.IPLimiter != nil {
		auth.Use(mw.IPLimiter)
	}

	auth.Post("/register", h.Register)
	auth.Post("/login", h.Login)
	auth.Post("/google-login", h.SocialLogin)
	auth.Post("/verify-email", h.VerifyEmail)
	auth.Post("/reset-password", h.ResetPassword)

	// token-issuing endpoints send mail, so they get the stricter limit
	auth.Post("/resend-verification", with(mw.TokenLimiter, h.ResendVerification)...)
	auth.Post("/forgot-password", with(mw.TokenLimiter, h.ForgotPassword)...)

	session := mw.Session
	if session == nil {
		session = func(c *fiber.Ctx) error {
			return fiber.NewError(fiber.StatusUnauthorized, "missing authorization")
		}
	}
	auth.Get("/me", session, h.Me)
	auth.Patch("/me", session, h.UpdateMe)
	auth.Post("/change-password", session, h.ChangePassword)
}

func with(guard fiber.Handler, h fiber.Handler) []fiber.Handler {
	if guard == nil {
		return []fiber.Handler{h}
	}
	return []fiber.Handler{guard, h}
}
