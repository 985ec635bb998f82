package handlers

import (
	"github.com/gatekey/backend/internal/auth"
	"github.com/gatekey/backend/internal/middleware"
	"github.com/gatekey/backend/internal/services"
	"github.com/gatekey/backend/pkg/logger"
	"github.com/gatekey/backend/pkg/utils"
	"github.com/gofiber/fiber/v2"
)

// EmailHandler serves the email verification flow. The pending request id
// travels in its own cookie so the flow survives page reloads.
type EmailHandler struct {
	Auth          *auth.Service
	Audit         *services.AuditService
	SecureCookies bool
}

func NewEmailHandler(authService *auth.Service, audit *services.AuditService, secureCookies bool) *EmailHandler {
	return &EmailHandler{Auth: authService, Audit: audit, SecureCookies: secureCookies}
}

func (h *EmailHandler) trackRequest(c *fiber.Ctx, request *auth.EmailVerificationRequest) {
	if request == nil {
		clearCookie(c, emailVerificationCookieName, h.SecureCookies)
		return
	}
	setCookie(c, emailVerificationCookieName, request.ID, request.ExpiresAt, h.SecureCookies)
}

type verifyEmailRequest struct {
	Code string `json:"code"`
}

func (h *EmailHandler) Verify(c *fiber.Ctx) error {
	session := middleware.GetCurrentSession(c)
	user := middleware.GetCurrentUser(c)
	if session == nil || user == nil {
		return utils.Error(c, fiber.StatusUnauthorized, auth.MsgNotAuthenticated)
	}

	var req verifyEmailRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, auth.MsgInvalidData)
	}

	fresh, res, err := h.Auth.VerifyEmail(session, user, c.Cookies(emailVerificationCookieName), req.Code)
	if err != nil {
		logger.Error("verify_email_failed", err, map[string]interface{}{"user_id": user.ID.String()})
		return internalError(c)
	}
	if fresh != nil {
		h.trackRequest(c, fresh)
	}
	if res.IsRedirect() {
		h.trackRequest(c, nil)
		h.Audit.LogAsync(auditEntry(c, "user.email_verified", nil))
	}
	return respondResult(c, res)
}

func (h *EmailHandler) Resend(c *fiber.Ctx) error {
	session := middleware.GetCurrentSession(c)
	user := middleware.GetCurrentUser(c)
	if session == nil || user == nil {
		return utils.Error(c, fiber.StatusUnauthorized, auth.MsgNotAuthenticated)
	}

	fresh, res, err := h.Auth.ResendVerificationCode(session, user, c.Cookies(emailVerificationCookieName))
	if err != nil {
		logger.Error("resend_verification_failed", err, map[string]interface{}{"user_id": user.ID.String()})
		return internalError(c)
	}
	if fresh != nil {
		h.trackRequest(c, fresh)
	}
	return respondResult(c, res)
}

type updateEmailRequest struct {
	Email string `json:"email"`
}

func (h *EmailHandler) UpdateEmail(c *fiber.Ctx) error {
	session := middleware.GetCurrentSession(c)
	user := middleware.GetCurrentUser(c)
	if session == nil || user == nil {
		return utils.Error(c, fiber.StatusUnauthorized, auth.MsgNotAuthenticated)
	}

	var req updateEmailRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, auth.MsgInvalidData)
	}

	fresh, res, err := h.Auth.UpdateEmail(session, user, req.Email)
	if err != nil {
		logger.Error("update_email_failed", err, map[string]interface{}{"user_id": user.ID.String()})
		return internalError(c)
	}
	if fresh != nil {
		h.trackRequest(c, fresh)
		h.Audit.LogAsync(auditEntry(c, "user.email_change_requested", map[string]interface{}{
			"email": req.Email,
		}))
	}
	return respondResult(c, res)
}
