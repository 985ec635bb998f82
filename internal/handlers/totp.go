package handlers

import (
	"github.com/gatekey/backend/internal/auth"
	"github.com/gatekey/backend/internal/middleware"
	"github.com/gatekey/backend/internal/services"
	"github.com/gatekey/backend/pkg/logger"
	"github.com/gatekey/backend/pkg/utils"
	"github.com/gofiber/fiber/v2"
)

type TOTPHandler struct {
	Auth  *auth.Service
	Audit *services.AuditService
}

func NewTOTPHandler(authService *auth.Service, audit *services.AuditService) *TOTPHandler {
	return &TOTPHandler{Auth: authService, Audit: audit}
}

// Setup returns fresh enrolment material. Nothing is persisted until the
// client confirms a code against it.
func (h *TOTPHandler) Setup(c *fiber.Ctx) error {
	user := middleware.GetCurrentUser(c)
	if user == nil {
		return utils.Error(c, fiber.StatusUnauthorized, auth.MsgNotAuthenticated)
	}

	setup, err := h.Auth.GenerateTOTPSetup(user)
	if err != nil {
		logger.Error("totp_setup_failed", err, map[string]interface{}{"user_id": user.ID.String()})
		return internalError(c)
	}
	return utils.Success(c, fiber.StatusOK, fiber.Map{
		"key": setup.EncodedKey,
		"uri": setup.URI,
	})
}

type confirmTOTPRequest struct {
	Key  string `json:"key"`
	Code string `json:"code"`
}

func (h *TOTPHandler) Confirm(c *fiber.Ctx) error {
	session := middleware.GetCurrentSession(c)
	user := middleware.GetCurrentUser(c)
	if session == nil || user == nil {
		return utils.Error(c, fiber.StatusUnauthorized, auth.MsgNotAuthenticated)
	}

	var req confirmTOTPRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, auth.MsgInvalidData)
	}

	res, err := h.Auth.SetupTOTP(session, user, req.Key, req.Code)
	if err != nil {
		logger.Error("totp_confirm_failed", err, map[string]interface{}{"user_id": user.ID.String()})
		return internalError(c)
	}
	if res.IsRedirect() {
		h.Audit.LogAsync(auditEntry(c, "2fa.totp_registered", nil))
	}
	return respondResult(c, res)
}

type verifyTOTPRequest struct {
	Code string `json:"code"`
}

func (h *TOTPHandler) Verify(c *fiber.Ctx) error {
	session := middleware.GetCurrentSession(c)
	user := middleware.GetCurrentUser(c)
	if session == nil || user == nil {
		return utils.Error(c, fiber.StatusUnauthorized, auth.MsgNotAuthenticated)
	}

	var req verifyTOTPRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, auth.MsgInvalidData)
	}

	res, err := h.Auth.VerifyTOTP(session, user, req.Code)
	if err != nil {
		logger.Error("totp_verify_failed", err, map[string]interface{}{"user_id": user.ID.String()})
		return internalError(c)
	}
	if res.IsRedirect() {
		h.Audit.LogAsync(auditEntry(c, "2fa.totp_verified", nil))
	}
	return respondResult(c, res)
}

func (h *TOTPHandler) Disconnect(c *fiber.Ctx) error {
	session := middleware.GetCurrentSession(c)
	user := middleware.GetCurrentUser(c)
	if session == nil || user == nil {
		return utils.Error(c, fiber.StatusUnauthorized, auth.MsgNotAuthenticated)
	}

	res, err := h.Auth.DisconnectTOTP(session, user)
	if err != nil {
		logger.Error("totp_disconnect_failed", err, map[string]interface{}{"user_id": user.ID.String()})
		return internalError(c)
	}
	if res.Message == auth.MsgTOTPDisconnected {
		h.Audit.LogAsync(auditEntry(c, "2fa.totp_disconnected", nil))
	}
	return respondResult(c, res)
}
