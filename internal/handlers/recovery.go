package handlers

import (
	"github.com/gatekey/backend/internal/auth"
	"github.com/gatekey/backend/internal/middleware"
	"github.com/gatekey/backend/internal/services"
	"github.com/gatekey/backend/pkg/logger"
	"github.com/gatekey/backend/pkg/utils"
	"github.com/gofiber/fiber/v2"
)

type RecoveryHandler struct {
	Auth  *auth.Service
	Audit *services.AuditService
}

func NewRecoveryHandler(authService *auth.Service, audit *services.AuditService) *RecoveryHandler {
	return &RecoveryHandler{Auth: authService, Audit: audit}
}

func (h *RecoveryHandler) Get(c *fiber.Ctx) error {
	session := middleware.GetCurrentSession(c)
	user := middleware.GetCurrentUser(c)
	if session == nil || user == nil {
		return utils.Error(c, fiber.StatusUnauthorized, auth.MsgNotAuthenticated)
	}

	code, res, err := h.Auth.RecoveryCode(session, user)
	if err != nil {
		logger.Error("recovery_code_read_failed", err, map[string]interface{}{"user_id": user.ID.String()})
		return internalError(c)
	}
	if code == "" {
		return respondResult(c, res)
	}
	return utils.Success(c, fiber.StatusOK, fiber.Map{"recoveryCode": code})
}

func (h *RecoveryHandler) Regenerate(c *fiber.Ctx) error {
	session := middleware.GetCurrentSession(c)
	user := middleware.GetCurrentUser(c)
	if session == nil || user == nil {
		return utils.Error(c, fiber.StatusUnauthorized, auth.MsgNotAuthenticated)
	}

	code, res, err := h.Auth.RegenerateRecoveryCode(session, user)
	if err != nil {
		logger.Error("recovery_code_regenerate_failed", err, map[string]interface{}{"user_id": user.ID.String()})
		return internalError(c)
	}
	if code == "" {
		return respondResult(c, res)
	}
	h.Audit.LogAsync(auditEntry(c, "recovery_code.regenerate", nil))
	return utils.Success(c, fiber.StatusOK, fiber.Map{"recoveryCode": code})
}

type recoveryCodeRequest struct {
	Code string `json:"code"`
}

// ResetTwoFactor burns the recovery code to strip every registered second
// factor from the account.
func (h *RecoveryHandler) ResetTwoFactor(c *fiber.Ctx) error {
	session := middleware.GetCurrentSession(c)
	user := middleware.GetCurrentUser(c)
	if session == nil || user == nil {
		return utils.Error(c, fiber.StatusUnauthorized, auth.MsgNotAuthenticated)
	}

	var req recoveryCodeRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, auth.MsgInvalidData)
	}

	res, err := h.Auth.ResetTwoFactorWithRecoveryCode(session, user, req.Code)
	if err != nil {
		logger.Error("two_factor_reset_failed", err, map[string]interface{}{"user_id": user.ID.String()})
		return internalError(c)
	}
	if res.IsRedirect() {
		h.Audit.LogAsync(auditEntry(c, "recovery_code.use", nil))
	}
	return respondResult(c, res)
}
