package handlers

import (
	"github.com/gatekey/backend/internal/auth"
	"github.com/gatekey/backend/internal/middleware"
	"github.com/gatekey/backend/internal/services"
	"github.com/gatekey/backend/pkg/logger"
	"github.com/gatekey/backend/pkg/utils"
	"github.com/gofiber/fiber/v2"
)

// PasswordHandler serves the settings password change and the full reset
// flow. The reset flow carries its own bearer token in a dedicated cookie,
// separate from the session cookie, because it must work signed out.
type PasswordHandler struct {
	Auth          *auth.Service
	Audit         *services.AuditService
	SecureCookies bool
}

func NewPasswordHandler(authService *auth.Service, audit *services.AuditService, secureCookies bool) *PasswordHandler {
	return &PasswordHandler{Auth: authService, Audit: audit, SecureCookies: secureCookies}
}

type updatePasswordRequest struct {
	Password    string `json:"password"`
	NewPassword string `json:"newPassword"`
}

func (h *PasswordHandler) Update(c *fiber.Ctx) error {
	session := middleware.GetCurrentSession(c)
	user := middleware.GetCurrentUser(c)
	if session == nil || user == nil {
		return utils.Error(c, fiber.StatusUnauthorized, auth.MsgNotAuthenticated)
	}

	var req updatePasswordRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, auth.MsgInvalidData)
	}

	minted, res, err := h.Auth.UpdatePassword(session, user, req.Password, req.NewPassword)
	if err != nil {
		logger.Error("password_update_failed", err, map[string]interface{}{"user_id": user.ID.String()})
		return internalError(c)
	}
	if minted != nil {
		setCookie(c, middleware.SessionCookieName, minted.Token, minted.Session.ExpiresAt, h.SecureCookies)
		h.Audit.LogAsync(auditEntry(c, "password.update", nil))
	}
	return respondResult(c, res)
}

type forgotPasswordRequest struct {
	Email string `json:"email"`
}

func (h *PasswordHandler) Forgot(c *fiber.Ctx) error {
	var req forgotPasswordRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, auth.MsgInvalidData)
	}

	minted, res, err := h.Auth.ForgotPassword(req.Email, c.IP())
	if err != nil {
		logger.Error("forgot_password_failed", err, map[string]interface{}{"ip": c.IP()})
		return internalError(c)
	}
	if minted != nil {
		setCookie(c, passwordResetCookieName, minted.Token, minted.Session.ExpiresAt, h.SecureCookies)
		h.Audit.LogAsync(auditEntryFor(c, minted.Session.UserID, "password.reset_requested", nil))
	}
	return respondResult(c, res)
}

// resetSession resolves the reset cookie, or nil when absent or expired.
func (h *PasswordHandler) resetSession(c *fiber.Ctx) (*auth.PasswordResetSession, *auth.User, error) {
	return h.Auth.ValidatePasswordResetSessionToken(c.Cookies(passwordResetCookieName))
}

type resetCodeRequest struct {
	Code string `json:"code"`
}

func (h *PasswordHandler) VerifyResetEmail(c *fiber.Ctx) error {
	session, user, err := h.resetSession(c)
	if err != nil {
		logger.Error("reset_session_lookup_failed", err, map[string]interface{}{"ip": c.IP()})
		return internalError(c)
	}

	var req resetCodeRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, auth.MsgInvalidData)
	}

	res, err := h.Auth.VerifyPasswordResetEmail(session, user, req.Code)
	if err != nil {
		logger.Error("reset_email_verify_failed", err, map[string]interface{}{"ip": c.IP()})
		return internalError(c)
	}
	return respondResult(c, res)
}

func (h *PasswordHandler) VerifyResetTOTP(c *fiber.Ctx) error {
	session, user, err := h.resetSession(c)
	if err != nil {
		logger.Error("reset_session_lookup_failed", err, map[string]interface{}{"ip": c.IP()})
		return internalError(c)
	}

	var req resetCodeRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, auth.MsgInvalidData)
	}

	res, err := h.Auth.VerifyResetTOTP(session, user, req.Code)
	if err != nil {
		logger.Error("reset_totp_verify_failed", err, map[string]interface{}{"ip": c.IP()})
		return internalError(c)
	}
	return respondResult(c, res)
}

func (h *PasswordHandler) verifyResetAssertion(c *fiber.Ctx, kind auth.CredentialKind) error {
	session, user, err := h.resetSession(c)
	if err != nil {
		logger.Error("reset_session_lookup_failed", err, map[string]interface{}{"ip": c.IP()})
		return internalError(c)
	}

	var req passkeyAssertionRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, auth.MsgInvalidData)
	}
	assertion, ok := req.assertion()
	if !ok {
		return utils.Error(c, fiber.StatusBadRequest, auth.MsgInvalidData)
	}

	var res auth.Result
	if kind == auth.KindPasskey {
		res, err = h.Auth.VerifyResetPasskey(session, user, assertion)
	} else {
		res, err = h.Auth.VerifyResetSecurityKey(session, user, assertion)
	}
	if err != nil {
		logger.Error("reset_webauthn_verify_failed", err, map[string]interface{}{
			"ip":   c.IP(),
			"kind": string(kind),
		})
		return internalError(c)
	}
	return respondResult(c, res)
}

func (h *PasswordHandler) VerifyResetPasskey(c *fiber.Ctx) error {
	return h.verifyResetAssertion(c, auth.KindPasskey)
}

func (h *PasswordHandler) VerifyResetSecurityKey(c *fiber.Ctx) error {
	return h.verifyResetAssertion(c, auth.KindSecurityKey)
}

func (h *PasswordHandler) VerifyResetRecoveryCode(c *fiber.Ctx) error {
	session, user, err := h.resetSession(c)
	if err != nil {
		logger.Error("reset_session_lookup_failed", err, map[string]interface{}{"ip": c.IP()})
		return internalError(c)
	}

	var req resetCodeRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, auth.MsgInvalidData)
	}

	res, err := h.Auth.VerifyResetRecoveryCode(session, user, req.Code)
	if err != nil {
		logger.Error("reset_recovery_code_failed", err, map[string]interface{}{"ip": c.IP()})
		return internalError(c)
	}
	if res.IsRedirect() && user != nil {
		h.Audit.LogAsync(auditEntryFor(c, user.ID, "recovery_code.use", nil))
	}
	return respondResult(c, res)
}

type resetPasswordRequest struct {
	Password string `json:"password"`
}

func (h *PasswordHandler) Reset(c *fiber.Ctx) error {
	session, user, err := h.resetSession(c)
	if err != nil {
		logger.Error("reset_session_lookup_failed", err, map[string]interface{}{"ip": c.IP()})
		return internalError(c)
	}

	var req resetPasswordRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, auth.MsgInvalidData)
	}

	minted, res, err := h.Auth.ResetPassword(session, user, req.Password)
	if err != nil {
		logger.Error("password_reset_failed", err, map[string]interface{}{"ip": c.IP()})
		return internalError(c)
	}
	if minted != nil {
		clearCookie(c, passwordResetCookieName, h.SecureCookies)
		setCookie(c, middleware.SessionCookieName, minted.Token, minted.Session.ExpiresAt, h.SecureCookies)
		h.Audit.LogAsync(auditEntryFor(c, minted.Session.UserID, "password.reset", nil))
	}
	return respondResult(c, res)
}
