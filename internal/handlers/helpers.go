package handlers

import (
	"encoding/base64"
	"time"

	"github.com/gatekey/backend/internal/auth"
	"github.com/gatekey/backend/internal/middleware"
	"github.com/gatekey/backend/internal/services"
	"github.com/gatekey/backend/pkg/utils"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

const (
	emailVerificationCookieName = "email_verification"
	passwordResetCookieName     = "password_reset_session"
)

// resultStatus maps a flow failure message to an HTTP status. Everything
// not recognized is a plain bad request.
func resultStatus(message string) int {
	switch message {
	case auth.MsgTooManyRequests:
		return fiber.StatusTooManyRequests
	case auth.MsgNotAuthenticated:
		return fiber.StatusUnauthorized
	case auth.MsgForbidden:
		return fiber.StatusForbidden
	case auth.MsgInternalError:
		return fiber.StatusInternalServerError
	default:
		return fiber.StatusBadRequest
	}
}

// infoMessages are flow outcomes that read as messages but report success.
var infoMessages = map[string]bool{
	auth.MsgPasswordUpdated:     true,
	auth.MsgCredentialRemoved:   true,
	auth.MsgTOTPDisconnected:    true,
	auth.MsgVerificationExpired: true,
	auth.MsgNewCodeSent:         true,
}

func respondResult(c *fiber.Ctx, res auth.Result) error {
	if res.IsRedirect() {
		return utils.Success(c, fiber.StatusOK, fiber.Map{"redirect": res.Redirect})
	}
	if infoMessages[res.Message] {
		return utils.Success(c, fiber.StatusOK, fiber.Map{"message": res.Message})
	}
	return utils.Error(c, resultStatus(res.Message), res.Message)
}

func internalError(c *fiber.Ctx) error {
	return utils.Error(c, fiber.StatusInternalServerError, auth.MsgInternalError)
}

// decodeBase64Field decodes a base64 (standard, padded) JSON field carrying
// binary ceremony material. Empty input yields nil so missing fields fall
// through to the flow's own validation.
func decodeBase64Field(value string) ([]byte, bool) {
	if value == "" {
		return nil, true
	}
	raw, err := base64.StdEncoding.DecodeString(value)
	if err != nil {
		return nil, false
	}
	return raw, true
}

func requestID(c *fiber.Ctx) string {
	if id, ok := c.Locals("requestID").(string); ok {
		return id
	}
	return ""
}

func auditEntry(c *fiber.Ctx, action string, details map[string]interface{}) services.AuditEntry {
	entry := services.AuditEntry{
		Action:       action,
		ResourceType: "auth",
		Details:      details,
		IPAddress:    c.IP(),
		RequestID:    requestID(c),
	}
	if user := middleware.GetCurrentUser(c); user != nil {
		id := user.ID
		entry.UserID = &id
	}
	return entry
}

func auditEntryFor(c *fiber.Ctx, userID uuid.UUID, action string, details map[string]interface{}) services.AuditEntry {
	entry := auditEntry(c, action, details)
	entry.UserID = &userID
	return entry
}

func setCookie(c *fiber.Ctx, name, value string, expires time.Time, secure bool) {
	c.Cookie(&fiber.Cookie{
		Name:     name,
		Value:    value,
		Expires:  expires,
		HTTPOnly: true,
		Secure:   secure,
		SameSite: fiber.CookieSameSiteLaxMode,
		Path:     "/",
	})
}

func clearCookie(c *fiber.Ctx, name string, secure bool) {
	setCookie(c, name, "", time.Unix(0, 0), secure)
}
